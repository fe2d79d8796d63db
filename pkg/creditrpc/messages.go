// Package creditrpc defines the credit.v1.CreditService wire contract: JSON messages,
// the gRPC service descriptor and a typed client.
package creditrpc

// BalanceRequest asks for one user's balance.
type BalanceRequest struct {
	UserID string `json:"user_id"`
}

// BalanceResponse carries the stored projection.
type BalanceResponse struct {
	UserID       string `json:"user_id"`
	Balance      int64  `json:"balance"`
	GraceUsed    bool   `json:"grace_used"`
	LastSequence int64  `json:"last_sequence"`
}

// GrantRequest credits a user.
type GrantRequest struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	Source         string `json:"source"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	MetadataJSON   string `json:"metadata_json,omitempty"`
}

// SpendRequest debits a user. An empty source means audit.
type SpendRequest struct {
	UserID         string `json:"user_id"`
	Amount         int64  `json:"amount"`
	Source         string `json:"source,omitempty"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	MetadataJSON   string `json:"metadata_json,omitempty"`
}

// MutationResponse reports the balances around a grant or spend.
type MutationResponse struct {
	EntryID       string `json:"entry_id,omitempty"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	UsedGrace     bool   `json:"used_grace,omitempty"`
	Exempt        bool   `json:"exempt,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

// CanSpendRequest is the advisory pre-check.
type CanSpendRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

// CanSpendResponse answers CanSpendRequest.
type CanSpendResponse struct {
	Allowed bool `json:"allowed"`
}

// ListEntriesRequest pages through a user's entries. Order is "desc" (default) or "asc".
type ListEntriesRequest struct {
	UserID string `json:"user_id"`
	Order  string `json:"order,omitempty"`
	Limit  int32  `json:"limit,omitempty"`
	Offset int32  `json:"offset,omitempty"`
}

// Entry is one ledger row.
type Entry struct {
	EntryID        string `json:"entry_id"`
	UserID         string `json:"user_id"`
	Sequence       int64  `json:"sequence"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	BalanceAfter   int64  `json:"balance_after"`
	Source         string `json:"source"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	MetadataJSON   string `json:"metadata_json"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

// ListEntriesResponse answers ListEntriesRequest.
type ListEntriesResponse struct {
	Entries []Entry `json:"entries"`
}

// ReconcileRequest replays one user's ledger.
type ReconcileRequest struct {
	UserID string `json:"user_id"`
}

// ReconcileResponse summarizes a replay.
type ReconcileResponse struct {
	UserID               string  `json:"user_id"`
	StoredBalance        int64   `json:"stored_balance"`
	DerivedBalance       int64   `json:"derived_balance"`
	Drift                int64   `json:"drift"`
	Consistent           bool    `json:"consistent"`
	EntryCount           int64   `json:"entry_count"`
	SequenceGaps         []int64 `json:"sequence_gaps,omitempty"`
	CheckpointMismatches []int64 `json:"checkpoint_mismatches,omitempty"`
}

// RepairRequest asks for a manual_fix entry.
type RepairRequest struct {
	UserID      string `json:"user_id"`
	Description string `json:"description,omitempty"`
	OperatorID  string `json:"operator_id,omitempty"`
}

// RepairResponse reports the drift found and what was written.
type RepairResponse struct {
	Drift   int64  `json:"drift"`
	Applied bool   `json:"applied"`
	EntryID string `json:"entry_id,omitempty"`
	Type    string `json:"type,omitempty"`
	Amount  int64  `json:"amount,omitempty"`
}

// BulkScanRequest lists drifted accounts.
type BulkScanRequest struct {
	Limit int32 `json:"limit"`
}

// BulkScanResponse answers BulkScanRequest.
type BulkScanResponse struct {
	UserIDs []string `json:"user_ids"`
}
