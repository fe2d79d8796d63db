package httpapi

import (
	"encoding/json"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
)

type spendRequest struct {
	Amount         int64          `json:"amount"`
	IdempotencyKey string         `json:"idempotency_key"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata"`
}

type paymentRequest struct {
	UserID         string         `json:"user_id"`
	CreditsAmount  int64          `json:"credits_amount"`
	IdempotencyKey string         `json:"idempotency_key"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata"`
}

type adminGrantRequest struct {
	Amount         int64          `json:"amount"`
	Source         string         `json:"source"`
	IdempotencyKey string         `json:"idempotency_key"`
	Description    string         `json:"description"`
	Metadata       map[string]any `json:"metadata"`
}

type repairRequest struct {
	Description string `json:"description"`
	OperatorID  string `json:"operator_id"`
}

type walletResponse struct {
	Balance balancePayload `json:"balance"`
	Entries []entryPayload `json:"entries"`
}

type balancePayload struct {
	Credits   int64 `json:"credits"`
	GraceUsed bool  `json:"grace_used"`
}

type entryPayload struct {
	EntryID        string          `json:"entry_id"`
	Sequence       int64           `json:"sequence"`
	Type           string          `json:"type"`
	Amount         int64           `json:"amount"`
	BalanceAfter   int64           `json:"balance_after"`
	Source         string          `json:"source"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type mutationPayload struct {
	EntryID       string `json:"entry_id,omitempty"`
	BalanceBefore int64  `json:"balance_before"`
	BalanceAfter  int64  `json:"balance_after"`
	UsedGrace     bool   `json:"used_grace,omitempty"`
	Exempt        bool   `json:"exempt,omitempty"`
	Duplicate     bool   `json:"duplicate"`
}

type reconcilePayload struct {
	UserID               string  `json:"user_id"`
	StoredBalance        int64   `json:"stored_balance"`
	DerivedBalance       int64   `json:"derived_balance"`
	Drift                int64   `json:"drift"`
	Consistent           bool    `json:"consistent"`
	EntryCount           int     `json:"entry_count"`
	SequenceGaps         []int64 `json:"sequence_gaps"`
	CheckpointMismatches []int64 `json:"checkpoint_mismatches"`
}

func newEntryPayload(entry ledger.Entry) entryPayload {
	return entryPayload{
		EntryID:        entry.EntryID().String(),
		Sequence:       entry.Sequence(),
		Type:           entry.Type().String(),
		Amount:         entry.Amount().Int64(),
		BalanceAfter:   entry.BalanceAfter().Int64(),
		Source:         entry.Source().String(),
		Description:    entry.Description(),
		IdempotencyKey: entry.IdempotencyKey().String(),
		Metadata:       json.RawMessage(entry.MetadataJSON().String()),
		CreatedUnixUTC: entry.CreatedUnixUTC(),
	}
}

func newEntryPayloads(entries []ledger.Entry) []entryPayload {
	payloads := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, newEntryPayload(entry))
	}
	return payloads
}

func newReconcilePayload(report ledger.ReconcileReport) reconcilePayload {
	payload := reconcilePayload{
		UserID:               report.UserID.String(),
		StoredBalance:        report.StoredBalance.Int64(),
		DerivedBalance:       report.DerivedBalance.Int64(),
		Drift:                report.Drift().Int64(),
		Consistent:           report.IsConsistent,
		EntryCount:           len(report.Entries),
		SequenceGaps:         report.SequenceGaps,
		CheckpointMismatches: report.CheckpointMismatches,
	}
	if payload.SequenceGaps == nil {
		payload.SequenceGaps = []int64{}
	}
	if payload.CheckpointMismatches == nil {
		payload.CheckpointMismatches = []int64{}
	}
	return payload
}

// marshalMetadata encodes caller metadata, falling back to fallback when none was sent.
func marshalMetadata(metadata map[string]any, fallback map[string]any) (ledger.MetadataJSON, error) {
	if metadata == nil {
		metadata = fallback
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return ledger.MetadataJSON{}, err
	}
	return ledger.NewMetadataJSON(string(raw))
}
