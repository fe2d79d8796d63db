package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Credits is a signed credit count. Balances use it directly.
type Credits int64

// Int64 exposes the raw value.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// PositiveCredits is a strictly positive magnitude of a balance change.
type PositiveCredits int64

// NewPositiveCredits validates an amount and ensures it is strictly positive.
func NewPositiveCredits(raw int64) (PositiveCredits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositiveCredits(raw), nil
}

// Int64 exposes the raw value.
func (amount PositiveCredits) Int64() int64 {
	return int64(amount)
}

// Credits converts the magnitude into a signed value.
func (amount PositiveCredits) Credits() Credits {
	return Credits(amount)
}

// UserID identifies an account owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if utf8.RuneCountInString(trimmed) > maxIdentifierLength {
		return UserID{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id UserID) IsZero() bool {
	return id.value == ""
}

// EntryID identifies a ledger entry.
type EntryID struct {
	value string
}

// NewEntryID validates and normalizes an entry id.
func NewEntryID(raw string) (EntryID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntryID{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	return EntryID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EntryID) String() string {
	return id.value
}

// NewTimeOrderedEntryID returns a UUIDv7 entry id.
func NewTimeOrderedEntryID() (EntryID, error) {
	generated, err := uuid.NewV7()
	if err != nil {
		return EntryID{}, fmt.Errorf("%w: %v", ErrInvalidEntryID, err)
	}
	return EntryID{value: generated.String()}, nil
}

// IdempotencyKey scopes duplicate detection. The zero value means "no key".
type IdempotencyKey struct {
	value string
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	if utf8.RuneCountInString(trimmed) > maxIdentifierLength {
		return IdempotencyKey{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidIdempotencyKey, maxIdentifierLength)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// ParseOptionalIdempotencyKey returns the zero key for blank input.
func ParseOptionalIdempotencyKey(raw string) (IdempotencyKey, error) {
	if strings.TrimSpace(raw) == "" {
		return IdempotencyKey{}, nil
	}
	return NewIdempotencyKey(raw)
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsZero reports whether no key was supplied.
func (key IdempotencyKey) IsZero() bool {
	return key.value == ""
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// EntryType enumerates ledger entry kinds.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// ParseEntryType validates a stored entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(strings.TrimSpace(raw)) {
	case EntryCredit:
		return EntryCredit, nil
	case EntryDebit:
		return EntryDebit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
	}
}

// String returns the stored representation.
func (entryType EntryType) String() string {
	return string(entryType)
}

// Source categorizes the origin of a balance change.
type Source string

const (
	SourceWelcome   Source = "welcome"
	SourcePurchase  Source = "purchase"
	SourceTrial     Source = "trial"
	SourceManual    Source = "manual"
	SourceAudit     Source = "audit"
	SourceManualFix Source = "manual_fix"
)

var sourcePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ParseSource accepts the known sources and any other lowercase token.
func ParseSource(raw string) (Source, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidSource)
	}
	if len(normalized) > maxSourceLength || !sourcePattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
	return Source(normalized), nil
}

// String returns the stored representation.
func (source Source) String() string {
	return string(source)
}

// NormalizeDescription trims free text and bounds its size.
func NormalizeDescription(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > maxDescriptionBytes {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidDescription, maxDescriptionBytes)
	}
	if !utf8.ValidString(trimmed) {
		return "", fmt.Errorf("%w: invalid utf-8", ErrInvalidDescription)
	}
	return trimmed, nil
}

// EntryFields carries the values of a ledger entry before validation.
type EntryFields struct {
	EntryID        EntryID
	UserID         UserID
	Sequence       int64
	Type           EntryType
	Amount         PositiveCredits
	BalanceAfter   Credits
	Source         Source
	Description    string
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// Entry is a single immutable line in the ledger.
type Entry struct {
	fields EntryFields
}

// NewEntry validates the fields of a ledger entry.
func NewEntry(fields EntryFields) (Entry, error) {
	if fields.EntryID.String() == "" {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidEntryID)
	}
	if fields.UserID.IsZero() {
		return Entry{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if fields.Sequence <= 0 {
		return Entry{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidSequence)
	}
	if _, err := ParseEntryType(fields.Type.String()); err != nil {
		return Entry{}, err
	}
	if fields.Amount <= 0 {
		return Entry{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if _, err := ParseSource(fields.Source.String()); err != nil {
		return Entry{}, err
	}
	return Entry{fields: fields}, nil
}

// EntryID returns the entry identifier.
func (entry Entry) EntryID() EntryID {
	return entry.fields.EntryID
}

// UserID returns the owner of the entry.
func (entry Entry) UserID() UserID {
	return entry.fields.UserID
}

// Sequence returns the per-user commit position, starting at 1.
func (entry Entry) Sequence() int64 {
	return entry.fields.Sequence
}

// Type returns the entry kind.
func (entry Entry) Type() EntryType {
	return entry.fields.Type
}

// Amount returns the unsigned magnitude.
func (entry Entry) Amount() PositiveCredits {
	return entry.fields.Amount
}

// SignedAmount returns the amount with the sign implied by the type.
func (entry Entry) SignedAmount() Credits {
	if entry.fields.Type == EntryDebit {
		return -entry.fields.Amount.Credits()
	}
	return entry.fields.Amount.Credits()
}

// BalanceAfter returns the balance checkpoint recorded with the entry.
func (entry Entry) BalanceAfter() Credits {
	return entry.fields.BalanceAfter
}

// BalanceBefore returns the balance the entry was applied to.
func (entry Entry) BalanceBefore() Credits {
	return entry.fields.BalanceAfter - entry.SignedAmount()
}

// Source returns the categorical origin.
func (entry Entry) Source() Source {
	return entry.fields.Source
}

// Description returns the human-readable text.
func (entry Entry) Description() string {
	return entry.fields.Description
}

// IdempotencyKey returns the key, which may be zero.
func (entry Entry) IdempotencyKey() IdempotencyKey {
	return entry.fields.IdempotencyKey
}

// MetadataJSON returns the metadata blob.
func (entry Entry) MetadataJSON() MetadataJSON {
	return entry.fields.Metadata
}

// CreatedUnixUTC returns the creation time.
func (entry Entry) CreatedUnixUTC() int64 {
	return entry.fields.CreatedUnixUTC
}

// AccountBalance is the mutable projection of one user's ledger.
type AccountBalance struct {
	UserID         UserID
	Balance        Credits
	GraceLimitUsed bool
	LastSequence   int64
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// EntryOrder selects the chronological direction of a listing.
type EntryOrder string

const (
	OrderNewestFirst EntryOrder = "desc"
	OrderOldestFirst EntryOrder = "asc"
)

// ListQuery paginates entry listings. A zero Limit means "no limit" for stores.
type ListQuery struct {
	Order  EntryOrder
	Limit  int
	Offset int
}

// NewListQuery validates a caller-supplied page, applying defaults.
func NewListQuery(order string, limit int, offset int) (ListQuery, error) {
	query := ListQuery{Order: OrderNewestFirst, Limit: limit, Offset: offset}
	switch EntryOrder(strings.ToLower(strings.TrimSpace(order))) {
	case "", OrderNewestFirst:
	case OrderOldestFirst:
		query.Order = OrderOldestFirst
	default:
		return ListQuery{}, fmt.Errorf("%w: unknown order %q", ErrInvalidListQuery, order)
	}
	if query.Limit == 0 {
		query.Limit = defaultListLimit
	}
	if query.Limit < 0 || query.Limit > maxListLimit {
		return ListQuery{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidListQuery, maxListLimit)
	}
	if query.Offset < 0 {
		return ListQuery{}, fmt.Errorf("%w: offset must not be negative", ErrInvalidListQuery)
	}
	return query, nil
}

// Store is the persistence contract used by Service.
// Inside WithTx, account reads lock the row until the transaction ends.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccount(ctx context.Context, userID UserID, nowUnixUTC int64) (AccountBalance, error)
	FindAccount(ctx context.Context, userID UserID) (AccountBalance, error)
	SaveAccount(ctx context.Context, account AccountBalance) error
	InsertEntry(ctx context.Context, entry Entry) error
	FindEntryByIdempotencyKey(ctx context.Context, userID UserID, source Source, key IdempotencyKey) (Entry, error)
	ListEntries(ctx context.Context, userID UserID, query ListQuery) ([]Entry, error)
	ListDriftedAccounts(ctx context.Context, limit int) ([]UserID, error)
}
