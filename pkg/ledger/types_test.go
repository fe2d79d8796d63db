package ledger

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewUserID(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " user-123 ", wantVal: "user-123"},
		{name: "empty", input: "   ", wantErr: ErrInvalidUserID},
		{name: "longest allowed", input: strings.Repeat("u", maxIdentifierLength), wantVal: strings.Repeat("u", maxIdentifierLength)},
		{name: "too long", input: strings.Repeat("u", maxIdentifierLength+1), wantErr: ErrInvalidUserID},
		{name: "too many runes", input: strings.Repeat("é", maxIdentifierLength+1), wantErr: ErrInvalidUserID},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			result, err := NewUserID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					test.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tc.wantVal {
				test.Fatalf("expected %q, got %q", tc.wantVal, result.String())
			}
		})
	}
}

func TestNewIdempotencyKey(test *testing.T) {
	test.Parallel()
	_, err := NewIdempotencyKey("   ")
	if !errors.Is(err, ErrInvalidIdempotencyKey) {
		test.Fatalf("expected ErrInvalidIdempotencyKey, got %v", err)
	}
	key, err := ParseOptionalIdempotencyKey(" ")
	if err != nil || !key.IsZero() {
		test.Fatalf("expected zero key for blank input, got %q %v", key.String(), err)
	}
	if _, err := NewIdempotencyKey(strings.Repeat("k", maxIdentifierLength)); err != nil {
		test.Fatalf("expected %d characters to be accepted, got %v", maxIdentifierLength, err)
	}
	if _, err := ParseOptionalIdempotencyKey(strings.Repeat("k", maxIdentifierLength+1)); !errors.Is(err, ErrInvalidIdempotencyKey) {
		test.Fatalf("expected ErrInvalidIdempotencyKey for an over-long key, got %v", err)
	}
}

func TestNewPositiveCredits(test *testing.T) {
	test.Parallel()
	_, err := NewPositiveCredits(0)
	if !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	value, err := NewPositiveCredits(100)
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if value.Credits() != 100 {
		test.Fatalf("expected 100, got %d", value)
	}
}

func TestNewMetadataJSON(test *testing.T) {
	test.Parallel()
	meta, err := NewMetadataJSON("")
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if meta.String() != "{}" {
		test.Fatalf("expected default metadata to be '{}', got %q", meta.String())
	}
	_, err = NewMetadataJSON("not-json")
	if !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}

func TestParseSource(test *testing.T) {
	test.Parallel()
	cases := []struct {
		input   string
		want    Source
		wantErr bool
	}{
		{input: "purchase", want: SourcePurchase},
		{input: " Manual_Fix ", want: SourceManualFix},
		{input: "promo_2024", want: Source("promo_2024")},
		{input: "", wantErr: true},
		{input: "9lives", wantErr: true},
		{input: "has space", wantErr: true},
		{input: strings.Repeat("a", maxSourceLength+1), wantErr: true},
	}
	for _, tc := range cases {
		source, err := ParseSource(tc.input)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidSource) {
				test.Fatalf("%q: expected ErrInvalidSource, got %v", tc.input, err)
			}
			continue
		}
		if err != nil || source != tc.want {
			test.Fatalf("%q: expected %q, got %q %v", tc.input, tc.want, source, err)
		}
	}
}

func TestNormalizeDescription(test *testing.T) {
	test.Parallel()
	if _, err := NormalizeDescription(strings.Repeat("x", maxDescriptionBytes+1)); !errors.Is(err, ErrInvalidDescription) {
		test.Fatalf("expected ErrInvalidDescription, got %v", err)
	}
	if _, err := NormalizeDescription("\xff"); !errors.Is(err, ErrInvalidDescription) {
		test.Fatalf("expected ErrInvalidDescription for invalid utf-8, got %v", err)
	}
}

func TestNewTimeOrderedEntryID(test *testing.T) {
	test.Parallel()
	entryID, err := NewTimeOrderedEntryID()
	if err != nil {
		test.Fatalf("entry id: %v", err)
	}
	parsed, err := uuid.Parse(entryID.String())
	if err != nil {
		test.Fatalf("expected uuid, got %q", entryID.String())
	}
	if parsed.Version() != 7 {
		test.Fatalf("expected uuid v7, got v%d", parsed.Version())
	}
}

func TestNewEntryValidation(test *testing.T) {
	test.Parallel()
	entryID, _ := NewEntryID("entry-1")
	valid := EntryFields{
		EntryID:      entryID,
		UserID:       mustUserID(test, "user"),
		Sequence:     1,
		Type:         EntryDebit,
		Amount:       3,
		BalanceAfter: -1,
		Source:       SourceAudit,
	}
	entry := mustEntry(test, valid)
	if entry.SignedAmount() != -3 || entry.BalanceBefore() != 2 {
		test.Fatalf("unexpected signed amounts: %d %d", entry.SignedAmount(), entry.BalanceBefore())
	}

	cases := []struct {
		name    string
		mutate  func(fields *EntryFields)
		wantErr error
	}{
		{name: "entry id", mutate: func(fields *EntryFields) { fields.EntryID = EntryID{} }, wantErr: ErrInvalidEntryID},
		{name: "user id", mutate: func(fields *EntryFields) { fields.UserID = UserID{} }, wantErr: ErrInvalidUserID},
		{name: "sequence", mutate: func(fields *EntryFields) { fields.Sequence = 0 }, wantErr: ErrInvalidSequence},
		{name: "type", mutate: func(fields *EntryFields) { fields.Type = "hold" }, wantErr: ErrInvalidEntryType},
		{name: "amount", mutate: func(fields *EntryFields) { fields.Amount = 0 }, wantErr: ErrInvalidAmount},
		{name: "source", mutate: func(fields *EntryFields) { fields.Source = "" }, wantErr: ErrInvalidSource},
	}
	for _, tc := range cases {
		fields := valid
		tc.mutate(&fields)
		if _, err := NewEntry(fields); !errors.Is(err, tc.wantErr) {
			test.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestNewListQuery(test *testing.T) {
	test.Parallel()
	query, err := NewListQuery("", 0, 0)
	if err != nil {
		test.Fatalf("list query: %v", err)
	}
	if query.Order != OrderNewestFirst || query.Limit != defaultListLimit {
		test.Fatalf("unexpected defaults: %+v", query)
	}
	if _, err := NewListQuery("sideways", 10, 0); !errors.Is(err, ErrInvalidListQuery) {
		test.Fatalf("expected ErrInvalidListQuery for order, got %v", err)
	}
	if _, err := NewListQuery("asc", maxListLimit+1, 0); !errors.Is(err, ErrInvalidListQuery) {
		test.Fatalf("expected ErrInvalidListQuery for limit, got %v", err)
	}
	if _, err := NewListQuery("ASC", 10, -1); !errors.Is(err, ErrInvalidListQuery) {
		test.Fatalf("expected ErrInvalidListQuery for offset, got %v", err)
	}
}
