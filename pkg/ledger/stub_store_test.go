package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
)

type stubStore struct {
	accounts map[UserID]AccountBalance
	entries  []Entry
	drifted  []UserID

	getAccountError  error
	findAccountError error
	saveAccountError error
	insertEntryError error
	findKeyError     error
	listEntriesError error
	listDriftedError error
	withTxError      error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{accounts: make(map[UserID]AccountBalance)}
}

// WithTx restores the previous state when fn fails.
func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.withTxError != nil {
		return store.withTxError
	}
	accounts := make(map[UserID]AccountBalance, len(store.accounts))
	for userID, account := range store.accounts {
		accounts[userID] = account
	}
	entries := append([]Entry(nil), store.entries...)
	if err := fn(ctx, store); err != nil {
		store.accounts = accounts
		store.entries = entries
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateAccount(ctx context.Context, userID UserID, nowUnixUTC int64) (AccountBalance, error) {
	if store.getAccountError != nil {
		return AccountBalance{}, store.getAccountError
	}
	account, ok := store.accounts[userID]
	if !ok {
		account = AccountBalance{UserID: userID, CreatedUnixUTC: nowUnixUTC, UpdatedUnixUTC: nowUnixUTC}
		store.accounts[userID] = account
	}
	return account, nil
}

func (store *stubStore) FindAccount(ctx context.Context, userID UserID) (AccountBalance, error) {
	if store.findAccountError != nil {
		return AccountBalance{}, store.findAccountError
	}
	account, ok := store.accounts[userID]
	if !ok {
		return AccountBalance{}, ErrUserNotFound
	}
	return account, nil
}

func (store *stubStore) SaveAccount(ctx context.Context, account AccountBalance) error {
	if store.saveAccountError != nil {
		return store.saveAccountError
	}
	store.accounts[account.UserID] = account
	return nil
}

func (store *stubStore) InsertEntry(ctx context.Context, entry Entry) error {
	if store.insertEntryError != nil {
		return store.insertEntryError
	}
	for _, existing := range store.entries {
		if existing.UserID() != entry.UserID() {
			continue
		}
		if existing.Sequence() == entry.Sequence() {
			return fmt.Errorf("sequence %d already used", entry.Sequence())
		}
		if !entry.IdempotencyKey().IsZero() && existing.Source() == entry.Source() && existing.IdempotencyKey() == entry.IdempotencyKey() {
			return ErrDuplicateGrant
		}
	}
	store.entries = append(store.entries, entry)
	return nil
}

func (store *stubStore) FindEntryByIdempotencyKey(ctx context.Context, userID UserID, source Source, key IdempotencyKey) (Entry, error) {
	if store.findKeyError != nil {
		return Entry{}, store.findKeyError
	}
	for _, entry := range store.entries {
		if entry.UserID() == userID && entry.Source() == source && entry.IdempotencyKey() == key {
			return entry, nil
		}
	}
	return Entry{}, ErrEntryNotFound
}

func (store *stubStore) ListEntries(ctx context.Context, userID UserID, query ListQuery) ([]Entry, error) {
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	selected := make([]Entry, 0)
	for _, entry := range store.entries {
		if entry.UserID() == userID {
			selected = append(selected, entry)
		}
	}
	sort.SliceStable(selected, func(left, right int) bool {
		if query.Order == OrderOldestFirst {
			return selected[left].Sequence() < selected[right].Sequence()
		}
		return selected[left].Sequence() > selected[right].Sequence()
	})
	if query.Offset >= len(selected) {
		return []Entry{}, nil
	}
	selected = selected[query.Offset:]
	if query.Limit > 0 && query.Limit < len(selected) {
		selected = selected[:query.Limit]
	}
	return selected, nil
}

func (store *stubStore) ListDriftedAccounts(ctx context.Context, limit int) ([]UserID, error) {
	if store.listDriftedError != nil {
		return nil, store.listDriftedError
	}
	if len(store.drifted) > limit {
		return store.drifted[:limit], nil
	}
	return store.drifted, nil
}

func (store *stubStore) userEntries(userID UserID) []Entry {
	selected := make([]Entry, 0)
	for _, entry := range store.entries {
		if entry.UserID() == userID {
			selected = append(selected, entry)
		}
	}
	return selected
}

func (store *stubStore) mustAccount(test *testing.T, userID UserID) AccountBalance {
	test.Helper()
	account, ok := store.accounts[userID]
	if !ok {
		test.Fatalf("account %s not found", userID.String())
	}
	return account
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

func mustPositiveCredits(test *testing.T, raw int64) PositiveCredits {
	test.Helper()
	amount, err := NewPositiveCredits(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustGrant(test *testing.T, service *Service, userID UserID, amount int64, source Source, key string) GrantResult {
	test.Helper()
	request := GrantRequest{UserID: userID, Amount: mustPositiveCredits(test, amount), Source: source}
	if key != "" {
		request.IdempotencyKey = mustIdempotencyKey(test, key)
	}
	result, err := service.Grant(context.Background(), request)
	if err != nil {
		test.Fatalf("grant: %v", err)
	}
	return result
}

func mustEntry(test *testing.T, fields EntryFields) Entry {
	test.Helper()
	entry, err := NewEntry(fields)
	if err != nil {
		test.Fatalf("entry: %v", err)
	}
	return entry
}

func sequentialEntryIDs(test *testing.T) func() (EntryID, error) {
	test.Helper()
	counter := 0
	return func() (EntryID, error) {
		counter++
		return NewEntryID(fmt.Sprintf("entry-%03d", counter))
	}
}

func failingEntryIDs(err error) func() (EntryID, error) {
	return func() (EntryID, error) {
		return EntryID{}, err
	}
}

var errStoreFailure = errors.New("store error")
