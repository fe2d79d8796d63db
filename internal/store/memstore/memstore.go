package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
)

const (
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectEntry       = "entry"
	errorSubjectLock        = "lock"
	errorSubjectTransaction = "transaction"
	errorCodeGet            = "get"
	errorCodeDuplicate      = "duplicate"
	errorCodeSequence       = "sequence"
	errorCodeAcquire        = "acquire"
	errorCodeInvalid        = "invalid"
	errorCodeClosedTx       = "closed"
)

// Store keeps accounts and entries in process memory.
// Transactions lock each touched user and stage writes until commit,
// so operations on different users never wait for each other.
type Store struct {
	mutex     sync.Mutex
	accounts  map[string]ledger.AccountBalance
	entries   map[string][]ledger.Entry
	userLocks map[string]chan struct{}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:  make(map[string]ledger.AccountBalance),
		entries:   make(map[string][]ledger.Entry),
		userLocks: make(map[string]chan struct{}),
	}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	transaction := &txStore{
		base:          store,
		locked:        make(map[string]chan struct{}),
		stagedAccount: make(map[string]ledger.AccountBalance),
		stagedEntries: make(map[string][]ledger.Entry),
	}
	defer transaction.release()
	if err := fn(ctx, transaction); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeClosedTx, ledger.MarkUnavailable(err))
	}
	transaction.commit()
	return nil
}

// GetOrCreateAccount returns the balance row, creating a zero balance on first access.
func (store *Store) GetOrCreateAccount(ctx context.Context, userID ledger.UserID, nowUnixUTC int64) (ledger.AccountBalance, error) {
	var account ledger.AccountBalance
	err := store.WithTx(ctx, func(ctx context.Context, transactionStore ledger.Store) error {
		var err error
		account, err = transactionStore.GetOrCreateAccount(ctx, userID, nowUnixUTC)
		return err
	})
	return account, err
}

// FindAccount returns the balance row or ledger.ErrUserNotFound.
func (store *Store) FindAccount(ctx context.Context, userID ledger.UserID) (ledger.AccountBalance, error) {
	var account ledger.AccountBalance
	err := store.WithTx(ctx, func(ctx context.Context, transactionStore ledger.Store) error {
		var err error
		account, err = transactionStore.FindAccount(ctx, userID)
		return err
	})
	return account, err
}

// SaveAccount persists the projection.
func (store *Store) SaveAccount(ctx context.Context, account ledger.AccountBalance) error {
	return store.WithTx(ctx, func(ctx context.Context, transactionStore ledger.Store) error {
		return transactionStore.SaveAccount(ctx, account)
	})
}

// InsertEntry appends a ledger entry.
func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	return store.WithTx(ctx, func(ctx context.Context, transactionStore ledger.Store) error {
		return transactionStore.InsertEntry(ctx, entry)
	})
}

// FindEntryByIdempotencyKey looks up the entry that consumed key.
func (store *Store) FindEntryByIdempotencyKey(ctx context.Context, userID ledger.UserID, source ledger.Source, key ledger.IdempotencyKey) (ledger.Entry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return findByKey(store.entries[userID.String()], source, key)
}

// ListEntries pages through one user's entries.
func (store *Store) ListEntries(ctx context.Context, userID ledger.UserID, query ledger.ListQuery) ([]ledger.Entry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return page(store.entries[userID.String()], query), nil
}

// ListDriftedAccounts returns users whose stored balance differs from the sum of their entries.
func (store *Store) ListDriftedAccounts(ctx context.Context, limit int) ([]ledger.UserID, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	userIDs := make([]string, 0, len(store.accounts))
	for userID := range store.accounts {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)
	drifted := make([]ledger.UserID, 0)
	for _, userID := range userIDs {
		if limit > 0 && len(drifted) >= limit {
			break
		}
		var derived ledger.Credits
		for _, entry := range store.entries[userID] {
			derived += entry.SignedAmount()
		}
		account := store.accounts[userID]
		if account.Balance != derived {
			drifted = append(drifted, account.UserID)
		}
	}
	return drifted, nil
}

// ForceBalance overwrites a stored balance without writing an entry.
// It exists to simulate drift in tests and operator drills.
func (store *Store) ForceBalance(userID ledger.UserID, balance ledger.Credits) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	account, ok := store.accounts[userID.String()]
	if !ok {
		account = ledger.AccountBalance{UserID: userID}
	}
	account.Balance = balance
	store.accounts[userID.String()] = account
}

func (store *Store) userLock(userID string) chan struct{} {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	lock, ok := store.userLocks[userID]
	if !ok {
		lock = make(chan struct{}, 1)
		store.userLocks[userID] = lock
	}
	return lock
}

type txStore struct {
	base          *Store
	locked        map[string]chan struct{}
	stagedAccount map[string]ledger.AccountBalance
	stagedEntries map[string][]ledger.Entry
}

func (transaction *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *txStore) lock(ctx context.Context, userID string) error {
	if _, ok := transaction.locked[userID]; ok {
		return nil
	}
	lock := transaction.base.userLock(userID)
	select {
	case lock <- struct{}{}:
		transaction.locked[userID] = lock
		return nil
	case <-ctx.Done():
		return wrapStoreError(errorSubjectLock, errorCodeAcquire, ledger.MarkUnavailable(ctx.Err()))
	}
}

func (transaction *txStore) release() {
	for userID, lock := range transaction.locked {
		<-lock
		delete(transaction.locked, userID)
	}
}

func (transaction *txStore) commit() {
	transaction.base.mutex.Lock()
	defer transaction.base.mutex.Unlock()
	for userID, account := range transaction.stagedAccount {
		transaction.base.accounts[userID] = account
	}
	for userID, entries := range transaction.stagedEntries {
		transaction.base.entries[userID] = append(transaction.base.entries[userID], entries...)
	}
}

func (transaction *txStore) account(userID string) (ledger.AccountBalance, bool) {
	if account, ok := transaction.stagedAccount[userID]; ok {
		return account, true
	}
	transaction.base.mutex.Lock()
	defer transaction.base.mutex.Unlock()
	account, ok := transaction.base.accounts[userID]
	return account, ok
}

func (transaction *txStore) userEntries(userID string) []ledger.Entry {
	transaction.base.mutex.Lock()
	committed := append([]ledger.Entry(nil), transaction.base.entries[userID]...)
	transaction.base.mutex.Unlock()
	return append(committed, transaction.stagedEntries[userID]...)
}

func (transaction *txStore) GetOrCreateAccount(ctx context.Context, userID ledger.UserID, nowUnixUTC int64) (ledger.AccountBalance, error) {
	if err := transaction.lock(ctx, userID.String()); err != nil {
		return ledger.AccountBalance{}, err
	}
	if account, ok := transaction.account(userID.String()); ok {
		return account, nil
	}
	account := ledger.AccountBalance{
		UserID:         userID,
		CreatedUnixUTC: nowUnixUTC,
		UpdatedUnixUTC: nowUnixUTC,
	}
	transaction.stagedAccount[userID.String()] = account
	return account, nil
}

func (transaction *txStore) FindAccount(ctx context.Context, userID ledger.UserID) (ledger.AccountBalance, error) {
	if err := transaction.lock(ctx, userID.String()); err != nil {
		return ledger.AccountBalance{}, err
	}
	account, ok := transaction.account(userID.String())
	if !ok {
		return ledger.AccountBalance{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUserNotFound)
	}
	return account, nil
}

func (transaction *txStore) SaveAccount(ctx context.Context, account ledger.AccountBalance) error {
	if account.UserID.IsZero() {
		return wrapStoreError(errorSubjectAccount, errorCodeInvalid, ledger.ErrInvalidUserID)
	}
	if err := transaction.lock(ctx, account.UserID.String()); err != nil {
		return err
	}
	transaction.stagedAccount[account.UserID.String()] = account
	return nil
}

func (transaction *txStore) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	userID := entry.UserID().String()
	if err := transaction.lock(ctx, userID); err != nil {
		return err
	}
	for _, existing := range transaction.userEntries(userID) {
		if existing.Sequence() == entry.Sequence() {
			return wrapStoreError(errorSubjectEntry, errorCodeSequence, fmt.Errorf("sequence %d already written for %s", entry.Sequence(), userID))
		}
		if !entry.IdempotencyKey().IsZero() && existing.Source() == entry.Source() && existing.IdempotencyKey() == entry.IdempotencyKey() {
			return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateGrant)
		}
	}
	transaction.stagedEntries[userID] = append(transaction.stagedEntries[userID], entry)
	return nil
}

func (transaction *txStore) FindEntryByIdempotencyKey(ctx context.Context, userID ledger.UserID, source ledger.Source, key ledger.IdempotencyKey) (ledger.Entry, error) {
	return findByKey(transaction.userEntries(userID.String()), source, key)
}

func (transaction *txStore) ListEntries(ctx context.Context, userID ledger.UserID, query ledger.ListQuery) ([]ledger.Entry, error) {
	return page(transaction.userEntries(userID.String()), query), nil
}

func (transaction *txStore) ListDriftedAccounts(ctx context.Context, limit int) ([]ledger.UserID, error) {
	return transaction.base.ListDriftedAccounts(ctx, limit)
}

func findByKey(entries []ledger.Entry, source ledger.Source, key ledger.IdempotencyKey) (ledger.Entry, error) {
	for _, entry := range entries {
		if entry.Source() == source && entry.IdempotencyKey() == key {
			return entry, nil
		}
	}
	return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, ledger.ErrEntryNotFound)
}

func page(entries []ledger.Entry, query ledger.ListQuery) []ledger.Entry {
	ordered := append([]ledger.Entry(nil), entries...)
	sort.SliceStable(ordered, func(left, right int) bool {
		if query.Order == ledger.OrderOldestFirst {
			return ordered[left].Sequence() < ordered[right].Sequence()
		}
		return ordered[left].Sequence() > ordered[right].Sequence()
	})
	if query.Offset >= len(ordered) {
		return []ledger.Entry{}
	}
	ordered = ordered[query.Offset:]
	if query.Limit > 0 && query.Limit < len(ordered) {
		ordered = ordered[:query.Limit]
	}
	return ordered
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
