package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintUserSourceKey = "uniq_ledger_entries_user_source_key"
	sqliteKeyColumn         = "ledger_entries.idempotency_key"
	defaultMetadataJSON     = "{}"
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectEntry       = "entry"
	errorSubjectSchema      = "schema"
	errorSubjectScan        = "scan"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeMigrate        = "migrate"
	errorCodeUpdate         = "update"

	driftedAccountsQuery = `SELECT b.user_id
FROM account_balances b
LEFT JOIN ledger_entries e ON e.user_id = b.user_id
GROUP BY b.user_id, b.balance
HAVING b.balance <> COALESCE(SUM(CASE WHEN e.type = 'debit' THEN -e.amount ELSE e.amount END), 0)
ORDER BY b.user_id
LIMIT ?`
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the tables for SQLite deployments and tests.
// Postgres deployments use the versioned migrations instead.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&AccountBalance{}, &LedgerEntry{}); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, ledger.MarkUnavailable(err))
	}
	return nil
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetOrCreateAccount returns the locked balance row, inserting a zero balance when absent.
func (store *Store) GetOrCreateAccount(ctx context.Context, userID ledger.UserID, nowUnixUTC int64) (ledger.AccountBalance, error) {
	model, err := store.lockAccount(ctx, userID)
	if err == nil {
		return mapAccountBalance(model)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.AccountBalance{}, wrapDatabaseError(errorSubjectAccount, errorCodeLookup, err)
	}
	now := time.Unix(nowUnixUTC, 0).UTC()
	err = store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&AccountBalance{UserID: userID.String(), CreatedAt: now, UpdatedAt: now}).Error
	if err != nil {
		return ledger.AccountBalance{}, wrapDatabaseError(errorSubjectAccount, errorCodeCreate, err)
	}
	model, err = store.lockAccount(ctx, userID)
	if err != nil {
		return ledger.AccountBalance{}, wrapDatabaseError(errorSubjectAccount, errorCodeLookup, err)
	}
	return mapAccountBalance(model)
}

// FindAccount returns the locked balance row or ledger.ErrUserNotFound.
func (store *Store) FindAccount(ctx context.Context, userID ledger.UserID) (ledger.AccountBalance, error) {
	model, err := store.lockAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.AccountBalance{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUserNotFound)
		}
		return ledger.AccountBalance{}, wrapDatabaseError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccountBalance(model)
}

// SaveAccount writes the projection fields of an existing row.
func (store *Store) SaveAccount(ctx context.Context, account ledger.AccountBalance) error {
	result := store.db.WithContext(ctx).
		Model(&AccountBalance{}).
		Where("user_id = ?", account.UserID.String()).
		Updates(map[string]interface{}{
			"balance":          account.Balance.Int64(),
			"grace_limit_used": account.GraceLimitUsed,
			"last_sequence":    account.LastSequence,
			"updated_at":       time.Unix(account.UpdatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapDatabaseError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrUserNotFound)
	}
	return nil
}

// InsertEntry appends a ledger row; a consumed idempotency key maps to ledger.ErrDuplicateGrant.
func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	var idempotencyKey *string
	if !entry.IdempotencyKey().IsZero() {
		value := entry.IdempotencyKey().String()
		idempotencyKey = &value
	}
	model := LedgerEntry{
		EntryID:        entry.EntryID().String(),
		UserID:         entry.UserID().String(),
		Sequence:       entry.Sequence(),
		Type:           entry.Type().String(),
		Amount:         entry.Amount().Int64(),
		BalanceAfter:   entry.BalanceAfter().Int64(),
		Source:         entry.Source().String(),
		Description:    entry.Description(),
		IdempotencyKey: idempotencyKey,
		Metadata:       datatypesJSON(entry.MetadataJSON().String()),
		CreatedAt:      time.Unix(entry.CreatedUnixUTC(), 0).UTC(),
	}
	if entry.CreatedUnixUTC() == 0 {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isIdempotencyConflict(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateGrant)
	}
	if err != nil {
		return wrapDatabaseError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

// FindEntryByIdempotencyKey returns the entry that consumed key or ledger.ErrEntryNotFound.
func (store *Store) FindEntryByIdempotencyKey(ctx context.Context, userID ledger.UserID, source ledger.Source, key ledger.IdempotencyKey) (ledger.Entry, error) {
	var model LedgerEntry
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND source = ? AND idempotency_key = ?", userID.String(), source.String(), key.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, ledger.ErrEntryNotFound)
		}
		return ledger.Entry{}, wrapDatabaseError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapLedgerEntry(model)
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

// ListEntries pages through one user's entries by sequence.
func (store *Store) ListEntries(ctx context.Context, userID ledger.UserID, query ledger.ListQuery) ([]ledger.Entry, error) {
	order := "sequence DESC"
	if query.Order == ledger.OrderOldestFirst {
		order = "sequence ASC"
	}
	statement := store.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order(order).
		Offset(query.Offset)
	if query.Limit > 0 {
		statement = statement.Limit(query.Limit)
	}
	var rows []LedgerEntry
	if err := statement.Find(&rows).Error; err != nil {
		return nil, wrapDatabaseError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListDriftedAccounts compares every stored balance with the sum of its signed entries.
func (store *Store) ListDriftedAccounts(ctx context.Context, limit int) ([]ledger.UserID, error) {
	var rawUserIDs []string
	if err := store.db.WithContext(ctx).Raw(driftedAccountsQuery, limit).Scan(&rawUserIDs).Error; err != nil {
		return nil, wrapDatabaseError(errorSubjectScan, errorCodeList, err)
	}
	userIDs := make([]ledger.UserID, 0, len(rawUserIDs))
	for _, raw := range rawUserIDs {
		userID, err := ledger.NewUserID(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectScan, errorCodeInvalid, err)
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, nil
}

func (store *Store) lockAccount(ctx context.Context, userID ledger.UserID) (AccountBalance, error) {
	var model AccountBalance
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID.String()).
		Take(&model).Error
	return model, err
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func wrapDatabaseError(subject string, code string, err error) error {
	return wrapStoreError(subject, code, ledger.MarkUnavailable(err))
}

func mapAccountBalance(model AccountBalance) (ledger.AccountBalance, error) {
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.AccountBalance{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.AccountBalance{
		UserID:         userID,
		Balance:        ledger.Credits(model.Balance),
		GraceLimitUsed: model.GraceLimitUsed,
		LastSequence:   model.LastSequence,
		CreatedUnixUTC: model.CreatedAt.Unix(),
		UpdatedUnixUTC: model.UpdatedAt.Unix(),
	}, nil
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	entryID, err := ledger.NewEntryID(row.EntryID)
	if err != nil {
		return ledger.Entry{}, err
	}
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Entry{}, err
	}
	entryType, err := ledger.ParseEntryType(row.Type)
	if err != nil {
		return ledger.Entry{}, err
	}
	amount, err := ledger.NewPositiveCredits(row.Amount)
	if err != nil {
		return ledger.Entry{}, err
	}
	source, err := ledger.ParseSource(row.Source)
	if err != nil {
		return ledger.Entry{}, err
	}
	var idempotencyKey ledger.IdempotencyKey
	if row.IdempotencyKey != nil {
		idempotencyKey, err = ledger.NewIdempotencyKey(*row.IdempotencyKey)
		if err != nil {
			return ledger.Entry{}, err
		}
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.NewEntry(ledger.EntryFields{
		EntryID:        entryID,
		UserID:         userID,
		Sequence:       row.Sequence,
		Type:           entryType,
		Amount:         amount,
		BalanceAfter:   ledger.Credits(row.BalanceAfter),
		Source:         source,
		Description:    row.Description,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	})
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isIdempotencyConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintUserSourceKey
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), sqliteKeyColumn)
	}
	return false
}
