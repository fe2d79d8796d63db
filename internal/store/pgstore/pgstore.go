package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintUserSourceKey = "uniq_ledger_entries_user_source_key"
	pgUniqueViolationCode   = "23505"
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectEntry       = "entry"
	errorSubjectScan        = "scan"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeUpdate         = "update"

	sqlInsertAccount = `
		insert into account_balances(user_id, created_at, updated_at)
		values ($1, to_timestamp($2), to_timestamp($2))
		on conflict (user_id) do nothing
	`

	sqlSelectAccountForUpdate = `
		select user_id, balance, grace_limit_used, last_sequence,
			extract(epoch from created_at)::bigint,
			extract(epoch from updated_at)::bigint
		from account_balances
		where user_id = $1
		for update
	`

	sqlUpdateAccount = `
		update account_balances
		set balance = $2, grace_limit_used = $3, last_sequence = $4, updated_at = to_timestamp($5)
		where user_id = $1
	`

	sqlInsertEntry = `
		insert into ledger_entries(
			entry_id, user_id, sequence, type, amount, balance_after, source, description,
			idempotency_key, metadata, created_at
		)
		values(
			$1::uuid, $2, $3, $4, $5, $6, $7, $8,
			nullif($9,''),
			coalesce(nullif($10,''),'{}')::jsonb,
			to_timestamp($11)
		)
	`

	sqlEntryColumns = `
		select
			entry_id::text,
			user_id,
			sequence,
			type,
			amount,
			balance_after,
			source,
			description,
			coalesce(idempotency_key,''),
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from ledger_entries
	`

	sqlSelectEntryByKey = sqlEntryColumns + `
		where user_id = $1 and source = $2 and idempotency_key = $3
	`

	sqlListEntriesAsc = sqlEntryColumns + `
		where user_id = $1
		order by sequence asc
		limit $2 offset $3
	`

	sqlListEntriesDesc = sqlEntryColumns + `
		where user_id = $1
		order by sequence desc
		limit $2 offset $3
	`

	sqlListDriftedAccounts = `
		select b.user_id
		from account_balances b
		left join ledger_entries e on e.user_id = b.user_id
		group by b.user_id, b.balance
		having b.balance <> coalesce(sum(case when e.type = 'debit' then -e.amount else e.amount end), 0)
		order by b.user_id
		limit $1
	`
)

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store with pgx. Outside WithTx statements autocommit.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx runs fn in a read-committed transaction; row locks serialize writers per user.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapDatabaseError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapDatabaseError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetOrCreateAccount(ctx context.Context, userID ledger.UserID, nowUnixUTC int64) (ledger.AccountBalance, error) {
	if _, err := store.db.Exec(ctx, sqlInsertAccount, userID.String(), nowUnixUTC); err != nil {
		return ledger.AccountBalance{}, wrapDatabaseError(errorSubjectAccount, errorCodeCreate, err)
	}
	account, err := store.selectAccount(ctx, userID)
	if err != nil {
		return ledger.AccountBalance{}, err
	}
	return account, nil
}

func (store *Store) FindAccount(ctx context.Context, userID ledger.UserID) (ledger.AccountBalance, error) {
	return store.selectAccount(ctx, userID)
}

func (store *Store) SaveAccount(ctx context.Context, account ledger.AccountBalance) error {
	tag, err := store.db.Exec(ctx, sqlUpdateAccount,
		account.UserID.String(),
		account.Balance.Int64(),
		account.GraceLimitUsed,
		account.LastSequence,
		account.UpdatedUnixUTC,
	)
	if err != nil {
		return wrapDatabaseError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrUserNotFound)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	_, err := store.db.Exec(ctx, sqlInsertEntry,
		entry.EntryID().String(),
		entry.UserID().String(),
		entry.Sequence(),
		entry.Type().String(),
		entry.Amount().Int64(),
		entry.BalanceAfter().Int64(),
		entry.Source().String(),
		entry.Description(),
		entry.IdempotencyKey().String(),
		entry.MetadataJSON().String(),
		entry.CreatedUnixUTC(),
	)
	if isIdempotencyConflict(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateGrant)
	}
	if err != nil {
		return wrapDatabaseError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) FindEntryByIdempotencyKey(ctx context.Context, userID ledger.UserID, source ledger.Source, key ledger.IdempotencyKey) (ledger.Entry, error) {
	rows, err := store.db.Query(ctx, sqlSelectEntryByKey, userID.String(), source.String(), key.String())
	if err != nil {
		return ledger.Entry{}, wrapDatabaseError(errorSubjectEntry, errorCodeGet, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	if len(entries) == 0 {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, ledger.ErrEntryNotFound)
	}
	return entries[0], nil
}

func (store *Store) ListEntries(ctx context.Context, userID ledger.UserID, query ledger.ListQuery) ([]ledger.Entry, error) {
	statement := sqlListEntriesDesc
	if query.Order == ledger.OrderOldestFirst {
		statement = sqlListEntriesAsc
	}
	var limit any
	if query.Limit > 0 {
		limit = query.Limit
	}
	rows, err := store.db.Query(ctx, statement, userID.String(), limit, query.Offset)
	if err != nil {
		return nil, wrapDatabaseError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func (store *Store) ListDriftedAccounts(ctx context.Context, limit int) ([]ledger.UserID, error) {
	rows, err := store.db.Query(ctx, sqlListDriftedAccounts, limit)
	if err != nil {
		return nil, wrapDatabaseError(errorSubjectScan, errorCodeList, err)
	}
	defer rows.Close()
	userIDs := make([]ledger.UserID, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapDatabaseError(errorSubjectScan, errorCodeList, err)
		}
		userID, err := ledger.NewUserID(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectScan, errorCodeInvalid, err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDatabaseError(errorSubjectScan, errorCodeList, err)
	}
	return userIDs, nil
}

func (store *Store) selectAccount(ctx context.Context, userID ledger.UserID) (ledger.AccountBalance, error) {
	var (
		userIDValue      string
		balance          int64
		graceLimitUsed   bool
		lastSequence     int64
		createdAtUnixUTC int64
		updatedAtUnixUTC int64
	)
	err := store.db.QueryRow(ctx, sqlSelectAccountForUpdate, userID.String()).Scan(
		&userIDValue,
		&balance,
		&graceLimitUsed,
		&lastSequence,
		&createdAtUnixUTC,
		&updatedAtUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.AccountBalance{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrUserNotFound)
		}
		return ledger.AccountBalance{}, wrapDatabaseError(errorSubjectAccount, errorCodeGet, err)
	}
	parsedUserID, err := ledger.NewUserID(userIDValue)
	if err != nil {
		return ledger.AccountBalance{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.AccountBalance{
		UserID:         parsedUserID,
		Balance:        ledger.Credits(balance),
		GraceLimitUsed: graceLimitUsed,
		LastSequence:   lastSequence,
		CreatedUnixUTC: createdAtUnixUTC,
		UpdatedUnixUTC: updatedAtUnixUTC,
	}, nil
}

func scanEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0)
	for rows.Next() {
		var (
			entryIDValue     string
			userIDValue      string
			sequence         int64
			entryTypeValue   string
			amountValue      int64
			balanceAfter     int64
			sourceValue      string
			description      string
			idempotencyValue string
			metadataValue    string
			createdAtUnixUTC int64
		)
		if err := rows.Scan(
			&entryIDValue,
			&userIDValue,
			&sequence,
			&entryTypeValue,
			&amountValue,
			&balanceAfter,
			&sourceValue,
			&description,
			&idempotencyValue,
			&metadataValue,
			&createdAtUnixUTC,
		); err != nil {
			return nil, err
		}
		entryID, err := ledger.NewEntryID(entryIDValue)
		if err != nil {
			return nil, err
		}
		userID, err := ledger.NewUserID(userIDValue)
		if err != nil {
			return nil, err
		}
		entryType, err := ledger.ParseEntryType(entryTypeValue)
		if err != nil {
			return nil, err
		}
		amount, err := ledger.NewPositiveCredits(amountValue)
		if err != nil {
			return nil, err
		}
		source, err := ledger.ParseSource(sourceValue)
		if err != nil {
			return nil, err
		}
		idempotencyKey, err := ledger.ParseOptionalIdempotencyKey(idempotencyValue)
		if err != nil {
			return nil, err
		}
		metadata, err := ledger.NewMetadataJSON(metadataValue)
		if err != nil {
			return nil, err
		}
		entry, err := ledger.NewEntry(ledger.EntryFields{
			EntryID:        entryID,
			UserID:         userID,
			Sequence:       sequence,
			Type:           entryType,
			Amount:         amount,
			BalanceAfter:   ledger.Credits(balanceAfter),
			Source:         source,
			Description:    description,
			IdempotencyKey: idempotencyKey,
			Metadata:       metadata,
			CreatedUnixUTC: createdAtUnixUTC,
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func wrapDatabaseError(subject string, code string, err error) error {
	return wrapStoreError(subject, code, ledger.MarkUnavailable(err))
}

func isIdempotencyConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintUserSourceKey
	}
	return false
}
