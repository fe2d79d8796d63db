package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteStore(test *testing.T) (*Store, *gorm.DB) {
	test.Helper()
	databasePath := filepath.Join(test.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(databasePath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(context.Background(), db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	test.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return New(db), db
}

func newService(test *testing.T, store ledger.Store) *ledger.Service {
	test.Helper()
	clock := int64(1700000000)
	service, err := ledger.NewService(store, func() int64 {
		clock++
		return clock
	})
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustKey(test *testing.T, raw string) ledger.IdempotencyKey {
	test.Helper()
	key, err := ledger.NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func TestGrantAndSpendPersistEntriesAndProjection(test *testing.T) {
	test.Parallel()
	store, db := newSQLiteStore(test)
	service := newService(test, store)
	userID := mustUserID(test, "sqlite-user")
	metadata, _ := ledger.NewMetadataJSON(`{"order":"A-1"}`)

	if _, err := service.Grant(context.Background(), ledger.GrantRequest{
		UserID:         userID,
		Amount:         5,
		Source:         ledger.SourceWelcome,
		IdempotencyKey: mustKey(test, "reg-123"),
		Metadata:       metadata,
	}); err != nil {
		test.Fatalf("grant: %v", err)
	}
	duplicate, err := service.Grant(context.Background(), ledger.GrantRequest{
		UserID:         userID,
		Amount:         5,
		Source:         ledger.SourceWelcome,
		IdempotencyKey: mustKey(test, "reg-123"),
	})
	if err != nil {
		test.Fatalf("duplicate grant: %v", err)
	}
	if !duplicate.Duplicate || duplicate.BalanceAfter != 5 {
		test.Fatalf("expected duplicate result, got %+v", duplicate)
	}
	spent, err := service.Spend(context.Background(), ledger.SpendRequest{UserID: userID, Amount: 6, Description: "audit run"})
	if err != nil {
		test.Fatalf("spend: %v", err)
	}
	if spent.BalanceAfter != -1 || !spent.UsedGrace {
		test.Fatalf("expected grace spend, got %+v", spent)
	}

	var model AccountBalance
	if err := db.Where("user_id = ?", userID.String()).Take(&model).Error; err != nil {
		test.Fatalf("load account: %v", err)
	}
	if model.Balance != -1 || !model.GraceLimitUsed || model.LastSequence != 2 {
		test.Fatalf("unexpected stored account: %+v", model)
	}
	var count int64
	if err := db.Model(&LedgerEntry{}).Where("user_id = ?", userID.String()).Count(&count).Error; err != nil {
		test.Fatalf("count entries: %v", err)
	}
	if count != 2 {
		test.Fatalf("expected 2 entries, got %d", count)
	}

	entries, err := service.ListEntries(context.Background(), userID, ledger.ListQuery{Order: ledger.OrderOldestFirst, Limit: 10})
	if err != nil {
		test.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 || entries[0].MetadataJSON().String() == "{}" || entries[1].Description() != "audit run" {
		test.Fatalf("unexpected entries: %+v", entries)
	}
	if !entries[1].IdempotencyKey().IsZero() {
		test.Fatalf("expected spend without key")
	}
}

func TestInsertEntryMapsKeyConflict(test *testing.T) {
	test.Parallel()
	store, _ := newSQLiteStore(test)
	userID := mustUserID(test, "conflict")
	newEntry := func(sequence int64) ledger.Entry {
		entryID, err := ledger.NewTimeOrderedEntryID()
		if err != nil {
			test.Fatalf("entry id: %v", err)
		}
		entry, err := ledger.NewEntry(ledger.EntryFields{
			EntryID:        entryID,
			UserID:         userID,
			Sequence:       sequence,
			Type:           ledger.EntryCredit,
			Amount:         1,
			BalanceAfter:   ledger.Credits(sequence),
			Source:         ledger.SourcePurchase,
			IdempotencyKey: mustKey(test, "pay-1"),
			CreatedUnixUTC: 1700000000,
		})
		if err != nil {
			test.Fatalf("entry: %v", err)
		}
		return entry
	}
	if err := store.InsertEntry(context.Background(), newEntry(1)); err != nil {
		test.Fatalf("insert: %v", err)
	}
	err := store.InsertEntry(context.Background(), newEntry(2))
	if !errors.Is(err, ledger.ErrDuplicateGrant) {
		test.Fatalf("expected ErrDuplicateGrant, got %v", err)
	}
	found, err := store.FindEntryByIdempotencyKey(context.Background(), userID, ledger.SourcePurchase, mustKey(test, "pay-1"))
	if err != nil || found.Sequence() != 1 {
		test.Fatalf("expected first entry, got %+v %v", found, err)
	}
	_, err = store.FindEntryByIdempotencyKey(context.Background(), userID, ledger.SourceTrial, mustKey(test, "pay-1"))
	if !errors.Is(err, ledger.ErrEntryNotFound) {
		test.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestListDriftedAccountsAndRepair(test *testing.T) {
	test.Parallel()
	store, db := newSQLiteStore(test)
	service := newService(test, store)
	healthy := mustUserID(test, "healthy")
	drifted := mustUserID(test, "drifted")
	empty := mustUserID(test, "empty")
	for _, userID := range []ledger.UserID{healthy, drifted} {
		if _, err := service.Grant(context.Background(), ledger.GrantRequest{UserID: userID, Amount: 10, Source: ledger.SourcePurchase}); err != nil {
			test.Fatalf("grant: %v", err)
		}
	}
	if _, err := service.Balance(context.Background(), empty); err != nil {
		test.Fatalf("balance: %v", err)
	}
	if err := db.Model(&AccountBalance{}).Where("user_id = ?", drifted.String()).Update("balance", 4).Error; err != nil {
		test.Fatalf("force drift: %v", err)
	}

	users, err := service.BulkScan(context.Background(), 100)
	if err != nil {
		test.Fatalf("bulk scan: %v", err)
	}
	if len(users) != 1 || users[0] != drifted {
		test.Fatalf("expected drifted user only, got %v", users)
	}
	report, err := service.Reconcile(context.Background(), drifted)
	if err != nil {
		test.Fatalf("reconcile: %v", err)
	}
	if report.IsConsistent || report.Drift() != -6 {
		test.Fatalf("expected drift of -6, got %+v", report)
	}
	repaired, err := service.Repair(context.Background(), ledger.RepairRequest{UserID: drifted, Description: "operator fix"})
	if err != nil {
		test.Fatalf("repair: %v", err)
	}
	if !repaired.Applied || repaired.Type != ledger.EntryDebit || repaired.Amount != 6 {
		test.Fatalf("unexpected repair: %+v", repaired)
	}
	users, err = service.BulkScan(context.Background(), 100)
	if err != nil || len(users) != 0 {
		test.Fatalf("expected no drift after repair, got %v %v", users, err)
	}
}

func TestFindAccountUnknownUser(test *testing.T) {
	test.Parallel()
	store, _ := newSQLiteStore(test)
	_, err := store.FindAccount(context.Background(), mustUserID(test, "nobody"))
	if !errors.Is(err, ledger.ErrUserNotFound) {
		test.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	err = store.SaveAccount(context.Background(), ledger.AccountBalance{UserID: mustUserID(test, "nobody")})
	if !errors.Is(err, ledger.ErrUserNotFound) {
		test.Fatalf("expected ErrUserNotFound on save, got %v", err)
	}
}

func TestClosedDatabaseIsUnavailable(test *testing.T) {
	test.Parallel()
	store, db := newSQLiteStore(test)
	sqlDB, err := db.DB()
	if err != nil {
		test.Fatalf("sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		test.Fatalf("close: %v", err)
	}
	_, err = store.GetOrCreateAccount(context.Background(), mustUserID(test, "late"), 1)
	if !errors.Is(err, ledger.ErrStoreUnavailable) {
		test.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
