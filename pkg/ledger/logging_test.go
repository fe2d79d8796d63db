package ledger

import (
	"context"
	"errors"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsGrantOperation(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	service := mustNewService(test, newStubStore(test), WithOperationLogger(logger))
	userID := mustUserID(test, "user-1")
	idempotencyKey := mustIdempotencyKey(test, "grant-1")
	metadata := mustMetadata(test, `{"action":"test"}`)

	_, err := service.Grant(context.Background(), GrantRequest{
		UserID:         userID,
		Amount:         mustPositiveCredits(test, 100),
		Source:         SourcePurchase,
		IdempotencyKey: idempotencyKey,
		Metadata:       metadata,
	})
	if err != nil {
		test.Fatalf("grant failed: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationGrant || entry.UserID != userID || entry.Amount != 100 || entry.IdempotencyKey != idempotencyKey {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK || entry.BalanceAfter != 100 {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsDuplicateAndExemptStatus(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	service := mustNewService(test, newStubStore(test), WithOperationLogger(logger), WithExemptionPolicy(NewStaticExemptions("demo")))
	userID := mustUserID(test, "user-1")

	mustGrant(test, service, userID, 5, SourceWelcome, "welcome:user-1")
	mustGrant(test, service, userID, 5, SourceWelcome, "welcome:user-1")
	if _, err := service.Spend(context.Background(), SpendRequest{UserID: mustUserID(test, "demo"), Amount: 3}); err != nil {
		test.Fatalf("spend: %v", err)
	}

	if len(logger.entries) != 3 {
		test.Fatalf("expected three log entries, got %d", len(logger.entries))
	}
	if logger.entries[1].Status != operationStatusDuplicate {
		test.Fatalf("expected duplicate status, got %+v", logger.entries[1])
	}
	if logger.entries[2].Status != operationStatusExempt || logger.entries[2].Operation != operationSpend {
		test.Fatalf("expected exempt spend, got %+v", logger.entries[2])
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.withTxError = errors.New("boom")
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	_, err := service.Spend(context.Background(), SpendRequest{UserID: mustUserID(test, "user-1"), Amount: 1})
	if err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
}

func TestOperationLoggersFanOut(test *testing.T) {
	test.Parallel()
	first := &recorderLogger{}
	second := &recorderLogger{}
	loggers := OperationLoggers{first, nil, second}

	loggers.LogOperation(context.Background(), OperationLog{Operation: operationReconcile})

	if len(first.entries) != 1 || len(second.entries) != 1 {
		test.Fatalf("expected both loggers to receive the entry")
	}
}
