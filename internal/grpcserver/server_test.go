package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/creditledger/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/creditledger/pkg/creditrpc"
	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufconnSize = 1 << 20

func startClient(test *testing.T, options ...ledger.ServiceOption) (*creditrpc.Client, *memstore.Store) {
	test.Helper()
	store := memstore.New()
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := ledger.NewService(store, clock, options...)
	require.NoError(test, err)

	listener := bufconn.Listen(bufconnSize)
	grpcServer := grpc.NewServer()
	creditrpc.RegisterCreditServiceServer(grpcServer, NewCreditServiceServer(service))
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			test.Logf("gRPC server error: %v", serveErr)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(test, err)
	test.Cleanup(func() {
		grpcServer.Stop()
		_ = conn.Close()
	})
	return creditrpc.NewClient(conn), store
}

func requireCode(test *testing.T, err error, code codes.Code, message string) {
	test.Helper()
	require.Error(test, err)
	grpcStatus, ok := status.FromError(err)
	require.True(test, ok, "expected gRPC status, got %v", err)
	require.Equal(test, code, grpcStatus.Code())
	require.Equal(test, message, grpcStatus.Message())
}

func TestGrantSpendAndBalance(test *testing.T) {
	test.Parallel()
	client, _ := startClient(test, ledger.WithSpendPolicy(ledger.SpendPolicy{GraceUnit: 1, MaxSpend: 100}))
	ctx := context.Background()

	granted, err := client.Grant(ctx, &creditrpc.GrantRequest{UserID: "alice", Amount: 10, Source: "purchase", IdempotencyKey: "pay-1"})
	require.NoError(test, err)
	require.Equal(test, int64(0), granted.BalanceBefore)
	require.Equal(test, int64(10), granted.BalanceAfter)
	require.NotEmpty(test, granted.EntryID)

	retried, err := client.Grant(ctx, &creditrpc.GrantRequest{UserID: "alice", Amount: 10, Source: "purchase", IdempotencyKey: "pay-1"})
	require.NoError(test, err)
	require.True(test, retried.Duplicate)
	require.Equal(test, granted.EntryID, retried.EntryID)

	allowed, err := client.CanSpend(ctx, &creditrpc.CanSpendRequest{UserID: "alice", Amount: 11})
	require.NoError(test, err)
	require.True(test, allowed.Allowed)

	spent, err := client.Spend(ctx, &creditrpc.SpendRequest{UserID: "alice", Amount: 11, Description: "audit run"})
	require.NoError(test, err)
	require.True(test, spent.UsedGrace)
	require.Equal(test, int64(-1), spent.BalanceAfter)

	balance, err := client.GetBalance(ctx, &creditrpc.BalanceRequest{UserID: "alice"})
	require.NoError(test, err)
	require.Equal(test, int64(-1), balance.Balance)
	require.True(test, balance.GraceUsed)
	require.Equal(test, int64(2), balance.LastSequence)

	_, err = client.Spend(ctx, &creditrpc.SpendRequest{UserID: "alice", Amount: 1})
	requireCode(test, err, codes.FailedPrecondition, errorInsufficientFunds)
}

func TestListEntriesAndReconcile(test *testing.T) {
	test.Parallel()
	client, store := startClient(test)
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		_, err := client.Grant(ctx, &creditrpc.GrantRequest{UserID: "bob", Amount: 5, Source: "manual", IdempotencyKey: key})
		require.NoError(test, err)
	}

	listed, err := client.ListEntries(ctx, &creditrpc.ListEntriesRequest{UserID: "bob", Limit: 2})
	require.NoError(test, err)
	require.Len(test, listed.Entries, 2)
	require.Equal(test, int64(3), listed.Entries[0].Sequence)
	require.Equal(test, "credit", listed.Entries[0].Type)
	require.Equal(test, "{}", listed.Entries[0].MetadataJSON)

	oldest, err := client.ListEntries(ctx, &creditrpc.ListEntriesRequest{UserID: "bob", Order: "asc", Offset: 1})
	require.NoError(test, err)
	require.Len(test, oldest.Entries, 2)
	require.Equal(test, int64(2), oldest.Entries[0].Sequence)

	_, err = client.ListEntries(ctx, &creditrpc.ListEntriesRequest{UserID: "bob", Limit: maxListEntriesLimit + 1})
	requireCode(test, err, codes.InvalidArgument, errorInvalidListQuery)

	store.ForceBalance(mustUserID(test, "bob"), 12)
	report, err := client.Reconcile(ctx, &creditrpc.ReconcileRequest{UserID: "bob"})
	require.NoError(test, err)
	require.False(test, report.Consistent)
	require.Equal(test, int64(-3), report.Drift)
	require.Equal(test, int64(3), report.EntryCount)

	scan, err := client.BulkScan(ctx, &creditrpc.BulkScanRequest{})
	require.NoError(test, err)
	require.Equal(test, []string{"bob"}, scan.UserIDs)

	repaired, err := client.Repair(ctx, &creditrpc.RepairRequest{UserID: "bob", OperatorID: "ops"})
	require.NoError(test, err)
	require.True(test, repaired.Applied)
	require.Equal(test, "debit", repaired.Type)
	require.Equal(test, int64(3), repaired.Amount)

	report, err = client.Reconcile(ctx, &creditrpc.ReconcileRequest{UserID: "bob"})
	require.NoError(test, err)
	require.True(test, report.Consistent)
	require.Equal(test, int64(12), report.StoredBalance)
}

func TestValidationErrors(test *testing.T) {
	test.Parallel()
	client, _ := startClient(test)
	ctx := context.Background()

	_, err := client.Grant(ctx, &creditrpc.GrantRequest{UserID: " ", Amount: 1, Source: "purchase"})
	requireCode(test, err, codes.InvalidArgument, errorInvalidUserID)

	_, err = client.Grant(ctx, &creditrpc.GrantRequest{UserID: "carol", Amount: 0, Source: "purchase"})
	requireCode(test, err, codes.InvalidArgument, errorInvalidAmount)

	_, err = client.Grant(ctx, &creditrpc.GrantRequest{UserID: "carol", Amount: 1, Source: "audit"})
	requireCode(test, err, codes.InvalidArgument, errorInvalidSource)

	_, err = client.Spend(ctx, &creditrpc.SpendRequest{UserID: "carol", Amount: 1, MetadataJSON: "{broken"})
	requireCode(test, err, codes.InvalidArgument, errorInvalidMetadata)

	_, err = client.Reconcile(ctx, &creditrpc.ReconcileRequest{UserID: "nobody"})
	requireCode(test, err, codes.NotFound, errorUserNotFound)
}

func TestMapToGRPCErrorHidesInternalDetails(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		err      error
		code     codes.Code
		expected string
	}{
		{name: "unavailable", err: ledger.WrapError("store", "account", "get", ledger.MarkUnavailable(errors.New("dial tcp: refused"))), code: codes.Unavailable, expected: errorStoreUnavailable},
		{name: "deadline", err: context.DeadlineExceeded, code: codes.DeadlineExceeded, expected: errorStoreUnavailable},
		{name: "duplicate", err: ledger.ErrDuplicateGrant, code: codes.AlreadyExists, expected: errorDuplicateGrant},
		{name: "unknown", err: errors.New("password=secret"), code: codes.Internal, expected: errorInternal},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			requireCode(test, mapToGRPCError(testCase.err), testCase.code, testCase.expected)
		})
	}
}

func TestNormalizeListLimit(test *testing.T) {
	test.Parallel()
	limit, err := normalizeListLimit(0)
	require.NoError(test, err)
	require.Equal(test, int32(defaultListEntriesLimit), limit)
	_, err = normalizeListLimit(maxListEntriesLimit + 1)
	require.Error(test, err)
}

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	require.NoError(test, err)
	return userID
}
