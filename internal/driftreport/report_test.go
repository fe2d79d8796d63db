package driftreport

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/creditledger/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

var reportTime = time.Date(2026, time.March, 4, 5, 6, 7, 0, time.UTC)

func mustUserID(test *testing.T, raw string) ledger.UserID {
	test.Helper()
	userID, err := ledger.NewUserID(raw)
	require.NoError(test, err)
	return userID
}

func newDriftedService(test *testing.T) *ledger.Service {
	test.Helper()
	store := memstore.New()
	service, err := ledger.NewService(store, func() int64 { return reportTime.Unix() })
	require.NoError(test, err)
	for _, raw := range []string{"alice", "bob"} {
		_, err := service.Grant(context.Background(), ledger.GrantRequest{UserID: mustUserID(test, raw), Amount: 10, Source: ledger.SourceWelcome})
		require.NoError(test, err)
	}
	store.ForceBalance(mustUserID(test, "bob"), 13)
	return service
}

func TestBuildReportsDriftedAccounts(test *testing.T) {
	test.Parallel()
	report, err := Build(context.Background(), newDriftedService(test), 10, reportTime)
	require.NoError(test, err)
	require.Len(test, report.Accounts, 1)
	finding := report.Accounts[0]
	require.Equal(test, "bob", finding.UserID)
	require.Equal(test, int64(13), finding.StoredBalance)
	require.Equal(test, int64(10), finding.DerivedBalance)
	require.Equal(test, int64(3), finding.Drift)
	require.Equal(test, 1, finding.EntryCount)
}

type failingReconciler struct {
	drifted      []ledger.UserID
	scanErr      error
	reconcileErr error
}

func (reconciler failingReconciler) BulkScan(context.Context, int) ([]ledger.UserID, error) {
	return reconciler.drifted, reconciler.scanErr
}

func (reconciler failingReconciler) Reconcile(context.Context, ledger.UserID) (ledger.ReconcileReport, error) {
	return ledger.ReconcileReport{}, reconciler.reconcileErr
}

func TestBuildRecordsPerAccountFailures(test *testing.T) {
	test.Parallel()
	reconciler := failingReconciler{drifted: []ledger.UserID{mustUserID(test, "ghost")}, reconcileErr: ledger.ErrUserNotFound}
	report, err := Build(context.Background(), reconciler, 5, reportTime)
	require.NoError(test, err)
	require.Len(test, report.Accounts, 1)
	require.Contains(test, report.Accounts[0].Error, "user not found")

	_, err = Build(context.Background(), failingReconciler{scanErr: ledger.ErrStoreUnavailable}, 5, reportTime)
	require.ErrorIs(test, err, ledger.ErrStoreUnavailable)
}

type recordingPutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (putter *recordingPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if putter.err != nil {
		return nil, putter.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	putter.inputs = append(putter.inputs, params)
	putter.bodies = append(putter.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestUploaderWritesJSONObject(test *testing.T) {
	test.Parallel()
	putter := &recordingPutter{}
	uploader, err := NewUploader(putter, "ledger-reports", "/drift/")
	require.NoError(test, err)

	report := Report{GeneratedAt: reportTime, Limit: 10, Accounts: []AccountFinding{{UserID: "bob", Drift: 3}}}
	key, err := uploader.Upload(context.Background(), report)
	require.NoError(test, err)
	require.Equal(test, "drift/drift-20260304T050607Z.json", key)
	require.Len(test, putter.inputs, 1)
	require.Equal(test, "ledger-reports", aws.ToString(putter.inputs[0].Bucket))
	require.Equal(test, "application/json", aws.ToString(putter.inputs[0].ContentType))
	require.JSONEq(test, `{"generated_at":"2026-03-04T05:06:07Z","limit":10,"accounts":[{"user_id":"bob","stored_balance":0,"derived_balance":0,"drift":3,"entry_count":0}]}`, string(putter.bodies[0]))
}

func TestUploaderErrors(test *testing.T) {
	test.Parallel()
	_, err := NewUploader(&recordingPutter{}, "  ", "")
	require.ErrorIs(test, err, ErrMissingBucket)

	errDenied := errors.New("access denied")
	uploader, err := NewUploader(&recordingPutter{err: errDenied}, "bucket", "")
	require.NoError(test, err)
	_, err = uploader.Upload(context.Background(), Report{GeneratedAt: reportTime})
	require.ErrorIs(test, err, errDenied)
}
