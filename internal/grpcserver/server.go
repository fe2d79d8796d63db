package grpcserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/creditrpc"
	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorInsufficientFunds     = "insufficient_funds"
	errorUserNotFound          = "user_not_found"
	errorStoreUnavailable      = "store_unavailable"
	errorInvalidUserID         = "invalid_user_id"
	errorInvalidIdempotencyKey = "invalid_idempotency_key"
	errorInvalidAmount         = "invalid_amount"
	errorInvalidSource         = "invalid_source"
	errorInvalidDescription    = "invalid_description"
	errorInvalidMetadata       = "invalid_metadata_json"
	errorInvalidListQuery      = "invalid_list_query"
	errorDuplicateGrant        = "duplicate_grant"
	errorInternal              = "internal_error"

	defaultListEntriesLimit = 50
	maxListEntriesLimit     = 200
	defaultBulkScanLimit    = 100
)

// CreditServiceServer exposes the credit ledger over gRPC.
type CreditServiceServer struct {
	creditrpc.UnimplementedCreditServiceServer
	creditService *ledger.Service
}

// NewCreditServiceServer constructs a gRPC server for the ledger service.
func NewCreditServiceServer(creditService *ledger.Service) *CreditServiceServer {
	return &CreditServiceServer{creditService: creditService}
}

func (service *CreditServiceServer) GetBalance(ctx context.Context, request *creditrpc.BalanceRequest) (*creditrpc.BalanceResponse, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	account, operationError := service.creditService.Balance(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &creditrpc.BalanceResponse{
		UserID:       account.UserID.String(),
		Balance:      account.Balance.Int64(),
		GraceUsed:    account.GraceLimitUsed,
		LastSequence: account.LastSequence,
	}, nil
}

func (service *CreditServiceServer) Grant(ctx context.Context, request *creditrpc.GrantRequest) (*creditrpc.MutationResponse, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := ledger.NewPositiveCredits(request.Amount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	source, err := ledger.ParseSource(request.Source)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	idem, err := ledger.ParseOptionalIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := ledger.NewMetadataJSON(request.MetadataJSON)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.creditService.Grant(ctx, ledger.GrantRequest{
		UserID:         userID,
		Amount:         amount,
		Source:         source,
		Description:    request.Description,
		IdempotencyKey: idem,
		Metadata:       metadata,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &creditrpc.MutationResponse{
		EntryID:       result.EntryID.String(),
		BalanceBefore: result.BalanceBefore.Int64(),
		BalanceAfter:  result.BalanceAfter.Int64(),
		Duplicate:     result.Duplicate,
	}, nil
}

func (service *CreditServiceServer) CanSpend(ctx context.Context, request *creditrpc.CanSpendRequest) (*creditrpc.CanSpendResponse, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := ledger.NewPositiveCredits(request.Amount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	allowed, operationError := service.creditService.CanSpend(ctx, userID, amount)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &creditrpc.CanSpendResponse{Allowed: allowed}, nil
}

func (service *CreditServiceServer) Spend(ctx context.Context, request *creditrpc.SpendRequest) (*creditrpc.MutationResponse, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	amount, err := ledger.NewPositiveCredits(request.Amount)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	var source ledger.Source
	if request.Source != "" {
		source, err = ledger.ParseSource(request.Source)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	idem, err := ledger.ParseOptionalIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	metadata, err := ledger.NewMetadataJSON(request.MetadataJSON)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.creditService.Spend(ctx, ledger.SpendRequest{
		UserID:         userID,
		Amount:         amount,
		Source:         source,
		Description:    request.Description,
		IdempotencyKey: idem,
		Metadata:       metadata,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	return &creditrpc.MutationResponse{
		EntryID:       result.EntryID.String(),
		BalanceBefore: result.BalanceBefore.Int64(),
		BalanceAfter:  result.BalanceAfter.Int64(),
		UsedGrace:     result.UsedGrace,
		Exempt:        result.Exempt,
		Duplicate:     result.Duplicate,
	}, nil
}

func (service *CreditServiceServer) ListEntries(ctx context.Context, request *creditrpc.ListEntriesRequest) (*creditrpc.ListEntriesResponse, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	limit, err := normalizeListLimit(request.Limit)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListQuery)
	}
	query, err := ledger.NewListQuery(request.Order, int(limit), int(request.Offset))
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	entries, operationError := service.creditService.ListEntries(ctx, userID, query)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := &creditrpc.ListEntriesResponse{Entries: make([]creditrpc.Entry, 0, len(entries))}
	for _, entryRecord := range entries {
		response.Entries = append(response.Entries, EntryMessage(entryRecord))
	}
	return response, nil
}

func (service *CreditServiceServer) Reconcile(ctx context.Context, request *creditrpc.ReconcileRequest) (*creditrpc.ReconcileResponse, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	report, operationError := service.creditService.Reconcile(ctx, userID)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := ReconcileMessage(report)
	return &response, nil
}

func (service *CreditServiceServer) Repair(ctx context.Context, request *creditrpc.RepairRequest) (*creditrpc.RepairResponse, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	result, operationError := service.creditService.Repair(ctx, ledger.RepairRequest{
		UserID:      userID,
		Description: request.Description,
		OperatorID:  request.OperatorID,
	})
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := &creditrpc.RepairResponse{
		Drift:   result.Before.Drift().Int64(),
		Applied: result.Applied,
	}
	if result.Applied {
		response.EntryID = result.EntryID.String()
		response.Type = result.Type.String()
		response.Amount = result.Amount.Int64()
	}
	return response, nil
}

func (service *CreditServiceServer) BulkScan(ctx context.Context, request *creditrpc.BulkScanRequest) (*creditrpc.BulkScanResponse, error) {
	limit := int(request.Limit)
	if limit == 0 {
		limit = defaultBulkScanLimit
	}
	drifted, operationError := service.creditService.BulkScan(ctx, limit)
	if operationError != nil {
		return nil, mapToGRPCError(operationError)
	}
	response := &creditrpc.BulkScanResponse{UserIDs: make([]string, 0, len(drifted))}
	for _, userID := range drifted {
		response.UserIDs = append(response.UserIDs, userID.String())
	}
	return response, nil
}

// EntryMessage converts a ledger entry to its wire form.
func EntryMessage(entryRecord ledger.Entry) creditrpc.Entry {
	return creditrpc.Entry{
		EntryID:        entryRecord.EntryID().String(),
		UserID:         entryRecord.UserID().String(),
		Sequence:       entryRecord.Sequence(),
		Type:           entryRecord.Type().String(),
		Amount:         entryRecord.Amount().Int64(),
		BalanceAfter:   entryRecord.BalanceAfter().Int64(),
		Source:         entryRecord.Source().String(),
		Description:    entryRecord.Description(),
		IdempotencyKey: entryRecord.IdempotencyKey().String(),
		MetadataJSON:   entryRecord.MetadataJSON().String(),
		CreatedUnixUTC: entryRecord.CreatedUnixUTC(),
	}
}

// ReconcileMessage converts a reconcile report to its wire form.
func ReconcileMessage(report ledger.ReconcileReport) creditrpc.ReconcileResponse {
	return creditrpc.ReconcileResponse{
		UserID:               report.UserID.String(),
		StoredBalance:        report.StoredBalance.Int64(),
		DerivedBalance:       report.DerivedBalance.Int64(),
		Drift:                report.Drift().Int64(),
		Consistent:           report.IsConsistent,
		EntryCount:           int64(len(report.Entries)),
		SequenceGaps:         report.SequenceGaps,
		CheckpointMismatches: report.CheckpointMismatches,
	}
}

func normalizeListLimit(limit int32) (int32, error) {
	if limit <= 0 {
		return defaultListEntriesLimit, nil
	}
	if limit > maxListEntriesLimit {
		return 0, fmt.Errorf("limit exceeds maximum: %d > %d", limit, maxListEntriesLimit)
	}
	return limit, nil
}

func mapToGRPCError(source error) error {
	if errors.Is(source, ledger.ErrInvalidUserID) {
		return status.Error(codes.InvalidArgument, errorInvalidUserID)
	}
	if errors.Is(source, ledger.ErrInvalidIdempotencyKey) {
		return status.Error(codes.InvalidArgument, errorInvalidIdempotencyKey)
	}
	if errors.Is(source, ledger.ErrInvalidAmount) {
		return status.Error(codes.InvalidArgument, errorInvalidAmount)
	}
	if errors.Is(source, ledger.ErrInvalidSource) {
		return status.Error(codes.InvalidArgument, errorInvalidSource)
	}
	if errors.Is(source, ledger.ErrInvalidDescription) {
		return status.Error(codes.InvalidArgument, errorInvalidDescription)
	}
	if errors.Is(source, ledger.ErrInvalidMetadataJSON) {
		return status.Error(codes.InvalidArgument, errorInvalidMetadata)
	}
	if errors.Is(source, ledger.ErrInvalidListQuery) {
		return status.Error(codes.InvalidArgument, errorInvalidListQuery)
	}
	if errors.Is(source, ledger.ErrInsufficientFunds) {
		return status.Error(codes.FailedPrecondition, errorInsufficientFunds)
	}
	if errors.Is(source, ledger.ErrUserNotFound) {
		return status.Error(codes.NotFound, errorUserNotFound)
	}
	if errors.Is(source, ledger.ErrDuplicateGrant) {
		return status.Error(codes.AlreadyExists, errorDuplicateGrant)
	}
	if errors.Is(source, ledger.ErrStoreUnavailable) {
		return status.Error(codes.Unavailable, errorStoreUnavailable)
	}
	if errors.Is(source, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, errorStoreUnavailable)
	}
	if errors.Is(source, context.Canceled) {
		return status.Error(codes.Canceled, errorStoreUnavailable)
	}
	return status.Error(codes.Internal, errorInternal)
}
