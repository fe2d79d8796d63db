package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/gin-gonic/gin"
)

const defaultDriftLimit = 100

func (handler *httpHandler) pathUser(ctx *gin.Context) (ledger.UserID, bool) {
	userID, err := ledger.NewUserID(ctx.Param("id"))
	if err != nil {
		handler.respondLedgerError(ctx, "admin", err)
		return ledger.UserID{}, false
	}
	return userID, true
}

// handleAdminGrant records manual, trial or promotional credits.
func (handler *httpHandler) handleAdminGrant(ctx *gin.Context) {
	userID, ok := handler.pathUser(ctx)
	if !ok {
		return
	}
	var request adminGrantRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, "expected JSON body"))
		return
	}
	amount, err := ledger.NewPositiveCredits(request.Amount)
	if err != nil {
		handler.respondLedgerError(ctx, "admin grant", err)
		return
	}
	rawSource := request.Source
	if rawSource == "" {
		rawSource = ledger.SourceManual.String()
	}
	source, err := ledger.ParseSource(rawSource)
	if err != nil {
		handler.respondLedgerError(ctx, "admin grant", err)
		return
	}
	idem, err := ledger.ParseOptionalIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondLedgerError(ctx, "admin grant", err)
		return
	}
	metadata, err := marshalMetadata(request.Metadata, map[string]any{"action": "admin_grant"})
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "metadata must be a JSON object"))
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.ledger.Grant(requestCtx, ledger.GrantRequest{
		UserID:         userID,
		Amount:         amount,
		Source:         source,
		Description:    request.Description,
		IdempotencyKey: idem,
		Metadata:       metadata,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "admin grant", err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	ctx.JSON(status, mutationPayload{
		EntryID:       result.EntryID.String(),
		BalanceBefore: result.BalanceBefore.Int64(),
		BalanceAfter:  result.BalanceAfter.Int64(),
		Duplicate:     result.Duplicate,
	})
}

func (handler *httpHandler) handleAdminEntries(ctx *gin.Context) {
	userID, ok := handler.pathUser(ctx)
	if !ok {
		return
	}
	limit, err := optionalIntQuery(ctx, "limit")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_list_query", "limit must be an integer"))
		return
	}
	offset, err := optionalIntQuery(ctx, "offset")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_list_query", "offset must be an integer"))
		return
	}
	query, err := ledger.NewListQuery(ctx.Query("order"), limit, offset)
	if err != nil {
		handler.respondLedgerError(ctx, "admin entries", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.ledger.ListEntries(requestCtx, userID, query)
	if err != nil {
		handler.respondLedgerError(ctx, "admin entries", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": newEntryPayloads(entries)})
}

// handleAdminReconcile reports drift without fixing it.
func (handler *httpHandler) handleAdminReconcile(ctx *gin.Context) {
	userID, ok := handler.pathUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	report, err := handler.ledger.Reconcile(requestCtx, userID)
	if err != nil {
		handler.respondLedgerError(ctx, "reconcile", err)
		return
	}
	ctx.JSON(http.StatusOK, newReconcilePayload(report))
}

func (handler *httpHandler) handleAdminRepair(ctx *gin.Context) {
	userID, ok := handler.pathUser(ctx)
	if !ok {
		return
	}
	var request repairRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.ledger.Repair(requestCtx, ledger.RepairRequest{
		UserID:      userID,
		Description: request.Description,
		OperatorID:  request.OperatorID,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "repair", err)
		return
	}
	response := gin.H{
		"applied": result.Applied,
		"before":  newReconcilePayload(result.Before),
	}
	if result.Applied {
		response["entry_id"] = result.EntryID.String()
		response["type"] = result.Type.String()
		response["amount"] = result.Amount.Int64()
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) handleAdminDrift(ctx *gin.Context) {
	limit, err := optionalIntQuery(ctx, "limit")
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_list_query", "limit must be an integer"))
		return
	}
	if limit == 0 {
		limit = defaultDriftLimit
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	drifted, err := handler.ledger.BulkScan(requestCtx, limit)
	if err != nil {
		handler.respondLedgerError(ctx, "bulk scan", err)
		return
	}
	if handler.scanObserver != nil {
		handler.scanObserver.ObserveBulkScan(len(drifted), time.Now().UTC().Unix())
	}
	userIDs := make([]string, 0, len(drifted))
	for _, userID := range drifted {
		userIDs = append(userIDs, userID.String())
	}
	ctx.JSON(http.StatusOK, gin.H{"user_ids": userIDs})
}

func optionalIntQuery(ctx *gin.Context, name string) (int, error) {
	raw := ctx.Query(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
