package httpapi

import (
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handlePayment credits a completed payment. A consumed idempotency key answers 200 with duplicate=true.
func (handler *httpHandler) handlePayment(ctx *gin.Context) {
	var request paymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, "expected JSON body"))
		return
	}
	if strings.TrimSpace(request.IdempotencyKey) == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_idempotency_key", "payment webhooks require an idempotency key"))
		return
	}
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		handler.respondLedgerError(ctx, "payment", err)
		return
	}
	amount, err := ledger.NewPositiveCredits(request.CreditsAmount)
	if err != nil {
		handler.respondLedgerError(ctx, "payment", err)
		return
	}
	idem, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondLedgerError(ctx, "payment", err)
		return
	}
	metadata, err := marshalMetadata(request.Metadata, map[string]any{"action": "purchase"})
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "metadata must be a JSON object"))
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.ledger.Grant(requestCtx, ledger.GrantRequest{
		UserID:         userID,
		Amount:         amount,
		Source:         ledger.SourcePurchase,
		Description:    request.Description,
		IdempotencyKey: idem,
		Metadata:       metadata,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "payment grant", err)
		return
	}
	if result.Duplicate {
		handler.logger.Info("payment webhook replayed", zap.String("user_id", userID.String()), zap.String("idempotency_key", idem.String()))
	}
	ctx.JSON(http.StatusOK, mutationPayload{
		EntryID:       result.EntryID.String(),
		BalanceBefore: result.BalanceBefore.Int64(),
		BalanceAfter:  result.BalanceAfter.Int64(),
		Duplicate:     result.Duplicate,
	})
}
