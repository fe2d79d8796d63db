package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errorCodeInsufficientFunds = "insufficient_funds"
	errorCodeUserNotFound      = "user_not_found"
	errorCodeInvalidRequest    = "invalid_request"
	errorCodeLedgerUnavailable = "ledger_unavailable"
	errorCodeInternal          = "internal_error"
)

type ledgerErrorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var ledgerErrorMappings = []ledgerErrorMapping{
	{target: ledger.ErrInvalidUserID, status: http.StatusBadRequest, code: "invalid_user_id"},
	{target: ledger.ErrInvalidAmount, status: http.StatusBadRequest, code: "invalid_amount"},
	{target: ledger.ErrInvalidSource, status: http.StatusBadRequest, code: "invalid_source"},
	{target: ledger.ErrInvalidIdempotencyKey, status: http.StatusBadRequest, code: "invalid_idempotency_key"},
	{target: ledger.ErrInvalidMetadataJSON, status: http.StatusBadRequest, code: "invalid_metadata"},
	{target: ledger.ErrInvalidDescription, status: http.StatusBadRequest, code: "invalid_description"},
	{target: ledger.ErrInvalidListQuery, status: http.StatusBadRequest, code: "invalid_list_query"},
	{target: ledger.ErrInsufficientFunds, status: http.StatusPaymentRequired, code: errorCodeInsufficientFunds, message: "not enough credits; purchase more to continue"},
	{target: ledger.ErrUserNotFound, status: http.StatusNotFound, code: errorCodeUserNotFound, message: "user has no ledger"},
	{target: ledger.ErrDuplicateGrant, status: http.StatusConflict, code: "duplicate_grant", message: "idempotency key already used"},
}

// respondLedgerError writes the JSON error for err. Unknown failures answer a generic retryable error.
func (handler *httpHandler) respondLedgerError(ctx *gin.Context, action string, err error) {
	for _, mapping := range ledgerErrorMappings {
		if errors.Is(err, mapping.target) {
			message := mapping.message
			if message == "" {
				message = err.Error()
			}
			ctx.JSON(mapping.status, errorResponse(mapping.code, message))
			return
		}
	}
	if errors.Is(err, ledger.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		handler.logger.Warn(action+" unavailable", zap.Error(err))
		ctx.JSON(http.StatusServiceUnavailable, errorResponse(errorCodeLedgerUnavailable, "ledger temporarily unavailable; retry later"))
		return
	}
	handler.logger.Error(action+" failed", zap.Error(err))
	ctx.JSON(http.StatusInternalServerError, errorResponse(errorCodeInternal, "request failed; retry later"))
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
