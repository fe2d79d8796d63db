package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/gin-gonic/gin"
)

func (handler *httpHandler) sessionUser(ctx *gin.Context) (ledger.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return ledger.UserID{}, false
	}
	userID, err := ledger.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user"))
		return ledger.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	handler.respondWithWallet(ctx, userID)
}

// handleBootstrap grants the welcome bonus once per user; later calls just return the wallet.
func (handler *httpHandler) handleBootstrap(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	if handler.cfg.WelcomeCredits > 0 {
		idem, err := ledger.NewIdempotencyKey("welcome:" + userID.String())
		if err != nil {
			handler.respondLedgerError(ctx, "bootstrap", err)
			return
		}
		metadata, err := marshalMetadata(nil, map[string]any{"action": "bootstrap"})
		if err != nil {
			handler.respondLedgerError(ctx, "bootstrap", err)
			return
		}
		requestCtx, cancel := handler.requestContext(ctx)
		defer cancel()
		_, err = handler.ledger.Grant(requestCtx, ledger.GrantRequest{
			UserID:         userID,
			Amount:         ledger.PositiveCredits(handler.cfg.WelcomeCredits),
			Source:         ledger.SourceWelcome,
			Description:    "welcome bonus",
			IdempotencyKey: idem,
			Metadata:       metadata,
		})
		if err != nil {
			handler.respondLedgerError(ctx, "bootstrap grant", err)
			return
		}
	}
	handler.respondWithWallet(ctx, userID)
}

func (handler *httpHandler) handleCanSpend(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	rawAmount, err := strconv.ParseInt(ctx.Query("amount"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", "amount must be a positive integer"))
		return
	}
	amount, err := ledger.NewPositiveCredits(rawAmount)
	if err != nil {
		handler.respondLedgerError(ctx, "can spend", err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	allowed, err := handler.ledger.CanSpend(requestCtx, userID, amount)
	if err != nil {
		handler.respondLedgerError(ctx, "can spend", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"allowed": allowed, "amount": amount.Int64()})
}

// handleSpend debits the session user for one audit run.
func (handler *httpHandler) handleSpend(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var request spendRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidRequest, "expected JSON body"))
		return
	}
	amount, err := ledger.NewPositiveCredits(request.Amount)
	if err != nil {
		handler.respondLedgerError(ctx, "spend", err)
		return
	}
	idem, err := ledger.ParseOptionalIdempotencyKey(request.IdempotencyKey)
	if err != nil {
		handler.respondLedgerError(ctx, "spend", err)
		return
	}
	metadata, err := marshalMetadata(request.Metadata, map[string]any{"action": "audit"})
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_metadata", "metadata must be a JSON object"))
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.ledger.Spend(requestCtx, ledger.SpendRequest{
		UserID:         userID,
		Amount:         amount,
		Source:         ledger.SourceAudit,
		Description:    request.Description,
		IdempotencyKey: idem,
		Metadata:       metadata,
	})
	if err != nil {
		handler.respondLedgerError(ctx, "spend", err)
		return
	}
	wallet, err := handler.fetchWallet(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondLedgerError(ctx, "wallet", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status": "success",
		"spend": mutationPayload{
			EntryID:       result.EntryID.String(),
			BalanceBefore: result.BalanceBefore.Int64(),
			BalanceAfter:  result.BalanceAfter.Int64(),
			UsedGrace:     result.UsedGrace,
			Exempt:        result.Exempt,
			Duplicate:     result.Duplicate,
		},
		"wallet": wallet,
	})
}

func (handler *httpHandler) respondWithWallet(ctx *gin.Context, userID ledger.UserID) {
	wallet, err := handler.fetchWallet(ctx.Request.Context(), userID)
	if err != nil {
		handler.respondLedgerError(ctx, "wallet", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

func (handler *httpHandler) fetchWallet(ctx context.Context, userID ledger.UserID) (*walletResponse, error) {
	requestCtx, cancel := context.WithTimeout(ctx, handler.cfg.RequestTimeout)
	defer cancel()
	account, err := handler.ledger.Balance(requestCtx, userID)
	if err != nil {
		return nil, err
	}
	query, err := ledger.NewListQuery(string(ledger.OrderNewestFirst), handler.cfg.WalletHistoryLimit, 0)
	if err != nil {
		return nil, err
	}
	entries, err := handler.ledger.ListEntries(requestCtx, userID, query)
	if err != nil {
		return nil, err
	}
	return &walletResponse{
		Balance: balancePayload{
			Credits:   account.Balance.Int64(),
			GraceUsed: account.GraceLimitUsed,
		},
		Entries: newEntryPayloads(entries),
	}, nil
}
