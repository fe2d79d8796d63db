// Package observability turns ledger operation logs into structured logs, metrics and stream events.
package observability

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapOperationLogger writes one structured line per ledger operation.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wraps logger; a nil logger discards everything.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger.Named("ledger")}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("user_id", entry.UserID.String()),
	}
	if entry.Type != "" {
		fields = append(fields, zap.String("type", entry.Type.String()))
	}
	if entry.Source != "" {
		fields = append(fields, zap.String("source", entry.Source.String()))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount.Int64()))
	}
	if !entry.IdempotencyKey.IsZero() {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey.String()))
	}
	if entry.EntryID.String() != "" {
		fields = append(fields, zap.String("entry_id", entry.EntryID.String()))
	}
	fields = append(fields,
		zap.Int64("balance_before", entry.BalanceBefore.Int64()),
		zap.Int64("balance_after", entry.BalanceAfter.Int64()),
	)
	if entry.UsedGrace {
		fields = append(fields, zap.Bool("used_grace", true))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	operationLogger.logger.Log(levelFor(entry), "ledger operation", fields...)
}

func levelFor(entry ledger.OperationLog) zapcore.Level {
	switch {
	case entry.Status == ledger.StatusDrift:
		return zapcore.WarnLevel
	case entry.Error == nil:
		return zapcore.InfoLevel
	case errors.Is(entry.Error, ledger.ErrStoreUnavailable):
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}
