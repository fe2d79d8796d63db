package observability

import (
	"context"
	"time"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultStream is the Redis stream that receives ledger events.
	DefaultStream       = "stream:ledger"
	defaultStreamMaxLen = 100000
	defaultPublishWait  = 500 * time.Millisecond
)

// StreamAdder is the subset of redis.UniversalClient used by the publisher.
type StreamAdder interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// StreamPublisher appends committed ledger writes and drift findings to a Redis stream.
// A failed XADD is logged and never fails the ledger operation.
type StreamPublisher struct {
	client  StreamAdder
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  *zap.Logger
}

// NewStreamPublisher builds a publisher. An empty stream name selects DefaultStream.
func NewStreamPublisher(client StreamAdder, stream string, logger *zap.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamPublisher{
		client:  client,
		stream:  stream,
		maxLen:  defaultStreamMaxLen,
		timeout: defaultPublishWait,
		logger:  logger,
	}
}

// LogOperation implements ledger.OperationLogger.
func (publisher *StreamPublisher) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	if !publishable(entry) {
		return
	}
	publishContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), publisher.timeout)
	defer cancel()
	err := publisher.client.XAdd(publishContext, &redis.XAddArgs{
		Stream: publisher.stream,
		MaxLen: publisher.maxLen,
		Approx: true,
		Values: streamValues(entry),
	}).Err()
	if err != nil {
		publisher.logger.Warn("ledger stream publish failed",
			zap.String("stream", publisher.stream),
			zap.String("operation", entry.Operation),
			zap.String("user_id", entry.UserID.String()),
			zap.Error(err),
		)
	}
}

func publishable(entry ledger.OperationLog) bool {
	if entry.Status == ledger.StatusDrift {
		return true
	}
	return entry.Status == ledger.StatusOK && entry.EntryID.String() != ""
}

func streamValues(entry ledger.OperationLog) map[string]interface{} {
	values := map[string]interface{}{
		"operation":      entry.Operation,
		"status":         entry.Status,
		"user_id":        entry.UserID.String(),
		"balance_before": entry.BalanceBefore.Int64(),
		"balance_after":  entry.BalanceAfter.Int64(),
	}
	if entry.EntryID.String() != "" {
		values["entry_id"] = entry.EntryID.String()
		values["type"] = entry.Type.String()
		values["source"] = entry.Source.String()
		values["amount"] = entry.Amount.Int64()
		values["used_grace"] = entry.UsedGrace
		values["metadata"] = entry.Metadata.String()
	}
	if !entry.IdempotencyKey.IsZero() {
		values["idempotency_key"] = entry.IdempotencyKey.String()
	}
	return values
}
