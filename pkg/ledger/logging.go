package ledger

import "context"

// Operation names reported in OperationLog.Operation.
const (
	OperationGrant     = operationGrant
	OperationSpend     = operationSpend
	OperationReconcile = operationReconcile
	OperationRepair    = operationRepair
	OperationBulkScan  = operationBulkScan
)

// Statuses reported in OperationLog.Status.
const (
	StatusOK        = operationStatusOK
	StatusError     = operationStatusError
	StatusDuplicate = operationStatusDuplicate
	StatusExempt    = operationStatusExempt
	StatusDrift     = operationStatusDrift
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a ledger operation and its outcome.
type OperationLog struct {
	Operation      string
	UserID         UserID
	Type           EntryType
	Source         Source
	Amount         Credits
	IdempotencyKey IdempotencyKey
	EntryID        EntryID
	BalanceBefore  Credits
	BalanceAfter   Credits
	UsedGrace      bool
	Metadata       MetadataJSON
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// OperationLoggers fans a log entry out to several loggers in order.
type OperationLoggers []OperationLogger

// LogOperation forwards the entry to every non-nil logger.
func (loggers OperationLoggers) LogOperation(ctx context.Context, entry OperationLog) {
	for _, logger := range loggers {
		if logger != nil {
			logger.LogOperation(ctx, entry)
		}
	}
}
