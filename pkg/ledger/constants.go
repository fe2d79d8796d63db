package ledger

const (
	operationGrant     = "grant"
	operationSpend     = "spend"
	operationReconcile = "reconcile"
	operationRepair    = "repair"
	operationBulkScan  = "bulk_scan"

	operationStatusOK        = "ok"
	operationStatusError     = "error"
	operationStatusDuplicate = "duplicate"
	operationStatusExempt    = "exempt"
	operationStatusDrift     = "drift"

	errorOperationService = "service"
	errorSubjectBalance   = "balance"
	errorSubjectPolicy    = "policy"
	errorCodeOverflow     = "overflow"
	errorCodeFloor        = "floor"
	errorCodeMaxSpend     = "max_spend"
	errorCodeDrift        = "drift"

	defaultListLimit    = 50
	maxListLimit        = 200
	maxBulkScanLimit    = 1000
	maxSourceLength     = 64
	maxIdentifierLength = 255
	maxDescriptionBytes = 1024

	defaultGraceUnit Credits         = 1
	defaultMaxSpend  PositiveCredits = 1000
)
