package ledger

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// ReconcileReport compares the stored projection with a replay of the ledger.
type ReconcileReport struct {
	UserID           UserID
	StoredBalance    Credits
	DerivedBalance   Credits
	LastBalanceAfter Credits
	Entries          []Entry
	// CheckpointMismatches lists sequences whose balance_after breaks the running total.
	CheckpointMismatches []int64
	// SequenceGaps lists sequences missing from the replay.
	SequenceGaps []int64
	IsConsistent bool
}

// Drift returns the stored balance minus the derived balance.
func (report ReconcileReport) Drift() Credits {
	return report.StoredBalance - report.DerivedBalance
}

// Err returns ErrReconciliationDrift with details when the report is inconsistent.
func (report ReconcileReport) Err() error {
	if report.IsConsistent {
		return nil
	}
	return WrapError(errorOperationService, errorSubjectBalance, errorCodeDrift,
		fmt.Errorf("%w: user %s stored %d derived %d checkpoints %v gaps %v", ErrReconciliationDrift,
			report.UserID.String(), report.StoredBalance, report.DerivedBalance, report.CheckpointMismatches, report.SequenceGaps))
}

// BuildReconcileReport replays entries (in any order) against the stored projection.
func BuildReconcileReport(account AccountBalance, entries []Entry) ReconcileReport {
	ordered := sortedBySequence(entries)
	report := ReconcileReport{
		UserID:        account.UserID,
		StoredBalance: account.Balance,
		Entries:       ordered,
	}
	var running Credits
	var expectedSequence int64 = 1
	for _, entry := range ordered {
		for expectedSequence < entry.Sequence() {
			report.SequenceGaps = append(report.SequenceGaps, expectedSequence)
			expectedSequence++
		}
		expectedSequence = entry.Sequence() + 1
		running += entry.SignedAmount()
		if entry.BalanceAfter() != running {
			report.CheckpointMismatches = append(report.CheckpointMismatches, entry.Sequence())
		}
		report.LastBalanceAfter = entry.BalanceAfter()
	}
	report.DerivedBalance = running
	report.IsConsistent = report.DerivedBalance == report.StoredBalance &&
		report.LastBalanceAfter == report.StoredBalance &&
		len(report.CheckpointMismatches) == 0 &&
		len(report.SequenceGaps) == 0
	return report
}

// Reconcile replays the ledger of one user and reports drift without correcting it.
// It fails with ErrUserNotFound for users without a balance row.
func (service *Service) Reconcile(ctx context.Context, userID UserID) (ReconcileReport, error) {
	if userID.IsZero() {
		return ReconcileReport{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	var report ReconcileReport
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		report, err = reconcileWithin(ctx, transactionStore, userID)
		return err
	})
	service.logReconcile(ctx, userID, report, operationError)
	if operationError != nil {
		return ReconcileReport{}, operationError
	}
	return report, nil
}

// RepairRequest asks for an explicit drift correction.
// OperatorID is recorded in the entry metadata when Metadata is empty.
type RepairRequest struct {
	UserID      UserID
	Description string
	OperatorID  string
	Metadata    MetadataJSON
}

// RepairResult reports what Repair wrote.
type RepairResult struct {
	Before  ReconcileReport
	Applied bool
	EntryID EntryID
	Type    EntryType
	Amount  PositiveCredits
}

// Repair appends one manual_fix entry for the difference between the stored balance and the
// replayed ledger, so the ledger sums to the stored balance again. The projection is not moved.
func (service *Service) Repair(ctx context.Context, request RepairRequest) (RepairResult, error) {
	if request.UserID.IsZero() {
		return RepairResult{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	description, err := NormalizeDescription(request.Description)
	if err != nil {
		return RepairResult{}, err
	}
	if description == "" {
		description = "reconciliation repair"
	}
	metadata := request.Metadata
	if operatorID := strings.TrimSpace(request.OperatorID); operatorID != "" && metadata.String() == "{}" {
		encoded, err := json.Marshal(map[string]string{"operator_id": operatorID})
		if err != nil {
			return RepairResult{}, fmt.Errorf("%w: %v", ErrInvalidMetadataJSON, err)
		}
		metadata = MetadataJSON{value: string(encoded)}
	}
	var result RepairResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		report, err := reconcileWithin(ctx, transactionStore, request.UserID)
		if err != nil {
			return err
		}
		result = RepairResult{Before: report}
		drift := report.Drift()
		if drift == 0 {
			return nil
		}
		entryType := EntryCredit
		magnitude := drift
		if drift < 0 {
			entryType = EntryDebit
			magnitude = -drift
		}
		entryID, err := service.newEntryID()
		if err != nil {
			return err
		}
		account, err := transactionStore.FindAccount(ctx, request.UserID)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		entry, err := NewEntry(EntryFields{
			EntryID:        entryID,
			UserID:         request.UserID,
			Sequence:       nextSequence(account, report),
			Type:           entryType,
			Amount:         PositiveCredits(magnitude),
			BalanceAfter:   account.Balance,
			Source:         SourceManualFix,
			Description:    description,
			Metadata:       metadata,
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		if err := transactionStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		account.LastSequence = entry.Sequence()
		account.UpdatedUnixUTC = nowUnixUTC
		if err := transactionStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		result.Applied = true
		result.EntryID = entryID
		result.Type = entryType
		result.Amount = entry.Amount()
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:     operationRepair,
		UserID:        request.UserID,
		Type:          result.Type,
		Source:        SourceManualFix,
		Amount:        result.Amount.Credits(),
		EntryID:       result.EntryID,
		BalanceBefore: result.Before.DerivedBalance,
		BalanceAfter:  result.Before.StoredBalance,
		Metadata:      metadata,
		Error:         operationError,
	})
	if operationError != nil {
		return RepairResult{}, operationError
	}
	return result, nil
}

// BulkScan enumerates users whose stored balance disagrees with their ledger.
func (service *Service) BulkScan(ctx context.Context, limit int) ([]UserID, error) {
	if limit <= 0 || limit > maxBulkScanLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidListQuery, maxBulkScanLimit)
	}
	drifted, err := service.store.ListDriftedAccounts(ctx, limit)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationBulkScan, Error: err})
		return nil, err
	}
	for _, userID := range drifted {
		service.logOperation(ctx, OperationLog{
			Operation: operationBulkScan,
			UserID:    userID,
			Status:    operationStatusDrift,
			Error:     ErrReconciliationDrift,
		})
	}
	return drifted, nil
}

func reconcileWithin(ctx context.Context, transactionStore Store, userID UserID) (ReconcileReport, error) {
	account, err := transactionStore.FindAccount(ctx, userID)
	if err != nil {
		return ReconcileReport{}, err
	}
	entries, err := transactionStore.ListEntries(ctx, userID, ListQuery{Order: OrderOldestFirst})
	if err != nil {
		return ReconcileReport{}, err
	}
	return BuildReconcileReport(account, entries), nil
}

func (service *Service) logReconcile(ctx context.Context, userID UserID, report ReconcileReport, operationError error) {
	entry := OperationLog{
		Operation:     operationReconcile,
		UserID:        userID,
		BalanceBefore: report.DerivedBalance,
		BalanceAfter:  report.StoredBalance,
		Error:         operationError,
	}
	if operationError == nil && !report.IsConsistent {
		entry.Status = operationStatusDrift
		entry.Error = report.Err()
	}
	service.logOperation(ctx, entry)
}

func nextSequence(account AccountBalance, report ReconcileReport) int64 {
	next := account.LastSequence + 1
	if count := len(report.Entries); count > 0 {
		if last := report.Entries[count-1].Sequence(); last >= next {
			next = last + 1
		}
	}
	return next
}

func sortedBySequence(entries []Entry) []Entry {
	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, func(left Entry, right Entry) int {
		return cmp.Compare(left.Sequence(), right.Sequence())
	})
	return ordered
}
