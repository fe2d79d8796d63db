// Package driftreport collects bulk reconciliation findings and archives them as JSON.
package driftreport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/creditledger/pkg/ledger"
)

// Reconciler is the part of ledger.Service a scan needs.
type Reconciler interface {
	BulkScan(ctx context.Context, limit int) ([]ledger.UserID, error)
	Reconcile(ctx context.Context, userID ledger.UserID) (ledger.ReconcileReport, error)
}

// AccountFinding is one drifted account.
type AccountFinding struct {
	UserID               string  `json:"user_id"`
	StoredBalance        int64   `json:"stored_balance"`
	DerivedBalance       int64   `json:"derived_balance"`
	Drift                int64   `json:"drift"`
	EntryCount           int     `json:"entry_count"`
	SequenceGaps         []int64 `json:"sequence_gaps,omitempty"`
	CheckpointMismatches []int64 `json:"checkpoint_mismatches,omitempty"`
	Error                string  `json:"error,omitempty"`
}

// Report is the archived result of one scan.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Limit       int              `json:"limit"`
	Accounts    []AccountFinding `json:"accounts"`
}

// Build scans for drifted accounts and reconciles each one.
// A failed per-account reconcile is recorded in the finding instead of aborting the scan.
func Build(ctx context.Context, reconciler Reconciler, limit int, generatedAt time.Time) (Report, error) {
	drifted, err := reconciler.BulkScan(ctx, limit)
	if err != nil {
		return Report{}, fmt.Errorf("bulk scan: %w", err)
	}
	report := Report{
		GeneratedAt: generatedAt.UTC(),
		Limit:       limit,
		Accounts:    make([]AccountFinding, 0, len(drifted)),
	}
	for _, userID := range drifted {
		finding := AccountFinding{UserID: userID.String()}
		reconcileReport, reconcileErr := reconciler.Reconcile(ctx, userID)
		if reconcileErr != nil {
			finding.Error = reconcileErr.Error()
			report.Accounts = append(report.Accounts, finding)
			continue
		}
		finding.StoredBalance = reconcileReport.StoredBalance.Int64()
		finding.DerivedBalance = reconcileReport.DerivedBalance.Int64()
		finding.Drift = reconcileReport.Drift().Int64()
		finding.EntryCount = len(reconcileReport.Entries)
		finding.SequenceGaps = reconcileReport.SequenceGaps
		finding.CheckpointMismatches = reconcileReport.CheckpointMismatches
		report.Accounts = append(report.Accounts, finding)
	}
	return report, nil
}

// MarshalIndented renders the report for archiving and terminal output.
func (report Report) MarshalIndented() ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

// ObjectKey names the archived object under prefix.
func (report Report) ObjectKey(prefix string) string {
	name := fmt.Sprintf("drift-%s.json", report.GeneratedAt.UTC().Format("20060102T150405Z"))
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
