package ledger

import (
	"context"
	"fmt"
)

// SpendRequest debits a user. Source defaults to SourceAudit.
// IdempotencyKey is optional; when set, a retried spend returns the prior result.
type SpendRequest struct {
	UserID         UserID
	Amount         PositiveCredits
	Source         Source
	Description    string
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
}

// SpendResult reports the balances around the debit.
type SpendResult struct {
	EntryID       EntryID
	BalanceBefore Credits
	BalanceAfter  Credits
	UsedGrace     bool
	Exempt        bool
	Duplicate     bool
}

// CanSpend is an advisory check made before starting expensive work.
// Spend re-validates the same condition atomically.
func (service *Service) CanSpend(ctx context.Context, userID UserID, amount PositiveCredits) (bool, error) {
	if err := service.policy.checkAmount(amount); err != nil {
		return false, err
	}
	if userID.IsZero() {
		return false, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if service.isExempt(ctx, userID) {
		return true, nil
	}
	account, err := service.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return service.policy.Permits(account, amount), nil
}

// Spend appends a debit entry if the balance stays at or above the policy floor.
// Dipping below zero consumes the one-time grace allowance.
func (service *Service) Spend(ctx context.Context, request SpendRequest) (SpendResult, error) {
	if request.Source == "" {
		request.Source = SourceAudit
	}
	if source, err := ParseSource(request.Source.String()); err == nil {
		request.Source = source
	}
	result, operationError := service.spend(ctx, request)
	status := ""
	switch {
	case result.Duplicate:
		status = operationStatusDuplicate
	case result.Exempt:
		status = operationStatusExempt
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationSpend,
		UserID:         request.UserID,
		Type:           EntryDebit,
		Source:         request.Source,
		Amount:         request.Amount.Credits(),
		IdempotencyKey: request.IdempotencyKey,
		EntryID:        result.EntryID,
		BalanceBefore:  result.BalanceBefore,
		BalanceAfter:   result.BalanceAfter,
		UsedGrace:      result.UsedGrace,
		Metadata:       request.Metadata,
		Status:         status,
		Error:          operationError,
	})
	return result, operationError
}

func (service *Service) spend(ctx context.Context, request SpendRequest) (SpendResult, error) {
	if err := service.policy.checkAmount(request.Amount); err != nil {
		return SpendResult{}, err
	}
	if request.UserID.IsZero() {
		return SpendResult{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	source, err := ParseSource(request.Source.String())
	if err != nil {
		return SpendResult{}, err
	}
	request.Source = source
	if service.isExempt(ctx, request.UserID) {
		account, err := service.Balance(ctx, request.UserID)
		if err != nil {
			return SpendResult{}, err
		}
		return SpendResult{
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance,
			Exempt:        true,
		}, nil
	}
	appended, operationError := service.AppendAndProject(ctx, AppendRequest{
		UserID:         request.UserID,
		Type:           EntryDebit,
		Amount:         request.Amount,
		Source:         request.Source,
		Description:    request.Description,
		IdempotencyKey: request.IdempotencyKey,
		Metadata:       request.Metadata,
	})
	if operationError == nil {
		return SpendResult{
			EntryID:       appended.EntryID,
			BalanceBefore: appended.BalanceBefore,
			BalanceAfter:  appended.NewBalance,
			UsedGrace:     appended.UsedGrace,
		}, nil
	}
	prior, duplicate, err := service.resolveDuplicate(ctx, request.UserID, request.Source, request.IdempotencyKey, operationError)
	if err != nil {
		return SpendResult{}, err
	}
	if !duplicate {
		return SpendResult{}, operationError
	}
	return SpendResult{
		EntryID:       prior.EntryID(),
		BalanceBefore: prior.BalanceBefore(),
		BalanceAfter:  prior.BalanceAfter(),
		UsedGrace:     prior.BalanceAfter() < 0 && prior.BalanceBefore() >= 0,
		Duplicate:     true,
	}, nil
}

func (service *Service) isExempt(ctx context.Context, userID UserID) bool {
	return service.exemptions != nil && service.exemptions.IsExempt(ctx, userID)
}
