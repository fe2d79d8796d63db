package ledger

import (
	"context"
	"fmt"
)

// GrantRequest credits a user. IdempotencyKey is required for payment callbacks.
type GrantRequest struct {
	UserID         UserID
	Amount         PositiveCredits
	Source         Source
	Description    string
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
}

// GrantResult reports the balances around the credit.
type GrantResult struct {
	EntryID       EntryID
	BalanceBefore Credits
	BalanceAfter  Credits
	// Duplicate is true when the idempotency key was already consumed and nothing was written.
	Duplicate bool
}

// Grant appends a credit entry. Retrying with the same idempotency key returns the
// previously recorded result without crediting twice.
func (service *Service) Grant(ctx context.Context, request GrantRequest) (GrantResult, error) {
	if source, err := ParseSource(request.Source.String()); err == nil {
		request.Source = source
	}
	result, operationError := service.grant(ctx, request)
	status := ""
	if result.Duplicate {
		status = operationStatusDuplicate
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationGrant,
		UserID:         request.UserID,
		Type:           EntryCredit,
		Source:         request.Source,
		Amount:         request.Amount.Credits(),
		IdempotencyKey: request.IdempotencyKey,
		EntryID:        result.EntryID,
		BalanceBefore:  result.BalanceBefore,
		BalanceAfter:   result.BalanceAfter,
		Metadata:       request.Metadata,
		Status:         status,
		Error:          operationError,
	})
	return result, operationError
}

func (service *Service) grant(ctx context.Context, request GrantRequest) (GrantResult, error) {
	if request.Amount <= 0 {
		return GrantResult{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	source, err := ParseSource(request.Source.String())
	if err != nil {
		return GrantResult{}, err
	}
	if source == SourceAudit {
		return GrantResult{}, fmt.Errorf("%w: %s is a debit source", ErrInvalidSource, SourceAudit)
	}
	request.Source = source
	appended, operationError := service.AppendAndProject(ctx, AppendRequest{
		UserID:         request.UserID,
		Type:           EntryCredit,
		Amount:         request.Amount,
		Source:         request.Source,
		Description:    request.Description,
		IdempotencyKey: request.IdempotencyKey,
		Metadata:       request.Metadata,
	})
	if operationError == nil {
		return GrantResult{
			EntryID:       appended.EntryID,
			BalanceBefore: appended.BalanceBefore,
			BalanceAfter:  appended.NewBalance,
		}, nil
	}
	prior, duplicate, err := service.resolveDuplicate(ctx, request.UserID, request.Source, request.IdempotencyKey, operationError)
	if err != nil {
		return GrantResult{}, err
	}
	if !duplicate {
		return GrantResult{}, operationError
	}
	return GrantResult{
		EntryID:       prior.EntryID(),
		BalanceBefore: prior.BalanceBefore(),
		BalanceAfter:  prior.BalanceAfter(),
		Duplicate:     true,
	}, nil
}
