package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the domain logic over a Store.
type Service struct {
	store      Store
	nowFn      func() int64
	logger     OperationLogger
	policy     SpendPolicy
	exemptions ExemptionPolicy
	newEntryID func() (EntryID, error)
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:      store,
		nowFn:      now,
		policy:     DefaultSpendPolicy(),
		newEntryID: NewTimeOrderedEntryID,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if err := service.policy.validate(); err != nil {
		return nil, err
	}
	if service.newEntryID == nil {
		return nil, fmt.Errorf("%w: entry id generator is nil", ErrInvalidServiceConfig)
	}
	return service, nil
}

// Policy returns the active spend policy.
func (service *Service) Policy() SpendPolicy {
	return service.policy
}

// AppendRequest describes one balance change applied by AppendAndProject.
type AppendRequest struct {
	UserID         UserID
	Type           EntryType
	Amount         PositiveCredits
	Source         Source
	Description    string
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
}

func (request AppendRequest) validate() error {
	if request.UserID.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if _, err := ParseEntryType(request.Type.String()); err != nil {
		return err
	}
	if request.Amount <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if _, err := ParseSource(request.Source.String()); err != nil {
		return err
	}
	if _, err := NormalizeDescription(request.Description); err != nil {
		return err
	}
	return nil
}

// AppendResult reports the applied entry and the balances around it.
type AppendResult struct {
	EntryID       EntryID
	Sequence      int64
	BalanceBefore Credits
	NewBalance    Credits
	UsedGrace     bool
}

// AppendAndProject appends one ledger entry and moves the balance projection in a single
// transaction. A consumed idempotency key fails with a DuplicateError carrying the prior entry;
// a debit below the policy floor fails with ErrInsufficientFunds. Nothing is written on failure.
func (service *Service) AppendAndProject(ctx context.Context, request AppendRequest) (AppendResult, error) {
	if err := request.validate(); err != nil {
		return AppendResult{}, err
	}
	description, _ := NormalizeDescription(request.Description)
	request.Source, _ = ParseSource(request.Source.String())
	var result AppendResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		nowUnixUTC := service.nowFn()
		account, err := transactionStore.GetOrCreateAccount(ctx, request.UserID, nowUnixUTC)
		if err != nil {
			return err
		}
		if !request.IdempotencyKey.IsZero() {
			prior, err := transactionStore.FindEntryByIdempotencyKey(ctx, request.UserID, request.Source, request.IdempotencyKey)
			if err == nil {
				return DuplicateError{Entry: prior}
			}
			if !errors.Is(err, ErrEntryNotFound) {
				return err
			}
		}
		newBalance, err := service.project(account, request.Type, request.Amount)
		if err != nil {
			return err
		}
		entryID, err := service.newEntryID()
		if err != nil {
			return err
		}
		entry, err := NewEntry(EntryFields{
			EntryID:        entryID,
			UserID:         request.UserID,
			Sequence:       account.LastSequence + 1,
			Type:           request.Type,
			Amount:         request.Amount,
			BalanceAfter:   newBalance,
			Source:         request.Source,
			Description:    description,
			IdempotencyKey: request.IdempotencyKey,
			Metadata:       request.Metadata,
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		if err := transactionStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		usedGrace := newBalance < 0 && !account.GraceLimitUsed
		result = AppendResult{
			EntryID:       entryID,
			Sequence:      entry.Sequence(),
			BalanceBefore: account.Balance,
			NewBalance:    newBalance,
			UsedGrace:     usedGrace,
		}
		account.Balance = newBalance
		account.LastSequence = entry.Sequence()
		account.UpdatedUnixUTC = nowUnixUTC
		if usedGrace {
			account.GraceLimitUsed = true
		}
		return transactionStore.SaveAccount(ctx, account)
	})
	if operationError != nil {
		return AppendResult{}, operationError
	}
	return result, nil
}

func (service *Service) project(account AccountBalance, entryType EntryType, amount PositiveCredits) (Credits, error) {
	switch entryType {
	case EntryCredit:
		newBalance := account.Balance + amount.Credits()
		if newBalance < account.Balance {
			return 0, WrapError(errorOperationService, errorSubjectBalance, errorCodeOverflow, ErrInvalidAmount)
		}
		return newBalance, nil
	case EntryDebit:
		if !service.policy.Permits(account, amount) {
			return 0, WrapError(errorOperationService, errorSubjectBalance, errorCodeFloor,
				fmt.Errorf("%w: balance %d, amount %d, floor %d", ErrInsufficientFunds, account.Balance, amount, service.policy.Floor(account.GraceLimitUsed)))
		}
		return account.Balance - amount.Credits(), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidEntryType, entryType)
	}
}

// Balance returns the projection for a user, creating a zero balance on first access.
func (service *Service) Balance(ctx context.Context, userID UserID) (AccountBalance, error) {
	if userID.IsZero() {
		return AccountBalance{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return service.store.GetOrCreateAccount(ctx, userID, service.nowFn())
}

// resolveDuplicate turns a lost idempotency race or a recorded duplicate into the prior entry.
func (service *Service) resolveDuplicate(ctx context.Context, userID UserID, source Source, key IdempotencyKey, operationError error) (Entry, bool, error) {
	var duplicate DuplicateError
	if errors.As(operationError, &duplicate) {
		return duplicate.Entry, true, nil
	}
	if key.IsZero() || !errors.Is(operationError, ErrDuplicateGrant) {
		return Entry{}, false, operationError
	}
	prior, err := service.store.FindEntryByIdempotencyKey(ctx, userID, source, key)
	if err != nil {
		return Entry{}, false, err
	}
	return prior, true, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
