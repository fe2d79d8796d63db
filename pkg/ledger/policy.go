package ledger

import (
	"context"
	"fmt"
	"strings"
)

// SpendPolicy bounds debits.
type SpendPolicy struct {
	// GraceUnit is how far below zero a single debit may take an account
	// that has not used its grace allowance yet. Zero disables the allowance.
	GraceUnit Credits
	// MaxSpend caps the amount of a single debit.
	MaxSpend PositiveCredits
}

// DefaultSpendPolicy returns a one-credit grace allowance and a 1000 credit spend cap.
func DefaultSpendPolicy() SpendPolicy {
	return SpendPolicy{GraceUnit: defaultGraceUnit, MaxSpend: defaultMaxSpend}
}

func (policy SpendPolicy) validate() error {
	if policy.GraceUnit < 0 {
		return fmt.Errorf("%w: grace unit must not be negative", ErrInvalidServiceConfig)
	}
	if policy.MaxSpend <= 0 {
		return fmt.Errorf("%w: max spend must be greater than zero", ErrInvalidServiceConfig)
	}
	return nil
}

// Floor returns the lowest balance a debit may leave behind.
func (policy SpendPolicy) Floor(graceLimitUsed bool) Credits {
	if graceLimitUsed {
		return 0
	}
	return -policy.GraceUnit
}

// Permits reports whether debiting amount keeps the account at or above its floor.
func (policy SpendPolicy) Permits(account AccountBalance, amount PositiveCredits) bool {
	return account.Balance-amount.Credits() >= policy.Floor(account.GraceLimitUsed)
}

func (policy SpendPolicy) checkAmount(amount PositiveCredits) error {
	if amount <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if amount > policy.MaxSpend {
		return WrapError(errorOperationService, errorSubjectPolicy, errorCodeMaxSpend,
			fmt.Errorf("%w: %d exceeds maximum %d", ErrInvalidAmount, amount, policy.MaxSpend))
	}
	return nil
}

// WithSpendPolicy overrides DefaultSpendPolicy.
func WithSpendPolicy(policy SpendPolicy) ServiceOption {
	return func(service *Service) {
		service.policy = policy
	}
}

// ExemptionPolicy flags test and demo accounts that spend without consuming credits.
type ExemptionPolicy interface {
	IsExempt(ctx context.Context, userID UserID) bool
}

// WithExemptionPolicy wires the exemption lookup.
func WithExemptionPolicy(exemptions ExemptionPolicy) ServiceOption {
	return func(service *Service) {
		service.exemptions = exemptions
	}
}

// StaticExemptions exempts a fixed set of user ids.
type StaticExemptions map[string]struct{}

// NewStaticExemptions builds the set, ignoring blank ids.
func NewStaticExemptions(userIDs ...string) StaticExemptions {
	exemptions := make(StaticExemptions, len(userIDs))
	for _, userID := range userIDs {
		trimmed := strings.TrimSpace(userID)
		if trimmed != "" {
			exemptions[trimmed] = struct{}{}
		}
	}
	return exemptions
}

// IsExempt reports membership.
func (exemptions StaticExemptions) IsExempt(_ context.Context, userID UserID) bool {
	_, ok := exemptions[userID.String()]
	return ok
}

// WithEntryIDGenerator replaces the UUIDv7 generator, mainly for tests.
func WithEntryIDGenerator(generator func() (EntryID, error)) ServiceOption {
	return func(service *Service) {
		service.newEntryID = generator
	}
}
