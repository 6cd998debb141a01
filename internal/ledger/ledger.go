// Package ledger applies balance deltas to a user's trading account.
//
// Every function here mutates a *model.Account in memory and leaves it
// satisfying AvailableFunds = max(0, CashBalance - UsedMargin) and
// Equity = CashBalance + UnrealizedPnL. Persisting the result is the
// caller's job, inside the same transaction that read the account.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradeflow/margin-engine/internal/model"
)

var (
	// ErrInvalidAccountState is returned when an operation would leave the
	// account inconsistent (negative available funds or used margin).
	ErrInvalidAccountState = errors.New("ledger: operation would leave account in an invalid state")

	// ErrInsufficientFunds is returned when a withdrawal exceeds available funds.
	ErrInsufficientFunds = errors.New("ledger: insufficient available funds")

	// ErrInvalidAmount is returned for negative deltas, or non-positive
	// deposits and withdrawals.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
)

// New creates a fresh account funded with initialDeposit.
func New(userID string, initialDeposit decimal.Decimal, paper bool, now time.Time) (*model.Account, error) {
	if initialDeposit.IsNegative() {
		return nil, fmt.Errorf("%w: initial deposit %s", ErrInvalidAmount, initialDeposit)
	}
	a := &model.Account{
		UserID:        userID,
		CashBalance:   initialDeposit,
		UsedMargin:    decimal.Zero,
		RealizedPnL:   decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		PaperTrading:  paper,
		CreatedAt:     now,
	}
	touch(a, now)
	return a, nil
}

// DebitForOpen locks margin for a new position and charges fee from cash.
// It fails without touching the account when available funds cannot
// cover margin + fee.
func DebitForOpen(a *model.Account, margin, fee decimal.Decimal, now time.Time) error {
	if margin.IsNegative() || fee.IsNegative() {
		return fmt.Errorf("%w: margin %s fee %s", ErrInvalidAmount, margin, fee)
	}
	if err := Validate(a); err != nil {
		return err
	}
	if a.AvailableFunds.LessThan(margin.Add(fee)) {
		return fmt.Errorf("%w: available %s < required %s",
			ErrInvalidAccountState, a.AvailableFunds, margin.Add(fee))
	}

	a.UsedMargin = a.UsedMargin.Add(margin)
	if fee.IsPositive() {
		a.CashBalance = a.CashBalance.Sub(fee)
		a.RealizedPnL = a.RealizedPnL.Sub(fee)
	}
	touch(a, now)
	return nil
}

// CreditForClose releases margin and books realised pnl. It only ever
// increases available funds by the released margin plus any profit, so
// it is never rejected. The margin actually released (clamped to the
// used margin) is returned.
func CreditForClose(a *model.Account, released, pnl decimal.Decimal, now time.Time) decimal.Decimal {
	if released.IsNegative() {
		released = decimal.Zero
	}
	if released.GreaterThan(a.UsedMargin) {
		released = a.UsedMargin
	}
	a.UsedMargin = a.UsedMargin.Sub(released)

	a.CashBalance = a.CashBalance.Add(pnl)
	a.RealizedPnL = a.RealizedPnL.Add(pnl)
	a.UnrealizedPnL = clampZero(a.UnrealizedPnL.Sub(pnl))

	touch(a, now)
	return released
}

// Deposit adds cash to the account.
func Deposit(a *model.Account, amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: deposit %s", ErrInvalidAmount, amount)
	}
	a.CashBalance = a.CashBalance.Add(amount)
	touch(a, now)
	return nil
}

// Withdraw removes cash that is not locked as margin.
func Withdraw(a *model.Account, amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: withdrawal %s", ErrInvalidAmount, amount)
	}
	if amount.GreaterThan(a.AvailableFunds) {
		return fmt.Errorf("%w: available %s < %s", ErrInsufficientFunds, a.AvailableFunds, amount)
	}
	a.CashBalance = a.CashBalance.Sub(amount)
	touch(a, now)
	return nil
}

// MarkToMarket replaces the unrealised pnl total after a portfolio revaluation.
func MarkToMarket(a *model.Account, unrealized decimal.Decimal, now time.Time) {
	a.UnrealizedPnL = unrealized
	touch(a, now)
}

// Validate checks the structural invariants of a.
func Validate(a *model.Account) error {
	if a == nil {
		return fmt.Errorf("%w: nil account", ErrInvalidAccountState)
	}
	if a.UsedMargin.IsNegative() {
		return fmt.Errorf("%w: used margin %s", ErrInvalidAccountState, a.UsedMargin)
	}
	if a.AvailableFunds.IsNegative() {
		return fmt.Errorf("%w: available funds %s", ErrInvalidAccountState, a.AvailableFunds)
	}
	return nil
}

// touch recomputes the derived fields.
func touch(a *model.Account, now time.Time) {
	a.AvailableFunds = clampZero(a.CashBalance.Sub(a.UsedMargin))
	a.Equity = a.CashBalance.Add(a.UnrealizedPnL)
	a.LastUpdated = now
}

func clampZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
