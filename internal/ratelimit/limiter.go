package ratelimit

import (
	"errors"
	"fmt"
	"math/bits"
	"time"
)

var (
	// ErrExceedsMaxTxLimit indicates a single transaction above its per-tx cap.
	ErrExceedsMaxTxLimit = errors.New("ratelimit: exceeds max per-transaction limit")
	// ErrExceedsDailyLimit indicates the rolling 24h withdrawal budget is exhausted.
	ErrExceedsDailyLimit = errors.New("ratelimit: exceeds daily withdrawal limit")
	// ErrArithmeticOverflow indicates window accounting would wrap; the
	// operation fails closed instead.
	ErrArithmeticOverflow = errors.New("ratelimit: arithmetic overflow")
)

// WindowDuration is the span of the rolling withdrawal window.
const WindowDuration = 24 * time.Hour

// Limits bound individual transactions and the rolling withdrawal window.
// All amounts are expressed in the smallest token unit.
type Limits struct {
	MaxDepositPerTx    uint64
	MaxWithdrawalPerTx uint64
	DailyLimit         uint64
}

// Limiter tracks per-transaction and rolling-24h withdrawal totals for a
// single vault. It applies at vault level, not per user: pooled custody means
// pooled outflow risk. The limiter carries no lock of its own; the owning
// vault serializes access.
type Limiter struct {
	limits      Limits
	windowStart time.Time
	windowTotal uint64
}

// New constructs a Limiter with an empty withdrawal window.
func New(limits Limits) *Limiter {
	return &Limiter{limits: limits}
}

// CheckDeposit validates a deposit amount against the per-tx cap. Deposits
// are not subject to the rolling window; inflow is not the risk.
func (l *Limiter) CheckDeposit(amount uint64) error {
	if amount > l.limits.MaxDepositPerTx {
		return fmt.Errorf("deposit %d over cap %d: %w", amount, l.limits.MaxDepositPerTx, ErrExceedsMaxTxLimit)
	}
	return nil
}

// CheckWithdrawal validates a withdrawal against the per-tx cap and the
// rolling window without recording it. The window resets lazily: if now has
// moved past windowStart+24h the accumulated total is discarded first. The
// split from RecordWithdrawal lets the vault verify limits, move funds on the
// ledger, and only then commit the accounting.
func (l *Limiter) CheckWithdrawal(amount uint64, now time.Time) error {
	if amount > l.limits.MaxWithdrawalPerTx {
		return fmt.Errorf("withdrawal %d over cap %d: %w", amount, l.limits.MaxWithdrawalPerTx, ErrExceedsMaxTxLimit)
	}

	if l.windowStart.IsZero() || !now.Before(l.windowStart.Add(WindowDuration)) {
		l.windowStart = now
		l.windowTotal = 0
	}

	total, carry := bits.Add64(l.windowTotal, amount, 0)
	if carry != 0 {
		return fmt.Errorf("window total %d + %d: %w", l.windowTotal, amount, ErrArithmeticOverflow)
	}
	if total > l.limits.DailyLimit {
		return fmt.Errorf("window total would reach %d over limit %d: %w", total, l.limits.DailyLimit, ErrExceedsDailyLimit)
	}
	return nil
}

// RecordWithdrawal validates and records a withdrawal in one step.
// No state changes on failure.
func (l *Limiter) RecordWithdrawal(amount uint64, now time.Time) error {
	if err := l.CheckWithdrawal(amount, now); err != nil {
		return err
	}
	l.windowTotal += amount
	return nil
}

// Window reports the current window start and accumulated total, resetting
// first when the window has elapsed so callers never observe a stale total.
func (l *Limiter) Window(now time.Time) (time.Time, uint64) {
	if l.windowStart.IsZero() || !now.Before(l.windowStart.Add(WindowDuration)) {
		return now, 0
	}
	return l.windowStart, l.windowTotal
}

// Limits returns the configured bounds.
func (l *Limiter) Limits() Limits {
	return l.limits
}

// SetLimits replaces the configured bounds. Window accounting already accrued
// is kept; the new daily limit applies from the next withdrawal.
func (l *Limiter) SetLimits(limits Limits) {
	l.limits = limits
}
