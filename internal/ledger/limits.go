// Package ledger implements the transaction engine: order validation,
// balance and holding mutation, and the immutable transaction log.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/store"
)

var (
	// ErrOrderAmountExceeded is returned when a single order's gross amount
	// exceeds the per-order maximum.
	ErrOrderAmountExceeded = errors.New("ledger: per-order amount limit exceeded")

	// ErrDailyAmountExceeded is returned when an order would push the
	// user's completed amount for the UTC day beyond the daily maximum.
	ErrDailyAmountExceeded = errors.New("ledger: daily amount limit exceeded")

	// ErrDailyCountExceeded is returned when the user already hit the
	// daily completed-order count.
	ErrDailyCountExceeded = errors.New("ledger: daily order count limit exceeded")
)

// TradeLimiter enforces per-order and per-day trade limits. Daily limits
// count completed transactions only: rejected orders never consume quota.
type TradeLimiter struct {
	// MaxOrderAmount is the maximum gross amount of a single order.
	MaxOrderAmount decimal.Decimal

	// MaxDailyAmount is the maximum aggregate gross amount of a user's
	// completed transactions in one UTC day.
	MaxDailyAmount decimal.Decimal

	// MaxDailyCount is the maximum number of completed transactions per
	// user per UTC day.
	MaxDailyCount int
}

// NewTradeLimiter creates a limiter with the given per-order and daily
// limits.
func NewTradeLimiter(maxOrder, maxDaily decimal.Decimal, maxCount int) *TradeLimiter {
	return &TradeLimiter{
		MaxOrderAmount: maxOrder,
		MaxDailyAmount: maxDaily,
		MaxDailyCount:  maxCount,
	}
}

// Check validates an order's gross amount against the per-order limit and
// the user's completed activity for the day. Returns nil if the order is
// within limits, or an error naming the violated limit.
func (l *TradeLimiter) Check(gross decimal.Decimal, today store.DailyTradeStats) error {
	if gross.GreaterThan(l.MaxOrderAmount) {
		return ErrOrderAmountExceeded
	}
	if today.Amount.Add(gross).GreaterThan(l.MaxDailyAmount) {
		return ErrDailyAmountExceeded
	}
	if today.Count+1 > l.MaxDailyCount {
		return ErrDailyCountExceeded
	}
	return nil
}
