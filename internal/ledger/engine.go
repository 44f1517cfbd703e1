package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/apperr"
	"github.com/greenfund/fund-engine/internal/keymutex"
	"github.com/greenfund/fund-engine/internal/metrics"
	"github.com/greenfund/fund-engine/internal/model"
	"github.com/greenfund/fund-engine/internal/store"
)

var (
	// StartingBalance is the virtual cash granted to every new user.
	StartingBalance = decimal.NewFromInt(10000)

	// ShareScale is the rounding for share quantities.
	ShareScale int32 = 4

	// AmountScale is the rounding for monetary amounts.
	AmountScale int32 = 2
)

// Engine executes orders against user balances and holdings. Orders for the
// same user are serialized: the balance is a per-user invariant, so one lock
// per user covers concurrent orders across all funds.
type Engine struct {
	store  store.Store
	limits *TradeLimiter
	locks  *keymutex.KeyedMutex
}

// NewEngine creates a ledger engine.
func NewEngine(st store.Store, limits *TradeLimiter) *Engine {
	return &Engine{
		store:  st,
		limits: limits,
		locks:  keymutex.New(),
	}
}

// OrderRequest describes one buy or sell order. Exactly one of Shares and
// Amount must be positive; amount orders convert to shares at the fund's
// current NAV.
type OrderRequest struct {
	UserID string          `json:"user_id"`
	FundID string          `json:"fund_id"`
	Type   string          `json:"type"`   // "buy" or "sell"
	Shares decimal.Decimal `json:"shares"` // canonical denomination
	Amount decimal.Decimal `json:"amount"` // gross amount alternative
}

// OrderResult is the outcome of an executed order.
type OrderResult struct {
	Transaction model.Transaction `json:"transaction"`
	NewBalance  decimal.Decimal   `json:"new_balance"`
	Holding     *model.Holding    `json:"holding,omitempty"` // nil when fully sold
}

// SubmitOrder validates and executes one order. Preconditions are checked
// in a fixed order — user, fund, limits, solvency/sufficiency — and a
// rejection at any step mutates nothing. All effects of an accepted order
// (balance, holding, transaction row) commit atomically through the store.
func (e *Engine) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := validateOrder(req); err != nil {
		metrics.TradeRejections.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, err
	}

	e.locks.Lock(req.UserID)
	defer e.locks.Unlock(req.UserID)

	start := time.Now()
	res, err := e.execute(ctx, req)
	if err != nil {
		metrics.TradeRejections.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, err
	}
	metrics.TradesTotal.WithLabelValues(req.Type).Inc()
	metrics.TradeLatency.WithLabelValues(req.Type).Observe(time.Since(start).Seconds())
	return res, nil
}

func (e *Engine) execute(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	user, err := e.store.GetUser(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "user %s not found", req.UserID)
		}
		return nil, apperr.Wrap(err, apperr.Internal, "read user")
	}
	if user.Status != model.UserActive {
		return nil, apperr.New(apperr.Invalid, "user %s is not active", req.UserID)
	}

	fund, err := e.store.GetFund(ctx, req.FundID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "fund %s not found", req.FundID)
		}
		return nil, apperr.Wrap(err, apperr.Internal, "read fund")
	}
	if fund.Status != model.FundActive {
		return nil, apperr.New(apperr.Invalid, "fund %s is not open for trading", fund.Code)
	}

	nav := fund.LatestNav
	if !nav.IsPositive() {
		return nil, apperr.New(apperr.Internal, "fund %s has no valid NAV", fund.Code)
	}

	// Shares are canonical; amount orders convert here, at the boundary.
	shares := req.Shares
	if shares.IsZero() {
		shares = req.Amount.Div(nav).Round(ShareScale)
		if !shares.IsPositive() {
			return nil, apperr.New(apperr.Invalid, "amount too small at current NAV")
		}
	}

	gross := shares.Mul(nav).Round(AmountScale)
	fee := gross.Mul(fund.FeeRate).Round(AmountScale)

	today, err := e.store.TradeStatsForDay(ctx, req.UserID, time.Now().UTC())
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "read daily stats")
	}
	if err := e.limits.Check(gross, today); err != nil {
		return nil, apperr.Wrap(err, apperr.LimitExceeded, "trade limit")
	}

	var (
		newBalance decimal.Decimal
		netAmount  decimal.Decimal
		holding    *model.Holding
		deleteHold bool
	)
	now := time.Now().UTC()

	switch req.Type {
	case model.TradeBuy:
		netAmount = gross.Add(fee)
		if user.Balance.LessThan(netAmount) {
			return nil, apperr.New(apperr.InsufficientFunds,
				"balance %s is less than required %s", user.Balance, netAmount)
		}
		newBalance = user.Balance.Sub(netAmount)

		existing, err := e.store.GetHolding(ctx, req.UserID, req.FundID)
		switch {
		case err == nil:
			newShares := existing.Shares.Add(shares)
			// Volume-weighted average cost, excluding fees. The new lot
			// enters at exact shares × NAV: cent-rounding applies to the
			// balance debit only, never to the cost basis.
			totalCost := existing.Shares.Mul(existing.AverageCost).Add(shares.Mul(nav))
			holding = &model.Holding{
				UserID:      req.UserID,
				FundID:      req.FundID,
				Shares:      newShares,
				AverageCost: totalCost.Div(newShares),
				UpdatedAt:   now,
			}
		case errors.Is(err, store.ErrNotFound):
			holding = &model.Holding{
				UserID:      req.UserID,
				FundID:      req.FundID,
				Shares:      shares,
				AverageCost: nav,
				UpdatedAt:   now,
			}
		default:
			return nil, apperr.Wrap(err, apperr.Internal, "read holding")
		}

	case model.TradeSell:
		existing, err := e.store.GetHolding(ctx, req.UserID, req.FundID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperr.New(apperr.InsufficientShares,
					"no holding in fund %s", fund.Code)
			}
			return nil, apperr.Wrap(err, apperr.Internal, "read holding")
		}
		if existing.Shares.LessThan(shares) {
			return nil, apperr.New(apperr.InsufficientShares,
				"holding %s shares, order wants %s", existing.Shares, shares)
		}

		netAmount = gross.Sub(fee)
		newBalance = user.Balance.Add(netAmount)

		remaining := existing.Shares.Sub(shares)
		if remaining.IsZero() {
			deleteHold = true
		} else {
			// Average cost is unchanged by a sell.
			holding = &model.Holding{
				UserID:      req.UserID,
				FundID:      req.FundID,
				Shares:      remaining,
				AverageCost: existing.AverageCost,
				UpdatedAt:   now,
			}
		}
	}

	tx := model.Transaction{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		FundID:    req.FundID,
		Type:      req.Type,
		Shares:    shares,
		UnitPrice: nav,
		Fee:       fee,
		NetAmount: netAmount,
		Status:    model.TxCompleted,
		CreatedAt: now,
	}
	app := &store.TradeApplication{
		Transaction:   tx,
		NewBalance:    newBalance,
		Holding:       holding,
		DeleteHolding: deleteHold,
	}
	if err := e.store.ApplyTrade(ctx, app); err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "apply trade")
	}

	slog.Info("order executed",
		"tx", tx.ID,
		"user", req.UserID,
		"fund", fund.Code,
		"type", req.Type,
		"shares", shares.String(),
		"unit_price", nav.String(),
		"fee", fee.String(),
		"net_amount", netAmount.String(),
		"new_balance", newBalance.String(),
	)

	return &OrderResult{Transaction: tx, NewBalance: newBalance, Holding: holding}, nil
}

func validateOrder(req OrderRequest) error {
	if req.UserID == "" {
		return apperr.New(apperr.Invalid, "user_id is required")
	}
	if req.FundID == "" {
		return apperr.New(apperr.Invalid, "fund_id is required")
	}
	if req.Type != model.TradeBuy && req.Type != model.TradeSell {
		return apperr.New(apperr.Invalid, "type must be buy or sell")
	}
	if req.Shares.IsNegative() || req.Amount.IsNegative() {
		return apperr.New(apperr.Invalid, "shares and amount must not be negative")
	}
	if req.Shares.IsPositive() == req.Amount.IsPositive() {
		return apperr.New(apperr.Invalid, "exactly one of shares and amount must be positive")
	}
	return nil
}

// Balance operations accepted by AdjustBalance.
const (
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
)

// AdjustBalance applies a deposit or withdrawal to a user's cash balance.
// Withdrawals are solvency-checked; the balance invariant (>= 0) holds
// unconditionally.
func (e *Engine) AdjustBalance(ctx context.Context, userID, op string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apperr.New(apperr.Invalid, "amount must be positive")
	}
	if op != OpDeposit && op != OpWithdraw {
		return decimal.Zero, apperr.New(apperr.Invalid, "operation must be deposit or withdraw")
	}

	e.locks.Lock(userID)
	defer e.locks.Unlock(userID)

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, apperr.New(apperr.NotFound, "user %s not found", userID)
		}
		return decimal.Zero, apperr.Wrap(err, apperr.Internal, "read user")
	}

	var newBalance decimal.Decimal
	if op == OpDeposit {
		newBalance = user.Balance.Add(amount)
	} else {
		if user.Balance.LessThan(amount) {
			return decimal.Zero, apperr.New(apperr.InsufficientFunds,
				"balance %s is less than withdrawal %s", user.Balance, amount)
		}
		newBalance = user.Balance.Sub(amount)
	}

	if err := e.store.UpdateUserBalance(ctx, userID, newBalance); err != nil {
		return decimal.Zero, apperr.Wrap(err, apperr.Internal, "update balance")
	}

	slog.Info("balance adjusted",
		"user", userID, "op", op,
		"amount", amount.String(), "new_balance", newBalance.String())
	return newBalance, nil
}

// Register creates a user with the starting balance grant.
func (e *Engine) Register(ctx context.Context, username, email string) (*model.User, error) {
	if username == "" {
		return nil, apperr.New(apperr.Invalid, "username is required")
	}

	user := &model.User{
		ID:        uuid.New().String(),
		Username:  username,
		Email:     email,
		Status:    model.UserActive,
		Balance:   StartingBalance,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.New(apperr.Conflict, "username %s already exists", username)
		}
		return nil, apperr.Wrap(err, apperr.Internal, "create user")
	}
	return user, nil
}
