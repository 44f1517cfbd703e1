package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfund/fund-engine/internal/apperr"
	"github.com/greenfund/fund-engine/internal/model"
	"github.com/greenfund/fund-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	limits := NewTradeLimiter(decimal.NewFromInt(50000), decimal.NewFromInt(200000), 50)
	return NewEngine(st, limits), st
}

func seedUser(t *testing.T, st *store.MemoryStore, balance decimal.Decimal) *model.User {
	t.Helper()
	u := &model.User{
		ID:        uuid.New().String(),
		Username:  "u-" + uuid.New().String()[:8],
		Status:    model.UserActive,
		Balance:   balance,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateUser(context.Background(), u))
	return u
}

func seedFund(t *testing.T, st *store.MemoryStore, code string, nav, feeRate decimal.Decimal) *model.Fund {
	t.Helper()
	f := &model.Fund{
		ID:        uuid.New().String(),
		Code:      code,
		Name:      "Fund " + code,
		Type:      "green_energy",
		Status:    model.FundActive,
		FeeRate:   feeRate,
		LatestNav: nav,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.CreateFund(context.Background(), f))
	return f
}

func TestSubmitOrder_BuyByAmount(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.NewFromInt(1000))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)
	ctx := context.Background()

	res, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID,
		FundID: fund.ID,
		Type:   model.TradeBuy,
		Amount: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)

	assert.True(t, res.Transaction.Shares.Equal(decimal.NewFromInt(1000)))
	assert.True(t, res.NewBalance.IsZero(), "expected zero balance, got %s", res.NewBalance)
	require.NotNil(t, res.Holding)
	assert.True(t, res.Holding.AverageCost.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, model.TxCompleted, res.Transaction.Status)

	// Durable state matches the response.
	u, err := st.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.Balance.IsZero())
	h, err := st.GetHolding(ctx, user.ID, fund.ID)
	require.NoError(t, err)
	assert.True(t, h.Shares.Equal(decimal.NewFromInt(1000)))
}

func TestSubmitOrder_BuyWithFee(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.NewFromInt(100))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(2), d("0.01"))
	ctx := context.Background()

	res, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID,
		FundID: fund.ID,
		Type:   model.TradeBuy,
		Shares: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	// gross 20, fee 0.20, debit 20.20
	assert.True(t, res.Transaction.Fee.Equal(d("0.2")), "fee=%s", res.Transaction.Fee)
	assert.True(t, res.Transaction.NetAmount.Equal(d("20.2")))
	assert.True(t, res.NewBalance.Equal(d("79.8")), "balance=%s", res.NewBalance)
	assert.True(t, res.Transaction.UnitPrice.Equal(decimal.NewFromInt(2)))
}

func TestSubmitOrder_BuyInsufficientFunds(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.NewFromInt(5))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)
	ctx := context.Background()

	_, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID,
		FundID: fund.ID,
		Type:   model.TradeBuy,
		Shares: decimal.NewFromInt(100),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InsufficientFunds))

	// Rejection mutates nothing.
	u, _ := st.GetUser(ctx, user.ID)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(5)))
	_, err = st.GetHolding(ctx, user.ID, fund.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	txs, total, _ := st.ListTransactions(ctx, user.ID, 1, 10)
	assert.Zero(t, total)
	assert.Empty(t, txs)
}

func TestSubmitOrder_SellPartialKeepsAverageCost(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.NewFromInt(100))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)
	ctx := context.Background()

	_, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
		Shares: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	res, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeSell,
		Shares: decimal.NewFromInt(40),
	})
	require.NoError(t, err)

	require.NotNil(t, res.Holding)
	assert.True(t, res.Holding.Shares.Equal(decimal.NewFromInt(60)))
	assert.True(t, res.Holding.AverageCost.Equal(decimal.NewFromInt(1)),
		"selling must not move average cost")
	assert.True(t, res.NewBalance.Equal(decimal.NewFromInt(40)))
}

func TestSubmitOrder_SellToZeroDeletesHolding(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.NewFromInt(100))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)
	ctx := context.Background()

	_, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
		Shares: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	res, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeSell,
		Shares: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Holding)
	assert.True(t, res.NewBalance.Equal(decimal.NewFromInt(100)))

	_, err = st.GetHolding(ctx, user.ID, fund.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSubmitOrder_SellInsufficientShares(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.NewFromInt(100))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)
	ctx := context.Background()

	_, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeSell,
		Shares: decimal.NewFromInt(10),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InsufficientShares))

	_, err = e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
		Shares: decimal.NewFromInt(5),
	})
	require.NoError(t, err)

	_, err = e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeSell,
		Shares: decimal.NewFromInt(10),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InsufficientShares))
}

func TestSubmitOrder_AverageCostVolumeWeighted(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.NewFromInt(100))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)
	ctx := context.Background()

	_, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
		Shares: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	// NAV doubles before the second buy.
	require.NoError(t, st.InsertNavSnapshot(ctx, &model.NavSnapshot{
		ID: uuid.New().String(), FundID: fund.ID,
		AsOf: time.Now().UTC(), NetValue: decimal.NewFromInt(2),
		CreatedAt: time.Now().UTC(),
	}))

	res, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
		Shares: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	require.NotNil(t, res.Holding)
	assert.True(t, res.Holding.Shares.Equal(decimal.NewFromInt(20)))
	// (10×1 + 10×2) / 20 = 1.5
	assert.True(t, res.Holding.AverageCost.Equal(d("1.5")),
		"avg cost=%s", res.Holding.AverageCost)
}

func TestSubmitOrder_AverageCostUnrounded(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.NewFromInt(100))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)
	ctx := context.Background()

	_, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
		Shares: decimal.NewFromInt(3),
	})
	require.NoError(t, err)

	// A NAV that rounds away at cent precision must still enter the cost
	// basis exactly.
	require.NoError(t, st.InsertNavSnapshot(ctx, &model.NavSnapshot{
		ID: uuid.New().String(), FundID: fund.ID,
		AsOf: time.Now().UTC(), NetValue: d("1.0049"),
		CreatedAt: time.Now().UTC(),
	}))

	res, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
		Shares: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	// (3×1 + 1×1.0049) / 4 = 1.001225
	require.NotNil(t, res.Holding)
	want := d("1.001225")
	diff := res.Holding.AverageCost.Sub(want).Abs()
	assert.True(t, diff.LessThan(d("0.000000001")),
		"avg cost %s deviates from volume-weighted %s by %s",
		res.Holding.AverageCost, want, diff)
}

func TestSubmitOrder_Validation(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.NewFromInt(100))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)
	ctx := context.Background()

	bad := []OrderRequest{
		{FundID: fund.ID, Type: model.TradeBuy, Shares: decimal.NewFromInt(1)},
		{UserID: user.ID, Type: model.TradeBuy, Shares: decimal.NewFromInt(1)},
		{UserID: user.ID, FundID: fund.ID, Type: "short", Shares: decimal.NewFromInt(1)},
		{UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy},
		{UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
			Shares: decimal.NewFromInt(1), Amount: decimal.NewFromInt(1)},
		{UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
			Shares: decimal.NewFromInt(-1)},
	}
	for i, req := range bad {
		_, err := e.SubmitOrder(ctx, req)
		require.Error(t, err, "case %d", i)
		assert.True(t, apperr.IsKind(err, apperr.Invalid), "case %d: %v", i, err)
	}
}

func TestSubmitOrder_ClosedFund(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.NewFromInt(100))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)
	ctx := context.Background()

	require.NoError(t, st.SetFundStatus(ctx, fund.ID, model.FundClosed))

	_, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
		Shares: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Invalid),
		"inactive fund is an invalid order, not a conflict: %v", err)
}

func TestSubmitOrder_PerOrderLimit(t *testing.T) {
	st := store.NewMemoryStore()
	limits := NewTradeLimiter(decimal.NewFromInt(100), decimal.NewFromInt(1000), 10)
	e := NewEngine(st, limits)
	user := seedUser(t, st, decimal.NewFromInt(10000))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)

	_, err := e.SubmitOrder(context.Background(), OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
		Shares: decimal.NewFromInt(500),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.LimitExceeded))
	assert.True(t, errors.Is(err, ErrOrderAmountExceeded))
}

func TestSubmitOrder_DailyCountLimit(t *testing.T) {
	st := store.NewMemoryStore()
	limits := NewTradeLimiter(decimal.NewFromInt(1000), decimal.NewFromInt(10000), 2)
	e := NewEngine(st, limits)
	user := seedUser(t, st, decimal.NewFromInt(10000))
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.SubmitOrder(ctx, OrderRequest{
			UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
			Shares: decimal.NewFromInt(1),
		})
		require.NoError(t, err)
	}

	_, err := e.SubmitOrder(ctx, OrderRequest{
		UserID: user.ID, FundID: fund.ID, Type: model.TradeBuy,
		Shares: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDailyCountExceeded))

	// Rejected orders never consume quota: count stays at 2.
	stats, err := st.TradeStatsForDay(ctx, user.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
}

func TestSubmitOrder_ConcurrentSellsNoOverdraw(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.Zero)
	fund := seedFund(t, st, "GE-001", decimal.NewFromInt(1), decimal.Zero)
	ctx := context.Background()

	require.NoError(t, st.ApplyTrade(ctx, &store.TradeApplication{
		Transaction: model.Transaction{
			ID: uuid.New().String(), UserID: user.ID, FundID: fund.ID,
			Type: model.TradeBuy, Shares: decimal.NewFromInt(100),
			UnitPrice: decimal.NewFromInt(1), NetAmount: decimal.NewFromInt(100),
			Status: model.TxFailed, CreatedAt: time.Now().UTC().AddDate(0, 0, -1),
		},
		NewBalance: decimal.Zero,
		Holding: &model.Holding{
			UserID: user.ID, FundID: fund.ID,
			Shares: decimal.NewFromInt(100), AverageCost: decimal.NewFromInt(1),
			UpdatedAt: time.Now().UTC(),
		},
	}))

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := e.SubmitOrder(ctx, OrderRequest{
				UserID: user.ID, FundID: fund.ID, Type: model.TradeSell,
				Shares: decimal.NewFromInt(10),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !apperr.IsKind(err, apperr.InsufficientShares) {
				t.Errorf("unexpected error kind: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded, "exactly the held shares may be sold")

	u, err := st.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(100)),
		"proceeds must equal shares sold: %s", u.Balance)
	_, err = st.GetHolding(ctx, user.ID, fund.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestAdjustBalance(t *testing.T) {
	e, st := newTestEngine(t)
	user := seedUser(t, st, decimal.NewFromInt(100))
	ctx := context.Background()

	bal, err := e.AdjustBalance(ctx, user.ID, OpDeposit, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(150)))

	bal, err = e.AdjustBalance(ctx, user.ID, OpWithdraw, decimal.NewFromInt(150))
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	_, err = e.AdjustBalance(ctx, user.ID, OpWithdraw, decimal.NewFromInt(1))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.InsufficientFunds))

	_, err = e.AdjustBalance(ctx, user.ID, OpDeposit, decimal.NewFromInt(-5))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Invalid))

	_, err = e.AdjustBalance(ctx, user.ID, "transfer", decimal.NewFromInt(5))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Invalid))
}

func TestRegister(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	user, err := e.Register(ctx, "alice", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(StartingBalance))
	assert.Equal(t, model.UserActive, user.Status)

	_, err = e.Register(ctx, "alice", "other@example.com")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Conflict))

	_, err = e.Register(ctx, "", "x@example.com")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.Invalid))
}
