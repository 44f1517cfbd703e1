package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfund/fund-engine/internal/model"
	"github.com/greenfund/fund-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seed(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.CreateFund(ctx, &model.Fund{
		ID: "f1", Code: "GE-001", Name: "Green Energy Alpha",
		Status: model.FundActive, LatestNav: d("1.2"),
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.CreateUser(ctx, &model.User{
		ID: "u1", Username: "alice", Status: model.UserActive,
		Balance: decimal.Zero, CreatedAt: time.Now().UTC(),
	}))
	return NewService(st), st
}

func holdShares(t *testing.T, st *store.MemoryStore, userID, fundID string, shares, avgCost decimal.Decimal) {
	t.Helper()
	require.NoError(t, st.ApplyTrade(context.Background(), &store.TradeApplication{
		Transaction: model.Transaction{
			ID: "t-" + fundID, UserID: userID, FundID: fundID,
			Type: model.TradeBuy, Status: model.TxCompleted,
			CreatedAt: time.Now().UTC(),
		},
		NewBalance: decimal.Zero,
		Holding: &model.Holding{
			UserID: userID, FundID: fundID,
			Shares: shares, AverageCost: avgCost,
			UpdatedAt: time.Now().UTC(),
		},
	}))
}

func TestValueHoldings_MarkToMarket(t *testing.T) {
	svc, st := seed(t)
	holdShares(t, st, "u1", "f1", decimal.NewFromInt(100), decimal.NewFromInt(1))

	out, total, err := svc.ValueHoldings(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, out, 1)

	v := out[0]
	assert.Equal(t, "GE-001", v.FundCode)
	assert.True(t, v.MarketValue.Equal(d("120")), "market value=%s", v.MarketValue)
	assert.True(t, v.ProfitLoss.Equal(d("20")), "pnl=%s", v.ProfitLoss)
	assert.True(t, v.ProfitLossRate.Equal(d("20")), "rate=%s", v.ProfitLossRate)
	assert.True(t, total.Equal(d("120")))
}

func TestValueHoldings_Loss(t *testing.T) {
	svc, st := seed(t)
	holdShares(t, st, "u1", "f1", decimal.NewFromInt(50), d("1.5"))

	out, _, err := svc.ValueHoldings(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, out, 1)

	// (1.2 - 1.5) × 50 = -15; rate (1.2-1.5)/1.5 = -20%
	assert.True(t, out[0].ProfitLoss.Equal(d("-15")))
	assert.True(t, out[0].ProfitLossRate.Equal(d("-20")))
}

func TestValueHoldings_ZeroAverageCost(t *testing.T) {
	svc, st := seed(t)
	holdShares(t, st, "u1", "f1", decimal.NewFromInt(10), decimal.Zero)

	out, _, err := svc.ValueHoldings(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].ProfitLossRate.IsZero(), "rate must be 0 when nothing was paid in")
}

func TestValueHoldings_UnknownUserIsEmpty(t *testing.T) {
	svc, _ := seed(t)

	out, total, err := svc.ValueHoldings(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.True(t, total.IsZero())
}
