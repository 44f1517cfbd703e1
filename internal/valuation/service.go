// Package valuation is the read-only mark-to-market view over holdings:
// current value and unrealized profit/loss at the latest NAV. It owns no
// state and never mutates.
package valuation

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/apperr"
	"github.com/greenfund/fund-engine/internal/httpx"
	"github.com/greenfund/fund-engine/internal/model"
	"github.com/greenfund/fund-engine/internal/store"
)

// PercentScale is the rounding for profit/loss rates.
const PercentScale int32 = 2

// Service values holdings at the latest NAV.
type Service struct {
	store store.Store
}

// NewService creates a valuation service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// ValueHoldings returns a user's holdings marked to the latest NAV. A user
// with no holdings (or an unknown user) values to an empty list.
func (s *Service) ValueHoldings(ctx context.Context, userID string) ([]model.ValuedHolding, decimal.Decimal, error) {
	holdings, err := s.store.ListHoldings(ctx, userID)
	if err != nil {
		return nil, decimal.Zero, apperr.Wrap(err, apperr.Internal, "list holdings")
	}

	out := make([]model.ValuedHolding, 0, len(holdings))
	totalValue := decimal.Zero
	for _, h := range holdings {
		fund, err := s.store.GetFund(ctx, h.FundID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, decimal.Zero, apperr.Wrap(err, apperr.Internal, "read fund")
		}

		v := value(h, fund)
		totalValue = totalValue.Add(v.MarketValue)
		out = append(out, v)
	}
	return out, totalValue, nil
}

// value marks one holding to the fund's latest NAV.
func value(h model.Holding, fund *model.Fund) model.ValuedHolding {
	nav := fund.LatestNav
	marketValue := h.Shares.Mul(nav)
	profitLoss := nav.Sub(h.AverageCost).Mul(h.Shares)

	// Rate is 0 when average cost is 0 (nothing was paid in).
	rate := decimal.Zero
	if !h.AverageCost.IsZero() {
		rate = nav.Sub(h.AverageCost).
			Div(h.AverageCost).
			Mul(decimal.NewFromInt(100)).
			Round(PercentScale)
	}

	return model.ValuedHolding{
		FundID:         h.FundID,
		FundCode:       fund.Code,
		FundName:       fund.Name,
		Shares:         h.Shares,
		AverageCost:    h.AverageCost,
		LatestNav:      nav,
		MarketValue:    marketValue,
		ProfitLoss:     profitLoss,
		ProfitLossRate: rate,
	}
}

// HandleListHoldings handles GET /api/v1/users/{userID}/holdings.
func (s *Service) HandleListHoldings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	holdings, totalValue, err := s.ValueHoldings(r.Context(), userID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"holdings":    holdings,
		"total_value": totalValue,
		"count":       len(holdings),
	})
}
