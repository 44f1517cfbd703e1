package nav

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/apperr"
	"github.com/greenfund/fund-engine/internal/fundcode"
	"github.com/greenfund/fund-engine/internal/httpx"
	"github.com/greenfund/fund-engine/internal/model"
	"github.com/greenfund/fund-engine/internal/store"
)

// dateLayout is the wire format for history/simulation date ranges.
const dateLayout = "2006-01-02"

// CreateFundRequest is the JSON body for POST /api/v1/funds.
type CreateFundRequest struct {
	Code      string          `json:"code"` // {PREFIX}-{NNN}, e.g. GE-001
	Name      string          `json:"name"`
	RiskLevel string          `json:"risk_level"`
	FeeRate   decimal.Decimal `json:"fee_rate"`
	Keywords  []string        `json:"keywords"`
}

// HandleCreateFund handles POST /api/v1/funds. The fund type is derived
// from the code prefix; the fund starts at NAV 1.0 with an initial snapshot.
func (e *Engine) HandleCreateFund(w http.ResponseWriter, r *http.Request) {
	var req CreateFundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}

	code, err := fundcode.Parse(req.Code)
	if err != nil {
		httpx.WriteError(w, apperr.Wrap(err, apperr.Invalid, "fund code"))
		return
	}
	if req.Name == "" {
		httpx.WriteError(w, apperr.New(apperr.Invalid, "fund name is required"))
		return
	}
	if req.FeeRate.IsNegative() || req.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		httpx.WriteError(w, apperr.New(apperr.Invalid, "fee rate must be in [0, 1)"))
		return
	}

	riskLevel := req.RiskLevel
	if riskLevel == "" {
		riskLevel = "medium"
	}

	now := time.Now().UTC()
	fund := &model.Fund{
		ID:        uuid.New().String(),
		Code:      code.Raw,
		Name:      req.Name,
		Type:      code.Type,
		RiskLevel: riskLevel,
		Status:    model.FundActive,
		FeeRate:   req.FeeRate,
		Keywords:  req.Keywords,
		LatestNav: InitialNetValue,
		CreatedAt: now,
	}
	if err := e.store.CreateFund(r.Context(), fund); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			httpx.WriteError(w, apperr.New(apperr.Conflict, "fund code %s already exists", code.Raw))
			return
		}
		httpx.WriteError(w, apperr.Wrap(err, apperr.Internal, "create fund"))
		return
	}

	snap := &model.NavSnapshot{
		ID:                  uuid.New().String(),
		FundID:              fund.ID,
		AsOf:                now,
		NetValue:            InitialNetValue,
		AccumulatedNetValue: InitialNetValue,
		DailyGrowthRate:     decimal.Zero,
		CreatedAt:           now,
	}
	if err := e.store.InsertNavSnapshot(r.Context(), snap); err != nil {
		httpx.WriteError(w, apperr.Wrap(err, apperr.Internal, "persist initial snapshot"))
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, fund)
}

// HandleListFunds handles GET /api/v1/funds.
func (e *Engine) HandleListFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := e.store.ListFunds(r.Context())
	if err != nil {
		httpx.WriteError(w, apperr.Wrap(err, apperr.Internal, "list funds"))
		return
	}
	if funds == nil {
		funds = []model.Fund{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"funds": funds, "count": len(funds)})
}

// HandleGetFund handles GET /api/v1/funds/{fundID}.
func (e *Engine) HandleGetFund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fundID")
	fund, err := e.store.GetFund(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, apperr.New(apperr.NotFound, "fund %s not found", id))
			return
		}
		httpx.WriteError(w, apperr.Wrap(err, apperr.Internal, "read fund"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, fund)
}

// HandleCloseFund handles DELETE /api/v1/funds/{fundID}. Deletion is soft:
// the fund's status moves to closed and its history stays intact.
func (e *Engine) HandleCloseFund(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "fundID")
	if err := e.store.SetFundStatus(r.Context(), id, model.FundClosed); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, apperr.New(apperr.NotFound, "fund %s not found", id))
			return
		}
		httpx.WriteError(w, apperr.Wrap(err, apperr.Internal, "close fund"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": model.FundClosed})
}

// computeBody is the JSON body for POST /api/v1/funds/{fundID}/nav.
type computeBody struct {
	AsOf        *time.Time       `json:"as_of"`
	IncludeNews *bool            `json:"include_news"` // default true
	News        []model.NewsItem `json:"news"`
	Adjustment  decimal.Decimal  `json:"adjustment"`
}

// HandleCompute handles POST /api/v1/funds/{fundID}/nav.
func (e *Engine) HandleCompute(w http.ResponseWriter, r *http.Request) {
	var body computeBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, apperr.New(apperr.Invalid, "invalid request body"))
			return
		}
	}

	adj := body.Adjustment
	if adj.LessThanOrEqual(decimal.NewFromInt(-1)) {
		httpx.WriteError(w, apperr.New(apperr.Invalid, "adjustment must be greater than -1"))
		return
	}

	req := ComputeRequest{
		FundID:      chi.URLParam(r, "fundID"),
		IncludeNews: body.IncludeNews == nil || *body.IncludeNews,
		News:        body.News,
		Adjustment:  adj,
	}
	if body.AsOf != nil {
		req.AsOf = body.AsOf.UTC()
	}

	res, err := e.Compute(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// batchBody is the JSON body for POST /api/v1/nav/batch.
type batchBody struct {
	FundIDs []string `json:"fund_ids"`
}

// HandleBatch handles POST /api/v1/nav/batch. An empty fund_ids list means
// all active funds.
func (e *Engine) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpx.WriteError(w, apperr.New(apperr.Invalid, "invalid request body"))
			return
		}
	}

	ids := body.FundIDs
	if len(ids) == 0 {
		funds, err := e.store.ListFunds(r.Context())
		if err != nil {
			httpx.WriteError(w, apperr.Wrap(err, apperr.Internal, "list funds"))
			return
		}
		for _, f := range funds {
			if f.Status == model.FundActive {
				ids = append(ids, f.ID)
			}
		}
	}

	httpx.WriteJSON(w, http.StatusOK, e.ComputeBatch(r.Context(), ids))
}

// HandleHistory handles GET /api/v1/funds/{fundID}/nav/history.
// Query: start_date, end_date (YYYY-MM-DD), frequency (daily default).
func (e *Engine) HandleHistory(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	from, to, freq, err := rangeParams(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	points, err := e.History(r.Context(), fundID, from, to, freq)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if points == nil {
		points = []HistoryPoint{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"fund_id":   fundID,
		"frequency": freq,
		"points":    points,
	})
}

// HandleSimulate handles POST /api/v1/funds/{fundID}/nav/simulate. The
// response is explicitly labeled simulated: nothing in it is recorded
// history and nothing is persisted.
func (e *Engine) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	from, to, freq, err := rangeParams(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}

	points, err := e.Simulate(r.Context(), fundID, from, to, freq)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if points == nil {
		points = []HistoryPoint{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"fund_id":   fundID,
		"frequency": freq,
		"simulated": true,
		"points":    points,
	})
}

// HandleImpacts handles GET /api/v1/funds/{fundID}/impacts: the append-only
// audit trail of scored news items, newest first.
func (e *Engine) HandleImpacts(w http.ResponseWriter, r *http.Request) {
	fundID := chi.URLParam(r, "fundID")
	if _, err := e.store.GetFund(r.Context(), fundID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, apperr.New(apperr.NotFound, "fund %s not found", fundID))
			return
		}
		httpx.WriteError(w, apperr.Wrap(err, apperr.Internal, "read fund"))
		return
	}

	recs, err := e.store.ListNewsImpactsByFund(r.Context(), fundID)
	if err != nil {
		httpx.WriteError(w, apperr.Wrap(err, apperr.Internal, "list impacts"))
		return
	}
	if recs == nil {
		recs = []model.NewsImpactRecord{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"fund_id": fundID,
		"impacts": recs,
		"count":   len(recs),
	})
}

// rangeParams parses the shared start_date/end_date/frequency query
// parameters. end_date defaults to today, frequency to daily.
func rangeParams(r *http.Request) (from, to time.Time, freq string, err error) {
	q := r.URL.Query()

	start := q.Get("start_date")
	if start == "" {
		return from, to, "", apperr.New(apperr.Invalid, "start_date is required")
	}
	from, perr := time.Parse(dateLayout, start)
	if perr != nil {
		return from, to, "", apperr.New(apperr.Invalid, "start_date must be YYYY-MM-DD")
	}

	to = time.Now().UTC().Truncate(24 * time.Hour)
	if end := q.Get("end_date"); end != "" {
		to, perr = time.Parse(dateLayout, end)
		if perr != nil {
			return from, to, "", apperr.New(apperr.Invalid, "end_date must be YYYY-MM-DD")
		}
	}
	// Include the whole end day when replaying intraday snapshots.
	to = to.Add(24*time.Hour - time.Nanosecond)

	freq = q.Get("frequency")
	if freq == "" {
		freq = FreqDaily
	}
	return from, to, freq, nil
}
