package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/apperr"
	"github.com/greenfund/fund-engine/internal/httpx"
	"github.com/greenfund/fund-engine/internal/model"
	"github.com/greenfund/fund-engine/internal/store"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// CreateUserRequest is the JSON body for POST /api/v1/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// HandleCreateUser handles POST /api/v1/users. New users receive the
// starting balance grant.
func (e *Engine) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}

	user, err := e.Register(r.Context(), req.Username, req.Email)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, user)
}

// HandleGetUser handles GET /api/v1/users/{userID}.
func (e *Engine) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	user, err := e.store.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, apperr.New(apperr.NotFound, "user %s not found", id))
			return
		}
		httpx.WriteError(w, apperr.Wrap(err, apperr.Internal, "read user"))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, user)
}

// balanceBody is the JSON body for POST /api/v1/users/{userID}/balance.
type balanceBody struct {
	Operation string          `json:"operation"` // "deposit" or "withdraw"
	Amount    decimal.Decimal `json:"amount"`
}

// HandleBalance handles POST /api/v1/users/{userID}/balance.
func (e *Engine) HandleBalance(w http.ResponseWriter, r *http.Request) {
	var body balanceBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}

	userID := chi.URLParam(r, "userID")
	newBalance, err := e.AdjustBalance(r.Context(), userID, body.Operation, body.Amount)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"operation": body.Operation,
		"amount":    body.Amount,
		"balance":   newBalance,
	})
}

// HandleSubmitOrder handles POST /api/v1/orders.
func (e *Engine) HandleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, apperr.New(apperr.Invalid, "invalid request body"))
		return
	}

	res, err := e.SubmitOrder(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, res)
}

// HandleListTransactions handles GET /api/v1/users/{userID}/transactions.
// Query: page (1-based), per_page. Newest first.
func (e *Engine) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, err := e.store.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, apperr.New(apperr.NotFound, "user %s not found", userID))
			return
		}
		httpx.WriteError(w, apperr.Wrap(err, apperr.Internal, "read user"))
		return
	}

	page := queryInt(r, "page", 1)
	perPage := queryInt(r, "per_page", defaultPerPage)
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}

	txs, total, err := e.store.ListTransactions(r.Context(), userID, page, perPage)
	if err != nil {
		httpx.WriteError(w, apperr.Wrap(err, apperr.Internal, "list transactions"))
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}

	totalPages := total / perPage
	if total%perPage != 0 {
		totalPages++
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":       txs,
		"total":       total,
		"page":        page,
		"per_page":    perPage,
		"total_pages": totalPages,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
