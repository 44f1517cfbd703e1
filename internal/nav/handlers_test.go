package nav

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfund/fund-engine/internal/impact"
	"github.com/greenfund/fund-engine/internal/model"
	"github.com/greenfund/fund-engine/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	e := NewEngine(st, impact.NewScorer(), nil, nil, DefaultConfig())

	r := chi.NewRouter()
	r.Post("/api/v1/funds", e.HandleCreateFund)
	r.Get("/api/v1/funds", e.HandleListFunds)
	r.Get("/api/v1/funds/{fundID}", e.HandleGetFund)
	r.Delete("/api/v1/funds/{fundID}", e.HandleCloseFund)
	r.Post("/api/v1/funds/{fundID}/nav", e.HandleCompute)
	r.Post("/api/v1/nav/batch", e.HandleBatch)
	r.Get("/api/v1/funds/{fundID}/nav/history", e.HandleHistory)
	r.Get("/api/v1/funds/{fundID}/impacts", e.HandleImpacts)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestHandleCreateFund(t *testing.T) {
	srv, st := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/funds", CreateFundRequest{
		Code: "GE-001", Name: "Green Energy Alpha",
		Keywords: []string{"solar", "wind"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var fund model.Fund
	decode(t, resp, &fund)
	assert.Equal(t, "GE-001", fund.Code)
	assert.Equal(t, "green_energy", fund.Type)
	assert.Equal(t, model.FundActive, fund.Status)
	assert.True(t, fund.LatestNav.Equal(InitialNetValue))

	// The fund starts with an initial snapshot at 1.0.
	snap, err := st.LatestNavSnapshot(context.Background(), fund.ID)
	require.NoError(t, err)
	assert.True(t, snap.NetValue.Equal(InitialNetValue))
}

func TestHandleCreateFund_InvalidCode(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/funds", CreateFundRequest{
		Code: "BOGUS", Name: "X",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleCreateFund_DuplicateCode(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/funds", CreateFundRequest{Code: "GE-001", Name: "A"})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/funds", CreateFundRequest{Code: "GE-001", Name: "B"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandleCompute_HTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	var fund model.Fund
	decode(t, postJSON(t, srv.URL+"/api/v1/funds", CreateFundRequest{Code: "GE-001", Name: "A"}), &fund)

	resp := postJSON(t, srv.URL+"/api/v1/funds/"+fund.ID+"/nav", map[string]any{
		"include_news": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res ComputeResult
	decode(t, resp, &res)
	assert.Equal(t, fund.ID, res.FundID)
	assert.True(t, res.NetValue.GreaterThan(res.PreviousNetValue))
}

func TestHandleCompute_UnknownFund(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/funds/missing/nav", map[string]any{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_found", body.Error.Kind)
}

func TestHandleHistory_RequiresStartDate(t *testing.T) {
	srv, _ := newTestServer(t)

	var fund model.Fund
	decode(t, postJSON(t, srv.URL+"/api/v1/funds", CreateFundRequest{Code: "GE-001", Name: "A"}), &fund)

	resp, err := http.Get(srv.URL + "/api/v1/funds/" + fund.ID + "/nav/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/funds/" + fund.ID + "/nav/history?start_date=2026-01-01&frequency=daily")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleCloseFund(t *testing.T) {
	srv, st := newTestServer(t)

	var fund model.Fund
	decode(t, postJSON(t, srv.URL+"/api/v1/funds", CreateFundRequest{Code: "GE-001", Name: "A"}), &fund)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/funds/"+fund.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f, err := st.GetFund(context.Background(), fund.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FundClosed, f.Status)
}

func TestHandleBatch_AllActiveFunds(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, code := range []string{"GE-001", "EP-001"} {
		resp := postJSON(t, srv.URL+"/api/v1/funds", CreateFundRequest{Code: code, Name: code})
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := postJSON(t, srv.URL+"/api/v1/nav/batch", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res BatchResult
	decode(t, resp, &res)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 0, res.Failed)
}
