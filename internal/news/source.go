// Package news defines the contract to the external news/sentiment pipeline.
// The engine only consumes its output: scored items with a sentiment score,
// source tag, publish time, and keyword set. Fetches are bounded by a
// timeout and degrade to "no news" on any failure — a slow or dead news
// service must never block a NAV computation.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/greenfund/fund-engine/internal/apperr"
	"github.com/greenfund/fund-engine/internal/model"
)

// Source yields recent scored news items relevant to a fund.
type Source interface {
	// Latest returns items published within the window. An empty slice is a
	// valid result (quiet news day).
	Latest(ctx context.Context, fundID string, window time.Duration) ([]model.NewsItem, error)
}

// HTTPSource fetches items from the news service's /news/latest endpoint.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a client for the news service. The timeout bounds
// the whole fetch, connection included.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Latest(ctx context.Context, fundID string, window time.Duration) ([]model.NewsItem, error) {
	u := fmt.Sprintf("%s/news/latest?fund_id=%s&hours=%d",
		s.baseURL, url.QueryEscape(fundID), int(window.Hours()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Upstream, "build news request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Upstream, "fetch news")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.Upstream, "news service returned %d", resp.StatusCode)
	}

	var items []model.NewsItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, apperr.Wrap(err, apperr.Upstream, "decode news response")
	}
	return items, nil
}

// StaticSource serves a fixed item list; used in tests and development.
type StaticSource struct {
	Items []model.NewsItem
	Err   error
}

func (s *StaticSource) Latest(_ context.Context, _ string, _ time.Duration) ([]model.NewsItem, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Items, nil
}
