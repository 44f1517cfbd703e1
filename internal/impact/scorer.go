// Package impact implements the news impact scorer: a pure mapping from one
// scored news item plus a fund's keyword profile to a bounded multiplicative
// impact coefficient.
//
// The coefficient combines four factors:
//   - base impact: sentiment in [-1,1] mapped linearly to [0.5, 1.5]
//   - time weight: linear decay to a floor of 0.1 over one week (no hard
//     cutoff — stale news still contributes at minimum weight)
//   - source weight: fixed reliability table, unknown outlets default 0.7
//   - relevance: 1.0 + 0.1 per keyword shared with the fund (uncapped)
//
// Internal math uses float64 with results immediately converted to decimal,
// the same discipline the rest of the engine applies to money.
package impact

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/greenfund/fund-engine/internal/apperr"
	"github.com/greenfund/fund-engine/internal/model"
)

var (
	// MinCoefficient is the floor of the clamp band. Even maximally stale,
	// unreliable, negative news cannot zero out a fund's NAV.
	MinCoefficient = decimal.NewFromFloat(0.1)

	// MaxCoefficient is the ceiling of the clamp band.
	MaxCoefficient = decimal.NewFromFloat(2.0)

	// CoefficientScale is the number of decimal places for coefficient rounding.
	CoefficientScale int32 = 6
)

// decayWindowHours is the linear time-decay horizon: one week.
const decayWindowHours = 24 * 7

// timeWeightFloor is the minimum time weight for arbitrarily old news.
const timeWeightFloor = 0.1

// defaultSourceWeight applies to outlets not in the reliability table.
const defaultSourceWeight = 0.7

// sourceReliability maps known outlets (lowercase) to their weight.
var sourceReliability = map[string]float64{
	"xinhua":    0.9,
	"people":    0.85,
	"reuters":   0.85,
	"bloomberg": 0.85,
	"cnn":       0.8,
	"bbc":       0.8,
}

// Scorer computes impact coefficients. It is stateless — news items and
// fund keyword profiles are passed as arguments, not stored.
type Scorer struct{}

// NewScorer creates a scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes the impact coefficient for one news item against a fund's
// keyword set (which may be empty). The returned factors carry the full
// breakdown for the audit record.
//
// A sentiment score outside [-1,1] or a missing publish timestamp fails
// fast with an Invalid error; missing source or keywords fall back to
// neutral defaults.
func (s *Scorer) Score(item model.NewsItem, fundKeywords []string, now time.Time) (decimal.Decimal, model.ImpactFactors, error) {
	if item.SentimentScore < -1.0 || item.SentimentScore > 1.0 || math.IsNaN(item.SentimentScore) {
		return decimal.Zero, model.ImpactFactors{},
			apperr.New(apperr.Invalid, "sentiment score %v outside [-1,1]", item.SentimentScore)
	}
	if item.PublishedAt.IsZero() {
		return decimal.Zero, model.ImpactFactors{},
			apperr.New(apperr.Invalid, "news item %s has no publish timestamp", item.ID)
	}

	// Sentiment [-1,1] → base impact [0.5,1.5].
	baseImpact := 0.5 + (item.SentimentScore+1.0)*0.5

	// Linear decay over one week, floored — never a hard cutoff.
	hours := now.Sub(item.PublishedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	timeWeight := math.Max(timeWeightFloor, 1.0-hours/decayWindowHours)

	sourceWeight := defaultSourceWeight
	if w, ok := sourceReliability[strings.ToLower(item.Source)]; ok {
		sourceWeight = w
	}

	// Each shared keyword adds 10%; no cap.
	relevance := 1.0 + 0.1*float64(keywordOverlap(item.Keywords, fundKeywords))

	raw := baseImpact * timeWeight * sourceWeight * relevance
	coefficient := decimal.NewFromFloat(raw).Round(CoefficientScale)

	if coefficient.LessThan(MinCoefficient) {
		coefficient = MinCoefficient
	}
	if coefficient.GreaterThan(MaxCoefficient) {
		coefficient = MaxCoefficient
	}

	factors := model.ImpactFactors{
		SentimentScore:      item.SentimentScore,
		BaseImpact:          baseImpact,
		TimeWeight:          timeWeight,
		SourceWeight:        sourceWeight,
		RelevanceMultiplier: relevance,
		Source:              item.Source,
		PublishedAt:         item.PublishedAt.UTC().Format(time.RFC3339),
	}

	return coefficient, factors, nil
}

// keywordOverlap counts case-insensitive keywords present in both sets.
func keywordOverlap(news, fund []string) int {
	if len(news) == 0 || len(fund) == 0 {
		return 0
	}
	set := make(map[string]bool, len(fund))
	for _, k := range fund {
		set[strings.ToLower(k)] = true
	}
	n := 0
	seen := make(map[string]bool, len(news))
	for _, k := range news {
		lk := strings.ToLower(k)
		if set[lk] && !seen[lk] {
			n++
			seen[lk] = true
		}
	}
	return n
}
