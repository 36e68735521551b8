// Package oracle estimates SOL-denominated prices for SPL tokens by consulting
// multiple sources and reconciling their answers, grounded in
// original_source/crates/lib/src/oracle/mod.rs's PriceOracle (retry
// wrapper + outlier-rejecting consensus) and in the teacher's resty
// client idiom (service/svmbase/svm.go's *resty.Client field,
// .R().SetContext().SetResult().Get() call shape).
package oracle

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"

	"github.com/solana-relay/kora/internal/apperr"
)

// PricePoint is one source's answer: the price of one whole token in
// native SOL units (for Pyth, in the quote currency of the configured
// feed), despite the field's name, and the source's own confidence in
// it (spec.md §4.C: "source, confidence").
type PricePoint struct {
	PriceUSD   decimal.Decimal
	Confidence float64
	Source     string
}

// Source fetches a single price point for mint.
type Source interface {
	Name() string
	Fetch(ctx context.Context, mint string) (PricePoint, error)
}

// RetryConfig bounds the exponential backoff retry wrapper.
type RetryConfig struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
}

// DefaultRetryConfig matches KoraConfig's documented defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// RetryingSource wraps a Source with exponential backoff: delay
// doubles each attempt, capped at MaxDelay, and the call is abandoned
// early if ctx is canceled (spec.md §4.C: "retries with exponential
// backoff on transient failures").
type RetryingSource struct {
	inner Source
	cfg   RetryConfig
}

func NewRetryingSource(inner Source, cfg RetryConfig) *RetryingSource {
	return &RetryingSource{inner: inner, cfg: cfg}
}

func (r *RetryingSource) Name() string { return r.inner.Name() }

func (r *RetryingSource) Fetch(ctx context.Context, mint string) (PricePoint, error) {
	var lastErr error
	delay := r.cfg.BaseDelay
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return PricePoint{}, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > r.cfg.MaxDelay {
				delay = r.cfg.MaxDelay
			}
		}
		point, err := r.inner.Fetch(ctx, mint)
		if err == nil {
			return point, nil
		}
		lastErr = err
		log.Warn("price source fetch failed, retrying", "source", r.inner.Name(), "mint", mint, "attempt", attempt, "err", err)
	}
	return PricePoint{}, apperr.RPC("price source %s: exhausted retries: %v", r.inner.Name(), lastErr)
}

// ConsensusOracle fans out to every configured source, rejects
// statistical outliers, and reduces the survivors to one price
// (spec.md §4.C's testable property: "if all sources agree within
// tolerance, consensus equals their mean; a single wildly divergent
// source does not move consensus beyond tolerance").
type ConsensusOracle struct {
	sources []Source
}

func NewConsensusOracle(sources ...Source) *ConsensusOracle {
	return &ConsensusOracle{sources: sources}
}

// Price fetches from every source concurrently, waits for all of them,
// and returns the consensus PricePoint. A source error is logged and
// that source is dropped; Price fails only if every source fails.
func (o *ConsensusOracle) Price(ctx context.Context, mint string) (PricePoint, error) {
	fetched := make([]PricePoint, len(o.sources))
	errs := make([]error, len(o.sources))
	var wg sync.WaitGroup
	for i, s := range o.sources {
		wg.Add(1)
		go func(i int, s Source) {
			defer wg.Done()
			fetched[i], errs[i] = s.Fetch(ctx, mint)
		}(i, s)
	}
	wg.Wait()

	points := make([]PricePoint, 0, len(o.sources))
	for i, s := range o.sources {
		if errs[i] != nil {
			log.Warn("price source unavailable", "source", s.Name(), "mint", mint, "err", errs[i])
			continue
		}
		points = append(points, fetched[i])
	}
	if len(points) == 0 {
		return PricePoint{}, apperr.RPC("no price source returned a price for mint %s", mint)
	}
	return consensus(points), nil
}

// consensus rejects IQR outliers (only meaningful with >=4 points, as
// quartiles are unstable below that), then returns the
// confidence-weighted mean price tagged with the highest-confidence
// surviving source's name.
func consensus(points []PricePoint) PricePoint {
	survivors := points
	if len(points) >= 4 {
		survivors = rejectIQROutliers(points)
	}

	var weightedSum, weightTotal float64
	best := survivors[0]
	for _, p := range survivors {
		f, _ := p.PriceUSD.Float64()
		weightedSum += f * p.Confidence
		weightTotal += p.Confidence
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	mean := weightedSum
	if weightTotal > 0 {
		mean = weightedSum / weightTotal
	}
	return PricePoint{
		PriceUSD:   decimal.NewFromFloat(mean),
		Confidence: best.Confidence,
		Source:     best.Source,
	}
}

func rejectIQROutliers(points []PricePoint) []PricePoint {
	sorted := make([]PricePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PriceUSD.LessThan(sorted[j].PriceUSD)
	})

	values := make([]float64, len(sorted))
	for i, p := range sorted {
		values[i], _ = p.PriceUSD.Float64()
	}
	q1 := percentile(values, 0.25)
	q3 := percentile(values, 0.75)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	out := make([]PricePoint, 0, len(sorted))
	for i, v := range values {
		if v >= lower && v <= upper {
			out = append(out, sorted[i])
		}
	}
	if len(out) == 0 {
		return sorted
	}
	return out
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 1 {
		return sortedValues[0]
	}
	idx := p * float64(len(sortedValues)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sortedValues[lo]
	}
	frac := idx - float64(lo)
	return sortedValues[lo]*(1-frac) + sortedValues[hi]*frac
}
