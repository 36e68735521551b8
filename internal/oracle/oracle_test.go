package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	name   string
	points map[string]PricePoint
	err    error
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Fetch(_ context.Context, mint string) (PricePoint, error) {
	if s.err != nil {
		return PricePoint{}, s.err
	}
	p, ok := s.points[mint]
	if !ok {
		return PricePoint{}, errors.New("no price")
	}
	return p, nil
}

func price(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestConsensusAgreementReturnsMean(t *testing.T) {
	mint := "So1...mint"
	sources := []Source{
		&stubSource{name: "a", points: map[string]PricePoint{mint: {PriceUSD: price(1.00), Confidence: 0.9, Source: "a"}}},
		&stubSource{name: "b", points: map[string]PricePoint{mint: {PriceUSD: price(1.02), Confidence: 0.9, Source: "b"}}},
		&stubSource{name: "c", points: map[string]PricePoint{mint: {PriceUSD: price(0.98), Confidence: 0.9, Source: "c"}}},
	}
	oracle := NewConsensusOracle(sources...)
	p, err := oracle.Price(context.Background(), mint)
	require.NoError(t, err)
	f, _ := p.PriceUSD.Float64()
	require.InDelta(t, 1.00, f, 0.05)
}

func TestConsensusRejectsWildOutlier(t *testing.T) {
	mint := "So1...mint"
	sources := []Source{
		&stubSource{name: "a", points: map[string]PricePoint{mint: {PriceUSD: price(1.00), Confidence: 0.9, Source: "a"}}},
		&stubSource{name: "b", points: map[string]PricePoint{mint: {PriceUSD: price(1.01), Confidence: 0.9, Source: "b"}}},
		&stubSource{name: "c", points: map[string]PricePoint{mint: {PriceUSD: price(0.99), Confidence: 0.9, Source: "c"}}},
		&stubSource{name: "d", points: map[string]PricePoint{mint: {PriceUSD: price(500.0), Confidence: 0.9, Source: "d"}}},
	}
	oracle := NewConsensusOracle(sources...)
	p, err := oracle.Price(context.Background(), mint)
	require.NoError(t, err)
	f, _ := p.PriceUSD.Float64()
	require.InDelta(t, 1.00, f, 0.1, "consensus should not move materially toward the single wild outlier")
}

func TestConsensusAllSourcesFail(t *testing.T) {
	mint := "So1...mint"
	sources := []Source{
		&stubSource{name: "a", err: errors.New("down")},
		&stubSource{name: "b", err: errors.New("down")},
	}
	oracle := NewConsensusOracle(sources...)
	_, err := oracle.Price(context.Background(), mint)
	require.Error(t, err)
}

func TestConsensusPicksMaxConfidenceSource(t *testing.T) {
	mint := "So1...mint"
	sources := []Source{
		&stubSource{name: "low", points: map[string]PricePoint{mint: {PriceUSD: price(1.0), Confidence: 0.3, Source: "low"}}},
		&stubSource{name: "high", points: map[string]PricePoint{mint: {PriceUSD: price(1.0), Confidence: 0.95, Source: "high"}}},
	}
	oracle := NewConsensusOracle(sources...)
	p, err := oracle.Price(context.Background(), mint)
	require.NoError(t, err)
	require.Equal(t, "high", p.Source)
}

type flakySource struct {
	name       string
	failCount  int
	calls      int
	finalPoint PricePoint
}

func (s *flakySource) Name() string { return s.name }
func (s *flakySource) Fetch(_ context.Context, _ string) (PricePoint, error) {
	s.calls++
	if s.calls <= s.failCount {
		return PricePoint{}, errors.New("transient failure")
	}
	return s.finalPoint, nil
}

func TestRetryingSourceRecoversWithinBudget(t *testing.T) {
	flaky := &flakySource{name: "flaky", failCount: 2, finalPoint: PricePoint{PriceUSD: price(2.5), Confidence: 0.8, Source: "flaky"}}
	retrying := NewRetryingSource(flaky, RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})

	p, err := retrying.Fetch(context.Background(), "mint")
	require.NoError(t, err)
	require.Equal(t, 3, flaky.calls)
	f, _ := p.PriceUSD.Float64()
	require.Equal(t, 2.5, f)
}

func TestRetryingSourceExhaustsRetries(t *testing.T) {
	flaky := &flakySource{name: "flaky", failCount: 100}
	retrying := NewRetryingSource(flaky, RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})

	_, err := retrying.Fetch(context.Background(), "mint")
	require.Error(t, err)
	require.Equal(t, 3, flaky.calls) // initial attempt + 2 retries
}

func TestRetryingSourceHonorsContextCancellation(t *testing.T) {
	flaky := &flakySource{name: "flaky", failCount: 100}
	retrying := NewRetryingSource(flaky, RetryConfig{MaxRetries: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := retrying.Fetch(ctx, "mint")
	require.Error(t, err)
}
