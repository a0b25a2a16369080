package price

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/certen/quantum-bridge/pkg/database"
)

func fixedProvider(name string, weight, price, confidence float64, age time.Duration) Provider {
	return NewStaticProvider(name, weight, func(ctx context.Context, pair string) (Observation, error) {
		return Observation{
			Provider:   name,
			Price:      price,
			Confidence: confidence,
			ObservedAt: time.Now().Add(-age),
		}, nil
	})
}

func TestAggregateReturnsErrNoPriceWhenAllStale(t *testing.T) {
	providers := []Provider{
		fixedProvider("a", 1.0, 100, 0.9, time.Hour),
	}
	e := New(providers, DefaultEngineConfig(), nil)
	_, err := e.aggregate(context.Background(), "ETH/NEAR")
	require.ErrorIs(t, err, ErrNoPrice)
}

func TestAggregateReturnsErrNoPriceWhenLowConfidence(t *testing.T) {
	providers := []Provider{
		fixedProvider("a", 1.0, 100, 0.1, 0),
	}
	e := New(providers, DefaultEngineConfig(), nil)
	_, err := e.aggregate(context.Background(), "ETH/NEAR")
	require.ErrorIs(t, err, ErrNoPrice)
}

func TestAggregateWeightedAverageBelowMedianThreshold(t *testing.T) {
	providers := []Provider{
		fixedProvider("a", 1.0, 100, 1.0, 0),
		fixedProvider("b", 1.0, 200, 1.0, 0),
	}
	e := New(providers, DefaultEngineConfig(), nil)
	agg, err := e.aggregate(context.Background(), "ETH/NEAR")
	require.NoError(t, err)
	require.Equal(t, 150.0, agg.price)
	require.True(t, agg.highVolatility)
}

func TestAggregateWeightedMedianAtThreshold(t *testing.T) {
	providers := []Provider{
		fixedProvider("a", 1.0, 100, 1.0, 0),
		fixedProvider("b", 1.0, 101, 1.0, 0),
		fixedProvider("c", 1.0, 102, 1.0, 0),
	}
	e := New(providers, DefaultEngineConfig(), nil)
	agg, err := e.aggregate(context.Background(), "ETH/NEAR")
	require.NoError(t, err)
	require.Equal(t, 101.0, agg.price)
}

func TestAggregateFlagsHighVolatility(t *testing.T) {
	providers := []Provider{
		fixedProvider("a", 1.0, 100, 1.0, 0),
		fixedProvider("b", 1.0, 180, 1.0, 0),
		fixedProvider("c", 1.0, 260, 1.0, 0),
	}
	e := New(providers, DefaultEngineConfig(), nil)
	agg, err := e.aggregate(context.Background(), "ETH/NEAR")
	require.NoError(t, err)
	require.True(t, agg.highVolatility)
}

func TestQuoteAssemblesFeesAndLifetime(t *testing.T) {
	providers := []Provider{
		fixedProvider("a", 1.0, 100, 1.0, 0),
		fixedProvider("b", 1.0, 100, 1.0, 0),
	}
	e := New(providers, DefaultEngineConfig(), nil)
	before := time.Now()
	q, err := e.Quote(context.Background(), QuoteRequest{
		Pair:                 "ETH/NEAR",
		AmountIn:             10,
		Tier:                 database.TierFree,
		RequestedSlippageBps: 10,
	})
	require.NoError(t, err)
	require.Equal(t, "ETH/NEAR", q.Pair)
	require.Equal(t, int64(30), q.FeeProtocol)
	require.GreaterOrEqual(t, q.MaxSlippageBps, int64(25))
	require.True(t, q.ExpiresAt.After(before.Add(29*time.Second)))
	require.True(t, q.ExpiresAt.Before(before.Add(31*time.Second)))
}

func TestQuoteProtocolFeeByTier(t *testing.T) {
	providers := []Provider{fixedProvider("a", 1.0, 100, 1.0, 0)}
	e := New(providers, DefaultEngineConfig(), nil)

	free, err := e.Quote(context.Background(), QuoteRequest{Pair: "ETH/NEAR", AmountIn: 1, Tier: database.TierFree})
	require.NoError(t, err)
	premium, err := e.Quote(context.Background(), QuoteRequest{Pair: "ETH/NEAR", AmountIn: 1, Tier: database.TierPremium})
	require.NoError(t, err)
	admin, err := e.Quote(context.Background(), QuoteRequest{Pair: "ETH/NEAR", AmountIn: 1, Tier: database.TierAdmin})
	require.NoError(t, err)

	require.Equal(t, int64(30), free.FeeProtocol)
	require.Equal(t, int64(10), premium.FeeProtocol)
	require.Equal(t, int64(0), admin.FeeProtocol)
}

func TestAdaptiveSlippageBoundRespectsFloorAndCeiling(t *testing.T) {
	cfg := DefaultEngineConfig()
	require.Equal(t, cfg.MinSlippageBps, adaptiveSlippageBound(0, 0, cfg))
	require.Equal(t, int64(100), adaptiveSlippageBound(100, 0, cfg))
	require.Equal(t, cfg.MaxSlippageBps, adaptiveSlippageBound(10000, 0, cfg))
}

func TestAdaptiveSlippageBoundWidensUnderVolatility(t *testing.T) {
	cfg := DefaultEngineConfig()
	// 4x multiplier (default) applied to a 50bps volatility reading beats
	// both the user's request and the floor (spec §4.3 "4 x volatility_bps").
	require.Equal(t, int64(200), adaptiveSlippageBound(10, 50, cfg))
	// A requested/floor value already above the volatility term wins.
	require.Equal(t, int64(300), adaptiveSlippageBound(300, 50, cfg))
	// The volatility term is itself capped at MaxSlippageBps.
	require.Equal(t, cfg.MaxSlippageBps, adaptiveSlippageBound(0, 1000, cfg))
}
