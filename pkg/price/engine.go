package price

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/certen/quantum-bridge/pkg/database"
)

// EngineConfig holds the tunables spec §4.3 requires to come from
// configuration, not hard-coded constants (spec §9 Open Questions: "fee
// schedule numbers... should derive them from a configuration source").
type EngineConfig struct {
	ProviderTimeout      time.Duration
	StalenessWindow      time.Duration
	MinConfidence        float64
	MinObservationsForMedian int
	VolatilityRatioThreshold float64
	VolatilityEstimateThreshold float64

	BaseFeeMinBps int64
	BaseFeeMaxBps int64

	ProtocolFeeFreeBps    int64
	ProtocolFeePremiumBps int64
	ProtocolFeeAdminBps   int64

	SlippageProtectionMaxBps int64

	MinSlippageBps    int64
	VolatilitySlippageMultiplier int64
	MaxSlippageBps    int64

	QuoteLifetime time.Duration
}

// DefaultEngineConfig returns the numeric bounds spec §4.3/§4.4 name as
// defaults; deployments override via config.Config.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ProviderTimeout:              800 * time.Millisecond,
		StalenessWindow:              60 * time.Second,
		MinConfidence:                0.5,
		MinObservationsForMedian:     3,
		VolatilityRatioThreshold:     1.05,
		VolatilityEstimateThreshold:  0.02,
		BaseFeeMinBps:                10,
		BaseFeeMaxBps:                150,
		ProtocolFeeFreeBps:           30,
		ProtocolFeePremiumBps:        10,
		ProtocolFeeAdminBps:          0,
		SlippageProtectionMaxBps:     50,
		MinSlippageBps:               25,
		VolatilitySlippageMultiplier: 4,
		MaxSlippageBps:               500,
		QuoteLifetime:                30 * time.Second,
	}
}

// Engine aggregates provider prices and produces Quotes (C5).
type Engine struct {
	providers []Provider
	cfg       EngineConfig
	logger    *log.Logger
}

// New creates an Engine over the given providers.
func New(providers []Provider, cfg EngineConfig, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[PriceEngine] ", log.LstdFlags)
	}
	return &Engine{providers: providers, cfg: cfg, logger: logger}
}

// aggregated holds the intermediate aggregation result before fee
// decomposition.
type aggregated struct {
	price          float64
	highVolatility bool
	volatilityBps  int64
	mix            []ProviderWeight
}

// ProviderWeight records which providers contributed to a quote and at what
// effective weight (spec §3 "Quote.provider_mix").
type ProviderWeight struct {
	Provider string  `json:"provider"`
	Weight   float64 `json:"weight"`
}

// aggregate implements spec §4.3 steps 1-5.
func (e *Engine) aggregate(ctx context.Context, pair string) (*aggregated, error) {
	obs := e.fetchAll(ctx, pair)

	now := time.Now()
	var fresh []Observation
	for _, o := range obs {
		if now.Sub(o.ObservedAt) > e.cfg.StalenessWindow {
			continue
		}
		if o.Confidence < e.cfg.MinConfidence {
			continue
		}
		fresh = append(fresh, o)
	}

	if len(fresh) < 1 {
		return nil, ErrNoPrice
	}

	weights := make(map[string]float64, len(fresh))
	for _, p := range e.providers {
		weights[p.Name()] = p.Weight()
	}

	var price float64
	if len(fresh) >= e.cfg.MinObservationsForMedian {
		price = weightedMedian(fresh, weights)
	} else {
		price = weightedAverage(fresh, weights)
	}

	ratio, estimate := volatilityStats(fresh)
	highVol := ratio > e.cfg.VolatilityRatioThreshold && estimate > e.cfg.VolatilityEstimateThreshold
	volatilityBps := int64(math.Round(estimate * 10000))

	mix := make([]ProviderWeight, 0, len(fresh))
	for _, o := range fresh {
		mix = append(mix, ProviderWeight{Provider: o.Provider, Weight: o.Confidence * weights[o.Provider]})
	}

	return &aggregated{price: price, highVolatility: highVol, volatilityBps: volatilityBps, mix: mix}, nil
}

// fetchAll queries every configured provider in parallel with a hard
// per-provider budget (spec §4.3 step 1). A provider that errors or exceeds
// its budget simply contributes no observation — it is not a fatal error for
// the aggregation as a whole.
func (e *Engine) fetchAll(ctx context.Context, pair string) []Observation {
	results := make([]Observation, len(e.providers))
	ok := make([]bool, len(e.providers))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range e.providers {
		i, p := i, p
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, e.cfg.ProviderTimeout)
			defer cancel()
			obs, err := p.GetPrice(pctx, pair)
			if err != nil {
				e.logger.Printf("⚠️ provider %s failed for %s: %v", p.Name(), pair, err)
				return nil
			}
			results[i] = obs
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait() // errors are logged per-provider above; fetchAll never fails as a whole

	out := make([]Observation, 0, len(results))
	for i, got := range ok {
		if got {
			out = append(out, results[i])
		}
	}
	return out
}

func weightedMedian(obs []Observation, providerWeight map[string]float64) float64 {
	type wp struct {
		price  float64
		weight float64
	}
	items := make([]wp, len(obs))
	total := 0.0
	for i, o := range obs {
		w := o.Confidence * providerWeight[o.Provider]
		items[i] = wp{price: o.Price, weight: w}
		total += w
	}
	sort.Slice(items, func(i, j int) bool { return items[i].price < items[j].price })

	if total == 0 {
		return weightedAverage(obs, providerWeight)
	}

	cum := 0.0
	half := total / 2
	for _, it := range items {
		cum += it.weight
		if cum >= half {
			return it.price
		}
	}
	return items[len(items)-1].price
}

func weightedAverage(obs []Observation, providerWeight map[string]float64) float64 {
	var sumW, sumWP float64
	for _, o := range obs {
		w := o.Confidence * providerWeight[o.Provider]
		sumW += w
		sumWP += w * o.Price
	}
	if sumW == 0 {
		// Degenerate case: no usable weight information, fall back to a
		// plain mean rather than dividing by zero.
		var sum float64
		for _, o := range obs {
			sum += o.Price
		}
		return sum / float64(len(obs))
	}
	return sumWP / sumW
}

// volatilityStats implements spec §4.3 step 5's two volatility signals:
// the max/min ratio across fresh observations, and a volatility estimate
// (standard deviation relative to mean, as the cheapest available proxy for
// "volatility estimate"). The estimate is also the basis for the adaptive
// slippage bound's volatility term (adaptiveSlippageBound).
func volatilityStats(obs []Observation) (ratio, estimate float64) {
	if len(obs) == 0 {
		return 0, 0
	}
	min, max := obs[0].Price, obs[0].Price
	var sum float64
	for _, o := range obs {
		if o.Price < min {
			min = o.Price
		}
		if o.Price > max {
			max = o.Price
		}
		sum += o.Price
	}
	if min <= 0 {
		return 0, 0
	}
	mean := sum / float64(len(obs))
	var variance float64
	for _, o := range obs {
		d := o.Price - mean
		variance += d * d
	}
	variance /= float64(len(obs))
	stddev := math.Sqrt(variance)
	if mean != 0 {
		estimate = stddev / mean
	}
	return max / min, estimate
}

// QuoteRequest carries everything Quote needs beyond the live price feed:
// the user's tier (fee schedule) and requested slippage tolerance (spec
// §4.3 "fee decomposition", "adaptive slippage bound").
type QuoteRequest struct {
	Pair               string
	AmountIn           float64
	Tier               database.UserTier
	RequestedSlippageBps int64
}

// Quote runs the full spec §4.3 pipeline: aggregate observations, decompose
// fees, compute price impact, derive the adaptive slippage bound, and
// assemble an immutable database.Quote with the configured lifetime.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) (*database.Quote, error) {
	agg, err := e.aggregate(ctx, req.Pair)
	if err != nil {
		return nil, err
	}

	feeBase := clampInt64(int64(math.Round(volatilityScaledBps(e.cfg.BaseFeeMinBps, e.cfg.BaseFeeMaxBps, agg.highVolatility))), e.cfg.BaseFeeMinBps, e.cfg.BaseFeeMaxBps)
	feeGas := estimateGasFeeBps(req.Pair)
	feeProtocol := protocolFeeForTier(req.Tier, e.cfg)

	totalFeeBps := feeBase + feeGas + feeProtocol
	amountOut := req.AmountIn * agg.price * (1 - float64(totalFeeBps)/10000.0)

	// Price impact: deviation of the effective exchange rate (amount_out /
	// amount_in, after fees) from the raw aggregated price (spec §4.3 "price
	// impact ... bounded to [-0.5, 0.5]").
	effectiveRate := amountOut / req.AmountIn
	impact := (effectiveRate - agg.price) / agg.price
	if impact < -0.5 || impact > 0.5 {
		return nil, ErrExcessiveImpact
	}

	feeSlippage := int64(0)
	if agg.highVolatility {
		feeSlippage = e.cfg.SlippageProtectionMaxBps
	}

	maxSlippage := adaptiveSlippageBound(req.RequestedSlippageBps, agg.volatilityBps, e.cfg)

	mixJSON, err := json.Marshal(agg.mix)
	if err != nil {
		return nil, fmt.Errorf("price: marshal provider mix: %w", err)
	}

	now := time.Now()
	return &database.Quote{
		ID:             uuid.New(),
		Pair:           req.Pair,
		AmountIn:       strconv.FormatFloat(req.AmountIn, 'f', -1, 64),
		AmountOut:      strconv.FormatFloat(amountOut, 'f', -1, 64),
		ExchangeRate:   agg.price,
		FeeBase:        feeBase,
		FeeGas:         feeGas,
		FeeProtocol:    feeProtocol,
		FeeSlippage:    feeSlippage,
		PriceImpact:    impact,
		MaxSlippageBps: maxSlippage,
		ProviderMix:    mixJSON,
		HighVolatility: agg.highVolatility,
		CreatedAt:      now,
		ExpiresAt:      now.Add(e.cfg.QuoteLifetime),
	}, nil
}

// volatilityScaledBps picks a base fee within [min, max]: the floor under
// calm conditions, the ceiling when the engine has flagged high volatility
// (spec §4.3 "base_fee: 10-150 bps depending on... volatility").
func volatilityScaledBps(min, max int64, highVolatility bool) float64 {
	if highVolatility {
		return float64(max)
	}
	return float64(min)
}

// estimateGasFeeBps is a placeholder gas-cost estimator; real deployments
// wire this to a live gas-oracle feed per chain. Fixed at a conservative
// mid-range value until that feed exists.
func estimateGasFeeBps(pair string) int64 {
	return 15
}

// protocolFeeForTier implements spec §4.3's tier-dependent protocol fee.
func protocolFeeForTier(tier database.UserTier, cfg EngineConfig) int64 {
	switch tier {
	case database.TierAdmin:
		return cfg.ProtocolFeeAdminBps
	case database.TierPremium:
		return cfg.ProtocolFeePremiumBps
	default:
		return cfg.ProtocolFeeFreeBps
	}
}

// adaptiveSlippageBound implements spec §4.3: max(user_requested, floor,
// volatility_multiplier * recent_volatility_bps), capped at the configured
// ceiling.
func adaptiveSlippageBound(requestedBps, volatilityBps int64, cfg EngineConfig) int64 {
	bound := requestedBps
	if cfg.MinSlippageBps > bound {
		bound = cfg.MinSlippageBps
	}
	if widened := cfg.VolatilitySlippageMultiplier * volatilityBps; widened > bound {
		bound = widened
	}
	return clampInt64(bound, 0, cfg.MaxSlippageBps)
}

func clampInt64(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
