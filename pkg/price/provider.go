// Package price implements the multi-provider pricing/quote engine (C5, spec
// §4.3): parallel provider aggregation, fee decomposition, price-impact and
// slippage bounds.
package price

import (
	"context"
	"time"
)

// Observation is a single provider's reading for a pair (spec §6 "External
// collaborators" / "Price providers").
type Observation struct {
	Provider   string
	Price      float64
	Confidence float64
	ObservedAt time.Time
}

// Provider is the external collaborator contract: get_price(pair) →
// {price, confidence, observed_at} with a per-provider weight and timeout
// (spec §6).
type Provider interface {
	Name() string
	Weight() float64
	GetPrice(ctx context.Context, pair string) (Observation, error)
}

// StaticProvider is a Provider backed by a fixed weight and a caller-supplied
// fetch function; used to adapt concrete price-feed clients (REST oracle
// calls, on-chain DEX reads) into the uniform Provider contract without each
// one needing its own named type.
type StaticProvider struct {
	name   string
	weight float64
	fetch  func(ctx context.Context, pair string) (Observation, error)
}

// NewStaticProvider builds a Provider from a name, weight, and fetch func.
func NewStaticProvider(name string, weight float64, fetch func(ctx context.Context, pair string) (Observation, error)) *StaticProvider {
	return &StaticProvider{name: name, weight: weight, fetch: fetch}
}

func (p *StaticProvider) Name() string   { return p.name }
func (p *StaticProvider) Weight() float64 { return p.weight }

func (p *StaticProvider) GetPrice(ctx context.Context, pair string) (Observation, error) {
	return p.fetch(ctx, pair)
}
