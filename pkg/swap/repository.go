package swap

import (
	"context"

	"github.com/google/uuid"

	"github.com/certen/quantum-bridge/pkg/database"
)

// SwapRepo is the narrow slice of database.SwapRepository the engine drives.
// Declared here (rather than depended on directly as *database.SwapRepository)
// so tests can substitute an in-memory fake for the Postgres-backed
// implementation without standing up a database.
type SwapRepo interface {
	Create(ctx context.Context, input *database.NewSwapInput) (*database.Swap, error)
	Get(ctx context.Context, id uuid.UUID) (*database.Swap, error)
	ListOpen(ctx context.Context) ([]*database.Swap, error)
	Transition(ctx context.Context, id uuid.UUID, in *database.TransitionInput) error
}

// QuoteRepo is the narrow slice of database.QuoteRepository the engine drives.
type QuoteRepo interface {
	Create(ctx context.Context, q *database.Quote) error
	Get(ctx context.Context, id uuid.UUID) (*database.Quote, error)
}

// QuantumKeyRepo is the narrow slice of database.QuantumKeyRepository the
// engine drives (only usage bookkeeping; key issuance/rotation belongs to
// pkg/keystore).
type QuantumKeyRepo interface {
	IncrementUsage(ctx context.Context, id uuid.UUID) error
}

// Repository collects the repositories the Swap Engine depends on. Built
// from a *database.Repositories in production (each field already satisfies
// its interface); built from fakes in tests.
type Repository struct {
	Swaps       SwapRepo
	Quotes      QuoteRepo
	QuantumKeys QuantumKeyRepo
}

// NewRepository adapts a *database.Repositories into the narrower shape the
// engine depends on.
func NewRepository(repo *database.Repositories) *Repository {
	return &Repository{
		Swaps:       repo.Swaps,
		Quotes:      repo.Quotes,
		QuantumKeys: repo.QuantumKeys,
	}
}
