// Package supervisor implements the Timeout/Rollback Supervisor (C8, spec
// §4.6): per-swap deadline enforcement and restart rehydration.
//
// Grounded on the teacher's pkg/batch/scheduler.go: the same
// State/stopCh/doneCh/sync.RWMutex ticker-loop idiom, generalized from
// "check whether a batch window has elapsed" to "check every open swap's
// deadlines and drive compensating transitions."
package supervisor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/certen/quantum-bridge/pkg/database"
)

// State is the run state of the Supervisor's sweep loop.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

// ClockSkewTolerance is the wall-clock slack before a deadline is treated as
// exceeded (spec §4.6 "clock skew within ±30s is tolerated").
const ClockSkewTolerance = 30 * time.Second

// Engine is the subset of swap.Engine the Supervisor drives, declared as an
// interface so tests can substitute a fake without a real
// database/keystore/adapter stack.
type Engine interface {
	ForceReject(ctx context.Context, s *database.Swap) error
	ForceRefund(ctx context.Context, s *database.Swap) error
	ForceManualRecovery(ctx context.Context, s *database.Swap) error
	ResumeFromReview(ctx context.Context, s *database.Swap, approved bool) error
}

// Supervisor sweeps open swaps on a fixed cadence, driving any swap whose
// current step has exceeded its deadline along the spec §4.6 compensating
// path via the swap Engine's Force* methods (so the actual compensating
// chain submission — e.g. the refund unlock — happens the same way an
// ordinary Advance would do it, not as a bare row update).
type Supervisor struct {
	mu sync.RWMutex

	repo   *database.Repositories
	engine Engine

	sweepInterval time.Duration
	state         State
	stopCh        chan struct{}
	doneCh        chan struct{}

	logger *log.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// New builds a Supervisor.
func New(repo *database.Repositories, engine Engine, sweepInterval time.Duration, opts ...Option) *Supervisor {
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Second
	}
	s := &Supervisor{
		repo:          repo,
		engine:        engine,
		sweepInterval: sweepInterval,
		state:         StateStopped,
		logger:        log.New(log.Writer(), "[Supervisor] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the sweep loop, first rehydrating all open swaps from
// persistence (spec §4.6 "On process restart, the Supervisor rehydrates all
// open swaps... and re-arms deadlines relative to their stored timestamps").
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.state = StateRunning
	s.mu.Unlock()

	open, err := s.repo.Swaps.ListOpen(ctx)
	if err != nil {
		return err
	}
	s.logger.Printf("🔄 rehydrated %d open swap(s) on startup", len(open))

	go s.run(ctx)
	return nil
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.state = StateStopped
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Printf("⚠️ sweep failed: %v", err)
			}
		}
	}
}

// sweep checks every open swap's deadline against its current step and
// drives the spec §4.6 compensating transitions for anything expired.
func (s *Supervisor) sweep(ctx context.Context) error {
	open, err := s.repo.Swaps.ListOpen(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, row := range open {
		deadline, ok := deadlineFor(row)
		if !ok {
			continue
		}
		if now.Before(deadline.Add(ClockSkewTolerance)) {
			continue
		}
		if err := s.onExpired(ctx, row); err != nil {
			s.logger.Printf("⚠️ failed to act on expired swap %s: %v", row.ID, err)
		}
	}

	if err := s.sweepExpiredReviews(ctx); err != nil {
		s.logger.Printf("⚠️ failed to sweep expired reviews: %v", err)
	}

	return nil
}

// deadlineFor returns the deadline relevant to the swap's current step, per
// spec §4.6's five named deadlines.
func deadlineFor(s *database.Swap) (time.Time, bool) {
	switch s.Status {
	case database.SwapStatusRiskChecked:
		if s.DeadlineSubmitSource.Valid {
			return s.DeadlineSubmitSource.Time, true
		}
	case database.SwapStatusSourceLocking:
		if s.DeadlineSourceConfirm.Valid {
			return s.DeadlineSourceConfirm.Time, true
		}
	case database.SwapStatusSourceLocked:
		if s.DeadlineSubmitDest.Valid {
			return s.DeadlineSubmitDest.Time, true
		}
	case database.SwapStatusDestIssuing:
		if s.DeadlineDestConfirm.Valid {
			return s.DeadlineDestConfirm.Time, true
		}
	}
	// RiskReview's SLA lives on the review entry (ReviewEntry.SLADeadline),
	// not the swap row; sweepExpiredReviews handles that path separately.
	// Refunding has no deadline column, so sweep never passes a Refunding
	// swap to onExpired.
	return time.Time{}, false
}

// onExpired applies spec §4.6's deadline-expiry rule: pre-SourceLocked ->
// Rejected, {SourceLocked, DestIssuing} -> Refunding, Refunding ->
// ManualRecovery. RiskReview is handled separately by sweepExpiredReviews,
// since its SLA clock lives on the review entry, not the swap row.
func (s *Supervisor) onExpired(ctx context.Context, row *database.Swap) error {
	switch row.Status {
	case database.SwapStatusRiskChecked, database.SwapStatusSourceLocking:
		s.logger.Printf("⏰ deadline exceeded for swap %s in %s, forcing rejected", row.ID, row.Status)
		return s.engine.ForceReject(ctx, row)
	case database.SwapStatusSourceLocked, database.SwapStatusDestIssuing:
		s.logger.Printf("⏰ deadline exceeded for swap %s in %s, forcing refund", row.ID, row.Status)
		return s.engine.ForceRefund(ctx, row)
	case database.SwapStatusRefunding:
		s.logger.Printf("⏰ refund deadline exceeded for swap %s, forcing manual recovery", row.ID)
		return s.engine.ForceManualRecovery(ctx, row)
	default:
		return nil
	}
}

// sweepExpiredReviews expires review entries whose SLA has passed without an
// admin decision (spec §4.6 "review ≤ 24h"), rejecting the underlying swap
// the same way an explicit admin rejection would.
func (s *Supervisor) sweepExpiredReviews(ctx context.Context) error {
	expired, err := s.repo.Risk.ListExpiredReviews(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, entry := range expired {
		if err := s.repo.Risk.Resolve(ctx, entry.ID, database.ReviewStateExpired, "supervisor", "reject", "SLA deadline exceeded"); err != nil {
			s.logger.Printf("⚠️ failed to expire review %s: %v", entry.ID, err)
			continue
		}
		swapRow, err := s.repo.Swaps.Get(ctx, entry.SwapID)
		if err != nil {
			s.logger.Printf("⚠️ failed to load swap %s for expired review: %v", entry.SwapID, err)
			continue
		}
		if err := s.engine.ResumeFromReview(ctx, swapRow, false); err != nil {
			s.logger.Printf("⚠️ failed to reject swap %s on expired review: %v", entry.SwapID, err)
			continue
		}
		s.logger.Printf("⏰ review %s expired without admin decision", entry.ID)
	}
	return nil
}
