package risk

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/certen/quantum-bridge/pkg/database"
)

// GateConfig holds the spec §4.4 threshold table and override bounds,
// sourced from config.Config rather than hard-coded (same "derive from
// configuration" posture as the Price Engine, spec §9 Open Questions).
type GateConfig struct {
	ScorerTimeout time.Duration

	AllowThreshold  float64 // score < this -> allow, low
	ReviewThreshold float64 // this <= score < BlockThreshold -> review
	BlockThreshold  float64 // score >= this -> block

	// AdminOverrideCap is the score ceiling a single admin approver may
	// clear unilaterally; above it requires QuorumN distinct approvals.
	AdminOverrideCap float64
	QuorumN          int

	AnalyzerVersionFallback string
}

// DefaultGateConfig mirrors the spec's illustrative defaults (spec §4.4).
func DefaultGateConfig() GateConfig {
	return GateConfig{
		ScorerTimeout:           2 * time.Second,
		AllowThreshold:          0.30,
		ReviewThreshold:         0.60,
		BlockThreshold:          0.80,
		AdminOverrideCap:        0.90,
		QuorumN:                 2,
		AnalyzerVersionFallback: "fail-safe-v1",
	}
}

// Gate is the Risk Gate (C6): scores a swap attempt, applies threshold
// decisioning, and persists the resulting RiskDecision/ReviewEntry.
type Gate struct {
	scorer Scorer
	repo   *database.RiskRepository
	cfg    GateConfig
	logger *log.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets a custom logger.
func WithLogger(logger *log.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// New builds a Gate.
func New(scorer Scorer, repo *database.RiskRepository, cfg GateConfig, opts ...Option) *Gate {
	g := &Gate{
		scorer: scorer,
		repo:   repo,
		cfg:    cfg,
		logger: log.New(log.Writer(), "[RiskGate] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate scores a swap attempt and persists the first RiskDecision for it
// (spec §3 "RiskDecision... written once per swap attempt; later
// re-evaluations append new records but the first one gates execution").
// On scorer failure or timeout, Evaluate fails safe to RiskActionReview —
// it NEVER returns RiskActionAllow on error (spec §8 property 8).
func (g *Gate) Evaluate(ctx context.Context, swapID uuid.UUID, req ScoreRequest) (*database.RiskDecision, error) {
	sctx, cancel := context.WithTimeout(ctx, g.cfg.ScorerTimeout)
	defer cancel()

	resp, err := g.scorer.Analyze(sctx, req)
	if err != nil {
		g.logger.Printf("⚠️ risk scorer unavailable for swap %s, failing safe to review: %v", swapID, err)
		decision := &database.RiskDecision{
			SwapID:          swapID,
			Score:           1.0,
			Level:           database.RiskLevelHigh,
			Action:          database.RiskActionReview,
			Reasons:         database.MarshalRiskFactors([]string{"scorer_unavailable"}),
			AnalyzerVersion: g.cfg.AnalyzerVersionFallback,
		}
		if cerr := g.repo.CreateDecision(ctx, decision); cerr != nil {
			return nil, cerr
		}
		return decision, nil
	}

	action, level := g.classify(resp.Score)
	decision := &database.RiskDecision{
		SwapID:          swapID,
		Score:           resp.Score,
		Level:           level,
		Action:          action,
		Reasons:         database.MarshalRiskFactors(resp.Reasons),
		AnalyzerVersion: resp.AnalyzerVersion,
	}
	if decision.AnalyzerVersion == "" {
		decision.AnalyzerVersion = g.cfg.AnalyzerVersionFallback
	}
	if err := g.repo.CreateDecision(ctx, decision); err != nil {
		return nil, err
	}
	g.logger.Printf("🔎 risk decision for swap %s: score=%.2f level=%s action=%s", swapID, decision.Score, decision.Level, decision.Action)
	return decision, nil
}

// classify implements the spec §4.4 threshold table.
func (g *Gate) classify(score float64) (database.RiskAction, database.RiskLevel) {
	switch {
	case score >= g.cfg.BlockThreshold:
		return database.RiskActionBlock, database.RiskLevelCritical
	case score >= g.cfg.ReviewThreshold:
		return database.RiskActionReview, database.RiskLevelHigh
	case score >= g.cfg.AllowThreshold:
		return database.RiskActionAllow, database.RiskLevelMedium
	default:
		return database.RiskActionAllow, database.RiskLevelLow
	}
}

// OpenReview creates the ReviewEntry for a swap paused at RiskReview (spec
// §4.4 "swap pauses at state RiskReview awaiting an admin decision").
func (g *Gate) OpenReview(ctx context.Context, swapID uuid.UUID, slaDeadline time.Time) (*database.ReviewEntry, error) {
	return g.repo.CreateReview(ctx, swapID, slaDeadline)
}

// Override applies an admin decision to a swap under review (spec §4.4
// "Admin override"). A single admin may clear scores up to AdminOverrideCap;
// above that, QuorumN distinct approvals are required before the review
// resolves to approved. approverID is the calling admin's identity, recorded
// as the review's assignee/decision trail.
func (g *Gate) Override(ctx context.Context, swapID uuid.UUID, approverID string, adminTier database.UserTier, score float64, approve bool, reason string) (*database.ReviewEntry, error) {
	if adminTier != database.TierAdmin {
		return nil, ErrInsufficientTier
	}

	entry, err := g.repo.GetReviewBySwap(ctx, swapID)
	if err != nil {
		return nil, err
	}
	if entry.State != database.ReviewStatePending && entry.State != database.ReviewStateAssigned {
		return nil, ErrNotUnderReview
	}

	if !approve {
		decision := "reject"
		if err := g.repo.Resolve(ctx, entry.ID, database.ReviewStateRejected, approverID, decision, reason); err != nil {
			return nil, err
		}
		g.logger.Printf("🚫 review for swap %s rejected by %s: %s", swapID, approverID, reason)
		return g.repo.GetReviewBySwap(ctx, swapID)
	}

	if score <= g.cfg.AdminOverrideCap {
		decision := "approve"
		if err := g.repo.Resolve(ctx, entry.ID, database.ReviewStateApproved, approverID, decision, reason); err != nil {
			return nil, err
		}
		g.logger.Printf("✅ review for swap %s approved by single admin %s (score=%.2f)", swapID, approverID, score)
		return g.repo.GetReviewBySwap(ctx, swapID)
	}

	count, err := g.repo.RecordApproval(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	if count < g.cfg.QuorumN {
		g.logger.Printf("🔁 review for swap %s has %d/%d quorum approvals (score=%.2f above single-approver cap)", swapID, count, g.cfg.QuorumN, score)
		return g.repo.GetReviewBySwap(ctx, swapID)
	}

	decision := "approve"
	if err := g.repo.Resolve(ctx, entry.ID, database.ReviewStateApproved, approverID, decision, reason); err != nil {
		return nil, err
	}
	g.logger.Printf("✅ review for swap %s reached %d/%d quorum and is approved (score=%.2f)", swapID, count, g.cfg.QuorumN, score)
	return g.repo.GetReviewBySwap(ctx, swapID)
}

// ErrRescindOnly names an approval of a review entry that is already
// resolved. Nothing in this package returns it: Override returns
// ErrNotUnderReview for an entry that is no longer pending or assigned.
var ErrRescindOnly = errors.New("risk: review entry already resolved")
