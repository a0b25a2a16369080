package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certen/quantum-bridge/pkg/database"
)

type stubScorer struct {
	resp ScoreResponse
	err  error
}

func (s stubScorer) Analyze(ctx context.Context, req ScoreRequest) (ScoreResponse, error) {
	return s.resp, s.err
}

func TestClassifyThresholds(t *testing.T) {
	g := New(stubScorer{}, nil, DefaultGateConfig())

	cases := []struct {
		score    float64
		wantAct  database.RiskAction
		wantLvl  database.RiskLevel
	}{
		{0.10, database.RiskActionAllow, database.RiskLevelLow},
		{0.45, database.RiskActionAllow, database.RiskLevelMedium},
		{0.70, database.RiskActionReview, database.RiskLevelHigh},
		{0.95, database.RiskActionBlock, database.RiskLevelCritical},
	}
	for _, c := range cases {
		action, level := g.classify(c.score)
		require.Equal(t, c.wantAct, action, "score=%v", c.score)
		require.Equal(t, c.wantLvl, level, "score=%v", c.score)
	}
}

func TestDefaultGateConfigMatchesSpecThresholds(t *testing.T) {
	cfg := DefaultGateConfig()
	require.Equal(t, 0.30, cfg.AllowThreshold)
	require.Equal(t, 0.60, cfg.ReviewThreshold)
	require.Equal(t, 0.80, cfg.BlockThreshold)
	require.Equal(t, 0.90, cfg.AdminOverrideCap)
	require.Equal(t, 2, cfg.QuorumN)
}
