// Package risk implements the pre-swap admission gate (C6, spec §4.4): a
// synchronous call to an external, opaque risk scorer, threshold
// decisioning, and the admin review/override workflow.
//
// The scorer is treated strictly as an opaque RPC (spec §9 Open Questions:
// "implementers should not encode either algorithm choice into the core")
// — this package never inspects or depends on whether the far side is
// rule-based or ML-based.
package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/certen/quantum-bridge/pkg/database"
)

// ScoreRequest is the request body sent to the external scorer (spec §6
// "External collaborators": "analyze(request)").
type ScoreRequest struct {
	UserID              uuid.UUID       `json:"user_id"`
	SourceChain         database.ChainID `json:"source_chain"`
	DestChain           database.ChainID `json:"dest_chain"`
	SourceAsset         string          `json:"source_asset"`
	DestAsset           string          `json:"dest_asset"`
	AmountIn            string          `json:"amount_in"`
	Recipient           string          `json:"recipient"`
	UserHistorySnapshot json.RawMessage `json:"user_history_snapshot,omitempty"`
}

// ScoreResponse is the scorer's reply: `{score, level, reasons, approved}`
// per spec §6.
type ScoreResponse struct {
	Score           float64              `json:"score"`
	Level           database.RiskLevel   `json:"level"`
	Reasons         []string             `json:"reasons"`
	Approved        bool                 `json:"approved"`
	AnalyzerVersion string               `json:"analyzer_version"`
}

// Scorer is the external collaborator contract. Implementations MUST honor
// the caller's context deadline; the HTTPScorer below enforces the spec's
// 2s budget independently as a second line of defense.
type Scorer interface {
	Analyze(ctx context.Context, req ScoreRequest) (ScoreResponse, error)
}

// HTTPScorer calls a remote risk-scoring service over HTTP/JSON, mirroring
// the teacher's peer-to-peer HTTP client idiom (pkg/batch/peer_manager.go):
// a *http.Client with a fixed Timeout, context-scoped requests, JSON
// marshal/unmarshal, and raw-message error surfacing.
type HTTPScorer struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPScorer builds an HTTPScorer. timeout should match the spec's 2s
// budget (config.Config.RiskScorerTimeout).
func NewHTTPScorer(endpoint string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPScorer) Analyze(ctx context.Context, req ScoreRequest) (ScoreResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ScoreResponse{}, fmt.Errorf("risk: marshal score request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return ScoreResponse{}, fmt.Errorf("risk: build score request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return ScoreResponse{}, fmt.Errorf("%w: %v", ErrScorerUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ScoreResponse{}, fmt.Errorf("%w: reading body: %v", ErrScorerUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return ScoreResponse{}, fmt.Errorf("%w: status %d: %s", ErrScorerUnavailable, resp.StatusCode, string(respBody))
	}

	var out ScoreResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return ScoreResponse{}, fmt.Errorf("%w: decoding body: %v", ErrScorerUnavailable, err)
	}
	return out, nil
}
