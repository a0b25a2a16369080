// Package database defines the row types for the bridge orchestration schema.
// These map directly to the PostgreSQL schema defined in migrations/001_initial_schema.sql.

package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// SWAP STATE MACHINE
// ============================================================================

// SwapStatus is the state-machine status of a Swap (spec §4.5).
type SwapStatus string

const (
	SwapStatusInitialized    SwapStatus = "initialized"
	SwapStatusQuoted         SwapStatus = "quoted"
	SwapStatusRiskChecked    SwapStatus = "risk_checked"
	SwapStatusRiskReview     SwapStatus = "risk_review"
	SwapStatusSourceLocking  SwapStatus = "source_locking"
	SwapStatusSourceLocked   SwapStatus = "source_locked"
	SwapStatusDestIssuing    SwapStatus = "dest_issuing"
	SwapStatusDestIssued     SwapStatus = "dest_issued"
	SwapStatusCompleted      SwapStatus = "completed"
	SwapStatusRefunding      SwapStatus = "refunding"
	SwapStatusRefunded       SwapStatus = "refunded"
	SwapStatusRejected       SwapStatus = "rejected"
	SwapStatusManualRecovery SwapStatus = "manual_recovery"
)

// ChainID identifies one leg of a swap.
type ChainID string

const (
	ChainEVM         ChainID = "evm-sepolia"
	ChainNearFamily  ChainID = "near-testnet"
)

// UserTier gates fee schedule and admin override capability (spec §3, §4.3, §4.4).
type UserTier string

const (
	TierFree    UserTier = "free"
	TierPremium UserTier = "premium"
	TierAdmin   UserTier = "admin"
)

// Swap is the row representation of the core swap aggregate (spec §3 "Swap").
type Swap struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	SourceChain    ChainID
	DestChain      ChainID
	SourceAsset    string
	DestAsset      string
	AmountIn       string // decimal(36,18) stored as string to avoid float rounding
	AmountOut      sql.NullString
	RecipientAddr  string
	QuoteID        uuid.NullUUID
	QuantumKeyID   uuid.NullUUID
	RiskScore      sql.NullFloat64
	RiskFactors    []byte // JSON-encoded ordered list of factor tags
	Status         SwapStatus
	SourceTxRef    sql.NullString
	DestTxRef      sql.NullString
	EncryptedPayload []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    sql.NullTime

	// Deadline bookkeeping for the Supervisor (C8); each is the wall-clock
	// instant by which the named step must complete.
	DeadlineSubmitSource  sql.NullTime
	DeadlineSourceConfirm sql.NullTime
	DeadlineSubmitDest    sql.NullTime
	DeadlineDestConfirm   sql.NullTime
	DeadlineReview        sql.NullTime
}

// NewSwapInput carries the fields needed to create a Swap in Initialized state.
type NewSwapInput struct {
	UserID        uuid.UUID
	SourceChain   ChainID
	DestChain     ChainID
	SourceAsset   string
	DestAsset     string
	AmountIn      string
	RecipientAddr string
}

// ============================================================================
// QUOTE
// ============================================================================

// Quote is the immutable pricing offer referenced by a Swap (spec §3 "Quote").
type Quote struct {
	ID              uuid.UUID
	Pair            string
	AmountIn        string
	AmountOut       string
	ExchangeRate    float64
	FeeBase         int64 // bps
	FeeGas          int64 // bps
	FeeProtocol     int64 // bps
	FeeSlippage     int64 // bps
	PriceImpact     float64
	MaxSlippageBps  int64
	ProviderMix     []byte // JSON-encoded []ProviderWeight
	HighVolatility  bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// ============================================================================
// RISK DECISION
// ============================================================================

// RiskLevel mirrors spec §4.4 thresholds.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RiskAction is the admission decision emitted by the Risk Gate (C6).
type RiskAction string

const (
	RiskActionAllow  RiskAction = "allow"
	RiskActionReview RiskAction = "review"
	RiskActionBlock  RiskAction = "block"
)

// RiskDecision is written once per swap attempt; later re-evaluations append
// new rows but the first gates execution (spec §3 "RiskDecision").
type RiskDecision struct {
	ID             uuid.UUID
	SwapID         uuid.UUID
	Score          float64
	Level          RiskLevel
	Action         RiskAction
	Reasons        []byte // JSON-encoded ordered list of factor tags
	AnalyzerVersion string
	DecidedAt      time.Time
}

// ============================================================================
// REVIEW ENTRY
// ============================================================================

// ReviewState is the monotonic state of an admin review (spec §3 "ReviewEntry").
type ReviewState string

const (
	ReviewStatePending   ReviewState = "pending"
	ReviewStateAssigned  ReviewState = "assigned"
	ReviewStateApproved  ReviewState = "approved"
	ReviewStateRejected  ReviewState = "rejected"
	ReviewStateEscalated ReviewState = "escalated"
	ReviewStateExpired   ReviewState = "expired"
)

// ReviewEntry tracks the admin review pause for a swap in RiskReview.
type ReviewEntry struct {
	ID          uuid.UUID
	SwapID      uuid.UUID
	State       ReviewState
	Assignee    sql.NullString
	Decision    sql.NullString
	Reason      sql.NullString
	CreatedAt   time.Time
	SLADeadline time.Time
	UpdatedAt   time.Time

	// ApprovalCount tracks quorum progress for two-of-N admin overrides
	// (spec §4.4 "above that requires two-of-N admin approvals").
	ApprovalCount int
}

// ============================================================================
// AUDIT RECORD (append-only)
// ============================================================================

// AuditRecord is an append-only log row; never mutated (spec §3 "AuditRecord").
type AuditRecord struct {
	ID          uuid.UUID
	Actor       string
	Action      string
	SubjectKind string
	SubjectID   string
	Before      []byte // JSON, nullable
	After       []byte // JSON, nullable
	At          time.Time
}

// ============================================================================
// PRICE OBSERVATION (cache)
// ============================================================================

// PriceObservation is a price-cache entry keyed by (pair, provider); staleness
// is computed from Timestamp+TTL, never stored as a flag (spec §3, §4.9).
type PriceObservation struct {
	Pair       string
	Provider   string
	Price      float64
	Confidence float64
	Timestamp  time.Time
	TTL        time.Duration
}

// ============================================================================
// QUANTUM KEY
// ============================================================================

// QuantumKeyPurpose scopes "one active per user per purpose" (spec §3 invariant).
type QuantumKeyPurpose string

const (
	PurposeBridgeTx QuantumKeyPurpose = "bridge-tx"
)

// QuantumKey is the per-user post-quantum keypair record (spec §3 "QuantumKey").
type QuantumKey struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	Algorithm         string
	Purpose           QuantumKeyPurpose
	PublicKey         []byte // 1568 bytes, ML-KEM-1024 encapsulation key
	PrivateKeySealed  []byte // ciphertext under the process wrapping key
	Metadata          []byte // JSON, opaque
	CreatedAt         time.Time
	ExpiresAt         sql.NullTime
	Active            bool
	UsageCount        int64
}
