package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordSwapTerminal(t *testing.T) {
	initial := testutil.ToFloat64(SwapsTotal.WithLabelValues("completed", "evm-sepolia", "near-testnet"))
	RecordSwapTerminal("completed", "evm-sepolia", "near-testnet")
	after := testutil.ToFloat64(SwapsTotal.WithLabelValues("completed", "evm-sepolia", "near-testnet"))
	require.Equal(t, initial+1.0, after)
}

func TestRecordRiskDecision(t *testing.T) {
	initial := testutil.ToFloat64(RiskDecisionsTotal.WithLabelValues("block", "high"))
	RecordRiskDecision("block", "high")
	after := testutil.ToFloat64(RiskDecisionsTotal.WithLabelValues("block", "high"))
	require.Equal(t, initial+1.0, after)
}

func TestRecordAdapterSubmitDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		RecordAdapterSubmit("evm-sepolia", "lock", 120*time.Millisecond)
	})
}

func TestRecordEventBusLagged(t *testing.T) {
	initial := testutil.ToFloat64(EventBusLaggedTotal.WithLabelValues("swap-1"))
	RecordEventBusLagged("swap-1")
	after := testutil.ToFloat64(EventBusLaggedTotal.WithLabelValues("swap-1"))
	require.Equal(t, initial+1.0, after)
}
