package auditmirror

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/certen/quantum-bridge/pkg/database"
)

func TestNewDisabledIsNoOp(t *testing.T) {
	m, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.False(t, m.IsEnabled())
}

func TestMirrorDisabledReturnsNilWithoutClient(t *testing.T) {
	m, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	rec := &database.AuditRecord{
		ID:          uuid.New(),
		Actor:       "supervisor",
		Action:      "reject",
		SubjectKind: "swap",
		SubjectID:   uuid.New().String(),
		At:          time.Now(),
	}
	require.NoError(t, m.Mirror(context.Background(), rec))
}

func TestHealthDisabledAlwaysHealthy(t *testing.T) {
	m, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, m.Health(context.Background()))
}

func TestNewEnabledWithoutProjectIDErrors(t *testing.T) {
	_, err := New(context.Background(), &Config{Enabled: true})
	require.Error(t, err)
}

func TestMirrorAsyncDisabledDoesNotPanic(t *testing.T) {
	m, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	rec := &database.AuditRecord{ID: uuid.New(), Action: "noop", At: time.Now()}
	require.NotPanics(t, func() { m.MirrorAsync(rec) })
}
