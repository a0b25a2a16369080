package supervisor

import (
	"context"
	"database/sql"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/certen/quantum-bridge/pkg/database"
)

type fakeEngine struct {
	rejected  []uuid.UUID
	refunded  []uuid.UUID
	recovered []uuid.UUID
}

func (f *fakeEngine) ForceReject(_ context.Context, s *database.Swap) error {
	f.rejected = append(f.rejected, s.ID)
	return nil
}

func (f *fakeEngine) ForceRefund(_ context.Context, s *database.Swap) error {
	f.refunded = append(f.refunded, s.ID)
	return nil
}

func (f *fakeEngine) ForceManualRecovery(_ context.Context, s *database.Swap) error {
	f.recovered = append(f.recovered, s.ID)
	return nil
}

func (f *fakeEngine) ResumeFromReview(_ context.Context, s *database.Swap, approved bool) error {
	if !approved {
		f.rejected = append(f.rejected, s.ID)
	}
	return nil
}

func TestDeadlineForReturnsFieldMatchingStatus(t *testing.T) {
	past := time.Now().Add(-time.Hour)

	s := &database.Swap{
		Status:                database.SwapStatusSourceLocking,
		DeadlineSourceConfirm: sql.NullTime{Time: past, Valid: true},
	}
	d, ok := deadlineFor(s)
	require.True(t, ok)
	require.Equal(t, past, d)

	s2 := &database.Swap{Status: database.SwapStatusCompleted}
	_, ok = deadlineFor(s2)
	require.False(t, ok, "terminal states have no supervised deadline")
}

func TestOnExpiredDispatchesByStatus(t *testing.T) {
	ctx := context.Background()
	eng := &fakeEngine{}
	sup := &Supervisor{engine: eng, logger: testLogger()}

	riskChecked := &database.Swap{ID: uuid.New(), Status: database.SwapStatusRiskChecked}
	require.NoError(t, sup.onExpired(ctx, riskChecked))
	require.Contains(t, eng.rejected, riskChecked.ID)

	sourceLocking := &database.Swap{ID: uuid.New(), Status: database.SwapStatusSourceLocking}
	require.NoError(t, sup.onExpired(ctx, sourceLocking))
	require.Contains(t, eng.rejected, sourceLocking.ID)

	sourceLocked := &database.Swap{ID: uuid.New(), Status: database.SwapStatusSourceLocked}
	require.NoError(t, sup.onExpired(ctx, sourceLocked))
	require.Contains(t, eng.refunded, sourceLocked.ID)

	destIssuing := &database.Swap{ID: uuid.New(), Status: database.SwapStatusDestIssuing}
	require.NoError(t, sup.onExpired(ctx, destIssuing))
	require.Contains(t, eng.refunded, destIssuing.ID)

	refunding := &database.Swap{ID: uuid.New(), Status: database.SwapStatusRefunding}
	require.NoError(t, sup.onExpired(ctx, refunding))
	require.Contains(t, eng.recovered, refunding.ID)
}

func TestOnExpiredIsNoOpForUnsupervisedStatus(t *testing.T) {
	ctx := context.Background()
	eng := &fakeEngine{}
	sup := &Supervisor{engine: eng, logger: testLogger()}

	completed := &database.Swap{ID: uuid.New(), Status: database.SwapStatusCompleted}
	require.NoError(t, sup.onExpired(ctx, completed))
	require.Empty(t, eng.rejected)
	require.Empty(t, eng.refunded)
	require.Empty(t, eng.recovered)
}

func TestClockSkewToleranceMatchesSpec(t *testing.T) {
	require.Equal(t, 30*time.Second, ClockSkewTolerance)
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "[test] ", 0)
}
