package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventreservoir/internal/cache"
	"eventreservoir/internal/db"
	"eventreservoir/internal/domain"
	"eventreservoir/internal/migrate"
)

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	conn, err := db.OpenKiosk(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Kiosk(conn))
	s := cache.New(conn)
	s.Now = func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }
	return s
}

func TestApplyActionSetsFlagAndQueues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, domain.AttendeeSnapshot{Code: "qr-1"}))

	action, err := s.ApplyAction(ctx, "qr-1", domain.ActionLunchDistributed)
	require.NoError(t, err)
	assert.Equal(t, "qr-1", action.Code)
	assert.NotZero(t, action.ID)

	snap, err := s.Get(ctx, "qr-1")
	require.NoError(t, err)
	assert.True(t, snap.LunchDistributed)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.ActionLunchDistributed, pending[0].ActionType)
}

func TestApplyActionAlreadyApplied(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, domain.AttendeeSnapshot{Code: "qr-1"}))

	_, err := s.ApplyAction(ctx, "qr-1", domain.ActionKitDistributed)
	require.NoError(t, err)
	_, err = s.ApplyAction(ctx, "qr-1", domain.ActionKitDistributed)
	assert.ErrorIs(t, err, cache.ErrAlreadyApplied)

	// the refused scan must not have queued anything
	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestApplyActionUnknownCodeAndType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ApplyAction(ctx, "ghost", domain.ActionCheckedIn)
	assert.ErrorIs(t, err, cache.ErrNotFound)

	_, err = s.ApplyAction(ctx, "ghost", "teleport")
	assert.ErrorIs(t, err, cache.ErrUnknownAction)
}

func TestApplySnapshotReplacesState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, domain.AttendeeSnapshot{Code: "qr-1", CheckedIn: true}))

	n, err := s.ApplySnapshot(ctx, []domain.AttendeeSnapshot{
		{Code: "qr-1"},
		{Code: "qr-2", CheckedIn: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// no pending queue entry, so the server's false wins
	snap, err := s.Get(ctx, "qr-1")
	require.NoError(t, err)
	assert.False(t, snap.CheckedIn)

	snap, err = s.Get(ctx, "qr-2")
	require.NoError(t, err)
	assert.True(t, snap.CheckedIn)
}

func TestApplySnapshotKeepsPendingTrue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, domain.AttendeeSnapshot{Code: "qr-1"}))
	_, err := s.ApplyAction(ctx, "qr-1", domain.ActionLunchDistributed)
	require.NoError(t, err)

	// server hasn't seen the queued lunch yet and reports it false
	_, err = s.ApplySnapshot(ctx, []domain.AttendeeSnapshot{
		{Code: "qr-1", CheckedIn: true},
	})
	require.NoError(t, err)

	snap, err := s.Get(ctx, "qr-1")
	require.NoError(t, err)
	assert.True(t, snap.CheckedIn, "server state must land")
	assert.True(t, snap.LunchDistributed, "pending local write must survive the pull")

	n, err := s.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "pull must not touch the queue")
}

func TestMarkSyncedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, domain.AttendeeSnapshot{Code: "qr-1"}))
	a1, err := s.ApplyAction(ctx, "qr-1", domain.ActionCheckedIn)
	require.NoError(t, err)
	a2, err := s.ApplyAction(ctx, "qr-1", domain.ActionLunchDistributed)
	require.NoError(t, err)

	require.NoError(t, s.MarkSynced(ctx, []int64{a1.ID}))
	require.NoError(t, s.MarkSynced(ctx, []int64{a1.ID, 9999}))

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a2.ID, pending[0].ID)
}

func TestPendingOrderIsInsertionOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, domain.AttendeeSnapshot{Code: "qr-1"}))
	require.NoError(t, s.Put(ctx, domain.AttendeeSnapshot{Code: "qr-2"}))

	first, err := s.ApplyAction(ctx, "qr-2", domain.ActionKitDistributed)
	require.NoError(t, err)
	second, err := s.ApplyAction(ctx, "qr-1", domain.ActionCheckedIn)
	require.NoError(t, err)

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestCompactSyncedLeavesPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, domain.AttendeeSnapshot{Code: "qr-1"}))
	a1, err := s.ApplyAction(ctx, "qr-1", domain.ActionCheckedIn)
	require.NoError(t, err)
	_, err = s.ApplyAction(ctx, "qr-1", domain.ActionLunchDistributed)
	require.NoError(t, err)
	require.NoError(t, s.MarkSynced(ctx, []int64{a1.ID}))

	removed, err := s.CompactSynced(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	all, err := s.AllActions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Synced)
}

func TestCountByFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.ApplySnapshot(ctx, []domain.AttendeeSnapshot{
		{Code: "qr-1", CheckedIn: true},
		{Code: "qr-2", CheckedIn: true, LunchDistributed: true},
		{Code: "qr-3"},
	})
	require.NoError(t, err)

	n, err := s.CountByFlag(ctx, domain.ActionCheckedIn)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	remaining, err := s.FilterByFlag(ctx, domain.ActionLunchDistributed, false)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}
