package app_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventreservoir/internal/app"
	"eventreservoir/internal/config"
	"eventreservoir/internal/domain"
)

func newTestKiosk(t *testing.T, serverURL string) *app.Kiosk {
	t.Helper()
	cfg := config.Default()
	cfg.Kiosk.ServerURL = serverURL
	cfg.Kiosk.ProbeTimeout = config.Duration(200 * time.Millisecond)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	k, err := app.NewKiosk(t.TempDir(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(func() { k.Close() })
	return k
}

func TestOfflineDistributionQueuesLocally(t *testing.T) {
	// a server that existed once and is now gone
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	k := newTestKiosk(t, url)
	ctx := context.Background()
	require.NoError(t, k.Cache.Put(ctx, domain.AttendeeSnapshot{Code: "qr-1"}))

	res, err := k.DistributeLunch(ctx, "qr-1")
	require.NoError(t, err)
	assert.True(t, res.Offline)

	snap, err := k.Cache.Get(ctx, "qr-1")
	require.NoError(t, err)
	assert.True(t, snap.LunchDistributed)

	n, err := k.Cache.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the same scan again is refused locally
	_, err = k.DistributeLunch(ctx, "qr-1")
	assert.Error(t, err)
}

func TestOfflineCheckinRefusedByDefault(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	k := newTestKiosk(t, url)
	ctx := context.Background()
	require.NoError(t, k.Cache.Put(ctx, domain.AttendeeSnapshot{Code: "qr-1"}))

	_, err := k.CheckIn(ctx, "qr-1")
	assert.ErrorIs(t, err, app.ErrOfflineRefused)

	// with queueing enabled, check-ins behave like distributions
	k.QueueCheckin = true
	res, err := k.CheckIn(ctx, "qr-1")
	require.NoError(t, err)
	assert.True(t, res.Offline)
}

func TestStatusReflectsCacheAndQueue(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	k := newTestKiosk(t, url)
	ctx := context.Background()
	require.NoError(t, k.Cache.Put(ctx, domain.AttendeeSnapshot{Code: "qr-1"}))
	require.NoError(t, k.Cache.Put(ctx, domain.AttendeeSnapshot{Code: "qr-2"}))
	_, err := k.Cache.ApplyAction(ctx, "qr-1", domain.ActionKitDistributed)
	require.NoError(t, err)

	st, err := k.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Online)
	assert.True(t, st.LinkUp)
	assert.Equal(t, 2, st.CachedRecords)
	assert.Equal(t, 1, st.PendingQueue)
}

func TestScanResultShape(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	k := newTestKiosk(t, url)
	ctx := context.Background()
	require.NoError(t, k.Cache.Put(ctx, domain.AttendeeSnapshot{Code: "qr-1"}))

	res, err := k.DistributeKit(ctx, "qr-1")
	require.NoError(t, err)
	assert.Equal(t, "qr-1", res.Code)
	assert.Equal(t, domain.ActionKitDistributed, res.ActionType)
	assert.NotEmpty(t, res.Message)
}
