package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	err   error
	block bool
	calls atomic.Int32
}

func (p *fakeProber) Health(ctx context.Context) error {
	p.calls.Add(1)
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.err
}

func newTestMonitor(p Prober) *Monitor {
	m := New(p, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.ProbeTimeout = 50 * time.Millisecond
	m.Debounce = 20 * time.Millisecond
	return m
}

func TestLinkDownShortCircuits(t *testing.T) {
	p := &fakeProber{}
	m := newTestMonitor(p)
	m.SetLinkUp(false)

	assert.False(t, m.IsOnline(context.Background()))
	assert.Zero(t, p.calls.Load(), "probe must not run while the link is down")

	m.SetLinkUp(true)
	assert.True(t, m.IsOnline(context.Background()))
	assert.EqualValues(t, 1, p.calls.Load())
}

func TestProbeTimeoutBounded(t *testing.T) {
	p := &fakeProber{block: true}
	m := newTestMonitor(p)

	start := time.Now()
	online := m.IsOnline(context.Background())
	elapsed := time.Since(start)

	assert.False(t, online)
	assert.Less(t, elapsed, time.Second, "probe must be bounded by ProbeTimeout")
}

func TestProbeFailureIsOffline(t *testing.T) {
	p := &fakeProber{err: errors.New("connection refused")}
	m := newTestMonitor(p)
	assert.False(t, m.IsOnline(context.Background()))
}

func TestOnBecameOnlineFiresOncePerTransition(t *testing.T) {
	p := &fakeProber{err: errors.New("down")}
	m := newTestMonitor(p)

	var fired atomic.Int32
	m.OnBecameOnline(func() { fired.Add(1) })

	// offline observations never fire
	assert.False(t, m.IsOnline(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fired.Load())

	// transition to online fires once after the debounce window
	p.err = nil
	require.True(t, m.IsOnline(context.Background()))
	require.True(t, m.IsOnline(context.Background()))
	assert.Eventually(t, func() bool { return fired.Load() == 1 },
		time.Second, 5*time.Millisecond)

	// staying online must not fire again
	require.True(t, m.IsOnline(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, fired.Load())
}

func TestFlapCancelsDebounce(t *testing.T) {
	p := &fakeProber{}
	m := newTestMonitor(p)
	m.Debounce = 100 * time.Millisecond

	var fired atomic.Int32
	m.OnBecameOnline(func() { fired.Add(1) })

	p.err = errors.New("down")
	assert.False(t, m.IsOnline(context.Background()))

	// online briefly, then down again before the debounce elapses
	p.err = nil
	require.True(t, m.IsOnline(context.Background()))
	p.err = errors.New("down")
	assert.False(t, m.IsOnline(context.Background()))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, fired.Load(), "flap inside the debounce window must not fire")
}
