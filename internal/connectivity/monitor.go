// Package connectivity decides whether the kiosk may talk to the server.
// Two signals feed the decision: an operator-settable link state (a kiosk
// whose uplink is known down skips the probe entirely) and a short health
// probe against the server. A debounced callback fires once when the kiosk
// transitions from offline to online so flapping links don't trigger a sync
// storm.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Prober checks reachability of the server. The SDK client implements it.
type Prober interface {
	Health(ctx context.Context) error
}

type Monitor struct {
	Prober       Prober
	Log          *slog.Logger
	ProbeTimeout time.Duration
	Debounce     time.Duration

	mu        sync.Mutex
	linkUp    bool
	wasOnline bool
	onOnline  func()
	debounceT *time.Timer
}

func New(p Prober, log *slog.Logger) *Monitor {
	return &Monitor{
		Prober:       p,
		Log:          log,
		ProbeTimeout: 2 * time.Second,
		Debounce:     2 * time.Second,
		linkUp:       true,
	}
}

// SetLinkUp records the operator-visible link state. When false, IsOnline
// short-circuits without probing.
func (m *Monitor) SetLinkUp(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.linkUp == up {
		return
	}
	m.linkUp = up
	if !up {
		m.wasOnline = false
		if m.debounceT != nil {
			m.debounceT.Stop()
			m.debounceT = nil
		}
	}
}

// LinkUp reports the recorded link state.
func (m *Monitor) LinkUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.linkUp
}

// OnBecameOnline registers fn to run after the monitor observes an
// offline-to-online transition that holds for the debounce window. Only one
// callback is kept.
func (m *Monitor) OnBecameOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = fn
}

// IsOnline reports whether the server is reachable right now. The probe is
// bounded by ProbeTimeout regardless of the caller's context.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	m.mu.Lock()
	if !m.linkUp {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.ProbeTimeout)
	defer cancel()
	online := m.Prober.Health(probeCtx) == nil
	m.observe(online)
	return online
}

func (m *Monitor) observe(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if online == m.wasOnline {
		return
	}
	m.wasOnline = online
	if !online {
		if m.debounceT != nil {
			m.debounceT.Stop()
			m.debounceT = nil
		}
		m.Log.Info("connectivity lost")
		return
	}
	m.Log.Info("connectivity restored", "debounce", m.Debounce)
	fn := m.onOnline
	if fn == nil {
		return
	}
	if m.debounceT != nil {
		m.debounceT.Stop()
	}
	m.debounceT = time.AfterFunc(m.Debounce, fn)
}

// HTTPProber is a minimal standalone prober for callers that don't carry the
// SDK client.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p HTTPProber) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UnhealthyError{Status: resp.StatusCode}
	}
	return nil
}

type UnhealthyError struct {
	Status int
}

func (e *UnhealthyError) Error() string {
	return http.StatusText(e.Status)
}
