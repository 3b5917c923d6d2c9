// Package reconcile moves state between the kiosk cache and the server.
// Pull replaces the local mirror with a server snapshot; Push replays the
// outbox in insertion order and retires acknowledged entries. Each protocol
// is single-flight: a second pull (or push) while one is running is refused,
// not queued.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"eventreservoir/internal/cache"
	"eventreservoir/internal/domain"
	evrsdk "eventreservoir/sdk/go"
)

// ServerAPI is the slice of the SDK the engine needs.
type ServerAPI interface {
	OfflineSnapshot(ctx context.Context) ([]evrsdk.Snapshot, error)
	ProcessQueue(ctx context.Context, actions []evrsdk.QueueAction) ([]evrsdk.QueueResult, error)
}

// Gate answers whether the server is reachable before a cycle starts.
type Gate interface {
	IsOnline(ctx context.Context) bool
}

var (
	// ErrOffline means the cycle was skipped because the server is
	// unreachable. Queued work is untouched.
	ErrOffline = errors.New("server unreachable")
	// ErrSyncInFlight means another cycle of the same protocol is running.
	ErrSyncInFlight = errors.New("sync already in flight")
)

type Engine struct {
	Cache   *cache.Store
	Client  ServerAPI
	Monitor Gate
	Log     *slog.Logger

	pullMu sync.Mutex
	pushMu sync.Mutex
}

func New(store *cache.Store, client ServerAPI, monitor Gate, log *slog.Logger) *Engine {
	return &Engine{Cache: store, Client: client, Monitor: monitor, Log: log}
}

// Pull fetches the full server snapshot and applies it to the cache in one
// local transaction. Returns the number of records applied.
func (e *Engine) Pull(ctx context.Context) (int, error) {
	if !e.pullMu.TryLock() {
		return 0, ErrSyncInFlight
	}
	defer e.pullMu.Unlock()

	if !e.Monitor.IsOnline(ctx) {
		return 0, ErrOffline
	}
	snaps, err := e.Client.OfflineSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch snapshot: %w", err)
	}
	records := make([]domain.AttendeeSnapshot, len(snaps))
	for i, s := range snaps {
		records[i] = domain.AttendeeSnapshot{
			Code:             s.Code,
			CheckedIn:        s.CheckedIn,
			LunchDistributed: s.LunchDistributed,
			KitDistributed:   s.KitDistributed,
		}
	}
	n, err := e.Cache.ApplySnapshot(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("apply snapshot: %w", err)
	}
	e.Log.Info("pull complete", "records", n)
	return n, nil
}

// Push replays pending outbox entries in insertion order and marks entries
// the server acknowledged. Returns the number of entries retired. Entries
// the server reported as errors stay pending for the next cycle.
func (e *Engine) Push(ctx context.Context) (int, error) {
	if !e.pushMu.TryLock() {
		return 0, ErrSyncInFlight
	}
	defer e.pushMu.Unlock()

	if !e.Monitor.IsOnline(ctx) {
		return 0, ErrOffline
	}
	pending, err := e.Cache.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	actions := make([]evrsdk.QueueAction, len(pending))
	for i, p := range pending {
		actions[i] = evrsdk.QueueAction{Code: p.Code, ActionType: p.ActionType, Timestamp: p.Timestamp}
	}
	results, err := e.Client.ProcessQueue(ctx, actions)
	if err != nil {
		return 0, fmt.Errorf("process queue: %w", err)
	}

	retired := matchResults(pending, results)
	if err := e.Cache.MarkSynced(ctx, retired); err != nil {
		return 0, fmt.Errorf("mark synced: %w", err)
	}
	for _, r := range results {
		if r.Status == domain.SyncStatusError {
			e.Log.Warn("queue entry not accepted", "code", r.Code, "action", r.ActionType, "message", r.Message)
		}
	}
	e.Log.Info("push complete", "sent", len(pending), "retired", len(retired))
	return len(retired), nil
}

// matchResults pairs server results with queue entries by (code, action type),
// consuming results first-in first-out. Duplicate entries for the same code
// and type therefore retire oldest-first, one per acknowledging result, and a
// result can never retire two entries.
func matchResults(pending []domain.SyncAction, results []evrsdk.QueueResult) []int64 {
	type key struct {
		code       string
		actionType string
	}
	byKey := map[key][]evrsdk.QueueResult{}
	for _, r := range results {
		k := key{r.Code, r.ActionType}
		byKey[k] = append(byKey[k], r)
	}

	var retired []int64
	for _, p := range pending {
		k := key{p.Code, p.ActionType}
		queue := byKey[k]
		if len(queue) == 0 {
			continue
		}
		r := queue[0]
		byKey[k] = queue[1:]
		if r.Synced {
			retired = append(retired, p.ID)
		}
	}
	return retired
}
