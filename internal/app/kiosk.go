package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"eventreservoir/internal/backup"
	"eventreservoir/internal/cache"
	"eventreservoir/internal/config"
	"eventreservoir/internal/connectivity"
	"eventreservoir/internal/db"
	"eventreservoir/internal/domain"
	"eventreservoir/internal/migrate"
	"eventreservoir/internal/reconcile"
	"eventreservoir/internal/schedule"
	evrsdk "eventreservoir/sdk/go"
)

// Kiosk bundles the offline-capable scanning station: local cache, SDK
// client, connectivity monitor, reconciler, backup exporter, and the
// scheduler that drives them.
type Kiosk struct {
	DB        *sql.DB
	Cache     *cache.Store
	Client    *evrsdk.Client
	Monitor   *connectivity.Monitor
	Reconcile *reconcile.Engine
	Backup    *backup.Exporter
	Scheduler *schedule.Scheduler
	Config    *config.Config
	Log       *slog.Logger

	// QueueCheckin allows check-in scans to queue offline like
	// distributions. When false an offline check-in is refused.
	QueueCheckin bool
}

// ScanResult is what a scan command reports back to the operator.
type ScanResult struct {
	Code       string `json:"qr_code"`
	ActionType string `json:"action_type"`
	Offline    bool   `json:"offline"`
	Message    string `json:"message"`
}

// ErrOfflineRefused is returned for scan types that may not queue offline.
var ErrOfflineRefused = errors.New("server unreachable and offline queueing is disabled for this action")

// NewKiosk opens the local cache database, migrates it, and wires the sync
// machinery. Call Start to launch the periodic jobs.
func NewKiosk(workspace string, cfg *config.Config, log *slog.Logger) (*Kiosk, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.OpenKiosk(workspace)
	if err != nil {
		return nil, fmt.Errorf("open kiosk db: %w", err)
	}
	if err := migrate.Kiosk(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate kiosk db: %w", err)
	}

	store := cache.New(conn)
	client := evrsdk.New(cfg.Kiosk.ServerURL)
	monitor := connectivity.New(client, log)
	monitor.ProbeTimeout = cfg.Kiosk.ProbeTimeout.Std()
	monitor.Debounce = cfg.Kiosk.OnlineDebounce.Std()
	rec := reconcile.New(store, client, monitor, log)
	exporter := backup.New(store, cfg.BackupDir(workspace), cfg.Kiosk.Backup.Keep, log)

	k := &Kiosk{
		DB:           conn,
		Cache:        store,
		Client:       client,
		Monitor:      monitor,
		Reconcile:    rec,
		Backup:       exporter,
		Config:       cfg,
		Log:          log,
		QueueCheckin: cfg.Kiosk.QueueCheckin,
	}
	return k, nil
}

// Start launches the periodic pull, push, and backup jobs and arms the
// online-transition hook: when connectivity returns, queued work is pushed
// first and then fresh state is pulled, so local writes reach the server
// before its snapshot overwrites the cache.
func (k *Kiosk) Start(ctx context.Context) {
	s := schedule.New(k.Log)
	s.Add("pull", k.Config.Kiosk.PullInterval.Std(), k.Reconcile.Pull)
	s.Add("push", k.Config.Kiosk.PushInterval.Std(), k.Reconcile.Push)
	s.Add("backup", k.Config.Kiosk.BackupInterval.Std(), func(ctx context.Context) (int, error) {
		if _, err := k.Backup.Create(ctx); err != nil {
			return 0, err
		}
		// acknowledged entries are in the backup just written, safe to drop
		n, err := k.Cache.CompactSynced(ctx)
		return int(n), err
	})
	k.Scheduler = s

	k.Monitor.OnBecameOnline(func() {
		k.Log.Info("back online, syncing")
		s.Trigger(ctx, "push")
		s.Trigger(ctx, "pull")
	})
	s.Start(ctx)
}

// Stop shuts the scheduler down and waits for in-flight jobs.
func (k *Kiosk) Stop() {
	if k.Scheduler != nil {
		k.Scheduler.Stop()
	}
}

func (k *Kiosk) Close() error {
	return k.DB.Close()
}

// CheckIn records a check-in, online if possible. Offline check-ins queue
// only when QueueCheckin is enabled.
func (k *Kiosk) CheckIn(ctx context.Context, code string) (ScanResult, error) {
	return k.scan(ctx, code, domain.ActionCheckedIn, k.QueueCheckin, k.Client.CheckIn)
}

// DistributeLunch records a lunch distribution, queueing offline if needed.
func (k *Kiosk) DistributeLunch(ctx context.Context, code string) (ScanResult, error) {
	return k.scan(ctx, code, domain.ActionLunchDistributed, true, k.Client.DistributeLunch)
}

// DistributeKit records a kit distribution, queueing offline if needed.
func (k *Kiosk) DistributeKit(ctx context.Context, code string) (ScanResult, error) {
	return k.scan(ctx, code, domain.ActionKitDistributed, true, k.Client.DistributeKit)
}

// scan tries the server first and falls back to the local cache. Server
// verdicts are authoritative: a conflict or not-found from the server is
// returned as-is, never retried locally. Only transport failures fall back.
func (k *Kiosk) scan(ctx context.Context, code, actionType string, mayQueue bool,
	remote func(ctx context.Context, code string) (evrsdk.Attendee, error)) (ScanResult, error) {

	res := ScanResult{Code: code, ActionType: actionType}
	if k.Monitor.IsOnline(ctx) {
		_, err := remote(ctx, code)
		var apiErr *evrsdk.APIError
		if err == nil || errors.As(err, &apiErr) {
			if err != nil {
				return res, err
			}
			res.Message = fmt.Sprintf("%s recorded on server", actionType)
			return res, nil
		}
		k.Log.Warn("server call failed, falling back to local cache", "err", err)
	}

	if !mayQueue {
		return res, ErrOfflineRefused
	}
	action, err := k.Cache.ApplyAction(ctx, code, actionType)
	if err != nil {
		return res, err
	}
	res.Offline = true
	res.Message = fmt.Sprintf("%s recorded locally, queued as entry %d", actionType, action.ID)
	return res, nil
}

// Status summarizes the kiosk's current sync position.
type Status struct {
	Online        bool `json:"online"`
	LinkUp        bool `json:"link_up"`
	CachedRecords int  `json:"cached_records"`
	PendingQueue  int  `json:"pending_queue"`
}

func (k *Kiosk) Status(ctx context.Context) (Status, error) {
	var st Status
	st.Online = k.Monitor.IsOnline(ctx)
	st.LinkUp = k.Monitor.LinkUp()
	records, err := k.Cache.All(ctx)
	if err != nil {
		return st, err
	}
	st.CachedRecords = len(records)
	st.PendingQueue, err = k.Cache.PendingCount(ctx)
	return st, err
}
