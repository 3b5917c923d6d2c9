// Package cache is the kiosk's local mirror: an attendees table keyed by QR
// code plus an append-only sync queue of actions the server has not yet
// acknowledged. Every write that touches both tables runs in one SQLite
// transaction: a cache update without its queue entry would be silently
// lost on the next pull.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eventreservoir/internal/domain"
)

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

var (
	// ErrNotFound means the code was never pulled, not that the attendee
	// doesn't exist.
	ErrNotFound = errors.New("attendee not in local cache")
	// ErrAlreadyApplied reports a scan whose flag is already true locally.
	ErrAlreadyApplied = errors.New("already applied")
	// ErrUnknownAction rejects action types outside the known set.
	ErrUnknownAction = errors.New("unknown action type")
)

func New(db *sql.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func scanSnapshot(row *sql.Row) (domain.AttendeeSnapshot, error) {
	var snap domain.AttendeeSnapshot
	var lastUpdated sql.NullString
	err := row.Scan(&snap.Code, &snap.CheckedIn, &snap.LunchDistributed, &snap.KitDistributed, &lastUpdated)
	if err == sql.ErrNoRows {
		return snap, ErrNotFound
	}
	if lastUpdated.Valid {
		snap.LastUpdated = lastUpdated.String
	}
	return snap, err
}

// Get returns the mirrored record for a code.
func (s *Store) Get(ctx context.Context, code string) (domain.AttendeeSnapshot, error) {
	return scanSnapshot(s.DB.QueryRowContext(ctx,
		`SELECT qr_code, checked_in, lunch_distributed, kit_distributed, last_updated
		 FROM attendees WHERE qr_code=?`, code))
}

// Put upserts one snapshot, stamping last_updated.
func (s *Store) Put(ctx context.Context, snap domain.AttendeeSnapshot) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO attendees(qr_code, checked_in, lunch_distributed, kit_distributed, last_updated)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT(qr_code) DO UPDATE SET
			checked_in = excluded.checked_in,
			lunch_distributed = excluded.lunch_distributed,
			kit_distributed = excluded.kit_distributed,
			last_updated = excluded.last_updated`,
		snap.Code, snap.CheckedIn, snap.LunchDistributed, snap.KitDistributed,
		s.now().UTC().Format(time.RFC3339))
	return err
}

// ApplySnapshot replaces mirrored state with a server pull, in one
// transaction: either every record lands or the cache is untouched.
//
// A flag the server still reports false is kept true locally when a pending
// queue entry of that type exists for the code. A pull must never downgrade
// a write the server simply hasn't seen yet.
func (s *Store) ApplySnapshot(ctx context.Context, snaps []domain.AttendeeSnapshot) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	pending, err := pendingActionSet(ctx, tx)
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO attendees(qr_code, checked_in, lunch_distributed, kit_distributed, last_updated)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT(qr_code) DO UPDATE SET
			checked_in = excluded.checked_in,
			lunch_distributed = excluded.lunch_distributed,
			kit_distributed = excluded.kit_distributed,
			last_updated = excluded.last_updated`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := s.now().UTC().Format(time.RFC3339)
	count := 0
	for _, snap := range snaps {
		for _, actionType := range []string{domain.ActionCheckedIn, domain.ActionLunchDistributed, domain.ActionKitDistributed} {
			if pending[pendingKey{snap.Code, actionType}] {
				snap.SetFlag(actionType)
			}
		}
		if _, err := stmt.ExecContext(ctx, snap.Code,
			snap.CheckedIn, snap.LunchDistributed, snap.KitDistributed, now); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", snap.Code, err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

type pendingKey struct {
	code       string
	actionType string
}

func pendingActionSet(ctx context.Context, tx *sql.Tx) (map[pendingKey]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT qr_code, action_type FROM sync_queue WHERE synced=0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := map[pendingKey]bool{}
	for rows.Next() {
		var k pendingKey
		if err := rows.Scan(&k.code, &k.actionType); err != nil {
			return nil, err
		}
		set[k] = true
	}
	return set, rows.Err()
}

// All returns every mirrored record, ordered by code.
func (s *Store) All(ctx context.Context) ([]domain.AttendeeSnapshot, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT qr_code, checked_in, lunch_distributed, kit_distributed, last_updated
		 FROM attendees ORDER BY qr_code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AttendeeSnapshot
	for rows.Next() {
		var snap domain.AttendeeSnapshot
		var lastUpdated sql.NullString
		if err := rows.Scan(&snap.Code, &snap.CheckedIn, &snap.LunchDistributed, &snap.KitDistributed, &lastUpdated); err != nil {
			return nil, err
		}
		if lastUpdated.Valid {
			snap.LastUpdated = lastUpdated.String
		}
		res = append(res, snap)
	}
	return res, rows.Err()
}

// FilterByFlag returns records whose flag matches value; used for dashboard
// counts while offline.
func (s *Store) FilterByFlag(ctx context.Context, actionType string, value bool) ([]domain.AttendeeSnapshot, error) {
	col, ok := flagColumn(actionType)
	if !ok {
		return nil, ErrUnknownAction
	}
	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(
		`SELECT qr_code, checked_in, lunch_distributed, kit_distributed, last_updated
		 FROM attendees WHERE %s=? ORDER BY qr_code ASC`, col), value)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AttendeeSnapshot
	for rows.Next() {
		var snap domain.AttendeeSnapshot
		var lastUpdated sql.NullString
		if err := rows.Scan(&snap.Code, &snap.CheckedIn, &snap.LunchDistributed, &snap.KitDistributed, &lastUpdated); err != nil {
			return nil, err
		}
		if lastUpdated.Valid {
			snap.LastUpdated = lastUpdated.String
		}
		res = append(res, snap)
	}
	return res, rows.Err()
}

// CountByFlag returns how many mirrored records have the flag set.
func (s *Store) CountByFlag(ctx context.Context, actionType string) (int, error) {
	col, ok := flagColumn(actionType)
	if !ok {
		return 0, ErrUnknownAction
	}
	var n int
	err := s.DB.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM attendees WHERE %s=1`, col)).Scan(&n)
	return n, err
}

// ApplyAction is the optimistic local write: set the flag and append the
// outbox entry in one transaction. Returns the queued action with its
// assigned id. ErrAlreadyApplied means the flag was already true locally and
// nothing was queued.
func (s *Store) ApplyAction(ctx context.Context, code, actionType string) (domain.SyncAction, error) {
	if !domain.ValidAction(actionType) {
		return domain.SyncAction{}, ErrUnknownAction
	}
	col, _ := flagColumn(actionType)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.SyncAction{}, err
	}
	defer tx.Rollback()

	snap, err := scanSnapshot(tx.QueryRowContext(ctx,
		`SELECT qr_code, checked_in, lunch_distributed, kit_distributed, last_updated
		 FROM attendees WHERE qr_code=?`, code))
	if err != nil {
		return domain.SyncAction{}, err
	}
	if snap.Flag(actionType) {
		return domain.SyncAction{}, fmt.Errorf("%s for %s: %w", actionType, code, ErrAlreadyApplied)
	}

	ts := s.now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE attendees SET %s=1, last_updated=? WHERE qr_code=?`, col),
		ts, code); err != nil {
		return domain.SyncAction{}, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sync_queue(qr_code, action_type, timestamp, synced) VALUES (?,?,?,0)`,
		code, actionType, ts)
	if err != nil {
		return domain.SyncAction{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.SyncAction{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.SyncAction{}, err
	}
	return domain.SyncAction{ID: id, Code: code, ActionType: actionType, Timestamp: ts}, nil
}

func flagColumn(actionType string) (string, bool) {
	switch actionType {
	case domain.ActionCheckedIn:
		return "checked_in", true
	case domain.ActionLunchDistributed:
		return "lunch_distributed", true
	case domain.ActionKitDistributed:
		return "kit_distributed", true
	}
	return "", false
}
