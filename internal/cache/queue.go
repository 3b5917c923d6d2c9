package cache

import (
	"context"
	"fmt"
	"strings"

	"eventreservoir/internal/domain"
)

// ListPending returns unsynced queue entries in insertion order. Replay
// order matters: results come back positionally matched against this order.
func (s *Store) ListPending(ctx context.Context) ([]domain.SyncAction, error) {
	return s.listActions(ctx, `SELECT id, qr_code, action_type, timestamp, synced
		FROM sync_queue WHERE synced=0 ORDER BY id ASC`)
}

// AllActions returns the whole queue, synced entries included, in insertion
// order.
func (s *Store) AllActions(ctx context.Context) ([]domain.SyncAction, error) {
	return s.listActions(ctx, `SELECT id, qr_code, action_type, timestamp, synced
		FROM sync_queue ORDER BY id ASC`)
}

func (s *Store) listActions(ctx context.Context, query string) ([]domain.SyncAction, error) {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actions []domain.SyncAction
	for rows.Next() {
		var a domain.SyncAction
		if err := rows.Scan(&a.ID, &a.Code, &a.ActionType, &a.Timestamp, &a.Synced); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// PendingCount returns how many entries still await acknowledgement.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE synced=0`).Scan(&n)
	return n, err
}

// MarkSynced retires acknowledged entries. Marking an already-synced or
// unknown id is a no-op, so a retried push can safely re-mark.
func (s *Store) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.DB.ExecContext(ctx,
		fmt.Sprintf(`UPDATE sync_queue SET synced=1 WHERE id IN (%s)`, placeholders), args...)
	return err
}

// CompactSynced deletes synced entries and returns how many were removed.
// Pending entries are never touched.
func (s *Store) CompactSynced(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM sync_queue WHERE synced=1`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
