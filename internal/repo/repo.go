package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eventreservoir/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// flagColumns whitelists the status columns reachable from an action type.
// Queue payloads come off the wire, so column names are never interpolated
// from input directly.
var flagColumns = map[string]string{
	domain.ActionCheckedIn:        "checked_in",
	domain.ActionLunchDistributed: "lunch_distributed",
	domain.ActionKitDistributed:   "kit_distributed",
}

const attendeeColumns = `id, qr_code, name, email, COALESCE(phone,'') AS phone,
	checked_in, lunch_distributed, kit_distributed, created_at, updated_at`

func scanAttendee(row *sql.Row) (domain.Attendee, error) {
	var a domain.Attendee
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Email, &a.Phone,
		&a.CheckedIn, &a.LunchDistributed, &a.KitDistributed, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) InsertAttendeeTx(ctx context.Context, tx *sql.Tx, a domain.Attendee) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO attendees(id,qr_code,name,email,phone,checked_in,lunch_distributed,kit_distributed,created_at,updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Code, a.Name, a.Email, nullable(a.Phone),
		a.CheckedIn, a.LunchDistributed, a.KitDistributed, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAttendeeByCode(ctx context.Context, code string) (domain.Attendee, error) {
	return scanAttendee(r.DB.QueryRowContext(ctx,
		`SELECT `+attendeeColumns+` FROM attendees WHERE qr_code=?`, code))
}

func (r Repo) GetAttendeeByCodeTx(ctx context.Context, tx *sql.Tx, code string) (domain.Attendee, error) {
	return scanAttendee(tx.QueryRowContext(ctx,
		`SELECT `+attendeeColumns+` FROM attendees WHERE qr_code=?`, code))
}

func (r Repo) AttendeeEmailExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendees WHERE email=?`, email).Scan(&n)
	return n > 0, err
}

func (r Repo) ListAttendees(ctx context.Context) ([]domain.Attendee, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+attendeeColumns+` FROM attendees ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Attendee
	for rows.Next() {
		var a domain.Attendee
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Email, &a.Phone,
			&a.CheckedIn, &a.LunchDistributed, &a.KitDistributed, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// Snapshot returns the minimal per-attendee field set kiosks mirror locally.
func (r Repo) Snapshot(ctx context.Context) ([]domain.AttendeeSnapshot, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT qr_code, checked_in, lunch_distributed, kit_distributed FROM attendees ORDER BY qr_code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AttendeeSnapshot
	for rows.Next() {
		var s domain.AttendeeSnapshot
		if err := rows.Scan(&s.Code, &s.CheckedIn, &s.LunchDistributed, &s.KitDistributed); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SetFlagTx sets a status flag to true. The WHERE clause refuses the write
// when the flag is already set, so flags stay monotonic and the caller can
// distinguish "applied now" from "already satisfied".
func (r Repo) SetFlagTx(ctx context.Context, tx *sql.Tx, code, actionType string, now time.Time) (bool, error) {
	col, ok := flagColumns[actionType]
	if !ok {
		return false, fmt.Errorf("unknown action type %q", actionType)
	}
	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE attendees SET %s=1, updated_at=? WHERE qr_code=? AND %s=0`, col, col),
		now.UTC().Format(time.RFC3339), code)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// Stats returns the dashboard counters.
func (r Repo) Stats(ctx context.Context) (domain.Stats, error) {
	var s domain.Stats
	err := r.DB.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(checked_in),0),
		COALESCE(SUM(lunch_distributed),0),
		COALESCE(SUM(kit_distributed),0)
		FROM attendees`).Scan(&s.Total, &s.CheckedIn, &s.LunchDistributed, &s.KitDistributed)
	if err != nil {
		return s, err
	}
	err = r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE status='pending'`).Scan(&s.PendingEmails)
	return s, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
