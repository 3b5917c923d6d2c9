// Package mailer is the outbound notification sink. Callers enqueue an email
// record inside their own transaction (outbox pattern); a background worker
// drains pending records and hands them to a Sender. Delivery is
// fire-and-forget from the caller's point of view: the only contract is that
// the enqueue commits with the mutation that caused it.
package mailer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Sender delivers one notification. The real SMTP implementation lives
// outside this module; LogSender stands in for it.
type Sender interface {
	Send(ctx context.Context, recipient, name, emailType string) error
}

// LogSender records deliveries in the log and always succeeds.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, recipient, name, emailType string) error {
	s.Log.Info("email sent", "to", recipient, "name", name, "type", emailType)
	return nil
}

type Mailer struct {
	DB          *sql.DB
	Sender      Sender
	Log         *slog.Logger
	Interval    time.Duration
	MaxAttempts int
	Now         func() time.Time
}

func New(db *sql.DB, sender Sender, log *slog.Logger) *Mailer {
	return &Mailer{
		DB:          db,
		Sender:      sender,
		Log:         log,
		Interval:    15 * time.Second,
		MaxAttempts: 5,
		Now:         time.Now,
	}
}

// Enqueue inserts a pending email record inside the caller's transaction.
func (m *Mailer) Enqueue(ctx context.Context, tx *sql.Tx, attendeeID, emailType string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO emails(attendee_id,email_type,status,attempts,created_at) VALUES (?,?,'pending',0,?)`,
		attendeeID, emailType, m.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

// Run drains the outbox on a ticker until ctx is cancelled.
func (m *Mailer) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.DrainOnce(ctx); err != nil {
				m.Log.Error("email drain failed", "err", err)
			}
		}
	}
}

type pendingEmail struct {
	id        int64
	emailType string
	attempts  int
	name      string
	recipient string
}

// DrainOnce attempts delivery for every pending record and returns the number
// sent. Failures bump the attempt counter; a record that exhausts
// MaxAttempts is marked failed and left for operator inspection.
func (m *Mailer) DrainOnce(ctx context.Context) (int, error) {
	rows, err := m.DB.QueryContext(ctx,
		`SELECT e.id, e.email_type, e.attempts, a.name, a.email
		 FROM emails e JOIN attendees a ON a.id = e.attendee_id
		 WHERE e.status='pending' ORDER BY e.id ASC`)
	if err != nil {
		return 0, fmt.Errorf("list pending emails: %w", err)
	}
	var pending []pendingEmail
	for rows.Next() {
		var p pendingEmail
		if err := rows.Scan(&p.id, &p.emailType, &p.attempts, &p.name, &p.recipient); err != nil {
			rows.Close()
			return 0, err
		}
		pending = append(pending, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	sent := 0
	for _, p := range pending {
		if err := m.Sender.Send(ctx, p.recipient, p.name, p.emailType); err != nil {
			if err := m.recordFailure(ctx, p, err); err != nil {
				return sent, err
			}
			continue
		}
		if _, err := m.DB.ExecContext(ctx,
			`UPDATE emails SET status='sent', attempts=attempts+1, sent_at=? WHERE id=?`,
			m.Now().UTC().Format(time.RFC3339), p.id); err != nil {
			return sent, fmt.Errorf("mark email sent: %w", err)
		}
		sent++
	}
	return sent, nil
}

func (m *Mailer) recordFailure(ctx context.Context, p pendingEmail, sendErr error) error {
	status := "pending"
	if p.attempts+1 >= m.MaxAttempts {
		status = "failed"
		m.Log.Warn("email giving up", "id", p.id, "to", p.recipient, "attempts", p.attempts+1)
	}
	_, err := m.DB.ExecContext(ctx,
		`UPDATE emails SET status=?, attempts=attempts+1, last_error=? WHERE id=?`,
		status, sendErr.Error(), p.id)
	if err != nil {
		return fmt.Errorf("record email failure: %w", err)
	}
	return nil
}
