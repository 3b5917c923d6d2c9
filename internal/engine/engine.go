package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"eventreservoir/internal/domain"
	"eventreservoir/internal/events"
	"eventreservoir/internal/mailer"
	"eventreservoir/internal/repo"
)

// Engine implements the server-side business operations over the
// authoritative store. Every mutation commits its flag update, audit event,
// and notification enqueue in one transaction.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Mailer *mailer.Mailer
	Now    func() time.Time
}

// ErrAlreadyDone reports an idempotent transition whose flag was already
// true. Callers treat it as a conflict, never a failure.
var ErrAlreadyDone = errors.New("already done")

func New(db *sql.DB, m *mailer.Mailer) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Mailer: m,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CheckIn marks an attendee as checked in.
func (e Engine) CheckIn(ctx context.Context, code string) (domain.Attendee, error) {
	return e.apply(ctx, code, domain.ActionCheckedIn, "checkin confirmation")
}

// DistributeLunch marks lunch as collected.
func (e Engine) DistributeLunch(ctx context.Context, code string) (domain.Attendee, error) {
	return e.apply(ctx, code, domain.ActionLunchDistributed, "lunch distribution")
}

// DistributeKit marks the kit as collected.
func (e Engine) DistributeKit(ctx context.Context, code string) (domain.Attendee, error) {
	return e.apply(ctx, code, domain.ActionKitDistributed, "kit distribution")
}

// apply performs one idempotent flag transition. Returns the attendee as it
// was before the write together with ErrAlreadyDone when the flag was
// already set.
func (e Engine) apply(ctx context.Context, code, actionType, emailType string) (domain.Attendee, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Attendee{}, err
	}
	defer tx.Rollback()

	a, err := e.Repo.GetAttendeeByCodeTx(ctx, tx, code)
	if err != nil {
		return domain.Attendee{}, err
	}
	applied, err := e.Repo.SetFlagTx(ctx, tx, code, actionType, e.now())
	if err != nil {
		return domain.Attendee{}, err
	}
	if !applied {
		return a, fmt.Errorf("%s: %w", actionType, ErrAlreadyDone)
	}
	if err := e.Events.Append(ctx, tx, "attendee."+actionType, code, events.EventPayload{"attendee_id": a.ID}); err != nil {
		return domain.Attendee{}, err
	}
	if e.Mailer != nil {
		if err := e.Mailer.Enqueue(ctx, tx, a.ID, emailType); err != nil {
			return domain.Attendee{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Attendee{}, err
	}
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	switch actionType {
	case domain.ActionCheckedIn:
		a.CheckedIn = true
	case domain.ActionLunchDistributed:
		a.LunchDistributed = true
	case domain.ActionKitDistributed:
		a.KitDistributed = true
	}
	return a, nil
}

// Snapshot returns the full offline mirror payload.
func (e Engine) Snapshot(ctx context.Context) ([]domain.AttendeeSnapshot, error) {
	return e.Repo.Snapshot(ctx)
}

// Stats returns dashboard counters.
func (e Engine) Stats(ctx context.Context) (domain.Stats, error) {
	return e.Repo.Stats(ctx)
}

// ProcessQueue resolves a batch of replayed kiosk actions. Entries are
// independent: one bad entry never blocks the rest, and entry order is
// preserved in the results. An already-true flag resolves as a warning with
// synced=true so the kiosk retires the queue entry; replaying the same
// action any number of times converges on the same state.
func (e Engine) ProcessQueue(ctx context.Context, actions []domain.SyncAction) []domain.SyncResult {
	results := make([]domain.SyncResult, 0, len(actions))
	for _, action := range actions {
		results = append(results, e.processOne(ctx, action))
	}
	return results
}

func (e Engine) processOne(ctx context.Context, action domain.SyncAction) domain.SyncResult {
	res := domain.SyncResult{Code: action.Code, ActionType: action.ActionType}
	if action.Code == "" || action.ActionType == "" {
		res.Status = domain.SyncStatusError
		res.Message = "invalid action data"
		return res
	}
	if !domain.ValidAction(action.ActionType) {
		res.Status = domain.SyncStatusError
		res.Message = fmt.Sprintf("unknown action type %q", action.ActionType)
		return res
	}

	a, err := e.Repo.GetAttendeeByCode(ctx, action.Code)
	if errors.Is(err, repo.ErrNotFound) {
		res.Status = domain.SyncStatusError
		res.Message = "attendee not found"
		return res
	}
	if err != nil {
		res.Status = domain.SyncStatusError
		res.Message = "server error processing action"
		return res
	}
	if a.Flag(action.ActionType) {
		res.Status = domain.SyncStatusWarning
		res.Message = fmt.Sprintf("%s already marked", action.ActionType)
		res.Synced = true
		return res
	}

	if err := e.applyQueued(ctx, action.Code, action.ActionType, a.ID); err != nil {
		res.Status = domain.SyncStatusError
		res.Message = "server error processing action"
		return res
	}
	res.Status = domain.SyncStatusSuccess
	res.Message = fmt.Sprintf("%s synced", action.ActionType)
	res.Synced = true
	return res
}

// applyQueued applies a replayed action. Unlike the interactive path it does
// not enqueue an email: the kiosk already gave feedback at scan time.
func (e Engine) applyQueued(ctx context.Context, code, actionType, attendeeID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.SetFlagTx(ctx, tx, code, actionType, e.now()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "attendee."+actionType+".synced", code, events.EventPayload{"attendee_id": attendeeID}); err != nil {
		return err
	}
	return tx.Commit()
}

// OnboardRow is one validated CSV row.
type OnboardRow struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// OnboardResult reports what happened to one row.
type OnboardResult struct {
	Row     int    `json:"row"`
	Code    string `json:"qr_code,omitempty"`
	Status  string `json:"status" enum:"created,skipped,error"`
	Message string `json:"message,omitempty"`
}

// Onboard registers attendees and issues each an opaque unique code. Rows
// are independent; duplicates and invalid rows are reported, not fatal.
func (e Engine) Onboard(ctx context.Context, rows []OnboardRow) ([]OnboardResult, error) {
	results := make([]OnboardResult, 0, len(rows))
	for i, row := range rows {
		results = append(results, e.onboardOne(ctx, i+1, row))
	}
	return results, nil
}

func (e Engine) onboardOne(ctx context.Context, rowNum int, row OnboardRow) OnboardResult {
	res := OnboardResult{Row: rowNum}
	row.Name = strings.TrimSpace(row.Name)
	row.Email = strings.TrimSpace(strings.ToLower(row.Email))
	row.Phone = strings.TrimSpace(row.Phone)
	if row.Name == "" || row.Email == "" {
		res.Status = "error"
		res.Message = "name and email are required"
		return res
	}
	if !strings.Contains(row.Email, "@") {
		res.Status = "error"
		res.Message = fmt.Sprintf("invalid email %q", row.Email)
		return res
	}
	exists, err := e.Repo.AttendeeEmailExists(ctx, row.Email)
	if err != nil {
		res.Status = "error"
		res.Message = err.Error()
		return res
	}
	if exists {
		res.Status = "skipped"
		res.Message = "email already registered"
		return res
	}

	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Attendee{
		ID:        uuid.NewString(),
		Code:      uuid.NewString(),
		Name:      row.Name,
		Email:     row.Email,
		Phone:     row.Phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		res.Status = "error"
		res.Message = err.Error()
		return res
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAttendeeTx(ctx, tx, a); err != nil {
		res.Status = "error"
		res.Message = err.Error()
		return res
	}
	if err := e.Events.Append(ctx, tx, "attendee.onboarded", a.Code, events.EventPayload{"attendee_id": a.ID}); err != nil {
		res.Status = "error"
		res.Message = err.Error()
		return res
	}
	if e.Mailer != nil {
		if err := e.Mailer.Enqueue(ctx, tx, a.ID, "welcome"); err != nil {
			res.Status = "error"
			res.Message = err.Error()
			return res
		}
	}
	if err := tx.Commit(); err != nil {
		res.Status = "error"
		res.Message = err.Error()
		return res
	}
	res.Status = "created"
	res.Code = a.Code
	return res
}
