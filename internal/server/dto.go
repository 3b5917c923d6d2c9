package server

import (
	"eventreservoir/internal/domain"
	"eventreservoir/internal/engine"
)

type healthBody struct {
	Status    string `json:"status" example:"online"`
	Timestamp string `json:"timestamp"`
}

type snapshotBody struct {
	Status    string                    `json:"status" example:"success"`
	Data      []domain.AttendeeSnapshot `json:"data"`
	Timestamp string                    `json:"timestamp"`
}

type attendeeSnapshotBody struct {
	Status string                  `json:"status" example:"success"`
	Data   domain.AttendeeSnapshot `json:"data"`
}

type processQueueBody struct {
	Actions []domain.SyncAction `json:"actions"`
}

type processQueueResultBody struct {
	Status  string              `json:"status" example:"completed"`
	Results []domain.SyncResult `json:"results"`
}

type scanBody struct {
	Code string `json:"qr_code" minLength:"1"`
}

type scanResultBody struct {
	Status   string          `json:"status" example:"success"`
	Message  string          `json:"message,omitempty"`
	Attendee domain.Attendee `json:"attendee"`
}

type onboardBody struct {
	Rows []engine.OnboardRow `json:"rows" minItems:"1"`
}

type onboardResultBody struct {
	Status  string                 `json:"status" example:"completed"`
	Results []engine.OnboardResult `json:"results"`
}

type attendeeListBody struct {
	Status    string            `json:"status" example:"success"`
	Attendees []domain.Attendee `json:"attendees"`
}

type statsBody struct {
	Status string       `json:"status" example:"success"`
	Stats  domain.Stats `json:"stats"`
}

// conflictError is returned when a scan repeats a transition that already
// happened. It carries the current attendee record so the kiosk can show who
// already collected.
type conflictError struct {
	Status   string          `json:"status" example:"already_distributed"`
	Message  string          `json:"error"`
	Attendee domain.Attendee `json:"attendee"`
}

func (e *conflictError) Error() string  { return e.Message }
func (e *conflictError) GetStatus() int { return 409 }

// apiError is the generic error body for 4xx responses.
type apiError struct {
	StatusCode int    `json:"-"`
	Status     string `json:"status" example:"error"`
	Message    string `json:"error"`
}

func (e *apiError) Error() string  { return e.Message }
func (e *apiError) GetStatus() int { return e.StatusCode }
