// Package server exposes the HTTP API kiosks and operators talk to. Routes
// fall in three groups: scan endpoints (checkin, distribute), the offline
// sync surface (snapshot pull, queue replay), and operator endpoints
// (onboarding, attendee list, dashboard stats).
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"eventreservoir/internal/domain"
	"eventreservoir/internal/engine"
	"eventreservoir/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Now      func() time.Time
}

// New returns an HTTP handler exposing the eventreservoir API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return &apiError{StatusCode: status, Status: "error", Message: msg}
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Event Reservoir API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group, now)
	registerOffline(group, cfg.Engine, now)
	registerScans(group, cfg.Engine)
	registerOnboard(group, cfg.Engine)
	registerDashboard(group, cfg.Engine)

	return router, nil
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return &apiError{StatusCode: http.StatusNotFound, Status: "error", Message: "attendee not found"}
	}
	return &apiError{StatusCode: http.StatusInternalServerError, Status: "error", Message: "internal error"}
}

func registerHealth(api huma.API, now func() time.Time) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body healthBody `json:"body"`
	}, error) {
		return &struct {
			Body healthBody `json:"body"`
		}{Body: healthBody{
			Status:    "online",
			Timestamp: now().UTC().Format(time.RFC3339),
		}}, nil
	})
}

func registerOffline(api huma.API, e engine.Engine, now func() time.Time) {
	huma.Register(api, huma.Operation{
		OperationID: "offline-sync",
		Method:      http.MethodGet,
		Path:        "/offline/sync",
		Summary:     "Full attendee snapshot for kiosk caches",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body snapshotBody `json:"body"`
	}, error) {
		snaps, err := e.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if snaps == nil {
			snaps = []domain.AttendeeSnapshot{}
		}
		return &struct {
			Body snapshotBody `json:"body"`
		}{Body: snapshotBody{
			Status:    "success",
			Data:      snaps,
			Timestamp: now().UTC().Format(time.RFC3339),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "offline-attendee",
		Method:      http.MethodGet,
		Path:        "/offline/attendee/{qrCode}",
		Summary:     "Single attendee sync state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Code string `path:"qrCode"`
	}) (*struct {
		Body attendeeSnapshotBody `json:"body"`
	}, error) {
		a, err := e.Repo.GetAttendeeByCode(ctx, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body attendeeSnapshotBody `json:"body"`
		}{Body: attendeeSnapshotBody{
			Status: "success",
			Data: domain.AttendeeSnapshot{
				Code:             a.Code,
				CheckedIn:        a.CheckedIn,
				LunchDistributed: a.LunchDistributed,
				KitDistributed:   a.KitDistributed,
			},
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-queue",
		Method:      http.MethodPost,
		Path:        "/offline/process-queue",
		Summary:     "Replay queued kiosk actions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body processQueueBody `json:"body"`
	}) (*struct {
		Body processQueueResultBody `json:"body"`
	}, error) {
		results := e.ProcessQueue(ctx, input.Body.Actions)
		return &struct {
			Body processQueueResultBody `json:"body"`
		}{Body: processQueueResultBody{
			Status:  "completed",
			Results: results,
		}}, nil
	})
}

func registerScans(api huma.API, e engine.Engine) {
	type scanOp struct {
		id      string
		path    string
		summary string
		action  string
		run     func(ctx context.Context, code string) (domain.Attendee, error)
	}
	ops := []scanOp{
		{"checkin", "/checkin", "Check an attendee in", domain.ActionCheckedIn, e.CheckIn},
		{"distribute-lunch", "/distribute/lunch", "Distribute lunch", domain.ActionLunchDistributed, e.DistributeLunch},
		{"distribute-kit", "/distribute/kit", "Distribute kit", domain.ActionKitDistributed, e.DistributeKit},
	}
	for _, op := range ops {
		op := op
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        op.path,
			Summary:     op.summary,
			Errors: []int{
				http.StatusNotFound,
				http.StatusConflict,
			},
		}, func(ctx context.Context, input *struct {
			Body scanBody `json:"body"`
		}) (*struct {
			Body scanResultBody `json:"body"`
		}, error) {
			a, err := op.run(ctx, input.Body.Code)
			if errors.Is(err, engine.ErrAlreadyDone) {
				return nil, &conflictError{
					Status:   "already_distributed",
					Message:  fmt.Sprintf("%s already recorded for this attendee", op.action),
					Attendee: a,
				}
			}
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body scanResultBody `json:"body"`
			}{Body: scanResultBody{
				Status:   "success",
				Message:  fmt.Sprintf("%s recorded", op.action),
				Attendee: a,
			}}, nil
		})
	}
}

func registerOnboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "onboard",
		Method:        http.MethodPost,
		Path:          "/onboard",
		Summary:       "Register attendees and issue QR codes",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body onboardBody `json:"body"`
	}) (*struct {
		Body onboardResultBody `json:"body"`
	}, error) {
		results, err := e.Onboard(ctx, input.Body.Rows)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body onboardResultBody `json:"body"`
		}{Body: onboardResultBody{
			Status:  "completed",
			Results: results,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-attendees",
		Method:      http.MethodGet,
		Path:        "/attendees",
		Summary:     "List attendees",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body attendeeListBody `json:"body"`
	}, error) {
		attendees, err := e.Repo.ListAttendees(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if attendees == nil {
			attendees = []domain.Attendee{}
		}
		return &struct {
			Body attendeeListBody `json:"body"`
		}{Body: attendeeListBody{
			Status:    "success",
			Attendees: attendees,
		}}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard-stats",
		Method:      http.MethodGet,
		Path:        "/dashboard/stats",
		Summary:     "Dashboard counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body statsBody `json:"body"`
	}, error) {
		stats, err := e.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body statsBody `json:"body"`
		}{Body: statsBody{
			Status: "success",
			Stats:  stats,
		}}, nil
	})
}
