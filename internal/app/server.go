// Package app wires the two halves of the system: the server process that
// owns the authoritative store, and the kiosk process that runs against the
// local cache and reconciles with the server when it can.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"eventreservoir/internal/config"
	"eventreservoir/internal/db"
	"eventreservoir/internal/engine"
	"eventreservoir/internal/mailer"
	"eventreservoir/internal/migrate"
	"eventreservoir/internal/server"
)

// Server bundles everything the serve command needs.
type Server struct {
	DB      *sql.DB
	Engine  engine.Engine
	Mailer  *mailer.Mailer
	Handler http.Handler
	Log     *slog.Logger
}

// NewServer opens the authoritative store, migrates it, and builds the HTTP
// handler.
func NewServer(workspace string, cfg *config.Config, log *slog.Logger) (*Server, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.OpenServer(workspace)
	if err != nil {
		return nil, fmt.Errorf("open server db: %w", err)
	}
	if err := migrate.Server(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate server db: %w", err)
	}

	m := mailer.New(conn, mailer.LogSender{Log: log}, log)
	m.Interval = cfg.Mailer.Interval.Std()
	m.MaxAttempts = cfg.Mailer.MaxAttempts
	e := engine.New(conn, m)

	handler, err := server.New(server.Config{Engine: e, BasePath: cfg.Server.BasePath})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Server{DB: conn, Engine: e, Mailer: m, Handler: handler, Log: log}, nil
}

func (s *Server) Close() error {
	return s.DB.Close()
}
