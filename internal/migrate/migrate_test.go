package migrate_test

import (
	"testing"

	"eventreservoir/internal/db"
	"eventreservoir/internal/migrate"
)

func TestServerMigrationsIdempotent(t *testing.T) {
	conn, err := db.OpenServer(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	if err := migrate.Server(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrate.Server(conn); err != nil {
		t.Fatalf("second run must be a no-op: %v", err)
	}
	for _, table := range []string{"attendees", "emails", "events"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestKioskMigrationsIdempotent(t *testing.T) {
	conn, err := db.OpenKiosk(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	if err := migrate.Kiosk(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := migrate.Kiosk(conn); err != nil {
		t.Fatalf("second run must be a no-op: %v", err)
	}
	for _, table := range []string{"attendees", "sync_queue"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
