package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"eventreservoir/internal/db"
	"eventreservoir/internal/engine"
	"eventreservoir/internal/mailer"
	"eventreservoir/internal/migrate"
)

func newTestServer(t *testing.T) (*httptest.Server, engine.Engine) {
	t.Helper()
	conn, err := db.OpenServer(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Server(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(conn, mailer.New(conn, mailer.LogSender{Log: log}, log))
	handler, err := New(Config{Engine: e, BasePath: "/api"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, e
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func seedAttendee(t *testing.T, e engine.Engine, name, email string) string {
	t.Helper()
	results, err := e.Onboard(context.Background(), []engine.OnboardRow{{Name: name, Email: email}})
	if err != nil || len(results) != 1 || results[0].Status != "created" {
		t.Fatalf("seed attendee: %v %+v", err, results)
	}
	return results[0].Code
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	res, data := doJSON(t, http.MethodGet, srv.URL+"/api/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", res.StatusCode, data)
	}
	var body map[string]string
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "online" || body["timestamp"] == "" {
		t.Fatalf("unexpected body: %s", data)
	}
}

func TestCheckinConflictBody(t *testing.T) {
	srv, e := newTestServer(t)
	code := seedAttendee(t, e, "Ada", "ada@example.com")

	res, data := doJSON(t, http.MethodPost, srv.URL+"/api/checkin", map[string]string{"qr_code": code})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first checkin: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, http.MethodPost, srv.URL+"/api/checkin", map[string]string{"qr_code": code})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("repeat checkin: %d %s", res.StatusCode, data)
	}
	var conflict struct {
		Status   string `json:"status"`
		Error    string `json:"error"`
		Attendee struct {
			Code      string `json:"qr_code"`
			CheckedIn bool   `json:"checked_in"`
		} `json:"attendee"`
	}
	if err := json.Unmarshal(data, &conflict); err != nil {
		t.Fatalf("decode conflict: %v: %s", err, data)
	}
	if conflict.Status != "already_distributed" || conflict.Error == "" {
		t.Fatalf("conflict body: %s", data)
	}
	if conflict.Attendee.Code != code {
		t.Fatalf("conflict must carry the attendee: %s", data)
	}
}

func TestScanUnknownCode(t *testing.T) {
	srv, _ := newTestServer(t)
	res, data := doJSON(t, http.MethodPost, srv.URL+"/api/distribute/lunch", map[string]string{"qr_code": "ghost"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d %s", res.StatusCode, data)
	}
}

func TestOfflineSyncSnapshot(t *testing.T) {
	srv, e := newTestServer(t)
	codeA := seedAttendee(t, e, "Ada", "ada@example.com")
	seedAttendee(t, e, "Grace", "grace@example.com")
	if _, err := e.CheckIn(context.Background(), codeA); err != nil {
		t.Fatalf("checkin: %v", err)
	}

	res, data := doJSON(t, http.MethodGet, srv.URL+"/api/offline/sync", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", res.StatusCode, data)
	}
	var body struct {
		Status string `json:"status"`
		Data   []struct {
			Code      string `json:"qr_code"`
			CheckedIn bool   `json:"checked_in"`
		} `json:"data"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "success" || len(body.Data) != 2 || body.Timestamp == "" {
		t.Fatalf("snapshot body: %s", data)
	}
	found := false
	for _, s := range body.Data {
		if s.Code == codeA {
			found = true
			if !s.CheckedIn {
				t.Fatalf("checked-in flag lost in snapshot: %s", data)
			}
		}
	}
	if !found {
		t.Fatalf("attendee missing from snapshot: %s", data)
	}
}

func TestProcessQueueEndpoint(t *testing.T) {
	srv, e := newTestServer(t)
	code := seedAttendee(t, e, "Ada", "ada@example.com")

	payload := map[string]any{
		"actions": []map[string]string{
			{"qr_code": code, "action_type": "lunch_distributed"},
			{"qr_code": "ghost", "action_type": "kit_distributed"},
		},
	}
	res, data := doJSON(t, http.MethodPost, srv.URL+"/api/offline/process-queue", payload)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", res.StatusCode, data)
	}
	var body struct {
		Status  string `json:"status"`
		Results []struct {
			Status string `json:"status"`
			Synced bool   `json:"synced"`
		} `json:"results"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "completed" || len(body.Results) != 2 {
		t.Fatalf("body: %s", data)
	}
	if body.Results[0].Status != "success" || !body.Results[0].Synced {
		t.Fatalf("first result: %s", data)
	}
	if body.Results[1].Status != "error" || body.Results[1].Synced {
		t.Fatalf("second result: %s", data)
	}
}

func TestDashboardStats(t *testing.T) {
	srv, e := newTestServer(t)
	code := seedAttendee(t, e, "Ada", "ada@example.com")
	if _, err := e.CheckIn(context.Background(), code); err != nil {
		t.Fatalf("checkin: %v", err)
	}

	res, data := doJSON(t, http.MethodGet, srv.URL+"/api/dashboard/stats", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status: %d %s", res.StatusCode, data)
	}
	var body struct {
		Stats struct {
			Total     int `json:"total"`
			CheckedIn int `json:"checked_in"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Stats.Total != 1 || body.Stats.CheckedIn != 1 {
		t.Fatalf("stats: %s", data)
	}
}
