package statusserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/tripwire/logactiond/internal/logconf"
	"github.com/tripwire/logactiond/internal/logfile"
)

// fakeWorkers is a test double for RunningWorkers.
type fakeWorkers struct{ n int }

func (f fakeWorkers) Running() int { return f.n }

func buildSet(t *testing.T, dir string) *logfile.Set {
	t.Helper()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, []byte("line one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	sections := []logconf.Section{
		{Path: path, Actions: []logconf.ActionSpec{{Name: "r1", Pattern: "one", Command: "cmd"}}},
	}
	set, err := logfile.Build(sections, "/bin", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return set
}

func newTestServer(t *testing.T, workers int) http.Handler {
	t.Helper()
	set := buildSet(t, t.TempDir())
	srv := NewServer(set, fakeWorkers{n: workers})
	return NewRouter(srv)
}

func TestHandleHealthzReturns200(t *testing.T) {
	h := newTestServer(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

func TestHandleStatusReportsWorkersAndLogs(t *testing.T) {
	h := newTestServer(t, 3)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body.RunningWorkers != 3 {
		t.Errorf("RunningWorkers = %d, want 3", body.RunningWorkers)
	}
	if body.WatchedLogs != 1 {
		t.Fatalf("WatchedLogs = %d, want 1", body.WatchedLogs)
	}
	if len(body.Logs[0].Rules) != 1 || body.Logs[0].Rules[0].Name != "r1" {
		t.Errorf("unexpected rules in status response: %+v", body.Logs[0].Rules)
	}
}
