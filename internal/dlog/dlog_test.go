package dlog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func readLine(t *testing.T, r *os.File, w *os.File) map[string]any {
	t.Helper()
	w.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(buf.String())
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("log line is not valid JSON: %v\nline: %s", err, line)
	}
	return rec
}

func TestMatchedLogLineFormat(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	l := New(w, slog.LevelDebug)
	l.Matched("app.log", "sshfail", "ban-ip")
	rec := readLine(t, r, w)
	want := "[app.log]: Action 'sshfail' matched, executing 'ban-ip'."
	if rec["msg"] != want {
		t.Errorf("msg = %q, want %q", rec["msg"], want)
	}
}

func TestChildExitLogLineFormat(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	l := New(w, slog.LevelDebug)
	l.ChildExit("sshfail", "ban-ip", 4242)
	rec := readLine(t, r, w)
	want := "[sshfail] ban-ip (4242) completed successfully."
	if rec["msg"] != want {
		t.Errorf("msg = %q, want %q", rec["msg"], want)
	}
}

func TestChildFailedLogLineFormat(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	l := New(w, slog.LevelDebug)
	l.ChildFailed("sshfail", "ban-ip", 4242, 3)
	rec := readLine(t, r, w)
	want := "[sshfail] ban-ip (4242) failed with exit code 3."
	if rec["msg"] != want {
		t.Errorf("msg = %q, want %q", rec["msg"], want)
	}
}

func TestChildSignalledLogLineFormat(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	l := New(w, slog.LevelDebug)
	l.ChildSignalled("sshfail", "ban-ip", 4242, "TERM")
	rec := readLine(t, r, w)
	want := "[sshfail] ban-ip (4242) was terminated by signal TERM."
	if rec["msg"] != want {
		t.Errorf("msg = %q, want %q", rec["msg"], want)
	}
}

func TestIdleCloseLogLineFormat(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	l := New(w, slog.LevelDebug)
	l.IdleClose("sshfail", "ban-ip", 4242, 120)
	rec := readLine(t, r, w)
	want := "[sshfail] ban-ip (4242) created no output for 120 seconds, closing pipe."
	if rec["msg"] != want {
		t.Errorf("msg = %q, want %q", rec["msg"], want)
	}
}

func TestReceivedSignalLogLineFormat(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	l := New(w, slog.LevelDebug)
	l.ReceivedSignal("TERM/INT")
	rec := readLine(t, r, w)
	want := "Received signal TERM/INT: stopping daemon."
	if rec["msg"] != want {
		t.Errorf("msg = %q, want %q", rec["msg"], want)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
