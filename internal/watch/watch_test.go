package watch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tripwire/logactiond/internal/action"
	"github.com/tripwire/logactiond/internal/dlog"
	"github.com/tripwire/logactiond/internal/logconf"
	"github.com/tripwire/logactiond/internal/logfile"
)

// fakeBackend lets the shared dispatch logic in watch.go be exercised
// without depending on a real kernel notification facility, driving file
// events directly rather than waiting on real inotify/kqueue latency.
type fakeBackend struct {
	nextWD  int
	events  chan RawEvent
	closed  bool
	removed []int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{events: make(chan RawEvent, 32)}
}

func (f *fakeBackend) AddWatch(path string, dir bool) (int, error) {
	f.nextWD++
	return f.nextWD, nil
}

func (f *fakeBackend) RemoveWatch(wd int) error {
	f.removed = append(f.removed, wd)
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	close(f.events)
	return nil
}

func (f *fakeBackend) Next() (RawEvent, bool, error) {
	ev, ok := <-f.events
	return ev, ok, nil
}

func testLogger() *dlog.Logger {
	return dlog.New(nil, slog.LevelError+100) // effectively silent
}

func buildTestSet(t *testing.T, dir string) *logfile.Set {
	t.Helper()
	path := filepath.Join(dir, "app.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	sections := []logconf.Section{
		{Path: path, Actions: []logconf.ActionSpec{{Name: "a", Pattern: "foo", Command: "cmd"}}},
	}
	set, err := logfile.Build(sections, "/bin", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return set
}

func TestWatcherNewInstallsWatches(t *testing.T) {
	dir := t.TempDir()
	set := buildTestSet(t, dir)
	fb := newFakeBackend()
	origNewBackend := newBackendFn
	newBackendFn = func() (backend, error) { return fb, nil }
	defer func() { newBackendFn = origNewBackend }()

	w, err := New(set, testLogger())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if len(w.byWD) != 1 {
		t.Fatalf("got %d file watches, want 1", len(w.byWD))
	}
	if len(w.dirs) != 1 {
		t.Fatalf("got %d dir watches, want 1", len(w.dirs))
	}
}

func TestWatcherRunStopsOnSigTerm(t *testing.T) {
	dir := t.TempDir()
	set := buildTestSet(t, dir)
	fb := newFakeBackend()
	origNewBackend := newBackendFn
	newBackendFn = func() (backend, error) { return fb, nil }
	defer func() { newBackendFn = origNewBackend }()

	w, err := New(set, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	fb.events <- RawEvent{Kind: EventSignal, Sig: SigStop}

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after SigStop")
	}
}

func TestHandleFSEventRescansOnModify(t *testing.T) {
	dir := t.TempDir()
	set := buildTestSet(t, dir)
	lf := set.Files()[0]

	var seen []string
	lf.Chain.Append(mustRule(t, "watch", "foo", "cmd"))
	lf.OnLine = func(line string) { seen = append(seen, line) }

	fb := newFakeBackend()
	origNewBackend := newBackendFn
	newBackendFn = func() (backend, error) { return fb, nil }
	defer func() { newBackendFn = origNewBackend }()

	w, err := New(set, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(lf.CanonicalPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("foo bar\n")
	f.Close()

	var wd int
	for k := range w.byWD {
		wd = k
	}
	w.handleFSEvent(RawEvent{Kind: EventFS, WD: wd, Mask: Modify})

	if len(seen) == 0 {
		t.Fatal("expected the appended line to have been dispatched after a MODIFY event")
	}
}

func mustRule(t *testing.T, name, pattern, command string) *action.Rule {
	t.Helper()
	r, err := action.Compile(name, pattern, command)
	if err != nil {
		t.Fatal(err)
	}
	return r
}
