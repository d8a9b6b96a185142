// Package watch implements the change-notification watcher (C7): it keeps
// one file watch per tailed log and one directory watch per distinct
// parent directory, translating raw notification-facility events into
// rescans, watch-registry updates, and shutdown decisions. The filesystem
// notification source is platform-specific (raw inotify on Linux, fsnotify
// elsewhere — see inotify_linux.go and fsnotify_other.go); everything in
// this file is shared, platform-independent event-loop logic.
package watch

import (
	"fmt"

	"github.com/tripwire/logactiond/internal/dlog"
	"github.com/tripwire/logactiond/internal/logfile"
)

// LogicalMask is the notification-facility-independent event classification
// each backend normalizes its raw events into.
type LogicalMask uint32

const (
	Modify LogicalMask = 1 << iota
	Create
	Attrib
	Delete
	MovedFrom
	MovedTo
)

// EventKind distinguishes a filesystem notification from a delivered OS
// signal; both arrive through the same backend-owned event loop.
type EventKind int

const (
	EventFS EventKind = iota
	EventSignal
)

// Signal identifies one of the four signals the watch loop reacts to.
// Backends translate whatever OS signal value they observe into this small
// enum so the shared dispatch logic in Run stays platform-independent.
type Signal int

const (
	SigNone Signal = iota
	SigStop        // TERM or INT: stop the watcher
	SigHup         // HUP: reserved for reload, currently just logged and ignored
	SigUsr1        // USR1: reserved for reload, currently just logged and ignored
)

func (s Signal) String() string {
	switch s {
	case SigStop:
		return "TERM/INT"
	case SigHup:
		return "HUP"
	case SigUsr1:
		return "USR1"
	default:
		return "NONE"
	}
}

// RawEvent is one item yielded by a backend: either a filesystem
// notification (WD/Mask/Name populated) or a delivered signal (Sig
// populated).
type RawEvent struct {
	Kind EventKind
	WD   int
	Mask LogicalMask
	Name string
	Sig  Signal
}

// backend is the platform-specific notification source. Implementations
// live in inotify_linux.go (raw syscalls) and fsnotify_other.go (the
// fsnotify library). Close also causes any blocked Next to return
// ok == false.
type backend interface {
	AddWatch(path string, dir bool) (wd int, err error)
	RemoveWatch(wd int) error
	// Next blocks until an event is available, the backend is closed, or an
	// unrecoverable error occurs. ok is false exactly when the loop should
	// exit (closed or fatal error); err carries the fatal-error case.
	Next() (ev RawEvent, ok bool, err error)
	Close() error
}

// dirEntry tracks every LogFile whose canonical parent directory this
// directory watch covers.
type dirEntry struct {
	dir   string
	files []*logfile.LogFile
}

// Watcher owns the WatchRegistry and drives the single-threaded event loop
// described in the component design: one goroutine reads backend events
// and is the only code that ever touches a LogFile or the registry.
type Watcher struct {
	set    *logfile.Set
	logger *dlog.Logger
	b      backend

	fileWD map[string]int       // canonical file path -> watch descriptor, when watched
	byWD   map[int]*logfile.LogFile
	dirWD  map[string]int       // canonical dir -> watch descriptor
	dirs   map[int]*dirEntry
}

// newBackendFn resolves to the platform backend constructor (see
// inotify_linux.go / fsnotify_other.go). Tests override it to exercise the
// shared dispatch logic below against a fake backend.
var newBackendFn = newBackend

// New builds a Watcher over set, registering one file watch per LogFile and
// one directory watch per distinct parent directory. If neither any
// file-watch nor any directory-watch could be installed, configuration is
// effectively empty and New returns an error.
func New(set *logfile.Set, logger *dlog.Logger) (*Watcher, error) {
	b, err := newBackendFn()
	if err != nil {
		return nil, fmt.Errorf("watch: backend init failed: %w", err)
	}

	w := &Watcher{
		set:    set,
		logger: logger,
		b:      b,
		fileWD: make(map[string]int),
		byWD:   make(map[int]*logfile.LogFile),
		dirWD:  make(map[string]int),
		dirs:   make(map[int]*dirEntry),
	}

	installed := 0
	for _, dir := range set.Dirs() {
		wd, err := b.AddWatch(dir, true)
		if err != nil {
			w.logger.Error("watch: directory watch failed, ALERT", "dir", dir, "error", err)
			continue
		}
		w.dirWD[dir] = wd
		w.dirs[wd] = &dirEntry{dir: dir, files: set.ByDir(dir)}
		installed++
	}
	for _, lf := range set.Files() {
		wd, err := b.AddWatch(lf.CanonicalPath, false)
		if err != nil {
			w.logger.Info("watch: file watch failed, will retry on directory event", "path", lf.CanonicalPath, "error", err)
			continue
		}
		w.fileWD[lf.CanonicalPath] = wd
		w.byWD[wd] = lf
		w.logger.Watching(lf.CanonicalPath)
		installed++
		lf.Scan(false) // catch up on content already present at startup
	}

	if installed == 0 {
		b.Close()
		return nil, fmt.Errorf("watch: no file or directory watch could be installed; configuration is effectively empty")
	}
	return w, nil
}

// Run drains backend events until a stop signal (TERM/INT) is observed or
// the backend reports a fatal error. It returns nil on a clean shutdown
// request and a non-nil error only for an unrecoverable backend failure.
func (w *Watcher) Run() error {
	for {
		ev, ok, err := w.b.Next()
		if !ok {
			if err != nil {
				return fmt.Errorf("watch: event loop failed: %w", err)
			}
			return nil
		}

		switch ev.Kind {
		case EventSignal:
			switch ev.Sig {
			case SigStop:
				w.logger.ReceivedSignal(ev.Sig.String())
				w.shutdown()
				return nil
			case SigHup, SigUsr1:
				w.logger.IgnoringSignal(ev.Sig.String())
			}
		case EventFS:
			w.handleFSEvent(ev)
		}
	}
}

// handleFSEvent implements the dispatch rules from the component design: a
// filename-less MODIFY on a file watch triggers an incremental rescan; a
// named event on a directory watch either tears down or re-establishes the
// corresponding file watch depending on which bits are set.
func (w *Watcher) handleFSEvent(ev RawEvent) {
	if ev.Name == "" {
		if ev.Mask&Modify == 0 {
			return
		}
		lf, ok := w.byWD[ev.WD]
		if !ok {
			return
		}
		lf.Scan(false)
		return
	}

	de, ok := w.dirs[ev.WD]
	if !ok {
		return
	}
	var lf *logfile.LogFile
	for _, cand := range de.files {
		if cand.Base == ev.Name {
			lf = cand
			break
		}
	}
	if lf == nil {
		return
	}

	if ev.Mask&(Delete|MovedFrom) != 0 {
		if wd, watched := w.fileWD[lf.CanonicalPath]; watched {
			w.b.RemoveWatch(wd)
			delete(w.fileWD, lf.CanonicalPath)
			delete(w.byWD, wd)
		}
		lf.Close()
		return
	}

	if ev.Mask&(Create|MovedTo|Attrib) != 0 {
		if _, watched := w.fileWD[lf.CanonicalPath]; watched {
			return
		}
		wd, err := w.b.AddWatch(lf.CanonicalPath, false)
		if err != nil {
			w.logger.Info("watch: file watch retry failed", "path", lf.CanonicalPath, "error", err)
			return
		}
		w.fileWD[lf.CanonicalPath] = wd
		w.byWD[wd] = lf
		w.logger.Watching(lf.CanonicalPath)
		lf.Scan(true)
	}
}

// shutdown removes every watch and releases the notification handle.
func (w *Watcher) shutdown() {
	for wd := range w.byWD {
		w.b.RemoveWatch(wd)
	}
	for wd := range w.dirs {
		w.b.RemoveWatch(wd)
	}
	w.b.Close()
	for _, lf := range w.set.Files() {
		lf.Close()
	}
}
