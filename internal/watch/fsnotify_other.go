// Non-Linux notification backend: github.com/fsnotify/fsnotify. The
// daemon's sibling agent binary falls back to a polling FileWatcher on
// these platforms; this backend upgrades that fallback to a real kernel
// notification library (kqueue on BSD/Darwin, ReadDirectoryChangesW on
// Windows) since the rest of the retrieved dependency pack shows that's
// the idiomatic Go answer, not polling.
//
//go:build !linux

package watch

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
)

type fsnotifyBackend struct {
	w *fsnotify.Watcher

	sigCh chan os.Signal

	mu        sync.Mutex
	fileWD    map[string]int // watched file path -> synthetic wd
	dirWD     map[string]int // watched directory path -> synthetic wd
	wdToPath  map[int]string
	closed    bool
}

func newBackend() (backend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	b := &fsnotifyBackend{
		w:        w,
		fileWD:   make(map[string]int),
		dirWD:    make(map[string]int),
		wdToPath: make(map[int]string),
	}
	b.sigCh = make(chan os.Signal, 8)
	signal.Notify(b.sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)
	return b, nil
}

func (b *fsnotifyBackend) AddWatch(path string, dir bool) (int, error) {
	if err := b.w.Add(path); err != nil {
		return 0, err
	}
	wd := pathHash(path)
	b.mu.Lock()
	if dir {
		b.dirWD[path] = wd
	} else {
		b.fileWD[path] = wd
	}
	b.wdToPath[wd] = path
	b.mu.Unlock()
	return wd, nil
}

func (b *fsnotifyBackend) RemoveWatch(wd int) error {
	b.mu.Lock()
	path, ok := b.wdToPath[wd]
	if ok {
		delete(b.wdToPath, wd)
		delete(b.fileWD, path)
		delete(b.dirWD, path)
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return b.w.Remove(path)
}

func (b *fsnotifyBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	signal.Stop(b.sigCh)
	close(b.sigCh)
	return b.w.Close()
}

func (b *fsnotifyBackend) Next() (RawEvent, bool, error) {
	for {
		select {
		case sig, ok := <-b.sigCh:
			if !ok {
				return RawEvent{}, false, nil
			}
			var s Signal
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				s = SigStop
			case syscall.SIGHUP:
				s = SigHup
			case syscall.SIGUSR1:
				s = SigUsr1
			default:
				continue
			}
			return RawEvent{Kind: EventSignal, Sig: s}, true, nil

		case ev, ok := <-b.w.Events:
			if !ok {
				return RawEvent{}, false, nil
			}
			raw, matched := b.translate(ev)
			if !matched {
				continue
			}
			return raw, true, nil

		case err, ok := <-b.w.Errors:
			if !ok {
				return RawEvent{}, false, nil
			}
			return RawEvent{}, false, fmt.Errorf("fsnotify: %w", err)
		}
	}
}

// translate maps an fsnotify.Event (which always carries a full path) into
// the same (wd, mask, name) shape the shared dispatch logic in watch.go
// expects from the Linux backend: a bare file-watch self-event (Name ==
// ""), or a directory-watch event naming the affected child's basename.
func (b *fsnotifyBackend) translate(ev fsnotify.Event) (RawEvent, bool) {
	var lm LogicalMask
	switch {
	case ev.Op&fsnotify.Write != 0:
		lm = Modify
	case ev.Op&fsnotify.Create != 0:
		lm = Create
	case ev.Op&fsnotify.Remove != 0:
		lm = Delete
	case ev.Op&fsnotify.Rename != 0:
		lm = MovedFrom
	case ev.Op&fsnotify.Chmod != 0:
		lm = Attrib
	default:
		return RawEvent{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if wd, ok := b.fileWD[ev.Name]; ok {
		return RawEvent{Kind: EventFS, WD: wd, Mask: lm, Name: ""}, true
	}
	dir := filepath.Dir(ev.Name)
	if wd, ok := b.dirWD[dir]; ok {
		return RawEvent{Kind: EventFS, WD: wd, Mask: lm, Name: filepath.Base(ev.Name)}, true
	}
	return RawEvent{}, false
}

// pathHash gives a small positive int derived from path, standing in for
// the watch-descriptor identity the shared dispatch logic expects. It need
// only be stable and distinct per distinct path within one process run.
func pathHash(path string) int {
	h := 2166136261
	for i := 0; i < len(path); i++ {
		h = (h ^ int(path[i])) * 16777619
	}
	if h < 0 {
		h = -h
	}
	return h
}
