// Package logfile implements the tail reader (C5) and the ordered,
// dedup-by-path collection of tailed files (C6). A LogFile is owned
// exclusively by whichever goroutine calls Scan — the package does no
// internal locking, mirroring the single-owner invariant the orchestrator
// upholds by running the whole watch loop on one goroutine.
package logfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/tripwire/logactiond/internal/action"
)

// rewindThreshold: files smaller than this are scanned from the start on
// open, so a freshly rotated, still-short file is read in full rather than
// from its (empty) end.
const rewindThreshold = 8 * 1024

// scanBufSize bounds a single read. A partial line is carried over between
// reads, and once the carried bytes exceed scanBufSize with no newline, the
// first scanBufSize of them are delivered as a line of their own. A line
// longer than scanBufSize is therefore delivered whole or in pieces
// depending on where reads happen to split it; there is no reassembly
// guarantee.
const scanBufSize = 4 * 1024

// LogFile tails one file by path, keeping a read offset that advances with
// each read and is reset on every (re)open, and feeding each complete line
// it observes to
// OnLine. All mutation (OpenOrWait, Scan, Close) must be serialized on a
// single goroutine (the watcher loop) — that is still not safe for
// concurrent callers. Offset and IsOpen are the exception: they're read by
// the status surface from arbitrary HTTP-handler goroutines, so the
// underlying state they expose is held in atomics rather than plain fields.
type LogFile struct {
	CanonicalPath string
	Dir           string // canonical parent directory
	Base          string

	Chain *action.Chain

	// OnLine is invoked once per line, in order, with CR/LF already
	// stripped. The daemon wires it to Chain.Dispatch with the launcher,
	// match logger, and warning sink it holds; LogFile itself knows nothing
	// about those collaborators, only that a line arrived.
	OnLine func(line string)

	f       *os.File
	offset  atomic.Int64
	open    atomic.Bool
	pending []byte // bytes read but not yet split into a complete line

	logger *slog.Logger
}

// New returns a LogFile for canonicalPath with an initially empty Chain.
// canonicalPath must already be resolved (symlinks followed, no "..").
func New(canonicalPath string, logger *slog.Logger) *LogFile {
	return &LogFile{
		CanonicalPath: canonicalPath,
		Dir:           filepath.Dir(canonicalPath),
		Base:          filepath.Base(canonicalPath),
		Chain:         action.NewChain(),
		logger:        logger,
	}
}

// IsOpen reports whether the file currently has an open handle. Safe to
// call from any goroutine.
func (lf *LogFile) IsOpen() bool { return lf.open.Load() }

// Offset returns the current read offset. Safe to call from any goroutine.
func (lf *LogFile) Offset() int64 { return lf.offset.Load() }

// OpenOrWait attempts to open the file for reading. On success the file is
// set non-blocking and positioned at end-of-file, unless its current size
// is under rewindThreshold, in which case the read position (and offset)
// starts at 0 so a short freshly-rotated file is scanned in full. On
// failure it logs a notice and leaves the LogFile closed; callers are
// expected to retry on the next directory event.
func (lf *LogFile) OpenOrWait() error {
	f, err := os.Open(lf.CanonicalPath)
	if err != nil {
		lf.logger.Info("log file open failed, will retry on next watch event",
			slog.String("path", lf.CanonicalPath), slog.Any("error", err))
		return nil
	}
	if err := syscall.SetNonblock(int(f.Fd()), true); err != nil {
		f.Close()
		return fmt.Errorf("logfile: set nonblock on %q: %w", lf.CanonicalPath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logfile: stat %q: %w", lf.CanonicalPath, err)
	}

	var pos int64
	if info.Size() >= rewindThreshold {
		pos, err = f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return fmt.Errorf("logfile: seek end %q: %w", lf.CanonicalPath, err)
		}
	}

	lf.f = f
	lf.offset.Store(pos)
	lf.pending = lf.pending[:0]
	lf.open.Store(true)
	return nil
}

// Close closes the current handle, if any. The next Scan will reopen.
func (lf *LogFile) Close() {
	if lf.f != nil {
		lf.f.Close()
		lf.f = nil
		lf.open.Store(false)
	}
}

// Scan reads and dispatches as many complete lines as are currently
// available. If reopen is set, the file is closed and reopened first
// (used after a rename/create watch event). Otherwise, if the file is not
// open, Scan attempts to open it. Once open, Scan stats the file: if its
// size is smaller than the current read offset, truncation is logged, the
// file is reopened positioned at its end, and Scan returns without
// reading. Reads stop at the first EAGAIN/EWOULDBLOCK/EOF (benign) or at
// the first non-benign error (logged as a warning; current watches are
// kept so the caller can retry on the next event).
func (lf *LogFile) Scan(reopen bool) error {
	if reopen {
		lf.Close()
	}
	if lf.f == nil {
		if err := lf.OpenOrWait(); err != nil {
			return err
		}
		if lf.f == nil {
			return nil // still absent; caller retries on next event
		}
	}

	info, err := lf.f.Stat()
	if err != nil {
		lf.logger.Warn("logfile: stat failed mid-scan", slog.String("path", lf.CanonicalPath), slog.Any("error", err))
		return nil
	}
	if info.Size() < lf.offset.Load() {
		lf.logger.Info(fmt.Sprintf("%s: truncation detected", lf.CanonicalPath), slog.String("path", lf.CanonicalPath))
		lf.Close()
		if err := lf.OpenOrWait(); err != nil || lf.f == nil {
			return err
		}
		// OpenOrWait rewinds short files; after truncation the remaining
		// bytes predate the truncation, so skip them.
		pos, err := lf.f.Seek(0, io.SeekEnd)
		if err != nil {
			return fmt.Errorf("logfile: seek end %q: %w", lf.CanonicalPath, err)
		}
		lf.offset.Store(pos)
		return nil
	}

	buf := make([]byte, scanBufSize)
	for {
		n, err := lf.f.Read(buf)
		if n > 0 {
			lf.offset.Add(int64(n))
			lf.pending = append(lf.pending, buf[:n]...)
			lf.drainCompleteLines()
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.ENOENT) {
				return nil
			}
			lf.logger.Warn("logfile: read error", slog.String("path", lf.CanonicalPath), slog.Any("error", err))
			return nil
		}
		if n == 0 {
			return nil
		}
	}
}

// drainCompleteLines splits lf.pending on '\n', dispatching each complete
// line and leaving any trailing partial line in lf.pending for the next
// read. If the pending buffer grows beyond scanBufSize with no newline in
// sight, the oldest scanBufSize bytes are flushed as a line on their own —
// the documented no-reassembly behavior for over-long lines.
func (lf *LogFile) drainCompleteLines() {
	for {
		idx := bytes.IndexByte(lf.pending, '\n')
		if idx < 0 {
			break
		}
		line := lf.pending[:idx]
		lf.deliver(trimTrailingCR(line))
		lf.pending = lf.pending[idx+1:]
	}
	for len(lf.pending) > scanBufSize {
		lf.deliver(lf.pending[:scanBufSize])
		lf.pending = lf.pending[scanBufSize:]
	}
}

func (lf *LogFile) deliver(line []byte) {
	if lf.OnLine != nil {
		lf.OnLine(string(line))
	}
}

// trimTrailingCR strips a single trailing '\r' byte, if present.
func trimTrailingCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}
