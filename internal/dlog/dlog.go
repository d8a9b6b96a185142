// Package dlog wraps a *slog.Logger with one method per stable log-line shape
// the daemon promises in its external interface. Callers never format these
// strings themselves: every caller site gets the literal wording guaranteed
// to downstream tooling, while the structured attributes travel alongside it
// for anything that parses the JSON handler's output instead of the message
// text.
package dlog

import (
	"fmt"
	"log/slog"
	"os"
)

// Logger is the daemon-wide structured logger. Create one with New.
type Logger struct {
	base *slog.Logger
}

// New constructs a Logger writing JSON-structured records to w at the given
// minimum level. Passing a nil w defaults to os.Stderr.
func New(w *os.File, level slog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return &Logger{base: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))}
}

// Base returns the underlying *slog.Logger for callers that need arbitrary
// structured log calls outside the stable-format methods below.
func (l *Logger) Base() *slog.Logger { return l.base }

// ParseLevel maps the daemon's "debug"/"info"/"warn"/"error" setting strings
// to a slog.Level, defaulting to Info for any unrecognised value.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Matched logs: `[<logname>]: Action '<action>' matched, executing '<command>'.`
func (l *Logger) Matched(logName, action, command string) {
	l.base.Info(fmt.Sprintf("[%s]: Action '%s' matched, executing '%s'.", logName, action, command),
		slog.String("log", logName), slog.String("action", action), slog.String("command", command))
}

// ChildOutput logs: `[<action>] [<command>:<pid>] <line>`
func (l *Logger) ChildOutput(action, command string, pid int, line string) {
	l.base.Info(fmt.Sprintf("[%s] [%s:%d] %s", action, command, pid, line),
		slog.String("action", action), slog.String("command", command), slog.Int("pid", pid))
}

// ChildExit logs: `[<action>] <command> (<pid>) completed successfully.`
func (l *Logger) ChildExit(action, command string, pid int) {
	l.base.Info(fmt.Sprintf("[%s] %s (%d) completed successfully.", action, command, pid),
		slog.String("action", action), slog.String("command", command), slog.Int("pid", pid))
}

// ChildFailed logs: `[<action>] <command> (<pid>) failed with exit code <n>.`
func (l *Logger) ChildFailed(action, command string, pid, code int) {
	l.base.Warn(fmt.Sprintf("[%s] %s (%d) failed with exit code %d.", action, command, pid, code),
		slog.String("action", action), slog.String("command", command), slog.Int("pid", pid), slog.Int("exit_code", code))
}

// ChildSignalled logs: `[<action>] <command> (<pid>) was terminated by signal <name>.`
func (l *Logger) ChildSignalled(action, command string, pid int, sigName string) {
	l.base.Warn(fmt.Sprintf("[%s] %s (%d) was terminated by signal %s.", action, command, pid, sigName),
		slog.String("action", action), slog.String("command", command), slog.Int("pid", pid), slog.String("signal", sigName))
}

// IdleClose logs: `[<action>] <command> (<pid>) created no output for <n> seconds, closing pipe.`
func (l *Logger) IdleClose(action, command string, pid int, idleSeconds int) {
	l.base.Info(fmt.Sprintf("[%s] %s (%d) created no output for %d seconds, closing pipe.", action, command, pid, idleSeconds),
		slog.String("action", action), slog.String("command", command), slog.Int("pid", pid))
}

// ChildOutputTail logs the last portion of a failed child's combined output,
// for diagnosis when the per-line ChildOutput records have scrolled out of
// whatever log retention the operator keeps.
func (l *Logger) ChildOutputTail(action string, tail string) {
	if tail == "" {
		return
	}
	l.base.Debug(fmt.Sprintf("[%s] output tail:\n%s", action, tail), slog.String("action", action))
}

// StillRunning logs the escalation notices between pipe-close and SIGTERM/SIGKILL.
func (l *Logger) StillRunning(action, command string, pid int, nextSignal string) {
	l.base.Warn(fmt.Sprintf("[%s] %s (%d) still running, sending SIG%s", action, command, pid, nextSignal),
		slog.String("action", action), slog.String("command", command), slog.Int("pid", pid))
}

// Watching logs: `Watching file <path>`
func (l *Logger) Watching(path string) {
	l.base.Info(fmt.Sprintf("Watching file %s", path), slog.String("path", path))
}

// Truncated logs a truncation-detected notice for a log file.
func (l *Logger) Truncated(path string) {
	l.base.Info(fmt.Sprintf("%s: truncation detected", path), slog.String("path", path))
}

// ReceivedSignal logs the shutdown-signal notice.
func (l *Logger) ReceivedSignal(name string) {
	l.base.Info(fmt.Sprintf("Received signal %s: stopping daemon.", name), slog.String("signal", name))
}

// IgnoringSignal logs the reserved-for-reload signal notice.
func (l *Logger) IgnoringSignal(name string) {
	l.base.Info(fmt.Sprintf("Ignoring signal %s", name), slog.String("signal", name))
}

// Draining logs the start of the shutdown drain wait.
func (l *Logger) Draining() {
	l.base.Info("Waiting for pending actions")
}

// DrainPending logs the mid-drain escalation notice.
func (l *Logger) DrainPending(afterSeconds int) {
	l.base.Warn(fmt.Sprintf("Pending actions after %d seconds, closing pipes.", afterSeconds),
		slog.Int("after_seconds", afterSeconds))
}

// DrainTimeout logs a fatal drain-timeout error.
func (l *Logger) DrainTimeout() {
	l.base.Error("drain timeout: workers failed to exit within deadline")
}

// Warn logs a plain warning with no stable-format contract.
func (l *Logger) Warn(msg string, args ...any) { l.base.Warn(msg, args...) }

// Info logs a plain info line with no stable-format contract.
func (l *Logger) Info(msg string, args ...any) { l.base.Info(msg, args...) }

// Error logs a plain error with no stable-format contract.
func (l *Logger) Error(msg string, args ...any) { l.base.Error(msg, args...) }

// Debug logs a plain debug line with no stable-format contract.
func (l *Logger) Debug(msg string, args ...any) { l.base.Debug(msg, args...) }
