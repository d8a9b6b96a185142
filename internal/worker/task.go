// Package worker implements WorkerTask (C3) and WorkerManager (C4): one OS
// process per matched action, supervised through a state machine that reads
// its combined stdout/stderr with a per-line idle timeout and escalates
// through SIGTERM and SIGKILL if the child outlives the pipe-close grace
// period.
package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/armon/circbuf"
	"github.com/google/uuid"

	"github.com/tripwire/logactiond/internal/action"
	"github.com/tripwire/logactiond/internal/dlog"
)

// State names the WorkerTask lifecycle stage, per the task state machine:
// New -> Piped -> Forked -> Reading -> WaitingExit -> Reaped, with a
// Terminating -> Killed branch off WaitingExit.
type State int

const (
	StateNew State = iota
	StatePiped
	StateForked
	StateReading
	StateWaitingExit
	StateTerminating
	StateKilled
	StateReaped
)

// tailBufSize bounds the diagnostic output tail logged when a child exits
// with a non-zero code, independent of how much output has already been
// logged line-by-line as it streamed.
const tailBufSize = 4 * 1024

// Task supervises one external command invocation end to end. Each Task
// belongs to exactly one Manager and is created fresh per ActionRule match
// — there is no pooling or reuse, matching the one-process-per-match
// contract.
type Task struct {
	ID      string
	LogName string
	Action  string
	Command string
	Argv    []string

	idleTimeout time.Duration
	pipeGrace   time.Duration
	termGrace   time.Duration

	logger *dlog.Logger
	mgr    *Manager

	state State
	tail  *circbuf.Buffer
}

// newTask constructs a Task. Called only from Manager.Launch.
func newTask(logName string, rule *action.Rule, argv []string, logger *dlog.Logger, mgr *Manager, idle, pipe, term time.Duration) *Task {
	tail, _ := circbuf.NewBuffer(tailBufSize) // NewBuffer only errors on size <= 0
	return &Task{
		ID:          uuid.NewString(),
		LogName:     logName,
		Action:      rule.Name,
		Command:     rule.Command,
		Argv:        argv,
		idleTimeout: idle,
		pipeGrace:   pipe,
		termGrace:   term,
		logger:      logger,
		mgr:         mgr,
		state:       StateNew,
		tail:        tail,
	}
}

// run drives the Task through its full lifecycle. It is always invoked on
// its own detached goroutine by Manager.Launch; the caller never joins it,
// synchronizing instead through the Manager's gates.
func (t *Task) run(shutdown <-chan struct{}) {
	defer t.mgr.unregister()

	t.state = StatePiped
	pr, pw, err := os.Pipe()
	if err != nil {
		t.logger.Error(fmt.Sprintf("worker: pipe creation failed for action %q: %v", t.Action, err))
		return
	}

	cmd := exec.Command(t.Argv[0], t.Argv[1:]...)
	cmd.Stdin = nil // os/exec wires this to /dev/null automatically
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	t.state = StateForked
	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		t.logger.Error(fmt.Sprintf("worker: start failed for action %q: %v", t.Action, err))
		return
	}
	pw.Close() // parent's copy of the write end; the child keeps its own

	pid := cmd.Process.Pid
	t.logger.Info(fmt.Sprintf("[%s] started %s (%d)", t.Action, t.Command, pid))

	t.state = StateReading
	t.readLoop(pr, pid, shutdown)
	pr.Close()

	exitCode, sig, waitErr := t.waitWithEscalation(cmd, pid)
	t.logTerminalStatus(pid, exitCode, sig, waitErr)
}

// readLoop reads one line at a time from pr, logging each as it arrives
// and resetting the idle timer on every read. It returns when the pipe is
// closed by the child (EOF), when T_idle elapses with no data, or when the
// shutdown gate fires.
func (t *Task) readLoop(pr *os.File, pid int, shutdown <-chan struct{}) {
	lines := make(chan string, 1)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		r := bufio.NewReaderSize(pr, 4096)
		for {
			line, err := r.ReadString('\n')
			if len(line) > 0 {
				select {
				case lines <- trimEOL(line):
				case <-done:
					return
				}
			}
			if err != nil {
				select {
				case readErr <- err:
				case <-done:
				}
				return
			}
		}
	}()

	for {
		select {
		case line := <-lines:
			t.tail.Write([]byte(line + "\n"))
			t.logger.ChildOutput(t.Action, t.Command, pid, line)
		case err := <-readErr:
			if !errors.Is(err, io.EOF) {
				t.logger.Warn(fmt.Sprintf("worker: read error for action %q: %v", t.Action, err))
			}
			return
		case <-time.After(t.idleTimeout):
			t.logger.IdleClose(t.Action, t.Command, pid, int(t.idleTimeout.Seconds()))
			return
		case <-shutdown:
			return
		}
	}
}

// waitWithEscalation enters WaitingExit: a non-blocking-style poll for
// T_pipe, then TERM and a poll for T_term, then KILL and a blocking wait.
// Returns the exit code (-1 if terminated by signal), the terminating
// signal name (empty if the process exited normally), and any Wait error.
func (t *Task) waitWithEscalation(cmd *exec.Cmd, pid int) (exitCode int, sigName string, err error) {
	t.state = StateWaitingExit
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return classifyWaitErr(err)
	case <-time.After(t.pipeGrace):
	}

	t.logger.StillRunning(t.Action, t.Command, pid, "TERM")
	t.state = StateTerminating
	cmd.Process.Signal(syscall.SIGTERM)

	select {
	case err := <-done:
		return classifyWaitErr(err)
	case <-time.After(t.termGrace):
	}

	t.logger.StillRunning(t.Action, t.Command, pid, "KILL")
	t.state = StateKilled
	cmd.Process.Signal(syscall.SIGKILL)
	return classifyWaitErr(<-done)
}

// classifyWaitErr splits a cmd.Wait() error into an exit code or a
// terminating-signal name, matching the normal/non-zero/signalled
// trichotomy the logging contract requires.
func classifyWaitErr(err error) (exitCode int, sigName string, waitErr error) {
	if err == nil {
		return 0, "", nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return -1, ws.Signal().String(), nil
		}
		return exitErr.ExitCode(), "", nil
	}
	return -1, "", err
}

func (t *Task) logTerminalStatus(pid, exitCode int, sigName string, waitErr error) {
	t.state = StateReaped
	switch {
	case waitErr != nil:
		t.logger.Warn(fmt.Sprintf("worker: wait failed for action %q: %v", t.Action, waitErr))
	case sigName != "":
		t.logger.ChildSignalled(t.Action, t.Command, pid, sigName)
	case exitCode == 0:
		t.logger.ChildExit(t.Action, t.Command, pid)
	default:
		t.logger.ChildFailed(t.Action, t.Command, pid, exitCode)
		t.logger.ChildOutputTail(t.Action, t.tail.String())
	}
}

// trimEOL strips a trailing CRLF or LF pair.
func trimEOL(line string) string {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return line[:n]
}
