package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/tripwire/logactiond/internal/action"
	"github.com/tripwire/logactiond/internal/dlog"
)

// Manager is the daemon-wide WorkerTask registry (C4). It implements
// action.Launcher so an action.Chain can submit matches directly; every
// submitted task runs on its own goroutine and is tracked until it exits,
// so Drain can wait for a quiescent state before the daemon shuts down.
type Manager struct {
	logger     *dlog.Logger
	commandDir string

	idleTimeout time.Duration
	pipeGrace   time.Duration
	termGrace   time.Duration

	mu       sync.Mutex
	running  int
	shutdown chan struct{}
	closed   bool

	wg sync.WaitGroup
}

// NewManager builds a Manager that launches commands from commandDir and
// applies the given timeout settings to every task it creates.
func NewManager(commandDir string, idle, pipe, term time.Duration, logger *dlog.Logger) *Manager {
	return &Manager{
		logger:      logger,
		commandDir:  commandDir,
		idleTimeout: idle,
		pipeGrace:   pipe,
		termGrace:   term,
		shutdown:    make(chan struct{}),
	}
}

// Launch implements action.Launcher. It builds the task's argv from rule and
// captures, then starts the task on its own goroutine. Launch only fails if
// the Manager has already begun draining, in which case no new process is
// started.
func (m *Manager) Launch(logName string, rule *action.Rule, captures action.Captures) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("worker: manager is shutting down, refusing new launch for action %q", rule.Name)
	}
	m.running++
	m.mu.Unlock()

	argv := rule.BuildArgv(captures, m.commandDir)
	t := newTask(logName, rule, argv, m.logger, m, m.idleTimeout, m.pipeGrace, m.termGrace)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t.run(m.shutdown)
	}()
	return nil
}

// unregister is called by a Task's run goroutine exactly once, on its way
// out, regardless of how the task ended.
func (m *Manager) unregister() {
	m.mu.Lock()
	m.running--
	m.mu.Unlock()
}

// Running reports the number of tasks currently in flight, for the status
// surface.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Drain stops accepting new launches and waits, in two phases, for every
// in-flight task to finish:
//
//  1. Wait up to exitDeadline (T_exit) on the quiescent state, without
//     touching the shutdown gate, so tasks that are about to finish
//     naturally are allowed to do so.
//  2. On that timeout, close the shutdown gate (readLoop observes it the
//     same way it observes pipe EOF or idle timeout) and wait a second,
//     independent window of T_term + T_pipe + 2 seconds for the resulting
//     TERM/KILL escalation to reap every task.
//
// It returns an error only if tasks are still outstanding after both
// windows elapse.
func (m *Manager) Drain(exitDeadline time.Duration) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Draining()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(exitDeadline):
		m.logger.DrainPending(int(exitDeadline.Seconds()))
	}

	close(m.shutdown)

	escalation := m.termGrace + m.pipeGrace + 2*time.Second
	select {
	case <-done:
		return nil
	case <-time.After(escalation):
		m.logger.DrainTimeout()
		return fmt.Errorf("worker: drain timeout after %s with %d task(s) still running", exitDeadline+escalation, m.Running())
	}
}
