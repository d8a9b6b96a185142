// Package daemon contains the logactiond orchestrator (C8): it loads
// configuration, builds the watched-log set, starts the change-notification
// watcher, and on shutdown drains every in-flight worker task before
// exiting. This is the single place that wires settings, logconf, logfile,
// watch, worker, and statusserver together.
package daemon

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tripwire/logactiond/internal/dlog"
	"github.com/tripwire/logactiond/internal/logconf"
	"github.com/tripwire/logactiond/internal/logfile"
	"github.com/tripwire/logactiond/internal/settings"
	"github.com/tripwire/logactiond/internal/statusserver"
	"github.com/tripwire/logactiond/internal/watch"
	"github.com/tripwire/logactiond/internal/worker"
)

// Daemon is the running orchestrator. Build one with New, then call Run.
type Daemon struct {
	cfg     *settings.Settings
	logger  *dlog.Logger
	set     *logfile.Set
	manager *worker.Manager
	watcher *watch.Watcher
	health  *http.Server
}

// New parses the log-section configuration at configPath under cfg, builds
// the LogSet, and wires a worker Manager and Watcher over it. It returns an
// error without starting anything if the LogSet ends up empty — an empty
// LogSet means there is nothing for the daemon to do, and running anyway
// would silently accomplish nothing.
func New(cfg *settings.Settings, configPath string, logger *dlog.Logger) (*Daemon, error) {
	sections, err := logconf.ParseFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: configuration parse failed: %w", err)
	}

	set, err := logfile.Build(sections, cfg.CmdPath, logger.Base())
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	manager := worker.NewManager(cfg.CmdPath, cfg.Wait, cfg.WPipe, cfg.WTerm, logger)

	for _, lf := range set.Files() {
		lf.OnLine = dispatchFunc(lf, manager, logger)
	}

	w, err := watch.New(set, logger)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	d := &Daemon{
		cfg:     cfg,
		logger:  logger,
		set:     set,
		manager: manager,
		watcher: w,
	}

	if cfg.HealthAddr != "" {
		d.health = &http.Server{
			Addr:         cfg.HealthAddr,
			Handler:      statusserver.NewRouter(statusserver.NewServer(set, manager)),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
	}
	return d, nil
}

// dispatchFunc closes over a single LogFile's Chain so its OnLine callback
// dispatches every new line against that log's rules, without logfile
// importing action, worker, or dlog directly.
func dispatchFunc(lf *logfile.LogFile, manager *worker.Manager, logger *dlog.Logger) func(string) {
	logName := lf.CanonicalPath
	return func(line string) {
		lf.Chain.Dispatch(logName, line, manager, logger, func(format string, args ...any) {
			logger.Warn(fmt.Sprintf(format, args...))
		})
	}
}

// Run starts the health server (if configured) and the watcher, blocking
// until the watcher stops (on a TERM/INT signal or a fatal backend error),
// then drains all in-flight workers. It returns nil iff the watcher stopped
// cleanly and the drain succeeded (within cfg.WExit, or within the
// T_term + T_pipe + 2s escalation window that follows it); otherwise it
// returns the drain error (with any watcher error appended), or the watcher
// error alone.
func (d *Daemon) Run() error {
	if d.health != nil {
		go func() {
			if err := d.health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.logger.Warn("daemon: status server error", slog.String("error", err.Error()))
			}
		}()
	}

	runErr := d.watcher.Run()

	if d.health != nil {
		_ = d.health.Close()
	}

	if err := d.manager.Drain(d.cfg.WExit); err != nil {
		if runErr != nil {
			return fmt.Errorf("%w (also: %v)", err, runErr)
		}
		return err
	}
	return runErr
}
