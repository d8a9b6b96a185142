// Command logactiond watches a configured set of append-only log files,
// matches new lines against per-file regex rules, and runs an external
// command for every match, capturing its output and enforcing idle and
// termination timeouts. It loads an operational settings file, a log-action
// configuration file, exposes a local /healthz and /status HTTP surface,
// and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tripwire/logactiond/internal/daemon"
	"github.com/tripwire/logactiond/internal/dlog"
	"github.com/tripwire/logactiond/internal/logconf"
	"github.com/tripwire/logactiond/internal/settings"
)

// version is the daemon's release string, set at build time via
// -ldflags "-X main.version=...". "dev" is the fallback for local builds.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run implements the whole CLI surface and returns the process exit code,
// so main itself stays a one-line os.Exit wrapper that tests never have to
// drive through flag.Parse or os.Exit directly.
func run(args []string) int {
	fs := flag.NewFlagSet("logactiond", flag.ContinueOnError)

	configPath := fs.String("config", "/etc/logactiond/logactiond.conf", "path to the log-action configuration file")
	settingsPath := fs.String("settings", "", "path to the YAML operational settings file (optional; defaults are used if omitted)")
	cmdPath := fs.String("cmd-path", "", "directory searched for action command basenames (overrides the settings file)")
	wait := fs.Duration("wait", 0, "T_idle: max silence from a child before its pipe is closed (overrides the settings file)")
	wpipe := fs.Duration("wpipe", 0, "T_pipe: grace period after pipe close before SIGTERM (overrides the settings file)")
	wterm := fs.Duration("wterm", 0, "T_term: grace period after SIGTERM before SIGKILL (overrides the settings file)")
	wexit := fs.Duration("wexit", 0, "T_exit: drain deadline at daemon shutdown (overrides the settings file)")
	healthAddr := fs.String("health-addr", "", "listen address for the local /healthz and /status HTTP surface (overrides the settings file)")
	foreground := fs.Bool("foreground", false, "stay attached to the controlling terminal instead of daemonizing (daemonization itself is not implemented by this binary)")
	checkConfig := fs.Bool("check-config", false, "parse the settings and log-action configuration files, report errors, and exit without starting the watcher")
	showVersion := fs.Bool("version", false, "print the version and exit")
	fs.BoolVar(showVersion, "V", false, "shorthand for -version")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintf(os.Stdout, "logactiond %s\n", version)
		return 0
	}

	cfg, err := settings.Load(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logactiond: %v\n", err)
		return 1
	}
	applyOverrides(cfg, *cmdPath, *healthAddr, *wait, *wpipe, *wterm, *wexit)
	cfg.Foreground = cfg.Foreground || *foreground

	logger := dlog.New(os.Stderr, dlog.ParseLevel(cfg.LogLevel))

	if *checkConfig {
		if _, err := logconf.ParseFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "logactiond: %v\n", err)
			return 1
		}
		fmt.Fprintln(os.Stdout, "logactiond: configuration OK")
		return 0
	}

	d, err := daemon.New(cfg, *configPath, logger)
	if err != nil {
		logger.Error(fmt.Sprintf("initialization failed: %v", err))
		return 1
	}

	if err := d.Run(); err != nil {
		logger.Error(fmt.Sprintf("daemon exited with error: %v", err))
		return 1
	}
	return 0
}

// applyOverrides merges any non-zero flag values into cfg, taking priority
// over whatever the settings file specified.
func applyOverrides(cfg *settings.Settings, cmdPath, healthAddr string, wait, wpipe, wterm, wexit time.Duration) {
	if cmdPath != "" {
		cfg.CmdPath = cmdPath
	}
	if healthAddr != "" {
		cfg.HealthAddr = healthAddr
	}
	if wait > 0 {
		cfg.Wait = wait
	}
	if wpipe > 0 {
		cfg.WPipe = wpipe
	}
	if wterm > 0 {
		cfg.WTerm = wterm
	}
	if wexit > 0 {
		cfg.WExit = wexit
	}
}
