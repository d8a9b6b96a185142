// Package settings loads the daemon's operational YAML settings: the command
// directory, the four configurable timeouts, the pidfile path, the log
// level, and the local status-server address. This is deliberately separate
// from internal/logconf, which parses the bespoke per-log action grammar —
// the two formats serve different audiences and neither is a superset of
// the other.
package settings

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the top-level daemon settings structure.
type Settings struct {
	// CmdPath is the directory searched for action command basenames.
	CmdPath string `yaml:"cmd_path"`

	// Wait is T_idle: max silence from a child before its pipe is closed.
	Wait time.Duration `yaml:"wait"`
	// WPipe is T_pipe: grace period after pipe close before SIGTERM.
	WPipe time.Duration `yaml:"wpipe"`
	// WTerm is T_term: grace period after SIGTERM before SIGKILL.
	WTerm time.Duration `yaml:"wterm"`
	// WExit is T_exit: drain deadline at daemon shutdown.
	WExit time.Duration `yaml:"wexit"`

	// Pidfile is the path the daemonization collaborator would write a pid
	// to. Not acted on by this repo (daemonization is out of scope) but
	// carried through so that collaborator has a stable settings field to
	// read.
	Pidfile string `yaml:"pidfile"`

	// LogLevel is one of "debug", "info", "warn", "error". Defaults to "info".
	LogLevel string `yaml:"log_level"`

	// HealthAddr is the listen address for the local /healthz and /status
	// HTTP surface. Defaults to "127.0.0.1:9000".
	HealthAddr string `yaml:"health_addr"`

	// Foreground is carried through for a future daemonization collaborator;
	// this binary never forks regardless of its value.
	Foreground bool `yaml:"foreground"`
}

// Default timeouts for the worker supervision lifecycle.
const (
	DefaultWait       = 120 * time.Second
	DefaultWPipe      = 2 * time.Second
	DefaultWTerm      = 10 * time.Second
	DefaultWExit      = 20 * time.Second
	DefaultCmdPath    = "/usr/local/libexec/logactiond"
	DefaultHealthAddr = "127.0.0.1:9000"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Default returns a Settings populated entirely with defaults.
func Default() *Settings {
	return &Settings{
		CmdPath:    DefaultCmdPath,
		Wait:       DefaultWait,
		WPipe:      DefaultWPipe,
		WTerm:      DefaultWTerm,
		WExit:      DefaultWExit,
		LogLevel:   "info",
		HealthAddr: DefaultHealthAddr,
	}
}

// Load reads the YAML settings file at path, applies defaults for any
// zero-valued optional field, and validates the result. An empty path
// returns Default() unchanged.
func Load(path string) (*Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("settings: cannot read %q: %w", path, err)
	}

	// Decode into a struct whose duration fields are raw strings so YAML
	// users can write "120s" rather than a nanosecond integer; the seconds
	// get parsed and merged into s below.
	var raw struct {
		CmdPath    string `yaml:"cmd_path"`
		Wait       string `yaml:"wait"`
		WPipe      string `yaml:"wpipe"`
		WTerm      string `yaml:"wterm"`
		WExit      string `yaml:"wexit"`
		Pidfile    string `yaml:"pidfile"`
		LogLevel   string `yaml:"log_level"`
		HealthAddr string `yaml:"health_addr"`
		Foreground bool   `yaml:"foreground"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("settings: cannot parse %q: %w", path, err)
	}

	if raw.CmdPath != "" {
		s.CmdPath = raw.CmdPath
	}
	if d, err := parseSeconds("wait", raw.Wait); err != nil {
		return nil, err
	} else if d > 0 {
		s.Wait = d
	}
	if d, err := parseSeconds("wpipe", raw.WPipe); err != nil {
		return nil, err
	} else if d > 0 {
		s.WPipe = d
	}
	if d, err := parseSeconds("wterm", raw.WTerm); err != nil {
		return nil, err
	} else if d > 0 {
		s.WTerm = d
	}
	if d, err := parseSeconds("wexit", raw.WExit); err != nil {
		return nil, err
	} else if d > 0 {
		s.WExit = d
	}
	if raw.Pidfile != "" {
		s.Pidfile = raw.Pidfile
	}
	if raw.LogLevel != "" {
		s.LogLevel = raw.LogLevel
	}
	if raw.HealthAddr != "" {
		s.HealthAddr = raw.HealthAddr
	}
	s.Foreground = raw.Foreground

	if err := validate(s); err != nil {
		return nil, fmt.Errorf("settings: validation failed for %q: %w", path, err)
	}
	return s, nil
}

// parseSeconds parses a duration string such as "120" or "120s" for field
// name, returning 0 with no error when raw is empty.
func parseSeconds(field, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	var secs int64
	if _, err := fmt.Sscanf(raw, "%d", &secs); err != nil {
		return 0, fmt.Errorf("settings: %s: cannot parse duration %q", field, raw)
	}
	return time.Duration(secs) * time.Second, nil
}

func validate(s *Settings) error {
	var errs []error
	if !validLogLevels[s.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", s.LogLevel))
	}
	if s.Wait <= 0 || s.WPipe <= 0 || s.WTerm <= 0 || s.WExit <= 0 {
		errs = append(errs, errors.New("wait, wpipe, wterm, wexit must all be positive"))
	}
	return errors.Join(errs...)
}
