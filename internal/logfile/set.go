package logfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tripwire/logactiond/internal/action"
	"github.com/tripwire/logactiond/internal/logconf"
)

// Set is an ordered sequence of LogFiles keyed by canonical path. Each
// canonical path appears at most once: configuration entries that resolve
// to the same path have their ActionRule lists concatenated in
// configuration order.
type Set struct {
	files    []*LogFile
	byPath   map[string]*LogFile
	byDir    map[string][]*LogFile
	commandDir string
}

// Build constructs a Set from parsed configuration sections. commandDir is
// the directory action commands are resolved under. Directories that don't
// exist, or aren't directories, cause that section to be dropped with a
// warning (fail-soft, per the LogSet construction contract); sections whose
// final ActionRule list is empty are also dropped with a warning.
func Build(sections []logconf.Section, commandDir string, logger *slog.Logger) (*Set, error) {
	s := &Set{
		byPath:     make(map[string]*LogFile),
		byDir:      make(map[string][]*LogFile),
		commandDir: commandDir,
	}

	for _, sec := range sections {
		dir := filepath.Dir(sec.Path)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			logger.Warn("logset: dropping section, parent directory unusable",
				slog.String("path", sec.Path), slog.String("dir", dir))
			continue
		}
		canonicalDir, err := filepath.EvalSymlinks(dir)
		if err != nil {
			logger.Warn("logset: dropping section, cannot resolve directory",
				slog.String("path", sec.Path), slog.Any("error", err))
			continue
		}
		canonicalPath := filepath.Join(canonicalDir, filepath.Base(sec.Path))

		var rules []*action.Rule
		for _, as := range sec.Actions {
			r, err := action.Compile(as.Name, as.Pattern, as.Command)
			if err != nil {
				logger.Warn("logset: dropping action rule, pattern did not compile",
					slog.String("action", as.Name), slog.Any("error", err))
				continue
			}
			rules = append(rules, r)
		}
		if len(rules) == 0 {
			logger.Warn("logset: dropping section, no valid action rules remain",
				slog.String("path", sec.Path))
			continue
		}

		lf, existing := s.byPath[canonicalPath]
		if !existing {
			lf = New(canonicalPath, logger)
			s.byPath[canonicalPath] = lf
			s.files = append(s.files, lf)
			s.byDir[canonicalDir] = append(s.byDir[canonicalDir], lf)
		}
		for _, r := range rules {
			lf.Chain.Append(r)
		}
	}

	if len(s.files) == 0 {
		return nil, fmt.Errorf("logset: no usable log sections after validation")
	}
	return s, nil
}

// Files returns the Set's LogFiles in configuration order.
func (s *Set) Files() []*LogFile { return s.files }

// ByDir returns the LogFiles whose canonical parent directory is dir.
func (s *Set) ByDir(dir string) []*LogFile { return s.byDir[dir] }

// Dirs returns the distinct canonical parent directories across the Set.
func (s *Set) Dirs() []string {
	dirs := make([]string, 0, len(s.byDir))
	for d := range s.byDir {
		dirs = append(dirs, d)
	}
	return dirs
}

// CommandDir returns the directory action commands are resolved under.
func (s *Set) CommandDir() string { return s.commandDir }
