// Package action implements ActionRule and ActionChain: compiled match
// rules and the ordered chain that dispatches a matched line to a worker.
package action

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sync/atomic"
)

// Captures holds an ordered regex match: index 0 is the whole match,
// indices 1..k are capture groups in source order.
type Captures []string

// Rule is a compiled match rule: a regex, the command it triggers, and the
// command's basename. Immutable after construction except for its atomic
// hit counter.
type Rule struct {
	Name    string
	Pattern string // original source text, kept for logging
	Command string // bare basename, never interpreted as a path

	re   *regexp.Regexp
	hits atomic.Uint64
}

// Compile builds a Rule from a name, pattern, and command basename. If the
// pattern fails to compile, Compile returns a nil Rule and an error — the
// caller logs a warning and drops the rule rather than treating this as
// fatal (per the "fail soft" contract on malformed patterns).
func Compile(name, pattern, command string) (*Rule, error) {
	if filepath.Base(command) != command {
		return nil, fmt.Errorf("action %q: command %q must be a bare basename, not a path", name, command)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("action %q: invalid pattern: %w", name, err)
	}
	return &Rule{Name: name, Pattern: pattern, Command: command, re: re}, nil
}

// TryMatch returns the Captures for line, or nil if the rule does not
// match. A successful match increments the rule's hit counter.
func (r *Rule) TryMatch(line string) Captures {
	m := r.re.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	r.hits.Add(1)
	return Captures(m)
}

// Hits returns the number of times this rule has matched a line. Additive
// bookkeeping surfaced on the status endpoint; not part of the matching
// contract itself.
func (r *Rule) Hits() uint64 { return r.hits.Load() }

// BuildArgv returns [commandDir/r.Command, captures[0], captures[1], ...,
// captures[len(captures)-1]] — the whole match followed by every capture
// group, in source order.
func (r *Rule) BuildArgv(captures Captures, commandDir string) []string {
	argv := make([]string, 0, len(captures)+1)
	argv = append(argv, filepath.Join(commandDir, r.Command))
	argv = append(argv, captures...)
	return argv
}

// Launcher submits a WorkerTask built from a matched rule and its captures.
// internal/worker.Manager implements this; the interface lives here so
// action does not import worker (which would create an import cycle, since
// worker imports action for Rule and Captures).
type Launcher interface {
	Launch(logName string, rule *Rule, captures Captures) error
}

// MatchLogger receives the stable "Action matched" log line. Implemented by
// internal/dlog.Logger; kept as an interface here to avoid a dependency on
// the concrete logger type from this low-level package.
type MatchLogger interface {
	Matched(logName, action, command string)
}

// Chain holds an ordered list of Rules and dispatches matched lines to a
// Launcher. Rules are independent: every rule is tried against every line,
// regardless of whether an earlier rule matched.
type Chain struct {
	rules []*Rule
}

// NewChain returns an empty Chain.
func NewChain() *Chain { return &Chain{} }

// Append adds rule to the end of the chain's rule list.
func (c *Chain) Append(r *Rule) { c.rules = append(c.rules, r) }

// Len returns the number of rules in the chain.
func (c *Chain) Len() int { return len(c.rules) }

// Rules returns the chain's rules in dispatch order. Callers must not
// mutate the returned slice.
func (c *Chain) Rules() []*Rule { return c.rules }

// Dispatch tries every rule in insertion order against line. For each rule
// that matches, it logs the stable match line and submits a WorkerTask via
// launcher. A launch failure (resource exhaustion) logs a warning through
// warn and dispatch continues with the next rule — one rule's launch
// failure never stops the others from being tried.
func (c *Chain) Dispatch(logName, line string, launcher Launcher, logger MatchLogger, warn func(format string, args ...any)) {
	for _, r := range c.rules {
		captures := r.TryMatch(line)
		if captures == nil {
			continue
		}
		logger.Matched(logName, r.Name, r.Command)
		if err := launcher.Launch(logName, r, captures); err != nil {
			warn("action %q: launch failed: %v", r.Name, err)
		}
	}
}
