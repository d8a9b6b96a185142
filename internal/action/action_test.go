package action

import (
	"errors"
	"testing"
)

func TestCompileAndMatch(t *testing.T) {
	r, err := Compile("sshfail", `Failed password for (\S+) from (\S+)`, "ban-ip")
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	caps := r.TryMatch("Failed password for root from 10.0.0.1 port 4242")
	if caps == nil {
		t.Fatal("expected a match")
	}
	if len(caps) != 3 {
		t.Fatalf("got %d captures, want 3 (whole + 2 groups)", len(caps))
	}
	if caps[1] != "root" || caps[2] != "10.0.0.1" {
		t.Errorf("captures = %+v", caps)
	}
	if r.Hits() != 1 {
		t.Errorf("Hits() = %d, want 1", r.Hits())
	}
}

func TestTryMatchNoMatch(t *testing.T) {
	r, err := Compile("sshfail", `Failed password`, "ban-ip")
	if err != nil {
		t.Fatal(err)
	}
	if caps := r.TryMatch("Accepted password for root"); caps != nil {
		t.Errorf("expected no match, got %+v", caps)
	}
	if r.Hits() != 0 {
		t.Errorf("Hits() = %d, want 0", r.Hits())
	}
}

func TestCompileInvalidPattern(t *testing.T) {
	if _, err := Compile("bad", "(unterminated", "cmd"); err == nil {
		t.Fatal("expected an error for an invalid pattern")
	}
}

func TestCompileRejectsPathCommand(t *testing.T) {
	if _, err := Compile("r", "x", "/etc/passwd"); err == nil {
		t.Fatal("expected an error for a command that is a path, not a basename")
	}
}

func TestBuildArgv(t *testing.T) {
	r, err := Compile("sshfail", `Failed password for (\S+) from (\S+)`, "ban-ip")
	if err != nil {
		t.Fatal(err)
	}
	caps := r.TryMatch("Failed password for root from 10.0.0.1")
	argv := r.BuildArgv(caps, "/usr/local/libexec/logactiond")
	want := []string{"/usr/local/libexec/logactiond/ban-ip", "Failed password for root from 10.0.0.1", "root", "10.0.0.1"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %+v, want %+v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

type fakeLauncher struct {
	calls int
	fail  bool
}

func (f *fakeLauncher) Launch(logName string, rule *Rule, captures Captures) error {
	f.calls++
	if f.fail {
		return errors.New("no capacity")
	}
	return nil
}

type fakeLogger struct {
	matched []string
}

func (f *fakeLogger) Matched(logName, action, command string) {
	f.matched = append(f.matched, action)
}

func TestChainDispatchTriesAllRulesIndependently(t *testing.T) {
	c := NewChain()
	r1, _ := Compile("a", "foo", "cmd-a")
	r2, _ := Compile("b", "bar", "cmd-b")
	c.Append(r1)
	c.Append(r2)

	launcher := &fakeLauncher{}
	logger := &fakeLogger{}
	var warnings []string
	warn := func(format string, args ...any) { warnings = append(warnings, format) }

	c.Dispatch("test.log", "foo and bar both appear", launcher, logger, warn)

	if launcher.calls != 2 {
		t.Fatalf("launcher called %d times, want 2 (both rules should match)", launcher.calls)
	}
	if len(logger.matched) != 2 {
		t.Fatalf("logged %d matches, want 2", len(logger.matched))
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

func TestChainDispatchContinuesAfterLaunchFailure(t *testing.T) {
	c := NewChain()
	r1, _ := Compile("a", "foo", "cmd-a")
	r2, _ := Compile("b", "foo", "cmd-b")
	c.Append(r1)
	c.Append(r2)

	launcher := &fakeLauncher{fail: true}
	logger := &fakeLogger{}
	var warnings []string
	warn := func(format string, args ...any) { warnings = append(warnings, format) }

	c.Dispatch("test.log", "foo", launcher, logger, warn)

	if launcher.calls != 2 {
		t.Fatalf("launcher called %d times, want 2 (second rule should still be tried)", launcher.calls)
	}
	if len(warnings) != 2 {
		t.Fatalf("got %d warnings, want 2", len(warnings))
	}
}
