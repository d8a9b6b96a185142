package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunVersionFlag(t *testing.T) {
	if code := run([]string{"--version"}); code != 0 {
		t.Fatalf("run([--version]) = %d, want 0", code)
	}
}

func TestRunCheckConfigOnValidFile(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "logactiond.conf")
	content := "[ /var/log/app.log ]\ngreet = {\n    pattern = \"hi\"\n    command = \"greet\"\n}\n"
	if err := os.WriteFile(confPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	code := run([]string{"--check-config", "--config", confPath})
	if code != 0 {
		t.Fatalf("run([--check-config]) = %d, want 0", code)
	}
}

func TestRunCheckConfigOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "logactiond.conf")
	if err := os.WriteFile(confPath, []byte("not a valid section\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	code := run([]string{"--check-config", "--config", confPath})
	if code == 0 {
		t.Fatal("expected a non-zero exit code for an invalid configuration file")
	}
}

func TestRunFailsOnMissingSettingsFile(t *testing.T) {
	code := run([]string{"--settings", "/nonexistent/settings.yaml"})
	if code == 0 {
		t.Fatal("expected a non-zero exit code when the settings file cannot be read")
	}
}
