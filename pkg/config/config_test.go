package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Name    string        `envconfig:"NAME" required:"true"`
	Limit   int           `envconfig:"LIMIT" default:"5000"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

func TestNewLoadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFGTEST_NAME=owid\nCFGTEST_LIMIT=42\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Cleanup(func() {
		SetEnvFile("")
		_ = os.Unsetenv("CFGTEST_NAME")
		_ = os.Unsetenv("CFGTEST_LIMIT")
	})

	SetEnvFile(path)
	conf, err := New[sampleConfig]("CFGTEST")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.Name != "owid" {
		t.Fatalf("expected name owid, got %q", conf.Name)
	}
	if conf.Limit != 42 {
		t.Fatalf("expected limit 42, got %d", conf.Limit)
	}
	if conf.Timeout != 30*time.Second {
		t.Fatalf("expected default timeout, got %v", conf.Timeout)
	}
}

func TestNewKeepsExistingEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFGKEEP_NAME=fromfile\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("CFGKEEP_NAME", "fromenv")
	t.Cleanup(func() { SetEnvFile("") })

	SetEnvFile(path)
	conf, err := New[sampleConfig]("CFGKEEP")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.Name != "fromenv" {
		t.Fatalf("expected process env to win, got %q", conf.Name)
	}
}

func TestNewMissingRequired(t *testing.T) {
	t.Cleanup(func() { SetEnvFile("") })
	SetEnvFile("")

	if _, err := New[sampleConfig]("CFGMISSING"); err == nil {
		t.Fatalf("expected error for missing required field")
	}
}
