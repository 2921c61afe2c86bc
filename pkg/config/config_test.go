package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	contractx "github.com/tanpawarit/chative-experts/agent/contract"
)

type sampleConfig struct {
	Name  string `envconfig:"NAME" required:"true"`
	Steps int    `envconfig:"STEPS" default:"3"`
}

func (c *sampleConfig) Validate() error {
	if c.Steps < 1 {
		return fmt.Errorf("steps must be >= 1")
	}
	return nil
}

// Tests here mutate process env and the package-level env file, so none run in parallel.

func TestNewReadsEnvFileWithoutOverridingProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFGTEST_NAME=from-file\nCFGTEST_STEPS=7\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("CFGTEST_STEPS", "5")
	t.Cleanup(func() {
		os.Unsetenv("CFGTEST_NAME")
		SetEnvFile("")
	})
	SetEnvFile(path)

	conf, err := New[sampleConfig]("CFGTEST")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.Name != "from-file" {
		t.Fatalf("Name = %q, want from-file", conf.Name)
	}
	if conf.Steps != 5 {
		t.Fatalf("Steps = %d, want 5 from process env", conf.Steps)
	}
}

func TestNewValidationIsConfigurationFault(t *testing.T) {
	t.Setenv("CFGBAD_NAME", "x")
	t.Setenv("CFGBAD_STEPS", "0")

	_, err := New[sampleConfig]("CFGBAD")
	if !errors.Is(err, contractx.ErrConfiguration) {
		t.Fatalf("New() error = %v, want ErrConfiguration", err)
	}
}

func TestNewMissingRequired(t *testing.T) {
	_, err := New[sampleConfig]("CFGMISSING")
	if !errors.Is(err, contractx.ErrConfiguration) {
		t.Fatalf("New() error = %v, want ErrConfiguration", err)
	}
}
