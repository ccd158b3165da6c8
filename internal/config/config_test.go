package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigPassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	if err := validate.Struct(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pool.MaxConnectionPoolSize != DefaultConfig().Pool.MaxConnectionPoolSize {
		t.Errorf("expected default pool size, got %d", cfg.Pool.MaxConnectionPoolSize)
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gobolt.yaml")
	contents := `
pool:
  max_connection_pool_size: 5
  connection_acquisition_timeout: 15s
  connection_timeout: 5s
retry:
  initial_delay: 1s
  multiplier: 2
  jitter_factor: 0.1
  max_elapsed_time: 10s
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pool.MaxConnectionPoolSize != 5 {
		t.Errorf("max_connection_pool_size = %d, want 5", cfg.Pool.MaxConnectionPoolSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalidLoggingLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gobolt.yaml")
	contents := `
pool:
  max_connection_pool_size: 5
  connection_acquisition_timeout: 15s
  connection_timeout: 5s
retry:
  initial_delay: 1s
  multiplier: 2
  max_elapsed_time: 10s
logging:
  level: verbose
  format: text
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for an invalid logging level")
	}
}
