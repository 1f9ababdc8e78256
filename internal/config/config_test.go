package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() failed on defaults: %v", err)
	}
	u, err := cfg.OriginURL()
	if err != nil {
		t.Fatalf("OriginURL() failed: %v", err)
	}
	if u.Host != "127.0.0.1:8081" {
		t.Errorf("origin host = %q", u.Host)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menuboard.yaml")
	content := `
storage:
  backend: memory
  quota_bytes: 4096
offline:
  version: v9
menu:
  currency: USD
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Storage.Backend != StorageMemory || cfg.Storage.QuotaBytes != 4096 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Offline.Version != "v9" || cfg.Menu.Currency != "USD" {
		t.Errorf("offline/menu not loaded: %+v %+v", cfg.Offline, cfg.Menu)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Server.Addr != ":8080" || cfg.Bus.Backend != BusLocal {
		t.Errorf("defaults lost: server=%+v bus=%+v", cfg.Server, cfg.Bus)
	}
	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menuboard.yaml")
	if err := Write(path, Default(), false); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	t.Setenv("MENUBOARD_BUS_BACKEND", "spool")
	t.Setenv("MENUBOARD_LOG_MAX_BACKUPS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Bus.Backend != BusSpool {
		t.Errorf("bus.backend = %q, want spool", cfg.Bus.Backend)
	}
	if cfg.Log.MaxBackups != 7 {
		t.Errorf("log.max_backups = %d, want 7", cfg.Log.MaxBackups)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() should fail for a missing explicit file")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menuboard.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  backend: floppy\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "floppy") {
		t.Fatalf("Load() error = %v, want invalid backend", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bus backend", func(c *Config) { c.Bus.Backend = "carrier-pigeon" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = StoragePostgres }},
		{"relative origin", func(c *Config) { c.Offline.Origin = "/menu" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)

	if err := Write(path, Default(), false); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if err := Write(path, Default(), false); !errors.Is(err, ErrExists) {
		t.Fatalf("second Write() error = %v, want ErrExists", err)
	}

	cfg := Default()
	cfg.KV.Prefix = "tandoor"
	if err := Write(path, cfg, true); err != nil {
		t.Fatalf("forced Write() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if !strings.Contains(string(data), "prefix: tandoor") {
		t.Errorf("written config missing kv prefix:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.KV.Prefix != "tandoor" {
		t.Errorf("kv.prefix = %q, want tandoor", loaded.KV.Prefix)
	}
}
