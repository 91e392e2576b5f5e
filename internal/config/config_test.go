package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tzdebug.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoadRequiresLocalAddress(t *testing.T) {
	path := writeConfig(t, "storage:\n  path: /tmp/x\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when local_address is missing")
	}
}

func TestLoadRejectsInvalidLocalAddress(t *testing.T) {
	path := writeConfig(t, "local_address: not-an-ip\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a malformed local_address")
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, "local_address: 127.0.0.1\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ParsedLocalIP.String() != "127.0.0.1" {
		t.Errorf("ParsedLocalIP = %v, want 127.0.0.1", cfg.ParsedLocalIP)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Logging.ConnectionLogDir != "" {
		t.Errorf("ConnectionLogDir = %q, want empty by default", cfg.Logging.ConnectionLogDir)
	}
	if cfg.Storage.Path != "./tzdebug-data" {
		t.Errorf("Storage.Path = %q, want ./tzdebug-data", cfg.Storage.Path)
	}
	if cfg.Storage.QueueCapacity != 4096 {
		t.Errorf("Storage.QueueCapacity = %d, want 4096", cfg.Storage.QueueCapacity)
	}
	if cfg.Control.Listen != "127.0.0.1:17832" {
		t.Errorf("Control.Listen = %q, want 127.0.0.1:17832", cfg.Control.Listen)
	}
	if cfg.Control.TLS.Enabled() {
		t.Error("TLS must default to disabled")
	}
	if len(cfg.Identity.Paths) == 0 {
		t.Error("expected default identity paths to be filled in")
	}
	if cfg.Identity.RetryPeriod != 5*time.Second {
		t.Errorf("Identity.RetryPeriod = %v, want 5s", cfg.Identity.RetryPeriod)
	}
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeConfig(t, `
local_address: 10.0.0.1
logging:
  level: debug
  format: text
  connection_log_dir: /var/log/tzdebug/connections
storage:
  path: /data/tzdebug
  queue_capacity: 100
control:
  listen: 0.0.0.0:9999
  tls:
    ca_cert: /etc/tzdebug/ca.pem
    cert: /etc/tzdebug/cert.pem
    key: /etc/tzdebug/key.pem
identity:
  paths:
    - /custom/identity.json
  retry_period: 1s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Logging.ConnectionLogDir != "/var/log/tzdebug/connections" {
		t.Errorf("ConnectionLogDir = %q", cfg.Logging.ConnectionLogDir)
	}
	if cfg.Storage.Path != "/data/tzdebug" || cfg.Storage.QueueCapacity != 100 {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Control.Listen != "0.0.0.0:9999" {
		t.Errorf("Control.Listen = %q", cfg.Control.Listen)
	}
	if !cfg.Control.TLS.Enabled() {
		t.Error("expected TLS to be enabled when all three fields are set")
	}
	if len(cfg.Identity.Paths) != 1 || cfg.Identity.Paths[0] != "/custom/identity.json" {
		t.Errorf("Identity.Paths = %v, want explicit single entry preserved", cfg.Identity.Paths)
	}
	if cfg.Identity.RetryPeriod != time.Second {
		t.Errorf("Identity.RetryPeriod = %v, want 1s", cfg.Identity.RetryPeriod)
	}
}

func TestTLSConfigEnabledRequiresAllThreeFields(t *testing.T) {
	cases := []TLSConfig{
		{},
		{CACert: "ca"},
		{CACert: "ca", Cert: "cert"},
		{Cert: "cert", Key: "key"},
	}
	for _, tc := range cases {
		if tc.Enabled() {
			t.Errorf("Enabled() = true for partial config %+v, want false", tc)
		}
	}
	full := TLSConfig{CACert: "ca", Cert: "cert", Key: "key"}
	if !full.Enabled() {
		t.Error("Enabled() = false for a fully specified TLSConfig, want true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error loading a nonexistent config file")
	}
}
