package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
db_path: "/tmp/pocket.db"
probe_interval: 45s
reconnect_delay: 3s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FirebaseProjectID != "pocket-prod" {
		t.Errorf("FirebaseProjectID = %q, want %q", cfg.FirebaseProjectID, "pocket-prod")
	}
	if cfg.DBPath != "/tmp/pocket.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/pocket.db")
	}
	if cfg.ProbeInterval != 45*time.Second {
		t.Errorf("ProbeInterval = %v, want 45s", cfg.ProbeInterval)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Errorf("ReconnectDelay = %v, want 3s", cfg.ReconnectDelay)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ProbeInterval != 30*time.Second {
		t.Errorf("ProbeInterval = %v, want default 30s", cfg.ProbeInterval)
	}
	if cfg.ReconnectDelay != 2*time.Second {
		t.Errorf("ReconnectDelay = %v, want default 2s", cfg.ReconnectDelay)
	}
}

func TestLoad_MissingProjectID(t *testing.T) {
	path := writeConfig(t, `
db_path: "/tmp/pocket.db"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing firebase_project_id, got nil")
	}
}

func TestLoad_MissingCredentialsFile(t *testing.T) {
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
credentials_file: "/does/not/exist.json"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unreadable credentials_file, got nil")
	}
}

func TestLoad_CredentialsFilePresent(t *testing.T) {
	creds := filepath.Join(t.TempDir(), "sa.json")
	if err := os.WriteFile(creds, []byte("{}"), 0600); err != nil {
		t.Fatalf("writing credentials file: %v", err)
	}
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
credentials_file: "`+creds+`"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.CredentialsFile != creds {
		t.Errorf("CredentialsFile = %q, want %q", cfg.CredentialsFile, creds)
	}
}

func TestLoad_ProbeIntervalTooShort(t *testing.T) {
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
probe_interval: 1s
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for probe_interval < 5s, got nil")
	}
}

func TestLoad_ProbeIntervalTooLong(t *testing.T) {
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
probe_interval: 10m
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for probe_interval > 5m, got nil")
	}
}

func TestLoad_NegativeReconnectDelay(t *testing.T) {
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
reconnect_delay: -1s
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for negative reconnect_delay, got nil")
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
unknown_field: oops
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown config key, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
}

func TestLoad_TelemetryValid(t *testing.T) {
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  service_name: "my-pocketsync"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.Telemetry.OTLPEndpoint, "localhost:4317")
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Insecure = false, want true")
	}
	if cfg.Telemetry.ServiceName != "my-pocketsync" {
		t.Errorf("ServiceName = %q, want %q", cfg.Telemetry.ServiceName, "my-pocketsync")
	}
}

func TestLoad_TelemetryOmitted(t *testing.T) {
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry != nil {
		t.Error("expected Telemetry to be nil when block is omitted")
	}
}

func TestLoad_TelemetryMissingEndpoint(t *testing.T) {
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
telemetry:
  insecure: true
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for telemetry missing otlp_endpoint, got nil")
	}
}

func TestLoad_TelemetryHeaders(t *testing.T) {
	path := writeConfig(t, `
firebase_project_id: "pocket-prod"
telemetry:
  otlp_endpoint: "otelcol.example.com:4317"
  headers:
    Authorization: "Bearer secret"
    x-dataset: "test"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Telemetry.Headers) != 2 {
		t.Fatalf("Headers len = %d, want 2", len(cfg.Telemetry.Headers))
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q, want %q", cfg.Telemetry.Headers["Authorization"], "Bearer secret")
	}
	if cfg.Telemetry.Headers["x-dataset"] != "test" {
		t.Errorf("x-dataset header = %q, want %q", cfg.Telemetry.Headers["x-dataset"], "test")
	}
}
