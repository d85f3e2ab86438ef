package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("DEVICE_ID", "")
	t.Setenv("STORE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Namespace != "0x1234" {
		t.Fatalf("namespace: got %q want 0x1234", cfg.Namespace)
	}
	if cfg.AckDuration != 2*time.Second || cfg.AdvertiseInterval != 100*time.Millisecond {
		t.Fatalf("unexpected timings: ack=%v interval=%v", cfg.AckDuration, cfg.AdvertiseInterval)
	}
	if cfg.DeviceID == "" {
		t.Fatal("expected a generated device id")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classcast.yaml")
	doc := []byte(`
device_id: tablet-7
transport: redis
ack_duration: 3s
store: memory
database:
  host: db.internal
  port: 6543
`)
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("WriteFile err: %v", err)
	}
	t.Setenv(FileEnv, path)
	t.Setenv("DEVICE_ID", "")
	t.Setenv("ACK_DURATION", "1500ms")
	t.Setenv("DB_HOST", "")
	t.Setenv("STORE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.DeviceID != "tablet-7" || cfg.Transport != TransportRedis || cfg.Store != StoreMemory {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.AckDuration != 1500*time.Millisecond {
		t.Fatalf("ack duration: got %v want 1.5s", cfg.AckDuration)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 6543 {
		t.Fatalf("database: got %+v", cfg.Database)
	}
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	cfg := Default()
	cfg.Transport = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPostgresStoreRequiresDeviceID(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("STORE", "postgres")
	t.Setenv("DEVICE_ID", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error without DEVICE_ID for the postgres store")
	}

	t.Setenv("DEVICE_ID", "tablet-7")
	first, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	second, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if first.DeviceID != "tablet-7" || second.DeviceID != first.DeviceID {
		t.Fatalf("device id not stable across starts: first=%q second=%q", first.DeviceID, second.DeviceID)
	}
}
