package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := []byte(`confirm_ttl_seconds:
  buy: 30
  build: 1200
default_ttl_seconds: 90
dispatch_interval_seconds: 15
`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tune, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := tune.ConfirmTTL("buy"); got != 30*time.Second {
		t.Fatalf("buy ttl = %s", got)
	}
	if got := tune.ConfirmTTL("build"); got != 1200*time.Second {
		t.Fatalf("build ttl = %s", got)
	}
	// Operations without an override fall back to the default.
	if got := tune.ConfirmTTL("craft"); got != 90*time.Second {
		t.Fatalf("craft ttl = %s", got)
	}
	if got := tune.DispatchInterval(); got != 15*time.Second {
		t.Fatalf("dispatch interval = %s", got)
	}
	if tune.DispatchBatch != 100 {
		t.Fatalf("dispatch batch = %d", tune.DispatchBatch)
	}
}

func TestDefault(t *testing.T) {
	tune := Default()
	if tune.ConfirmTTL("buy") != time.Minute {
		t.Fatalf("default ttl = %s", tune.ConfirmTTL("buy"))
	}
	if tune.DispatchInterval() != time.Minute || tune.DispatchBatch != 100 {
		t.Fatalf("defaults = %+v", tune)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); !os.IsNotExist(err) {
		t.Fatalf("expected IsNotExist, got %v", err)
	}
}
