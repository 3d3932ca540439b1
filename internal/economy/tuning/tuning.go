package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	// Per-operation confirmation TTLs in seconds. Cheaper operations
	// get shorter windows.
	ConfirmTTLSeconds map[string]int `yaml:"confirm_ttl_seconds"`
	DefaultTTLSeconds int            `yaml:"default_ttl_seconds"`

	DispatchIntervalSeconds int `yaml:"dispatch_interval_seconds"`
	DispatchBatch           int `yaml:"dispatch_batch"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t.withDefaults(), nil
}

func Default() Tuning {
	return Tuning{}.withDefaults()
}

func (t Tuning) withDefaults() Tuning {
	if t.DefaultTTLSeconds <= 0 {
		t.DefaultTTLSeconds = 60
	}
	if t.DispatchIntervalSeconds <= 0 {
		t.DispatchIntervalSeconds = 60
	}
	if t.DispatchBatch <= 0 {
		t.DispatchBatch = 100
	}
	return t
}

// ConfirmTTL returns the confirmation window for an operation.
func (t Tuning) ConfirmTTL(op string) time.Duration {
	if s, ok := t.ConfirmTTLSeconds[op]; ok && s > 0 {
		return time.Duration(s) * time.Second
	}
	return time.Duration(t.DefaultTTLSeconds) * time.Second
}

func (t Tuning) DispatchInterval() time.Duration {
	return time.Duration(t.DispatchIntervalSeconds) * time.Second
}
