package config

import (
	"testing"
)

func TestEnvVar(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"orchestrator.max_parallel_sessions", "CCC_MAX_PARALLEL_SESSIONS"},
		{"executor.binary", "CCC_EXECUTOR_BINARY"},
		{"recovery.timeout_tier", "CCC_RECOVERY_TIMEOUT_TIER"},
		{"state.dir", "CCC_STATE_DIR"},
	}

	for _, tc := range tests {
		if got := EnvVar(tc.key); got != tc.want {
			t.Errorf("EnvVar(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestKeysSortedAndComplete(t *testing.T) {
	keys := Keys()
	if len(keys) == 0 {
		t.Fatal("expected keys")
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Errorf("keys not sorted: %q before %q", keys[i-1], keys[i])
		}
	}

	for _, key := range []string{"executor.binary", "recovery.max_attempts", "timeouts.default", "metrics.addr"} {
		found := false
		for _, k := range keys {
			if k == key {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected key %q", key)
		}
	}
}

func TestSettings(t *testing.T) {
	cfg := Default()
	cfg.Executor.Binary = "custom"

	settings := Settings(cfg)
	if len(settings) != len(Keys()) {
		t.Fatalf("expected %d settings, got %d", len(Keys()), len(settings))
	}
	for _, s := range settings {
		if s.Key == "executor.binary" {
			if s.Value != "custom" {
				t.Errorf("expected value 'custom', got %v", s.Value)
			}
			if s.Env != "CCC_EXECUTOR_BINARY" {
				t.Errorf("expected env CCC_EXECUTOR_BINARY, got %q", s.Env)
			}
			return
		}
	}
	t.Error("executor.binary not listed")
}
