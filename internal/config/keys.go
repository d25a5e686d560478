package config

import (
	"sort"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CCC"

// envOverrides are environment variables that do not follow the
// CCC_<SECTION>_<KEY> pattern.
var envOverrides = map[string]string{
	"orchestrator.max_parallel_sessions": "CCC_MAX_PARALLEL_SESSIONS",
	"state.dir":                          "CCC_STATE_DIR",
	"log.level":                          "CCC_LOG_LEVEL",
}

// Setting is one configuration key with its effective value and the
// environment variable that overrides it.
type Setting struct {
	Key   string
	Value any
	Env   string
}

// EnvVar returns the environment variable that overrides key.
func EnvVar(key string) string {
	if env, ok := envOverrides[key]; ok {
		return env
	}
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Keys returns every known configuration key, sorted.
func Keys() []string {
	flat := flatten(Default())
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Settings lists cfg's values by key, sorted.
func Settings(cfg *Config) []Setting {
	flat := flatten(cfg)
	settings := make([]Setting, 0, len(flat))
	for _, key := range Keys() {
		settings = append(settings, Setting{Key: key, Value: flat[key], Env: EnvVar(key)})
	}
	return settings
}

// flatten maps cfg to dotted keys. Durations are written in Go duration
// syntax so the result round-trips through viper.
func flatten(cfg *Config) map[string]any {
	return map[string]any{
		"orchestrator.max_parallel_sessions":  cfg.Orchestrator.MaxParallelSessions,
		"orchestrator.cancel_running_on_halt": cfg.Orchestrator.CancelRunningOnHalt,
		"orchestrator.event_buffer":           cfg.Orchestrator.EventBuffer,

		"executor.binary":                cfg.Executor.Binary,
		"executor.flags":                 cfg.Executor.Flags,
		"executor.dangerous_permissions": cfg.Executor.DangerousPermissions,
		"executor.workspace_flag":        cfg.Executor.WorkspaceFlag,
		"executor.completion_marker":     cfg.Executor.CompletionMarker,
		"executor.kill_grace":            cfg.Executor.KillGrace.String(),

		"recovery.max_attempts":        cfg.Recovery.MaxAttempts,
		"recovery.transient_patterns":  cfg.Recovery.TransientPatterns,
		"recovery.logic_patterns":      cfg.Recovery.LogicPatterns,
		"recovery.timeout_tier":        cfg.Recovery.TimeoutTier,
		"recovery.guidance_tail_lines": cfg.Recovery.GuidanceTailLines,

		"timeouts.default": cfg.Timeouts.Default.String(),

		"state.dir":     cfg.State.Dir,
		"state.backend": cfg.State.Backend,

		"log.level":  cfg.Log.Level,
		"log.format": cfg.Log.Format,
		"log.file":   cfg.Log.File,

		"dashboard.refresh_rate": cfg.Dashboard.RefreshRate.String(),

		"metrics.addr": cfg.Metrics.Addr,
	}
}
