package config

import "time"

// Default configuration values.
const (
	DefaultModelsDir  = "models"
	DefaultServerAddr = "127.0.0.1:8420"
	DefaultDebounce   = 200 * time.Millisecond
)

// Defaults returns the flattened default values, loaded beneath the file
// so that booleans defaulting to true can still be switched off.
func Defaults() map[string]any {
	return map[string]any{
		"models_dir":                 DefaultModelsDir,
		"compile.inline_datasources": true,
		"compile.predicate_pushdown": true,
		"compile.validate_missing":   true,
		"server.addr":                DefaultServerAddr,
		"server.debounce":            DefaultDebounce.String(),
	}
}

// ApplyDefaults fills zero values that Defaults cannot express.
func (c *ProjectConfig) ApplyDefaults() {
	if c.ModelsDir == "" {
		c.ModelsDir = DefaultModelsDir
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.Debounce <= 0 {
		c.Server.Debounce = DefaultDebounce
	}
}

// ApplyDefaults applies type-specific defaults to a target.
func (t *TargetConfig) ApplyDefaults() {
	switch t.Type {
	case "postgres":
		if t.Port == 0 {
			t.Port = 5432
		}
		if t.Schema == "" {
			t.Schema = "public"
		}
	case "duckdb", "sqlite":
		if t.Schema == "" {
			t.Schema = "main"
		}
	}
}
