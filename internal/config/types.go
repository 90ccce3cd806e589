// Package config provides the project configuration types for grainql.
// It is decoupled from CLI concerns so the server and engine can load a
// project without cobra.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/grainql/pkg/adapter"
	"github.com/leapstack-labs/grainql/pkg/dialect"
	"github.com/leapstack-labs/grainql/pkg/processor"
)

// TargetConfig holds database target configuration.
type TargetConfig struct {
	Type string `koanf:"type"` // duckdb, postgres, sqlite

	// File-based databases (DuckDB, SQLite)
	Database string `koanf:"database"`

	// Network databases
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`

	Schema string `koanf:"schema"`

	// Additional driver-specific options
	Options map[string]string `koanf:"options"`

	// Params holds adapter-specific configuration (DuckDB extensions, secrets, settings)
	Params map[string]any `koanf:"params"`
}

// Validate checks the target against the adapter registry.
func (t *TargetConfig) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("target type is required")
	}
	if !adapter.IsRegistered(strings.ToLower(t.Type)) {
		return &adapter.UnknownAdapterError{
			Type:      t.Type,
			Available: adapter.ListAdapters(),
		}
	}
	return nil
}

// ToAdapterConfig maps the target onto the adapter connection config.
func (t *TargetConfig) ToAdapterConfig() adapter.Config {
	cfg := adapter.Config{
		Type:     strings.ToLower(t.Type),
		Host:     t.Host,
		Port:     t.Port,
		Database: t.Database,
		Username: t.User,
		Password: t.Password,
		Schema:   t.Schema,
		Options:  t.Options,
		Params:   t.Params,
	}
	if cfg.Type == "duckdb" || cfg.Type == "sqlite" {
		cfg.Path = t.Database
	}
	return cfg
}

// CompileConfig toggles the processor optimizations.
type CompileConfig struct {
	HumanNames        bool `koanf:"human_names"`
	InlineDatasources bool `koanf:"inline_datasources"`
	PredicatePushdown bool `koanf:"predicate_pushdown"`
	ValidateMissing   bool `koanf:"validate_missing"`
	MaxDepth          int  `koanf:"max_depth"`
}

// ProcessorConfig converts the compile options into a processor config.
func (c CompileConfig) ProcessorConfig() processor.Config {
	return processor.Config{
		HumanNames:        c.HumanNames,
		InlineDatasources: c.InlineDatasources,
		PredicatePushdown: c.PredicatePushdown,
		ValidateMissing:   c.ValidateMissing,
		MaxDepth:          c.MaxDepth,
	}
}

// ServerConfig configures `grainql serve`.
type ServerConfig struct {
	Addr     string        `koanf:"addr"`
	Debounce time.Duration `koanf:"debounce"`
}

// ProjectConfig is the subset of configuration every tool needs to load
// and compile a semantic model.
type ProjectConfig struct {
	ModelsDir string        `koanf:"models_dir"`
	Dialect   string        `koanf:"dialect"`
	Target    *TargetConfig `koanf:"target"`
	Compile   CompileConfig `koanf:"compile"`
	Server    ServerConfig  `koanf:"server"`
}

// ResolveDialect returns the configured dialect. Without an explicit
// dialect the target type picks one, falling back to the default.
func (c *ProjectConfig) ResolveDialect() (*dialect.Dialect, error) {
	name := c.Dialect
	if name == "" && c.Target != nil {
		if d, ok := dialect.Get(c.Target.Type); ok {
			return d, nil
		}
	}
	return dialect.Lookup(name)
}
