// Package config loads the CLI configuration.
//
// The project settings shared with the engine and server live in
// internal/config; this package layers CLI flags, GRAINQL_ environment
// variables and named environments on top of them.
package config

import (
	"fmt"
	"os"

	"github.com/leapstack-labs/grainql/internal/cli/output"
	intconfig "github.com/leapstack-labs/grainql/internal/config"
)

// TargetConfig is the shared target configuration.
type TargetConfig = intconfig.TargetConfig

// Config holds all CLI configuration options.
type Config struct {
	ModelsDir    string                  `koanf:"models_dir"`
	StatePath    string                  `koanf:"state_path"`
	Dialect      string                  `koanf:"dialect"`
	Environment  string                  `koanf:"environment"`
	Verbose      bool                    `koanf:"verbose"`
	OutputFormat string                  `koanf:"output"`
	Target       *TargetConfig           `koanf:"target"`
	Compile      intconfig.CompileConfig `koanf:"compile"`
	Server       intconfig.ServerConfig  `koanf:"server"`
	Environments map[string]EnvConfig    `koanf:"environments"`

	// ProjectRoot anchors relative paths. Not read from the file.
	ProjectRoot string `koanf:"-"`
	// ConfigFile is the file that was loaded, empty when none was found.
	ConfigFile string `koanf:"-"`
}

// EnvConfig holds the overrides of a named environment.
type EnvConfig struct {
	ModelsDir string        `koanf:"models_dir"`
	Dialect   string        `koanf:"dialect"`
	Target    *TargetConfig `koanf:"target"`
}

// Default configuration values.
const (
	DefaultStateFile = ".grainql/state.db"
	DefaultEnv       = "dev"
	DefaultOutput    = string(output.ModeAuto)
)

// Project returns the project configuration used by the engine and server.
func (c *Config) Project() *intconfig.ProjectConfig {
	return &intconfig.ProjectConfig{
		ModelsDir: c.ModelsDir,
		Dialect:   c.Dialect,
		Target:    c.Target,
		Compile:   c.Compile,
		Server:    c.Server,
	}
}

// Validate checks settings that do not depend on the filesystem.
func (c *Config) Validate() error {
	if c.ModelsDir == "" {
		return fmt.Errorf("models_dir is required")
	}
	if _, err := output.ParseMode(c.OutputFormat); err != nil {
		return err
	}
	if _, err := c.Project().ResolveDialect(); err != nil {
		return err
	}
	return nil
}

// ValidateDirectories checks that the models directory exists.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.ModelsDir); os.IsNotExist(err) {
		return fmt.Errorf("models directory does not exist: %s\nHint: create the directory or use --models-dir to specify a different path", c.ModelsDir)
	}
	return nil
}
