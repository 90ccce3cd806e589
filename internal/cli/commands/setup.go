// Package commands implements the grainql subcommands.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/grainql/internal/cli/config"
	"github.com/leapstack-labs/grainql/internal/cli/output"
	"github.com/leapstack-labs/grainql/internal/engine"
)

type configKey struct{}

type rendererKey struct{}

// WithContext stores the loaded configuration and renderer for commands.
func WithContext(ctx context.Context, cfg *config.Config, r *output.Renderer) context.Context {
	ctx = context.WithValue(ctx, configKey{}, cfg)
	return context.WithValue(ctx, rendererKey{}, r)
}

// getConfig returns the configuration loaded by the root command, loading
// it from the working directory when the command runs standalone.
func getConfig(cmd *cobra.Command) (*config.Config, error) {
	if cfg, ok := cmd.Context().Value(configKey{}).(*config.Config); ok {
		return cfg, nil
	}
	return config.LoadConfig("", nil)
}

func getRenderer(cmd *cobra.Command, cfg *config.Config) *output.Renderer {
	if r, ok := cmd.Context().Value(rendererKey{}).(*output.Renderer); ok {
		return r
	}
	mode, err := output.ParseMode(cfg.OutputFormat)
	if err != nil {
		mode = output.ModeAuto
	}
	return output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)
}

// createEngine builds an engine from the configuration. The caller closes it.
func createEngine(cmd *cobra.Command, cfg *config.Config, origin string) (*engine.Engine, error) {
	if err := cfg.ValidateDirectories(); err != nil {
		return nil, err
	}
	project := cfg.Project()
	d, err := project.ResolveDialect()
	if err != nil {
		return nil, err
	}

	engCfg := engine.Config{
		ModelsDir: cfg.ModelsDir,
		StatePath: cfg.StatePath,
		Dialect:   d,
		Compile:   cfg.Compile.ProcessorConfig(),
		Origin:    origin,
		Logger:    config.GetLogger(cmd.Context()),
	}
	if cfg.Target != nil {
		target := cfg.Target.ToAdapterConfig()
		engCfg.Target = &target
	}

	eng, err := engine.New(engCfg)
	if err != nil {
		return nil, err
	}
	if _, err := eng.Load(); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	return eng, nil
}

// setup loads the configuration, renderer and engine every command needs.
func setup(cmd *cobra.Command, origin string) (*engine.Engine, *output.Renderer, *config.Config, error) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	eng, err := createEngine(cmd, cfg, origin)
	if err != nil {
		return nil, nil, nil, err
	}
	return eng, getRenderer(cmd, cfg), cfg, nil
}
