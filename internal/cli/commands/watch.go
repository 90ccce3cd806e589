package commands

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/grainql/internal/cli/config"
	"github.com/leapstack-labs/grainql/internal/cli/output"
	"github.com/leapstack-labs/grainql/internal/engine"
	"github.com/leapstack-labs/grainql/internal/server"
	"github.com/leapstack-labs/grainql/internal/state"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [query...]",
		Short: "Recompile queries whenever model files change",
		Long: `Compile the given queries, or all of them, and recompile every time a
model file changes. A model that fails to load keeps the previous one active.`,
		Example: `  grainql watch
  grainql watch revenue_by_category -o json`,
		ValidArgsFunction: completeQueryNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args)
		},
	}
	return cmd
}

func runWatch(cmd *cobra.Command, names []string) error {
	eng, r, cfg, err := setup(cmd, state.OriginWatch)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	compile := func() {
		results, err := eng.CompileAll(ctx, names)
		if err != nil {
			r.Error(err.Error())
			return
		}
		if err := renderCompiled(r, eng.Dialect().Name, results); err != nil {
			r.Error(err.Error())
		}
	}

	compile()
	if r.EffectiveMode() != output.ModeJSON {
		r.Muted(fmt.Sprintf("watching %s for changes (ctrl-c to stop)", eng.ModelsDir()))
	}

	return server.Watch(ctx, eng.ModelsDir(), cfg.Server.Debounce, config.GetLogger(cmd.Context()), func(files []string) {
		if r.EffectiveMode() != output.ModeJSON {
			r.Println()
			r.Muted(fmt.Sprintf("%s changed: %s", time.Now().Format(time.TimeOnly), relativeFiles(eng, files)))
		}
		if _, err := eng.Load(); err != nil {
			r.Error("model not reloaded: " + err.Error())
			return
		}
		compile()
	})
}

func relativeFiles(eng *engine.Engine, files []string) string {
	rel := make([]string, len(files))
	for i, f := range files {
		if p, err := filepath.Rel(eng.ModelsDir(), f); err == nil {
			rel[i] = p
			continue
		}
		rel[i] = f
	}
	return strings.Join(rel, ", ")
}
