package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/grainql/internal/engine"
	"github.com/leapstack-labs/grainql/internal/state"
)

// ExplainOptions holds options for the explain command.
type ExplainOptions struct {
	Run bool
}

// NewExplainCommand creates the explain command.
func NewExplainCommand() *cobra.Command {
	opts := &ExplainOptions{}

	cmd := &cobra.Command{
		Use:   "explain <query>",
		Short: "Compile a query wrapped in the dialect's EXPLAIN",
		Long: `Compile a named query to an EXPLAIN statement for the configured dialect.

With --run the statement is executed against the target and the query plan
is printed.`,
		Example: `  grainql explain revenue_by_category
  grainql explain revenue_by_category --run`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeQueryNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Run, "run", false, "Execute the statement and print the plan")

	return cmd
}

func runExplain(cmd *cobra.Command, name string, opts *ExplainOptions) error {
	eng, r, _, err := setup(cmd, state.OriginCLI)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	c, err := eng.Explain(cmd.Context(), name)
	if c == nil {
		return err
	}
	if err := renderCompiled(r, eng.Dialect().Name, []*engine.Compiled{c}); err != nil {
		return err
	}
	if c.Err != nil {
		return errCompileFailed
	}
	if !opts.Run {
		return nil
	}

	exec, err := eng.Run(cmd.Context(), c, 0)
	if err != nil {
		return err
	}
	r.Println()
	return renderExecution(r, exec)
}
