package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/grainql/internal/cli/output"
	"github.com/leapstack-labs/grainql/internal/engine"
	"github.com/leapstack-labs/grainql/internal/state"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Source  string
	Limit   int
	ShowSQL bool
}

// runOutput is the JSON form of an execution.
type runOutput struct {
	compileOutput
	Rows      []map[string]any `json:"rows,omitempty"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated,omitempty"`
	RunMS     float64          `json:"run_ms"`
	Persisted bool             `json:"persisted,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Compile a query and execute it against the target",
		Long: `Compile a named or ad-hoc query and execute the SQL against the configured target.

Select queries print their rows; persist queries create their table.`,
		Example: `  grainql run revenue_by_category
  grainql run --source "category_name, total_revenue" --limit 10
  grainql run toy_orders -t prod -o json`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeQueryNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Source, "source", "s", "", "Ad-hoc query to run")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 100, "Maximum number of rows to print (0 for all)")
	cmd.Flags().BoolVar(&opts.ShowSQL, "sql", false, "Print the compiled SQL before the results")

	return cmd
}

func runRun(cmd *cobra.Command, args []string, opts *RunOptions) error {
	if (len(args) == 0) == (opts.Source == "") {
		return fmt.Errorf("exactly one of a query name and --source is required")
	}

	eng, r, _, err := setup(cmd, state.OriginCLI)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	var c *engine.Compiled
	if opts.Source != "" {
		c, err = eng.CompileSource(cmd.Context(), opts.Source)
	} else {
		c, err = eng.Compile(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}
	if opts.ShowSQL && r.EffectiveMode() != output.ModeJSON {
		if err := renderCompiled(r, eng.Dialect().Name, []*engine.Compiled{c}); err != nil {
			return err
		}
		r.Println()
	}

	exec, err := eng.Run(cmd.Context(), c, opts.Limit)
	if err != nil {
		return err
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(toRunOutput(eng.Dialect().Name, exec))
	}
	return renderExecution(r, exec)
}

func toRunOutput(dialect string, exec *engine.Execution) runOutput {
	out := runOutput{
		compileOutput: toCompileOutput(dialect, exec.Compiled),
		RunMS:         float64(exec.Duration.Microseconds()) / 1000,
		Persisted:     exec.Result == nil,
	}
	if res := exec.Result; res != nil {
		out.RowCount = len(res.Rows)
		out.Truncated = res.Truncated
		out.Rows = make([]map[string]any, 0, len(res.Rows))
		for _, row := range res.Rows {
			m := make(map[string]any, len(res.Columns))
			for i, col := range res.Columns {
				if b, ok := row[i].([]byte); ok {
					m[col] = string(b)
					continue
				}
				m[col] = row[i]
			}
			out.Rows = append(out.Rows, m)
		}
	}
	return out
}

// renderExecution writes the rows of an execution as a table.
func renderExecution(r *output.Renderer, exec *engine.Execution) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(toRunOutput("", exec))
	}
	if exec.Result == nil {
		r.Success(fmt.Sprintf("persisted %s in %s", displayName(exec.Compiled), exec.Duration.Round(time.Millisecond)))
		return nil
	}
	res := exec.Result
	if len(res.Rows) == 0 {
		r.Muted("(0 rows)")
		return nil
	}
	r.Table(res.Columns, res.Rows)
	summary := fmt.Sprintf("(%d rows in %s)", len(res.Rows), exec.Duration.Round(time.Millisecond))
	if res.Truncated {
		summary = fmt.Sprintf("(first %d rows in %s, more available)", len(res.Rows), exec.Duration.Round(time.Millisecond))
	}
	r.Muted(summary)
	return nil
}
