package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/grainql/internal/cli/output"
	"github.com/leapstack-labs/grainql/internal/engine"
	"github.com/leapstack-labs/grainql/internal/state"
)

// CompileOptions holds options for the compile command.
type CompileOptions struct {
	Source string
	All    bool
}

// compileOutput is the JSON form of one compiled statement.
type compileOutput struct {
	Name        string   `json:"name,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Dialect     string   `json:"dialect"`
	SQL         string   `json:"sql,omitempty"`
	CTEs        []string `json:"ctes,omitempty"`
	Columns     []string `json:"columns,omitempty"`
	DurationMS  float64  `json:"duration_ms"`
	Error       string   `json:"error,omitempty"`
}

// errCompileFailed reports that at least one statement did not compile.
var errCompileFailed = errors.New("compilation failed")

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	opts := &CompileOptions{}

	cmd := &cobra.Command{
		Use:   "compile [query...]",
		Short: "Compile named queries to SQL",
		Long: `Compile named queries of the semantic model to SQL for the configured dialect.

Without arguments every query in the model is compiled. Use --source to
compile an ad-hoc query instead: a comma separated list of concepts or a
YAML query mapping.`,
		Example: `  # Compile one query
  grainql compile revenue_by_category

  # Compile every query as JSON
  grainql compile -o json

  # Compile an ad-hoc selection
  grainql compile --source "category_name, total_revenue"`,
		ValidArgsFunction: completeQueryNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Source, "source", "s", "", "Ad-hoc query to compile")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Compile every query (the default without arguments)")

	return cmd
}

func runCompile(cmd *cobra.Command, args []string, opts *CompileOptions) error {
	if opts.Source != "" && (len(args) > 0 || opts.All) {
		return fmt.Errorf("--source cannot be combined with query names or --all")
	}

	eng, r, _, err := setup(cmd, state.OriginCLI)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	var results []*engine.Compiled
	if opts.Source != "" {
		c, err := eng.CompileSource(cmd.Context(), opts.Source)
		if c == nil {
			if err == nil {
				err = errCompileFailed
			}
			c = &engine.Compiled{Err: err}
		}
		results = []*engine.Compiled{c}
	} else {
		names := args
		if opts.All {
			names = nil
		}
		results, err = eng.CompileAll(cmd.Context(), names)
		if err != nil {
			return err
		}
	}

	if err := renderCompiled(r, eng.Dialect().Name, results); err != nil {
		return err
	}
	for _, c := range results {
		if c.Err != nil {
			return errCompileFailed
		}
	}
	return nil
}

func toCompileOutput(dialect string, c *engine.Compiled) compileOutput {
	out := compileOutput{
		Name:        c.Name,
		Fingerprint: c.Fingerprint,
		Dialect:     dialect,
		SQL:         c.SQL,
		CTEs:        c.CTENames,
		DurationMS:  float64(c.Duration.Microseconds()) / 1000,
	}
	for _, col := range c.Outputs() {
		out.Columns = append(out.Columns, col.Address())
	}
	if c.Err != nil {
		out.Error = c.Err.Error()
	}
	return out
}

// renderCompiled writes compiled statements in the renderer's mode.
func renderCompiled(r *output.Renderer, dialect string, results []*engine.Compiled) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		outs := make([]compileOutput, 0, len(results))
		for _, c := range results {
			outs = append(outs, toCompileOutput(dialect, c))
		}
		if len(outs) == 1 {
			return r.JSON(outs[0])
		}
		return r.JSON(outs)

	case output.ModeMarkdown:
		for _, c := range results {
			r.Println(output.FormatHeader(2, displayName(c)))
			r.Println()
			if c.Err != nil {
				r.Println(output.FormatKeyValue("Error", c.Err.Error()))
				r.Println()
				continue
			}
			r.Println(output.FormatKeyValue("Dialect", dialect))
			r.Println(output.FormatKeyValue("CTEs", fmt.Sprintf("%d", len(c.CTENames))))
			r.Println()
			r.Println(output.FormatCodeBlock("sql", c.SQL))
			r.Println()
		}
		return nil

	default:
		styles := r.Styles()
		for i, c := range results {
			if i > 0 {
				r.Println()
			}
			if c.Err != nil {
				r.StatusLine(displayName(c), "failed", c.Err.Error())
				continue
			}
			r.StatusLine(displayName(c), "success",
				fmt.Sprintf("%s, %d CTEs, %s", dialect, len(c.CTENames), c.Duration.Round(time.Microsecond)))
			r.Println(styles.SQL.Render(c.SQL))
		}
		return nil
	}
}

func displayName(c *engine.Compiled) string {
	if c.Name == "" {
		return "(ad-hoc)"
	}
	return c.Name
}

// completeQueryNames completes query names of the model in the working
// directory.
func completeQueryNames(cmd *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	eng, err := engine.New(engine.Config{ModelsDir: cfg.ModelsDir})
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	defer func() { _ = eng.Close() }()
	m, err := eng.Model()
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return m.QueryNames(), cobra.ShellCompDirectiveNoFileComp
}
