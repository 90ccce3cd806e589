package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/grainql/internal/cli/output"
	"github.com/leapstack-labs/grainql/internal/state"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Query  string
	Status string
	Limit  int
}

// NewHistoryCommand creates the history command and its subcommands.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the compile history",
		Long: `List recent compilations recorded in the state database.

Every compile records its fingerprint, dialect, SQL and outcome. Runs
against a target are recorded with the compile they executed.`,
		Example: `  grainql history
  grainql history --query revenue_by_category --status failed
  grainql history show 3f2a
  grainql history stats
  grainql history prune --keep 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "Only list compiles of this query")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Only list compiles with this status (success, failed)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of entries")

	cmd.AddCommand(newHistoryShowCommand(), newHistoryStatsCommand(), newHistoryPruneCommand())
	return cmd
}

func historyStore(cmd *cobra.Command) (state.Store, *output.Renderer, error) {
	cfg, err := getConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := state.OpenAndMigrate(cfg.StatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return store, getRenderer(cmd, cfg), nil
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	switch state.Status(opts.Status) {
	case "", state.StatusSuccess, state.StatusFailed:
	default:
		return fmt.Errorf("invalid status %q (want success or failed)", opts.Status)
	}

	store, r, err := historyStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	recs, err := store.ListCompiles(cmd.Context(), state.HistoryFilter{
		QueryName: opts.Query,
		Status:    state.Status(opts.Status),
		Limit:     opts.Limit,
	})
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		if recs == nil {
			recs = []*state.CompileRecord{}
		}
		return r.JSON(recs)
	}
	if len(recs) == 0 {
		r.Muted("No compiles recorded yet")
		return nil
	}

	r.Header(1, fmt.Sprintf("Compile history (%d)", len(recs)))
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		name := rec.QueryName
		if name == "" {
			name = "(ad-hoc)"
		}
		rows = append(rows, []any{
			shortID(rec.ID),
			rec.CreatedAt.Local().Format(time.DateTime),
			name,
			rec.Dialect,
			rec.Origin,
			string(rec.Status),
			rec.Duration.Round(time.Microsecond).String(),
		})
	}
	r.Table([]string{"ID", "When", "Query", "Dialect", "Origin", "Status", "Duration"}, rows)
	return nil
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recorded compile and its executions",
		Long:  `Show a recorded compile by id. A unique id prefix is enough.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, r, err := historyStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec, err := store.GetCompile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			execs, err := store.ListExecutions(cmd.Context(), rec.ID)
			if err != nil {
				return err
			}

			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(struct {
					*state.CompileRecord
					Executions []*state.ExecutionRecord `json:"Executions"`
				}{rec, execs})
			}

			r.Header(1, "Compile "+rec.ID)
			r.KeyValue("Query", rec.QueryName)
			r.KeyValue("Fingerprint", rec.Fingerprint)
			r.KeyValue("Dialect", rec.Dialect)
			r.KeyValue("Origin", rec.Origin)
			r.KeyValue("Status", string(rec.Status))
			r.KeyValue("When", rec.CreatedAt.Local().Format(time.DateTime))
			r.KeyValue("Duration", rec.Duration.String())
			if rec.Error != "" {
				r.KeyValue("Error", rec.Error)
			}
			if rec.SQL != "" {
				r.Println()
				if r.EffectiveMode() == output.ModeMarkdown {
					r.Println(output.FormatCodeBlock("sql", rec.SQL))
				} else {
					r.Println(r.Styles().SQL.Render(rec.SQL))
				}
			}
			if len(execs) > 0 {
				r.Println()
				r.Header(2, "Executions")
				rows := make([][]any, 0, len(execs))
				for _, ex := range execs {
					rows = append(rows, []any{
						ex.CreatedAt.Local().Format(time.DateTime), ex.Target, string(ex.Status), ex.RowCount, ex.Duration.String(), ex.Error,
					})
				}
				r.Table([]string{"When", "Target", "Status", "Rows", "Duration", "Error"}, rows)
			}
			return nil
		},
	}
}

func newHistoryStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Aggregate compiles per statement fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, r, err := historyStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if r.EffectiveMode() == output.ModeJSON {
				if stats == nil {
					stats = []*state.FingerprintStats{}
				}
				return r.JSON(stats)
			}

			r.Header(1, fmt.Sprintf("Statements (%d)", len(stats)))
			rows := make([][]any, 0, len(stats))
			for _, s := range stats {
				rows = append(rows, []any{
					shortID(s.Fingerprint), s.QueryName, s.Compiles, s.Failures,
					s.AvgDuration.Round(time.Microsecond).String(), s.LastSeen.Local().Format(time.DateTime),
				})
			}
			r.Table([]string{"Fingerprint", "Query", "Compiles", "Failures", "Avg", "Last seen"}, rows)
			return nil
		},
	}
}

func newHistoryPruneCommand() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent compiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if keep < 0 {
				return fmt.Errorf("--keep must not be negative")
			}
			store, r, err := historyStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := store.Prune(cmd.Context(), keep)
			if err != nil {
				return err
			}
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(map[string]int64{"deleted": n})
			}
			r.Success(fmt.Sprintf("deleted %d compiles", n))
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 100, "Number of recent compiles to keep")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
