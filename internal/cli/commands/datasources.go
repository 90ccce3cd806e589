package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/grainql/internal/cli/output"
	"github.com/leapstack-labs/grainql/internal/engine"
	"github.com/leapstack-labs/grainql/internal/state"
)

// NewDatasourcesCommand creates the datasources command.
func NewDatasourcesCommand() *cobra.Command {
	var verbose, check bool

	cmd := &cobra.Command{
		Use:   "datasources",
		Short: "List the datasources of the semantic model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, r, _, err := setup(cmd, state.OriginCLI)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if check {
				return runDatasourceCheck(cmd, eng, r)
			}

			dss, err := eng.Datasources()
			if err != nil {
				return err
			}
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(dss)
			}

			r.Header(1, fmt.Sprintf("Datasources (%d)", len(dss)))
			rows := make([][]any, 0, len(dss))
			for _, ds := range dss {
				addr := ds.Address
				if ds.IsQuery {
					addr = "(" + addr + ")"
				}
				rows = append(rows, []any{ds.Name, addr, strings.Join(ds.Grain, ", "), len(ds.Columns), ds.Where})
			}
			r.Table([]string{"Name", "Address", "Grain", "Columns", "Where"}, rows)

			if !verbose {
				return nil
			}
			for _, ds := range dss {
				r.Println()
				r.Header(2, ds.Name)
				cols := make([][]any, 0, len(ds.Columns))
				for _, col := range ds.Columns {
					source := col.Alias
					if col.Raw != "" {
						source = col.Raw
					}
					cols = append(cols, []any{source, col.Concept, strings.Join(col.Modifiers, ", ")})
				}
				r.Table([]string{"Column", "Concept", "Modifiers"}, cols)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "columns", "c", false, "Show the column bindings of every datasource")
	cmd.Flags().BoolVar(&check, "check", false, "Verify every datasource against the target tables")

	return cmd
}

var errCheckFailed = errors.New("datasource check failed")

func runDatasourceCheck(cmd *cobra.Command, eng *engine.Engine, r *output.Renderer) error {
	checks, err := eng.CheckDatasources(cmd.Context())
	if err != nil {
		return err
	}
	failed := 0
	for _, c := range checks {
		if !c.OK() {
			failed++
		}
	}

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(checks); err != nil {
			return err
		}
	} else {
		r.Header(1, fmt.Sprintf("Datasource check (%d)", len(checks)))
		for _, c := range checks {
			switch {
			case c.Error != "":
				r.StatusLine(c.Name, "failed", c.Error)
			case len(c.Missing) > 0:
				r.StatusLine(c.Name, "failed", "missing columns: "+strings.Join(c.Missing, ", "))
			default:
				r.StatusLine(c.Name, "success", fmt.Sprintf("%s, %d rows", c.Table, c.RowCount))
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d datasources", errCheckFailed, failed, len(checks))
	}
	return nil
}
