package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/grainql/internal/cli/output"
	"github.com/leapstack-labs/grainql/internal/state"
)

// SeedOptions holds options for the seed command.
type SeedOptions struct {
	Table string
}

// NewSeedCommand creates the seed command.
func NewSeedCommand() *cobra.Command {
	opts := &SeedOptions{}

	cmd := &cobra.Command{
		Use:   "seed <file.csv>...",
		Short: "Load CSV files into the target database",
		Long: `Load CSV files into tables of the target database.

Each file replaces the table named after it; the header row names the
columns and every value is loaded as text.`,
		Example: `  grainql seed data/orders.csv data/products.csv
  grainql seed --table category data/categories.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Table != "" && len(args) > 1 {
				return errors.New("--table can only be used with a single file")
			}
			eng, r, _, err := setup(cmd, state.OriginCLI)
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			seeded := make([]string, 0, len(args))
			for _, path := range args {
				table, err := eng.Seed(cmd.Context(), opts.Table, path)
				if err != nil {
					return err
				}
				seeded = append(seeded, table)
				if r.EffectiveMode() != output.ModeJSON {
					r.StatusLine(table, "success", path)
				}
			}
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(map[string][]string{"tables": seeded})
			}
			r.Success(fmt.Sprintf("seeded %d tables", len(seeded)))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "Table name (default: the file name)")

	return cmd
}
