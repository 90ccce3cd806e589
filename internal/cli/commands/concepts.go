package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/grainql/internal/cli/output"
	"github.com/leapstack-labs/grainql/internal/engine"
	"github.com/leapstack-labs/grainql/internal/state"
)

// ConceptsOptions holds options for the concepts command.
type ConceptsOptions struct {
	Namespace string
	Purpose   string
	Derived   bool
}

// NewConceptsCommand creates the concepts command.
func NewConceptsCommand() *cobra.Command {
	opts := &ConceptsOptions{}

	cmd := &cobra.Command{
		Use:     "concepts",
		Aliases: []string{"ls"},
		Short:   "List the concepts of the semantic model",
		Example: `  grainql concepts
  grainql concepts --purpose metric
  grainql concepts --namespace crm --derived -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConcepts(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "Only list concepts of this namespace")
	cmd.Flags().StringVar(&opts.Purpose, "purpose", "", "Only list concepts with this purpose (key, property, metric, constant)")
	cmd.Flags().BoolVar(&opts.Derived, "derived", false, "Include generated concepts such as date parts")
	_ = cmd.RegisterFlagCompletionFunc("purpose", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"key", "property", "metric", "constant"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runConcepts(cmd *cobra.Command, opts *ConceptsOptions) error {
	eng, r, _, err := setup(cmd, state.OriginCLI)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	concepts, err := eng.Concepts(engine.ConceptFilter{
		Namespace: opts.Namespace,
		Purpose:   opts.Purpose,
		Derived:   opts.Derived,
	})
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		if concepts == nil {
			concepts = []engine.ConceptInfo{}
		}
		return r.JSON(concepts)
	}

	r.Header(1, fmt.Sprintf("Concepts (%d)", len(concepts)))
	rows := make([][]any, 0, len(concepts))
	for _, c := range concepts {
		rows = append(rows, []any{c.Address, c.Purpose, c.Datatype, strings.Join(c.Grain, ", "), c.Lineage})
	}
	r.Table([]string{"Address", "Purpose", "Type", "Grain", "Lineage"}, rows)
	return nil
}
