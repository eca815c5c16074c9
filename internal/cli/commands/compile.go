package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewCompileCommand creates the compile command.
func NewCompileCommand(factory RuntimeFactory) *cobra.Command {
	var (
		target string
		format string
	)

	cmd := &cobra.Command{
		Use:   "compile <workflow.json>",
		Short: "Compile a workflow target to SQL without executing it",
		Long: `Compile the subgraph feeding the target node into one parameterized
SQL statement and print it together with its bound parameters and
routing decision. Nothing is executed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := loadWorkflow(args[0])
			if err != nil {
				return err
			}
			tgt, err := resolveTarget(wf, target)
			if err != nil {
				return err
			}

			rt, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			q, err := rt.Engine.Compile(wf.Graph, tgt, wf.Tenant, wf.Page)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if format == "json" {
				return writeJSONValue(w, q)
			}

			fmt.Fprintln(w, q.SQLText)
			fmt.Fprintln(w)
			fmt.Fprintf(w, "-- store: %s (%s, %s)\n", q.BackingStore, q.Family, q.Freshness)
			for i, p := range q.Parameters {
				fmt.Fprintf(w, "-- param %d: %v\n", i+1, p)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "Target node id (defaults to the workflow file's target)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format (text|json)")
	return cmd
}
