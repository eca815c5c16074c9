package commands

import (
	"github.com/spf13/cobra"

	"github.com/flowstack-labs/flowsql/pkg/core"
)

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(factory RuntimeFactory) *cobra.Command {
	var (
		target string
		format string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "preview <workflow.json>",
		Short: "Compile and execute a workflow target against its backing store",
		Long: `Compile the target node's query, execute it on the backing store
under the safety profile matching the data's freshness, and print the
resulting rows.`,
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

			page := wf.Page
			if cmd.Flags().Changed("limit") {
				page.Limit = limit
			}
			if cmd.Flags().Changed("offset") {
				page.Offset = offset
			}

			rt, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if err := rt.Router.Connect(cmd.Context()); err != nil {
				return err
			}

			rs, err := rt.Engine.Preview(cmd.Context(), wf.Graph, tgt, wf.Tenant, page)
			if err != nil {
				var ee *core.ExecutionError
				if asExecutionError(err, &ee) {
					return executionFailure(ee)
				}
				return err
			}

			return renderResultSet(cmd.OutOrStdout(), rs, format)
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "Target node id (defaults to the workflow file's target)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format (table|json|csv|markdown)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Row limit for this page")
	cmd.Flags().IntVar(&offset, "offset", 0, "Row offset for this page")
	return cmd
}
