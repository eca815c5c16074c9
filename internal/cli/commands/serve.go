package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flowstack-labs/flowsql/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand(factory RuntimeFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the query-engine API server",
		Long: `Start the HTTP API server that backs the canvas editor: schema
validation, compilation, preview execution, and live row streaming.

The server connects every configured store at startup and refreshes
the schema catalog in the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := factory(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if err := rt.Router.Connect(ctx); err != nil {
				return err
			}
			go rt.Registry.Start(ctx)

			srv := server.NewServer(server.Config{
				Engine:  rt.Engine,
				Metrics: rt.Metrics,
				Listen:  rt.Config.Listen,
				Logger:  rt.Logger,
			})
			return srv.Serve(ctx)
		},
	}
}
