package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/grainql/internal/cli/config"
	"github.com/leapstack-labs/grainql/internal/server"
	"github.com/leapstack-labs/grainql/internal/state"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Addr    string
	NoWatch bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the compiler over HTTP",
		Long: `Start an HTTP server exposing the compiler.

Endpoints:
  POST /compile      compile a named or ad-hoc query, optionally running it
  GET  /queries      list the named queries
  GET  /concepts     list concepts (?namespace=, ?purpose=, ?derived=)
  GET  /datasources  list datasources
  GET  /history      list recent compiles (?query=, ?status=, ?limit=)
  GET  /events       stream model reloads as server-sent events
  POST /reload       reload the model
  GET  /healthz      liveness

The model is reloaded when files in the models directory change.`,
		Example: `  grainql serve
  grainql serve --addr :9000 --no-watch
  curl -s localhost:8420/compile -d '{"query": "revenue_by_category"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "Address to listen on (default: server.addr from config)")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "Do not reload the model on file changes")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	eng, r, cfg, err := setup(cmd, state.OriginServer)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	addr := cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.New(server.Config{
		Engine:   eng,
		Addr:     addr,
		Watch:    !opts.NoWatch,
		Debounce: cfg.Server.Debounce,
		Logger:   config.GetLogger(cmd.Context()),
	})
	r.Success("serving " + eng.ModelsDir() + " on http://" + addr)
	return srv.Serve(ctx)
}
