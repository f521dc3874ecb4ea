package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/fiscal-sync/internal/config"
	"github.com/rezonia/fiscal-sync/internal/server"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
	serveSync    time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server exposing the sync pipeline and the batch ledger.

The API provides endpoints for:
  - POST /api/v1/sync                          - Run one sync
  - GET  /api/v1/tenants/:tenant/batches       - List executed batches
  - GET  /api/v1/tenants/:tenant/pending       - List interrupted batches
  - GET  /api/v1/batches/:id                   - Get one batch
  - GET  /api/v1/batches/:id/reconcile?rfc=    - Check a batch against Zoho Books
  - POST /api/v1/batches/:id/publish?rfc=      - Create bills for a batch
  - GET  /health                               - Health check

Examples:
  # Start server on the configured port
  fiscal-sync serve

  # Start on custom port in debug mode
  fiscal-sync serve --address :9090 --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (env: PORT)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 0, "HTTP read timeout (env: READ_TIMEOUT)")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 0, "HTTP write timeout (env: WRITE_TIMEOUT)")
	serveCmd.Flags().DurationVar(&serveSync, "sync-timeout", 90*time.Minute, "Timeout for one sync request")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pipeline, err := a.pipeline(ctx, false)
	if err != nil {
		return err
	}
	pub, err := a.publisher(ctx)
	if err != nil {
		return err
	}

	srv := server.NewServer(serverConfig(cfg.Server), server.Services{
		Pipeline:  pipeline,
		Publisher: pub,
		Ledger:    a.ledger,
		Profiles:  a.profiles,
		Logger:    a.log,
	})

	return srv.Run(ctx)
}

// serverConfig merges the serve flags over the loaded settings; flags left
// at zero fall back to the environment.
func serverConfig(c config.ServerConfig) *server.Config {
	sc := &server.Config{
		Address:      serverAddr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		SyncTimeout:  serveSync,
		Debug:        serverDebug || c.Environment == "development",
	}
	if sc.Address == "" {
		sc.Address = fmt.Sprintf(":%d", c.Port)
	}
	if sc.ReadTimeout == 0 {
		sc.ReadTimeout = c.ReadTimeout
	}
	if sc.WriteTimeout == 0 {
		sc.WriteTimeout = c.WriteTimeout
	}
	return sc
}
