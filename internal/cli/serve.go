package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "run"},
	Short:   "Run the status sweeper with a metrics endpoint",
	Long: `Run the periodic account sweep in the foreground. Every stored
account is re-verified on the configured interval; expired tokens are
refreshed, suspensions and dead credentials raise Telegram alerts, and
gauges are exported on /metrics.

Example:
  kirocloud serve --config config.yaml --listen :9090`,
	RunE: runServe,
}

var serveFlags struct {
	Listen  string
	Timeout time.Duration
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Listen, "listen", ":9090", "Metrics listen address")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", 30*time.Second, "Shutdown timeout")
	RegisterCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := newApp(globalFlags.Config)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Config reloads take effect on the next sweep.
	if err := app.loader.Watch(); err != nil {
		app.log.Warn("config watch unavailable", "error", err.Error())
	}
	defer app.loader.Stop()

	sweeper := newSweeper(app, nil)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "accounts": len(app.store.ListAccounts())})
	})
	engine.GET("/accounts", func(c *gin.Context) {
		c.JSON(http.StatusOK, app.store.ListAccounts())
	})
	engine.GET("/metrics", gin.WrapH(app.metrics.Handler()))

	srv := &http.Server{
		Addr:              serveFlags.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	app.log.Info("server started", "listen", serveFlags.Listen, "sweep_interval", app.cfg.Sweep.Interval.String())

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serveFlags.Timeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
