// Command agentcored runs the agent-orchestration core as a standalone
// HTTP service: POST /rpc, GET /ws, POST /lpt/callback, and a metrics
// server on a separate listener. Grounded on the teacher's
// cmd/alex-server/main.go (thin main that hands off to a bootstrap
// package) and internal/delivery/server/bootstrap/server.go's
// serveUntilSignal graceful-shutdown idiom; the cobra root command's
// flag/RunE shape follows cmd/cobra_cli.go's NewRootCommand.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/kabsikabs/agentcore/internal/app"
	"github.com/kabsikabs/agentcore/internal/shared/async"
	"github.com/kabsikabs/agentcore/internal/shared/config"
	"github.com/kabsikabs/agentcore/internal/shared/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "agentcored",
		Short: "agentcore's RPC/WebSocket/LPT-callback server",
		Long: `agentcored serves the agent-orchestration core: JSON-RPC over
POST /rpc, streaming turn events over GET /ws, and worker callbacks over
POST /lpt/callback. Configuration loads from built-in defaults,
--config (if given), and AGENTCORE_-prefixed environment variables, in
that increasing precedence order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML/JSON config file")
	return cmd
}

func run(configPath string) error {
	logger := logging.NewComponentLogger("Main")
	logger.Info("starting agentcored...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("agentcored: load config: %w", err)
	}

	core, err := app.New(cfg, logging.NewComponentLogger("App"))
	if err != nil {
		return fmt.Errorf("agentcored: build core: %w", err)
	}

	watcher, err := config.NewWatcher(configPath, cfg, func(updated *config.Config) {
		logger.Info("config reloaded from %s", configPath)
	})
	if err != nil {
		return fmt.Errorf("agentcored: start config watcher: %w", err)
	}
	core.SetWatcher(watcher)

	startCtx, cancelStart := context.WithCancel(context.Background())
	defer cancelStart()
	if err := core.Start(startCtx); err != nil {
		return fmt.Errorf("agentcored: start core: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := core.Close(closeCtx); err != nil {
			logger.Warn("agentcored: close core: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/rpc", core.Gateway)
	mux.Handle("/ws", core.Hub)
	mux.Handle("/lpt/callback", core.LPTRouter)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(core.Registry, promhttp.HandlerOpts{})}
	async.Go(logger, "metrics.listen", func() {
		logger.Info("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error: %v", err)
		}
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(ctx)
	}()

	return serveUntilSignal(server, logger)
}

func serveUntilSignal(server *http.Server, logger logging.Logger) error {
	logger = logging.OrNop(logger)

	errCh := make(chan error, 1)
	async.Go(logger, "server.listen", func() {
		logger.Info("server listening on %s", server.Addr)
		errCh <- server.ListenAndServe()
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-quit:
		logger.Info("shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := server.Shutdown(ctx)

		serveErr := <-errCh
		if serveErr == http.ErrServerClosed {
			serveErr = nil
		}

		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}

		logger.Info("server stopped")
		return nil
	}
}
