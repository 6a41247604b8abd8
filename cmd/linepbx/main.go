package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linepbx/linepbx/internal/api"
	"github.com/linepbx/linepbx/internal/config"
	"github.com/linepbx/linepbx/internal/database"
	"github.com/linepbx/linepbx/internal/metrics"
	"github.com/linepbx/linepbx/internal/pbx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting linepbx",
		"node", cfg.NodeName,
		"listen_port", cfg.ListenPort,
		"http_port", cfg.HTTPPort,
		"local_prefix", cfg.LocalPrefix,
		"remote_prefix", cfg.RemotePrefix,
		"trunk_peer", cfg.TrunkPeer,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	dir := database.NewExtensionDirectory(db)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Signaling server: endpoint listener, trunk dialer and trunk listener.
	srv := pbx.NewServer(cfg, dir, logger)
	if err := srv.Start(appCtx); err != nil {
		slog.Error("failed to start signaling server", "error", err)
		os.Exit(1)
	}

	// Metrics registry with the scrape-time collector.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(
		srv.Registry(),
		&trunkMetricsAdapter{srv: srv},
		dir,
		time.Now(),
	))

	// Ops HTTP API.
	handler := api.NewServer(cfg, srv.Registry(), srv, dir, promReg, logger)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down servers")
	appCancel()
	srv.Stop()

	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("linepbx stopped")
}

// trunkMetricsAdapter bridges the signaling server's trunk status to the
// metrics collector's provider interface.
type trunkMetricsAdapter struct {
	srv *pbx.Server
}

func (a *trunkMetricsAdapter) TrunkLinkState() (string, int) {
	st := a.srv.TrunkStatus()
	return string(st.State), st.RetryAttempt
}
