package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomsync-go/internal/badgerstore"
	"github.com/vovakirdan/roomsync-go/internal/hub"
	"github.com/vovakirdan/roomsync-go/internal/server"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long: `Run the REST API, the websocket endpoint and /metrics.

Rooms, messages and profiles are kept in BadgerDB under ROOMSYNC_DATA_DIR,
or in memory when it is unset.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServerConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides ROOMSYNC_LISTEN_ADDR")
	return cmd
}

func serve(parent context.Context, cfg ServerConfig) error {
	log := logs.GetLoggerFromString(cfg.LogLevel)

	store, err := badgerstore.Open(cfg.DataDir, log)
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = store.Close()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := server.New(server.Options{
		Store:              store,
		Hub:                hub.New(log),
		Log:                log,
		Registry:           reg,
		InsecureSkipVerify: cfg.AllowAnyOrigin,
	})
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting server", "address", cfg.ListenAddr, "data_dir", cfg.DataDir, "at", time.Now().UTC())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	err = httpSrv.Shutdown(shutdownCtx)
	srv.CloseSessions()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("Server stopped cleanly")
	return nil
}
