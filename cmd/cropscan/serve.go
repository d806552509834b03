package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on the default mux
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/auraa-fs/cropscan/internal/dashboard"
	"github.com/auraa-fs/cropscan/internal/logger"
	"github.com/auraa-fs/cropscan/internal/metrics"
	"github.com/auraa-fs/cropscan/internal/publisher"
)

func newServeCmd() *cobra.Command {
	var addr, pprofAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live-detection dashboard",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			if pprofAddr != "" {
				go func() {
					logger.Info("Main", "pprof listening on %s", pprofAddr)
					if err := http.ListenAndServe(pprofAddr, nil); err != nil {
						logger.Warn("Main", "pprof server: %v", err)
					}
				}()
			}
			return serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address (overrides CROPSCAN_ADDR)")
	cmd.Flags().StringVar(&pprofAddr, "pprof", "", "pprof listen address, e.g. localhost:6060 (disabled when empty)")
	return cmd
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	var opts []dashboard.Option

	if cfg.MQTT.Broker != "" {
		pub, err := publisher.Connect(cfg.MQTT, m)
		if err != nil {
			// Telemetry is optional; the dashboard still runs.
			logger.Warn("Main", "MQTT disabled: %v", err)
		} else {
			// Runs after server.Close so messages queued up to shutdown
			// are flushed.
			defer runPublisher(pub)()
			opts = append(opts, dashboard.WithEventSink(pub), dashboard.WithReportSink(pub))
		}
	}

	server := dashboard.NewServer(cfg, newClient(), m, opts...)
	server.Start()
	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Main", "Dashboard listening on %s (backend %s)", cfg.Addr, cfg.APIBaseURL)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Main", "Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Streaming handlers never finish on their own; Close cuts them.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
	}
	return nil
}
