package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/devblac/chain-statement/internal/api"
	"github.com/devblac/chain-statement/internal/config"
	"github.com/devblac/chain-statement/internal/health"
	"github.com/devblac/chain-statement/internal/metrics"
)

var (
	flagAddr           string
	flagRequestTimeout time.Duration
)

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", ":8080", "HTTP listen address")
	serveCmd.Flags().DurationVar(&flagRequestTimeout, "request-timeout", 2*time.Minute, "Upper bound on one statement request")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the transfers API with /healthz and /metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(cmd)
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		a, err := newApp(ctx, cfg, log, metrics.Init())
		if err != nil {
			return err
		}
		defer a.Close()

		mux := http.NewServeMux()
		api.New(a.orchestrator,
			api.WithEnricher(a.resolver.MetadataFunc),
			api.WithLogger(log),
			api.WithTimeout(flagRequestTimeout),
		).Register(mux)
		mux.Handle("GET /healthz", health.Handler(health.RPCCheck(a.pool)))
		mux.Handle("GET /metrics", metrics.Handler())

		srv := health.Serve(flagAddr, mux)
		log.Info("serving", "addr", flagAddr, "categories", a.orchestrator.Categories())

		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return health.Shutdown(shutdownCtx, srv)
	},
}
