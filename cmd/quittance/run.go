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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/0xredeth/Quittance/internal/engine"
	"github.com/0xredeth/Quittance/internal/graph"
	"github.com/0xredeth/Quittance/internal/pubsub"
	"github.com/0xredeth/Quittance/pkg/config"
	"github.com/0xredeth/Quittance/pkg/handler"
	"github.com/0xredeth/Quittance/pkg/proof"
	"github.com/0xredeth/Quittance/pkg/store"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the indexer and its API servers",
		RunE:  runIndexer,
	}
}

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if n := registerProofHandlers(cfg); n == 0 {
		log.Warn().Msg("no configured contract indexes ApiCallProved; raw events only")
	}

	broadcaster := pubsub.NewBroadcaster()
	defer broadcaster.Close()

	eng, err := engine.New(cfg, broadcaster)
	if err != nil {
		return err
	}
	defer eng.Close()

	if cfg.Timescale {
		if err := eng.Store().EnableTimescale(ctx, store.Event{}.TableName(), store.DefaultTimescaleConfig()); err != nil {
			return fmt.Errorf("enabling timescale: %w", err)
		}
	}

	gqlServer := graph.NewServer(cfg.Server.GraphQLPort, eng.Store(), broadcaster)
	metricsServer := newMetricsServer(cfg.Server.MetricsPort)

	// Hot-reload contract registrations, poll interval, and batch size when
	// the config file changes. A changed RPC URL or DSN still needs a restart.
	if path := viper.ConfigFileUsed(); path != "" {
		watcher, err := config.Watch(path, func(next *config.Config) {
			registerProofHandlers(next)
			if err := eng.Reload(next); err != nil {
				log.Error().Err(err).Msg("engine reload failed, keeping previous contracts")
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("config watch disabled")
		} else {
			defer watcher.Close()
		}
	}

	log.Info().
		Str("name", cfg.Name).
		Str("network", cfg.Network).
		Uint64("chain_id", cfg.ChainID).
		Int("graphql_port", cfg.Server.GraphQLPort).
		Int("metrics_port", cfg.Server.MetricsPort).
		Int("contracts", len(cfg.Contracts)).
		Str("version", version).
		Msg("starting quittance")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Start(ctx)
	})
	g.Go(func() error {
		return gqlServer.Start()
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := gqlServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graphql server shutdown")
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info().Msg("stopped")
	return nil
}

// registerProofHandlers binds the ApiCallProved handler for every configured
// contract that indexes the event. Contract names come from config map keys,
// which viper lowercases, so registration follows the config rather than a
// fixed contract name. Returns the number of registrations.
func registerProofHandlers(cfg *config.Config) int {
	n := 0
	for name, contract := range cfg.Contracts {
		for _, event := range contract.Events {
			if event != proof.EventName {
				continue
			}
			eventID := name + ":" + proof.EventName
			handler.Register(eventID, proof.Handler())
			log.Info().Str("event_id", eventID).Msg("registered ApiCallProved handler")
			n++
		}
	}
	return n
}

// newMetricsServer serves Prometheus metrics and a liveness probe.
func newMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
