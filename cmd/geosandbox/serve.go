package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/geosandbox/internal/bridge"
	"github.com/mohammed-shakir/geosandbox/internal/core/config"
	"github.com/mohammed-shakir/geosandbox/internal/core/executor"
	"github.com/mohammed-shakir/geosandbox/internal/core/router"
	"github.com/mohammed-shakir/geosandbox/internal/core/server"
	"github.com/mohammed-shakir/geosandbox/internal/events"
	"github.com/mohammed-shakir/geosandbox/internal/layerstore"
	"github.com/mohammed-shakir/geosandbox/internal/layerstore/redisstore"
	"github.com/mohammed-shakir/geosandbox/internal/metrics"
	"github.com/mohammed-shakir/geosandbox/internal/sessions"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the execution API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg, "geosandbox", os.Stdout)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("starting geosandbox",
		"addr", cfg.Addr,
		"version", Version,
		"isolation", cfg.Sandbox.Isolation,
		"timeout", cfg.Sandbox.Timeout)

	var prov *metrics.Provider
	if cfg.Metrics.Enabled {
		prov = metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.Metrics.Addr,
			Path:    cfg.Metrics.Path,
			Build:   metrics.BuildInfo{Version: Version, Revision: Revision, BuildDate: BuildDate},
		})
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, err := openSink(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Warn("events close", "err", err)
		}
	}()

	tr, err := newTransport(cfg, log)
	if err != nil {
		return fmt.Errorf("sandbox transport: %w", err)
	}
	reg, err := sessions.New(cfg.SessionCacheSize, func() (sessions.Bridge, error) {
		b, err := bridge.New(tr, bridgeOptions(cfg, log))
		if err != nil {
			return nil, err
		}
		return b, nil
	}, log)
	if err != nil {
		return err
	}
	defer reg.Close()

	exec := executor.New(reg, store, sink, log)
	var metricsHandler http.Handler
	if prov != nil {
		metricsHandler = prov.Handler()
	}
	handler := server.NewHandler(log, router.New(exec, log, 0), exec, metricsHandler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, cfg.Addr, handler, log) })
	if prov != nil && cfg.Metrics.Addr != "" && cfg.Metrics.Addr != cfg.Addr {
		g.Go(func() error {
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, prov.Handler())
			return server.Run(gctx, cfg.Metrics.Addr, mux, log)
		})
	}
	return g.Wait()
}

// openStore uses redis unless the address is empty or "memory".
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (layerstore.Store, func(), error) {
	if cfg.RedisAddr == "" || cfg.RedisAddr == "memory" {
		log.Warn("no redis address configured; layers are kept in memory")
		return layerstore.NewMemory(), func() {}, nil
	}
	cli, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("layer store: %w", err)
	}
	closeFn := func() {
		if err := cli.Close(); err != nil {
			log.Warn("redis close", "err", err)
		}
	}
	return redisstore.NewStore(cli, cfg.LayerTTL, cfg.StoreOpTimeout), closeFn, nil
}

func openSink(cfg config.Config, log *slog.Logger) (events.Sink, error) {
	if !cfg.Events.Enabled {
		return events.Nop{}, nil
	}
	p, err := events.NewPublisher(cfg.Events.BrokerList(), cfg.Events.Topic, 1024, log)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return p, nil
}
