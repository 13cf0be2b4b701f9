package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/tpanel/internal/blob"
	"github.com/joshp123/tpanel/internal/config"
	"github.com/joshp123/tpanel/internal/core"
	"github.com/joshp123/tpanel/internal/mqtt"
	"github.com/joshp123/tpanel/internal/plugins"
	"github.com/joshp123/tpanel/internal/rate"
	"github.com/joshp123/tpanel/internal/router"
	"github.com/joshp123/tpanel/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", envOrDefault("TPANEL_CONFIG", config.DefaultPath), "path to config.yaml")
	envFile := flag.String("env-file", os.Getenv("TPANEL_ENV_FILE"), "optional dotenv file loaded before the config")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.WithError(err).Fatal("load env file")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	level, err := logrus.ParseLevel(cfg.Core.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("parse log level")
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("tpanel stopped")
	}
	log.Info("tpanel stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	deps := plugins.Deps{Logger: log}

	if cfg.MQTT != nil {
		client, err := mqtt.Connect(cfg.MQTT, log.WithField("component", "mqtt"))
		if err != nil {
			return err
		}
		defer client.Close()
		deps.MQTT = client
	}
	if cfg.StateStore != nil {
		store, err := blob.NewS3Store(cfg.StateStore)
		if err != nil {
			return err
		}
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := store.Check(checkCtx); err != nil {
			log.WithError(err).Warn("state store unavailable, snapshots will fail until it is")
		}
		cancel()
		deps.Store = store
	}

	enabled := config.EnabledPlugins(cfg)
	compiled := plugins.Compiled(cfg, deps)
	if err := core.ValidateEnabledPlugins(compiled, enabled, false); err != nil {
		return err
	}
	active := core.FilterPlugins(compiled, enabled, false)
	if err := core.ValidatePlugins(active); err != nil {
		return err
	}
	for _, p := range active {
		if limited, ok := p.(rate.RateLimited); ok {
			decl := limited.RateLimits()
			log.WithField("plugin", p.ID()).WithField("limits", decl.Limits()).Info("command rate limits")
		}
	}

	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		log.WithError(err).Warn("write dashboards")
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, log.WithField("component", "grpc"))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	if err := router.RegisterPlugins(grpcServer.Server, active); err != nil {
		return err
	}

	metricsRegistry := core.MetricsRegistry(active, rate.MetricsCollectors()...)
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tpanel_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, server.NewMux(active, metricsRegistry))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.Core.GRPCAddr).Info("grpc listening")
		return grpcServer.Serve()
	})
	g.Go(func() error {
		log.WithField("addr", cfg.Core.HTTPAddr).Info("http listening")
		return httpServer.ListenAndServe()
	})
	for _, p := range active {
		runner, ok := p.(core.Runner)
		if !ok {
			continue
		}
		g.Go(func() error {
			return runner.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.Server.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
