package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/betbot/tradecore/internal/api"
	"github.com/betbot/tradecore/internal/container"
	"github.com/betbot/tradecore/internal/metrics"
	"github.com/betbot/tradecore/internal/system"
	"github.com/betbot/tradecore/pkg/config"
	"github.com/betbot/tradecore/pkg/logger"
	"github.com/betbot/tradecore/pkg/shutdown"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("TRADECORE_CONFIG"), "YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
		JSON:       cfg.Log.JSON,
	}); err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	c, err := container.New(ctx, cfg, nil)
	if err != nil {
		return err
	}

	if cfg.Metrics.Listen != "" {
		if _, err := metrics.StartAsync(ctx, cfg.Metrics.Listen, c.Health); err != nil {
			c.Close()
			return fmt.Errorf("metrics listener: %w", err)
		}
		log.WithField("listen", cfg.Metrics.Listen).Info("metrics listening")
	}

	srv := api.NewServer(api.Options{
		Executor:   c.Executor,
		Checker:    c.Checker,
		Poller:     c.Poller,
		System:     c.System,
		SystemUser: system.SystemUser{Username: cfg.System.Username, Password: cfg.System.Password},
		Health:     c.Health,
	}, nil)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	sm := shutdown.NewManager()
	sm.OnShutdown("http", func(ctx context.Context) {
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
		// Pollers may still release nonces; drain them before the stores close.
		if err := c.Poller.Wait(ctx); err != nil {
			log.WithError(err).Warn("status pollers still running")
		}
	})
	sm.OnClose("container", func() error {
		c.Close()
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"listen": cfg.Server.Listen, "stage": cfg.Stage, "driver": cfg.Storage.Driver}).
			Info("trading service listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		sm.Shutdown(shutdownCtx)
		return nil
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}
