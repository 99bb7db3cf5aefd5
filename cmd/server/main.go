package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dom/studybuddy/internal/api"
	"github.com/dom/studybuddy/internal/changefeed"
	"github.com/dom/studybuddy/internal/clock"
	"github.com/dom/studybuddy/internal/config"
	"github.com/dom/studybuddy/internal/keylock"
	"github.com/dom/studybuddy/internal/metrics"
	"github.com/dom/studybuddy/internal/notify"
	"github.com/dom/studybuddy/internal/repository"
	"github.com/dom/studybuddy/internal/repository/memory"
	"github.com/dom/studybuddy/internal/repository/postgres"
	"github.com/dom/studybuddy/internal/service"
	"github.com/dom/studybuddy/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	var (
		recorder       metrics.Recorder = metrics.NewNop()
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.NewPrometheus(reg, "")
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	repos, err := openStore(cfg)
	if err != nil {
		log.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}

	backend, err := openNotifier(cfg, log)
	if err != nil {
		log.Error("failed to connect notifier", "backend", cfg.Notifier, "error", err)
		os.Exit(1)
	}
	dispatcher := notify.NewDispatcher(backend, log, recorder)

	feed := changefeed.New(recorder)
	services := service.NewServices(repos, cfg, service.Deps{
		Clock:    clock.Real(),
		Locks:    keylock.New(keylock.DefaultStripes),
		Feed:     feed,
		Notifier: dispatcher,
		Metrics:  recorder,
		Logger:   log,
		Location: cfg.StudyLocation,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Accepted sessions survive restarts; their deadlines are re-armed here.
	scheduler := services.Buddy.Scheduler()
	restored, err := scheduler.Recover(ctx)
	if err != nil {
		log.Error("failed to restore session timers", "error", err)
		os.Exit(1)
	}
	log.Info("restored session timers", "count", restored)
	scheduler.Start(ctx, cfg.ExpirySweep)

	hub := websocket.NewHub(feed, services, recorder, log)
	go hub.Run()

	router := api.NewRouter(services, hub, metricsHandler)

	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "store", cfg.StoreDriver, "notifier", cfg.Notifier)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	hub.Stop()
	scheduler.Stop()
	if err := dispatcher.Close(); err != nil {
		log.Warn("notifier close failed", "error", err)
	}

	log.Info("server stopped")
}

func openStore(cfg *config.Config) (*repository.Repositories, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		return memory.NewRepositories(), nil
	default:
		level := logger.Warn
		if cfg.IsProduction() {
			level = logger.Error
		}
		db, err := postgres.NewConnection(cfg.DatabaseURL, level)
		if err != nil {
			return nil, err
		}
		return postgres.NewRepositories(db), nil
	}
}

func openNotifier(cfg *config.Config, log *slog.Logger) (notify.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierRedis:
		return notify.NewRedisNotifier(cfg.RedisURL)
	case config.NotifierNATS:
		return notify.NewNATSNotifier(cfg.NATSURL)
	default:
		return notify.NewLogNotifier(log), nil
	}
}
