// Command macroengine runs the cooperative task scheduler as a standalone
// daemon: the engine itself plus its admin HTTP+WS surface, replacing the
// original split worker/api-server processes now that there's no queue
// between them.
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

	"github.com/redis/go-redis/v9"

	"github.com/nrlund/macrocore/internal/adminapi"
	"github.com/nrlund/macrocore/internal/config"
	"github.com/nrlund/macrocore/internal/events"
	"github.com/nrlund/macrocore/internal/logger"
	"github.com/nrlund/macrocore/internal/manager"
	"github.com/nrlund/macrocore/internal/metrics"
	"github.com/nrlund/macrocore/internal/sink"
	"github.com/nrlund/macrocore/internal/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting macroengine...")

	publisher, closePublisher := buildPublisher(cfg)
	defer closePublisher()

	mgr := manager.New(manager.Config{
		Metrics:               metrics.WorkerMetrics{},
		Sink:                  sink.New(publisher),
		Vars:                  task.NoVars,
		DeadlockGraceTimeout:  cfg.Engine.DeadlockGraceTimeout,
		WatchdogTickRate:      cfg.Engine.WatchdogTickRate,
		PulseDeadlockDuration: cfg.Engine.PulseDeadlockDuration,
	})

	registerDemoTasks(mgr)

	admin := adminapi.NewServer(cfg, mgr, publisher)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Admin.Host, cfg.Admin.Port),
		Handler:      admin,
		ReadTimeout:  cfg.Admin.ReadTimeout,
		WriteTimeout: cfg.Admin.WriteTimeout,
		IdleTimeout:  cfg.Admin.IdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	admin.Start(ctx)

	mgr.StartWorker()

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("admin HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("admin HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down macroengine...")

	if ok := mgr.StopWorker(); !ok {
		log.Warn().Msg("worker did not yield on shutdown; stopping anyway")
	}

	admin.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin HTTP server shutdown error")
	}

	log.Info().Msg("macroengine stopped")
}

// buildPublisher selects the event bus implementation per
// config.EngineConfig.EventBus, and returns a close func safe to defer
// unconditionally.
func buildPublisher(cfg *config.Config) (events.Publisher, func()) {
	if cfg.Engine.EventBus == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		pub := events.NewRedisPubSub(client)
		return pub, func() {
			if err := pub.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close event publisher")
			}
		}
	}

	pub := events.NewLocal()
	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}
}

// registerDemoTasks seeds the engine with three illustrative tasks: two
// cooperative (movement, and clicker, registered disabled) and one
// threaded (match-watch). A real embedding registers its own via
// manager.AddRunTask/AddThreadTask instead (from a profile loaded by
// whatever external collaborator owns persistence); these exist so the
// engine has something to schedule, pause, and report on out of the box.
func registerDemoTasks(mgr *manager.Manager) {
	_, err := mgr.AddRunTask("movement", true, true, func(ctx task.Context) error {
		for _, step := range []struct {
			key      string
			duration float64
		}{
			{"w", 2}, {"a", 4}, {"s", 2}, {"d", 4},
		} {
			if err := ctx.HoldKey(step.key, step.duration); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to register movement task")
	}

	_, err = mgr.AddRunTask("clicker", false, true, func(ctx task.Context) error {
		if err := ctx.MouseClick(-1, -1, "left"); err != nil {
			return err
		}
		return ctx.Sleep(1)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to register clicker task")
	}

	// match-watch runs on the threaded flavor: a real implementation of
	// monitorMatchStatus would block inside a screen-capture/OCR call
	// (captureScreenText) on every poll, which is exactly the kind of
	// work the cooperative flavor can't host without stalling the loop.
	_, err = mgr.AddThreadTask("match-watch", true, true, func(ctx task.Context) error {
		for i := 0; i < 3; i++ {
			ctx.Log(task.LevelInfo, "polling match status")
			if err := ctx.Sleep(5); err != nil {
				if !errors.Is(err, task.ErrInterrupted) {
					return err
				}
				if werr := ctx.WaitForResume(); werr != nil {
					return werr
				}
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to register match-watch task")
	}
}
