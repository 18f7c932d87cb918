package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"codesync/internal/api"
	"codesync/internal/config"
	"codesync/internal/exec"
	"codesync/internal/jobs"
	"codesync/internal/repositories"
	"codesync/internal/routers"
	"codesync/internal/store"
	"codesync/internal/utils"
)

const shutdownTimeout = 10 * time.Second

var (
	listenAndServe = serveUntilDone
	exit           = os.Exit
	exitFunc       = defaultExit
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		exitFunc(err)
	}
}

func defaultExit(err error) {
	log.Printf("codesync broker: %v", err)
	exit(1)
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := utils.NewLogger()
	defer func() { _ = logger.Sync() }()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	st := store.New(rdb, logger.With("component", "store"))

	executions, closeDB, err := openExecutionLog(cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB()

	h := api.NewHandlers(api.Options{
		Log:         logger.With("component", "api"),
		Store:       st,
		Executor:    newExecutor(cfg.Sandbox, logger),
		Executions:  executions,
		JWTSecret:   []byte(cfg.JWTSecret),
		RequireAuth: cfg.RequireAuth,
		PingPeriod:  cfg.Presence.PingPeriod,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := h.StartRelay(ctx); err != nil {
		logger.Warn("cross-instance relay disabled", "error", err)
	}

	sweeper := jobs.NewPresenceSweeperJob(st, cfg.Presence.TTL, cfg.Presence.SweepSchedule, logger.With("job", "presence_sweeper"))
	sweeper.BeforeSweep(h.RefreshPresence)
	sweeper.OnEvict(h.RosterEvicted)
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	addr := ":" + cfg.Port
	logger.Info("codesync broker listening", "addr", addr, "instance", st.InstanceID())
	return listenAndServe(ctx, addr, routers.New(h, cfg.AllowedOrigins))
}

func newExecutor(cfg config.SandboxConfig, logger *utils.Logger) exec.Executor {
	limits := exec.Limits{WallTime: cfg.WallTime, MemoryB: cfg.MemoryBytes, NanoCPUs: cfg.NanoCPUs}
	if cfg.Mode == "docker" {
		d, err := exec.NewDockerExecutor(limits)
		if err != nil {
			logger.Warn("docker executor unavailable, code execution disabled", "error", err)
			return nil
		}
		return d
	}
	return exec.NewRunner(cfg.URL, limits)
}

func openExecutionLog(cfg config.DatabaseConfig) (*repositories.ExecutionLogRepository, func(), error) {
	if cfg.Driver == "none" {
		return nil, func() {}, nil
	}
	db, err := repositories.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return &repositories.ExecutionLogRepository{DB: db}, func() { _ = sqlDB.Close() }, nil
}

// serveUntilDone runs an HTTP server and shuts it down gracefully when ctx ends.
func serveUntilDone(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
