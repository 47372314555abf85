package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"club-feedback/internal/backup"
	"club-feedback/internal/config"
	"club-feedback/internal/logging"
	"club-feedback/internal/server"
	"club-feedback/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "service=backend msg=%q err=%v\n", "config_invalid", err)
		os.Exit(1)
	}

	log, err := logging.NewStructured(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "service=backend msg=%q err=%v\n", "logger_init_failed", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	// SIGINT (Ctrl+C) or SIGTERM (container stop) starts a graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, nil); err != nil {
		log.WithError(err).Error("backend_failed", nil)
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("shutdown_complete", nil)
}

// run wires the service together and blocks until ctx is cancelled or the
// listener fails. ready, when non-nil, receives the bound address once the
// server accepts connections.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, ready func(net.Addr)) error {
	if cfg.Admin.UsingDefaultPassword() {
		log.Warn("default_admin_password", map[string]any{
			"hint": "set ADMIN_PASSWORD before deploying",
		})
	}

	openCtx, cancelOpen := context.WithTimeout(ctx, cfg.Store.Timeout)
	defer cancelOpen()

	backend, err := store.Open(openCtx, cfg.Store)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := backend.Close(closeCtx); err != nil {
			log.WithError(err).Warn("store_close_failed", nil)
		}
	}()

	if err := backend.EnsureIndexes(openCtx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}
	log.Info("store_connected", map[string]any{"backend": backend.Name()})

	subs := store.NewSubmissions(backend, cfg.Store.Timeout, log)
	deps := server.Deps{Store: subs, Log: log}

	if cfg.Redis.Enabled() {
		rdb, err := server.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		deps.APILimiter = server.NewRedisLimiter(rdb, "ratelimit:api:", cfg.RateLimit.APIRate, cfg.RateLimit.APIWindow)
		deps.SubmitLimiter = server.NewRedisLimiter(rdb, "ratelimit:submit:", cfg.RateLimit.SubmitRate, cfg.RateLimit.SubmitWindow)
		deps.Redis = server.RedisPinger(rdb)
		log.Info("rate_limits_in_redis", map[string]any{"addr": cfg.Redis.Addr})
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	defer func() {
		stopBackground()
		bg.Wait()
	}()

	if cfg.Backup.Enabled() {
		exp, err := backup.New(ctx, cfg.Backup, subs, log)
		if err != nil {
			return err
		}
		deps.Backup = exp
		deps.Bucket = exp
		if cfg.Backup.Interval > 0 {
			bg.Add(1)
			go func() {
				defer bg.Done()
				exp.Run(bgCtx, cfg.Backup.Interval)
			}()
		}
	}

	srv := server.New(cfg, deps)
	defer srv.Close()

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	base := fmt.Sprintf("http://localhost:%d", ln.Addr().(*net.TCPAddr).Port)
	log.Info("server_started", map[string]any{
		"addr":  ln.Addr().String(),
		"form":  base + "/",
		"admin": base + "/admin",
	})
	if ready != nil {
		ready(ln.Addr())
	}

	select {
	case <-ctx.Done():
		log.Info("shutting_down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}
