package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ritikkashyap720/Server-monitor/internal/docker"
	httpx "github.com/ritikkashyap720/Server-monitor/internal/http"
	"github.com/ritikkashyap720/Server-monitor/internal/service/logs"
	"github.com/ritikkashyap720/Server-monitor/internal/service/monitor"
	"github.com/ritikkashyap720/Server-monitor/internal/session"
	"github.com/ritikkashyap720/Server-monitor/pkg/config"
	"github.com/ritikkashyap720/Server-monitor/pkg/logger"
)

const daemonPingRetries = 5

func main() {
	cfg := config.LoadMonitorConfig()
	log := logger.New("monitor", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer runtime.Close()

	backoff := retry.WithMaxRetries(daemonPingRetries, retry.NewFibonacci(time.Second))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := runtime.Ping(ctx); err != nil {
			log.Warn("docker daemon not reachable yet", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		log.Error("docker daemon unreachable", "error", err)
		os.Exit(1)
	}

	sessions := session.New(cfg.SessionTTL)
	broadcaster := monitor.NewBroadcaster(runtime, log, cfg.UpdateInterval)
	streamer := logs.NewStreamer(runtime, log, cfg.LogTailDefault)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, cfg, sessions, runtime, broadcaster, streamer, limiter)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("monitor server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("monitor server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
