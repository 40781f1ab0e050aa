// Command sandboxd serves sandboxes over HTTP for vybe workers configured
// with the remote sandbox driver.
//
// Each sandbox is a directory under the workspace root, seeded from a
// template directory and evicted after a period of inactivity. Commands run
// as subprocesses of the daemon, so run it inside a container or VM that
// provides the isolation you need.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nevindra/vybe/sandbox"
	"github.com/nevindra/vybe/sandbox/local"
	"github.com/nevindra/vybe/sandbox/remote"
)

type config struct {
	addr            string
	workspaceRoot   string
	templates       string
	domain          string
	maxConcurrent   int
	sessionTTL      time.Duration
	cleanupInterval time.Duration
	commandTimeout  time.Duration
	maxOutputBytes  int
}

func loadConfig() config {
	cfg := config{
		addr:            ":9000",
		workspaceRoot:   "/var/sandbox",
		templates:       "/etc/sandbox/templates",
		domain:          "localhost",
		maxConcurrent:   4,
		sessionTTL:      time.Hour,
		cleanupInterval: 5 * time.Minute,
		commandTimeout:  sandbox.DefaultLimits.Timeout,
		maxOutputBytes:  sandbox.DefaultLimits.MaxOutput,
	}
	if v := os.Getenv("SANDBOX_ADDR"); v != "" {
		cfg.addr = v
	}
	if v := os.Getenv("SANDBOX_WORKSPACE"); v != "" {
		cfg.workspaceRoot = v
	}
	if v := os.Getenv("SANDBOX_TEMPLATES"); v != "" {
		cfg.templates = v
	}
	if v := os.Getenv("SANDBOX_DOMAIN"); v != "" {
		cfg.domain = v
	}
	if v := os.Getenv("SANDBOX_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxConcurrent = n
		}
	}
	if v := os.Getenv("SANDBOX_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.sessionTTL = d
		}
	}
	if v := os.Getenv("SANDBOX_COMMAND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.commandTimeout = d
		}
	}
	if v := os.Getenv("SANDBOX_MAX_OUTPUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxOutputBytes = n
		}
	}
	return cfg
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "sandboxd")
	cfg := loadConfig()

	provider := local.New(cfg.workspaceRoot, cfg.cleanupInterval,
		local.WithTemplates(cfg.templates),
		local.WithTTL(cfg.sessionTTL),
		local.WithDomain(cfg.domain),
		local.WithLimits(sandbox.Limits{Timeout: cfg.commandTimeout, MaxOutput: cfg.maxOutputBytes}),
		local.WithLogger(logger))

	srv := &http.Server{
		Addr: cfg.addr,
		Handler: remote.NewHandler(provider,
			remote.WithMaxConcurrent(cfg.maxConcurrent),
			remote.WithHandlerLogger(logger)),
		ReadTimeout:  cfg.commandTimeout + time.Minute,
		WriteTimeout: cfg.commandTimeout + time.Minute,
		IdleTimeout:  30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.addr, "workspace", cfg.workspaceRoot)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	provider.Close()
	logger.Info("stopped")
}
