package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nevindra/vybe"
	"github.com/nevindra/vybe/internal/api"
)

func newServeCmd(opts *options) *cobra.Command {
	var apiOnly, workerOnly bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run job workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			g, gctx := errgroup.WithContext(ctx)
			if !workerOnly {
				e := echo.New()
				e.HideBanner = true
				e.HidePort = true
				e.Use(middleware.Recover())
				e.Use(middleware.RequestID())
				api.NewHandler(a.store, a.tracker(), a.logger).RegisterRoutes(e)

				g.Go(func() error {
					a.logger.Info("api listening", "addr", cfg.Server.Addr)
					if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return e.Shutdown(sctx)
				})
			}
			if !apiOnly {
				host, _ := os.Hostname()
				pool := a.pool(host + "-" + vybe.NewID())
				g.Go(func() error { return pool.Start(gctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&apiOnly, "api-only", false, "Serve the API without running workers")
	cmd.Flags().BoolVar(&workerOnly, "worker-only", false, "Run workers without serving the API")
	cmd.MarkFlagsMutuallyExclusive("api-only", "worker-only")
	return cmd
}
