package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentworkforce/ordersync/internal/httpapi"
	"github.com/agentworkforce/ordersync/internal/logging"
	"github.com/agentworkforce/ordersync/internal/orders"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts, true)
			if err != nil {
				return err
			}
			defer rt.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rt)
		},
	}
}

func serve(ctx context.Context, rt *runtime) error {
	api := httpapi.NewServerWithConfig(rt.orch, rt.orch.Jobs(), httpapi.ServerConfig{
		JWTSecret:       rt.cfg.HTTP.JWTSecret,
		RateLimitMax:    rt.cfg.HTTP.RateLimitMax,
		RateLimitWindow: rt.cfg.HTTP.RateLimitWindow,
		AllowedOrigins:  rt.cfg.HTTP.AllowedOrigins,
		Logger:          rt.logger,
	})
	httpServer := &http.Server{
		Addr:              rt.cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.logger.Info("ordersync listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			rt.logger.Warn("http shutdown", "error", err)
		}
		if err := rt.orch.Wait(shutdownCtx); err != nil {
			rt.logger.Warn("background syncs still running at shutdown", "error", err)
		}
		return nil
	})
	if path := rt.cfg.Sync.SchemaFile; path != "" {
		g.Go(func() error {
			if err := orders.WatchSchema(gctx, path, rt.validator, logging.Printf(rt.logger, "component", "schema")); err != nil {
				rt.logger.Warn("schema hot reload disabled", "path", path, "error", err)
			}
			return nil
		})
	}
	err := g.Wait()
	rt.logger.Info("ordersync stopped")
	return err
}
