package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/warp/story-ledger/api"
)

func newServeCmd(boot func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := boot()
			if err != nil {
				return err
			}
			defer a.store.Close()

			h, err := a.newHandler()
			if err != nil {
				return err
			}
			router := api.NewRouter(h, api.RouterOptions{
				CORSOrigins: a.cfg.Server.CORSOrigins,
				RateLimiter: api.NewRateLimiter(a.cfg.Server.RatePerSecond, a.cfg.Server.RateBurst, a.log),
			})

			server := &http.Server{
				Addr:         a.cfg.Server.Addr,
				Handler:      router,
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
				IdleTimeout:  a.cfg.Server.IdleTimeout,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() {
				a.log.WithField("addr", server.Addr).Info("server starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- err
				}
				close(errc)
			}()

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}

			a.log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			a.log.Info("server stopped")
			return nil
		},
	}
}
