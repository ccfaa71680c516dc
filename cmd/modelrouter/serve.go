package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"modelrouter/internal/httpapi"
	"modelrouter/internal/service"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr        string
		preload     string
		corsOrigins string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Example: "  modelrouter serve --addr :8080\n" +
			"  modelrouter serve -c router.yaml --preload math,programming",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg
			if addr != "" {
				cfg.Addr = addr
			}
			if p := splitCSV(preload); len(p) > 0 {
				cfg.PreloadSubjects = p
			}
			if o := splitCSV(corsOrigins); len(o) > 0 {
				cfg.HTTP.CORSEnabled = true
				cfg.HTTP.CORSOrigins = o
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := service.New(ctx, cfg, service.WithLogger(a.log))
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					a.log.Error().Err(err).Msg("shutdown")
				}
			}()
			if err := svc.Start(ctx); err != nil {
				return err
			}

			httpapi.SetLogger(a.log.With().Str("component", "http").Logger())
			httpapi.SetBaseContext(ctx)
			httpapi.SetMaxBodyBytes(cfg.HTTP.MaxBodyBytes)
			httpapi.SetQueryTimeoutSeconds(cfg.HTTP.QueryTimeoutSec)
			httpapi.SetRateLimit(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst)
			httpapi.SetCORSOptions(cfg.HTTP.CORSEnabled, cfg.HTTP.CORSOrigins, nil, nil)

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpapi.NewMux(svc),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				a.log.Info().Str("addr", cfg.Addr).Strs("models_dirs", cfg.ModelDirs()).Msg("modelrouter listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.log.Info().Msg("shutting down")
			sctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownTimeoutSec)*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				a.log.Warn().Err(err).Msg("graceful shutdown")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "HTTP listen address (overrides config and MODELROUTER_ADDR)")
	f.StringVar(&preload, "preload", "", "Comma separated subjects to load at startup")
	f.StringVar(&corsOrigins, "cors-origins", "", "Comma separated allowed CORS origins; enables CORS")
	return cmd
}
