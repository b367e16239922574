package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/charlesng35/sponsor/internal/api"
	"github.com/charlesng35/sponsor/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync() // best effort

			if cmd.Flags().Changed("port") {
				cfg.Relay.Port = port
			}

			jwtSvc, client, err := opts.client(cfg)
			if err != nil {
				return err
			}

			if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
				gin.SetMode(gin.ReleaseMode)
			}
			router, err := api.NewRelayRouter(jwtSvc, client, cfg)
			if err != nil {
				return fmt.Errorf("build relay router: %w", err)
			}

			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Relay.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serve(cmd.Context(), server, logger.WithModule("relay"))
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides relay.port)")
	return cmd
}

func serve(ctx context.Context, server *http.Server, log *zap.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		log.Info("relay listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("relay stopped gracefully")
	return nil
}
