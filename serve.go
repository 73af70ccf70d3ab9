package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stevemurr/itable/catalog"
	"github.com/stevemurr/itable/config"
	"github.com/stevemurr/itable/handler"
	"github.com/stevemurr/itable/schema"
	"github.com/stevemurr/itable/store"
)

func newServeCmd() *cobra.Command {
	var configPath string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	serveCmd.Flags().StringVar(&configPath, "config", "", "YAML or JSON config file; HOST, PORT, DATA_DIR, STORE_BACKEND, ALLOWED_ORIGINS and STRICT_SCHEMAS override it")
	return serveCmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	s, err := store.New(cfg.StoreBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to create store (backend=%s): %w", cfg.StoreBackend, err)
	}
	defer s.Close()

	var opts []catalog.Option
	if cfg.StrictSchemas {
		opts = append(opts, catalog.WithSchemaOptions(schema.Strict()))
	}
	c, err := catalog.Open(s, opts...)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	h := handler.Chain(handler.New(c),
		handler.Recovery,
		handler.RequestID,
		handler.CORS(cfg.AllowedOrigins),
	)
	srv := &http.Server{Addr: cfg.Addr(), Handler: h}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("itable starting on %s (store=%s, data=%s, collections=%d)",
			cfg.Addr(), cfg.StoreBackend, cfg.DataDir, len(c.Collections()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
