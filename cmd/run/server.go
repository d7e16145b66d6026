package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opusrelay/qvox/config"
	"github.com/opusrelay/qvox/introspect"
	"github.com/opusrelay/qvox/registry"
	"github.com/opusrelay/qvox/server"
)

// Version is overridden at build time via -ldflags, mirroring cmd.Version.
var Version = "dev"

var (
	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Start the relay server",
		Args:  cobra.NoArgs,
		RunE:  runServer,
	}
)

func runServer(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "server-cmd").Logger()

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := registry.New()
	srv := server.New(cfg, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	introspect.New(reg, cfg, introspect.AppInfo{Environment: "production", Version: Version}, log.Logger).Register(engine)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: engine,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Uint16("port", cfg.HTTPPort).Msg("starting introspection http server")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info().Msg("starting relay server")
		if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("relay server: %w", err)
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		cancel()
		_ = httpSrv.Shutdown(context.Background())
		return err
	}

	_ = httpSrv.Shutdown(context.Background())
	logger.Info().Msg("server stopped")
	return nil
}
