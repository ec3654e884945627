package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signbridge/caption-gateway/internal/api"
	"github.com/signbridge/caption-gateway/internal/app"
	"github.com/signbridge/caption-gateway/internal/config"
	"github.com/signbridge/caption-gateway/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.InitLogger("info", false)
		fallbackLogger := observability.GetLogger()
		fallbackLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("service", cfg.ServiceName).
		Str("port", cfg.Port).
		Str("camera_source_mode", cfg.CameraSourceMode).
		Str("translation_mode", cfg.TranslationMode).
		Msg("starting caption gateway")

	a, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build pipeline")
	}

	mux := http.NewServeMux()
	api.NewHandler(a).Register(mux)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	a.Start()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	a.Stop()
	logger.Info().Msg("caption gateway stopped")
}
