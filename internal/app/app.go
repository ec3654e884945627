package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/signbridge/caption-gateway/internal/config"
	"github.com/signbridge/caption-gateway/internal/ingest"
	"github.com/signbridge/caption-gateway/internal/landmarks"
	"github.com/signbridge/caption-gateway/internal/observability"
	"github.com/signbridge/caption-gateway/internal/realtime"
	"github.com/signbridge/caption-gateway/internal/source"
	"github.com/signbridge/caption-gateway/internal/translation"
	"github.com/signbridge/caption-gateway/internal/windowing"
)

// App owns every pipeline stage and the handler chain between them:
// ingest -> landmarks -> windowing -> translation -> realtime.
type App struct {
	Config      *config.Config
	Ingest      *ingest.Manager
	Landmarks   *landmarks.Pipeline
	Windowing   *windowing.Pipeline
	Translation *translation.Pipeline
	Realtime    *realtime.Manager

	logger zerolog.Logger
}

// New builds and wires all stages from configuration. Construction errors,
// an unknown mode or a missing credential, are fatal and never retried.
func New(cfg *config.Config) (*App, error) {
	sourceFactory, err := buildSourceFactory(cfg)
	if err != nil {
		return nil, err
	}
	extractor, err := buildExtractor(cfg)
	if err != nil {
		return nil, err
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:      cfg,
		Ingest:      ingest.NewManager(cfg, sourceFactory),
		Landmarks:   landmarks.NewPipeline(cfg, extractor),
		Windowing:   windowing.NewPipeline(cfg),
		Translation: translation.NewPipeline(cfg, provider),
		Realtime:    realtime.NewManager(cfg),
		logger:      observability.ComponentLogger("app"),
	}

	a.Ingest.RegisterFrameHandler(a.Landmarks.EnqueueFrame)
	a.Landmarks.RegisterResultHandler(a.Windowing.EnqueueLandmarkResult)
	a.Windowing.RegisterWindowHandler(a.Translation.EnqueueWindow)
	a.Translation.RegisterResultHandler(a.Realtime.PublishTranslationResult)
	a.Realtime.SetMetricsProvider(a.MetricsSnapshot)

	return a, nil
}

// Start brings the stages up consumers-first so no frame arrives at a stage
// that is not yet draining its queue.
func (a *App) Start() {
	a.Realtime.Start()
	a.Translation.Start()
	a.Windowing.Start()
	a.Landmarks.Start()
	a.Ingest.Start()

	a.logger.Info().
		Str("camera_source_mode", a.Config.CameraSourceMode).
		Str("landmark_mode", a.Config.LandmarkMode).
		Str("translation_mode", a.Config.TranslationMode).
		Msg("pipeline started")
}

// Stop tears the stages down producer-first so each stage stops receiving
// input before its own loop is cancelled.
func (a *App) Stop() {
	a.Ingest.Stop()
	a.Landmarks.Stop()
	a.Windowing.Stop()
	a.Translation.Stop()
	a.Realtime.Stop()

	a.logger.Info().Msg("pipeline stopped")
}

// MetricsSnapshot aggregates every stage snapshot under its component name.
// The realtime monitor publishes this map and scans it for unhealthy stages.
func (a *App) MetricsSnapshot() map[string]any {
	return map[string]any{
		"ingest":      a.Ingest.Snapshot(),
		"landmarks":   a.Landmarks.Snapshot(),
		"windowing":   a.Windowing.Snapshot(),
		"translation": a.Translation.Snapshot(),
		"realtime":    a.Realtime.Snapshot(),
	}
}

func buildSourceFactory(cfg *config.Config) (source.Factory, error) {
	switch cfg.CameraSourceMode {
	case "simulated":
		return func() source.Source {
			return source.NewSimulatedSource(source.SimulatedConfig{
				FPS:                cfg.SimulatedFPS,
				DisconnectAfter:    cfg.SimulatedDisconnectAfter,
				DisconnectDuration: cfg.SimulatedDisconnectDuration,
			})
		}, nil
	case "esp32_http":
		return func() source.Source {
			return source.NewESP32HTTPSource(source.ESP32Config{
				BaseURL:        cfg.CameraSourceURL,
				FramePath:      cfg.ESP32FramePath,
				RequestTimeout: cfg.ESP32RequestTimeout,
				PollInterval:   cfg.ESP32PollInterval,
			})
		}, nil
	default:
		return nil, fmt.Errorf("unsupported camera source mode %q", cfg.CameraSourceMode)
	}
}

func buildExtractor(cfg *config.Config) (landmarks.Extractor, error) {
	switch cfg.LandmarkMode {
	case "mock":
		return landmarks.NewMockExtractor(cfg.MockLandmarkDetectRate), nil
	default:
		return nil, fmt.Errorf("unsupported landmark mode %q", cfg.LandmarkMode)
	}
}

func buildProvider(cfg *config.Config) (translation.Provider, error) {
	switch cfg.TranslationMode {
	case "mock":
		return translation.NewMockProvider(cfg.MockTranslationDelay), nil
	case "gemini":
		return translation.NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported translation mode %q", cfg.TranslationMode)
	}
}
