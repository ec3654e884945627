package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the caption gateway service.
type Config struct {
	// Server configuration
	ServiceName string `envconfig:"SERVICE_NAME" default:"caption-gateway"`
	Port        string `envconfig:"PORT" default:"8080"`

	// Ingest / camera source configuration
	IngestEnabled          bool          `envconfig:"INGEST_ENABLED" default:"true"`
	CameraSourceMode       string        `envconfig:"CAMERA_SOURCE_MODE" default:"simulated"` // simulated, esp32_http
	CameraSourceURL        string        `envconfig:"CAMERA_SOURCE_URL" default:""`           // required for esp32_http
	ESP32FramePath         string        `envconfig:"ESP32_FRAME_PATH" default:"/frame"`
	ESP32RequestTimeout    time.Duration `envconfig:"ESP32_REQUEST_TIMEOUT" default:"2s"`
	ESP32PollInterval      time.Duration `envconfig:"ESP32_POLL_INTERVAL" default:"80ms"`
	IngestReconnectBackoff time.Duration `envconfig:"INGEST_RECONNECT_BACKOFF" default:"2s"`

	// Simulated source configuration (dev and test runs)
	SimulatedFPS                float64       `envconfig:"SIMULATED_FPS" default:"12"`
	SimulatedDisconnectAfter    time.Duration `envconfig:"SIMULATED_DISCONNECT_AFTER" default:"0"` // 0 disables the injected outage
	SimulatedDisconnectDuration time.Duration `envconfig:"SIMULATED_DISCONNECT_DURATION" default:"0"`

	// Landmark stage configuration
	LandmarkEnabled          bool    `envconfig:"LANDMARK_ENABLED" default:"true"`
	LandmarkMode             string  `envconfig:"LANDMARK_MODE" default:"mock"` // mock
	LandmarkQueueSize        int     `envconfig:"LANDMARK_QUEUE_SIZE" default:"32"`
	LandmarkRecentLimit      int     `envconfig:"LANDMARK_RECENT_LIMIT" default:"25"`
	MockLandmarkDetectRate   float64 `envconfig:"MOCK_LANDMARK_DETECT_RATE" default:"1.0"`
	LandmarkKeepFramePayload bool    `envconfig:"LANDMARK_KEEP_FRAME_PAYLOAD" default:"false"`

	// Windowing stage configuration
	WindowingEnabled  bool          `envconfig:"WINDOWING_ENABLED" default:"true"`
	WindowDuration    time.Duration `envconfig:"WINDOW_DURATION" default:"1500ms"`
	WindowSlide       time.Duration `envconfig:"WINDOW_SLIDE" default:"500ms"`
	WindowQueueSize   int           `envconfig:"WINDOW_QUEUE_SIZE" default:"64"`
	WindowRecentLimit int           `envconfig:"WINDOW_RECENT_LIMIT" default:"10"`

	// Translation stage configuration
	TranslationEnabled      bool          `envconfig:"TRANSLATION_ENABLED" default:"true"`
	TranslationMode         string        `envconfig:"TRANSLATION_MODE" default:"mock"` // mock, gemini
	TranslationQueueSize    int           `envconfig:"TRANSLATION_QUEUE_SIZE" default:"16"`
	TranslationMaxRetries   int           `envconfig:"TRANSLATION_MAX_RETRIES" default:"2"`
	TranslationRetryBackoff time.Duration `envconfig:"TRANSLATION_RETRY_BACKOFF" default:"500ms"`
	TranslationTimeout      time.Duration `envconfig:"TRANSLATION_TIMEOUT" default:"8s"`
	TranslationMinInterval  time.Duration `envconfig:"TRANSLATION_MIN_INTERVAL" default:"0"`
	RateLimitCooldown       time.Duration `envconfig:"RATE_LIMIT_COOLDOWN" default:"30s"`
	MinFramesWithHands      int           `envconfig:"MIN_FRAMES_WITH_HANDS" default:"3"`
	UncertaintyThreshold    float64       `envconfig:"UNCERTAINTY_THRESHOLD" default:"0.55"`
	UnclearConfidenceCap    float64       `envconfig:"UNCLEAR_CONFIDENCE_CAP" default:"0.45"`
	EmitUnclearCaptions     bool          `envconfig:"EMIT_UNCLEAR_CAPTIONS" default:"true"`
	TranslationRecentLimit  int           `envconfig:"TRANSLATION_RECENT_LIMIT" default:"50"`

	// Output sanitation markers. Tuned empirically; treated as data, not logic.
	PromptLeakMarkers  []string `envconfig:"PROMPT_LEAK_MARKERS" default:"you translate,return exactly,frames json,window metadata,no extra commentary"`
	UncertaintyMarkers []string `envconfig:"UNCERTAINTY_MARKERS" default:"unclear,not sure,cannot determine,ambiguous"`
	AllowedShortTokens []string `envconfig:"ALLOWED_SHORT_TOKENS" default:"ok,no,yes,hi"`

	// Gemini provider configuration
	GeminiAPIKey  string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel   string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiBaseURL string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`

	// Mock provider configuration
	MockTranslationDelay time.Duration `envconfig:"MOCK_TRANSLATION_DELAY" default:"50ms"`

	// Realtime fan-out configuration
	RealtimeEnabled         bool          `envconfig:"REALTIME_ENABLED" default:"true"`
	RealtimeClientQueueSize int           `envconfig:"REALTIME_CLIENT_QUEUE_SIZE" default:"32"`
	RealtimeRecentLimit     int           `envconfig:"REALTIME_RECENT_LIMIT" default:"100"`
	RealtimeMetricsInterval time.Duration `envconfig:"REALTIME_METRICS_INTERVAL" default:"2s"`
	RealtimeAlertCooldown   time.Duration `envconfig:"REALTIME_ALERT_COOLDOWN" default:"30s"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"` // debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables. It first attempts to
// load from a .env file if one exists, then from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables without
// touching a .env file (useful for containerized deployments and tests).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field construction constraints. These are fatal at
// startup and never retried.
func (c *Config) Validate() error {
	switch c.CameraSourceMode {
	case "simulated", "esp32_http":
	default:
		return fmt.Errorf("unsupported camera source mode %q, expected 'simulated' or 'esp32_http'", c.CameraSourceMode)
	}
	if c.CameraSourceMode == "esp32_http" && c.CameraSourceURL == "" {
		return fmt.Errorf("CAMERA_SOURCE_URL is required for CAMERA_SOURCE_MODE=esp32_http")
	}

	if c.LandmarkMode != "mock" {
		return fmt.Errorf("unsupported landmark mode %q, expected 'mock'", c.LandmarkMode)
	}

	switch c.TranslationMode {
	case "mock", "gemini":
	default:
		return fmt.Errorf("unsupported translation mode %q, expected 'mock' or 'gemini'", c.TranslationMode)
	}
	if c.TranslationMode == "gemini" && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required for TRANSLATION_MODE=gemini")
	}

	if c.WindowDuration <= 0 {
		return fmt.Errorf("WINDOW_DURATION must be positive")
	}
	if c.WindowSlide <= 0 {
		return fmt.Errorf("WINDOW_SLIDE must be positive")
	}
	if c.SimulatedFPS <= 0 {
		return fmt.Errorf("SIMULATED_FPS must be positive")
	}

	return nil
}
