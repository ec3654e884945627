package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signbridge/caption-gateway/internal/config"
	"github.com/signbridge/caption-gateway/internal/observability"
	"github.com/signbridge/caption-gateway/internal/pipeline"
	"github.com/signbridge/caption-gateway/internal/source"
)

// fpsWindow is the rolling window over which effective fps is computed.
const fpsWindow = 5 * time.Second

// FrameHandler receives every successfully read frame. A handler error is
// logged and never stops ingestion or other handlers.
type FrameHandler func(frame source.FramePacket) error

// Snapshot is the ingest stage's operational state at a point in time.
type Snapshot struct {
	pipeline.StageHealth
	SourceMode     string  `json:"source_mode"`
	SourceName     string  `json:"source_name,omitempty"`
	StartedAt      string  `json:"started_at,omitempty"`
	Connected      bool    `json:"connected"`
	FramesReceived int64   `json:"frames_received"`
	DroppedFrames  int64   `json:"dropped_frames"`
	ReconnectCount int64   `json:"reconnect_count"`
	EffectiveFPS   float64 `json:"effective_fps"`
	LastFrameAt    string  `json:"last_frame_at,omitempty"`
}

// Manager owns the connection to one frame source, delivers frames to
// registered handlers, and reports connection health.
type Manager struct {
	cfg     *config.Config
	logger  zerolog.Logger
	factory source.Factory

	mu             sync.Mutex
	running        bool
	cancel         context.CancelFunc
	done           chan struct{}
	handlers       []FrameHandler
	frameTimes     []time.Time
	sourceName     string
	startedAt      time.Time
	connected      bool
	healthy        bool
	framesReceived int64
	droppedFrames  int64
	reconnectCount int64
	effectiveFPS   float64
	lastFrameAt    time.Time
	lastError      string
}

// NewManager creates the ingest stage. The factory builds a fresh source
// instance for every connect attempt.
func NewManager(cfg *config.Config, factory source.Factory) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  observability.ComponentLogger("ingest"),
		factory: factory,
	}
}

// RegisterFrameHandler adds a downstream frame handler. Not safe to call
// after Start.
func (m *Manager) RegisterFrameHandler(handler FrameHandler) {
	m.handlers = append(m.handlers, handler)
}

// Start launches the ingest loop. It is a no-op when ingest is disabled by
// configuration or the loop is already running.
func (m *Manager) Start() {
	if !m.cfg.IngestEnabled {
		m.logger.Info().Msg("ingest disabled by configuration")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.startedAt = time.Now().UTC()
	m.lastError = ""

	go m.run(ctx)
}

// Stop cancels the ingest loop and waits for it to unwind. After Stop
// returns the stage produces no further side effects.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.connected = false
		m.healthy = false
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	m.running = false
	m.connected = false
	m.healthy = false
	m.mu.Unlock()
}

// Snapshot returns a copy of the stage metrics.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		StageHealth: pipeline.StageHealth{
			Enabled:   m.cfg.IngestEnabled,
			Running:   m.running,
			Healthy:   m.healthy,
			LastError: m.lastError,
		},
		SourceMode:     m.cfg.CameraSourceMode,
		SourceName:     m.sourceName,
		Connected:      m.connected,
		FramesReceived: m.framesReceived,
		DroppedFrames:  m.droppedFrames,
		ReconnectCount: m.reconnectCount,
		EffectiveFPS:   m.effectiveFPS,
	}
	if !m.startedAt.IsZero() {
		snap.StartedAt = m.startedAt.Format(time.RFC3339Nano)
	}
	if !m.lastFrameAt.IsZero() {
		snap.LastFrameAt = m.lastFrameAt.Format(time.RFC3339Nano)
	}
	return snap
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	for ctx.Err() == nil {
		m.connectAndStream(ctx)

		if ctx.Err() != nil {
			return
		}
		select {
		case <-time.After(m.cfg.IngestReconnectBackoff):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndStream runs one connect session: build a fresh source, connect,
// then read frames until the source signals a disconnect or the stage stops.
func (m *Manager) connectAndStream(ctx context.Context) {
	src := m.factory()
	sessionID := observability.NewSessionID()
	defer func() {
		if err := src.Disconnect(); err != nil {
			m.logger.Debug().Err(err).Msg("source disconnect failed")
		}
	}()

	if err := src.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.recordDisconnect("source connect error: "+err.Error(), false)
		return
	}

	m.mu.Lock()
	m.connected = true
	m.healthy = true
	m.sourceName = src.Name()
	m.lastError = ""
	m.mu.Unlock()

	m.logger.Info().
		Str("source_name", src.Name()).
		Str("source_mode", m.cfg.CameraSourceMode).
		Str("session_id", sessionID).
		Msg("ingest source connected")

	for ctx.Err() == nil {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, source.ErrSource) {
				m.recordDisconnect(err.Error(), true)
				return
			}
			// Unexpected read failure: drop the frame and keep reading.
			m.recordError("unexpected frame error: "+err.Error(), true)
			continue
		}

		m.recordFrame(frame)
	}
}

func (m *Manager) recordFrame(frame source.FramePacket) {
	now := time.Now()

	m.mu.Lock()
	m.frameTimes = append(m.frameTimes, now)
	cutoff := now.Add(-fpsWindow)
	trimmed := 0
	for trimmed < len(m.frameTimes) && m.frameTimes[trimmed].Before(cutoff) {
		trimmed++
	}
	m.frameTimes = m.frameTimes[trimmed:]
	fps := float64(len(m.frameTimes)) / fpsWindow.Seconds()

	m.framesReceived++
	m.lastFrameAt = frame.CapturedAt
	m.effectiveFPS = fps
	m.connected = true
	m.healthy = true
	m.lastError = ""
	handlers := m.handlers
	m.mu.Unlock()

	observability.RecordFrameReceived(fps)

	for _, handler := range handlers {
		if err := handler(frame); err != nil {
			m.recordError("frame handler error: "+err.Error(), false)
		}
	}
}

func (m *Manager) recordDisconnect(reason string, droppedFrame bool) {
	m.mu.Lock()
	m.reconnectCount++
	m.connected = false
	m.healthy = false
	m.lastError = reason
	if droppedFrame {
		m.droppedFrames++
	}
	count := m.reconnectCount
	m.mu.Unlock()

	observability.RecordReconnect()
	if droppedFrame {
		observability.RecordFrameDropped()
	}

	m.logger.Warn().
		Str("reason", reason).
		Int64("reconnect_count", count).
		Msg("ingest source disconnected")
}

func (m *Manager) recordError(message string, droppedFrame bool) {
	m.mu.Lock()
	m.lastError = message
	if droppedFrame {
		m.droppedFrames++
	}
	m.mu.Unlock()

	if droppedFrame {
		observability.RecordFrameDropped()
	}

	m.logger.Error().
		Str("reason", message).
		Msg("ingest error")
}
