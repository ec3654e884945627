package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signbridge/caption-gateway/internal/config"
	"github.com/signbridge/caption-gateway/internal/observability"
	"github.com/signbridge/caption-gateway/internal/pipeline"
	"github.com/signbridge/caption-gateway/internal/translation"
)

const componentName = "realtime"

// ErrNotRunning is returned when a client connects before Start or after Stop.
var ErrNotRunning = errors.New("realtime manager is not running")

// MetricsProvider returns a per-component snapshot map. The monitor loop
// publishes it verbatim as a metrics.update event and scans it for unhealthy
// stages.
type MetricsProvider func() map[string]any

// Snapshot is the realtime manager's operational state at a point in time.
type Snapshot struct {
	pipeline.StageHealth
	StartedAt         string           `json:"started_at,omitempty"`
	ConnectedClients  int              `json:"connected_clients"`
	EventsPublished   map[string]int64 `json:"events_published"`
	EventsDropped     int64            `json:"events_dropped"`
	LastEventAt       string           `json:"last_event_at,omitempty"`
	RecentEventsCount int              `json:"recent_events_count"`
}

type clientSession struct {
	id        int64
	sessionID string
	transport ClientTransport
	queue     *pipeline.Queue[Event]
	cancel    context.CancelFunc
	done      chan struct{}
}

// Manager fans events out to websocket clients and runs the periodic
// metrics and alert monitor.
type Manager struct {
	cfg    *config.Config
	logger zerolog.Logger

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	done            chan struct{}
	clients         map[int64]*clientSession
	nextClientID    int64
	recent          *pipeline.Ring[Event]
	eventsPublished map[string]int64
	eventsDropped   int64
	lastEventAt     time.Time
	lastError       string
	healthy         bool
	startedAt       time.Time
	metricsProvider MetricsProvider
	lastAlertAt     map[string]time.Time
}

// NewManager creates the realtime fan-out manager.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		cfg:             cfg,
		logger:          observability.ComponentLogger(componentName),
		clients:         make(map[int64]*clientSession),
		recent:          pipeline.NewRing[Event](cfg.RealtimeRecentLimit),
		eventsPublished: make(map[string]int64),
		lastAlertAt:     make(map[string]time.Time),
	}
}

// SetMetricsProvider installs the snapshot source used by the monitor loop.
// Call before Start.
func (m *Manager) SetMetricsProvider(provider MetricsProvider) {
	m.metricsProvider = provider
}

// Start launches the monitor loop. No-op when disabled or already running.
func (m *Manager) Start() {
	if !m.cfg.RealtimeEnabled {
		m.logger.Info().Msg("realtime manager disabled by configuration")
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
	m.healthy = true
	m.startedAt = time.Now().UTC()
	m.lastError = ""

	m.logger.Info().
		Dur("metrics_interval", m.cfg.RealtimeMetricsInterval).
		Msg("realtime manager started")

	go m.monitor(ctx)
}

// Stop halts the monitor loop and disconnects every client.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
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
	m.healthy = false
	sessions := make([]*clientSession, 0, len(m.clients))
	for _, session := range m.clients {
		sessions = append(sessions, session)
	}
	m.clients = make(map[int64]*clientSession)
	m.mu.Unlock()

	for _, session := range sessions {
		m.closeSession(session)
	}
	observability.SetConnectedClients(0)
}

// Connect registers a client transport and starts its sender goroutine. The
// returned id is passed back to Disconnect.
func (m *Manager) Connect(transport ClientTransport) (int64, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		cancel()
		return 0, ErrNotRunning
	}

	m.nextClientID++
	session := &clientSession{
		id:        m.nextClientID,
		sessionID: observability.NewSessionID(),
		transport: transport,
		queue:     pipeline.NewQueue[Event](m.cfg.RealtimeClientQueueSize, pipeline.DropOldest),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.clients[session.id] = session
	connected := len(m.clients)
	m.mu.Unlock()

	go m.senderLoop(ctx, session)

	observability.SetConnectedClients(connected)
	m.logger.Info().
		Int64("client_id", session.id).
		Str("session_id", session.sessionID).
		Str("remote_addr", transport.RemoteAddr()).
		Int("connected_clients", connected).
		Msg("realtime client connected")
	return session.id, nil
}

// Disconnect removes a client and closes its transport. Unknown ids are
// ignored.
func (m *Manager) Disconnect(clientID int64) {
	m.mu.Lock()
	session, ok := m.clients[clientID]
	if ok {
		delete(m.clients, clientID)
	}
	connected := len(m.clients)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.closeSession(session)
	observability.SetConnectedClients(connected)
	m.logger.Info().
		Int64("client_id", clientID).
		Str("session_id", session.sessionID).
		Int("connected_clients", connected).
		Msg("realtime client disconnected")
}

// Publish records an event and offers it to every connected client without
// blocking. Slow clients lose their oldest queued events first.
func (m *Manager) Publish(event Event) {
	if !m.cfg.RealtimeEnabled {
		return
	}

	m.recent.Append(event)

	m.mu.Lock()
	m.eventsPublished[event.Type]++
	m.lastEventAt = time.Now().UTC()
	sessions := make([]*clientSession, 0, len(m.clients))
	for _, session := range m.clients {
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	observability.RecordEventPublished(event.Type)

	totalDropped := 0
	for _, session := range sessions {
		_, dropped := session.queue.TryPush(event)
		totalDropped += dropped
	}
	if totalDropped > 0 {
		m.mu.Lock()
		m.eventsDropped += int64(totalDropped)
		m.mu.Unlock()
		observability.RecordEventsDropped(totalDropped)
	}
}

// PublishTranslationResult maps a caption result onto the realtime event
// stream.
func (m *Manager) PublishTranslationResult(result translation.Result) error {
	eventType := EventCaptionPartial
	if result.Kind == translation.KindFinal {
		eventType = EventCaptionFinal
	}

	m.Publish(NewEvent(eventType, map[string]any{
		"window_id":   result.WindowID,
		"text":        result.Text,
		"confidence":  result.Confidence,
		"uncertain":   result.Uncertain,
		"created_at":  result.CreatedAt.Format(time.RFC3339Nano),
		"latency_ms":  result.LatencyMS,
		"source_mode": result.SourceMode,
		"retry_count": result.RetryCount,
	}))
	return nil
}

// Snapshot returns a copy of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	published := make(map[string]int64, len(m.eventsPublished))
	for eventType, count := range m.eventsPublished {
		published[eventType] = count
	}

	snap := Snapshot{
		StageHealth: pipeline.StageHealth{
			Enabled:   m.cfg.RealtimeEnabled,
			Running:   m.running,
			Healthy:   m.healthy,
			LastError: m.lastError,
		},
		ConnectedClients:  len(m.clients),
		EventsPublished:   published,
		EventsDropped:     m.eventsDropped,
		RecentEventsCount: m.recent.Len(),
	}
	if !m.startedAt.IsZero() {
		snap.StartedAt = m.startedAt.Format(time.RFC3339Nano)
	}
	if !m.lastEventAt.IsZero() {
		snap.LastEventAt = m.lastEventAt.Format(time.RFC3339Nano)
	}
	return snap
}

// RecentEvents returns up to limit events, newest first.
func (m *Manager) RecentEvents(limit int) []Event {
	return m.recent.Recent(limit)
}

func (m *Manager) senderLoop(ctx context.Context, session *clientSession) {
	defer close(session.done)

	for {
		event, ok := session.queue.Pop(ctx)
		if !ok {
			return
		}
		if err := session.transport.Send(event); err != nil {
			m.logger.Warn().
				Err(err).
				Int64("client_id", session.id).
				Msg("realtime send failed, dropping client")
			go m.Disconnect(session.id)
			return
		}
	}
}

func (m *Manager) closeSession(session *clientSession) {
	if session.cancel != nil {
		session.cancel()
	}
	if err := session.transport.Close(); err != nil {
		m.logger.Debug().
			Err(err).
			Int64("client_id", session.id).
			Msg("transport close error")
	}
	<-session.done
	session.queue.Drain()
}

func (m *Manager) monitor(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.RealtimeMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			provider := m.metricsProvider
			if provider == nil {
				continue
			}
			snapshot := provider()
			m.Publish(NewEvent(EventSystemMetrics, snapshot))
			m.evaluateAlerts(snapshot)
		}
	}
}

// evaluateAlerts publishes a warning for every component that is enabled and
// running but unhealthy. Repeat alerts for the same component are suppressed
// for the configured cooldown.
func (m *Manager) evaluateAlerts(snapshot map[string]any) {
	now := time.Now()
	for component, value := range snapshot {
		reporter, ok := value.(pipeline.HealthReporter)
		if !ok {
			continue
		}
		health := reporter.Health()
		if !health.Enabled || !health.Running || health.Healthy {
			continue
		}

		key := component + ":unhealthy"
		m.mu.Lock()
		last, seen := m.lastAlertAt[key]
		if seen && now.Sub(last) < m.cfg.RealtimeAlertCooldown {
			m.mu.Unlock()
			continue
		}
		m.lastAlertAt[key] = now
		m.mu.Unlock()

		reason := health.LastError
		if reason == "" {
			reason = "component reported unhealthy"
		}
		m.logger.Warn().
			Str("component", component).
			Str("reason", reason).
			Msg("component unhealthy")
		m.Publish(NewEvent(EventSystemAlert, map[string]any{
			"severity":  "warning",
			"component": component,
			"reason":    reason,
		}))
	}
}
