package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/signbridge/caption-gateway/internal/app"
	"github.com/signbridge/caption-gateway/internal/observability"
	"github.com/signbridge/caption-gateway/internal/pipeline"
	"github.com/signbridge/caption-gateway/internal/realtime"
)

// Handler serves the inspection API and the realtime websocket endpoint.
type Handler struct {
	app      *app.App
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the HTTP handler set for a wired application.
func NewHandler(a *app.App) *Handler {
	return &Handler{
		app:    a,
		logger: observability.ComponentLogger("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Caption clients are browsers on arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/ingest", h.handleIngest)
	mux.HandleFunc("/api/landmarks", h.handleLandmarks)
	mux.HandleFunc("/api/windows", h.handleWindows)
	mux.HandleFunc("/api/translations", h.handleTranslations)
	mux.HandleFunc("/api/realtime", h.handleRealtime)
	mux.HandleFunc("/ws/events", h.handleEvents)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := h.app.MetricsSnapshot()

	status := "ok"
	components := make(map[string]pipeline.StageHealth, len(snapshot))
	for name, value := range snapshot {
		reporter, ok := value.(pipeline.HealthReporter)
		if !ok {
			continue
		}
		health := reporter.Health()
		components[name] = health
		if health.Enabled && health.Running && !health.Healthy {
			status = "degraded"
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"service":    h.app.Config.ServiceName,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		"components": components,
	})
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.app.Ingest.Snapshot())
}

func (h *Handler) handleLandmarks(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, h.app.Config.LandmarkRecentLimit)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": h.app.Landmarks.Snapshot(),
		"recent":   h.app.Landmarks.RecentResults(limit),
	})
}

func (h *Handler) handleWindows(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, h.app.Config.WindowRecentLimit)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": h.app.Windowing.Snapshot(),
		"recent":   h.app.Windowing.RecentWindows(limit),
	})
}

func (h *Handler) handleTranslations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, h.app.Config.TranslationRecentLimit)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": h.app.Translation.Snapshot(),
		"recent":   h.app.Translation.RecentResults(limit),
	})
}

func (h *Handler) handleRealtime(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, h.app.Config.RealtimeRecentLimit)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": h.app.Realtime.Snapshot(),
		"recent":   h.app.Realtime.RecentEvents(limit),
	})
}

// handleEvents upgrades to a websocket and attaches the client to the
// realtime fan-out. The read loop only watches for the client going away.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	transport := realtime.NewWebSocketTransport(conn)
	clientID, err := h.app.Realtime.Connect(transport)
	if err != nil {
		h.logger.Warn().Err(err).Msg("realtime connect rejected")
		_ = transport.Close()
		return
	}
	defer h.app.Realtime.Disconnect(clientID)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error().Err(err).Msg("response encode failed")
	}
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}
