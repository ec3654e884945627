package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	framesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_frames_received_total",
		Help: "Total frames read from the camera source",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_frames_dropped_total",
		Help: "Total frames dropped by the ingest stage",
	})

	sourceReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_source_reconnects_total",
		Help: "Total camera source reconnect events",
	})

	effectiveFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caption_gateway_effective_fps",
		Help: "Frames per second over the rolling ingest window",
	})

	// Queue metrics, shared across stages
	queueDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_queue_drops_total",
		Help: "Items dropped on full stage queues",
	}, []string{"stage"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "caption_gateway_queue_depth",
		Help: "Current depth of stage queues",
	}, []string{"stage"})

	// Landmark metrics
	framesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_frames_processed_total",
		Help: "Frames run through the landmark extractor",
	}, []string{"status"})

	extractionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_gateway_extraction_latency_seconds",
		Help:    "Landmark extraction latency in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	// Windowing metrics
	windowsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_windows_emitted_total",
		Help: "Landmark windows emitted by the windowing stage",
	})

	outOfOrderResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_out_of_order_results_total",
		Help: "Landmark results that arrived out of event-time order",
	})

	// Translation metrics
	translations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_translations_total",
		Help: "Caption emissions by kind (partial or final)",
	}, []string{"kind"})

	translationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_translation_retries_total",
		Help: "Translation provider retry events",
	})

	translationSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_translation_skips_total",
		Help: "Windows skipped before dispatch (rate_limited, low_signal, unclear)",
	}, []string{"reason"})

	translationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_gateway_translation_latency_seconds",
		Help:    "End-to-end window translation latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Realtime metrics
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_gateway_events_published_total",
		Help: "Realtime events published, by event type",
	}, []string{"type"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_gateway_events_dropped_total",
		Help: "Realtime events dropped on full client queues",
	})

	connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "caption_gateway_connected_clients",
		Help: "Currently connected realtime clients",
	})
)

// RecordFrameReceived records a successful source read.
func RecordFrameReceived(fps float64) {
	framesReceived.Inc()
	effectiveFPS.Set(fps)
}

// RecordFrameDropped records a frame lost at the ingest stage.
func RecordFrameDropped() {
	framesDropped.Inc()
}

// RecordReconnect records a source reconnect event.
func RecordReconnect() {
	sourceReconnects.Inc()
}

// RecordQueueDrop records items dropped on a full stage queue.
func RecordQueueDrop(stage string, count int) {
	queueDrops.WithLabelValues(stage).Add(float64(count))
}

// RecordQueueDepth records the current depth of a stage queue.
func RecordQueueDepth(stage string, depth int) {
	queueDepth.WithLabelValues(stage).Set(float64(depth))
}

// RecordExtraction records a landmark extraction attempt.
func RecordExtraction(latencySeconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	framesProcessed.WithLabelValues(status).Inc()
	if success {
		extractionLatency.Observe(latencySeconds)
	}
}

// RecordWindowEmitted records an emitted landmark window.
func RecordWindowEmitted() {
	windowsEmitted.Inc()
}

// RecordOutOfOrder records an out-of-order landmark result.
func RecordOutOfOrder() {
	outOfOrderResults.Inc()
}

// RecordTranslation records a caption emission of the given kind.
func RecordTranslation(kind string, latencySeconds float64) {
	translations.WithLabelValues(kind).Inc()
	translationLatency.Observe(latencySeconds)
}

// RecordTranslationRetry records a provider retry event.
func RecordTranslationRetry() {
	translationRetries.Inc()
}

// RecordTranslationSkip records a window skipped before dispatch.
func RecordTranslationSkip(reason string) {
	translationSkips.WithLabelValues(reason).Inc()
}

// RecordEventPublished records a published realtime event.
func RecordEventPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventsDropped records events dropped on full client queues.
func RecordEventsDropped(count int) {
	eventsDropped.Add(float64(count))
}

// SetConnectedClients updates the connected clients gauge.
func SetConnectedClients(count int) {
	connectedClients.Set(float64(count))
}
