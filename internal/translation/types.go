package translation

import "time"

// Caption emission kinds.
const (
	KindPartial = "partial"
	KindFinal   = "final"
)

// UnclearSentinel is the canonical output text used when a caption cannot be
// produced with sufficient confidence or fails validation.
const UnclearSentinel = "[unclear]"

// Payload is the raw provider output for one window.
type Payload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is one caption emission. Two are emitted per processed window,
// partial then final, sharing the same window id and confidence.
type Result struct {
	WindowID   int64     `json:"window_id"`
	Kind       string    `json:"kind"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Uncertain  bool      `json:"uncertain"`
	CreatedAt  time.Time `json:"created_at"`
	LatencyMS  float64   `json:"latency_ms"`
	SourceMode string    `json:"source_mode"`
	RetryCount int       `json:"retry_count"`
}
