package landmarks

import "time"

// landmarkPointCount is the number of 3-D points in one detected hand.
const landmarkPointCount = 21

// Point is one 3-D hand landmark coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Hand is one detected hand within a frame.
type Hand struct {
	HandIndex  int     `json:"hand_index"`
	Handedness string  `json:"handedness"`
	Confidence float64 `json:"confidence"`
	Landmarks  []Point `json:"landmarks"`
}

// Result is the per-frame extraction outcome.
type Result struct {
	FrameID      int64     `json:"frame_id"`
	SourceName   string    `json:"source_name"`
	CapturedAt   time.Time `json:"captured_at"`
	ProcessedAt  time.Time `json:"processed_at"`
	ProcessingMS float64   `json:"processing_ms"`
	Hands        []Hand    `json:"hands"`
	// FramePayload optionally carries the raw frame for downstream
	// providers that classify images directly.
	FramePayload []byte `json:"-"`
}

// HasHands reports whether the frame had at least one detected hand.
func (r Result) HasHands() bool {
	return len(r.Hands) > 0
}
