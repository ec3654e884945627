package landmarks

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"math/rand"

	"github.com/signbridge/caption-gateway/internal/source"
)

// ErrExtraction is the base error for extractor failures. An empty hand list
// is a valid "no hands" result, not an error.
var ErrExtraction = errors.New("landmark extraction failed")

// Extractor turns a frame into zero or more detected hands.
type Extractor interface {
	// Name identifies the extractor in metrics and logs.
	Name() string

	// Extract returns the hands detected in the frame. Failures wrap
	// ErrExtraction.
	Extract(ctx context.Context, frame source.FramePacket) ([]Hand, error)
}

// MockExtractor produces deterministic pseudo-landmarks for non-hardware
// testing. The same frame always yields the same hands.
type MockExtractor struct {
	detectionRate float64
}

// NewMockExtractor creates a mock extractor with the given detection rate,
// clamped to [0, 1].
func NewMockExtractor(detectionRate float64) *MockExtractor {
	return &MockExtractor{
		detectionRate: math.Max(0, math.Min(1, detectionRate)),
	}
}

// Name implements Extractor.
func (e *MockExtractor) Name() string {
	return "mock-hands-extractor"
}

// Extract implements Extractor.
func (e *MockExtractor) Extract(ctx context.Context, frame source.FramePacket) ([]Hand, error) {
	if ctx.Err() != nil {
		return nil, fmt.Errorf("extraction cancelled: %w", ErrExtraction)
	}

	seed := int64(crc32.ChecksumIEEE(frame.Payload)) ^ frame.FrameID
	rng := rand.New(rand.NewSource(seed))

	if rng.Float64() > e.detectionRate {
		return nil, nil
	}

	handCount := 1
	if rng.Float64() >= 0.9 {
		handCount = 2
	}

	hands := make([]Hand, 0, handCount)
	for handIndex := 0; handIndex < handCount; handIndex++ {
		handedness := "left"
		if (int64(handIndex)+frame.FrameID)%2 == 0 {
			handedness = "right"
		}

		points := make([]Point, landmarkPointCount)
		for i := range points {
			points[i] = Point{
				X: rng.Float64(),
				Y: rng.Float64(),
				Z: rng.Float64()*0.4 - 0.2,
			}
		}

		hands = append(hands, Hand{
			HandIndex:  handIndex,
			Handedness: handedness,
			Confidence: 0.55 + rng.Float64()*0.45,
			Landmarks:  points,
		})
	}

	return hands, nil
}
