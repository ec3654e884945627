package translation

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/signbridge/caption-gateway/internal/windowing"
)

var mockPhrases = []string{
	"Hello, nice to meet you.",
	"Can you help me with directions?",
	"Please wait a moment.",
	"I need assistance.",
	"Thank you for your help.",
	"Where is the nearest exit?",
	"I understand.",
}

// MockProvider produces deterministic captions without any network call. The
// caption is selected by window identity and its confidence is the mean hand
// confidence across the window.
type MockProvider struct {
	delay time.Duration
}

// NewMockProvider creates a mock provider with an artificial per-call delay.
func NewMockProvider(delay time.Duration) *MockProvider {
	return &MockProvider{delay: delay}
}

// Name implements Provider.
func (p *MockProvider) Name() string {
	return "mock-translation-provider"
}

// Translate implements Provider.
func (p *MockProvider) Translate(ctx context.Context, window windowing.Window) (Payload, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Payload{}, fmt.Errorf("mock translate cancelled: %w", ErrProvider)
		}
	}

	var sum float64
	var count int
	for _, frame := range window.Frames {
		for _, hand := range frame.Hands {
			sum += hand.Confidence
			count++
		}
	}
	avgConf := 0.0
	if count > 0 {
		avgConf = sum / float64(count)
	}

	h := fnv.New32a()
	fmt.Fprintf(h, "%d:%d", window.WindowID, window.FrameCount)
	text := mockPhrases[int(h.Sum32())%len(mockPhrases)]

	if avgConf < 0.45 {
		text = text + " " + UnclearSentinel
	}

	return Payload{Text: text, Confidence: avgConf}, nil
}
