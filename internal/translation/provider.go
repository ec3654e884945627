package translation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signbridge/caption-gateway/internal/windowing"
)

// ErrProvider is the base error for translation provider failures.
var ErrProvider = errors.New("translation provider failure")

// RateLimitError marks a provider that is throttling us. It may carry a
// server-suggested retry-after duration. The stage stops retrying the window
// and opens a stage-wide cooldown gate.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return "provider rate limited: " + e.Message
}

func (e *RateLimitError) Unwrap() error {
	return ErrProvider
}

// Provider turns a landmark window into a caption payload.
type Provider interface {
	// Name identifies the provider in metrics and logs.
	Name() string

	// Translate produces a caption for the window. Failures wrap
	// ErrProvider; throttling surfaces as *RateLimitError.
	Translate(ctx context.Context, window windowing.Window) (Payload, error)
}
