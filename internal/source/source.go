package source

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSource is the base error for camera source failures. Read errors that
// wrap it end the ingest read loop and trigger a reconnect.
var ErrSource = errors.New("camera source failure")

// ErrDisconnected marks a source that lost its connection and should be
// reconnected. It wraps ErrSource, mirroring the error hierarchy consumers
// match against with errors.Is.
var ErrDisconnected = fmt.Errorf("camera source disconnected: %w", ErrSource)

// FramePacket is one captured image from a camera source. Frame ids are
// monotonic within a single connect session and may reset across reconnects.
type FramePacket struct {
	FrameID    int64     `json:"frame_id"`
	CapturedAt time.Time `json:"captured_at"`
	Payload    []byte    `json:"-"`
	SourceName string    `json:"source_name"`
}

// Source is a pluggable supplier of frames. Implementations are constructed
// fresh for every connect attempt and never reused after a failure.
type Source interface {
	// Name identifies the source in metrics and logs.
	Name() string

	// Connect establishes the connection. A failure here is a connection
	// error, never fatal to the process.
	Connect(ctx context.Context) error

	// ReadFrame returns the next frame. It fails with an error wrapping
	// ErrDisconnected when the ingest loop should reconnect, or any other
	// error wrapping ErrSource for a per-read failure.
	ReadFrame(ctx context.Context) (FramePacket, error)

	// Disconnect releases the connection. Idempotent and best-effort.
	Disconnect() error
}

// Factory builds a new Source instance per connect attempt.
type Factory func() Source
