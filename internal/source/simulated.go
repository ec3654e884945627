package source

import (
	"context"
	"fmt"
	"time"
)

// SimulatedSource emits synthetic frames at a fixed rate, with an optional
// one-shot injected disconnect window for ingest testing before hardware is
// connected.
type SimulatedSource struct {
	sourceName         string
	frameInterval      time.Duration
	disconnectAfter    time.Duration
	disconnectDuration time.Duration

	connected           bool
	startedAt           time.Time
	nextFrameAt         time.Time
	frameID             int64
	disconnectWindowEnd time.Time
	disconnectInjected  bool
}

// SimulatedConfig configures a SimulatedSource.
type SimulatedConfig struct {
	FPS float64
	// DisconnectAfter <= 0 disables the injected outage.
	DisconnectAfter    time.Duration
	DisconnectDuration time.Duration
}

// NewSimulatedSource creates a synthetic fixed-fps source.
func NewSimulatedSource(cfg SimulatedConfig) *SimulatedSource {
	fps := cfg.FPS
	if fps <= 0 {
		fps = 1
	}
	return &SimulatedSource{
		sourceName:         "simulated-camera",
		frameInterval:      time.Duration(float64(time.Second) / fps),
		disconnectAfter:    cfg.DisconnectAfter,
		disconnectDuration: cfg.DisconnectDuration,
	}
}

// Name implements Source.
func (s *SimulatedSource) Name() string {
	return s.sourceName
}

// Connect implements Source.
func (s *SimulatedSource) Connect(ctx context.Context) error {
	now := time.Now()
	s.connected = true
	s.startedAt = now
	s.nextFrameAt = now
	s.disconnectWindowEnd = time.Time{}
	return nil
}

// ReadFrame implements Source.
func (s *SimulatedSource) ReadFrame(ctx context.Context) (FramePacket, error) {
	if !s.connected {
		return FramePacket{}, fmt.Errorf("source is not connected: %w", ErrDisconnected)
	}

	now := time.Now()
	if s.disconnectAfter > 0 && !s.disconnectInjected && now.Sub(s.startedAt) >= s.disconnectAfter {
		s.disconnectWindowEnd = now.Add(s.disconnectDuration)
		s.disconnectInjected = true
	}
	if s.disconnectWindowEnd.After(now) {
		return FramePacket{}, fmt.Errorf("simulated network interruption: %w", ErrDisconnected)
	}

	if delay := time.Until(s.nextFrameAt); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return FramePacket{}, ctx.Err()
		}
	}

	s.nextFrameAt = time.Now().Add(s.frameInterval)
	s.frameID++

	return FramePacket{
		FrameID:    s.frameID,
		CapturedAt: time.Now().UTC(),
		Payload:    []byte(fmt.Sprintf("simulated-frame-%d", s.frameID)),
		SourceName: s.sourceName,
	}, nil
}

// Disconnect implements Source.
func (s *SimulatedSource) Disconnect() error {
	s.connected = false
	return nil
}
