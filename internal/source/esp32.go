package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ESP32HTTPSource polls an ESP32 camera firmware frame endpoint over HTTP.
type ESP32HTTPSource struct {
	baseURL      string
	framePath    string
	pollInterval time.Duration
	sourceName   string

	client  *http.Client
	frameID int64
}

// ESP32Config configures an ESP32HTTPSource.
type ESP32Config struct {
	BaseURL        string
	FramePath      string
	RequestTimeout time.Duration
	PollInterval   time.Duration
}

// NewESP32HTTPSource creates an HTTP polling source for ESP32 frame endpoints.
func NewESP32HTTPSource(cfg ESP32Config) *ESP32HTTPSource {
	framePath := cfg.FramePath
	if !strings.HasPrefix(framePath, "/") {
		framePath = "/" + framePath
	}
	return &ESP32HTTPSource{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		framePath:    framePath,
		pollInterval: cfg.PollInterval,
		sourceName:   "esp32-http-camera",
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// Name implements Source.
func (s *ESP32HTTPSource) Name() string {
	return s.sourceName
}

// Connect implements Source. The HTTP client is connectionless; a fresh
// instance per attempt is all the reset the firmware needs.
func (s *ESP32HTTPSource) Connect(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("esp32 client is not configured: %w", ErrDisconnected)
	}
	return nil
}

// ReadFrame implements Source.
func (s *ESP32HTTPSource) ReadFrame(ctx context.Context) (FramePacket, error) {
	if s.client == nil {
		return FramePacket{}, fmt.Errorf("esp32 client is not connected: %w", ErrDisconnected)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+s.framePath, nil)
	if err != nil {
		return FramePacket{}, fmt.Errorf("esp32 request build failed: %w", ErrSource)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return FramePacket{}, fmt.Errorf("esp32 request error: %v: %w", err, ErrDisconnected)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FramePacket{}, fmt.Errorf("esp32 status %d: %w", resp.StatusCode, ErrDisconnected)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return FramePacket{}, fmt.Errorf("esp32 body read error: %v: %w", err, ErrDisconnected)
	}
	if len(payload) == 0 {
		return FramePacket{}, fmt.Errorf("esp32 empty frame payload: %w", ErrSource)
	}

	s.frameID++
	packet := FramePacket{
		FrameID:    s.frameID,
		CapturedAt: time.Now().UTC(),
		Payload:    payload,
		SourceName: s.sourceName,
	}

	if s.pollInterval > 0 {
		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			return FramePacket{}, ctx.Err()
		}
	}

	return packet, nil
}

// Disconnect implements Source.
func (s *ESP32HTTPSource) Disconnect() error {
	if s.client != nil {
		s.client.CloseIdleConnections()
		s.client = nil
	}
	return nil
}
