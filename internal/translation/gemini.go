package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/signbridge/caption-gateway/internal/config"
	"github.com/signbridge/caption-gateway/internal/windowing"
)

// GeminiProvider calls the Gemini generateContent REST endpoint to caption a
// landmark window.
type GeminiProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGeminiProvider creates a Gemini REST provider. The API key requirement
// is a construction error, raised once and never retried.
func NewGeminiProvider(cfg *config.Config) (*GeminiProvider, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for gemini mode: %w", ErrProvider)
	}
	return &GeminiProvider{
		apiKey:  cfg.GeminiAPIKey,
		model:   strings.TrimPrefix(cfg.GeminiModel, "models/"),
		baseURL: strings.TrimRight(cfg.GeminiBaseURL, "/"),
		client:  &http.Client{},
	}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string {
	return "gemini-translation-provider"
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
	Config   geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Translate implements Provider.
func (p *GeminiProvider) Translate(ctx context.Context, window windowing.Window) (Payload, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: p.buildPrompt(window)}}}},
		Config: geminiGenConfig{
			Temperature:     0.1,
			MaxOutputTokens: 64,
		},
	})
	if err != nil {
		return Payload{}, fmt.Errorf("gemini request marshal failed: %v: %w", err, ErrProvider)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Payload{}, fmt.Errorf("gemini request build failed: %v: %w", err, ErrProvider)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return Payload{}, fmt.Errorf("gemini request error: %v: %w", err, ErrProvider)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Payload{}, &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    "gemini status 429",
		}
	}
	if resp.StatusCode != http.StatusOK {
		return Payload{}, fmt.Errorf("gemini status %d: %w", resp.StatusCode, ErrProvider)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Payload{}, fmt.Errorf("gemini body read error: %v: %w", err, ErrProvider)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Payload{}, fmt.Errorf("gemini response parse error: %v: %w", err, ErrProvider)
	}

	text := extractText(parsed)
	if text == "" {
		return Payload{}, fmt.Errorf("gemini empty text response: %w", ErrProvider)
	}

	return Payload{Text: text, Confidence: estimateConfidence(text)}, nil
}

func (p *GeminiProvider) buildPrompt(window windowing.Window) string {
	type promptHand struct {
		Handedness string       `json:"handedness"`
		Confidence float64      `json:"confidence"`
		Landmarks  [][3]float64 `json:"landmarks"`
	}
	type promptFrame struct {
		FrameID int64        `json:"frame_id"`
		Hands   []promptHand `json:"hands"`
	}

	var frames []promptFrame
	for _, frame := range window.Frames {
		if len(frame.Hands) == 0 {
			continue
		}
		hands := make([]promptHand, 0, len(frame.Hands))
		for _, hand := range frame.Hands {
			points := make([][3]float64, 0, len(hand.Landmarks))
			for _, pt := range hand.Landmarks {
				points = append(points, [3]float64{
					round4(pt.X), round4(pt.Y), round4(pt.Z),
				})
			}
			hands = append(hands, promptHand{
				Handedness: hand.Handedness,
				Confidence: round4(hand.Confidence),
				Landmarks:  points,
			})
		}
		frames = append(frames, promptFrame{FrameID: frame.FrameID, Hands: hands})
	}

	if len(frames) == 0 {
		return "No reliable hand landmarks detected in this window. " +
			"Return exactly: " + UnclearSentinel
	}

	summary, _ := json.Marshal(frames)
	var b strings.Builder
	b.WriteString("You translate ASL hand-landmark sequences to short plain English.\n")
	b.WriteString("Return exactly one line and no extra commentary.\n")
	b.WriteString("If the sign is ambiguous, return exactly: " + UnclearSentinel + "\n")
	fmt.Fprintf(&b, "Window metadata: id=%d, frame_count=%d\n", window.WindowID, window.FrameCount)
	fmt.Fprintf(&b, "Frames JSON: %s", summary)
	return b.String()
}

func extractText(parsed geminiResponse) string {
	if len(parsed.Candidates) == 0 {
		return ""
	}
	var segments []string
	for _, part := range parsed.Candidates[0].Content.Parts {
		if s := strings.TrimSpace(part.Text); s != "" {
			segments = append(segments, s)
		}
	}
	return strings.TrimSpace(strings.Join(segments, " "))
}

func estimateConfidence(text string) float64 {
	if strings.Contains(strings.ToLower(text), "unclear") {
		return 0.45
	}
	return 0.75
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
