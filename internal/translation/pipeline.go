package translation

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signbridge/caption-gateway/internal/config"
	"github.com/signbridge/caption-gateway/internal/observability"
	"github.com/signbridge/caption-gateway/internal/pipeline"
	"github.com/signbridge/caption-gateway/internal/windowing"
)

const stageName = "translation"

// sentinelConfidence is the confidence attached to the substituted payload
// when every dispatch attempt failed.
const sentinelConfidence = 0.2

// ResultHandler receives every caption emission, partial then final. Handler
// errors are logged and isolated from other handlers.
type ResultHandler func(result Result) error

// Snapshot is the translation stage's operational state at a point in time.
type Snapshot struct {
	pipeline.StageHealth
	Mode                string  `json:"mode"`
	ProviderName        string  `json:"provider_name"`
	StartedAt           string  `json:"started_at,omitempty"`
	WindowsEnqueued     int64   `json:"windows_enqueued"`
	QueueDrops          int64   `json:"queue_drops"`
	WindowsProcessed    int64   `json:"windows_processed"`
	PartialEmitted      int64   `json:"partial_emitted"`
	FinalEmitted        int64   `json:"final_emitted"`
	RetryEvents         int64   `json:"retry_events"`
	RateLimitedSkips    int64   `json:"rate_limited_skips"`
	LowSignalSkips      int64   `json:"low_signal_skips"`
	UnclearSuppressed   int64   `json:"unclear_suppressed"`
	AverageProcessingMS float64 `json:"average_processing_ms"`
	LastProcessingMS    float64 `json:"last_processing_ms"`
	LastResultAt        string  `json:"last_result_at,omitempty"`
	RateLimitedUntil    string  `json:"rate_limited_until,omitempty"`
	QueueSize           int     `json:"queue_size"`
	RecentResultsCount  int     `json:"recent_results_count"`
}

// Pipeline turns each window into zero or two caption emissions, with retry,
// rate-limit cooperation, and output sanitation.
type Pipeline struct {
	cfg        *config.Config
	logger     zerolog.Logger
	provider   Provider
	normalizer *Normalizer
	queue      *pipeline.Queue[windowing.Window]
	recent     *pipeline.Ring[Result]

	mu                sync.Mutex
	running           bool
	cancel            context.CancelFunc
	done              chan struct{}
	handlers          []ResultHandler
	startedAt         time.Time
	healthy           bool
	windowsEnqueued   int64
	queueDrops        int64
	windowsProcessed  int64
	partialEmitted    int64
	finalEmitted      int64
	retryEvents       int64
	rateLimitedSkips  int64
	lowSignalSkips    int64
	unclearSuppressed int64
	avgProcessingMS   float64
	lastProcessing    float64
	lastResultAt      time.Time
	lastError         string
	rateLimitedUntil  time.Time
	lastDispatchAt    time.Time
}

// NewPipeline creates the translation stage around an injected provider.
func NewPipeline(cfg *config.Config, provider Provider) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		logger:   observability.ComponentLogger(stageName),
		provider: provider,
		normalizer: NewNormalizer(NormalizerConfig{
			PromptLeakMarkers:    cfg.PromptLeakMarkers,
			UncertaintyMarkers:   cfg.UncertaintyMarkers,
			AllowedShortTokens:   cfg.AllowedShortTokens,
			UncertaintyThreshold: cfg.UncertaintyThreshold,
			UnclearConfidenceCap: cfg.UnclearConfidenceCap,
		}),
		queue:  pipeline.NewQueue[windowing.Window](cfg.TranslationQueueSize, pipeline.DropNew),
		recent: pipeline.NewRing[Result](cfg.TranslationRecentLimit),
	}
}

// RegisterResultHandler adds a downstream result handler. Not safe to call
// after Start.
func (p *Pipeline) RegisterResultHandler(handler ResultHandler) {
	p.handlers = append(p.handlers, handler)
}

// Start launches the consumer loop. No-op when disabled or already running.
func (p *Pipeline) Start() {
	if !p.cfg.TranslationEnabled {
		p.logger.Info().Msg("translation pipeline disabled by configuration")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.healthy = true
	p.startedAt = time.Now().UTC()
	p.lastError = ""

	p.logger.Info().
		Str("translation_mode", p.cfg.TranslationMode).
		Str("provider_name", p.provider.Name()).
		Msg("translation pipeline started")

	go p.run(ctx)
}

// Stop cancels the consumer loop, waits for it to unwind, and drains the
// queue.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.healthy = false
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.mu.Lock()
	p.running = false
	p.healthy = false
	p.mu.Unlock()

	p.queue.Drain()
}

// EnqueueWindow offers a window to the stage without blocking. On a full
// queue the window is dropped and counted.
func (p *Pipeline) EnqueueWindow(window windowing.Window) error {
	if !p.cfg.TranslationEnabled {
		return nil
	}

	accepted, dropped := p.queue.TryPush(window)
	p.mu.Lock()
	if accepted {
		p.windowsEnqueued++
	} else {
		p.queueDrops += int64(dropped)
		p.lastError = "translation queue full"
	}
	p.mu.Unlock()

	if !accepted {
		observability.RecordQueueDrop(stageName, dropped)
	}
	observability.RecordQueueDepth(stageName, p.queue.Len())
	return nil
}

// Snapshot returns a copy of the stage metrics.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		StageHealth: pipeline.StageHealth{
			Enabled:   p.cfg.TranslationEnabled,
			Running:   p.running,
			Healthy:   p.healthy,
			LastError: p.lastError,
		},
		Mode:                p.cfg.TranslationMode,
		ProviderName:        p.provider.Name(),
		WindowsEnqueued:     p.windowsEnqueued,
		QueueDrops:          p.queueDrops,
		WindowsProcessed:    p.windowsProcessed,
		PartialEmitted:      p.partialEmitted,
		FinalEmitted:        p.finalEmitted,
		RetryEvents:         p.retryEvents,
		RateLimitedSkips:    p.rateLimitedSkips,
		LowSignalSkips:      p.lowSignalSkips,
		UnclearSuppressed:   p.unclearSuppressed,
		AverageProcessingMS: p.avgProcessingMS,
		LastProcessingMS:    p.lastProcessing,
		QueueSize:           p.queue.Len(),
		RecentResultsCount:  p.recent.Len(),
	}
	if !p.startedAt.IsZero() {
		snap.StartedAt = p.startedAt.Format(time.RFC3339Nano)
	}
	if !p.lastResultAt.IsZero() {
		snap.LastResultAt = p.lastResultAt.Format(time.RFC3339Nano)
	}
	if p.rateLimitedUntil.After(time.Now()) {
		snap.RateLimitedUntil = p.rateLimitedUntil.Format(time.RFC3339Nano)
	}
	return snap
}

// RecentResults returns up to limit results, newest first.
func (p *Pipeline) RecentResults(limit int) []Result {
	return p.recent.Recent(limit)
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	for {
		window, ok := p.queue.Pop(ctx)
		if !ok {
			return
		}
		p.processWindow(ctx, window)
	}
}

func (p *Pipeline) processWindow(ctx context.Context, window windowing.Window) {
	started := time.Now()

	// Rate-limit gate: while the cooldown is open, skip without calling
	// the provider at all.
	p.mu.Lock()
	limited := p.rateLimitedUntil.After(started)
	p.mu.Unlock()
	if limited {
		p.mu.Lock()
		p.rateLimitedSkips++
		p.mu.Unlock()
		observability.RecordTranslationSkip("rate_limited")
		return
	}

	// Low-signal gate: not enough confident hand detections to be worth a
	// provider call.
	framesWithHands := 0
	for _, frame := range window.Frames {
		if frame.HasHands() {
			framesWithHands++
		}
	}
	if framesWithHands < p.cfg.MinFramesWithHands {
		p.mu.Lock()
		p.lowSignalSkips++
		p.mu.Unlock()
		observability.RecordTranslationSkip("low_signal")
		return
	}

	payload, retryCount, lastErr := p.dispatch(ctx, window)
	if ctx.Err() != nil {
		return
	}

	failed := payload == nil
	if failed {
		substitute := Payload{Text: UnclearSentinel, Confidence: sentinelConfidence}
		payload = &substitute
		p.mu.Lock()
		if lastErr != "" {
			p.lastError = lastErr
		} else {
			p.lastError = "translation failed"
		}
		p.healthy = false
		p.mu.Unlock()
	}

	finalText, confidence, uncertain := p.normalizer.Normalize(*payload)

	if finalText == UnclearSentinel && !p.cfg.EmitUnclearCaptions {
		p.mu.Lock()
		p.unclearSuppressed++
		p.mu.Unlock()
		observability.RecordTranslationSkip("unclear")
		return
	}

	createdAt := time.Now().UTC()
	latencyMS := float64(time.Since(started).Microseconds()) / 1000.0

	partial := Result{
		WindowID:   window.WindowID,
		Kind:       KindPartial,
		Text:       buildPartialText(finalText),
		Confidence: confidence,
		Uncertain:  uncertain,
		CreatedAt:  createdAt,
		LatencyMS:  latencyMS,
		SourceMode: p.cfg.TranslationMode,
		RetryCount: retryCount,
	}
	final := partial
	final.Kind = KindFinal
	final.Text = finalText

	p.recent.Append(partial)
	p.recent.Append(final)

	p.mu.Lock()
	handlers := p.handlers
	p.mu.Unlock()

	for _, result := range []Result{partial, final} {
		observability.RecordTranslation(result.Kind, latencyMS/1000.0)
		for _, handler := range handlers {
			if err := handler(result); err != nil {
				p.logger.Error().
					Err(err).
					Int64("window_id", window.WindowID).
					Str("kind", result.Kind).
					Msg("translation result handler error")
			}
		}
	}

	p.mu.Lock()
	previousCount := p.windowsProcessed
	previousAvg := p.avgProcessingMS
	p.windowsProcessed++
	p.partialEmitted++
	p.finalEmitted++
	p.lastProcessing = latencyMS
	p.lastResultAt = createdAt
	if !failed {
		p.healthy = true
		p.lastError = ""
	}
	p.avgProcessingMS = (previousAvg*float64(previousCount) + latencyMS) / float64(previousCount+1)
	p.mu.Unlock()
}

// dispatch runs the provider attempt loop. It returns a nil payload when
// every attempt failed or the provider signalled a rate limit.
func (p *Pipeline) dispatch(ctx context.Context, window windowing.Window) (*Payload, int, string) {
	retryCount := 0
	lastErr := ""

	maxAttempts := p.cfg.TranslationMaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !p.throttle(ctx) {
			return nil, retryCount, lastErr
		}

		// Stamped before the call: the inter-request interval is measured
		// from dispatch start, not from completion.
		p.mu.Lock()
		p.lastDispatchAt = time.Now()
		p.mu.Unlock()

		callCtx, cancel := context.WithTimeout(ctx, p.cfg.TranslationTimeout)
		payload, err := p.provider.Translate(callCtx, window)
		cancel()

		if err == nil {
			return &payload, retryCount, lastErr
		}
		if ctx.Err() != nil {
			return nil, retryCount, lastErr
		}

		var rateLimited *RateLimitError
		if errors.As(err, &rateLimited) {
			cooldown := p.cfg.RateLimitCooldown
			if rateLimited.RetryAfter > cooldown {
				cooldown = rateLimited.RetryAfter
			}
			p.mu.Lock()
			p.rateLimitedUntil = time.Now().Add(cooldown)
			p.mu.Unlock()

			p.logger.Warn().
				Dur("cooldown", cooldown).
				Int64("window_id", window.WindowID).
				Msg("provider rate limited, opening cooldown gate")
			return nil, retryCount, err.Error()
		}

		retryCount++
		lastErr = err.Error()
		p.mu.Lock()
		p.retryEvents++
		p.mu.Unlock()
		observability.RecordTranslationRetry()

		if attempt+1 < maxAttempts {
			select {
			case <-time.After(p.cfg.TranslationRetryBackoff):
			case <-ctx.Done():
				return nil, retryCount, lastErr
			}
		}
	}

	return nil, retryCount, lastErr
}

// throttle enforces the minimum inter-request interval. It returns false
// only when the stage context is cancelled while waiting.
func (p *Pipeline) throttle(ctx context.Context) bool {
	if p.cfg.TranslationMinInterval <= 0 {
		return true
	}

	p.mu.Lock()
	last := p.lastDispatchAt
	p.mu.Unlock()

	if last.IsZero() {
		return true
	}
	wait := p.cfg.TranslationMinInterval - time.Since(last)
	if wait <= 0 {
		return true
	}

	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}

// buildPartialText truncates a caption to roughly its first 60% of words,
// marking the cut with an ellipsis. Short captions pass through unchanged.
func buildPartialText(finalText string) string {
	words := strings.Fields(finalText)
	if len(words) <= 3 {
		return finalText
	}

	cutoff := int(math.Ceil(float64(len(words)) * 0.6))
	if cutoff < 2 {
		cutoff = 2
	}
	partial := strings.Join(words[:cutoff], " ")
	if partial == finalText {
		return finalText
	}
	return partial + "..."
}
