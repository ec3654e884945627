package translation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signbridge/caption-gateway/internal/config"
	"github.com/signbridge/caption-gateway/internal/landmarks"
	"github.com/signbridge/caption-gateway/internal/windowing"
)

func testConfig() *config.Config {
	return &config.Config{
		TranslationEnabled:      true,
		TranslationMode:         "mock",
		TranslationQueueSize:    16,
		TranslationMaxRetries:   2,
		TranslationRetryBackoff: 5 * time.Millisecond,
		TranslationTimeout:      time.Second,
		RateLimitCooldown:       200 * time.Millisecond,
		MinFramesWithHands:      1,
		UncertaintyThreshold:    0.55,
		UnclearConfidenceCap:    0.45,
		EmitUnclearCaptions:     true,
		TranslationRecentLimit:  50,
		UncertaintyMarkers:      []string{"unclear"},
	}
}

func testWindow(id int64, framesWithHands, framesWithout int) windowing.Window {
	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	var frames []landmarks.Result
	for i := 0; i < framesWithHands; i++ {
		frames = append(frames, landmarks.Result{
			FrameID:    int64(i + 1),
			CapturedAt: base.Add(time.Duration(i) * 100 * time.Millisecond),
			Hands:      []landmarks.Hand{{Handedness: "Right", Confidence: 0.9}},
		})
	}
	for i := 0; i < framesWithout; i++ {
		frames = append(frames, landmarks.Result{
			FrameID:    int64(framesWithHands + i + 1),
			CapturedAt: base.Add(time.Duration(framesWithHands+i) * 100 * time.Millisecond),
		})
	}
	return windowing.Window{
		WindowID:    id,
		WindowStart: base,
		WindowEnd:   base.Add(time.Second),
		FrameCount:  len(frames),
		Frames:      frames,
	}
}

// scriptedProvider fails its first failures calls, then returns payload. A
// rate-limit error can be scripted instead, and an artificial per-call delay
// simulates a slow backend.
type scriptedProvider struct {
	delay time.Duration

	mu        sync.Mutex
	calls     int
	callTimes []time.Time
	failures  int
	rateLimit *RateLimitError
	payload   Payload
}

func (p *scriptedProvider) Name() string { return "scripted-provider" }

func (p *scriptedProvider) Translate(ctx context.Context, w windowing.Window) (Payload, error) {
	p.mu.Lock()
	p.calls++
	p.callTimes = append(p.callTimes, time.Now())
	rateLimit := p.rateLimit
	fail := p.calls <= p.failures
	calls := p.calls
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Payload{}, fmt.Errorf("scripted call cancelled: %w", ErrProvider)
		}
	}

	if rateLimit != nil {
		return Payload{}, rateLimit
	}
	if fail {
		return Payload{}, fmt.Errorf("scripted failure %d: %w", calls, ErrProvider)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payload, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) callGaps() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	var gaps []time.Duration
	for i := 1; i < len(p.callTimes); i++ {
		gaps = append(gaps, p.callTimes[i].Sub(p.callTimes[i-1]))
	}
	return gaps
}

func (p *scriptedProvider) clearRateLimit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rateLimit = nil
}

func collectResults(t *testing.T, ch <-chan Result, n int) []Result {
	t.Helper()
	var results []Result
	for len(results) < n {
		select {
		case r := <-ch:
			results = append(results, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for result %d of %d", len(results)+1, n)
		}
	}
	return results
}

func startPipeline(t *testing.T, cfg *config.Config, provider Provider) (*Pipeline, <-chan Result) {
	t.Helper()
	p := NewPipeline(cfg, provider)
	resultCh := make(chan Result, 16)
	p.RegisterResultHandler(func(r Result) error {
		resultCh <- r
		return nil
	})
	p.Start()
	t.Cleanup(p.Stop)
	return p, resultCh
}

func TestEmitsPartialThenFinal(t *testing.T) {
	provider := &scriptedProvider{payload: Payload{Text: "Can you help me with directions?", Confidence: 0.8}}
	p, resultCh := startPipeline(t, testConfig(), provider)

	require.NoError(t, p.EnqueueWindow(testWindow(1, 3, 0)))

	results := collectResults(t, resultCh, 2)
	partial, final := results[0], results[1]

	assert.Equal(t, KindPartial, partial.Kind)
	assert.Equal(t, "Can you help me...", partial.Text)
	assert.Equal(t, KindFinal, final.Kind)
	assert.Equal(t, "Can you help me with directions?", final.Text)
	assert.Equal(t, int64(1), partial.WindowID)
	assert.Equal(t, int64(1), final.WindowID)
	assert.InDelta(t, 0.8, final.Confidence, 1e-9)
	assert.False(t, final.Uncertain)

	snap := p.Snapshot()
	assert.Equal(t, int64(1), snap.WindowsProcessed)
	assert.Equal(t, int64(1), snap.PartialEmitted)
	assert.Equal(t, int64(1), snap.FinalEmitted)
}

func TestShortCaptionSkipsTruncation(t *testing.T) {
	provider := &scriptedProvider{payload: Payload{Text: "I understand.", Confidence: 0.9}}
	p, resultCh := startPipeline(t, testConfig(), provider)

	require.NoError(t, p.EnqueueWindow(testWindow(1, 3, 0)))

	results := collectResults(t, resultCh, 2)
	assert.Equal(t, "I understand.", results[0].Text)
	assert.Equal(t, "I understand.", results[1].Text)
}

func TestRetryThenSuccess(t *testing.T) {
	provider := &scriptedProvider{
		failures: 1,
		payload:  Payload{Text: "Thank you for your help.", Confidence: 0.8},
	}
	p, resultCh := startPipeline(t, testConfig(), provider)

	require.NoError(t, p.EnqueueWindow(testWindow(1, 3, 0)))

	results := collectResults(t, resultCh, 2)
	assert.Equal(t, 1, results[0].RetryCount)
	assert.Equal(t, 1, results[1].RetryCount)
	assert.Equal(t, "Thank you for your help.", results[1].Text)
	assert.Equal(t, 2, provider.callCount())
	assert.Equal(t, int64(1), p.Snapshot().RetryEvents)
}

func TestExhaustedRetriesEmitUnclear(t *testing.T) {
	provider := &scriptedProvider{failures: 100}
	p, resultCh := startPipeline(t, testConfig(), provider)

	require.NoError(t, p.EnqueueWindow(testWindow(1, 3, 0)))

	results := collectResults(t, resultCh, 2)
	assert.Equal(t, UnclearSentinel, results[1].Text)
	assert.True(t, results[1].Uncertain)
	assert.LessOrEqual(t, results[1].Confidence, 0.45)
	// One initial attempt plus two retries.
	assert.Equal(t, 3, provider.callCount())

	snap := p.Snapshot()
	assert.False(t, snap.Healthy)
	assert.NotEmpty(t, snap.LastError)
}

func TestRateLimitOpensCooldownGate(t *testing.T) {
	provider := &scriptedProvider{
		rateLimit: &RateLimitError{Message: "quota exhausted"},
	}
	p, resultCh := startPipeline(t, testConfig(), provider)

	require.NoError(t, p.EnqueueWindow(testWindow(1, 3, 0)))

	// The rate-limited window degrades to the unclear sentinel without
	// further attempts.
	results := collectResults(t, resultCh, 2)
	assert.Equal(t, UnclearSentinel, results[1].Text)
	assert.Equal(t, 1, provider.callCount())

	// Windows inside the cooldown are skipped without a provider call.
	require.NoError(t, p.EnqueueWindow(testWindow(2, 3, 0)))
	require.Eventually(t, func() bool {
		return p.Snapshot().RateLimitedSkips == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, provider.callCount())
	assert.NotEmpty(t, p.Snapshot().RateLimitedUntil)

	// Once the cooldown elapses, dispatch resumes without intervention.
	require.Eventually(t, func() bool {
		return p.Snapshot().RateLimitedUntil == ""
	}, 2*time.Second, 10*time.Millisecond)
	provider.clearRateLimit()
	provider.payload = Payload{Text: "I need assistance.", Confidence: 0.8}

	require.NoError(t, p.EnqueueWindow(testWindow(3, 3, 0)))
	resumed := collectResults(t, resultCh, 2)
	assert.Equal(t, 2, provider.callCount())
	assert.Equal(t, int64(3), resumed[0].WindowID)
	assert.Equal(t, KindPartial, resumed[0].Kind)
	assert.Equal(t, "I need assistance.", resumed[1].Text)
	assert.Equal(t, int64(1), p.Snapshot().RateLimitedSkips)
}

func TestMinIntervalThrottlesDispatch(t *testing.T) {
	cfg := testConfig()
	cfg.TranslationMinInterval = 500 * time.Millisecond
	provider := &scriptedProvider{
		delay:   300 * time.Millisecond,
		payload: Payload{Text: "Please wait a moment.", Confidence: 0.8},
	}
	p, resultCh := startPipeline(t, cfg, provider)

	require.NoError(t, p.EnqueueWindow(testWindow(1, 3, 0)))
	require.NoError(t, p.EnqueueWindow(testWindow(2, 3, 0)))

	results := collectResults(t, resultCh, 4)
	assert.Equal(t, int64(1), results[0].WindowID)
	assert.Equal(t, int64(2), results[2].WindowID)

	gaps := provider.callGaps()
	require.Len(t, gaps, 1)
	// Measured between dispatch starts: the slow call overlaps the
	// interval instead of extending it.
	assert.GreaterOrEqual(t, gaps[0], 500*time.Millisecond)
	assert.Less(t, gaps[0], 800*time.Millisecond)
}

func TestStopCancelsPendingThrottleWait(t *testing.T) {
	cfg := testConfig()
	cfg.TranslationMinInterval = 10 * time.Second
	provider := &scriptedProvider{payload: Payload{Text: "Thank you for your help.", Confidence: 0.8}}
	p := NewPipeline(cfg, provider)
	resultCh := make(chan Result, 16)
	p.RegisterResultHandler(func(r Result) error {
		resultCh <- r
		return nil
	})
	p.Start()

	require.NoError(t, p.EnqueueWindow(testWindow(1, 3, 0)))
	collectResults(t, resultCh, 2)

	// The second window parks in the throttle wait until Stop cancels it.
	require.NoError(t, p.EnqueueWindow(testWindow(2, 3, 0)))
	require.Eventually(t, func() bool {
		return p.Snapshot().QueueSize == 0
	}, 2*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the pending throttle wait")
	}
	assert.Equal(t, 1, provider.callCount())
}

func TestLowSignalWindowSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.MinFramesWithHands = 3
	provider := &scriptedProvider{payload: Payload{Text: "Please wait a moment.", Confidence: 0.8}}
	p, _ := startPipeline(t, cfg, provider)

	require.NoError(t, p.EnqueueWindow(testWindow(1, 2, 4)))

	require.Eventually(t, func() bool {
		return p.Snapshot().LowSignalSkips == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, provider.callCount())
	assert.Zero(t, p.Snapshot().WindowsProcessed)
}

func TestUnclearCaptionsSuppressed(t *testing.T) {
	cfg := testConfig()
	cfg.EmitUnclearCaptions = false
	provider := &scriptedProvider{payload: Payload{Text: "", Confidence: 0.8}}
	p, resultCh := startPipeline(t, cfg, provider)

	require.NoError(t, p.EnqueueWindow(testWindow(1, 3, 0)))

	require.Eventually(t, func() bool {
		return p.Snapshot().UnclearSuppressed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, resultCh)
	assert.Zero(t, p.Snapshot().PartialEmitted)
}

func TestBuildPartialText(t *testing.T) {
	tests := []struct {
		final string
		want  string
	}{
		{"I understand.", "I understand."},
		{"Please wait here.", "Please wait here."},
		{"Can you help me with directions?", "Can you help me..."},
		{"Where is the nearest exit?", "Where is the..."},
		{"Hello, nice to meet you.", "Hello, nice to..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, buildPartialText(tt.final), "final caption %q", tt.final)
	}
}
