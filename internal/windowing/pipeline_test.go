package windowing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signbridge/caption-gateway/internal/config"
	"github.com/signbridge/caption-gateway/internal/landmarks"
)

func testConfig() *config.Config {
	return &config.Config{
		WindowingEnabled:  true,
		WindowDuration:    time.Second,
		WindowSlide:       500 * time.Millisecond,
		WindowQueueSize:   64,
		WindowRecentLimit: 10,
	}
}

func result(frameID int64, capturedAt time.Time) landmarks.Result {
	return landmarks.Result{
		FrameID:    frameID,
		SourceName: "test-camera",
		CapturedAt: capturedAt,
	}
}

func collectWindows(t *testing.T, ch <-chan Window, n int) []Window {
	t.Helper()
	var windows []Window
	for len(windows) < n {
		select {
		case w := <-ch:
			windows = append(windows, w)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for window %d of %d", len(windows)+1, n)
		}
	}
	return windows
}

func TestWindowContainmentAndCadence(t *testing.T) {
	p := NewPipeline(testConfig())
	windowCh := make(chan Window, 16)
	p.RegisterWindowHandler(func(w Window) error {
		windowCh <- w
		return nil
	})
	p.Start()
	defer p.Stop()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i <= 6; i++ {
		offset := time.Duration(i) * 250 * time.Millisecond
		require.NoError(t, p.EnqueueLandmarkResult(result(int64(i), base.Add(offset))))
	}

	windows := collectWindows(t, windowCh, 2)

	first := windows[0]
	assert.Equal(t, int64(1), first.WindowID)
	assert.Equal(t, base, first.WindowStart)
	assert.Equal(t, base.Add(time.Second), first.WindowEnd)
	assert.Equal(t, 4, first.FrameCount)
	for _, frame := range first.Frames {
		assert.False(t, frame.CapturedAt.Before(first.WindowStart))
		assert.True(t, frame.CapturedAt.Before(first.WindowEnd))
	}

	second := windows[1]
	assert.Equal(t, int64(2), second.WindowID)
	assert.Equal(t, base.Add(500*time.Millisecond), second.WindowStart)
	assert.Equal(t, 4, second.FrameCount)

	// Overlap: frames in [second.start, first.end) appear in both windows.
	assert.Equal(t, first.Frames[2].FrameID, second.Frames[0].FrameID)
}

func TestWindowFramesSortedByCapturedAt(t *testing.T) {
	p := NewPipeline(testConfig())
	windowCh := make(chan Window, 4)
	p.RegisterWindowHandler(func(w Window) error {
		windowCh <- w
		return nil
	})
	p.Start()
	defer p.Stop()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.EnqueueLandmarkResult(result(1, base)))
	require.NoError(t, p.EnqueueLandmarkResult(result(2, base.Add(600*time.Millisecond))))
	require.NoError(t, p.EnqueueLandmarkResult(result(3, base.Add(300*time.Millisecond))))
	require.NoError(t, p.EnqueueLandmarkResult(result(4, base.Add(1100*time.Millisecond))))

	windows := collectWindows(t, windowCh, 1)
	w := windows[0]
	require.Equal(t, 3, w.FrameCount)
	for i := 1; i < len(w.Frames); i++ {
		assert.False(t, w.Frames[i].CapturedAt.Before(w.Frames[i-1].CapturedAt))
	}
}

func TestOutOfOrderArrivalCountedOnce(t *testing.T) {
	p := NewPipeline(testConfig())
	p.Start()
	defer p.Stop()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.EnqueueLandmarkResult(result(1, base)))
	require.NoError(t, p.EnqueueLandmarkResult(result(2, base.Add(100*time.Millisecond))))
	require.NoError(t, p.EnqueueLandmarkResult(result(3, base.Add(99*time.Millisecond))))
	require.NoError(t, p.EnqueueLandmarkResult(result(4, base.Add(200*time.Millisecond))))

	require.Eventually(t, func() bool {
		return p.Snapshot().LandmarksReceived == 4 && p.Snapshot().QueueSize == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), p.Snapshot().OutOfOrderCount)
}

func TestEmptyWindowsEmitNothingButAdvance(t *testing.T) {
	cfg := testConfig()
	cfg.WindowSlide = time.Second
	p := NewPipeline(cfg)
	windowCh := make(chan Window, 8)
	p.RegisterWindowHandler(func(w Window) error {
		windowCh <- w
		return nil
	})
	p.Start()
	defer p.Stop()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.EnqueueLandmarkResult(result(1, base)))
	require.NoError(t, p.EnqueueLandmarkResult(result(2, base.Add(3*time.Second))))
	require.NoError(t, p.EnqueueLandmarkResult(result(3, base.Add(4*time.Second))))

	windows := collectWindows(t, windowCh, 2)

	assert.Equal(t, int64(1), windows[0].WindowID)
	assert.Equal(t, base, windows[0].WindowStart)

	// Two empty slots were crossed without consuming window ids.
	assert.Equal(t, int64(2), windows[1].WindowID)
	assert.Equal(t, base.Add(3*time.Second), windows[1].WindowStart)
}

func TestEvictionRemovesStragglersBehindNewerArrivals(t *testing.T) {
	p := NewPipeline(testConfig())
	p.Start()
	defer p.Stop()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.EnqueueLandmarkResult(result(1, base.Add(900*time.Millisecond))))
	// Arrives after the newer frame, so it sits behind it in the buffer.
	require.NoError(t, p.EnqueueLandmarkResult(result(2, base.Add(100*time.Millisecond))))
	require.NoError(t, p.EnqueueLandmarkResult(result(3, base.Add(2*time.Second))))

	// The window [0.9s, 1.9s) closes with a retention floor of 0.4s, which
	// must evict the 0.1s straggler despite its buffer position.
	require.Eventually(t, func() bool {
		return p.Snapshot().WindowsEmitted == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := p.Snapshot()
	assert.Equal(t, int64(1), snap.OutOfOrderCount)
	assert.Equal(t, 2, snap.BufferSize)
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.WindowQueueSize = 2
	p := NewPipeline(cfg)
	// Never started, so the queue only fills.

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, p.EnqueueLandmarkResult(result(int64(i), base)))
	}

	snap := p.Snapshot()
	assert.Equal(t, int64(2), snap.LandmarksReceived)
	assert.Equal(t, int64(3), snap.QueueDrops)
	assert.Equal(t, "windowing queue full", snap.LastError)
}
