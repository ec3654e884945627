package windowing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signbridge/caption-gateway/internal/config"
	"github.com/signbridge/caption-gateway/internal/landmarks"
	"github.com/signbridge/caption-gateway/internal/observability"
	"github.com/signbridge/caption-gateway/internal/pipeline"
)

const stageName = "windowing"

// Window is a time slice of landmark results. Frames all fall within
// [WindowStart, WindowEnd) and are sorted ascending by captured time.
type Window struct {
	WindowID    int64              `json:"window_id"`
	WindowStart time.Time          `json:"window_start"`
	WindowEnd   time.Time          `json:"window_end"`
	FrameCount  int                `json:"frame_count"`
	Frames      []landmarks.Result `json:"frames"`
}

// WindowHandler receives every emitted window. Handler errors are logged and
// isolated from other handlers.
type WindowHandler func(window Window) error

// Snapshot is the windowing stage's operational state at a point in time.
type Snapshot struct {
	pipeline.StageHealth
	StartedAt           string  `json:"started_at,omitempty"`
	LandmarksReceived   int64   `json:"landmarks_received"`
	QueueDrops          int64   `json:"queue_drops"`
	WindowsEmitted      int64   `json:"windows_emitted"`
	OutOfOrderCount     int64   `json:"out_of_order_count"`
	LastWindowEmittedAt string  `json:"last_window_emitted_at,omitempty"`
	QueueSize           int     `json:"queue_size"`
	BufferSize          int     `json:"buffer_size"`
	NextWindowStart     string  `json:"next_window_start,omitempty"`
	WindowDuration      float64 `json:"window_duration_seconds"`
	WindowSlide         float64 `json:"window_slide_seconds"`
	RecentWindowsCount  int     `json:"recent_windows_count"`
}

// Pipeline groups a mostly-but-not-guaranteed time-ordered stream of landmark
// results into overlapping fixed-duration windows.
type Pipeline struct {
	cfg    *config.Config
	logger zerolog.Logger
	queue  *pipeline.Queue[landmarks.Result]
	recent *pipeline.Ring[Window]

	duration time.Duration
	slide    time.Duration

	mu                sync.Mutex
	running           bool
	cancel            context.CancelFunc
	done              chan struct{}
	handlers          []WindowHandler
	buffer            []landmarks.Result
	nextWindowStart   time.Time
	windowID          int64
	startedAt         time.Time
	healthy           bool
	landmarksReceived int64
	queueDrops        int64
	windowsEmitted    int64
	outOfOrderCount   int64
	lastEmittedAt     time.Time
	lastError         string
}

// NewPipeline creates the windowing stage.
func NewPipeline(cfg *config.Config) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		logger:   observability.ComponentLogger(stageName),
		queue:    pipeline.NewQueue[landmarks.Result](cfg.WindowQueueSize, pipeline.DropNew),
		recent:   pipeline.NewRing[Window](cfg.WindowRecentLimit),
		duration: cfg.WindowDuration,
		slide:    cfg.WindowSlide,
	}
}

// RegisterWindowHandler adds a downstream window handler. Not safe to call
// after Start.
func (p *Pipeline) RegisterWindowHandler(handler WindowHandler) {
	p.handlers = append(p.handlers, handler)
}

// Start launches the consumer loop. No-op when disabled or already running.
func (p *Pipeline) Start() {
	if !p.cfg.WindowingEnabled {
		p.logger.Info().Msg("windowing pipeline disabled by configuration")
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
		Dur("window_duration", p.duration).
		Dur("window_slide", p.slide).
		Msg("windowing pipeline started")

	go p.run(ctx)
}

// Stop cancels the consumer loop, waits for it to unwind, and resets the
// event-time buffer.
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
	p.buffer = nil
	p.nextWindowStart = time.Time{}
	p.mu.Unlock()

	p.queue.Drain()
}

// EnqueueLandmarkResult offers a result to the stage without blocking. On a
// full queue the result is dropped and counted.
func (p *Pipeline) EnqueueLandmarkResult(result landmarks.Result) error {
	if !p.cfg.WindowingEnabled {
		return nil
	}

	accepted, dropped := p.queue.TryPush(result)
	p.mu.Lock()
	if accepted {
		p.landmarksReceived++
	} else {
		p.queueDrops += int64(dropped)
		p.lastError = "windowing queue full"
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
			Enabled:   p.cfg.WindowingEnabled,
			Running:   p.running,
			Healthy:   p.healthy,
			LastError: p.lastError,
		},
		LandmarksReceived:  p.landmarksReceived,
		QueueDrops:         p.queueDrops,
		WindowsEmitted:     p.windowsEmitted,
		OutOfOrderCount:    p.outOfOrderCount,
		QueueSize:          p.queue.Len(),
		BufferSize:         len(p.buffer),
		WindowDuration:     p.duration.Seconds(),
		WindowSlide:        p.slide.Seconds(),
		RecentWindowsCount: p.recent.Len(),
	}
	if !p.startedAt.IsZero() {
		snap.StartedAt = p.startedAt.Format(time.RFC3339Nano)
	}
	if !p.lastEmittedAt.IsZero() {
		snap.LastWindowEmittedAt = p.lastEmittedAt.Format(time.RFC3339Nano)
	}
	if !p.nextWindowStart.IsZero() {
		snap.NextWindowStart = p.nextWindowStart.Format(time.RFC3339Nano)
	}
	return snap
}

// RecentWindows returns up to limit windows, newest first.
func (p *Pipeline) RecentWindows(limit int) []Window {
	return p.recent.Recent(limit)
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	for {
		result, ok := p.queue.Pop(ctx)
		if !ok {
			return
		}
		p.processResult(result)
	}
}

func (p *Pipeline) processResult(result landmarks.Result) {
	p.mu.Lock()
	if len(p.buffer) > 0 && result.CapturedAt.Before(p.buffer[len(p.buffer)-1].CapturedAt) {
		p.outOfOrderCount++
		observability.RecordOutOfOrder()
	}

	p.buffer = append(p.buffer, result)
	if p.nextWindowStart.IsZero() {
		p.nextWindowStart = result.CapturedAt
	}

	ready := p.collectReadyWindows()
	handlers := p.handlers
	p.mu.Unlock()

	for _, window := range ready {
		p.recent.Append(window)
		observability.RecordWindowEmitted()

		for _, handler := range handlers {
			if err := handler(window); err != nil {
				p.logger.Error().
					Err(err).
					Int64("window_id", window.WindowID).
					Msg("window handler error")
			}
		}

		p.mu.Lock()
		p.windowsEmitted++
		p.lastEmittedAt = time.Now().UTC()
		p.healthy = true
		p.lastError = ""
		p.mu.Unlock()
	}
}

// collectReadyWindows advances next_window_start as far as the newest
// arrival allows, materializing every closed window along the way. Called
// with p.mu held. The loop may fire zero, one, or many times per append,
// catching up if consumption lagged.
func (p *Pipeline) collectReadyWindows() []Window {
	var ready []Window
	newest := p.buffer[len(p.buffer)-1].CapturedAt

	for !newest.Before(p.nextWindowStart.Add(p.duration)) {
		start := p.nextWindowStart
		end := start.Add(p.duration)

		var frames []landmarks.Result
		for _, item := range p.buffer {
			if !item.CapturedAt.Before(start) && item.CapturedAt.Before(end) {
				frames = append(frames, item)
			}
		}
		sort.SliceStable(frames, func(i, j int) bool {
			return frames[i].CapturedAt.Before(frames[j].CapturedAt)
		})

		if len(frames) > 0 {
			p.windowID++
			ready = append(ready, Window{
				WindowID:    p.windowID,
				WindowStart: start,
				WindowEnd:   end,
				FrameCount:  len(frames),
				Frames:      frames,
			})
		}

		// Retention floor is slide-relative so overlapping windows still
		// share the tail of the buffer before eviction. The buffer is in
		// arrival order, so a full pass is needed to catch stragglers that
		// arrived behind newer items.
		cutoff := start.Add(-p.slide)
		kept := p.buffer[:0]
		for _, item := range p.buffer {
			if !item.CapturedAt.Before(cutoff) {
				kept = append(kept, item)
			}
		}
		p.buffer = kept

		p.nextWindowStart = p.nextWindowStart.Add(p.slide)
	}

	return ready
}
