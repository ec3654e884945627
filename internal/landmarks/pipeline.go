package landmarks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signbridge/caption-gateway/internal/config"
	"github.com/signbridge/caption-gateway/internal/observability"
	"github.com/signbridge/caption-gateway/internal/pipeline"
	"github.com/signbridge/caption-gateway/internal/source"
)

const stageName = "landmarks"

// ResultHandler receives every extraction result. Handler errors are logged
// and isolated from other handlers.
type ResultHandler func(result Result) error

// Snapshot is the landmark stage's operational state at a point in time.
type Snapshot struct {
	pipeline.StageHealth
	Mode                string  `json:"mode"`
	ExtractorName       string  `json:"extractor_name"`
	StartedAt           string  `json:"started_at,omitempty"`
	FramesEnqueued      int64   `json:"frames_enqueued"`
	QueueDrops          int64   `json:"queue_drops"`
	FramesProcessed     int64   `json:"frames_processed"`
	FramesWithHands     int64   `json:"frames_with_hands"`
	AverageProcessingMS float64 `json:"average_processing_ms"`
	LastProcessingMS    float64 `json:"last_processing_ms"`
	LastFrameID         int64   `json:"last_frame_id"`
	LastResultAt        string  `json:"last_result_at,omitempty"`
	QueueSize           int     `json:"queue_size"`
	RecentResultsCount  int     `json:"recent_results_count"`
}

// Pipeline drains a bounded frame queue and runs the injected extractor once
// per frame, recording per-frame results and metrics.
type Pipeline struct {
	cfg       *config.Config
	logger    zerolog.Logger
	extractor Extractor
	queue     *pipeline.Queue[source.FramePacket]
	recent    *pipeline.Ring[Result]

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	done            chan struct{}
	handlers        []ResultHandler
	startedAt       time.Time
	healthy         bool
	framesEnqueued  int64
	queueDrops      int64
	framesProcessed int64
	framesWithHands int64
	avgProcessingMS float64
	lastProcessing  float64
	lastFrameID     int64
	lastResultAt    time.Time
	lastError       string
}

// NewPipeline creates the landmark stage around an injected extractor.
func NewPipeline(cfg *config.Config, extractor Extractor) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		logger:    observability.ComponentLogger(stageName),
		extractor: extractor,
		queue:     pipeline.NewQueue[source.FramePacket](cfg.LandmarkQueueSize, pipeline.DropNew),
		recent:    pipeline.NewRing[Result](cfg.LandmarkRecentLimit),
	}
}

// RegisterResultHandler adds a downstream result handler. Not safe to call
// after Start.
func (p *Pipeline) RegisterResultHandler(handler ResultHandler) {
	p.handlers = append(p.handlers, handler)
}

// Start launches the consumer loop. No-op when disabled or already running.
func (p *Pipeline) Start() {
	if !p.cfg.LandmarkEnabled {
		p.logger.Info().Msg("landmark pipeline disabled by configuration")
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
		Str("landmark_mode", p.cfg.LandmarkMode).
		Str("extractor_name", p.extractor.Name()).
		Msg("landmark pipeline started")

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

// EnqueueFrame offers a frame to the stage without blocking. On a full queue
// the frame is dropped and counted.
func (p *Pipeline) EnqueueFrame(frame source.FramePacket) error {
	if !p.cfg.LandmarkEnabled {
		return nil
	}

	accepted, dropped := p.queue.TryPush(frame)
	p.mu.Lock()
	if accepted {
		p.framesEnqueued++
	} else {
		p.queueDrops += int64(dropped)
		p.lastError = "landmark queue full"
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
			Enabled:   p.cfg.LandmarkEnabled,
			Running:   p.running,
			Healthy:   p.healthy,
			LastError: p.lastError,
		},
		Mode:                p.cfg.LandmarkMode,
		ExtractorName:       p.extractor.Name(),
		FramesEnqueued:      p.framesEnqueued,
		QueueDrops:          p.queueDrops,
		FramesProcessed:     p.framesProcessed,
		FramesWithHands:     p.framesWithHands,
		AverageProcessingMS: p.avgProcessingMS,
		LastProcessingMS:    p.lastProcessing,
		LastFrameID:         p.lastFrameID,
		QueueSize:           p.queue.Len(),
		RecentResultsCount:  p.recent.Len(),
	}
	if !p.startedAt.IsZero() {
		snap.StartedAt = p.startedAt.Format(time.RFC3339Nano)
	}
	if !p.lastResultAt.IsZero() {
		snap.LastResultAt = p.lastResultAt.Format(time.RFC3339Nano)
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
		frame, ok := p.queue.Pop(ctx)
		if !ok {
			return
		}
		p.processFrame(ctx, frame)
	}
}

func (p *Pipeline) processFrame(ctx context.Context, frame source.FramePacket) {
	started := time.Now()
	processedAt := started.UTC()

	hands, err := p.extractor.Extract(ctx, frame)
	processingMS := float64(time.Since(started).Microseconds()) / 1000.0

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Per-item failure: record and keep consuming.
		p.mu.Lock()
		p.lastError = err.Error()
		p.healthy = false
		p.mu.Unlock()

		observability.RecordExtraction(processingMS/1000.0, false)
		p.logger.Error().
			Err(err).
			Int64("frame_id", frame.FrameID).
			Msg("landmark extraction error")
		return
	}

	result := Result{
		FrameID:      frame.FrameID,
		SourceName:   frame.SourceName,
		CapturedAt:   frame.CapturedAt,
		ProcessedAt:  processedAt,
		ProcessingMS: processingMS,
		Hands:        hands,
	}
	if p.cfg.LandmarkKeepFramePayload {
		result.FramePayload = frame.Payload
	}
	p.recent.Append(result)

	p.mu.Lock()
	previousCount := p.framesProcessed
	previousAvg := p.avgProcessingMS
	p.framesProcessed++
	p.lastFrameID = frame.FrameID
	p.lastResultAt = processedAt
	p.lastProcessing = processingMS
	p.healthy = true
	p.lastError = ""
	if len(hands) > 0 {
		p.framesWithHands++
	}
	p.avgProcessingMS = (previousAvg*float64(previousCount) + processingMS) / float64(previousCount+1)
	handlers := p.handlers
	p.mu.Unlock()

	observability.RecordExtraction(processingMS/1000.0, true)
	observability.RecordQueueDepth(stageName, p.queue.Len())

	for _, handler := range handlers {
		if err := handler(result); err != nil {
			p.logger.Error().
				Err(err).
				Int64("frame_id", frame.FrameID).
				Msg("landmark result handler error")
		}
	}
}
