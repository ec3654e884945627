package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signbridge/caption-gateway/internal/config"
	"github.com/signbridge/caption-gateway/internal/pipeline"
	"github.com/signbridge/caption-gateway/internal/translation"
)

func testConfig() *config.Config {
	return &config.Config{
		RealtimeEnabled:         true,
		RealtimeClientQueueSize: 8,
		RealtimeRecentLimit:     100,
		RealtimeMetricsInterval: 20 * time.Millisecond,
		RealtimeAlertCooldown:   10 * time.Second,
	}
}

// chanTransport forwards every delivered event to a channel.
type chanTransport struct {
	ch       chan Event
	failSend bool

	mu     sync.Mutex
	closed bool
}

func newChanTransport() *chanTransport {
	return &chanTransport{ch: make(chan Event, 64)}
}

func (t *chanTransport) Send(event Event) error {
	if t.failSend {
		return errors.New("send failed")
	}
	t.ch <- event
	return nil
}

func (t *chanTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *chanTransport) RemoteAddr() string { return "test-client" }

// blockingTransport stalls Send until released, to back up a client queue.
type blockingTransport struct {
	started chan struct{}
	release chan struct{}

	mu   sync.Mutex
	sent []Event
}

func newBlockingTransport() *blockingTransport {
	return &blockingTransport{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (t *blockingTransport) Send(event Event) error {
	select {
	case t.started <- struct{}{}:
	default:
	}
	<-t.release
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, event)
	return nil
}

func (t *blockingTransport) Close() error { return nil }
func (t *blockingTransport) RemoteAddr() string { return "slow-client" }

func (t *blockingTransport) sentEvents() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.sent...)
}

func waitForEvent(t *testing.T, ch <-chan Event, eventType string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}

func TestPublishFansOutToAllClients(t *testing.T) {
	m := NewManager(testConfig())
	m.Start()
	defer m.Stop()

	first := newChanTransport()
	second := newChanTransport()
	_, err := m.Connect(first)
	require.NoError(t, err)
	_, err = m.Connect(second)
	require.NoError(t, err)

	m.Publish(NewEvent(EventCaptionFinal, map[string]any{"text": "Hello"}))

	for _, transport := range []*chanTransport{first, second} {
		ev := waitForEvent(t, transport.ch, EventCaptionFinal)
		assert.Equal(t, "Hello", ev.Data["text"])
		assert.NotEmpty(t, ev.Timestamp)
	}

	snap := m.Snapshot()
	assert.Equal(t, 2, snap.ConnectedClients)
	assert.Equal(t, int64(1), snap.EventsPublished[EventCaptionFinal])
}

func TestPublishTranslationResultMapsKinds(t *testing.T) {
	m := NewManager(testConfig())
	m.Start()
	defer m.Stop()

	transport := newChanTransport()
	_, err := m.Connect(transport)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, m.PublishTranslationResult(translation.Result{
		WindowID:   7,
		Kind:       translation.KindPartial,
		Text:       "Where is the...",
		Confidence: 0.8,
		CreatedAt:  now,
	}))
	require.NoError(t, m.PublishTranslationResult(translation.Result{
		WindowID:   7,
		Kind:       translation.KindFinal,
		Text:       "Where is the nearest exit?",
		Confidence: 0.8,
		CreatedAt:  now,
	}))

	partial := waitForEvent(t, transport.ch, EventCaptionPartial)
	assert.Equal(t, "Where is the...", partial.Data["text"])
	assert.Equal(t, int64(7), partial.Data["window_id"])

	final := waitForEvent(t, transport.ch, EventCaptionFinal)
	assert.Equal(t, "Where is the nearest exit?", final.Data["text"])
}

func TestSlowClientDropsOldestEvents(t *testing.T) {
	cfg := testConfig()
	cfg.RealtimeClientQueueSize = 2
	m := NewManager(cfg)
	m.Start()

	transport := newBlockingTransport()
	_, err := m.Connect(transport)
	require.NoError(t, err)

	m.Publish(NewEvent(EventCaptionFinal, map[string]any{"seq": 1}))
	select {
	case <-transport.started:
	case <-time.After(2 * time.Second):
		t.Fatal("sender never picked up the first event")
	}

	for seq := 2; seq <= 5; seq++ {
		m.Publish(NewEvent(EventCaptionFinal, map[string]any{"seq": seq}))
	}

	require.Eventually(t, func() bool {
		return m.Snapshot().EventsDropped == 2
	}, 2*time.Second, 10*time.Millisecond)

	close(transport.release)
	require.Eventually(t, func() bool {
		return len(transport.sentEvents()) == 3
	}, 2*time.Second, 10*time.Millisecond)

	var seqs []any
	for _, ev := range transport.sentEvents() {
		seqs = append(seqs, ev.Data["seq"])
	}
	assert.Equal(t, []any{1, 4, 5}, seqs)

	m.Stop()
}

func TestUnhealthyComponentAlertsOnceWithinCooldown(t *testing.T) {
	m := NewManager(testConfig())
	m.SetMetricsProvider(func() map[string]any {
		return map[string]any{
			"ingest": pipeline.StageHealth{
				Enabled:   true,
				Running:   true,
				Healthy:   false,
				LastError: "camera source disconnected",
			},
			"windowing": pipeline.StageHealth{
				Enabled: true,
				Running: true,
				Healthy: true,
			},
		}
	})
	m.Start()
	defer m.Stop()

	transport := newChanTransport()
	_, err := m.Connect(transport)
	require.NoError(t, err)

	alert := waitForEvent(t, transport.ch, EventSystemAlert)
	assert.Equal(t, "warning", alert.Data["severity"])
	assert.Equal(t, "ingest", alert.Data["component"])
	assert.Equal(t, "camera source disconnected", alert.Data["reason"])

	// Several monitor ticks pass; the cooldown suppresses repeats and the
	// healthy stage never alerts.
	alerts := 0
	metricsUpdates := 0
	deadline := time.After(150 * time.Millisecond)
	for done := false; !done; {
		select {
		case ev := <-transport.ch:
			switch ev.Type {
			case EventSystemAlert:
				alerts++
			case EventSystemMetrics:
				metricsUpdates++
			}
		case <-deadline:
			done = true
		}
	}
	assert.Zero(t, alerts)
	assert.GreaterOrEqual(t, metricsUpdates, 2)
}

func TestConnectBeforeStartRejected(t *testing.T) {
	m := NewManager(testConfig())
	_, err := m.Connect(newChanTransport())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestFailingClientIsDisconnected(t *testing.T) {
	m := NewManager(testConfig())
	m.Start()
	defer m.Stop()

	broken := newChanTransport()
	broken.failSend = true
	_, err := m.Connect(broken)
	require.NoError(t, err)

	m.Publish(NewEvent(EventCaptionFinal, map[string]any{"text": "Hello"}))

	require.Eventually(t, func() bool {
		return m.Snapshot().ConnectedClients == 0
	}, 2*time.Second, 10*time.Millisecond)
}
