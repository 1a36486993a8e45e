// Package health tracks per-camera stream failures: consecutive fetch
// failures feed an exponential backoff between grabber restart attempts,
// and a bounded failure count marks the stream failed in the datastore.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/events"
	"github.com/technosupport/ts-monitor/internal/metrics"
)

// DefaultMaxFailures is the consecutive-failure count after which a stream
// is marked failed and monitoring gives up.
const DefaultMaxFailures = 5

// retryDelays is the backoff curve between restart attempts.
var retryDelays = []time.Duration{60 * time.Second, 120 * time.Second, 300 * time.Second}

type streamState struct {
	failures  int
	nextRetry time.Time
	failed    bool
}

// StreamTracker is shared by all camera monitors. Safe for concurrent use.
type StreamTracker struct {
	cameras     data.CameraRepository
	eventStore  data.EventRepository
	bus         *events.Bus
	maxFailures int

	mu     sync.Mutex
	states map[string]*streamState

	now func() time.Time
}

func NewStreamTracker(cameras data.CameraRepository, eventStore data.EventRepository, bus *events.Bus, maxFailures int) *StreamTracker {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	return &StreamTracker{
		cameras:     cameras,
		eventStore:  eventStore,
		bus:         bus,
		maxFailures: maxFailures,
		states:      make(map[string]*streamState),
		now:         time.Now,
	}
}

// RecordFailure notes one failed restart attempt. Returns true when the
// failure budget is exhausted; the caller is expected to stop monitoring.
// Exhaustion marks the stream failed in the datastore and emits a critical
// stream_failed event.
func (t *StreamTracker) RecordFailure(ctx context.Context, cam *data.Camera) bool {
	metrics.StreamFailures.WithLabelValues("fetch").Inc()

	t.mu.Lock()
	st := t.state(cam.ID)
	st.failures++
	st.nextRetry = t.now().Add(retryDelay(st.failures))
	exhausted := st.failures >= t.maxFailures && !st.failed
	if exhausted {
		st.failed = true
	}
	failures := st.failures
	t.mu.Unlock()

	if !exhausted {
		log.Printf("[WARN] StreamHealth (%s): fetch failure %d/%d", cam.ID, failures, t.maxFailures)
		return false
	}

	log.Printf("[ERROR] StreamHealth (%s): %d consecutive failures, marking stream failed", cam.ID, failures)
	if err := t.cameras.SetStreamStatus(ctx, cam.ID, data.StreamStatusFailed); err != nil {
		log.Printf("[ERROR] StreamHealth (%s): marking stream failed: %v", cam.ID, err)
	}
	t.persistFailure(ctx, cam, failures)
	t.bus.Publish(&events.Event{
		Type:           events.TypeStreamFailed,
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Severity:       data.SeverityCritical,
		Description:    fmt.Sprintf("Stream failed after %d consecutive fetch failures", failures),
		OccurredAt:     t.now(),
	})
	return true
}

// RecordSuccess resets the failure count. A stream previously marked failed
// is restored to ok in the datastore.
func (t *StreamTracker) RecordSuccess(ctx context.Context, cam *data.Camera) {
	t.mu.Lock()
	st := t.state(cam.ID)
	wasFailed := st.failed
	hadFailures := st.failures > 0
	st.failures = 0
	st.nextRetry = time.Time{}
	st.failed = false
	t.mu.Unlock()

	if !hadFailures && !wasFailed {
		return
	}
	if wasFailed {
		if err := t.cameras.SetStreamStatus(ctx, cam.ID, data.StreamStatusOK); err != nil {
			log.Printf("[ERROR] StreamHealth (%s): restoring stream status: %v", cam.ID, err)
		}
	}
}

// Reset clears all state for a camera. Called on manual startMonitoring so a
// fresh start gets the full failure budget.
func (t *StreamTracker) Reset(cameraID string) {
	t.mu.Lock()
	delete(t.states, cameraID)
	t.mu.Unlock()
}

// CanRetry reports whether the backoff window for the camera has elapsed.
func (t *StreamTracker) CanRetry(cameraID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[cameraID]
	if !ok {
		return true
	}
	return !t.now().Before(st.nextRetry)
}

// Failures returns the current consecutive failure count.
func (t *StreamTracker) Failures(cameraID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[cameraID]
	if !ok {
		return 0
	}
	return st.failures
}

// state returns the entry for cameraID. Callers hold t.mu.
func (t *StreamTracker) state(cameraID string) *streamState {
	st, ok := t.states[cameraID]
	if !ok {
		st = &streamState{}
		t.states[cameraID] = st
	}
	return st
}

func (t *StreamTracker) persistFailure(ctx context.Context, cam *data.Camera, failures int) {
	meta, _ := json.Marshal(map[string]any{"consecutive_failures": failures})
	evt := &data.Event{
		ID:             uuid.NewString(),
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Type:           events.TypeStreamFailed,
		Severity:       data.SeverityCritical,
		Description:    fmt.Sprintf("Stream failed after %d consecutive fetch failures", failures),
		Metadata:       meta,
		CreatedAt:      t.now(),
	}
	if err := t.eventStore.CreateEvent(ctx, evt); err != nil {
		log.Printf("[ERROR] StreamHealth (%s): persisting event: %v", cam.ID, err)
	}
}

func retryDelay(failures int) time.Duration {
	idx := failures - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	return retryDelays[idx]
}
