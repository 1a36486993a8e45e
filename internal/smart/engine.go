// Package smart implements the per-camera rule engine: independent feature
// state machines with cross-frame memory and cooldown-limited alerting.
package smart

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/detect"
	"github.com/technosupport/ts-monitor/internal/events"
	"github.com/technosupport/ts-monitor/internal/metrics"
)

const (
	// AlertCooldown is the minimum spacing between two alerts of the same
	// feature+camera pair, measured from the last alert.
	AlertCooldown = 5 * time.Minute

	// configCacheTTL bounds how stale a camera's feature config may be.
	// A cache miss triggers a synchronous reload.
	configCacheTTL = 30 * time.Second

	configCacheSize = 1024
)

// Input is one evaluation's worth of context for a camera.
type Input struct {
	Camera     *data.Camera
	Detections []detect.Detection
	// Loitering is supplied by the behavior analyzer.
	Loitering bool
	// Brightness is the frame's average grayscale value (0-255).
	Brightness    float64
	HasBrightness bool
}

// EventStore persists the typed mirror of an alert. data.EventModel
// implements it.
type EventStore interface {
	CreateEvent(ctx context.Context, e *data.Event) error
}

// Engine evaluates smart features per camera. Alert emission is best-effort:
// a slow or failing bus consumer never propagates back into detection
// processing.
type Engine struct {
	repo       data.SmartFeatureRepository
	eventStore EventStore
	bus        *events.Bus

	cfgCache *expirable.LRU[string, []*data.SmartFeature]

	mu     sync.Mutex
	states map[string]*cameraState

	now func() time.Time
}

func NewEngine(repo data.SmartFeatureRepository, eventStore EventStore, bus *events.Bus) *Engine {
	return &Engine{
		repo:       repo,
		eventStore: eventStore,
		bus:        bus,
		cfgCache:   expirable.NewLRU[string, []*data.SmartFeature](configCacheSize, nil, configCacheTTL),
		states:     make(map[string]*cameraState),
		now:        time.Now,
	}
}

// InitCamera creates fresh sub-state for a camera. Called when monitoring
// starts; must be paired with CleanupCamera.
func (e *Engine) InitCamera(cameraID string) {
	e.mu.Lock()
	e.states[cameraID] = newCameraState()
	e.mu.Unlock()
}

// CleanupCamera drops all sub-state and cached config for a camera.
func (e *Engine) CleanupCamera(cameraID string) {
	e.mu.Lock()
	delete(e.states, cameraID)
	e.mu.Unlock()
	e.cfgCache.Remove(cameraID)
}

func (e *Engine) state(cameraID string) *cameraState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[cameraID]
	if !ok {
		st = newCameraState()
		e.states[cameraID] = st
	}
	return st
}

// Evaluate runs every enabled feature for the camera against the input.
// Side-effecting only; errors are logged and swallowed so callers can treat
// evaluation as fire-and-forget.
func (e *Engine) Evaluate(ctx context.Context, in Input) {
	if in.Camera == nil {
		return
	}
	features, err := e.featuresFor(ctx, in.Camera.ID)
	if err != nil {
		log.Printf("[ERROR] SmartFeatures (%s): loading config: %v", in.Camera.ID, err)
		return
	}
	if len(features) == 0 {
		return
	}

	st := e.state(in.Camera.ID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := e.now()
	for _, f := range features {
		switch f.FeatureType {
		case data.FeatureQueueMonitor:
			e.evalQueue(st, f, in, now)
		case data.FeatureWorkstationMonitor:
			e.evalWorkstation(st, f, in, now)
		case data.FeatureLoitering:
			e.evalLoitering(st, f, in, now)
		case data.FeatureAbandonedObject:
			e.evalAbandoned(st, f, in, now)
		case data.FeatureFallDetection:
			e.evalFall(st, f, in, now)
		case data.FeatureTamperDetection:
			e.evalTamper(st, f, in, now)
		}
	}
}

func (e *Engine) featuresFor(ctx context.Context, cameraID string) ([]*data.SmartFeature, error) {
	if cached, ok := e.cfgCache.Get(cameraID); ok {
		return cached, nil
	}
	features, err := e.repo.ListEnabled(ctx, cameraID)
	if err != nil {
		return nil, err
	}
	e.cfgCache.Add(cameraID, features)
	return features, nil
}

// inCooldown reports whether the feature+camera pair alerted within the
// cooldown window. Callers hold st.mu.
func (st *cameraState) inCooldown(featureType string, now time.Time) bool {
	last, ok := st.lastAlert[featureType]
	return ok && now.Sub(last) < AlertCooldown
}

// emit publishes a SmartAlert on the bus and mirrors it as a typed,
// persisted camera event. Records the cooldown stamp. Callers hold st.mu and
// have already checked the cooldown where applicable.
func (e *Engine) emit(st *cameraState, f *data.SmartFeature, in Input, severity, message string, eventType string, meta map[string]any, now time.Time) {
	st.lastAlert[f.FeatureType] = now
	metrics.SmartAlertsTotal.WithLabelValues(f.FeatureType).Inc()

	integration := ""
	if f.IntegrationID != nil {
		integration = *f.IntegrationID
	}
	alert := &events.SmartAlert{
		FeatureType:    f.FeatureType,
		CameraID:       in.Camera.ID,
		CameraName:     in.Camera.Name,
		OrganizationID: in.Camera.OrganizationID,
		BranchID:       in.Camera.BranchID,
		IntegrationID:  integration,
		Severity:       severity,
		Message:        message,
		Metadata:       meta,
		OccurredAt:     now,
	}

	e.bus.Publish(&events.Event{
		Type:           events.TypeSmartAlert,
		CameraID:       in.Camera.ID,
		OrganizationID: in.Camera.OrganizationID,
		BranchID:       in.Camera.BranchID,
		Severity:       severity,
		Description:    message,
		OccurredAt:     now,
		Payload:        map[string]any{"alert": alert},
	})
	if eventType != "" && eventType != events.TypeSmartAlert {
		e.bus.Publish(&events.Event{
			Type:           eventType,
			CameraID:       in.Camera.ID,
			OrganizationID: in.Camera.OrganizationID,
			BranchID:       in.Camera.BranchID,
			Severity:       severity,
			Description:    message,
			OccurredAt:     now,
			Payload:        meta,
		})
		e.persistEvent(in.Camera, eventType, severity, message, meta, now)
	}
}

// persistEvent records the typed mirror. A fresh context: the alert is
// recorded even when the originating poll tick is being torn down.
func (e *Engine) persistEvent(cam *data.Camera, eventType, severity, message string, meta map[string]any, now time.Time) {
	if e.eventStore == nil {
		return
	}
	raw, _ := json.Marshal(meta)
	evt := &data.Event{
		ID:             uuid.NewString(),
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Type:           eventType,
		Severity:       severity,
		Description:    message,
		Metadata:       raw,
		CreatedAt:      now,
	}
	if err := e.eventStore.CreateEvent(context.Background(), evt); err != nil {
		log.Printf("[ERROR] SmartFeatures (%s): persisting %s event: %v", cam.ID, eventType, err)
	}
}

func countPersons(detections []detect.Detection) int {
	n := 0
	for _, d := range detections {
		if d.IsPerson() {
			n++
		}
	}
	return n
}
