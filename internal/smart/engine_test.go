package smart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/detect"
	"github.com/technosupport/ts-monitor/internal/events"
)

type stubFeatureRepo struct {
	features []*data.SmartFeature
	calls    int
}

func (r *stubFeatureRepo) ListEnabled(ctx context.Context, cameraID string) ([]*data.SmartFeature, error) {
	r.calls++
	return r.features, nil
}

type stubEventStore struct {
	mu      sync.Mutex
	created []*data.Event
}

func (s *stubEventStore) CreateEvent(ctx context.Context, e *data.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, e)
	return nil
}

func (s *stubEventStore) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.created))
	for _, e := range s.created {
		out = append(out, e.Type)
	}
	return out
}

func testCamera() *data.Camera {
	return &data.Camera{
		ID:             "cam-1",
		OrganizationID: "org-1",
		BranchID:       "branch-1",
		Name:           "Front Door",
	}
}

// testEngine returns an engine with a controllable clock and a channel
// collecting every published event.
func testEngine(t *testing.T, features ...*data.SmartFeature) (*Engine, *time.Time, <-chan *events.Event) {
	t.Helper()
	bus := events.NewBus()
	ch, unsub := bus.SubscribeChannel(64)
	t.Cleanup(unsub)

	repo := &stubFeatureRepo{features: features}
	eng := NewEngine(repo, &stubEventStore{}, bus)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return now }
	return eng, &now, ch
}

func drain(ch <-chan *events.Event) []*events.Event {
	var out []*events.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func persons(n int) []detect.Detection {
	out := make([]detect.Detection, n)
	for i := range out {
		out[i] = detect.Detection{
			Label: "person",
			BBox:  detect.BBox{X: float64(i) * 0.2, Y: 0.3, Width: 0.1, Height: 0.3},
		}
	}
	return out
}

func TestQueueMonitorAlertsAndCooldown(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureQueueMonitor,
		Queue:       &data.QueueConfig{MaxQueueLength: 3},
	}
	eng, now, ch := testEngine(t, feature)
	cam := testCamera()

	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: persons(3)})
	assert.Empty(t, drain(ch), "at the limit is not over the limit")

	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: persons(4)})
	got := drain(ch)
	if assert.Len(t, got, 1) {
		assert.Equal(t, events.TypeSmartAlert, got[0].Type)
		assert.Equal(t, data.SeverityWarning, got[0].Severity)
	}

	// Still over the limit, but inside the cooldown window.
	*now = now.Add(time.Minute)
	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: persons(5)})
	assert.Empty(t, drain(ch))

	// Past the cooldown the alert fires again.
	*now = now.Add(AlertCooldown)
	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: persons(5)})
	assert.Len(t, drain(ch), 1)
}

func TestQueueMonitorCriticalAtDoubleMax(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureQueueMonitor,
		Queue:       &data.QueueConfig{MaxQueueLength: 2},
	}
	eng, _, ch := testEngine(t, feature)

	eng.Evaluate(context.Background(), Input{Camera: testCamera(), Detections: persons(5)})
	got := drain(ch)
	if assert.Len(t, got, 1) {
		assert.Equal(t, data.SeverityCritical, got[0].Severity)
	}
}

func TestWorkstationAlertsOncePerEpisode(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureWorkstationMonitor,
		Workstation: &data.WorkstationConfig{MinStaff: 1, AbsenceSeconds: 60},
	}
	eng, now, ch := testEngine(t, feature)
	cam := testCamera()

	// Absence starts the timer but does not alert immediately.
	eng.Evaluate(context.Background(), Input{Camera: cam})
	assert.Empty(t, drain(ch))

	*now = now.Add(61 * time.Second)
	eng.Evaluate(context.Background(), Input{Camera: cam})
	assert.Len(t, drain(ch), 1)

	// Same episode, well past the cooldown: still no second alert.
	*now = now.Add(AlertCooldown + time.Minute)
	eng.Evaluate(context.Background(), Input{Camera: cam})
	assert.Empty(t, drain(ch))

	// Staff returns, episode resets, a new absence alerts again.
	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: persons(1)})
	eng.Evaluate(context.Background(), Input{Camera: cam})
	*now = now.Add(61 * time.Second)
	eng.Evaluate(context.Background(), Input{Camera: cam})
	assert.Len(t, drain(ch), 1)
}

func TestLoiteringMirrorsBehaviorAlert(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureLoitering,
		Loitering:   &data.LoiteringConfig{DurationSeconds: 30},
	}
	eng, now, ch := testEngine(t, feature)
	cam := testCamera()

	eng.Evaluate(context.Background(), Input{Camera: cam, Loitering: true})
	*now = now.Add(31 * time.Second)
	eng.Evaluate(context.Background(), Input{Camera: cam, Loitering: true})

	got := drain(ch)
	if assert.Len(t, got, 2) {
		assert.Equal(t, events.TypeSmartAlert, got[0].Type)
		assert.Equal(t, events.TypeBehaviorAlert, got[1].Type)
	}
	store := eng.eventStore.(*stubEventStore)
	assert.Equal(t, []string{events.TypeBehaviorAlert}, store.types())
}

func TestAbandonedObjectAlertsAfterDuration(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureAbandonedObject,
		Abandoned:   &data.AbandonedConfig{DurationSeconds: 120},
	}
	eng, now, ch := testEngine(t, feature)
	cam := testCamera()

	bag := detect.Detection{
		Label: "backpack",
		BBox:  detect.BBox{X: 0.4, Y: 0.5, Width: 0.1, Height: 0.1},
	}
	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: []detect.Detection{bag}})
	assert.Empty(t, drain(ch))

	// Drifts slightly; still matched as the same object.
	*now = now.Add(121 * time.Second)
	bag.BBox.X = 0.42
	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: []detect.Detection{bag}})
	got := drain(ch)
	if assert.Len(t, got, 1) {
		assert.Equal(t, data.SeverityWarning, got[0].Severity)
	}

	// Alert-once per object: no repeat while it stays put.
	*now = now.Add(AlertCooldown + time.Minute)
	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: []detect.Detection{bag}})
	assert.Empty(t, drain(ch))
}

func TestAbandonedObjectEvictedWhenGone(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureAbandonedObject,
		Abandoned:   &data.AbandonedConfig{DurationSeconds: 60},
	}
	eng, now, ch := testEngine(t, feature)
	cam := testCamera()

	bag := detect.Detection{Label: "backpack", BBox: detect.BBox{X: 0.4, Y: 0.5, Width: 0.1, Height: 0.1}}
	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: []detect.Detection{bag}})

	// Object disappears: tracking restarts from zero when it comes back.
	eng.Evaluate(context.Background(), Input{Camera: cam})
	*now = now.Add(61 * time.Second)
	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: []detect.Detection{bag}})
	assert.Empty(t, drain(ch))
}

func TestAbandonedIgnoresPersonsAndVehicles(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureAbandonedObject,
		Abandoned:   &data.AbandonedConfig{DurationSeconds: 1},
	}
	eng, now, ch := testEngine(t, feature)
	cam := testCamera()

	detections := []detect.Detection{
		{Label: "person", BBox: detect.BBox{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.3}},
		{Label: "car", BBox: detect.BBox{X: 0.6, Y: 0.6, Width: 0.3, Height: 0.2}},
	}
	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: detections})
	*now = now.Add(2 * time.Second)
	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: detections})
	assert.Empty(t, drain(ch))
}

func TestFallDetectionOnAspectTransition(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureFallDetection,
		Fall:        &data.FallConfig{},
	}
	eng, _, ch := testEngine(t, feature)
	cam := testCamera()

	standing := detect.Detection{
		Label: "person",
		BBox:  detect.BBox{X: 0.4, Y: 0.3, Width: 0.1, Height: 0.4},
	}
	fallen := detect.Detection{
		Label: "person",
		BBox:  detect.BBox{X: 0.33, Y: 0.42, Width: 0.35, Height: 0.15},
	}

	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: []detect.Detection{standing}})
	assert.Empty(t, drain(ch))

	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: []detect.Detection{fallen}})
	got := drain(ch)
	if assert.Len(t, got, 2) {
		assert.Equal(t, events.TypeSmartAlert, got[0].Type)
		assert.Equal(t, data.SeverityCritical, got[0].Severity)
		assert.Equal(t, events.TypeFallDetected, got[1].Type)
	}
	store := eng.eventStore.(*stubEventStore)
	assert.Equal(t, []string{events.TypeFallDetected}, store.types())
}

func TestFallDetectionIgnoresDistantBoxes(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureFallDetection,
		Fall:        &data.FallConfig{},
	}
	eng, _, ch := testEngine(t, feature)
	cam := testCamera()

	standing := detect.Detection{Label: "person", BBox: detect.BBox{X: 0.1, Y: 0.1, Width: 0.1, Height: 0.4}}
	fallenFar := detect.Detection{Label: "person", BBox: detect.BBox{X: 0.7, Y: 0.7, Width: 0.35, Height: 0.15}}

	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: []detect.Detection{standing}})
	eng.Evaluate(context.Background(), Input{Camera: cam, Detections: []detect.Detection{fallenFar}})
	assert.Empty(t, drain(ch))
}

func TestTamperSuddenBrightnessDelta(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureTamperDetection,
		Tamper:      &data.TamperConfig{},
	}
	eng, _, ch := testEngine(t, feature)
	cam := testCamera()

	eng.Evaluate(context.Background(), Input{Camera: cam, Brightness: 128, HasBrightness: true})
	assert.Empty(t, drain(ch))

	eng.Evaluate(context.Background(), Input{Camera: cam, Brightness: 40, HasBrightness: true})
	got := drain(ch)
	if assert.Len(t, got, 2) {
		assert.Equal(t, events.TypeSmartAlert, got[0].Type)
		assert.Equal(t, data.SeverityCritical, got[0].Severity)
		assert.Contains(t, got[0].Description, "darkening")
		assert.Equal(t, events.TypeTamperDetected, got[1].Type)
	}
	store := eng.eventStore.(*stubEventStore)
	assert.Equal(t, []string{events.TypeTamperDetected}, store.types())
}

func TestTamperSustainedDarkness(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureTamperDetection,
		Tamper:      &data.TamperConfig{},
	}
	eng, _, ch := testEngine(t, feature)
	cam := testCamera()

	// Gradual dimming avoids the single-step trigger; three consecutive
	// dark frames trip the covered-lens rule.
	for _, b := range []float64{60, 15, 12, 10} {
		eng.Evaluate(context.Background(), Input{Camera: cam, Brightness: b, HasBrightness: true})
	}
	got := drain(ch)
	if assert.Len(t, got, 2) {
		assert.Contains(t, got[0].Description, "covered lens")
		assert.Equal(t, events.TypeTamperDetected, got[1].Type)
	}
}

func TestTamperCountersResetOnNormalFrame(t *testing.T) {
	feature := &data.SmartFeature{
		CameraID:    "cam-1",
		FeatureType: data.FeatureTamperDetection,
		Tamper:      &data.TamperConfig{},
	}
	eng, _, ch := testEngine(t, feature)
	cam := testCamera()

	for _, b := range []float64{60, 15, 12, 60, 15, 12} {
		eng.Evaluate(context.Background(), Input{Camera: cam, Brightness: b, HasBrightness: true})
	}
	assert.Empty(t, drain(ch), "dark runs interrupted by a normal frame never reach three")
}

func TestFeatureConfigIsCached(t *testing.T) {
	bus := events.NewBus()
	repo := &stubFeatureRepo{}
	eng := NewEngine(repo, &stubEventStore{}, bus)

	for i := 0; i < 5; i++ {
		eng.Evaluate(context.Background(), Input{Camera: testCamera()})
	}
	assert.Equal(t, 1, repo.calls)

	// CleanupCamera drops the cached config along with the state.
	eng.CleanupCamera("cam-1")
	eng.Evaluate(context.Background(), Input{Camera: testCamera()})
	assert.Equal(t, 2, repo.calls)
}

func TestEvaluateNilCamera(t *testing.T) {
	eng, _, ch := testEngine(t)
	eng.Evaluate(context.Background(), Input{})
	assert.Empty(t, drain(ch))
}
