package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/technosupport/ts-monitor/internal/detect"
)

const (
	trackMatchThreshold = 0.7
	trackHistorySize    = 100

	// trackTTL is how long a person stays known without a new sighting.
	trackTTL = 10 * time.Minute
)

type featureClient interface {
	ExtractFeatures(ctx context.Context, frame []byte, cameraID string) ([]detect.FeatureVector, error)
	MatchPersons(ctx context.Context, a, b []detect.FeatureVector, threshold float64) ([]detect.PersonMatch, error)
}

// Sighting is one appearance of a tracked person.
type Sighting struct {
	CameraID string      `json:"camera_id"`
	BBox     detect.BBox `json:"bbox"`
	At       time.Time   `json:"at"`
}

// TrackedPerson is a synthetic identity built from appearance matching.
// There is no ground-truth identity behind it.
type TrackedPerson struct {
	ID        string     `json:"id"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
	Sightings []Sighting `json:"sightings"`

	feature detect.FeatureVector
}

// CrossCameraTracker assigns synthetic IDs to persons by matching appearance
// features across cameras and accumulates per-person trajectories.
type CrossCameraTracker struct {
	client featureClient

	mu      sync.Mutex
	persons map[string]*TrackedPerson
	nextID  int

	now func() time.Time
}

func NewCrossCameraTracker(client featureClient) *CrossCameraTracker {
	return &CrossCameraTracker{
		client:  client,
		persons: make(map[string]*TrackedPerson),
		now:     time.Now,
	}
}

// Observe extracts person features from one frame and folds them into the
// trajectory store. New features matching a known person's latest feature
// extend that trajectory; the rest become new synthetic identities.
// Degraded service calls are a no-op.
func (t *CrossCameraTracker) Observe(ctx context.Context, cameraID string, frame []byte) {
	features, err := t.client.ExtractFeatures(ctx, frame, cameraID)
	if err != nil || len(features) == 0 {
		return
	}
	now := t.now()

	t.mu.Lock()
	t.evictLocked(now)
	known := make([]*TrackedPerson, 0, len(t.persons))
	knownFeatures := make([]detect.FeatureVector, 0, len(t.persons))
	for _, p := range t.persons {
		known = append(known, p)
		knownFeatures = append(knownFeatures, p.feature)
	}
	t.mu.Unlock()

	var matches []detect.PersonMatch
	if len(knownFeatures) > 0 {
		matches, _ = t.client.MatchPersons(ctx, features, knownFeatures, trackMatchThreshold)
	}

	matched := make(map[int]bool, len(matches))

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, m := range matches {
		if m.IndexA < 0 || m.IndexA >= len(features) || m.IndexB < 0 || m.IndexB >= len(known) {
			continue
		}
		if matched[m.IndexA] {
			continue
		}
		matched[m.IndexA] = true
		t.extendLocked(known[m.IndexB], cameraID, features[m.IndexA], now)
	}

	for i, fv := range features {
		if matched[i] {
			continue
		}
		t.nextID++
		id := fmt.Sprintf("person-%d", t.nextID)
		t.persons[id] = &TrackedPerson{
			ID:        id,
			FirstSeen: now,
			LastSeen:  now,
			Sightings: []Sighting{{CameraID: cameraID, BBox: fv.BBox, At: now}},
			feature:   fv,
		}
	}
}

func (t *CrossCameraTracker) extendLocked(p *TrackedPerson, cameraID string, fv detect.FeatureVector, now time.Time) {
	p.LastSeen = now
	p.feature = fv
	p.Sightings = append(p.Sightings, Sighting{CameraID: cameraID, BBox: fv.BBox, At: now})
	if len(p.Sightings) > trackHistorySize {
		p.Sightings = p.Sightings[len(p.Sightings)-trackHistorySize:]
	}
}

func (t *CrossCameraTracker) evictLocked(now time.Time) {
	for id, p := range t.persons {
		if now.Sub(p.LastSeen) > trackTTL {
			delete(t.persons, id)
		}
	}
}

// Trajectories returns persons sighted on the camera, or all persons when
// cameraID is empty. Copies; callers cannot mutate tracker state.
func (t *CrossCameraTracker) Trajectories(cameraID string) []*TrackedPerson {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictLocked(t.now())

	var out []*TrackedPerson
	for _, p := range t.persons {
		if cameraID != "" && !sightedOn(p, cameraID) {
			continue
		}
		cp := *p
		cp.Sightings = append([]Sighting(nil), p.Sightings...)
		out = append(out, &cp)
	}
	return out
}

func sightedOn(p *TrackedPerson, cameraID string) bool {
	for _, s := range p.Sightings {
		if s.CameraID == cameraID {
			return true
		}
	}
	return false
}
