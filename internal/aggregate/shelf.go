package aggregate

import (
	"fmt"
	"sync"
	"time"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/detect"
	"github.com/technosupport/ts-monitor/internal/events"
)

const (
	shelfHistorySize = 100
	shelfCooldown    = 5 * time.Minute

	// defaultShelfRegion covers the frame's middle band when no region is
	// configured.
	defaultShelfMinFullness = 0.25
)

// ShelfRegion is the monitored area of the frame, normalized 0..1.
type ShelfRegion struct {
	detect.BBox
	MinFullness float64 `json:"min_fullness"`
}

// ShelfReading is one fullness estimate.
type ShelfReading struct {
	Fullness float64   `json:"fullness"`
	Objects  int       `json:"objects"`
	At       time.Time `json:"at"`
}

// ShelfMonitor estimates shelf fullness as the fraction of a configured
// region covered by non-person object boxes, keeps a bounded history and
// alerts (cooldown-limited) when fullness drops below the threshold.
type ShelfMonitor struct {
	bus *events.Bus

	mu        sync.Mutex
	regions   map[string]ShelfRegion
	history   map[string][]ShelfReading
	lastAlert map[string]time.Time

	now func() time.Time
}

func NewShelfMonitor(bus *events.Bus) *ShelfMonitor {
	return &ShelfMonitor{
		bus:       bus,
		regions:   make(map[string]ShelfRegion),
		history:   make(map[string][]ShelfReading),
		lastAlert: make(map[string]time.Time),
		now:       time.Now,
	}
}

// SetRegion configures the monitored region for a camera. A zero MinFullness
// gets the default threshold.
func (s *ShelfMonitor) SetRegion(cameraID string, region ShelfRegion) {
	if region.MinFullness <= 0 {
		region.MinFullness = defaultShelfMinFullness
	}
	s.mu.Lock()
	s.regions[cameraID] = region
	s.mu.Unlock()
}

// Observe folds one frame's detections into the camera's fullness history.
// Cameras without a configured region are ignored.
func (s *ShelfMonitor) Observe(cam *data.Camera, detections []detect.Detection) {
	s.mu.Lock()
	region, ok := s.regions[cam.ID]
	s.mu.Unlock()
	if !ok {
		return
	}

	covered := 0.0
	objects := 0
	for _, d := range detections {
		if d.IsPerson() {
			continue
		}
		a := overlapArea(region.BBox, d.BBox)
		if a > 0 {
			covered += a
			objects++
		}
	}
	regionArea := region.Width * region.Height
	fullness := 0.0
	if regionArea > 0 {
		fullness = covered / regionArea
		if fullness > 1 {
			fullness = 1
		}
	}

	now := s.now()
	s.mu.Lock()
	hist := append(s.history[cam.ID], ShelfReading{Fullness: fullness, Objects: objects, At: now})
	if len(hist) > shelfHistorySize {
		hist = hist[len(hist)-shelfHistorySize:]
	}
	s.history[cam.ID] = hist

	alert := fullness < region.MinFullness && now.Sub(s.lastAlert[cam.ID]) >= shelfCooldown
	if alert {
		s.lastAlert[cam.ID] = now
	}
	s.mu.Unlock()

	if !alert {
		return
	}
	s.bus.Publish(&events.Event{
		Type:           events.TypeSmartAlert,
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Severity:       data.SeverityWarning,
		Description:    fmt.Sprintf("Shelf fullness %.0f%% below minimum %.0f%%", fullness*100, region.MinFullness*100),
		OccurredAt:     now,
		Payload: map[string]any{
			"fullness":     fullness,
			"min_fullness": region.MinFullness,
			"objects":      objects,
		},
	})
}

// History returns the camera's fullness readings, oldest first.
func (s *ShelfMonitor) History(cameraID string) []ShelfReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ShelfReading(nil), s.history[cameraID]...)
}

func overlapArea(a, b detect.BBox) float64 {
	x1 := max64(a.X, b.X)
	y1 := max64(a.Y, b.Y)
	x2 := min64(a.X+a.Width, b.X+b.Width)
	y2 := min64(a.Y+a.Height, b.Y+b.Height)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	return (x2 - x1) * (y2 - y1)
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
