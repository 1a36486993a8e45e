package smart

import (
	"fmt"
	"math"
	"time"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/detect"
)

// matchRadius is the maximum normalized center distance for a detection to
// be considered the same object as a tracked one. ~10% of the frame.
const matchRadius = 0.10

// evalAbandoned tracks stationary non-person, non-vehicle objects and alerts
// once per object once it persists past the configured duration. Objects no
// longer visible are evicted every evaluation.
func (e *Engine) evalAbandoned(st *cameraState, f *data.SmartFeature, in Input, now time.Time) {
	cfg := f.Abandoned
	if cfg == nil {
		return
	}

	for _, t := range st.tracked {
		t.seen = false
	}

	for _, d := range in.Detections {
		if d.IsPerson() || d.IsVehicle() {
			continue
		}
		if t := matchTracked(st.tracked, d.BBox); t != nil {
			t.BBox = d.BBox
			t.seen = true
			continue
		}
		st.tracked = append(st.tracked, &trackedObject{
			Label:     d.Label,
			BBox:      d.BBox,
			FirstSeen: now,
			seen:      true,
		})
	}

	kept := st.tracked[:0]
	for _, t := range st.tracked {
		if !t.seen {
			continue
		}
		kept = append(kept, t)

		if t.AlertSent {
			continue
		}
		age := now.Sub(t.FirstSeen)
		if age < time.Duration(cfg.DurationSeconds)*time.Second {
			continue
		}
		if st.inCooldown(f.FeatureType, now) {
			continue
		}
		t.AlertSent = true
		msg := fmt.Sprintf("Object (%s) unattended for %s", t.Label, age.Truncate(time.Second))
		e.emit(st, f, in, data.SeverityWarning, msg, "", map[string]any{
			"label":       t.Label,
			"age_seconds": int(age.Seconds()),
			"bbox":        t.BBox,
		}, now)
	}
	st.tracked = kept
}

func matchTracked(tracked []*trackedObject, box detect.BBox) *trackedObject {
	var best *trackedObject
	bestDist := matchRadius
	for _, t := range tracked {
		if t.seen {
			continue
		}
		d := centerDistance(t.BBox, box)
		if d <= bestDist {
			best = t
			bestDist = d
		}
	}
	return best
}

func centerDistance(a, b detect.BBox) float64 {
	dx := a.CenterX() - b.CenterX()
	dy := a.CenterY() - b.CenterY()
	return math.Hypot(dx, dy)
}
