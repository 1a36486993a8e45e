package smart

import (
	"time"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/detect"
	"github.com/technosupport/ts-monitor/internal/events"
)

const (
	// A standing person's box is taller than wide; a fallen one is wider
	// than tall. The thresholds leave a dead band so a crouching person
	// does not flap between the two.
	standingRatioMax = 0.85 // width/height below this = standing
	fallenRatioMin   = 1.30 // width/height above this = horizontal

	// fallMatchRadius is the spatial tolerance for pairing a current box
	// with a previous-frame box.
	fallMatchRadius = 0.15
)

// evalFall flags a standing-to-horizontal transition of a person box at a
// similar position across consecutive frames. Coarse aspect-ratio proxy,
// kept as-is. During the cooldown window comparisons are suppressed, but
// the previous-box buffer is refreshed every tick regardless so tracking
// resumes cleanly when the cooldown lapses.
func (e *Engine) evalFall(st *cameraState, f *data.SmartFeature, in Input, now time.Time) {
	var current []detect.BBox
	for _, d := range in.Detections {
		if d.IsPerson() {
			current = append(current, d.BBox)
		}
	}
	prev := st.prevPersons
	st.prevPersons = current

	if st.inCooldown(f.FeatureType, now) {
		return
	}

	for _, cur := range current {
		if aspectRatio(cur) < fallenRatioMin {
			continue
		}
		for _, old := range prev {
			if aspectRatio(old) > standingRatioMax {
				continue
			}
			if centerDistance(cur, old) > fallMatchRadius {
				continue
			}
			e.emit(st, f, in, data.SeverityCritical,
				"Possible fall detected: person transitioned from standing to horizontal",
				events.TypeFallDetected, map[string]any{
					"bbox":       cur,
					"prev_ratio": aspectRatio(old),
					"curr_ratio": aspectRatio(cur),
				}, now)
			return
		}
	}
}

func aspectRatio(b detect.BBox) float64 {
	if b.Height <= 0 {
		return 0
	}
	return b.Width / b.Height
}
