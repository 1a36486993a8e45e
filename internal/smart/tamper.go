package smart

import (
	"fmt"
	"time"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/events"
)

const (
	// tamperDeltaThreshold: a single-step average-brightness jump this
	// large (0-255 scale) suggests the camera was covered, redirected or
	// blinded.
	tamperDeltaThreshold = 60.0

	// Sustained extremes: several consecutive frames below/above these
	// bounds indicate a covered lens or overexposure.
	tamperDarkThreshold   = 20.0
	tamperBrightThreshold = 235.0
	tamperConsecFrames    = 3
)

// evalTamper compares average frame brightness across frames. Two triggers:
// a large single-step delta, or a run of too-dark / too-bright frames. The
// alert names the suspected cause.
func (e *Engine) evalTamper(st *cameraState, f *data.SmartFeature, in Input, now time.Time) {
	if !in.HasBrightness {
		return
	}
	b := in.Brightness

	defer func() {
		st.prevBrightness = b
		st.hasPrevBrightness = true
	}()

	cause := ""
	if st.hasPrevBrightness {
		delta := b - st.prevBrightness
		if delta < 0 {
			delta = -delta
		}
		if delta > tamperDeltaThreshold {
			if b < st.prevBrightness {
				cause = "sudden darkening (lens covered or camera redirected)"
			} else {
				cause = "sudden brightening (light flooding or camera redirected)"
			}
		}
	}

	if b < tamperDarkThreshold {
		st.darkFrames++
		st.brightFrames = 0
	} else if b > tamperBrightThreshold {
		st.brightFrames++
		st.darkFrames = 0
	} else {
		st.darkFrames = 0
		st.brightFrames = 0
	}

	if cause == "" && st.darkFrames >= tamperConsecFrames {
		cause = "sustained darkness (covered lens)"
	}
	if cause == "" && st.brightFrames >= tamperConsecFrames {
		cause = "sustained overexposure"
	}
	if cause == "" {
		return
	}
	if st.inCooldown(f.FeatureType, now) {
		return
	}

	msg := fmt.Sprintf("Camera tampering suspected: %s", cause)
	e.emit(st, f, in, data.SeverityCritical, msg, events.TypeTamperDetected, map[string]any{
		"brightness":      b,
		"prev_brightness": st.prevBrightness,
		"cause":           cause,
	}, now)
}
