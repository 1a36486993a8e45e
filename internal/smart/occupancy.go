package smart

import (
	"fmt"
	"time"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/events"
)

// evalQueue alerts when the visible queue exceeds its configured maximum.
// Warning at >max, critical at more than double the max. Cooldown-gated.
func (e *Engine) evalQueue(st *cameraState, f *data.SmartFeature, in Input, now time.Time) {
	cfg := f.Queue
	if cfg == nil {
		return
	}
	count := countPersons(in.Detections)
	if count <= cfg.MaxQueueLength {
		return
	}
	if st.inCooldown(f.FeatureType, now) {
		return
	}

	severity := data.SeverityWarning
	if count > cfg.MaxQueueLength*2 {
		severity = data.SeverityCritical
	}
	msg := fmt.Sprintf("Queue length %d exceeds maximum %d", count, cfg.MaxQueueLength)
	e.emit(st, f, in, severity, msg, "", map[string]any{
		"queue_count": count,
		"max_queue":   cfg.MaxQueueLength,
	}, now)
}

// evalWorkstation alerts once per absence episode when staffing stays below
// the configured minimum for longer than the configured duration. The
// episode resets fully when staffing recovers.
func (e *Engine) evalWorkstation(st *cameraState, f *data.SmartFeature, in Input, now time.Time) {
	cfg := f.Workstation
	if cfg == nil {
		return
	}
	staff := countPersons(in.Detections)

	if staff >= cfg.MinStaff {
		st.workstationEmptySince = time.Time{}
		st.workstationAlerted = false
		return
	}

	if st.workstationEmptySince.IsZero() {
		st.workstationEmptySince = now
		return
	}
	if st.workstationAlerted {
		return
	}
	absence := now.Sub(st.workstationEmptySince)
	if absence < time.Duration(cfg.AbsenceSeconds)*time.Second {
		return
	}
	if st.inCooldown(f.FeatureType, now) {
		return
	}

	st.workstationAlerted = true
	msg := fmt.Sprintf("Workstation understaffed for %s (%d present, minimum %d)",
		absence.Truncate(time.Second), staff, cfg.MinStaff)
	e.emit(st, f, in, data.SeverityWarning, msg, "", map[string]any{
		"staff_count":     staff,
		"min_staff":       cfg.MinStaff,
		"absence_seconds": int(absence.Seconds()),
	}, now)
}

// evalLoitering follows the same start-timer/alert-once-per-episode pattern,
// keyed on the externally-supplied loitering verdict.
func (e *Engine) evalLoitering(st *cameraState, f *data.SmartFeature, in Input, now time.Time) {
	cfg := f.Loitering
	if cfg == nil {
		return
	}

	if !in.Loitering {
		st.loiterSince = time.Time{}
		st.loiterAlerted = false
		return
	}

	if st.loiterSince.IsZero() {
		st.loiterSince = now
		return
	}
	if st.loiterAlerted {
		return
	}
	elapsed := now.Sub(st.loiterSince)
	if elapsed < time.Duration(cfg.DurationSeconds)*time.Second {
		return
	}
	if st.inCooldown(f.FeatureType, now) {
		return
	}

	st.loiterAlerted = true
	msg := fmt.Sprintf("Loitering detected for %s", elapsed.Truncate(time.Second))
	e.emit(st, f, in, data.SeverityWarning, msg, events.TypeBehaviorAlert, map[string]any{
		"duration_seconds": int(elapsed.Seconds()),
	}, now)
}
