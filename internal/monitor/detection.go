package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/events"
	"github.com/technosupport/ts-monitor/internal/motion"
	"github.com/technosupport/ts-monitor/internal/smart"
)

// detectionPass runs the per-tick inference work detached from the poll
// loop. The in-flight guard is released on exit; a slow service means
// skipped passes, never a stalled tick.
func (m *CameraMonitor) detectionPass(st *monitorState, frame []byte, secondary bool) {
	defer st.inFlight.Store(false)
	ctx := context.Background()
	cam := st.cam

	detections, err := m.detector.Detect(ctx, frame)
	if err != nil {
		log.Printf("[WARN] Monitor (%s): detect: %v", cam.ID, err)
		return
	}

	people := 0
	for _, d := range detections {
		if d.IsPerson() {
			people++
		}
	}
	if m.agg.Heatmap != nil {
		m.agg.Heatmap.RecordDetections(cam.ID, detections)
	}
	if m.agg.People != nil {
		m.agg.People.Record(cam.ID, people, m.now())
	}
	if m.agg.Shelf != nil {
		m.agg.Shelf.Observe(cam, detections)
	}

	m.publish(&events.Event{
		Type:           events.TypeFrameAnalyzed,
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Severity:       data.SeverityInfo,
		OccurredAt:     m.now(),
		Payload: map[string]any{
			"detections":   len(detections),
			"people_count": people,
		},
	})

	in := smart.Input{Camera: cam, Detections: detections}
	if secondary {
		m.secondaryPass(ctx, st, frame, &in)
	}
	m.engine.Evaluate(ctx, in)
}

// secondaryPass runs the heavier detectors: fire/smoke, plates, behavior,
// a brightness sample and cross-camera feature extraction.
func (m *CameraMonitor) secondaryPass(ctx context.Context, st *monitorState, frame []byte, in *smart.Input) {
	cam := st.cam

	if fire, err := m.detector.DetectFire(ctx, frame); err == nil && fire != nil && (fire.FireDetected || fire.SmokeDetected) {
		m.emitFire(ctx, cam, fire.FireDetected, fire.SmokeDetected, fire.FireConfidence)
	}

	if plates, err := m.detector.DetectPlates(ctx, frame); err == nil {
		for _, p := range plates {
			m.emitPlate(ctx, cam, p.Text, p.Confidence)
		}
	}

	if behavior, err := m.detector.AnalyzeBehavior(ctx, frame, cam.ID); err == nil && behavior != nil {
		in.Loitering = behavior.Loitering
	}

	if b, err := motion.Brightness(frame); err == nil {
		in.Brightness = b
		in.HasBrightness = true
	}

	if m.agg.Tracker != nil {
		m.agg.Tracker.Observe(ctx, cam.ID, frame)
	}
}

func (m *CameraMonitor) emitFire(ctx context.Context, cam *data.Camera, fire, smoke bool, confidence float64) {
	what := "Fire"
	if !fire && smoke {
		what = "Smoke"
	}
	desc := fmt.Sprintf("%s detected (%.0f%% confidence)", what, confidence*100)
	meta, _ := json.Marshal(map[string]any{
		"fire_detected":  fire,
		"smoke_detected": smoke,
		"confidence":     confidence,
	})
	m.persistEvent(ctx, cam, events.TypeFireDetected, data.SeverityCritical, desc, meta)
	m.publish(&events.Event{
		Type:           events.TypeFireDetected,
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Severity:       data.SeverityCritical,
		Description:    desc,
		OccurredAt:     m.now(),
		Payload: map[string]any{
			"fire_detected":  fire,
			"smoke_detected": smoke,
			"confidence":     confidence,
		},
	})
}

func (m *CameraMonitor) emitPlate(ctx context.Context, cam *data.Camera, text string, confidence float64) {
	text = strings.ToUpper(strings.TrimSpace(text))
	if text == "" {
		return
	}
	desc := fmt.Sprintf("License plate %s (%.0f%% confidence)", text, confidence*100)
	meta, _ := json.Marshal(map[string]any{"plate": text, "confidence": confidence})
	m.persistEvent(ctx, cam, events.TypePlateDetected, data.SeverityInfo, desc, meta)
	m.publish(&events.Event{
		Type:           events.TypePlateDetected,
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Severity:       data.SeverityInfo,
		Description:    desc,
		OccurredAt:     m.now(),
		Payload:        map[string]any{"plate": text, "confidence": confidence},
	})
}

func (m *CameraMonitor) persistEvent(ctx context.Context, cam *data.Camera, eventType, severity, desc string, meta json.RawMessage) {
	evt := &data.Event{
		ID:             uuid.NewString(),
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Type:           eventType,
		Severity:       severity,
		Description:    desc,
		Metadata:       meta,
		CreatedAt:      m.now(),
	}
	if err := m.eventStore.CreateEvent(ctx, evt); err != nil {
		log.Printf("[ERROR] Monitor (%s): persisting %s event: %v", cam.ID, eventType, err)
	}
}

func (m *CameraMonitor) publish(evt *events.Event) {
	if m.bus != nil {
		m.bus.Publish(evt)
	}
}
