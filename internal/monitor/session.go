package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/events"
	"github.com/technosupport/ts-monitor/internal/genai"
	"github.com/technosupport/ts-monitor/internal/metrics"
)

// FrameAnalyzer is the summarization collaborator surface the session
// manager needs. genai.Client implements it.
type FrameAnalyzer interface {
	AnalyzeFrame(ctx context.Context, frame []byte) (*genai.FrameAnalysis, error)
	SummarizeSession(ctx context.Context, descriptions []string) (string, error)
}

// SessionManager owns the analysis-session lifecycle: session rows, frame
// files, frame rows, per-frame AI enrichment and the post-close summary.
// Partial failures (file saved but row insert fails, and the like) are
// logged and skipped, never retried.
type SessionManager struct {
	sessions    data.SessionRepository
	eventStore  data.EventRepository
	bus         *events.Bus
	analyzer    FrameAnalyzer
	storageRoot string

	now func() time.Time
}

func NewSessionManager(sessions data.SessionRepository, eventStore data.EventRepository, bus *events.Bus, analyzer FrameAnalyzer, storageRoot string) *SessionManager {
	return &SessionManager{
		sessions:    sessions,
		eventStore:  eventStore,
		bus:         bus,
		analyzer:    analyzer,
		storageRoot: storageRoot,
		now:         time.Now,
	}
}

// StartSession opens a session for a motion episode, saves the triggering
// frame and persists a motion_detected event. Returns the new session ID.
func (m *SessionManager) StartSession(ctx context.Context, cam *data.Camera, frame []byte, motionLevel float64) (string, error) {
	now := m.now()
	session := &data.AnalysisSession{
		ID:          uuid.NewString(),
		CameraID:    cam.ID,
		TriggerType: "motion",
		Status:      data.SessionStatusActive,
		StartedAt:   now,
	}
	if err := m.sessions.CreateSession(ctx, session); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	metrics.SessionsTotal.WithLabelValues("started").Inc()

	m.saveFrame(ctx, cam, session.ID, frame, now)
	m.persistMotionEvent(ctx, cam, session.ID, motionLevel, now)

	m.bus.Publish(&events.Event{
		Type:           events.TypeSessionStarted,
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Severity:       data.SeverityInfo,
		Description:    "Analysis session started",
		SessionID:      session.ID,
		OccurredAt:     now,
	})
	m.bus.Publish(&events.Event{
		Type:           events.TypeMotionDetected,
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Severity:       data.SeverityInfo,
		Description:    fmt.Sprintf("Motion detected (%.1f%%)", motionLevel),
		SessionID:      session.ID,
		OccurredAt:     now,
		Payload:        map[string]any{"motion_level": motionLevel},
	})
	return session.ID, nil
}

// CaptureFrame saves one periodic frame into an active session.
func (m *SessionManager) CaptureFrame(ctx context.Context, cam *data.Camera, sessionID string, frame []byte) {
	now := m.now()
	frameID := m.saveFrame(ctx, cam, sessionID, frame, now)
	if frameID == "" {
		return
	}
	m.bus.Publish(&events.Event{
		Type:           events.TypeFrameAnalyzed,
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Severity:       data.SeverityInfo,
		SessionID:      sessionID,
		OccurredAt:     now,
		Payload:        map[string]any{"frame_id": frameID},
	})
}

// EndSession closes the session and triggers summary generation in the
// background.
func (m *SessionManager) EndSession(ctx context.Context, cam *data.Camera, sessionID string) error {
	if err := m.sessions.EndSession(ctx, sessionID); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	metrics.SessionsTotal.WithLabelValues("ended").Inc()

	m.bus.Publish(&events.Event{
		Type:           events.TypeSessionEnded,
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Severity:       data.SeverityInfo,
		Description:    "Analysis session ended",
		SessionID:      sessionID,
		OccurredAt:     m.now(),
	})

	go m.summarize(context.Background(), cam.ID, sessionID)
	return nil
}

// saveFrame writes the JPEG under {org}/{camera}/{unixMillis}.jpg, records
// the frame row and kicks off per-frame analysis. Returns the frame ID, or
// "" when nothing was recorded.
func (m *SessionManager) saveFrame(ctx context.Context, cam *data.Camera, sessionID string, frame []byte, now time.Time) string {
	rel := filepath.Join(cam.OrganizationID, cam.ID, fmt.Sprintf("%d.jpg", now.UnixMilli()))
	full := filepath.Join(m.storageRoot, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		log.Printf("[ERROR] Session (%s): creating frame dir: %v", cam.ID, err)
		return ""
	}
	if err := os.WriteFile(full, frame, 0o644); err != nil {
		log.Printf("[ERROR] Session (%s): saving frame: %v", cam.ID, err)
		return ""
	}

	rec := &data.AnalysisFrame{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		FilePath:   rel,
		CapturedAt: now,
	}
	if err := m.sessions.CreateFrame(ctx, rec); err != nil {
		log.Printf("[ERROR] Session (%s): recording frame: %v", cam.ID, err)
		return ""
	}

	go m.analyzeFrame(context.Background(), cam.ID, rec.ID, frame)
	return rec.ID
}

func (m *SessionManager) analyzeFrame(ctx context.Context, cameraID, frameID string, frame []byte) {
	analysis, err := m.analyzer.AnalyzeFrame(ctx, frame)
	if err != nil {
		log.Printf("[WARN] Session (%s): frame analysis: %v", cameraID, err)
		return
	}
	if analysis == nil {
		return
	}
	if err := m.sessions.UpdateFrameAnalysis(ctx, frameID, analysis.Description, analysis.PeopleCount, analysis.Objects); err != nil {
		log.Printf("[ERROR] Session (%s): storing frame analysis: %v", cameraID, err)
	}
}

// summarize joins the session's frame descriptions in capture order and
// writes the result. Sessions with zero described frames get the fixed
// placeholder without a collaborator call.
func (m *SessionManager) summarize(ctx context.Context, cameraID, sessionID string) {
	frames, err := m.sessions.ListFrames(ctx, sessionID)
	if err != nil {
		log.Printf("[ERROR] Session (%s): listing frames for summary: %v", cameraID, err)
		return
	}
	var descriptions []string
	for _, f := range frames {
		if f.Description != nil && *f.Description != "" {
			descriptions = append(descriptions, *f.Description)
		}
	}

	summary, err := m.analyzer.SummarizeSession(ctx, descriptions)
	if err != nil {
		log.Printf("[WARN] Session (%s): summarizing: %v", cameraID, err)
		return
	}
	if err := m.sessions.SetSummary(ctx, sessionID, summary); err != nil {
		log.Printf("[ERROR] Session (%s): storing summary: %v", cameraID, err)
	}
}

func (m *SessionManager) persistMotionEvent(ctx context.Context, cam *data.Camera, sessionID string, motionLevel float64, now time.Time) {
	meta, _ := json.Marshal(map[string]any{"motion_level": motionLevel})
	evt := &data.Event{
		ID:             uuid.NewString(),
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Type:           events.TypeMotionDetected,
		Severity:       data.SeverityInfo,
		Description:    fmt.Sprintf("Motion detected (%.1f%%)", motionLevel),
		SessionID:      &sessionID,
		Metadata:       meta,
		CreatedAt:      now,
	}
	if err := m.eventStore.CreateEvent(ctx, evt); err != nil {
		log.Printf("[ERROR] Session (%s): persisting motion event: %v", cam.ID, err)
	}
}
