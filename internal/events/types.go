package events

import (
	"time"
)

// Event types emitted by the monitor pipeline.
const (
	TypeMotionDetected = "motion_detected"
	TypeSessionStarted = "session_started"
	TypeSessionEnded   = "session_ended"
	TypeFrameAnalyzed  = "frame_analyzed"
	TypeFireDetected   = "fire_detected"
	TypePlateDetected  = "plate_detected"
	TypeBehaviorAlert  = "behavior_alert"
	TypeFallDetected   = "fall_detected"
	TypeTamperDetected = "tamper_detected"
	TypeAudioEvent     = "audio_event"
	TypeSmartAlert     = "smart_alert"
	TypeStreamFailed   = "stream_failed"
)

// Event is the unit carried on the in-process bus and mirrored to NATS.
// Delivery is fire-and-forget, in-process, same-tick; there is no replay.
type Event struct {
	Type           string         `json:"type"`
	CameraID       string         `json:"camera_id"`
	OrganizationID string         `json:"organization_id"`
	BranchID       string         `json:"branch_id"`
	Severity       string         `json:"severity"`
	Description    string         `json:"description,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// SmartAlert is produced by the smart-features engine and consumed by the
// notification dispatcher. Not persisted by the pipeline.
type SmartAlert struct {
	FeatureType    string         `json:"feature_type"`
	CameraID       string         `json:"camera_id"`
	CameraName     string         `json:"camera_name"`
	OrganizationID string         `json:"organization_id"`
	BranchID       string         `json:"branch_id"`
	IntegrationID  string         `json:"integration_id,omitempty"`
	Severity       string         `json:"severity"`
	Message        string         `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Handler receives events synchronously on the publisher's goroutine.
// Implementations must not block.
type Handler interface {
	OnEvent(evt *Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(evt *Event)

func (f HandlerFunc) OnEvent(evt *Event) { f(evt) }
