package data

import (
	"context"
	"encoding/json"
	"time"
)

// Event severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event is a persisted fact. Append-only; never updated.
type Event struct {
	ID             string          `json:"id"`
	CameraID       string          `json:"camera_id"`
	OrganizationID string          `json:"organization_id"`
	BranchID       string          `json:"branch_id"`
	Type           string          `json:"type"`
	Severity       string          `json:"severity"`
	Description    string          `json:"description"`
	SessionID      *string         `json:"session_id,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type EventModel struct {
	DB DBTX
}

func (m EventModel) CreateEvent(ctx context.Context, e *Event) error {
	query := `
		INSERT INTO events (id, camera_id, organization_id, branch_id, type,
			severity, description, session_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	meta := e.Metadata
	if meta == nil {
		meta = json.RawMessage("{}")
	}
	_, err := m.DB.ExecContext(ctx, query,
		e.ID, e.CameraID, e.OrganizationID, e.BranchID, e.Type,
		e.Severity, e.Description, e.SessionID, meta, e.CreatedAt,
	)
	return err
}
