package data

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// CameraRepository is the read/write surface the monitor needs from the store.
// CameraModel implements it; tests substitute mocks.
type CameraRepository interface {
	GetByID(ctx context.Context, id string) (*Camera, error)
	ListMonitoring(ctx context.Context) ([]*Camera, error)
	SetMonitoring(ctx context.Context, id string, monitoring bool) error
	SetStatus(ctx context.Context, id string, status string) error
	SetStreamStatus(ctx context.Context, id string, streamStatus string) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, s *AnalysisSession) error
	EndSession(ctx context.Context, id string) error
	SetSummary(ctx context.Context, id string, summary string) error
	GetSession(ctx context.Context, id string) (*AnalysisSession, error)
	CreateFrame(ctx context.Context, f *AnalysisFrame) error
	UpdateFrameAnalysis(ctx context.Context, id string, description string, peopleCount int, objects []string) error
	ListFrames(ctx context.Context, sessionID string) ([]*AnalysisFrame, error)
}

type EventRepository interface {
	CreateEvent(ctx context.Context, e *Event) error
}

type SmartFeatureRepository interface {
	ListEnabled(ctx context.Context, cameraID string) ([]*SmartFeature, error)
}
