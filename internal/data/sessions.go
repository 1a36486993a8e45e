package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

// AnalysisSession is one continuous motion episode on a camera.
// Invariant (enforced by the monitor, not the DB): at most one active
// session per camera at a time.
type AnalysisSession struct {
	ID          string     `json:"id"`
	CameraID    string     `json:"camera_id"`
	TriggerType string     `json:"trigger_type"`
	Status      string     `json:"status"`
	Summary     *string    `json:"summary,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// AnalysisFrame is a saved still belonging to a session. Immutable once the
// file and row exist; the analysis columns are filled in asynchronously.
type AnalysisFrame struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	FilePath    string    `json:"file_path"`
	Description *string   `json:"description,omitempty"`
	PeopleCount *int      `json:"people_count,omitempty"`
	Objects     []string  `json:"objects,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

type SessionModel struct {
	DB DBTX
}

func (m SessionModel) CreateSession(ctx context.Context, s *AnalysisSession) error {
	query := `
		INSERT INTO analysis_sessions (id, camera_id, trigger_type, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := m.DB.ExecContext(ctx, query, s.ID, s.CameraID, s.TriggerType, s.Status, s.StartedAt)
	return err
}

func (m SessionModel) EndSession(ctx context.Context, id string) error {
	query := `
		UPDATE analysis_sessions
		SET status = $1, ended_at = NOW()
		WHERE id = $2 AND status = $3`
	res, err := m.DB.ExecContext(ctx, query, SessionStatusCompleted, id, SessionStatusActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m SessionModel) SetSummary(ctx context.Context, id string, summary string) error {
	query := `UPDATE analysis_sessions SET summary = $1 WHERE id = $2`
	_, err := m.DB.ExecContext(ctx, query, summary, id)
	return err
}

func (m SessionModel) GetSession(ctx context.Context, id string) (*AnalysisSession, error) {
	query := `
		SELECT id, camera_id, trigger_type, status, summary, started_at, ended_at
		FROM analysis_sessions WHERE id = $1`

	var s AnalysisSession
	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.CameraID, &s.TriggerType, &s.Status, &s.Summary, &s.StartedAt, &s.EndedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (m SessionModel) CreateFrame(ctx context.Context, f *AnalysisFrame) error {
	query := `
		INSERT INTO analysis_frames (id, session_id, file_path, captured_at)
		VALUES ($1, $2, $3, $4)`
	_, err := m.DB.ExecContext(ctx, query, f.ID, f.SessionID, f.FilePath, f.CapturedAt)
	return err
}

func (m SessionModel) UpdateFrameAnalysis(ctx context.Context, id string, description string, peopleCount int, objects []string) error {
	query := `
		UPDATE analysis_frames
		SET description = $1, people_count = $2, objects = $3
		WHERE id = $4`
	_, err := m.DB.ExecContext(ctx, query, description, peopleCount, pq.Array(objects), id)
	return err
}

// ListFrames returns a session's frames in capture order. Summarization
// depends on this ordering.
func (m SessionModel) ListFrames(ctx context.Context, sessionID string) ([]*AnalysisFrame, error) {
	query := `
		SELECT id, session_id, file_path, description, people_count, objects, captured_at
		FROM analysis_frames
		WHERE session_id = $1
		ORDER BY captured_at ASC`

	rows, err := m.DB.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []*AnalysisFrame
	for rows.Next() {
		var f AnalysisFrame
		var objects []string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.FilePath, &f.Description, &f.PeopleCount, pq.Array(&objects), &f.CapturedAt); err != nil {
			return nil, err
		}
		f.Objects = objects
		frames = append(frames, &f)
	}
	return frames, rows.Err()
}
