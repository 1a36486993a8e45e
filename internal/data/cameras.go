package data

import (
	"context"
	"database/sql"
	"time"
)

// Camera stream status values maintained by the stream-failure tracker.
const (
	StreamStatusOK     = "ok"
	StreamStatusFailed = "failed"
)

// Camera purpose values. Attendance cameras are polled like any other but
// tagged so downstream consumers can route their events.
const (
	PurposeGeneric         = "generic"
	PurposeAttendanceEntry = "attendance_entry"
	PurposeAttendanceExit  = "attendance_exit"
)

// Camera protocol values. An onvif camera stores its device service URL in
// StreamURL; the stream URI is resolved at monitoring start.
const (
	ProtocolRTSP  = "rtsp"
	ProtocolHTTP  = "http"
	ProtocolONVIF = "onvif"
)

// Camera represents a monitored video source.
type Camera struct {
	ID              string     `json:"id"`
	OrganizationID  string     `json:"organization_id"`
	BranchID        string     `json:"branch_id"`
	Name            string     `json:"name"`
	Location        string     `json:"location,omitempty"`
	StreamURL       string     `json:"stream_url"`
	Protocol        string     `json:"protocol"` // rtsp | http | onvif
	Purpose         string     `json:"purpose"`
	Status          string     `json:"status"` // online | offline
	StreamStatus    string     `json:"stream_status"`
	IsMonitoring    bool       `json:"is_monitoring"`
	IsStreaming     bool       `json:"is_streaming"`
	IsRecording     bool       `json:"is_recording"`
	MotionThreshold float64    `json:"motion_threshold"` // 0-100
	CaptureInterval int        `json:"capture_interval_seconds"`
	RetentionDays   int        `json:"retention_days"`
	OnvifUsername   string     `json:"-"`
	OnvifPassword   string     `json:"-"`
	HasPTZ          bool       `json:"has_ptz"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

type CameraModel struct {
	DB DBTX
}

const cameraColumns = `
	id, organization_id, branch_id, name, location, stream_url, protocol,
	purpose, status, stream_status, is_monitoring, is_streaming, is_recording,
	motion_threshold, capture_interval_seconds, retention_days,
	onvif_username, onvif_password, has_ptz, created_at, updated_at`

func scanCamera(row interface{ Scan(...any) error }) (*Camera, error) {
	var c Camera
	var location, onvifUser, onvifPass sql.NullString
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.BranchID, &c.Name, &location,
		&c.StreamURL, &c.Protocol, &c.Purpose, &c.Status, &c.StreamStatus,
		&c.IsMonitoring, &c.IsStreaming, &c.IsRecording,
		&c.MotionThreshold, &c.CaptureInterval, &c.RetentionDays,
		&onvifUser, &onvifPass, &c.HasPTZ, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Location = location.String
	c.OnvifUsername = onvifUser.String
	c.OnvifPassword = onvifPass.String
	return &c, nil
}

func (m CameraModel) GetByID(ctx context.Context, id string) (*Camera, error) {
	query := `
		SELECT ` + cameraColumns + `
		FROM cameras
		WHERE id = $1 AND deleted_at IS NULL`

	c, err := scanCamera(m.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return c, nil
}

// ListMonitoring returns cameras whose persisted is_monitoring flag is set.
// Used by the auto-restore pass on process start.
func (m CameraModel) ListMonitoring(ctx context.Context) ([]*Camera, error) {
	query := `
		SELECT ` + cameraColumns + `
		FROM cameras
		WHERE is_monitoring = TRUE AND deleted_at IS NULL
		ORDER BY created_at`

	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cams []*Camera
	for rows.Next() {
		c, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cams = append(cams, c)
	}
	return cams, rows.Err()
}

// SetMonitoring flips the monitoring flag and mirrors the online status.
func (m CameraModel) SetMonitoring(ctx context.Context, id string, monitoring bool) error {
	status := "offline"
	if monitoring {
		status = "online"
	}
	query := `
		UPDATE cameras
		SET is_monitoring = $1, status = $2, updated_at = NOW()
		WHERE id = $3 AND deleted_at IS NULL`

	res, err := m.DB.ExecContext(ctx, query, monitoring, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (m CameraModel) SetStatus(ctx context.Context, id string, status string) error {
	query := `
		UPDATE cameras SET status = $1, updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL`
	_, err := m.DB.ExecContext(ctx, query, status, id)
	return err
}

func (m CameraModel) SetStreamStatus(ctx context.Context, id string, streamStatus string) error {
	query := `
		UPDATE cameras SET stream_status = $1, updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL`
	_, err := m.DB.ExecContext(ctx, query, streamStatus, id)
	return err
}
