package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	meta := json.RawMessage(`{"motion_level":42.5}`)
	mock.ExpectExec("INSERT INTO events").
		WithArgs("evt-1", "cam-1", "org-1", "branch-1", "motion_detected",
			SeverityInfo, "Motion detected", nil, []byte(meta), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := EventModel{DB: db}
	require.NoError(t, m.CreateEvent(context.Background(), &Event{
		ID:             "evt-1",
		CameraID:       "cam-1",
		OrganizationID: "org-1",
		BranchID:       "branch-1",
		Type:           "motion_detected",
		Severity:       SeverityInfo,
		Description:    "Motion detected",
		Metadata:       meta,
		CreatedAt:      now,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Nil metadata must be stored as an empty JSON object, not SQL NULL.
func TestCreateEventDefaultsMetadata(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectExec("INSERT INTO events").
		WithArgs("evt-2", "cam-1", "org-1", "branch-1", "stream_failed",
			SeverityCritical, "Stream failed", nil, []byte("{}"), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := EventModel{DB: db}
	require.NoError(t, m.CreateEvent(context.Background(), &Event{
		ID:             "evt-2",
		CameraID:       "cam-1",
		OrganizationID: "org-1",
		BranchID:       "branch-1",
		Type:           "stream_failed",
		Severity:       SeverityCritical,
		Description:    "Stream failed",
		CreatedAt:      now,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
