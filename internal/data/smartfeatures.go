package data

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

// Smart feature types.
const (
	FeatureQueueMonitor       = "queue_monitor"
	FeatureWorkstationMonitor = "workstation_monitor"
	FeatureLoitering          = "loitering"
	FeatureAbandonedObject    = "abandoned_object"
	FeatureFallDetection      = "fall_detection"
	FeatureTamperDetection    = "tamper_detection"
)

// SmartFeature is one per-camera alerting rule. The raw JSON config column is
// parsed into the typed variant at load time so threshold errors surface here
// instead of inside the evaluation loop.
type SmartFeature struct {
	ID            string    `json:"id"`
	CameraID      string    `json:"camera_id"`
	FeatureType   string    `json:"feature_type"`
	Enabled       bool      `json:"enabled"`
	IntegrationID *string   `json:"integration_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`

	Queue       *QueueConfig       `json:"queue_config,omitempty"`
	Workstation *WorkstationConfig `json:"workstation_config,omitempty"`
	Loitering   *LoiteringConfig   `json:"loitering_config,omitempty"`
	Abandoned   *AbandonedConfig   `json:"abandoned_config,omitempty"`
	Fall        *FallConfig        `json:"fall_config,omitempty"`
	Tamper      *TamperConfig      `json:"tamper_config,omitempty"`
}

type QueueConfig struct {
	MaxQueueLength int `json:"max_queue_length"`
}

type WorkstationConfig struct {
	MinStaff       int `json:"min_staff"`
	AbsenceSeconds int `json:"absence_seconds"`
}

type LoiteringConfig struct {
	DurationSeconds int `json:"duration_seconds"`
}

type AbandonedConfig struct {
	DurationSeconds int `json:"duration_seconds"`
}

type FallConfig struct {
	// No tunables today; presence of the row enables the detector.
}

type TamperConfig struct {
	// No tunables today.
}

// parseFeatureConfig fills the typed variant for the row's feature type.
func parseFeatureConfig(f *SmartFeature, raw []byte) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	var err error
	switch f.FeatureType {
	case FeatureQueueMonitor:
		cfg := &QueueConfig{MaxQueueLength: 5}
		err = json.Unmarshal(raw, cfg)
		if err == nil && cfg.MaxQueueLength <= 0 {
			err = fmt.Errorf("max_queue_length must be positive")
		}
		f.Queue = cfg
	case FeatureWorkstationMonitor:
		cfg := &WorkstationConfig{MinStaff: 1, AbsenceSeconds: 120}
		err = json.Unmarshal(raw, cfg)
		if err == nil && (cfg.MinStaff <= 0 || cfg.AbsenceSeconds <= 0) {
			err = fmt.Errorf("min_staff and absence_seconds must be positive")
		}
		f.Workstation = cfg
	case FeatureLoitering:
		cfg := &LoiteringConfig{DurationSeconds: 300}
		err = json.Unmarshal(raw, cfg)
		if err == nil && cfg.DurationSeconds <= 0 {
			err = fmt.Errorf("duration_seconds must be positive")
		}
		f.Loitering = cfg
	case FeatureAbandonedObject:
		cfg := &AbandonedConfig{DurationSeconds: 120}
		err = json.Unmarshal(raw, cfg)
		if err == nil && cfg.DurationSeconds <= 0 {
			err = fmt.Errorf("duration_seconds must be positive")
		}
		f.Abandoned = cfg
	case FeatureFallDetection:
		f.Fall = &FallConfig{}
	case FeatureTamperDetection:
		f.Tamper = &TamperConfig{}
	default:
		return fmt.Errorf("unknown feature type %q", f.FeatureType)
	}
	if err != nil {
		return fmt.Errorf("feature %s config: %w", f.FeatureType, err)
	}
	return nil
}

type SmartFeatureModel struct {
	DB DBTX
}

// ListEnabled returns the enabled features for a camera with configs parsed.
// Rows with invalid config are logged and skipped rather than failing the
// whole load;
// the engine treats a malformed row the same as a disabled one.
func (m SmartFeatureModel) ListEnabled(ctx context.Context, cameraID string) ([]*SmartFeature, error) {
	query := `
		SELECT id, camera_id, feature_type, enabled, integration_id, config, created_at
		FROM smart_features
		WHERE camera_id = $1 AND enabled = TRUE`

	rows, err := m.DB.QueryContext(ctx, query, cameraID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var features []*SmartFeature
	for rows.Next() {
		var f SmartFeature
		var raw []byte
		if err := rows.Scan(&f.ID, &f.CameraID, &f.FeatureType, &f.Enabled, &f.IntegrationID, &raw, &f.CreatedAt); err != nil {
			return nil, err
		}
		if err := parseFeatureConfig(&f, raw); err != nil {
			log.Printf("[WARN] SmartFeatures (%s): skipping feature %s: %v", cameraID, f.ID, err)
			continue
		}
		features = append(features, &f)
	}
	return features, rows.Err()
}
