package aggregate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/detect"
	"github.com/technosupport/ts-monitor/internal/events"
)

const (
	audioHistorySize = 100
	audioHistoryTTL  = time.Hour
	audioCooldown    = 5 * time.Minute
)

type audioClient interface {
	AnalyzeAudio(ctx context.Context, samples []byte, sampleRate int) (*detect.AudioResult, error)
}

// AudioReading is one analyzed audio window.
type AudioReading struct {
	Events []string  `json:"events"`
	RMSDb  float64   `json:"rms_db"`
	PeakDb float64   `json:"peak_db"`
	At     time.Time `json:"at"`
}

// AudioAnalyzer forwards audio windows to the inference service, keeps a
// bounded recent history per camera and raises cooldown-limited alerts when
// the service reports events (glass break, scream, gunshot).
type AudioAnalyzer struct {
	client audioClient
	bus    *events.Bus

	mu        sync.Mutex
	history   map[string][]AudioReading
	lastAlert map[string]time.Time

	now func() time.Time
}

func NewAudioAnalyzer(client audioClient, bus *events.Bus) *AudioAnalyzer {
	return &AudioAnalyzer{
		client:    client,
		bus:       bus,
		history:   make(map[string][]AudioReading),
		lastAlert: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Analyze runs one audio window through the service. Degraded or failed
// calls produce no reading and no alert.
func (a *AudioAnalyzer) Analyze(ctx context.Context, cam *data.Camera, samples []byte, sampleRate int) {
	res, err := a.client.AnalyzeAudio(ctx, samples, sampleRate)
	if err != nil || res == nil {
		return
	}
	now := a.now()

	a.mu.Lock()
	hist := append(a.history[cam.ID], AudioReading{
		Events: res.Events,
		RMSDb:  res.RMSDb,
		PeakDb: res.PeakDb,
		At:     now,
	})
	if len(hist) > audioHistorySize {
		hist = hist[len(hist)-audioHistorySize:]
	}
	a.history[cam.ID] = hist

	alert := len(res.Events) > 0 && now.Sub(a.lastAlert[cam.ID]) >= audioCooldown
	if alert {
		a.lastAlert[cam.ID] = now
	}
	a.mu.Unlock()

	if !alert {
		return
	}
	a.bus.Publish(&events.Event{
		Type:           events.TypeAudioEvent,
		CameraID:       cam.ID,
		OrganizationID: cam.OrganizationID,
		BranchID:       cam.BranchID,
		Severity:       data.SeverityWarning,
		Description:    fmt.Sprintf("Audio event detected: %s", strings.Join(res.Events, ", ")),
		OccurredAt:     now,
		Payload: map[string]any{
			"events":  res.Events,
			"rms_db":  res.RMSDb,
			"peak_db": res.PeakDb,
		},
	})
}

// Recent returns the camera's readings from the last hour, oldest first.
func (a *AudioAnalyzer) Recent(cameraID string) []AudioReading {
	cutoff := a.now().Add(-audioHistoryTTL)

	a.mu.Lock()
	defer a.mu.Unlock()
	hist := a.history[cameraID]
	start := 0
	for start < len(hist) && hist[start].At.Before(cutoff) {
		start++
	}
	a.history[cameraID] = hist[start:]
	return append([]AudioReading(nil), hist[start:]...)
}
