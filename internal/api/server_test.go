package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-monitor/internal/aggregate"
	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/detect"
	"github.com/technosupport/ts-monitor/internal/events"
	"github.com/technosupport/ts-monitor/internal/genai"
	"github.com/technosupport/ts-monitor/internal/health"
	"github.com/technosupport/ts-monitor/internal/monitor"
	"github.com/technosupport/ts-monitor/internal/smart"
)

type stubCameraRepo struct {
	camera *data.Camera
}

func (r *stubCameraRepo) GetByID(ctx context.Context, id string) (*data.Camera, error) {
	if r.camera == nil || r.camera.ID != id {
		return nil, data.ErrRecordNotFound
	}
	cp := *r.camera
	return &cp, nil
}

func (r *stubCameraRepo) ListMonitoring(ctx context.Context) ([]*data.Camera, error) { return nil, nil }
func (r *stubCameraRepo) SetMonitoring(ctx context.Context, id string, monitoring bool) error {
	return nil
}
func (r *stubCameraRepo) SetStatus(ctx context.Context, id string, status string) error { return nil }
func (r *stubCameraRepo) SetStreamStatus(ctx context.Context, id string, streamStatus string) error {
	return nil
}

type stubSessionRepo struct{}

func (stubSessionRepo) CreateSession(ctx context.Context, s *data.AnalysisSession) error { return nil }
func (stubSessionRepo) EndSession(ctx context.Context, id string) error                  { return nil }
func (stubSessionRepo) SetSummary(ctx context.Context, id string, summary string) error  { return nil }
func (stubSessionRepo) GetSession(ctx context.Context, id string) (*data.AnalysisSession, error) {
	return nil, data.ErrRecordNotFound
}
func (stubSessionRepo) CreateFrame(ctx context.Context, f *data.AnalysisFrame) error { return nil }
func (stubSessionRepo) UpdateFrameAnalysis(ctx context.Context, id string, description string, peopleCount int, objects []string) error {
	return nil
}
func (stubSessionRepo) ListFrames(ctx context.Context, sessionID string) ([]*data.AnalysisFrame, error) {
	return nil, nil
}

type stubEventRepo struct{}

func (stubEventRepo) CreateEvent(ctx context.Context, e *data.Event) error { return nil }

type stubSource struct{}

func (stubSource) FetchSnapshot(ctx context.Context, streamURL string) ([]byte, error) {
	return nil, context.DeadlineExceeded
}
func (stubSource) StartPersistentGrabber(streamURL string) error { return nil }
func (stubSource) StopPersistentGrabber(streamURL string)        {}
func (stubSource) ResolveONVIF(ctx context.Context, deviceURL, username, password string) (string, error) {
	return deviceURL, nil
}

type stubDetector struct{}

func (stubDetector) Detect(ctx context.Context, frame []byte) ([]detect.Detection, error) {
	return nil, nil
}
func (stubDetector) DetectFire(ctx context.Context, frame []byte) (*detect.FireResult, error) {
	return nil, nil
}
func (stubDetector) DetectPlates(ctx context.Context, frame []byte) ([]detect.Plate, error) {
	return nil, nil
}
func (stubDetector) AnalyzeBehavior(ctx context.Context, frame []byte, cameraID string) (*detect.BehaviorResult, error) {
	return nil, nil
}
func (stubDetector) AnalyzeAudio(ctx context.Context, samples []byte, sampleRate int) (*detect.AudioResult, error) {
	return &detect.AudioResult{Events: []string{"glass_break"}, RMSDb: -18, PeakDb: -6}, nil
}

type stubEngine struct{}

func (stubEngine) InitCamera(cameraID string)                   {}
func (stubEngine) CleanupCamera(cameraID string)                {}
func (stubEngine) Evaluate(ctx context.Context, in smart.Input) {}

type stubFeatureClient struct{}

func (stubFeatureClient) ExtractFeatures(ctx context.Context, frame []byte, cameraID string) ([]detect.FeatureVector, error) {
	return nil, nil
}
func (stubFeatureClient) MatchPersons(ctx context.Context, a, b []detect.FeatureVector, threshold float64) ([]detect.PersonMatch, error) {
	return nil, nil
}

func testServer(t *testing.T, camera *data.Camera) (*Server, *events.Bus, *aggregate.HeatmapGenerator, *aggregate.PeopleCounter) {
	t.Helper()
	bus := events.NewBus()
	cams := &stubCameraRepo{camera: camera}
	eventRepo := stubEventRepo{}
	sm := monitor.NewSessionManager(stubSessionRepo{}, eventRepo, bus, genai.NewClient("", ""), t.TempDir())
	tracker := health.NewStreamTracker(cams, eventRepo, bus, 5)

	heatmap := aggregate.NewHeatmapGenerator()
	people := aggregate.NewPeopleCounter()
	crossCam := aggregate.NewCrossCameraTracker(stubFeatureClient{})
	shelf := aggregate.NewShelfMonitor(bus)
	audio := aggregate.NewAudioAnalyzer(stubDetector{}, bus)

	mon := monitor.NewCameraMonitor(cams, eventRepo, stubSource{}, stubDetector{}, stubEngine{},
		sm, tracker, monitor.Aggregators{Heatmap: heatmap, People: people}, bus, time.Hour)
	t.Cleanup(func() { mon.StopAll(context.Background()) })

	srv := NewServer(mon, bus, cams, Aggregates{
		Heatmap: heatmap,
		People:  people,
		Shelf:   shelf,
		Audio:   audio,
		Tracker: crossCam,
	})
	return srv, bus, heatmap, people
}

func TestMonitorStartUnknownCamera(t *testing.T) {
	srv, _, _, _ := testServer(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cameras/nope/monitor/start", nil)
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMonitorStartStopStatus(t *testing.T) {
	srv, _, _, _ := testServer(t, &data.Camera{
		ID:        "cam-1",
		Name:      "Front Door",
		StreamURL: "rtsp://host/stream1",
	})
	router := srv.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cameras/cam-1/monitor/start", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/monitor/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Count   int `json:"count"`
		Cameras []struct {
			CameraID string `json:"camera_id"`
		} `json:"cameras"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Count)
	require.Len(t, status.Cameras, 1)
	assert.Equal(t, "cam-1", status.Cameras[0].CameraID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cameras/cam-1/monitor/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/monitor/status", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 0, status.Count)
}

func TestHeatmapReadAndReset(t *testing.T) {
	srv, _, heatmap, _ := testServer(t, nil)
	router := srv.Router()
	heatmap.Record("cam-1", 0.5, 0.5)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cameras/cam-1/heatmap", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var payload aggregate.HeatmapData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, aggregate.HeatmapCols, payload.Cols)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cameras/cam-1/heatmap/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cameras/cam-1/heatmap", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	for _, row := range payload.Raw {
		for _, v := range row {
			assert.Zero(t, v)
		}
	}
}

func TestPeopleEndpoints(t *testing.T) {
	srv, _, _, people := testServer(t, nil)
	router := srv.Router()

	today := time.Now().Format("2006-01-02")
	people.Record("cam-1", 5, time.Now())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cameras/cam-1/people/hourly?date="+today, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cameras/cam-1/people/hourly?date=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cameras/cam-1/people/daily?days=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cameras/cam-1/people/daily?days=3", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShelfConfigureAndHistory(t *testing.T) {
	srv, _, _, _ := testServer(t, nil)
	router := srv.Router()

	body := strings.NewReader(`{"x":0.1,"y":0.2,"width":0.5,"height":0.3,"min_fullness":0.4}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/cameras/cam-1/shelf", body))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cameras/cam-1/shelf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"readings"`)
}

func TestShelfRejectsEmptyRegion(t *testing.T) {
	srv, _, _, _ := testServer(t, nil)
	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"x":0.1,"y":0.2,"width":0,"height":0.3}`)
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/cameras/cam-1/shelf", body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAudioAnalyze(t *testing.T) {
	srv, bus, _, _ := testServer(t, &data.Camera{ID: "cam-1", OrganizationID: "org-1", BranchID: "branch-1"})
	router := srv.Router()

	ch, unsub := bus.SubscribeChannel(8)
	defer unsub()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cameras/cam-1/audio?sample_rate=44100",
		strings.NewReader("pcm-bytes"))
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "glass_break")

	select {
	case evt := <-ch:
		assert.Equal(t, events.TypeAudioEvent, evt.Type)
		assert.Equal(t, "cam-1", evt.CameraID)
	default:
		t.Fatal("expected an audio event on the bus")
	}
}

func TestAudioAnalyzeUnknownCamera(t *testing.T) {
	srv, _, _, _ := testServer(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cameras/nope/audio", strings.NewReader("pcm"))
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAudioAnalyzeEmptyBody(t *testing.T) {
	srv, _, _, _ := testServer(t, &data.Camera{ID: "cam-1"})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cameras/cam-1/audio", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := testServer(t, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSSEStreamDeliversEvents(t *testing.T) {
	srv, bus, _, _ := testServer(t, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the handler a moment to register its subscription.
	require.Eventually(t, func() bool { return bus.SubscriberCount() > 0 },
		time.Second, 10*time.Millisecond)

	bus.Publish(&events.Event{
		Type:     events.TypeMotionDetected,
		CameraID: "cam-1",
		Severity: data.SeverityInfo,
	})

	reader := bufio.NewReader(resp.Body)
	var sawEvent, sawData bool
	for !sawData {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: motion_detected") {
			sawEvent = true
		}
		if strings.HasPrefix(line, "data: ") {
			assert.Contains(t, line, `"camera_id":"cam-1"`)
			sawData = true
		}
	}
	assert.True(t, sawEvent)
}
