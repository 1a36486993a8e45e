// Package monitor runs the per-camera orchestration: a poll loop per
// monitored camera driving motion detection, analysis sessions, detection
// passes and the smart-features engine.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/technosupport/ts-monitor/internal/aggregate"
	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/detect"
	"github.com/technosupport/ts-monitor/internal/events"
	"github.com/technosupport/ts-monitor/internal/frames"
	"github.com/technosupport/ts-monitor/internal/health"
	"github.com/technosupport/ts-monitor/internal/metrics"
	"github.com/technosupport/ts-monitor/internal/motion"
	"github.com/technosupport/ts-monitor/internal/smart"
)

const (
	// DefaultPollInterval is the motion poll cadence.
	DefaultPollInterval = 500 * time.Millisecond

	// NoMotionTimeoutPolls consecutive quiet polls close an active session
	// (~30s of stillness at the default interval).
	NoMotionTimeoutPolls = 60

	// secondaryEvery is the tick cadence for the heavier detectors
	// (fire, plates, behavior, brightness, cross-camera features).
	secondaryEvery = 10

	defaultCaptureInterval = 10 * time.Second
)

// FrameSource is the acquisition surface. frames.Source implements it.
type FrameSource interface {
	FetchSnapshot(ctx context.Context, streamURL string) ([]byte, error)
	StartPersistentGrabber(streamURL string) error
	StopPersistentGrabber(streamURL string)
	ResolveONVIF(ctx context.Context, deviceURL, username, password string) (string, error)
}

// Detector is the inference surface used by the poll loop. detect.Client
// implements it.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]detect.Detection, error)
	DetectFire(ctx context.Context, frame []byte) (*detect.FireResult, error)
	DetectPlates(ctx context.Context, frame []byte) ([]detect.Plate, error)
	AnalyzeBehavior(ctx context.Context, frame []byte, cameraID string) (*detect.BehaviorResult, error)
}

// RuleEngine is the smart-features surface. smart.Engine implements it.
type RuleEngine interface {
	InitCamera(cameraID string)
	CleanupCamera(cameraID string)
	Evaluate(ctx context.Context, in smart.Input)
}

// Aggregators bundles the in-memory consumers of detection output. Any nil
// member is skipped.
type Aggregators struct {
	Heatmap *aggregate.HeatmapGenerator
	People  *aggregate.PeopleCounter
	Shelf   *aggregate.ShelfMonitor
	Tracker *aggregate.CrossCameraTracker
}

// monitorState is the in-memory state for one actively-monitored camera.
// Owned by that camera's poll goroutine; the small mutex covers the fields
// Status() reads concurrently.
type monitorState struct {
	cam          *data.Camera
	substreamURL string

	stop chan struct{}
	done chan struct{}

	prevFrame []byte
	tickCount uint64

	// Detection-pass guard: overlapping ticks never pile up calls.
	inFlight atomic.Bool

	mu              sync.Mutex
	activeSessionID string
	noMotionCount   int
	startedAt       time.Time
	captureStop     chan struct{}
	captureDone     chan struct{}
}

// CameraStatus is the operational view of one monitored camera.
type CameraStatus struct {
	CameraID        string    `json:"camera_id"`
	CameraName      string    `json:"camera_name"`
	StartedAt       time.Time `json:"started_at"`
	ActiveSessionID string    `json:"active_session_id,omitempty"`
	NoMotionCount   int       `json:"no_motion_count"`
}

// CameraMonitor manages the set of monitored cameras. All public methods are
// idempotent and safe for concurrent use.
type CameraMonitor struct {
	cameras    data.CameraRepository
	eventStore data.EventRepository
	source     FrameSource
	detector   Detector
	engine     RuleEngine
	sessions   *SessionManager
	streams    *health.StreamTracker
	agg        Aggregators
	bus        *events.Bus

	pollInterval    time.Duration
	noMotionTimeout int

	mu     sync.Mutex
	states map[string]*monitorState

	restoring atomic.Bool

	now func() time.Time
}

func NewCameraMonitor(
	cameras data.CameraRepository,
	eventStore data.EventRepository,
	source FrameSource,
	detector Detector,
	engine RuleEngine,
	sessions *SessionManager,
	streams *health.StreamTracker,
	agg Aggregators,
	bus *events.Bus,
	pollInterval time.Duration,
) *CameraMonitor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &CameraMonitor{
		cameras:         cameras,
		eventStore:      eventStore,
		source:          source,
		detector:        detector,
		engine:          engine,
		sessions:        sessions,
		streams:         streams,
		agg:             agg,
		bus:             bus,
		pollInterval:    pollInterval,
		noMotionTimeout: NoMotionTimeoutPolls,
		states:          make(map[string]*monitorState),
		now:             time.Now,
	}
}

// StartMonitoring begins polling a camera. Starting an already-monitored
// camera is a no-op.
func (m *CameraMonitor) StartMonitoring(ctx context.Context, cameraID string) error {
	m.mu.Lock()
	if _, running := m.states[cameraID]; running {
		m.mu.Unlock()
		return nil
	}
	// Reserve the slot before the slow work so racing starts collapse.
	placeholder := &monitorState{}
	m.states[cameraID] = placeholder
	m.mu.Unlock()

	st, err := m.initState(ctx, cameraID)
	if err != nil {
		m.mu.Lock()
		if m.states[cameraID] == placeholder {
			delete(m.states, cameraID)
		}
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.states[cameraID] = st
	m.mu.Unlock()

	metrics.CamerasMonitored.Inc()
	log.Printf("[INFO] Monitor (%s): monitoring started (substream %s)", cameraID, st.substreamURL)
	go m.pollLoop(st)
	return nil
}

func (m *CameraMonitor) initState(ctx context.Context, cameraID string) (*monitorState, error) {
	cam, err := m.cameras.GetByID(ctx, cameraID)
	if err != nil {
		return nil, fmt.Errorf("loading camera: %w", err)
	}

	streamURL := cam.StreamURL
	if cam.Protocol == data.ProtocolONVIF {
		streamURL, err = m.source.ResolveONVIF(ctx, cam.StreamURL, cam.OnvifUsername, cam.OnvifPassword)
		if err != nil {
			return nil, fmt.Errorf("resolving onvif stream: %w", err)
		}
		log.Printf("[INFO] Monitor (%s): onvif stream resolved to %s", cameraID, streamURL)
	}

	substream := frames.SubstreamURL(streamURL)
	m.streams.Reset(cameraID)
	if err := m.source.StartPersistentGrabber(substream); err != nil {
		return nil, fmt.Errorf("starting grabber: %w", err)
	}

	m.engine.InitCamera(cameraID)
	if err := m.cameras.SetMonitoring(ctx, cameraID, true); err != nil {
		log.Printf("[ERROR] Monitor (%s): marking monitoring: %v", cameraID, err)
	}

	return &monitorState{
		cam:          cam,
		substreamURL: substream,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		startedAt:    m.now(),
	}, nil
}

// StopMonitoring halts a camera's poll loop, closes any active session and
// releases the grabber reference. Stopping a non-monitored camera is a no-op.
// Returns after the poll goroutine has fully exited.
func (m *CameraMonitor) StopMonitoring(ctx context.Context, cameraID string) error {
	m.mu.Lock()
	st, ok := m.states[cameraID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.states, cameraID)
	m.mu.Unlock()

	if st.stop == nil {
		// Placeholder from a start still in flight; nothing to tear down.
		return nil
	}

	close(st.stop)
	<-st.done

	m.engine.CleanupCamera(cameraID)
	m.source.StopPersistentGrabber(st.substreamURL)
	if err := m.cameras.SetMonitoring(ctx, cameraID, false); err != nil {
		log.Printf("[ERROR] Monitor (%s): clearing monitoring: %v", cameraID, err)
	}
	metrics.CamerasMonitored.Dec()
	log.Printf("[INFO] Monitor (%s): monitoring stopped", cameraID)
	return nil
}

// IsMonitoring reports whether the camera has in-memory monitor state.
func (m *CameraMonitor) IsMonitoring(cameraID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[cameraID]
	return ok
}

// Status returns the operational view of every monitored camera.
func (m *CameraMonitor) Status() []CameraStatus {
	m.mu.Lock()
	states := make([]*monitorState, 0, len(m.states))
	for _, st := range m.states {
		if st.stop != nil {
			states = append(states, st)
		}
	}
	m.mu.Unlock()

	out := make([]CameraStatus, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, CameraStatus{
			CameraID:        st.cam.ID,
			CameraName:      st.cam.Name,
			StartedAt:       st.startedAt,
			ActiveSessionID: st.activeSessionID,
			NoMotionCount:   st.noMotionCount,
		})
		st.mu.Unlock()
	}
	return out
}

// Restore restarts monitoring for every camera whose persisted flag is set
// but which has no in-memory state. Concurrent calls collapse into one.
func (m *CameraMonitor) Restore(ctx context.Context) error {
	if !m.restoring.CompareAndSwap(false, true) {
		return nil
	}
	defer m.restoring.Store(false)

	cams, err := m.cameras.ListMonitoring(ctx)
	if err != nil {
		return fmt.Errorf("listing monitored cameras: %w", err)
	}
	for _, cam := range cams {
		if m.IsMonitoring(cam.ID) {
			continue
		}
		if err := m.StartMonitoring(ctx, cam.ID); err != nil {
			log.Printf("[ERROR] Monitor (%s): restore failed: %v", cam.ID, err)
		}
	}
	return nil
}

// StopAll stops every monitored camera. Used on shutdown.
func (m *CameraMonitor) StopAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.StopMonitoring(ctx, id)
		}(id)
	}
	wg.Wait()
}

func (m *CameraMonitor) pollLoop(st *monitorState) {
	defer close(st.done)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			m.closeSession(context.Background(), st)
			return
		case <-ticker.C:
			m.tick(context.Background(), st)
		}
	}
}

// tick is one poll cycle. Runs only on the camera's poll goroutine.
func (m *CameraMonitor) tick(ctx context.Context, st *monitorState) {
	frame, err := m.source.FetchSnapshot(ctx, st.substreamURL)
	if err != nil {
		m.handleFetchFailure(ctx, st, err)
		return
	}
	m.streams.RecordSuccess(ctx, st.cam)
	metrics.PollTicksTotal.WithLabelValues("ok").Inc()

	if st.prevFrame == nil {
		st.prevFrame = frame
		return
	}

	diff, err := motion.CompareFrames(st.prevFrame, frame)
	st.prevFrame = frame
	if err != nil {
		log.Printf("[WARN] Monitor (%s): comparing frames: %v", st.cam.ID, err)
		return
	}

	m.applyMotion(ctx, st, frame, diff)

	st.tickCount++
	secondary := st.tickCount%secondaryEvery == 0
	if st.inFlight.CompareAndSwap(false, true) {
		go m.detectionPass(st, frame, secondary)
	}
}

// handleFetchFailure skips the tick and, once the backoff window allows,
// attempts a grabber restart. Exhausting the failure budget stops
// monitoring from a detached goroutine.
func (m *CameraMonitor) handleFetchFailure(ctx context.Context, st *monitorState, err error) {
	metrics.PollTicksTotal.WithLabelValues("skip").Inc()
	if errors.Is(err, frames.ErrNoFrameYet) {
		return
	}
	if !m.streams.CanRetry(st.cam.ID) {
		return
	}

	m.source.StopPersistentGrabber(st.substreamURL)
	if rerr := m.source.StartPersistentGrabber(st.substreamURL); rerr != nil {
		log.Printf("[WARN] Monitor (%s): grabber restart: %v", st.cam.ID, rerr)
		if m.streams.RecordFailure(ctx, st.cam) {
			go m.StopMonitoring(context.Background(), st.cam.ID)
		}
	}
}

// applyMotion drives the NoSession/ActiveSession sub-state.
func (m *CameraMonitor) applyMotion(ctx context.Context, st *monitorState, frame []byte, diff float64) {
	moving := diff > st.cam.MotionThreshold

	st.mu.Lock()
	sessionID := st.activeSessionID
	st.mu.Unlock()

	switch {
	case moving && sessionID == "":
		id, err := m.sessions.StartSession(ctx, st.cam, frame, diff)
		if err != nil {
			log.Printf("[ERROR] Monitor (%s): starting session: %v", st.cam.ID, err)
			return
		}
		st.mu.Lock()
		st.activeSessionID = id
		st.noMotionCount = 0
		st.captureStop = make(chan struct{})
		st.captureDone = make(chan struct{})
		captureStop, captureDone := st.captureStop, st.captureDone
		st.mu.Unlock()
		go m.captureLoop(st, id, captureStop, captureDone)

	case moving:
		st.mu.Lock()
		st.noMotionCount = 0
		st.mu.Unlock()

	case sessionID != "":
		st.mu.Lock()
		st.noMotionCount++
		expired := st.noMotionCount >= m.noMotionTimeout
		st.mu.Unlock()
		if expired {
			m.closeSession(ctx, st)
		}
	}
}

// closeSession stops the capture loop and completes the active session.
// No-op without one.
func (m *CameraMonitor) closeSession(ctx context.Context, st *monitorState) {
	st.mu.Lock()
	sessionID := st.activeSessionID
	captureStop, captureDone := st.captureStop, st.captureDone
	st.activeSessionID = ""
	st.noMotionCount = 0
	st.captureStop = nil
	st.captureDone = nil
	st.mu.Unlock()

	if sessionID == "" {
		return
	}
	if captureStop != nil {
		close(captureStop)
		<-captureDone
	}
	if err := m.sessions.EndSession(ctx, st.cam, sessionID); err != nil {
		log.Printf("[ERROR] Monitor (%s): ending session %s: %v", st.cam.ID, sessionID, err)
	}
}

// captureLoop saves a fresh frame into the session on the camera's capture
// interval until stopped.
func (m *CameraMonitor) captureLoop(st *monitorState, sessionID string, stop, done chan struct{}) {
	defer close(done)

	cam := st.cam
	interval := defaultCaptureInterval
	if cam.CaptureInterval > 0 {
		interval = time.Duration(cam.CaptureInterval) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx := context.Background()
			frame, err := m.source.FetchSnapshot(ctx, st.substreamURL)
			if err != nil {
				log.Printf("[WARN] Monitor (%s): capture fetch: %v", cam.ID, err)
				continue
			}
			m.sessions.CaptureFrame(ctx, cam, sessionID, frame)
		}
	}
}
