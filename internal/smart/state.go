package smart

import (
	"sync"
	"time"

	"github.com/technosupport/ts-monitor/internal/detect"
)

// trackedObject is one candidate abandoned object. There is no persistent
// identity: new detections are matched to tracked entries purely by
// bounding-box proximity, which can merge close objects or lose tracking
// across occlusions. Source behavior, kept as-is.
type trackedObject struct {
	Label     string
	BBox      detect.BBox
	FirstSeen time.Time
	AlertSent bool
	seen      bool // seen during the current evaluation pass
}

// cameraState holds all per-camera feature sub-state. Each sub-state machine
// resets independently when its triggering condition clears. Owned by the
// engine; a mutex guards it because evaluations may arrive from detached
// detection goroutines.
type cameraState struct {
	mu sync.Mutex

	// Cooldown gate, keyed by feature type. Measured from last alert.
	lastAlert map[string]time.Time

	// Workstation occupancy episode.
	workstationEmptySince time.Time
	workstationAlerted    bool

	// Loitering episode.
	loiterSince   time.Time
	loiterAlerted bool

	// Abandoned-object tracking.
	tracked []*trackedObject

	// Fall detection: previous frame's person boxes. Refreshed every tick
	// even while the fall cooldown suppresses comparisons.
	prevPersons []detect.BBox

	// Tamper detection.
	prevBrightness    float64
	hasPrevBrightness bool
	darkFrames        int
	brightFrames      int
}

func newCameraState() *cameraState {
	return &cameraState{lastAlert: make(map[string]time.Time)}
}
