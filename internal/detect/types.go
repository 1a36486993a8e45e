package detect

// BBox is a normalized bounding box: coordinates and sizes in 0..1 of the
// frame dimensions, so downstream consumers are independent of stream
// resolution.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CenterX and CenterY return the box center in normalized coordinates.
func (b BBox) CenterX() float64 { return b.X + b.Width/2 }
func (b BBox) CenterY() float64 { return b.Y + b.Height/2 }

// Detection is one detected object.
type Detection struct {
	Type       string  `json:"type"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// IsPerson reports whether the detection is a person.
func (d Detection) IsPerson() bool { return d.Label == "person" }

// IsVehicle reports whether the detection is a vehicle class.
func (d Detection) IsVehicle() bool {
	switch d.Label {
	case "car", "truck", "bus", "motorcycle", "bicycle":
		return true
	}
	return false
}

type FireResult struct {
	FireDetected   bool    `json:"fire_detected"`
	FireConfidence float64 `json:"fire_confidence"`
	SmokeDetected  bool    `json:"smoke_detected"`
	Regions        []BBox  `json:"regions,omitempty"`
}

type Plate struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

type BehaviorResult struct {
	Behaviors    []string  `json:"behaviors"`
	Speeds       []float64 `json:"speeds,omitempty"`
	CrowdDensity float64   `json:"crowd_density"`
	Loitering    bool      `json:"loitering"`
}

type AudioResult struct {
	Events []string `json:"events"`
	RMSDb  float64  `json:"rms_db"`
	PeakDb float64  `json:"peak_db"`
}

// FeatureVector is one person's appearance embedding for cross-camera
// matching.
type FeatureVector struct {
	PersonIndex int       `json:"person_index"`
	Vector      []float64 `json:"vector"`
	BBox        BBox      `json:"bbox"`
}

type PersonMatch struct {
	IndexA int     `json:"index_a"`
	IndexB int     `json:"index_b"`
	Score  float64 `json:"score"`
}
