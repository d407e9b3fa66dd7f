// Package vision implements the detection and occupancy reconciliation
// engine: per-camera detection state with observer fan-out, threat verdict
// caching, display/frame coordinate mapping, zone occupancy reconciliation
// and the threat escalation pipeline.
package vision

import "time"

// BoxCategory classifies a bounding box beyond its raw detector label.
type BoxCategory string

const (
	// CategoryThreat marks a box the detector flagged as a weapon or threat.
	CategoryThreat BoxCategory = "threat"
	// CategorySuspicious marks a box that warrants secondary classification.
	CategorySuspicious BoxCategory = "suspicious"
)

// BoundingBox is a detector-reported box in frame-space pixels.
// Invariant: X1 < X2 and Y1 < Y2, bounded by the native frame dimensions.
type BoundingBox struct {
	X1         float64     `json:"x1"`
	Y1         float64     `json:"y1"`
	X2         float64     `json:"x2"`
	Y2         float64     `json:"y2"`
	Confidence float64     `json:"confidence"`
	Label      string      `json:"label"`
	Category   BoxCategory `json:"category,omitempty"`

	// TrackID is the detector-assigned stable identity across frames.
	// Zero-valued pointer means the detector did not track this box.
	TrackID *int64 `json:"track_id,omitempty"`

	// LLMFalsePositive is the per-box classification verdict. Nil until the
	// secondary classifier has ruled on this track.
	LLMFalsePositive *bool `json:"llm_false_positive,omitempty"`
}

// CenterX returns the horizontal center of the box in frame space.
func (b BoundingBox) CenterX() float64 { return (b.X1 + b.X2) / 2 }

// CenterY returns the vertical center of the box in frame space.
func (b BoundingBox) CenterY() float64 { return (b.Y1 + b.Y2) / 2 }

// DetectionResult is one frame's worth of detector output for a camera.
type DetectionResult struct {
	PeopleCount int           `json:"people_count"`
	Detections  []BoundingBox `json:"detections"`
	Threats     []BoundingBox `json:"threats"`
	HasThreat   bool          `json:"has_threat"`

	// Camera-level classifier verdict. The classifier emits this once per
	// escalation, not once per frame, so it is usually nil.
	LLMIsFalsePositive *bool    `json:"llm_is_false_positive,omitempty"`
	LLMConfidence      *float64 `json:"llm_confidence,omitempty"`

	// Backend-computed zone counters. Present only when the perception
	// service performs zone counting itself; when set the reconciler treats
	// them as authoritative and skips the local geometric test.
	CurrentOccupancy *int `json:"current_occupancy,omitempty"`
	EntryCount       *int `json:"entry_count,omitempty"`
	ExitCount        *int `json:"exit_count,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// CameraState is the engine's view of one camera source.
type CameraState struct {
	Camera    string          `json:"camera"`
	Result    DetectionResult `json:"result"`
	InFlight  bool            `json:"in_flight"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Rect is an axis-aligned rectangle. Used for both display-space and
// frame-space geometry.
type Rect struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns X2-X1.
func (r Rect) Width() float64 { return r.X2 - r.X1 }

// Height returns Y2-Y1.
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }

// Point is a single coordinate pair in either space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Zone is a user-drawn region of interest associated with a camera.
//
// The display rect is what the user drew on the rendered video surface.
// Frame holds the same rectangle resolved into frame space; it is nil until
// resolution happens (either persisted from a previous resolution or mapped
// live against the camera's display surface). A zone with no resolved frame
// rect is excluded from geometric tests rather than guessed at.
type Zone struct {
	ID      string `json:"id"`
	Camera  string `json:"camera"`
	Name    string `json:"name"`
	Display Rect   `json:"display"`
	Frame   *Rect  `json:"frame,omitempty"`
	DoorID  string `json:"door_id,omitempty"`

	CreatedAtNs int64 `json:"created_at_ns"`
}

// Contains reports whether a frame-space point falls inside the zone's
// resolved frame rect. Bounds are inclusive: a point exactly on the edge
// counts as inside. Returns false when the zone is unresolved.
func (z *Zone) Contains(p Point) bool {
	if z.Frame == nil {
		return false
	}
	f := z.Frame
	minX, maxX := f.X1, f.X2
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY := f.Y1, f.Y2
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	return p.X >= minX && p.X <= maxX && p.Y >= minY && p.Y <= maxY
}

// DisplaySurface describes where a camera's video is currently rendered and
// the native resolution of its frames. FrameWidth/FrameHeight of zero means
// the decoder has not reported dimensions yet.
type DisplaySurface struct {
	Rect        Rect    `json:"rect"`
	FrameWidth  float64 `json:"frame_width"`
	FrameHeight float64 `json:"frame_height"`
}

// SurfaceInspector reports the current display surface for a camera. The
// renderer itself is out of scope; implementations typically proxy whatever
// the frontend last measured.
type SurfaceInspector interface {
	Surface(camera string) (DisplaySurface, bool)
}
