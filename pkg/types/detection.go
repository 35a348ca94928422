package types

// CameraStatus is the process-wide availability of the capture device.
type CameraStatus string

const (
	CameraOffline CameraStatus = "offline"
	CameraOnline  CameraStatus = "online"
)

// BoundingBox is a detection rectangle in pixel coordinates (corner form).
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Detection is one labeled object instance returned by a backend for a frame.
type Detection struct {
	ClassID    int         `json:"class_id"`
	Label      string      `json:"label"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// Severity classifies a detection label
type Severity int

const (
	SeverityNonCritical Severity = iota
	SeverityCritical
)

// String returns the severity name
func (s Severity) String() string {
	if s == SeverityCritical {
		return "critical"
	}
	return "non-critical"
}

// ClassifiedDetection pairs a detection with its derived severity
type ClassifiedDetection struct {
	Detection
	Severity Severity
}
