package alert

import (
	"sync"

	"github.com/dj-oyu/threat-cam/streaming-server/pkg/types"
)

// Snapshot is a consistent copy of the alert message and camera status.
type Snapshot struct {
	Message      string             `json:"message"`
	CameraStatus types.CameraStatus `json:"camera_status"`
}

// State is the alert state shared by the acquisition supervisor, the frame
// pipeline and the HTTP handlers. Message and status sit behind one mutex so
// a reader never sees one field updated without the other.
type State struct {
	mu      sync.Mutex
	message string
	status  types.CameraStatus

	// wentOnline keeps the status machine one-way: offline -> online
	// happens at most once per process.
	wentOnline bool
	version    uint64
}

// NewState returns a State with the default message and an offline camera.
func NewState() *State {
	return &State{
		message: DefaultMessage,
		status:  types.CameraOffline,
	}
}

// Snapshot returns the current message and camera status.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Message: s.message, CameraStatus: s.status}
}

// Status returns the current camera status.
func (s *State) Status() types.CameraStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Online reports whether the camera is online.
func (s *State) Online() bool {
	return s.Status() == types.CameraOnline
}

// Version increases on every change to message or status.
func (s *State) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// MarkOnline moves the camera offline -> online. It reports false without
// changing anything if the camera has been online before in this process.
func (s *State) MarkOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wentOnline {
		return false
	}
	s.wentOnline = true
	s.status = types.CameraOnline
	s.version++
	return true
}

// MarkOffline moves the camera online -> offline. The offline state is
// terminal: a later MarkOnline is refused.
func (s *State) MarkOffline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == types.CameraOffline {
		return false
	}
	s.status = types.CameraOffline
	s.version++
	return true
}

// Apply replaces the alert message from one frame's detections: the message
// resets to DefaultMessage and each critical detection overwrites it in
// order, so the last critical detection wins. It returns the classified
// detections for rendering.
func (s *State) Apply(detections []types.Detection) []types.ClassifiedDetection {
	classified := ClassifyAll(detections)

	s.mu.Lock()
	defer s.mu.Unlock()

	message := DefaultMessage
	for _, d := range classified {
		if d.Severity == types.SeverityCritical {
			message = Message(d.Label)
		}
	}
	if message != s.message {
		s.message = message
		s.version++
	}
	return classified
}
