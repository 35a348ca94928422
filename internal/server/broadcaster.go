package server

import (
	"context"
	"sync"
	"time"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/alert"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/logger"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/metrics"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/pipeline"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// idlePoll bounds how long the loop sleeps between client checks.
const idlePoll = 100 * time.Millisecond

// Frames yields framed MJPEG parts. *pipeline.Pipeline implements it.
type Frames interface {
	Next(ctx context.Context) ([]byte, error)
}

// FrameBroadcaster runs the single acquisition loop and fans parts out to
// stream clients. It is the only caller of Frames.Next, so camera reads are
// never concurrent.
type FrameBroadcaster struct {
	mu         sync.Mutex
	clients    map[string]chan []byte
	order      []string // subscription order, oldest first
	maxClients int
	frames     Frames
	state      *alert.State
	metrics    *metrics.Metrics
	wake       chan struct{}
	stop       chan struct{}
	stopped    bool
	idleCount  int
}

// NewFrameBroadcaster creates a broadcaster pulling from frames. maxClients
// <= 0 means one client. m may be nil.
func NewFrameBroadcaster(frames Frames, state *alert.State, m *metrics.Metrics, maxClients int) *FrameBroadcaster {
	if maxClients <= 0 {
		maxClients = 1
	}
	return &FrameBroadcaster{
		clients:    make(map[string]chan []byte),
		maxClients: maxClients,
		frames:     frames,
		state:      state,
		metrics:    m,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

// Subscribe adds a client and returns its session id and part channel.
// At the client limit the oldest client is evicted and its channel closed.
// While the camera is offline, or after Stop, the channel is already closed
// and the client receives an empty stream.
func (fb *FrameBroadcaster) Subscribe() (string, <-chan []byte) {
	id := uuid.NewString()

	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.stopped || !fb.state.Online() {
		ch := make(chan []byte)
		close(ch)
		logger.Debug("FrameBroadcaster", "Client %s subscribed while camera offline", id)
		return id, ch
	}

	for len(fb.clients) >= fb.maxClients {
		oldest := fb.order[0]
		fb.removeLocked(oldest)
		if fb.metrics != nil {
			fb.metrics.EvictedClients.Add(1)
		}
		logger.Info("FrameBroadcaster", "Client %s replaced by %s (limit %d reached)", oldest, id, fb.maxClients)
	}

	// One hand-off slot per client; a busy client skips frames.
	ch := make(chan []byte, 1)
	fb.clients[id] = ch
	fb.order = append(fb.order, id)
	if fb.metrics != nil {
		fb.metrics.ActiveClients.Add(1)
		fb.metrics.TotalClients.Add(1)
	}

	select {
	case fb.wake <- struct{}{}:
	default:
	}

	logger.Debug("FrameBroadcaster", "Client %s subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client. Unknown ids are ignored.
func (fb *FrameBroadcaster) Unsubscribe(id string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.removeLocked(id) {
		logger.Debug("FrameBroadcaster", "Client %s unsubscribed (remaining clients: %d)", id, len(fb.clients))
		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "No clients remaining - camera reads paused")
		}
	}
}

func (fb *FrameBroadcaster) removeLocked(id string) bool {
	ch, ok := fb.clients[id]
	if !ok {
		return false
	}
	close(ch)
	delete(fb.clients, id)
	fb.order = lo.Without(fb.order, id)
	if fb.metrics != nil {
		fb.metrics.ActiveClients.Add(-1)
	}
	return true
}

// ClientCount returns the number of subscribed clients
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Start runs the loop in a new goroutine.
func (fb *FrameBroadcaster) Start(ctx context.Context) {
	go fb.Run(ctx)
}

// Stop halts the loop and closes every client.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	if !fb.stopped {
		close(fb.stop)
		fb.stopped = true
	}
	fb.mu.Unlock()
}

// Run pulls parts while clients are subscribed and idles otherwise. A camera
// end or backend error closes the current clients; the loop keeps running
// so later clients get the right response for the state at that time.
func (fb *FrameBroadcaster) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-fb.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	defer fb.closeAll()

	for {
		if ctx.Err() != nil {
			return
		}

		if fb.ClientCount() == 0 {
			fb.idle(ctx)
			continue
		}
		fb.idleCount = 0

		part, err := fb.frames.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if pipeline.Ended(err) {
				logger.Info("FrameBroadcaster", "Stream ended: %v", err)
			} else {
				logger.Error("FrameBroadcaster", "Stream aborted: %v", err)
			}
			fb.closeAll()
			continue
		}

		fb.broadcast(part)
	}
}

func (fb *FrameBroadcaster) idle(ctx context.Context) {
	fb.idleCount++
	if fb.idleCount%100 == 0 {
		logger.Debug("FrameBroadcaster", "No clients connected, sleeping (idle for %d cycles)", fb.idleCount)
	}

	timer := time.NewTimer(idlePoll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-fb.wake:
	case <-timer.C:
	}
}

func (fb *FrameBroadcaster) broadcast(part []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- part:
			if fb.metrics != nil {
				fb.metrics.FramesStreamed.Add(1)
			}
		default:
			// Client too slow, skip this frame for this client
			if fb.metrics != nil {
				fb.metrics.FramesDropped.Add(1)
			}
		}
	}
}

func (fb *FrameBroadcaster) closeAll() {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for id := range fb.clients {
		fb.removeLocked(id)
	}
}
