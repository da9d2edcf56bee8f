package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultSendBuffer is the outbound queue length used when none is given.
const DefaultSendBuffer = 64

// Viewer is one connected realtime client as seen by the Hub.
type Viewer struct {
	id          string
	codec       Codec
	remote      string
	connectedAt time.Time

	// mu guards closed and serialises senders so drop-oldest cannot race
	// another enqueue.
	mu     sync.Mutex
	send   chan []byte
	closed bool

	dropped atomic.Uint64
}

// NewViewer creates a viewer with a fresh ID. A nil codec selects JSON and
// a non-positive buffer selects DefaultSendBuffer.
func NewViewer(codec Codec, buffer int, remote string) *Viewer {
	if codec == nil {
		codec = JSON
	}
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Viewer{
		id:          uuid.NewString(),
		codec:       codec,
		remote:      remote,
		connectedAt: time.Now(),
		send:        make(chan []byte, buffer),
	}
}

// ID returns the viewer's unique identifier.
func (v *Viewer) ID() string { return v.id }

// Codec returns the codec negotiated for this viewer.
func (v *Viewer) Codec() Codec { return v.codec }

// Remote returns the peer address given at creation.
func (v *Viewer) Remote() string { return v.remote }

// ConnectedAt returns when the viewer was created.
func (v *Viewer) ConnectedAt() time.Time { return v.connectedAt }

// Outbound is the queue of encoded frames. It is closed when the hub
// disconnects the viewer.
func (v *Viewer) Outbound() <-chan []byte { return v.send }

// Dropped returns how many frames were discarded because the queue was full.
func (v *Viewer) Dropped() uint64 { return v.dropped.Load() }

// enqueue adds a frame, discarding the oldest queued frame when full.
// It reports false if the viewer is closed.
func (v *Viewer) enqueue(frame []byte) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return false
	}
	for {
		select {
		case v.send <- frame:
			return true
		default:
		}
		select {
		case <-v.send:
			v.dropped.Add(1)
		default:
		}
	}
}

// close closes the outbound queue once. It reports whether this call
// closed it.
func (v *Viewer) close() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return false
	}
	v.closed = true
	close(v.send)
	return true
}

func (v *Viewer) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}
