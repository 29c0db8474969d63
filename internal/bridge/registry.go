package bridge

import (
	"sync"

	"github.com/JulianRyder01/resonance/internal/agent"
)

// Event is one broadcastable unit of a turn's progress: either a streamed
// response chunk or the turn's terminal "done" marker.
type Event struct {
	SessionID string
	Chunk     *agent.ResponseChunk
	Done      bool
}

// ClientHandle is anything that wants a session's turn events pushed to it
// (an SSE connection, a CLI's stdout writer, a test probe). Send must not
// block indefinitely; a handle that blocks or errors is dropped from the
// registry so one stuck client cannot stall a turn for every other
// subscriber.
type ClientHandle interface {
	Send(event Event) error
}

// ClientRegistry tracks which handles are watching which session, mirroring
// the teacher's BroadcastManager fan-out but keyed by session rather than
// by a fixed broadcast-group peer list.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string][]ClientHandle
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string][]ClientHandle)}
}

// Register subscribes handle to sessionID's events.
func (r *ClientRegistry) Register(sessionID string, handle ClientHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[sessionID] = append(r.clients[sessionID], handle)
}

// Unregister removes handle from sessionID's subscriber list.
func (r *ClientRegistry) Unregister(sessionID string, handle ClientHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	handles := r.clients[sessionID]
	for i, h := range handles {
		if h == handle {
			r.clients[sessionID] = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(r.clients[sessionID]) == 0 {
		delete(r.clients, sessionID)
	}
}

// Broadcast sends event to every handle watching sessionID, dropping any
// handle whose Send returns an error (treated as a disconnect).
func (r *ClientRegistry) Broadcast(sessionID string, event Event) {
	r.mu.RLock()
	handles := make([]ClientHandle, len(r.clients[sessionID]))
	copy(handles, r.clients[sessionID])
	r.mu.RUnlock()

	for _, h := range handles {
		if err := h.Send(event); err != nil {
			r.Unregister(sessionID, h)
		}
	}
}
