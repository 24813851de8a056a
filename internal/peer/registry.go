package peer

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ponswarp/ponswarp-signaling/internal/protocol"
)

var ErrDuplicateID = errors.New("peer id already registered")

// NewID returns a fresh peer identity.
func NewID() string {
	return uuid.NewString()
}

// Registry maps peer identities to live sessions.
type Registry struct {
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		now:      now,
		sessions: make(map[string]*Session),
	}
}

// Register adds a session for id and queues Connected{socket_id} on its
// outbox.
func (r *Registry) Register(id string, outbox *Outbox) (*Session, error) {
	s := &Session{
		id:          id,
		connectedAt: r.now(),
		outbox:      outbox,
	}

	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return nil, ErrDuplicateID
	}
	r.sessions[id] = s
	r.mu.Unlock()

	s.Send(protocol.Connected(id))
	return s, nil
}

// Unregister removes id and returns the room the peer was in. ok is false if
// id was not registered, so callers run leave handling at most once per peer.
func (r *Registry) Unregister(id string) (room string, ok bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	room, _ = s.close()
	return room, true
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// SetRoom overwrites the room recorded for id.
func (r *Registry) SetRoom(id, room string) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrSessionClosed
	}
	return s.AssignRoom(func(string) (string, error) { return room, nil })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IDs returns the registered identities in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
