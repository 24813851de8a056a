package peer

import (
	"errors"
	"sync"
	"time"

	"github.com/ponswarp/ponswarp-signaling/internal/protocol"
)

var ErrSessionClosed = errors.New("peer session closed")

// Session is the server-side state of one connected peer.
type Session struct {
	id          string
	connectedAt time.Time
	outbox      *Outbox

	mu     sync.RWMutex
	room   string
	closed bool
}

func (s *Session) ID() string             { return s.id }
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }
func (s *Session) Outbox() *Outbox        { return s.outbox }

// Room returns the room the peer is in, or "" when it has not joined one.
func (s *Session) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

// Send queues msg for delivery. It never blocks.
func (s *Session) Send(msg protocol.ServerMessage) bool {
	return s.outbox.Push(msg)
}

// AssignRoom runs fn with the current room while holding the session lock and
// stores the room fn returns. Room membership changes made inside fn are
// therefore atomic with respect to Unregister: a disconnect either happens
// before fn runs (and fn is skipped with ErrSessionClosed) or sees the room
// fn produced.
//
// fn's error is returned as-is; the returned room is stored regardless.
func (s *Session) AssignRoom(fn func(current string) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	next, err := fn(s.room)
	s.room = next
	return err
}

// ClearRoomIf unassigns the peer from room if that is still its room.
func (s *Session) ClearRoomIf(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.room != room {
		return false
	}
	s.room = ""
	return true
}

// close marks the session unregistered and returns the room it was in.
func (s *Session) close() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false
	}
	s.closed = true
	room := s.room
	s.room = ""
	return room, true
}
