package room

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrRoomFull = errors.New("room is full")

// Room is a named group of peers. Its member set has its own lock so
// operations on different rooms never contend.
type Room struct {
	id        string
	createdAt time.Time

	mu      sync.RWMutex
	members map[string]struct{}
	// deleted is set once the room has been removed from the registry. A
	// joiner that loaded the pointer before removal must retry.
	deleted bool
}

func (r *Room) membersLocked(except string) []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		if id != except {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Info is a point-in-time view of a room.
type Info struct {
	ID        string
	CreatedAt time.Time
	Members   []string
}

type JoinResult struct {
	RoomID string
	// Existing lists the members present before the join, excluding the
	// joiner.
	Existing []string
	Count    int
	Created  bool
	Rejoined bool
}

type LeaveResult struct {
	RoomID    string
	PeerID    string
	Remaining []string
	Deleted   bool
}

type Evicted struct {
	RoomID  string
	Members []string
	Age     time.Duration
}

// Registry holds every live room. Lock order is registry, then room; nothing
// takes the registry lock while holding a room lock.
type Registry struct {
	now func() time.Time

	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		now:   now,
		rooms: make(map[string]*Room),
	}
}

func (g *Registry) lookup(id string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[id]
}

func (g *Registry) getOrCreate(id string) (*Room, bool) {
	if r := g.lookup(id); r != nil {
		return r, false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok {
		return r, false
	}
	r := &Room{
		id:        id,
		createdAt: g.now(),
		members:   make(map[string]struct{}),
	}
	g.rooms[id] = r
	return r, true
}

// Join adds peerID to roomID, creating the room if needed. When the room
// already holds maxSize members and peerID is not one of them, Join returns
// ErrRoomFull and changes nothing. maxSize <= 0 disables the limit.
func (g *Registry) Join(roomID, peerID string, maxSize int) (JoinResult, error) {
	for {
		r, created := g.getOrCreate(roomID)

		r.mu.Lock()
		if r.deleted {
			r.mu.Unlock()
			continue
		}
		_, already := r.members[peerID]
		if maxSize > 0 && !already && len(r.members) >= maxSize {
			r.mu.Unlock()
			return JoinResult{RoomID: roomID}, ErrRoomFull
		}
		existing := r.membersLocked(peerID)
		r.members[peerID] = struct{}{}
		count := len(r.members)
		r.mu.Unlock()

		return JoinResult{
			RoomID:   roomID,
			Existing: existing,
			Count:    count,
			Created:  created,
			Rejoined: already,
		}, nil
	}
}

// Leave removes peerID from roomID, deleting the room when it becomes empty.
// ok is false when the room does not exist or peerID is not a member.
func (g *Registry) Leave(roomID, peerID string) (LeaveResult, bool) {
	r := g.lookup(roomID)
	if r == nil {
		return LeaveResult{}, false
	}

	r.mu.Lock()
	if _, member := r.members[peerID]; !member || r.deleted {
		r.mu.Unlock()
		return LeaveResult{}, false
	}
	delete(r.members, peerID)
	remaining := r.membersLocked("")
	r.mu.Unlock()

	res := LeaveResult{RoomID: roomID, PeerID: peerID, Remaining: remaining}
	if len(remaining) == 0 {
		res.Deleted = g.removeIfEmpty(roomID, r)
	}
	return res, true
}

func (g *Registry) removeIfEmpty(id string, r *Room) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.rooms[id] != r || len(r.members) != 0 {
		return false
	}
	r.deleted = true
	delete(g.rooms, id)
	return true
}

// Members returns the current member list of roomID, or nil if it does not
// exist.
func (g *Registry) Members(roomID string) []string {
	r := g.lookup(roomID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.deleted {
		return nil
	}
	return r.membersLocked("")
}

// IsMember reports whether peerID belongs to the live room named roomID.
func (g *Registry) IsMember(roomID, peerID string) bool {
	r := g.lookup(roomID)
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.deleted {
		return false
	}
	_, ok := r.members[peerID]
	return ok
}

func (g *Registry) Get(roomID string) (Info, bool) {
	r := g.lookup(roomID)
	if r == nil {
		return Info{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.deleted {
		return Info{}, false
	}
	return Info{ID: r.id, CreatedAt: r.createdAt, Members: r.membersLocked("")}, true
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Sweep removes every room whose age at now is at least timeout, whether or
// not it still has members, and returns what was removed.
func (g *Registry) Sweep(now time.Time, timeout time.Duration) []Evicted {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Evicted
	for id, r := range g.rooms {
		age := now.Sub(r.createdAt)
		if age < timeout {
			continue
		}
		r.mu.Lock()
		r.deleted = true
		members := r.membersLocked("")
		r.mu.Unlock()

		delete(g.rooms, id)
		out = append(out, Evicted{RoomID: id, Members: members, Age: age})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}
