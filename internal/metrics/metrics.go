package metrics

import "sync"

// Event names counted by the signaling relay.
const (
	ConnectionOpened = "connection_opened"
	ConnectionClosed = "connection_closed"

	RoomCreated = "room_created"
	RoomDeleted = "room_deleted"
	RoomReaped  = "room_reaped"
	RoomJoin    = "room_join"
	RoomLeave   = "room_leave"
	RoomFull    = "room_full"

	MessageRelayed       = "message_relayed"
	RelayPeerUnreachable = "relay_peer_unreachable"
	OutboundDropped      = "outbound_dropped"
	MalformedMessage     = "malformed_message"

	TURNCredentialsIssued = "turn_credentials_issued"
	TURNUnconfigured      = "turn_unconfigured"

	DropReasonRateLimited = "rate_limited"
)

// Metrics is a concurrency-safe counter registry keyed by event name.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
