package signaling

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ponswarp/ponswarp-signaling/internal/metrics"
	"github.com/ponswarp/ponswarp-signaling/internal/peer"
	"github.com/ponswarp/ponswarp-signaling/internal/protocol"
	"github.com/ponswarp/ponswarp-signaling/internal/relay"
	"github.com/ponswarp/ponswarp-signaling/internal/room"
	"github.com/ponswarp/ponswarp-signaling/internal/turnrest"
)

const credentialsStillValid = "Credentials still valid"

// HubConfig wires the runtime dependencies of a Hub.
type HubConfig struct {
	// MaxRoomSize caps room membership; <= 0 is unlimited.
	MaxRoomSize int
	// OutboundQueueLimit caps queued messages per peer; <= 0 is unbounded.
	OutboundQueueLimit int

	// Issuer mints TURN credentials. If nil, TURN requests report the server
	// as unconfigured.
	Issuer  *turnrest.Issuer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Hub is the shared state of the relay. All methods are safe for concurrent
// use; no lock is held while messages are queued to peers.
type Hub struct {
	peers  *peer.Registry
	rooms  *room.Registry
	router *relay.Router

	issuer  *turnrest.Issuer
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time

	maxRoomSize   int
	outboundLimit int
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == nil {
		cfg.Issuer = turnrest.NewIssuer(turnrest.IssuerConfig{Now: cfg.Now})
	}
	peers := peer.NewRegistry(cfg.Now)
	rooms := room.NewRegistry(cfg.Now)
	return &Hub{
		peers:         peers,
		rooms:         rooms,
		router:        relay.NewRouter(peers, rooms, cfg.Metrics, cfg.Logger),
		issuer:        cfg.Issuer,
		metrics:       cfg.Metrics,
		log:           cfg.Logger,
		now:           cfg.Now,
		maxRoomSize:   cfg.MaxRoomSize,
		outboundLimit: cfg.OutboundQueueLimit,
	}
}

func (h *Hub) Peers() *peer.Registry { return h.peers }
func (h *Hub) Rooms() *room.Registry { return h.rooms }

// Connect registers a new peer under a fresh identity. The returned session's
// outbox already holds the Connected greeting.
func (h *Hub) Connect() (*peer.Session, error) {
	for {
		sess, err := h.peers.Register(peer.NewID(), peer.NewOutbox(h.outboundLimit))
		if errors.Is(err, peer.ErrDuplicateID) {
			continue
		}
		if err != nil {
			return nil, err
		}
		h.metrics.Inc(metrics.ConnectionOpened)
		h.log.Debug("peer connected", "peer_id", sess.ID())
		return sess, nil
	}
}

// Disconnect unregisters id and runs the leave protocol for the room it was
// in. Calling it more than once is harmless.
func (h *Hub) Disconnect(id string) {
	roomID, ok := h.peers.Unregister(id)
	if !ok {
		return
	}
	h.metrics.Inc(metrics.ConnectionClosed)
	h.log.Debug("peer disconnected", "peer_id", id, "room_id", roomID)
	if roomID == "" {
		return
	}
	if res, ok := h.rooms.Leave(roomID, id); ok {
		h.announceLeave(res)
	}
}

// HandleFrame decodes one inbound frame and dispatches it. A frame that does
// not decode is answered with a MALFORMED_MESSAGE error; the connection stays
// usable.
func (h *Hub) HandleFrame(id string, codec protocol.Codec, data []byte) {
	msg, err := codec.Decode(data)
	if err != nil {
		h.metrics.Inc(metrics.MalformedMessage)
		h.log.Debug("malformed message", "peer_id", id, "codec", codec.Name(), "err", err)
		h.router.SendTo(id, protocol.Error(protocol.ErrorCodeMalformed, err.Error()))
		return
	}
	h.Handle(id, msg)
}

// Handle dispatches one decoded client message from peer id.
func (h *Hub) Handle(id string, msg protocol.ClientMessage) {
	switch msg.Type {
	case protocol.TypeHeartbeat:
		h.router.SendTo(id, protocol.HeartbeatAck())
	case protocol.TypeJoinRoom:
		h.JoinRoom(id, msg.RoomID)
	case protocol.TypeLeaveRoom:
		h.LeaveRoom(id)
	case protocol.TypeRequestTurnConfig:
		h.sendTurnConfig(id, msg.RoomID)
	case protocol.TypeRefreshTurnCredentials:
		if msg.CurrentUsername != "" && h.issuer.Validate(msg.CurrentUsername) {
			h.router.SendTo(id, protocol.TurnConfigNotice(credentialsStillValid))
			return
		}
		h.sendTurnConfig(id, msg.RoomID)
	case protocol.TypeCheckTurnServerStatus:
		var roomID string
		if s, ok := h.peers.Get(id); ok {
			roomID = s.Room()
		}
		h.router.SendTo(id, protocol.TurnServerStatusUpdate(roomID, h.now().Unix()))
	default:
		out, ok := protocol.Relayed(id, msg)
		if !ok {
			h.log.Warn("unhandled message type", "peer_id", id, "type", msg.Type)
			return
		}
		h.relay(id, msg, out)
	}
}

func (h *Hub) relay(from string, msg protocol.ClientMessage, out protocol.ServerMessage) {
	roomID := strings.TrimSpace(msg.RoomID)
	if roomID == "" {
		if s, ok := h.peers.Get(from); ok {
			roomID = s.Room()
		}
	}
	if roomID == "" && msg.Target == "" {
		h.log.Debug("relay without room or target dropped", "peer_id", from, "type", msg.Type)
		return
	}
	h.router.Relay(out, from, roomID, msg.Target)
}

// JoinRoom places peer id in roomID, leaving any other room it was in. A full
// room leaves the peer where it was and answers RoomFull.
func (h *Hub) JoinRoom(id, roomID string) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		h.router.SendTo(id, protocol.Error(protocol.ErrorCodeInvalidRoomID, "room_id must not be empty"))
		return
	}
	sess, ok := h.peers.Get(id)
	if !ok {
		return
	}

	var (
		joined   room.JoinResult
		left     room.LeaveResult
		switched bool
	)
	err := sess.AssignRoom(func(current string) (string, error) {
		res, err := h.rooms.Join(roomID, id, h.maxRoomSize)
		if err != nil {
			return current, err
		}
		joined = res
		if current != "" && current != roomID {
			left, switched = h.rooms.Leave(current, id)
		}
		return roomID, nil
	})
	switch {
	case errors.Is(err, room.ErrRoomFull):
		h.metrics.Inc(metrics.RoomFull)
		h.log.Info("room full", "peer_id", id, "room_id", roomID, "max_size", h.maxRoomSize)
		h.router.SendTo(id, protocol.RoomFull(roomID))
		return
	case err != nil:
		// Disconnected while joining; Disconnect owns the cleanup.
		return
	}

	h.metrics.Inc(metrics.RoomJoin)
	if joined.Created {
		h.metrics.Inc(metrics.RoomCreated)
	}
	h.log.Info("peer joined room", "peer_id", id, "room_id", roomID, "user_count", joined.Count, "rejoined", joined.Rejoined)

	h.router.SendTo(id, protocol.RoomUsers(joined.Existing))
	h.router.SendTo(id, protocol.JoinedRoom(roomID, id, joined.Count))
	h.router.SendToAll(joined.Existing, protocol.PeerJoined(id, roomID))

	if switched {
		h.announceLeave(left)
	}

	members := h.rooms.Members(roomID)
	h.router.SendToAll(members, protocol.RoomUsers(members))
}

// LeaveRoom removes peer id from its room. It is a no-op when the peer is not
// in one.
func (h *Hub) LeaveRoom(id string) {
	sess, ok := h.peers.Get(id)
	if !ok {
		return
	}
	var (
		res  room.LeaveResult
		left bool
	)
	_ = sess.AssignRoom(func(current string) (string, error) {
		if current != "" {
			res, left = h.rooms.Leave(current, id)
		}
		return "", nil
	})
	if left {
		h.announceLeave(res)
	}
}

func (h *Hub) announceLeave(res room.LeaveResult) {
	h.metrics.Inc(metrics.RoomLeave)
	h.log.Info("peer left room", "peer_id", res.PeerID, "room_id", res.RoomID, "remaining", len(res.Remaining))
	if res.Deleted {
		h.metrics.Inc(metrics.RoomDeleted)
		h.log.Debug("room deleted", "room_id", res.RoomID)
		return
	}
	h.router.SendToAll(res.Remaining, protocol.UserLeft(res.PeerID))
	if len(res.Remaining) > 0 {
		h.router.SendToAll(res.Remaining, protocol.RoomUsers(res.Remaining))
	}
}

// Evict clears the room assignment of every member of a reaped room. Members
// are not notified.
func (h *Hub) Evict(e room.Evicted) {
	h.metrics.Inc(metrics.RoomReaped)
	for _, id := range e.Members {
		s, ok := h.peers.Get(id)
		if !ok {
			continue
		}
		// A member may have rejoined a fresh room under the same name between
		// the sweep and now; its assignment then belongs to the new room.
		_ = s.AssignRoom(func(current string) (string, error) {
			if current == e.RoomID && !h.rooms.IsMember(e.RoomID, id) {
				return "", nil
			}
			return current, nil
		})
	}
}

// NewReaper returns a reaper over the hub's rooms that keeps peer sessions in
// sync with evictions.
func (h *Hub) NewReaper(timeout, interval time.Duration) *room.Reaper {
	return &room.Reaper{
		Rooms:    h.rooms,
		Timeout:  timeout,
		Interval: interval,
		Now:      h.now,
		OnEvict:  h.Evict,
		Logger:   h.log,
	}
}

func (h *Hub) sendTurnConfig(id, roomID string) {
	bundle, err := h.issuer.Issue()
	if err != nil {
		if errors.Is(err, turnrest.ErrNotConfigured) {
			h.metrics.Inc(metrics.TURNUnconfigured)
		} else {
			h.log.Error("issue turn credentials", "peer_id", id, "err", err)
		}
		h.router.SendTo(id, protocol.TurnConfigFailure(err.Error()))
		return
	}
	h.metrics.Inc(metrics.TURNCredentialsIssued)
	h.router.SendTo(id, protocol.TurnConfigSuccess(protocol.TurnConfigData{
		ICEServers: protocol.ICEServersFromPion(bundle.ICEServers),
		TTL:        int64(bundle.TTL / time.Second),
		Timestamp:  bundle.IssuedAt.Unix(),
		RoomID:     roomID,
	}))
}

// Stats is a point-in-time summary for health endpoints.
type Stats struct {
	Peers int `json:"peers"`
	Rooms int `json:"rooms"`
}

func (h *Hub) Stats() Stats {
	return Stats{Peers: h.peers.Len(), Rooms: h.rooms.Len()}
}
