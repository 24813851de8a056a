// Package relay routes server messages to peer outboxes.
package relay

import (
	"log/slog"

	"github.com/ponswarp/ponswarp-signaling/internal/metrics"
	"github.com/ponswarp/ponswarp-signaling/internal/peer"
	"github.com/ponswarp/ponswarp-signaling/internal/protocol"
	"github.com/ponswarp/ponswarp-signaling/internal/room"
)

// Router delivers server messages to peers. Delivery is best effort and at
// most once: a recipient that is gone or whose outbox refuses the message is
// skipped without retry. No lock is held while pushing to outboxes.
type Router struct {
	peers   *peer.Registry
	rooms   *room.Registry
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewRouter(peers *peer.Registry, rooms *room.Registry, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{peers: peers, rooms: rooms, metrics: m, log: logger}
}

// Relay forwards msg from a peer. With a target it goes to that peer alone,
// otherwise to every member of roomID except from. It returns the number of
// outboxes that accepted the message.
func (r *Router) Relay(msg protocol.ServerMessage, from, roomID, target string) int {
	var n int
	if target != "" {
		if r.SendTo(target, msg) {
			n = 1
		} else {
			r.metrics.Inc(metrics.RelayPeerUnreachable)
			r.log.Debug("relay target unreachable", "from", from, "target", target, "type", msg.Type)
		}
	} else {
		n = r.Broadcast(roomID, msg, from)
	}
	r.metrics.Add(metrics.MessageRelayed, uint64(n))
	return n
}

// Broadcast sends msg to every current member of roomID except the peer
// named by except.
func (r *Router) Broadcast(roomID string, msg protocol.ServerMessage, except string) int {
	var n int
	for _, id := range r.rooms.Members(roomID) {
		if id == except {
			continue
		}
		if r.SendTo(id, msg) {
			n++
		}
	}
	return n
}

// SendToAll sends msg to each listed peer.
func (r *Router) SendToAll(ids []string, msg protocol.ServerMessage) int {
	var n int
	for _, id := range ids {
		if r.SendTo(id, msg) {
			n++
		}
	}
	return n
}

// SendTo queues msg for peerID if it is registered.
func (r *Router) SendTo(peerID string, msg protocol.ServerMessage) bool {
	s, ok := r.peers.Get(peerID)
	if !ok {
		return false
	}
	if !s.Send(msg) {
		r.metrics.Inc(metrics.OutboundDropped)
		return false
	}
	return true
}
