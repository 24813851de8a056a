// Package signaling implements the room-based signaling relay.
//
// Hub owns the peer and room registries and implements every client message;
// Server adapts WebSocket connections onto it. Peers join a named room and
// exchange opaque negotiation payloads (SDP, ICE candidates, transfer
// manifests) with the other members, and can request short-lived TURN
// credentials.
package signaling
