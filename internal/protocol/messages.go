package protocol

// ClientMessageType discriminates inbound messages.
type ClientMessageType string

const (
	TypeHeartbeat              ClientMessageType = "Heartbeat"
	TypeJoinRoom               ClientMessageType = "JoinRoom"
	TypeLeaveRoom              ClientMessageType = "LeaveRoom"
	TypeOffer                  ClientMessageType = "Offer"
	TypeAnswer                 ClientMessageType = "Answer"
	TypeIceCandidate           ClientMessageType = "IceCandidate"
	TypeManifest               ClientMessageType = "Manifest"
	TypeTransferReady          ClientMessageType = "TransferReady"
	TypeTransferComplete       ClientMessageType = "TransferComplete"
	TypeRequestTurnConfig      ClientMessageType = "RequestTurnConfig"
	TypeRefreshTurnCredentials ClientMessageType = "RefreshTurnCredentials"
	TypeCheckTurnServerStatus  ClientMessageType = "CheckTurnServerStatus"
)

// ClientMessage is a decoded inbound message. Only the fields relevant to
// Type are populated; an empty Target means "broadcast to the room".
type ClientMessage struct {
	Type ClientMessageType

	RoomID          string
	SDP             string
	Candidate       string
	Manifest        any
	Target          string
	ForceRefresh    bool
	CurrentUsername string
}

// IsRelayed reports whether the message is forwarded to other peers rather
// than handled by the server.
func (m ClientMessage) IsRelayed() bool {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeIceCandidate, TypeManifest, TypeTransferReady, TypeTransferComplete:
		return true
	default:
		return false
	}
}

// ServerMessageType discriminates outbound messages.
type ServerMessageType string

const (
	TypeConnected              ServerMessageType = "Connected"
	TypeHeartbeatAck           ServerMessageType = "HeartbeatAck"
	TypeError                  ServerMessageType = "Error"
	TypeJoinedRoom             ServerMessageType = "JoinedRoom"
	TypeRoomUsers              ServerMessageType = "RoomUsers"
	TypePeerJoined             ServerMessageType = "PeerJoined"
	TypeUserLeft               ServerMessageType = "UserLeft"
	TypeRoomFull               ServerMessageType = "RoomFull"
	TypeRelayedOffer           ServerMessageType = "Offer"
	TypeRelayedAnswer          ServerMessageType = "Answer"
	TypeRelayedIceCandidate    ServerMessageType = "IceCandidate"
	TypeRelayedManifest        ServerMessageType = "Manifest"
	TypeRelayedTransferReady   ServerMessageType = "TransferReady"
	TypeRelayedTransferDone    ServerMessageType = "TransferComplete"
	TypeTurnConfig             ServerMessageType = "TurnConfig"
	TypeTurnServerStatusUpdate ServerMessageType = "TurnServerStatusUpdate"
)

// Error codes carried by Error messages.
const (
	ErrorCodeMalformed     = "MALFORMED_MESSAGE"
	ErrorCodeInvalidRoomID = "INVALID_ROOM_ID"
	ErrorCodeRateLimited   = "RATE_LIMITED"
)

// ServerMessage is an outbound message. A nil Payload encodes as a unit
// variant (no "payload" key).
type ServerMessage struct {
	Type    ServerMessageType `json:"type"`
	Payload any               `json:"payload,omitempty"`
}

type ConnectedPayload struct {
	SocketID string `json:"socket_id"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type JoinedRoomPayload struct {
	RoomID    string `json:"room_id"`
	SocketID  string `json:"socket_id"`
	UserCount int    `json:"user_count"`
}

type RoomUsersPayload struct {
	Users []string `json:"users"`
}

type PeerJoinedPayload struct {
	SocketID string `json:"socket_id"`
	RoomID   string `json:"room_id"`
}

type UserLeftPayload struct {
	SocketID string `json:"socket_id"`
}

type RoomFullPayload struct {
	RoomID string `json:"room_id"`
}

type SDPPayload struct {
	From string `json:"from"`
	SDP  string `json:"sdp"`
}

type CandidatePayload struct {
	From      string `json:"from"`
	Candidate string `json:"candidate"`
}

type ManifestPayload struct {
	From     string `json:"from"`
	Manifest any    `json:"manifest"`
}

type FromPayload struct {
	From string `json:"from"`
}

type TurnConfigPayload struct {
	Success bool            `json:"success"`
	Data    *TurnConfigData `json:"data"`
	Error   *string         `json:"error"`
}

type TurnConfigData struct {
	ICEServers []ICEServer `json:"ice_servers"`
	TTL        int64       `json:"ttl"`
	Timestamp  int64       `json:"timestamp"`
	RoomID     string      `json:"room_id"`
}

type TurnServerStatusPayload struct {
	RoomID    string `json:"room_id"`
	Timestamp int64  `json:"timestamp"`
}

func Connected(socketID string) ServerMessage {
	return ServerMessage{Type: TypeConnected, Payload: ConnectedPayload{SocketID: socketID}}
}

func HeartbeatAck() ServerMessage {
	return ServerMessage{Type: TypeHeartbeatAck}
}

func Error(code, message string) ServerMessage {
	return ServerMessage{Type: TypeError, Payload: ErrorPayload{Code: code, Message: message}}
}

func JoinedRoom(roomID, socketID string, userCount int) ServerMessage {
	return ServerMessage{Type: TypeJoinedRoom, Payload: JoinedRoomPayload{RoomID: roomID, SocketID: socketID, UserCount: userCount}}
}

func RoomUsers(users []string) ServerMessage {
	if users == nil {
		users = []string{}
	}
	return ServerMessage{Type: TypeRoomUsers, Payload: RoomUsersPayload{Users: users}}
}

func PeerJoined(socketID, roomID string) ServerMessage {
	return ServerMessage{Type: TypePeerJoined, Payload: PeerJoinedPayload{SocketID: socketID, RoomID: roomID}}
}

func UserLeft(socketID string) ServerMessage {
	return ServerMessage{Type: TypeUserLeft, Payload: UserLeftPayload{SocketID: socketID}}
}

func RoomFull(roomID string) ServerMessage {
	return ServerMessage{Type: TypeRoomFull, Payload: RoomFullPayload{RoomID: roomID}}
}

func TurnConfigSuccess(data TurnConfigData) ServerMessage {
	if data.ICEServers == nil {
		data.ICEServers = []ICEServer{}
	}
	return ServerMessage{Type: TypeTurnConfig, Payload: TurnConfigPayload{Success: true, Data: &data}}
}

// TurnConfigNotice is a successful TurnConfig that carries no new data, only
// an informational note (e.g. current credentials are still valid).
func TurnConfigNotice(note string) ServerMessage {
	return ServerMessage{Type: TypeTurnConfig, Payload: TurnConfigPayload{Success: true, Error: &note}}
}

func TurnConfigFailure(reason string) ServerMessage {
	return ServerMessage{Type: TypeTurnConfig, Payload: TurnConfigPayload{Success: false, Error: &reason}}
}

func TurnServerStatusUpdate(roomID string, timestamp int64) ServerMessage {
	return ServerMessage{Type: TypeTurnServerStatusUpdate, Payload: TurnServerStatusPayload{RoomID: roomID, Timestamp: timestamp}}
}

// Relayed builds the message delivered to recipients of a relayed client
// message. It returns false for message types that are not relayed.
func Relayed(from string, msg ClientMessage) (ServerMessage, bool) {
	switch msg.Type {
	case TypeOffer:
		return ServerMessage{Type: TypeRelayedOffer, Payload: SDPPayload{From: from, SDP: msg.SDP}}, true
	case TypeAnswer:
		return ServerMessage{Type: TypeRelayedAnswer, Payload: SDPPayload{From: from, SDP: msg.SDP}}, true
	case TypeIceCandidate:
		return ServerMessage{Type: TypeRelayedIceCandidate, Payload: CandidatePayload{From: from, Candidate: msg.Candidate}}, true
	case TypeManifest:
		return ServerMessage{Type: TypeRelayedManifest, Payload: ManifestPayload{From: from, Manifest: msg.Manifest}}, true
	case TypeTransferReady:
		return ServerMessage{Type: TypeRelayedTransferReady, Payload: FromPayload{From: from}}, true
	case TypeTransferComplete:
		return ServerMessage{Type: TypeRelayedTransferDone, Payload: FromPayload{From: from}}, true
	default:
		return ServerMessage{}, false
	}
}
