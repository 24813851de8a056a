package protocol

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// ICEServer is the client-facing form of an ICE server entry. Credential
// fields are omitted for servers that need none (STUN).
type ICEServer struct {
	URLs           []string `json:"urls"`
	Username       string   `json:"username,omitempty"`
	Credential     string   `json:"credential,omitempty"`
	CredentialType string   `json:"credential_type,omitempty"`
}

// ICEServersFromPion converts pion ICE server entries to their wire form.
// Only password credentials can be expressed on the wire; any other
// credential value is dropped.
func ICEServersFromPion(servers []webrtc.ICEServer) []ICEServer {
	out := make([]ICEServer, 0, len(servers))
	for _, s := range servers {
		w := ICEServer{URLs: append([]string(nil), s.URLs...)}
		if cred, ok := s.Credential.(string); ok && strings.TrimSpace(s.Username) != "" {
			w.Username = s.Username
			w.Credential = cred
			w.CredentialType = "password"
		}
		out = append(out, w)
	}
	return out
}
