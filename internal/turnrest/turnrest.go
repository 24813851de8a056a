package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// This package issues coturn-compatible TURN REST credentials.
//
// See:
// - https://github.com/coturn/coturn/wiki/turnserver
// - https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
//
//	username   = <prefix>_<issued_unix>_<nonce>:<expiry_unix>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// The TURN server only reads the expiry after the last ':' and recomputes
// the HMAC, so everything before it is free-form.

var ErrNotConfigured = errors.New("TURN server not configured")

const DefaultUsernamePrefix = "user"

type Ports struct {
	UDP int
	TCP int
	TLS int
}

type IssuerConfig struct {
	// Host is the TURN server host name without scheme or port.
	Host   string
	Secret string
	TTL    time.Duration

	EnableUDP bool
	EnableTCP bool
	EnableTLS bool
	Ports     Ports

	// FallbackServers are extra TURN hosts sharing the same secret.
	FallbackServers []string
	UsernamePrefix  string
	// ExtraICEServers are appended to every issued list as-is.
	ExtraICEServers []webrtc.ICEServer

	Now         func() time.Time
	NonceSource func() (string, error)
}

// Issuer mints short-lived TURN credentials. It keeps no per-credential
// state.
type Issuer struct {
	cfg IssuerConfig
}

func NewIssuer(cfg IssuerConfig) *Issuer {
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.UsernamePrefix == "" || strings.Contains(cfg.UsernamePrefix, ":") {
		cfg.UsernamePrefix = DefaultUsernamePrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NonceSource == nil {
		cfg.NonceSource = cryptoRandomNonce
	}
	return &Issuer{cfg: cfg}
}

// Configured reports whether Issue can succeed.
func (i *Issuer) Configured() bool {
	return i.cfg.Host != "" && i.cfg.Secret != ""
}

func (i *Issuer) TTL() time.Duration { return i.cfg.TTL }

// Bundle is one issued credential and the ICE servers it unlocks.
type Bundle struct {
	Username   string
	Credential string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	TTL        time.Duration
	ICEServers []webrtc.ICEServer
}

// Issue mints a credential valid for the configured TTL.
func (i *Issuer) Issue() (Bundle, error) {
	if !i.Configured() {
		return Bundle{}, ErrNotConfigured
	}
	nonce, err := i.cfg.NonceSource()
	if err != nil {
		return Bundle{}, fmt.Errorf("turn nonce: %w", err)
	}
	if strings.Contains(nonce, ":") {
		return Bundle{}, errors.New("turn nonce must not contain ':'")
	}

	now := i.cfg.Now().UTC()
	ttlSeconds := int64(i.cfg.TTL / time.Second)
	expiry := now.Unix() + ttlSeconds
	username := fmt.Sprintf("%s_%d_%s:%d", i.cfg.UsernamePrefix, now.Unix(), nonce, expiry)
	credential := signUsername([]byte(i.cfg.Secret), username)

	return Bundle{
		Username:   username,
		Credential: credential,
		IssuedAt:   now,
		ExpiresAt:  time.Unix(expiry, 0).UTC(),
		TTL:        time.Duration(ttlSeconds) * time.Second,
		ICEServers: i.iceServers(username, credential),
	}, nil
}

func (i *Issuer) iceServers(username, credential string) []webrtc.ICEServer {
	c := i.cfg
	var urls []string
	if c.EnableUDP {
		urls = append(urls, fmt.Sprintf("turn:%s:%d", c.Host, c.Ports.UDP))
	}
	if c.EnableTCP {
		urls = append(urls, fmt.Sprintf("turn:%s:%d?transport=tcp", c.Host, c.Ports.TCP))
	}
	if c.EnableTLS {
		urls = append(urls, fmt.Sprintf("turns:%s:%d?transport=tcp", c.Host, c.Ports.TLS))
	}
	for _, fb := range c.FallbackServers {
		if c.EnableTLS {
			urls = append(urls, fmt.Sprintf("turns:%s:%d?transport=tcp", fb, c.Ports.TLS))
		} else {
			urls = append(urls, fmt.Sprintf("turn:%s:%d", fb, c.Ports.UDP))
		}
	}

	out := make([]webrtc.ICEServer, 0, len(urls)+1+len(c.ExtraICEServers))
	for _, u := range urls {
		out = append(out, webrtc.ICEServer{
			URLs:           []string{u},
			Username:       username,
			Credential:     credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	if c.EnableUDP {
		out = append(out, webrtc.ICEServer{URLs: []string{fmt.Sprintf("stun:%s:%d", c.Host, c.Ports.UDP)}})
	}
	return append(out, c.ExtraICEServers...)
}

// Validate reports whether username has not yet expired by the issuer's
// clock.
func (i *Issuer) Validate(username string) bool {
	return ValidateAt(username, i.cfg.Now())
}

// ValidateAt reports whether the expiry after the last ':' in username is
// strictly later than now. The HMAC is not checked.
func ValidateAt(username string, now time.Time) bool {
	idx := strings.LastIndexByte(username, ':')
	expiry, err := strconv.ParseUint(username[idx+1:], 10, 63)
	if err != nil {
		return false
	}
	return int64(expiry) > now.Unix()
}

// Verify reports whether credential is the HMAC of username under the
// configured secret.
func (i *Issuer) Verify(username, credential string) bool {
	if i.cfg.Secret == "" {
		return false
	}
	want := signUsername([]byte(i.cfg.Secret), username)
	return hmac.Equal([]byte(want), []byte(credential))
}

func cryptoRandomNonce() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

func signUsername(sharedSecret []byte, username string) string {
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
