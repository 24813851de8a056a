package main

import (
	"github.com/ponswarp/ponswarp-signaling/internal/config"
	"github.com/ponswarp/ponswarp-signaling/internal/turnrest"
)

// newTURNIssuer maps the TURN settings onto an issuer. Static ICE servers are
// appended to every issued list. An unconfigured issuer still answers TURN
// requests, with a failure.
func newTURNIssuer(cfg config.Config) *turnrest.Issuer {
	t := cfg.TURN
	return turnrest.NewIssuer(turnrest.IssuerConfig{
		Host:      t.URL,
		Secret:    t.Secret,
		TTL:       t.CredentialTTL,
		EnableUDP: t.EnableUDP,
		EnableTCP: t.EnableTCP,
		EnableTLS: t.EnableTLS,
		Ports: turnrest.Ports{
			UDP: t.PortUDP,
			TCP: t.PortTCP,
			TLS: t.PortTLS,
		},
		FallbackServers: t.FallbackServers,
		UsernamePrefix:  t.UsernamePrefix,
		ExtraICEServers: cfg.ICEServers,
	})
}
