package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML config file layout. ${VAR} references are expanded
// from the environment before parsing. Every scalar is kept as text and goes
// through the same parsing as the matching environment variable.
type fileConfig struct {
	Host            string   `yaml:"host"`
	Port            string   `yaml:"port"`
	CORSOrigins     []string `yaml:"cors_origins"`
	Mode            string   `yaml:"mode"`
	LogFormat       string   `yaml:"log_format"`
	LogLevel        string   `yaml:"log_level"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`

	Room struct {
		MaxSize         string `yaml:"max_size"`
		TimeoutMS       string `yaml:"timeout_ms"`
		CleanupInterval string `yaml:"cleanup_interval"`
	} `yaml:"room"`

	TURN struct {
		URL             string   `yaml:"url"`
		Secret          string   `yaml:"secret"`
		Realm           string   `yaml:"realm"`
		EnableUDP       string   `yaml:"enable_udp"`
		EnableTCP       string   `yaml:"enable_tcp"`
		EnableTLS       string   `yaml:"enable_tls"`
		PortUDP         string   `yaml:"port_udp"`
		PortTCP         string   `yaml:"port_tcp"`
		PortTLS         string   `yaml:"port_tls"`
		CredentialTTL   string   `yaml:"credential_ttl"`
		FallbackServers []string `yaml:"fallback_servers"`
		UsernamePrefix  string   `yaml:"username_prefix"`
	} `yaml:"turn"`

	ICEServersJSON string   `yaml:"ice_servers_json"`
	STUNURLs       []string `yaml:"stun_urls"`

	Signaling struct {
		WSIdleTimeout        string `yaml:"ws_idle_timeout"`
		WSPingInterval       string `yaml:"ws_ping_interval"`
		MaxMessageBytes      string `yaml:"max_message_bytes"`
		MaxMessagesPerSecond string `yaml:"max_messages_per_second"`
		OutboundQueueLimit   string `yaml:"outbound_queue_limit"`
	} `yaml:"signaling"`
}

func loadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parseFile([]byte(os.ExpandEnv(string(data))))
}

func parseFile(data []byte) (map[string]string, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return map[string]string{
		envVarHost:            fc.Host,
		envVarPort:            fc.Port,
		envVarAllowedOrigins:  strings.Join(fc.CORSOrigins, ","),
		envVarMode:            fc.Mode,
		envVarLogFormat:       fc.LogFormat,
		envVarLogLevel:        fc.LogLevel,
		envVarShutdownTimeout: fc.ShutdownTimeout,

		envVarMaxRoomSize:         fc.Room.MaxSize,
		envVarRoomTimeout:         fc.Room.TimeoutMS,
		envVarRoomCleanupInterval: fc.Room.CleanupInterval,

		envVarTURNServerURL:      fc.TURN.URL,
		envVarTURNSecret:         fc.TURN.Secret,
		envVarTURNRealm:          fc.TURN.Realm,
		envVarTURNEnableUDP:      fc.TURN.EnableUDP,
		envVarTURNEnableTCP:      fc.TURN.EnableTCP,
		envVarTURNEnableTLS:      fc.TURN.EnableTLS,
		envVarTURNPortUDP:        fc.TURN.PortUDP,
		envVarTURNPortTCP:        fc.TURN.PortTCP,
		envVarTURNPortTLS:        fc.TURN.PortTLS,
		envVarTURNCredentialTTL:  fc.TURN.CredentialTTL,
		envVarTURNFallbacks:      strings.Join(fc.TURN.FallbackServers, ","),
		envVarTURNUsernamePrefix: fc.TURN.UsernamePrefix,

		envICEServersJSON: fc.ICEServersJSON,
		envStunURLs:       strings.Join(fc.STUNURLs, ","),

		envVarSignalingWSIdleTimeout:        fc.Signaling.WSIdleTimeout,
		envVarSignalingWSPingInterval:       fc.Signaling.WSPingInterval,
		envVarMaxSignalingMessageBytes:      fc.Signaling.MaxMessageBytes,
		envVarMaxSignalingMessagesPerSecond: fc.Signaling.MaxMessagesPerSecond,
		envVarOutboundQueueLimit:            fc.Signaling.OutboundQueueLimit,
	}, nil
}
