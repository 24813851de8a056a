package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.ListenAddr != "0.0.0.0:5502" {
		t.Fatalf("ListenAddr=%q", cfg.ListenAddr)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{DefaultAllowedOrigin}) {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if cfg.MaxRoomSize != DefaultMaxRoomSize {
		t.Fatalf("MaxRoomSize=%d, want %d", cfg.MaxRoomSize, DefaultMaxRoomSize)
	}
	if cfg.RoomTimeout != time.Hour {
		t.Fatalf("RoomTimeout=%v, want 1h", cfg.RoomTimeout)
	}
	if cfg.RoomCleanupInterval != 5*time.Minute {
		t.Fatalf("RoomCleanupInterval=%v, want 5m", cfg.RoomCleanupInterval)
	}
	if cfg.TURN.Enabled() {
		t.Fatalf("TURN enabled without url/secret")
	}
	if !cfg.TURN.EnableUDP || !cfg.TURN.EnableTCP || cfg.TURN.EnableTLS {
		t.Fatalf("unexpected TURN transports: %+v", cfg.TURN)
	}
	if cfg.TURN.CredentialTTL != time.Hour || cfg.TURN.UsernamePrefix != "user" {
		t.Fatalf("unexpected TURN defaults: %+v", cfg.TURN)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("MaxSignalingMessageBytes=%d", cfg.MaxSignalingMessageBytes)
	}
	if cfg.MaxSignalingMessagesPerSecond != DefaultMaxSignalingMessagesPerSecond {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d", cfg.MaxSignalingMessagesPerSecond)
	}
	if cfg.OutboundQueueLimit != 0 {
		t.Fatalf("OutboundQueueLimit=%d, want 0", cfg.OutboundQueueLimit)
	}
	if len(cfg.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", cfg.Warnings)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	// The flag does not move derived defaults; only MODE from env or file does.
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
}

func TestDefaultsProdFromEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envVarMode: "production"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd || cfg.LogFormat != LogFormatJSON || cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("mode=%q format=%q level=%v", cfg.Mode, cfg.LogFormat, cfg.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarHost:                   "127.0.0.1",
		envVarPort:                   "9000",
		envVarAllowedOrigins:         "https://a.example.com, https://B.example.com/",
		envVarMaxRoomSize:            "2",
		envVarRoomTimeout:            "1000",
		envVarRoomCleanupInterval:    "30s",
		envVarTURNServerURL:          " turn.example.com ",
		envVarTURNSecret:             "s3cret",
		envVarTURNEnableTLS:          "true",
		envVarTURNCredentialTTL:      "600",
		envVarTURNFallbacks:          "fb1.example.com,fb2.example.com",
		envVarTURNUsernamePrefix:     "ponswarp",
		envVarOutboundQueueLimit:     "64",
		envStunURLs:                  "stun:stun.example.com:3478",
		envVarSignalingWSIdleTimeout: "2m",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("ListenAddr=%q", cfg.ListenAddr)
	}
	if want := []string{"https://a.example.com", "https://b.example.com"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Fatalf("AllowedOrigins=%v, want %v", cfg.AllowedOrigins, want)
	}
	if cfg.MaxRoomSize != 2 || cfg.RoomTimeout != time.Second || cfg.RoomCleanupInterval != 30*time.Second {
		t.Fatalf("room config: %d %v %v", cfg.MaxRoomSize, cfg.RoomTimeout, cfg.RoomCleanupInterval)
	}
	if !cfg.TURN.Enabled() || cfg.TURN.URL != "turn.example.com" || !cfg.TURN.EnableTLS {
		t.Fatalf("TURN=%+v", cfg.TURN)
	}
	if cfg.TURN.CredentialTTL != 10*time.Minute {
		t.Fatalf("CredentialTTL=%v, want 10m", cfg.TURN.CredentialTTL)
	}
	if len(cfg.TURN.FallbackServers) != 2 || cfg.TURN.UsernamePrefix != "ponswarp" {
		t.Fatalf("TURN=%+v", cfg.TURN)
	}
	if cfg.OutboundQueueLimit != 64 || cfg.SignalingWSIdleTimeout != 2*time.Minute {
		t.Fatalf("signaling config: %d %v", cfg.OutboundQueueLimit, cfg.SignalingWSIdleTimeout)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEConfigError() != nil {
		t.Fatalf("ICEServers=%#v err=%v", cfg.ICEServers, cfg.ICEConfigError())
	}
}

func TestInvalidEnvFallsBackWithWarning(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarPort:           "not-a-port",
		envVarMaxRoomSize:    "0",
		envVarRoomTimeout:    "-5",
		envVarTURNEnableUDP:  "maybe",
		envVarMode:           "staging",
		envVarAllowedOrigins: "example.com",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:5502" {
		t.Fatalf("ListenAddr=%q", cfg.ListenAddr)
	}
	if cfg.MaxRoomSize != DefaultMaxRoomSize || cfg.RoomTimeout != DefaultRoomTimeout {
		t.Fatalf("room config: %d %v", cfg.MaxRoomSize, cfg.RoomTimeout)
	}
	if !cfg.TURN.EnableUDP {
		t.Fatalf("EnableUDP=false, want default true")
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q", cfg.Mode)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{DefaultAllowedOrigin}) {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if len(cfg.Warnings) != 6 {
		t.Fatalf("warnings=%d, want 6: %v", len(cfg.Warnings), cfg.Warnings)
	}
	for _, key := range []string{envVarPort, envVarMaxRoomSize, envVarRoomTimeout, envVarTURNEnableUDP, envVarMode, envVarAllowedOrigins} {
		found := false
		for _, w := range cfg.Warnings {
			if strings.HasPrefix(w, key+"=") {
				found = true
			}
		}
		if !found {
			t.Fatalf("no warning for %s: %v", key, cfg.Warnings)
		}
	}
}

func TestInvalidFlagIsError(t *testing.T) {
	for _, args := range [][]string{
		{"--mode", "staging"},
		{"--listen-addr", "nope"},
		{"--allowed-origins", "example.com"},
		{"--max-room-size", "0"},
		{"--turn-credential-ttl", "10ms"},
		{"--turn-username-prefix", "a:b"},
		{"--outbound-queue-limit", "-1"},
	} {
		if _, err := load(noEnv, args); err == nil {
			t.Fatalf("load(%v): expected error", args)
		}
	}
}

func TestICEServersJSONError(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{envICEServersJSON: "{not json"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ICEConfigError() == nil {
		t.Fatalf("expected ICE config error")
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("ICEServers=%#v, want none", cfg.ICEServers)
	}
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestConfigFile_Precedence(t *testing.T) {
	t.Setenv("PONSWARP_TEST_TURN_SECRET", "from-expand")
	path := writeConfigFile(t, `
host: 127.0.0.1
port: 7000
cors_origins:
  - https://app.example.com
mode: prod
room:
  max_size: 8
  timeout_ms: 5000
turn:
  url: turn.example.com
  secret: ${PONSWARP_TEST_TURN_SECRET}
  enable_tls: true
  fallback_servers: [fb.example.com]
signaling:
  max_messages_per_second: 50
`)

	cfg, err := load(lookupMap(map[string]string{
		envVarPort: "7100",
	}), []string{"--config", path, "--max-room-size", "3"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("ConfigFile=%q, want %q", cfg.ConfigFile, path)
	}
	// env beats file
	if cfg.ListenAddr != "127.0.0.1:7100" {
		t.Fatalf("ListenAddr=%q", cfg.ListenAddr)
	}
	// flag beats file
	if cfg.MaxRoomSize != 3 {
		t.Fatalf("MaxRoomSize=%d, want 3", cfg.MaxRoomSize)
	}
	if cfg.Mode != ModeProd || cfg.LogFormat != LogFormatJSON {
		t.Fatalf("mode=%q format=%q", cfg.Mode, cfg.LogFormat)
	}
	if cfg.RoomTimeout != 5*time.Second {
		t.Fatalf("RoomTimeout=%v", cfg.RoomTimeout)
	}
	if cfg.TURN.Secret != "from-expand" || !cfg.TURN.EnableTLS || len(cfg.TURN.FallbackServers) != 1 {
		t.Fatalf("TURN=%+v", cfg.TURN)
	}
	if cfg.MaxSignalingMessagesPerSecond != 50 {
		t.Fatalf("MaxSignalingMessagesPerSecond=%d", cfg.MaxSignalingMessagesPerSecond)
	}
	if !reflect.DeepEqual(cfg.AllowedOrigins, []string{"https://app.example.com"}) {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
}

func TestConfigFile_FromEnv(t *testing.T) {
	path := writeConfigFile(t, "room:\n  max_size: 6\n")
	cfg, err := load(lookupMap(map[string]string{envVarConfigFile: path}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxRoomSize != 6 {
		t.Fatalf("MaxRoomSize=%d, want 6", cfg.MaxRoomSize)
	}
}

func TestConfigFile_Errors(t *testing.T) {
	if _, err := load(noEnv, []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := writeConfigFile(t, "room: [unterminated")
	if _, err := load(noEnv, []string{"--config=" + path}); err == nil {
		t.Fatalf("expected error for invalid yaml")
	}
}

func TestConfigFileFromArgs(t *testing.T) {
	cases := map[string][]string{
		"a.yaml": {"--config", "a.yaml"},
		"b.yaml": {"-config=b.yaml"},
		"":       {"--mode", "prod", "--", "--config", "c.yaml"},
	}
	for want, args := range cases {
		if got := configFileFromArgs(args); got != want {
			t.Fatalf("configFileFromArgs(%v)=%q, want %q", args, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatJSON} {
		if _, err := NewLogger(Config{LogFormat: format}); err != nil {
			t.Fatalf("NewLogger(%q): %v", format, err)
		}
	}
	if _, err := NewLogger(Config{LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
