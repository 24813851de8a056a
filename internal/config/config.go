package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ponswarp/ponswarp-signaling/internal/origin"
)

const (
	envVarConfigFile      = "CONFIG_FILE"
	envVarHost            = "HOST"
	envVarPort            = "PORT"
	envVarAllowedOrigins  = "CORS_ORIGINS"
	envVarMode            = "MODE"
	envVarLogFormat       = "LOG_FORMAT"
	envVarLogLevel        = "LOG_LEVEL"
	envVarShutdownTimeout = "SHUTDOWN_TIMEOUT"

	envVarMaxRoomSize         = "MAX_ROOM_SIZE"
	envVarRoomTimeout         = "ROOM_TIMEOUT"
	envVarRoomCleanupInterval = "ROOM_CLEANUP_INTERVAL"

	envVarTURNServerURL      = "TURN_SERVER_URL"
	envVarTURNSecret         = "TURN_SECRET"
	envVarTURNRealm          = "TURN_REALM"
	envVarTURNEnableUDP      = "TURN_ENABLE_UDP"
	envVarTURNEnableTCP      = "TURN_ENABLE_TCP"
	envVarTURNEnableTLS      = "TURN_ENABLE_TLS"
	envVarTURNPortUDP        = "TURN_PORT_UDP"
	envVarTURNPortTCP        = "TURN_PORT_TCP"
	envVarTURNPortTLS        = "TURN_PORT_TLS"
	envVarTURNCredentialTTL  = "TURN_CREDENTIAL_TTL"
	envVarTURNFallbacks      = "TURN_FALLBACK_SERVERS"
	envVarTURNUsernamePrefix = "TURN_USERNAME_PREFIX"

	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarOutboundQueueLimit            = "OUTBOUND_QUEUE_LIMIT"
)

const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 5502
	DefaultAllowedOrigin   = "http://localhost:3500"
	DefaultMode            = ModeDev
	DefaultShutdownTimeout = 15 * time.Second

	DefaultMaxRoomSize         = 4
	DefaultRoomTimeout         = 3600000 * time.Millisecond
	DefaultRoomCleanupInterval = 300 * time.Second

	DefaultTURNPortUDP        = 3478
	DefaultTURNPortTCP        = 3478
	DefaultTURNPortTLS        = 443
	DefaultTURNCredentialTTL  = 3600 * time.Second
	DefaultTURNUsernamePrefix = "user"

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = 256 * 1024
	DefaultMaxSignalingMessagesPerSecond = 200
)

const (
	flagConfigFile = "config"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TURNConfig struct {
	// URL is the TURN host name, without scheme or port.
	URL    string
	Secret string
	Realm  string

	EnableUDP bool
	EnableTCP bool
	EnableTLS bool
	PortUDP   int
	PortTCP   int
	PortTLS   int

	CredentialTTL   time.Duration
	FallbackServers []string
	UsernamePrefix  string
}

func (c TURNConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Secret) != ""
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	MaxRoomSize         int
	RoomTimeout         time.Duration
	RoomCleanupInterval time.Duration

	TURN TURNConfig
	// ICEServers are static servers appended to every TURN config response.
	ICEServers []webrtc.ICEServer

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	// OutboundQueueLimit caps queued messages per peer; 0 is unbounded.
	OutboundQueueLimit int

	ConfigFile string
	// Warnings lists configuration values that were ignored in favour of a
	// default.
	Warnings []string

	iceConfigErr error
}

func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	configFile := configFileFromArgs(args)
	if configFile == "" {
		configFile, _ = lookup(envVarConfigFile)
	}
	configFile = strings.TrimSpace(configFile)

	src := &source{lookup: lookup}
	if configFile != "" {
		fileValues, err := loadFile(configFile)
		if err != nil {
			return Config{}, err
		}
		src.file = fileValues
	}

	modeDefault := src.enum(envVarMode, string(DefaultMode), func(s string) error { _, err := parseMode(s); return err })
	logFormatDefault := src.enum(envVarLogFormat, defaultLogFormatForMode(modeDefault), func(s string) error { _, err := parseLogFormat(s); return err })
	logLevelDefault := src.enum(envVarLogLevel, defaultLogLevelForMode(modeDefault), func(s string) error { _, err := parseLogLevel(s); return err })

	host := src.str(envVarHost, DefaultHost)
	port := src.integer(envVarPort, DefaultPort, func(n int) bool { return n > 0 && n <= 65535 })
	listenAddrDefault := net.JoinHostPort(host, strconv.Itoa(port))

	allowedOriginsDefault := src.origins(envVarAllowedOrigins, DefaultAllowedOrigin)
	shutdownTimeoutDefault := src.duration(envVarShutdownTimeout, DefaultShutdownTimeout)

	maxRoomSizeDefault := src.integer(envVarMaxRoomSize, DefaultMaxRoomSize, func(n int) bool { return n > 0 })
	roomTimeoutDefault := src.millis(envVarRoomTimeout, DefaultRoomTimeout)
	roomCleanupDefault := src.duration(envVarRoomCleanupInterval, DefaultRoomCleanupInterval)

	isPort := func(n int) bool { return n > 0 && n <= 65535 }
	turn := TURNConfig{
		URL:             src.str(envVarTURNServerURL, ""),
		Secret:          src.str(envVarTURNSecret, ""),
		Realm:           src.str(envVarTURNRealm, ""),
		EnableUDP:       src.boolean(envVarTURNEnableUDP, true),
		EnableTCP:       src.boolean(envVarTURNEnableTCP, true),
		EnableTLS:       src.boolean(envVarTURNEnableTLS, false),
		PortUDP:         src.integer(envVarTURNPortUDP, DefaultTURNPortUDP, isPort),
		PortTCP:         src.integer(envVarTURNPortTCP, DefaultTURNPortTCP, isPort),
		PortTLS:         src.integer(envVarTURNPortTLS, DefaultTURNPortTLS, isPort),
		CredentialTTL:   src.seconds(envVarTURNCredentialTTL, DefaultTURNCredentialTTL),
		FallbackServers: splitCommaSeparated(src.str(envVarTURNFallbacks, "")),
		UsernamePrefix:  src.str(envVarTURNUsernamePrefix, DefaultTURNUsernamePrefix),
	}

	iceServersJSON := src.str(envICEServersJSON, "")
	stunURLs := src.str(envStunURLs, "")

	wsIdleDefault := src.duration(envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	wsPingDefault := src.duration(envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	maxMsgBytesDefault := src.integer(envVarMaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes, func(n int) bool { return n > 0 })
	maxMsgRateDefault := src.integer(envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond, func(n int) bool { return n > 0 })
	outboundLimitDefault := src.integer(envVarOutboundQueueLimit, 0, func(n int) bool { return n >= 0 })

	fs := flag.NewFlagSet("ponswarp-signaling", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.String(flagConfigFile, configFile, "Optional YAML config file (env "+envVarConfigFile+")")
	listenAddr := fs.String("listen-addr", listenAddrDefault, "HTTP listen address (env "+envVarHost+"/"+envVarPort+")")
	allowedOrigins := fs.String("allowed-origins", strings.Join(allowedOriginsDefault, ","), "Comma-separated browser origins allowed to connect (env "+envVarAllowedOrigins+")")
	modeStr := fs.String("mode", modeDefault, "Runtime mode: dev or prod (env "+envVarMode+")")
	logFormatStr := fs.String("log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	logLevelStr := fs.String("log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	shutdownTimeout := fs.Duration("shutdown-timeout", shutdownTimeoutDefault, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")

	maxRoomSize := fs.Int("max-room-size", maxRoomSizeDefault, "Maximum peers per room (env "+envVarMaxRoomSize+")")
	roomTimeout := fs.Duration("room-timeout", roomTimeoutDefault, "Maximum room age before the reaper evicts it (env "+envVarRoomTimeout+", milliseconds)")
	roomCleanup := fs.Duration("room-cleanup-interval", roomCleanupDefault, "Interval between reaper sweeps (env "+envVarRoomCleanupInterval+")")

	fs.StringVar(&turn.URL, "turn-url", turn.URL, "TURN host name without scheme or port (env "+envVarTURNServerURL+")")
	fs.StringVar(&turn.Secret, "turn-secret", turn.Secret, "TURN REST shared secret (env "+envVarTURNSecret+")")
	fs.StringVar(&turn.Realm, "turn-realm", turn.Realm, "TURN realm (env "+envVarTURNRealm+")")
	fs.BoolVar(&turn.EnableUDP, "turn-enable-udp", turn.EnableUDP, "Advertise TURN over UDP and STUN (env "+envVarTURNEnableUDP+")")
	fs.BoolVar(&turn.EnableTCP, "turn-enable-tcp", turn.EnableTCP, "Advertise TURN over TCP (env "+envVarTURNEnableTCP+")")
	fs.BoolVar(&turn.EnableTLS, "turn-enable-tls", turn.EnableTLS, "Advertise TURN over TLS (env "+envVarTURNEnableTLS+")")
	fs.IntVar(&turn.PortUDP, "turn-port-udp", turn.PortUDP, "TURN UDP port (env "+envVarTURNPortUDP+")")
	fs.IntVar(&turn.PortTCP, "turn-port-tcp", turn.PortTCP, "TURN TCP port (env "+envVarTURNPortTCP+")")
	fs.IntVar(&turn.PortTLS, "turn-port-tls", turn.PortTLS, "TURN TLS port (env "+envVarTURNPortTLS+")")
	fs.DurationVar(&turn.CredentialTTL, "turn-credential-ttl", turn.CredentialTTL, "TURN credential lifetime (env "+envVarTURNCredentialTTL+", seconds)")
	turnFallbacks := fs.String("turn-fallback-servers", strings.Join(turn.FallbackServers, ","), "Comma-separated fallback TURN hosts (env "+envVarTURNFallbacks+")")
	fs.StringVar(&turn.UsernamePrefix, "turn-username-prefix", turn.UsernamePrefix, "Prefix for issued TURN usernames (env "+envVarTURNUsernamePrefix+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "Extra ICE servers as JSON (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated extra STUN URLs (env "+envStunURLs+")")

	wsIdle := fs.Duration("signaling-ws-idle-timeout", wsIdleDefault, "Close signaling WebSockets idle for this long (env "+envVarSignalingWSIdleTimeout+")")
	wsPing := fs.Duration("signaling-ws-ping-interval", wsPingDefault, "Ping interval for signaling WebSockets (env "+envVarSignalingWSPingInterval+")")
	maxMsgBytes := fs.Int("max-signaling-message-bytes", maxMsgBytesDefault, "Maximum inbound signaling frame size (env "+envVarMaxSignalingMessageBytes+")")
	maxMsgRate := fs.Int("max-signaling-messages-per-second", maxMsgRateDefault, "Per-connection inbound message rate (env "+envVarMaxSignalingMessagesPerSecond+")")
	outboundLimit := fs.Int("outbound-queue-limit", outboundLimitDefault, "Per-peer queued message cap, 0 for unbounded (env "+envVarOutboundQueueLimit+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(*modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(*logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(*logLevelStr)
	if err != nil {
		return Config{}, err
	}
	if _, _, err := net.SplitHostPort(*listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid --listen-addr %q: %w", *listenAddr, err)
	}
	origins, err := parseAllowedOrigins(*allowedOrigins)
	if err != nil {
		return Config{}, fmt.Errorf("invalid --allowed-origins: %w", err)
	}
	if *maxRoomSize <= 0 {
		return Config{}, fmt.Errorf("--max-room-size must be > 0")
	}
	if *roomTimeout <= 0 || *roomCleanup <= 0 {
		return Config{}, fmt.Errorf("--room-timeout and --room-cleanup-interval must be > 0")
	}
	if turn.CredentialTTL < time.Second {
		return Config{}, fmt.Errorf("--turn-credential-ttl must be at least 1s")
	}
	for name, p := range map[string]int{"udp": turn.PortUDP, "tcp": turn.PortTCP, "tls": turn.PortTLS} {
		if !isPort(p) {
			return Config{}, fmt.Errorf("--turn-port-%s %d out of range", name, p)
		}
	}
	if strings.Contains(turn.UsernamePrefix, ":") {
		return Config{}, fmt.Errorf("--turn-username-prefix must not contain ':'")
	}
	if *maxMsgBytes <= 0 || *maxMsgRate <= 0 || *outboundLimit < 0 {
		return Config{}, fmt.Errorf("signaling limits must be positive")
	}
	if *wsIdle <= 0 || *wsPing <= 0 {
		return Config{}, fmt.Errorf("--signaling-ws-idle-timeout and --signaling-ws-ping-interval must be > 0")
	}
	turn.URL = strings.TrimSpace(turn.URL)
	turn.FallbackServers = splitCommaSeparated(*turnFallbacks)

	iceServers, iceErr := parseICEServersFromValues(iceServersJSON, stunURLs)

	return Config{
		ListenAddr:      *listenAddr,
		AllowedOrigins:  origins,
		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: *shutdownTimeout,

		MaxRoomSize:         *maxRoomSize,
		RoomTimeout:         *roomTimeout,
		RoomCleanupInterval: *roomCleanup,

		TURN:       turn,
		ICEServers: iceServers,

		SignalingWSIdleTimeout:        *wsIdle,
		SignalingWSPingInterval:       *wsPing,
		MaxSignalingMessageBytes:      int64(*maxMsgBytes),
		MaxSignalingMessagesPerSecond: *maxMsgRate,
		OutboundQueueLimit:            *outboundLimit,

		ConfigFile:   configFile,
		Warnings:     src.warnings,
		iceConfigErr: iceErr,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

// configFileFromArgs finds --config ahead of the full flag parse, since the
// file supplies flag defaults.
func configFileFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return ""
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if v, ok := strings.CutPrefix(name, flagConfigFile+"="); ok {
			return v
		}
		if name == flagConfigFile && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, entry := range splitCommaSeparated(raw) {
		if entry == "*" || entry == "null" {
			out = append(out, entry)
			continue
		}
		normalized, _, ok := origin.NormalizeHeader(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
