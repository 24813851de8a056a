package main

import (
	"log/slog"
	"time"

	"github.com/ponswarp/ponswarp-signaling/internal/config"
	"github.com/ponswarp/ponswarp-signaling/internal/origin"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	for _, w := range cfg.Warnings {
		logger.Warn("config warning: "+w, "warning_code", "config_value_ignored", "mode", cfg.Mode)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; /readyz will fail",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	}

	if !cfg.TURN.Enabled() {
		logger.Warn("startup warning: TURN_SERVER_URL/TURN_SECRET unset; TURN config requests will fail",
			"warning_code", "turn_unconfigured",
			"turn_url_set", cfg.TURN.URL != "",
			"turn_secret_set", cfg.TURN.Secret != "",
			"mode", cfg.Mode,
		)
	} else if cfg.TURN.CredentialTTL > 24*time.Hour {
		logger.Warn("startup security warning: TURN_CREDENTIAL_TTL is longer than a day (leaked credentials stay usable)",
			"warning_code", "turn_credential_ttl_large",
			"turn_credential_ttl", cfg.TURN.CredentialTTL,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, origin.Wildcard) {
		logger.Warn("startup security warning: CORS_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.OutboundQueueLimit <= 0 {
		logger.Warn("startup security warning: OUTBOUND_QUEUE_LIMIT is unset/0 (unbounded per-peer queues) while --mode=prod",
			"warning_code", "outbound_queue_unbounded_in_prod",
			"outbound_queue_limit", cfg.OutboundQueueLimit,
			"mode", cfg.Mode,
		)
	}

	// Large frames weaken the per-connection read limit.
	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
	if cfg.MaxRoomSize > 64 {
		logger.Warn("startup warning: MAX_ROOM_SIZE is large (every broadcast fans out to the whole room)",
			"warning_code", "max_room_size_large",
			"max_room_size", cfg.MaxRoomSize,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
