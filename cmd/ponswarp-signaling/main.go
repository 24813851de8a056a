package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ponswarp/ponswarp-signaling/internal/config"
	"github.com/ponswarp/ponswarp-signaling/internal/httpserver"
	"github.com/ponswarp/ponswarp-signaling/internal/metrics"
	"github.com/ponswarp/ponswarp-signaling/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting ponswarp-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"config_file", cfg.ConfigFile,
		"allowed_origins", cfg.AllowedOrigins,
		"max_room_size", cfg.MaxRoomSize,
		"room_timeout", cfg.RoomTimeout,
		"room_cleanup_interval", cfg.RoomCleanupInterval,
		"turn_enabled", cfg.TURN.Enabled(),
		"turn_host", cfg.TURN.URL,
		"turn_realm", cfg.TURN.Realm,
		"ice_servers", len(cfg.ICEServers),
	)
	logStartupWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, builtAt := resolveBuildInfo(buildCommit, buildTime)
	app := newApp(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: builtAt})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.run(ctx, ln); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

type app struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	hub     *signaling.Hub
	sig     *signaling.Server
	http    *httpserver.Server
}

func newApp(cfg config.Config, logger *slog.Logger, build httpserver.BuildInfo) *app {
	m := metrics.New()
	hub := signaling.NewHub(signaling.HubConfig{
		MaxRoomSize:        cfg.MaxRoomSize,
		OutboundQueueLimit: cfg.OutboundQueueLimit,
		Issuer:             newTURNIssuer(cfg),
		Metrics:            m,
		Logger:             logger,
	})

	srv := httpserver.New(cfg, logger, build, func() httpserver.Stats {
		st := hub.Stats()
		return httpserver.Stats{Rooms: st.Rooms, Peers: st.Peers}
	})

	sig := signaling.NewServer(signaling.Config{
		Hub:                  hub,
		Origins:              srv.Origins(),
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		Metrics:              m,
		Logger:               logger,
	})
	sig.RegisterRoutes(srv.Mux())

	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m, func() map[string]int {
		st := hub.Stats()
		return map[string]int{"peers": st.Peers, "rooms": st.Rooms}
	}))

	return &app{cfg: cfg, log: logger, metrics: m, hub: hub, sig: sig, http: srv}
}

// run serves on ln and sweeps idle rooms until ctx is cancelled or the HTTP
// server fails, then shuts down within cfg.ShutdownTimeout.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.http.Serve(ln)
		if errors.Is(err, httpserver.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return a.hub.NewReaper(a.cfg.RoomTimeout, a.cfg.RoomCleanupInterval).Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.log.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		// Shutdown does not track hijacked connections, so WebSocket peers
		// are sent away separately.
		a.sig.Close()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.log.Error("http server shutdown failed", "err", err)
			_ = a.http.Close()
		}
		return nil
	})

	err := g.Wait()
	a.sig.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
