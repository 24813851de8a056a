package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/ponswarp/ponswarp-signaling/internal/config"
	"github.com/ponswarp/ponswarp-signaling/internal/httpserver"
)

func testAppConfig() config.Config {
	return config.Config{
		ListenAddr:                    "127.0.0.1:0",
		Mode:                          config.ModeDev,
		LogFormat:                     config.LogFormatText,
		LogLevel:                      slog.LevelInfo,
		ShutdownTimeout:               2 * time.Second,
		AllowedOrigins:                []string{"http://localhost:3500"},
		MaxRoomSize:                   4,
		RoomTimeout:                   time.Hour,
		RoomCleanupInterval:           time.Minute,
		SignalingWSIdleTimeout:        5 * time.Second,
		SignalingWSPingInterval:       time.Second,
		MaxSignalingMessageBytes:      64 * 1024,
		MaxSignalingMessagesPerSecond: 100,
		TURN: config.TURNConfig{
			URL:           "turn.example.com",
			Secret:        "shared-secret",
			EnableUDP:     true,
			PortUDP:       3478,
			CredentialTTL: time.Hour,
		},
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.com:19302"}}},
	}
}

type runningApp struct {
	baseURL string
	cancel  context.CancelFunc
	done    chan error
}

func startApp(t *testing.T, cfg config.Config) *runningApp {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := newApp(cfg, logger, httpserver.BuildInfo{Commit: "abc"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &runningApp{baseURL: "http://" + ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- a.run(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Errorf("app did not stop")
		}
	})
	return r
}

func (r *runningApp) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(r.baseURL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readType(t *testing.T, c *websocket.Conn, typ string) json.RawMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		if msg.Type == typ {
			return msg.Payload
		}
	}
	t.Fatalf("no %s message", typ)
	return nil
}

func TestApp_MetricsAndHealthReflectPeers(t *testing.T) {
	app := startApp(t, testAppConfig())

	c := app.dial(t)
	readType(t, c, "Connected")
	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"JoinRoom","payload":{"room_id":"alpha"}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	readType(t, c, "JoinedRoom")

	resp, err := http.Get(app.baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status=%d", resp.StatusCode)
	}
	for _, want := range []string{
		`ponswarp_signaling_events_total{event="connection_opened"} 1`,
		`ponswarp_signaling_events_total{event="room_created"} 1`,
		"ponswarp_signaling_peers 1",
		"ponswarp_signaling_rooms 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}

	resp, err = http.Get(app.baseURL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	var health struct {
		Rooms int `json:"rooms"`
		Peers int `json:"peers"`
	}
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Rooms != 1 || health.Peers != 1 {
		t.Fatalf("health=%+v, want 1 room and 1 peer", health)
	}
}

func TestApp_TURNConfigIncludesStaticICEServers(t *testing.T) {
	app := startApp(t, testAppConfig())

	c := app.dial(t)
	readType(t, c, "Connected")
	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"RequestTurnConfig","payload":{"room_id":"alpha"}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	var p struct {
		Success bool `json:"success"`
		Data    struct {
			ICEServers []struct {
				URLs     []string `json:"urls"`
				Username string   `json:"username"`
			} `json:"ice_servers"`
			TTL int64 `json:"ttl"`
		} `json:"data"`
	}
	if err := json.Unmarshal(readType(t, c, "TurnConfig"), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.Success || p.Data.TTL != 3600 {
		t.Fatalf("payload=%+v", p)
	}

	var urls []string
	for _, s := range p.Data.ICEServers {
		urls = append(urls, s.URLs...)
	}
	want := []string{"turn:turn.example.com:3478", "stun:turn.example.com:3478", "stun:stun.example.com:19302"}
	if strings.Join(urls, " ") != strings.Join(want, " ") {
		t.Fatalf("urls=%v, want %v", urls, want)
	}
	if p.Data.ICEServers[0].Username == "" {
		t.Fatalf("turn entry missing username")
	}
}

func TestApp_ShutdownClosesWebSockets(t *testing.T) {
	app := startApp(t, testAppConfig())

	c := app.dial(t)
	readType(t, c, "Connected")

	app.cancel()

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := c.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going away close, got %v", err)
	}

	select {
	case err := <-app.done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
		app.done <- nil
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
