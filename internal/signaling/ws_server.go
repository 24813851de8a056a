package signaling

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ponswarp/ponswarp-signaling/internal/metrics"
	"github.com/ponswarp/ponswarp-signaling/internal/origin"
	"github.com/ponswarp/ponswarp-signaling/internal/peer"
	"github.com/ponswarp/ponswarp-signaling/internal/protocol"
	"github.com/ponswarp/ponswarp-signaling/internal/ratelimit"
)

const (
	wsWriteWait = 5 * time.Second

	defaultIdleTimeout          = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
	defaultMaxMessageBytes      = 256 * 1024
	defaultMaxMessagesPerSecond = 200
)

// Config configures the WebSocket transport.
type Config struct {
	Hub *Hub
	// Origins restricts browser origins allowed to upgrade. If nil, every
	// origin is accepted.
	Origins *origin.Policy

	// IdleTimeout closes a connection that sends nothing (not even a pong)
	// for this long.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server is the signaling WebSocket endpoint.
//
// Endpoints:
//   - GET /ws : one peer per connection; text frames carry JSON, binary
//     frames carry MessagePack
type Server struct {
	hub      *Hub
	cfg      Config
	upgrader websocket.Upgrader
	log      *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
}

func NewServer(cfg Config) *Server {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = defaultMaxMessagesPerSecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{hub: cfg.Hub, cfg: cfg, log: cfg.Logger, conns: make(map[*wsConn]struct{})}
	s.upgrader = websocket.Upgrader{
		Subprotocols: protocol.Subprotocols(),
		CheckOrigin: func(r *http.Request) bool {
			if cfg.Origins == nil {
				return true
			}
			return cfg.Origins.CheckRequest(r)
		},
	}
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close sends 1001 to every open connection and refuses new ones. It does not
// wait; use Wait for that.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.goAway()
	}
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	c := &wsConn{
		srv:        s,
		conn:       conn,
		closeReq:   make(chan closeRequest, 1),
		writerDone: make(chan struct{}),
	}
	if !s.track(c) {
		closeNow(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(c)

	sess, err := s.hub.Connect()
	if err != nil {
		s.log.Error("register peer", "err", err)
		closeNow(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	c.session = sess
	c.codec = protocol.CodecFor(conn.Subprotocol())
	c.limiter = ratelimit.NewTokenBucket(
		ratelimit.RealClock{},
		int64(s.cfg.MaxMessagesPerSecond),
		int64(s.cfg.MaxMessagesPerSecond),
	)
	c.log = s.log.With("peer_id", sess.ID())
	c.run()
}

func closeNow(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsWriteWait))
	_ = conn.Close()
}

type closeRequest struct {
	code   int
	reason string
}

// wsConn pumps one peer's connection. The handler goroutine reads; a single
// writer goroutine owns every write to conn.
type wsConn struct {
	srv     *Server
	conn    *websocket.Conn
	session *peer.Session
	codec   protocol.Codec
	limiter *ratelimit.TokenBucket
	log     *slog.Logger

	closeReq   chan closeRequest
	writerDone chan struct{}
}

func (c *wsConn) run() {
	c.log.Debug("signaling connection opened", "codec", c.codec.Name(), "remote", c.conn.RemoteAddr().String())

	go c.writeLoop()
	c.readLoop()

	c.srv.hub.Disconnect(c.session.ID())
	c.session.Outbox().Close()
	<-c.writerDone
	_ = c.conn.Close()

	c.log.Debug("signaling connection closed", "dropped", c.session.Outbox().DropCount())
}

func (c *wsConn) readLoop() {
	cfg := c.srv.cfg
	c.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent 1009.
				c.log.Info("signaling message too large", "limit", cfg.MaxMessageBytes)
			case isTimeout(err):
				c.log.Info("signaling connection idle", "timeout", cfg.IdleTimeout)
				c.requestClose(websocket.CloseGoingAway, "idle timeout")
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				c.log.Debug("signaling read failed", "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))

		// Limit after reading so the frame is consumed and the client reliably
		// sees the close code.
		if !c.limiter.Allow(1) {
			c.srv.cfg.Metrics.Inc(metrics.DropReasonRateLimited)
			c.log.Warn("signaling rate limit exceeded", "limit", cfg.MaxMessagesPerSecond)
			c.session.Send(protocol.Error(protocol.ErrorCodeRateLimited, "rate limit exceeded"))
			c.requestClose(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		switch msgType {
		case websocket.TextMessage:
			c.srv.hub.HandleFrame(c.session.ID(), protocol.JSON, data)
		case websocket.BinaryMessage:
			c.srv.hub.HandleFrame(c.session.ID(), protocol.MsgPack, data)
		}
	}
}

// requestClose asks the writer to flush queued messages and then send a close
// frame. The writer exits afterwards.
func (c *wsConn) requestClose(code int, reason string) {
	select {
	case c.closeReq <- closeRequest{code: code, reason: reason}:
	default:
	}
	select {
	case <-c.writerDone:
	case <-time.After(2 * wsWriteWait):
	}
}

// goAway is requestClose for callers outside the connection's goroutines. The
// read deadline bounds how long a peer that ignores the close frame is kept.
func (c *wsConn) goAway() {
	select {
	case c.closeReq <- closeRequest{code: websocket.CloseGoingAway, reason: "server shutting down"}:
	default:
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * wsWriteWait))
}

func (c *wsConn) writeLoop() {
	defer close(c.writerDone)

	box := c.session.Outbox()
	ping := time.NewTicker(c.srv.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-box.Ready():
			if err := c.flush(box); err != nil {
				c.log.Debug("signaling write failed", "err", err)
				_ = c.conn.Close()
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.log.Debug("signaling ping failed", "err", err)
				_ = c.conn.Close()
				return
			}
		case req := <-c.closeReq:
			_ = c.flush(box)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(req.code, req.reason),
				time.Now().Add(wsWriteWait))
			return
		case <-box.Done():
			return
		}
	}
}

func (c *wsConn) flush(box *peer.Outbox) error {
	frameType := websocket.TextMessage
	if c.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	for _, msg := range box.Drain() {
		data, err := c.codec.Encode(msg)
		if err != nil {
			c.log.Error("encode server message", "type", msg.Type, "err", err)
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(frameType, data); err != nil {
			return err
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
