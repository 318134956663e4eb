package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raihanakbr/lesson-session-client/internal/auth"
	"github.com/raihanakbr/lesson-session-client/internal/lesson"
	"github.com/raihanakbr/lesson-session-client/internal/logger"
)

var (
	ErrChannelClosed  = errors.New("lesson channel closed")
	ErrConnectionLost = errors.New("lesson connection lost")
	ErrNotConnected   = errors.New("lesson channel not connected")
	ErrAlreadyOpen    = errors.New("lesson channel already open")
	ErrMissingSession = errors.New("session id is required")
)

// WebsocketDialer is satisfied by *websocket.Dialer.
type WebsocketDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Channel is the persistent connection to one lesson session. It reconnects
// with exponential backoff after any closure it did not initiate.
type Channel struct {
	cfg     Config
	handler Handler
	log     *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	gen       int
	state     ConnectionState
	attempts  int
	sessionID string
	token     string
	opened    bool
	closed    bool
	completed bool
	timer     *time.Timer
	stopPing  chan struct{}
	lastPong  time.Time

	writeMu sync.Mutex
}

// NewChannel creates a Channel delivering events to h. Zero durations and an
// empty base URL fall back to the package defaults; zero reconnect attempts
// means a dropped connection is lost at once.
func NewChannel(cfg Config, h Handler, log *logger.Logger) *Channel {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.PingInterval < 0 {
		cfg.PingInterval = 0
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	if h == nil {
		h = NopHandler{}
	}
	return &Channel{
		cfg:     cfg,
		handler: h,
		log:     logger.OrNop(log).With("component", "LessonSessionChannel"),
	}
}

// SessionURL builds {base}{sessionID}?token=... and maps http(s) to ws(s).
func SessionURL(base, sessionID, token string) (string, error) {
	u, err := url.Parse(base + url.PathEscape(sessionID))
	if err != nil {
		return "", fmt.Errorf("failed to parse lesson URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported lesson URL scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set(TokenQueryParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open connects to the session. A missing token fails immediately without
// dialing; errors from the first dial are returned and not retried.
func (c *Channel) Open(ctx context.Context, sessionID, token string) error {
	if token == "" {
		return auth.ErrNoCredential
	}
	if sessionID == "" {
		return ErrMissingSession
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	if c.opened {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.opened = true
	c.sessionID = sessionID
	c.token = token
	c.state = Connecting
	c.mu.Unlock()
	c.handler.HandleConnectionState(Connecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = Disconnected
		c.opened = false
		c.mu.Unlock()
		c.handler.HandleConnectionState(Disconnected)
		return err
	}
	c.attach(conn)
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	sessionID, token := c.sessionID, c.token
	c.mu.Unlock()

	wsURL, err := SessionURL(c.cfg.BaseURL, sessionID, token)
	if err != nil {
		return nil, err
	}
	c.log.Debug("Connecting to lesson service", "url", logger.RedactURL(wsURL), "session_id", sessionID)

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to lesson service (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to lesson service: %w", err)
	}
	return conn, nil
}

// attach makes conn the live connection and starts its reader and heartbeat.
func (c *Channel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.gen++
	gen := c.gen
	c.conn = conn
	c.attempts = 0
	c.state = Connected
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	var stop chan struct{}
	if c.cfg.PingInterval > 0 {
		stop = make(chan struct{})
		c.stopPing = stop
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	c.log.Info("Connected to lesson service", "session_id", sessionID)
	c.handler.HandleConnectionState(Connected)

	go c.readLoop(conn, gen)
	if stop != nil {
		go c.heartbeat(stop)
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.dispatch(message)
	}
}

func (c *Channel) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.SendPing(); err != nil {
				c.log.Debug("Ping failed", "error", err)
			}
		}
	}
}

// handleClose runs once per connection generation when its reader fails.
func (c *Channel) handleClose(gen int, readErr error) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.stopHeartbeatLocked()
	c.state = Disconnected
	clean := c.completed
	c.mu.Unlock()

	conn.Close()
	c.handler.HandleConnectionState(Disconnected)

	if clean {
		c.log.Info("Lesson connection closed after session completed")
		return
	}
	c.log.Warn("Lesson connection closed unexpectedly", "error", readErr)
	c.scheduleReconnect()
}

func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		attempts := c.attempts
		c.state = Disconnected
		c.mu.Unlock()
		c.log.Error("Giving up on lesson connection", "attempts", attempts)
		c.handler.HandleConnectionLost(fmt.Errorf("%w after %d reconnect attempts", ErrConnectionLost, attempts))
		return
	}
	delay := Backoff(c.attempts, c.cfg.BaseDelay, c.cfg.MaxDelay)
	c.attempts++
	attempt := c.attempts
	c.state = Connecting
	c.timer = time.AfterFunc(delay, c.reconnect)
	c.mu.Unlock()

	c.log.Info("Reconnecting to lesson service", "attempt", attempt, "delay", delay)
	c.handler.HandleConnectionState(Connecting)
}

func (c *Channel) reconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	defer cancel()
	conn, err := c.dial(ctx)
	if err != nil {
		c.log.Warn("Reconnect failed", "error", err)
		c.mu.Lock()
		c.state = Disconnected
		c.mu.Unlock()
		c.scheduleReconnect()
		return
	}
	c.attach(conn)
}

func (c *Channel) stopHeartbeatLocked() {
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
}

// SendStepCompleted reports that the user finished the step.
func (c *Channel) SendStepCompleted(stepID lesson.StepID) error {
	return c.SendMessage(TypeStepCompleted, StepCompletedData{StepID: stepID})
}

// SendPing sends a heartbeat ping.
func (c *Channel) SendPing() error {
	return c.SendMessage(TypePing, nil)
}

// SendMessage writes a {"type","data"} envelope. Nothing is written after Close.
func (c *Channel) SendMessage(kind string, data interface{}) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	payload, err := encodeOutbound(kind, data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", kind, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}
	return nil
}

// Close stops the reconnect timer and heartbeat, then closes the socket
// with a normal closure frame. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	wasConnected := c.state != Disconnected
	c.state = Disconnected
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		werr := conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
			c.log.Debug("Error sending close frame", "error", werr)
		}
		err = conn.Close()
	}
	if wasConnected {
		c.handler.HandleConnectionState(Disconnected)
	}
	c.log.Info("Lesson channel closed")
	return err
}

// State returns the current connection state.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts is the number of reconnects scheduled since the last successful open.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastPong returns when the last pong arrived, or the zero time.
func (c *Channel) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}
