package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
)

// ErrSessionEnded is returned for sends attempted after the backend has
// completed or blocked the session.
var ErrSessionEnded = errors.New("chat session already ended")

// State represents a state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Config represents a config.
type Config struct {
	ChatWSURL      string
	CharacterID    string
	AccessToken    string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// Callbacks represents a callbacks.
type Callbacks struct {
	OnEvent func(ev Event)
	OnState func(state State)
	OnError func(err error)
}

// Client represents a client.
type Client struct {
	cfg       Config
	logger    *zap.Logger
	callbacks Callbacks

	mu sync.Mutex

	conn     *websocket.Conn
	state    State
	closed   bool
	terminal bool

	writeMu sync.Mutex
}

// NewClient executes the newClient function.
func NewClient(cfg Config, callbacks Callbacks, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	return &Client{
		cfg:       cfg,
		logger:    logger,
		callbacks: callbacks,
		state:     StateDisconnected,
	}
}

// Connect executes the connect method.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected)
		c.reportError(err)
		return err
	}
	return nil
}

// Close executes the close method.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	c.setState(StateDisconnected)
}

// State executes the state method.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Terminal reports whether the session has reached a terminal event.
func (c *Client) Terminal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// MarkTerminal latches the terminal state, blocking sends and reconnects.
func (c *Client) MarkTerminal() {
	c.mu.Lock()
	c.terminal = true
	c.mu.Unlock()
}

// SendInit executes the sendInit method.
func (c *Client) SendInit(ctx context.Context, fingerprint string, difficulty string) error {
	payload := map[string]any{
		"type":        "init",
		"fingerprint": fingerprint,
	}
	if difficulty != "" {
		payload["difficulty"] = difficulty
	}
	return c.sendJSON(ctx, payload)
}

// SendAudio executes the sendAudio method.
func (c *Client) SendAudio(ctx context.Context, clip []byte) error {
	if c.Terminal() {
		return ErrSessionEnded
	}
	payload := map[string]any{
		"type":  "audio",
		"audio": base64.StdEncoding.EncodeToString(clip),
	}
	return c.sendJSON(ctx, payload)
}

// SendPing executes the sendPing method.
func (c *Client) SendPing(ctx context.Context) error {
	return c.sendJSON(ctx, map[string]any{"type": "ping"})
}

func (c *Client) sendJSON(ctx context.Context, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("chat connection not ready")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(payload); err != nil {
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	if c.cfg.ChatWSURL == "" {
		return errors.New("chat backend url is empty")
	}
	if c.cfg.CharacterID == "" {
		return errors.New("chat character id is empty")
	}

	url := strings.TrimRight(c.cfg.ChatWSURL, "/") + "/" + c.cfg.CharacterID
	headers := http.Header{}
	if c.cfg.AccessToken != "" {
		headers.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	c.logger.Info("chat connecting",
		zap.String("backend_url", url),
		zap.String("character_id", c.cfg.CharacterID),
	)

	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		return err
	}
	conn.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("client closed")
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	if c.callbacks.OnState != nil {
		c.callbacks.OnState(StateConnected)
	}
	c.logger.Info("chat connected", zap.String("character_id", c.cfg.CharacterID))

	go c.readLoop(ctx, conn)
	go c.pingLoop(ctx, conn)
	return nil
}

// pingLoop sends application-level keepalive pings for the lifetime of one
// connection. It stops once the connection is replaced or the session ends.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			mine := c.conn == conn
			terminal := c.terminal
			c.mu.Unlock()
			if !mine || terminal {
				return
			}
			if err := c.SendPing(ctx); err != nil {
				c.logger.Debug("chat ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn != conn {
				// Superseded by a newer connection; recovery belongs to it.
				c.mu.Unlock()
				return
			}
			_ = c.conn.Close()
			c.conn = nil
			c.state = StateDisconnected
			closed := c.closed
			terminal := c.terminal
			c.mu.Unlock()

			if c.callbacks.OnState != nil {
				c.callbacks.OnState(StateDisconnected)
			}
			if closed || terminal {
				return
			}
			c.reportError(err)
			c.logger.Warn("chat connection lost", zap.Error(err))
			c.scheduleReconnect(ctx)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.reportError(err)
		return
	}
	switch ev.Type {
	case EventConnected, EventInitStreamStart, EventInitChunk, EventInitStreamEnd,
		EventAudioStreamStart, EventAudioChunk, EventAudioStreamEnd,
		EventSTTResult, EventLLMResult, EventCharacterImage,
		EventTurnCountUpdate, EventSessionCompleted, EventSuggestedResponses,
		EventStatus, EventBlocked, EventError, EventPong:
	default:
		c.logger.Debug("chat unknown event", zap.String("event_type", ev.Type))
		return
	}
	if ev.Terminal() {
		c.MarkTerminal()
	}
	if c.callbacks.OnEvent != nil {
		c.callbacks.OnEvent(ev)
	}
}

// scheduleReconnect arms one delayed redial for the connection that just
// dropped. A failed redial does not arm another, and the timer is a no-op
// when a live connection exists by the time it fires.
func (c *Client) scheduleReconnect(ctx context.Context) {
	delay := c.cfg.ReconnectDelay

	c.logger.Info("chat reconnect scheduled", zap.Duration("delay", delay))
	time.AfterFunc(delay, func() {
		c.mu.Lock()
		live := c.conn != nil
		closed := c.closed
		terminal := c.terminal
		c.mu.Unlock()
		if live || closed || terminal {
			c.logger.Debug("chat reconnect skipped")
			return
		}
		c.setState(StateConnecting)
		if err := c.dial(ctx); err != nil {
			c.setState(StateDisconnected)
			c.reportError(err)
			c.logger.Warn("chat reconnect failed", zap.Error(err))
		}
	})
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()
	if changed && c.callbacks.OnState != nil {
		c.callbacks.OnState(state)
	}
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}
