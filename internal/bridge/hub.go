// Package bridge connects the daemon to the browser extension over a
// persistent WebSocket. The Hub accepts the extension's connection, forwards
// its tab events and implements browser.Browser by sending requests to it.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/tabcleaner/internal/browser"
	perrors "github.com/p-blackswan/tabcleaner/internal/errors"
	"github.com/p-blackswan/tabcleaner/internal/retry"
)

// Config holds bridge configuration.
type Config struct {
	// RequestTimeout is the max wait for an extension response.
	RequestTimeout time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// EventBuffer is the number of events queued per connection.
	EventBuffer int

	// Retry applies to idempotent queries only.
	Retry retry.Config

	// AllowedOrigins restricts the Origin header of the upgrade request.
	// Empty allows any origin.
	AllowedOrigins []string
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
		EventBuffer:    256,
		Retry:          retry.DefaultConfig(),
	}
}

// EventHandler receives tab events in the order the extension sent them.
type EventHandler func(ctx context.Context, ev browser.Event)

// Hub holds the single active extension connection. A newer connection
// replaces the older one.
type Hub struct {
	cfg      Config
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu           sync.Mutex
	conn         *conn
	onEvent      EventHandler
	onConnection func(connected bool)
}

// NewHub creates a new Hub.
func NewHub(cfg Config, logger zerolog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}

	h := &Hub{
		cfg:    cfg,
		logger: logger.With().Str("component", "bridge").Logger(),
		now:    time.Now,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// OnEvent registers the handler for extension events.
func (h *Hub) OnEvent(fn EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvent = fn
}

// OnConnection registers a callback invoked when an extension attaches or
// detaches.
func (h *Hub) OnConnection(fn func(connected bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onConnection = fn
}

// Connected reports whether an extension is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	c := newConn(ws, h.cfg.EventBuffer)

	h.mu.Lock()
	old := h.conn
	h.conn = c
	onConn := h.onConnection
	h.mu.Unlock()

	if old != nil {
		h.logger.Info().Msg("replacing existing extension connection")
		old.close()
	}

	h.logger.Info().Str("remote", r.RemoteAddr).Msg("extension connected")
	if onConn != nil {
		onConn(true)
	}

	go h.dispatchEvents(c)
	h.readLoop(c)

	h.mu.Lock()
	current := h.conn == c
	if current {
		h.conn = nil
	}
	onConn = h.onConnection
	h.mu.Unlock()

	c.close()
	h.logger.Info().Msg("extension disconnected")
	if current && onConn != nil {
		onConn(false)
	}
}

// Disconnect drops the active connection, if any.
func (h *Hub) Disconnect() error {
	h.mu.Lock()
	c := h.conn
	h.conn = nil
	onConn := h.onConnection
	h.mu.Unlock()

	if c == nil {
		return nil
	}
	c.writeClose(h.cfg.WriteTimeout)
	c.close()
	if onConn != nil {
		onConn(false)
	}
	return nil
}

// readLoop reads frames and dispatches responses, events and requests.
func (h *Hub) readLoop(c *conn) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug().Err(err).Msg("ws read ended")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			h.logger.Warn().Err(err).Msg("ws parse error")
			continue
		}

		switch f.Type {
		case frameRes:
			c.resolve(f)
		case frameEvent:
			ev, err := parseEvent(f, h.now())
			if err != nil {
				h.logger.Warn().Err(err).Msg("dropping malformed event")
				continue
			}
			select {
			case c.events <- ev:
			default:
				h.logger.Warn().Str("event", f.Event).Msg("event queue full, dropping event")
			}
		case frameReq:
			h.handleRequest(c, f)
		default:
			h.logger.Debug().Str("type", f.Type).Msg("ignoring unknown frame type")
		}
	}
}

// dispatchEvents delivers events one at a time so handlers can call back
// into the Hub without blocking the read loop.
func (h *Hub) dispatchEvents(c *conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.done
		cancel()
	}()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			h.mu.Lock()
			fn := h.onEvent
			h.mu.Unlock()
			if fn == nil {
				continue
			}
			h.logger.Debug().Str("event", string(ev.Kind)).Int("tab_id", ev.TabID).Msg("event received")
			fn(ctx, ev)
		}
	}
}

func (h *Hub) handleRequest(c *conn, f frame) {
	var resp frame
	switch f.Method {
	case MethodPing:
		var err error
		resp, err = okResponse(f.ID, PongPayload{Action: "pong", Timestamp: h.now().UnixMilli()})
		if err != nil {
			resp = errorResponse(f.ID, "internal", err.Error())
		}
	default:
		resp = errorResponse(f.ID, "unknown_method", fmt.Sprintf("unknown method %q", f.Method))
	}

	if err := c.write(resp, h.cfg.WriteTimeout); err != nil {
		h.logger.Warn().Err(err).Str("method", f.Method).Msg("failed to answer request")
	}
}

// call sends a request to the extension and decodes the response payload into out.
func (h *Hub) call(ctx context.Context, method string, params, out any) error {
	h.mu.Lock()
	c := h.conn
	h.mu.Unlock()
	if c == nil {
		return fmt.Errorf("%s: %w", method, perrors.ErrNotConnected)
	}

	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
		raw = b
	}

	reqID := uuid.New().String()
	respCh := c.register(reqID)
	defer c.unregister(reqID)

	if err := c.write(frame{Type: frameReq, ID: reqID, Method: method, Params: raw}, h.cfg.WriteTimeout); err != nil {
		return fmt.Errorf("sending %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.RequestTimeout)
	defer cancel()

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return perrors.NewBridgeError(method, resp.Error.Code, resp.Error.Message)
		}
		if resp.OK == nil || !*resp.OK {
			return perrors.NewBridgeError(method, "failed", "request failed")
		}
		if out == nil || len(resp.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Payload, out); err != nil {
			return fmt.Errorf("parsing %s response: %w", method, err)
		}
		return nil
	case <-c.done:
		return fmt.Errorf("%s: %w", method, perrors.ErrNotConnected)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", method, perrors.ErrTimeout)
		}
		return ctx.Err()
	}
}

// --- connection ---

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame // request ID → response channel

	events    chan browser.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, buffer int) *conn {
	return &conn{
		ws:      ws,
		pending: make(map[string]chan frame),
		events:  make(chan browser.Event, buffer),
		done:    make(chan struct{}),
	}
}

func (c *conn) register(id string) chan frame {
	ch := make(chan frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	return ch
}

func (c *conn) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *conn) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- f
	}
}

func (c *conn) write(f frame, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(timeout))
	return c.ws.WriteJSON(f)
}

func (c *conn) writeClose(timeout time.Duration) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(timeout),
	)
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
