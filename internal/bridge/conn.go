package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"btk/orchestrator/internal/protocol"
	"btk/orchestrator/pkg/logger"
	"btk/orchestrator/pkg/types"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler processes an incoming request envelope and returns the reply
// payload. A non-nil error is sent back as an error envelope.
type Handler func(ctx context.Context, msg *types.BridgeMessage) (interface{}, error)

// Config holds the connection parameters. Zero values fall back to the
// protocol defaults.
type Config struct {
	// URL is the ws:// endpoint; http(s) schemes are converted.
	URL    string
	Source string
	Target string

	// Register describes this component to the peer on connect.
	Register types.RegisterPayload

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	RequestTimeout    time.Duration
}

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultHeartbeatInterval = 10 * time.Second
	defaultReconnectDelay    = 5 * time.Second
	defaultRequestTimeout    = 60 * time.Second

	sendBufferSize = 256
)

// Conn is a persistent WebSocket connection that correlates requests with
// responses and survives transport drops by reconnecting in the background.
type Conn struct {
	config  Config
	pending *PendingTable

	mu      sync.Mutex
	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	closeWS sync.Once

	state        atomic.Int32
	reconnecting atomic.Bool
	stopped      chan struct{}
	stopOnce     sync.Once

	handlerMu sync.RWMutex
	handlers  map[types.MessageType]Handler

	onStateChange func(State)
}

// New creates a connection in the DISCONNECTED state. Call Connect to dial.
func New(cfg Config) *Conn {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	return &Conn{
		config:   cfg,
		pending:  NewPendingTable(),
		stopped:  make(chan struct{}),
		handlers: make(map[types.MessageType]Handler),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// OnStateChange installs a callback invoked on every state transition.
// Must be set before Connect.
func (c *Conn) OnStateChange(fn func(State)) {
	c.onStateChange = fn
}

// Handle registers a handler for incoming request envelopes of the given
// type. Later registrations replace earlier ones.
func (c *Conn) Handle(msgType types.MessageType, h Handler) {
	c.handlerMu.Lock()
	c.handlers[msgType] = h
	c.handlerMu.Unlock()
}

// Connect dials the peer, sends the registration envelope, and starts the
// read, write and heartbeat pumps. It is an error to connect twice.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateDisconnected {
		return fmt.Errorf("already connected")
	}
	c.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, toWebSocketURL(c.config.URL), nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial failed: %w", err)
	}

	regMsg, err := protocol.New(c.config.Source, c.config.Target, types.MsgRegister, c.config.Register)
	if err != nil {
		ws.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("build register message: %w", err)
	}
	raw, _ := protocol.Encode(regMsg)
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		ws.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("send register message failed: %w", err)
	}

	// Read the registration ack before declaring the link usable.
	ws.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	_, ackRaw, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("read register ack failed: %w", err)
	}
	ws.SetReadDeadline(time.Time{})

	ack, err := protocol.Decode(ackRaw)
	if err != nil {
		ws.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("parse register ack failed: %w", err)
	}
	if ack.Type == types.MsgError {
		var ep types.ErrorPayload
		_ = json.Unmarshal(ack.Payload, &ep)
		ws.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("registration rejected: %s", ep.Message)
	}

	c.ws = ws
	c.send = make(chan []byte, sendBufferSize)
	c.done = make(chan struct{})
	c.closeWS = sync.Once{}
	c.setState(StateConnected)

	go c.writePump(ws, c.send, c.done)
	go c.readPump(ws)
	go c.heartbeatPump(c.done)

	return nil
}

// Request sends a request envelope and blocks until the correlated response
// arrives, the request times out, or ctx is cancelled. The pending entry is
// removed in every outcome.
func (c *Conn) Request(ctx context.Context, msgType types.MessageType, payload interface{}) (json.RawMessage, error) {
	if c.State() != StateConnected {
		return nil, ErrConnectionClosed
	}

	msg, err := protocol.New(c.config.Source, c.config.Target, msgType, payload)
	if err != nil {
		return nil, err
	}

	ch, ok := c.pending.Add(msg.ID)
	if !ok {
		return nil, fmt.Errorf("duplicate request id %s", msg.ID)
	}

	raw, _ := protocol.Encode(msg)
	if err := c.enqueue(raw); err != nil {
		c.pending.Reject(msg.ID, err)
		<-ch
		return nil, err
	}

	timer := time.NewTimer(c.config.RequestTimeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.Err != nil {
			return nil, out.Err
		}
		if out.Msg.Type == types.MsgError {
			var ep types.ErrorPayload
			_ = json.Unmarshal(out.Msg.Payload, &ep)
			return nil, fmt.Errorf("remote error: %s", ep.Message)
		}
		return out.Msg.Payload, nil
	case <-timer.C:
		c.pending.Reject(msg.ID, ErrRequestTimeout)
		<-ch
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		c.pending.Reject(msg.ID, ctx.Err())
		<-ch
		return nil, ctx.Err()
	}
}

// Send writes a one-way envelope without waiting for a response.
func (c *Conn) Send(msgType types.MessageType, payload interface{}) error {
	if c.State() != StateConnected {
		return ErrConnectionClosed
	}
	msg, err := protocol.New(c.config.Source, c.config.Target, msgType, payload)
	if err != nil {
		return err
	}
	raw, _ := protocol.Encode(msg)
	return c.enqueue(raw)
}

// Close tears the connection down permanently; no reconnect is attempted.
func (c *Conn) Close() error {
	c.stopOnce.Do(func() { close(c.stopped) })
	c.disconnect(ErrConnectionClosed)
	return nil
}

// ─── internal pumps ─────────────────────────────────────────────────────────

func (c *Conn) readPump(ws *websocket.Conn) {
	defer c.handleDisconnect()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			logger.Warn("bridge: dropping malformed frame", zap.Error(err))
			continue
		}

		if msg.CorrelationID != "" {
			if !c.pending.Resolve(msg.CorrelationID, msg) {
				logger.Debug("bridge: response with no pending request",
					zap.String("correlationId", msg.CorrelationID))
			}
			continue
		}

		go c.dispatch(msg)
	}
}

func (c *Conn) writePump(ws *websocket.Conn, send chan []byte, done chan struct{}) {
	for {
		select {
		case data, ok := <-send:
			if !ok {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Conn) heartbeatPump(done chan struct{}) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hb := types.HeartbeatPayload{
				ComponentID: c.config.Register.ComponentID,
				Timestamp:   time.Now().UnixMilli(),
			}
			if err := c.Send(types.MsgHeartbeat, hb); err != nil {
				return
			}
		case <-done:
			return
		case <-c.stopped:
			return
		}
	}
}

// dispatch routes an incoming request to its handler and replies with the
// request's ID as correlationId.
func (c *Conn) dispatch(msg *types.BridgeMessage) {
	c.handlerMu.RLock()
	h, ok := c.handlers[msg.Type]
	c.handlerMu.RUnlock()

	if !ok {
		if msg.IsOneWay() {
			return
		}
		c.reply(msg, types.MsgError, types.ErrorPayload{
			Code:    "unsupported_type",
			Message: fmt.Sprintf("no handler for message type %q", msg.Type),
		})
		return
	}

	result, err := h(context.Background(), msg)
	if msg.IsOneWay() {
		return
	}
	if err != nil {
		c.reply(msg, types.MsgError, types.ErrorPayload{Code: "handler_error", Message: err.Error()})
		return
	}
	c.reply(msg, types.MsgResult, result)
}

func (c *Conn) reply(req *types.BridgeMessage, msgType types.MessageType, payload interface{}) {
	resp, err := protocol.Reply(req, msgType, payload)
	if err != nil {
		logger.Error("bridge: build reply failed", zap.Error(err))
		return
	}
	raw, _ := protocol.Encode(resp)
	if err := c.enqueue(raw); err != nil {
		logger.Warn("bridge: reply dropped", zap.String("type", string(msgType)), zap.Error(err))
	}
}

func (c *Conn) enqueue(data []byte) error {
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()

	if send == nil {
		return ErrConnectionClosed
	}
	select {
	case send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *Conn) handleDisconnect() {
	c.disconnect(ErrConnectionClosed)

	select {
	case <-c.stopped:
		return
	default:
	}
	if !c.reconnecting.Load() {
		go c.reconnectLoop()
	}
}

// disconnect transitions to DISCONNECTED and rejects every pending request
// so no caller blocks on a dead link.
func (c *Conn) disconnect(cause error) {
	c.mu.Lock()
	c.closeWS.Do(func() {
		if c.done != nil {
			close(c.done)
		}
		if c.ws != nil {
			c.ws.Close()
		}
		c.send = nil
	})
	c.mu.Unlock()

	if c.State() != StateDisconnected {
		c.setState(StateDisconnected)
		logger.Warn("bridge: connection lost", zap.String("url", c.config.URL))
	}
	c.pending.RejectAll(cause)
}

func (c *Conn) reconnectLoop() {
	if c.reconnecting.Swap(true) {
		return
	}
	defer c.reconnecting.Store(false)

	for {
		select {
		case <-c.stopped:
			return
		case <-time.After(c.config.ReconnectDelay):
		}

		logger.Info("bridge: reconnecting", zap.String("url", c.config.URL))
		if err := c.Connect(context.Background()); err != nil {
			logger.Warn("bridge: reconnection failed", zap.Error(err))
			continue
		}
		logger.Info("bridge: reconnected", zap.String("url", c.config.URL))
		return
	}
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
	if c.onStateChange != nil {
		c.onStateChange(s)
	}
}

// toWebSocketURL converts an http(s) URL or bare host:port to a ws:// URL.
func toWebSocketURL(raw string) string {
	if strings.HasPrefix(raw, "https://") {
		return "wss://" + strings.TrimPrefix(raw, "https://")
	}
	if strings.HasPrefix(raw, "http://") {
		return "ws://" + strings.TrimPrefix(raw, "http://")
	}
	if strings.HasPrefix(raw, "ws://") || strings.HasPrefix(raw, "wss://") {
		return raw
	}
	return "ws://" + raw
}
