package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"btk/orchestrator/internal/backend"
	"btk/orchestrator/internal/bridge"
	"btk/orchestrator/internal/protocol"
	"btk/orchestrator/pkg/logger"
	"btk/orchestrator/pkg/types"
)

// BackendConn wraps a single WebSocket connection from an execution backend.
type BackendConn struct {
	backendID string
	conn      *fiberws.Conn
	send      chan []byte
	pending   *bridge.PendingTable
	hub       *BackendHub
	done      chan struct{}
	once      sync.Once
}

// BackendHub manages all backend WebSocket connections and mirrors each one
// into the fallback chain as a bridge backend.
type BackendHub struct {
	conns  map[string]*BackendConn
	mu     sync.RWMutex
	server *Server
}

// NewBackendHub creates a new hub.
func NewBackendHub(server *Server) *BackendHub {
	return &BackendHub{
		conns:  make(map[string]*BackendConn),
		server: server,
	}
}

// HasConn returns true if the backend has an active WebSocket connection.
func (h *BackendHub) HasConn(backendID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[backendID]
	return ok
}

// register installs the connection and mirrors it into the fallback chain,
// superseding any previous chain entry under the same ID. Hub map and chain
// membership change together under the hub lock so a racing teardown of the
// old connection cannot evict the replacement.
func (h *BackendHub) register(conn *BackendConn, client *backend.Client) {
	h.mu.Lock()
	old := h.conns[conn.backendID]
	h.conns[conn.backendID] = conn

	ch := h.server.orch.Chain()
	if _, exists := ch.Get(conn.backendID); exists {
		_ = ch.Unregister(conn.backendID)
	}
	if err := ch.Register(client); err != nil {
		logger.Warn("bridge ws: chain registration failed",
			zap.String("backend_id", conn.backendID), zap.Error(err))
	}
	h.server.orch.TrackBackend(conn.backendID)
	h.mu.Unlock()

	if old != nil {
		old.close()
	}
}

// remove tears down routing state only while the hub entry still points at
// this exact connection. A superseded connection's teardown must not evict
// the replacement that took over its ID.
func (h *BackendHub) remove(conn *BackendConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[conn.backendID] != conn {
		return false
	}
	delete(h.conns, conn.backendID)
	_ = h.server.orch.Chain().Unregister(conn.backendID)
	h.server.orch.UntrackBackend(conn.backendID)
	return true
}

// setupBridgeRoute registers the Fiber-native WebSocket endpoint.
func (s *Server) setupBridgeRoute() {
	s.app.Use("/api/v1/bridge", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/api/v1/bridge", fiberws.New(func(c *fiberws.Conn) {
		s.hub.handleConnection(c)
	}))
}

// handleConnection handles a newly established backend WebSocket connection.
func (h *BackendHub) handleConnection(c *fiberws.Conn) {
	// The first envelope must be a registration.
	_, raw, err := c.ReadMessage()
	if err != nil {
		logger.Error("bridge ws: read first message failed", zap.Error(err))
		return
	}

	regMsg, err := protocol.Decode(raw)
	if err != nil {
		logger.Error("bridge ws: malformed first message", zap.Error(err))
		return
	}
	if regMsg.Type != types.MsgRegister {
		logger.Error("bridge ws: expected register message",
			zap.String("got", string(regMsg.Type)))
		h.rejectRegistration(c, regMsg, "first message must be component.register")
		return
	}

	var reg types.RegisterPayload
	if err := protocol.DecodePayload(regMsg, &reg); err != nil {
		logger.Error("bridge ws: parse register payload failed", zap.Error(err))
		h.rejectRegistration(c, regMsg, "malformed register payload")
		return
	}
	if reg.ComponentID == "" {
		logger.Error("bridge ws: empty component ID")
		h.rejectRegistration(c, regMsg, "component_id is required")
		return
	}

	// Send register ack before serving traffic.
	ack, err := protocol.Reply(regMsg, types.MsgResult, nil)
	if err != nil {
		return
	}
	ackRaw, _ := protocol.Encode(ack)
	if err := c.WriteMessage(fiberws.TextMessage, ackRaw); err != nil {
		logger.Error("bridge ws: send register ack failed", zap.Error(err))
		return
	}

	conn := &BackendConn{
		backendID: reg.ComponentID,
		conn:      c,
		send:      make(chan []byte, 256),
		pending:   bridge.NewPendingTable(),
		hub:       h,
		done:      make(chan struct{}),
	}

	info := types.BackendInfo{
		ID:     reg.ComponentID,
		Role:   types.BackendRole(reg.Role),
		Labels: reg.Labels,
	}
	if info.Role == "" {
		info.Role = types.RoleBridge
	}
	h.register(conn, backend.NewClient(info, &wsTransport{conn: conn}))

	logger.Info("bridge ws: backend connected", zap.String("backend_id", reg.ComponentID))

	go conn.writePump()

	// readPump blocks until the connection closes.
	conn.readPump()

	conn.close()
	conn.pending.RejectAll(bridge.ErrConnectionClosed)

	if h.remove(conn) {
		logger.Info("bridge ws: backend disconnected", zap.String("backend_id", reg.ComponentID))
	} else {
		logger.Info("bridge ws: superseded connection closed", zap.String("backend_id", reg.ComponentID))
	}
}

func (h *BackendHub) rejectRegistration(c *fiberws.Conn, req *types.BridgeMessage, reason string) {
	msg, err := protocol.Reply(req, types.MsgError, types.ErrorPayload{
		Code:    "registration_rejected",
		Message: reason,
	})
	if err != nil {
		return
	}
	raw, _ := protocol.Encode(msg)
	_ = c.WriteMessage(fiberws.TextMessage, raw)
}

// ─── conn read / write ──────────────────────────────────────────────────────

func (c *BackendConn) readPump() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			logger.Warn("bridge ws: invalid message",
				zap.String("backend_id", c.backendID), zap.Error(err))
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *BackendConn) handleMessage(msg *types.BridgeMessage) {
	// Correlated frames answer an outstanding request.
	if msg.CorrelationID != "" {
		if !c.pending.Resolve(msg.CorrelationID, msg) {
			logger.Debug("bridge ws: response with no pending request",
				zap.String("backend_id", c.backendID),
				zap.String("correlationId", msg.CorrelationID))
		}
		return
	}

	switch msg.Type {
	case types.MsgHeartbeat:
		var hb types.HeartbeatPayload
		if err := protocol.DecodePayload(msg, &hb); err != nil {
			return
		}
		c.hub.server.orch.MarkSeen(c.backendID, hb.Load, hb.ActiveTasks)

	default:
		logger.Debug("bridge ws: unexpected message type",
			zap.String("backend_id", c.backendID),
			zap.String("type", string(msg.Type)))
	}
}

func (c *BackendConn) writePump() {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteMessage(fiberws.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *BackendConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// ─── chain transport over the hub connection ────────────────────────────────

// wsTransport adapts one hub connection to the backend client's Transport,
// so bridge backends participate in the fallback chain like HTTP ones.
type wsTransport struct {
	conn *BackendConn
}

func (t *wsTransport) Request(ctx context.Context, msgType types.MessageType, payload any) (json.RawMessage, error) {
	msg, err := protocol.New("orchestrator", t.conn.backendID, msgType, payload)
	if err != nil {
		return nil, err
	}

	ch, ok := t.conn.pending.Add(msg.ID)
	if !ok {
		return nil, fmt.Errorf("duplicate request id %s", msg.ID)
	}

	raw, _ := protocol.Encode(msg)
	select {
	case t.conn.send <- raw:
	default:
		t.conn.pending.Reject(msg.ID, fmt.Errorf("send buffer full"))
		<-ch
		return nil, fmt.Errorf("send buffer full for backend %s", t.conn.backendID)
	}

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
	case <-ctx.Done():
		t.conn.pending.Reject(msg.ID, ctx.Err())
		<-ch
		return nil, ctx.Err()
	case <-t.conn.done:
		t.conn.pending.Reject(msg.ID, bridge.ErrConnectionClosed)
		<-ch
		return nil, bridge.ErrConnectionClosed
	}
}

func (t *wsTransport) Close() error {
	t.conn.close()
	return nil
}
