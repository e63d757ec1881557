package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit is the maximum number of events returned in a catchup response.
// If more events are missed, a catchup.overflow message tells the client to
// do a full REST reload.
const catchupLimit = 200

// catchupTimeout bounds the history query for one catchup request.
const catchupTimeout = 10 * time.Second

// Control is the inbound half of the WebSocket surface: user responses to
// prompts and cancellation requests. Implemented by the application layer.
type Control interface {
	DeliverUserResponse(promptID, response string) error
	CancelBatch(batchID string) error
	CancelSession(sessionID string) error
}

// ConnectionManager manages WebSocket connections and channel subscriptions.
// For every channel with at least one WebSocket subscriber it holds one bus
// subscription and a pump goroutine that fans envelopes out to the sockets.
type ConnectionManager struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Channel fan-out state: channel → subscriber set + bus pump
	channels  map[string]*wsChannel
	channelMu sync.RWMutex

	bus     *Bus
	history History // nil disables catchup
	control Control // nil rejects user_input and cancel

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
	logger       *slog.Logger
}

type wsChannel struct {
	connIDs map[string]bool
	busSub  *Subscription
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed WITHOUT a lock. This is safe because all reads and
// writes (subscribe, unsubscribe, unregisterConnection) happen on the single
// goroutine that owns this connection (HandleConnection's read loop and its
// deferred cleanup). If a Connection is ever mutated from a different goroutine
// (e.g. an admin "kick" feature), subscriptions must be protected by a mutex.
type Connection struct {
	ID            string
	Conn          *websocket.Conn
	subscriptions map[string]bool // channels this connection is subscribed to
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a new ConnectionManager over bus. history and
// control may be nil; the corresponding client actions then fail gracefully.
func NewConnectionManager(bus *Bus, history History, control Control, writeTimeout time.Duration, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		connections:  make(map[string]*Connection),
		channels:     make(map[string]*wsChannel),
		bus:          bus,
		history:      history,
		control:      control,
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "ws_manager"),
	}
}

// SetControl wires the inbound control surface. Called once during startup
// after the research orchestrator and scraping control center exist.
func (m *ConnectionManager) SetControl(c Control) {
	m.control = c
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	// Send connection established message
	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	// Read loop: process client messages until the connection closes.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Connection closed or errored, exit the read loop.
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		m.handleClientMessage(ctx, c, &msg)
	}
}

// Broadcast sends an event payload to all connections subscribed to the given channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	wc, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	// Copy IDs to avoid holding lock during sends
	ids := make([]string, 0, len(wc.connIDs))
	for id := range wc.connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers under the lock, then release before
	// sending. This avoids holding mu.RLock during potentially slow
	// writes (up to writeTimeout per connection), which would stall
	// connection register/unregister operations.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, event); err != nil {
			m.logger.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "error", err)
		}
	}
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported; used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	if wc, ok := m.channels[channel]; ok {
		return len(wc.connIDs)
	}
	return 0
}

// handleClientMessage dispatches a client message to the appropriate handler.
func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		m.subscribe(c, msg.Channel)
		m.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})
		// Auto catch-up: deliver all prior events so late subscribers don't miss anything.
		m.handleCatchup(ctx, c, msg.Channel, 0)

	case "unsubscribe":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		m.unsubscribe(c, msg.Channel)

	case "catchup":
		if msg.Channel == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for catchup"})
			return
		}
		if msg.LastEventID != nil {
			m.handleCatchup(ctx, c, msg.Channel, *msg.LastEventID)
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})

	case "user_input":
		if msg.PromptID == "" {
			m.sendJSON(c, map[string]string{"type": "error", "message": "prompt_id is required for user_input"})
			return
		}
		if m.control == nil {
			m.sendJSON(c, map[string]string{"type": "error", "message": "user input is not accepted on this server"})
			return
		}
		if err := m.control.DeliverUserResponse(msg.PromptID, msg.Response); err != nil {
			m.logger.Warn("Rejected user response",
				"connection_id", c.ID, "prompt_id", msg.PromptID, "error", err)
			m.sendJSON(c, map[string]string{
				"type":      "input.rejected",
				"prompt_id": msg.PromptID,
				"message":   err.Error(),
			})
			return
		}
		m.sendJSON(c, map[string]string{
			"type":      "input.accepted",
			"prompt_id": msg.PromptID,
		})

	case "cancel":
		if m.control == nil {
			m.sendJSON(c, map[string]string{"type": "error", "message": "cancellation is not accepted on this server"})
			return
		}
		var err error
		switch {
		case msg.BatchID != "":
			err = m.control.CancelBatch(msg.BatchID)
		case msg.SessionID != "":
			err = m.control.CancelSession(msg.SessionID)
		default:
			m.sendJSON(c, map[string]string{"type": "error", "message": "batch_id or session_id is required for cancel"})
			return
		}
		if err != nil {
			m.sendJSON(c, map[string]string{"type": "cancel.rejected", "message": err.Error()})
			return
		}
		m.sendJSON(c, map[string]string{"type": "cancel.accepted"})
	}
}

// subscribe registers a connection for a channel and starts the bus pump if
// it is the first subscriber. Bus subscription is synchronous, so by the time
// subscribe returns the pump is attached and the subsequent auto-catchup can
// not race with live events being lost.
func (m *ConnectionManager) subscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	wc, exists := m.channels[channel]
	if !exists {
		wc = &wsChannel{
			connIDs: make(map[string]bool),
			busSub:  m.bus.Subscribe(channel),
		}
		m.channels[channel] = wc
		go m.pump(channel, wc.busSub)
	}
	wc.connIDs[c.ID] = true
	m.channelMu.Unlock()

	c.subscriptions[channel] = true
}

// pump forwards bus envelopes to all WebSocket subscribers of channel. Exits
// when the bus subscription is closed (last WS subscriber left, or the bus
// detached us for falling behind).
func (m *ConnectionManager) pump(channel string, sub *Subscription) {
	for env := range sub.Events() {
		data, err := json.Marshal(env)
		if err != nil {
			m.logger.Error("Failed to marshal envelope", "channel", channel, "error", err)
			continue
		}
		m.Broadcast(channel, data)
	}
}

// unsubscribe removes a connection from a channel and stops the bus pump if
// it was the last subscriber. Detaching the bus subscription closes its
// event channel, which ends the pump goroutine.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if wc, exists := m.channels[channel]; exists {
		delete(wc.connIDs, c.ID)
		if len(wc.connIDs) == 0 {
			delete(m.channels, channel)
			m.bus.Unsubscribe(wc.busSub)
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

// handleCatchup sends missed events since lastSeq to the client.
func (m *ConnectionManager) handleCatchup(ctx context.Context, c *Connection, channel string, lastSeq uint64) {
	if m.history == nil {
		return
	}

	queryCtx, cancel := context.WithTimeout(ctx, catchupTimeout)
	defer cancel()

	events, err := m.history.EventsAfter(queryCtx, channel, lastSeq)
	if err != nil {
		m.logger.Error("Catchup query failed", "channel", channel, "error", err)
		return
	}

	// Check if more events exist beyond the limit
	hasMore := len(events) > catchupLimit
	if hasMore {
		events = events[:catchupLimit]
	}

	// Send missed events in order. Envelopes carry their seq, so the client
	// can resume tracking position from the last one delivered.
	for _, env := range events {
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, data); err != nil {
			m.logger.Warn("Failed to send catchup event",
				"connection_id", c.ID, "error", err)
			return
		}
	}

	// If more events were missed than the catchup limit, tell the client
	// to do a full REST reload instead of paginating catchup requests.
	if hasMore {
		m.sendJSON(c, map[string]interface{}{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and all its subscriptions.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	// Remove from all channel subscriptions
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON message to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		m.logger.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
