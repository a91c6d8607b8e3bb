package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// catchupLimit is the maximum number of events returned in a catchup response.
// If more events were missed, a catchup.overflow message tells the client to
// fall back to GET /commands/{id}/responses.
const catchupLimit = 200

// listenTimeout bounds how long a LISTEN command may block when subscribing to
// a new PG channel. Without this, a stalled connection would block the
// goroutine handling the handshake indefinitely.
const listenTimeout = 10 * time.Second

// sendQueueSize bounds the number of outbound messages buffered per
// connection before it is considered unresponsive and closed with 1013.
const sendQueueSize = 64

// overflowCloseCode is the WebSocket close code for "try again later",
// used when a connection's outbound queue overflows.
const overflowCloseCode websocket.StatusCode = 1013

// CatchupEvent holds the data returned by the catchup query.
type CatchupEvent struct {
	ID      int
	Payload map[string]interface{}
}

// CatchupQuerier queries events for catchup. Implemented by
// EventServiceAdapter over services.EventService.
type CatchupQuerier interface {
	GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error)
}

// ConnectionManager manages WebSocket connections and channel subscriptions.
// Each process has one ConnectionManager instance.
type ConnectionManager struct {
	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex

	// Channel subscriptions: channel → set of connection_ids. More than one
	// connection can watch the same command (e.g. two browser tabs).
	channels  map[string]map[string]bool
	channelMu sync.RWMutex

	// CatchupQuerier for catchup queries
	catchupQuerier CatchupQuerier

	// NotifyListener for dynamic LISTEN/UNLISTEN (set after construction)
	listener   *NotifyListener
	listenerMu sync.RWMutex

	// Write timeout for WebSocket sends
	writeTimeout time.Duration
}

// Connection represents a single WebSocket client watching one command's
// channel. Unlike a general-purpose multi-channel socket, the channel is
// fixed for the life of the connection — it is set once at handshake time
// from the URL path and never changes.
//
// channel/subscribed is accessed WITHOUT a lock. This is safe because all
// reads and writes happen on the single goroutine that owns this
// connection (HandleConnection and its deferred cleanup).
//
// catchingUp/buffered are touched from two goroutines — this connection's
// own (via handleCatchup/finishCatchup) and the NotifyListener's single
// dispatch goroutine (via Broadcast) — so they're guarded by bufMu.
type Connection struct {
	ID         string
	Conn       *websocket.Conn
	channel    string
	subscribed bool
	ctx        context.Context
	cancel     context.CancelFunc

	// sendCh is the bounded outbound queue drained by writePump. Writers
	// never block on it: a full queue means the client isn't keeping up,
	// and the connection is closed with 1013 rather than backing up
	// indefinitely.
	sendCh    chan []byte
	closeOnce sync.Once

	// catchingUp is true from connection setup until handleCatchup's
	// replay query has been sent in full. While true, Broadcast holds
	// live events in buffered instead of delivering them, so a client
	// that subscribes while a command is still running never sees the
	// same event twice (once via replay, once live).
	bufMu      sync.Mutex
	catchingUp bool
	buffered   [][]byte
}

// NewConnectionManager creates a new ConnectionManager.
func NewConnectionManager(catchupQuerier CatchupQuerier, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		connections:    make(map[string]*Connection),
		channels:       make(map[string]map[string]bool),
		catchupQuerier: catchupQuerier,
		writeTimeout:   writeTimeout,
	}
}

// SetListener sets the NotifyListener for dynamic LISTEN/UNLISTEN.
// Called once during startup after both ConnectionManager and NotifyListener are created.
func (m *ConnectionManager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// HandleConnection manages the lifecycle of a single WebSocket connection
// watching one command's channel. Called by the WebSocket HTTP handler
// after upgrade, with channel already resolved from the URL path. Blocks
// until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, channel string) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:         connID,
		Conn:       conn,
		channel:    channel,
		ctx:        ctx,
		cancel:     cancel,
		sendCh:     make(chan []byte, sendQueueSize),
		catchingUp: true,
	}

	go m.writePump(c)

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	if err := m.subscribe(c); err != nil {
		m.sendJSON(c, map[string]string{
			"type":    "subscription.error",
			"channel": channel,
			"message": "failed to subscribe to channel",
		})
		return
	}

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
		"channel":       channel,
	})

	// Auto catch-up: deliver all prior events so a client connecting after
	// the command has already produced events doesn't miss anything.
	m.handleCatchup(ctx, c, channel, 0)

	// Read loop — the only client→server message this socket accepts is ping.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message",
				"connection_id", connID, "error", err)
			continue
		}

		if msg.Action == "ping" {
			m.sendJSON(c, map[string]string{"type": "pong"})
		}
	}
}

// Broadcast sends an event payload to all connections subscribed to the given channel.
func (m *ConnectionManager) Broadcast(channel string, event []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	// Copy IDs to avoid holding lock during sends
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
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
		if err := m.deliverLive(conn, event); err != nil {
			slog.Warn("Failed to send to WebSocket client",
				"connection_id", conn.ID, "error", err)
		}
	}
}

// deliverLive delivers a live event to a connection, unless that connection's
// catch-up replay is still in flight — in which case the event is buffered
// and reconciled by finishCatchup once the replay completes. Without this,
// an event persisted and NOTIFYed in the window between a connection
// subscribing and its catch-up query running would be delivered twice.
func (m *ConnectionManager) deliverLive(c *Connection, event []byte) error {
	c.bufMu.Lock()
	if c.catchingUp {
		c.buffered = append(c.buffered, event)
		c.bufMu.Unlock()
		return nil
	}
	c.bufMu.Unlock()
	return m.sendRaw(c, event)
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount returns the number of subscribers for a channel.
// Unexported — used by tests to poll instead of sleeping.
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

// subscribe registers a connection for its channel and starts LISTEN if
// first subscriber. LISTEN is synchronous so it completes before subscribe
// returns — this guarantees the subsequent auto-catchup runs with LISTEN
// already active, closing the gap where events published between catchup
// and LISTEN would be lost.
func (m *ConnectionManager) subscribe(c *Connection) error {
	channel := c.channel

	m.channelMu.Lock()
	needsListen := false
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
		needsListen = true
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	if needsListen {
		m.listenerMu.RLock()
		l := m.listener
		m.listenerMu.RUnlock()
		if l != nil {
			listenCtx, listenCancel := context.WithTimeout(context.Background(), listenTimeout)
			defer listenCancel()
			if err := l.Subscribe(listenCtx, channel); err != nil {
				slog.Error("Failed to LISTEN on channel", "channel", channel, "error", err)
				m.cleanupFailedChannel(c, channel)
				return fmt.Errorf("LISTEN on channel %s: %w", channel, err)
			}
		}
	}

	c.subscribed = true
	return nil
}

// cleanupFailedChannel removes ALL subscribers from a channel after a LISTEN
// failure and notifies every affected connection (except the triggering one,
// which is notified by the caller via the returned error).
//
// Between unlocking channelMu (after creating the channel entry) and
// l.Subscribe completing, other connections may have subscribed to the same
// channel (two viewers opening the same command at once). Because they saw
// the channel already existed they skipped LISTEN and returned success.
// Those connections are now orphaned — they would have received
// connection.established but the underlying PG LISTEN was never
// established. This helper cleans them up.
func (m *ConnectionManager) cleanupFailedChannel(triggering *Connection, channel string) {
	m.channelMu.Lock()
	affectedIDs := make([]string, 0, len(m.channels[channel]))
	for connID := range m.channels[channel] {
		if connID != triggering.ID {
			affectedIDs = append(affectedIDs, connID)
		}
	}
	delete(m.channels, channel)
	m.channelMu.Unlock()

	if len(affectedIDs) == 0 {
		return
	}

	m.mu.RLock()
	conns := make([]*Connection, 0, len(affectedIDs))
	for _, id := range affectedIDs {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		slog.Warn("Removing orphaned subscriber after LISTEN failure",
			"connection_id", conn.ID, "channel", channel)
		m.sendJSON(conn, map[string]string{
			"type":    "subscription.error",
			"channel": channel,
			"message": "channel listen failed; subscription removed",
		})
	}
}

// unsubscribe removes a connection from its channel and stops LISTEN if it
// was the last subscriber.
func (m *ConnectionManager) unsubscribe(c *Connection) {
	channel := c.channel

	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
			// Last subscriber left — stop LISTEN.
			// The goroutine re-checks m.channels before issuing UNLISTEN to
			// prevent a race where a rapid disconnect/reconnect cycle would
			// drop the LISTEN out from under a new connection that just
			// resubscribed to the same channel.
			m.listenerMu.RLock()
			l := m.listener
			m.listenerMu.RUnlock()
			if l != nil {
				go func() {
					m.channelMu.RLock()
					_, resubscribed := m.channels[channel]
					m.channelMu.RUnlock()
					if resubscribed {
						return
					}
					if err := l.Unsubscribe(context.Background(), channel); err != nil {
						slog.Error("Failed to UNLISTEN channel", "channel", channel, "error", err)
					}
				}()
			}
		}
	}
	m.channelMu.Unlock()

	c.subscribed = false
}

// handleCatchup sends missed events since lastEventID to the client. Events
// Broadcast to c while this runs are buffered, not delivered — finishCatchup
// reconciles them against the highest ID actually sent here, so nothing
// the replay already covered is delivered a second time.
func (m *ConnectionManager) handleCatchup(ctx context.Context, c *Connection, channel string, lastEventID int) {
	maxSent := lastEventID
	defer func() { m.finishCatchup(c, maxSent) }()

	if m.catchupQuerier == nil {
		return
	}

	// Query events from DB since lastEventID (capped at catchupLimit + 1 to detect overflow)
	events, err := m.catchupQuerier.GetCatchupEvents(ctx, channel, lastEventID, catchupLimit+1)
	if err != nil {
		slog.Error("Catchup query failed", "channel", channel, "error", err)
		return
	}

	// Check if more events exist beyond the limit
	hasMore := len(events) > catchupLimit
	if hasMore {
		events = events[:catchupLimit]
	}

	// Send missed events in order, injecting db_event_id for position tracking.
	// The stored payload doesn't contain db_event_id (it's only added to the
	// NOTIFY payload at publish time), so we add it here from the DB row ID.
	for _, evt := range events {
		evt.Payload["db_event_id"] = evt.ID
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			continue
		}
		if err := m.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to send catchup event",
				"connection_id", c.ID, "error", err)
			return
		}
		if evt.ID > maxSent {
			maxSent = evt.ID
		}
	}

	// If more events were missed than the catchup limit, tell the client
	// to fetch the full response history via REST instead.
	if hasMore {
		m.sendJSON(c, map[string]interface{}{
			"type":     "catchup.overflow",
			"channel":  channel,
			"has_more": true,
		})
	}
}

// finishCatchup ends the catch-up window and flushes whatever live events
// Broadcast buffered while it was open. maxSent is the highest db_event_id
// the replay itself already delivered; buffered events at or below it are
// duplicates of the replay and are dropped.
func (m *ConnectionManager) finishCatchup(c *Connection, maxSent int) {
	c.bufMu.Lock()
	buffered := c.buffered
	c.buffered = nil
	c.catchingUp = false
	c.bufMu.Unlock()

	for _, payload := range buffered {
		if id, ok := parseDBEventID(payload); ok {
			if id <= maxSent {
				continue
			}
			maxSent = id
		}
		if err := m.sendRaw(c, payload); err != nil {
			slog.Warn("Failed to flush buffered event",
				"connection_id", c.ID, "error", err)
			return
		}
	}
}

// parseDBEventID extracts the db_event_id field every live and catchup
// payload carries, for buffered/replayed dedup comparisons.
func parseDBEventID(payload []byte) (int, bool) {
	var wrapper struct {
		DBEventID int `json:"db_event_id"`
	}
	if err := json.Unmarshal(payload, &wrapper); err != nil || wrapper.DBEventID == 0 {
		return 0, false
	}
	return wrapper.DBEventID, true
}

// registerConnection adds a connection to the tracking map.
func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

// unregisterConnection removes a connection and its subscription.
func (m *ConnectionManager) unregisterConnection(c *Connection) {
	if c.subscribed {
		m.unsubscribe(c)
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
		slog.Warn("Failed to marshal WebSocket message",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw enqueues raw bytes for a single connection's writePump. The enqueue
// never blocks: a full queue means the client isn't draining fast enough, and
// the connection is closed with 1013 ("try again later") instead of letting
// the backlog grow without bound.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	select {
	case c.sendCh <- data:
		return nil
	default:
	}

	c.closeOnce.Do(func() {
		slog.Warn("WebSocket send queue overflow, closing connection", "connection_id", c.ID)
		_ = c.Conn.Close(overflowCloseCode, "send queue overflow")
		c.cancel()
	})
	return fmt.Errorf("connection %s: send queue full", c.ID)
}

// writePump is the sole goroutine that writes to c.Conn, draining sendCh
// until the connection's context is cancelled. Serializing writes this way
// means callers never need their own write mutex around c.Conn. Once a
// terminal status event (completed or failed) has been written, the socket
// is closed with 1000.
func (m *ConnectionManager) writePump(c *Connection) {
	for {
		select {
		case data := <-c.sendCh:
			writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
			err := c.Conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Warn("Failed to write to WebSocket client",
					"connection_id", c.ID, "error", err)
				c.cancel()
				return
			}
			var evt struct {
				Type   string `json:"type"`
				Status string `json:"status"`
			}
			if json.Unmarshal(data, &evt) == nil && evt.Type == EventTypeStatus &&
				(evt.Status == "completed" || evt.Status == "failed") {
				_ = c.Conn.Close(websocket.StatusNormalClosure, "command finished")
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
