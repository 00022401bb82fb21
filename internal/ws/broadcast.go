package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/timewarden/backend/internal/tracker"
)

// ErrTooManyConnections is returned by AddClient when the maximum number of
// concurrent WebSocket connections has been reached.
var ErrTooManyConnections = errors.New("too many WebSocket connections")

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster pushes status snapshots and coalesced deltas to connected
// UI clients. Deltas are throttled; snapshots go out on a fixed interval
// and to every newly connected client.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	maxConns       int
	statuses       func() ([]*tracker.Status, error)
	throttle       time.Duration
	snapshotTicker *time.Ticker
	pendingUpdates map[string]*tracker.Status
	pendingRemoved []string
	flushTimer     *time.Timer
	flushMu        sync.Mutex
	seq            atomic.Uint64
}

// NewBroadcaster wires a broadcaster to a status source (the tracker's
// AllStatus).
func NewBroadcaster(statuses func() ([]*tracker.Status, error), throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	b := &Broadcaster{
		clients:        make(map[*client]bool),
		maxConns:       maxConns,
		statuses:       statuses,
		throttle:       throttle,
		pendingUpdates: make(map[string]*tracker.Status),
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		conn.Close()
		return nil, ErrTooManyConnections
	}

	c := newClient(conn)
	b.clients[c] = true
	b.mu.Unlock()

	b.SendSnapshot(c)

	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// HandleEvent is the tracker's event sink: lifecycle events broadcast
// immediately, status changes coalesce into the next delta flush.
func (b *Broadcaster) HandleEvent(ev tracker.Event) {
	switch ev.Type {
	case tracker.EventGraceStarted:
		b.broadcastEvent(MsgGraceStarted, ev)
	case tracker.EventBlocked:
		b.broadcastEvent(MsgBlocked, ev)
	case tracker.EventReset:
		b.broadcastEvent(MsgReset, ev)
	case tracker.EventNotification:
		b.broadcastEvent(MsgNotification, ev)
	}
	if ev.Status != nil {
		b.QueueUpdate(ev.Status)
	} else {
		b.QueueRemoval(ev.Hostname)
	}
}

func (b *Broadcaster) broadcastEvent(typ MessageType, ev tracker.Event) {
	b.broadcast(WSMessage{
		Type:    typ,
		Payload: EventPayload{Hostname: ev.Hostname, Status: ev.Status},
	})
}

// QueueUpdate coalesces a status delta; the newest status per hostname
// wins within one throttle window.
func (b *Broadcaster) QueueUpdate(status *tracker.Status) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingUpdates[status.Hostname] = status

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) QueueRemoval(hostname string) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingRemoved = append(b.pendingRemoved, hostname)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	updates := b.pendingUpdates
	removed := b.pendingRemoved
	b.pendingUpdates = make(map[string]*tracker.Status)
	b.pendingRemoved = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(updates) == 0 && len(removed) == 0 {
		return
	}

	payload := DeltaPayload{Removed: removed}
	for _, status := range updates {
		payload.Updates = append(payload.Updates, status)
	}

	b.broadcast(WSMessage{
		Type:    MsgDelta,
		Payload: payload,
	})
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.broadcast(b.snapshotMessage())
	}
}

func (b *Broadcaster) snapshotMessage() WSMessage {
	statuses, err := b.statuses()
	if err != nil {
		log.Printf("snapshot status query: %v", err)
	}
	return WSMessage{
		Type:    MsgSnapshot,
		Payload: SnapshotPayload{Statuses: statuses},
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	msg.Seq = b.seq.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

// SendSnapshot sends a sequenced snapshot to a single client.
func (b *Broadcaster) SendSnapshot(c *client) {
	msg := b.snapshotMessage()
	msg.Seq = b.seq.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("snapshot marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Stop stops the snapshot ticker, preventing further broadcast ticks.
func (b *Broadcaster) Stop() {
	b.snapshotTicker.Stop()
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
