// Operator-facing websocket push (§6 IPC collaborators, SUPPLEMENTED
// FEATURES): every ObjectModel patch routed by the Processor and every
// firmware Message is broadcast to subscribed clients, instead of making
// the caller poll GetObjectModel. Grounded on the teacher's
// moonraker.Server WSClient/subscriptions pair (newWSClient,
// readPump/writePump, removeClient) collapsed from a JSON-RPC method
// dispatcher to a pure notification fan-out — this daemon's request/reply
// surface is Server in socket.go, not this file.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package ipc

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"motionbridge/pkg/log"
)

const (
	monitorWriteTimeout = 10 * time.Second
	monitorPingInterval = 30 * time.Second
	monitorSendBuffer   = 64
)

// notification is the wire shape pushed to every subscribed client.
type notification struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

// monitorClient is one connected websocket subscriber.
type monitorClient struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan notification
	done   chan struct{}
	once   sync.Once
}

func (c *monitorClient) send(n notification) {
	select {
	case c.sendCh <- n:
	case <-c.done:
	default:
		// Slow consumer: drop rather than block the broadcaster.
	}
}

func (c *monitorClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *monitorClient) writePump() {
	ticker := time.NewTicker(monitorPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case n, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(monitorWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(n); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(monitorWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump drains (and discards) client frames purely to notice
// disconnects and to answer control pings; this endpoint is push-only.
func (c *monitorClient) readPump(m *Monitor) {
	defer func() {
		m.removeClient(c)
		c.close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Monitor broadcasts object-model patches and firmware messages to every
// connected websocket client, and mirrors patches into an
// ObjectModelStore so a freshly-connected client can be handed a
// snapshot before it starts receiving deltas. It implements
// processor.ObjectModelSink and processor.MessageSink.
type Monitor struct {
	om       *ObjectModelStore
	log      *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[int64]*monitorClient
	nextID  int64
}

// NewMonitor creates a Monitor that mirrors patches into om.
func NewMonitor(om *ObjectModelStore, logger *log.Logger) *Monitor {
	return &Monitor{
		om:      om,
		log:     logger.WithPrefix("monitor"),
		clients: make(map[int64]*monitorClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ApplyPatch satisfies processor.ObjectModelSink: merge the patch into
// the mirror, then fan it out to every subscriber.
func (m *Monitor) ApplyPatch(patch []byte) {
	m.om.ApplyPatch(patch)
	m.broadcast(notification{Method: "notify_object_model_update", Params: string(patch)})
}

// OnMessage satisfies processor.MessageSink.
func (m *Monitor) OnMessage(flags uint8, content string) {
	m.broadcast(notification{
		Method: "notify_message",
		Params: map[string]any{"flags": flags, "content": content},
	})
}

func (m *Monitor) broadcast(n notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		c.send(n)
	}
}

// ServeHTTP upgrades the connection and registers it as a subscriber,
// first pushing a full object-model snapshot (mirrors moonraker's
// "send initial notifications after connection").
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := atomic.AddInt64(&m.nextID, 1)
	client := &monitorClient{
		id:     id,
		conn:   conn,
		sendCh: make(chan notification, monitorSendBuffer),
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	m.clients[id] = client
	m.mu.Unlock()

	client.send(notification{Method: "notify_object_model_snapshot", Params: string(m.om.Snapshot())})

	go client.writePump()
	client.readPump(m)
}

func (m *Monitor) removeClient(c *monitorClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c.id)
}

// ClientCount reports the number of connected subscribers, for
// diagnostics and the operator dashboard.
func (m *Monitor) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}
