package handlers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/glidenotes/notesync/internal/logging"
	syncpkg "github.com/glidenotes/notesync/internal/sync"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     localOrigin,
}

// localOrigin admits browsers on the loopback interface and clients that send
// no Origin header at all.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	req, err := http.NewRequest(http.MethodGet, origin, nil)
	if err != nil {
		return false
	}
	host := req.URL.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Envelope wraps every message sent to websocket clients.
type Envelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// clientMessage is what clients may send: subscribe, unsubscribe or ping.
type clientMessage struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu   sync.RWMutex
	subs map[string]bool // empty means every event
}

func (c *wsClient) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs) == 0 || c.subs[eventType]
}

// message is one outgoing payload. A nil target means every interested client.
type message struct {
	eventType string
	payload   []byte
	target    *wsClient
}

// Hub fans sync events out to connected websocket clients.
type Hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan message
	replies    chan message
	done       chan struct{}
	count      atomic.Int32
	nextID     atomic.Int64
	log        *logging.Logger
	now        func() time.Time
}

// NewHub creates a Hub. Call Run to start delivering.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Get()
	}
	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan message, sendBuffer),
		replies:    make(chan message, sendBuffer),
		done:       make(chan struct{}),
		log:        log.With(map[string]interface{}{"component": "ws_hub"}),
		now:        time.Now,
	}
}

// Run manages client connections until ctx is done, then closes them all.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return nil

		case c := <-h.register:
			h.clients[c] = true
			h.count.Store(int32(len(h.clients)))
			h.log.Debug("Client connected", map[string]interface{}{"client_id": c.id, "total": len(h.clients)})

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				h.log.Debug("Client disconnected", map[string]interface{}{"client_id": c.id, "total": len(h.clients)})
			}

		case m := <-h.replies:
			if h.clients[m.target] {
				select {
				case m.target.send <- m.payload:
				default:
				}
			}

		case m := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(m.eventType) {
					continue
				}
				select {
				case c.send <- m.payload:
				default:
					h.log.Warn("Client too slow, disconnecting", map[string]interface{}{"client_id": c.id})
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int32(len(h.clients)))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Publish queues an event for every interested client. It never blocks; when
// the hub is backed up the event is dropped.
func (h *Hub) Publish(ev syncpkg.Event) {
	payload, err := json.Marshal(Envelope{Type: string(ev.Type), Data: ev, Timestamp: h.now().Unix()})
	if err != nil {
		h.log.Error("Failed to marshal event", err)
		return
	}
	select {
	case h.broadcast <- message{eventType: string(ev.Type), payload: payload}:
	default:
		h.log.Warn("Hub backlog full, event dropped", map[string]interface{}{"type": string(ev.Type)})
	}
}

// Forward publishes events until ctx is done or events is closed.
func (h *Hub) Forward(ctx context.Context, events <-chan syncpkg.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			h.Publish(ev)
		}
	}
}

// ServeHTTP upgrades the connection and attaches a client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	c := &wsClient{
		id:   "ws-" + strconv.FormatInt(h.nextID.Add(1), 10),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		hub:  h,
		subs: make(map[string]bool),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// reply sends a control message to this client only, bypassing subscriptions.
// Only the hub goroutine writes to send, so the reply goes through it.
func (c *wsClient) reply(v Envelope) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.hub.replies <- message{eventType: v.Type, payload: payload, target: c}:
	case <-c.hub.done:
	}
}

func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("Websocket read error", map[string]interface{}{"client_id": c.id, "error": err.Error()})
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				c.subs[e] = true
			}
			c.mu.Unlock()
			c.reply(Envelope{Type: "subscribe_ack", Data: msg.Events, Timestamp: c.hub.now().Unix()})
		case "unsubscribe":
			c.mu.Lock()
			for _, e := range msg.Events {
				delete(c.subs, e)
			}
			c.mu.Unlock()
		case "ping":
			c.reply(Envelope{Type: "pong", Timestamp: c.hub.now().Unix()})
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
