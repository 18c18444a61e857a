package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 64
	maxMessageSize = 4096
)

// Message types exchanged with clients.
const (
	TypeWelcome     = "welcome"
	TypeRealtime    = "realtime"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeRequestData = "requestData"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024 * 16,
	// read-only telemetry, served to any origin like the HTTP API
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// Hub fans realtime updates out to every connected subscriber.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu        sync.RWMutex
	getState  func() interface{}
	onChanged func(clients int)
}

// Message is the envelope of every websocket frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewHub creates a hub. getState supplies the payload sent on connect and on
// requestData; it may be nil.
func NewHub(getState func() interface{}) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		getState:   getState,
	}
}

// OnClientsChanged registers a callback invoked with the subscriber count
// whenever a client joins or leaves.
func (h *Hub) OnClientsChanged(fn func(clients int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChanged = fn
}

// Run services registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.notify()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Debug().Str("client", client.id).Msg("WebSocket client connected")
			h.notify()
			h.greet(client)

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if ok {
				log.Debug().Str("client", client.id).Msg("WebSocket client disconnected")
				h.notify()
			}

		case message := <-h.broadcast:
			dropped := false
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// slow subscriber; drop it rather than stall the sampler
					delete(h.clients, client)
					close(client.send)
					dropped = true
					log.Warn().Str("client", client.id).Msg("WebSocket client too slow; disconnecting")
				}
			}
			h.mu.Unlock()
			if dropped {
				h.notify()
			}
		}
	}
}

func (h *Hub) greet(client *Client) {
	client.enqueue(Message{Type: TypeWelcome, Data: map[string]string{"client": client.id}})
	if state := h.state(); state != nil {
		client.enqueue(Message{Type: TypeRealtime, Data: state})
	}
}

func (h *Hub) state() interface{} {
	h.mu.RLock()
	getState := h.getState
	h.mu.RUnlock()
	if getState == nil {
		return nil
	}
	return getState()
}

func (h *Hub) notify() {
	h.mu.RLock()
	fn := h.onChanged
	n := len(h.clients)
	h.mu.RUnlock()
	if fn != nil {
		fn(n)
	}
}

// HandleWebSocket upgrades the request and attaches a new client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		id:   uuid.NewString(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// BroadcastRealtime sends one realtime update to every subscriber. It never
// blocks; when the hub is backed up the update is dropped.
func (h *Hub) BroadcastRealtime(data interface{}) {
	payload, err := encode(Message{Type: TypeRealtime, Data: data})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal realtime update")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		log.Debug().Msg("WebSocket broadcast channel full; dropping update")
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// enqueue is used for direct replies; it must not block the hub loop.
func (c *Client) enqueue(msg Message) {
	payload, err := encode(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- payload:
	default:
		log.Debug().Str("client", c.id).Str("type", msg.Type).Msg("Client send buffer full; skipping message")
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug().Err(err).Str("client", c.id).Msg("Ignoring malformed WebSocket message")
			continue
		}

		switch msg.Type {
		case TypePing:
			c.enqueue(Message{Type: TypePong, Data: map[string]int64{"timestamp": time.Now().Unix()}})
		case TypeRequestData:
			if state := c.hub.state(); state != nil {
				c.enqueue(Message{Type: TypeRealtime, Data: state})
			}
		default:
			log.Debug().Str("client", c.id).Str("type", msg.Type).Msg("Ignoring unknown WebSocket message")
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client", c.id).Msg("Failed to write message")
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

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
