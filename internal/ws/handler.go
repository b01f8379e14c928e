package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS layer in front of /ws
	},
}

// Client represents a connected WebSocket client
type Client struct {
	conn      *websocket.Conn
	playerID  string
	spectator bool
	send      chan []byte
	hub       *Hub
}

// Hub maintains the set of clients watching the board. One connection per
// player; a reconnect replaces the old socket.
type Hub struct {
	clients    map[string]*Client // playerID -> Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	// called from the hub goroutine after the client map changed
	onJoin  func(*Client)
	onLeave func(*Client)
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if old, exists := h.clients[client.playerID]; exists {
				log.Printf("[WS] Player %s reconnecting - closing old connection", client.playerID)
				if old.conn != nil {
					if err := old.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "replaced by new connection"), time.Now().Add(5*time.Second)); err != nil {
						log.Printf("[WS] close control to old client %s failed: %v", old.playerID, err)
					}
					old.conn.Close()
				}
				close(old.send)
			}
			h.clients[client.playerID] = client
			h.mu.Unlock()

			log.Printf("[WS] Player %s connected (spectator=%v)", client.playerID, client.spectator)
			if h.onJoin != nil {
				h.onJoin(client)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			cur, ok := h.clients[client.playerID]
			if ok && cur == client {
				delete(h.clients, client.playerID)
				close(client.send)
			}
			h.mu.Unlock()

			if ok && cur == client {
				log.Printf("[WS] Player %s disconnected", client.playerID)
				if h.onLeave != nil {
					h.onLeave(client)
				}
			}
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast sends a message to every connected client
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			log.Printf("[WS] send buffer full for player %s, dropping message", client.playerID)
		}
	}
}

// SendToPlayer sends a message to a specific player
func (h *Hub) SendToPlayer(playerID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, exists := h.clients[playerID]; exists {
		select {
		case client.send <- data:
		default:
			log.Printf("[WS] SendToPlayer dropped message for player %s (buffer full)", playerID)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WSMessage is the client->server envelope
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// replaced or unregistered
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] write error for player %s: %v", c.playerID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] ping error for player %s: %v", c.playerID, err)
				return
			}
		}
	}
}

// reply sends directly to this client. Nothing is sent once the client was
// replaced or unregistered, since its send channel is closed by then.
func (c *Client) reply(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.hub.clients[c.playerID] != c {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[WS] reply dropped for player %s (buffer full)", c.playerID)
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(request, message string) {
	c.reply(map[string]interface{}{
		"type":    "error",
		"request": request,
		"message": message,
	})
}
