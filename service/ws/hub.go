package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ripplehq/ripple-server/monitoring"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// Event is a live update pushed to connected clients: a new post from
// someone they follow, or a like on one of their posts.
type Event struct {
	Type     string `json:"type"`
	PostID   uint   `json:"post_id,omitempty"`
	UserID   uint   `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Content  string `json:"content,omitempty"`
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uint
}

// Hub tracks connected clients by user id and fans events out to them.
// Delivery is best effort: a client whose send buffer is full is
// dropped, nothing is queued in the database.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	byUser     map[uint][]*Client
	register   chan *Client
	unregister chan *Client
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[uint][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.byUser[client.userID] = append(h.byUser[client.userID], client)
			h.mu.Unlock()
			monitoring.WebsocketClients.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)

				connections := h.byUser[client.userID]
				for i, conn := range connections {
					if conn == client {
						h.byUser[client.userID] = append(connections[:i], connections[i+1:]...)
						break
					}
				}
				monitoring.WebsocketClients.Dec()
			}
			h.mu.Unlock()
		}
	}
}

// NotifyUsers sends the event to every connected client of the given
// users.
func (h *Hub) NotifyUsers(userIDs []uint, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.WithField("error", err).Error("Error encoding websocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range userIDs {
		for _, client := range h.byUser[id] {
			select {
			case client.send <- payload:
			default:
				// Slow client, skip. The read loop will reap it.
			}
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards incoming frames; the socket is push-only. Reading
// is still required to process control frames and detect the close.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithField("error", err).Debug("Websocket closed")
			}
			break
		}
	}
}
