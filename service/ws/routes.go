package ws

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ripplehq/ripple-server/cmd/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type Handler struct {
	db       *gorm.DB
	sessions *utils.SessionManager
	hub      *Hub
}

func NewHandler(db *gorm.DB, sessions *utils.SessionManager) *Handler {
	hub := NewHub()
	go hub.Run()

	return &Handler{
		db:       db,
		sessions: sessions,
		hub:      hub,
	}
}

func (h *Handler) Hub() *Hub {
	return h.hub
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.sessions.RequireAuth(h.HandleWebSocket))
}

// HandleWebSocket upgrades the connection and registers the client for
// live feed updates.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user := utils.CurrentUser(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("error", err).Warn("Websocket upgrade failed")
		return
	}

	client := &Client{
		hub:    h.hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		userID: user.ID,
	}

	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}
