package feed

import (
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/ripplehq/ripple-server/cmd/forms"
	"github.com/ripplehq/ripple-server/cmd/models"
	"github.com/ripplehq/ripple-server/cmd/utils"
)

const (
	indexLimit = 10
	feedLimit  = 50
)

type Handler struct {
	dbConn   *gorm.DB
	sessions *utils.SessionManager
	renderer *utils.Renderer
}

func NewHandler(dbConn *gorm.DB, sessions *utils.SessionManager, renderer *utils.Renderer) *Handler {
	return &Handler{dbConn: dbConn, sessions: sessions, renderer: renderer}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/", h.Index).Methods("GET")
	router.HandleFunc("/feed", h.sessions.RequireAuth(h.Feed)).Methods("GET")
}

// Index shows recent public posts to anonymous visitors; logged-in
// users go straight to their feed.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if utils.CurrentUser(r) != nil {
		http.Redirect(w, r, "/feed", http.StatusSeeOther)
		return
	}

	posts, err := models.RecentPosts(h.dbConn, indexLimit)
	if err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}

	h.renderer.Render(w, r, http.StatusOK, "index.html", nil, map[string]any{
		"Posts": posts,
	})
}

// Feed shows the newest posts from followed users plus the user's own.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	currentUser := utils.CurrentUser(r)

	posts, err := models.FeedPosts(h.dbConn, currentUser.ID, feedLimit)
	if err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}

	h.renderer.Render(w, r, http.StatusOK, "feed.html", forms.New(url.Values{}), map[string]any{
		"Posts": posts,
	})
}
