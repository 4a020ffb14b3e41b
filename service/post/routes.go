package post

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/ripplehq/ripple-server/cmd/forms"
	"github.com/ripplehq/ripple-server/cmd/models"
	"github.com/ripplehq/ripple-server/cmd/utils"
	"github.com/ripplehq/ripple-server/db"
	"github.com/ripplehq/ripple-server/service/ws"
)

type Handler struct {
	dbConn   *gorm.DB
	sessions *utils.SessionManager
	renderer *utils.Renderer
	hub      *ws.Hub
}

func NewHandler(dbConn *gorm.DB, sessions *utils.SessionManager, renderer *utils.Renderer, hub *ws.Hub) *Handler {
	return &Handler{dbConn: dbConn, sessions: sessions, renderer: renderer, hub: hub}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/create_post", h.sessions.RequireAuth(h.CreatePost)).Methods("POST")
	router.HandleFunc("/post/{id:[0-9]+}", h.ViewPost).Methods("GET")
	router.HandleFunc("/post/{id:[0-9]+}/comment", h.sessions.RequireAuth(h.AddComment)).Methods("POST")
	router.HandleFunc("/like/{id:[0-9]+}", h.sessions.RequireAuth(h.ToggleLike)).Methods("POST")
}

// CreatePost validates the content and publishes a new post.
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	currentUser := utils.CurrentUser(r)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	form := forms.New(r.PostForm)
	form.Required("content")
	form.Length("content", 1, 500)

	if !form.Valid() {
		h.sessions.Flash(w, r, "danger", "Error: "+form.Errors.Get("content"))
		http.Redirect(w, r, "/feed", http.StatusSeeOther)
		return
	}

	post := models.Post{
		UserID:  currentUser.ID,
		Content: form.Get("content"),
	}
	if err := h.dbConn.Create(&post).Error; err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}

	h.notifyFollowers(currentUser, post)

	h.sessions.Flash(w, r, "success", "Your post has been created!")
	http.Redirect(w, r, "/feed", http.StatusSeeOther)
}

// ViewPost shows a post with its comments, newest first.
func (h *Handler) ViewPost(w http.ResponseWriter, r *http.Request) {
	postID, err := parsePostID(r)
	if err != nil {
		h.renderer.NotFound(w, r)
		return
	}

	var post models.Post
	if err := h.dbConn.Preload("User").Preload("Likes").First(&post, postID).Error; err != nil {
		h.renderer.NotFound(w, r)
		return
	}

	var comments []models.Comment
	if err := h.dbConn.Preload("User").
		Where("post_id = ?", postID).
		Order("created_at DESC").
		Find(&comments).Error; err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}

	h.renderer.Render(w, r, http.StatusOK, "post.html", forms.New(nil), map[string]any{
		"Post":     post,
		"Comments": comments,
	})
}

// AddComment validates the content and attaches a comment to the post.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	currentUser := utils.CurrentUser(r)

	postID, err := parsePostID(r)
	if err != nil {
		h.renderer.NotFound(w, r)
		return
	}

	var post models.Post
	if err := h.dbConn.First(&post, postID).Error; err != nil {
		h.renderer.NotFound(w, r)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	form := forms.New(r.PostForm)
	form.Required("content")
	form.Length("content", 1, 200)

	if !form.Valid() {
		h.sessions.Flash(w, r, "danger", "Error: "+form.Errors.Get("content"))
		http.Redirect(w, r, fmt.Sprintf("/post/%d", post.ID), http.StatusSeeOther)
		return
	}

	comment := models.Comment{
		UserID:  currentUser.ID,
		PostID:  post.ID,
		Content: form.Get("content"),
	}
	if err := h.dbConn.Create(&comment).Error; err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}

	h.sessions.Flash(w, r, "success", "Your comment has been added!")
	http.Redirect(w, r, fmt.Sprintf("/post/%d", post.ID), http.StatusSeeOther)
}

// ToggleLike flips the (user, post) like state: exactly one transition
// per call. The composite unique index on likes keeps a raced double
// insert from violating the at-most-one-like invariant.
func (h *Handler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	currentUser := utils.CurrentUser(r)

	postID, err := parsePostID(r)
	if err != nil {
		h.renderer.NotFound(w, r)
		return
	}

	var post models.Post
	if err := h.dbConn.First(&post, postID).Error; err != nil {
		h.renderer.NotFound(w, r)
		return
	}

	tx := h.dbConn.Begin()
	if tx.Error != nil {
		h.renderer.ServerError(w, r, tx.Error)
		return
	}

	var action string
	var existing models.Like
	lookupErr := tx.Where("user_id = ? AND post_id = ?", currentUser.ID, post.ID).First(&existing).Error
	switch {
	case lookupErr == nil:
		if err := tx.Delete(&existing).Error; err != nil {
			tx.Rollback()
			h.renderer.ServerError(w, r, err)
			return
		}
		action = "unliked"
		if err := tx.Commit().Error; err != nil {
			h.renderer.ServerError(w, r, err)
			return
		}
	case errors.Is(lookupErr, gorm.ErrRecordNotFound):
		action = "liked"
		like := models.Like{UserID: currentUser.ID, PostID: post.ID}
		if err := tx.Create(&like).Error; err != nil {
			// A concurrent toggle inserted first: the unique index held
			// the invariant and the state is liked either way.
			tx.Rollback()
			if !db.IsUniqueViolation(err) {
				h.renderer.ServerError(w, r, err)
				return
			}
		} else if err := tx.Commit().Error; err != nil {
			h.renderer.ServerError(w, r, err)
			return
		}
	default:
		tx.Rollback()
		h.renderer.ServerError(w, r, lookupErr)
		return
	}

	if action == "liked" && post.UserID != currentUser.ID {
		h.notifyAuthor(currentUser, post)
	}

	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"action":     action,
			"like_count": models.LikeCount(h.dbConn, post.ID),
			"is_liked":   models.IsLikedBy(h.dbConn, currentUser.ID, post.ID),
		})
		return
	}

	h.sessions.Flash(w, r, "success", fmt.Sprintf("Post %s!", action))

	target := r.Referer()
	if target == "" {
		target = "/feed"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) notifyFollowers(author *models.User, post models.Post) {
	if h.hub == nil {
		return
	}
	followerIDs, err := followerIDs(h.dbConn, author.ID)
	if err != nil {
		return
	}
	h.hub.NotifyUsers(followerIDs, ws.Event{
		Type:     "new_post",
		PostID:   post.ID,
		UserID:   author.ID,
		Username: author.Username,
		Content:  post.Content,
	})
}

func (h *Handler) notifyAuthor(liker *models.User, post models.Post) {
	if h.hub == nil {
		return
	}
	h.hub.NotifyUsers([]uint{post.UserID}, ws.Event{
		Type:     "like",
		PostID:   post.ID,
		UserID:   liker.ID,
		Username: liker.Username,
	})
}

func followerIDs(dbConn *gorm.DB, userID uint) ([]uint, error) {
	var ids []uint
	err := dbConn.Model(&models.Follow{}).
		Where("followed_id = ?", userID).
		Pluck("follower_id", &ids).Error
	return ids, err
}

func parsePostID(r *http.Request) (uint, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	return uint(id), err
}
