package user

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ripplehq/ripple-server/cmd/forms"
	"github.com/ripplehq/ripple-server/cmd/models"
	"github.com/ripplehq/ripple-server/cmd/utils"
	"github.com/ripplehq/ripple-server/db"
)

const discoverLimit = 10

type Handler struct {
	dbConn   *gorm.DB
	sessions *utils.SessionManager
	renderer *utils.Renderer
}

func NewHandler(dbConn *gorm.DB, sessions *utils.SessionManager, renderer *utils.Renderer) *Handler {
	return &Handler{dbConn: dbConn, sessions: sessions, renderer: renderer}
}

// RegisterRoutes sets up all user-related routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/login", h.HandleLogin).Methods("GET", "POST")
	router.HandleFunc("/register", h.HandleRegister).Methods("GET", "POST")
	router.HandleFunc("/logout", h.HandleLogout).Methods("GET")
	router.HandleFunc("/user/{username}", h.Profile).Methods("GET")
	router.HandleFunc("/follow/{username}", h.sessions.RequireAuth(h.Follow)).Methods("GET")
	router.HandleFunc("/unfollow/{username}", h.sessions.RequireAuth(h.Unfollow)).Methods("GET")
	router.HandleFunc("/edit_profile", h.sessions.RequireAuth(h.EditProfile)).Methods("GET", "POST")
	router.HandleFunc("/discover", h.sessions.RequireAuth(h.Discover)).Methods("GET")
	router.HandleFunc("/reset_password", h.RequestPasswordReset).Methods("GET", "POST")
	router.HandleFunc("/reset_password/{token}", h.ResetPassword).Methods("GET", "POST")
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if utils.CurrentUser(r) != nil {
		http.Redirect(w, r, "/feed", http.StatusSeeOther)
		return
	}

	if r.Method == http.MethodGet {
		h.renderer.Render(w, r, http.StatusOK, "login.html", forms.New(url.Values{}), map[string]any{
			"Next": r.URL.Query().Get("next"),
		})
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	form := forms.New(r.PostForm)
	form.Required("username", "password")

	if form.Valid() {
		var user models.User
		err := h.dbConn.Where("username = ?", form.Get("username")).First(&user).Error
		if err == nil && user.CheckPassword(form.Get("password")) {
			remember := form.Get("remember") != ""
			if err := h.sessions.SignIn(w, r, user.ID, remember); err != nil {
				h.renderer.ServerError(w, r, err)
				return
			}
			h.sessions.Flash(w, r, "success", fmt.Sprintf("Welcome back, %s!", user.Username))
			http.Redirect(w, r, utils.SafeNext(form.Get("next"), "/feed"), http.StatusSeeOther)
			return
		}
		// Deliberately the same message for unknown username and wrong
		// password.
		h.sessions.Flash(w, r, "danger", "Invalid username or password")
	}

	h.renderer.Render(w, r, http.StatusOK, "login.html", form, map[string]any{
		"Next": form.Get("next"),
	})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if utils.CurrentUser(r) != nil {
		http.Redirect(w, r, "/feed", http.StatusSeeOther)
		return
	}

	if r.Method == http.MethodGet {
		h.renderer.Render(w, r, http.StatusOK, "register.html", forms.New(url.Values{}), nil)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	form := forms.New(r.PostForm)
	form.Required("username", "email", "password", "password2")
	form.Length("username", 3, 20)
	form.MatchesEmail("email")
	form.Length("password", 6, 0)
	form.EqualTo("password2", "password")
	form.Unique("username", "Please use a different username.", func(value string) bool {
		var count int64
		h.dbConn.Model(&models.User{}).Where("username = ?", value).Count(&count)
		return count > 0
	})
	form.Unique("email", "Please use a different email address.", func(value string) bool {
		var count int64
		h.dbConn.Model(&models.User{}).Where("email = ?", value).Count(&count)
		return count > 0
	})

	if !form.Valid() {
		h.renderer.Render(w, r, http.StatusOK, "register.html", form, nil)
		return
	}

	user := models.User{
		Username: form.Get("username"),
		Email:    form.Get("email"),
	}
	if err := user.SetPassword(form.Get("password")); err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}

	if err := h.dbConn.Create(&user).Error; err != nil {
		// Raced past the pre-check: the unique index caught it.
		if db.IsUniqueViolation(err) {
			form.Errors.Add("username", "Please use a different username or email address.")
			h.renderer.Render(w, r, http.StatusOK, "register.html", form, nil)
			return
		}
		h.renderer.ServerError(w, r, err)
		return
	}

	h.sessions.Flash(w, r, "success", "Registration successful! Please log in.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(w, r); err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}
	h.sessions.Flash(w, r, "info", "You have been logged out.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Profile is the public view of a user's posts, newest first.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var user models.User
	if err := h.dbConn.Where("username = ?", vars["username"]).First(&user).Error; err != nil {
		h.renderer.NotFound(w, r)
		return
	}

	var posts []models.Post
	if err := h.dbConn.Preload("User").Preload("Likes").Preload("Comments").
		Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Find(&posts).Error; err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}

	isFollowing := false
	if viewer := utils.CurrentUser(r); viewer != nil && viewer.ID != user.ID {
		isFollowing = models.IsFollowing(h.dbConn, viewer.ID, user.ID)
	}

	h.renderer.Render(w, r, http.StatusOK, "profile.html", nil, map[string]any{
		"User":        user,
		"Posts":       posts,
		"IsFollowing": isFollowing,
	})
}

func (h *Handler) Follow(w http.ResponseWriter, r *http.Request) {
	currentUser := utils.CurrentUser(r)
	vars := mux.Vars(r)

	var target models.User
	if err := h.dbConn.Where("username = ?", vars["username"]).First(&target).Error; err != nil {
		h.renderer.NotFound(w, r)
		return
	}

	if target.ID == currentUser.ID {
		h.sessions.Flash(w, r, "warning", "You cannot follow yourself!")
		http.Redirect(w, r, "/user/"+target.Username, http.StatusSeeOther)
		return
	}

	// FirstOrCreate keeps repeated follows idempotent; the unique index
	// covers the raced double insert.
	follow := models.Follow{FollowerID: currentUser.ID, FollowedID: target.ID}
	err := h.dbConn.Where("follower_id = ? AND followed_id = ?", currentUser.ID, target.ID).
		FirstOrCreate(&follow).Error
	if err != nil && !db.IsUniqueViolation(err) {
		h.renderer.ServerError(w, r, err)
		return
	}

	h.sessions.Flash(w, r, "success", fmt.Sprintf("You are now following %s!", target.Username))
	http.Redirect(w, r, "/user/"+target.Username, http.StatusSeeOther)
}

func (h *Handler) Unfollow(w http.ResponseWriter, r *http.Request) {
	currentUser := utils.CurrentUser(r)
	vars := mux.Vars(r)

	var target models.User
	if err := h.dbConn.Where("username = ?", vars["username"]).First(&target).Error; err != nil {
		h.renderer.NotFound(w, r)
		return
	}

	if target.ID == currentUser.ID {
		h.sessions.Flash(w, r, "warning", "You cannot unfollow yourself!")
		http.Redirect(w, r, "/user/"+target.Username, http.StatusSeeOther)
		return
	}

	if err := h.dbConn.Where("follower_id = ? AND followed_id = ?", currentUser.ID, target.ID).
		Delete(&models.Follow{}).Error; err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}

	h.sessions.Flash(w, r, "info", fmt.Sprintf("You are no longer following %s.", target.Username))
	http.Redirect(w, r, "/user/"+target.Username, http.StatusSeeOther)
}

func (h *Handler) EditProfile(w http.ResponseWriter, r *http.Request) {
	currentUser := utils.CurrentUser(r)

	if r.Method == http.MethodGet {
		form := forms.New(url.Values{"bio": {currentUser.Bio}})
		h.renderer.Render(w, r, http.StatusOK, "edit_profile.html", form, nil)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	form := forms.New(r.PostForm)
	form.Length("bio", 0, 500)

	if !form.Valid() {
		h.renderer.Render(w, r, http.StatusOK, "edit_profile.html", form, nil)
		return
	}

	if err := h.dbConn.Model(currentUser).Update("bio", form.Get("bio")).Error; err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}

	h.sessions.Flash(w, r, "success", "Your profile has been updated!")
	http.Redirect(w, r, "/user/"+currentUser.Username, http.StatusSeeOther)
}

// Discover lists up to 10 users the current user does not follow yet.
func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	currentUser := utils.CurrentUser(r)

	users, err := models.SuggestedUsers(h.dbConn, currentUser.ID, discoverLimit)
	if err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}

	h.renderer.Render(w, r, http.StatusOK, "discover.html", nil, map[string]any{
		"Users": users,
	})
}

// RequestPasswordReset emails a signed, short-lived reset link. The
// response is identical whether or not the email is registered.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		h.renderer.Render(w, r, http.StatusOK, "reset_request.html", forms.New(url.Values{}), nil)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	form := forms.New(r.PostForm)
	form.Required("email")
	form.MatchesEmail("email")

	if !form.Valid() {
		h.renderer.Render(w, r, http.StatusOK, "reset_request.html", form, nil)
		return
	}

	var user models.User
	if err := h.dbConn.Where("email = ?", form.Get("email")).First(&user).Error; err == nil {
		token, err := generateResetToken(user.ID)
		if err != nil {
			h.renderer.ServerError(w, r, err)
			return
		}
		link := os.Getenv("BASE_URL") + "/reset_password/" + token
		go func() {
			if err := sendResetEmail(user.Email, link); err != nil {
				log.WithField("error", err).Error("Error sending reset email")
			}
		}()
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		h.renderer.ServerError(w, r, err)
		return
	}

	h.sessions.Flash(w, r, "info", "If that email is registered, a reset link has been sent.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// ResetPassword validates the signed token and sets the new password.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	userID, err := parseResetToken(vars["token"])
	if err != nil {
		h.sessions.Flash(w, r, "danger", "That reset link is invalid or has expired.")
		http.Redirect(w, r, "/reset_password", http.StatusSeeOther)
		return
	}

	var user models.User
	if err := h.dbConn.First(&user, userID).Error; err != nil {
		h.renderer.NotFound(w, r)
		return
	}

	if r.Method == http.MethodGet {
		h.renderer.Render(w, r, http.StatusOK, "reset_password.html", forms.New(url.Values{}), map[string]any{
			"Token": vars["token"],
		})
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	form := forms.New(r.PostForm)
	form.Required("password", "password2")
	form.Length("password", 6, 0)
	form.EqualTo("password2", "password")

	if !form.Valid() {
		h.renderer.Render(w, r, http.StatusOK, "reset_password.html", form, map[string]any{
			"Token": vars["token"],
		})
		return
	}

	if err := user.SetPassword(form.Get("password")); err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}
	if err := h.dbConn.Model(&user).Update("password_hash", user.PasswordHash).Error; err != nil {
		h.renderer.ServerError(w, r, err)
		return
	}

	h.sessions.Flash(w, r, "success", "Your password has been reset. Please log in.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func generateResetToken(userID uint) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		ExpiresAt: jwt.NewNumericDate(jwt.TimeFunc().Add(resetTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(jwt.TimeFunc()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(os.Getenv("SECRET_KEY")))
}

func parseResetToken(tokenString string) (uint, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(os.Getenv("SECRET_KEY")), nil
	})
	if err != nil || !token.Valid {
		return 0, errors.New("invalid reset token")
	}
	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0, errors.New("invalid subject in reset token")
	}
	return uint(userID), nil
}
