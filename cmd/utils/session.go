package utils

import (
	"context"
	"encoding/gob"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/sessions"
	"gorm.io/gorm"

	"github.com/ripplehq/ripple-server/cmd/models"
)

type contextKey string

const currentUserKey contextKey = "currentUser"

const (
	sessionName = "ripple_session"

	// Remember-me keeps the session cookie for 30 days instead of the
	// browser session.
	rememberedMaxAge = 30 * 24 * 60 * 60
)

// Flash is a one-shot message stored in the session and shown on the
// next rendered page. Category maps to the alert style (success,
// info, warning, danger).
type Flash struct {
	Category string
	Message  string
}

func init() {
	gob.Register(Flash{})
}

// SessionManager owns the signed cookie session store and resolves the
// session-stored user id to a User once per request.
type SessionManager struct {
	store *sessions.CookieStore
	db    *gorm.DB
}

func NewSessionManager(db *gorm.DB) *SessionManager {
	store := sessions.NewCookieStore([]byte(os.Getenv("SECRET_KEY")))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &SessionManager{store: store, db: db}
}

// SignIn binds the session to the user id. With remember set the
// cookie survives browser restarts.
func (m *SessionManager) SignIn(w http.ResponseWriter, r *http.Request, userID uint, remember bool) error {
	session, _ := m.store.Get(r, sessionName)
	session.Values["user_id"] = userID
	if remember {
		session.Options.MaxAge = rememberedMaxAge
	} else {
		session.Options.MaxAge = 0
	}
	return session.Save(r, w)
}

// SignOut drops the user id. The session stays alive as a plain
// browser-session cookie so a flash queued on the way out still
// reaches the next page.
func (m *SessionManager) SignOut(w http.ResponseWriter, r *http.Request) error {
	session, _ := m.store.Get(r, sessionName)
	delete(session.Values, "user_id")
	session.Options.MaxAge = 0
	return session.Save(r, w)
}

// Flash queues a one-shot message for the next rendered page.
func (m *SessionManager) Flash(w http.ResponseWriter, r *http.Request, category, message string) {
	session, _ := m.store.Get(r, sessionName)
	session.AddFlash(Flash{Category: category, Message: message})
	session.Save(r, w)
}

// Flashes returns and clears the queued messages.
func (m *SessionManager) Flashes(w http.ResponseWriter, r *http.Request) []Flash {
	session, _ := m.store.Get(r, sessionName)
	raw := session.Flashes()
	if len(raw) > 0 {
		session.Save(r, w)
	}
	flashes := make([]Flash, 0, len(raw))
	for _, v := range raw {
		if f, ok := v.(Flash); ok {
			flashes = append(flashes, f)
		}
	}
	return flashes
}

// WithCurrentUser resolves the session user id to a User and stores it
// in the request context. A missing or stale id means anonymous; the
// request proceeds either way.
func (m *SessionManager) WithCurrentUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, _ := m.store.Get(r, sessionName)
		if id, ok := session.Values["user_id"].(uint); ok {
			var user models.User
			if err := m.db.First(&user, id).Error; err == nil {
				ctx := context.WithValue(r.Context(), currentUserKey, &user)
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// CurrentUser returns the authenticated user for the request, or nil.
func CurrentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(currentUserKey).(*models.User)
	return user
}

// RequireAuth short-circuits to the login page when no authenticated
// user is present, preserving the requested path for the post-login
// redirect.
func (m *SessionManager) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if CurrentUser(r) == nil {
			m.Flash(w, r, "warning", "Please log in to access this page.")
			http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
			return
		}
		next(w, r)
	}
}

// SafeNext returns the post-login redirect target if it is a local
// path, else the fallback. Absolute and protocol-relative URLs are
// rejected so login cannot be used as an open redirect.
func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return fallback
	}
	return next
}
