package utils

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ripplehq/ripple-server/cmd/forms"
	"github.com/ripplehq/ripple-server/cmd/models"
	"github.com/ripplehq/ripple-server/templates"
)

// TemplateData is the single injection point for every render: the
// current user and flash messages reach all pages through it.
type TemplateData struct {
	CurrentUser *models.User
	Flashes     []Flash
	Form        *forms.Form
	Data        map[string]any
}

var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		return t.Format("Jan 2, 2006 at 15:04")
	},
	"likedBy": func(likes []models.Like, user *models.User) bool {
		if user == nil {
			return false
		}
		for _, like := range likes {
			if like.UserID == user.ID {
				return true
			}
		}
		return false
	},
}

// Renderer holds the parsed page templates, each composed with the
// base layout.
type Renderer struct {
	pages    map[string]*template.Template
	sessions *SessionManager
}

func NewRenderer(sessions *SessionManager) (*Renderer, error) {
	names, err := fs.Glob(templates.Files, "*.html")
	if err != nil {
		return nil, err
	}

	pages := make(map[string]*template.Template)
	for _, name := range names {
		if name == "base.html" {
			continue
		}
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(templates.Files, "base.html", name)
		if err != nil {
			return nil, fmt.Errorf("error parsing template %s: %w", name, err)
		}
		pages[name] = tmpl
	}

	return &Renderer{pages: pages, sessions: sessions}, nil
}

// Render writes the page with the current user and pending flashes
// injected. The page is buffered first so a template fault can still
// become a 500 instead of a half-written response.
func (rd *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, page string, form *forms.Form, data map[string]any) {
	tmpl, ok := rd.pages[page]
	if !ok {
		rd.ServerError(w, r, fmt.Errorf("template %s not found", page))
		return
	}

	td := TemplateData{
		CurrentUser: CurrentUser(r),
		Flashes:     rd.sessions.Flashes(w, r),
		Form:        form,
		Data:        data,
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", td); err != nil {
		rd.ServerError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// NotFound renders the 404 page.
func (rd *Renderer) NotFound(w http.ResponseWriter, r *http.Request) {
	rd.Render(w, r, http.StatusNotFound, "404.html", nil, nil)
}

// ServerError logs the fault and renders the generic 500 page.
func (rd *Renderer) ServerError(w http.ResponseWriter, r *http.Request, err error) {
	log.WithFields(log.Fields{
		"path":  r.URL.Path,
		"error": err,
	}).Error("Server error")

	tmpl, ok := rd.pages["500.html"]
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	tmpl.ExecuteTemplate(w, "base", TemplateData{CurrentUser: CurrentUser(r)})
}

// Recover turns a handler panic into the 500 page.
func (rd *Renderer) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithFields(log.Fields{
					"panic": rec,
					"stack": string(debug.Stack()),
				}).Error("Recovered from panic")
				rd.ServerError(w, r, fmt.Errorf("panic: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
