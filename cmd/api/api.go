package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ripplehq/ripple-server/cmd/utils"
	"github.com/ripplehq/ripple-server/monitoring"
	"github.com/ripplehq/ripple-server/service/feed"
	"github.com/ripplehq/ripple-server/service/post"
	"github.com/ripplehq/ripple-server/service/user"
	"github.com/ripplehq/ripple-server/service/ws"
)

type APIServer struct {
	address string
	db      *gorm.DB
}

func NewApiServer(address string, db *gorm.DB) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
	}
}

// Router assembles the middleware chain and all route handlers.
func (s *APIServer) Router() (*mux.Router, error) {
	router := mux.NewRouter()

	sessions := utils.NewSessionManager(s.db)
	renderer, err := utils.NewRenderer(sessions)
	if err != nil {
		return nil, err
	}

	// Outermost first: metrics/access log, panic-to-500, then the
	// per-request current-user resolution every handler reads.
	router.Use(monitoring.Middleware)
	router.Use(renderer.Recover)
	router.Use(sessions.WithCurrentUser)

	wsHandler := ws.NewHandler(s.db, sessions)
	wsHandler.RegisterRoutes(router)

	feedHandler := feed.NewHandler(s.db, sessions, renderer)
	feedHandler.RegisterRoutes(router)

	userHandler := user.NewHandler(s.db, sessions, renderer)
	userHandler.RegisterRoutes(router)

	postHandler := post.NewHandler(s.db, sessions, renderer, wsHandler.Hub())
	postHandler.RegisterRoutes(router)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// mux middleware does not run for unmatched routes, so the 404
	// fallback gets its own current-user wrapping for the nav bar.
	router.NotFoundHandler = sessions.WithCurrentUser(http.HandlerFunc(renderer.NotFound))

	return router, nil
}

func (s *APIServer) Run() error {
	router, err := s.Router()
	if err != nil {
		return err
	}

	log.Info("Server running at ", s.address)
	return http.ListenAndServe(s.address, handlers.CompressHandler(router))
}
