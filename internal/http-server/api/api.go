package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"invitegate/internal/config"
	"invitegate/internal/http-server/handlers/bulk"
	herrors "invitegate/internal/http-server/handlers/errors"
	"invitegate/internal/http-server/handlers/health"
	"invitegate/internal/http-server/handlers/maintenance"
	"invitegate/internal/http-server/handlers/stats"
	"invitegate/internal/http-server/handlers/users"
	"invitegate/internal/http-server/middleware/authenticate"
	"invitegate/internal/http-server/middleware/timeout"
	"invitegate/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	health.Core
	stats.Core
	maintenance.Core
	bulk.Core
	users.Core
}

// NewRouter builds the admin routes; everything under /v1 needs the api key
func NewRouter(conf *config.Config, log *slog.Logger, handler Handler) http.Handler {
	router := chi.NewRouter()
	// maintenance can run longer than a plain read
	router.Use(timeout.Timeout(30 * time.Second))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(herrors.NotFound(log))
	router.MethodNotAllowed(herrors.NotAllowed(log))

	router.Get("/health", health.Check(log, handler))

	router.Route("/v1", func(rootApi chi.Router) {
		rootApi.Use(authenticate.New(log, conf.Listen.ApiKey))
		rootApi.Route("/stats", func(st chi.Router) {
			st.Get("/", stats.Overview(log, handler))
			st.Get("/cleanup", stats.Cleanup(log, handler))
			st.Get("/channel/{id}", stats.Channel(log, handler))
		})
		rootApi.Route("/maintenance", func(m chi.Router) {
			m.Post("/run", maintenance.Run(log, handler))
			m.Post("/emergency", maintenance.Emergency(log, handler))
		})
		rootApi.Route("/bulk", func(b chi.Router) {
			b.Get("/", bulk.Progress(log, handler))
			b.Post("/", bulk.Start(log, handler))
			b.Delete("/", bulk.Abort(log, handler))
		})
		rootApi.Route("/users/{id}", func(u chi.Router) {
			u.Get("/history", users.History(log, handler))
			u.Post("/ban", users.Ban(log, handler))
			u.Delete("/ban", users.Unban(log, handler))
		})
	})

	return router
}

func New(conf *config.Config, log *slog.Logger, handler Handler) *Server {
	server := &Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:      NewRouter(conf, log, handler),
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 40 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server
}

// Start blocks serving requests until Shutdown
func (s *Server) Start() error {
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIp, s.conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	s.log.Info("starting api server", slog.String("address", serverAddress))

	err = s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
