// Package server exposes the engine over HTTP so that a browser shim, a
// script or a test can deliver host events and messages to the daemon.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/consentcompanion/policywatch/internal/headless"
	"github.com/consentcompanion/policywatch/internal/utils"
	"github.com/consentcompanion/policywatch/pkg/engine"
)

type Server struct {
	Engine   *engine.Engine
	Host     *headless.Host
	Username string
	Password string

	log logrus.FieldLogger
}

func New(e *engine.Engine, h *headless.Host, user, pass string, log logrus.FieldLogger) *Server {
	return &Server{
		Engine:   e,
		Host:     h,
		Username: user,
		Password: pass,
		log:      utils.OrDiscard(log),
	}
}

// Handler returns the routed bridge API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.basicAuth)

		r.Post("/messages", s.handleMessage)

		r.Route("/events", func(r chi.Router) {
			r.Post("/tabs/{id}/activated", s.handleTabActivated)
			r.Post("/tabs/{id}/updated", s.handleTabUpdated)
			r.Delete("/tabs/{id}", s.handleTabRemoved)
			r.Post("/alarms/{name}", s.handleAlarm)
		})

		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications/{id}/click", s.handleNotificationClick)
		r.Delete("/notifications/{id}", s.handleNotificationClose)

		r.Get("/badges", s.handleBadges)
	})
	return r
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Infof("Starting bridge on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Username == "" && s.Password == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.Username || pass != s.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).Round(time.Millisecond),
		}).Debug("Bridge request")
	})
}
