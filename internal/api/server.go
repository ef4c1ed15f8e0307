// Package api exposes reminder scheduling over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
	"github.com/tazhate/hound/internal/calendar"
	"github.com/tazhate/hound/internal/log"
	"github.com/tazhate/hound/internal/metrics"
	"github.com/tazhate/hound/internal/service"
	"github.com/tazhate/hound/internal/storage"
)

// Version is reported by /health. Set at build time.
var Version = "dev"

type Server struct {
	reminders *service.ReminderService
	families  *service.FamilyService
	storage   *storage.Storage
	feed      *calendar.Builder
	clock     clock.Clock
	logger    zerolog.Logger

	router chi.Router
	srv    *http.Server
}

func NewServer(reminders *service.ReminderService, families *service.FamilyService, s *storage.Storage, feed *calendar.Builder, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.New()
	}
	srv := &Server{
		reminders: reminders,
		families:  families,
		storage:   s,
		feed:      feed,
		clock:     clk,
		logger:    log.WithComponent("api"),
	}
	srv.router = srv.routes()
	return srv
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/user/{userId}", func(r chi.Router) {
		r.Get("/reminders", s.syncReminders)
		r.Get("/reminders.ics", s.calendarFeed)
		r.Put("/family/pause", s.setPaused)
		r.Put("/notifications", s.updateNotifications)

		r.Route("/dogs/{dogId}", func(r chi.Router) {
			r.Delete("/", s.deleteDog)
			r.Post("/reminders", s.createReminder)
			r.Route("/reminders/{reminderId}", func(r chi.Router) {
				r.Get("/", s.getReminder)
				r.Put("/", s.updateReminder)
				r.Delete("/", s.deleteReminder)
				r.Post("/complete", s.completeReminder)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, r, errNoRoute)
	})
	return r
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve api: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// health is a liveness check.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    "healthy",
		Timestamp: s.clock.Now().UTC(),
		Version:   Version,
	})
}

// ready reports whether the store answers.
func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{Status: "ready", Timestamp: s.clock.Now().UTC(), Checks: map[string]string{}}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.storage.Ping(ctx); err != nil {
		resp.Checks["storage"] = fmt.Sprintf("error: %v", err)
		resp.Status = "not ready"
		status = http.StatusServiceUnavailable
	} else {
		resp.Checks["storage"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
