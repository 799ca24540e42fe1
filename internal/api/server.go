// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP routing layer over the stream service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/metnitcs/stream-webui/internal/events"
	"github.com/metnitcs/stream-webui/internal/log"
	"github.com/metnitcs/stream-webui/internal/service"
)

const maxBodyBytes = 1 << 20

// Subscriber opens per-owner event subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, ownerID string) (events.Subscription, error)
}

// Deps wires a Server.
type Deps struct {
	Service *service.Service
	Events  Subscriber
	// RateLimit is requests per minute per client address; zero disables it.
	RateLimit int
	Version   string
	// Ready reports dependency health for /healthz. Nil means always ready.
	Ready func(ctx context.Context) error
	// KeepAlive is the event stream comment interval.
	KeepAlive time.Duration
}

// Server serves the stream API.
type Server struct {
	svc       *service.Service
	events    Subscriber
	rateLimit int
	version   string
	ready     func(ctx context.Context) error
	keepAlive time.Duration
}

func New(d Deps) *Server {
	s := &Server{
		svc:       d.Service,
		events:    d.Events,
		rateLimit: d.RateLimit,
		version:   d.Version,
		ready:     d.Ready,
		keepAlive: d.KeepAlive,
	}
	if s.keepAlive <= 0 {
		s.keepAlive = 25 * time.Second
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(otelHTTP)
	r.Use(requestID)
	r.Use(observe)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(rateLimit(s.rateLimit, time.Minute))
		}
		r.Use(requireOwner)

		r.Post("/stream/start", s.handleStartStream)
		r.Post("/stream/stop", s.handleStopStream)
		r.Get("/active-streams", s.handleActiveStreams)
		r.Get("/stream-health/{id}", s.handleStreamHealth)

		r.Get("/channels", s.handleListChannels)
		r.Post("/channels", s.handleCreateChannel)
		r.Delete("/channels/{id}", s.handleDeleteChannel)

		r.Get("/schedules", s.handleListSchedules)
		r.Post("/schedules", s.handleCreateSchedule)
		r.Delete("/schedules/{id}", s.handleDeleteSchedule)

		r.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "version": s.version})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func logFor(r *http.Request) zerolog.Logger {
	return log.WithComponentFromContext(r.Context(), "api")
}
