// Package api exposes the operational HTTP surface: monitor control, live
// event streams (SSE and WebSocket), aggregator reads and health.
package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/technosupport/ts-monitor/internal/aggregate"
	"github.com/technosupport/ts-monitor/internal/data"
	"github.com/technosupport/ts-monitor/internal/events"
	"github.com/technosupport/ts-monitor/internal/metrics"
	"github.com/technosupport/ts-monitor/internal/monitor"
)

// Aggregates bundles the read/config surfaces the API exposes.
type Aggregates struct {
	Heatmap *aggregate.HeatmapGenerator
	People  *aggregate.PeopleCounter
	Shelf   *aggregate.ShelfMonitor
	Audio   *aggregate.AudioAnalyzer
	Tracker *aggregate.CrossCameraTracker
}

type Server struct {
	monitor *monitor.CameraMonitor
	bus     *events.Bus
	cameras data.CameraRepository
	agg     Aggregates
}

func NewServer(mon *monitor.CameraMonitor, bus *events.Bus, cameras data.CameraRepository, agg Aggregates) *Server {
	return &Server{
		monitor: mon,
		bus:     bus,
		cameras: cameras,
		agg:     agg,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/cameras/{id}/monitor/start", s.handleMonitorStart)
		r.Post("/cameras/{id}/monitor/stop", s.handleMonitorStop)
		r.Get("/monitor/status", s.handleMonitorStatus)

		r.Get("/events/stream", s.handleEventsSSE)
		r.Get("/events/ws", s.handleEventsWS)

		r.Get("/cameras/{id}/heatmap", s.handleHeatmap)
		r.Post("/cameras/{id}/heatmap/reset", s.handleHeatmapReset)
		r.Get("/cameras/{id}/people/hourly", s.handlePeopleHourly)
		r.Get("/cameras/{id}/people/daily", s.handlePeopleDaily)
		r.Get("/cameras/{id}/track", s.handleTrack)

		r.Post("/cameras/{id}/audio", s.handleAudioAnalyze)
		r.Get("/cameras/{id}/audio", s.handleAudioRecent)
		r.Put("/cameras/{id}/shelf", s.handleShelfSet)
		r.Get("/cameras/{id}/shelf", s.handleShelfHistory)
	})

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] API: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
