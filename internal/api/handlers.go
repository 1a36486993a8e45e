package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-monitor/internal/aggregate"
	"github.com/technosupport/ts-monitor/internal/data"
)

// maxAudioBody bounds one audio analysis window.
const maxAudioBody = 4 << 20

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	if err := s.monitor.StartMonitoring(r.Context(), cameraID); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "camera not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_id":  cameraID,
		"monitoring": true,
	})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	if err := s.monitor.StopMonitoring(r.Context(), cameraID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_id":  cameraID,
		"monitoring": false,
	})
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	status := s.monitor.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(status),
		"cameras": status,
	})
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.agg.Heatmap.Data(chi.URLParam(r, "id")))
}

func (s *Server) handleHeatmapReset(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	s.agg.Heatmap.Reset(cameraID)
	writeJSON(w, http.StatusOK, map[string]string{"camera_id": cameraID, "status": "reset"})
}

func (s *Server) handlePeopleHourly(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	date := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_id": cameraID,
		"date":      date.Format("2006-01-02"),
		"hours":     s.agg.People.HourlyStats(cameraID, date),
	})
}

func (s *Server) handlePeopleDaily(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 90 {
			writeError(w, http.StatusBadRequest, "days must be 1-90")
			return
		}
		days = parsed
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_id": cameraID,
		"days":      s.agg.People.DailyStats(cameraID, days, time.Now()),
	})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	persons := s.agg.Tracker.Trajectories(cameraID)
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_id": cameraID,
		"count":     len(persons),
		"persons":   persons,
	})
}

// handleAudioAnalyze accepts one raw PCM/encoded audio window and runs it
// through the inference service. Alerts, if any, surface on the event bus.
func (s *Server) handleAudioAnalyze(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	cam, err := s.cameras.GetByID(r.Context(), cameraID)
	if err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "camera not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sampleRate := 16000
	if raw := r.URL.Query().Get("sample_rate"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "sample_rate must be a positive integer")
			return
		}
		sampleRate = parsed
	}

	samples, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading audio body: "+err.Error())
		return
	}
	if len(samples) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio body")
		return
	}

	s.agg.Audio.Analyze(r.Context(), cam, samples, sampleRate)
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_id": cameraID,
		"readings":  s.agg.Audio.Recent(cameraID),
	})
}

func (s *Server) handleAudioRecent(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_id": cameraID,
		"readings":  s.agg.Audio.Recent(cameraID),
	})
}

func (s *Server) handleShelfSet(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	var region aggregate.ShelfRegion
	if err := json.NewDecoder(r.Body).Decode(&region); err != nil {
		writeError(w, http.StatusBadRequest, "invalid region: "+err.Error())
		return
	}
	if region.Width <= 0 || region.Height <= 0 {
		writeError(w, http.StatusBadRequest, "region width and height must be positive")
		return
	}
	s.agg.Shelf.SetRegion(cameraID, region)
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_id": cameraID,
		"region":    region,
	})
}

func (s *Server) handleShelfHistory(w http.ResponseWriter, r *http.Request) {
	cameraID := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_id": cameraID,
		"readings":  s.agg.Shelf.History(cameraID),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"monitoring":  len(s.monitor.Status()),
		"subscribers": s.bus.SubscriberCount(),
	})
}
