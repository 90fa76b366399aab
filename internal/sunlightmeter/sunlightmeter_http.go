package sunlightmeter

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/ztkent/luxmeter/internal/tools"
	"github.com/ztkent/luxmeter/internal/upload"
	"github.com/ztkent/luxmeter/tsl2591"
)

// Routes returns the meter's HTTP API and dashboard.
func (m *SLMeter) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(m.logRequests)
	r.Use(m.handleServerPanic)

	// Route for service identification
	r.Get("/id", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service_name": "Luxmeter"})
	})

	// Sunlight Meter API, these serve a JSON response
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/lux", m.ReadLux())
		r.Get("/latest", m.Latest())
		r.Get("/conditions", m.CurrentConditions())
		r.Get("/settings", m.ServeSettings())
		r.Post("/settings", m.UpdateSettings())
		r.Get("/start", m.Start())
		r.Get("/stop", m.Stop())
		r.Get("/status", m.ServeStatus())
	})

	r.Group(func(r chi.Router) {
		if m.opts.LocalOnly {
			r.Use(tools.CheckInNetwork)
		}
		r.Get("/sunlightmeter/graph", m.ServeResultsGraph())
	})
	return r
}

// Take a reading with the current settings and upload it
func (m *SLMeter) ReadLux() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reading, err := m.Measure(r.Context(), "")
		if err != nil {
			m.serveError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, reading)
	}
}

// Serve the most recent reading saved to the store
func (m *SLMeter) Latest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.store == nil {
			ServeResponse(w, "No queryable store is configured", http.StatusNotFound)
			return
		}
		reading, err := m.store.Latest(r.Context())
		if err != nil {
			m.serveError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, reading)
	}
}

// Serve a summary of the readings in the requested date range
func (m *SLMeter) CurrentConditions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.store == nil {
			ServeResponse(w, "No queryable store is configured", http.StatusNotFound)
			return
		}
		start, end := tools.ParseStartAndEndDate(r, m.opts.Location, m.now())
		readings, err := m.store.Range(r.Context(), start, end)
		if err != nil {
			m.serveError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, Summarize(readings, start, end))
	}
}

type settings struct {
	Gain        string `json:"gain"`
	Integration string `json:"integration"`
}

func (m *SLMeter) ServeSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gain, timing := m.Settings()
		writeJSON(w, http.StatusOK, settings{Gain: gain.String(), Integration: timing.String()})
	}
}

// Change the gain and/or integration time, from form values or a JSON body
func (m *SLMeter) UpdateSettings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settings
		if r.Header.Get("Content-Type") == "application/json" {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				ServeResponse(w, "Invalid JSON body", http.StatusBadRequest)
				return
			}
		} else {
			req.Gain = r.FormValue("gain")
			req.Integration = r.FormValue("integration")
		}

		gain, timing := m.Settings()
		var err error
		if req.Gain != "" {
			if gain, err = tsl2591.ParseGain(req.Gain); err != nil {
				m.serveError(w, r, err)
				return
			}
		}
		if req.Integration != "" {
			if timing, err = tsl2591.ParseIntegrationTime(req.Integration); err != nil {
				m.serveError(w, r, err)
				return
			}
		}
		if err := m.Configure(gain, timing); err != nil {
			m.serveError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings{Gain: gain.String(), Integration: timing.String()})
	}
}

// Start recording readings in the background
func (m *SLMeter) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := m.StartJob()
		if err != nil {
			m.serveError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Sunlight Reading Started",
			"jobID":   jobID,
		})
	}
}

// Stop the recording job
func (m *SLMeter) Stop() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := m.StopJob(); err != nil {
			m.serveError(w, r, err)
			return
		}
		ServeResponse(w, "Sunlight Reading Stopped", http.StatusOK)
	}
}

func (m *SLMeter) ServeStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, m.Status())
	}
}

// ServeResponse replies with a JSON message
func ServeResponse(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tsl2591.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, tsl2591.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, upload.ErrNoReadings), errors.Is(err, ErrNoJob):
		return http.StatusNotFound
	case errors.Is(err, ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, tsl2591.ErrOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (m *SLMeter) serveError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		m.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	ServeResponse(w, err.Error(), status)
}

func (m *SLMeter) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		m.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

func (m *SLMeter) handleServerPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				m.log.WithField("panic", rec).Error("recovered from panic")
				ServeResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
