// Package transport exposes the engine over HTTP: turns are posted to a
// conversation and the reply stream comes back as server-sent events, one
// event per frame, with periodic heartbeats while the turn is in flight.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/counselmesh/counselmesh/core"
	"github.com/counselmesh/counselmesh/engine"
	"github.com/counselmesh/counselmesh/logging"
	"github.com/counselmesh/counselmesh/metrics"
)

// Options configures a Server.
type Options struct {
	// Heartbeat is the idle interval between heartbeat events. Default 15s.
	Heartbeat time.Duration
	// Logger receives request lifecycle logs.
	Logger logging.Logger
	// Metrics backs the /metrics endpoint; nil disables it.
	Metrics *metrics.Metrics
}

// Server adapts the engine to HTTP + SSE.
type Server struct {
	engine *engine.Engine
	opts   Options
}

// NewServer wraps an engine.
func NewServer(e *engine.Engine, optFns ...func(*Options)) *Server {
	opts := Options{Heartbeat: 15 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Server{engine: e, opts: opts}
}

// Router builds the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Metrics.Registry(), promhttp.HandlerOpts{}))
	}
	r.Post("/v1/conversations/{conversationID}/turns", s.handleTurn)
	r.Post("/v1/turns/{turnID}/cancel", s.handleCancel)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type turnRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turnID, frames, errCh, err := s.engine.RunTurn(r.Context(), req.UserID, conversationID, req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := s.opts.Logger
	if el, ok := log.(*logging.EngineLogger); ok {
		log = el.WithTurn(conversationID, turnID)
	}
	log.Debug("turn stream opened")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Turn-ID", turnID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case frame, open := <-frames:
			if !open {
				// Drain the terminal error, then close the stream.
				if err := <-errCh; err != nil {
					log.Warn("turn %s ended with error: %v", turnID, err)
				}
				writeFrame(w, core.NewFrame(core.FrameSessionEnd, turnID))
				flusher.Flush()
				return
			}
			writeFrame(w, frame)
			flusher.Flush()

		case <-ticker.C:
			writeFrame(w, core.NewFrame(core.FrameHeartbeat, turnID))
			flusher.Flush()

		case <-r.Context().Done():
			s.engine.Cancel(turnID)
			// Let the engine wind down and close its channels.
			for range frames {
			}
			<-errCh
			return
		}
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	turnID := chi.URLParam(r, "turnID")
	if !s.engine.Cancel(turnID) {
		writeError(w, http.StatusNotFound, "unknown turn")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"cancelled":true}`))
}

func writeFrame(w http.ResponseWriter, f core.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.Type, data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
