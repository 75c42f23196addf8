package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"AirModes-Relay/internal/modes"
	"AirModes-Relay/internal/parambus"
	"AirModes-Relay/internal/radio"
)

// ParameterBus is the part of the bus the control API needs.
type ParameterBus interface {
	Names() []string
	Get(name string) (any, error)
	Set(name string, value any) error
}

// Server exposes the parameter bus, relay status and a live report feed
// over HTTP.
type Server struct {
	bus     ParameterBus
	stream  *Stream
	peers   func() []string
	metrics http.Handler
}

type Options struct {
	Stream  *Stream
	Peers   func() []string
	Metrics http.Handler
}

func NewServer(bus ParameterBus, opts Options) *Server {
	return &Server{bus: bus, stream: opts.Stream, peers: opts.Peers, metrics: opts.Metrics}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/params", s.handleParams)
	mux.HandleFunc("/api/params/", s.handleParam)
	mux.HandleFunc("/api/peers", s.handlePeers)
	mux.HandleFunc("/api/reports/stream", s.handleStream)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	params := make(map[string]any)
	errs := make(map[string]string)
	for _, name := range s.bus.Names() {
		v, err := s.bus.Get(name)
		if err != nil {
			errs[name] = err.Error()
			continue
		}
		params[name] = v
	}
	payload := map[string]any{"params": params}
	if len(errs) > 0 {
		payload["errors"] = errs
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleParam(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/params/"), "/")
	if name == "" {
		writeError(w, http.StatusNotFound, "parameter name missing")
		return
	}

	switch r.Method {
	case http.MethodGet:
		v, err := s.bus.Get(name)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "value": v})
	case http.MethodPost, http.MethodPut:
		var req struct {
			Value any `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if req.Value == nil {
			writeError(w, http.StatusBadRequest, "value required")
			return
		}
		if err := s.bus.Set(name, req.Value); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		v, err := s.bus.Get(name)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"name": name, "ok": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"name": name, "ok": true, "value": v})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	peers := []string{}
	if s.peers != nil {
		peers = append(peers, s.peers()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"peers": peers})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusServiceUnavailable, "report stream unavailable")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ch, cancel, err := s.stream.Subscribe()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("event: " + modes.TopicReports + "\ndata: " + string(msg.Payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, parambus.ErrUnknownParameter):
		return http.StatusNotFound
	case errors.Is(err, parambus.ErrWrongType):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, radio.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
