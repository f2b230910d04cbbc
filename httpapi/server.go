// Package httpapi is the fleet's HTTP surface (§6): timer CRUD, history
// reads and the monitoring endpoints, all delegating to timercore.Dispatcher
// and monitor.Monitor. Routing and the bearer-token gate follow the
// mrf-agent-racer example's Server.SetupRoutes/authorize pattern.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"timerfleet/model"
	"timerfleet/monitor"
	"timerfleet/timercore"
)

var logger = logrus.WithFields(logrus.Fields{"component": "httpapi"})

// Server wires the dispatcher and monitor onto net/http's 1.22+
// method+pattern ServeMux routing.
type Server struct {
	dispatcher *timercore.Dispatcher
	monitor    *monitor.Monitor
	authToken  string
}

func NewServer(dispatcher *timercore.Dispatcher, mon *monitor.Monitor, authToken string) *Server {
	return &Server{dispatcher: dispatcher, monitor: mon, authToken: authToken}
}

// RegisterRoutes wires every HTTP endpoint named in §6 onto mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /timers", s.gate(s.handleCreate))
	mux.HandleFunc("GET /timers/{id}", s.gate(s.handleGetByID))
	mux.HandleFunc("GET /timers/shared/{token}", s.gate(s.handleGetByShareToken))
	mux.HandleFunc("PUT /timers/{id}/target-time", s.gate(s.handleChangeTarget))
	mux.HandleFunc("POST /timers/{id}/timestamps", s.gate(s.handleSaveTimestamp))
	mux.HandleFunc("GET /timers/{id}/history", s.gate(s.handleHistory))
	mux.HandleFunc("GET /timers/{id}/users/{userId}/history", s.gate(s.handleUserHistory))
	mux.HandleFunc("POST /timers/{id}/complete", s.gate(s.handleComplete))
	mux.HandleFunc("GET /monitoring/completion-stats", s.gate(s.handleCompletionStats))
	mux.HandleFunc("POST /monitoring/detect-missed-timers", s.gate(s.handleDetectMissedTimers))
}

// gate wraps a handler with the optional bearer-token check, grounded on
// mrf-agent-racer's Server.authorize: bypassed entirely when no token is
// configured.
func (s *Server) gate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get("X-Timerfleet-Token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}
	return false
}

func requesterID(r *http.Request) string {
	if u := r.URL.Query().Get("userId"); u != "" {
		return u
	}
	return r.Header.Get("X-User-Id")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.WithError(err).Warn("failed to encode response body")
		}
	}
}

// writeError maps the caller-facing error categories from model/errors.go
// to HTTP status codes; anything else is an opaque 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, model.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrStoreUnavailable), errors.Is(err, model.ErrBusUnavailable):
		http.Error(w, "service temporarily unavailable", http.StatusServiceUnavailable)
	default:
		logger.WithError(err).Error("unhandled httpapi error")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
