package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"timerfleet/model"
)

type createTimerRequest struct {
	TargetSeconds int64  `json:"targetSeconds"`
	OwnerID       string `json:"ownerId"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TargetSeconds <= 0 || req.OwnerID == "" {
		http.Error(w, "targetSeconds and ownerId are required", http.StatusBadRequest)
		return
	}

	t, err := s.dispatcher.Create(r.Context(), req.TargetSeconds, req.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGetByID(w http.ResponseWriter, r *http.Request) {
	timerID := r.PathValue("id")
	view, err := s.dispatcher.GetByID(r.Context(), timerID, requesterID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetByShareToken(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	view, err := s.dispatcher.GetByShareToken(r.Context(), token, requesterID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type changeTargetRequest struct {
	TargetInstant time.Time `json:"targetInstant"`
}

func (s *Server) handleChangeTarget(w http.ResponseWriter, r *http.Request) {
	timerID := r.PathValue("id")
	var req changeTargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	view, err := s.dispatcher.ChangeTarget(r.Context(), timerID, req.TargetInstant, requesterID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type saveTimestampRequest struct {
	Meta map[string]any `json:"meta,omitempty"`
}

func (s *Server) handleSaveTimestamp(w http.ResponseWriter, r *http.Request) {
	timerID := r.PathValue("id")
	userID := requesterID(r)
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	var req saveTimestampRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	mark, err := s.dispatcher.SaveTimestamp(r.Context(), timerID, userID, req.Meta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mark)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	timerID := r.PathValue("id")
	marks, err := s.dispatcher.History(r.Context(), timerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marks)
}

func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	timerID := r.PathValue("id")
	userID := r.PathValue("userId")
	marks, err := s.dispatcher.UserHistory(r.Context(), timerID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marks)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	timerID := r.PathValue("id")
	userID := requesterID(r)
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	if err := s.dispatcher.ForceComplete(r.Context(), timerID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCompletionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Stats())
}

func (s *Server) handleDetectMissedTimers(w http.ResponseWriter, r *http.Request) {
	diagnostics, err := s.monitor.DetectNow(r.Context())
	if err != nil {
		writeError(w, errors.Mark(err, model.ErrStoreUnavailable))
		return
	}
	if diagnostics == nil {
		diagnostics = []model.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, diagnostics)
}
