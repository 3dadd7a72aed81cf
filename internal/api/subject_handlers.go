package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/waveworm/pfsense-toggle/internal/audit"
	"github.com/waveworm/pfsense-toggle/internal/validation"
)

// apiContext stamps actor attribution onto the request context so
// engine operations audit who asked and from where.
func (s *Server) apiContext(r *http.Request) context.Context {
	return audit.WithActor(r.Context(), audit.SourceAPI, getClientIP(r))
}

// handleSubjects returns the resolved access state of every subject.
func (s *Server) handleSubjects(w http.ResponseWriter, r *http.Request) {
	states, err := s.engine.SubjectStates(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, states)
}

// handleSubject returns the resolved access state of one subject.
func (s *Server) handleSubject(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.SubjectState(r.Context(), r.PathValue("name"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, state)
}

// handleToggle flips the subject's access immediately.
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	allowed, err := s.engine.ToggleManual(s.apiContext(r), name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subject": name,
		"allowed": allowed,
	})
}

// handleTimedAllow starts a countdown grant. Minutes come from the
// query string and are checked here so bad input gets a 400 rather
// than surfacing as an engine failure.
func (s *Server) handleTimedAllow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	raw := r.URL.Query().Get("minutes")
	if raw == "" {
		WriteError(w, http.StatusBadRequest, "minutes query parameter is required")
		return
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "minutes must be an integer")
		return
	}
	if err := validation.ValidateTimerMinutes(minutes); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	until, err := s.engine.StartTimedAllow(s.apiContext(r), name, minutes)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subject": name,
		"minutes": minutes,
		"until":   until,
	})
}

// handleCancelTimer stops an active countdown and re-resolves the
// subject.
func (s *Server) handleCancelTimer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.engine.CancelTimer(s.apiContext(r), name); err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subject":   name,
		"cancelled": true,
	})
}

// handleStartSkip suspends the subject's schedule until the end of
// the current window, or the next one when no window is active.
func (s *Server) handleStartSkip(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	until, err := s.engine.StartSkip(s.apiContext(r), name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subject": name,
		"until":   until,
	})
}

// handleCancelSkip lifts an active skip.
func (s *Server) handleCancelSkip(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.engine.CancelSkip(s.apiContext(r), name); err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subject":   name,
		"cancelled": true,
	})
}

// handleScheduleEnable turns the subject's weekly schedule back on.
func (s *Server) handleScheduleEnable(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, true)
}

// handleScheduleDisable turns the subject's weekly schedule off. The
// rule stays wherever it sits until something else moves it.
func (s *Server) handleScheduleDisable(w http.ResponseWriter, r *http.Request) {
	s.setScheduleEnabled(w, r, false)
}

func (s *Server) setScheduleEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := r.PathValue("name")
	if err := s.engine.SetScheduleEnabled(s.apiContext(r), name, enabled); err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"subject": name,
		"enabled": enabled,
	})
}
