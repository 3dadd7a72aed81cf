package api

import (
	"fmt"
	"net/http"

	"github.com/waveworm/pfsense-toggle/internal/schedule"
)

// handleGetSchedules returns every subject's weekly schedule. Subjects
// without a stored schedule appear with an empty disabled one.
func (s *Server) handleGetSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.engine.Schedules()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, schedules)
}

// handlePutSchedules replaces schedules for the named subjects. Every
// window is checked before anything persists, so a malformed entry
// rejects the whole request and leaves stored schedules untouched.
func (s *Server) handlePutSchedules(w http.ResponseWriter, r *http.Request) {
	var schedules map[string]*schedule.Weekly
	if !BindJSON(w, r, &schedules) {
		return
	}
	if len(schedules) == 0 {
		WriteError(w, http.StatusBadRequest, "no schedules in request")
		return
	}
	for name, weekly := range schedules {
		if weekly == nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("schedule for %s is null", name))
			return
		}
		if err := weekly.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid schedule for %s", name), err.Error())
			return
		}
	}

	if err := s.engine.SaveSchedules(s.apiContext(r), schedules); err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"saved": len(schedules),
	})
}
