package api

import (
	"net/http"
	"strconv"

	"github.com/waveworm/pfsense-toggle/internal/buildinfo"
	"github.com/waveworm/pfsense-toggle/internal/monitor"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// handleHealthz reports liveness plus collaborator reachability. An
// unreachable collaborator degrades the probe to 503 so dashboards
// notice, while the daemon itself keeps serving.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil || s.monitor.Healthy() {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
		return
	}
	var down []monitor.Status
	for _, st := range s.monitor.Statuses() {
		if !st.Reachable {
			down = append(down, st)
		}
	}
	WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"status":      "degraded",
		"unreachable": down,
	})
}

// handleStatus summarizes the daemon: build, uptime, subject count,
// collaborator reachability, scheduled tasks, and event hub counters.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	published, dropped := s.engine.Hub().Stats()
	resp := map[string]interface{}{
		"status":   "online",
		"version":  buildinfo.Version,
		"commit":   buildinfo.GitCommit,
		"uptime":   s.uptime().String(),
		"subjects": len(s.cfg.Subjects),
		"events": map[string]uint64{
			"published": published,
			"dropped":   dropped,
		},
	}
	if s.monitor != nil {
		resp["collaborators"] = s.monitor.Statuses()
	}
	if s.tasks != nil {
		resp["tasks"] = s.tasks.GetStatus()
	}
	if s.auditor != nil {
		if n, err := s.auditor.Count(); err == nil {
			resp["audit_entries"] = n
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// handleReconcile kicks an asynchronous reconcile pass and returns
// immediately. The pass itself runs on the engine's goroutine.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	s.engine.Kick()
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "reconcile scheduled",
	})
}

// handleAllowAll force-allows every subject.
func (s *Server) handleAllowAll(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.AllowAll(s.apiContext(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"allowed": true,
	})
}

// handleBlockAll force-blocks every subject.
func (s *Server) handleBlockAll(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.BlockAll(s.apiContext(r)); err != nil {
		writeEngineError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"allowed": false,
	})
}

// handleAudit returns recent audit entries, newest first. Optional
// subject and action filters narrow the query.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		WriteError(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := s.auditor.Query(r.URL.Query().Get("subject"), r.URL.Query().Get("action"), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "audit query failed", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}
