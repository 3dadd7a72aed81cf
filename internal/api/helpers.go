package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/waveworm/pfsense-toggle/internal/engine"
	"github.com/waveworm/pfsense-toggle/internal/pfsense"
	"github.com/waveworm/pfsense-toggle/internal/schedule"
)

// getClientIP extracts the client IP from the request.
// Respects X-Forwarded-For and X-Real-IP headers for proxy situations.
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (comma-separated list, first is the client)
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	// Check X-Real-IP header
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	// Fallback to RemoteAddr
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WriteError sends a JSON error response
func WriteError(w http.ResponseWriter, code int, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := ErrorResponse{Error: message}
	if len(details) > 0 {
		resp.Details = details[0]
	}
	json.NewEncoder(w).Encode(resp)
}

// WriteJSON sends a JSON success response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// BindJSON decodes the request body into dest, writing a 400 on
// failure. Unknown fields are rejected so typos surface to callers.
func BindJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

// writeEngineError maps engine errors onto HTTP statuses: unknown
// names and absent timers/skips are 404, states the operation cannot
// act on are 409, collaborator transport failures are 502.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrUnknownSubject),
		errors.Is(err, engine.ErrNoActiveTimer),
		errors.Is(err, engine.ErrNoActiveSkip):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrRuleNotFound),
		errors.Is(err, engine.ErrScheduleDisabled),
		errors.Is(err, schedule.ErrNoUpcomingWindow):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pfsense.ErrTransport):
		WriteError(w, http.StatusBadGateway, "collaborator unreachable", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
