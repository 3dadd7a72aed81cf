package api

import (
	"bufio"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/waveworm/pfsense-toggle/internal/metrics"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Implement http.Flusher so streaming responses keep working through
// the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Implement http.Hijacker for websocket upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijack not supported")
}

// loggingMiddleware logs all API requests and records them in the
// metrics registry. The metrics path label uses the matched route
// pattern, not the raw URL, to keep label cardinality bounded.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.NewString()[:8]

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		// ServeMux fills in Pattern on the request during dispatch, so
		// it is readable here even though this middleware runs outside
		// the mux.
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.Get().RecordAPIRequest(r.Method, pattern, wrapped.statusCode, duration.Seconds())

		if r.URL.Path == "/metrics" {
			return
		}
		logFn := s.logger.Info
		if wrapped.statusCode >= 500 {
			logFn = s.logger.Error
		} else if wrapped.statusCode >= 400 {
			logFn = s.logger.Warn
		}
		logFn("request",
			"id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"ip", getClientIP(r),
			"duration", duration.Round(time.Millisecond).String(),
		)
	})
}

// rateLimitMiddleware applies a per-IP request budget. Scrape and
// probe endpoints are exempt, as is the event stream whose single
// upgrade request would otherwise count against interactive use.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	limit := s.apiCfg.RateLimitPerMinute
	if limit <= 0 {
		limit = DefaultRateLimitPerMinute
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptFromLimit(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.Allow(rateLimitKey(r), limit, time.Minute) {
			WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces the API key. Mutating requests always need
// the key when one is configured; reads need it only when the config
// demands auth for everything. Liveness and metrics stay open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.keys.configured() || r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if isReadOnly(r) && !s.apiCfg.RequireAuth {
			next.ServeHTTP(w, r)
			return
		}
		if !s.keys.verify(apiKeyFrom(r)) {
			s.logger.Warn("rejected request with bad api key", "path", r.URL.Path, "ip", getClientIP(r))
			WriteError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxBodyMiddleware limits the size of request bodies to prevent
// memory exhaustion.
func (s *Server) maxBodyMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip body limit for GET/HEAD/OPTIONS
			if isReadOnly(r) {
				next.ServeHTTP(w, r)
				return
			}

			// Check Content-Length header first (fast path)
			if r.ContentLength > maxBytes {
				WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// apiKeyFrom extracts the caller's key. Websocket clients cannot set
// headers from browsers, so the query parameter form is accepted too.
func apiKeyFrom(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// keyVerifier checks presented API keys against the configured bcrypt
// hash. A successful comparison caches the plaintext so subsequent
// requests pay a constant-time compare instead of a full bcrypt run.
type keyVerifier struct {
	hash     string
	verified atomic.Value // string; last plaintext that matched
}

func newKeyVerifier(hash string) *keyVerifier {
	return &keyVerifier{hash: hash}
}

func (v *keyVerifier) configured() bool {
	return v.hash != ""
}

func (v *keyVerifier) verify(key string) bool {
	if key == "" {
		return false
	}
	if cached, ok := v.verified.Load().(string); ok && cached != "" {
		if subtle.ConstantTimeCompare([]byte(cached), []byte(key)) == 1 {
			return true
		}
	}
	if bcrypt.CompareHashAndPassword([]byte(v.hash), []byte(key)) != nil {
		return false
	}
	v.verified.Store(key)
	return true
}
