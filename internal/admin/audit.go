package admin

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

const maxAuditBodyBytes = 1024 // 1KB summary limit

// generateRequestID creates a short random request ID for audit correlation.
func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// AuditMiddleware logs every mutating request (manual scans, dispatch sweeps,
// wallet and subscription changes) with a request id and body summary.
func AuditMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	auditLogger := logger.With("component", "api_audit")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			audit(auditLogger, next, w, r)
		})
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func audit(auditLogger *slog.Logger, next http.Handler, w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := middleware.GetReqID(r.Context())
	if requestID == "" {
		requestID = generateRequestID()
	}

	// Extract authenticated user if Basic Auth is used.
	user, _, _ := r.BasicAuth()

	// Capture body summary (up to 1KB)
	var bodySummary string
	if r.Body != nil {
		bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxAuditBodyBytes+1))
		if err == nil {
			if len(bodyBytes) > maxAuditBodyBytes {
				bodySummary = string(bodyBytes[:maxAuditBodyBytes]) + "...(truncated)"
			} else {
				bodySummary = string(bodyBytes)
			}
			// Restore body for downstream handlers, including any unread tail.
			r.Body = struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(bodyBytes), r.Body), r.Body}
		}
	}

	// Wrap response writer to capture status code
	sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

	next.ServeHTTP(sw, r)

	auditLogger.Info("api audit",
		"request_id", requestID,
		"timestamp", start.UTC().Format(time.RFC3339),
		"user", user,
		"remote_addr", r.RemoteAddr,
		"method", r.Method,
		"path", r.URL.Path,
		"body_summary", bodySummary,
		"response_status", sw.statusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.statusCode = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}
