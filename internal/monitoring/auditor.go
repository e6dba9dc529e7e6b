// Package monitoring provides the request audit trail and embedding
// integrity guardrails.
package monitoring

import (
	"net/http"
	"strings"
	"time"

	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// IdentityFunc extracts the acting user and tenant from a request.
type IdentityFunc func(r *http.Request) (actor, tenantID string)

// RequestAuditor writes an audit row for every mutating API request.
type RequestAuditor struct {
	audits   *storage.AuditRepository
	identity IdentityFunc
	logger   *observability.Logger
}

// NewRequestAuditor creates a request auditor.
func NewRequestAuditor(audits *storage.AuditRepository, identity IdentityFunc, logger *observability.Logger) *RequestAuditor {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &RequestAuditor{audits: audits, identity: identity, logger: logger}
}

// statusRecorder captures the status code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware audits POST, PUT and DELETE requests after they complete. Audit
// writes are best effort: a storage failure is logged, never surfaced to the
// caller.
func (a *RequestAuditor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		actor, tenantID := a.identity(r)
		resourceType, resourceID := splitResource(r.URL.Path)
		err := a.audits.Insert(r.Context(), &storage.AuditRecord{
			TenantID:     tenantID,
			Actor:        actor,
			Action:       strings.ToLower(r.Method),
			ResourceType: resourceType,
			ResourceID:   resourceID,
			Details: map[string]interface{}{
				"path":        r.URL.Path,
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			},
		})
		if err != nil {
			a.logger.WithTenant(tenantID).Warn().
				Err(err).
				Str("path", r.URL.Path).
				Msg("audit write failed")
		}
	})
}

// splitResource maps an API path onto a resource type and ID, e.g.
// /api/v1/profile/documents/doc-1 becomes (documents, doc-1).
func splitResource(path string) (string, string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	// Drop the /api/v1 prefix when present.
	if len(parts) >= 2 && parts[0] == "api" {
		parts = parts[2:]
	}
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[len(parts)-2], parts[len(parts)-1]
	}
}
