package handlers

import (
	"net/http"
	"strconv"

	"github.com/govmatch-ai/govmatch/cmd/govmatch-api/middleware"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/weights"
)

const defaultHistoryLimit = 20

// WeightsHandler serves the matching weight configuration endpoints.
type WeightsHandler struct {
	store  *weights.Store
	logger *observability.Logger
}

// NewWeightsHandler creates a weights handler.
func NewWeightsHandler(store *weights.Store, logger *observability.Logger) *WeightsHandler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &WeightsHandler{store: store, logger: logger}
}

// tenantScope resolves which configuration a request targets. An explicit
// tenant_id query wins; otherwise the caller's own tenant.
func (h *WeightsHandler) tenantScope(r *http.Request) string {
	if t := r.URL.Query().Get("tenant_id"); t != "" {
		return t
	}
	return middleware.TenantFromContext(r.Context())
}

// Get returns the effective configuration, or its version history with
// history=true.
// GET /weight-config[?tenant_id=…][&history=true]
func (h *WeightsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID := h.tenantScope(r)

	if r.URL.Query().Get("history") == "true" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = defaultHistoryLimit
		}
		versions, err := h.store.History(r.Context(), tenantID, limit)
		if err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteData(w, http.StatusOK, map[string]any{"versions": versions})
		return
	}

	cfg, source, err := h.store.Resolve(r.Context(), tenantID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, map[string]any{"config": cfg, "source": source})
}

// Update merges a partial update into the tenant's configuration. POST and
// PUT behave identically.
// POST|PUT /weight-config[?tenant_id=…]
func (h *WeightsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var update weights.Update
	if !decodeBody(w, r, &update) {
		return
	}
	if update.Weights == nil && update.ConfidenceLevels == nil && update.AlgorithmParams == nil {
		WriteError(w, http.StatusBadRequest, CodeMissingField, "update contains no fields to change")
		return
	}

	id := middleware.IdentityFromContext(r.Context())
	cfg, err := h.store.Update(r.Context(), h.tenantScope(r), update, id.UserID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, cfg)
}

// Reset removes the tenant override so resolution falls back to the global
// configuration.
// DELETE /weight-config[?tenant_id=…]
func (h *WeightsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	tenantID := h.tenantScope(r)
	id := middleware.IdentityFromContext(r.Context())
	if err := h.store.Reset(r.Context(), tenantID, id.UserID); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, map[string]any{"reset": tenantID})
}
