package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/govmatch-ai/govmatch/cmd/govmatch-api/middleware"
	"github.com/govmatch-ai/govmatch/internal/match"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

const defaultMatchPageSize = 50

// MatchesHandler serves stored match results and ad-hoc scoring.
type MatchesHandler struct {
	orchestrator  *match.Orchestrator
	matches       *storage.MatchRepository
	opportunities *storage.OpportunityRepository
	companies     *storage.CompanyRepository
	logger        *observability.Logger
}

// NewMatchesHandler creates a matches handler.
func NewMatchesHandler(orchestrator *match.Orchestrator, repos *storage.Repositories, logger *observability.Logger) *MatchesHandler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &MatchesHandler{
		orchestrator:  orchestrator,
		matches:       repos.Matches,
		opportunities: repos.Opportunities,
		companies:     repos.Companies,
		logger:        logger,
	}
}

// List returns the caller's stored match results, best score first.
// GET /matches?limit&offset
func (h *MatchesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultMatchPageSize
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	id := middleware.IdentityFromContext(r.Context())
	results, err := h.matches.ListByCompany(r.Context(), id.CompanyID, limit, offset)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, map[string]any{"matches": results, "limit": limit, "offset": offset})
}

// Get returns the stored result for one opportunity.
// GET /matches/{opportunity_id}
func (h *MatchesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromContext(r.Context())
	result, err := h.matches.Get(r.Context(), id.CompanyID, chi.URLParam(r, "opportunity_id"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteData(w, http.StatusOK, result)
}

type scoreRequest struct {
	NoticeID        string             `json:"notice_id" validate:"required"`
	UseCache        *bool              `json:"use_cache"`
	WeightOverrides map[string]float64 `json:"weight_overrides"`
}

// Score computes a match for the caller's company against one opportunity.
// POST /matches/score
func (h *MatchesHandler) Score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id := middleware.IdentityFromContext(r.Context())
	opp, err := h.opportunities.GetByNoticeID(r.Context(), req.NoticeID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	company, err := h.companies.GetByID(r.Context(), id.TenantID, id.CompanyID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}
	result, err := h.orchestrator.Match(r.Context(), match.Request{
		Opportunity:     opp,
		Profile:         company,
		UseCache:        useCache,
		WeightOverrides: req.WeightOverrides,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("notice_id", req.NoticeID).Msg("Ad-hoc match failed")
		WriteError(w, http.StatusInternalServerError, CodeProcessingFailed, "match computation failed")
		return
	}
	WriteData(w, http.StatusOK, result)
}
