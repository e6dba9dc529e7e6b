// Package connectrpc provides Connect service implementations so internal
// callers can reach the match engine over gRPC-compatible transports.
package connectrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/govmatch-ai/govmatch/internal/match"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Procedure paths for the match service.
const (
	ScoreProcedure       = "/govmatch.v1.MatchService/Score"
	GetMatchProcedure    = "/govmatch.v1.MatchService/GetMatch"
	ListMatchesProcedure = "/govmatch.v1.MatchService/ListMatches"
)

// MatchService exposes match scoring and retrieval over Connect.
type MatchService struct {
	orchestrator  *match.Orchestrator
	matches       *storage.MatchRepository
	opportunities *storage.OpportunityRepository
	companies     *storage.CompanyRepository
	logger        *observability.Logger
}

// NewMatchService creates a match service.
func NewMatchService(orchestrator *match.Orchestrator, repos *storage.Repositories, logger *observability.Logger) *MatchService {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &MatchService{
		orchestrator:  orchestrator,
		matches:       repos.Matches,
		opportunities: repos.Opportunities,
		companies:     repos.Companies,
		logger:        logger,
	}
}

// ScoreRequest asks for one (opportunity, company) pair to be scored.
type ScoreRequest struct {
	TenantID        string             `json:"tenant_id"`
	CompanyID       string             `json:"company_id"`
	NoticeID        string             `json:"notice_id"`
	UseCache        bool               `json:"use_cache"`
	WeightOverrides map[string]float64 `json:"weight_overrides,omitempty"`
}

// ScoreResponse carries the persisted match result.
type ScoreResponse struct {
	Result *storage.MatchResult `json:"result"`
}

// GetMatchRequest fetches one stored result.
type GetMatchRequest struct {
	CompanyID     string `json:"company_id"`
	OpportunityID string `json:"opportunity_id"`
}

// ListMatchesRequest pages a company's stored results, best score first.
type ListMatchesRequest struct {
	CompanyID string `json:"company_id"`
	Limit     int32  `json:"limit,omitempty"`
	Offset    int32  `json:"offset,omitempty"`
}

// ListMatchesResponse carries one page of results.
type ListMatchesResponse struct {
	Results []*storage.MatchResult `json:"results"`
}

// Score computes and persists a match for the requested pair.
func (s *MatchService) Score(ctx context.Context, req *connect.Request[ScoreRequest]) (*connect.Response[ScoreResponse], error) {
	msg := req.Msg
	if msg.TenantID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("tenant_id is required"))
	}
	if msg.CompanyID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("company_id is required"))
	}
	if msg.NoticeID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("notice_id is required"))
	}

	opp, err := s.opportunities.GetByNoticeID(ctx, msg.NoticeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, errors.New("opportunity not found"))
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	company, err := s.companies.GetByID(ctx, msg.TenantID, msg.CompanyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, errors.New("company not found"))
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	result, err := s.orchestrator.Match(ctx, match.Request{
		Opportunity:     opp,
		Profile:         company,
		UseCache:        msg.UseCache,
		WeightOverrides: msg.WeightOverrides,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("notice_id", msg.NoticeID).Msg("RPC match failed")
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&ScoreResponse{Result: result}), nil
}

// GetMatch returns one stored match result.
func (s *MatchService) GetMatch(ctx context.Context, req *connect.Request[GetMatchRequest]) (*connect.Response[ScoreResponse], error) {
	msg := req.Msg
	if msg.CompanyID == "" || msg.OpportunityID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("company_id and opportunity_id are required"))
	}
	result, err := s.matches.Get(ctx, msg.CompanyID, msg.OpportunityID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, errors.New("match not found"))
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&ScoreResponse{Result: result}), nil
}

// ListMatches pages a company's stored results.
func (s *MatchService) ListMatches(ctx context.Context, req *connect.Request[ListMatchesRequest]) (*connect.Response[ListMatchesResponse], error) {
	msg := req.Msg
	if msg.CompanyID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("company_id is required"))
	}
	limit := int(msg.Limit)
	if limit <= 0 {
		limit = 50
	}
	results, err := s.matches.ListByCompany(ctx, msg.CompanyID, limit, int(msg.Offset))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&ListMatchesResponse{Results: results}), nil
}

// jsonCodec serializes the hand-written request and response types.
// Connect's default codecs assume proto messages, so both handlers and
// clients must opt into it.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

func (jsonCodec) Unmarshal(data []byte, msg any) error { return json.Unmarshal(data, msg) }

// WithJSONCodec is the option every client of this service needs.
func WithJSONCodec() connect.Option { return connect.WithCodec(jsonCodec{}) }

// Mount registers the service's procedures on a mux.
func (s *MatchService) Mount(mux *http.ServeMux) {
	mux.Handle(ScoreProcedure, connect.NewUnaryHandler(ScoreProcedure, s.Score, WithJSONCodec()))
	mux.Handle(GetMatchProcedure, connect.NewUnaryHandler(GetMatchProcedure, s.GetMatch, WithJSONCodec()))
	mux.Handle(ListMatchesProcedure, connect.NewUnaryHandler(ListMatchesProcedure, s.ListMatches, WithJSONCodec()))
}
