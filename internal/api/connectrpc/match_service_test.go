package connectrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govmatch-ai/govmatch/internal/app"
	"github.com/govmatch-ai/govmatch/internal/config"
	"github.com/govmatch-ai/govmatch/internal/observability"
	"github.com/govmatch-ai/govmatch/internal/storage"
)

func newTestService(t *testing.T) (*httptest.Server, *app.Dependencies) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.SQLite.Path = ":memory:"
	cfg.ObjectStore.Driver = "memory"
	cfg.Observability.MetricsEnabled = false

	deps, err := app.New(context.Background(), cfg, observability.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	mux := http.NewServeMux()
	NewMatchService(deps.Matcher, deps.Repos, deps.Logger).Mount(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, deps
}

func seedPair(t *testing.T, deps *app.Dependencies) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, deps.Repos.Companies.Upsert(ctx, &storage.CompanyProfile{
		CompanyID:           "company-1",
		TenantID:            "tenant-1",
		LegalName:           "Test Federal Services LLC",
		NAICSCodes:          []string{"541511"},
		Certifications:      []string{"Small Business"},
		Locations:           []storage.Location{{City: "Richmond", State: "VA"}},
		CapabilityStatement: "Custom software development for federal agencies",
	}))
	deadline := time.Now().Add(14 * 24 * time.Hour)
	archive := time.Now().Add(60 * 24 * time.Hour)
	require.NoError(t, deps.Repos.Opportunities.Upsert(ctx, &storage.Opportunity{
		NoticeID:           "OPP-RPC-1",
		Title:              "Custom Software Development",
		PostedDate:         time.Now().Add(-48 * time.Hour),
		ResponseDeadline:   &deadline,
		ArchiveDate:        &archive,
		NAICSCode:          "541511",
		SetAside:           "Small Business Set-Aside",
		PlaceOfPerformance: &storage.Location{State: "VA"},
		Active:             true,
		Status:             storage.OpportunityStatusActive,
	}))
}

func TestMatchServiceScore(t *testing.T) {
	srv, deps := newTestService(t)
	seedPair(t, deps)

	client := connect.NewClient[ScoreRequest, ScoreResponse](http.DefaultClient, srv.URL+ScoreProcedure, WithJSONCodec())
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&ScoreRequest{
		TenantID:  "tenant-1",
		CompanyID: "company-1",
		NoticeID:  "OPP-RPC-1",
	}))
	require.NoError(t, err)
	result := resp.Msg.Result
	require.NotNil(t, result)
	assert.Equal(t, "OPP-RPC-1", result.OpportunityID)
	assert.Equal(t, "company-1", result.CompanyID)
	assert.Greater(t, result.TotalScore, 0.0)

	// The persisted result is visible through ListMatches.
	list := connect.NewClient[ListMatchesRequest, ListMatchesResponse](http.DefaultClient, srv.URL+ListMatchesProcedure, WithJSONCodec())
	listResp, err := list.CallUnary(context.Background(), connect.NewRequest(&ListMatchesRequest{CompanyID: "company-1"}))
	require.NoError(t, err)
	require.Len(t, listResp.Msg.Results, 1)
}

func TestMatchServiceValidation(t *testing.T) {
	srv, _ := newTestService(t)

	client := connect.NewClient[ScoreRequest, ScoreResponse](http.DefaultClient, srv.URL+ScoreProcedure, WithJSONCodec())
	_, err := client.CallUnary(context.Background(), connect.NewRequest(&ScoreRequest{CompanyID: "company-1"}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = client.CallUnary(context.Background(), connect.NewRequest(&ScoreRequest{
		TenantID:  "tenant-1",
		CompanyID: "company-1",
		NoticeID:  "missing",
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}

func TestMatchServiceGetMatchNotFound(t *testing.T) {
	srv, _ := newTestService(t)

	client := connect.NewClient[GetMatchRequest, ScoreResponse](http.DefaultClient, srv.URL+GetMatchProcedure, WithJSONCodec())
	_, err := client.CallUnary(context.Background(), connect.NewRequest(&GetMatchRequest{
		CompanyID:     "company-1",
		OpportunityID: "missing",
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
}
