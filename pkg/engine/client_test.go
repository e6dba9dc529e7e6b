package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI mimics the server's envelope contract closely enough to
// exercise the client end to end.
func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	writeData := func(w http.ResponseWriter, data any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
	}
	writeError := func(w http.ResponseWriter, status int, code string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   map[string]any{"code": code, "message": code},
		})
	}

	uploaded := map[string][]byte{}

	mux.HandleFunc("POST /api/v1/documents/upload-url", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tenant-1", r.Header.Get("X-Tenant-ID"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["filename"] == "" {
			writeError(w, http.StatusBadRequest, "MISSING_FILENAME")
			return
		}
		writeData(w, map[string]any{
			"uploadUrl":   "/api/v1/uploads/token-1",
			"key":         "tenants/tenant-1/raw/doc-1",
			"document_id": "doc-1",
		})
	})
	mux.HandleFunc("PUT /api/v1/uploads/token-1", func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		uploaded["doc-1"] = raw
		writeData(w, map[string]any{"key": "tenants/tenant-1/raw/doc-1"})
	})
	mux.HandleFunc("POST /api/v1/documents/doc-1/confirm", func(w http.ResponseWriter, r *http.Request) {
		if len(uploaded["doc-1"]) == 0 {
			writeError(w, http.StatusConflict, "DOCUMENT_NOT_READY")
			return
		}
		writeData(w, map[string]any{"document_id": "doc-1", "status": "uploaded"})
	})
	mux.HandleFunc("GET /api/v1/documents", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "capability-statements", r.URL.Query().Get("category"))
		writeData(w, map[string]any{
			"documents": []map[string]any{{
				"document_id": "doc-1",
				"filename":    "capability.pdf",
				"category":    "capability-statements",
				"size_bytes":  29,
				"status":      "uploaded",
			}},
			"total": 1, "page": 1, "limit": 20,
		})
	})
	mux.HandleFunc("GET /api/v1/documents/doc-1/download-url", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"downloadUrl": "/api/v1/downloads/token-2"})
	})
	mux.HandleFunc("GET /api/v1/downloads/token-2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(uploaded["doc-1"])
	})
	mux.HandleFunc("GET /api/v1/weight-config", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{
			"config": map[string]any{
				"weights": map[string]float64{"semantic_similarity": 0.30},
				"version": 3,
			},
			"source": "tenant",
		})
	})
	mux.HandleFunc("POST /api/v1/matches/score", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["notice_id"] == "missing" {
			writeError(w, http.StatusNotFound, "DOCUMENT_NOT_FOUND")
			return
		}
		writeData(w, map[string]any{
			"company_id":     "company-1",
			"opportunity_id": body["notice_id"],
			"total_score":    0.82,
			"confidence":     "high",
		})
	})
	mux.HandleFunc("GET /api/v1/matches", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, map[string]any{"matches": []map[string]any{{
			"company_id":     "company-1",
			"opportunity_id": "OPP-1",
			"total_score":    0.82,
		}}, "limit": 50, "offset": 0})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BaseURL:   baseURL,
		TenantID:  "tenant-1",
		CompanyID: "company-1",
	})
	require.NoError(t, err)
	return client
}

func TestClientDocumentFlow(t *testing.T) {
	srv := fakeAPI(t)
	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	intent, err := client.CreateUploadIntent(ctx, "capability.pdf", "application/pdf", "capability-statements", 29)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", intent.DocumentID)

	payload := "%PDF-1.4 capability statement"
	require.NoError(t, client.UploadDocument(ctx, intent, strings.NewReader(payload)))

	page, err := client.ListDocuments(ctx, ListDocumentsOptions{Category: "capability-statements"})
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, "capability.pdf", page.Documents[0].Filename)
	assert.Equal(t, 1, page.Total)

	grant, err := client.GrantDownload(ctx, "doc-1")
	require.NoError(t, err)
	content, err := client.DownloadDocument(ctx, grant)
	require.NoError(t, err)
	assert.Equal(t, payload, string(content))
}

func TestClientErrorsAreTyped(t *testing.T) {
	srv := fakeAPI(t)
	client := newTestClient(t, srv.URL)

	_, err := client.Score(context.Background(), "missing", ScoreOptions{})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "DOCUMENT_NOT_FOUND", apiErr.Code)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClientWeightsAndMatches(t *testing.T) {
	srv := fakeAPI(t)
	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	cfg, err := client.GetWeightConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tenant", cfg.Source)
	assert.InDelta(t, 0.30, cfg.Config.Weights["semantic_similarity"], 0.001)
	assert.Equal(t, 3, cfg.Config.Version)

	result, err := client.Score(ctx, "OPP-1", ScoreOptions{})
	require.NoError(t, err)
	assert.Equal(t, "OPP-1", result.OpportunityID)
	assert.InDelta(t, 0.82, result.TotalScore, 0.001)

	matches, err := client.ListMatches(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	require.NoError(t, client.Healthy(ctx))
}
