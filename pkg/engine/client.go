// Package engine provides the public Go SDK for the GovMatch API.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is the public SDK client for the GovMatch API.
type Client struct {
	baseURL    string
	token      string
	tenantID   string
	companyID  string
	httpClient *http.Client
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	// BaseURL of the API server, without the /api/v1 prefix.
	BaseURL string
	// Token is a bearer JWT. When empty the client falls back to the
	// development identity headers.
	Token     string
	TenantID  string
	CompanyID string
	// Timeout for individual requests. Defaults to 30s.
	Timeout time.Duration
	// HTTPClient overrides the transport when set.
	HTTPClient *http.Client
}

// NewClient creates a new GovMatch client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		tenantID:   cfg.TenantID,
		companyID:  cfg.CompanyID,
		httpClient: httpClient,
	}, nil
}

// APIError is a structured error returned by the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else {
		if c.tenantID != "" {
			req.Header.Set("X-Tenant-ID", c.tenantID)
		}
		if c.companyID != "" {
			req.Header.Set("X-Company-ID", c.companyID)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "INTERNAL_ERROR"}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}

// UploadIntent is the response to an upload-URL request.
type UploadIntent struct {
	UploadURL  string `json:"uploadUrl"`
	Key        string `json:"key"`
	DocumentID string `json:"document_id"`
}

// CreateUploadIntent reserves a document slot and returns a signed upload URL.
func (c *Client) CreateUploadIntent(ctx context.Context, filename, fileType, documentType string, fileSize int64) (*UploadIntent, error) {
	var intent UploadIntent
	err := c.do(ctx, http.MethodPost, "/api/v1/documents/upload-url", map[string]any{
		"filename":      filename,
		"file_type":     fileType,
		"document_type": documentType,
		"file_size":     fileSize,
	}, &intent)
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// UploadDocument pushes bytes through a previously issued upload URL and
// confirms the upload.
func (c *Client) UploadDocument(ctx context.Context, intent *UploadIntent, content io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+intent.UploadURL, content)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("uploading document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var env envelope
		if decodeErr := json.NewDecoder(resp.Body).Decode(&env); decodeErr == nil && env.Error != nil {
			return &APIError{StatusCode: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
		}
		return &APIError{StatusCode: resp.StatusCode, Code: "INTERNAL_ERROR", Message: "upload failed"}
	}
	return c.do(ctx, http.MethodPost, "/api/v1/documents/"+intent.DocumentID+"/confirm", nil, nil)
}

// Document describes a stored company document.
type Document struct {
	DocumentID string     `json:"document_id"`
	Filename   string     `json:"filename"`
	Category   string     `json:"category"`
	SizeBytes  int64      `json:"size_bytes"`
	MimeType   string     `json:"mime_type,omitempty"`
	Status     string     `json:"status"`
	Version    int        `json:"version"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
}

// DocumentPage is one page of a document listing.
type DocumentPage struct {
	Documents []Document `json:"documents"`
	Total     int        `json:"total"`
	Page      int        `json:"page"`
	Limit     int        `json:"limit"`
}

// ListDocumentsOptions filters and pages a document listing.
type ListDocumentsOptions struct {
	Category  string
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// ListDocuments returns the caller's documents.
func (c *Client) ListDocuments(ctx context.Context, opts ListDocumentsOptions) (*DocumentPage, error) {
	query := url.Values{}
	if opts.Category != "" {
		query.Set("category", opts.Category)
	}
	if opts.SortBy != "" {
		query.Set("sort_by", opts.SortBy)
	}
	if opts.SortOrder != "" {
		query.Set("sort_order", opts.SortOrder)
	}
	if opts.Page > 0 {
		query.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/api/v1/documents"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var page DocumentPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DownloadGrant is a short-lived download authorization.
type DownloadGrant struct {
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// GrantDownload requests a signed download URL for a document.
func (c *Client) GrantDownload(ctx context.Context, documentID string) (*DownloadGrant, error) {
	var grant DownloadGrant
	if err := c.do(ctx, http.MethodGet, "/api/v1/documents/"+documentID+"/download-url", nil, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

// DownloadDocument fetches the document bytes through a download grant.
func (c *Client) DownloadDocument(ctx context.Context, grant *DownloadGrant) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+grant.DownloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var env envelope
		if decodeErr := json.NewDecoder(resp.Body).Decode(&env); decodeErr == nil && env.Error != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Code: "INTERNAL_ERROR", Message: "download failed"}
	}
	return io.ReadAll(resp.Body)
}

// DeleteDocument removes a document and its stored bytes.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/documents/"+documentID, nil, nil)
}

// WeightConfig is the resolved scoring configuration for a tenant,
// together with the layer it resolved from (tenant, global, or default).
type WeightConfig struct {
	Config WeightConfigBody `json:"config"`
	Source string           `json:"source"`
}

// WeightConfigBody holds one configuration version.
type WeightConfigBody struct {
	Weights   map[string]float64 `json:"weights"`
	Version   int                `json:"version"`
	UpdatedBy string             `json:"updated_by"`
	Timestamp time.Time          `json:"timestamp"`
}

// GetWeightConfig resolves the effective scoring weights.
func (c *Client) GetWeightConfig(ctx context.Context) (*WeightConfig, error) {
	var cfg WeightConfig
	if err := c.do(ctx, http.MethodGet, "/api/v1/weight-config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateWeightConfig merges the given weights into the tenant configuration.
func (c *Client) UpdateWeightConfig(ctx context.Context, weights map[string]float64) (*WeightConfigBody, error) {
	var cfg WeightConfigBody
	err := c.do(ctx, http.MethodPut, "/api/v1/weight-config", map[string]any{
		"weights": weights,
	}, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResetWeightConfig removes the tenant override.
func (c *Client) ResetWeightConfig(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/weight-config", nil, nil)
}

// MatchResult is one scored (company, opportunity) pair.
type MatchResult struct {
	CompanyID       string             `json:"company_id"`
	OpportunityID   string             `json:"opportunity_id"`
	TotalScore      float64            `json:"total_score"`
	Confidence      string             `json:"confidence"`
	ComponentScores map[string]any     `json:"component_scores"`
	MatchReasons    []string           `json:"match_reasons,omitempty"`
	NonMatchReasons []string           `json:"non_match_reasons,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	ActionItems     []string           `json:"action_items,omitempty"`
	Cached          bool               `json:"cached"`
	CreatedAt       time.Time          `json:"created_at"`
}

// ScoreOptions tunes a single on-demand scoring request.
type ScoreOptions struct {
	UseCache        *bool
	WeightOverrides map[string]float64
}

// Score runs an on-demand match for the caller's company against one notice.
func (c *Client) Score(ctx context.Context, noticeID string, opts ScoreOptions) (*MatchResult, error) {
	body := map[string]any{"notice_id": noticeID}
	if opts.UseCache != nil {
		body["use_cache"] = *opts.UseCache
	}
	if len(opts.WeightOverrides) > 0 {
		body["weight_overrides"] = opts.WeightOverrides
	}
	var result MatchResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/matches/score", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListMatches pages the caller's stored match results, best score first.
func (c *Client) ListMatches(ctx context.Context, limit, offset int) ([]MatchResult, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/matches"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var page struct {
		Matches []MatchResult `json:"matches"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return page.Matches, nil
}

// GetMatch fetches one stored match result.
func (c *Client) GetMatch(ctx context.Context, opportunityID string) (*MatchResult, error) {
	var result MatchResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/matches/"+opportunityID, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BatchHealth is the coordination health report.
type BatchHealth struct {
	GeneratedAt   time.Time `json:"generated_at"`
	Window        string    `json:"window"`
	Coordinations int       `json:"coordinations"`
	Healthy       int       `json:"healthy"`
	Degraded      int       `json:"degraded"`
	Stalled       int       `json:"stalled"`
	Errored       int       `json:"errored"`
}

// GetBatchHealth reports on recent batch coordinations.
func (c *Client) GetBatchHealth(ctx context.Context) (*BatchHealth, error) {
	var health BatchHealth
	if err := c.do(ctx, http.MethodGet, "/api/v1/batches/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Healthy probes the server liveness endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probing health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
