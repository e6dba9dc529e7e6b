// Package embedding generates text embeddings through an external model API.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/govmatch-ai/govmatch/internal/observability"
)

// Role selects the model-side treatment of the input text.
type Role string

const (
	// RoleDocument marks text that will be stored and searched against.
	RoleDocument Role = "search_document"
	// RoleQuery marks text used to query the index.
	RoleQuery Role = "search_query"
)

const (
	// DefaultDimension is the vector width the model contract guarantees.
	DefaultDimension = 1024
	// DefaultMaxWords approximates the model token ceiling.
	DefaultMaxWords = 8000
)

// Embedder defines the interface for embedding generation.
type Embedder interface {
	Embed(ctx context.Context, text string, role Role) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error)
	Model() string
	Dimension() int
}

// Config holds embedding client configuration.
type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int
	MaxWords  int
	Timeout   time.Duration
	Logger    *observability.Logger
}

// Client calls the external embedding model over HTTP. Transient failures
// (429, 5xx) are retried with exponential backoff; a circuit breaker stops
// hammering the model when it is consistently failing.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	maxWords   int
	breaker    *gobreaker.CircuitBreaker
	logger     *observability.Logger
}

// NewClient creates a new embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.govmatch.ai/models/v1"
	}

	if cfg.Model == "" {
		cfg.Model = "wide-embed-v3"
	}

	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}

	if cfg.MaxWords <= 0 {
		cfg.MaxWords = DefaultMaxWords
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embedding-model",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		maxWords:   cfg.MaxWords,
		breaker:    breaker,
		logger:     cfg.Logger,
	}, nil
}

// embedRequest is the model wire request.
type embedRequest struct {
	InputText  string `json:"inputText"`
	InputType  string `json:"inputType,omitempty"`
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions"`
	Normalize  bool   `json:"normalize"`
}

// embedResponse is the model wire response.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model,omitempty"`
	Error     *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// transientError wraps a retryable failure so the backoff loop distinguishes
// it from permanent ones.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Embed generates a single embedding. Text over the word ceiling is truncated
// and the truncation logged; the model is expected to return a unit vector of
// the configured dimension.
func (c *Client) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty input text")
	}

	text, wordCount, truncated := truncateWords(text, c.maxWords)
	if truncated {
		c.logger.Warn().
			Int("word_count", wordCount).
			Int("max_words", c.maxWords).
			Str("role", string(role)).
			Msg("Input exceeds model ceiling, truncated by word count")
	}

	var result []float32
	operation := func() error {
		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.embedOnce(ctx, text, role)
		})
		if err != nil {
			if te, ok := err.(*transientError); ok {
				return te
			}
			// Breaker-open and 4xx failures are not worth retrying.
			return backoff.Permanent(err)
		}
		result = out.([]float32)
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	return result, nil
}

// embedOnce performs one wire call.
func (c *Client) embedOnce(ctx context.Context, text string, role Role) ([]float32, error) {
	reqBody := embedRequest{
		InputText:  text,
		InputType:  string(role),
		Model:      c.model,
		Dimensions: c.dimension,
		Normalize:  true,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transientError{fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp embedResponse
		apiMsg := string(body)
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
			apiMsg = fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		wireErr := fmt.Errorf("model API status %d: %s", resp.StatusCode, apiMsg)
		if isRetryableStatus(resp.StatusCode) {
			return nil, &transientError{wireErr}
		}
		return nil, wireErr
	}

	var embResp embedResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if len(embResp.Embedding) != c.dimension {
		return nil, fmt.Errorf("model returned %d dimensions, expected %d", len(embResp.Embedding), c.dimension)
	}

	return embResp.Embedding, nil
}

// EmbedBatch generates embeddings for multiple texts. The wire contract is
// single-text, so the batch runs sequentially; each call carries its own
// retry budget.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	embeddings := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text, role)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		embeddings = append(embeddings, vec)
	}
	return embeddings, nil
}

// Model returns the model being used.
func (c *Client) Model() string {
	return c.model
}

// Dimension returns the embedding dimension.
func (c *Client) Dimension() int {
	return c.dimension
}

// isRetryableStatus reports whether an HTTP status is transient.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// truncateWords cuts text to maxWords words. Returns the (possibly truncated)
// text, the original word count, and whether truncation happened.
func truncateWords(text string, maxWords int) (string, int, bool) {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text, len(words), false
	}
	return strings.Join(words[:maxWords], " "), len(words), true
}

// CountWords returns the whitespace-separated word count used as the token
// ceiling proxy.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// MockClient provides a deterministic embedding client for testing. The same
// text always hashes to the same unit vector regardless of role.
type MockClient struct {
	dimension int
}

// NewMockClient creates a mock client with the given dimension.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &MockClient{dimension: dimension}
}

// Embed generates a hash-based embedding for consistency across runs.
func (c *MockClient) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty input text")
	}

	text, _, _ = truncateWords(text, DefaultMaxWords)

	vec := make([]float32, c.dimension)
	for j, char := range text {
		vec[j%c.dimension] += float32(char) / 1000.0
	}
	return normalize(vec), nil
}

// EmbedBatch generates mock embeddings for multiple texts.
func (c *MockClient) EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text, role)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Model returns the mock model name.
func (c *MockClient) Model() string {
	return "mock-embedding-model"
}

// Dimension returns the embedding dimension.
func (c *MockClient) Dimension() int {
	return c.dimension
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

var (
	_ Embedder = (*Client)(nil)
	_ Embedder = (*MockClient)(nil)
)
