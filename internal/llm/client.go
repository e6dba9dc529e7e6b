// Package llm calls the external text LLM for summaries, document
// classification, and structured field extraction.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/govmatch-ai/govmatch/internal/observability"
)

// LLM defines the operations the pipeline needs from the text model.
type LLM interface {
	// Summarize condenses a document into 2-3 paragraphs.
	Summarize(ctx context.Context, text string) (string, error)

	// ClassifyDocument returns a probability per category, summing to ~1.
	ClassifyDocument(ctx context.Context, text string, categories []string) (map[string]float64, error)

	// ExtractFields pulls named fields out of unstructured text. Missing
	// fields are absent from the result, not empty strings.
	ExtractFields(ctx context.Context, text string, fields []string) (map[string]string, error)

	Model() string
}

// Config holds LLM client configuration.
type Config struct {
	APIKey   string
	Model    string
	BaseURL  string
	MaxWords int
	Timeout  time.Duration
	Logger   *observability.Logger
}

// Client handles communication with the chat-completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxWords   int
	logger     *observability.Logger
}

// NewClient creates a new LLM client.
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
		cfg.Model = "fast-chat-v2"
	}

	if cfg.MaxWords <= 0 {
		cfg.MaxWords = 8000
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxWords:   cfg.MaxWords,
		logger:     cfg.Logger,
	}, nil
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request represents the API request structure.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Response represents the API response structure.
type Response struct {
	ID      string    `json:"id"`
	Choices []Choice  `json:"choices"`
	Error   *apiError `json:"error,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Summarize condenses a document into 2-3 paragraphs.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	content, err := c.complete(ctx, summaryPrompt()+"\n\n"+c.clip(text))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// ClassifyDocument asks the model for a category probability vector.
func (c *Client) ClassifyDocument(ctx context.Context, text string, categories []string) (map[string]float64, error) {
	content, err := c.complete(ctx, classificationPrompt(categories)+"\n\n"+c.clip(text))
	if err != nil {
		return nil, fmt.Errorf("classify document: %w", err)
	}

	jsonContent, err := extractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("classify document: %w", err)
	}

	var raw map[string]float64
	if err := json.Unmarshal([]byte(jsonContent), &raw); err != nil {
		return nil, fmt.Errorf("classify document: parse probabilities: %w", err)
	}

	// Keep only requested categories and renormalize.
	probs := make(map[string]float64, len(categories))
	var sum float64
	for _, cat := range categories {
		p := raw[cat]
		if p < 0 {
			p = 0
		}
		probs[cat] = p
		sum += p
	}
	if sum > 0 {
		for cat := range probs {
			probs[cat] /= sum
		}
	}

	return probs, nil
}

// ExtractFields pulls named fields out of unstructured text.
func (c *Client) ExtractFields(ctx context.Context, text string, fields []string) (map[string]string, error) {
	content, err := c.complete(ctx, fieldExtractionPrompt(fields)+"\n\n"+c.clip(text))
	if err != nil {
		return nil, fmt.Errorf("extract fields: %w", err)
	}

	jsonContent, err := extractJSON(content)
	if err != nil {
		return nil, fmt.Errorf("extract fields: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(jsonContent), &raw); err != nil {
		return nil, fmt.Errorf("extract fields: parse response: %w", err)
	}

	result := make(map[string]string)
	for _, f := range fields {
		if v, ok := raw[f]; ok && strings.TrimSpace(v) != "" {
			result[f] = strings.TrimSpace(v)
		}
	}

	return result, nil
}

// Model returns the model being used.
func (c *Client) Model() string {
	return c.model
}

// complete performs one chat completion with retry on transient failures.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := Request{
		Model: c.model,
		Messages: []Message{
			{Role: "user", Content: prompt},
		},
		Stream: false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var content string
	operation := func() error {
		out, err := c.completeOnce(ctx, body)
		if err != nil {
			if te, ok := err.(*transientError); ok {
				return te
			}
			return backoff.Permanent(err)
		}
		content = out
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)); err != nil {
		return "", err
	}

	return content, nil
}

func (c *Client) completeOnce(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &transientError{fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transientError{fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp Response
		apiMsg := string(respBody)
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			apiMsg = fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		wireErr := fmt.Errorf("LLM API status %d: %s", resp.StatusCode, apiMsg)
		switch resp.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return "", &transientError{wireErr}
		}
		return "", wireErr
	}

	var llmResp Response
	if err := json.Unmarshal(respBody, &llmResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	if len(llmResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return llmResp.Choices[0].Message.Content, nil
}

// clip bounds prompt payloads by word count.
func (c *Client) clip(text string) string {
	words := strings.Fields(text)
	if len(words) <= c.maxWords {
		return text
	}
	return strings.Join(words[:c.maxWords], " ")
}

func summaryPrompt() string {
	return "Summarize this document in 2-3 paragraphs, capturing the key information, main topics, and important details."
}

func classificationPrompt(categories []string) string {
	return fmt.Sprintf(`You are a document classifier for government-contracting company documents.

Classify the document below into these categories: %s

Return ONLY a valid JSON object mapping each category to a probability in [0,1].
The probabilities must sum to 1. No markdown formatting, no explanations.

Example: {"team-resumes": 0.8, "capability-statements": 0.1, "past-performance": 0.05, "certifications": 0.03, "financial": 0.01, "other": 0.01}

Document:`, strings.Join(categories, ", "))
}

func fieldExtractionPrompt(fields []string) string {
	return fmt.Sprintf(`Extract the following fields from the document below: %s

Return ONLY a valid JSON object mapping field names to string values.
Omit fields that are not present in the document. No markdown formatting, no explanations.

Document:`, strings.Join(fields, ", "))
}

// extractJSON finds the JSON object in an LLM response, tolerating markdown
// fences and surrounding prose.
func extractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("no valid JSON found in response")
	}

	return content[start : end+1], nil
}

// MockLLM provides a deterministic LLM for testing.
type MockLLM struct{}

// NewMockLLM creates a mock LLM client.
func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

// Summarize returns the first 60 words of the text.
func (m *MockLLM) Summarize(ctx context.Context, text string) (string, error) {
	words := strings.Fields(text)
	if len(words) > 60 {
		words = words[:60]
	}
	return strings.Join(words, " "), nil
}

// ClassifyDocument scores categories by token overlap with the text.
func (m *MockLLM) ClassifyDocument(ctx context.Context, text string, categories []string) (map[string]float64, error) {
	lower := strings.ToLower(text)

	counts := make(map[string]float64, len(categories))
	var total float64
	for _, cat := range categories {
		var hits float64
		for _, token := range strings.FieldsFunc(cat, func(r rune) bool { return r == '-' || r == '_' }) {
			token = strings.TrimSuffix(token, "s")
			if token == "" {
				continue
			}
			hits += float64(strings.Count(lower, token))
		}
		counts[cat] = hits
		total += hits
	}

	probs := make(map[string]float64, len(categories))
	if total == 0 {
		uniform := 1.0 / float64(len(categories))
		for _, cat := range categories {
			probs[cat] = uniform
		}
		return probs, nil
	}

	for _, cat := range categories {
		probs[cat] = counts[cat] / total
	}
	return probs, nil
}

// ExtractFields scans "Field: value" lines for the requested fields.
func (m *MockLLM) ExtractFields(ctx context.Context, text string, fields []string) (map[string]string, error) {
	result := make(map[string]string)

	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)

	for _, line := range strings.Split(text, "\n") {
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := normalizeFieldName(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if value == "" {
			continue
		}
		for _, f := range sorted {
			if normalizeFieldName(f) == key {
				if _, seen := result[f]; !seen {
					result[f] = value
				}
			}
		}
	}

	return result, nil
}

// Model returns the mock model name.
func (m *MockLLM) Model() string {
	return "mock-llm"
}

func normalizeFieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, s)
}

var (
	_ LLM = (*Client)(nil)
	_ LLM = (*MockLLM)(nil)
)
