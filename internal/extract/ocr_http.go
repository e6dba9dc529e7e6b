package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPOCRConfig configures the HTTP OCR client.
type HTTPOCRConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// HTTPOCR calls an external OCR service. Sync detection posts the blob
// directly; async detection references a staged object key the service can
// read. Transient failures (429, 5xx) are retried with exponential backoff.
type HTTPOCR struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPOCR creates an OCR client against the given base URL.
func NewHTTPOCR(cfg HTTPOCRConfig) (*HTTPOCR, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("OCR base URL is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &HTTPOCR{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

type ocrSyncResponse struct {
	Text string `json:"text"`
}

type ocrJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Text   string `json:"text"`
}

// DetectTextSync runs OCR on the blob in one request.
func (c *HTTPOCR) DetectTextSync(ctx context.Context, blob []byte) (string, error) {
	var out ocrSyncResponse
	err := c.do(ctx, http.MethodPost, "/v1/detect", "application/octet-stream", blob, &out)
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// StartDetection begins an async job over a staged blob key.
func (c *HTTPOCR) StartDetection(ctx context.Context, key string) (string, error) {
	body, err := json.Marshal(map[string]string{"key": key})
	if err != nil {
		return "", fmt.Errorf("encode job request: %w", err)
	}
	var out ocrJobResponse
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", "application/json", body, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fmt.Errorf("OCR service returned no job ID")
	}
	return out.JobID, nil
}

// GetDetection polls an async job.
func (c *HTTPOCR) GetDetection(ctx context.Context, jobID string) (string, bool, error) {
	var out ocrJobResponse
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID, "", nil, &out); err != nil {
		return "", false, err
	}
	switch out.Status {
	case "succeeded":
		return out.Text, true, nil
	case "failed":
		return "", false, fmt.Errorf("OCR job %s failed", jobID)
	default:
		return "", false, nil
	}
}

func (c *HTTPOCR) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("OCR service returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("OCR service returned %d: %s", resp.StatusCode, data))
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx))
}

var _ OCRClient = (*HTTPOCR)(nil)
