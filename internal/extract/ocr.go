package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/govmatch-ai/govmatch/internal/objectstore"
)

// OCRClient is the external document-OCR service. Small blobs go through the
// synchronous call; larger ones are staged in the temp bucket and detected
// asynchronously by key.
type OCRClient interface {
	// DetectTextSync runs OCR on the blob directly.
	DetectTextSync(ctx context.Context, blob []byte) (string, error)

	// StartDetection begins an async job over a staged blob key.
	StartDetection(ctx context.Context, key string) (jobID string, err error)

	// GetDetection polls an async job. done is false while the job runs.
	GetDetection(ctx context.Context, jobID string) (text string, done bool, err error)
}

// extractViaOCR routes a blob through the OCR service, choosing sync or
// async by size. The staged temp blob is removed on success and failure.
func (e *Extractor) extractViaOCR(ctx context.Context, blob []byte) (*Result, error) {
	if e.ocr == nil {
		return nil, fmt.Errorf("OCR is not configured")
	}

	var (
		text string
		err  error
	)
	if int64(len(blob)) <= e.syncLimit {
		text, err = e.ocr.DetectTextSync(ctx, blob)
	} else {
		text, err = e.detectAsync(ctx, blob)
	}
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}

	var structure []Block
	for _, para := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(para) != "" {
			structure = append(structure, Block{Kind: BlockParagraph, Text: strings.TrimSpace(para)})
		}
	}

	return &Result{
		FullText:  text,
		Structure: structure,
		Metadata:  map[string]string{"ocr": "true"},
	}, nil
}

func (e *Extractor) detectAsync(ctx context.Context, blob []byte) (string, error) {
	if e.tempStore == nil {
		return "", fmt.Errorf("async OCR requires a temp store")
	}

	stageID := uuid.New().String()
	key := objectstore.TempOCRKey(stageID, "document")

	if err := e.tempStore.Put(ctx, key, blob); err != nil {
		return "", fmt.Errorf("stage blob: %w", err)
	}
	defer func() {
		// Best effort: temp blobs must not accumulate either way.
		if err := e.tempStore.Delete(context.Background(), key); err != nil {
			e.logger.Warn().Str("key", key).Err(err).Msg("Failed to delete temp OCR blob")
		}
	}()

	jobID, err := e.ocr.StartDetection(ctx, key)
	if err != nil {
		return "", fmt.Errorf("start detection: %w", err)
	}

	deadline := time.Now().Add(e.pollTimeout)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		text, done, err := e.ocr.GetDetection(ctx, jobID)
		if err != nil {
			return "", fmt.Errorf("poll detection %s: %w", jobID, err)
		}
		if done {
			return text, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("detection %s timed out after %s", jobID, e.pollTimeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// MockOCR is a deterministic OCR client for testing: it returns canned text
// and records staged keys.
type MockOCR struct {
	Text       string
	Err        error
	SyncCalls  int
	AsyncCalls int
	StagedKeys []string
	// PollsUntilDone delays async completion to exercise the poll loop.
	PollsUntilDone int
	polls          int
}

// DetectTextSync returns the canned text.
func (m *MockOCR) DetectTextSync(ctx context.Context, blob []byte) (string, error) {
	m.SyncCalls++
	return m.Text, m.Err
}

// StartDetection records the staged key and returns a stable job ID.
func (m *MockOCR) StartDetection(ctx context.Context, key string) (string, error) {
	m.AsyncCalls++
	m.StagedKeys = append(m.StagedKeys, key)
	if m.Err != nil {
		return "", m.Err
	}
	return "job-" + key, nil
}

// GetDetection completes after PollsUntilDone polls.
func (m *MockOCR) GetDetection(ctx context.Context, jobID string) (string, bool, error) {
	if m.Err != nil {
		return "", false, m.Err
	}
	m.polls++
	if m.polls <= m.PollsUntilDone {
		return "", false, nil
	}
	return m.Text, true, nil
}

var _ OCRClient = (*MockOCR)(nil)
