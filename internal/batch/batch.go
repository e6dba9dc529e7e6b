// Package batch orchestrates large processing runs: it sizes batches from
// recent performance, fans work out over the queue under a coordination
// record, aggregates per-batch progress, retries failures with backoff, and
// monitors the health of active coordinations.
package batch

import (
	"encoding/json"
	"fmt"
)

// Processing types label what a coordination run is working through.
const (
	ProcessingTypeMatchScoring   = "match-scoring"
	ProcessingTypeOpportunityRow = "opportunity-rows"
	ProcessingTypeProfileReembed = "profile-reembed"
)

// Message is one queued batch. BatchData carries the serialized item slice
// for the processing type; workers decode it with Items.
type Message struct {
	CoordinationID string          `json:"coordination_id"`
	BatchID        string          `json:"batch_id"`
	BatchIndex     int             `json:"batch_index"`
	BatchData      json.RawMessage `json:"batch_data"`
}

// DecodeMessage parses a queued batch message body.
func DecodeMessage(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode batch message: %w", err)
	}
	if msg.CoordinationID == "" || msg.BatchID == "" {
		return nil, fmt.Errorf("batch message missing coordination_id or batch_id")
	}
	return &msg, nil
}

// Items decodes BatchData into the given slice pointer.
func (m *Message) Items(v any) error {
	if err := json.Unmarshal(m.BatchData, v); err != nil {
		return fmt.Errorf("decode batch %s items: %w", m.BatchID, err)
	}
	return nil
}

// MatchPairItem is one (opportunity, company) scoring unit inside a
// match-scoring batch.
type MatchPairItem struct {
	TenantID  string `json:"tenant_id"`
	CompanyID string `json:"company_id"`
	NoticeID  string `json:"notice_id"`
}

// batchID derives the deterministic batch identifier used both as the
// progress-tracking sort key and as the queue deduplication key, so a
// re-dispatched coordination never double-sends a slice.
func batchID(coordinationID string, index int) string {
	return fmt.Sprintf("%s-%04d", coordinationID, index)
}

// partition splits items into slices of at most size elements, preserving
// order.
func partition[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
