// Package queue provides the work queues that decouple ingestion, document
// processing, and match scoring from the request path.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Queue names. Each consumer in the worker binary drains exactly one.
const (
	// QueueOpportunityBatches carries batches of normalized CSV rows.
	QueueOpportunityBatches = "opportunity-batches"
	// QueueProfileDocuments carries uploaded company documents awaiting processing.
	QueueProfileDocuments = "profile-documents"
	// QueueMatchPairs carries (company, opportunity set) scoring work items.
	QueueMatchPairs = "match-pairs"
	// QueueProfileReembed carries companies whose profile embedding is stale.
	QueueProfileReembed = "profile-reembed"
)

// DeadLetterSuffix is appended to a queue name to form its dead-letter queue.
const DeadLetterSuffix = "-dead"

// ErrEmpty is returned by Receive when no message is available.
var ErrEmpty = errors.New("queue: empty")

// Message is one unit of work handed to a consumer. The message stays
// invisible to other consumers until it is deleted or its visibility
// timeout lapses.
type Message struct {
	ID           string    `json:"id"`
	Body         []byte    `json:"body"`
	ReceiveCount int       `json:"receive_count"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// Entry is one message in a grouped send.
type Entry struct {
	// DedupKey suppresses redelivery of an identical entry within the
	// dedup window. Empty disables deduplication for the entry.
	DedupKey string
	Body     []byte
}

// MaxBatchEntries is the most entries one SendUniqueBatch call accepts.
const MaxBatchEntries = 10

// ErrBatchTooLarge is returned when a grouped send exceeds MaxBatchEntries.
var ErrBatchTooLarge = errors.New("queue: too many entries in one batch send")

// Queue is the transport between producers and the worker pool.
type Queue interface {
	// Send enqueues one message.
	Send(ctx context.Context, queue string, body []byte) error
	// SendUnique enqueues the message only if dedupKey has not been seen
	// within the dedup window. Returns false when the message was dropped
	// as a duplicate.
	SendUnique(ctx context.Context, queue, dedupKey string, body []byte) (bool, error)
	// SendUniqueBatch enqueues up to MaxBatchEntries entries in one
	// backend call, returning how many were accepted (deduplicated
	// entries are not counted).
	SendUniqueBatch(ctx context.Context, queue string, entries []Entry) (int, error)
	// Receive dequeues up to max messages, making them invisible for the
	// configured visibility timeout.
	Receive(ctx context.Context, queue string, max int) ([]*Message, error)
	// Delete acknowledges a received message, removing it permanently.
	Delete(ctx context.Context, queue string, msg *Message) error
	// Depth reports how many messages are waiting (not in flight).
	Depth(ctx context.Context, queue string) (int, error)
	// Close releases backend resources.
	Close() error
}

// Options configure queue delivery behavior shared by all backends.
type Options struct {
	// VisibilityTimeout is how long a received message stays invisible
	// before it is redelivered.
	VisibilityTimeout time.Duration
	// MaxReceive is the delivery attempt ceiling; a message exceeding it
	// moves to the dead-letter queue instead of being redelivered.
	MaxReceive int
	// DedupWindow is how long SendUnique remembers a dedup key.
	DedupWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 15 * time.Minute
	}
	if o.MaxReceive <= 0 {
		o.MaxReceive = 10
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = 24 * time.Hour
	}
	return o
}

// DeadLetterQueue returns the dead-letter queue name for a queue.
func DeadLetterQueue(queue string) string {
	return queue + DeadLetterSuffix
}

func newMessageID() string {
	return uuid.NewString()
}
