package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for development and tests. It mirrors
// the Redis backend's semantics: visibility timeouts, redelivery counting,
// dead-lettering, and send-side dedup.
type MemoryQueue struct {
	mu     sync.Mutex
	opts   Options
	queues map[string][]*Message
	// inflight holds received messages keyed by queue then message ID,
	// with the deadline after which they are requeued.
	inflight map[string]map[string]inflightEntry
	dedup    map[string]time.Time
	now      func() time.Time
}

type inflightEntry struct {
	msg      *Message
	deadline time.Time
}

// NewMemoryQueue creates an in-process queue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:     opts.withDefaults(),
		queues:   make(map[string][]*Message),
		inflight: make(map[string]map[string]inflightEntry),
		dedup:    make(map[string]time.Time),
		now:      time.Now,
	}
}

// Send enqueues one message.
func (q *MemoryQueue) Send(ctx context.Context, queue string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueueLocked(queue, &Message{
		ID:         newMessageID(),
		Body:       append([]byte(nil), body...),
		EnqueuedAt: q.now().UTC(),
	})
	return nil
}

// SendUnique enqueues the message unless dedupKey was seen within the window.
func (q *MemoryQueue) SendUnique(ctx context.Context, queue, dedupKey string, body []byte) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := queue + ":" + dedupKey
	if until, ok := q.dedup[key]; ok && q.now().Before(until) {
		return false, nil
	}
	q.dedup[key] = q.now().Add(q.opts.DedupWindow)

	q.enqueueLocked(queue, &Message{
		ID:         newMessageID(),
		Body:       append([]byte(nil), body...),
		EnqueuedAt: q.now().UTC(),
	})
	return true, nil
}

// SendUniqueBatch enqueues up to MaxBatchEntries entries, skipping ones whose
// dedup key was seen within the window. Returns the number enqueued.
func (q *MemoryQueue) SendUniqueBatch(ctx context.Context, queue string, entries []Entry) (int, error) {
	if len(entries) > MaxBatchEntries {
		return 0, ErrBatchTooLarge
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	sent := 0
	for _, e := range entries {
		if e.DedupKey != "" {
			key := queue + ":" + e.DedupKey
			if until, ok := q.dedup[key]; ok && q.now().Before(until) {
				continue
			}
			q.dedup[key] = q.now().Add(q.opts.DedupWindow)
		}
		q.enqueueLocked(queue, &Message{
			ID:         newMessageID(),
			Body:       append([]byte(nil), e.Body...),
			EnqueuedAt: q.now().UTC(),
		})
		sent++
	}
	return sent, nil
}

// Receive dequeues up to max messages.
func (q *MemoryQueue) Receive(ctx context.Context, queue string, max int) ([]*Message, error) {
	if max <= 0 {
		max = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.reapLocked(queue)

	pending := q.queues[queue]
	n := max
	if n > len(pending) {
		n = len(pending)
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]*Message, 0, n)
	for _, msg := range pending[:n] {
		msg.ReceiveCount++
		if q.inflight[queue] == nil {
			q.inflight[queue] = make(map[string]inflightEntry)
		}
		q.inflight[queue][msg.ID] = inflightEntry{
			msg:      msg,
			deadline: q.now().Add(q.opts.VisibilityTimeout),
		}
		out = append(out, msg)
	}
	q.queues[queue] = pending[n:]
	return out, nil
}

// Delete acknowledges a message.
func (q *MemoryQueue) Delete(ctx context.Context, queue string, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if entries, ok := q.inflight[queue]; ok {
		delete(entries, msg.ID)
	}
	return nil
}

// Depth reports waiting (not in-flight) messages.
func (q *MemoryQueue) Depth(ctx context.Context, queue string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reapLocked(queue)
	return len(q.queues[queue]), nil
}

// Close is a no-op for the memory queue.
func (q *MemoryQueue) Close() error { return nil }

// enqueueLocked appends a message; caller holds q.mu.
func (q *MemoryQueue) enqueueLocked(queue string, msg *Message) {
	q.queues[queue] = append(q.queues[queue], msg)
}

// reapLocked requeues expired in-flight messages, dead-lettering ones past
// the receive limit; caller holds q.mu.
func (q *MemoryQueue) reapLocked(queue string) {
	entries := q.inflight[queue]
	now := q.now()
	for id, entry := range entries {
		if now.Before(entry.deadline) {
			continue
		}
		delete(entries, id)
		if entry.msg.ReceiveCount >= q.opts.MaxReceive {
			q.enqueueLocked(DeadLetterQueue(queue), entry.msg)
		} else {
			q.enqueueLocked(queue, entry.msg)
		}
	}
}

var _ Queue = (*MemoryQueue)(nil)
