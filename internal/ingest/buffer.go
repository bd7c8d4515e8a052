package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/runnerr0/webchronicle/internal/storage"
)

// DefaultFlushThreshold is the number of buffered interactions that
// triggers a batch write.
const DefaultFlushThreshold = 10

// BatchWriter persists a batch of interactions atomically.
type BatchWriter interface {
	InsertInteractions(ctx context.Context, batch []storage.Interaction) error
}

// Buffer accumulates interactions for one connection and writes them in
// batches. It is not safe for concurrent use; each connection owns one.
type Buffer struct {
	writer    BatchWriter
	threshold int
	pending   []storage.Interaction
}

// NewBuffer returns a buffer that flushes to writer once threshold records
// are pending. A threshold below 1 falls back to DefaultFlushThreshold.
func NewBuffer(writer BatchWriter, threshold int) *Buffer {
	if threshold < 1 {
		threshold = DefaultFlushThreshold
	}
	return &Buffer{
		writer:    writer,
		threshold: threshold,
		pending:   make([]storage.Interaction, 0, threshold),
	}
}

// Add queues one interaction and flushes when the threshold is reached.
// Records without details are never queued.
func (b *Buffer) Add(ctx context.Context, event string, details json.RawMessage, ts *time.Time, sessionID string) error {
	if k := kind(details); k == 0 || k == 'n' {
		return nil
	}
	b.pending = append(b.pending, storage.Interaction{
		Type:      event,
		Details:   details,
		Time:      ts,
		SessionID: sessionID,
	})
	if len(b.pending) >= b.threshold {
		return b.Flush(ctx)
	}
	return nil
}

// Flush writes every pending record in one transaction. The queue is
// cleared only after the write succeeds, so a failed flush keeps the
// records for the next attempt.
func (b *Buffer) Flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.writer.InsertInteractions(ctx, b.pending); err != nil {
		return fmt.Errorf("flush %d interactions: %w", len(b.pending), err)
	}
	b.pending = make([]storage.Interaction, 0, b.threshold)
	return nil
}

// Len returns the number of records waiting to be written.
func (b *Buffer) Len() int {
	return len(b.pending)
}
