// Package batch persists ordered event lists to a store with a hard
// per-request row ceiling, writing bounded-size chunks with bounded
// concurrency and reporting progress between chunk groups.
package batch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/skalter/playtrace/internal/model"
)

// Defaults match the backing store's 1000-row request ceiling and the
// chosen balance between throughput and store-side contention.
const (
	DefaultChunkSize   = 1000
	DefaultConcurrency = 3
)

// Inserter is the subset of the event store the writer needs.
type Inserter interface {
	InsertEvents(ctx context.Context, userID string, events []model.ListeningEvent) error
}

// ChunkError reports a failed chunk write. Chunks before Index may
// already be persisted; there is no rollback. A retry can double-insert,
// which the natural-key dedup window mitigates on the next sync.
type ChunkError struct {
	Index int
	Err   error
}

// Error implements the error interface.
func (e *ChunkError) Error() string {
	return fmt.Sprintf("writing chunk %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying store error.
func (e *ChunkError) Unwrap() error { return e.Err }

// ProgressFunc receives progress after each concurrent chunk group
// completes. percent is 0-100 computed from chunks completed over chunks
// total.
type ProgressFunc func(percent int, message string)

// Writer splits event lists into chunks and writes them concurrently.
type Writer struct {
	store       Inserter
	chunkSize   int
	concurrency int
}

// Option configures a Writer.
type Option func(*Writer)

// WithChunkSize sets the per-request row ceiling.
func WithChunkSize(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.chunkSize = n
		}
	}
}

// WithConcurrency bounds concurrent chunk writes.
func WithConcurrency(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// NewWriter creates a Writer backed by store.
func NewWriter(store Inserter, opts ...Option) *Writer {
	w := &Writer{
		store:       store,
		chunkSize:   DefaultChunkSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write persists events for a user in chunks. Up to the configured
// concurrency of chunks are written at a time; after each group finishes,
// progress is reported. On failure the returned error wraps a *ChunkError
// naming the first failed chunk; chunks written before the failure remain
// persisted.
func (w *Writer) Write(ctx context.Context, userID string, events []model.ListeningEvent, progress ProgressFunc) error {
	if len(events) == 0 {
		if progress != nil {
			progress(100, "no events to store")
		}
		return nil
	}

	chunks := splitChunks(events, w.chunkSize)
	total := len(chunks)
	completed := 0

	for group := 0; group < total; group += w.concurrency {
		end := min(group+w.concurrency, total)

		g, gctx := errgroup.WithContext(ctx)
		for i := group; i < end; i++ {
			g.Go(func() error {
				if err := w.store.InsertEvents(gctx, userID, chunks[i]); err != nil {
					return &ChunkError{Index: i, Err: err}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		completed = end
		if progress != nil {
			percent := completed * 100 / total
			progress(percent, fmt.Sprintf("stored %d of %d chunks", completed, total))
		}
	}

	return nil
}

// splitChunks slices events into runs of at most size elements.
func splitChunks(events []model.ListeningEvent, size int) [][]model.ListeningEvent {
	chunks := make([][]model.ListeningEvent, 0, (len(events)+size-1)/size)
	for start := 0; start < len(events); start += size {
		chunks = append(chunks, events[start:min(start+size, len(events))])
	}
	return chunks
}

// IsChunkError reports whether err wraps a chunk write failure and
// returns it when so.
func IsChunkError(err error) (*ChunkError, bool) {
	var ce *ChunkError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
