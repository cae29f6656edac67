package ordersync

import (
	"context"
	"fmt"

	"github.com/agentworkforce/ordersync/internal/docstore"
)

const DefaultBatchSize = 100

// BatchWriter buffers order documents and commits them atomically once the
// buffer reaches its threshold. Store ids are assigned when a record is
// queued, so a retried commit writes the same ids again.
type BatchWriter struct {
	store      docstore.Store
	collection string
	threshold  int
	retry      RetryPolicy

	pending   []docstore.Write
	commits   int
	committed int
}

func NewBatchWriter(store docstore.Store, collection string, threshold int, retry RetryPolicy) *BatchWriter {
	if threshold <= 0 {
		threshold = DefaultBatchSize
	}
	return &BatchWriter{
		store:      store,
		collection: collection,
		threshold:  threshold,
		retry:      retry,
	}
}

// Add queues data and commits the buffer when it is full. A non-nil error
// means the commit failed after retries and the buffered records were dropped.
func (w *BatchWriter) Add(ctx context.Context, data map[string]any) error {
	w.pending = append(w.pending, docstore.Write{
		Collection: w.collection,
		ID:         docstore.NewID(),
		Data:       data,
	})
	if len(w.pending) < w.threshold {
		return nil
	}
	return w.commit(ctx)
}

func (w *BatchWriter) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	return w.commit(ctx)
}

func (w *BatchWriter) Pending() int   { return len(w.pending) }
func (w *BatchWriter) Commits() int   { return w.commits }
func (w *BatchWriter) Committed() int { return w.committed }

func (w *BatchWriter) commit(ctx context.Context) error {
	writes := w.pending
	w.pending = nil
	err := w.retry.Run(ctx, func(ctx context.Context) error {
		return w.store.CommitBatch(ctx, writes)
	})
	if err != nil {
		return fmt.Errorf("commit batch of %d orders: %w", len(writes), err)
	}
	w.commits++
	w.committed += len(writes)
	return nil
}
