package ordersync

import (
	"context"

	"github.com/agentworkforce/ordersync/internal/docstore"
)

// upstreamIDField holds the upstream order id inside stored order documents.
const upstreamIDField = "id"

type ExistenceChecker struct {
	store      docstore.Store
	collection string
	retry      RetryPolicy
}

func NewExistenceChecker(store docstore.Store, collection string, retry RetryPolicy) *ExistenceChecker {
	return &ExistenceChecker{store: store, collection: collection, retry: retry}
}

func (c *ExistenceChecker) Exists(ctx context.Context, upstreamID string) (bool, error) {
	docs, err := Retry(ctx, c.retry, func(ctx context.Context) ([]docstore.Document, error) {
		q := docstore.Where(upstreamIDField, upstreamID)
		q.Limit = 1
		return c.store.Query(ctx, c.collection, q)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}
