package ordersync

import (
	"context"
	"fmt"

	"github.com/agentworkforce/ordersync/internal/docstore"
)

// DocumentIDField carries the store-assigned id on listed orders.
const DocumentIDField = "documentId"

type OrderListing struct {
	Success bool             `json:"success"`
	Count   int              `json:"count"`
	Total   int              `json:"total"`
	Orders  []map[string]any `json:"orders"`
}

// ListOrders returns stored orders newest first. A non-positive limit returns
// every order from offset on.
func ListOrders(ctx context.Context, store docstore.Store, collection string, limit, offset int) (OrderListing, error) {
	if offset < 0 {
		offset = 0
	}
	total, err := store.Count(ctx, collection, docstore.Query{})
	if err != nil {
		return OrderListing{}, fmt.Errorf("count orders: %w", err)
	}
	q := docstore.Query{OrderBy: "createdAt", Descending: true, Offset: offset}
	if limit > 0 {
		q.Limit = limit
	}
	docs, err := store.Query(ctx, collection, q)
	if err != nil {
		return OrderListing{}, fmt.Errorf("list orders: %w", err)
	}
	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		row := make(map[string]any, len(doc.Data)+1)
		for k, v := range doc.Data {
			row[k] = v
		}
		row[DocumentIDField] = doc.ID
		out = append(out, row)
	}
	return OrderListing{Success: true, Count: len(out), Total: total, Orders: out}, nil
}

func (o *Orchestrator) ListOrders(ctx context.Context, limit, offset int) (OrderListing, error) {
	return ListOrders(ctx, o.store, o.ordersCollection, limit, offset)
}
