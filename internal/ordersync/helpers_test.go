package ordersync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentworkforce/ordersync/internal/docstore"
	"github.com/agentworkforce/ordersync/internal/orders"
	"github.com/stretchr/testify/require"
)

func makeOrders(prefix string, n int) []orders.UpstreamOrder {
	out := make([]orders.UpstreamOrder, 0, n)
	for i := range n {
		out = append(out, orders.UpstreamOrder{
			ID:        fmt.Sprintf("gid://shopify/Order/%s-%d", prefix, i),
			Name:      fmt.Sprintf("#%s%d", prefix, i),
			CreatedAt: time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC).Format(time.RFC3339),
		})
	}
	return out
}

// chunk splits all into pages of size n.
func chunk(all []orders.UpstreamOrder, n int) [][]orders.UpstreamOrder {
	var pages [][]orders.UpstreamOrder
	for len(all) > 0 {
		end := min(n, len(all))
		pages = append(pages, all[:end])
		all = all[end:]
	}
	return pages
}

type fakeSource struct {
	mu      sync.Mutex
	pages   [][]orders.UpstreamOrder
	calls   []string
	firsts  []int
	failAt  int
	failErr error
	// gate, when set, blocks every fetch until it is closed.
	gate chan struct{}
}

func (s *fakeSource) FetchOrdersPage(ctx context.Context, cursor string, first int) (orders.Page, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return orders.Page{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, cursor)
	s.firsts = append(s.firsts, first)
	index := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "cursor-%d", &index); err != nil {
			return orders.Page{}, fmt.Errorf("bad cursor %q", cursor)
		}
	}
	if s.failAt > 0 && index+1 == s.failAt {
		return orders.Page{}, s.failErr
	}
	if index >= len(s.pages) {
		return orders.Page{}, nil
	}
	page := orders.Page{Orders: s.pages[index]}
	if index+1 < len(s.pages) {
		page.HasNextPage = true
		page.EndCursor = fmt.Sprintf("cursor-%d", index+1)
	}
	return page, nil
}

func (s *fakeSource) fetches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// flakyStore wraps a MemoryStore and injects failures by call number.
type flakyStore struct {
	*docstore.MemoryStore

	mu          sync.Mutex
	commitCalls int
	commitSizes []int
	queryCalls  int
	insertCalls int
	updateCalls int
	commitErr   func(call int) error
	queryErr    func(call int, collection string) error
	insertErr   func(call int) error
	updateErr   func(call int) error
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: docstore.NewMemoryStore()}
}

func (s *flakyStore) CommitBatch(ctx context.Context, writes []docstore.Write) error {
	s.mu.Lock()
	s.commitCalls++
	call := s.commitCalls
	hook := s.commitErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(call); err != nil {
			return err
		}
	}
	if err := s.MemoryStore.CommitBatch(ctx, writes); err != nil {
		return err
	}
	s.mu.Lock()
	s.commitSizes = append(s.commitSizes, len(writes))
	s.mu.Unlock()
	return nil
}

func (s *flakyStore) Query(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	s.mu.Lock()
	s.queryCalls++
	call := s.queryCalls
	hook := s.queryErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(call, collection); err != nil {
			return nil, err
		}
	}
	return s.MemoryStore.Query(ctx, collection, q)
}

func (s *flakyStore) Insert(ctx context.Context, collection string, data map[string]any) (string, error) {
	s.mu.Lock()
	s.insertCalls++
	call := s.insertCalls
	hook := s.insertErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(call); err != nil {
			return "", err
		}
	}
	return s.MemoryStore.Insert(ctx, collection, data)
}

func (s *flakyStore) UpdateByID(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	s.updateCalls++
	call := s.updateCalls
	hook := s.updateErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(call); err != nil {
			return err
		}
	}
	return s.MemoryStore.UpdateByID(ctx, collection, id, fields)
}

func (s *flakyStore) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.commitSizes...)
}

func (s *flakyStore) commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitCalls
}

type testLogger struct {
	t *testing.T
}

func (l testLogger) Printf(format string, args ...any) {
	l.t.Helper()
	l.t.Logf(format, args...)
}

func newTestOrchestrator(t *testing.T, source OrderSource, store docstore.Store, mutate ...func(*Options)) *Orchestrator {
	t.Helper()
	opts := Options{
		Source:    source,
		Store:     store,
		Logger:    testLogger{t: t},
		PageDelay: -1,
		Retry:     RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond},
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	o, err := NewOrchestrator(opts)
	require.NoError(t, err)
	return o
}

func storedOrderIDs(t *testing.T, store docstore.Store) map[string]int {
	t.Helper()
	docs, err := store.Query(context.Background(), DefaultOrdersCollection, docstore.Query{})
	require.NoError(t, err)
	counts := map[string]int{}
	for _, doc := range docs {
		id, _ := doc.Data["id"].(string)
		counts[id]++
	}
	return counts
}

var errTransient = fmt.Errorf("%w: simulated", docstore.ErrDeadlineExceeded)
