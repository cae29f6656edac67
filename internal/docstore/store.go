package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotImplemented    = errors.New("not implemented")
	ErrClosed            = errors.New("store closed")
	ErrDeadlineExceeded  = errors.New("deadline exceeded")
	ErrUnsupportedScheme = errors.New("unsupported store scheme")
)

// Store is a collection-oriented document store. Implementations are safe for
// concurrent use.
type Store interface {
	Query(ctx context.Context, collection string, q Query) ([]Document, error)
	Count(ctx context.Context, collection string, q Query) (int, error)
	Insert(ctx context.Context, collection string, data map[string]any) (string, error)
	UpdateByID(ctx context.Context, collection, id string, fields map[string]any) error
	// CommitBatch applies every write or none of them.
	CommitBatch(ctx context.Context, writes []Write) error
	Close() error
}

type Document struct {
	ID   string
	Data map[string]any
}

// Filter matches documents whose top-level Field equals Value.
type Filter struct {
	Field string
	Value string
}

type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
	Offset     int
}

func Where(field, value string) Query {
	return Query{Filters: []Filter{{Field: field, Value: value}}}
}

// Write creates a document. An empty ID is allocated by the store.
type Write struct {
	Collection string
	ID         string
	Data       map[string]any
}

func NewID() string {
	return strings.ToLower(ulid.Make().String())
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateQuery(collection string, q Query) error {
	if strings.TrimSpace(collection) == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidInput)
	}
	for _, f := range q.Filters {
		if !fieldNamePattern.MatchString(f.Field) {
			return fmt.Errorf("%w: invalid filter field %q", ErrInvalidInput, f.Field)
		}
	}
	if q.OrderBy != "" && !fieldNamePattern.MatchString(q.OrderBy) {
		return fmt.Errorf("%w: invalid order field %q", ErrInvalidInput, q.OrderBy)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("%w: negative limit or offset", ErrInvalidInput)
	}
	return nil
}

func validateWrites(writes []Write) error {
	for i, w := range writes {
		if strings.TrimSpace(w.Collection) == "" {
			return fmt.Errorf("%w: write %d has no collection", ErrInvalidInput, i)
		}
		if w.Data == nil {
			return fmt.Errorf("%w: write %d has no data", ErrInvalidInput, i)
		}
	}
	return nil
}

// classifyContextErr maps context expiry onto ErrDeadlineExceeded so callers
// can treat it as transient.
func classifyContextErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrDeadlineExceeded, err)
	}
	return err
}

func matchesFilters(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if fieldText(data[f.Field]) != f.Value {
			return false
		}
	}
	return true
}

func fieldText(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}

// applyQuery sorts and windows docs in place. docs must already be filtered
// and in insertion order.
func applyQuery(docs []Document, q Query) []Document {
	if q.OrderBy != "" {
		sort.SliceStable(docs, func(i, j int) bool {
			a := fieldText(docs[i].Data[q.OrderBy])
			b := fieldText(docs[j].Data[q.OrderBy])
			if q.Descending {
				return a > b
			}
			return a < b
		})
	}
	if q.Offset > 0 {
		if q.Offset >= len(docs) {
			return []Document{}
		}
		docs = docs[q.Offset:]
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs
}

func mergeFields(dst, fields map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range fields {
		dst[k] = v
	}
	return dst
}
