package docstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

const (
	postgresQueryCanceled    = "57014"
	postgresLockNotAvailable = "55P03"
)

var postgresDialect = sqlDialect{
	name:        "postgres",
	driver:      "postgres",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	fieldExpr:   func(field string) string { return "(data->>'" + field + "')" },
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGSERIAL,
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	orderColumn: "seq",
	noLimit:     "ALL",
	lockClause:  " FOR UPDATE",
	classify:    classifyPostgresErr,
}

// NewPostgresStore returns a store backed by JSONB tables. The connection is
// opened lazily on first use.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return newSQLStore(dsn, postgresDialect), nil
}

func classifyPostgresErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case postgresQueryCanceled, postgresLockNotAvailable:
			return fmt.Errorf("%w: %w", ErrDeadlineExceeded, err)
		}
	}
	return err
}
