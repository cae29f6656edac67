package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const sqlOperationTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type sqlDialect struct {
	name        string
	driver      string
	placeholder func(n int) string
	fieldExpr   func(field string) string
	createTable string
	orderColumn string
	noLimit     string
	lockClause  string
	setup       []string
	classify    func(err error) error
}

// SQLStore keeps one table per collection with an id primary key and the
// document body as JSON. Postgres and SQLite share it through a dialect.
type SQLStore struct {
	dsn         string
	dialect     sqlDialect
	openDB      sqlOpenFunc
	tablePrefix string
	indexFields []string
	opTimeout   time.Duration
	maxConns    int

	initOnce sync.Once
	initErr  error
	db       *sql.DB

	mu    sync.Mutex
	ready map[string]bool
}

func newSQLStore(dsn string, dialect sqlDialect) *SQLStore {
	return &SQLStore{
		dsn:         dsn,
		dialect:     dialect,
		openDB:      sql.Open,
		indexFields: []string{"id"},
		opTimeout:   sqlOperationTimeout,
		ready:       map[string]bool{},
	}
}

func (s *SQLStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(collection, q); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, s.classify(err)
	}

	where, args := s.whereClause(q.Filters)
	query := fmt.Sprintf("SELECT id, data FROM %s%s ORDER BY ", s.table(collection), where)
	if q.OrderBy != "" {
		direction := "ASC"
		if q.Descending {
			direction = "DESC"
		}
		query += s.dialect.fieldExpr(q.OrderBy) + " " + direction + ", "
	}
	query += s.dialect.orderColumn
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	} else if q.Offset > 0 {
		query += " LIMIT " + s.dialect.noLimit
	}
	if q.Offset > 0 {
		query += " OFFSET " + strconv.Itoa(q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()
	out := []Document{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, s.classify(err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(err)
	}
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context, collection string, q Query) (int, error) {
	if err := validateQuery(collection, q); err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.ensureCollection(ctx, collection); err != nil {
		return 0, s.classify(err)
	}
	where, args := s.whereClause(q.Filters)
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.table(collection), where)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, s.classify(err)
	}
	return count, nil
}

func (s *SQLStore) Insert(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := NewID()
	if err := s.CommitBatch(ctx, []Write{{Collection: collection, ID: id, Data: data}}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLStore) UpdateByID(ctx context.Context, collection, id string, fields map[string]any) error {
	if strings.TrimSpace(collection) == "" || strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := s.ensureCollection(ctx, collection); err != nil {
		return s.classify(err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	selectQuery := fmt.Sprintf("SELECT data FROM %s WHERE id = %s%s", s.table(collection), s.dialect.placeholder(1), s.dialect.lockClause)
	var raw []byte
	err = tx.QueryRowContext(ctx, selectQuery, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return s.classify(err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return err
	}
	payload, err := encodeData(mergeFields(data, fields))
	if err != nil {
		return err
	}
	updateQuery := fmt.Sprintf("UPDATE %s SET data = %s WHERE id = %s", s.table(collection), s.dialect.placeholder(1), s.dialect.placeholder(2))
	if _, err := tx.ExecContext(ctx, updateQuery, string(payload), id); err != nil {
		return s.classify(err)
	}
	if err := tx.Commit(); err != nil {
		return s.classify(err)
	}
	committed = true
	return nil
}

func (s *SQLStore) CommitBatch(ctx context.Context, writes []Write) error {
	if err := validateWrites(writes); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	for _, w := range writes {
		if err := s.ensureCollection(ctx, w.Collection); err != nil {
			return s.classify(err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, w := range writes {
		id := w.ID
		if id == "" {
			id = NewID()
		}
		payload, err := encodeData(w.Data)
		if err != nil {
			return err
		}
		query := fmt.Sprintf("INSERT INTO %s (id, data) VALUES (%s, %s)", s.table(w.Collection), s.dialect.placeholder(1), s.dialect.placeholder(2))
		if _, err := tx.ExecContext(ctx, query, id, string(payload)); err != nil {
			return s.classify(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.classify(err)
	}
	committed = true
	return nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		if s.maxConns > 0 {
			db.SetMaxOpenConns(s.maxConns)
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
		defer cancel()
		for _, stmt := range s.dialect.setup {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				s.initErr = fmt.Errorf("%s setup %q: %w", s.dialect.name, stmt, err)
				return
			}
		}
		s.db = db
	})
	return s.initErr
}

func (s *SQLStore) ensureCollection(ctx context.Context, collection string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready[collection] {
		return nil
	}
	table := s.table(collection)
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.createTable, table)); err != nil {
		return err
	}
	for _, field := range s.indexFields {
		index := sqlQuoteIdentifier(s.tablePrefix + collection + "_" + field + "_idx")
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s ((%s))", index, table, s.dialect.fieldExpr(field))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	s.ready[collection] = true
	return nil
}

func (s *SQLStore) whereClause(filters []Filter) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for i, f := range filters {
		parts = append(parts, s.dialect.fieldExpr(f.Field)+" = "+s.dialect.placeholder(i+1))
		args = append(args, f.Value)
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func (s *SQLStore) table(collection string) string {
	return sqlQuoteIdentifier(s.tablePrefix + collection)
}

func (s *SQLStore) classify(err error) error {
	if err == nil {
		return nil
	}
	if s.dialect.classify != nil {
		err = s.dialect.classify(err)
	}
	return classifyContextErr(err)
}

func sqlQuoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
