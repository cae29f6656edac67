package docstore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildStoreFromDSN(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		dsn  string
		want any
	}{
		{dsn: "", want: &MemoryStore{}},
		{dsn: "memory://", want: &MemoryStore{}},
		{dsn: "mem://", want: &MemoryStore{}},
		{dsn: "file://" + filepath.Join(dir, "a.json"), want: &FileStore{}},
		{dsn: filepath.Join(dir, "b.json"), want: &FileStore{}},
		{dsn: "sqlite://" + filepath.Join(dir, "c.db"), want: &SQLStore{}},
		{dsn: "postgres://localhost/ordersync?sslmode=disable", want: &SQLStore{}},
		{dsn: "mongodb://localhost:27017/orders", want: &MongoStore{}},
	}
	for _, tc := range cases {
		store, err := BuildStoreFromDSN(tc.dsn)
		require.NoError(t, err, tc.dsn)
		assert.IsType(t, tc.want, store, tc.dsn)
	}
}

func TestBuildStoreFromDSNUnsupported(t *testing.T) {
	_, err := BuildStoreFromDSN("firestore://project/db")
	assert.True(t, errors.Is(err, ErrNotImplemented), "expected ErrNotImplemented, got %v", err)

	_, err = BuildStoreFromDSN("redis://localhost")
	assert.True(t, errors.Is(err, ErrUnsupportedScheme), "expected ErrUnsupportedScheme, got %v", err)
}

func TestMongoDatabaseFromDSN(t *testing.T) {
	store, err := NewMongoStore("mongodb://localhost:27017/shop?replicaSet=rs0")
	require.NoError(t, err)
	assert.Equal(t, "shop", store.database)

	store, err = NewMongoStore("mongodb://localhost:27017")
	require.NoError(t, err)
	assert.Equal(t, mongoDefaultDatabase, store.database)
}

func TestDescribeDSN(t *testing.T) {
	assert.Equal(t, "memory", DescribeDSN(""))
	assert.Equal(t, "file", DescribeDSN("/var/lib/ordersync/docs.json"))
	assert.Equal(t, "sqlite", DescribeDSN("sqlite3:///tmp/x.db"))
	assert.Equal(t, "postgres", DescribeDSN("postgresql://db/ordersync"))
	assert.Equal(t, "mongodb", DescribeDSN("mongodb+srv://cluster.example.com/db"))
}

func TestRegisterStoreFactory(t *testing.T) {
	scheme := "storetestcustom"
	RegisterStoreFactory(scheme, func(dsn string) (Store, error) {
		return NewMemoryStore(), nil
	})
	store, err := BuildStoreFromDSN(scheme + "://example")
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestDSNPath(t *testing.T) {
	cases := map[string]string{
		"file:///tmp/docs.json": "/tmp/docs.json",
		"file://data/docs.json": "data/docs.json",
		"sqlite://orders.db":    "orders.db",
		"sqlite::memory:":       ":memory:",
		"relative/path.json":    "relative/path.json",
	}
	for raw, want := range cases {
		store, err := BuildStoreFromDSN(raw)
		require.NoError(t, err, raw)
		switch typed := store.(type) {
		case *FileStore:
			assert.Equal(t, want, typed.Path, raw)
		case *SQLStore:
			assert.Equal(t, want, typed.dsn, raw)
		default:
			t.Fatalf("unexpected store type %T for %s", store, raw)
		}
	}
}
