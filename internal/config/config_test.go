package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"PORT", "FRONTEND_URL", "SHOPIFY_STORE_URL", "SHOPIFY_ACCESS_TOKEN",
		"ORDERSYNC_HTTP_ADDR", "ORDERSYNC_SHOPIFY_STORE_URL", "ORDERSYNC_SHOPIFY_ACCESS_TOKEN",
		"ORDERSYNC_STORE_DSN", "ORDERSYNC_SYNC_PAGE_SIZE", "ORDERSYNC_HTTP_ALLOWED_ORIGINS",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "dev-secret", cfg.HTTP.JWTSecret)
	assert.Equal(t, defaultAllowedOrigins, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, time.Minute, cfg.HTTP.RateLimitWindow)
	assert.Equal(t, "memory://", cfg.Store.DSN)
	assert.Equal(t, "shopify-orders", cfg.Store.OrdersCollection)
	assert.Equal(t, "sync-jobs", cfg.Store.JobsCollection)
	assert.Equal(t, "2024-01", cfg.Shopify.APIVersion)
	assert.Equal(t, "all", cfg.Shopify.OrderFilter)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, 100, cfg.Sync.BatchSize)
	assert.Equal(t, time.Second, cfg.Sync.PageDelay)
	assert.Equal(t, 3, cfg.Sync.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Sync.RetryDelay)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
	assert.Error(t, cfg.RequireShopify())
}

func TestLoadLegacyEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHOPIFY_STORE_URL", "legacy.myshopify.com")
	t.Setenv("SHOPIFY_ACCESS_TOKEN", "shpat_legacy")
	t.Setenv("PORT", "4000")
	t.Setenv("FRONTEND_URL", "https://orders.example.com/")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "legacy.myshopify.com", cfg.Shopify.StoreURL)
	assert.Equal(t, "shpat_legacy", cfg.Shopify.AccessToken)
	assert.Equal(t, ":4000", cfg.HTTP.Addr)
	assert.Equal(t, []string{"http://localhost:3001", "http://localhost:3002", "https://orders.example.com"}, cfg.HTTP.AllowedOrigins)
	require.NoError(t, cfg.RequireShopify())
}

func TestPrefixedEnvironmentWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHOPIFY_STORE_URL", "legacy.myshopify.com")
	t.Setenv("ORDERSYNC_SHOPIFY_STORE_URL", "new.myshopify.com")
	t.Setenv("PORT", "4000")
	t.Setenv("ORDERSYNC_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("ORDERSYNC_SYNC_PAGE_SIZE", "25")
	t.Setenv("ORDERSYNC_HTTP_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "new.myshopify.com", cfg.Shopify.StoreURL)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, 25, cfg.Sync.PageSize)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.HTTP.AllowedOrigins)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ordersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  dsn: sqlite:///var/lib/ordersync/orders.db
shopify:
  store_url: file.myshopify.com
  order_filter: OPEN
sync:
  batch_size: 20
  page_delay: 250ms
http:
  allowed_origins:
    - https://admin.example.com
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///var/lib/ordersync/orders.db", cfg.Store.DSN)
	assert.Equal(t, "file.myshopify.com", cfg.Shopify.StoreURL)
	assert.Equal(t, "open", cfg.Shopify.OrderFilter)
	assert.Equal(t, 20, cfg.Sync.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.PageDelay)
	assert.Equal(t, []string{"https://admin.example.com"}, cfg.HTTP.AllowedOrigins)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Sync.PageSize = 500
	cfg.Sync.BatchSize = 0
	cfg.Shopify.OrderFilter = "closed"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.page_size")
	assert.Contains(t, err.Error(), "sync.batch_size")
	assert.Contains(t, err.Error(), "shopify.order_filter")
}
