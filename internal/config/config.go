package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "ORDERSYNC"

var defaultAllowedOrigins = []string{"http://localhost:3001", "http://localhost:3002"}

type Config struct {
	HTTP    HTTPConfig
	Store   StoreConfig
	Shopify ShopifyConfig
	Sync    SyncConfig
	Log     LogConfig
}

type HTTPConfig struct {
	Addr            string
	JWTSecret       string
	AllowedOrigins  []string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

type StoreConfig struct {
	DSN              string
	OrdersCollection string
	JobsCollection   string
}

type ShopifyConfig struct {
	StoreURL    string
	AccessToken string
	APIVersion  string
	OrderFilter string
}

type SyncConfig struct {
	PageSize      int
	BatchSize     int
	PageDelay     time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	SchemaFile    string
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

// Load reads defaults, then the optional config file at path, then the
// environment. Environment keys are ORDERSYNC_ followed by the upper-cased
// key with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}
	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            httpAddr(v),
			JWTSecret:       v.GetString("http.jwt_secret"),
			AllowedOrigins:  allowedOrigins(v),
			RateLimitMax:    v.GetInt("http.rate_limit_max"),
			RateLimitWindow: v.GetDuration("http.rate_limit_window"),
		},
		Store: StoreConfig{
			DSN:              v.GetString("store.dsn"),
			OrdersCollection: v.GetString("store.orders_collection"),
			JobsCollection:   v.GetString("store.jobs_collection"),
		},
		Shopify: ShopifyConfig{
			StoreURL:    v.GetString("shopify.store_url"),
			AccessToken: v.GetString("shopify.access_token"),
			APIVersion:  v.GetString("shopify.api_version"),
			OrderFilter: strings.ToLower(strings.TrimSpace(v.GetString("shopify.order_filter"))),
		},
		Sync: SyncConfig{
			PageSize:      v.GetInt("sync.page_size"),
			BatchSize:     v.GetInt("sync.batch_size"),
			PageDelay:     v.GetDuration("sync.page_delay"),
			RetryAttempts: v.GetInt("sync.retry_attempts"),
			RetryDelay:    v.GetDuration("sync.retry_delay"),
			SchemaFile:    v.GetString("sync.schema_file"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			File:   v.GetString("log.file"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", "")
	v.SetDefault("http.jwt_secret", "dev-secret")
	v.SetDefault("http.allowed_origins", defaultAllowedOrigins)
	v.SetDefault("http.rate_limit_max", 0)
	v.SetDefault("http.rate_limit_window", time.Minute)
	v.SetDefault("store.dsn", "memory://")
	v.SetDefault("store.orders_collection", "shopify-orders")
	v.SetDefault("store.jobs_collection", "sync-jobs")
	v.SetDefault("shopify.store_url", "")
	v.SetDefault("shopify.access_token", "")
	v.SetDefault("shopify.api_version", "2024-01")
	v.SetDefault("shopify.order_filter", "all")
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.page_delay", time.Second)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.retry_delay", time.Second)
	v.SetDefault("sync.schema_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("port", "")
	v.SetDefault("frontend_url", "")
}

// bindLegacyEnv keeps the variable names of earlier deployments working. The
// prefixed name wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"shopify.store_url":    {EnvPrefix + "_SHOPIFY_STORE_URL", "SHOPIFY_STORE_URL"},
		"shopify.access_token": {EnvPrefix + "_SHOPIFY_ACCESS_TOKEN", "SHOPIFY_ACCESS_TOKEN"},
		"port":                 {"PORT"},
		"frontend_url":         {"FRONTEND_URL"},
	}
	for key, names := range bindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}
	return nil
}

func httpAddr(v *viper.Viper) string {
	if addr := strings.TrimSpace(v.GetString("http.addr")); addr != "" {
		return addr
	}
	if port := strings.TrimSpace(v.GetString("port")); port != "" {
		return ":" + port
	}
	return ":8080"
}

func allowedOrigins(v *viper.Viper) []string {
	var origins []string
	switch raw := v.Get("http.allowed_origins").(type) {
	case string:
		origins = splitList(raw)
	case []string:
		origins = append(origins, raw...)
	case []any:
		for _, item := range raw {
			origins = append(origins, fmt.Sprint(item))
		}
	}
	if frontend := strings.TrimSpace(v.GetString("frontend_url")); frontend != "" {
		origins = append(origins, frontend)
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" || seen[origin] {
			continue
		}
		seen[origin] = true
		out = append(out, origin)
	}
	return out
}

func splitList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' '
	})
}

func (c Config) Validate() error {
	var errs []error
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 250 {
		errs = append(errs, fmt.Errorf("sync.page_size must be between 1 and 250, got %d", c.Sync.PageSize))
	}
	if c.Sync.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize))
	}
	if c.Sync.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("sync.retry_attempts must be positive, got %d", c.Sync.RetryAttempts))
	}
	if c.Sync.PageDelay < 0 || c.Sync.RetryDelay < 0 {
		errs = append(errs, errors.New("sync delays must not be negative"))
	}
	if c.HTTP.RateLimitMax < 0 {
		errs = append(errs, fmt.Errorf("http.rate_limit_max must not be negative, got %d", c.HTTP.RateLimitMax))
	}
	switch c.Shopify.OrderFilter {
	case "all", "open":
	default:
		errs = append(errs, fmt.Errorf("shopify.order_filter must be all or open, got %q", c.Shopify.OrderFilter))
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	return errors.Join(errs...)
}

// RequireShopify reports whether the upstream credentials are present.
func (c Config) RequireShopify() error {
	if strings.TrimSpace(c.Shopify.StoreURL) == "" {
		return errors.New("shopify.store_url is required (ORDERSYNC_SHOPIFY_STORE_URL or SHOPIFY_STORE_URL)")
	}
	if strings.TrimSpace(c.Shopify.AccessToken) == "" {
		return errors.New("shopify.access_token is required (ORDERSYNC_SHOPIFY_ACCESS_TOKEN or SHOPIFY_ACCESS_TOKEN)")
	}
	return nil
}
