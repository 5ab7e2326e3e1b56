package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"catalogsync/internal/apperr"
)

type Config struct {
	DatabaseURL     string
	AccessKey       string
	RedisURL        string
	MetricsPort     string
	PushgatewayURL  string
	LogMode         string
	EmbeddingAPIURL string
	EmbeddingAPIKey string
	ImageModel      string
	TextModel       string
	EmbeddingDim    int
	RequestTimeout  time.Duration
	ModelTimeout    time.Duration
	RequestDelay    time.Duration
	MaxRetries      int
	Store           Store
}

// Store describes the single storefront this job syncs.
type Store struct {
	BaseURL    string `yaml:"base_url"`
	Locale     string `yaml:"locale"`
	Collection string `yaml:"collection"`
	PageSize   int    `yaml:"page_size"`
	Source     string `yaml:"source"`
	Brand      string `yaml:"brand"`
	Country    string `yaml:"country"`
	Currency   string `yaml:"currency"`
}

func DefaultStore() Store {
	return Store{
		BaseURL:    "https://moremoneymorelove.de",
		Locale:     "en",
		Collection: "shop-all",
		PageSize:   50,
		Source:     "scraper",
		Brand:      "Moremoney Morelove",
		Country:    "DE",
		Currency:   "EUR",
	}
}

// CollectionURL is the products.json endpoint of the configured collection.
func (s Store) CollectionURL() string {
	return fmt.Sprintf("%s/%s/collections/%s/products.json", strings.TrimRight(s.BaseURL, "/"), s.Locale, s.Collection)
}

// ProductBaseURL is the prefix product handles are appended to.
func (s Store) ProductBaseURL() string {
	return fmt.Sprintf("%s/%s/products", strings.TrimRight(s.BaseURL, "/"), s.Locale)
}

func Load() *Config {
	// repo root first when run via `go run ./cmd/scraper` from a subdir, then the working dir
	_ = godotenv.Load("../../.env")
	_ = godotenv.Load()
	return &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		AccessKey:       getEnv("SUPABASE_SERVICE_KEY", os.Getenv("SUPABASE_KEY")),
		RedisURL:        os.Getenv("REDIS_URL"),
		MetricsPort:     os.Getenv("METRICS_PORT"),
		PushgatewayURL:  os.Getenv("PUSHGATEWAY_URL"),
		LogMode:         getEnv("LOG_MODE", "dev"),
		EmbeddingAPIURL: getEnv("EMBEDDING_API_URL", "http://localhost:7997/v1"),
		EmbeddingAPIKey: os.Getenv("EMBEDDING_API_KEY"),
		ImageModel:      getEnv("EMBEDDING_IMAGE_MODEL", "google/siglip-base-patch16-384"),
		TextModel:       getEnv("EMBEDDING_TEXT_MODEL", "google/siglip-base-patch16-384"),
		EmbeddingDim:    768,
		RequestTimeout:  getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ModelTimeout:    getDuration("MODEL_TIMEOUT", 60*time.Second),
		RequestDelay:    getDuration("REQUEST_DELAY", time.Second),
		MaxRetries:      getInt("MAX_RETRIES", 3),
		Store:           DefaultStore(),
	}
}

// LoadStore overlays the YAML file at path on top of the current store settings.
func (c *Config) LoadStore(path string) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return apperr.Configuration("read store config %s: %v", path, err)
	}
	store := c.Store
	if err := yaml.Unmarshal(b, &store); err != nil {
		return apperr.Configuration("parse store config %s: %v", path, err)
	}
	if store.PageSize <= 0 {
		return apperr.Configuration("store page_size must be positive, got %d", store.PageSize)
	}
	if _, err := url.ParseRequestURI(store.BaseURL); err != nil {
		return apperr.Configuration("store base_url %q: %v", store.BaseURL, err)
	}
	for _, f := range []struct{ name, value string }{
		{"source", store.Source},
		{"brand", store.Brand},
		{"locale", store.Locale},
		{"collection", store.Collection},
	} {
		if strings.TrimSpace(f.value) == "" {
			return apperr.Configuration("store %s must not be empty", f.name)
		}
	}
	c.Store = store
	return nil
}

// Validate checks the credentials needed to write. A dry run never touches the table.
func (c *Config) Validate(dryRun bool) error {
	if c.EmbeddingAPIURL == "" {
		return apperr.Configuration("EMBEDDING_API_URL must be set")
	}
	if dryRun {
		return nil
	}
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.AccessKey == "" {
		missing = append(missing, "SUPABASE_SERVICE_KEY or SUPABASE_KEY")
	}
	if len(missing) > 0 {
		return apperr.Configuration("%s must be set in the environment or .env", strings.Join(missing, ", "))
	}
	return nil
}

// DatabaseDSN returns DatabaseURL with the access key filled in as password when the URL has none.
func (c *Config) DatabaseDSN() (string, error) {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil {
		return "", apperr.Configuration("DATABASE_URL: %v", err)
	}
	if u.User == nil {
		u.User = url.UserPassword("postgres", c.AccessKey)
	} else if _, ok := u.User.Password(); !ok {
		u.User = url.UserPassword(u.User.Username(), c.AccessKey)
	}
	return u.String(), nil
}

func getEnv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getInt(k string, d int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return i
}

// getDuration accepts Go durations ("1500ms") or plain seconds ("1.5").
func getDuration(k string, d time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return d
}
