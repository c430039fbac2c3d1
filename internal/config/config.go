// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the binaries read from the environment.
type Config struct {
	// DatabaseURL selects the Postgres store. When empty, SQLitePath is used.
	DatabaseURL string
	SQLitePath  string

	Port      string
	LogLevel  string
	LogFormat string

	MaxUploadSize int64
	MaxImportRows int

	// Optional integrations; empty disables them.
	GCSBucket       string
	GCSPrefix       string
	BigQueryProject string
	BigQueryDataset string

	GeminiEnabled bool
	GeminiModel   string
	TagRulesPath  string

	// JWTSecret enables bearer token auth. Without it the API trusts the
	// X-User-ID header, which is only meant for local development.
	JWTSecret string

	RateLimit  float64
	RateBurst  int
	PreviewTTL time.Duration
	JobWorkers int
}

// Load reads the given .env files (".env" when none are named) into the
// process environment and builds a Config from it. Missing files are
// ignored; variables already set in the environment win.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("Load: reading %s: %w", f, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, applying defaults for unset keys.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		DatabaseURL: r.str("DATABASE_URL", ""),
		SQLitePath:  r.str("SQLITE_PATH", "importer.db"),

		Port:      r.str("PORT", "8080"),
		LogLevel:  r.str("LOG_LEVEL", "info"),
		LogFormat: r.str("LOG_FORMAT", "console"),

		MaxUploadSize: r.int64("MAX_UPLOAD_SIZE_BYTES", 10<<20),
		MaxImportRows: r.int("MAX_IMPORT_ROWS", 50000),

		GCSBucket:       r.str("GCS_BUCKET", ""),
		GCSPrefix:       r.str("GCS_PREFIX", "uploads"),
		BigQueryProject: r.str("BIGQUERY_PROJECT", ""),
		BigQueryDataset: r.str("BIGQUERY_DATASET", "finance"),

		GeminiEnabled: r.bool("GEMINI_ENABLED", false),
		GeminiModel:   r.str("GEMINI_MODEL", "gemini-2.5-flash"),
		TagRulesPath:  r.str("TAG_RULES_PATH", ""),

		JWTSecret: r.str("JWT_SECRET", ""),

		RateLimit:  r.float("RATE_LIMIT_RPS", 10),
		RateBurst:  r.int("RATE_LIMIT_BURST", 20),
		PreviewTTL: r.duration("PREVIEW_TTL", 30*time.Minute),
		JobWorkers: r.int("JOB_WORKERS", 5),
	}
	if len(r.errs) > 0 {
		return nil, fmt.Errorf("FromEnv: %w", errors.Join(r.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		errs = append(errs, errors.New("one of DATABASE_URL or SQLITE_PATH is required"))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_SIZE_BYTES must be positive"))
	}
	if c.MaxImportRows <= 0 {
		errs = append(errs, errors.New("MAX_IMPORT_ROWS must be positive"))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	if c.PreviewTTL <= 0 {
		errs = append(errs, errors.New("PREVIEW_TTL must be positive"))
	}
	if c.JobWorkers <= 0 {
		errs = append(errs, errors.New("JOB_WORKERS must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("Validate: %w", errors.Join(errs...))
	}
	return nil
}

// UsePostgres reports whether the Postgres store is configured.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) int64(key string, def int64) int64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (r *reader) bool(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
