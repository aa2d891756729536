package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

type Config struct {
	StoreDriver  string
	DatabaseURL  string
	SQLitePath   string
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string
	S3Endpoint   string
	SslCertPath  string
	JWTSecret    string
	Port         string

	AIAPIKey   string
	EmbedModel string
	GenModel   string

	// Optional OpenAI-compatible embedding backend used when Gemini is unavailable.
	FallbackEmbedURL   string
	FallbackEmbedKey   string
	FallbackEmbedModel string

	ChunkSize        int
	ChunkOverlap     int
	EmbedBatchSize   int
	EmbedMaxAttempts int
	EmbedBackoffBase time.Duration
	EmbedTimeout     time.Duration
	EmbedRatePerSec  float64

	OCRMinCharsPerPage int
	OCRTimeout         time.Duration
	OCRLanguages       string

	RetrievalTopK          int
	RetrievalMinSimilarity float64
	GenerationTimeout      time.Duration

	// Also search with rephrasings of the query.
	RetrievalQueryVariations bool

	IngestWorkers int
	AgentsFile    string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		StoreDriver:  getEnv("STORE_DRIVER", StoreDriverPostgres),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SQLitePath:   getEnv("SQLITE_PATH", "docground.db"),
		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "docground-docs"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		SslCertPath:  getEnv("SSL_CERT_PATH", ""),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		Port:         getEnv("PORT", "8080"),

		AIAPIKey:   getEnv("GEMINI_API_KEY", ""),
		EmbedModel: getEnv("EMBED_MODEL", "text-embedding-004"),
		GenModel:   getEnv("GEN_MODEL", "gemini-1.5-flash"),

		FallbackEmbedURL:   getEnv("FALLBACK_EMBED_URL", ""),
		FallbackEmbedKey:   getEnv("FALLBACK_EMBED_API_KEY", ""),
		FallbackEmbedModel: getEnv("FALLBACK_EMBED_MODEL", "text-embedding-3-small"),

		ChunkSize:        getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:     getEnvInt("CHUNK_OVERLAP", 200),
		EmbedBatchSize:   getEnvInt("EMBED_BATCH_SIZE", 16),
		EmbedMaxAttempts: getEnvInt("EMBED_MAX_ATTEMPTS", 4),
		EmbedBackoffBase: getEnvDuration("EMBED_BACKOFF_BASE", 200*time.Millisecond),
		EmbedTimeout:     getEnvDuration("EMBED_TIMEOUT", 30*time.Second),
		EmbedRatePerSec:  getEnvFloat("EMBED_RATE_PER_SEC", 5),

		OCRMinCharsPerPage: getEnvInt("OCR_MIN_CHARS_PER_PAGE", 100),
		OCRTimeout:         getEnvDuration("OCR_TIMEOUT", 60*time.Second),
		OCRLanguages:       getEnv("OCR_LANGUAGES", "eng"),

		RetrievalTopK:            getEnvInt("RETRIEVAL_TOP_K", 5),
		RetrievalMinSimilarity:   getEnvFloat("RETRIEVAL_MIN_SIMILARITY", 0.75),
		RetrievalQueryVariations: getEnvBool("RETRIEVAL_QUERY_VARIATIONS", false),
		GenerationTimeout:        getEnvDuration("GENERATION_TIMEOUT", 60*time.Second),

		IngestWorkers: getEnvInt("INGEST_WORKERS", 4),
		AgentsFile:    getEnv("AGENTS_FILE", ""),
	}

	return cfg
}

// Validate checks the policy constants and the settings the chosen store driver needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL not set"))
		}
	case StoreDriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH not set"))
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap))
	}
	if c.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("EMBED_BATCH_SIZE must be positive, got %d", c.EmbedBatchSize))
	}
	if c.EmbedMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("EMBED_MAX_ATTEMPTS must be positive, got %d", c.EmbedMaxAttempts))
	}
	if c.EmbedRatePerSec < 0 {
		errs = append(errs, fmt.Errorf("EMBED_RATE_PER_SEC must not be negative, got %g", c.EmbedRatePerSec))
	}
	if c.OCRMinCharsPerPage < 0 {
		errs = append(errs, fmt.Errorf("OCR_MIN_CHARS_PER_PAGE must not be negative, got %d", c.OCRMinCharsPerPage))
	}
	if c.RetrievalTopK <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_TOP_K must be positive, got %d", c.RetrievalTopK))
	}
	if c.RetrievalMinSimilarity < -1 || c.RetrievalMinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_MIN_SIMILARITY must be in [-1, 1], got %g", c.RetrievalMinSimilarity))
	}
	if c.IngestWorkers <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_WORKERS must be positive, got %d", c.IngestWorkers))
	}
	for name, d := range map[string]time.Duration{
		"EMBED_TIMEOUT":      c.EmbedTimeout,
		"OCR_TIMEOUT":        c.OCRTimeout,
		"GENERATION_TIMEOUT": c.GenerationTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	return errors.Join(errs...)
}

// OCRLanguageList splits OCR_LANGUAGES ("eng+deu" or "eng,deu") into tesseract language codes.
func (c *Config) OCRLanguageList() []string {
	fields := strings.FieldsFunc(c.OCRLanguages, func(r rune) bool { return r == '+' || r == ',' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
		return def
	}
	return d
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a boolean, using default %t", key, v, def)
		return def
	}
	return b
}
