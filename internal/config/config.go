package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Cache     CacheConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Fetch     FetchConfig
	Extract   ExtractConfig
	Summary   SummaryConfig
	Scheduler SchedulerConfig
	Refdata   RefdataConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr string
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	Backend    string // "memory" or "redis"
	TTL        time.Duration
	MaxEntries int
	RedisAddr  string
	RedisDB    int
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// FetchConfig holds feed fetching configuration
type FetchConfig struct {
	FeedsFile    string
	Timeout      time.Duration
	RateLimitDur time.Duration
	UserAgent    string
}

// ExtractConfig holds full-text extraction configuration
type ExtractConfig struct {
	Endpoint     string
	APIKey       string
	Timeout      time.Duration
	BudgetCalls  int
	BudgetWindow time.Duration
}

// SummaryConfig holds summarization backend configuration.
// Backend selects the provider: "ollama", "groq", or "none".
type SummaryConfig struct {
	Backend       string
	OllamaHost    string
	OllamaModel   string
	GroqAPIKey    string
	GroqModel     string
	Timeout       time.Duration
	BatchSize     int
	RetryAttempts int
}

// SchedulerConfig holds background job intervals
type SchedulerConfig struct {
	FeedCheckInterval    time.Duration
	SummaryCheckInterval time.Duration
	TagCheckInterval     time.Duration
	Workers              int
}

// RefdataConfig holds threat reference data configuration
type RefdataConfig struct {
	ActorsSource    string
	ToolsSource     string
	RefreshInterval time.Duration
}

// Load parses flags and environment variables to build configuration
func Load() *Config {
	cfg := &Config{}

	// Define flags with defaults
	httpAddr := flag.String("http", ":8080", "HTTP server address")
	cacheTTL := flag.Duration("cache-ttl", time.Hour, "Cache TTL for extracted content")
	cacheMax := flag.Int("cache-max", 1000, "Maximum number of cache entries")
	cacheBackend := flag.String("cache-backend", "memory", "Cache backend: memory or redis")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis server address")
	rateLimitDur := flag.Duration("rate-limit", time.Second, "Minimum delay between requests to same host")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	feedsFile := flag.String("feeds-file", "feeds.yaml", "YAML file of feeds to seed on startup")
	dbHost := flag.String("db-host", "localhost", "PostgreSQL host")
	dbPort := flag.Int("db-port", 5432, "PostgreSQL port")
	dbUser := flag.String("db-user", "postgres", "PostgreSQL user")
	dbPassword := flag.String("db-password", "postgres", "PostgreSQL password")
	dbName := flag.String("db-name", "intelforge", "PostgreSQL database name")
	dbSSLMode := flag.String("db-sslmode", "disable", "PostgreSQL SSL mode")

	flag.Parse()

	// Apply environment variable overrides
	applyEnvOverrides(httpAddr, cacheTTL, cacheMax, cacheBackend, redisAddr, rateLimitDur, logLevel, feedsFile, dbHost, dbPort, dbUser, dbPassword, dbName, dbSSLMode)

	// Build config struct
	cfg.Server = ServerConfig{
		HTTPAddr: *httpAddr,
	}

	cfg.Cache = CacheConfig{
		Backend:    *cacheBackend,
		TTL:        *cacheTTL,
		MaxEntries: *cacheMax,
		RedisAddr:  *redisAddr,
		RedisDB:    envInt("REDIS_DB", 0),
	}

	cfg.Database = DatabaseConfig{
		Host:     *dbHost,
		Port:     *dbPort,
		User:     *dbUser,
		Password: *dbPassword,
		Database: *dbName,
		SSLMode:  *dbSSLMode,
	}

	cfg.Logging = LoggingConfig{
		Level: *logLevel,
	}

	cfg.Fetch = FetchConfig{
		FeedsFile:    *feedsFile,
		Timeout:      envDuration("FETCH_TIMEOUT", 30*time.Second),
		RateLimitDur: *rateLimitDur,
		UserAgent:    getEnvOrDefault("FETCH_USER_AGENT", defaultUserAgent),
	}

	cfg.Extract = loadExtractConfig()
	cfg.Summary = loadSummaryConfig()
	cfg.Scheduler = loadSchedulerConfig()
	cfg.Refdata = loadRefdataConfig()

	return cfg
}

// defaultUserAgent mimics a desktop browser. Several feed hosts serve
// 403s to clients that identify as bots.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Validate reports configuration errors that should prevent startup.
func (c *Config) Validate() error {
	if c.Extract.APIKey == "" {
		return fmt.Errorf("EXTRACT_API_KEY is required for full-text extraction")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Summary.Backend {
	case "ollama", "groq", "none":
	default:
		return fmt.Errorf("unknown summary backend %q", c.Summary.Backend)
	}
	if c.Summary.Backend == "groq" && c.Summary.GroqAPIKey == "" {
		return fmt.Errorf("GROQ_API_KEY is required when SUMMARY_BACKEND=groq")
	}
	return nil
}

func loadExtractConfig() ExtractConfig {
	return ExtractConfig{
		Endpoint:     getEnvOrDefault("EXTRACT_ENDPOINT", "https://r.jina.ai"),
		APIKey:       os.Getenv("EXTRACT_API_KEY"),
		Timeout:      envDuration("EXTRACT_TIMEOUT", 30*time.Second),
		BudgetCalls:  envInt("EXTRACT_BUDGET_CALLS", 200),
		BudgetWindow: envDuration("EXTRACT_BUDGET_WINDOW", time.Minute),
	}
}

func loadSummaryConfig() SummaryConfig {
	return SummaryConfig{
		Backend:       getEnvOrDefault("SUMMARY_BACKEND", "none"),
		OllamaHost:    getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:   getEnvOrDefault("OLLAMA_MODEL", "llama3.1"),
		GroqAPIKey:    os.Getenv("GROQ_API_KEY"),
		GroqModel:     getEnvOrDefault("GROQ_MODEL", "llama-3.1-8b-instant"),
		Timeout:       envDuration("SUMMARY_TIMEOUT", 120*time.Second),
		BatchSize:     envInt("SUMMARY_BATCH_SIZE", 10),
		RetryAttempts: envInt("SUMMARY_RETRY_ATTEMPTS", 3),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		FeedCheckInterval:    envDuration("FEED_CHECK_INTERVAL", 30*time.Minute),
		SummaryCheckInterval: envDuration("SUMMARY_CHECK_INTERVAL", 31*time.Minute),
		TagCheckInterval:     envDuration("TAG_CHECK_INTERVAL", time.Hour),
		Workers:              envInt("SCHEDULER_WORKERS", 5),
	}
}

func loadRefdataConfig() RefdataConfig {
	return RefdataConfig{
		ActorsSource:    getEnvOrDefault("REFDATA_ACTORS_SOURCE", "https://apt.etda.or.th/cgi-bin/getcard.cgi?g=all&o=j"),
		ToolsSource:     getEnvOrDefault("REFDATA_TOOLS_SOURCE", "https://apt.etda.or.th/cgi-bin/getcard.cgi?t=all&o=j"),
		RefreshInterval: envDuration("REFDATA_REFRESH_INTERVAL", 12*time.Hour),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func applyEnvOverrides(
	httpAddr *string,
	cacheTTL *time.Duration,
	cacheMax *int,
	cacheBackend *string,
	redisAddr *string,
	rateLimitDur *time.Duration,
	logLevel *string,
	feedsFile *string,
	dbHost *string,
	dbPort *int,
	dbUser *string,
	dbPassword *string,
	dbName *string,
	dbSSLMode *string,
) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		*httpAddr = v
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*cacheTTL = d
		}
	}
	if v := os.Getenv("CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*cacheMax = n
		}
	}
	if v := os.Getenv("CACHE_BACKEND"); v != "" {
		*cacheBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		*redisAddr = v
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*rateLimitDur = d
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		*logLevel = v
	}
	if v := os.Getenv("FEEDS_FILE"); v != "" {
		*feedsFile = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		*dbHost = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			*dbPort = p
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		*dbUser = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		*dbPassword = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		*dbName = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		*dbSSLMode = v
	}
}
