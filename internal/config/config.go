package config

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Addr          string
	DBPath        string
	HistoryDBPath string
	Debug         bool

	// Outbound rate limiting: global defaults plus per-source overrides,
	// e.g. CVEMAP_RATE_NVD=0.5 CVEMAP_BURST_NVD=5.
	RateLimit    float64 // tokens per second
	Burst        float64
	SourceRates  map[string]float64
	SourceBursts map[string]float64

	// Circuit breaking and caching.
	BreakerThreshold int
	BreakerCooldown  time.Duration
	CacheTTL         time.Duration
	CacheSize        int

	// Discovery limits.
	MaxPerSource    int
	HealthTimeout   time.Duration
	DiscoverTimeout time.Duration

	// Source credentials/endpoints.
	NVDAPIKey string
}

// Known source names, used for per-source env overrides.
var knownSources = []string{"nvd", "osv", "cisa-kev", "cvedetails", "exploit-db"}

// Load parses command line flags and environment variables to populate Config.
// Flags take precedence over environment variables.
func Load() *Config {
	cfg := &Config{}

	// Defaults and Environment Variables
	cfg.Addr = getEnv("CVEMAP_ADDR", ":8080")
	cfg.DBPath = getEnv("CVEMAP_DB", getDefaultDBPath("cvemap.db"))
	cfg.HistoryDBPath = getEnv("CVEMAP_HISTORY_DB", getDefaultDBPath("history.db"))
	cfg.RateLimit = getEnvFloat("CVEMAP_RATE", 1.0)
	cfg.Burst = getEnvFloat("CVEMAP_BURST", 5)
	cfg.BreakerThreshold = int(getEnvFloat("CVEMAP_BREAKER_THRESHOLD", 5))
	cfg.BreakerCooldown = time.Duration(getEnvFloat("CVEMAP_BREAKER_COOLDOWN", 60)) * time.Second
	cfg.CacheTTL = time.Duration(getEnvFloat("CVEMAP_CACHE_TTL", 30)) * time.Minute
	cfg.CacheSize = int(getEnvFloat("CVEMAP_CACHE_SIZE", 64))
	cfg.MaxPerSource = int(getEnvFloat("CVEMAP_MAX_PER_SOURCE", 500))
	cfg.HealthTimeout = time.Duration(getEnvFloat("CVEMAP_HEALTH_TIMEOUT", 10)) * time.Second
	cfg.DiscoverTimeout = time.Duration(getEnvFloat("CVEMAP_DISCOVER_TIMEOUT", 120)) * time.Second
	cfg.NVDAPIKey = getEnv("CVEMAP_NVD_API_KEY", "")

	// Per-source rate overrides from the environment.
	cfg.SourceRates = make(map[string]float64)
	cfg.SourceBursts = make(map[string]float64)
	for _, src := range knownSources {
		key := strings.ToUpper(strings.ReplaceAll(src, "-", "_"))
		if v, ok := lookupEnvFloat("CVEMAP_RATE_" + key); ok {
			cfg.SourceRates[src] = v
		}
		if v, ok := lookupEnvFloat("CVEMAP_BURST_" + key); ok {
			cfg.SourceBursts[src] = v
		}
	}

	// Command Line Flags (Override Env)
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to SQLite record database")
	flag.StringVar(&cfg.HistoryDBPath, "history-db", cfg.HistoryDBPath, "Path to SQLite reliability history database")
	flag.Float64Var(&cfg.RateLimit, "rate", cfg.RateLimit, "Default outbound requests per second per source")
	flag.Float64Var(&cfg.Burst, "burst", cfg.Burst, "Default outbound burst size per source")
	flag.IntVar(&cfg.MaxPerSource, "max-per-source", cfg.MaxPerSource, "Maximum records returned per source")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable verbose debug logging")
	flag.StringVar(&cfg.NVDAPIKey, "nvd-api-key", cfg.NVDAPIKey, "NVD API key (raises the NVD rate limit)")

	flag.Parse()

	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if f, ok := lookupEnvFloat(key); ok {
		return f
	}
	return fallback
}

func lookupEnvFloat(key string) (float64, bool) {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// getDefaultDBPath returns the default database path in user's home directory.
// Creates the directory if it doesn't exist.
func getDefaultDBPath(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Printf("Warning: Could not get user home directory, using current dir: %v", err)
		return name
	}

	dir := filepath.Join(home, ".cvemap")
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("Warning: Could not create .cvemap directory, using current dir: %v", err)
		return name
	}

	return filepath.Join(dir, name)
}
