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
	"gopkg.in/yaml.v3"

	"stocksim/internal/model"
)

// Backend is the part of the configuration shared by the API and the
// worker: storage, quotes and game rules.
type Backend struct {
	DatabaseURL   string
	DBMaxConns    int32
	StoreDriver   string
	RedisURL      string
	QuoteCacheTTL time.Duration
	QuoteSource   string
	FinnhubURL    string
	FinnhubToken  string
	FinnhubPerMin int
	QuoteTimeout  time.Duration
	RulesFile     string
	Rules         model.Rules
}

type APIConfig struct {
	Backend
	Addr            string
	SupabaseURL     string
	SupabaseAnonKey string
	RequestTimeout  time.Duration
}

type WorkerConfig struct {
	Backend
	SweepEvery       time.Duration
	RankEvery        time.Duration
	SweepParallelism int
	RankParallelism  int
	RunOnce          bool
	// MetricsAddr serves /metrics when set, e.g. ":9091".
	MetricsAddr string
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv reads a .env file from the working directory when one exists.
// Variables already set in the environment win.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("STOCKSIM_API_ADDR", ":8080")
	}

	backend, err := loadBackend()
	if err != nil {
		return APIConfig{}, err
	}
	cfg := APIConfig{
		Backend:         backend,
		Addr:            addr,
		SupabaseURL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		RequestTimeout:  envDurationDefault("STOCKSIM_REQUEST_TIMEOUT", 60*time.Second),
	}
	if cfg.SupabaseURL == "" {
		return cfg, fmt.Errorf("SUPABASE_URL is required")
	}
	if cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	backend, err := loadBackend()
	if err != nil {
		return WorkerConfig{}, err
	}
	cfg := WorkerConfig{
		Backend:          backend,
		SweepEvery:       envDurationDefault("STOCKSIM_SWEEP_EVERY", time.Minute),
		RankEvery:        envDurationDefault("STOCKSIM_RANK_EVERY", 5*time.Minute),
		SweepParallelism: envIntDefault("STOCKSIM_SWEEP_PARALLELISM", 8),
		RankParallelism:  envIntDefault("STOCKSIM_RANK_PARALLELISM", 8),
		RunOnce:          envBoolDefault("STOCKSIM_WORKER_RUN_ONCE", false),
		MetricsAddr:      strings.TrimSpace(os.Getenv("STOCKSIM_WORKER_METRICS_ADDR")),
	}
	if cfg.SweepEvery <= 0 || cfg.RankEvery <= 0 {
		return cfg, fmt.Errorf("STOCKSIM_SWEEP_EVERY and STOCKSIM_RANK_EVERY must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("STOCKSIM_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func loadBackend() (Backend, error) {
	cfg := Backend{
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:    int32(envIntDefault("STOCKSIM_DB_MAX_CONNS", 20)),
		StoreDriver:   strings.ToLower(envDefault("STOCKSIM_STORE", "postgres")),
		RedisURL:      strings.TrimSpace(os.Getenv("REDIS_URL")),
		QuoteCacheTTL: envDurationDefault("STOCKSIM_QUOTE_CACHE_TTL", 15*time.Second),
		QuoteSource:   strings.ToLower(envDefault("STOCKSIM_QUOTE_SOURCE", "finnhub")),
		FinnhubURL:    envDefault("FINNHUB_BASE_URL", "https://finnhub.io"),
		FinnhubToken:  strings.TrimSpace(os.Getenv("FINNHUB_TOKEN")),
		FinnhubPerMin: envIntDefault("FINNHUB_RATE_LIMIT_PER_MINUTE", 60),
		QuoteTimeout:  envDurationDefault("STOCKSIM_QUOTE_TIMEOUT", 5*time.Second),
		RulesFile:     strings.TrimSpace(os.Getenv("STOCKSIM_RULES_FILE")),
	}

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return cfg, fmt.Errorf("STOCKSIM_STORE must be postgres or memory, got %q", cfg.StoreDriver)
	}
	switch cfg.QuoteSource {
	case "finnhub":
		if cfg.FinnhubToken == "" {
			return cfg, fmt.Errorf("FINNHUB_TOKEN is required")
		}
	case "static":
	default:
		return cfg, fmt.Errorf("STOCKSIM_QUOTE_SOURCE must be finnhub or static, got %q", cfg.QuoteSource)
	}

	rules, err := LoadRules(cfg.RulesFile)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = rules
	return cfg, nil
}

// LoadRules overlays a YAML rules file on the default rules. An empty path
// returns the defaults.
func LoadRules(path string) (model.Rules, error) {
	rules := model.DefaultRules()
	if path == "" {
		return rules, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(b, &rules); err != nil {
		return rules, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return rules, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
