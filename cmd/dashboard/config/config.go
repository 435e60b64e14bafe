// Package config implements the junctioncast dashboard config.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/HatiCode/junctioncast/pkg/congestion"
	"github.com/HatiCode/junctioncast/pkg/dataset"
	"github.com/HatiCode/junctioncast/pkg/storage"
)

// Config holds all dashboard configuration.
type Config struct {
	Listen     string
	GRPCListen string
	DataFile   string

	Model          string
	Trees          int
	MaxDepth       int
	MinSamplesLeaf int
	Seed           uint64
	Workers        int

	Storage       string
	ModelFile     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisKey      string
	RedisTTL      time.Duration

	LowMax      int
	MediumMax   int
	TrendWindow int

	LogFormat string
	LogLevel  string
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Environment variables are used as fallbacks when flags are not provided.
// Exits with status 1 if the resulting configuration is invalid.
func ParseFlags() *Config {
	cfg := &Config{}

	// Servers
	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC listen address (empty disables gRPC)")

	// Data
	flag.StringVar(&cfg.DataFile, "data", getEnv("DATA_FILE", "traffic.csv"), "Path to the traffic CSV file")

	// Model
	flag.StringVar(&cfg.Model, "model", getEnv("MODEL", "forest"), "Model type: forest or baseline")
	flag.IntVar(&cfg.Trees, "trees", getEnvInt("FOREST_TREES", 100), "Number of trees in the forest")
	flag.IntVar(&cfg.MaxDepth, "max-depth", getEnvInt("FOREST_MAX_DEPTH", 0), "Maximum tree depth (0 = unlimited)")
	flag.IntVar(&cfg.MinSamplesLeaf, "min-samples-leaf", getEnvInt("FOREST_MIN_SAMPLES_LEAF", 1), "Minimum samples per leaf")
	flag.Uint64Var(&cfg.Seed, "seed", getEnvUint64("FOREST_SEED", 42), "Random seed for bootstrap sampling (non-zero)")
	flag.IntVar(&cfg.Workers, "workers", getEnvInt("TRAIN_WORKERS", runtime.GOMAXPROCS(0)), "Parallel tree fitting workers")

	// Storage
	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "file"), "Model cache backend: file, redis or memory")
	flag.StringVar(&cfg.ModelFile, "model-file", getEnv("MODEL_FILE", storage.DefaultModelFile), "Model artifact path (file storage)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.StringVar(&cfg.RedisKey, "redis-key", getEnv("REDIS_KEY", storage.DefaultRedisKey), "Redis key holding the model artifact")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 0), "Redis artifact TTL (0 = no expiry)")

	// Traffic levels
	flag.IntVar(&cfg.LowMax, "low-max", getEnvInt("LOW_MAX", congestion.DefaultLowMax), "Largest vehicle count classified Low")
	flag.IntVar(&cfg.MediumMax, "medium-max", getEnvInt("MEDIUM_MAX", congestion.DefaultMediumMax), "Largest vehicle count classified Medium")
	flag.IntVar(&cfg.TrendWindow, "trend-window", getEnvInt("TREND_WINDOW", dataset.DefaultTrendWindow), "Records shown on the trend chart")

	// Logging
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.Parse()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

// Validate checks the configuration for values the dashboard cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("--listen is required"))
	}
	if c.DataFile == "" {
		errs = append(errs, errors.New("--data is required"))
	}

	switch c.Model {
	case "forest", "baseline":
	default:
		errs = append(errs, fmt.Errorf("--model must be forest or baseline, got %q", c.Model))
	}
	if c.Trees < 1 {
		errs = append(errs, fmt.Errorf("--trees must be >= 1, got %d", c.Trees))
	}
	if c.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("--max-depth must be >= 0, got %d", c.MaxDepth))
	}
	if c.MinSamplesLeaf < 1 {
		errs = append(errs, fmt.Errorf("--min-samples-leaf must be >= 1, got %d", c.MinSamplesLeaf))
	}
	if c.Model == "forest" && c.Seed == 0 {
		errs = append(errs, errors.New("--seed must be non-zero"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("--workers must be >= 1, got %d", c.Workers))
	}

	switch c.Storage {
	case "file":
		if c.ModelFile == "" {
			errs = append(errs, errors.New("--model-file is required for file storage"))
		}
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("--redis-addr is required for redis storage"))
		}
		if c.RedisKey == "" {
			errs = append(errs, errors.New("--redis-key is required for redis storage"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("--storage must be file, redis or memory, got %q", c.Storage))
	}
	if c.RedisTTL < 0 {
		errs = append(errs, fmt.Errorf("--redis-ttl must be >= 0, got %v", c.RedisTTL))
	}

	if err := c.Policy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.TrendWindow < 1 {
		errs = append(errs, fmt.Errorf("--trend-window must be >= 1, got %d", c.TrendWindow))
	}

	return errors.Join(errs...)
}

// Policy returns the traffic-level thresholds.
func (c *Config) Policy() congestion.Policy {
	return congestion.Policy{LowMax: c.LowMax, MediumMax: c.MediumMax}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		var u uint64
		if _, err := fmt.Sscanf(value, "%d", &u); err == nil {
			return u
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
