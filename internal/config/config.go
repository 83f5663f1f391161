// Package config loads runtime settings from the environment, with an
// optional .env file for local runs.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds settings shared by the binaries. Flags take these as defaults.
type Config struct {
	// Subgraph
	SubgraphURL   string
	SubgraphWSURL string
	PageSize      int
	FetchTimeout  time.Duration

	// Storage
	PostgresDSN   string
	ClickhouseDSN string
	DataDir       string

	// Engine
	Workers int

	// HTTP
	HTTPAddr    string
	MetricsAddr string

	// Logging
	LogLevel string
}

// Load reads the given .env files (default ".env") into the process
// environment without overriding variables that are already set, then
// builds a Config. Missing .env files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return &Config{
		SubgraphURL:   getEnv("SUBGRAPH_URL", ""),
		SubgraphWSURL: getEnv("SUBGRAPH_WS_URL", ""),
		PageSize:      getEnvAsInt("SUBGRAPH_PAGE_SIZE", 1000),
		FetchTimeout:  getEnvAsDuration("SUBGRAPH_TIMEOUT", 30*time.Second),

		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		ClickhouseDSN: getEnv("CLICKHOUSE_DSN", ""),
		DataDir:       getEnv("DATA_DIR", "data"),

		Workers: getEnvAsInt("WORKERS", 1),

		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}
