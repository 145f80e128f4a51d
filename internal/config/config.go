// Package config loads the example server's configuration from the
// environment, with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Limiter LimiterConfig
}

type ServerConfig struct {
	Addr string
}

type StoreConfig struct {
	// Type selects the backing store, "redis" or "memcache".
	Type      string
	RedisAddr string
	RedisDB   int
	Memcache  []string
}

type LimiterConfig struct {
	Name        string
	Requests    int
	Period      time.Duration
	BanDuration time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	storeType := getEnv("STORE_TYPE", "redis")
	if storeType != "redis" && storeType != "memcache" {
		return Config{}, fmt.Errorf("STORE_TYPE must be redis or memcache, got %q", storeType)
	}

	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}

	limiter, err := loadLimiter()
	if err != nil {
		return Config{}, err
	}

	return Config{
		Server: ServerConfig{
			Addr: getEnv("SERVER_ADDR", "localhost:8080"),
		},
		Store: StoreConfig{
			Type:      storeType,
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:   redisDB,
			Memcache:  splitEnv("MEMCACHED_ADDRS", "localhost:11211"),
		},
		Limiter: limiter,
	}, nil
}

func loadLimiter() (LimiterConfig, error) {
	requests, err := intEnv("RATE_LIMIT_REQUESTS", 60)
	if err != nil {
		return LimiterConfig{}, err
	}
	periodSeconds, err := intEnv("RATE_LIMIT_PERIOD_SECONDS", 60)
	if err != nil {
		return LimiterConfig{}, err
	}
	banSeconds, err := intEnv("RATE_LIMIT_BAN_SECONDS", 0)
	if err != nil {
		return LimiterConfig{}, err
	}

	return LimiterConfig{
		Name:        getEnv("RATE_LIMIT_NAME", "HTTP"),
		Requests:    requests,
		Period:      time.Duration(periodSeconds) * time.Second,
		BanDuration: time.Duration(banSeconds) * time.Second,
	}, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func splitEnv(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	addrs := make([]string, 0, len(parts))
	for _, part := range parts {
		if addr := strings.TrimSpace(part); addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}
