package main

import (
	"net/http"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/jorgemanrubia/rack-ratelimit/internal/config"
	"github.com/jorgemanrubia/rack-ratelimit/internal/log"
	"github.com/jorgemanrubia/rack-ratelimit/internal/middleware"
	"github.com/jorgemanrubia/rack-ratelimit/ratelimit"
)

func HelloHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("Hello, World!"))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Logger().Fatal("Failed to load configuration", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/hello", HelloHandler)

	ipLimit := ratelimit.Config{
		Name:        cfg.Limiter.Name,
		Rate:        ratelimit.Rate{Requests: cfg.Limiter.Requests, Period: cfg.Limiter.Period},
		BanDuration: cfg.Limiter.BanDuration,
		Logger:      log.Logger(),
	}
	// A secondary limit keyed by API key; requests without one skip it.
	keyLimit := ratelimit.Config{
		Name:       "API",
		Rate:       ratelimit.Rate{Requests: cfg.Limiter.Requests * 10, Period: cfg.Limiter.Period},
		Classifier: ratelimit.ClassifyByHeader("X-Api-Key"),
		Logger:     log.Logger(),
	}

	switch cfg.Store.Type {
	case "memcache":
		client := memcache.New(cfg.Store.Memcache...)
		ipLimit.Cache = client
		keyLimit.Cache = client
	default:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Store.RedisAddr,
			DB:   cfg.Store.RedisDB,
		})
		ipLimit.Redis = client
		keyLimit.Redis = client
	}

	handler, err := ratelimit.Chain(mux, ipLimit, keyLimit)
	if err != nil {
		log.Logger().Fatal("Failed to build rate limiter chain", zap.Error(err))
	}

	// use the wrapped chain instead of mux as root handler
	log.Logger().Info("Run a server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("store", cfg.Store.Type))
	if err := http.ListenAndServe(cfg.Server.Addr, middleware.Logging(handler)); err != nil {
		log.Logger().Fatal("Failed to serve handler", zap.Error(err))
	}
}
