// Package ratelimit provides fixed-window HTTP request rate limiting with
// pluggable counter storage (Redis, memcached, or a caller-supplied store),
// optional banning of repeat offenders, and composition of several
// independent limiters around one handler.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// HeaderName carries the rate limit status JSON on every response that went
// through an applicable limiter. Chained limiters append their own JSON
// object separated by newlines instead of overwriting each other.
const HeaderName = "X-Ratelimit"

const (
	defaultName   = "HTTP"
	defaultStatus = http.StatusTooManyRequests
)

// Rate bounds how many requests one classification may make per window.
type Rate struct {
	Requests int
	Period   time.Duration
}

// Predicate decides whether a limiter applies to a request.
type Predicate func(*http.Request) bool

// Classifier maps a request to the key it is limited under (an IP, an API
// token, ...). Returning "" means the request is not subject to this limiter.
type Classifier func(*http.Request) string

// Config collects the construction options for one Limiter.
type Config struct {
	// Name distinguishes this limiter in store keys, headers and logs.
	// Defaults to "HTTP".
	Name string

	// Rate is required and must have positive Requests and Period.
	Rate Rate

	// Status is the rejection status code. Defaults to 429.
	Status int

	// BanDuration, when positive, bans a classification for this long once
	// it exceeds the limit. Requires a store that can ban.
	BanDuration time.Duration

	// Exactly one of Store, Cache or Redis selects the backing store.
	Store Store
	Cache *memcache.Client
	Redis *redis.Client

	// Conditions must all hold and no Exception may hold for the limiter
	// to apply. Empty lists always hold.
	Conditions []Predicate
	Exceptions []Predicate

	// Classifier defaults to ClassifyByIP.
	Classifier Classifier

	// Logger, when set, records the first request of each violation
	// episode at info level.
	Logger *zap.Logger

	// ErrorMessage is the rejection body; an optional %d placeholder is
	// substituted with the Retry-After seconds.
	ErrorMessage string

	// Now overrides the wall clock, mainly for tests. Per-request
	// overrides via WithTimestamp take precedence.
	Now func() time.Time
}

// Limiter is an http.Handler that applies one fixed-window rate limit in
// front of a downstream handler. It holds no internal state or locks; all
// shared mutation happens through the store's atomic primitives, so a
// Limiter is safe for concurrent use.
type Limiter struct {
	next         http.Handler
	name         string
	maxRequests  int
	period       time.Duration
	status       int
	banDuration  time.Duration
	store        Store
	bans         BanStore
	conditions   []Predicate
	exceptions   []Predicate
	classify     Classifier
	logger       *zap.Logger
	errorMessage string
	now          func() time.Time
}

var _ http.Handler = &Limiter{}

// New builds a Limiter wrapping next. Configuration problems (missing rate,
// ambiguous store selection, a store that cannot ban when BanDuration is
// set) fail here, before any request is processed.
func New(next http.Handler, cfg Config) (*Limiter, error) {
	if next == nil {
		return nil, fmt.Errorf("ratelimit: downstream handler is required")
	}
	if cfg.Rate.Requests <= 0 || cfg.Rate.Period <= 0 {
		return nil, fmt.Errorf("ratelimit: rate requires positive requests and period, got %d per %v", cfg.Rate.Requests, cfg.Rate.Period)
	}

	store, err := selectStore(cfg)
	if err != nil {
		return nil, err
	}

	l := &Limiter{
		next:         next,
		name:         cfg.Name,
		maxRequests:  cfg.Rate.Requests,
		period:       cfg.Rate.Period,
		status:       cfg.Status,
		banDuration:  cfg.BanDuration,
		store:        store,
		conditions:   cfg.Conditions,
		exceptions:   cfg.Exceptions,
		classify:     cfg.Classifier,
		logger:       cfg.Logger,
		errorMessage: cfg.ErrorMessage,
		now:          cfg.Now,
	}
	if l.name == "" {
		l.name = defaultName
	}
	if l.status == 0 {
		l.status = defaultStatus
	}
	if l.classify == nil {
		l.classify = ClassifyByIP
	}
	if l.errorMessage == "" {
		l.errorMessage = fmt.Sprintf("%s rate limit exceeded. Please wait %%d seconds then retry your request.", l.name)
	}
	if l.now == nil {
		l.now = time.Now
	}

	if cfg.BanDuration > 0 {
		bans, ok := store.(BanStore)
		if !ok {
			return nil, fmt.Errorf("ratelimit: store %T cannot ban/banned, required when BanDuration is set", store)
		}
		l.bans = bans
	}

	return l, nil
}

func selectStore(cfg Config) (Store, error) {
	chosen := 0
	if cfg.Store != nil {
		chosen++
	}
	if cfg.Cache != nil {
		chosen++
	}
	if cfg.Redis != nil {
		chosen++
	}
	if chosen != 1 {
		return nil, fmt.Errorf("ratelimit: exactly one of Store, Cache or Redis is required, got %d", chosen)
	}

	switch {
	case cfg.Cache != nil:
		return NewMemcacheStore(cfg.Cache), nil
	case cfg.Redis != nil:
		return NewRedisStore(cfg.Redis), nil
	default:
		return cfg.Store, nil
	}
}

// Chain composes several limiters around next, first config outermost. Each
// limiter runs its full decision independently; a rejection short-circuits
// the rest of the chain and the downstream handler.
func Chain(next http.Handler, cfgs ...Config) (http.Handler, error) {
	handler := next
	for i := len(cfgs) - 1; i >= 0; i-- {
		limiter, err := New(handler, cfgs[i])
		if err != nil {
			return nil, err
		}
		handler = limiter
	}
	return handler, nil
}

type timestampKey struct{}

// WithTimestamp returns a context carrying an override timestamp. A request
// whose context carries one is decided as if it arrived at that instant,
// which makes window behavior deterministic in tests.
func WithTimestamp(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, timestampKey{}, t)
}

func (l *Limiter) requestTime(r *http.Request) time.Time {
	if t, ok := r.Context().Value(timestampKey{}).(time.Time); ok {
		return t
	}
	return l.now()
}

// ServeHTTP runs the decision state machine for one request: ban check
// first, then applicability, then a single atomic counter increment that
// decides between pass-through and rejection.
func (l *Limiter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := l.requestTime(r)
	classification := l.classify(r)

	// A banned classification is rejected before conditions and exceptions
	// are even consulted, and without touching the counter store.
	if l.bans != nil && classification != "" {
		banned, err := l.bans.Banned(ctx, l.name, classification)
		if err != nil {
			l.fail(w, err)
			return
		}
		if banned {
			retryAfter := ceilSeconds(l.banDuration)
			l.annotate(w, 0, now.Add(l.banDuration), true)
			l.reject(w, retryAfter)
			return
		}
	}

	if classification == "" || !l.applies(r) {
		l.next.ServeHTTP(w, r)
		return
	}

	epoch := epochFor(unixSeconds(now), l.period.Seconds())
	count, err := l.store.Increment(ctx, l.name, classification, epoch, l.period)
	if err != nil {
		l.fail(w, err)
		return
	}
	remaining := int64(l.maxRequests) - count

	if remaining >= 0 {
		l.annotate(w, int(remaining), epochTime(epoch), false)
		l.next.ServeHTTP(w, r)
		return
	}

	if l.bans != nil {
		if err := l.bans.Ban(ctx, l.name, classification, l.banDuration); err != nil {
			l.fail(w, err)
			return
		}
	}

	// Log only the request that tipped the counter past the limit, never
	// the following rejections in the same window, so sustained abuse
	// produces one line per violation episode.
	if remaining == -1 && l.logger != nil {
		l.logger.Info("rate limit exceeded",
			zap.String("name", l.name),
			zap.String("classification", classification),
			zap.Int("limit", l.maxRequests),
			zap.Duration("period", l.period))
	}

	var retryAfter int
	if l.bans != nil {
		retryAfter = ceilSeconds(l.banDuration)
	} else {
		retryAfter = int(math.Ceil(epoch - unixSeconds(now)))
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	l.annotate(w, 0, epochTime(epoch), false)
	l.reject(w, retryAfter)
}

// applies reports whether every condition holds and no exception does.
func (l *Limiter) applies(r *http.Request) bool {
	for _, condition := range l.conditions {
		if !condition(r) {
			return false
		}
	}
	for _, exception := range l.exceptions {
		if exception(r) {
			return false
		}
	}
	return true
}

type headerInfo struct {
	Name      string  `json:"name"`
	Period    float64 `json:"period"`
	Limit     int     `json:"limit"`
	Remaining int     `json:"remaining"`
	Until     string  `json:"until"`
	Global    bool    `json:"global"`
}

// annotate appends this limiter's status JSON to the X-Ratelimit header.
// Remaining is already clamped by the callers; it is never negative here.
func (l *Limiter) annotate(w http.ResponseWriter, remaining int, until time.Time, global bool) {
	info, err := json.Marshal(headerInfo{
		Name:      l.name,
		Period:    l.period.Seconds(),
		Limit:     l.maxRequests,
		Remaining: remaining,
		Until:     until.UTC().Format(time.RFC3339),
		Global:    global,
	})
	if err != nil {
		// headerInfo has no unmarshalable fields
		panic(err)
	}

	value := string(info)
	if existing := w.Header().Get(HeaderName); existing != "" {
		value = existing + "\n" + value
	}
	w.Header().Set(HeaderName, value)
}

func (l *Limiter) reject(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(l.status)
	_, _ = w.Write([]byte(l.message(retryAfter)))
}

func (l *Limiter) message(retryAfter int) string {
	if strings.Contains(l.errorMessage, "%d") {
		return fmt.Sprintf(l.errorMessage, retryAfter)
	}
	return l.errorMessage
}

// fail surfaces a store error to the caller as a plain 500. The limiter
// deliberately applies no retry or fail-open policy; deployments that want
// one should wrap the store.
func (l *Limiter) fail(w http.ResponseWriter, err error) {
	if l.logger != nil {
		l.logger.Error("rate limit store call failed", zap.Error(err))
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
