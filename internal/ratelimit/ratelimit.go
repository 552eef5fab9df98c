// Package ratelimit implements the sliding-window rate limiter consulted
// by the enforcement pipeline. A backing-store failure fails open: a
// rate-limiter outage must never cascade into a full service outage.
package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Info is returned by Check and also used to populate the standard
// X-RateLimit-* response headers.
type Info struct {
	Allowed     bool
	Limit       int
	Remaining   int
	ResetAt     time.Time
	RetryAfter  time.Duration // only meaningful when !Allowed
}

const bucketGranularity = time.Second

type bucket struct {
	key   int64
	count int
}

// Limiter is a thread-safe sliding-window rate limiter keyed by an
// arbitrary identifier string. A single in-memory instance is sufficient
// for one replica; SyncFunc lets it be backed by a shared store (e.g.
// Redis) for horizontal scale without changing the Check contract.
type Limiter struct {
	mu       sync.Mutex
	counters map[string][]bucket
	logger   *slog.Logger

	// SyncFunc, if set, is consulted instead of the in-memory map —
	// wired to a redis/go-redis backed INCR+EXPIRE implementation for
	// multi-replica deployments. A nil SyncFunc keeps pure in-process
	// behavior.
	SyncFunc func(identifier string, windowSeconds int) (count int, err error)
}

// New constructs an in-memory Limiter.
func New(logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		counters: make(map[string][]bucket),
		logger:   logger.With("component", "ratelimit.Limiter"),
	}
}

// Check increments the counter for identifier and reports whether the
// request is within limit over the trailing windowSeconds. On any
// internal error it fails open (allowed=true) and logs the failure —
// per spec, a rate-limiter fault must never deny a request.
func (l *Limiter) Check(identifier string, limit, windowSeconds int) (info Info) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("rate limiter panicked, failing open", "panic", r, "identifier", identifier)
			info = Info{Allowed: true, Limit: limit, Remaining: limit}
		}
	}()

	if limit <= 0 {
		return Info{Allowed: true, Limit: limit, Remaining: 0, ResetAt: time.Now()}
	}

	now := time.Now()
	windowStart := now.Add(-time.Duration(windowSeconds) * time.Second)

	if l.SyncFunc != nil {
		count, err := l.SyncFunc(identifier, windowSeconds)
		if err != nil {
			l.logger.Error("rate limiter backing store error, failing open", "error", err, "identifier", identifier)
			return Info{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(time.Duration(windowSeconds) * time.Second)}
		}
		return l.infoFromCount(count, limit, windowSeconds, now)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	buckets := l.counters[identifier]
	buckets = pruneBefore(buckets, windowStart.Truncate(bucketGranularity).Unix())

	total := 0
	for _, b := range buckets {
		total += b.count
	}

	if total >= limit {
		l.counters[identifier] = buckets
		// The rejected attempt is the (total+1)-th, the same
		// post-increment count the SyncFunc path gets back from redis.
		return l.infoFromCount(total+1, limit, windowSeconds, now)
	}

	key := now.Truncate(bucketGranularity).Unix()
	if n := len(buckets); n > 0 && buckets[n-1].key == key {
		buckets[n-1].count++
	} else {
		buckets = append(buckets, bucket{key: key, count: 1})
	}
	l.counters[identifier] = buckets

	return l.infoFromCount(total+1, limit, windowSeconds, now)
}

func (l *Limiter) infoFromCount(count, limit, windowSeconds int, now time.Time) Info {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	resetAt := now.Add(time.Duration(windowSeconds) * time.Second)

	info := Info{
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
		Allowed:   count <= limit,
	}
	if !info.Allowed {
		info.RetryAfter = time.Duration(windowSeconds) * time.Second
	}
	return info
}

func pruneBefore(buckets []bucket, cutoff int64) []bucket {
	i := 0
	for i < len(buckets) && buckets[i].key < cutoff {
		i++
	}
	if i == 0 {
		return buckets
	}
	return append([]bucket{}, buckets[i:]...)
}

// Reset clears all tracked counters for identifier.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	delete(l.counters, identifier)
	l.mu.Unlock()
}

// Identifier computes the rate-limit identifier for a request per spec's
// precedence: api_key > user > token > ip.
func Identifier(apiKey, principalID, bearerTokenHash string, r *http.Request) string {
	switch {
	case apiKey != "":
		return "api_key:" + apiKey
	case principalID != "":
		return "user:" + principalID
	case bearerTokenHash != "":
		return "token:" + bearerTokenHash
	default:
		return "ip:" + clientIP(r)
	}
}

func clientIP(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsBypassed reports whether path should skip rate limiting entirely —
// health-check and metrics scrape endpoints always bypass, independent of
// configuration.
func IsBypassed(path string) bool {
	switch path {
	case "/healthz", "/health", "/metrics":
		return true
	default:
		return false
	}
}

// WriteHeaders sets the standard X-RateLimit-* and Retry-After response
// headers from info.
func WriteHeaders(w http.ResponseWriter, info Info) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	h.Set("X-RateLimit-Reset", strconv.Itoa(int(info.ResetAt.Unix())))
	if !info.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(info.RetryAfter.Seconds())))
	}
}
