// SPDX-License-Identifier: MIT

// Package ratelimit provides token-bucket throttling for outbound source
// fetches, SSDP discovery bursts, and the control HTTP surface.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	rateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pmomusicd",
			Name:      "ratelimit_exceeded_total",
			Help:      "Total rate limit rejections",
		},
		[]string{"limit_type", "class"},
	)
)

// Config holds rate limiting configuration.
type Config struct {
	// Global limits across all callers.
	GlobalRate  rate.Limit
	GlobalBurst int

	// Per-IP limits for the control HTTP surface.
	PerIPRate  rate.Limit
	PerIPBurst int

	// Per-class limits, keyed by source/backend class, e.g. "qobuz",
	// "radioparadise", "localfiles", "ssdp_msearch".
	ClassRates map[string]rate.Limit
	ClassBurst map[string]int

	// CleanupInterval controls how often stale per-IP limiters are purged.
	// Zero selects DefaultConfig's interval.
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults for a single-host deployment.
func DefaultConfig() Config {
	return Config{
		GlobalRate:  50,
		GlobalBurst: 100,

		PerIPRate:  10,
		PerIPBurst: 20,

		ClassRates: map[string]rate.Limit{
			"qobuz":         5, // respect upstream catalog API quota
			"radioparadise": 2,
			"radiofrance":   2,
			"localfiles":    20, // local filesystem, effectively unbounded
			"ssdp_msearch":  1,  // at most one active discovery burst/sec
		},
		ClassBurst: map[string]int{
			"qobuz":         10,
			"radioparadise": 4,
			"radiofrance":   4,
			"localfiles":    40,
			"ssdp_msearch":  3,
		},

		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter manages rate limiting for source fetches and control requests.
type Limiter struct {
	config Config

	global   *rate.Limiter
	perIP    map[string]*rate.Limiter
	perClass map[string]*rate.Limiter
	mu       sync.RWMutex

	lastCleanup time.Time
}

// New creates a new rate limiter with the given config.
func New(config Config) *Limiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}
	l := &Limiter{
		config:      config,
		global:      rate.NewLimiter(config.GlobalRate, config.GlobalBurst),
		perIP:       make(map[string]*rate.Limiter),
		perClass:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}

	for class, classRate := range config.ClassRates {
		burst := config.ClassBurst[class]
		l.perClass[class] = rate.NewLimiter(classRate, burst)
	}

	return l
}

// Allow checks if a request is allowed under rate limits. class identifies
// the source/backend (e.g. "qobuz", "ssdp_msearch"); clientIP is the
// caller's IP for the control HTTP surface, empty for internal background
// tasks that have no originating IP.
func (l *Limiter) Allow(clientIP, class string) bool {
	if !l.global.Allow() {
		rateLimitExceeded.WithLabelValues("global", class).Inc()
		return false
	}

	l.mu.RLock()
	classLimiter, exists := l.perClass[class]
	l.mu.RUnlock()

	if exists && !classLimiter.Allow() {
		rateLimitExceeded.WithLabelValues("per_class", class).Inc()
		return false
	}

	if clientIP != "" {
		ipLimiter := l.getIPLimiter(clientIP)
		if !ipLimiter.Allow() {
			rateLimitExceeded.WithLabelValues("per_ip", class).Inc()
			return false
		}
	}

	l.maybeCleanup()

	return true
}

// getIPLimiter returns the rate limiter for a specific IP.
func (l *Limiter) getIPLimiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.perIP[ip]
	if !exists {
		limiter = rate.NewLimiter(l.config.PerIPRate, l.config.PerIPBurst)
		l.perIP[ip] = limiter
	}

	return limiter
}

// maybeCleanup drops all per-IP limiters once the cleanup interval elapses.
func (l *Limiter) maybeCleanup() {
	if time.Since(l.lastCleanup) < l.config.CleanupInterval {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.perIP = make(map[string]*rate.Limiter)
	l.lastCleanup = time.Now()
}

// GetClientIP extracts the real client IP from the request.
func GetClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		if idx := findComma(xff); idx > 0 {
			xff = xff[:idx]
		}
		xff = trimSpace(xff)
		if xff != "" {
			return xff
		}
	}

	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func findComma(s string) int {
	for i, c := range s {
		if c == ',' {
			return i
		}
	}
	return -1
}

func trimSpace(s string) string {
	start := 0
	end := len(s)
	for start < end && s[start] == ' ' {
		start++
	}
	for end > start && s[end-1] == ' ' {
		end--
	}
	return s[start:end]
}
