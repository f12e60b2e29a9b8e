package admin

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

const bucketIdleTTL = 10 * time.Minute

// RateLimitConfig sizes the trigger buckets. Manual scans draw on the same
// ledger request budget as the scheduler, so their rate is a share of it.
type RateLimitConfig struct {
	LedgerRPS float64
	// PagesPerScan is the worst-case number of ledger calls one wallet scan makes.
	PagesPerScan int
	// ScanShare is the fraction of LedgerRPS manual scans may consume.
	ScanShare       float64
	WritesPerMinute float64
}

// Rule is a token bucket refilled at Rate per second up to Burst.
type Rule struct {
	Rate  rate.Limit
	Burst int
}

func (c RateLimitConfig) scanRule() Rule {
	perSec := c.LedgerRPS * c.ScanShare / float64(max(c.PagesPerScan, 1))
	return Rule{Rate: rate.Limit(perSec), Burst: 2}
}

// batchRule covers triggers that fan out over every wallet. One extra cycle
// costs as much as a scheduled one, so all callers share a single bucket.
func (c RateLimitConfig) batchRule() Rule {
	return Rule{Rate: c.scanRule().Rate, Burst: 1}
}

func (c RateLimitConfig) writeRule() Rule {
	return Rule{Rate: rate.Limit(c.WritesPerMinute / 60), Burst: 3}
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// RateLimiter hands out per-route middlewares backed by keyed token buckets.
// Idle buckets are dropped lazily.
type RateLimiter struct {
	cfg    RateLimitConfig
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func NewRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg,
		logger:  logger.With("component", "ratelimit"),
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// WalletScan limits POST /monitor/{address} per wallet, whichever client asks.
func (l *RateLimiter) WalletScan(next http.Handler) http.Handler {
	return l.limit("scan", l.cfg.scanRule(), func(r *http.Request) string {
		return chi.URLParam(r, "address")
	}, next)
}

// Batch limits whole-registry triggers with one shared bucket.
func (l *RateLimiter) Batch(next http.Handler) http.Handler {
	return l.limit("batch", l.cfg.batchRule(), func(*http.Request) string { return "all" }, next)
}

// Writes limits operator edits per client address.
func (l *RateLimiter) Writes(next http.Handler) http.Handler {
	return l.limit("write", l.cfg.writeRule(), clientHost, next)
}

func (l *RateLimiter) limit(name string, rule Rule, key func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := key(r)
		wait, ok := l.take(name+"|"+k, rule)
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", chi.URLParam(r, "address"))
			l.logger.Warn("trigger rate limited", "bucket", name, "key", k, "retry_after", wait)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// take draws one token from the bucket at key. When none is available it
// returns how long until one is.
func (l *RateLimiter) take(key string, rule Rule) (time.Duration, bool) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > bucketIdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > bucketIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rule.Rate, rule.Burst)}
		l.buckets[key] = b
	}
	b.seen = now

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return time.Minute, false
	}
	if wait := res.DelayFrom(now); wait > 0 {
		res.CancelAt(now)
		return wait, false
	}
	return 0, true
}

func (l *RateLimiter) bucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// clientHost keys by the remote host. middleware.RealIP has already folded
// proxy headers into RemoteAddr.
func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
