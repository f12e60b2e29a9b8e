package admin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func defaultLimits() RateLimitConfig {
	return RateLimitConfig{LedgerRPS: 5, PagesPerScan: 10, ScanShare: 0.1, WritesPerMinute: 10}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func withAddress(r *http.Request, address string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("address", address)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestRateLimitConfig_ScanRateFollowsLedgerBudget(t *testing.T) {
	tests := []struct {
		name string
		cfg  RateLimitConfig
		want rate.Limit
	}{
		{"defaults", defaultLimits(), 0.05},
		{"faster ledger", RateLimitConfig{LedgerRPS: 20, PagesPerScan: 10, ScanShare: 0.1}, 0.2},
		{"fewer pages", RateLimitConfig{LedgerRPS: 5, PagesPerScan: 1, ScanShare: 0.1}, 0.5},
		{"zero pages treated as one", RateLimitConfig{LedgerRPS: 5, ScanShare: 0.2}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, float64(tt.want), float64(tt.cfg.scanRule().Rate), 1e-9)
			assert.Equal(t, tt.cfg.scanRule().Rate, tt.cfg.batchRule().Rate)
		})
	}
}

func TestRateLimiter_WalletScanRefills(t *testing.T) {
	l := NewRateLimiter(defaultLimits(), testLogger())
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	handler := l.WalletScan(okHandler())

	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, withAddress(httptest.NewRequest(http.MethodPost, "/api/v1/monitor/x", nil), testAddress))
		return rec
	}

	assert.Equal(t, http.StatusOK, send().Code)
	assert.Equal(t, http.StatusOK, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "20", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), testAddress)

	now = now.Add(20 * time.Second)
	assert.Equal(t, http.StatusOK, send().Code)
}

func TestRateLimiter_BatchIsShared(t *testing.T) {
	handler := NewRateLimiter(defaultLimits(), testLogger()).Batch(okHandler())

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/monitor", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("198.51.100.1:4000"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.2:4000"))
}

func TestRateLimiter_WritesPerClient(t *testing.T) {
	handler := NewRateLimiter(defaultLimits(), testLogger()).Writes(okHandler())

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/wallets/x", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, send("198.51.100.1:4000"), "request %d", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1:5000"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2:4000"))
}

func TestRateLimiter_DropsIdleBuckets(t *testing.T) {
	l := NewRateLimiter(defaultLimits(), testLogger())
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.take("scan|a", l.cfg.scanRule())
	l.take("scan|b", l.cfg.scanRule())
	assert.Equal(t, 2, l.bucketCount())

	now = now.Add(bucketIdleTTL + time.Second)
	l.take("scan|c", l.cfg.scanRule())
	assert.Equal(t, 1, l.bucketCount())
}
