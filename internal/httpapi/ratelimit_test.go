package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIPLimiterAllowsWithinBurst(t *testing.T) {
	l := newIPLimiter()
	for i := 0; i < rateLimitBurst; i++ {
		if !l.allow("1.2.3.4") {
			t.Fatalf("expected request %d within burst to be allowed", i)
		}
	}
}

func TestIPLimiterRejectsOverBurst(t *testing.T) {
	l := newIPLimiter()
	for i := 0; i < rateLimitBurst; i++ {
		l.allow("1.2.3.4")
	}
	if l.allow("1.2.3.4") {
		t.Fatalf("expected the request past the burst capacity to be rejected")
	}
}

func TestIPLimiterTracksPerIP(t *testing.T) {
	l := newIPLimiter()
	for i := 0; i < rateLimitBurst; i++ {
		l.allow("1.2.3.4")
	}
	if !l.allow("5.6.7.8") {
		t.Fatalf("expected a different IP to have its own independent bucket")
	}
}

func TestRateLimitMiddlewareRejectsWith429(t *testing.T) {
	handler := RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last *httptest.ResponseRecorder
	for i := 0; i < rateLimitBurst+5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/wallet/send", nil)
		req.RemoteAddr = "9.9.9.9:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		last = w
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the request past the burst to be rate limited with 429, got %d", last.Code)
	}
}

func TestRateLimitMiddlewareAllowsFirstRequest(t *testing.T) {
	handler := RateLimit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/wallet/send", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected the first request to be allowed, got %d", w.Code)
	}
}
