package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lalune/backend/internal/domain"
)

func TestSecurityHeadersPresent(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", "", nil)

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, value := range want {
		if got := rec.Header().Get(header); got != value {
			t.Fatalf("header %s = %q, want %q", header, got, value)
		}
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS origin header")
	}
}

func TestPreflightRequestShortCircuits(t *testing.T) {
	handler := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight returned %d, want 204", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	handler := newTestAPI(t)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
			Username: "staff",
			Password: "wrong-password",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d returned %d, want 401", i+1, rec.Code)
		}
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: "staff",
		Password: "wrong-password",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth attempt returned %d, want 429", rec.Code)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "staff", "staff123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, "", domain.OrderCreateRequest{
		ReservationID: "res-1001",
		Items:         []domain.OrderLineRequest{{MenuItemID: "dish-pho-bo", Quantity: 1}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("mutation without CSRF token returned %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, "not-a-real-token", domain.OrderCreateRequest{
		ReservationID: "res-1001",
		Items:         []domain.OrderLineRequest{{MenuItemID: "dish-pho-bo", Quantity: 1}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("mutation with bogus CSRF token returned %d, want 403", rec.Code)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	handler := newTestAPI(t)

	payload := `{"username":"staff","password":"` + strings.Repeat("a", 2<<20) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte(payload)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized body returned %d, want 400", rec.Code)
	}
}

func TestCSRFTokenValidWithinWindow(t *testing.T) {
	api := &API{csrfSecret: []byte("fixed-test-secret")}

	current := api.generateCSRFToken()
	if !api.validateCSRFToken(current) {
		t.Fatalf("freshly issued token rejected")
	}

	prevBucket := time.Now().UTC().Truncate(time.Hour).Unix() - 3600
	if !api.validateCSRFToken(api.csrfTokenForHour(prevBucket)) {
		t.Fatalf("previous hour token rejected inside 2-hour window")
	}

	staleBucket := prevBucket - 3600
	if api.validateCSRFToken(api.csrfTokenForHour(staleBucket)) {
		t.Fatalf("token two buckets old should be rejected")
	}
	if api.validateCSRFToken("") {
		t.Fatalf("empty token should be rejected")
	}
}

func TestParsePositiveLimit(t *testing.T) {
	cases := []struct {
		raw      string
		fallback int
		max      int
		want     int
	}{
		{"", 200, 500, 200},
		{"50", 200, 500, 50},
		{"9999", 200, 500, 500},
		{"-3", 200, 500, 200},
		{"abc", 200, 500, 200},
	}
	for _, tc := range cases {
		if got := parsePositiveLimit(tc.raw, tc.fallback, tc.max); got != tc.want {
			t.Fatalf("parsePositiveLimit(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestParseTimeParamFallsBack(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := parseTimeParam("not-a-time", fallback); !got.Equal(fallback) {
		t.Fatalf("invalid input should return fallback, got %s", got)
	}
	parsed := parseTimeParam("2026-03-04T05:06:07Z", fallback)
	if parsed.Year() != 2026 || parsed.Month() != time.March {
		t.Fatalf("unexpected parse result %s", parsed)
	}
}
