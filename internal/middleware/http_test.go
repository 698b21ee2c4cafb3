package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"classhub/internal/models"
	"classhub/internal/rate"
	"classhub/internal/service"
)

func TestClientIPTrustProxy(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.5:12345"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.5")

	if got := ClientIP(r, false); got != "10.0.0.5" {
		t.Fatalf("unexpected direct IP: %s", got)
	}
	if got := ClientIP(r, true); got != "1.2.3.4" {
		t.Fatalf("unexpected proxied IP: %s", got)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc.def":  "abc.def",
		"bearer   xyz  ": "xyz",
		"Basic Zm9vOmJhcg==": "",
		"":               "",
	}
	for header, want := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := BearerToken(r); got != want {
			t.Fatalf("BearerToken(%q)=%q want=%q", header, got, want)
		}
	}
}

type stubAuth struct {
	user models.User
	err  error
}

func (s stubAuth) Authenticate(context.Context, string) (models.User, error) { return s.user, s.err }

func TestAuthnStatusCodes(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := User(r.Context())
		_, _ = w.Write([]byte(u.Username))
	})
	cases := []struct {
		name   string
		auth   stubAuth
		header string
		want   int
	}{
		{"missing token", stubAuth{}, "", http.StatusUnauthorized},
		{"invalid token", stubAuth{err: service.ErrUnauthorized}, "Bearer x", http.StatusUnauthorized},
		{"banned", stubAuth{err: service.ErrBanned}, "Bearer x", http.StatusForbidden},
		{"store failure", stubAuth{err: errors.New("database is locked")}, "Bearer x", http.StatusInternalServerError},
		{"ok", stubAuth{user: models.User{Username: "alice"}}, "Bearer x", http.StatusOK},
	}
	for _, tc := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		rr := httptest.NewRecorder()
		Authn(tc.auth, zap.NewNop())(ok).ServeHTTP(rr, r)
		if rr.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rr.Code)
		}
	}
}

func TestRequireLevel(t *testing.T) {
	h := RequireLevel(5)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	for level, want := range map[models.Level]int{4: http.StatusForbidden, 5: http.StatusOK, 6: http.StatusOK} {
		r := httptest.NewRequest("GET", "/", nil)
		r = r.WithContext(WithUser(r.Context(), models.User{Level: level}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, r)
		if rr.Code != want {
			t.Fatalf("level %d: expected %d, got %d", level, want, rr.Code)
		}
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := RateLimit(rate.NewMemoryLimiter(), zap.NewNop(), "login", 1, time.Minute, false)(next)
	codes := []int{}
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("POST", "/api/login", nil))
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	open := RateLimit(brokenLimiter{}, zap.NewNop(), "login", 1, time.Minute, false)(next)
	rr := httptest.NewRecorder()
	open.ServeHTTP(rr, httptest.NewRequest("POST", "/api/login", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("limiter errors should fail open, got %d", rr.Code)
	}
}
