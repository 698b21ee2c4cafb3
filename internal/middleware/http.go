package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"classhub/internal/models"
	"classhub/internal/rate"
	"classhub/internal/service"
	"classhub/internal/util"
)

func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()
		r = r.WithContext(WithRequestID(r.Context(), rid))
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r)
	})
}

// Authenticator resolves a bearer token to the current state of its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.User, error)
}

func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// Authn resolves the Bearer token. Token and account problems are 401 or 403;
// anything else is a server fault and is logged.
func Authn(a Authenticator, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := BearerToken(r)
			if tok == "" {
				util.WriteError(w, http.StatusUnauthorized, "unauthorized", "authentication required", RequestID(r.Context()))
				return
			}
			u, err := a.Authenticate(r.Context(), tok)
			switch {
			case errors.Is(err, service.ErrBanned):
				util.WriteError(w, http.StatusForbidden, "banned", "account is banned", RequestID(r.Context()))
				return
			case errors.Is(err, service.ErrUnauthorized):
				util.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token", RequestID(r.Context()))
				return
			case err != nil:
				log.Error("authenticate", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
				util.WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", RequestID(r.Context()))
				return
			}
			r = r.WithContext(WithUser(r.Context(), u))
			next.ServeHTTP(w, r)
		})
	}
}

// RequireLevel rejects authenticated users below min.
func RequireLevel(min int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := User(r.Context())
			if !ok || int(u.Level) < min {
				util.WriteError(w, http.StatusForbidden, "forbidden", "insufficient level", RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit fails open when the limiter backend errors.
func RateLimit(l rate.Limiter, log *zap.Logger, route string, limit int, window time.Duration, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := route + ":" + ClientIP(r, trustProxy)
			ok, err := l.Allow(r.Context(), key, limit, window)
			if err != nil {
				log.Warn("rate limiter unavailable", zap.String("route", route), zap.Error(err))
				ok = true
			}
			if !ok {
				util.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", RequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			return strings.TrimSpace(parts[0])
		}
		if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func RequestLogger(log *zap.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sr, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sr.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", RequestID(r.Context())),
				zap.String("remote_ip", ClientIP(r, trustProxy)),
			)
		})
	}
}
