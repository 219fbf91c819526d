package api

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/grimoireapp/grimoire-server/internal/auth"
	domainerrors "github.com/grimoireapp/grimoire-server/internal/errors"
	"github.com/grimoireapp/grimoire-server/internal/id"
	"github.com/grimoireapp/grimoire-server/internal/logger"
	"github.com/grimoireapp/grimoire-server/internal/ratelimit"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	contextKeyUserID contextKey = "user_id"
	contextKeyEmail  contextKey = "email"
)

// withIdentity stores the verified caller in ctx.
func withIdentity(ctx context.Context, identity auth.Identity) context.Context {
	ctx = context.WithValue(ctx, contextKeyUserID, identity.Subject)
	return context.WithValue(ctx, contextKeyEmail, identity.Email)
}

// identityFrom returns the caller stored by requireAuth.
func identityFrom(ctx context.Context) (auth.Identity, bool) {
	userID, ok := ctx.Value(contextKeyUserID).(string)
	if !ok || userID == "" {
		return auth.Identity{}, false
	}
	email, _ := ctx.Value(contextKeyEmail).(string)
	return auth.Identity{Subject: userID, Email: email}, true
}

// requireAuth validates the bearer token and attaches the identity to the
// request context. Requests without a valid token never reach next.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.gate.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			s.logger.Debug("authentication failed", "path", r.URL.Path, "error", err)
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
	})
}

// authenticate is requireAuth for huma operations, which receive the header
// as an input field.
func (s *Server) authenticate(authHeader string) (auth.Identity, error) {
	return s.gate.Authenticate(authHeader)
}

// validateID rejects requests whose {id} route parameter is not a store id.
func (s *Server) validateID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := chi.URLParam(r, "id"); raw != "" && !id.HasPrefix(raw, id.PrefixBook) {
			s.writeError(w, domainerrors.Validation("Invalid ID format"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders sets the hardening headers sent with every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data: blob:")
		h.Set("Cross-Origin-Resource-Policy", "cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		next.ServeHTTP(w, r)
	})
}

// observe records request count and latency per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordRequest(r.Method, route, status, time.Since(start))
	})
}

// rateLimit applies limiter to every request under prefix, keyed by client IP.
func (s *Server) rateLimit(prefix string, limiter *ratelimit.KeyedRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, prefix) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := clientIP(r)
			if !limiter.Allow(key) {
				s.logger.Warn("rate limit exceeded",
					"ip", key,
					"path", r.URL.Path,
				)
				wait := math.Ceil(limiter.RetryAfter(key).Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(max(int(wait), 1)))
				s.writeError(w, domainerrors.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the request's remote host. middleware.RealIP has already
// folded X-Forwarded-For and X-Real-IP into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestTimeout bounds the store work of each request.
func (s *Server) requestTimeout(next http.Handler) http.Handler {
	if s.opts.RequestTimeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// scopeLogger stores a logger tagged with the request id in the context.
func (s *Server) scopeLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scoped := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(logger.NewContext(r.Context(), scoped)))
	})
}

// recoverer turns a handler panic into a logged 500 envelope.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.FromContext(r.Context(), s.logger).Error("panic serving request",
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			s.writeError(w, domainerrors.Internal(fmt.Sprint("panic: ", rec)))
		}()
		next.ServeHTTP(w, r)
	})
}
