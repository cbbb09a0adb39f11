package handler

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"admin-auth/internal/models"
	"admin-auth/internal/service"
	"admin-auth/internal/util"
)

type contextKey string

const (
	accountKey contextKey = "admin_account"
	tokenKey   contextKey = "admin_session_token"
)

// AccountFromContext returns the account stored by RequireSession.
func AccountFromContext(ctx context.Context) (*models.AdminAccount, bool) {
	a, ok := ctx.Value(accountKey).(*models.AdminAccount)
	return a, ok
}

func sessionTokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey).(string)
	return tok
}

// sessionToken reads the session cookie, falling back to a bearer header.
func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func clientMeta(r *http.Request) models.ClientMeta {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	ua := r.UserAgent()
	if len(ua) > 512 {
		ua = ua[:512]
	}
	return models.ClientMeta{IPAddress: ip, UserAgent: ua}
}

// RequireSession rejects requests without a valid session and stores the
// session's account in the request context.
func (h *AuthHandler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := sessionToken(r)
		account, _, err := h.auth.CurrentAccount(r.Context(), tok)
		if err != nil {
			if !service.IsInfrastructure(err) {
				h.clearCookie(w, SessionCookie, "/")
			}
			respondWithError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), accountKey, account)
		ctx = context.WithValue(ctx, tokenKey, tok)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Throttle limits requests per client IP. A failing limiter lets the request
// through.
func (h *AuthHandler) Throttle(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h.throttle == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := scope + ":" + clientMeta(r).IPAddress
			allowed, err := h.throttle.Allow(r.Context(), key)
			if err != nil {
				util.Warn("Throttle unavailable, admitting request", util.String("scope", scope), util.ErrorField(err))
			} else if !allowed {
				w.Header().Set("Retry-After", "60")
				respondWithError(w, r, service.ErrThrottled)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// trustedProxies holds the networks whose forwarding headers are believed.
// Empty means every request is answered by its socket peer address.
type trustedProxies []netip.Prefix

func (p trustedProxies) contains(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// realIP rewrites RemoteAddr from X-Forwarded-For / X-Real-IP only for
// requests arriving from a trusted proxy, so the throttle key cannot be
// chosen by the client.
func (p trustedProxies) realIP(next http.Handler) http.Handler {
	forwarded := middleware.RealIP(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(p) > 0 && p.contains(r.RemoteAddr) {
			forwarded.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireHTTPS rejects any request that wasn't made over TLS or forwarded
// as https by a trusted proxy.
func (p trustedProxies) requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viaProxy := r.Header.Get("X-Forwarded-Proto") == "https" && p.contains(r.RemoteAddr)
		if r.TLS == nil && !viaProxy {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired) // 426
			w.Write([]byte(`{"success":false,"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
