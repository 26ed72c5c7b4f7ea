package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/config"
	"go.uber.org/zap"
)

const rateLimitBody = `{"type":"rate_limited","title":"Too Many Requests","status":429,"detail":"Too many requests. Please try again later."}`

// RateLimiter applies per-minute budgets with httprate.
// Three budgets exist: anonymous callers by IP, authenticated staff by user, and the
// public client portal by IP.
type RateLimiter struct {
	cfg          *config.RateLimitConfig
	logger       *zap.Logger
	anonymous    func(http.Handler) http.Handler
	staff        func(http.Handler) http.Handler
	portal       func(http.Handler) http.Handler
	exemptIPs    map[string]bool
	exemptPaths  map[string]bool
	exemptPrefix []string
}

// NewRateLimiter builds the limiters from config
func NewRateLimiter(cfg *config.RateLimitConfig, logger *zap.Logger) *RateLimiter {
	rl := &RateLimiter{
		cfg:         cfg,
		logger:      logger,
		exemptIPs:   make(map[string]bool, len(cfg.WhitelistIPs)),
		exemptPaths: make(map[string]bool, len(cfg.WhitelistPaths)),
	}
	for _, ip := range cfg.WhitelistIPs {
		rl.exemptIPs[ip] = true
	}
	for _, path := range cfg.WhitelistPaths {
		if prefix, ok := strings.CutSuffix(path, "/*"); ok {
			rl.exemptPrefix = append(rl.exemptPrefix, prefix)
			continue
		}
		rl.exemptPaths[path] = true
	}

	portalBudget := cfg.RequestsPerMinutePortal
	if portalBudget <= 0 {
		portalBudget = cfg.RequestsPerMinute
	}

	rl.anonymous = rl.newLimiter(cfg.RequestsPerMinute, rl.keyByIP)
	rl.staff = rl.newLimiter(cfg.RequestsPerMinuteAuth, rl.keyByUserOrIP)
	rl.portal = rl.newLimiter(portalBudget, rl.keyByIP)

	logger.Info("Rate limiter initialized",
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("requests_per_minute", cfg.RequestsPerMinute),
		zap.Int("requests_per_minute_auth", cfg.RequestsPerMinuteAuth),
		zap.Int("requests_per_minute_portal", portalBudget),
		zap.Int("exempt_ips", len(cfg.WhitelistIPs)),
	)
	return rl
}

func (rl *RateLimiter) newLimiter(perMinute int, key httprate.KeyFunc) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(rl.reject),
	)
}

// guard skips limiting when disabled or for exempt callers, otherwise hands off to pick
func (rl *RateLimiter) guard(next http.Handler, checkPath bool, pick func(*http.Request) func(http.Handler) http.Handler) http.Handler {
	if !rl.cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (checkPath && rl.pathExempt(r.URL.Path)) || rl.exemptIPs[clientIP(r)] {
			next.ServeHTTP(w, r)
			return
		}
		pick(r)(next).ServeHTTP(w, r)
	})
}

// Limit budgets staff per user once authenticated, anonymous callers per IP
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return rl.guard(next, true, func(r *http.Request) func(http.Handler) http.Handler {
		if userCtx, ok := auth.FromContext(r.Context()); ok && userCtx != nil {
			return rl.staff
		}
		return rl.anonymous
	})
}

// LimitByIP budgets per client IP; used ahead of authentication, e.g. on webhooks
func (rl *RateLimiter) LimitByIP(next http.Handler) http.Handler {
	return rl.guard(next, true, func(*http.Request) func(http.Handler) http.Handler {
		return rl.anonymous
	})
}

// LimitPortal applies the portal budget. Path exemptions do not apply to the portal.
func (rl *RateLimiter) LimitPortal(next http.Handler) http.Handler {
	return rl.guard(next, false, func(*http.Request) func(http.Handler) http.Handler {
		return rl.portal
	})
}

func (rl *RateLimiter) pathExempt(path string) bool {
	if rl.exemptPaths[path] {
		return true
	}
	for _, prefix := range rl.exemptPrefix {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (rl *RateLimiter) keyByIP(r *http.Request) (string, error) {
	return "ip:" + clientIP(r), nil
}

func (rl *RateLimiter) keyByUserOrIP(r *http.Request) (string, error) {
	if userCtx, ok := auth.FromContext(r.Context()); ok && userCtx != nil {
		return "user:" + userCtx.UserID.String(), nil
	}
	return rl.keyByIP(r)
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request) {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("client_ip", clientIP(r)),
		zap.String("request_id", RequestIDFromContext(r.Context())),
	}
	if userCtx, ok := auth.FromContext(r.Context()); ok && userCtx != nil {
		fields = append(fields, zap.String("user_id", userCtx.UserID.String()))
	}
	rl.logger.Warn("rate limit exceeded", fields...)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(rateLimitBody))
}

// clientIP is the host of RemoteAddr. Behind a trusted proxy RealIP has already
// rewritten RemoteAddr from the forwarding headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
