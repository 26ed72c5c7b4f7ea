package middleware

import (
	"net/http"
	"strings"

	"github.com/straye-as/quotation-api/internal/config"
	"github.com/unrolled/secure"
)

// SecurityHeaders returns a middleware that adds security headers to responses
func SecurityHeaders(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	opts := secure.Options{
		ContentTypeNosniff:    cfg.ContentTypeNosniff,
		BrowserXssFilter:      cfg.XSSProtection != "",
		CustomBrowserXssValue: cfg.XSSProtection,
		ContentSecurityPolicy: cfg.ContentSecurityPolicy,
		ReferrerPolicy:        cfg.ReferrerPolicy,
		PermissionsPolicy:     cfg.PermissionsPolicy,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	}

	switch strings.ToUpper(cfg.FrameOptions) {
	case "":
	case "DENY":
		opts.FrameDeny = true
	default:
		opts.CustomFrameOptionsValue = cfg.FrameOptions
	}

	if cfg.EnableHSTS {
		opts.STSSeconds = int64(cfg.HSTSMaxAge)
		opts.STSIncludeSubdomains = cfg.HSTSIncludeSubdomains
		opts.STSPreload = cfg.HSTSPreload
		// TLS terminates at the load balancer
		opts.ForceSTSHeader = true
	}

	sec := secure.New(opts)

	return func(next http.Handler) http.Handler {
		return sec.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Del("X-Powered-By")
			w.Header().Del("Server")
			next.ServeHTTP(w, r)
		}))
	}
}
