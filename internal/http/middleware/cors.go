package middleware

import (
	"net/http"
	"net/url"

	"github.com/go-chi/cors"
	"github.com/straye-as/quotation-api/internal/config"
	"go.uber.org/zap"
)

func isDevelopment(environment string) bool {
	return environment == "" || environment == "development" || environment == "local"
}

// OriginOf returns scheme://host of rawURL, or "" when it is not absolute
func OriginOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// CORS returns the CORS middleware. portalOrigin, when set, is always allowed so the
// client portal can call the API even if it is missing from the configured origins.
// The request id header is always exposed.
func CORS(cfg *config.CORSConfig, environment, portalOrigin string, logger *zap.Logger) func(http.Handler) http.Handler {
	exposed := append([]string{RequestIDHeader}, cfg.ExposedHeaders...)
	options := cors.Options{
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   cfg.AllowedHeaders,
		ExposedHeaders:   exposed,
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	}

	allowed := make(map[string]bool, len(cfg.AllowedOrigins)+1)
	wildcard := false
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			wildcard = true
			continue
		}
		allowed[origin] = true
	}
	if portalOrigin != "" {
		allowed[portalOrigin] = true
	}

	switch {
	case wildcard:
		if !isDevelopment(environment) {
			logger.Warn("CORS configured with wildcard origin in non-development environment",
				zap.String("environment", environment))
		}
		options.AllowOriginFunc = func(r *http.Request, origin string) bool {
			return origin != ""
		}
	case len(cfg.AllowedOrigins) == 0 && isDevelopment(environment):
		options.AllowOriginFunc = func(r *http.Request, origin string) bool {
			return origin != ""
		}
		logger.Info("CORS configured to allow all origins in development mode")
	default:
		// An empty AllowedOrigins means "*" to go-chi/cors, so always decide through the func
		options.AllowOriginFunc = func(r *http.Request, origin string) bool {
			return allowed[origin]
		}
		if len(allowed) == 0 {
			logger.Warn("CORS configured with no allowed origins - all cross-origin requests will be denied",
				zap.String("environment", environment))
		} else {
			logger.Info("CORS configured with explicit origins",
				zap.Strings("origins", cfg.AllowedOrigins),
				zap.String("portal_origin", portalOrigin))
		}
	}

	return cors.Handler(options)
}
