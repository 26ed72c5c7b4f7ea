package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/straye-as/quotation-api/internal/config"
	"github.com/straye-as/quotation-api/internal/domain"
	"go.uber.org/zap"
)

// Middleware authenticates staff requests by API key or bearer JWT
type Middleware struct {
	jwtValidator *JWTValidator
	apiKey       string
	logger       *zap.Logger
}

func NewMiddleware(cfg *config.Config, logger *zap.Logger) *Middleware {
	return &Middleware{
		jwtValidator: NewJWTValidator(&cfg.Auth),
		apiKey:       cfg.ApiKey.Value,
		logger:       logger,
	}
}

// systemUser is the identity behind the x-api-key header (integrations and schedulers)
func systemUser() *UserContext {
	return &UserContext{
		UserID:      SystemUserID,
		DisplayName: "System",
		Email:       "system@straye.io",
		Roles:       []domain.UserRoleType{domain.RoleAdmin, domain.RoleAPIService},
	}
}

// deny writes the same problem document the handlers use
func deny(w http.ResponseWriter, status int, detail string) {
	errType, title := domain.ErrorTypeUnauthorized, "Unauthorized"
	if status == http.StatusForbidden {
		errType, title = domain.ErrorTypeForbidden, "Forbidden"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.APIError{Type: errType, Title: title, Status: status, Detail: detail})
}

// Authenticate resolves the caller and stores a UserContext on the request
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		userCtx, authType, err := m.resolve(r)
		if err != nil {
			m.logger.Warn("authentication rejected",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("auth_type", authType),
				zap.Error(err),
			)
			deny(w, http.StatusUnauthorized, err.Error())
			return
		}

		m.logger.Debug("request authenticated",
			zap.String("path", r.URL.Path),
			zap.String("auth_type", authType),
			zap.String("user_id", userCtx.UserID.String()),
			zap.Strings("roles", userCtx.RolesAsStrings()),
			zap.Duration("auth_duration", time.Since(start)),
		)
		next.ServeHTTP(w, r.WithContext(WithUserContext(r.Context(), userCtx)))
	})
}

func (m *Middleware) resolve(r *http.Request) (*UserContext, string, error) {
	if key := r.Header.Get("x-api-key"); key != "" {
		if !m.validateAPIKey(key) {
			return nil, "api_key", ErrInvalidAPIKey
		}
		return systemUser(), "api_key", nil
	}

	token, ok := bearerToken(r)
	if !ok {
		return nil, "jwt", ErrMissingToken
	}
	userCtx, err := m.jwtValidator.ValidateToken(token)
	if err != nil {
		return nil, "jwt", err
	}
	return userCtx, "jwt", nil
}

// AuthenticateQueryToken accepts the bearer token from the access_token query
// parameter as well. Browsers cannot set headers on websocket upgrades.
func (m *Middleware) AuthenticateQueryToken(next http.Handler) http.Handler {
	authenticated := m.Authenticate(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := r.URL.Query().Get("access_token"); tok != "" && r.Header.Get("Authorization") == "" {
			r.Header.Set("Authorization", "Bearer "+tok)
		}
		authenticated.ServeHTTP(w, r)
	})
}

// RequireRole lets admins and holders of any listed role through.
// With no roles it admits admins only.
func (m *Middleware) RequireRole(roles ...domain.UserRoleType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userCtx, ok := FromContext(r.Context())
			if !ok {
				deny(w, http.StatusForbidden, "no user context")
				return
			}
			if !userCtx.IsAdmin() && (len(roles) == 0 || !userCtx.HasAnyRole(roles...)) {
				deny(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin admits admins and the API key identity
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return m.RequireRole()(next)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func (m *Middleware) validateAPIKey(key string) bool {
	if m.apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(m.apiKey)) == 1
}
