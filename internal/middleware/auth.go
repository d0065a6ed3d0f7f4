// Package middleware provides HTTP middleware for the application.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/step-security-bot/neucore/internal/errors"
	"github.com/step-security-bot/neucore/pkg/logger"
)

type contextKey string

const (
	characterIDKey contextKey = "characterID"
	rolesKey       contextKey = "roles"
	traceIDKey     contextKey = "traceID"
)

// Role names used by the API surface.
const (
	RoleServiceAdmin    = "service-admin"
	RoleSettingsManager = "settings"
)

// Claims are the session token claims. The subject is managed by the login
// flow, which is outside this module; the middleware only verifies and
// unpacks.
type Claims struct {
	CharacterID int64    `json:"characterId"`
	Roles       []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies the session token and loads the authenticated
// character into the request context.
type AuthMiddleware struct {
	secret    []byte
	log       *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates an authentication middleware. Requests to
// skipPaths pass through unauthenticated.
func NewAuthMiddleware(secret []byte, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}
	return &AuthMiddleware{secret: secret, log: log, skipPaths: skip}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, errors.Unauthorized("missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.respondError(w, errors.Unauthorized("invalid Authorization header format"))
			return
		}

		claims, err := m.validateToken(parts[1])
		if err != nil {
			m.log.WithError(err).Warn("token validation failed")
			m.respondError(w, errors.Unauthorized("invalid session token"))
			return
		}

		ctx := context.WithValue(r.Context(), characterIDKey, claims.CharacterID)
		ctx = context.WithValue(ctx, rolesKey, claims.Roles)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Unauthorized("unexpected signing method").WithDetails("alg", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.Unauthorized("invalid claims")
	}
	return claims, nil
}

func (m *AuthMiddleware) respondError(w http.ResponseWriter, err *errors.ServiceError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	_, _ = w.Write([]byte(`{"error":"` + err.Message + `"}`))
}

// CharacterID returns the authenticated character id from the context.
func CharacterID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(characterIDKey).(int64)
	return id, ok && id > 0
}

// HasRole reports whether the session carries the given role.
func HasRole(ctx context.Context, role string) bool {
	roles, _ := ctx.Value(rolesKey).([]string)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithCharacter returns a context carrying the authenticated character,
// mainly for tests.
func WithCharacter(ctx context.Context, characterID int64, roles ...string) context.Context {
	ctx = context.WithValue(ctx, characterIDKey, characterID)
	return context.WithValue(ctx, rolesKey, roles)
}

// TraceMiddleware assigns a trace id to every request and echoes it in the
// response.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TraceID returns the request trace id, if any.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}
