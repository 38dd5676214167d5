// Package middleware provides MCP tool middleware and HTTP authentication for
// the query tool server.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/TFMV/sqlguard/cmd/server/config"
	"github.com/TFMV/sqlguard/pkg/errors"
	"github.com/TFMV/sqlguard/pkg/models"
)

// AuthMiddleware authenticates requests to the streamable HTTP transport.
type AuthMiddleware struct {
	config config.AuthConfig
	logger zerolog.Logger

	// HSKey is the HMAC key for JWT auth.
	HSKey []byte
	// Iss is the required JWT issuer. Empty disables the check.
	Iss string
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(cfg config.AuthConfig, logger zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		config: cfg,
		logger: logger,
		HSKey:  []byte(cfg.JWTSecret),
		Iss:    cfg.JWTIssuer,
	}
}

// Handler wraps next with authentication. Unauthenticated requests get a 401
// with the same {error, code} body tool errors use.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticate(r)
		if err != nil {
			m.logger.Warn().
				Err(err).
				Str("remote_addr", r.RemoteAddr).
				Str("path", r.URL.Path).
				Msg("Authentication failed")
			writeUnauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate performs authentication based on configured type.
func (m *AuthMiddleware) authenticate(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	if !m.config.Enabled {
		return ctx, nil
	}

	switch m.config.Type {
	case "bearer":
		return m.authenticateBearer(ctx, r.Header)
	case "jwt":
		return m.authenticateJWT(ctx, r.Header)
	default:
		return nil, errors.Newf(errors.CodeInternal, "unsupported auth type: %s", m.config.Type)
	}
}

// authenticateBearer compares the bearer token with the configured one.
func (m *AuthMiddleware) authenticateBearer(ctx context.Context, header http.Header) (context.Context, error) {
	token, err := bearerToken(header)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(m.config.Token)) != 1 {
		return nil, errors.New(errors.CodeUnauthenticated, "invalid token")
	}

	return context.WithValue(ctx, contextKeyUser, "bearer"), nil
}

// authenticateJWT validates an HS256 bearer JWT.
func (m *AuthMiddleware) authenticateJWT(ctx context.Context, header http.Header) (context.Context, error) {
	tokenString, err := bearerToken(header)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.Iss != "" {
		opts = append(opts, jwt.WithIssuer(m.Iss))
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return m.HSKey, nil
	}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnauthenticated, "invalid token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New(errors.CodeUnauthenticated, "token has no subject")
	}

	return context.WithValue(ctx, contextKeyUser, sub), nil
}

func bearerToken(header http.Header) (string, error) {
	authHeader := header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New(errors.CodeUnauthenticated, "missing authorization header")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errors.New(errors.CodeUnauthenticated, "invalid authorization header")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", errors.New(errors.CodeUnauthenticated, "empty bearer token")
	}
	return token, nil
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	body, _ := json.Marshal(models.ErrorResponse{
		Error: errors.GetMessage(err),
		Code:  errors.CodeUnauthenticated,
	})
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sqlguard"`)
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintln(w, string(body))
}

// Context keys for authentication
type contextKey string

const contextKeyUser contextKey = "user"

// GetUser extracts the authenticated user from context.
func GetUser(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(contextKeyUser).(string)
	return user, ok
}
