package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/sqlguard/cmd/server/config"
	"github.com/TFMV/sqlguard/pkg/errors"
	"github.com/TFMV/sqlguard/pkg/models"
)

func setupTestAuthMiddleware(t *testing.T, authType string) *AuthMiddleware {
	logger := zerolog.New(zerolog.NewTestWriter(t))
	cfg := config.AuthConfig{
		Enabled: true,
		Type:    authType,
	}

	switch authType {
	case "bearer":
		cfg.Token = "test-token"
	case "jwt":
		cfg.JWTSecret = "test-secret"
		cfg.JWTIssuer = "test-issuer"
	}

	return NewAuthMiddleware(cfg, logger)
}

func headerWith(authorization string) http.Header {
	h := http.Header{}
	if authorization != "" {
		h.Set("Authorization", authorization)
	}
	return h
}

func signHS256(t *testing.T, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(key)
	require.NoError(t, err)
	return tokenString
}

func TestNewAuthMiddleware(t *testing.T) {
	middleware := setupTestAuthMiddleware(t, "jwt")
	assert.True(t, middleware.config.Enabled)
	assert.Equal(t, "jwt", middleware.config.Type)
	assert.Equal(t, "test-secret", string(middleware.HSKey))
	assert.Equal(t, "test-issuer", middleware.Iss)
}

func TestAuthMiddleware_AuthenticateBearer(t *testing.T) {
	middleware := setupTestAuthMiddleware(t, "bearer")

	t.Run("successful authentication", func(t *testing.T) {
		ctx, err := middleware.authenticateBearer(context.Background(), headerWith("Bearer test-token"))
		require.NoError(t, err)

		user, ok := GetUser(ctx)
		assert.True(t, ok)
		assert.Equal(t, "bearer", user)
	})

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing authorization header", "", "missing authorization header"},
		{"wrong scheme", "Basic dGVzdDp0ZXN0", "invalid authorization header"},
		{"empty token", "Bearer   ", "empty bearer token"},
		{"wrong token", "Bearer other-token", "invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := middleware.authenticateBearer(context.Background(), headerWith(tt.header))
			require.Error(t, err)
			assert.Equal(t, errors.CodeUnauthenticated, errors.GetCode(err))
			assert.Equal(t, tt.message, errors.GetMessage(err))
		})
	}
}

func TestAuthMiddleware_AuthenticateJWT(t *testing.T) {
	middleware := setupTestAuthMiddleware(t, "jwt")

	t.Run("successful authentication with HMAC", func(t *testing.T) {
		tokenString := signHS256(t, middleware.HSKey, jwt.MapClaims{
			"sub": "testuser",
			"exp": time.Now().Add(time.Hour).Unix(),
			"iss": "test-issuer",
		})

		ctx, err := middleware.authenticateJWT(context.Background(), headerWith("Bearer "+tokenString))
		require.NoError(t, err)

		user, ok := GetUser(ctx)
		assert.True(t, ok)
		assert.Equal(t, "testuser", user)
	})

	t.Run("RSA tokens are refused", func(t *testing.T) {
		privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)

		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"sub": "testuser",
			"exp": time.Now().Add(time.Hour).Unix(),
			"iss": "test-issuer",
		})
		tokenString, err := token.SignedString(privateKey)
		require.NoError(t, err)

		_, err = middleware.authenticateJWT(context.Background(), headerWith("Bearer "+tokenString))
		require.Error(t, err)
		assert.Equal(t, errors.CodeUnauthenticated, errors.GetCode(err))
	})

	rejected := []struct {
		name   string
		header func() string
	}{
		{
			name:   "missing authorization header",
			header: func() string { return "" },
		},
		{
			name:   "invalid token",
			header: func() string { return "Bearer invalid.token.here" },
		},
		{
			name: "expired token",
			header: func() string {
				return "Bearer " + signHS256(t, middleware.HSKey, jwt.MapClaims{
					"sub": "testuser",
					"exp": time.Now().Add(-time.Hour).Unix(),
					"iss": "test-issuer",
				})
			},
		},
		{
			name: "missing expiry",
			header: func() string {
				return "Bearer " + signHS256(t, middleware.HSKey, jwt.MapClaims{
					"sub": "testuser",
					"iss": "test-issuer",
				})
			},
		},
		{
			name: "invalid issuer",
			header: func() string {
				return "Bearer " + signHS256(t, middleware.HSKey, jwt.MapClaims{
					"sub": "testuser",
					"exp": time.Now().Add(time.Hour).Unix(),
					"iss": "wrong-issuer",
				})
			},
		},
		{
			name: "wrong secret",
			header: func() string {
				return "Bearer " + signHS256(t, []byte("other-secret"), jwt.MapClaims{
					"sub": "testuser",
					"exp": time.Now().Add(time.Hour).Unix(),
					"iss": "test-issuer",
				})
			},
		},
		{
			name: "missing subject",
			header: func() string {
				return "Bearer " + signHS256(t, middleware.HSKey, jwt.MapClaims{
					"exp": time.Now().Add(time.Hour).Unix(),
					"iss": "test-issuer",
				})
			},
		},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			_, err := middleware.authenticateJWT(context.Background(), headerWith(tt.header()))
			require.Error(t, err)
			assert.Equal(t, errors.CodeUnauthenticated, errors.GetCode(err))
		})
	}
}

func TestAuthMiddleware_Handler(t *testing.T) {
	middleware := setupTestAuthMiddleware(t, "bearer")

	var seenUser string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = GetUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := middleware.Handler(next)

	t.Run("authenticated request reaches the handler", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		req.Header.Set("Authorization", "Bearer test-token")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "bearer", seenUser)
	})

	t.Run("unauthenticated request gets 401", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

		var body models.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "missing authorization header", body.Error)
		assert.Equal(t, errors.CodeUnauthenticated, body.Code)
	})
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	middleware := NewAuthMiddleware(config.AuthConfig{}, zerolog.New(zerolog.NewTestWriter(t)))

	called := false
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
