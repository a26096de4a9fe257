package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth_Disabled_PassesThrough(t *testing.T) {
	cfg := &AuthConfig{Enabled: false}
	h := Auth(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_MissingCredentials_Unauthorized(t *testing.T) {
	cfg := &AuthConfig{Enabled: true, JWTSecret: "secret"}
	h := Auth(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_ValidAPIKey_Allowed(t *testing.T) {
	cfg := &AuthConfig{Enabled: true, APIKeys: map[string]bool{"valid-key": true}}
	h := Auth(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_InvalidAPIKey_Unauthorized(t *testing.T) {
	cfg := &AuthConfig{Enabled: true, APIKeys: map[string]bool{"valid-key": true}}
	h := Auth(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_ValidJWT_Allowed(t *testing.T) {
	secret := "topsecret"
	cfg := &AuthConfig{Enabled: true, JWTSecret: secret}
	h := Auth(cfg)(okHandler())

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "u1",
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_MalformedAuthHeader_Unauthorized(t *testing.T) {
	cfg := &AuthConfig{Enabled: true, JWTSecret: "secret"}
	h := Auth(cfg)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/admin/health", nil)
	req.Header.Set("Authorization", "not-a-bearer-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole_NoClaims_Unauthorized(t *testing.T) {
	h := RequireRole("operator")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/admin/engine/pause", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
