package middleware_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"homeproject-backend/internal/middleware"
)

const secret = "super-secret-jwt-token-with-at-least-32-characters"

func init() {
	gin.SetMode(gin.TestMode)
}

func sign(t *testing.T, claims jwt.MapClaims, key string, method jwt.SigningMethod) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return token
}

type stubVerifier struct {
	userID string
	err    error
	token  string
}

func (s *stubVerifier) VerifyToken(token string) (string, error) {
	s.token = token
	return s.userID, s.err
}

func newRouter(secret string, verifier middleware.TokenVerifier) *gin.Engine {
	r := gin.New()
	r.Use(middleware.AuthMiddleware(secret, verifier, zerolog.Nop()))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": middleware.UserID(c)})
	})
	return r
}

func get(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_ValidHS256Token(t *testing.T) {
	token := sign(t, jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, secret, jwt.SigningMethodHS256)

	w := get(newRouter(secret, nil), "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"user-123"}`, w.Body.String())
}

func TestAuth_Rejections(t *testing.T) {
	valid := jwt.MapClaims{"sub": "user-123", "exp": time.Now().Add(time.Hour).Unix()}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"empty token", "Bearer  "},
		{"not a jwt", "Bearer abc.def"},
		{"wrong secret", "Bearer " + sign(t, valid, "another-secret-that-is-long-enough!!", jwt.SigningMethodHS256)},
		{"wrong algorithm", "Bearer " + sign(t, valid, secret, jwt.SigningMethodHS512)},
		{"expired", "Bearer " + sign(t, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-time.Minute).Unix()}, secret, jwt.SigningMethodHS256)},
		{"no expiry", "Bearer " + sign(t, jwt.MapClaims{"sub": "u"}, secret, jwt.SigningMethodHS256)},
		{"no subject", "Bearer " + sign(t, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}, secret, jwt.SigningMethodHS256)},
	}

	r := newRouter(secret, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestAuth_RemoteVerifierFallback(t *testing.T) {
	verifier := &stubVerifier{userID: "remote-user"}
	token := sign(t, jwt.MapClaims{"sub": "ignored"}, "unknown-key", jwt.SigningMethodHS256)

	w := get(newRouter("", verifier), "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"remote-user"}`, w.Body.String())
	assert.Equal(t, token, verifier.token)

	verifier.err = errors.New("invalid JWT")
	w = get(newRouter("", verifier), "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_LogsRejectionsToInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	r := gin.New()
	r.Use(middleware.AuthMiddleware(secret, nil, logger))
	r.GET("/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	token := sign(t, jwt.MapClaims{"sub": "u", "exp": time.Now().Add(time.Hour).Unix()}, "another-secret-that-is-long-enough!!", jwt.SigningMethodHS256)
	w := get(r, "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, buf.String(), `"component":"auth"`)
	assert.Contains(t, buf.String(), "rejected token")
}

func TestAuth_NothingConfigured(t *testing.T) {
	token := sign(t, jwt.MapClaims{"sub": "u"}, secret, jwt.SigningMethodHS256)
	w := get(newRouter("", nil), "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	r := gin.New()
	r.Use(middleware.RequestLogger(zerolog.Nop()), middleware.PrometheusMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(middleware.RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(middleware.Recovery(zerolog.Nop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
