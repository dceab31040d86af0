package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/response"
	"github.com/stemsi/examroom/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTokens map[string]*service.Claims

func (f fakeTokens) ValidateToken(tokenStr string) (*service.Claims, error) {
	if c, ok := f[tokenStr]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

type fakeSessions struct{ err error }

func (f fakeSessions) ValidateSession(context.Context, int, string) error { return f.err }

func claimsFor(id int, typ service.TokenType) *service.Claims {
	return &service.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ID: "jti", Subject: strconv.Itoa(id)},
		TokenType:        typ,
		UserID:           id,
	}
}

var tokens = fakeTokens{
	"student": claimsFor(1, service.TokenTypeStudent),
	"admin":   claimsFor(2, service.TokenTypeAdmin),
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var env struct {
		Error *response.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	return env.Error.Code
}

func TestRequireJWT(t *testing.T) {
	r := gin.New()
	ok := func(c *gin.Context) { c.String(http.StatusOK, "%d", GetClaims(c).UserID) }
	r.GET("/student", RequireStudentJWT(tokens), ok)
	r.GET("/admin", RequireAdminJWT(tokens), ok)
	r.GET("/any", RequireAnyJWT(tokens), ok)

	cases := []struct {
		path, header string
		status       int
		code         response.ErrCode
	}{
		{"/student", "", http.StatusUnauthorized, response.ErrTokenRequired},
		{"/student", "Bearer forged", http.StatusUnauthorized, response.ErrTokenInvalid},
		{"/student", "Bearer admin", http.StatusForbidden, response.ErrStudentAccessOnly},
		{"/admin", "Bearer student", http.StatusForbidden, response.ErrAdminAccessOnly},
		{"/student", "Bearer student", http.StatusOK, ""},
		{"/admin", "bearer admin", http.StatusOK, ""},
		{"/any", "Bearer student", http.StatusOK, ""},
		{"/any", "Bearer admin", http.StatusOK, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := serve(r, req)
		assert.Equal(t, tc.status, w.Code, tc.path+" "+tc.header)
		if tc.code != "" {
			assert.Equal(t, tc.code, errCode(t, w))
		}
	}

	w := serve(r, httptest.NewRequest(http.MethodGet, "/student?token=student", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Body.String())
}

func TestRequireLiveSession(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{nil, http.StatusOK},
		{service.ErrSessionInvalidated, http.StatusUnauthorized},
		{errors.New("redis down"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		r := gin.New()
		r.GET("/", RequireAnyJWT(tokens), RequireLiveSession(fakeSessions{tc.err}), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer student")
		assert.Equal(t, tc.status, serve(r, req).Code)
	}

	r := gin.New()
	r.GET("/", RequireLiveSession(fakeSessions{}))
	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
}

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(3)
	now := time.Now()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a", now))
	}
	assert.False(t, rl.Allow("a", now))
	assert.True(t, rl.Allow("b", now))

	// one token refills every 20s
	assert.True(t, rl.Allow("a", now.Add(21*time.Second)))

	rl.Cleanup(now.Add(10 * time.Minute))
	assert.Empty(t, rl.visitors)
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1).ByUser()
	r := gin.New()
	r.GET("/", RequireAnyJWT(tokens), rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return serve(r, req)
	}
	assert.Equal(t, http.StatusOK, send("student").Code)
	w := send("student")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, response.ErrRateLimitExceeded, errCode(t, w))
	assert.Equal(t, http.StatusOK, send("admin").Code)
}

func TestBrotli(t *testing.T) {
	big := strings.Repeat("exam room ", 500)
	r := gin.New()
	r.Use(BrotliWithConfig(BrotliConfig{Skipper: func(c *gin.Context) bool { return c.Request.URL.Path == "/metrics" }}))
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, big) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", func(c *gin.Context) { c.String(http.StatusOK, big) })

	get := func(path, accept string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Accept-Encoding", accept)
		return serve(r, req)
	}

	w := get("/big", "gzip, br;q=0.9")
	require.Equal(t, "br", w.Header().Get("Content-Encoding"))
	body, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, big, string(body))

	w = get("/small", "br")
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "ok", w.Body.String())

	w = get("/big", "gzip")
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, big, w.Body.String())

	w = get("/metrics", "br")
	assert.Empty(t, w.Header().Get("Content-Encoding"))
}

func TestNoStore(t *testing.T) {
	r := gin.New()
	r.GET("/", NoStore(), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(response.RequestIDMiddleware(), RequestLogger(zerolog.New(&buf)))
	r.GET("/exams/:id", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	serve(r, httptest.NewRequest(http.MethodGet, "/exams/42", nil))
	line := buf.String()
	assert.Contains(t, line, `"route":"/exams/:id"`)
	assert.Contains(t, line, `"status":418`)
}
