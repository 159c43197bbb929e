package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dogdollars/loyalty/internal/auth"
)

func newRouter(jwtService *auth.JWTService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	g := r.Group("/", JWT(jwtService))
	g.POST("/events", RequireRole(auth.RoleService, auth.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	g.GET("/admin", RequireRole(auth.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestJWTAndRole(t *testing.T) {
	svc := auth.NewJWTService("secret", "test", time.Hour)
	serviceToken, err := svc.Generate("flow", auth.RoleService)
	require.NoError(t, err)
	adminToken, err := svc.Generate("ops", auth.RoleAdmin)
	require.NoError(t, err)
	r := newRouter(svc)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"missing header", http.MethodPost, "/events", "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodPost, "/events", "Basic abc", http.StatusUnauthorized},
		{"bad token", http.MethodPost, "/events", "Bearer nope", http.StatusUnauthorized},
		{"service may post events", http.MethodPost, "/events", "Bearer " + serviceToken, http.StatusNoContent},
		{"service may not read admin", http.MethodGet, "/admin", "Bearer " + serviceToken, http.StatusForbidden},
		{"admin may read admin", http.MethodGet, "/admin", "Bearer " + adminToken, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			r.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
		})
	}
}

func TestAnonymousGrantsAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", Anonymous(), RequireRole(auth.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	w := httptest.NewRecorder()

	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestLoggerEchoesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))
}
