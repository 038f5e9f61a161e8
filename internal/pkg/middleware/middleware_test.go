package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/garrec-gildas/fourmiz-app-sub004/internal/pkg/config"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/metrics"
	"github.com/garrec-gildas/fourmiz-app-sub004/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthAndRole(t *testing.T) {
	config.GlobalConfig.JWT.Secret = "0123456789abcdef0123456789abcdef"
	config.GlobalConfig.JWT.Expire = 1

	r := gin.New()
	r.POST("/assign", AuthMiddleware(), RequireRole(utils.RoleProvider), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextUserID))
	})

	t.Run("missing header", func(t *testing.T) {
		w := serve(r, httptest.NewRequest(http.MethodPost, "/assign", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/assign", nil)
		req.Header.Set("Authorization", "Token abc")
		assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
	})

	t.Run("provider allowed", func(t *testing.T) {
		token, _, err := utils.GenerateToken("F1", utils.RoleProvider)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/assign", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		w := serve(r, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "F1", w.Body.String())
	})

	t.Run("client forbidden", func(t *testing.T) {
		token, _, err := utils.GenerateToken("C1", utils.RoleClient)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/assign", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		assert.Equal(t, http.StatusForbidden, serve(r, req).Code)
	})
}

func TestRateLimitPerUser(t *testing.T) {
	limiter := NewKeyedRateLimiter(rate.Every(time.Hour), 2)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserID, c.GetHeader("X-User"))
	})
	r.POST("/assign", RateLimitMiddleware(limiter), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	hit := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/assign", nil)
		req.Header.Set("X-User", user)
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, hit("F1"))
	assert.Equal(t, http.StatusOK, hit("F1"))
	assert.Equal(t, http.StatusTooManyRequests, hit("F1"))
	// 其他 fourmiz 不受影响
	assert.Equal(t, http.StatusOK, hit("F2"))
}

func TestLoggerRequestID(t *testing.T) {
	r := gin.New()
	r.Use(LoggerMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("RequestID"))
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	w := serve(r, req)
	assert.Equal(t, "req-42", w.Body.String())
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := gin.New()
	r.Use(MetricsMiddleware(metrics.NewMetricsCollector(reg)))
	r.POST("/orders/:id/assign", func(c *gin.Context) {
		c.Status(http.StatusConflict)
	})

	serve(r, httptest.NewRequest(http.MethodPost, "/orders/a/assign", nil))
	serve(r, httptest.NewRequest(http.MethodPost, "/orders/b/assign", nil))

	count, err := testutil.GatherAndCount(reg, "http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
