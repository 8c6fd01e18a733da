package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillapp/quill-server/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		RateLimitAPIPublic: "2-M",
		RateLimitAPIRooms:  "2-M",
		RateLimitWsIP:      "2-M",
	}
}

func TestNewRateLimiter_MemoryFallback(t *testing.T) {
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)
	assert.NotNil(t, rl)
}

func TestPublicMiddleware_AllowsUnderLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/user/token", nil)

	rl.Public()(c)

	assert.False(t, c.IsAborted())
	assert.NotEqual(t, 429, w.Code)
}

func TestPublicMiddleware_BlocksOverLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	var lastCode int
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest("POST", "/user/token", nil)
		c.Request.RemoteAddr = "10.0.0.1:1234"

		rl.Public()(c)
		lastCode = w.Code
	}

	assert.Equal(t, 429, lastCode)
}

func TestCheckWebSocket_AllowsUnderLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, err := NewRateLimiter(testConfig(), nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/room/1", nil)

	assert.True(t, rl.CheckWebSocket(c))
}
