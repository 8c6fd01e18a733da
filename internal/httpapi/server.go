// Package httpapi assembles the gin router and HTTP/WebSocket handlers.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/quillapp/quill-server/internal/authsession"
	"github.com/quillapp/quill-server/internal/cache"
	"github.com/quillapp/quill-server/internal/config"
	"github.com/quillapp/quill-server/internal/gameloop"
	"github.com/quillapp/quill-server/internal/health"
	"github.com/quillapp/quill-server/internal/middleware"
	"github.com/quillapp/quill-server/internal/ratelimit"
	"github.com/quillapp/quill-server/internal/user"
)

// UserStore is the subset of user.Repository the HTTP surface depends on;
// kept as an interface so handlers can be tested against a fake.
type UserStore interface {
	Create(u *user.User) error
	GetByUsername(username string) (*user.User, error)
	GetByID(id string) (*user.User, error)
}

// Server holds every dependency the HTTP surface needs to build handlers.
type Server struct {
	cfg      *config.Config
	cache    *cache.Client
	db       *gorm.DB
	users    UserStore
	sessions authsession.Store
	limiter  *ratelimit.RateLimiter
	health   *health.Handler
	words    []string
	gameCfg  gameloop.Config
}

// NewServer wires up a Server from already-constructed dependencies.
func NewServer(
	cfg *config.Config,
	cacheClient *cache.Client,
	db *gorm.DB,
	users UserStore,
	sessions authsession.Store,
	limiter *ratelimit.RateLimiter,
	healthHandler *health.Handler,
	words []string,
) *Server {
	return &Server{
		cfg:      cfg,
		cache:    cacheClient,
		db:       db,
		users:    users,
		sessions: sessions,
		limiter:  limiter,
		health:   healthHandler,
		words:    words,
		gameCfg: gameloop.Config{
			Rounds:      cfg.GameRounds,
			SecPerRound: time.Duration(cfg.GameSecPerRound) * time.Second,
		},
	}
}

// Router builds the gin.Engine with every route and middleware attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = []string{s.cfg.AllowedOrigins}
	corsCfg.AllowCredentials = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "Pong!"})
	})
	router.GET("/health/live", s.health.Liveness)
	router.GET("/health/ready", s.health.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	userGroup := router.Group("/user")
	userGroup.Use(s.limiter.Public())
	{
		userGroup.POST("/signup", s.handleSignup)
		userGroup.POST("/token", s.handleLogin)
		userGroup.POST("/logout", authsession.RequireAuth(s.sessions), s.handleLogout)
	}

	roomGroup := router.Group("/room")
	{
		roomGroup.POST("", authsession.RequireAuth(s.sessions), s.limiter.Rooms(), s.handleCreateRoom)
		roomGroup.GET("/:id", s.handleRoom)
	}

	return router
}
