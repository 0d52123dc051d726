package http

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/dkeye/callring/internal/adapters/signal"
	"github.com/dkeye/callring/internal/app/orch"
	"github.com/dkeye/callring/internal/config"
	"github.com/dkeye/callring/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const sessionUserKey = "user_id"

const clientCookie = "ct"

// ClientTokenMiddleware gives every browser a stable cookie id. Signal sockets
// log it so several tabs of one browser can be told apart from other clients.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientCookie)
		if token == "" {
			token = uuid.NewString()
			c.SetCookie(clientCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set(signal.ClientTokenKey, token)
		c.Next()
	}
}

// DefaultUserMiddleware exposes the session's bound user id to the signal endpoint.
func DefaultUserMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid, ok := sessions.Default(c).Get(sessionUserKey).(string); ok {
			c.Set(signal.DefaultUserKey, uid)
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CallringSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(cfg.StaticPath, "index.html"))
		})
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	limiter := signal.NewRateLimiter(cfg.RateLimit, cfg.RateInterval)
	if limiter != nil {
		go limiter.PruneEvery(ctx, 10*cfg.RateInterval)
	}
	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
		Limiter:    limiter,
	})

	api := r.Group("/api")

	api.GET("/ws/signal", DefaultUserMiddleware(), func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/users/:id/presence", func(c *gin.Context) {
		uid, err := domain.ParseUserID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, ok := o.Presence(uid)
		if !ok {
			c.JSON(http.StatusNotFound, p)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	api.POST("/session", func(c *gin.Context) {
		var req struct {
			UserID string `json:"userId" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
			return
		}
		uid, err := domain.ParseUserID(req.UserID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s := sessions.Default(c)
		s.Set(sessionUserKey, string(uid))
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": uid})
	})

	return r
}
