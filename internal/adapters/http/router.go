package http

import (
	"context"
	"time"

	"github.com/dkeye/Mimic/internal/adapters/signal"
	"github.com/dkeye/Mimic/internal/app/orch"
	"github.com/dkeye/Mimic/internal/config"
	"github.com/dkeye/Mimic/internal/metrics"
	"github.com/dkeye/Mimic/internal/store"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// MetricsMiddleware records request count and latency per route.
func MetricsMiddleware(m *metrics.Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, st *store.Store, m *metrics.Server, signalOpts signal.Options) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	if m != nil {
		r.Use(MetricsMiddleware(m))
	}

	cookies := cookie.NewStore([]byte(cfg.Secret))
	cookies.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24, HttpOnly: true})
	r.Use(sessions.Sessions("MimicSessions", cookies))

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}
	if m != nil && cfg.MetricsPath != "" {
		r.GET(cfg.MetricsPath, gin.WrapH(m.Handler()))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Str("metrics", cfg.MetricsPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, st, m, signalOpts)
	h := &membership{store: st, orch: o, signal: ctrl}

	api := r.Group("/api")
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.DELETE("/sessions/:id", h.endSession)
	api.POST("/sessions/:id/participants", h.joinSession)
	api.GET("/sessions/:id/participants", h.listParticipants)
	api.DELETE("/participants/:id", h.leaveSession)
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(200, o.Rooms.List())
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
