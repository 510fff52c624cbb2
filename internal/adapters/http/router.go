package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/config"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, srv *Server) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("TelecallSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/appointments/:id", srv.getAppointment)
	api.PUT("/appointments/:id", srv.putAppointment)
	api.GET("/appointments/:id/calls/latest", srv.latestCall)

	api.POST("/calls", srv.createCall)
	api.GET("/calls/:id", srv.getCall)
	api.PATCH("/calls/:id", srv.updateCall)
	api.POST("/calls/:id/candidates/:participant", srv.appendCandidate)
	api.GET("/calls/:id/candidates/:participant", srv.listCandidates)

	opts := WatchOptions{ReadLimit: cfg.ReadLimit, PingPeriod: cfg.PingPeriod}
	api.GET("/ws/calls/:id", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws watch endpoint hit")
		srv.HandleWatch(ctx, opts, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
