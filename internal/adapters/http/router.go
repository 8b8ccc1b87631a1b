package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/adapters/db"
	"github.com/dkeye/Concord/internal/adapters/signal"
	"github.com/dkeye/Concord/internal/config"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
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

type createConferenceRequest struct {
	Moderators           []string       `json:"moderators"`
	Permissions          map[string]any `json:"permissions"`
	ModeratorPermissions map[string]any `json:"moderatorPermissions"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, repo db.ConferenceRepository,
	ctrl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ConcordSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.POST("/conference", func(c *gin.Context) {
		var req createConferenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		conf := &db.Conference{
			ID:                   uuid.NewString(),
			Moderators:           req.Moderators,
			Permissions:          req.Permissions,
			ModeratorPermissions: req.ModeratorPermissions,
			CreatedAt:            time.Now().UTC(),
		}
		if err := repo.CreateConference(c.Request.Context(), conf); err != nil {
			log.Error().Str("module", "adapters.http").Err(err).Msg("create conference")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conference"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"conferenceId": conf.ID})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
