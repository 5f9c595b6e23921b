package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/shardline/internal/cache"
	"github.com/danmuck/shardline/internal/engine"
	"github.com/danmuck/shardline/internal/protocol/session"
	"github.com/danmuck/shardline/internal/shard"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxPageSize    = 500
	commandTimeout = 10 * time.Second
)

type statusRequest struct {
	Status       string `json:"status"`
	Activity     string `json:"activity"`
	Stream       string `json:"stream"`
	ActivityType int    `json:"type"`
}

type voiceRequest struct {
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.appeared).String(),
			"component": s.name,
			"version":   Version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		shards := s.backend.Shards()
		ready := s.backend.Started() && len(shards) > 0
		for _, st := range shards {
			if st.State != session.StateReady.String() {
				ready = false
			}
		}
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"ready":     ready,
			"shards":    len(shards),
			"uptime":    time.Since(s.appeared).String(),
			"component": s.name,
			"version":   Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/shards", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"shards": s.backend.Shards()})
	})

	r.GET("/guilds", func(c *gin.Context) {
		limit := engine.DefaultPageSize
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxPageSize {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxPageSize)})
				return
			}
			limit = n
		}
		page, next, err := s.backend.GuildsPage(c.Query("cursor"), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		guilds := make([]cache.Guild, 0, len(page))
		for _, e := range page {
			guilds = append(guilds, e.Value)
		}
		c.JSON(http.StatusOK, gin.H{"guilds": guilds, "next": next})
	})

	r.GET("/guilds/:id", func(c *gin.Context) {
		g, err := s.backend.Guild(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, g)
	})

	r.GET("/unavailable", func(c *gin.Context) {
		ids := s.backend.Unavailable()
		if ids == nil {
			ids = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"guilds": ids})
	})

	cmd := r.Group("/", s.requireToken())

	cmd.POST("/status", func(c *gin.Context) {
		var req statusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
		defer cancel()
		if err := s.backend.SetStatus(ctx, req.Status, req.Activity, req.Stream, req.ActivityType); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	cmd.POST("/guilds/:id/voice", func(c *gin.Context) {
		var req voiceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
		defer cancel()
		if err := s.backend.SetVoiceState(ctx, c.Param("id"), req.ChannelID, req.SelfMute, req.SelfDeaf); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	cmd.POST("/shards/:shard/disconnect", func(c *gin.Context) {
		num, err := strconv.Atoi(c.Param("shard"))
		if err != nil || num < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "shard must be a positive shard number"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
		defer cancel()
		rs, err := s.backend.Disconnect(ctx, num)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "resume": rs})
	})

	cmd.POST("/shards/reconnect", func(c *gin.Context) {
		var rs session.ResumeState
		if err := c.ShouldBindJSON(&rs); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.backend.Reconnect(rs); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "reconnecting", "shard": rs.ShardID + 1})
	})
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, shard.ErrGuildNotRoutable),
		errors.Is(err, shard.ErrShardNotRunning),
		errors.Is(err, shard.ErrShardExists),
		errors.Is(err, session.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, cache.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, cache.ErrInvalidPosition),
		errors.Is(err, shard.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotStarted),
		errors.Is(err, shard.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
