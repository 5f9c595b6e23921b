// Package admin serves the operator HTTP surface: health, shard status,
// cache reads, consumer commands and metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/shardline/internal/auth"
	"github.com/danmuck/shardline/internal/cache"
	"github.com/danmuck/shardline/internal/observability"
	"github.com/danmuck/shardline/internal/protocol/session"
	"github.com/danmuck/shardline/internal/shard"
	logs "github.com/danmuck/smplog"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

const (
	Version         = "0.1.0"
	shutdownTimeout = 5 * time.Second
)

// Backend is what the admin surface reads and drives. *engine.Engine
// satisfies it.
type Backend interface {
	Started() bool
	Shards() []shard.ShardStatus
	Guild(id string) (cache.Guild, error)
	GuildsPage(token string, limit int) ([]cache.Entry[cache.Guild], string, error)
	Unavailable() []string
	SetStatus(ctx context.Context, status, activity, stream string, activityType int) error
	SetVoiceState(ctx context.Context, guildID string, channelID *string, selfMute, selfDeaf bool) error
	Disconnect(ctx context.Context, num int) (session.ResumeState, error)
	Reconnect(rs session.ResumeState) error
}

type Options struct {
	// Name labels request metrics.
	Name        string
	CORSOrigins []string
	// Token guards mutating routes with a bearer token. Empty disables the
	// guard.
	Token string
}

type Server struct {
	name     string
	backend  Backend
	router   *gin.Engine
	guard    auth.Validator
	appeared time.Time
}

func New(backend Backend, opts Options) *Server {
	observability.RegisterMetrics()
	name := opts.Name
	if name == "" {
		name = "admin"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.Component(name)))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		name:     name,
		backend:  backend,
		router:   r,
		appeared: time.Now(),
	}
	if opts.Token != "" {
		s.guard = auth.StaticToken{Token: opts.Token}
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine { return s.router }

// Run serves on addr until ctx ends, then shuts the listener down.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	logs.Infof("admin.Server.Serve listening addr=%s", ln.Addr())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	logs.Infof("admin.Server.Serve stopped")
	return nil
}

// requireToken rejects mutating requests without the admin bearer token.
func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.guard == nil {
			c.Next()
			return
		}
		if err := auth.Check(s.guard, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
