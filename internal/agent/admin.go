package agent

import (
	"context"
	"net/http"
	"time"

	"github.com/danmuck/debugrelay/internal/auth"
	"github.com/danmuck/debugrelay/internal/node"
	"github.com/danmuck/debugrelay/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const nodeKind = "relay"

func (o *Orchestrator) NodeID() string { return o.cfg.NodeID }
func (o *Orchestrator) Kind() string   { return nodeKind }

// HTTPRouter builds the local admin surface: status, metrics and session
// termination. Mutating routes require the admin token when one is set.
func (o *Orchestrator) HTTPRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(o.cfg.NodeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(o.cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": o.cfg.NodeID})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Status())
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	mutating := r.Group("/")
	if o.cfg.AdminToken != "" {
		mutating.Use(auth.Require(auth.StaticToken{Token: o.cfg.AdminToken}))
	}
	mutating.POST("/session/terminate", func(c *gin.Context) {
		if o.Session() == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": ErrNoSession.Error()})
			return
		}
		o.TerminateSession()
		c.JSON(http.StatusOK, gin.H{"status": "terminated"})
	})
	return r
}

// ServeAdmin serves the admin router on addr until ctx is cancelled.
func (o *Orchestrator) ServeAdmin(ctx context.Context, addr string) error {
	return node.Serve(ctx, o, addr)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
