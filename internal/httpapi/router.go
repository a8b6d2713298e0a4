// Package httpapi implements spec.md §6.1's control-plane HTTP surface:
// the generic hook endpoint, recent-call listing, conversation snapshot
// and its SSE stream, and the global activity SSE stream. Routing is
// gin-gonic/gin, the teacher's router throughout cmd/server/main.go; CORS
// is rs/cors, wired the same way the teacher wires it there.
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"github.com/luthienresearch/luthien-proxy/internal/controlconn"
	"github.com/luthienresearch/luthien-proxy/internal/dispatcher"
	"github.com/luthienresearch/luthien-proxy/internal/events"
	"github.com/luthienresearch/luthien-proxy/internal/logger"
	"github.com/luthienresearch/luthien-proxy/internal/metrics"
	"github.com/luthienresearch/luthien-proxy/internal/pubsub"
	"github.com/luthienresearch/luthien-proxy/internal/ratelimit"
	"github.com/luthienresearch/luthien-proxy/internal/storage"
	"github.com/luthienresearch/luthien-proxy/internal/svcauth"
)

// Deps bundles everything the route handlers need, constructed once at
// startup and threaded through as an explicit value — per the design
// notes' stance against module-level globals.
type Deps struct {
	Dispatcher    *dispatcher.Dispatcher
	Streams       *dispatcher.StreamDispatcher
	Store         storage.Reader
	Publisher     *pubsub.Publisher
	ChunkIndices  *events.ChunkIndexStore
	RateLimiter   *ratelimit.Limiter
	Log           *logger.Logger
	CORSOrigins   []string
	SSEHeartbeat  time.Duration   // default 15s, per SPEC_FULL.md's supplement
	AuthVerifier  svcauth.Verifier // nil disables the callback->control-plane bearer check
}

// NewRouter builds the gin engine for spec.md §6.1's five routes plus the
// /ws control-plane WebSocket. No per-trace stream route is registered.
func NewRouter(d *Deps) *gin.Engine {
	if d.SSEHeartbeat <= 0 {
		d.SSEHeartbeat = 15 * time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ginLogger(d.Log))

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(func() gin.HandlerFunc {
		c := cors.New(cors.Options{
			AllowedOrigins:   origins,
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowCredentials: true,
		})
		return func(ctx *gin.Context) { c.HandlerFunc(ctx.Writer, ctx.Request); ctx.Next() }
	}())

	api := r.Group("/api")
	api.Use(svcauth.RequireBearer(d.AuthVerifier))
	{
		hooks := api.Group("/hooks")
		hooks.POST("/:hook_name", d.handleHook)
		hooks.GET("/recent_call_ids", d.handleRecentCallIDs)
		hooks.GET("/conversation", d.handleConversationSnapshot)
		hooks.GET("/conversation/stream", rateLimited(d.RateLimiter, "conversation_stream"), d.handleConversationStream)
	}

	activity := api.Group("/activity")
	activity.GET("/stream", rateLimited(d.RateLimiter, "activity_stream"), d.handleActivityStream)

	// §6.2's streaming WS endpoint, served alongside the HTTP routes on the
	// same gin engine/port.
	r.GET("/ws", svcauth.RequireBearer(d.AuthVerifier), controlconn.ServeWS(d.Log, d.Streams))

	return r
}

func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// rateLimited aborts with 429 when the limiter rejects the request's
// client IP for this endpoint's bucket, per §4.7.
func rateLimited(limiter *ratelimit.Limiter, bucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := bucket + ":" + c.ClientIP()
		if !limiter.TryAcquire(key) {
			metrics.RateLimitRejections.WithLabelValues(bucket).Inc()
			abortRateLimited(c, key)
			return
		}
		c.Next()
	}
}
