// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, route handlers and the realtime gateway. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, logging with
// redaction, panic recovery, metrics, compression, CORS, security headers,
// identity, idempotency and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/workfair-chat-backend/internal/config"
	"github.com/tbourn/workfair-chat-backend/internal/http/handlers"
	"github.com/tbourn/workfair-chat-backend/internal/http/middleware"
	"github.com/tbourn/workfair-chat-backend/internal/realtime"
	"github.com/tbourn/workfair-chat-backend/internal/repo"
	"github.com/tbourn/workfair-chat-backend/internal/services"
	"github.com/tbourn/workfair-chat-backend/internal/translate"

	_ "github.com/tbourn/workfair-chat-backend/docs" // swagger spec registration
)

// Deps are the runtime components the routes are bound to. Hub and Gateway
// may be nil, which disables broadcasting and the websocket route.
type Deps struct {
	DB       *gorm.DB
	Provider translate.Provider
	Detector translate.Detector
	Hub      *realtime.Hub
	Gateway  *realtime.Gateway
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger (request-scoped logger)
//  4. Recovery
//  5. Metrics
//  6. Gzip (never on websocket routes)
//  7. CORS and security headers
//
// API routes then add body limits, Identity, idempotency validation and the
// rate limiter, in that order, so replays can bypass limiting. The websocket
// route gets Identity only.
func RegisterRoutes(r *gin.Engine, cfg config.Config, deps Deps) {
	r.HandleMethodNotAllowed = true
	base := strings.TrimRight(cfg.APIBasePath, "/")
	wsPrefix := base + "/ws/"

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{wsPrefix, "/metrics"})))
	r.Use(corsMiddleware(cfg.CORS))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(deps.DB))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/provider
	convSvc := &services.ConversationService{DB: deps.DB}
	msgSvc := &services.MessageService{
		DB:           deps.DB,
		Detector:     deps.Detector,
		MaxTextRunes: cfg.MaxMessageRunes,
	}
	trSvc := &services.TranslationService{
		DB:           deps.DB,
		Provider:     deps.Provider,
		MaxTextRunes: cfg.MaxMessageRunes,
	}

	var (
		pub handlers.Publisher
		ws  handlers.SocketServer
	)
	if deps.Hub != nil {
		pub = deps.Hub
	}
	if deps.Gateway != nil {
		ws = deps.Gateway
	}
	h := handlers.New(convSvc, msgSvc, trSvc, pub, ws)
	if cfg.IdempotencyTTL > 0 {
		h.IdempotencyTTL = cfg.IdempotencyTTL
	}

	identity := middleware.Identity(middleware.IdentityOptions{Secret: cfg.JWTSecret})
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := groupWithPrefix(r, base)
	api.Use(
		limitBody(1<<20),
		identity,
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(deps.DB)),
		rl.Handler(),
	)
	{
		api.POST("/conversations", h.CreateConversation)
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id", h.GetConversation)
		api.DELETE("/conversations/:id", h.DeleteConversation)

		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/messages", h.SendMessage)
		api.POST("/conversations/:id/read", h.MarkRead)

		api.POST("/messages/:id/translate", h.TranslateMessage)
	}

	// Long-lived sockets stay outside the API limiter.
	r.GET(wsPrefix+"conversations/:id", identity, h.ServeWS)
}

func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, conversationID, key string, now time.Time) (bool, error) {
		if db == nil || conversationID == "" {
			return false, nil
		}
		_, err := repo.GetIdempotency(ctx, db, userID, conversationID, key, now)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, repo.ErrNotFound):
			return false, nil
		default:
			return false, err
		}
	}
}

func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
				err = sqlDB.PingContext(ctx)
				cancel()
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "db": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// only the allowlist.
func corsMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"},
		ExposeHeaders: []string{"X-Request-ID", "ETag", middleware.HeaderIdempotencyReplayed},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.AllowedOrigins
	}
	return cors.New(c)
}

// limitBody caps request bodies at maxBytes.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
