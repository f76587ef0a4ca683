// Command server runs the Workfair chat backend: REST API, websocket
// gateway, translation and Prometheus metrics on one listener.
//
//	@title                      Workfair Chat API
//	@version                    1.0
//	@description                Conversations, messages, read receipts and on-demand translation between job seekers and employers.
//	@BasePath                   /api/v1
//	@securityDefinitions.apikey BearerAuth
//	@in                         header
//	@name                       Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/workfair-chat-backend/internal/config"
	httpapi "github.com/tbourn/workfair-chat-backend/internal/http"
	"github.com/tbourn/workfair-chat-backend/internal/observability"
	"github.com/tbourn/workfair-chat-backend/internal/realtime"
	"github.com/tbourn/workfair-chat-backend/internal/repo"
	"github.com/tbourn/workfair-chat-backend/internal/sysutil"
	"github.com/tbourn/workfair-chat-backend/internal/translate"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		sysutil.SetupLogger("info", false, os.Stderr)
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout)
	gin.SetMode(cfg.GinMode)

	ctx, stop := sysutil.SignalContext(context.Background())
	defer stop()

	shutdownTracing, err := observability.Init(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel init")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	dsn := cfg.DBPath
	if cfg.DBDriver == config.DriverPostgres {
		dsn = cfg.DBDSN
	}
	db, err := repo.Open(cfg.DBDriver, dsn)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	detector := translate.WhatlangDetector{MinConfidence: 0.2}
	provider := translate.New(cfg.Translate, detector)

	var relay realtime.Relay = realtime.NopRelay{}
	if cfg.Realtime.RedisURL != "" {
		rr, err := realtime.NewRedisRelay(cfg.Realtime.RedisURL, cfg.Realtime.ChannelPrefix)
		if err != nil {
			log.Fatal().Err(err).Msg("redis relay")
		}
		if err := rr.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("redis ping")
		}
		relay = rr
	}
	hub := realtime.NewHub(realtime.NewRegistry(cfg.Realtime.SendTimeout), relay)
	defer func() { _ = hub.Close() }()
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("realtime relay stopped")
		}
	}()
	gateway := realtime.NewGateway(hub,
		cfg.Realtime.SendBuffer,
		cfg.Realtime.PingInterval,
		cfg.Realtime.MaxFrameBytes,
		originChecker(cfg.CORS.AllowedOrigins),
	)

	go purgeIdempotency(ctx, db, time.Hour)

	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, httpapi.Deps{
		DB:       db,
		Provider: provider,
		Detector: detector,
		Hub:      hub,
		Gateway:  gateway,
	})

	srv := &http.Server{
		Addr:              listenAddr(cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("db_driver", cfg.DBDriver).
			Str("translate_provider", provider.Name()).
			Bool("redis_relay", cfg.Realtime.RedisURL != "").
			Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// listenAddr turns PORT ("8080" or ":8080") into a listen address.
func listenAddr(port string) string {
	port = strings.TrimSpace(port)
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// purgeIdempotency deletes expired idempotency records until ctx ends.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency")
				continue
			}
			if n > 0 {
				log.Debug().Int64("rows", n).Msg("purged idempotency records")
			}
		}
	}
}

// originChecker accepts websocket upgrades from the configured CORS
// origins; an empty list or "*" accepts any origin.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
