package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/confessionparty/server/internal/v1/auth"
	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/config"
	"github.com/confessionparty/server/internal/v1/games/drawguess"
	"github.com/confessionparty/server/internal/v1/games/racer"
	"github.com/confessionparty/server/internal/v1/games/rps"
	"github.com/confessionparty/server/internal/v1/health"
	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/confessionparty/server/internal/v1/matchmaker"
	"github.com/confessionparty/server/internal/v1/middleware"
	"github.com/confessionparty/server/internal/v1/ratelimit"
	"github.com/confessionparty/server/internal/v1/room"
	"github.com/confessionparty/server/internal/v1/scheduler"
	"github.com/confessionparty/server/internal/v1/sessionstore"
	"github.com/confessionparty/server/internal/v1/tracing"
	"github.com/confessionparty/server/internal/v1/transport"
)

func main() {
	envPaths := []string{".env", "../../.env", "../../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	ctx := context.Background()
	logging.Info(ctx, "starting confession party server", zap.String("go_env", cfg.GoEnv))

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, terr := tracing.InitTracer(ctx, "confession-party-server", collectorAddr)
		if terr != nil {
			logging.Warn(ctx, "failed to initialize tracer, continuing without tracing", zap.Error(terr))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	store, err := cache.New(cfg.RedisEnabled, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize cache store", zap.Error(err))
	}
	defer store.Close()

	tokens, err := auth.NewTokenService(cfg.JWTSecret, auth.DefaultTokenLifetime)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize token service", zap.Error(err))
	}
	sessions := sessionstore.New(tokens)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sessions.RunSweeper(sweepCtx, 10*time.Minute)

	limiter, err := ratelimit.New(cfg, store.Client())
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	// Hub is built before its domain dependencies: room.Manager,
	// scheduler.Scheduler, and matchmaker.Matchmaker all take it as their
	// Publisher, and Hub in turn needs all three once they exist.
	allowedOrigins := splitOrigins(cfg.AllowedOrigins)
	hub := transport.NewHub(allowedOrigins)
	rooms := room.NewManager(store, hub)
	drawguess.SetWordCache(store)
	registry := scheduler.DefaultRegistry(rps.New, racer.New, drawguess.New)
	sched := scheduler.New(registry, rooms, store, hub)
	mm := matchmaker.New(rooms, sched, hub, store)
	hub.Wire(sessions, rooms, mm, sched, limiter, store)

	sched.Run()
	defer sched.Stop()

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("confession-party-server"))
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	healthHandler := health.NewHandler(store)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", hub.ServeWs)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}

	logging.Info(ctx, "server exited")
}

// splitOrigins parses the comma-separated ALLOWED_ORIGINS config value,
// trimming whitespace and dropping empty entries (spec §4.1, C1 handshake).
func splitOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
