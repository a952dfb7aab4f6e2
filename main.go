package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"kanban-api/api"
	"kanban-api/domain"
	"kanban-api/storage"
	"kanban-api/stream"
)

func main() {
	if envBool("DEBUG") {
		log.SetLevel(log.DebugLevel)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	boardsTable := os.Getenv("BOARDS_TABLE")
	listsTable := os.Getenv("LISTS_TABLE")
	cardsTable := os.Getenv("CARDS_TABLE")
	if connStr == "" || boardsTable == "" || listsTable == "" || cardsTable == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, boardsTable, listsTable, cardsTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts := redisOptions(redisConn)
	redisOpts.PoolSize = envInt("REDIS_POOL_SIZE", 10*runtime.GOMAXPROCS(0))
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	cache := storage.NewCache(domain.NewBoardView(store), rc, envDur("VIEW_CACHE_TTL", 30*time.Second))
	channel := envOr("BOARD_CHANNEL", "board-updates")
	notifiers := api.Notifiers{cache, stream.NewPublisher(rc, channel)}
	if queueName := os.Getenv("BOARD_EVENTS_QUEUE"); queueName != "" {
		qn, err := storage.NewQueueNotifier(connStr, queueName, envDur("BOARD_EVENTS_TTL", 0))
		if err != nil {
			log.Fatalf("board events queue: %v", err)
		}
		notifiers = append(notifiers, qn)
	}

	hub := stream.NewHub()
	go hub.Listen(ctx, rc, channel)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(envFloat("TRACE_SAMPLE_RATIO", 1)))),
	)
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	auth, err := api.NewAuth(authOptions())
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.HeaderIdempotencyKey},
	}))
	e.Use(api.GzipRequestMiddleware())
	if envBool("PPROF_ENABLED") {
		pprof.Register(e)
	}

	logger := log.StandardLogger()
	api.Register(e, api.Config{
		Store:    store,
		View:     cache,
		Auth:     auth,
		Notifier: notifiers,
		Deduper:  api.NewRedisDeduper(rc, envDur("DEDUPER_TTL", 24*time.Hour)),
		Streams:  hub,
	}, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}

// authOptions picks HS256 shared-secret auth for local runs and tests, and
// Auth0 JWKS otherwise.
func authOptions() api.AuthOptions {
	if os.Getenv("LOCAL_AUTH_MODE") != "" || os.Getenv("AUTH0_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			log.Fatal("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1 or LOCAL_AUTH_MODE is set")
		}
		return api.AuthOptions{
			Audience:   os.Getenv("AUTH0_AUDIENCE"),
			HMACSecret: []byte(secret),
		}
	}

	jwtAudience := os.Getenv("AUTH0_AUDIENCE")
	authDomain := os.Getenv("AUTH0_DOMAIN")
	if jwtAudience == "" || authDomain == "" {
		log.Fatal("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", authDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return api.AuthOptions{
		JWKS:        jwks,
		Audience:    jwtAudience,
		Issuer:      "https://" + authDomain + "/",
		KeyCacheTTL: envDur("JWKS_CACHE_TTL", api.DefaultJWKSCacheTTL),
	}
}
