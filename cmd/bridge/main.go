package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"appbridge/internal/apps"
	"appbridge/internal/bridge"
	"appbridge/internal/host"
	"appbridge/internal/journal"
	"appbridge/internal/metrics"
	"appbridge/internal/middleware"
	"appbridge/internal/multipart"
	"appbridge/internal/resolver"
	"appbridge/internal/shared"
	"appbridge/internal/storage"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Flags / ENV Variables
	appRef := flag.String("app", "demo.hello", "Application reference as namespace.callable")
	searchPath := flag.String("search-path", "", "Comma separated namespace roots searched before the bare namespace")
	envPath := flag.String("env-path", "", "Isolated environment directory")
	listen := flag.String("listen", shared.DefaultListenAddr, "Listen address")
	debug := flag.Bool("debug", false, "Debug enabled")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	dsn := flag.String("dsn", "", "Invocation journal DSN, journal disabled when empty")
	redisAddr := flag.String("redis-addr", "", "Redis host:port for uploads, filesystem store used when empty")
	uploadDir := flag.String("upload-dir", "uploads", "Filesystem upload directory")
	uploadNames := flag.String("upload-names", "random", "Upload naming policy: random, sequential or original")
	errorLog := flag.String("error-log", "", "File receiving application error diagnostics")
	rateLimit := flag.Float64("rate-limit", 0, "Requests per second per client, 0 disables")
	rateBurst := flag.Int("rate-burst", 20, "Rate limiter burst")
	bodyLimit := flag.String("body-limit", shared.DefaultBodyLimit, "Maximum request body size")
	multiprocess := flag.Bool("multiprocess", false, "Set when several host processes serve the same application")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()
	defer func() {
		_ = log.Sync()
	}()

	// Error sink, shared by every invocation
	appErrors := &zapio.Writer{Log: logger.Named("app_errors"), Level: zap.ErrorLevel}
	defer appErrors.Close()
	var sink io.Writer = appErrors
	if *errorLog != "" {
		f, err := os.OpenFile(*errorLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			panic(fmt.Sprintf("failed opening error log: %s", err))
		}
		defer f.Close()
		sink = io.MultiWriter(f, appErrors)
	}
	errorSink := zapcore.Lock(zapcore.AddSync(sink))

	// Upload store
	var names storage.NamePolicy
	switch *uploadNames {
	case "random":
		names = storage.RandomNames()
	case "sequential":
		names = storage.SequentialNames("upload")
	case "original":
		names = storage.OriginalNames()
	default:
		panic(fmt.Sprintf("unknown upload naming policy %q", *uploadNames))
	}
	var uploads multipart.SinkFactory
	if *redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: "",
			DB:       0,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			panic(fmt.Sprintf("failed ping to redis db: %s", err))
		}
		defer func() {
			_ = redisClient.Close()
		}()
		uploads = storage.NewRedisStore(redisClient, storage.RedisStoreConfig{Names: names}, log)
	} else {
		fs, err := storage.NewFileStore(*uploadDir, names, log)
		if err != nil {
			panic(err)
		}
		uploads = fs
	}

	// Resolve the application once; an unresolved application never serves
	registry := resolver.NewRegistry()
	if err := apps.Register(registry, apps.Deps{Uploads: uploads, Log: log}); err != nil {
		panic(err)
	}
	resolved, err := resolver.New(resolver.Config{
		SearchPath: shared.SplitList(*searchPath),
		Reference:  *appRef,
		EnvPath:    *envPath,
	}, registry, log).Resolve()
	if err != nil {
		log.Errorw("Failed to resolve application", "error", err)
		_ = log.Sync()
		panic(err)
	}

	// Journal init
	var jrnl *journal.Journal
	if *dsn != "" {
		writeDB, err := sql.Open("mysql", *dsn)
		if err != nil {
			panic(fmt.Sprintf("failed initializing sqlClient: %s", err))
		}
		err = writeDB.Ping()
		if err != nil {
			panic(fmt.Sprintf("failed ping to sql db: %s", err))
		}
		defer func() {
			_ = writeDB.Close()
		}()
		jrnl = journal.New(writeDB, log, journal.Config{})
	}

	b := bridge.New(resolved.Application, bridge.Config{
		ErrorSink:    errorSink,
		Multithread:  true,
		Multiprocess: *multiprocess,
		Variables:    resolved.Variables,
		Observers:    []bridge.Observer{metrics.Observer{}, jrnl},
		Log:          log,
	})

	e := echo.New()
	e.HideBanner = true
	e.GET(("/ping"), func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := shared.ExtractAPIKey(c)
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}

			if apiKey != *metricsAPIKey {
				return c.String(shared.ErrUnauthorized.StatusCode, shared.ErrUnauthorized.Err.Error())
			}
			return next(c)
		}
	})
	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))
	base.Use(middleware.NewRateLimitMiddleware(middleware.NewMapLimiter(*rateLimit, *rateBurst, 0)))
	base.Use(emw.BodyLimit(*bodyLimit))

	host.NewHandler(b, log).Register(base)
	log.Infow("Serving application", "reference", resolved.Reference, "namespace", resolved.Namespace, "activated", resolved.Activated)

	go func() {
		if err := e.Start(*listen); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Wait for interrupt signal to gracefully shut down the server
	<-ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Errorw("Failed to shut down server", "error", err)
	}
	if err := jrnl.Shutdown(ctx); err != nil {
		log.Errorw("Failed to flush journal", "error", err)
	}
}
