package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/healthvoice/retrieval/config"
	"github.com/healthvoice/retrieval/internal/embedding"
	"github.com/healthvoice/retrieval/internal/retrieval"
	"github.com/healthvoice/retrieval/internal/runtime"
	"github.com/healthvoice/retrieval/internal/storage"
)

// Run wires the full service and blocks serving HTTP until the listener fails.
func Run(cfg *appconfig.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	ctx := context.Background()

	// Chunk store: remote backend when configured, in-process fallback otherwise.
	var dsn string
	if cfg.Storage.Postgres.Configured() {
		dsn = cfg.Storage.Postgres.DSN()
		if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
			log.Printf("migrations: %v", err)
		}
	}
	st := storage.Open(ctx, storage.Options{
		PostgresDSN:  dsn,
		QueryTimeout: cfg.Storage.Postgres.Timeout,
		Collection:   cfg.Retrieval.Collection,
	}, embedding.NewLexicalEmbedder(), nil)

	// Optional redis query cache.
	var cache *retrieval.QueryCache
	if cfg.Storage.Redis.Configured() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable (%s), serving without query cache: %v", cfg.Storage.Redis.Addr(), err)
		} else {
			cache = retrieval.NewQueryCache(rdb, cfg.Retrieval.Collection, cfg.Retrieval.CacheTTL, nil)
		}
	}

	svc := retrieval.NewService(st, cache, retrieval.Options{
		MaxResults:    cfg.Retrieval.MaxResults,
		MinScore:      cfg.Retrieval.SimilarityThreshold,
		ContextBudget: cfg.Retrieval.ContextBudget,
	}, nil)

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	// Users live next to the chunks: postgres when the remote backend is up,
	// in-memory when running on the fallback store.
	var users UserStore
	if dsn != "" && !st.Fallback() {
		udb, err := sql.Open("postgres", dsn)
		if err != nil {
			return fmt.Errorf("opening user store: %w", err)
		}
		users = NewPostgresUserStore(udb)
	} else {
		users = NewMemoryUserStore()
	}

	e.GET("/healthz", func(c echo.Context) error {
		h := svc.HealthCheck(c.Request().Context())
		code := http.StatusOK
		if h.Status == storage.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, h)
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	auth := &AuthHandler{Users: users, Secret: secret}
	auth.Register(api.Group("/auth"))

	ah := &APIHandler{Svc: svc}
	ah.Register(api, secret)

	if addr == "" {
		addr = cfg.Server.Address
		if addr != "" && addr[0] != ':' {
			addr = ":" + addr
		}
		if addr == "" {
			addr = ":10001"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
