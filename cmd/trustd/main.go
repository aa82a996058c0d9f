package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/reliefops/incidenttrust/internal/anchor"
	"github.com/reliefops/incidenttrust/internal/auth"
	"github.com/reliefops/incidenttrust/internal/bridge"
	"github.com/reliefops/incidenttrust/internal/httpapi"
	"github.com/reliefops/incidenttrust/internal/ledger"
	"github.com/reliefops/incidenttrust/internal/multisig"
	"github.com/reliefops/incidenttrust/internal/operators"
	"github.com/reliefops/incidenttrust/internal/signer"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("trustd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("trustd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("database.url", "")
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.token_ttl", "12h")
	viper.SetDefault("auth.issuer_url", "")
	viper.SetDefault("multisig.required_signatures", 3)
	viper.SetDefault("anchor.mode", "sim") // sim | http | off
	viper.SetDefault("anchor.endpoint", "")
	viper.SetDefault("anchor.schedule", "") // cron spec, e.g. "@hourly"

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Storage ──────────────────────────────────────────────────────────────
	// With no database URL the service runs fully in memory. Every timeline
	// and proposal is lost on restart; fine for demos and development.
	var (
		db            *pgxpool.Pool
		ledgerStore   ledger.Store
		proposalStore multisig.Store
		operatorRepo  operators.Repository
	)

	dbURL := viper.GetString("database.url")
	if dbURL != "" {
		var err error
		db, err = pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		ledgerStore = ledger.NewPostgresStore(db, logger)
		proposalStore = multisig.NewPostgresStore(db, logger)
		operatorRepo = operators.NewPostgresRepository(db)
	} else {
		logger.Warn("no database.url configured — running with in-memory storage")
		ledgerStore = ledger.NewMemoryStore()
		proposalStore = multisig.NewMemoryStore()
		operatorRepo = operators.NewMemoryRepository()
	}

	// ── Services ─────────────────────────────────────────────────────────────
	keys := signer.NewKeyring()

	ledgerSvc := ledger.NewService(ledgerStore, keys, logger)

	registry := multisig.NewRegistry(proposalStore, keys, logger)
	registry.SetRequiredSignatures(viper.GetInt("multisig.required_signatures"))
	registry.SetRecorder(bridge.New(ledgerSvc, logger))

	operatorSvc := operators.NewService(operatorRepo, logger)

	// ── Anchoring ────────────────────────────────────────────────────────────
	var scheduler *anchor.Scheduler
	switch mode := viper.GetString("anchor.mode"); mode {
	case "sim":
		ledgerSvc.SetAnchorClient(anchor.NewSimClient(logger))
		logger.Info("anchor client: simulated")
	case "http":
		endpoint := viper.GetString("anchor.endpoint")
		if endpoint == "" {
			return fmt.Errorf("anchor.mode=http requires anchor.endpoint")
		}
		ledgerSvc.SetAnchorClient(anchor.NewHTTPClient(endpoint, 10*time.Second, logger))
		logger.Info("anchor client: http", zap.String("endpoint", endpoint))
	case "off":
		logger.Info("anchoring disabled")
	default:
		return fmt.Errorf("unknown anchor.mode %q", mode)
	}

	if spec := viper.GetString("anchor.schedule"); spec != "" {
		scheduler = anchor.NewScheduler(ledgerSvc, spec, logger)
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start anchor scheduler: %w", err)
		}
		defer scheduler.Stop()
	}

	// ── Tokens ───────────────────────────────────────────────────────────────
	httpPort := viper.GetInt("server.port")
	issuerURL := viper.GetString("auth.issuer_url")
	if issuerURL == "" {
		issuerURL = fmt.Sprintf("http://localhost:%d", httpPort)
	}

	secret := viper.GetString("auth.jwt_secret")
	if secret == "" {
		if dbURL != "" {
			return fmt.Errorf("auth.jwt_secret is required when running against a database")
		}
		secret = "insecure-dev-secret"
		logger.Warn("auth.jwt_secret not set — using insecure development secret")
	}
	tokenTTL, _ := time.ParseDuration(viper.GetString("auth.token_ttl"))
	tokens := auth.NewTokenIssuer([]byte(secret), issuerURL, tokenTTL)

	// ── HTTP Router ───────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("server.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	rps := viper.GetInt("server.rate_limit_rps")
	if rps > 0 {
		router.Use(httpapi.RateLimiter(rps, rps*2))
	}

	router.Use(requestLogger(logger))
	router.Use(httpapi.PrometheusMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", httpapi.MetricsHandler())

	v1 := router.Group("/api/v1")
	httpapi.NewAuthHandler(operatorSvc, tokens, logger).Register(v1)

	protected := v1.Group("", auth.RequireToken(tokens))
	httpapi.NewLedgerHandler(ledgerSvc, logger).Register(v1, protected)
	httpapi.NewProposalHandler(registry, logger).Register(v1, protected)

	// ── Serve ────────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("trustd HTTP listening", zap.Int("port", httpPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down trustd...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("trustd stopped")
	return nil
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
