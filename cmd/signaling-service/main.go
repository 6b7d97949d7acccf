package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	callHandler "vidlink-backend/internal/handler/http/call"
	pushHandler "vidlink-backend/internal/handler/http/push"
	wsHandler "vidlink-backend/internal/handler/ws"
	"vidlink-backend/internal/middleware"
	cassandraRepo "vidlink-backend/internal/repository/cassandra"
	postgresRepo "vidlink-backend/internal/repository/postgres"
	redisRepo "vidlink-backend/internal/repository/redis"
	callService "vidlink-backend/internal/service/call"
	"vidlink-backend/internal/signaling"
	"vidlink-backend/pkg/database"
	"vidlink-backend/pkg/env"
	"vidlink-backend/pkg/jwt"
	"vidlink-backend/pkg/logger"
	"vidlink-backend/pkg/metrics"
	"vidlink-backend/pkg/push"
)

func main() {
	ctx := context.Background()

	logger.InitDefault()
	defer logger.Sync()

	// 1. Setup JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(jwtSecret, 15*time.Minute)

	productionMode := os.Getenv("ENV") == "production"

	// 2. Connect to PostgreSQL for call records with retry logic
	dbConfig := &database.PostgresConfig{
		Host:     env.GetString("DB_HOST", "localhost"),
		Port:     env.GetInt("DB_PORT", 5432),
		User:     env.GetString("DB_USER", "postgres"),
		Password: env.GetStringFromFile("DB_PASSWORD", ""),
		Database: env.GetString("DB_NAME", "vidlink"),
		SSLMode:  env.GetString("DB_SSLMODE", "disable"),
	}

	db, err := connectPostgresWithRetry(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()
	log.Println("✅ Connected to PostgreSQL")

	callRepo := postgresRepo.NewCallRepository(db.Pool)

	// 3. Initialize Redis
	redisConfig := &database.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}

	redisDB, err := database.NewRedisDB(redisConfig)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		log.Printf("Warning: Redis ping failed: %v", err)
	} else {
		log.Println("✅ Connected to Redis")
	}
	redisDB.StartHealthCheck(ctx, 10*time.Second)

	presenceRepo := redisRepo.NewPresenceRepository(redisDB.Client)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)

	// 4. Connect to Cassandra for quality telemetry (optional)
	var metricsRepo callService.MetricsRepository
	cassandraHosts := env.GetString("CASSANDRA_HOSTS", "")
	if cassandraHosts != "" {
		cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
			Hosts:    []string{cassandraHosts},
			Keyspace: env.GetString("CASSANDRA_KEYSPACE", "vidlink_metrics"),
			Username: env.GetString("CASSANDRA_USER", ""),
			Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Timeout:  10 * time.Second,
		})
		if err != nil {
			log.Printf("Warning: Failed to connect to Cassandra: %v", err)
			log.Println("Running without quality telemetry persistence")
		} else {
			defer cassandraDB.Close()
			metricsRepo = cassandraRepo.NewMetricsRepository(cassandraDB.Session)
			log.Println("✅ Connected to Cassandra")
		}
	}

	// 5. Initialize Push Service
	pushProvider := selectPushProvider(productionMode)
	pushSvc := push.NewService(pushProvider, pushTokenRepo)

	// 6. Initialize Metrics
	appMetrics := metrics.NewMetrics("signaling-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 7. Initialize Signaling Core
	registry := signaling.NewRegistry()
	directory := signaling.NewDirectory(callRepo)
	router := signaling.NewRouter(registry, appMetrics)

	// 8. Initialize Call Service
	callSvc := callService.NewService(callRepo, presenceRepo, metricsRepo, pushSvc, directory, appMetrics)

	// 9. Initialize Handlers
	callHdlr := callHandler.NewHandler(callSvc)
	pushHdlr := pushHandler.NewHandler(pushSvc)
	signalingHdlr := wsHandler.NewSignalingHandler(registry, directory, router, jwtManager, appMetrics)

	// 10. Setup Gin Router
	engine := gin.New()
	engine.SetTrustedProxies(nil)

	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.SecurityHeaders())
	engine.Use(middleware.CORSMiddleware())
	engine.Use(prometheusMiddleware.Handler())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "signaling-service",
			"time":    time.Now().UTC(),
		})
	})

	engine.GET("/metrics", middleware.MetricsHandler())

	// WebSocket endpoint resolves identity itself so browser clients can
	// pass the token as a query param
	engine.GET("/v1/signaling/ws", signalingHdlr.ServeWS)

	v1 := engine.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		calls := v1.Group("/calls")
		{
			calls.POST("", callHdlr.StartCall)
			calls.GET("/active", callHdlr.GetActiveCalls)
			calls.GET("/:id", callHdlr.GetCallStatus)
			calls.POST("/:id/join", callHdlr.JoinCall)
			calls.POST("/:id/leave", callHdlr.LeaveCall)
			calls.POST("/:id/end", callHdlr.EndCall)
			calls.POST("/:id/metrics", callHdlr.ReportQualityMetrics)
			calls.GET("/:id/metrics", callHdlr.GetQualityMetrics)
		}

		tokens := v1.Group("/push")
		{
			tokens.POST("/tokens", pushHdlr.RegisterToken)
			tokens.DELETE("/tokens", pushHdlr.UnregisterToken)
		}
	}

	// 11. Start server
	port := env.GetString("PORT", "8083")
	addr := fmt.Sprintf(":%s", port)

	log.Printf("🚀 Signaling Service starting on port %s\n", port)
	log.Println("📡 WebRTC Signaling: /v1/signaling/ws")
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// connectPostgresWithRetry dials PostgreSQL with exponential backoff
func connectPostgresWithRetry(ctx context.Context, cfg *database.PostgresConfig) (*database.PostgresDB, error) {
	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err := database.NewPostgresDB(ctx, cfg)
	if err == nil {
		return db, nil
	}

	for attempt := 2; attempt <= maxRetries; attempt++ {
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		log.Printf("⚠️  PostgreSQL connection attempt %d failed: %v. Retrying in %v...", attempt-1, err, delay)
		time.Sleep(delay)

		db, err = database.NewPostgresDB(ctx, cfg)
		if err == nil {
			log.Printf("✅ Connected to PostgreSQL (attempt %d/%d)", attempt, maxRetries)
			return db, nil
		}
	}

	return nil, err
}

// selectPushProvider picks the push provider from PUSH_PROVIDER. Production
// mode refuses to run on the mock provider.
func selectPushProvider(productionMode bool) push.Provider {
	providerType := env.GetString("PUSH_PROVIDER", "mock")

	switch providerType {
	case "fcm":
		provider, err := push.NewFCMProvider(&push.FCMConfig{
			CredentialsPath: env.GetString("FCM_CREDENTIALS_PATH", ""),
			ProjectID:       env.GetStringFromFile("FCM_PROJECT_ID", ""),
		})
		if err != nil {
			if productionMode {
				log.Fatalf("❌ Fatal: failed to initialize FCM provider: %v", err)
			}
			log.Printf("Warning: FCM init failed (%v), falling back to mock provider", err)
			return &push.MockProvider{}
		}
		log.Println("✅ Using FCM push provider")
		return provider

	case "apns":
		provider, err := push.NewAPNsProvider(&push.APNsConfig{
			KeyPath:    env.GetString("APNS_KEY_PATH", ""),
			KeyID:      env.GetStringFromFile("APNS_KEY_ID", ""),
			TeamID:     env.GetStringFromFile("APNS_TEAM_ID", ""),
			BundleID:   env.GetString("APNS_BUNDLE_ID", ""),
			Production: productionMode,
		})
		if err != nil {
			if productionMode {
				log.Fatalf("❌ Fatal: failed to initialize APNs provider: %v", err)
			}
			log.Printf("Warning: APNs init failed (%v), falling back to mock provider", err)
			return &push.MockProvider{}
		}
		log.Println("✅ Using APNs push provider")
		return provider

	case "mock", "":
		if productionMode {
			log.Fatal("❌ Fatal: Mock push provider not allowed in production")
		}
		log.Println("ℹ️  Using MockProvider for push notifications (development mode)")
		return &push.MockProvider{}

	default:
		log.Printf("Warning: Unknown PUSH_PROVIDER '%s', falling back to mock", providerType)
		return &push.MockProvider{}
	}
}
