package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"donation-service/config"
	"donation-service/controllers"
	"donation-service/database"
	"donation-service/logger"
	"donation-service/metrics"
	"donation-service/middleware"
	"donation-service/repository"
	"donation-service/routes"
	"donation-service/services"

	aws_pkg "donation-service/pkg/aws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const serviceName = "donation-service"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("[DonationService] Failed to load config: %v", err)
	}

	// --- AWS setup ---
	var awsCfgLoaded bool
	awsCfg, err := aws_pkg.LoadAWSConfig(context.Background())
	if err != nil {
		log.Printf("[DonationService] AWS config unavailable, SNS/SQS/CloudWatch disabled: %v", err)
	} else {
		awsCfgLoaded = true
	}

	// --- Logger ---
	var cwWriter *aws_pkg.CloudWatchLogsClient
	if cfg.CloudWatchEnabled && awsCfgLoaded {
		cwWriter, err = aws_pkg.NewCloudWatchLogsClient(context.Background(), awsCfg, cfg.CloudWatchLogGroup, serviceName)
		if err != nil {
			log.Printf("[DonationService] CloudWatch Logs init failed (non-fatal): %v", err)
		}
	}
	var zapLogger *zap.Logger
	if cwWriter != nil {
		zapLogger, err = logger.New(cfg.AppEnv, cwWriter)
	} else {
		zapLogger, err = logger.New(cfg.AppEnv, nil)
	}
	if err != nil {
		log.Fatalf("[DonationService] Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	if cfg.StripeAPIKey == "" {
		zapLogger.Warn("STRIPE_API_KEY is not set; checkout endpoints will return a configuration error")
	}
	if cfg.StripeWebhookSecret == "" {
		if cfg.IsProduction() {
			zapLogger.Error("STRIPE_WEBHOOK_SECRET is not set; webhooks will be rejected")
		} else {
			zapLogger.Warn("STRIPE_WEBHOOK_SECRET is not set; webhooks will be accepted UNVERIFIED")
		}
	}

	// --- Database ---
	db, err := database.ConnectPostgres(cfg.DSN(), zapLogger)
	if err != nil {
		zapLogger.Fatal("DB connection failed", zap.Error(err))
	}

	metrics.Register()

	// --- Dependency injection ---
	var snsPublisher aws_pkg.SNSPublisher
	if awsCfgLoaded && cfg.DonationSNSTopicARN != "" {
		snsPublisher = aws_pkg.NewSNSClient(awsCfg)
	}
	publisher := services.NewEventPublisher(snsPublisher, cfg.DonationSNSTopicARN, zapLogger)

	var locker services.Locker = services.NewLocalLocker()
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		locker = services.NewRedisLocker(redisClient, cfg.ProcessorTimeout+5*time.Second, zapLogger)
		zapLogger.Info("Using Redis for donation session locks")
	}

	donationRepo := repository.NewGormDonationRepository(db)
	stripeSvc := services.NewStripeService(cfg.StripeAPIKey)
	guard := services.NewDuplicateGuard(donationRepo, cfg.DuplicateWindow)

	donationService := services.NewDonationService(donationRepo, stripeSvc, guard, locker, publisher,
		services.DonationServiceConfig{
			ClientURL:        cfg.ClientURL,
			ProcessorTimeout: cfg.ProcessorTimeout,
		}, zapLogger)
	webhookService := services.NewWebhookService(donationRepo, publisher,
		services.WebhookServiceConfig{
			WebhookSecret: cfg.StripeWebhookSecret,
			Production:    cfg.IsProduction(),
			Timeout:       cfg.WebhookTimeout,
		}, zapLogger)

	donationController := controllers.NewDonationController(donationService, cfg.IsProduction(), zapLogger)
	webhookController := controllers.NewWebhookController(webhookService, cfg.IsProduction(), zapLogger)

	// --- Intake queue ---
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if awsCfgLoaded && cfg.DonationRequestQueueURL != "" {
		sqsConsumer := aws_pkg.NewSQSConsumer(awsCfg, cfg.DonationRequestQueueURL, cfg.DonationRequestMaxReceives, zapLogger)
		consumer := services.NewDonationRequestConsumer(sqsConsumer, donationService, zapLogger)
		go consumer.Start(consumerCtx)
	}

	// --- HTTP router ---
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(zapLogger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	var metricsClient *aws_pkg.MetricsClient
	if awsCfgLoaded {
		metricsClient = aws_pkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, serviceName, cfg.CloudWatchEnabled)
	}
	r.Use(middleware.MetricsMiddleware(metricsClient))
	r.Use(middleware.Timeout(30 * time.Second))

	routes.RegisterDonationRoutes(r, donationController, webhookController,
		middleware.RateLimitMiddleware(cfg.RateLimitPerMin, cfg.RateLimitBurst))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": serviceName})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// --- HTTP server ---
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		zapLogger.Info("Donation Service started", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Initiating graceful shutdown...")
	stopConsumer()

	httpShutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(httpShutdownCtx); err != nil {
		zapLogger.Error("Server shutdown error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			zapLogger.Error("Redis close error", zap.Error(err))
		}
	}
	if err := database.Close(db); err != nil {
		zapLogger.Error("Database close error", zap.Error(err))
	}

	zapLogger.Info("Donation Service stopped gracefully")
}
