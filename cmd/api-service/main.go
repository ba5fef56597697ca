package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/roomflow/internal/api/handler"
	"github.com/cuongbtq/roomflow/internal/api/router"
	"github.com/cuongbtq/roomflow/internal/config"
	"github.com/cuongbtq/roomflow/internal/events"
	"github.com/cuongbtq/roomflow/internal/provider"
	"github.com/cuongbtq/roomflow/internal/storage"
	"github.com/cuongbtq/roomflow/internal/submitter"
	"github.com/cuongbtq/roomflow/internal/webhook"
	"github.com/cuongbtq/roomflow/shared/database"
	"github.com/cuongbtq/roomflow/shared/logger"
	"github.com/cuongbtq/roomflow/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if !config.LoadEnv() {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger, cfg.Jobs.StoreTimeout)
	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	ledger, redisClient, err := initLedger(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize webhook ledger: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	if cfg.Providers.Generation.WebhookSecret == "" {
		appLogger.Warn("Generation webhook secret not set, generation callbacks are accepted unsigned")
	}

	providers := provider.NewFactory(provider.Config{
		Generation: provider.GenerationConfig{
			BaseURL:      cfg.Providers.Generation.BaseURL,
			APIToken:     cfg.Providers.Generation.APIToken,
			ModelVersion: cfg.Providers.Generation.ModelVersion,
			WebhookURL:   cfg.Providers.Generation.WebhookURL,
			EventsFilter: cfg.Providers.Generation.EventsFilter,
			Timeout:      cfg.Providers.Generation.Timeout,
		},
		Payment: provider.PaymentConfig{
			BaseURL:   cfg.Providers.Payment.BaseURL,
			KeyID:     cfg.Providers.Payment.KeyID,
			KeySecret: cfg.Providers.Payment.KeySecret,
			Timeout:   cfg.Providers.Payment.Timeout,
		},
		Breaker: provider.BreakerConfig{
			MaxRequests:  cfg.Providers.Breaker.MaxRequests,
			Interval:     cfg.Providers.Breaker.Interval,
			Timeout:      cfg.Providers.Breaker.Timeout,
			FailureRatio: cfg.Providers.Breaker.FailureRatio,
			MinRequests:  cfg.Providers.Breaker.MinRequests,
		},
	}, nil, appLogger.Logger)

	publisher := events.NewPublisher(rabbitClient, appLogger.Logger)

	jobSubmitter := submitter.New(store, providers.Generation(), providers.Payment(), publisher,
		cfg.Providers.Payment.DefaultCurrency, appLogger.Logger)

	ingestor := webhook.NewIngestor(store, ledger, publisher, webhook.Config{
		GenerationSecret: cfg.Providers.Generation.WebhookSecret,
		PaymentSecret:    cfg.Providers.Payment.WebhookSecret,
	}, appLogger.Logger)

	healthChecks := map[string]handler.HealthCheck{
		"database": dbClient.HealthCheck,
		"rabbitmq": rabbitClient.HealthCheck,
	}
	if redisClient != nil {
		healthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}

	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:       appLogger.Logger,
		Service:      cfg.App.Name,
		Store:        store,
		Submitter:    jobSubmitter,
		Ingestor:     ingestor,
		HealthChecks: healthChecks,
		MaxWait:      cfg.Jobs.MaxWait,
		PollInterval: cfg.Jobs.PollInterval,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Duration("max_wait", cfg.Jobs.MaxWait),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// initDatabase initializes the database client
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	return database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client used to publish job events
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		ConfirmTimeout:     cfg.Publish.ConfirmTimeout,
	}, logger)
}

// initLedger picks the Redis ledger when enabled so replicas share delivery
// history, and the in-process ledger otherwise
func initLedger(cfg *config.Config, logger *slog.Logger) (webhook.Ledger, *redis.Client, error) {
	if !cfg.Redis.Enabled {
		logger.Info("Using in-memory webhook delivery ledger")
		return webhook.NewMemoryLedger(cfg.Jobs.DeliveryTTL), nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := webhook.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Using Redis webhook delivery ledger", slog.String("addr", cfg.Redis.Addr))
	return webhook.NewRedisLedger(client, cfg.Redis.Prefix, cfg.Jobs.DeliveryTTL), client, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
