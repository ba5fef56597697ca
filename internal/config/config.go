package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Providers ProvidersConfig `yaml:"providers"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	ConfirmTimeout    time.Duration `yaml:"confirm_timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	AutoAck       bool `yaml:"auto_ack"`
	Exclusive     bool `yaml:"exclusive"`
}

// RedisConfig holds Redis connection configuration for the webhook delivery ledger
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// ProvidersConfig holds external provider configuration
type ProvidersConfig struct {
	Generation GenerationConfig `yaml:"generation"`
	Payment    PaymentConfig    `yaml:"payment"`
	Breaker    BreakerConfig    `yaml:"breaker"`
}

// GenerationConfig holds image-generation provider settings
type GenerationConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIToken      string        `yaml:"api_token"`
	ModelVersion  string        `yaml:"model_version"`
	WebhookURL    string        `yaml:"webhook_url"`
	WebhookSecret string        `yaml:"webhook_secret"`
	EventsFilter  []string      `yaml:"events_filter"`
	Timeout       time.Duration `yaml:"timeout"`
}

// PaymentConfig holds payment gateway settings
type PaymentConfig struct {
	BaseURL         string        `yaml:"base_url"`
	KeyID           string        `yaml:"key_id"`
	KeySecret       string        `yaml:"key_secret"`
	WebhookSecret   string        `yaml:"webhook_secret"`
	DefaultCurrency string        `yaml:"default_currency"`
	Timeout         time.Duration `yaml:"timeout"`
}

// BreakerConfig holds circuit breaker settings shared by provider clients
type BreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests"`
	Interval     time.Duration `yaml:"interval"`
	Timeout      time.Duration `yaml:"timeout"`
	FailureRatio float64       `yaml:"failure_ratio"`
	MinRequests  uint32        `yaml:"min_requests"`
}

// JobsConfig holds job orchestration limits
type JobsConfig struct {
	StoreTimeout time.Duration `yaml:"store_timeout"`
	MaxWait      time.Duration `yaml:"max_wait"`
	PollInterval time.Duration `yaml:"poll_interval"`
	DeliveryTTL  time.Duration `yaml:"delivery_ttl"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	MaxJobs           int           `yaml:"max_jobs"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// envOverrides maps secret environment variables onto config fields
var envOverrides = map[string]func(*Config) *string{
	"DATABASE_PASSWORD":        func(c *Config) *string { return &c.Database.Password },
	"RABBITMQ_PASSWORD":        func(c *Config) *string { return &c.RabbitMQ.Password },
	"REDIS_PASSWORD":           func(c *Config) *string { return &c.Redis.Password },
	"REPLICATE_API_TOKEN":      func(c *Config) *string { return &c.Providers.Generation.APIToken },
	"REPLICATE_WEBHOOK_SECRET": func(c *Config) *string { return &c.Providers.Generation.WebhookSecret },
	"RAZORPAY_KEY_ID":          func(c *Config) *string { return &c.Providers.Payment.KeyID },
	"RAZORPAY_KEY_SECRET":      func(c *Config) *string { return &c.Providers.Payment.KeySecret },
	"RAZORPAY_WEBHOOK_SECRET":  func(c *Config) *string { return &c.Providers.Payment.WebhookSecret },
}

// LoadEnv loads a .env file into the process environment if one exists.
// It reports whether a file was loaded.
func LoadEnv(filenames ...string) bool {
	return godotenv.Load(filenames...) == nil
}

// Load reads and parses the configuration file, then applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyEnv() {
	for key, field := range envOverrides {
		if value, ok := os.LookupEnv(key); ok && value != "" {
			*field(c) = value
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if len(c.Providers.Generation.EventsFilter) == 0 {
		c.Providers.Generation.EventsFilter = []string{"completed"}
	}
	if c.Providers.Generation.Timeout <= 0 {
		c.Providers.Generation.Timeout = 30 * time.Second
	}
	if c.Providers.Payment.Timeout <= 0 {
		c.Providers.Payment.Timeout = 15 * time.Second
	}
	if c.Providers.Payment.DefaultCurrency == "" {
		c.Providers.Payment.DefaultCurrency = "INR"
	}
	if c.Jobs.StoreTimeout <= 0 {
		c.Jobs.StoreTimeout = 5 * time.Second
	}
	if c.Jobs.MaxWait <= 0 {
		c.Jobs.MaxWait = 60 * time.Second
	}
	if c.Jobs.PollInterval <= 0 {
		c.Jobs.PollInterval = 2 * time.Second
	}
	if c.Jobs.DeliveryTTL <= 0 {
		c.Jobs.DeliveryTTL = 24 * time.Hour
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "roomflow:webhook"
	}
	if c.RabbitMQ.Publish.ConfirmTimeout <= 0 {
		c.RabbitMQ.Publish.ConfirmTimeout = 5 * time.Second
	}
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
	case "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	gen := c.Providers.Generation
	if gen.BaseURL == "" {
		return fmt.Errorf("generation provider base_url is required")
	}
	if gen.APIToken == "" {
		return fmt.Errorf("generation provider api_token is required")
	}
	if gen.ModelVersion == "" {
		return fmt.Errorf("generation provider model_version is required")
	}
	if gen.WebhookURL == "" {
		return fmt.Errorf("generation provider webhook_url is required")
	}

	pay := c.Providers.Payment
	if pay.BaseURL == "" {
		return fmt.Errorf("payment gateway base_url is required")
	}
	if pay.KeyID == "" || pay.KeySecret == "" {
		return fmt.Errorf("payment gateway key_id and key_secret are required")
	}
	if pay.WebhookSecret == "" {
		return fmt.Errorf("payment gateway webhook_secret is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxJobs <= 0 {
		return fmt.Errorf("worker max_jobs must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}
