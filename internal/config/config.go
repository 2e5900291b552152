package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Storage   StorageConfig
	Worker    WorkerConfig
	Transport TransportConfig
	Bot       BotConfig
	Scheduler SchedulerConfig
	Auth      AuthConfig
	Tracing   TracingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// WorkerConfig holds face-processing worker configuration
type WorkerConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// TransportConfig holds chat transport configuration
type TransportConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// BotConfig holds quota and workflow configuration
type BotConfig struct {
	FreeQuota       int
	PremiumRequests int
	PremiumTargets  int
	PremiumDays     int
	SubmitDelay     time.Duration // minimum gap between accepted photos
	ProcessGate     time.Duration // minimum gap between processed photos, waived for premium
	CollageRef      string
	AdminUserID     int64
	ContactTelegram string
	ContactGithub   string
	DonateAddress   string
}

// SchedulerConfig holds background job configuration
type SchedulerConfig struct {
	ReconcileInterval time.Duration
	CleanupInterval   time.Duration
	Retention         time.Duration
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	JWTSecret string
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled        bool
	JaegerEndpoint string
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "faceswitch")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Queue defaults
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	// Storage defaults
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "faceswitch-images")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)

	// Worker defaults
	viper.SetDefault("worker.endpoint", "http://localhost:8000/insighter")
	viper.SetDefault("worker.timeout", "60s")

	// Transport defaults
	viper.SetDefault("transport.baseURL", "http://localhost:8081")
	viper.SetDefault("transport.token", "")
	viper.SetDefault("transport.timeout", "30s")

	// Bot defaults
	viper.SetDefault("bot.freeQuota", 10)
	viper.SetDefault("bot.premiumRequests", 100)
	viper.SetDefault("bot.premiumTargets", 10)
	viper.SetDefault("bot.premiumDays", 30)
	viper.SetDefault("bot.submitDelay", "2s")
	viper.SetDefault("bot.processGate", "20s")
	viper.SetDefault("bot.collageRef", "targets/collage.png")

	// Scheduler defaults
	viper.SetDefault("scheduler.reconcileInterval", "1h")
	viper.SetDefault("scheduler.cleanupInterval", "6h")
	viper.SetDefault("scheduler.retention", "24h")

	// Tracing defaults
	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.jaegerEndpoint", "http://localhost:14268/api/traces")
}
