package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every runtime setting for the gateway binary. All values come
// from the environment; defaults cover local development against a stock
// RabbitMQ and Redis.
type Config struct {
	AppEnv  string
	AppName string
	AppHost string
	AppPort string

	LogLevel string

	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int
	RedisMaxRetries   int
	SessionTTL        time.Duration

	RMQHost     string
	RMQPort     string
	RMQUser     string
	RMQPassword string
	WorkQueue   string
	ResultQueue string
	WorkerCount int

	MaxConnections    int
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	RoomOpsEnabled    bool

	AllowedTranslators     []string
	LibreTranslateEndpoint string
	LibreTranslateTimeout  time.Duration
	ModelEndpoint          string
	ModelTimeout           time.Duration
	DeepLAPIURL            string
	DeepLAPIKey            string
	TelegramBotToken       string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:                 getEnv("APP_ENV", "development"),
		AppName:                getEnv("APP_NAME", "translate-hub"),
		AppHost:                getEnv("APP_HOST", "localhost"),
		AppPort:                getEnv("APP_PORT", "8000"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		RedisHost:              getEnv("REDIS_HOST", "localhost"),
		RedisPort:              getEnv("REDIS_PORT", "6379"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RMQHost:                getEnv("RMQ_HOST", "localhost"),
		RMQPort:                getEnv("RMQ_PORT", "5672"),
		RMQUser:                getEnv("RMQ_USERNAME", "guest"),
		RMQPassword:            getEnv("RMQ_PASSWORD", "guest"),
		WorkQueue:              getEnv("TRANSLATION_QUEUE", "translation_requests"),
		ResultQueue:            getEnv("RESULT_QUEUE", "translation_results"),
		LibreTranslateEndpoint: getEnv("LIBRETRANSLATE_ENDPOINT", "http://localhost:5002"),
		ModelEndpoint:          getEnv("MODEL_ENDPOINT", "http://localhost:5000"),
		DeepLAPIURL:            getEnv("DEEPL_API_URL", "https://api-free.deepl.com/v2/translate"),
		DeepLAPIKey:            os.Getenv("DEEPL_API_KEY"),
		TelegramBotToken:       os.Getenv("BOT_TOKEN"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisPoolSize, err = getEnvInt("REDIS_POOL_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.RedisMinIdleConns, err = getEnvInt("REDIS_MIN_IDLE_CONNS", 2); err != nil {
		return nil, err
	}
	if cfg.RedisMaxRetries, err = getEnvInt("REDIS_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.WorkerCount, err = getEnvInt("WORKER_COUNT", 2); err != nil {
		return nil, err
	}
	if cfg.MaxConnections, err = getEnvInt("MAX_CONNECTIONS", 100); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HeartbeatTimeout, err = getEnvDuration("HEARTBEAT_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.RoomOpsEnabled, err = getEnvBool("ROOM_OPS_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.LibreTranslateTimeout, err = getEnvDuration("LIBRETRANSLATE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ModelTimeout, err = getEnvDuration("MODEL_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	allowed := getEnv("ALLOWED_TRANSLATORS", "libre,model")
	for _, code := range strings.Split(allowed, ",") {
		if code = strings.TrimSpace(code); code != "" {
			cfg.AllowedTranslators = append(cfg.AllowedTranslators, code)
		}
	}

	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if cfg.MaxConnections < 1 {
		return nil, fmt.Errorf("MAX_CONNECTIONS must be at least 1")
	}
	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return nil, fmt.Errorf("HEARTBEAT_TIMEOUT must exceed HEARTBEAT_INTERVAL")
	}
	return cfg, nil
}

// AMQPURL assembles the broker dial string.
func (c *Config) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.RMQUser, c.RMQPassword, c.RMQHost, c.RMQPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
