package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN builds the lib/pq connection string
func (c *DatabaseConfig) GetDSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// RedisConfig Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClassifierConfig external classifier endpoint settings
type ClassifierConfig struct {
	BaseURL string        // classifier service base URL, e.g. "http://127.0.0.1:5001"
	Timeout time.Duration // request timeout; inference jobs can queue for minutes
}

// MQTTConfig alert publishing settings (disabled by default)
type MQTTConfig struct {
	Enabled  bool
	Broker   string // e.g. "tcp://localhost:1883"
	ClientID string
	Username string
	Password string
	Topic    string // alert topic, e.g. "medtrack/compliance/alerts"
}

// Config medtrack-compliance service configuration
type Config struct {
	HTTP struct {
		Addr string
	}
	Database   DatabaseConfig
	Redis      RedisConfig
	Classifier ClassifierConfig
	MQTT       MQTTConfig

	Stream struct {
		Name     string // intake event stream key
		Group    string // consumer group name
		Consumer string // consumer name within the group
	}

	Sweep struct {
		Interval     time.Duration // time between scheduled sweeps
		StartupDelay time.Duration // delay before the initial sweep after boot
		EventPacing  time.Duration // pause between classified events in one sweep
	}

	Listener struct {
		RetryDelay time.Duration // wait before re-subscribing after a stream error
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = parseInt(getEnv("DB_PORT", "5432"), 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "medtrack")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = parseInt(getEnv("DB_MAX_CONNS", "10"), 10)
	cfg.Database.MaxIdle = parseInt(getEnv("DB_MAX_IDLE", "5"), 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"), 0)

	cfg.Classifier.BaseURL = getEnv("CLASSIFIER_URL", "http://127.0.0.1:5001")
	// Backing inference jobs can sit in a queue for minutes; the long timeout
	// is deliberate (fallback covers the unreachable case).
	cfg.Classifier.Timeout = parseDuration(getEnv("CLASSIFIER_TIMEOUT", "10m"), 10*time.Minute)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "medtrack-compliance")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_ALERT_TOPIC", "medtrack/compliance/alerts")

	cfg.Stream.Name = getEnv("INTAKE_STREAM", "intake:events")
	cfg.Stream.Group = getEnv("INTAKE_STREAM_GROUP", "compliance-monitor")
	cfg.Stream.Consumer = getEnv("INTAKE_STREAM_CONSUMER", "monitor-1")

	cfg.Sweep.Interval = parseDuration(getEnv("SWEEP_INTERVAL", "5m"), 5*time.Minute)
	cfg.Sweep.StartupDelay = parseDuration(getEnv("SWEEP_STARTUP_DELAY", "5s"), 5*time.Second)
	cfg.Sweep.EventPacing = parseDuration(getEnv("SWEEP_EVENT_PACING", "100ms"), 100*time.Millisecond)

	cfg.Listener.RetryDelay = parseDuration(getEnv("LISTENER_RETRY_DELAY", "5s"), 5*time.Second)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(value string, defaultValue int) int {
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}
