// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"netwatch/internal/logger"

	"github.com/joho/godotenv"
)

// Config is the process-environment configuration. It is distinct from
// the topology Snapshot: this is read once at startup, the Snapshot is
// reloaded on every config write.
type Config struct {
	Server  ServerConfig
	History HistoryConfig
	Cache   CacheConfig
	MQTT    MQTTConfig
	Monitor MonitorConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	DataDir         string
	Environment     string
	ShutdownTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxHeaderBytes  int
	CORSOrigins     []string
	CORSMethods     []string
	EnableRateLimit bool
	RateLimitPerMin int
}

// HistoryConfig points the history store at its embedded SQLite file:
// data/history.db is a single file, not a database server.
type HistoryConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// CacheConfig addresses an optional external cache. When Host is empty
// the hot cache runs entirely in-process.
type CacheConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c CacheConfig) Enabled() bool { return c.Host != "" }

func (c CacheConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

type MQTTConfig struct {
	Enabled        bool
	Broker         string
	Port           int
	ClientID       string
	Username       string
	Password       string
	PingTopic      string
	SNMPTopic      string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	AutoReconnect  bool
	RetainMessages bool
}

func (c MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Broker, c.Port)
}

// MonitorConfig holds the scheduling, probing, and detection tunables.
// All are overridable via environment, but default to values matched
// against the reference deployment. CacheTTL, HistoryRetention and
// AggregateRetention are parsed but not read by any component: cache
// entries are written with a fixed one-hour TTL, and history.Store.Expire
// uses fixed 30- and 90-day cutoffs.
type MonitorConfig struct {
	TickInterval       time.Duration
	MaxConcurrentPings int
	StaggerDelay       time.Duration
	InFlightWatchdog   time.Duration

	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration

	BatchMaxSize       int
	BatchFlushInterval time.Duration
	BatchMaxRetained   int

	FlappingRingSize        int
	FlappingWindow          time.Duration
	FlappingChangeThreshold int
	FlappingMinSpeedChange  float64
	FlappingEmitCooldown    time.Duration

	CacheTTL time.Duration

	AggregatorInterval time.Duration
	ExpireInterval     time.Duration
	HistoryRetention   time.Duration
	AggregateRetention time.Duration
}

type LoggingConfig struct {
	Level     logger.Level
	Mode      logger.Mode
	FilePath  string
	UseColors bool
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server:  loadServerConfig(),
		History: loadHistoryConfig(),
		Cache:   loadCacheConfig(),
		MQTT:    loadMQTTConfig(),
		Monitor: loadMonitorConfig(),
		Logging: loadLoggingConfig(),
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	origins := getEnv("CORS_ALLOWED_ORIGINS", "*")
	methods := getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS")

	return ServerConfig{
		Host:            getEnv("SERVER_HOST", "0.0.0.0"),
		Port:            getEnvAsInt("BACKEND_PORT", 5000),
		DataDir:         getEnv("DATA_DIR", "data"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", "15s"),
		ReadTimeout:     getEnvAsDuration("READ_TIMEOUT", "10s"),
		WriteTimeout:    getEnvAsDuration("WRITE_TIMEOUT", "10s"),
		MaxHeaderBytes:  getEnvAsInt("MAX_HEADER_BYTES", 1048576),
		CORSOrigins:     strings.Split(origins, ","),
		CORSMethods:     strings.Split(methods, ","),
		EnableRateLimit: getEnvAsBool("ENABLE_RATE_LIMIT", false),
		RateLimitPerMin: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 600),
	}
}

func loadHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Path:            getEnv("HISTORY_DB_PATH", "data/history.db"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "1h"),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Host:     getEnv("CACHE_HOST", ""),
		Port:     getEnvAsInt("CACHE_PORT", 6379),
		Password: getEnv("CACHE_PASSWORD", ""),
		DB:       getEnvAsInt("CACHE_DB", 0),
	}
}

func loadMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Enabled:        getEnvAsBool("MQTT_ENABLED", false),
		Broker:         getEnv("MQTT_BROKER", "localhost"),
		Port:           getEnvAsInt("MQTT_PORT", 1883),
		ClientID:       getEnv("MQTT_CLIENT_ID", "netwatch-backend"),
		Username:       getEnv("MQTT_USERNAME", ""),
		Password:       getEnv("MQTT_PASSWORD", ""),
		PingTopic:      getEnv("MQTT_PING_TOPIC", "metrics/ping"),
		SNMPTopic:      getEnv("MQTT_SNMP_TOPIC", "metrics/snmp"),
		QoS:            byte(getEnvAsInt("MQTT_QOS", 1)),
		KeepAlive:      getEnvAsDuration("MQTT_KEEP_ALIVE", "60s"),
		ConnectTimeout: getEnvAsDuration("MQTT_CONNECT_TIMEOUT", "10s"),
		AutoReconnect:  getEnvAsBool("MQTT_AUTO_RECONNECT", true),
		RetainMessages: getEnvAsBool("MQTT_RETAIN_MESSAGES", false),
	}
}

func loadMonitorConfig() MonitorConfig {
	return MonitorConfig{
		TickInterval:            getEnvAsDuration("SCHED_TICK_INTERVAL", "10s"),
		MaxConcurrentPings:      getEnvAsInt("SCHED_MAX_CONCURRENT_PINGS", 5),
		StaggerDelay:            getEnvAsDuration("SCHED_STAGGER_DELAY", "50ms"),
		InFlightWatchdog:        getEnvAsDuration("SCHED_INFLIGHT_WATCHDOG", "5s"),
		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerOpenTimeout:      getEnvAsDuration("BREAKER_OPEN_TIMEOUT", "60s"),
		BatchMaxSize:            getEnvAsInt("BATCH_MAX_SIZE", 100),
		BatchFlushInterval:      getEnvAsDuration("BATCH_FLUSH_INTERVAL", "30s"),
		BatchMaxRetained:        getEnvAsInt("BATCH_MAX_RETAINED", 400),
		FlappingRingSize:        getEnvAsInt("FLAPPING_RING_SIZE", 100),
		FlappingWindow:          getEnvAsDuration("FLAPPING_WINDOW", "10m"),
		FlappingChangeThreshold: getEnvAsInt("FLAPPING_CHANGE_THRESHOLD", 5),
		FlappingMinSpeedChange:  getEnvAsFloat("FLAPPING_MIN_SPEED_CHANGE_MBPS", 10),
		FlappingEmitCooldown:    getEnvAsDuration("FLAPPING_EMIT_COOLDOWN", "5m"),
		CacheTTL:                getEnvAsDuration("CACHE_TTL", "1h"),
		AggregatorInterval:      getEnvAsDuration("AGGREGATOR_INTERVAL", "10m"),
		ExpireInterval:          getEnvAsDuration("EXPIRE_INTERVAL", "1h"),
		HistoryRetention:        getEnvAsDuration("HISTORY_RETENTION", "720h"),
		AggregateRetention:      getEnvAsDuration("AGGREGATE_RETENTION", "2160h"),
	}
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:     logger.ParseLevel(getEnv("LOG_LEVEL", "info")),
		Mode:      logger.ParseMode(getEnv("LOG_MODE", "normal")),
		FilePath:  getEnv("LOG_FILE_PATH", ""),
		UseColors: getEnvAsBool("LOG_USE_COLORS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "BACKEND_PORT must be between 1 and 65535")
	}
	if c.Cache.Enabled() && (c.Cache.Port < 1 || c.Cache.Port > 65535) {
		errs = append(errs, "CACHE_PORT must be between 1 and 65535")
	}
	if c.MQTT.Enabled && (c.MQTT.Port < 1 || c.MQTT.Port > 65535) {
		errs = append(errs, "MQTT_PORT must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func (c *Config) Print() {
	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Println("║              netwatch - Configuration                     ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	fmt.Printf("Environment:     %s\n", c.Server.Environment)
	fmt.Printf("Server:          %s:%d\n", c.Server.Host, c.Server.Port)
	fmt.Printf("Data dir:        %s\n", c.Server.DataDir)
	fmt.Printf("History DB:      %s\n", c.History.Path)
	if c.Cache.Enabled() {
		fmt.Printf("Cache:           %s\n", c.Cache.Addr())
	} else {
		fmt.Printf("Cache:           in-process (no CACHE_HOST set)\n")
	}
	if c.MQTT.Enabled {
		fmt.Printf("MQTT Broker:     %s:%d\n", c.MQTT.Broker, c.MQTT.Port)
	}
	fmt.Println("──────────────────────────────────────────────────────────")
}
