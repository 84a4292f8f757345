package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	TCPServer TCPServerConfig
	HTTP      HTTPConfig
	MQTT      MQTTConfig
	SMTP      SMTPConfig
	Safety    SafetyConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Enabled lets the server read alert history. The alert log writer
	// always connects.
	Enabled bool
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// Disabled keeps device state in process memory only.
	Disabled bool
}

type KafkaConfig struct {
	Brokers     []string
	TopicAlerts string
	Enabled     bool
}

type TCPServerConfig struct {
	Port              int
	MaxConnections    int
	IdentifyTimeout   time.Duration
	InactivityTimeout time.Duration
}

type HTTPConfig struct {
	Port int
	Mode string // gin mode: debug, release, test
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Enabled reports whether an MQTT broker was configured.
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// SMTPConfig configures the email-to-SMS gateway used to reach contacts.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	GatewayDomain string
}

// SafetyConfig holds the tunable thresholds of the safety features.
type SafetyConfig struct {
	ShakeThreshold        float64
	ShakeSampleGap        time.Duration
	ShakeWindow           time.Duration
	ShakeCountThreshold   int
	DeviationMeters       float64
	ArrivalMeters         float64
	DeviationCooldown     time.Duration
	CheckInGrace          time.Duration
	EmergencyRepeatWindow time.Duration
	TorchAutoOff          time.Duration
	FrontCameraDelay      time.Duration
	EngineQueueSize       int
	TimerWorkers          int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "safewalk"),
			Password: getEnv("DB_PASSWORD", "safewalk"),
			DBName:   getEnv("DB_NAME", "safewalk"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Enabled:  getEnvAsBool("DB_ENABLED", false),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "safewalk"),
			Disabled:  getEnvAsBool("REDIS_DISABLED", false),
		},
		Kafka: KafkaConfig{
			Brokers:     strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicAlerts: getEnv("KAFKA_TOPIC_ALERTS", "safewalk.alerts"),
			Enabled:     getEnvAsBool("KAFKA_ENABLED", true),
		},
		TCPServer: TCPServerConfig{
			Port:              getEnvAsInt("TCP_PORT", 8080),
			MaxConnections:    getEnvAsInt("TCP_MAX_CONNECTIONS", 10000),
			IdentifyTimeout:   getEnvAsDuration("TCP_IDENTIFY_TIMEOUT", 10*time.Second),
			InactivityTimeout: getEnvAsDuration("TCP_INACTIVITY_TIMEOUT", 2*time.Minute),
		},
		HTTP: HTTPConfig{
			Port: getEnvAsInt("HTTP_PORT", 8081),
			Mode: getEnv("GIN_MODE", "release"),
		},
		MQTT: MQTTConfig{
			Broker:   getEnv("MQTT_BROKER", ""),
			ClientID: getEnv("MQTT_CLIENT_ID", "safewalk-server"),
			Username: getEnv("MQTT_USERNAME", ""),
			Password: getEnv("MQTT_PASSWORD", ""),
			QoS:      byte(getEnvAsInt("MQTT_QOS", 1)),
		},
		SMTP: SMTPConfig{
			Host:          getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:          getEnvAsInt("SMTP_PORT", 587),
			Username:      getEnv("SMTP_USERNAME", ""),
			Password:      getEnv("SMTP_PASSWORD", ""),
			From:          getEnv("SMTP_FROM", "safewalk@example.com"),
			GatewayDomain: getEnv("SMS_GATEWAY_DOMAIN", "sms.example.com"),
		},
		Safety: SafetyConfig{
			ShakeThreshold:        getEnvAsFloat("SHAKE_THRESHOLD", 800),
			ShakeSampleGap:        getEnvAsDuration("SHAKE_SAMPLE_GAP", 100*time.Millisecond),
			ShakeWindow:           getEnvAsDuration("SHAKE_WINDOW", time.Second),
			ShakeCountThreshold:   getEnvAsInt("SHAKE_COUNT_THRESHOLD", 3),
			DeviationMeters:       getEnvAsFloat("ROUTE_DEVIATION_METERS", 500),
			ArrivalMeters:         getEnvAsFloat("ROUTE_ARRIVAL_METERS", 50),
			DeviationCooldown:     getEnvAsDuration("ROUTE_DEVIATION_COOLDOWN", 0),
			CheckInGrace:          getEnvAsDuration("CHECKIN_GRACE", 5*time.Minute),
			EmergencyRepeatWindow: getEnvAsDuration("EMERGENCY_REPEAT_WINDOW", 10*time.Minute),
			TorchAutoOff:          getEnvAsDuration("TORCH_AUTO_OFF", 30*time.Second),
			FrontCameraDelay:      getEnvAsDuration("FRONT_CAMERA_DELAY", 3*time.Second),
			EngineQueueSize:       getEnvAsInt("ENGINE_QUEUE_SIZE", 256),
			TimerWorkers:          getEnvAsInt("TIMER_WORKERS", 4),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if config.Safety.ShakeCountThreshold < 1 {
		return nil, fmt.Errorf("SHAKE_COUNT_THRESHOLD must be at least 1, got %d", config.Safety.ShakeCountThreshold)
	}
	if config.Safety.ArrivalMeters >= config.Safety.DeviationMeters {
		return nil, fmt.Errorf("ROUTE_ARRIVAL_METERS (%.0f) must be below ROUTE_DEVIATION_METERS (%.0f)",
			config.Safety.ArrivalMeters, config.Safety.DeviationMeters)
	}
	if config.Safety.CheckInGrace <= 0 {
		return nil, fmt.Errorf("CHECKIN_GRACE must be positive, got %s", config.Safety.CheckInGrace)
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
