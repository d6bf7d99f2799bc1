package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Engine   EngineConfig
	Broker   BrokerConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	APIKeyHash    string // bcrypt-хеш ключа дашборда; пусто = auth выключен (dev)
	EncryptionKey string // 32 байта для AES-256 (токены брокеров в БД)
}

// EngineConfig - настройки движка сессий
type EngineConfig struct {
	// Очередь цен на сессию: bounded, drop-oldest.
	// Для сеточных решений важна только последняя цена.
	FeedQueueSize int

	// Переподключение потока котировок
	FeedReconnectDelay time.Duration // начальная задержка (экспоненциальный рост)
	FeedReconnectMax   time.Duration // потолок задержки
	FeedMaxRetries     int           // 0 = бесконечно

	// Исполнение ордеров
	OrderTimeout time.Duration // таймаут одного вызова брокера
	OrderRetries int           // retry для Timeout/TransportDown
	OrderRate    float64       // запросов/сек на один брокерский аккаунт
	OrderBurst   float64       // burst для token bucket

	// Лимит одновременных сессий (0 = без лимита)
	MaxSessions int
}

// BrokerConfig - адреса брокерских транспортов
type BrokerConfig struct {
	StreamingURL   string // WebSocket endpoint потокового API
	StreamingAppID string // app_id для авторизации потокового API
	BridgeURL      string // HTTP endpoint локального моста терминала
	BridgeTimeout  time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "gridbot"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APIKeyHash:    getEnv("API_KEY_HASH", ""),
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Engine: EngineConfig{
			FeedQueueSize:      getEnvAsInt("FEED_QUEUE_SIZE", 256),
			FeedReconnectDelay: getEnvAsDuration("FEED_RECONNECT_DELAY", 1*time.Second),
			FeedReconnectMax:   getEnvAsDuration("FEED_RECONNECT_MAX", 16*time.Second),
			FeedMaxRetries:     getEnvAsInt("FEED_MAX_RETRIES", 10),
			OrderTimeout:       getEnvAsDuration("ORDER_TIMEOUT", 5*time.Second),
			OrderRetries:       getEnvAsInt("ORDER_RETRIES", 4),
			OrderRate:          getEnvAsFloat("ORDER_RATE", 10),
			OrderBurst:         getEnvAsFloat("ORDER_BURST", 20),
			MaxSessions:        getEnvAsInt("MAX_SESSIONS", 0),
		},
		Broker: BrokerConfig{
			StreamingURL:   getEnv("STREAMING_WS_URL", "wss://ws.derivws.com/websockets/v3"),
			StreamingAppID: getEnv("STREAMING_APP_ID", "1089"),
			BridgeURL:      getEnv("BRIDGE_URL", "http://127.0.0.1:8001"),
			BridgeTimeout:  getEnvAsDuration("BRIDGE_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен: без него нельзя расшифровать токены брокеров
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for decrypting broker tokens")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Engine.FeedQueueSize < 1 {
		return fmt.Errorf("FEED_QUEUE_SIZE must be at least 1, got %d", c.Engine.FeedQueueSize)
	}

	if c.Engine.FeedMaxRetries < 0 {
		return fmt.Errorf("FEED_MAX_RETRIES cannot be negative, got %d", c.Engine.FeedMaxRetries)
	}

	if c.Engine.OrderRetries < 0 {
		return fmt.Errorf("ORDER_RETRIES cannot be negative, got %d", c.Engine.OrderRetries)
	}

	if c.Engine.OrderRetries > 10 {
		return fmt.Errorf("ORDER_RETRIES should not exceed 10, got %d", c.Engine.OrderRetries)
	}

	if c.Engine.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Engine.OrderTimeout)
	}

	if c.Engine.MaxSessions < 0 {
		return fmt.Errorf("MAX_SESSIONS cannot be negative, got %d", c.Engine.MaxSessions)
	}

	if c.Broker.BridgeTimeout <= 0 {
		return fmt.Errorf("BRIDGE_TIMEOUT must be positive, got %v", c.Broker.BridgeTimeout)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
