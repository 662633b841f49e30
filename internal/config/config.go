package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config структура конфигурации приложения
type Config struct {
	Server struct {
		Port        int
		Host        string
		Environment string
	}
	Database DatabaseConfig
	Archive  struct {
		Root string
	}
	Lock struct {
		Timeout time.Duration
	}
	Queue struct {
		Backend          string // inline или kafka
		BootstrapServers string
		Topic            string
		GroupID          string
	}
	Users struct {
		Backend string // db или http
		BaseURL string
		Timeout int // в секундах
	}
	Logging struct {
		Level string
	}
}

// DatabaseConfig конфигурация базы данных
type DatabaseConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// LoadConfig загружает конфигурацию из переменных окружения.
// Если рядом лежит .env файл, его значения подхватываются первыми.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	// Конфигурация сервера
	cfg.Server.Port = getEnvInt("SERVER_PORT", 8080)
	cfg.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")
	cfg.Server.Environment = getEnv("ENVIRONMENT", "development")

	// Конфигурация базы данных
	cfg.Database = DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		Database: getEnv("DB_NAME", "celltracker"),
		Username: getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	}

	// Архивное хранилище (смонтированная зона iRODS)
	cfg.Archive.Root = getEnv("ARCHIVE_ROOT", "./irods")

	// Блокировка экспериментов, 12 часов по умолчанию
	cfg.Lock.Timeout = getEnvDuration("LOCK_TIMEOUT", 12*time.Hour)

	// Очередь задач трекинга
	cfg.Queue.Backend = getEnv("QUEUE_BACKEND", "inline")
	cfg.Queue.BootstrapServers = getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")
	cfg.Queue.Topic = getEnv("KAFKA_TOPIC", "celltracker-tracking")
	cfg.Queue.GroupID = getEnv("KAFKA_GROUP_ID", "celltracker-worker")

	// Справочник пользователей
	cfg.Users.Backend = getEnv("USERS_BACKEND", "db")
	cfg.Users.BaseURL = getEnv("USERS_BASE_URL", "http://localhost:8000")
	cfg.Users.Timeout = getEnvInt("USERS_TIMEOUT_SECONDS", 10)

	// Конфигурация логирования
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")

	return cfg
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает int значение переменной окружения или возвращает значение по умолчанию
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration понимает как "90m", так и число секунд
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
