package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port    string
	GinMode string

	WhatsAppToken   string
	PhoneNumberID   string
	GraphAPIURL     string
	GraphAPIVersion string
	SendTimeout     time.Duration

	DBDriver   string
	DBPath     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBLogLevel string

	LogLevel  string
	LogFormat string

	MaxUploadBytes         int64
	DefaultIntervalSeconds int
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Msg("no .env file loaded, using environment only")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment without touching
// .env files.
func FromEnv() *Config {
	return &Config{
		Port:    getEnv("PORT", "3001"),
		GinMode: getEnv("GIN_MODE", "release"),

		WhatsAppToken:   getEnv("WHATSAPP_TOKEN", ""),
		PhoneNumberID:   getEnv("PHONE_NUMBER_ID", ""),
		GraphAPIURL:     getEnv("GRAPH_API_URL", "https://graph.facebook.com"),
		GraphAPIVersion: getEnv("GRAPH_API_VERSION", "v19.0"),
		SendTimeout:     time.Duration(getEnvInt("SEND_TIMEOUT_SECONDS", 30)) * time.Second,

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBPath:     getEnv("DB_PATH", "./disparazap.db"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "disparazap"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		DBLogLevel: getEnv("DB_LOG_LEVEL", "warn"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		MaxUploadBytes:         int64(getEnvInt("MAX_UPLOAD_MB", 10)) << 20,
		DefaultIntervalSeconds: getEnvInt("DEFAULT_INTERVAL_SECONDS", 10),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-numeric environment value")
		return fallback
	}
	return n
}
