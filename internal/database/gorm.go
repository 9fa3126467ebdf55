package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rfalcfilho/disparazap/internal/config"
	"github.com/rfalcfilho/disparazap/internal/models"
)

// ErrDisabled is returned by Open when DB_DRIVER is "none".
var ErrDisabled = errors.New("database disabled")

// Open connects to the configured database and migrates the schema.
func Open(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel(cfg.DBLogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DBDriver, err)
	}
	log.Info().Str("driver", cfg.DBDriver).Msg("database connected")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Dialector picks the gorm driver for cfg.DBDriver.
func Dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DBDriver)) {
	case "", "none":
		return nil, ErrDisabled
	case "sqlite", "sqlite3":
		if dir := filepath.Dir(cfg.DBPath); dir != "" && !strings.HasPrefix(cfg.DBPath, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		return sqlite.Open(cfg.DBPath), nil
	case "postgres", "postgresql":
		return postgres.Open(PostgresDSN(cfg)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}
}

func PostgresDSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Message{},
		&models.DispatchRun{},
		&models.DispatchContact{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	log.Debug().Msg("database migration completed")
	return nil
}

func logLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
