// Command migrate_data copies run history and the message log from the
// local SQLite file into PostgreSQL.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rfalcfilho/disparazap/internal/config"
	"github.com/rfalcfilho/disparazap/internal/database"
	"github.com/rfalcfilho/disparazap/internal/logging"
	"github.com/rfalcfilho/disparazap/internal/models"
)

const batchSize = 200

func main() {
	cfg := config.LoadConfig()
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	sqliteDB, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to connect to SQLite")
	}
	log.Info().Str("path", cfg.DBPath).Msg("connected to SQLite")

	pgCfg := *cfg
	pgCfg.DBDriver = "postgres"
	pgDB, err := database.Open(&pgCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}

	log.Info().Msg("starting data migration")

	// Parents first: dispatch_contacts references dispatch_runs.
	var runs []models.DispatchRun
	migrateTable(sqliteDB, pgDB, "dispatch_runs", &runs)

	var contacts []models.DispatchContact
	migrateTable(sqliteDB, pgDB, "dispatch_contacts", &contacts)

	var messages []models.Message
	migrateTable(sqliteDB, pgDB, "messages", &messages)

	log.Info().Msg("migration completed, run sync_sequences next")
}

// migrateTable reads every row of a table into dest, a pointer to a slice,
// and inserts it into PostgreSQL with the original primary keys.
func migrateTable(src, dst *gorm.DB, tableName string, dest interface{}) {
	if err := src.Find(dest).Error; err != nil {
		log.Error().Err(err).Str("table", tableName).Msg("error reading from SQLite")
		return
	}

	err := dst.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(dest, batchSize).Error
	})
	if err != nil {
		log.Error().Err(err).Str("table", tableName).Msg("error writing to PostgreSQL")
		return
	}
	log.Info().Str("table", tableName).Msg("migrated")
}
