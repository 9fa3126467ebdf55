// Command sync_sequences moves PostgreSQL serial sequences past the highest
// id after rows were copied in with explicit keys.
package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/rfalcfilho/disparazap/internal/config"
	"github.com/rfalcfilho/disparazap/internal/database"
	"github.com/rfalcfilho/disparazap/internal/logging"
)

// dispatch_runs is keyed by UUID and has no sequence.
var tables = []string{
	"messages",
	"dispatch_contacts",
}

func main() {
	cfg := config.LoadConfig()
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	pgCfg := *cfg
	pgCfg.DBDriver = "postgres"
	db, err := database.Open(&pgCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}

	log.Info().Msg("syncing PostgreSQL sequences")

	for _, table := range tables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			log.Error().Err(err).Str("table", table).Msg("error syncing sequence")
		} else {
			log.Info().Str("table", table).Msg("sequence synced")
		}
	}

	log.Info().Msg("done")
}
