package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/tabwarden/tabwarden/internal/config"
	"github.com/tabwarden/tabwarden/internal/ledgerservice"
)

func main() {
	port := flag.Int("port", 0, "Override TABWARDEN_HTTP_PORT")
	dbDriver := flag.String("db-driver", "", "Override TABWARDEN_DB_DRIVER (sqlite, postgres, memory)")
	flag.Parse()

	err := ledgerservice.Run(func(cfg *config.Config) {
		if *port != 0 {
			cfg.HTTPPort = *port
		}
		if *dbDriver != "" {
			cfg.DBDriver = *dbDriver
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("ledger-service exited with error")
		os.Exit(1)
	}
}
