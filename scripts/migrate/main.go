package main

import (
	"flag"

	"github.com/mahaj/lytecord/pkg/config"
	"github.com/mahaj/lytecord/pkg/db"
	"github.com/mahaj/lytecord/pkg/logging"
	"github.com/mahaj/lytecord/pkg/store"
)

func main() {
	drop := flag.Bool("drop", false, "drop every table before creating them")
	replication := flag.Int("replication", 1, "replication factor for a new keyspace")
	flag.Parse()

	cfg := config.Load()
	log := logging.New(cfg.Env)

	if len(cfg.ScyllaHosts) == 0 {
		cfg.ScyllaHosts = []string{"localhost:9042"}
	}
	dbCfg := db.Config{Hosts: cfg.ScyllaHosts, Keyspace: cfg.ScyllaKeyspace}

	if err := db.CreateKeyspace(dbCfg, cfg.ScyllaKeyspace, *replication, log); err != nil {
		log.Fatal().Err(err).Msg("failed to create keyspace")
	}

	session, err := db.NewSession(dbCfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to ScyllaDB")
	}
	defer session.Close()

	if *drop {
		log.Info().Str("keyspace", cfg.ScyllaKeyspace).Msg("dropping tables")
		if err := store.Drop(session); err != nil {
			log.Fatal().Err(err).Msg("failed to drop tables")
		}
	}

	if err := store.Migrate(session); err != nil {
		log.Fatal().Err(err).Msg("failed to create tables")
	}
	log.Info().Str("keyspace", cfg.ScyllaKeyspace).Msg("schema is up to date")
}
