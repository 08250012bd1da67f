package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"sort"

	"hostalerts/internal/logger"
	"hostalerts/internal/rules"
	"hostalerts/internal/storage"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	seed := flag.String("seed", "", "YAML rule file to upsert into alert_rules after migrating")
	flag.Parse()

	logger.Init(os.Getenv("LOG_LEVEL"))
	log := logger.WithComponent("migrate")

	dsn := os.Getenv("ALERTD_DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		log.Error().Msg("ALERTD_DATABASE_URL is required")
		os.Exit(1)
	}
	ctx := context.Background()
	store, err := storage.NewStore(ctx, dsn)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect")
		os.Exit(1)
	}
	defer store.Close()

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		log.Error().Err(err).Msg("failed to list migrations")
		os.Exit(1)
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("failed to read migration")
			os.Exit(1)
		}
		if _, err := store.Pool.Exec(ctx, string(content)); err != nil {
			log.Error().Err(err).Str("file", file).Msg("failed to apply migration")
			os.Exit(1)
		}
		log.Info().Str("file", file).Msg("applied migration")
	}

	if *seed == "" {
		return
	}
	loaded, err := rules.LoadFile(*seed)
	if err != nil {
		log.Error().Err(err).Str("file", *seed).Msg("failed to load rules")
		os.Exit(1)
	}
	res, err := storage.NewRepository(store).SyncRules(ctx, loaded)
	if err != nil {
		log.Error().Err(err).Msg("failed to seed rules")
		os.Exit(1)
	}
	log.Info().Int("rules", res.Written).Int("skipped", res.Skipped).Int("disabled", res.Disabled).Msg("seeded rules")
}
