package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/dvloznov/statement-importer/internal/app"
	"github.com/dvloznov/statement-importer/internal/config"
	infraBQ "github.com/dvloznov/statement-importer/internal/infra/bigquery"
)

const (
	targetStore    = "store"
	targetBigQuery = "bigquery"
)

var (
	targets   = flag.String("target", targetStore, "Comma-separated migration targets: store, bigquery")
	appliedBy = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	envFile   = flag.String("env", ".env", "Optional dotenv file")
)

func main() {
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	selected, err := parseTargets(*targets)
	if err != nil {
		log.Fatal(err)
	}

	for _, target := range selected {
		var applied []string
		switch target {
		case targetStore:
			applied, err = migrateStore(ctx, cfg)
		case targetBigQuery:
			applied, err = migrateBigQuery(ctx, cfg, *appliedBy)
		}
		if err != nil {
			log.Fatalf("Failed to migrate %s: %v", target, err)
		}

		if len(applied) == 0 {
			log.Printf("[%s] No new migrations to apply. Schema is up to date.", target)
			continue
		}
		for _, label := range applied {
			log.Printf("[%s]  [OK]   %s", target, label)
		}
		log.Printf("[%s] Successfully applied %d migration(s)", target, len(applied))
	}
}

// parseTargets splits and validates the -target flag, dropping repeats.
func parseTargets(s string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		t := strings.ToLower(strings.TrimSpace(part))
		if t == "" || seen[t] {
			continue
		}
		if t != targetStore && t != targetBigQuery {
			return nil, fmt.Errorf("unknown migration target %q", t)
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no migration target given")
	}
	return out, nil
}

func migrateStore(ctx context.Context, cfg *config.Config) ([]string, error) {
	s, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if cfg.UsePostgres() {
		log.Printf("Connected to Postgres")
	} else {
		log.Printf("Using SQLite database: %s", cfg.SQLitePath)
	}
	return s.Migrate(ctx)
}

func migrateBigQuery(ctx context.Context, cfg *config.Config, appliedBy string) ([]string, error) {
	if cfg.BigQueryProject == "" {
		return nil, fmt.Errorf("BIGQUERY_PROJECT is required for the bigquery target")
	}

	exp, err := infraBQ.NewExporter(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
	if err != nil {
		return nil, err
	}
	defer exp.Close()

	log.Printf("Connected to BigQuery project: %s, dataset: %s", cfg.BigQueryProject, cfg.BigQueryDataset)
	return exp.Migrate(ctx, appliedBy)
}
