package bigquery

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/store/migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate creates the analytics tables, recording applied versions in the
// dataset's schema_migrations table.
func (e *Exporter) Migrate(ctx context.Context, appliedBy string) ([]string, error) {
	return MigrateWithClient(ctx, e.client, e.projectID, e.datasetID, appliedBy)
}

// MigrateWithClient applies pending embedded migrations with the provided
// client and returns the labels it applied.
func MigrateWithClient(ctx context.Context, client *bigquery.Client, projectID, datasetID, appliedBy string) ([]string, error) {
	log := logger.FromContext(ctx)

	if err := runQuery(ctx, client, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, projectID, datasetID), nil); err != nil {
		return nil, fmt.Errorf("Migrate: ensuring schema_migrations: %w", err)
	}

	all, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}
	applied, err := appliedMigrations(ctx, client, projectID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}
	pending, err := migrate.Pending(all, applied)
	if err != nil {
		return nil, fmt.Errorf("Migrate: %w", err)
	}

	var labels []string
	for _, m := range pending {
		log.Info().Str("migration", m.Label()).Msg("Applying BigQuery migration")

		if err := runQuery(ctx, client, renderMigration(m.SQL, projectID, datasetID), nil); err != nil {
			return labels, fmt.Errorf("Migrate: executing %s: %w", m.Label(), err)
		}
		if err := runQuery(ctx, client, fmt.Sprintf(`
			INSERT INTO `+"`%s.%s.schema_migrations`"+`
			(version, name, applied_at, checksum, applied_by)
			VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
		`, projectID, datasetID), []bigquery.QueryParameter{
			{Name: "version", Value: m.Version},
			{Name: "name", Value: m.Name},
			{Name: "checksum", Value: m.Checksum},
			{Name: "applied_by", Value: appliedBy},
		}); err != nil {
			return labels, fmt.Errorf("Migrate: recording %s: %w", m.Label(), err)
		}
		labels = append(labels, m.Label())
	}
	return labels, nil
}

func loadMigrations() ([]migrate.Migration, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}
	return migrate.Load(sub)
}

// renderMigration fills the project and dataset placeholders. Checksums are
// taken before rendering so one file tracks the same across datasets.
func renderMigration(sql, projectID, datasetID string) string {
	sql = strings.ReplaceAll(sql, "{{PROJECT_ID}}", projectID)
	return strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)
}

func appliedMigrations(ctx context.Context, client *bigquery.Client, projectID, datasetID string) ([]migrate.Applied, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT version, name, checksum
		FROM `+"`%s.%s.schema_migrations`"+`
		ORDER BY version ASC
	`, projectID, datasetID))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []migrate.Applied
	for {
		var row struct {
			Version  int64               `bigquery:"version"`
			Name     string              `bigquery:"name"`
			Checksum bigquery.NullString `bigquery:"checksum"`
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating applied migrations: %w", err)
		}
		applied = append(applied, migrate.Applied{
			Version:  int(row.Version),
			Name:     row.Name,
			Checksum: row.Checksum.StringVal,
		})
	}
	return applied, nil
}

// runQuery runs a DDL or DML statement and waits for it to finish.
func runQuery(ctx context.Context, client *bigquery.Client, sql string, params []bigquery.QueryParameter) error {
	q := client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
