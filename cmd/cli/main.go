package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-importer/internal/app"
	"github.com/dvloznov/statement-importer/internal/archive"
	"github.com/dvloznov/statement-importer/internal/config"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/jobs"
	"github.com/dvloznov/statement-importer/internal/logger"
	"github.com/dvloznov/statement-importer/internal/pipeline"
	"github.com/dvloznov/statement-importer/internal/store"
)

// exportWait bounds how long import waits for its export job before exiting.
const exportWait = 2 * time.Minute

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "preview":
		runPreview()
	case "import":
		runImport()
	case "history":
		runHistory()
	case "show":
		runShow()
	case "schemas":
		runSchemas()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Statement Importer CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  preview   Extract a CSV statement without saving anything")
	fmt.Println("  import    Preview a CSV statement and import every approved row")
	fmt.Println("  history   List past imports")
	fmt.Println("  show      Show one import and its transactions")
	fmt.Println("  schemas   List CSV schemas or add one from a JSON file")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// commonFlags are shared by every command.
type commonFlags struct {
	env    *string
	user   *string
	asJSON *bool
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, commonFlags{
		env:    fs.String("env", ".env", "Optional dotenv file"),
		user:   fs.String("user", "", "User ID owning the data (required)"),
		asJSON: fs.Bool("json", false, "Print JSON instead of text"),
	}
}

// open loads config and assembles the application. Logs go to stderr so
// stdout stays clean for -json output.
func open(cf commonFlags) (context.Context, zerolog.Logger, *app.App) {
	bootLog := logger.New()
	if *cf.user == "" {
		bootLog.Fatal().Msg("Error: --user is required")
	}

	cfg, err := config.Load(*cf.env)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	log, err := logger.NewWithConfig(os.Stderr, cfg.LogLevel, logger.FormatConsole)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Invalid logging config")
	}

	ctx := logger.WithContext(context.Background(), log)
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise application")
	}
	return ctx, log, a
}

func closeApp(ctx context.Context, log zerolog.Logger, a *app.App) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Error closing application")
	}
}

// loadUpload reads a statement from a local file or, when source is set,
// from an archived gs:// upload. The returned URI is empty for local files.
func loadUpload(ctx context.Context, arch archive.Archiver, file, source string) (pipeline.Upload, string, error) {
	switch {
	case file != "" && source != "":
		return pipeline.Upload{}, "", errors.New("--file and --source are mutually exclusive")
	case source != "":
		if arch == nil {
			return pipeline.Upload{}, "", errors.New("GCS_BUCKET must be set to read archived uploads")
		}
		data, err := arch.Fetch(ctx, source)
		if err != nil {
			return pipeline.Upload{}, "", err
		}
		return pipeline.Upload{Filename: archive.OriginalFilename(source), Data: data}, source, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return pipeline.Upload{}, "", fmt.Errorf("reading %s: %w", file, err)
		}
		return pipeline.Upload{Filename: filepath.Base(file), Data: data}, "", nil
	}
	return pipeline.Upload{}, "", errors.New("--file or --source is required")
}

func runPreview() {
	fs, cf := newFlagSet("preview")
	file := fs.String("file", "", "Path to the CSV statement")
	source := fs.String("source", "", "gs:// URI of an archived upload to re-process")
	schemaID := fs.String("schema", "", "CSV schema ID")
	fs.Parse(os.Args[2:])

	ctx, log, a := open(cf)
	defer closeApp(ctx, log, a)

	res, _, _ := previewUpload(ctx, log, a, *cf.user, *file, *source, *schemaID)
	if *cf.asJSON {
		printJSON(log, res)
		return
	}
	printPreview(res)
}

func previewUpload(ctx context.Context, log zerolog.Logger, a *app.App, userID, file, source, schemaID string) (*domain.PreviewResult, pipeline.Upload, string) {
	if schemaID == "" {
		log.Fatal().Msg("Error: --schema is required")
	}

	up, sourceURI, err := loadUpload(ctx, a.Archiver, file, source)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read statement")
	}
	s, err := a.Importer.GetSchema(ctx, userID, schemaID)
	if err != nil {
		log.Fatal().Err(err).Str("schema_id", schemaID).Msg("Failed to load schema")
	}

	res, err := a.Importer.PreviewTransactions(ctx, up, s, userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Preview failed")
	}
	return res, up, sourceURI
}

func runImport() {
	fs, cf := newFlagSet("import")
	file := fs.String("file", "", "Path to the CSV statement")
	source := fs.String("source", "", "gs:// URI of an archived upload to re-process")
	schemaID := fs.String("schema", "", "CSV schema ID")
	accountID := fs.String("account", "", "Account ID to import into (required)")
	withDuplicates := fs.Bool("include-duplicates", false, "Also import rows flagged as duplicates")
	fs.Parse(os.Args[2:])

	if *accountID == "" {
		bootLog := logger.New()
		bootLog.Fatal().Msg("Error: --account is required")
	}

	ctx, log, a := open(cf)
	defer closeApp(ctx, log, a)

	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start export workers")
	}

	res, up, sourceURI := previewUpload(ctx, log, a, *cf.user, *file, *source, *schemaID)
	if *withDuplicates {
		approveDuplicates(res.Candidates)
	}

	if sourceURI == "" && a.Archiver != nil {
		uri, err := a.Archiver.Archive(ctx, *cf.user, up.Filename, up.Data)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to archive upload")
		}
		sourceURI = uri
	}

	imp, err := a.Importer.ImportReviewedTransactions(ctx, pipeline.FinalizeRequest{
		UserID:     *cf.user,
		AccountID:  *accountID,
		SchemaID:   *schemaID,
		Filename:   up.Filename,
		SourceURI:  sourceURI,
		TotalRows:  res.TotalRows,
		Candidates: res.Candidates,
	})
	if imp != nil {
		if *cf.asJSON {
			printJSON(log, imp)
		} else {
			printImport(imp)
		}
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}

	if a.Queue != nil {
		waitForExport(ctx, log, a.JobStore, imp.ID)
	}
}

// approveDuplicates marks every flagged duplicate as approved. The insert
// still skips rows whose hash is already stored.
func approveDuplicates(candidates []*domain.TransactionCandidate) int {
	n := 0
	for _, c := range candidates {
		if c.Status == domain.CandidateStatusDuplicate {
			c.Status = domain.CandidateStatusApproved
			n++
		}
	}
	return n
}

// waitForExport polls the job store until the export job for importID
// settles or exportWait elapses.
func waitForExport(ctx context.Context, log zerolog.Logger, js jobs.JobStore, importID string) {
	ctx, cancel := context.WithTimeout(ctx, exportWait)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		list, err := js.ListJobs(ctx, jobs.JobFilter{ImportID: importID, Limit: 1})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read export job")
			return
		}
		if len(list) > 0 {
			job := list[0]
			switch job.Status {
			case jobs.JobStatusCompleted:
				log.Info().Str("job_id", job.JobID).Msg("Export completed")
				return
			case jobs.JobStatusFailed:
				log.Warn().Str("job_id", job.JobID).Str("error", job.Error).Msg("Export failed")
				return
			}
		}

		select {
		case <-ctx.Done():
			log.Warn().Str("import_id", importID).Msg("Export still running; exiting without waiting")
			return
		case <-ticker.C:
		}
	}
}

func runHistory() {
	fs, cf := newFlagSet("history")
	status := fs.String("status", "", "Only imports with this status")
	limit := fs.Int("limit", 20, "Maximum number of imports")
	fs.Parse(os.Args[2:])

	ctx, log, a := open(cf)
	defer closeApp(ctx, log, a)

	imps, err := a.Importer.ListImports(ctx, *cf.user, store.ImportFilter{
		Status: domain.ImportStatus(*status),
		Limit:  *limit,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list imports")
	}

	if *cf.asJSON {
		printJSON(log, imps)
		return
	}

	fmt.Printf("\n=== Imports (%d) ===\n", len(imps))
	for _, imp := range imps {
		stats := imp.Stats()
		fmt.Printf("%s  %-10s  %-24s  %d/%d imported  %d dup  %.2f%%  %s\n",
			imp.ID, imp.Status, imp.Filename,
			imp.ImportedRows, imp.TotalRows, imp.DuplicateRows,
			stats.SuccessRate, imp.CreatedAt.Format(time.RFC3339))
	}
	fmt.Println()
}

func runShow() {
	fs, cf := newFlagSet("show")
	importID := fs.String("id", "", "Import ID to show")
	fs.Parse(os.Args[2:])

	ctx, log, a := open(cf)
	defer closeApp(ctx, log, a)

	if *importID == "" {
		log.Fatal().Msg("Error: --id is required")
	}

	imp, err := a.Importer.GetImport(ctx, *cf.user, *importID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load import")
	}
	txs, err := a.Importer.ImportTransactions(ctx, *cf.user, *importID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load transactions")
	}

	if *cf.asJSON {
		printJSON(log, map[string]any{
			"import":       imp,
			"stats":        imp.Stats(),
			"transactions": txs,
		})
		return
	}

	printImport(imp)
	fmt.Printf("\n=== Transactions (%d) ===\n", len(txs))
	for i, tx := range txs {
		fmt.Printf("\n%d. %s\n", i+1, tx.Description)
		fmt.Printf("   Date:     %s\n", tx.Date)
		if tx.PaidIn != nil {
			fmt.Printf("   Paid in:  %s\n", formatPence(tx.PaidIn))
		}
		if tx.PaidOut != nil {
			fmt.Printf("   Paid out: %s\n", formatPence(tx.PaidOut))
		}
		if tx.Balance != nil {
			fmt.Printf("   Balance:  %s\n", formatPence(tx.Balance))
		}
		if tx.Reference != "" {
			fmt.Printf("   Ref:      %s\n", tx.Reference)
		}
		if len(tx.Tags) > 0 {
			fmt.Printf("   Tags:     %v\n", tx.Tags)
		}
	}
	fmt.Println()
}

func runSchemas() {
	fs, cf := newFlagSet("schemas")
	add := fs.String("add", "", "Create a schema from this JSON file")
	fs.Parse(os.Args[2:])

	ctx, log, a := open(cf)
	defer closeApp(ctx, log, a)

	if *add != "" {
		data, err := os.ReadFile(*add)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read schema file")
		}
		var cs domain.CsvSchema
		if err := json.Unmarshal(data, &cs); err != nil {
			log.Fatal().Err(err).Msg("Invalid schema JSON")
		}
		cs.UserID = *cf.user
		if err := a.Importer.CreateSchema(ctx, &cs); err != nil {
			log.Fatal().Err(err).Msg("Failed to create schema")
		}
		if *cf.asJSON {
			printJSON(log, &cs)
			return
		}
		fmt.Printf("Created schema %s (%s)\n", cs.ID, cs.Name)
		return
	}

	list, err := a.Importer.ListSchemas(ctx, *cf.user)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list schemas")
	}
	if *cf.asJSON {
		printJSON(log, list)
		return
	}
	fmt.Printf("\n=== Schemas (%d) ===\n", len(list))
	for _, s := range list {
		fmt.Printf("%s  %s\n", s.ID, s.Name)
	}
	fmt.Println()
}

func printPreview(res *domain.PreviewResult) {
	fmt.Println("\n=== Preview ===")
	fmt.Printf("Encoding:    %s\n", res.Encoding)
	if res.DetectedDateFormat != "" {
		fmt.Printf("Date format: %s\n", res.DetectedDateFormat)
	}
	fmt.Printf("Rows:        %d (%d valid, %d duplicates, %d errors)\n",
		res.TotalRows, res.ValidCount, res.DuplicateCount, len(res.Errors))

	fmt.Printf("\n=== Candidates (%d) ===\n", len(res.Candidates))
	for _, c := range res.Candidates {
		fmt.Printf("%4d  %s  %-9s  in %10s  out %10s  bal %10s  %s\n",
			c.RowNumber, c.Date, c.Status,
			formatPence(c.PaidIn), formatPence(c.PaidOut), formatPence(c.Balance),
			c.Description)
	}

	if len(res.Errors) > 0 {
		fmt.Printf("\n=== Errors (%d) ===\n", len(res.Errors))
		for _, e := range res.Errors {
			fmt.Printf("%4d  %s\n", e.RowNumber, e.Message)
		}
	}
	fmt.Println()
}

func printImport(imp *domain.Import) {
	stats := imp.Stats()
	fmt.Println("\n=== Import ===")
	fmt.Printf("ID:         %s\n", imp.ID)
	fmt.Printf("Account ID: %s\n", imp.AccountID)
	fmt.Printf("File:       %s\n", imp.Filename)
	if imp.SourceURI != "" {
		fmt.Printf("Source:     %s\n", imp.SourceURI)
	}
	fmt.Printf("Status:     %s\n", imp.Status)
	fmt.Printf("Rows:       %d total, %d processed, %d imported, %d duplicates, %d errors\n",
		imp.TotalRows, imp.ProcessedRows, imp.ImportedRows, imp.DuplicateRows, stats.ErrorRows)
	fmt.Printf("Success:    %.2f%%\n", stats.SuccessRate)
	if imp.ErrorMessage != "" {
		fmt.Printf("Error:      %s\n", imp.ErrorMessage)
	}
	fmt.Printf("Created:    %s\n", imp.CreatedAt.Format(time.RFC3339))
}

// formatPence renders minor units as a two-decimal amount, or "-" when the
// cell was empty.
func formatPence(v *int64) string {
	if v == nil {
		return "-"
	}
	return decimal.New(*v, -2).StringFixed(2)
}

func printJSON(log zerolog.Logger, v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal().Err(err).Msg("Failed to encode output")
	}
}
