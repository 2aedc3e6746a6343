// Package main implements the strata-ingest tool: offline ingestion of a
// local file into a Strata data directory, without a running server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stratadb/strata/internal/cache"
	"github.com/stratadb/strata/internal/catalog"
	"github.com/stratadb/strata/internal/config"
	"github.com/stratadb/strata/internal/dataset"
	"github.com/stratadb/strata/internal/ledger"
	"github.com/stratadb/strata/internal/rowstore"
	"github.com/stratadb/strata/internal/schema"
	"github.com/stratadb/strata/internal/storage"
	"github.com/stratadb/strata/pkg/types"
)

func main() {
	var (
		dataDir     string
		datasetID   string
		createName  string
		owner       string
		cadence     string
		filePath    string
		format      string
		batchKeyStr string
		uploader    string
	)

	flag.StringVar(&dataDir, "data-dir", "./data/strata", "Base directory for all data files")
	flag.StringVar(&datasetID, "dataset", "", "Target dataset ID (omit with --create to make a new one)")
	flag.StringVar(&createName, "create", "", "Create a new dataset with this name before ingesting")
	flag.StringVar(&owner, "owner", "", "Dataset owner (required with --create)")
	flag.StringVar(&cadence, "cadence", "once", "Ingestion cadence for a created dataset")
	flag.StringVar(&filePath, "file", "", "Path to the file to ingest")
	flag.StringVar(&format, "format", "", "File format: csv, tsv, json, ndjson (default from extension)")
	flag.StringVar(&batchKeyStr, "batch-key", "", "Batch key timestamp (RFC3339, default now)")
	flag.StringVar(&uploader, "uploader", "", "Uploader recorded on the batch")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "strata-ingest - ingest a local file into a Strata data directory\n\n")
		fmt.Fprintf(os.Stderr, "Usage: strata-ingest [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  strata-ingest --create signups --owner data-team --file signups.csv\n")
		fmt.Fprintf(os.Stderr, "  strata-ingest --dataset <id> --file day2.csv --batch-key 2026-08-21T00:00:00Z\n")
	}
	flag.Parse()

	if filePath == "" {
		flag.Usage()
		log.Fatalf("--file is required")
	}
	if datasetID == "" && createName == "" {
		flag.Usage()
		log.Fatalf("either --dataset or --create is required")
	}
	if format == "" {
		format = formatFromExtension(filePath)
	}

	var batchKey time.Time
	if batchKeyStr != "" {
		parsed, err := time.Parse(time.RFC3339, batchKeyStr)
		if err != nil {
			log.Fatalf("Invalid --batch-key: %v", err)
		}
		batchKey = parsed
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Resolve()
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create directories: %v", err)
	}

	ctx := context.Background()
	orch, cleanup, err := wire(cfg)
	if err != nil {
		log.Fatalf("Failed to open data directory: %v", err)
	}
	defer cleanup()

	if createName != "" {
		if owner == "" {
			log.Fatalf("--owner is required with --create")
		}
		ds, err := orch.CreateDataset(ctx, dataset.CreateDatasetRequest{
			Name:    createName,
			Owner:   owner,
			Cadence: types.Cadence(cadence),
		})
		if err != nil {
			log.Fatalf("Failed to create dataset: %v", err)
		}
		datasetID = ds.ID
		log.Printf("Created dataset %s (%s)", ds.Name, ds.ID)
	}

	f, err := os.Open(filePath)
	if err != nil {
		log.Fatalf("Failed to open file: %v", err)
	}
	defer f.Close()

	batch, err := orch.Ingest(ctx, dataset.IngestRequest{
		DatasetID: datasetID,
		BatchKey:  batchKey,
		Uploader:  uploader,
		Format:    format,
		File:      f,
	})
	if err != nil {
		log.Fatalf("Ingest failed: %v", err)
	}

	log.Printf("Batch %s: status=%s rows=%d size=%d schema_version=%d",
		batch.BatchID, batch.Status, batch.RowCount, batch.SizeBytes, batch.SchemaVersion)
}

// wire opens the catalog, row store, and local object storage for offline use.
func wire(cfg *config.Config) (*dataset.Orchestrator, func(), error) {
	db, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		return nil, nil, err
	}

	rows, err := rowstore.Open(cfg.RowStorePath(), cfg.Ingest.ChunkSize)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	objects, err := storage.NewLocalStorage(cfg.Storage.Path)
	if err != nil {
		rows.Close()
		db.Close()
		return nil, nil, err
	}

	orch := dataset.NewOrchestrator(db, schema.NewRegistry(db), ledger.NewLedger(db),
		rows, cache.NewMemoryCache(), objects, nil)

	cleanup := func() {
		rows.Close()
		db.Close()
	}
	return orch, cleanup, nil
}

// formatFromExtension guesses the ingest format from the file extension.
func formatFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv"
	case ".tsv":
		return "tsv"
	case ".json":
		return "json"
	case ".ndjson", ".jsonl":
		return "ndjson"
	default:
		return "csv"
	}
}
