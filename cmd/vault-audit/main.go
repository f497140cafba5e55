package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"omnivault/audit"
	"omnivault/config"
)

const (
	formatCSV     = "csv"
	formatParquet = "parquet"
	formatBoth    = "both"
)

func main() {
	configPath := flag.String("config", "./config.toml", "Path to the daemon config file (supplies the journal DSN)")
	dsn := flag.String("dsn", "", "Journal DSN (overrides the config Audit.DSN)")
	outDir := flag.String("out", "./audit-export", "Directory for the exported files")
	window := flag.Duration("window", 7*24*time.Hour, "How far back to export")
	format := flag.String("format", formatBoth, "Output format: csv, parquet, or both")
	flag.Parse()

	resolved, err := resolveDSN(*dsn, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve journal DSN: %v\n", err)
		os.Exit(1)
	}

	journal, err := audit.Open(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open journal: %v\n", err)
		os.Exit(1)
	}
	defer journal.Close()

	if err := export(os.Stdout, journal, *outDir, *window, *format, time.Now); err != nil {
		fmt.Fprintf(os.Stderr, "failed to export journal: %v\n", err)
		os.Exit(1)
	}
}

// resolveDSN prefers the flag; otherwise the config's Audit.DSN. The config
// is only consulted when the file exists so the tool never scaffolds one.
func resolveDSN(flagDSN, configPath string) (string, error) {
	if trimmed := strings.TrimSpace(flagDSN); trimmed != "" {
		return trimmed, nil
	}
	if _, err := os.Stat(configPath); err != nil {
		return "", fmt.Errorf("no --dsn given and config %s unreadable: %w", configPath, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	if trimmed := strings.TrimSpace(cfg.Audit.DSN); trimmed != "" {
		return trimmed, nil
	}
	return "", fmt.Errorf("no journal DSN: pass --dsn or set Audit.DSN in %s", configPath)
}

func export(out io.Writer, journal *audit.Journal, outDir string, window time.Duration, format string, now func() time.Time) error {
	switch format {
	case formatCSV, formatParquet, formatBoth:
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if window <= 0 {
		return fmt.Errorf("window must be positive")
	}

	end := now()
	start := end.Add(-window)
	batches, err := journal.Window(context.Background(), start)
	if err != nil {
		return err
	}
	rows := flatten(batches)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("ensure output dir: %w", err)
	}
	base := filepath.Join(outDir, fmt.Sprintf("journal_%s_%s", start.Format("20060102"), end.Format("20060102")))

	written := make([]string, 0, 2)
	if format == formatCSV || format == formatBoth {
		path := base + ".csv"
		if err := writeCSV(path, rows); err != nil {
			return err
		}
		written = append(written, path)
	}
	if format == formatParquet || format == formatBoth {
		path := base + ".parquet"
		if err := writeParquet(path, rows); err != nil {
			return err
		}
		written = append(written, path)
	}

	fmt.Fprintf(out, "exported %d batches (%d rows)\n", len(batches), len(rows))
	for _, path := range written {
		fmt.Fprintf(out, "  %s\n", path)
	}
	return nil
}

// exportRow flattens one journal action into an analysis-friendly record.
// Batches without actions (rejections) export as a single row with
// position -1 and empty action fields, so nothing silently drops out.
type exportRow struct {
	BatchID           string `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Digest            string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	Caller            string `parquet:"name=caller, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status            string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error             string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	RewardOnly        bool   `parquet:"name=reward_only, type=BOOLEAN"`
	TotalAssetsBefore string `parquet:"name=total_assets_before, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalAssetsAfter  string `parquet:"name=total_assets_after, type=BYTE_ARRAY, convertedtype=UTF8"`
	DurationMicros    int64  `parquet:"name=duration_micros, type=INT64"`
	RecordedAt        string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	Position          int32  `parquet:"name=position, type=INT32"`
	Fuse              string `parquet:"name=fuse, type=BYTE_ARRAY, convertedtype=UTF8"`
	Market            int64  `parquet:"name=market, type=INT64"`
	Op                string `parquet:"name=op, type=BYTE_ARRAY, convertedtype=UTF8"`
	Noop              bool   `parquet:"name=noop, type=BOOLEAN"`
	Asset             string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount            string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Out               string `parquet:"name=out, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func flatten(batches []audit.Batch) []*exportRow {
	rows := make([]*exportRow, 0, len(batches))
	for _, batch := range batches {
		head := exportRow{
			BatchID:           batch.ID.String(),
			Digest:            batch.Digest,
			Caller:            batch.Caller,
			Status:            string(batch.Status),
			Error:             batch.Error,
			RewardOnly:        batch.RewardOnly,
			TotalAssetsBefore: batch.TotalAssetsBefore,
			TotalAssetsAfter:  batch.TotalAssetsAfter,
			DurationMicros:    batch.DurationMicros,
			RecordedAt:        batch.CreatedAt.UTC().Format(time.RFC3339),
		}
		if len(batch.Actions) == 0 {
			row := head
			row.Position = -1
			rows = append(rows, &row)
			continue
		}
		for _, action := range batch.Actions {
			row := head
			row.Position = int32(action.Position)
			row.Fuse = action.Fuse
			row.Market = int64(action.Market)
			row.Op = action.Op
			row.Noop = action.Noop
			row.Asset = action.Asset
			row.Amount = action.Amount
			row.Out = action.Out
			rows = append(rows, &row)
		}
	}
	return rows
}

var csvHeader = []string{
	"batch_id", "digest", "caller", "status", "error", "reward_only",
	"total_assets_before", "total_assets_after", "duration_micros", "recorded_at",
	"position", "fuse", "market", "op", "noop", "asset", "amount", "out",
}

func writeCSV(path string, rows []*exportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.BatchID,
			row.Digest,
			row.Caller,
			row.Status,
			row.Error,
			boolString(row.RewardOnly),
			row.TotalAssetsBefore,
			row.TotalAssetsAfter,
			strconv.FormatInt(row.DurationMicros, 10),
			row.RecordedAt,
			strconv.FormatInt(int64(row.Position), 10),
			row.Fuse,
			strconv.FormatInt(row.Market, 10),
			row.Op,
			boolString(row.Noop),
			row.Asset,
			row.Amount,
			row.Out,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeParquet(path string, rows []*exportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(exportRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close parquet file: %w", err)
	}
	return nil
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
