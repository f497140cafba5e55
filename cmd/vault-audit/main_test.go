package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/audit"
	"omnivault/native/fuses"
)

func seededJournal(t *testing.T) *audit.Journal {
	t.Helper()
	journal, err := audit.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	fuse := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	_, err = journal.RecordBatch(context.Background(), audit.Entry{
		Digest: common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"),
		Caller: common.HexToAddress("0x00000000000000000000000000000000000000e1"),
		Receipts: []*fuses.Receipt{
			{Fuse: fuse, Market: 1, Op: "enter", Amount: big.NewInt(1000)},
			{Fuse: fuse, Market: 1, Op: "exit", Amount: big.NewInt(500)},
		},
		TotalBefore: big.NewInt(5000),
		TotalAfter:  big.NewInt(5000),
		Duration:    700 * time.Microsecond,
	})
	if err != nil {
		t.Fatalf("record committed: %v", err)
	}
	_, err = journal.RecordBatch(context.Background(), audit.Entry{
		Digest: common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222"),
		Caller: common.HexToAddress("0x00000000000000000000000000000000000000e2"),
		Err:    errors.New("unsupported substrate"),
	})
	if err != nil {
		t.Fatalf("record rejected: %v", err)
	}
	return journal
}

func TestExportWritesCSVAndParquet(t *testing.T) {
	journal := seededJournal(t)
	outDir := t.TempDir()
	fixed := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	var out bytes.Buffer
	if err := export(&out, journal, outDir, 365*24*time.Hour, formatBoth, func() time.Time { return fixed }); err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out.String(), "exported 2 batches (3 rows)") {
		t.Fatalf("unexpected summary: %s", out.String())
	}

	csvPath := filepath.Join(outDir, "journal_20250825_20260825.csv")
	raw, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(raw)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header plus three rows, got %d", len(records))
	}
	body := string(raw)
	if !strings.Contains(body, "COMMITTED") || !strings.Contains(body, "REJECTED") {
		t.Fatalf("statuses missing from csv:\n%s", body)
	}
	if !strings.Contains(body, "unsupported substrate") {
		t.Fatalf("rejection reason missing from csv:\n%s", body)
	}

	info, err := os.Stat(filepath.Join(outDir, "journal_20250825_20260825.parquet"))
	if err != nil {
		t.Fatalf("stat parquet: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("parquet file is empty")
	}
}

func TestExportCSVOnly(t *testing.T) {
	journal := seededJournal(t)
	outDir := t.TempDir()
	fixed := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	var out bytes.Buffer
	if err := export(&out, journal, outDir, 365*24*time.Hour, formatCSV, func() time.Time { return fixed }); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "journal_20250825_20260825.csv")); err != nil {
		t.Fatalf("csv missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "journal_20250825_20260825.parquet")); !os.IsNotExist(err) {
		t.Fatalf("parquet should not be written: %v", err)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	journal := seededJournal(t)
	var out bytes.Buffer
	if err := export(&out, journal, t.TempDir(), time.Hour, "xml", time.Now); err == nil {
		t.Fatal("expected unknown format rejection")
	}
}

func TestFlattenRejectedBatchKeepsOneRow(t *testing.T) {
	batches := []audit.Batch{{Digest: "0xabc", Status: audit.StatusRejected, Error: "boom"}}
	rows := flatten(batches)
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if rows[0].Position != -1 || rows[0].Error != "boom" {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestResolveDSNPrefersFlag(t *testing.T) {
	dsn, err := resolveDSN("flag.db", filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if dsn != "flag.db" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}

func TestResolveDSNFallsBackToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := "RPCAddress = \":8645\"\nDataDir = \"./data\"\n\n[Audit]\nDSN = \"from-config.db\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	dsn, err := resolveDSN("", path)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if dsn != "from-config.db" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}

func TestResolveDSNErrorsWithoutAnySource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("RPCAddress = \":8645\"\nDataDir = \"./data\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := resolveDSN("", path); err == nil {
		t.Fatal("expected missing DSN error")
	}
}
