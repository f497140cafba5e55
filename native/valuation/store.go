package valuation

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/glebarez/go-sqlite"
)

// SampleStore journals every accepted quote so the oracle can be reseeded
// after a restart. The canonical live quote stays in memory; this table is
// history plus recovery.
type SampleStore struct {
	db *sql.DB
}

func OpenSampleStore(path string) (*SampleStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SampleStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SampleStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS price_samples (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            asset TEXT NOT NULL,
            num TEXT NOT NULL,
            decimals INTEGER NOT NULL,
            source TEXT,
            recorded_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_price_samples_asset ON price_samples(asset, id);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SampleStore) Close() error {
	return s.db.Close()
}

// Record appends one quote. Numerators are stored as text so they survive
// any magnitude.
func (s *SampleStore) Record(ctx context.Context, asset common.Address, num *big.Int, decimals uint8, source string, at time.Time) error {
	if num == nil || num.Sign() <= 0 {
		return fmt.Errorf("valuation: sample for %s must be positive", asset.Hex())
	}
	const stmt = `INSERT INTO price_samples(asset, num, decimals, source, recorded_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, strings.ToLower(asset.Hex()), num.String(), decimals, source, at.UTC())
	return err
}

// Latest returns the newest sample per asset.
func (s *SampleStore) Latest(ctx context.Context) ([]Entry, error) {
	const query = `SELECT p.asset, p.num, p.decimals, p.source, p.recorded_at
        FROM price_samples p
        JOIN (SELECT asset, MAX(id) AS id FROM price_samples GROUP BY asset) newest
        ON p.id = newest.id
        ORDER BY p.asset`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// History returns the most recent samples for one asset, newest first.
func (s *SampleStore) History(ctx context.Context, asset common.Address, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT asset, num, decimals, source, recorded_at
        FROM price_samples WHERE asset = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, strings.ToLower(asset.Hex()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Seed replays the newest sample per asset into the oracle. Returns how
// many assets were restored.
func (s *SampleStore) Seed(ctx context.Context, oracle *ManualOracle) (int, error) {
	entries, err := s.Latest(ctx)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if err := oracle.SetPrice(entry.Asset, entry.Num, entry.Decimals, entry.Source); err != nil {
			return 0, fmt.Errorf("valuation: reseed %s: %w", entry.Asset.Hex(), err)
		}
	}
	return len(entries), nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			assetHex string
			numText  string
			decimals uint8
			source   sql.NullString
			at       time.Time
		)
		if err := rows.Scan(&assetHex, &numText, &decimals, &source, &at); err != nil {
			return nil, err
		}
		num, ok := new(big.Int).SetString(numText, 10)
		if !ok {
			return nil, fmt.Errorf("valuation: corrupt sample numerator %q", numText)
		}
		entries = append(entries, Entry{
			Asset: common.HexToAddress(assetHex),
			Price: Price{Num: num, Decimals: decimals, Source: source.String, UpdatedAt: at},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
