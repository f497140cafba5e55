package valuation

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SampleStore {
	t.Helper()
	store, err := OpenSampleStore(filepath.Join(t.TempDir(), "samples.db"))
	if err != nil {
		t.Fatalf("open sample store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSampleStoreLatestPerAsset(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	if err := store.Record(ctx, usdc, big.NewInt(99), 2, "old", base); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(ctx, usdc, big.NewInt(101), 2, "new", base.Add(time.Minute)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(ctx, weth, big.NewInt(180_000), 2, "ops", base); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := store.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	byAsset := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byAsset[e.Asset.Hex()] = e
	}
	got, ok := byAsset[usdc.Hex()]
	if !ok {
		t.Fatalf("usdc missing from latest set")
	}
	if got.Num.Cmp(big.NewInt(101)) != 0 || got.Source != "new" {
		t.Fatalf("latest sample not the newest: %+v", got)
	}
}

func TestSampleStoreHistoryNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()

	for i := 1; i <= 5; i++ {
		if err := store.Record(ctx, usdc, big.NewInt(int64(i)), 0, "ops", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	history, err := store.History(ctx, usdc, 3)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(history))
	}
	if history[0].Num.Int64() != 5 || history[2].Num.Int64() != 3 {
		t.Fatalf("history not newest first: %v", history)
	}
}

func TestSampleStoreRejectsBadSample(t *testing.T) {
	store := openTestStore(t)
	if err := store.Record(context.Background(), usdc, nil, 0, "", time.Now()); err == nil {
		t.Fatalf("nil numerator should fail")
	}
	if err := store.Record(context.Background(), usdc, big.NewInt(0), 0, "", time.Now()); err == nil {
		t.Fatalf("zero numerator should fail")
	}
}

func TestSampleStoreSeedsOracle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0).UTC()

	if err := store.Record(ctx, usdc, big.NewInt(1_000_000), 6, "ops", now); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Record(ctx, weth, big.NewInt(1_843), 0, "ops", now); err != nil {
		t.Fatalf("record: %v", err)
	}

	oracle := NewManualOracle()
	restored, err := store.Seed(ctx, oracle)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if restored != 2 {
		t.Fatalf("expected 2 restored quotes, got %d", restored)
	}
	num, decimals, err := oracle.Price(usdc)
	if err != nil {
		t.Fatalf("price after seed: %v", err)
	}
	if num.Cmp(big.NewInt(1_000_000)) != 0 || decimals != 6 {
		t.Fatalf("unexpected reseeded quote: %s at %d", num, decimals)
	}
}
