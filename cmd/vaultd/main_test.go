package main

import (
	"bytes"
	"log/slog"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core"
	"omnivault/core/events"
	"omnivault/native/fuses"
	"omnivault/native/valuation"
	"omnivault/storage"
)

func TestResolveGenesisPathPrecedence(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key != genesisPathEnv {
			t.Fatalf("unexpected lookup key: %s", key)
		}
		return "env-path", true
	}

	t.Run("cli flag takes precedence", func(t *testing.T) {
		if path := resolveGenesisPath("cli-path", "cfg-path", lookup); path != "cli-path" {
			t.Fatalf("unexpected path: got %q want %q", path, "cli-path")
		}
	})

	t.Run("environment overrides config", func(t *testing.T) {
		if path := resolveGenesisPath("", "cfg-path", lookup); path != "env-path" {
			t.Fatalf("unexpected path: got %q want %q", path, "env-path")
		}
	})

	t.Run("config used when no other sources", func(t *testing.T) {
		emptyLookup := func(string) (string, bool) { return "", false }
		if path := resolveGenesisPath("", "cfg-path", emptyLookup); path != "cfg-path" {
			t.Fatalf("unexpected path: got %q want %q", path, "cfg-path")
		}
	})

	t.Run("empty when nothing configured", func(t *testing.T) {
		emptyLookup := func(string) (string, bool) { return "", false }
		if path := resolveGenesisPath("", "", emptyLookup); path != "" {
			t.Fatalf("expected empty path, got %q", path)
		}
	})
}

func TestResolveGenesisPathTrimsValues(t *testing.T) {
	blankLookup := func(string) (string, bool) { return "  \t ", true }
	if path := resolveGenesisPath("  cli  ", " cfg ", blankLookup); path != "cli" {
		t.Fatalf("expected trimmed CLI path, got %q", path)
	}
	if path := resolveGenesisPath("", " cfg ", blankLookup); path != "cfg" {
		t.Fatalf("expected trimmed config path, got %q", path)
	}
}

func TestDialAddressFor(t *testing.T) {
	cases := []struct {
		addr string
		want string
	}{
		{":8645", "127.0.0.1:8645"},
		{"0.0.0.0:8645", "0.0.0.0:8645"},
		{"localhost:8645", "localhost:8645"},
		{"not-a-host-port", "not-a-host-port"},
	}
	for _, tc := range cases {
		if got := dialAddressFor(tc.addr); got != tc.want {
			t.Fatalf("dialAddressFor(%q) = %q, want %q", tc.addr, got, tc.want)
		}
	}
}

func TestEngineEmitterLogsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	emitter := &engineEmitter{logger: logger}

	emitter.Emit(nil)
	if buf.Len() != 0 {
		t.Fatalf("nil event should not log, got %q", buf.String())
	}

	emitter.Emit(events.VaultDeposit{
		Account:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Amount:      big.NewInt(500),
		SharesAdded: big.NewInt(500),
	})
	out := buf.String()
	if !strings.Contains(out, events.TypeVaultDeposit) {
		t.Fatalf("expected event type in log output, got %q", out)
	}
	if !strings.Contains(out, `"amount":"500"`) {
		t.Fatalf("expected amount attribute in log output, got %q", out)
	}
}

func TestRefreshPortfolioToleratesUninitialisedVault(t *testing.T) {
	oracle := valuation.NewManualOracle()
	vault, err := core.NewVault(storage.NewMemDB(), fuses.NewBank(), oracle, core.Config{
		BaseAsset:    common.HexToAddress("0x0000000000000000000000000000000000000b01"),
		VaultAddress: common.HexToAddress("0x0000000000000000000000000000000000000b02"),
	})
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Pre-genesis the valuation read fails; the refresher must log and move on.
	refreshPortfolio(logger, vault)
	if !strings.Contains(buf.String(), "portfolio valuation unavailable") {
		t.Fatalf("expected debug log for unavailable valuation, got %q", buf.String())
	}
}
