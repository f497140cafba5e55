package rewards

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/state"
	"omnivault/native/fuses"
	"omnivault/native/registry"
	"omnivault/native/valuation"
	"omnivault/storage"
	"omnivault/storage/trie"
)

const testMarket = 5

var (
	vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	fuseAddr  = common.HexToAddress("0x00000000000000000000000000000000000000d5")
	gaugeAddr = common.HexToAddress("0x0000000000000000000000000000000000005001")
	arbAddr   = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

func newHarness(t *testing.T) (*state.Manager, *fuses.Context) {
	t.Helper()
	tr, err := trie.NewTrie(storage.NewMemDB(), nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	st := state.NewManager(tr)
	if err := st.RegisterAsset(state.AssetRecord{Address: arbAddr, Symbol: "ARB", Decimals: 18}); err != nil {
		t.Fatalf("register arb: %v", err)
	}
	if err := st.MarketPut(registry.Market{ID: testMarket, Name: "incentives"}); err != nil {
		t.Fatalf("put market: %v", err)
	}
	if err := st.SubstrateGrant(testMarket, registry.NewSubstrate(registry.KindGauge, gaugeAddr)); err != nil {
		t.Fatalf("grant gauge: %v", err)
	}
	return st, &fuses.Context{Vault: vaultAddr, State: st}
}

func claimArgs(t *testing.T, gauge common.Address) []byte {
	t.Helper()
	data, err := Args{Gauge: gauge}.Encode()
	if err != nil {
		t.Fatalf("encode args: %v", err)
	}
	return data
}

func TestAccrueAndClaim(t *testing.T) {
	st, ctx := newHarness(t)
	fuse := New(fuseAddr, testMarket)

	if err := Accrue(st, testMarket, gaugeAddr, arbAddr, big.NewInt(100)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := Accrue(st, testMarket, gaugeAddr, arbAddr, big.NewInt(50)); err != nil {
		t.Fatalf("second accrue: %v", err)
	}

	receipt, err := fuse.Enter(ctx, claimArgs(t, gaugeAddr))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if receipt.Noop {
		t.Fatalf("claim with accrual should not be a noop")
	}
	if receipt.Amount.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected claim of 150, got %s", receipt.Amount)
	}
	got, err := st.BalanceOf(arbAddr, vaultAddr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("claim did not land in idle balance: %s", got)
	}

	// Claimed accruals are cleared.
	second, err := fuse.Enter(ctx, claimArgs(t, gaugeAddr))
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if !second.Noop {
		t.Fatalf("claim after clear should be a noop")
	}
}

func TestClaimNothingIsNoop(t *testing.T) {
	_, ctx := newHarness(t)
	fuse := New(fuseAddr, testMarket)
	receipt, err := fuse.Enter(ctx, claimArgs(t, gaugeAddr))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !receipt.Noop {
		t.Fatalf("empty gauge claim should be a noop")
	}
}

func TestClaimUngrantedGauge(t *testing.T) {
	_, ctx := newHarness(t)
	fuse := New(fuseAddr, testMarket)
	stranger := common.HexToAddress("0x0000000000000000000000000000000000009009")
	if _, err := fuse.Enter(ctx, claimArgs(t, stranger)); !errors.Is(err, fuses.ErrUnsupportedSubstrate) {
		t.Fatalf("expected ErrUnsupportedSubstrate, got %v", err)
	}
}

func TestAccrueValidation(t *testing.T) {
	st, _ := newHarness(t)
	if err := Accrue(st, testMarket, gaugeAddr, arbAddr, nil); err == nil {
		t.Fatalf("nil accrual should fail")
	}
	if err := Accrue(st, testMarket, gaugeAddr, arbAddr, big.NewInt(0)); err == nil {
		t.Fatalf("zero accrual should fail")
	}
	if err := Accrue(st, testMarket, gaugeAddr, arbAddr, big.NewInt(-5)); err == nil {
		t.Fatalf("negative accrual should fail")
	}

	if err := Accrue(st, testMarket, gaugeAddr, arbAddr, big.NewInt(10)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	other := common.HexToAddress("0x00000000000000000000000000000000000000de")
	if err := Accrue(st, testMarket, gaugeAddr, other, big.NewInt(10)); err == nil {
		t.Fatalf("asset switch should fail")
	}
}

func TestPending(t *testing.T) {
	st, _ := newHarness(t)
	if _, found, err := Pending(st, testMarket, gaugeAddr); err != nil || found {
		t.Fatalf("expected no pending accrual, found=%v err=%v", found, err)
	}
	if err := Accrue(st, testMarket, gaugeAddr, arbAddr, big.NewInt(70)); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	rec, found, err := Pending(st, testMarket, gaugeAddr)
	if err != nil || !found {
		t.Fatalf("expected pending accrual, found=%v err=%v", found, err)
	}
	if rec.Asset != arbAddr || rec.Accrued.Cmp(big.NewInt(70)) != 0 {
		t.Fatalf("unexpected accrual: %+v", rec)
	}
}

func TestExitNotSupported(t *testing.T) {
	_, ctx := newHarness(t)
	fuse := New(fuseAddr, testMarket)
	if _, err := fuse.Exit(ctx, nil); err == nil {
		t.Fatalf("exit should fail")
	}
}

func TestBalanceFuseValuesPending(t *testing.T) {
	st, _ := newHarness(t)
	amount := new(big.Int).Mul(big.NewInt(100), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	if err := Accrue(st, testMarket, gaugeAddr, arbAddr, amount); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	oracle := valuation.NewManualOracle()
	if err := oracle.SetPriceString(arbAddr, "2", "test"); err != nil {
		t.Fatalf("price arb: %v", err)
	}

	bf := NewBalanceFuse(common.HexToAddress("0x00000000000000000000000000000000000000b5"), testMarket)
	value, err := bf.Value(&fuses.ReadContext{Vault: vaultAddr, State: st, Prices: oracle})
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(200), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	if value.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, value)
	}
}
