package dex

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/state"
	"omnivault/native/dispatch"
	"omnivault/native/fuses"
	"omnivault/native/registry"
	"omnivault/native/valuation"
	"omnivault/storage"
	"omnivault/storage/trie"
)

const testMarket = 2

var (
	vaultAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	callerAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	fuseAddr   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	venueAddr  = common.HexToAddress("0x0000000000000000000000000000000000002001")
	usdcAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	wethAddr   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func newHarness(t *testing.T) (*state.Manager, *fuses.Context) {
	t.Helper()
	tr, err := trie.NewTrie(storage.NewMemDB(), nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	st := state.NewManager(tr)
	if err := st.RegisterAsset(state.AssetRecord{Address: usdcAddr, Symbol: "USDC", Decimals: 6}); err != nil {
		t.Fatalf("register usdc: %v", err)
	}
	if err := st.RegisterAsset(state.AssetRecord{Address: wethAddr, Symbol: "WETH", Decimals: 18}); err != nil {
		t.Fatalf("register weth: %v", err)
	}
	if err := st.MarketPut(registry.Market{ID: testMarket, Name: "spot"}); err != nil {
		t.Fatalf("put market: %v", err)
	}
	for _, sub := range []registry.Substrate{
		registry.NewSubstrate(registry.KindPool, venueAddr),
		registry.NewSubstrate(registry.KindAsset, usdcAddr),
		registry.NewSubstrate(registry.KindAsset, wethAddr),
	} {
		if err := st.SubstrateGrant(testMarket, sub); err != nil {
			t.Fatalf("grant %s: %v", sub, err)
		}
	}
	if err := st.Credit(usdcAddr, vaultAddr, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("credit idle: %v", err)
	}
	ctx := &fuses.Context{
		Vault:     vaultAddr,
		Caller:    callerAddr,
		State:     st,
		Transient: dispatch.NewTransientContext().Scope(callerAddr),
	}
	return st, ctx
}

func newFuse(t *testing.T, feeBps uint16) *Fuse {
	t.Helper()
	f, err := New(fuseAddr, testMarket, feeBps)
	if err != nil {
		t.Fatalf("new fuse: %v", err)
	}
	return f
}

func encodeArgs(t *testing.T, args Args) []byte {
	t.Helper()
	data, err := args.Encode()
	if err != nil {
		t.Fatalf("encode args: %v", err)
	}
	return data
}

func balance(t *testing.T, st *state.Manager, asset common.Address) *big.Int {
	t.Helper()
	b, err := st.BalanceOf(asset, vaultAddr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func TestSwapAppliesFee(t *testing.T) {
	st, ctx := newHarness(t)
	fuse := newFuse(t, 30)

	quote := big.NewInt(1_000_000_000_000_000_000) // 1 WETH gross
	receipt, err := fuse.Enter(ctx, encodeArgs(t, Args{
		Pool:     venueAddr,
		In:       usdcAddr,
		Out:      wethAddr,
		AmountIn: big.NewInt(2_000_000_000),
		QuoteOut: quote,
	}))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	want := new(big.Int).Mul(quote, big.NewInt(9_970))
	want.Div(want, big.NewInt(10_000))
	if receipt.Out.Cmp(want) != 0 {
		t.Fatalf("expected net %s, got %s", want, receipt.Out)
	}
	if got := balance(t, st, wethAddr); got.Cmp(want) != 0 {
		t.Fatalf("weth balance %s, expected %s", got, want)
	}
}

func TestSwapSpendsInputLeg(t *testing.T) {
	st, ctx := newHarness(t)
	fuse := newFuse(t, 0)

	in := big.NewInt(250_000_000)
	if _, err := fuse.Enter(ctx, encodeArgs(t, Args{
		Pool: venueAddr, In: usdcAddr, Out: wethAddr,
		AmountIn: in, QuoteOut: big.NewInt(1),
	})); err != nil {
		t.Fatalf("swap: %v", err)
	}
	want := new(big.Int).Sub(big.NewInt(1_000_000_000), in)
	if got := balance(t, st, usdcAddr); got.Cmp(want) != 0 {
		t.Fatalf("usdc balance %s, expected %s", got, want)
	}
}

func TestSwapEnforcesOutputFloor(t *testing.T) {
	st, ctx := newHarness(t)
	fuse := newFuse(t, 30)

	_, err := fuse.Enter(ctx, encodeArgs(t, Args{
		Pool: venueAddr, In: usdcAddr, Out: wethAddr,
		AmountIn: big.NewInt(100),
		QuoteOut: big.NewInt(10_000),
		MinOut:   big.NewInt(10_000), // fee pushes net below this
	}))
	var insufficient *fuses.InsufficientOutputError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientOutputError, got %v", err)
	}
	if insufficient.Expected.Cmp(big.NewInt(10_000)) != 0 || insufficient.Actual.Cmp(big.NewInt(9_970)) != 0 {
		t.Fatalf("unexpected floor report: %+v", insufficient)
	}
	if got := balance(t, st, usdcAddr); got.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("failed swap must not move funds: %s", got)
	}
}

func TestSwapRejectsUngrantedVenue(t *testing.T) {
	_, ctx := newHarness(t)
	fuse := newFuse(t, 0)

	stranger := common.HexToAddress("0x0000000000000000000000000000000000003003")
	_, err := fuse.Enter(ctx, encodeArgs(t, Args{
		Pool: stranger, In: usdcAddr, Out: wethAddr,
		AmountIn: big.NewInt(1), QuoteOut: big.NewInt(1),
	}))
	if !errors.Is(err, fuses.ErrUnsupportedSubstrate) {
		t.Fatalf("expected ErrUnsupportedSubstrate, got %v", err)
	}
}

func TestSwapRejectsUngrantedToken(t *testing.T) {
	st, ctx := newHarness(t)
	fuse := newFuse(t, 0)

	dai := common.HexToAddress("0x00000000000000000000000000000000000000ab")
	if err := st.RegisterAsset(state.AssetRecord{Address: dai, Symbol: "DAI", Decimals: 18}); err != nil {
		t.Fatalf("register dai: %v", err)
	}
	_, err := fuse.Enter(ctx, encodeArgs(t, Args{
		Pool: venueAddr, In: usdcAddr, Out: dai,
		AmountIn: big.NewInt(1), QuoteOut: big.NewInt(1),
	}))
	if !errors.Is(err, fuses.ErrUnsupportedSubstrate) {
		t.Fatalf("expected ErrUnsupportedSubstrate, got %v", err)
	}
}

func TestSwapZeroAmountIsNoop(t *testing.T) {
	st, ctx := newHarness(t)
	fuse := newFuse(t, 30)

	receipt, err := fuse.Enter(ctx, encodeArgs(t, Args{Pool: venueAddr, In: usdcAddr, Out: wethAddr}))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !receipt.Noop {
		t.Fatalf("zero swap should be a noop")
	}
	if got := balance(t, st, usdcAddr); got.Cmp(big.NewInt(1_000_000_000)) != 0 {
		t.Fatalf("noop must not move funds: %s", got)
	}
}

func TestSwapSameAssetRejected(t *testing.T) {
	_, ctx := newHarness(t)
	fuse := newFuse(t, 0)
	_, err := fuse.Enter(ctx, encodeArgs(t, Args{
		Pool: venueAddr, In: usdcAddr, Out: usdcAddr,
		AmountIn: big.NewInt(1), QuoteOut: big.NewInt(1),
	}))
	if err == nil {
		t.Fatalf("expected same-asset rejection")
	}
}

func TestSwapInsufficientBalance(t *testing.T) {
	_, ctx := newHarness(t)
	fuse := newFuse(t, 0)
	_, err := fuse.Enter(ctx, encodeArgs(t, Args{
		Pool: venueAddr, In: usdcAddr, Out: wethAddr,
		AmountIn: big.NewInt(2_000_000_000), QuoteOut: big.NewInt(1),
	}))
	if !errors.Is(err, state.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestSwapStagesOutputForNextFuse(t *testing.T) {
	_, ctx := newHarness(t)
	fuse := newFuse(t, 0)

	stage := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	stagePool := common.HexToAddress("0x0000000000000000000000000000000000001001")
	out := big.NewInt(5_000)
	if _, err := fuse.Enter(ctx, encodeArgs(t, Args{
		Pool: venueAddr, In: usdcAddr, Out: wethAddr,
		AmountIn: big.NewInt(100), QuoteOut: out,
		Stage: stage, StagePool: stagePool,
	})); err != nil {
		t.Fatalf("swap: %v", err)
	}

	words := ctx.Transient.Inputs(stage)
	if len(words) != 3 {
		t.Fatalf("expected 3 staged words, got %d", len(words))
	}
	if words[0].Address() != stagePool {
		t.Fatalf("staged pool mismatch: %s", words[0].Address().Hex())
	}
	if words[1].Address() != wethAddr {
		t.Fatalf("staged asset mismatch: %s", words[1].Address().Hex())
	}
	if words[2].Big().Cmp(out) != 0 {
		t.Fatalf("staged amount mismatch: %s", words[2].Big())
	}
}

func TestNewRejectsAbsurdFee(t *testing.T) {
	if _, err := New(fuseAddr, testMarket, 10_000); err == nil {
		t.Fatalf("expected fee rejection")
	}
}

func TestBalanceFuseValuesNonBaseHoldings(t *testing.T) {
	st, _ := newHarness(t)

	oneWeth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	held := new(big.Int).Mul(big.NewInt(3), oneWeth)
	if err := st.Credit(wethAddr, vaultAddr, held); err != nil {
		t.Fatalf("credit weth: %v", err)
	}

	oracle := valuation.NewManualOracle()
	if err := oracle.SetPriceString(wethAddr, "2000", "test"); err != nil {
		t.Fatalf("set weth price: %v", err)
	}

	fuse := NewBalanceFuse(common.HexToAddress("0x00000000000000000000000000000000000000b2"), testMarket, usdcAddr)
	value, err := fuse.Value(&fuses.ReadContext{Vault: vaultAddr, State: st, Prices: oracle})
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(6000), oneWeth)
	if value.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, value)
	}
}

func TestBalanceFuseSkipsBaseAsset(t *testing.T) {
	st, _ := newHarness(t)
	// Only the base asset is held; value must be zero with no price needed.
	fuse := NewBalanceFuse(common.HexToAddress("0x00000000000000000000000000000000000000b2"), testMarket, usdcAddr)
	value, err := fuse.Value(&fuses.ReadContext{Vault: vaultAddr, State: st, Prices: valuation.NewManualOracle()})
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value.Sign() != 0 {
		t.Fatalf("expected zero, got %s", value)
	}
}

func TestArgsRoundTrip(t *testing.T) {
	original := Args{
		Pool: venueAddr, In: usdcAddr, Out: wethAddr,
		AmountIn: big.NewInt(7), QuoteOut: big.NewInt(8), MinOut: big.NewInt(6),
		Stage: fuseAddr, StagePool: venueAddr,
	}
	data, err := original.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeArgs(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Pool != original.Pool || decoded.In != original.In || decoded.Out != original.Out {
		t.Fatalf("address fields drifted: %+v", decoded)
	}
	if decoded.AmountIn.Cmp(original.AmountIn) != 0 || decoded.QuoteOut.Cmp(original.QuoteOut) != 0 || decoded.MinOut.Cmp(original.MinOut) != 0 {
		t.Fatalf("amount fields drifted: %+v", decoded)
	}
	if decoded.Stage != original.Stage || decoded.StagePool != original.StagePool {
		t.Fatalf("stage fields drifted: %+v", decoded)
	}
}
