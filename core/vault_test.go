package core

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/events"
	"omnivault/core/state"
	"omnivault/native/access"
	nativecommon "omnivault/native/common"
	"omnivault/native/dispatch"
	"omnivault/native/fuses"
	"omnivault/native/fuses/dex"
	"omnivault/native/fuses/lend"
	"omnivault/native/fuses/rewards"
	"omnivault/native/registry"
	"omnivault/native/valuation"
	"omnivault/storage"
)

const (
	marketLend   = uint64(1)
	marketReward = uint64(2)
	marketDex    = uint64(3)
)

var (
	testUSDC      = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	testDAI       = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	testVaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testAdmin     = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	testExecutor  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	testClaimer   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testDepositor = common.HexToAddress("0x00000000000000000000000000000000000000d1")

	lendFuseAddr      = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	lendBalanceAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	rewardFuseAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	rewardBalanceAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	dexFuseAddr       = common.HexToAddress("0x00000000000000000000000000000000000000f3")
	dexBalanceAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b3")

	lendPool  = common.HexToAddress("0x0000000000000000000000000000000000000070")
	testGauge = common.HexToAddress("0x0000000000000000000000000000000000000071")
	dexVenue  = common.HexToAddress("0x0000000000000000000000000000000000000072")
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func daiUnits(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wadUnit)
}

func testBank(t *testing.T) *fuses.Bank {
	t.Helper()
	bank := fuses.NewBank()
	if err := bank.Register(lend.New(lendFuseAddr, marketLend), false); err != nil {
		t.Fatalf("register lend fuse: %v", err)
	}
	if err := bank.RegisterBalance(lend.NewBalanceFuse(lendBalanceAddr, marketLend)); err != nil {
		t.Fatalf("register lend balance fuse: %v", err)
	}
	if err := bank.Register(rewards.New(rewardFuseAddr, marketReward), true); err != nil {
		t.Fatalf("register reward fuse: %v", err)
	}
	if err := bank.RegisterBalance(rewards.NewBalanceFuse(rewardBalanceAddr, marketReward)); err != nil {
		t.Fatalf("register reward balance fuse: %v", err)
	}
	dexFuse, err := dex.New(dexFuseAddr, marketDex, 0)
	if err != nil {
		t.Fatalf("build dex fuse: %v", err)
	}
	if err := bank.Register(dexFuse, false); err != nil {
		t.Fatalf("register dex fuse: %v", err)
	}
	if err := bank.RegisterBalance(dex.NewBalanceFuse(dexBalanceAddr, marketDex, testUSDC)); err != nil {
		t.Fatalf("register dex balance fuse: %v", err)
	}
	return bank
}

func valuationOracle(t *testing.T) *valuation.ManualOracle {
	t.Helper()
	oracle := valuation.NewManualOracle()
	if err := oracle.SetPrice(testUSDC, big.NewInt(1), 0, "test"); err != nil {
		t.Fatalf("set usdc price: %v", err)
	}
	if err := oracle.SetPrice(testDAI, big.NewInt(1), 0, "test"); err != nil {
		t.Fatalf("set dai price: %v", err)
	}
	return oracle
}

func testGenesis() Genesis {
	return Genesis{
		Roles: map[string][]common.Address{
			access.RoleConfiguration: {testAdmin},
			access.RoleExecution:     {testExecutor},
			access.RoleRewardClaim:   {testClaimer},
		},
		Assets: []state.AssetRecord{
			{Address: testUSDC, Symbol: "USDC", Decimals: 6},
			{Address: testDAI, Symbol: "DAI", Decimals: 18},
		},
		Balances: []GenesisBalance{
			{Asset: testUSDC, Account: testDepositor, Amount: units(1_000_000)},
		},
		Markets: []GenesisMarket{
			{
				ID: marketLend, Name: "lend-usdc", BalanceFuse: lendBalanceAddr,
				Substrates: []registry.Substrate{registry.NewSubstrate(registry.KindPool, lendPool)},
			},
			{
				ID: marketReward, Name: "gauge-rewards", BalanceFuse: rewardBalanceAddr,
				Substrates: []registry.Substrate{registry.NewSubstrate(registry.KindGauge, testGauge)},
			},
			{
				ID: marketDex, Name: "dex", BalanceFuse: dexBalanceAddr,
				Dependencies: []uint64{marketLend},
				Substrates: []registry.Substrate{
					registry.NewSubstrate(registry.KindPool, dexVenue),
					registry.NewSubstrate(registry.KindAsset, testUSDC),
					registry.NewSubstrate(registry.KindAsset, testDAI),
				},
			},
		},
		Fuses: []state.FuseRecord{
			{Address: lendFuseAddr, Market: marketLend, Kind: "lend"},
			{Address: rewardFuseAddr, Market: marketReward, Kind: "rewards", Reward: true},
			{Address: dexFuseAddr, Market: marketDex, Kind: "dex"},
		},
	}
}

func newTestVaultWith(t *testing.T, db storage.Database, mut func(*Config)) *Vault {
	t.Helper()
	bank := testBank(t)
	oracle := valuationOracle(t)
	cfg := Config{BaseAsset: testUSDC, VaultAddress: testVaultAddr}
	if mut != nil {
		mut(&cfg)
	}
	v, err := NewVault(db, bank, oracle, cfg)
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	initialised, err := v.Initialised()
	if err != nil {
		t.Fatalf("check initialised: %v", err)
	}
	if !initialised {
		if err := v.InitGenesis(testGenesis()); err != nil {
			t.Fatalf("apply genesis: %v", err)
		}
	}
	return v
}

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	return newTestVaultWith(t, storage.NewMemDB(), nil)
}

func lendEnter(t *testing.T, pool, asset common.Address, amount *big.Int) dispatch.Action {
	t.Helper()
	args, err := lend.Args{Pool: pool, Asset: asset, Amount: amount}.Encode()
	if err != nil {
		t.Fatalf("encode lend args: %v", err)
	}
	return dispatch.Action{Fuse: lendFuseAddr, Op: dispatch.OpEnter, Args: args}
}

func lendExit(t *testing.T, pool, asset common.Address, amount *big.Int) dispatch.Action {
	t.Helper()
	args, err := lend.Args{Pool: pool, Asset: asset, Amount: amount}.Encode()
	if err != nil {
		t.Fatalf("encode lend args: %v", err)
	}
	return dispatch.Action{Fuse: lendFuseAddr, Op: dispatch.OpExit, Args: args}
}

func claimAction(t *testing.T, gauge common.Address) dispatch.Action {
	t.Helper()
	args, err := rewards.Args{Gauge: gauge}.Encode()
	if err != nil {
		t.Fatalf("encode claim args: %v", err)
	}
	return dispatch.Action{Fuse: rewardFuseAddr, Op: dispatch.OpEnter, Args: args}
}

func swapAndStage(t *testing.T, amountIn, quoteOut *big.Int) dispatch.Action {
	t.Helper()
	args, err := dex.Args{
		Pool: dexVenue, In: testUSDC, Out: testDAI,
		AmountIn: amountIn, QuoteOut: quoteOut, MinOut: quoteOut,
		Stage: lendFuseAddr, StagePool: lendPool,
	}.Encode()
	if err != nil {
		t.Fatalf("encode swap args: %v", err)
	}
	return dispatch.Action{Fuse: dexFuseAddr, Op: dispatch.OpEnter, Args: args}
}

func mustDeposit(t *testing.T, v *Vault, caller common.Address, amount *big.Int) *big.Int {
	t.Helper()
	shares, err := v.Deposit(caller, amount)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return shares
}

func mustExecute(t *testing.T, v *Vault, caller common.Address, actions ...dispatch.Action) []*fuses.Receipt {
	t.Helper()
	receipts, _, err := v.Execute(caller, actions)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return receipts
}

func TestInitGenesisRunsOnce(t *testing.T) {
	v := newTestVault(t)
	if err := v.InitGenesis(testGenesis()); !errors.Is(err, ErrAlreadyInitialised) {
		t.Fatalf("expected ErrAlreadyInitialised, got %v", err)
	}
}

func TestDepositMintsSharesOneToOne(t *testing.T) {
	v := newTestVault(t)
	shares := mustDeposit(t, v, testDepositor, units(300_000))
	if shares.Cmp(units(300_000)) != 0 {
		t.Fatalf("expected 1:1 bootstrap mint, got %s", shares)
	}
	idle, err := v.IdleBalance()
	if err != nil {
		t.Fatalf("idle: %v", err)
	}
	if idle.Cmp(units(300_000)) != 0 {
		t.Fatalf("unexpected idle balance: %s", idle)
	}
	total, err := v.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if total.Cmp(units(300_000)) != 0 {
		t.Fatalf("unexpected total assets: %s", total)
	}
	left, err := v.BalanceOf(testUSDC, testDepositor)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if left.Cmp(units(700_000)) != 0 {
		t.Fatalf("unexpected depositor balance: %s", left)
	}
}

func TestDepositZeroIsNoop(t *testing.T) {
	v := newTestVault(t)
	before, err := v.Ledger()
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	shares, err := v.Deposit(testDepositor, big.NewInt(0))
	if err != nil {
		t.Fatalf("zero deposit: %v", err)
	}
	if shares.Sign() != 0 {
		t.Fatalf("zero deposit minted %s shares", shares)
	}
	after, err := v.Ledger()
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if after.BatchSeq != before.BatchSeq {
		t.Fatalf("zero deposit advanced state: %d -> %d", before.BatchSeq, after.BatchSeq)
	}
}

func TestDepositNegativeRejected(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Deposit(testDepositor, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative deposit to fail")
	}
}

func TestWithdrawRoundTrip(t *testing.T) {
	v := newTestVault(t)
	mustDeposit(t, v, testDepositor, units(300_000))
	burned, err := v.Withdraw(testDepositor, units(100_000))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if burned.Cmp(units(100_000)) != 0 {
		t.Fatalf("unexpected shares burned: %s", burned)
	}
	balance, err := v.BalanceOf(testUSDC, testDepositor)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(units(800_000)) != 0 {
		t.Fatalf("unexpected depositor balance: %s", balance)
	}
	held, err := v.Shares(testDepositor)
	if err != nil {
		t.Fatalf("shares: %v", err)
	}
	if held.Cmp(units(200_000)) != 0 {
		t.Fatalf("unexpected remaining shares: %s", held)
	}
}

func TestWithdrawWithoutSharesRejected(t *testing.T) {
	v := newTestVault(t)
	mustDeposit(t, v, testDepositor, units(300_000))
	if _, err := v.Withdraw(testExecutor, units(1)); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}
}

func TestRoutingKeepsTotalAssets(t *testing.T) {
	v := newTestVault(t)
	mustDeposit(t, v, testDepositor, units(300_000))
	receipts := mustExecute(t, v, testExecutor, lendEnter(t, lendPool, testUSDC, units(200_000)))
	if len(receipts) != 1 {
		t.Fatalf("expected one receipt, got %d", len(receipts))
	}

	idle, err := v.IdleBalance()
	if err != nil {
		t.Fatalf("idle: %v", err)
	}
	if idle.Cmp(units(100_000)) != 0 {
		t.Fatalf("expected 100k idle after routing, got %s", idle)
	}
	total, err := v.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if total.Cmp(units(300_000)) != 0 {
		t.Fatalf("routing changed total assets: %s", total)
	}
}

func TestEnterExitRestoresIdle(t *testing.T) {
	v := newTestVault(t)
	mustDeposit(t, v, testDepositor, units(300_000))
	mustExecute(t, v, testExecutor, lendEnter(t, lendPool, testUSDC, units(200_000)))
	mustExecute(t, v, testExecutor, lendExit(t, lendPool, testUSDC, units(200_000)))

	idle, err := v.IdleBalance()
	if err != nil {
		t.Fatalf("idle: %v", err)
	}
	if idle.Cmp(units(300_000)) != 0 {
		t.Fatalf("expected idle restored, got %s", idle)
	}
	if _, err := v.Withdraw(testDepositor, units(300_000)); err != nil {
		t.Fatalf("full withdraw after unwind: %v", err)
	}
	balance, err := v.BalanceOf(testUSDC, testDepositor)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(units(1_000_000)) != 0 {
		t.Fatalf("depositor should be made whole, got %s", balance)
	}
}

func TestWithdrawLimitedToIdle(t *testing.T) {
	v := newTestVault(t)
	mustDeposit(t, v, testDepositor, units(300_000))
	mustExecute(t, v, testExecutor, lendEnter(t, lendPool, testUSDC, units(200_000)))

	if _, err := v.Withdraw(testDepositor, units(150_000)); !errors.Is(err, state.ErrInsufficientBalance) {
		t.Fatalf("expected idle shortfall, got %v", err)
	}
	if _, err := v.Withdraw(testDepositor, units(100_000)); err != nil {
		t.Fatalf("withdraw within idle: %v", err)
	}
}

func TestExecuteRollsBackAtomically(t *testing.T) {
	v := newTestVault(t)
	mustDeposit(t, v, testDepositor, units(300_000))
	before, err := v.Ledger()
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}

	strangerPool := common.HexToAddress("0x0000000000000000000000000000000000000079")
	_, _, err = v.Execute(testExecutor, []dispatch.Action{
		lendEnter(t, lendPool, testUSDC, units(50_000)),
		lendEnter(t, strangerPool, testUSDC, units(10_000)),
	})
	if !errors.Is(err, fuses.ErrUnsupportedSubstrate) {
		t.Fatalf("expected ErrUnsupportedSubstrate, got %v", err)
	}

	idle, err := v.IdleBalance()
	if err != nil {
		t.Fatalf("idle: %v", err)
	}
	if idle.Cmp(units(300_000)) != 0 {
		t.Fatalf("failed batch leaked state: idle %s", idle)
	}
	value, err := v.MarketValue(marketLend)
	if err != nil {
		t.Fatalf("market value: %v", err)
	}
	if value.Sign() != 0 {
		t.Fatalf("failed batch left a position worth %s", value)
	}
	after, err := v.Ledger()
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if after.BatchSeq != before.BatchSeq {
		t.Fatalf("failed batch advanced sequence: %d -> %d", before.BatchSeq, after.BatchSeq)
	}
}

func TestExecuteRequiresExecutionRole(t *testing.T) {
	v := newTestVault(t)
	mustDeposit(t, v, testDepositor, units(300_000))
	_, _, err := v.Execute(testDepositor, []dispatch.Action{lendEnter(t, lendPool, testUSDC, units(1_000))})
	if !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestExecuteEmptyBatchRejected(t *testing.T) {
	v := newTestVault(t)
	_, _, err := v.Execute(testExecutor, nil)
	if !errors.Is(err, dispatch.ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestRewardClaimRole(t *testing.T) {
	v := newTestVault(t)
	if err := v.AccrueReward(testAdmin, marketReward, testGauge, testUSDC, units(900)); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	_, _, err := v.Execute(testClaimer, []dispatch.Action{lendEnter(t, lendPool, testUSDC, units(1))})
	if !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("claimer ran a non-reward batch: %v", err)
	}
	_, _, err = v.Execute(testClaimer, []dispatch.Action{
		claimAction(t, testGauge),
		lendEnter(t, lendPool, testUSDC, units(1)),
	})
	if !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("mixed batch should deny the claimer: %v", err)
	}

	receipts := mustExecute(t, v, testClaimer, claimAction(t, testGauge))
	if len(receipts) != 1 || receipts[0].Amount.Cmp(units(900)) != 0 {
		t.Fatalf("unexpected claim receipts: %+v", receipts)
	}
	idle, err := v.IdleBalance()
	if err != nil {
		t.Fatalf("idle: %v", err)
	}
	if idle.Cmp(units(900)) != 0 {
		t.Fatalf("claim should land in idle, got %s", idle)
	}
}

func TestTransientHandoffScopedToBatch(t *testing.T) {
	v := newTestVault(t)
	mustDeposit(t, v, testDepositor, units(300_000))

	receipts := mustExecute(t, v, testExecutor,
		swapAndStage(t, units(50_000), daiUnits(50_000)),
		dispatch.Action{Fuse: lendFuseAddr, Op: dispatch.OpEnterTransient},
	)
	if len(receipts) != 2 {
		t.Fatalf("expected two receipts, got %d", len(receipts))
	}
	if receipts[1].Amount.Cmp(daiUnits(50_000)) != 0 {
		t.Fatalf("staged amount not delivered: %s", receipts[1].Amount)
	}

	daiIdle, err := v.BalanceOf(testDAI, testVaultAddr)
	if err != nil {
		t.Fatalf("dai balance: %v", err)
	}
	if daiIdle.Sign() != 0 {
		t.Fatalf("swap output should be fully staged into the pool, idle %s", daiIdle)
	}
	total, err := v.TotalAssets()
	if err != nil {
		t.Fatalf("total assets: %v", err)
	}
	if total.Cmp(units(300_000)) != 0 {
		t.Fatalf("swap and restake changed total assets: %s", total)
	}

	// The next batch starts with a fresh arena: nothing staged survives.
	_, _, err = v.Execute(testExecutor, []dispatch.Action{
		{Fuse: lendFuseAddr, Op: dispatch.OpEnterTransient},
	})
	if !errors.Is(err, fuses.ErrNoTransientInputs) {
		t.Fatalf("expected ErrNoTransientInputs in a fresh batch, got %v", err)
	}
}

func TestConfigurationOpsRequireRole(t *testing.T) {
	v := newTestVault(t)
	if err := v.CreateMarket(testExecutor, 9, "side"); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := v.CreateMarket(testAdmin, 9, "side"); err != nil {
		t.Fatalf("create market: %v", err)
	}

	sub := registry.NewSubstrate(registry.KindPool, lendPool)
	if err := v.GrantSubstrates(testAdmin, 9, []registry.Substrate{sub}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	granted, err := v.SubstrateGranted(9, sub)
	if err != nil {
		t.Fatalf("granted: %v", err)
	}
	if !granted {
		t.Fatalf("grant not visible")
	}
	// The same grant is invisible to other markets.
	other, err := v.SubstrateGranted(marketReward, sub)
	if err != nil {
		t.Fatalf("granted: %v", err)
	}
	if other {
		t.Fatalf("grant leaked across markets")
	}
	if err := v.RevokeSubstrates(testAdmin, 9, []registry.Substrate{sub}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	granted, err = v.SubstrateGranted(9, sub)
	if err != nil {
		t.Fatalf("granted: %v", err)
	}
	if granted {
		t.Fatalf("revoke not visible")
	}
}

func TestDependencyCycleRejectedAtConfigTime(t *testing.T) {
	v := newTestVault(t)
	// marketDex already depends on marketLend.
	err := v.SetDependencies(testAdmin, marketLend, []uint64{marketDex})
	if !errors.Is(err, registry.ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestInstallFuseValidatesImplementation(t *testing.T) {
	v := newTestVault(t)
	err := v.InstallFuse(testAdmin, state.FuseRecord{
		Address: common.HexToAddress("0x00000000000000000000000000000000000000f9"),
		Market:  marketLend,
		Kind:    "lend",
	})
	if err == nil {
		t.Fatalf("expected unknown implementation to fail")
	}
	err = v.InstallFuse(testAdmin, state.FuseRecord{Address: lendFuseAddr, Market: marketDex, Kind: "lend"})
	if err == nil {
		t.Fatalf("expected market mismatch to fail")
	}
	err = v.InstallFuse(testAdmin, state.FuseRecord{Address: lendFuseAddr, Market: marketLend, Kind: "lend", Reward: true})
	if err == nil {
		t.Fatalf("expected reward flag mismatch to fail")
	}
}

func TestSetBalanceFuseRequiresImplementation(t *testing.T) {
	v := newTestVault(t)
	err := v.SetBalanceFuse(testAdmin, marketLend, common.HexToAddress("0x00000000000000000000000000000000000000b9"))
	if err == nil {
		t.Fatalf("expected unknown balance fuse to fail")
	}
}

func TestMintAssetConfigGated(t *testing.T) {
	v := newTestVault(t)
	if err := v.MintAsset(testExecutor, testUSDC, testDepositor, units(1)); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := v.MintAsset(testAdmin, testUSDC, testDepositor, units(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	balance, err := v.BalanceOf(testUSDC, testDepositor)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(units(1_000_005)) != 0 {
		t.Fatalf("unexpected balance after mint: %s", balance)
	}
}

func TestSubmitPriceUpdatesOracle(t *testing.T) {
	var buf events.Buffer
	v := newTestVaultWith(t, storage.NewMemDB(), func(cfg *Config) { cfg.Emitter = &buf })

	if err := v.SubmitPrice(testExecutor, testDAI, big.NewInt(99), 2, "desk"); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := v.SubmitPrice(testAdmin, testDAI, big.NewInt(99), 2, "desk"); err != nil {
		t.Fatalf("submit price: %v", err)
	}
	price, ok := v.Oracle().Lookup(testDAI)
	if !ok {
		t.Fatalf("price not stored")
	}
	if price.Num.Cmp(big.NewInt(99)) != 0 || price.Decimals != 2 {
		t.Fatalf("unexpected stored price: %+v", price)
	}
	found := false
	for _, evt := range buf.Events() {
		if evt.EventType() == events.TypePriceUpdated {
			found = true
		}
	}
	if !found {
		t.Fatalf("price update event missing")
	}
}

func TestSharePriceTracksAppreciation(t *testing.T) {
	v := newTestVault(t)
	price, err := v.SharePrice()
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	if price.Cmp(wadUnit) != 0 {
		t.Fatalf("empty vault should price at one, got %s", price)
	}

	mustDeposit(t, v, testDepositor, units(300_000))
	// A donation to the vault appreciates existing shares.
	if err := v.MintAsset(testAdmin, testUSDC, testVaultAddr, units(100_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	price, err = v.SharePrice()
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	want := new(big.Int).Mul(units(400_000), wadUnit)
	want.Div(want, units(300_000))
	if price.Cmp(want) != 0 {
		t.Fatalf("unexpected share price: got %s want %s", price, want)
	}
}

func TestConversionQuotesMatchFlows(t *testing.T) {
	v := newTestVault(t)
	quote, err := v.ConvertToShares(units(5))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if quote.Cmp(units(5)) != 0 {
		t.Fatalf("empty vault should quote 1:1, got %s", quote)
	}

	mustDeposit(t, v, testDepositor, units(300_000))
	if err := v.MintAsset(testAdmin, testUSDC, testVaultAddr, units(100_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	// 400k assets over 300k shares: 4 base units floor to 3 shares.
	quote, err = v.ConvertToShares(big.NewInt(4))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if quote.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("expected floored mint quote of 3, got %s", quote)
	}
	minted := mustDeposit(t, v, testDepositor, big.NewInt(4))
	if minted.Cmp(quote) != 0 {
		t.Fatalf("quote %s diverged from deposit mint %s", quote, minted)
	}

	back, err := v.ConvertToAssets(units(300_000))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if back.Cmp(units(400_000)) != 0 {
		t.Fatalf("expected 300k shares to redeem 400k, got %s", back)
	}
	if _, err := v.ConvertToShares(big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative quote to fail")
	}
}

func TestQuotaLimitsRequests(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := newTestVaultWith(t, storage.NewMemDB(), func(cfg *Config) {
		cfg.Quota = nativecommon.Quota{MaxRequestsPerEpoch: 2, EpochSeconds: 3600}
		cfg.Now = func() time.Time { return now }
	})
	mustDeposit(t, v, testDepositor, units(1_000))
	mustDeposit(t, v, testDepositor, units(1_000))
	if _, err := v.Deposit(testDepositor, units(1_000)); !errors.Is(err, nativecommon.ErrQuotaRequestsExceeded) {
		t.Fatalf("expected request quota breach, got %v", err)
	}
	// The next epoch resets the counters.
	now = now.Add(2 * time.Hour)
	if _, err := v.Deposit(testDepositor, units(1_000)); err != nil {
		t.Fatalf("deposit after epoch rollover: %v", err)
	}
}

func TestQuotaLimitsOutflow(t *testing.T) {
	v := newTestVaultWith(t, storage.NewMemDB(), func(cfg *Config) {
		cfg.Quota = nativecommon.Quota{MaxOutflowPerEpoch: units(150_000).Uint64(), EpochSeconds: 3600}
	})
	mustDeposit(t, v, testDepositor, units(300_000))
	if _, err := v.Withdraw(testDepositor, units(100_000)); err != nil {
		t.Fatalf("withdraw within quota: %v", err)
	}
	if _, err := v.Withdraw(testDepositor, units(100_000)); !errors.Is(err, nativecommon.ErrQuotaOutflowExceeded) {
		t.Fatalf("expected outflow quota breach, got %v", err)
	}
}

func TestPausedFlowsRejected(t *testing.T) {
	v := newTestVaultWith(t, storage.NewMemDB(), func(cfg *Config) {
		cfg.Pauses = nativecommon.StaticPauses{PauseDeposit: true, PauseExecute: true}
	})
	if _, err := v.Deposit(testDepositor, units(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused deposit, got %v", err)
	}
	if _, _, err := v.Execute(testExecutor, []dispatch.Action{lendEnter(t, lendPool, testUSDC, units(1))}); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused execute, got %v", err)
	}
}

func TestEventsEmittedOnCommit(t *testing.T) {
	var buf events.Buffer
	v := newTestVaultWith(t, storage.NewMemDB(), func(cfg *Config) { cfg.Emitter = &buf })
	mustDeposit(t, v, testDepositor, units(300_000))
	mustExecute(t, v, testExecutor, lendEnter(t, lendPool, testUSDC, units(200_000)))

	var sawDeposit, sawBatch bool
	for _, evt := range buf.Events() {
		switch evt.EventType() {
		case events.TypeVaultDeposit:
			sawDeposit = true
		case events.TypeVaultBatchExecuted:
			sawBatch = true
		}
	}
	if !sawDeposit || !sawBatch {
		t.Fatalf("expected deposit and batch events, got %v", buf.Events())
	}

	buf.Reset()
	strangerPool := common.HexToAddress("0x0000000000000000000000000000000000000079")
	if _, _, err := v.Execute(testExecutor, []dispatch.Action{lendEnter(t, strangerPool, testUSDC, units(1))}); err == nil {
		t.Fatalf("expected failing batch")
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("failed batch emitted events: %v", buf.Events())
	}
}

func TestVaultResumesFromPersistedRoot(t *testing.T) {
	db := storage.NewMemDB()
	v1 := newTestVaultWith(t, db, nil)
	mustDeposit(t, v1, testDepositor, units(300_000))
	mustExecute(t, v1, testExecutor, lendEnter(t, lendPool, testUSDC, units(200_000)))

	v2 := newTestVaultWith(t, db, nil)
	idle, err := v2.IdleBalance()
	if err != nil {
		t.Fatalf("idle after reopen: %v", err)
	}
	if idle.Cmp(units(100_000)) != 0 {
		t.Fatalf("reopened vault lost idle state: %s", idle)
	}
	total, err := v2.TotalAssets()
	if err != nil {
		t.Fatalf("total after reopen: %v", err)
	}
	if total.Cmp(units(300_000)) != 0 {
		t.Fatalf("reopened vault lost positions: %s", total)
	}
	held, err := v2.Shares(testDepositor)
	if err != nil {
		t.Fatalf("shares after reopen: %v", err)
	}
	if held.Cmp(units(300_000)) != 0 {
		t.Fatalf("reopened vault lost shares: %s", held)
	}
}

func TestReadsBeforeGenesisFail(t *testing.T) {
	bank := testBank(t)
	oracle := valuationOracle(t)
	v, err := NewVault(storage.NewMemDB(), bank, oracle, Config{BaseAsset: testUSDC, VaultAddress: testVaultAddr})
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	if _, err := v.TotalAssets(); !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("expected ErrNotInitialised, got %v", err)
	}
	if _, err := v.Deposit(testDepositor, units(1)); !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("expected ErrNotInitialised, got %v", err)
	}
}
