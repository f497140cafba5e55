package rewards

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"omnivault/native/fuses"
	"omnivault/native/registry"
	"omnivault/native/valuation"
)

// Accrual is the claimable amount a gauge owes the vault. Accruals are
// posted by the configuration role as reward programmes pay out; claiming
// moves the amount into the vault's idle balance and clears the record.
type Accrual struct {
	Asset   common.Address
	Accrued *big.Int
}

func accrualKey(gauge common.Address) []byte {
	return append([]byte("reward:"), gauge.Bytes()...)
}

// Accrue adds to the claimable amount for a gauge. An existing accrual in
// a different asset is a configuration mistake and is rejected.
func Accrue(st fuses.State, market uint64, gauge, asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("rewards: accrual must be positive")
	}
	var rec Accrual
	found, err := st.MarketRecordGet(market, accrualKey(gauge), &rec)
	if err != nil {
		return fmt.Errorf("rewards: load accrual: %w", err)
	}
	if found && rec.Asset != asset {
		return fmt.Errorf("rewards: gauge %s accrues %s, not %s", gauge.Hex(), rec.Asset.Hex(), asset.Hex())
	}
	if !found {
		rec = Accrual{Asset: asset, Accrued: new(big.Int)}
	}
	if rec.Accrued == nil {
		rec.Accrued = new(big.Int)
	}
	rec.Accrued = new(big.Int).Add(rec.Accrued, amount)
	return st.MarketRecordPut(market, accrualKey(gauge), rec)
}

// Pending reports the unclaimed accrual for a gauge.
func Pending(st fuses.ReadState, market uint64, gauge common.Address) (Accrual, bool, error) {
	var rec Accrual
	found, err := st.MarketRecordGet(market, accrualKey(gauge), &rec)
	if err != nil {
		return Accrual{}, false, fmt.Errorf("rewards: load accrual: %w", err)
	}
	if found && rec.Accrued == nil {
		rec.Accrued = new(big.Int)
	}
	return rec, found, nil
}

// Args names the gauge to claim from.
type Args struct {
	Gauge common.Address
}

func (a Args) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(a)
}

func DecodeArgs(data []byte) (Args, error) {
	var args Args
	if err := rlp.DecodeBytes(data, &args); err != nil {
		return Args{}, fmt.Errorf("rewards: decode args: %w", err)
	}
	return args, nil
}

var errNoExit = errors.New("rewards: claim fuses have no exit path")

// Fuse claims accrued rewards from whitelisted gauges. It is the one fuse
// family the reward-claim role may execute on its own.
type Fuse struct {
	addr   common.Address
	market uint64
}

func New(addr common.Address, market uint64) *Fuse {
	return &Fuse{addr: addr, market: market}
}

func (f *Fuse) Address() common.Address { return f.addr }
func (f *Fuse) Market() uint64          { return f.market }

// Enter claims everything the gauge has accrued. A gauge with nothing
// accrued claims zero and reports a noop.
func (f *Fuse) Enter(ctx *fuses.Context, data []byte) (*fuses.Receipt, error) {
	args, err := DecodeArgs(data)
	if err != nil {
		return nil, err
	}
	sub := registry.NewSubstrate(registry.KindGauge, args.Gauge)
	if !ctx.State.SubstrateGranted(f.market, sub) {
		return nil, fmt.Errorf("%w: gauge %s not granted for market %d", fuses.ErrUnsupportedSubstrate, args.Gauge.Hex(), f.market)
	}

	var rec Accrual
	found, err := ctx.State.MarketRecordGet(f.market, accrualKey(args.Gauge), &rec)
	if err != nil {
		return nil, fmt.Errorf("rewards: load accrual: %w", err)
	}
	if !found || rec.Accrued == nil || rec.Accrued.Sign() == 0 {
		return &fuses.Receipt{Fuse: f.addr, Market: f.market, Op: "enter", Noop: true, Amount: new(big.Int)}, nil
	}

	if err := ctx.State.Credit(rec.Asset, ctx.Vault, rec.Accrued); err != nil {
		return nil, fmt.Errorf("rewards: claim from %s: %w", args.Gauge.Hex(), err)
	}
	if err := ctx.State.MarketRecordDelete(f.market, accrualKey(args.Gauge)); err != nil {
		return nil, fmt.Errorf("rewards: clear accrual: %w", err)
	}
	return &fuses.Receipt{
		Fuse:   f.addr,
		Market: f.market,
		Op:     "enter",
		Asset:  rec.Asset,
		Amount: new(big.Int).Set(rec.Accrued),
		Out:    new(big.Int).Set(rec.Accrued),
	}, nil
}

// Exit always fails: rewards flow one way.
func (f *Fuse) Exit(*fuses.Context, []byte) (*fuses.Receipt, error) {
	return nil, errNoExit
}

// BalanceFuse values unclaimed accruals across the market's gauges.
// Pending rewards are vault assets even before a claim lands them in the
// idle balance.
type BalanceFuse struct {
	addr   common.Address
	market uint64
}

func NewBalanceFuse(addr common.Address, market uint64) *BalanceFuse {
	return &BalanceFuse{addr: addr, market: market}
}

func (b *BalanceFuse) Address() common.Address { return b.addr }
func (b *BalanceFuse) Market() uint64          { return b.market }

func (b *BalanceFuse) Value(ctx *fuses.ReadContext) (*big.Int, error) {
	if ctx == nil || ctx.Prices == nil {
		return nil, fmt.Errorf("rewards: price source not configured")
	}
	subs, err := ctx.State.SubstrateList(b.market)
	if err != nil {
		return nil, fmt.Errorf("rewards: list substrates: %w", err)
	}
	total := new(big.Int)
	for _, sub := range subs {
		if sub.Kind() != registry.KindGauge {
			continue
		}
		var rec Accrual
		found, err := ctx.State.MarketRecordGet(b.market, accrualKey(sub.Address()), &rec)
		if err != nil {
			return nil, fmt.Errorf("rewards: load accrual: %w", err)
		}
		if !found || rec.Accrued == nil || rec.Accrued.Sign() == 0 {
			continue
		}
		decimals, err := ctx.State.AssetDecimals(rec.Asset)
		if err != nil {
			return nil, fmt.Errorf("rewards: decimals for %s: %w", rec.Asset.Hex(), err)
		}
		num, priceDecimals, err := ctx.Prices.Price(rec.Asset)
		if err != nil {
			return nil, fmt.Errorf("rewards: price for %s: %w", rec.Asset.Hex(), err)
		}
		usd, err := valuation.ToUSDWad(rec.Accrued, decimals, num, priceDecimals)
		if err != nil {
			return nil, fmt.Errorf("rewards: value accrual at %s: %w", sub.Address().Hex(), err)
		}
		total.Add(total, usd)
	}
	return total, nil
}
