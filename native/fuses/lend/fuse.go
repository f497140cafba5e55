package lend

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

// Args selects the pool and the motion size for both directions. Enter
// supplies Amount of Asset into Pool, Exit withdraws it back to the
// vault's idle balance.
type Args struct {
	Pool   common.Address
	Asset  common.Address
	Amount *big.Int
}

func (a Args) Encode() ([]byte, error) {
	if a.Amount == nil {
		a.Amount = new(big.Int)
	}
	return rlp.EncodeToBytes(a)
}

func DecodeArgs(data []byte) (Args, error) {
	var args Args
	if err := rlp.DecodeBytes(data, &args); err != nil {
		return Args{}, fmt.Errorf("lend: decode args: %w", err)
	}
	if args.Amount == nil {
		args.Amount = new(big.Int)
	}
	return args, nil
}

// position is the per-pool record kept under the fuse's market. One pool
// holds one asset; supplying a second asset into the same pool is a
// configuration mistake and is rejected.
type position struct {
	Asset    common.Address
	Supplied *big.Int
}

func positionKey(pool common.Address) []byte {
	return append([]byte("lend:"), pool.Bytes()...)
}

// Fuse moves vault funds in and out of whitelisted lending pools. The
// transient entry points read their argument tuple from staged words:
// pool, asset, amount, in that order.
type Fuse struct {
	addr   common.Address
	market uint64
}

func New(addr common.Address, market uint64) *Fuse {
	return &Fuse{addr: addr, market: market}
}

func (f *Fuse) Address() common.Address { return f.addr }
func (f *Fuse) Market() uint64          { return f.market }

func (f *Fuse) Enter(ctx *fuses.Context, data []byte) (*fuses.Receipt, error) {
	args, err := DecodeArgs(data)
	if err != nil {
		return nil, err
	}
	return f.supply(ctx, args.Pool, args.Asset, args.Amount, "enter")
}

func (f *Fuse) Exit(ctx *fuses.Context, data []byte) (*fuses.Receipt, error) {
	args, err := DecodeArgs(data)
	if err != nil {
		return nil, err
	}
	return f.withdraw(ctx, args.Pool, args.Asset, args.Amount, "exit")
}

func (f *Fuse) EnterTransient(ctx *fuses.Context) (*fuses.Receipt, error) {
	pool, asset, amount, err := f.takeStaged(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := f.supply(ctx, pool, asset, amount, "enterTransient")
	if err != nil {
		return nil, err
	}
	f.publishOutput(ctx, amount)
	return receipt, nil
}

func (f *Fuse) ExitTransient(ctx *fuses.Context) (*fuses.Receipt, error) {
	pool, asset, amount, err := f.takeStaged(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := f.withdraw(ctx, pool, asset, amount, "exitTransient")
	if err != nil {
		return nil, err
	}
	f.publishOutput(ctx, amount)
	return receipt, nil
}

func (f *Fuse) takeStaged(ctx *fuses.Context) (common.Address, common.Address, *big.Int, error) {
	words := ctx.Transient.TakeInputs(f.addr)
	if len(words) == 0 {
		return common.Address{}, common.Address{}, nil, fuses.ErrNoTransientInputs
	}
	if len(words) != 3 {
		return common.Address{}, common.Address{}, nil, fmt.Errorf("lend: expected 3 staged words (pool, asset, amount), got %d", len(words))
	}
	return words[0].Address(), words[1].Address(), words[2].Big(), nil
}

func (f *Fuse) publishOutput(ctx *fuses.Context, amount *big.Int) {
	word, err := fuses.BigToWord(amount)
	if err != nil {
		return
	}
	ctx.Transient.SetOutputs(f.addr, []fuses.Word{word})
}

func (f *Fuse) supply(ctx *fuses.Context, pool, asset common.Address, amount *big.Int, op string) (*fuses.Receipt, error) {
	if amount == nil || amount.Sign() == 0 {
		return &fuses.Receipt{Fuse: f.addr, Market: f.market, Op: op, Noop: true, Asset: asset, Amount: new(big.Int)}, nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("lend: negative amount %s", amount)
	}
	if err := f.requirePool(ctx, pool); err != nil {
		return nil, err
	}
	if err := ctx.State.Debit(asset, ctx.Vault, amount); err != nil {
		return nil, fmt.Errorf("lend: supply %s into %s: %w", amount, pool.Hex(), err)
	}
	pos, found, err := f.loadPosition(ctx.State, pool)
	if err != nil {
		return nil, err
	}
	if found && pos.Asset != asset {
		return nil, fmt.Errorf("lend: pool %s position holds %s, not %s", pool.Hex(), pos.Asset.Hex(), asset.Hex())
	}
	if !found {
		pos = position{Asset: asset, Supplied: new(big.Int)}
	}
	pos.Supplied = new(big.Int).Add(pos.Supplied, amount)
	if err := ctx.State.MarketRecordPut(f.market, positionKey(pool), pos); err != nil {
		return nil, fmt.Errorf("lend: store position: %w", err)
	}
	return &fuses.Receipt{Fuse: f.addr, Market: f.market, Op: op, Asset: asset, Amount: new(big.Int).Set(amount), Out: new(big.Int).Set(pos.Supplied)}, nil
}

func (f *Fuse) withdraw(ctx *fuses.Context, pool, asset common.Address, amount *big.Int, op string) (*fuses.Receipt, error) {
	if amount == nil || amount.Sign() == 0 {
		return &fuses.Receipt{Fuse: f.addr, Market: f.market, Op: op, Noop: true, Asset: asset, Amount: new(big.Int)}, nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("lend: negative amount %s", amount)
	}
	if err := f.requirePool(ctx, pool); err != nil {
		return nil, err
	}
	pos, found, err := f.loadPosition(ctx.State, pool)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("lend: no position in pool %s", pool.Hex())
	}
	if pos.Asset != asset {
		return nil, fmt.Errorf("lend: pool %s position holds %s, not %s", pool.Hex(), pos.Asset.Hex(), asset.Hex())
	}
	if pos.Supplied.Cmp(amount) < 0 {
		return nil, fmt.Errorf("lend: withdraw %s exceeds supplied %s in pool %s", amount, pos.Supplied, pool.Hex())
	}
	pos.Supplied = new(big.Int).Sub(pos.Supplied, amount)
	if pos.Supplied.Sign() == 0 {
		if err := ctx.State.MarketRecordDelete(f.market, positionKey(pool)); err != nil {
			return nil, fmt.Errorf("lend: clear position: %w", err)
		}
	} else {
		if err := ctx.State.MarketRecordPut(f.market, positionKey(pool), pos); err != nil {
			return nil, fmt.Errorf("lend: store position: %w", err)
		}
	}
	if err := ctx.State.Credit(asset, ctx.Vault, amount); err != nil {
		return nil, fmt.Errorf("lend: return %s from %s: %w", amount, pool.Hex(), err)
	}
	return &fuses.Receipt{Fuse: f.addr, Market: f.market, Op: op, Asset: asset, Amount: new(big.Int).Set(amount), Out: new(big.Int).Set(pos.Supplied)}, nil
}

func (f *Fuse) requirePool(ctx *fuses.Context, pool common.Address) error {
	sub := registry.NewSubstrate(registry.KindPool, pool)
	if !ctx.State.SubstrateGranted(f.market, sub) {
		return fmt.Errorf("%w: pool %s not granted for market %d", fuses.ErrUnsupportedSubstrate, pool.Hex(), f.market)
	}
	return nil
}

func (f *Fuse) loadPosition(st fuses.ReadState, pool common.Address) (position, bool, error) {
	var pos position
	found, err := st.MarketRecordGet(f.market, positionKey(pool), &pos)
	if err != nil {
		return position{}, false, fmt.Errorf("lend: load position: %w", err)
	}
	if found && pos.Supplied == nil {
		pos.Supplied = new(big.Int)
	}
	return pos, found, nil
}

var errNilPrices = errors.New("lend: price source not configured")

// BalanceFuse values every pool position of the market in USD at 18
// decimals. Substrates of other kinds are skipped so a mixed whitelist
// never breaks valuation.
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
		return nil, errNilPrices
	}
	subs, err := ctx.State.SubstrateList(b.market)
	if err != nil {
		return nil, fmt.Errorf("lend: list substrates: %w", err)
	}
	total := new(big.Int)
	for _, sub := range subs {
		if sub.Kind() != registry.KindPool {
			continue
		}
		var pos position
		found, err := ctx.State.MarketRecordGet(b.market, positionKey(sub.Address()), &pos)
		if err != nil {
			return nil, fmt.Errorf("lend: load position: %w", err)
		}
		if !found || pos.Supplied == nil || pos.Supplied.Sign() == 0 {
			continue
		}
		decimals, err := ctx.State.AssetDecimals(pos.Asset)
		if err != nil {
			return nil, fmt.Errorf("lend: decimals for %s: %w", pos.Asset.Hex(), err)
		}
		num, priceDecimals, err := ctx.Prices.Price(pos.Asset)
		if err != nil {
			return nil, fmt.Errorf("lend: price for %s: %w", pos.Asset.Hex(), err)
		}
		usd, err := valuation.ToUSDWad(pos.Supplied, decimals, num, priceDecimals)
		if err != nil {
			return nil, fmt.Errorf("lend: value pool %s: %w", sub.Address().Hex(), err)
		}
		total.Add(total, usd)
	}
	return total, nil
}
