package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"omnivault/native/fuses"
	"omnivault/native/registry"
	"omnivault/native/valuation"
)

const feeDenominator = 10_000

// Args describes one swap. QuoteOut is the venue's quoted gross output for
// AmountIn; the fuse applies the venue fee and enforces MinOut on the net
// result. When Stage is set, the net output is staged into the transient
// context for that fuse as (StagePool, Out, amount) so a later action in
// the same batch can consume it without re-encoding arguments.
type Args struct {
	Pool      common.Address
	In        common.Address
	Out       common.Address
	AmountIn  *big.Int
	QuoteOut  *big.Int
	MinOut    *big.Int
	Stage     common.Address
	StagePool common.Address
}

func (a Args) Encode() ([]byte, error) {
	if a.AmountIn == nil {
		a.AmountIn = new(big.Int)
	}
	if a.QuoteOut == nil {
		a.QuoteOut = new(big.Int)
	}
	if a.MinOut == nil {
		a.MinOut = new(big.Int)
	}
	return rlp.EncodeToBytes(a)
}

func DecodeArgs(data []byte) (Args, error) {
	var args Args
	if err := rlp.DecodeBytes(data, &args); err != nil {
		return Args{}, fmt.Errorf("dex: decode args: %w", err)
	}
	if args.AmountIn == nil {
		args.AmountIn = new(big.Int)
	}
	if args.QuoteOut == nil {
		args.QuoteOut = new(big.Int)
	}
	if args.MinOut == nil {
		args.MinOut = new(big.Int)
	}
	return args, nil
}

// Fuse swaps between whitelisted tokens on a whitelisted venue. Both swap
// legs and the venue itself must be granted; the direction of a swap is
// whatever the args say, so Enter and Exit run the same path and differ
// only in the receipt label.
type Fuse struct {
	addr   common.Address
	market uint64
	feeBps uint16
}

func New(addr common.Address, market uint64, feeBps uint16) (*Fuse, error) {
	if feeBps >= feeDenominator {
		return nil, fmt.Errorf("dex: fee %d bps consumes the whole output", feeBps)
	}
	return &Fuse{addr: addr, market: market, feeBps: feeBps}, nil
}

func (f *Fuse) Address() common.Address { return f.addr }
func (f *Fuse) Market() uint64          { return f.market }
func (f *Fuse) FeeBps() uint16          { return f.feeBps }

func (f *Fuse) Enter(ctx *fuses.Context, data []byte) (*fuses.Receipt, error) {
	return f.swap(ctx, data, "enter")
}

func (f *Fuse) Exit(ctx *fuses.Context, data []byte) (*fuses.Receipt, error) {
	return f.swap(ctx, data, "exit")
}

func (f *Fuse) swap(ctx *fuses.Context, data []byte, op string) (*fuses.Receipt, error) {
	args, err := DecodeArgs(data)
	if err != nil {
		return nil, err
	}
	if args.AmountIn.Sign() == 0 {
		return &fuses.Receipt{Fuse: f.addr, Market: f.market, Op: op, Noop: true, Asset: args.In, Amount: new(big.Int)}, nil
	}
	if args.AmountIn.Sign() < 0 || args.QuoteOut.Sign() < 0 || args.MinOut.Sign() < 0 {
		return nil, fmt.Errorf("dex: negative swap parameter")
	}
	if args.In == args.Out {
		return nil, fmt.Errorf("dex: cannot swap %s into itself", args.In.Hex())
	}
	if err := f.requireGrants(ctx, args); err != nil {
		return nil, err
	}

	out := f.netOut(args.QuoteOut)
	if out.Cmp(args.MinOut) < 0 {
		return nil, &fuses.InsufficientOutputError{Expected: new(big.Int).Set(args.MinOut), Actual: out}
	}

	if err := ctx.State.Debit(args.In, ctx.Vault, args.AmountIn); err != nil {
		return nil, fmt.Errorf("dex: spend %s: %w", args.In.Hex(), err)
	}
	if out.Sign() > 0 {
		if err := ctx.State.Credit(args.Out, ctx.Vault, out); err != nil {
			return nil, fmt.Errorf("dex: receive %s: %w", args.Out.Hex(), err)
		}
	}

	if args.Stage != (common.Address{}) {
		outWord, err := fuses.BigToWord(out)
		if err != nil {
			return nil, fmt.Errorf("dex: stage output: %w", err)
		}
		ctx.Transient.SetInputs(args.Stage, []fuses.Word{
			fuses.AddressToWord(args.StagePool),
			fuses.AddressToWord(args.Out),
			outWord,
		})
	}

	return &fuses.Receipt{
		Fuse:   f.addr,
		Market: f.market,
		Op:     op,
		Asset:  args.In,
		Amount: new(big.Int).Set(args.AmountIn),
		Out:    out,
	}, nil
}

func (f *Fuse) netOut(quote *big.Int) *big.Int {
	out := new(big.Int).Mul(quote, big.NewInt(feeDenominator-int64(f.feeBps)))
	return out.Div(out, big.NewInt(feeDenominator))
}

func (f *Fuse) requireGrants(ctx *fuses.Context, args Args) error {
	if !ctx.State.SubstrateGranted(f.market, registry.NewSubstrate(registry.KindPool, args.Pool)) {
		return fmt.Errorf("%w: venue %s not granted for market %d", fuses.ErrUnsupportedSubstrate, args.Pool.Hex(), f.market)
	}
	for _, token := range []common.Address{args.In, args.Out} {
		if !ctx.State.SubstrateGranted(f.market, registry.NewSubstrate(registry.KindAsset, token)) {
			return fmt.Errorf("%w: token %s not granted for market %d", fuses.ErrUnsupportedSubstrate, token.Hex(), f.market)
		}
	}
	return nil
}

// BalanceFuse values the vault's idle holdings of every granted token
// except the base asset. The base stays out because total-assets already
// counts it as idle; counting it here would double it.
type BalanceFuse struct {
	addr   common.Address
	market uint64
	base   common.Address
}

func NewBalanceFuse(addr common.Address, market uint64, base common.Address) *BalanceFuse {
	return &BalanceFuse{addr: addr, market: market, base: base}
}

func (b *BalanceFuse) Address() common.Address { return b.addr }
func (b *BalanceFuse) Market() uint64          { return b.market }

func (b *BalanceFuse) Value(ctx *fuses.ReadContext) (*big.Int, error) {
	if ctx == nil || ctx.Prices == nil {
		return nil, fmt.Errorf("dex: price source not configured")
	}
	subs, err := ctx.State.SubstrateList(b.market)
	if err != nil {
		return nil, fmt.Errorf("dex: list substrates: %w", err)
	}
	total := new(big.Int)
	for _, sub := range subs {
		if sub.Kind() != registry.KindAsset {
			continue
		}
		token := sub.Address()
		if token == b.base {
			continue
		}
		held, err := ctx.State.BalanceOf(token, ctx.Vault)
		if err != nil {
			return nil, fmt.Errorf("dex: balance of %s: %w", token.Hex(), err)
		}
		if held.Sign() == 0 {
			continue
		}
		decimals, err := ctx.State.AssetDecimals(token)
		if err != nil {
			return nil, fmt.Errorf("dex: decimals for %s: %w", token.Hex(), err)
		}
		num, priceDecimals, err := ctx.Prices.Price(token)
		if err != nil {
			return nil, fmt.Errorf("dex: price for %s: %w", token.Hex(), err)
		}
		usd, err := valuation.ToUSDWad(held, decimals, num, priceDecimals)
		if err != nil {
			return nil, fmt.Errorf("dex: value %s: %w", token.Hex(), err)
		}
		total.Add(total, usd)
	}
	return total, nil
}
