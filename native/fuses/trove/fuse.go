package trove

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

// ErrTroveNotOpen is returned when repaying or withdrawing against a
// registry where the vault holds no trove.
var ErrTroveNotOpen = errors.New("trove: trove not open")

// EnterArgs opens a trove or adds to an existing one: Collateral moves
// from the vault's idle balance into the trove, and Borrow of the debt
// asset is drawn into the idle balance.
type EnterArgs struct {
	Registry        common.Address
	CollateralAsset common.Address
	DebtAsset       common.Address
	Collateral      *big.Int
	Borrow          *big.Int
}

func (a EnterArgs) Encode() ([]byte, error) {
	a.Collateral = orZero(a.Collateral)
	a.Borrow = orZero(a.Borrow)
	return rlp.EncodeToBytes(a)
}

func DecodeEnterArgs(data []byte) (EnterArgs, error) {
	var args EnterArgs
	if err := rlp.DecodeBytes(data, &args); err != nil {
		return EnterArgs{}, fmt.Errorf("trove: decode enter args: %w", err)
	}
	args.Collateral = orZero(args.Collateral)
	args.Borrow = orZero(args.Borrow)
	return args, nil
}

// ExitArgs unwinds a trove: Repay of the debt asset leaves the idle
// balance, Withdraw of the collateral asset returns to it. A trove whose
// collateral and debt both reach zero is closed.
type ExitArgs struct {
	Registry common.Address
	Repay    *big.Int
	Withdraw *big.Int
}

func (a ExitArgs) Encode() ([]byte, error) {
	a.Repay = orZero(a.Repay)
	a.Withdraw = orZero(a.Withdraw)
	return rlp.EncodeToBytes(a)
}

func DecodeExitArgs(data []byte) (ExitArgs, error) {
	var args ExitArgs
	if err := rlp.DecodeBytes(data, &args); err != nil {
		return ExitArgs{}, fmt.Errorf("trove: decode exit args: %w", err)
	}
	args.Repay = orZero(args.Repay)
	args.Withdraw = orZero(args.Withdraw)
	return args, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

type record struct {
	CollateralAsset common.Address
	DebtAsset       common.Address
	Collateral      *big.Int
	Debt            *big.Int
}

func troveKey(reg common.Address) []byte {
	return append([]byte("trove:"), reg.Bytes()...)
}

// Fuse manages collateralised debt positions at whitelisted registries.
// One registry holds at most one trove per vault.
type Fuse struct {
	addr   common.Address
	market uint64
}

func New(addr common.Address, market uint64) *Fuse {
	return &Fuse{addr: addr, market: market}
}

func (f *Fuse) Address() common.Address { return f.addr }
func (f *Fuse) Market() uint64          { return f.market }

// Enter opens or grows the trove. The receipt carries the collateral
// moved and the trove's total debt after the borrow.
func (f *Fuse) Enter(ctx *fuses.Context, data []byte) (*fuses.Receipt, error) {
	args, err := DecodeEnterArgs(data)
	if err != nil {
		return nil, err
	}
	if args.Collateral.Sign() < 0 || args.Borrow.Sign() < 0 {
		return nil, fmt.Errorf("trove: negative amount")
	}
	if args.Collateral.Sign() == 0 && args.Borrow.Sign() == 0 {
		return &fuses.Receipt{Fuse: f.addr, Market: f.market, Op: "enter", Noop: true, Asset: args.CollateralAsset, Amount: new(big.Int)}, nil
	}
	if err := f.requireRegistry(ctx, args.Registry); err != nil {
		return nil, err
	}

	rec, found, err := f.load(ctx.State, args.Registry)
	if err != nil {
		return nil, err
	}
	if found {
		if rec.CollateralAsset != args.CollateralAsset || rec.DebtAsset != args.DebtAsset {
			return nil, fmt.Errorf("trove: registry %s trove uses %s/%s", args.Registry.Hex(), rec.CollateralAsset.Hex(), rec.DebtAsset.Hex())
		}
	} else {
		rec = record{
			CollateralAsset: args.CollateralAsset,
			DebtAsset:       args.DebtAsset,
			Collateral:      new(big.Int),
			Debt:            new(big.Int),
		}
	}

	newCollateral := new(big.Int).Add(rec.Collateral, args.Collateral)
	newDebt := new(big.Int).Add(rec.Debt, args.Borrow)
	if newDebt.Sign() > 0 && newCollateral.Sign() == 0 {
		return nil, fmt.Errorf("trove: cannot borrow against empty trove at %s", args.Registry.Hex())
	}

	if args.Collateral.Sign() > 0 {
		if err := ctx.State.Debit(args.CollateralAsset, ctx.Vault, args.Collateral); err != nil {
			return nil, fmt.Errorf("trove: post collateral: %w", err)
		}
	}
	if args.Borrow.Sign() > 0 {
		if err := ctx.State.Credit(args.DebtAsset, ctx.Vault, args.Borrow); err != nil {
			return nil, fmt.Errorf("trove: draw debt: %w", err)
		}
	}

	rec.Collateral = newCollateral
	rec.Debt = newDebt
	if err := ctx.State.MarketRecordPut(f.market, troveKey(args.Registry), rec); err != nil {
		return nil, fmt.Errorf("trove: store trove: %w", err)
	}
	return &fuses.Receipt{
		Fuse:   f.addr,
		Market: f.market,
		Op:     "enter",
		Asset:  args.CollateralAsset,
		Amount: new(big.Int).Set(args.Collateral),
		Out:    new(big.Int).Set(rec.Debt),
	}, nil
}

// Exit repays debt and withdraws collateral. The receipt carries the
// amount repaid and the collateral remaining in the trove.
func (f *Fuse) Exit(ctx *fuses.Context, data []byte) (*fuses.Receipt, error) {
	args, err := DecodeExitArgs(data)
	if err != nil {
		return nil, err
	}
	if args.Repay.Sign() < 0 || args.Withdraw.Sign() < 0 {
		return nil, fmt.Errorf("trove: negative amount")
	}
	if args.Repay.Sign() == 0 && args.Withdraw.Sign() == 0 {
		return &fuses.Receipt{Fuse: f.addr, Market: f.market, Op: "exit", Noop: true, Amount: new(big.Int)}, nil
	}
	if err := f.requireRegistry(ctx, args.Registry); err != nil {
		return nil, err
	}

	rec, found, err := f.load(ctx.State, args.Registry)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: registry %s", ErrTroveNotOpen, args.Registry.Hex())
	}
	if args.Repay.Cmp(rec.Debt) > 0 {
		return nil, fmt.Errorf("trove: repay %s exceeds debt %s", args.Repay, rec.Debt)
	}
	if args.Withdraw.Cmp(rec.Collateral) > 0 {
		return nil, fmt.Errorf("trove: withdraw %s exceeds collateral %s", args.Withdraw, rec.Collateral)
	}
	newDebt := new(big.Int).Sub(rec.Debt, args.Repay)
	newCollateral := new(big.Int).Sub(rec.Collateral, args.Withdraw)
	if newDebt.Sign() > 0 && newCollateral.Sign() == 0 {
		return nil, fmt.Errorf("trove: cannot strip collateral while %s debt remains", newDebt)
	}

	if args.Repay.Sign() > 0 {
		if err := ctx.State.Debit(rec.DebtAsset, ctx.Vault, args.Repay); err != nil {
			return nil, fmt.Errorf("trove: repay debt: %w", err)
		}
	}
	if args.Withdraw.Sign() > 0 {
		if err := ctx.State.Credit(rec.CollateralAsset, ctx.Vault, args.Withdraw); err != nil {
			return nil, fmt.Errorf("trove: reclaim collateral: %w", err)
		}
	}

	rec.Debt = newDebt
	rec.Collateral = newCollateral
	if rec.Debt.Sign() == 0 && rec.Collateral.Sign() == 0 {
		if err := ctx.State.MarketRecordDelete(f.market, troveKey(args.Registry)); err != nil {
			return nil, fmt.Errorf("trove: close trove: %w", err)
		}
	} else {
		if err := ctx.State.MarketRecordPut(f.market, troveKey(args.Registry), rec); err != nil {
			return nil, fmt.Errorf("trove: store trove: %w", err)
		}
	}
	return &fuses.Receipt{
		Fuse:   f.addr,
		Market: f.market,
		Op:     "exit",
		Asset:  rec.DebtAsset,
		Amount: new(big.Int).Set(args.Repay),
		Out:    new(big.Int).Set(rec.Collateral),
	}, nil
}

func (f *Fuse) requireRegistry(ctx *fuses.Context, reg common.Address) error {
	sub := registry.NewSubstrate(registry.KindRegistry, reg)
	if !ctx.State.SubstrateGranted(f.market, sub) {
		return fmt.Errorf("%w: registry %s not granted for market %d", fuses.ErrUnsupportedSubstrate, reg.Hex(), f.market)
	}
	return nil
}

func (f *Fuse) load(st fuses.ReadState, reg common.Address) (record, bool, error) {
	var rec record
	found, err := st.MarketRecordGet(f.market, troveKey(reg), &rec)
	if err != nil {
		return record{}, false, fmt.Errorf("trove: load trove: %w", err)
	}
	if found {
		rec.Collateral = orZero(rec.Collateral)
		rec.Debt = orZero(rec.Debt)
	}
	return rec, found, nil
}

// BalanceFuse values each trove as collateral minus debt. A trove whose
// debt outweighs its collateral contributes a negative amount, so the
// market total can drop below zero.
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
		return nil, fmt.Errorf("trove: price source not configured")
	}
	subs, err := ctx.State.SubstrateList(b.market)
	if err != nil {
		return nil, fmt.Errorf("trove: list substrates: %w", err)
	}
	total := new(big.Int)
	for _, sub := range subs {
		if sub.Kind() != registry.KindRegistry {
			continue
		}
		var rec record
		found, err := ctx.State.MarketRecordGet(b.market, troveKey(sub.Address()), &rec)
		if err != nil {
			return nil, fmt.Errorf("trove: load trove: %w", err)
		}
		if !found {
			continue
		}
		rec.Collateral = orZero(rec.Collateral)
		rec.Debt = orZero(rec.Debt)
		if rec.Collateral.Sign() > 0 {
			usd, err := b.valueLeg(ctx, rec.CollateralAsset, rec.Collateral)
			if err != nil {
				return nil, err
			}
			total.Add(total, usd)
		}
		if rec.Debt.Sign() > 0 {
			usd, err := b.valueLeg(ctx, rec.DebtAsset, rec.Debt)
			if err != nil {
				return nil, err
			}
			total.Sub(total, usd)
		}
	}
	return total, nil
}

func (b *BalanceFuse) valueLeg(ctx *fuses.ReadContext, asset common.Address, amount *big.Int) (*big.Int, error) {
	decimals, err := ctx.State.AssetDecimals(asset)
	if err != nil {
		return nil, fmt.Errorf("trove: decimals for %s: %w", asset.Hex(), err)
	}
	num, priceDecimals, err := ctx.Prices.Price(asset)
	if err != nil {
		return nil, fmt.Errorf("trove: price for %s: %w", asset.Hex(), err)
	}
	usd, err := valuation.ToUSDWad(amount, decimals, num, priceDecimals)
	if err != nil {
		return nil, fmt.Errorf("trove: value %s: %w", asset.Hex(), err)
	}
	return usd, nil
}
