package fuses

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/native/registry"
)

// ReadState is the read-only state surface available during valuation.
type ReadState interface {
	BalanceOf(asset, holder common.Address) (*big.Int, error)
	AssetDecimals(asset common.Address) (uint8, error)
	SubstrateGranted(market uint64, sub registry.Substrate) bool
	SubstrateList(market uint64) ([]registry.Substrate, error)
	MarketRecordGet(market uint64, key []byte, out interface{}) (bool, error)
}

// State adds the mutators an executing fuse may use. Balance moves go
// through Credit/Debit so the insufficient-funds check lives in one place.
type State interface {
	ReadState
	Credit(asset, holder common.Address, amount *big.Int) error
	Debit(asset, holder common.Address, amount *big.Int) error
	MarketRecordPut(market uint64, key []byte, value interface{}) error
	MarketRecordDelete(market uint64, key []byte) error
}

// Transient is the caller-scoped window onto the batch's transient context.
// Slots are addressed by fuse; the current caller is fixed by the
// dispatcher, so a fuse can neither read nor write another caller's slots.
type Transient interface {
	SetInputs(fuse common.Address, words []Word)
	Inputs(fuse common.Address) []Word
	Input(fuse common.Address, index int) (Word, error)
	TakeInputs(fuse common.Address) []Word
	SetOutputs(fuse common.Address, words []Word)
	Outputs(fuse common.Address) []Word
}

// PriceSource supplies asset prices as (numerator, decimals) pairs: one
// whole token is worth numerator / 10^decimals USD.
type PriceSource interface {
	Price(asset common.Address) (*big.Int, uint8, error)
}

// Context carries everything an executing fuse touches. The vault address
// is the acting principal whose balances move; the caller is the identity
// that submitted the batch.
type Context struct {
	Vault     common.Address
	Caller    common.Address
	State     State
	Transient Transient
}

// ReadContext carries the valuation surface. It has no mutators by
// construction.
type ReadContext struct {
	Vault  common.Address
	State  ReadState
	Prices PriceSource
}

// Receipt summarises one executed action.
type Receipt struct {
	Fuse   common.Address
	Market uint64
	Op     string
	Noop   bool
	Asset  common.Address
	Amount *big.Int
	Out    *big.Int
}

// Fuse is one registered executable unit bound to a market. Enter moves
// vault funds into the market, Exit brings them back; both decode their
// typed argument shape from the payload before touching state.
type Fuse interface {
	Address() common.Address
	Market() uint64
	Enter(ctx *Context, args []byte) (*Receipt, error)
	Exit(ctx *Context, args []byte) (*Receipt, error)
}

// TransientFuse additionally accepts its arguments from words staged in the
// transient context by an earlier action of the same batch.
type TransientFuse interface {
	Fuse
	EnterTransient(ctx *Context) (*Receipt, error)
	ExitTransient(ctx *Context) (*Receipt, error)
}

// BalanceFuse values one market's positions in USD, scaled to 18 decimals.
type BalanceFuse interface {
	Address() common.Address
	Market() uint64
	Value(ctx *ReadContext) (*big.Int, error)
}
