package valuation

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoPrice is returned when an asset has no quote. Valuation never
// guesses; a missing price fails the whole aggregation.
var ErrNoPrice = errors.New("valuation: no price for asset")

// Price is one USD quote: a whole token is worth Num / 10^Decimals.
type Price struct {
	Num       *big.Int
	Decimals  uint8
	Source    string
	UpdatedAt time.Time
}

// Entry pairs a quote with the asset it prices.
type Entry struct {
	Asset common.Address
	Price
}

// ManualOracle holds operator-submitted quotes in memory. Durable history
// lives in the sample store; on restart the latest sample per asset is
// fed back in through SetPrice.
type ManualOracle struct {
	mu     sync.RWMutex
	prices map[common.Address]Price
	now    func() time.Time
}

func NewManualOracle() *ManualOracle {
	return &ManualOracle{
		prices: make(map[common.Address]Price),
		now:    time.Now,
	}
}

func (o *ManualOracle) SetNowFunc(now func() time.Time) {
	if now == nil {
		return
	}
	o.mu.Lock()
	o.now = now
	o.mu.Unlock()
}

// SetPrice installs or replaces the quote for an asset.
func (o *ManualOracle) SetPrice(asset common.Address, num *big.Int, decimals uint8, source string) error {
	if o == nil {
		return errors.New("valuation: oracle not initialised")
	}
	if asset == (common.Address{}) {
		return errors.New("valuation: asset address must not be zero")
	}
	if num == nil || num.Sign() <= 0 {
		return fmt.Errorf("valuation: price for %s must be positive", asset.Hex())
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = Price{
		Num:       new(big.Int).Set(num),
		Decimals:  decimals,
		Source:    strings.TrimSpace(source),
		UpdatedAt: o.now(),
	}
	return nil
}

// ParseQuote converts a decimal string such as "1843.27" into an
// 18-decimal fixed-point numerator.
func ParseQuote(value string) (*big.Int, uint8, error) {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(value))
	if !ok {
		return nil, 0, fmt.Errorf("valuation: cannot parse price %q", value)
	}
	if rat.Sign() <= 0 {
		return nil, 0, fmt.Errorf("valuation: price %q must be positive", value)
	}
	scaled := new(big.Int).Mul(rat.Num(), new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil))
	num := scaled.Quo(scaled, rat.Denom())
	if num.Sign() == 0 {
		return nil, 0, fmt.Errorf("valuation: price %q rounds to zero", value)
	}
	return num, WadDecimals, nil
}

// SetPriceString accepts a decimal string and stores it as an 18-decimal
// fixed-point quote.
func (o *ManualOracle) SetPriceString(asset common.Address, value, source string) error {
	num, decimals, err := ParseQuote(value)
	if err != nil {
		return err
	}
	return o.SetPrice(asset, num, decimals, source)
}

// Price satisfies the price source consumed by balance fuses.
func (o *ManualOracle) Price(asset common.Address) (*big.Int, uint8, error) {
	if o == nil {
		return nil, 0, errors.New("valuation: oracle not initialised")
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	quote, ok := o.prices[asset]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNoPrice, asset.Hex())
	}
	return new(big.Int).Set(quote.Num), quote.Decimals, nil
}

// Lookup returns the full quote, including provenance.
func (o *ManualOracle) Lookup(asset common.Address) (Price, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	quote, ok := o.prices[asset]
	if !ok {
		return Price{}, false
	}
	quote.Num = new(big.Int).Set(quote.Num)
	return quote, true
}

// Entries lists every quote in stable asset order.
func (o *ManualOracle) Entries() []Entry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Entry, 0, len(o.prices))
	for asset, quote := range o.prices {
		quote.Num = new(big.Int).Set(quote.Num)
		out = append(out, Entry{Asset: asset, Price: quote})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Asset.Bytes(), out[j].Asset.Bytes()) < 0
	})
	return out
}
