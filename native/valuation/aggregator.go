package valuation

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/native/fuses"
	"omnivault/native/registry"
)

// State is the read surface valuation walks. It is deliberately free of
// mutators; hand in a read view so a balance fuse can never move funds.
type State interface {
	fuses.ReadState
	registry.DirectoryReader
}

// BalanceResolver looks up the valuation fuse installed at an address.
type BalanceResolver interface {
	Balance(addr common.Address) (fuses.BalanceFuse, bool)
}

var (
	errNilResolver = errors.New("valuation: balance resolver not configured")

	// ErrNoBalanceFuse is returned when an active market has no way to be
	// valued. Skipping it would silently understate total assets, so the
	// aggregation fails instead.
	ErrNoBalanceFuse = errors.New("valuation: market has no balance fuse")
)

// Aggregator computes vault-wide value. Totals are always derived from
// current state; nothing here is cached, so a price or position update is
// visible to the very next call.
type Aggregator struct {
	resolver BalanceResolver
	prices   fuses.PriceSource
}

func NewAggregator(resolver BalanceResolver, prices fuses.PriceSource) *Aggregator {
	return &Aggregator{resolver: resolver, prices: prices}
}

// MarketValue values one market in USD at 18 decimals. A market with no
// granted substrates holds nothing and values to zero without consulting
// its balance fuse.
func (a *Aggregator) MarketValue(st State, vault common.Address, market uint64) (*big.Int, error) {
	if a == nil || a.resolver == nil {
		return nil, errNilResolver
	}
	rec, exists, err := st.MarketGet(market)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %d", registry.ErrUnknownMarket, market)
	}
	return a.marketValue(st, vault, rec)
}

func (a *Aggregator) marketValue(st State, vault common.Address, rec registry.Market) (*big.Int, error) {
	subs, err := st.SubstrateList(rec.ID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return new(big.Int), nil
	}
	if rec.BalanceFuse == (common.Address{}) {
		return nil, fmt.Errorf("%w: market %d", ErrNoBalanceFuse, rec.ID)
	}
	fuse, ok := a.resolver.Balance(rec.BalanceFuse)
	if !ok {
		return nil, fmt.Errorf("%w: market %d fuse %s not installed", ErrNoBalanceFuse, rec.ID, rec.BalanceFuse.Hex())
	}
	value, err := fuse.Value(&fuses.ReadContext{Vault: vault, State: st, Prices: a.prices})
	if err != nil {
		return nil, fmt.Errorf("valuation: market %d: %w", rec.ID, err)
	}
	if value == nil {
		value = new(big.Int)
	}
	return value, nil
}

// TotalAssets returns the vault's value in base-asset units: every market's
// USD value plus the idle base balance. Markets are walked dependencies
// first, and the USD sum converts to base units once at the end so
// rounding happens a single time.
func (a *Aggregator) TotalAssets(st State, vault, base common.Address) (*big.Int, error) {
	if a == nil || a.resolver == nil {
		return nil, errNilResolver
	}
	if a.prices == nil {
		return nil, errors.New("valuation: price source not configured")
	}
	order, err := registry.TopoOrder(st)
	if err != nil {
		return nil, err
	}
	totalUSD := new(big.Int)
	for _, id := range order {
		rec, exists, err := st.MarketGet(id)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		value, err := a.marketValue(st, vault, rec)
		if err != nil {
			return nil, err
		}
		totalUSD.Add(totalUSD, value)
	}

	baseDecimals, err := st.AssetDecimals(base)
	if err != nil {
		return nil, fmt.Errorf("valuation: base asset: %w", err)
	}
	deployed := new(big.Int)
	if totalUSD.Sign() != 0 {
		num, priceDecimals, err := a.prices.Price(base)
		if err != nil {
			return nil, fmt.Errorf("valuation: base asset: %w", err)
		}
		magnitude, err := FromUSDWad(new(big.Int).Abs(totalUSD), baseDecimals, num, priceDecimals)
		if err != nil {
			return nil, err
		}
		deployed.Set(magnitude)
		if totalUSD.Sign() < 0 {
			deployed.Neg(deployed)
		}
	}

	idle, err := st.BalanceOf(base, vault)
	if err != nil {
		return nil, err
	}
	total := new(big.Int).Add(deployed, idle)
	// Markets can net negative when debt outweighs collateral; the vault as
	// a whole never reports below zero.
	if total.Sign() < 0 {
		total.SetInt64(0)
	}
	return total, nil
}
