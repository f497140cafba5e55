package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/native/registry"
)

// ReadView exposes the read-only subset of Manager. Valuation paths receive
// a ReadView so the code computing a market's value has no mutators in
// reach.
type ReadView struct {
	m *Manager
}

func NewReadView(m *Manager) *ReadView {
	return &ReadView{m: m}
}

func (v *ReadView) BalanceOf(asset, holder common.Address) (*big.Int, error) {
	return v.m.BalanceOf(asset, holder)
}

func (v *ReadView) AssetDecimals(asset common.Address) (uint8, error) {
	return v.m.AssetDecimals(asset)
}

func (v *ReadView) SubstrateGranted(market uint64, sub registry.Substrate) bool {
	return v.m.SubstrateGranted(market, sub)
}

func (v *ReadView) SubstrateList(market uint64) ([]registry.Substrate, error) {
	return v.m.SubstrateList(market)
}

func (v *ReadView) MarketRecordGet(market uint64, key []byte, out interface{}) (bool, error) {
	return v.m.MarketRecordGet(market, key, out)
}

func (v *ReadView) MarketGet(id uint64) (registry.Market, bool, error) {
	return v.m.MarketGet(id)
}

func (v *ReadView) MarketIDs() ([]uint64, error) {
	return v.m.MarketIDs()
}
