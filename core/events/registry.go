package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/types"
	"omnivault/native/registry"
)

const (
	// TypeSubstrateGranted is emitted when an address joins a market whitelist.
	TypeSubstrateGranted = "registry.substrateGranted"
	// TypeSubstrateRevoked is emitted when an address leaves a market whitelist.
	TypeSubstrateRevoked = "registry.substrateRevoked"
	// TypeMarketUpdated captures balance-fuse or dependency changes for a market.
	TypeMarketUpdated = "registry.marketUpdated"
)

// SubstrateGranted records a whitelist addition on a market.
type SubstrateGranted struct {
	Market    uint64
	Substrate registry.Substrate
}

// EventType satisfies the Event interface.
func (SubstrateGranted) EventType() string { return TypeSubstrateGranted }

// Event converts the structured payload into a broadcastable event.
func (e SubstrateGranted) Event() *types.Event {
	return &types.Event{Type: TypeSubstrateGranted, Attributes: substrateAttrs(e.Market, e.Substrate)}
}

// SubstrateRevoked records a whitelist removal on a market.
type SubstrateRevoked struct {
	Market    uint64
	Substrate registry.Substrate
}

// EventType satisfies the Event interface.
func (SubstrateRevoked) EventType() string { return TypeSubstrateRevoked }

// Event converts the structured payload into a broadcastable event.
func (e SubstrateRevoked) Event() *types.Event {
	return &types.Event{Type: TypeSubstrateRevoked, Attributes: substrateAttrs(e.Market, e.Substrate)}
}

func substrateAttrs(market uint64, sub registry.Substrate) map[string]string {
	return map[string]string{
		"market":    strconv.FormatUint(market, 10),
		"kind":      sub.Kind().String(),
		"addr":      formatAddress(sub.Address()),
		"substrate": sub.Hex(),
	}
}

// MarketUpdated records a change to a market's balance fuse or dependency set.
type MarketUpdated struct {
	Market       uint64
	BalanceFuse  common.Address
	Dependencies []uint64
}

// EventType satisfies the Event interface.
func (MarketUpdated) EventType() string { return TypeMarketUpdated }

// Event converts the structured payload into a broadcastable event.
func (e MarketUpdated) Event() *types.Event {
	attrs := map[string]string{
		"market": strconv.FormatUint(e.Market, 10),
	}
	if !zeroAddress(e.BalanceFuse) {
		attrs["balanceFuse"] = formatAddress(e.BalanceFuse)
	}
	if deps := formatMarkets(e.Dependencies); deps != "" {
		attrs["dependencies"] = deps
	}
	return &types.Event{Type: TypeMarketUpdated, Attributes: attrs}
}
