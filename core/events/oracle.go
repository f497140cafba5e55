package events

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/types"
)

// TypePriceUpdated is emitted when the oracle accepts a new quote for an asset.
const TypePriceUpdated = "oracle.priceUpdated"

// PriceUpdated records an accepted oracle quote.
type PriceUpdated struct {
	Asset    common.Address
	Num      *big.Int
	Decimals uint8
	Source   string
}

// EventType satisfies the Event interface.
func (PriceUpdated) EventType() string { return TypePriceUpdated }

// Event converts the structured payload into a broadcastable event.
func (e PriceUpdated) Event() *types.Event {
	attrs := map[string]string{
		"asset":    formatAddress(e.Asset),
		"num":      formatAmount(e.Num),
		"decimals": strconv.FormatUint(uint64(e.Decimals), 10),
	}
	if source := strings.TrimSpace(e.Source); source != "" {
		attrs["source"] = source
	}
	return &types.Event{Type: TypePriceUpdated, Attributes: attrs}
}
