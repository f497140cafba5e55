package events

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/types"
)

const (
	// TypeAssetRegistered is emitted when an asset's metadata is configured.
	TypeAssetRegistered = "asset.registered"
	// TypeAssetMinted is emitted when balance is minted to an account for testing
	// or genesis provisioning.
	TypeAssetMinted = "asset.minted"
)

// AssetRegistered records asset metadata joining the vault.
type AssetRegistered struct {
	Asset    common.Address
	Symbol   string
	Decimals uint8
}

// EventType satisfies the Event interface.
func (AssetRegistered) EventType() string { return TypeAssetRegistered }

// Event converts the structured payload into a broadcastable event.
func (e AssetRegistered) Event() *types.Event {
	attrs := map[string]string{
		"asset":    formatAddress(e.Asset),
		"decimals": strconv.FormatUint(uint64(e.Decimals), 10),
	}
	if symbol := strings.TrimSpace(e.Symbol); symbol != "" {
		attrs["symbol"] = strings.ToUpper(symbol)
	}
	return &types.Event{Type: TypeAssetRegistered, Attributes: attrs}
}

// AssetMinted records balance created out of thin air by a configuration call.
type AssetMinted struct {
	Asset   common.Address
	Account common.Address
	Amount  *big.Int
}

// EventType satisfies the Event interface.
func (AssetMinted) EventType() string { return TypeAssetMinted }

// Event converts the structured payload into a broadcastable event.
func (e AssetMinted) Event() *types.Event {
	attrs := map[string]string{
		"asset":  formatAddress(e.Asset),
		"addr":   formatAddress(e.Account),
		"amount": formatAmount(e.Amount),
	}
	return &types.Event{Type: TypeAssetMinted, Attributes: attrs}
}
