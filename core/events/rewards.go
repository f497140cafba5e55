package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/types"
)

// TypeRewardAccrued is emitted when a reward accrual is posted against a gauge.
const TypeRewardAccrued = "rewards.accrued"

// RewardAccrued records reward balance becoming claimable on a gauge.
type RewardAccrued struct {
	Gauge   common.Address
	Asset   common.Address
	Amount  *big.Int
	Pending *big.Int
}

// EventType satisfies the Event interface.
func (RewardAccrued) EventType() string { return TypeRewardAccrued }

// Event converts the structured payload into a broadcastable event.
func (e RewardAccrued) Event() *types.Event {
	attrs := map[string]string{
		"gauge":  formatAddress(e.Gauge),
		"asset":  formatAddress(e.Asset),
		"amount": formatAmount(e.Amount),
	}
	if e.Pending != nil {
		attrs["pending"] = e.Pending.String()
	}
	return &types.Event{Type: TypeRewardAccrued, Attributes: attrs}
}
