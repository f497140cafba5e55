package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/types"
)

const (
	// TypeVaultDeposit captures base-asset deposits and the shares they mint.
	TypeVaultDeposit = "vault.deposit"
	// TypeVaultWithdraw captures share redemptions paid out in the base asset.
	TypeVaultWithdraw = "vault.withdraw"
	// TypeVaultBatchExecuted is emitted once per successfully committed action batch.
	TypeVaultBatchExecuted = "vault.batchExecuted"
	// TypeVaultFuseInstalled signals that a fuse implementation was bound to a market.
	TypeVaultFuseInstalled = "vault.fuseInstalled"
)

// VaultDeposit captures the share issuance realised by a deposit.
type VaultDeposit struct {
	Account     common.Address
	Amount      *big.Int
	SharesAdded *big.Int
	TotalShares *big.Int
}

// EventType satisfies the Event interface.
func (VaultDeposit) EventType() string { return TypeVaultDeposit }

// Event converts the structured payload into a broadcastable event.
func (e VaultDeposit) Event() *types.Event {
	attrs := map[string]string{
		"addr":        formatAddress(e.Account),
		"amount":      formatAmount(e.Amount),
		"sharesAdded": formatAmount(e.SharesAdded),
	}
	if e.TotalShares != nil {
		attrs["totalShares"] = e.TotalShares.String()
	}
	return &types.Event{Type: TypeVaultDeposit, Attributes: attrs}
}

// VaultWithdraw captures the share burn realised by a withdrawal.
type VaultWithdraw struct {
	Account       common.Address
	Amount        *big.Int
	SharesRemoved *big.Int
	TotalShares   *big.Int
}

// EventType satisfies the Event interface.
func (VaultWithdraw) EventType() string { return TypeVaultWithdraw }

// Event converts the structured payload into a broadcastable event.
func (e VaultWithdraw) Event() *types.Event {
	attrs := map[string]string{
		"addr":          formatAddress(e.Account),
		"amount":        formatAmount(e.Amount),
		"sharesRemoved": formatAmount(e.SharesRemoved),
	}
	if e.TotalShares != nil {
		attrs["totalShares"] = e.TotalShares.String()
	}
	return &types.Event{Type: TypeVaultWithdraw, Attributes: attrs}
}

// VaultBatchExecuted records a committed action batch along with its canonical
// digest so indexers can correlate receipts with the audit journal.
type VaultBatchExecuted struct {
	Caller     common.Address
	Digest     common.Hash
	Actions    int
	Sequence   uint64
	RewardOnly bool
}

// EventType satisfies the Event interface.
func (VaultBatchExecuted) EventType() string { return TypeVaultBatchExecuted }

// Event converts the structured payload into a broadcastable event.
func (e VaultBatchExecuted) Event() *types.Event {
	attrs := map[string]string{
		"caller":  formatAddress(e.Caller),
		"digest":  e.Digest.Hex(),
		"actions": strconv.Itoa(e.Actions),
		"seq":     strconv.FormatUint(e.Sequence, 10),
	}
	if e.RewardOnly {
		attrs["rewardOnly"] = "true"
	}
	return &types.Event{Type: TypeVaultBatchExecuted, Attributes: attrs}
}

// VaultFuseInstalled records a fuse implementation joining the vault.
type VaultFuseInstalled struct {
	Fuse   common.Address
	Market uint64
	Kind   string
	Reward bool
}

// EventType satisfies the Event interface.
func (VaultFuseInstalled) EventType() string { return TypeVaultFuseInstalled }

// Event converts the structured payload into a broadcastable event.
func (e VaultFuseInstalled) Event() *types.Event {
	attrs := map[string]string{
		"fuse":   formatAddress(e.Fuse),
		"market": strconv.FormatUint(e.Market, 10),
	}
	if e.Kind != "" {
		attrs["kind"] = e.Kind
	}
	if e.Reward {
		attrs["reward"] = "true"
	}
	return &types.Event{Type: TypeVaultFuseInstalled, Attributes: attrs}
}
