package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/events"
	"omnivault/core/state"
	"omnivault/native/access"
	nativecommon "omnivault/native/common"
	"omnivault/native/dispatch"
	"omnivault/native/fuses"
)

// Deposit moves base asset from the caller into the vault and mints shares
// at the pre-deposit share price. A zero amount is a no-op that mints
// nothing.
func (v *Vault) Deposit(caller common.Address, amount *big.Int) (*big.Int, error) {
	if amount != nil && amount.Sign() < 0 {
		return nil, errNegativeAmount
	}
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := nativecommon.Guard(v.pauses, PauseDeposit); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	var minted, totalShares *big.Int
	_, err := v.update(func(m *state.Manager) error {
		led, err := requireLedger(m)
		if err != nil {
			return err
		}
		if err := v.applyQuota(m, caller, 1, 0); err != nil {
			return err
		}
		assets, err := v.aggregator.TotalAssets(m, v.addr, led.BaseAsset)
		if err != nil {
			return err
		}
		shares := new(big.Int)
		if led.ShareSupply.Sign() == 0 || assets.Sign() == 0 {
			shares.Set(amount)
		} else {
			shares.Div(new(big.Int).Mul(amount, led.ShareSupply), assets)
		}
		if shares.Sign() == 0 {
			return ErrDepositTooSmall
		}
		if err := m.Debit(led.BaseAsset, caller, amount); err != nil {
			return err
		}
		if err := m.Credit(led.BaseAsset, v.addr, amount); err != nil {
			return err
		}
		held, err := m.Shares(caller)
		if err != nil {
			return err
		}
		if err := m.SetShares(caller, new(big.Int).Add(held, shares)); err != nil {
			return err
		}
		led.ShareSupply = new(big.Int).Add(led.ShareSupply, shares)
		if err := m.PutLedger(led); err != nil {
			return err
		}
		minted = shares
		totalShares = led.ShareSupply
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.emit(events.VaultDeposit{
		Account:     caller,
		Amount:      amount,
		SharesAdded: minted,
		TotalShares: totalShares,
	})
	return minted, nil
}

// Withdraw pays the caller the requested base-asset amount out of the idle
// balance and burns shares at the pre-withdrawal share price, rounding the
// burn up so the remaining holders are never diluted. Funds deployed into
// markets must be routed back before they can be withdrawn.
func (v *Vault) Withdraw(caller common.Address, amount *big.Int) (*big.Int, error) {
	if amount != nil && amount.Sign() < 0 {
		return nil, errNegativeAmount
	}
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := nativecommon.Guard(v.pauses, PauseWithdraw); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	var burned, totalShares *big.Int
	_, err := v.update(func(m *state.Manager) error {
		led, err := requireLedger(m)
		if err != nil {
			return err
		}
		if err := v.applyQuota(m, caller, 1, outflowUnits(amount)); err != nil {
			return err
		}
		if led.ShareSupply.Sign() == 0 {
			return fmt.Errorf("%w: no shares outstanding", ErrInsufficientShares)
		}
		assets, err := v.aggregator.TotalAssets(m, v.addr, led.BaseAsset)
		if err != nil {
			return err
		}
		if assets.Sign() == 0 {
			return fmt.Errorf("vault: nothing to withdraw")
		}
		shares := divCeil(new(big.Int).Mul(amount, led.ShareSupply), assets)
		held, err := m.Shares(caller)
		if err != nil {
			return err
		}
		if held.Cmp(shares) < 0 {
			return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientShares, caller.Hex(), held, shares)
		}
		if err := m.Debit(led.BaseAsset, v.addr, amount); err != nil {
			return fmt.Errorf("vault idle cannot cover withdrawal: %w", err)
		}
		if err := m.Credit(led.BaseAsset, caller, amount); err != nil {
			return err
		}
		if err := m.SetShares(caller, new(big.Int).Sub(held, shares)); err != nil {
			return err
		}
		led.ShareSupply = new(big.Int).Sub(led.ShareSupply, shares)
		if err := m.PutLedger(led); err != nil {
			return err
		}
		burned = shares
		totalShares = led.ShareSupply
		return nil
	})
	if err != nil {
		return nil, err
	}
	v.emit(events.VaultWithdraw{
		Account:       caller,
		Amount:        amount,
		SharesRemoved: burned,
		TotalShares:   totalShares,
	})
	return burned, nil
}

// Execute runs an action batch atomically under the vault's identity. The
// caller needs the execution role, or the reward-claim role when every
// action targets a reward fuse. Any failing action discards the whole
// batch. The returned digest identifies the batch whether or not it
// committed.
func (v *Vault) Execute(caller common.Address, actions []dispatch.Action) ([]*fuses.Receipt, common.Hash, error) {
	digest := dispatch.DigestBatch(caller, actions)
	if err := nativecommon.Guard(v.pauses, PauseExecute); err != nil {
		return nil, digest, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	var receipts []*fuses.Receipt
	var rewardOnly bool
	seq, err := v.update(func(m *state.Manager) error {
		if _, err := requireLedger(m); err != nil {
			return err
		}
		ro, err := dispatch.RewardOnly(m, actions)
		if err != nil {
			return err
		}
		rewardOnly = ro
		if err := access.NewGate(m).AuthorizeBatch(caller, ro); err != nil {
			return err
		}
		if err := v.applyQuota(m, caller, 1, 0); err != nil {
			return err
		}
		arena := dispatch.NewTransientContext()
		out, err := v.dispatcher.Execute(m, arena, v.addr, caller, actions)
		if err != nil {
			return err
		}
		receipts = out
		return nil
	})
	if err != nil {
		return nil, digest, err
	}
	v.emit(events.VaultBatchExecuted{
		Caller:     caller,
		Digest:     digest,
		Actions:    len(actions),
		Sequence:   seq,
		RewardOnly: rewardOnly,
	})
	return receipts, digest, nil
}

// divCeil returns ceil(num/den) for positive den.
func divCeil(num, den *big.Int) *big.Int {
	out, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() != 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}
