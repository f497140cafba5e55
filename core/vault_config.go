package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/events"
	"omnivault/core/state"
	"omnivault/native/access"
	"omnivault/native/fuses/rewards"
	"omnivault/native/registry"
)

// configure runs fn as a configuration-role transition: the gate check and
// fn's writes commit together or not at all.
func (v *Vault) configure(caller common.Address, fn func(m *state.Manager) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, err := v.update(func(m *state.Manager) error {
		if _, err := requireLedger(m); err != nil {
			return err
		}
		if err := access.NewGate(m).RequireConfiguration(caller); err != nil {
			return err
		}
		return fn(m)
	})
	return err
}

// CreateMarket registers a new market in the directory.
func (v *Vault) CreateMarket(caller common.Address, id uint64, name string) error {
	err := v.configure(caller, func(m *state.Manager) error {
		return registry.NewDirectory(m).Create(id, name)
	})
	if err != nil {
		return err
	}
	v.emit(events.MarketUpdated{Market: id})
	return nil
}

// SetBalanceFuse binds the fuse that values the market. A non-zero address
// must resolve to a registered balance-fuse implementation.
func (v *Vault) SetBalanceFuse(caller common.Address, id uint64, fuse common.Address) error {
	if fuse != (common.Address{}) {
		if _, ok := v.bank.Balance(fuse); !ok {
			return fmt.Errorf("vault: no balance fuse implementation at %s", fuse.Hex())
		}
	}
	var rec registry.Market
	err := v.configure(caller, func(m *state.Manager) error {
		dir := registry.NewDirectory(m)
		if err := dir.SetBalanceFuse(id, fuse); err != nil {
			return err
		}
		updated, err := dir.Market(id)
		if err != nil {
			return err
		}
		rec = updated
		return nil
	})
	if err != nil {
		return err
	}
	v.emit(events.MarketUpdated{Market: rec.ID, BalanceFuse: rec.BalanceFuse, Dependencies: rec.Dependencies})
	return nil
}

// SetDependencies replaces the market's dependency list. The update is
// rejected when it would make the market graph cyclic.
func (v *Vault) SetDependencies(caller common.Address, id uint64, deps []uint64) error {
	var rec registry.Market
	err := v.configure(caller, func(m *state.Manager) error {
		dir := registry.NewDirectory(m)
		if err := dir.SetDependencies(id, deps); err != nil {
			return err
		}
		updated, err := dir.Market(id)
		if err != nil {
			return err
		}
		rec = updated
		return nil
	})
	if err != nil {
		return err
	}
	v.emit(events.MarketUpdated{Market: rec.ID, BalanceFuse: rec.BalanceFuse, Dependencies: rec.Dependencies})
	return nil
}

// GrantSubstrates whitelists the substrates for the market.
func (v *Vault) GrantSubstrates(caller common.Address, market uint64, subs []registry.Substrate) error {
	err := v.configure(caller, func(m *state.Manager) error {
		return registry.NewRegistry(m).Grant(market, subs)
	})
	if err != nil {
		return err
	}
	for _, sub := range subs {
		v.emit(events.SubstrateGranted{Market: market, Substrate: sub})
	}
	return nil
}

// RevokeSubstrates removes the substrates from the market's whitelist.
func (v *Vault) RevokeSubstrates(caller common.Address, market uint64, subs []registry.Substrate) error {
	err := v.configure(caller, func(m *state.Manager) error {
		return registry.NewRegistry(m).Revoke(market, subs)
	})
	if err != nil {
		return err
	}
	for _, sub := range subs {
		v.emit(events.SubstrateRevoked{Market: market, Substrate: sub})
	}
	return nil
}

// InstallFuse writes the durable record that allows a fuse to be
// dispatched. The record must agree with the in-memory implementation on
// market and reward classification, so a config typo cannot widen what the
// process actually runs.
func (v *Vault) InstallFuse(caller common.Address, rec state.FuseRecord) error {
	impl, ok := v.bank.Fuse(rec.Address)
	if !ok {
		return fmt.Errorf("vault: no fuse implementation at %s", rec.Address.Hex())
	}
	if impl.Market() != rec.Market {
		return fmt.Errorf("vault: fuse %s implements market %d, record says %d", rec.Address.Hex(), impl.Market(), rec.Market)
	}
	if v.bank.IsReward(rec.Address) != rec.Reward {
		return fmt.Errorf("vault: fuse %s reward flag mismatch", rec.Address.Hex())
	}
	err := v.configure(caller, func(m *state.Manager) error {
		return m.FusePut(rec)
	})
	if err != nil {
		return err
	}
	v.emit(events.VaultFuseInstalled{Fuse: rec.Address, Market: rec.Market, Kind: rec.Kind, Reward: rec.Reward})
	return nil
}

// RegisterAsset stores metadata for a new asset.
func (v *Vault) RegisterAsset(caller common.Address, rec state.AssetRecord) error {
	err := v.configure(caller, func(m *state.Manager) error {
		return m.RegisterAsset(rec)
	})
	if err != nil {
		return err
	}
	v.emit(events.AssetRegistered{Asset: rec.Address, Symbol: rec.Symbol, Decimals: rec.Decimals})
	return nil
}

// MintAsset credits balance to an account. It exists for provisioning and
// test environments; production balances arrive through deposits.
func (v *Vault) MintAsset(caller common.Address, asset, account common.Address, amount *big.Int) error {
	if amount != nil && amount.Sign() < 0 {
		return errNegativeAmount
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	err := v.configure(caller, func(m *state.Manager) error {
		return m.Credit(asset, account, amount)
	})
	if err != nil {
		return err
	}
	v.emit(events.AssetMinted{Asset: asset, Account: account, Amount: amount})
	return nil
}

// GrantRole assigns a vault role to the address.
func (v *Vault) GrantRole(caller common.Address, role string, addr common.Address) error {
	if !knownRole(role) {
		return fmt.Errorf("vault: unknown role %q", role)
	}
	err := v.configure(caller, func(m *state.Manager) error {
		return m.SetRole(role, addr)
	})
	if err != nil {
		return err
	}
	v.emit(events.RoleGranted{Role: role, Account: addr})
	return nil
}

// RevokeRole removes a vault role from the address.
func (v *Vault) RevokeRole(caller common.Address, role string, addr common.Address) error {
	if !knownRole(role) {
		return fmt.Errorf("vault: unknown role %q", role)
	}
	err := v.configure(caller, func(m *state.Manager) error {
		return m.RemoveRole(role, addr)
	})
	if err != nil {
		return err
	}
	v.emit(events.RoleRevoked{Role: role, Account: addr})
	return nil
}

// AccrueReward posts a claimable reward against a gauge, to be collected
// later by a reward-claim batch.
func (v *Vault) AccrueReward(caller common.Address, market uint64, gauge, asset common.Address, amount *big.Int) error {
	var pending *big.Int
	err := v.configure(caller, func(m *state.Manager) error {
		if exists, err := m.MarketExists(market); err != nil {
			return err
		} else if !exists {
			return fmt.Errorf("%w: %d", registry.ErrUnknownMarket, market)
		}
		if err := rewards.Accrue(m, market, gauge, asset, amount); err != nil {
			return err
		}
		acc, _, err := rewards.Pending(m, market, gauge)
		if err != nil {
			return err
		}
		pending = acc.Accrued
		return nil
	})
	if err != nil {
		return err
	}
	v.emit(events.RewardAccrued{Gauge: gauge, Asset: asset, Amount: amount, Pending: pending})
	return nil
}

// SubmitPrice records a quote on the oracle. Prices live beside the state
// rather than in it, so only the role check reads the trie.
func (v *Vault) SubmitPrice(caller common.Address, asset common.Address, num *big.Int, decimals uint8, source string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	manager := state.NewManager(v.trie)
	if _, err := requireLedger(manager); err != nil {
		return err
	}
	if err := access.NewGate(manager).RequireConfiguration(caller); err != nil {
		return err
	}
	if err := v.oracle.SetPrice(asset, num, decimals, source); err != nil {
		return err
	}
	v.emit(events.PriceUpdated{Asset: asset, Num: num, Decimals: decimals, Source: source})
	return nil
}
