package core

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/state"
	"omnivault/native/registry"
)

// GenesisBalance seeds an account with asset balance.
type GenesisBalance struct {
	Asset   common.Address
	Account common.Address
	Amount  *big.Int
}

// GenesisMarket declares a market with its full configuration.
type GenesisMarket struct {
	ID           uint64
	Name         string
	BalanceFuse  common.Address
	Dependencies []uint64
	Substrates   []registry.Substrate
}

// Genesis is the initial vault configuration applied exactly once. Oracle
// prices are deliberately absent: quotes are runtime inputs, not state.
type Genesis struct {
	Roles    map[string][]common.Address
	Assets   []state.AssetRecord
	Balances []GenesisBalance
	Markets  []GenesisMarket
	Fuses    []state.FuseRecord
}

// InitGenesis applies the genesis configuration in a single transition. It
// fails on an already initialised vault and validates the same constraints
// the individual configuration operations do.
func (v *Vault) InitGenesis(gen Genesis) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, err := v.update(func(m *state.Manager) error {
		if _, exists, err := m.Ledger(); err != nil {
			return err
		} else if exists {
			return ErrAlreadyInitialised
		}
		if err := m.SetStateVersion(state.StateVersion); err != nil {
			return err
		}

		baseRegistered := false
		for _, rec := range gen.Assets {
			if err := m.RegisterAsset(rec); err != nil {
				return err
			}
			if rec.Address == v.base {
				baseRegistered = true
			}
		}
		if !baseRegistered {
			return fmt.Errorf("vault: genesis must register base asset %s", v.base.Hex())
		}
		if err := m.PutLedger(state.Ledger{BaseAsset: v.base, ShareSupply: big.NewInt(0)}); err != nil {
			return err
		}

		for role, members := range gen.Roles {
			if !knownRole(role) {
				return fmt.Errorf("vault: unknown genesis role %q", role)
			}
			for _, member := range members {
				if err := m.SetRole(role, member); err != nil {
					return err
				}
			}
		}

		for _, bal := range gen.Balances {
			if err := m.Credit(bal.Asset, bal.Account, bal.Amount); err != nil {
				return err
			}
		}

		// Markets are created in two passes so dependencies may reference
		// markets declared later in the file.
		dir := registry.NewDirectory(m)
		for _, market := range gen.Markets {
			if err := dir.Create(market.ID, market.Name); err != nil {
				return err
			}
		}
		reg := registry.NewRegistry(m)
		for _, market := range gen.Markets {
			if len(market.Dependencies) > 0 {
				if err := dir.SetDependencies(market.ID, market.Dependencies); err != nil {
					return err
				}
			}
			if market.BalanceFuse != (common.Address{}) {
				if _, ok := v.bank.Balance(market.BalanceFuse); !ok {
					return fmt.Errorf("vault: no balance fuse implementation at %s", market.BalanceFuse.Hex())
				}
				if err := dir.SetBalanceFuse(market.ID, market.BalanceFuse); err != nil {
					return err
				}
			}
			if len(market.Substrates) > 0 {
				if err := reg.Grant(market.ID, market.Substrates); err != nil {
					return err
				}
			}
		}

		for _, rec := range gen.Fuses {
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
			if err := m.FusePut(rec); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// Initialised reports whether genesis has been applied.
func (v *Vault) Initialised() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok, err := state.NewManager(v.trie).Ledger()
	return ok, err
}
