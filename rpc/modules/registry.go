package modules

import (
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core"
	"omnivault/core/state"
	"omnivault/native/registry"
)

type RegistryModule struct {
	vault *core.Vault
}

func NewRegistryModule(vault *core.Vault) *RegistryModule {
	return &RegistryModule{vault: vault}
}

func (m *RegistryModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "registry module not available"}
}

func (m *RegistryModule) CreateMarket(caller common.Address, id uint64, name string) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	if err := m.vault.CreateMarket(caller, id, name); err != nil {
		return wrapVaultError(err)
	}
	return nil
}

func (m *RegistryModule) SetBalanceFuse(caller common.Address, id uint64, fuse common.Address) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	if err := m.vault.SetBalanceFuse(caller, id, fuse); err != nil {
		return wrapVaultError(err)
	}
	return nil
}

func (m *RegistryModule) SetDependencies(caller common.Address, id uint64, deps []uint64) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	if err := m.vault.SetDependencies(caller, id, deps); err != nil {
		return wrapVaultError(err)
	}
	return nil
}

func (m *RegistryModule) GrantSubstrates(caller common.Address, market uint64, subs []registry.Substrate) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	if err := m.vault.GrantSubstrates(caller, market, subs); err != nil {
		return wrapVaultError(err)
	}
	return nil
}

func (m *RegistryModule) RevokeSubstrates(caller common.Address, market uint64, subs []registry.Substrate) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	if err := m.vault.RevokeSubstrates(caller, market, subs); err != nil {
		return wrapVaultError(err)
	}
	return nil
}

func (m *RegistryModule) InstallFuse(caller common.Address, rec state.FuseRecord) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	if err := m.vault.InstallFuse(caller, rec); err != nil {
		return wrapVaultError(err)
	}
	return nil
}

func (m *RegistryModule) RegisterAsset(caller common.Address, rec state.AssetRecord) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	if err := m.vault.RegisterAsset(caller, rec); err != nil {
		return wrapVaultError(err)
	}
	return nil
}

func (m *RegistryModule) MintAsset(caller common.Address, asset, account common.Address, amount *big.Int) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	if err := m.vault.MintAsset(caller, asset, account, amount); err != nil {
		return wrapVaultError(err)
	}
	return nil
}

func (m *RegistryModule) GrantRole(caller common.Address, role string, addr common.Address) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	if err := m.vault.GrantRole(caller, role, addr); err != nil {
		return wrapVaultError(err)
	}
	return nil
}

func (m *RegistryModule) RevokeRole(caller common.Address, role string, addr common.Address) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	if err := m.vault.RevokeRole(caller, role, addr); err != nil {
		return wrapVaultError(err)
	}
	return nil
}

func (m *RegistryModule) ListMarkets() ([]registry.Market, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	markets, err := m.vault.Markets()
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return markets, nil
}

func (m *RegistryModule) GetMarket(id uint64) (registry.Market, *ModuleError) {
	if m == nil || m.vault == nil {
		return registry.Market{}, m.moduleUnavailable()
	}
	market, err := m.vault.Market(id)
	if err != nil {
		return registry.Market{}, wrapVaultError(err)
	}
	return market, nil
}

func (m *RegistryModule) Substrates(market uint64) ([]registry.Substrate, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	subs, err := m.vault.Substrates(market)
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return subs, nil
}

func (m *RegistryModule) Fuses() ([]state.FuseRecord, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	records, err := m.vault.Fuses()
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return records, nil
}

func (m *RegistryModule) Assets() ([]state.AssetRecord, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	records, err := m.vault.Assets()
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return records, nil
}

func (m *RegistryModule) RoleMembers(role string) ([]common.Address, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	members, err := m.vault.RoleMembers(role)
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return members, nil
}
