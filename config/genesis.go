package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core"
	"omnivault/core/state"
	"omnivault/native/registry"
)

// GenesisSpec is the JSON shape of a genesis file. Addresses are hex
// strings, amounts decimal strings, substrates labeled "kind:0xaddress".
type GenesisSpec struct {
	Roles    map[string][]string  `json:"roles"`
	Assets   []GenesisAssetSpec   `json:"assets"`
	Balances []GenesisBalanceSpec `json:"balances"`
	Markets  []GenesisMarketSpec  `json:"markets"`
	Fuses    []GenesisFuseSpec    `json:"fuses"`
}

type GenesisAssetSpec struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type GenesisBalanceSpec struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type GenesisMarketSpec struct {
	ID           uint64   `json:"id"`
	Name         string   `json:"name"`
	BalanceFuse  string   `json:"balanceFuse,omitempty"`
	Dependencies []uint64 `json:"dependencies,omitempty"`
	Substrates   []string `json:"substrates,omitempty"`
}

type GenesisFuseSpec struct {
	Address string `json:"address"`
	Market  uint64 `json:"market"`
	Kind    string `json:"kind"`
	Reward  bool   `json:"reward,omitempty"`
}

// LoadGenesisSpec reads and decodes a genesis file. Unknown fields are
// rejected so a typo in a key fails loudly instead of silently dropping
// configuration.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file: %w", err)
	}
	spec := &GenesisSpec{}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(spec); err != nil {
		return nil, fmt.Errorf("decode genesis file %s: %w", path, err)
	}
	return spec, nil
}

// Build resolves the spec into the runtime genesis document, validating
// every address, amount, and substrate label.
func (s *GenesisSpec) Build() (core.Genesis, error) {
	gen := core.Genesis{}

	if len(s.Roles) > 0 {
		gen.Roles = make(map[string][]common.Address, len(s.Roles))
		names := make([]string, 0, len(s.Roles))
		for role := range s.Roles {
			names = append(names, role)
		}
		sort.Strings(names)
		for _, role := range names {
			members := make([]common.Address, 0, len(s.Roles[role]))
			for _, raw := range s.Roles[role] {
				addr, err := parseAddress(raw)
				if err != nil {
					return core.Genesis{}, fmt.Errorf("genesis role %s: %w", role, err)
				}
				members = append(members, addr)
			}
			gen.Roles[role] = members
		}
	}

	for i, asset := range s.Assets {
		addr, err := parseAddress(asset.Address)
		if err != nil {
			return core.Genesis{}, fmt.Errorf("genesis asset %d: %w", i, err)
		}
		symbol := strings.TrimSpace(asset.Symbol)
		if symbol == "" {
			return core.Genesis{}, fmt.Errorf("genesis asset %d: symbol required", i)
		}
		gen.Assets = append(gen.Assets, state.AssetRecord{
			Address:  addr,
			Symbol:   symbol,
			Decimals: asset.Decimals,
		})
	}

	for i, balance := range s.Balances {
		asset, err := parseAddress(balance.Asset)
		if err != nil {
			return core.Genesis{}, fmt.Errorf("genesis balance %d: %w", i, err)
		}
		account, err := parseAddress(balance.Account)
		if err != nil {
			return core.Genesis{}, fmt.Errorf("genesis balance %d: %w", i, err)
		}
		amount, err := parseAmount(balance.Amount)
		if err != nil {
			return core.Genesis{}, fmt.Errorf("genesis balance %d: %w", i, err)
		}
		gen.Balances = append(gen.Balances, core.GenesisBalance{
			Asset:   asset,
			Account: account,
			Amount:  amount,
		})
	}

	for i, market := range s.Markets {
		entry := core.GenesisMarket{
			ID:           market.ID,
			Name:         strings.TrimSpace(market.Name),
			Dependencies: append([]uint64{}, market.Dependencies...),
		}
		if trimmed := strings.TrimSpace(market.BalanceFuse); trimmed != "" {
			addr, err := parseAddress(trimmed)
			if err != nil {
				return core.Genesis{}, fmt.Errorf("genesis market %d: balance fuse: %w", i, err)
			}
			entry.BalanceFuse = addr
		}
		for _, label := range market.Substrates {
			sub, err := registry.ParseLabeled(label)
			if err != nil {
				return core.Genesis{}, fmt.Errorf("genesis market %d: %w", i, err)
			}
			entry.Substrates = append(entry.Substrates, sub)
		}
		gen.Markets = append(gen.Markets, entry)
	}

	for i, fuse := range s.Fuses {
		addr, err := parseAddress(fuse.Address)
		if err != nil {
			return core.Genesis{}, fmt.Errorf("genesis fuse %d: %w", i, err)
		}
		kind := strings.TrimSpace(fuse.Kind)
		if kind == "" {
			return core.Genesis{}, fmt.Errorf("genesis fuse %d: kind required", i)
		}
		gen.Fuses = append(gen.Fuses, state.FuseRecord{
			Address: addr,
			Market:  fuse.Market,
			Kind:    kind,
			Reward:  fuse.Reward,
		})
	}

	return gen, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a base-10 integer", trimmed)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q is negative", trimmed)
	}
	return amount, nil
}
