package config

import (
	"fmt"
	"strings"

	"omnivault/native/fuses"
	"omnivault/native/fuses/dex"
	"omnivault/native/fuses/lend"
	"omnivault/native/fuses/rewards"
	"omnivault/native/fuses/trove"
)

// BuildFuseBank instantiates the configured fuse implementations. Ordering
// in the file does not matter; duplicate addresses fail at registration.
func (c *Config) BuildFuseBank() (*fuses.Bank, error) {
	bank := fuses.NewBank()
	for i, spec := range c.Fuses {
		addr, err := parseAddress(spec.Address)
		if err != nil {
			return nil, fmt.Errorf("fuse %d: %w", i, err)
		}
		kind := strings.ToLower(strings.TrimSpace(spec.Kind))

		if spec.Balance {
			var balanceErr error
			switch kind {
			case "lend":
				balanceErr = bank.RegisterBalance(lend.NewBalanceFuse(addr, spec.Market))
			case "rewards":
				balanceErr = bank.RegisterBalance(rewards.NewBalanceFuse(addr, spec.Market))
			case "trove":
				balanceErr = bank.RegisterBalance(trove.NewBalanceFuse(addr, spec.Market))
			case "dex":
				quote, err := parseAddress(spec.QuoteAsset)
				if err != nil {
					return nil, fmt.Errorf("fuse %d: dex balance fuse needs QuoteAsset: %w", i, err)
				}
				balanceErr = bank.RegisterBalance(dex.NewBalanceFuse(addr, spec.Market, quote))
			default:
				return nil, fmt.Errorf("fuse %d: unknown balance fuse kind %q", i, spec.Kind)
			}
			if balanceErr != nil {
				return nil, fmt.Errorf("fuse %d: %w", i, balanceErr)
			}
			continue
		}

		var registerErr error
		switch kind {
		case "lend":
			registerErr = bank.Register(lend.New(addr, spec.Market), spec.Reward)
		case "rewards":
			registerErr = bank.Register(rewards.New(addr, spec.Market), spec.Reward)
		case "trove":
			registerErr = bank.Register(trove.New(addr, spec.Market), spec.Reward)
		case "dex":
			impl, err := dex.New(addr, spec.Market, spec.FeeBps)
			if err != nil {
				return nil, fmt.Errorf("fuse %d: %w", i, err)
			}
			registerErr = bank.Register(impl, spec.Reward)
		default:
			return nil, fmt.Errorf("fuse %d: unknown fuse kind %q", i, spec.Kind)
		}
		if registerErr != nil {
			return nil, fmt.Errorf("fuse %d: %w", i, registerErr)
		}
	}
	return bank, nil
}
