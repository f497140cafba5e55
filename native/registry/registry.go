package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownMarket is returned when an operation references a market id
	// that was never created.
	ErrUnknownMarket = errors.New("registry engine: unknown market")

	errNilState = errors.New("registry engine: state not configured")
)

// State is the persistence surface the substrate registry relies on.
type State interface {
	MarketExists(id uint64) (bool, error)
	SubstrateGrant(market uint64, sub Substrate) error
	SubstrateRevoke(market uint64, sub Substrate) error
	SubstrateGranted(market uint64, sub Substrate) bool
	SubstrateList(market uint64) ([]Substrate, error)
}

// Registry maintains the per-market substrate whitelists. Fuses consult it
// before touching any external address; an address absent from the market's
// set must never be acted on.
type Registry struct {
	state State
}

func NewRegistry(state State) *Registry {
	return &Registry{state: state}
}

// Grant adds the substrates to the market's whitelist. Granting an already
// present substrate is a no-op; grants to one market are invisible to every
// other market.
func (r *Registry) Grant(market uint64, subs []Substrate) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := r.requireMarket(market); err != nil {
		return err
	}
	for _, sub := range subs {
		if err := r.state.SubstrateGrant(market, sub); err != nil {
			return fmt.Errorf("grant substrate %s: %w", sub, err)
		}
	}
	return nil
}

// Revoke removes the substrates from the market's whitelist. Revoking an
// absent substrate is a no-op.
func (r *Registry) Revoke(market uint64, subs []Substrate) error {
	if r == nil || r.state == nil {
		return errNilState
	}
	if err := r.requireMarket(market); err != nil {
		return err
	}
	for _, sub := range subs {
		if err := r.state.SubstrateRevoke(market, sub); err != nil {
			return fmt.Errorf("revoke substrate %s: %w", sub, err)
		}
	}
	return nil
}

// Granted reports whether the substrate is currently whitelisted for the
// market.
func (r *Registry) Granted(market uint64, sub Substrate) (bool, error) {
	if r == nil || r.state == nil {
		return false, errNilState
	}
	if err := r.requireMarket(market); err != nil {
		return false, err
	}
	return r.state.SubstrateGranted(market, sub), nil
}

// Substrates returns the market's whitelist in stable byte order.
func (r *Registry) Substrates(market uint64) ([]Substrate, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	if err := r.requireMarket(market); err != nil {
		return nil, err
	}
	return r.state.SubstrateList(market)
}

func (r *Registry) requireMarket(market uint64) error {
	exists, err := r.state.MarketExists(market)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %d", ErrUnknownMarket, market)
	}
	return nil
}
