package fuses

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Bank is the in-process registry of fuse implementations. The durable
// allow-list lives in state; the bank holds the code bound to each
// address. Dispatch requires both, so a record without an implementation
// (or the reverse) never executes.
type Bank struct {
	mu       sync.RWMutex
	fuses    map[common.Address]Fuse
	balances map[common.Address]BalanceFuse
	reward   map[common.Address]bool
}

func NewBank() *Bank {
	return &Bank{
		fuses:    make(map[common.Address]Fuse),
		balances: make(map[common.Address]BalanceFuse),
		reward:   make(map[common.Address]bool),
	}
}

// Register installs an executable fuse. The reward flag marks fuses whose
// operations the reward-claim role may execute.
func (b *Bank) Register(f Fuse, reward bool) error {
	if f == nil {
		return fmt.Errorf("fuses: cannot register nil fuse")
	}
	addr := f.Address()
	if addr == (common.Address{}) {
		return fmt.Errorf("fuses: fuse address must not be zero")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.fuses[addr]; exists {
		return fmt.Errorf("%w: %s", ErrFuseInstalled, addr.Hex())
	}
	b.fuses[addr] = f
	if reward {
		b.reward[addr] = true
	}
	return nil
}

// RegisterBalance installs a valuation fuse. Balance fuses occupy their own
// namespace; an address may serve both roles.
func (b *Bank) RegisterBalance(f BalanceFuse) error {
	if f == nil {
		return fmt.Errorf("fuses: cannot register nil balance fuse")
	}
	addr := f.Address()
	if addr == (common.Address{}) {
		return fmt.Errorf("fuses: balance fuse address must not be zero")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.balances[addr]; exists {
		return fmt.Errorf("%w: %s", ErrFuseInstalled, addr.Hex())
	}
	b.balances[addr] = f
	return nil
}

// Fuse resolves the executable bound to the address.
func (b *Bank) Fuse(addr common.Address) (Fuse, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.fuses[addr]
	return f, ok
}

// Balance resolves the valuation fuse bound to the address.
func (b *Bank) Balance(addr common.Address) (BalanceFuse, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.balances[addr]
	return f, ok
}

// IsReward reports whether the address was registered as a reward fuse.
func (b *Bank) IsReward(addr common.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.reward[addr]
}

// Addresses returns every installed executable fuse address in stable
// order.
func (b *Bank) Addresses() []common.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]common.Address, 0, len(b.fuses))
	for addr := range b.fuses {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}
