package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core/events"
	"omnivault/core/state"
	"omnivault/native/access"
	nativecommon "omnivault/native/common"
	"omnivault/native/dispatch"
	"omnivault/native/fuses"
	"omnivault/native/registry"
	"omnivault/native/valuation"
	"omnivault/storage"
	"omnivault/storage/trie"
)

// Pause module names accepted by the vault's pause view.
const (
	PauseDeposit  = "deposit"
	PauseWithdraw = "withdraw"
	PauseExecute  = "execute"
)

var (
	// ErrNotInitialised is returned when an operation runs before genesis.
	ErrNotInitialised = errors.New("vault: not initialised")

	// ErrAlreadyInitialised is returned when genesis runs twice.
	ErrAlreadyInitialised = errors.New("vault: already initialised")

	// ErrInsufficientShares is returned when a withdrawal would burn more
	// shares than the holder owns.
	ErrInsufficientShares = errors.New("vault: insufficient shares")

	// ErrDepositTooSmall is returned when a deposit would mint zero shares
	// at the current share price.
	ErrDepositTooSmall = errors.New("vault: deposit too small to mint shares")

	errNegativeAmount = errors.New("vault: amount must not be negative")
)

var (
	rootKey     = []byte("vault/state-root")
	quotaPrefix = []byte("quota:")
	wadUnit     = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// Config carries the static parameters of a vault instance. Everything else
// lives in state.
type Config struct {
	// BaseAsset is the accounting asset: deposits, withdrawals and the
	// total-assets figure are denominated in it.
	BaseAsset common.Address
	// VaultAddress is the identity under which fuses move funds.
	VaultAddress common.Address
	// Pauses optionally halts deposit, withdraw, or execute flows.
	Pauses nativecommon.PauseView
	// Quota optionally limits per-address request and outflow volume.
	Quota nativecommon.Quota
	// Emitter receives events after each committed transition. Nil discards.
	Emitter events.Emitter
	// Now overrides the clock, used by quota epochs. Nil means time.Now.
	Now func() time.Time
}

// Vault is the asset-management engine. All mutations run against a copy of
// the state trie and commit atomically: a failing operation leaves no trace.
type Vault struct {
	db   storage.Database
	mu   sync.Mutex
	trie *trie.Trie

	bank       *fuses.Bank
	oracle     *valuation.ManualOracle
	dispatcher *dispatch.Dispatcher
	aggregator *valuation.Aggregator
	emitter    events.Emitter

	pauses nativecommon.PauseView
	quota  nativecommon.Quota
	base   common.Address
	addr   common.Address
	now    func() time.Time
}

// NewVault opens the vault over the provided database, resuming from the
// persisted state root when one exists.
func NewVault(db storage.Database, bank *fuses.Bank, oracle *valuation.ManualOracle, cfg Config) (*Vault, error) {
	if db == nil {
		return nil, fmt.Errorf("vault: database must not be nil")
	}
	if bank == nil {
		return nil, fmt.Errorf("vault: fuse bank must not be nil")
	}
	if oracle == nil {
		return nil, fmt.Errorf("vault: oracle must not be nil")
	}
	if cfg.BaseAsset == (common.Address{}) {
		return nil, fmt.Errorf("vault: base asset must not be zero")
	}
	if cfg.VaultAddress == (common.Address{}) {
		return nil, fmt.Errorf("vault: vault address must not be zero")
	}

	root, err := db.Get(rootKey)
	if err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("vault: load state root: %w", err)
	}
	stateTrie, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("vault: open state trie: %w", err)
	}
	manager := state.NewManager(stateTrie)
	if version, ok, err := manager.StateVersion(); err != nil {
		return nil, err
	} else if ok && version != state.StateVersion {
		return nil, fmt.Errorf("%w: on-disk=%d expected=%d", state.ErrStateVersionMismatch, version, state.StateVersion)
	}

	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Vault{
		db:         db,
		trie:       stateTrie,
		bank:       bank,
		oracle:     oracle,
		dispatcher: dispatch.NewDispatcher(bank),
		aggregator: valuation.NewAggregator(bank, oracle),
		emitter:    cfg.Emitter,
		pauses:     cfg.Pauses,
		quota:      cfg.Quota,
		base:       cfg.BaseAsset,
		addr:       cfg.VaultAddress,
		now:        nowFn,
	}, nil
}

// Address returns the identity under which the vault holds funds.
func (v *Vault) Address() common.Address { return v.addr }

// BaseAsset returns the vault's accounting asset.
func (v *Vault) BaseAsset() common.Address { return v.base }

// Bank exposes the in-memory fuse wiring for inspection surfaces.
func (v *Vault) Bank() *fuses.Bank { return v.bank }

// Oracle exposes the price oracle backing valuation.
func (v *Vault) Oracle() *valuation.ManualOracle { return v.oracle }

// update runs fn against a speculative copy of the state trie. On success
// the batch sequence is advanced, the copy is committed and becomes the
// current state; on failure the copy is dropped, leaving the previous state
// untouched. Callers must hold v.mu. The returned sequence identifies the
// committed transition.
func (v *Vault) update(fn func(m *state.Manager) error) (uint64, error) {
	copied, err := v.trie.Copy()
	if err != nil {
		return 0, err
	}
	manager := state.NewManager(copied)
	if err := fn(manager); err != nil {
		return 0, err
	}
	led, ok, err := manager.Ledger()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotInitialised
	}
	led.BatchSeq++
	if err := manager.PutLedger(led); err != nil {
		return 0, err
	}
	parent := v.trie.Root()
	root, err := copied.Commit(parent, led.BatchSeq)
	if err != nil {
		return 0, fmt.Errorf("vault: commit state: %w", err)
	}
	if err := v.db.Put(rootKey, root.Bytes()); err != nil {
		return 0, fmt.Errorf("vault: persist state root: %w", err)
	}
	v.trie = copied
	return led.BatchSeq, nil
}

func (v *Vault) emit(evts ...events.Event) {
	if v.emitter == nil {
		return
	}
	for _, evt := range evts {
		if evt != nil {
			v.emitter.Emit(evt)
		}
	}
}

func requireLedger(m *state.Manager) (state.Ledger, error) {
	led, ok, err := m.Ledger()
	if err != nil {
		return state.Ledger{}, err
	}
	if !ok {
		return state.Ledger{}, ErrNotInitialised
	}
	return led, nil
}

func quotaKey(addr common.Address) []byte {
	buf := make([]byte, len(quotaPrefix)+common.AddressLength)
	copy(buf, quotaPrefix)
	copy(buf[len(quotaPrefix):], addr.Bytes())
	return buf
}

// applyQuota charges the caller's per-epoch counters, failing when a
// configured limit would be exceeded.
func (v *Vault) applyQuota(m *state.Manager, caller common.Address, addReq uint32, outflow uint64) error {
	if !v.quota.Enabled() {
		return nil
	}
	epoch := uint64(0)
	if v.quota.EpochSeconds > 0 {
		epoch = uint64(v.now().Unix()) / uint64(v.quota.EpochSeconds)
	}
	var prev nativecommon.QuotaNow
	if _, err := m.KVGet(quotaKey(caller), &prev); err != nil {
		return err
	}
	next, err := nativecommon.CheckQuota(v.quota, epoch, prev, addReq, outflow)
	if err != nil {
		return err
	}
	return m.KVPut(quotaKey(caller), next)
}

// outflowUnits converts a base-asset amount into quota units. Amounts beyond
// the uint64 range saturate so a configured cap always trips.
func outflowUnits(amount *big.Int) uint64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	if !amount.IsUint64() {
		return ^uint64(0)
	}
	return amount.Uint64()
}

// --- Read surface ---

func (v *Vault) view() *state.ReadView {
	return state.NewReadView(state.NewManager(v.trie))
}

// TotalAssets values every active market plus the idle base balance,
// denominated in the base asset.
func (v *Vault) TotalAssets() (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	led, err := requireLedger(state.NewManager(v.trie))
	if err != nil {
		return nil, err
	}
	return v.aggregator.TotalAssets(v.view(), v.addr, led.BaseAsset)
}

// MarketValue values a single market in USD WAD terms.
func (v *Vault) MarketValue(market uint64) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, err := requireLedger(state.NewManager(v.trie)); err != nil {
		return nil, err
	}
	return v.aggregator.MarketValue(v.view(), v.addr, market)
}

// SharePrice returns the value of one share in base-asset units scaled by
// 1e18. An empty vault prices at exactly one.
func (v *Vault) SharePrice() (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	manager := state.NewManager(v.trie)
	led, err := requireLedger(manager)
	if err != nil {
		return nil, err
	}
	if led.ShareSupply.Sign() == 0 {
		return new(big.Int).Set(wadUnit), nil
	}
	assets, err := v.aggregator.TotalAssets(v.view(), v.addr, led.BaseAsset)
	if err != nil {
		return nil, err
	}
	price := new(big.Int).Mul(assets, wadUnit)
	return price.Div(price, led.ShareSupply), nil
}

// ConvertToShares quotes how many shares the base-asset amount would mint
// right now, flooring the way Deposit does. An empty vault quotes 1:1.
func (v *Vault) ConvertToShares(amount *big.Int) (*big.Int, error) {
	if amount != nil && amount.Sign() < 0 {
		return nil, errNegativeAmount
	}
	if amount == nil || amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	led, err := requireLedger(state.NewManager(v.trie))
	if err != nil {
		return nil, err
	}
	if led.ShareSupply.Sign() == 0 {
		return new(big.Int).Set(amount), nil
	}
	assets, err := v.aggregator.TotalAssets(v.view(), v.addr, led.BaseAsset)
	if err != nil {
		return nil, err
	}
	if assets.Sign() == 0 {
		return new(big.Int).Set(amount), nil
	}
	return new(big.Int).Div(new(big.Int).Mul(amount, led.ShareSupply), assets), nil
}

// ConvertToAssets quotes the base-asset value of the share amount at the
// current share price, flooring in the vault's favour.
func (v *Vault) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	if shares != nil && shares.Sign() < 0 {
		return nil, errNegativeAmount
	}
	if shares == nil || shares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	led, err := requireLedger(state.NewManager(v.trie))
	if err != nil {
		return nil, err
	}
	if led.ShareSupply.Sign() == 0 {
		return new(big.Int).Set(shares), nil
	}
	assets, err := v.aggregator.TotalAssets(v.view(), v.addr, led.BaseAsset)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Div(new(big.Int).Mul(shares, assets), led.ShareSupply), nil
}

// Shares returns the holder's share balance.
func (v *Vault) Shares(holder common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return state.NewManager(v.trie).Shares(holder)
}

// BalanceOf returns the holder's balance of the asset.
func (v *Vault) BalanceOf(asset, holder common.Address) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return state.NewManager(v.trie).BalanceOf(asset, holder)
}

// IdleBalance returns the undeployed base-asset balance held by the vault.
func (v *Vault) IdleBalance() (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	manager := state.NewManager(v.trie)
	led, err := requireLedger(manager)
	if err != nil {
		return nil, err
	}
	return manager.BalanceOf(led.BaseAsset, v.addr)
}

// Ledger returns the vault-wide aggregates.
func (v *Vault) Ledger() (state.Ledger, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return requireLedger(state.NewManager(v.trie))
}

// Markets lists every directory entry ordered by id.
func (v *Vault) Markets() ([]registry.Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return registry.ListMarkets(v.view())
}

// Market returns the directory entry for the id.
func (v *Vault) Market(id uint64) (registry.Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return registry.NewDirectory(state.NewManager(v.trie)).Market(id)
}

// Substrates returns the market's whitelist in stable byte order.
func (v *Vault) Substrates(market uint64) ([]registry.Substrate, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return registry.NewRegistry(state.NewManager(v.trie)).Substrates(market)
}

// SubstrateGranted reports whether the substrate is whitelisted for the
// market.
func (v *Vault) SubstrateGranted(market uint64, sub registry.Substrate) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return registry.NewRegistry(state.NewManager(v.trie)).Granted(market, sub)
}

// Fuses lists every installed fuse record ordered by address.
func (v *Vault) Fuses() ([]state.FuseRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return state.NewManager(v.trie).FuseList()
}

// RewardOnly reports whether every action in the batch targets an installed
// reward fuse, the condition under which the reward-claim role suffices.
func (v *Vault) RewardOnly(actions []dispatch.Action) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return dispatch.RewardOnly(state.NewManager(v.trie), actions)
}

// Assets lists every registered asset ordered by address.
func (v *Vault) Assets() ([]state.AssetRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return state.NewManager(v.trie).Assets()
}

// RoleMembers returns the addresses holding the role.
func (v *Vault) RoleMembers(role string) ([]common.Address, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return state.NewManager(v.trie).RoleMembers(role)
}

// HasRole reports whether the address holds the role.
func (v *Vault) HasRole(role string, addr common.Address) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return state.NewManager(v.trie).HasRole(role, addr)
}

func knownRole(role string) bool {
	switch role {
	case access.RoleConfiguration, access.RoleExecution, access.RoleRewardClaim:
		return true
	}
	return false
}
