package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"omnivault/storage/trie"
)

var (
	// ErrUnknownAsset is returned when an operation references an asset that
	// was never registered.
	ErrUnknownAsset = errors.New("state: unknown asset")

	// ErrInsufficientBalance is returned by Debit when the holder cannot
	// cover the requested amount.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
)

var (
	assetPrefix   = []byte("asset:")
	assetIndexKey = ethcrypto.Keccak256([]byte("asset-index"))
	balancePrefix = []byte("balance:")
	rolePrefix    = []byte("role:")
	sharesPrefix  = []byte("shares:")
	ledgerKey     = ethcrypto.Keccak256([]byte("vault-ledger"))
)

// Manager reads and writes the vault's trie-backed state. Keys are prefixed
// and keccak-hashed before reaching the trie; values are RLP encoded. A
// Manager is as cheap as the trie handle it wraps, so callers construct one
// per state view.
type Manager struct {
	trie *trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

// AssetRecord describes a registered asset. The address doubles as the
// payload used when whitelisting the asset as a market substrate.
type AssetRecord struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

func assetKey(asset common.Address) []byte {
	buf := make([]byte, len(assetPrefix)+common.AddressLength)
	copy(buf, assetPrefix)
	copy(buf[len(assetPrefix):], asset.Bytes())
	return ethcrypto.Keccak256(buf)
}

func balanceKey(asset, holder common.Address) []byte {
	buf := make([]byte, len(balancePrefix)+2*common.AddressLength)
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], asset.Bytes())
	copy(buf[len(balancePrefix)+common.AddressLength:], holder.Bytes())
	return ethcrypto.Keccak256(buf)
}

func roleKey(role string) []byte {
	buf := make([]byte, len(rolePrefix)+len(role))
	copy(buf, rolePrefix)
	copy(buf[len(rolePrefix):], role)
	return ethcrypto.Keccak256(buf)
}

func sharesKey(holder common.Address) []byte {
	buf := make([]byte, len(sharesPrefix)+common.AddressLength)
	copy(buf, sharesPrefix)
	copy(buf[len(sharesPrefix):], holder.Bytes())
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// RegisterAsset stores the metadata for a new asset and records it in the
// asset index.
func (m *Manager) RegisterAsset(rec AssetRecord) error {
	if rec.Address == (common.Address{}) {
		return fmt.Errorf("state: asset address must not be zero")
	}
	rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if rec.Symbol == "" {
		return fmt.Errorf("state: asset symbol must not be empty")
	}
	if _, exists, err := m.Asset(rec.Address); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("state: asset %s already registered", rec.Address.Hex())
	}

	var index []common.Address
	if _, err := m.getDecoded(assetIndexKey, &index); err != nil {
		return err
	}
	index = append(index, rec.Address)
	sort.Slice(index, func(i, j int) bool {
		return bytes.Compare(index[i].Bytes(), index[j].Bytes()) < 0
	})
	if err := m.putEncoded(assetIndexKey, index); err != nil {
		return err
	}
	return m.putEncoded(assetKey(rec.Address), rec)
}

// Asset retrieves the metadata for a registered asset.
func (m *Manager) Asset(asset common.Address) (AssetRecord, bool, error) {
	var rec AssetRecord
	ok, err := m.getDecoded(assetKey(asset), &rec)
	return rec, ok, err
}

// AssetDecimals returns the decimals of a registered asset, or
// ErrUnknownAsset when the address is not in the registry.
func (m *Manager) AssetDecimals(asset common.Address) (uint8, error) {
	rec, ok, err := m.Asset(asset)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return rec.Decimals, nil
}

// Assets returns every registered asset ordered by address.
func (m *Manager) Assets() ([]AssetRecord, error) {
	var index []common.Address
	if _, err := m.getDecoded(assetIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]AssetRecord, 0, len(index))
	for _, addr := range index {
		rec, ok, err := m.Asset(addr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// BalanceOf retrieves the holder's balance of the asset, defaulting to zero.
func (m *Manager) BalanceOf(asset, holder common.Address) (*big.Int, error) {
	data, err := m.trie.Get(balanceKey(asset, holder))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetBalance stores the holder's balance of the asset. The asset must be
// registered and the amount non-negative.
func (m *Manager) SetBalance(asset, holder common.Address, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance not allowed")
	}
	if _, exists, err := m.Asset(asset); err != nil {
		return err
	} else if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return m.putEncoded(balanceKey(asset, holder), amount)
}

// Credit adds amount to the holder's balance of the asset. A zero amount is
// a no-op.
func (m *Manager) Credit(asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must not be negative")
	}
	current, err := m.BalanceOf(asset, holder)
	if err != nil {
		return err
	}
	return m.SetBalance(asset, holder, new(big.Int).Add(current, amount))
}

// Debit removes amount from the holder's balance of the asset, failing with
// ErrInsufficientBalance when the balance cannot cover it.
func (m *Manager) Debit(asset, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: debit amount must not be negative")
	}
	current, err := m.BalanceOf(asset, holder)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, holder.Hex(), current, amount)
	}
	return m.SetBalance(asset, holder, new(big.Int).Sub(current, amount))
}

// SetRole associates an address with the role. Duplicate assignments are
// ignored; the stored list stays sorted for determinism.
func (m *Manager) SetRole(role string, addr common.Address) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	for _, existing := range members {
		if existing == addr {
			return nil
		}
	}
	members = append(members, addr)
	sort.Slice(members, func(i, j int) bool {
		return bytes.Compare(members[i].Bytes(), members[j].Bytes()) < 0
	})
	return m.putEncoded(roleKey(trimmed), members)
}

// RemoveRole removes the address from the role. Removing an absent member
// is a no-op.
func (m *Manager) RemoveRole(role string, addr common.Address) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	kept := members[:0]
	for _, existing := range members {
		if existing != addr {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(members) {
		return nil
	}
	return m.putEncoded(roleKey(trimmed), kept)
}

// RoleMembers returns all addresses assigned to the role.
func (m *Manager) RoleMembers(role string) ([]common.Address, error) {
	var members []common.Address
	if _, err := m.getDecoded(roleKey(strings.TrimSpace(role)), &members); err != nil {
		return nil, err
	}
	return members, nil
}

// HasRole reports whether the address is associated with the role. Read
// failures surface as false, matching the fail-closed authorization model.
func (m *Manager) HasRole(role string, addr common.Address) bool {
	members, err := m.RoleMembers(role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if member == addr {
			return true
		}
	}
	return false
}

// Shares retrieves the holder's vault share balance, defaulting to zero.
func (m *Manager) Shares(holder common.Address) (*big.Int, error) {
	data, err := m.trie.Get(sharesKey(holder))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// SetShares stores the holder's vault share balance.
func (m *Manager) SetShares(holder common.Address, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative shares not allowed")
	}
	return m.putEncoded(sharesKey(holder), amount)
}

// Ledger carries the vault-wide aggregates: the accounting asset, the total
// share supply, and the batch sequence used as the trie commit version.
type Ledger struct {
	BaseAsset   common.Address
	ShareSupply *big.Int
	BatchSeq    uint64
}

// Ledger retrieves the vault ledger. The boolean reports whether the vault
// has been initialised.
func (m *Manager) Ledger() (Ledger, bool, error) {
	var led Ledger
	ok, err := m.getDecoded(ledgerKey, &led)
	if err != nil {
		return Ledger{}, false, err
	}
	if !ok {
		return Ledger{}, false, nil
	}
	if led.ShareSupply == nil {
		led.ShareSupply = big.NewInt(0)
	}
	return led, true, nil
}

// PutLedger stores the vault ledger.
func (m *Manager) PutLedger(led Ledger) error {
	if led.ShareSupply == nil {
		led.ShareSupply = big.NewInt(0)
	}
	if led.ShareSupply.Sign() < 0 {
		return fmt.Errorf("state: negative share supply not allowed")
	}
	return m.putEncoded(ledgerKey, led)
}

// KVPut stores the RLP encoding of value under the keccak hash of key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("state: kv key must not be empty")
	}
	return m.putEncoded(kvKey(key), value)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("state: kv key must not be empty")
	}
	return m.getDecoded(kvKey(key), out)
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("state: kv key must not be empty")
	}
	return m.trie.Delete(kvKey(key))
}

func (m *Manager) getDecoded(hashed []byte, out interface{}) (bool, error) {
	data, err := m.trie.Get(hashed)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) putEncoded(hashed []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(hashed, encoded)
}
