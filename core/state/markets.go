package state

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"omnivault/native/registry"
)

var (
	marketPrefix         = []byte("market:")
	marketIndexKey       = ethcrypto.Keccak256([]byte("market-index"))
	substratePrefix      = []byte("substrate:")
	substrateIndexPrefix = []byte("substrate-index:")
	fusePrefix           = []byte("fuse:")
	fuseIndexKey         = ethcrypto.Keccak256([]byte("fuse-index"))
	recordPrefix         = []byte("market-record:")
)

func marketIDBytes(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

func marketKey(id uint64) []byte {
	buf := make([]byte, len(marketPrefix)+8)
	copy(buf, marketPrefix)
	copy(buf[len(marketPrefix):], marketIDBytes(id))
	return ethcrypto.Keccak256(buf)
}

func substrateKey(market uint64, sub registry.Substrate) []byte {
	buf := make([]byte, len(substratePrefix)+8+len(sub))
	copy(buf, substratePrefix)
	copy(buf[len(substratePrefix):], marketIDBytes(market))
	copy(buf[len(substratePrefix)+8:], sub[:])
	return ethcrypto.Keccak256(buf)
}

func substrateIndexKey(market uint64) []byte {
	buf := make([]byte, len(substrateIndexPrefix)+8)
	copy(buf, substrateIndexPrefix)
	copy(buf[len(substrateIndexPrefix):], marketIDBytes(market))
	return ethcrypto.Keccak256(buf)
}

func fuseKey(addr common.Address) []byte {
	buf := make([]byte, len(fusePrefix)+common.AddressLength)
	copy(buf, fusePrefix)
	copy(buf[len(fusePrefix):], addr.Bytes())
	return ethcrypto.Keccak256(buf)
}

func recordKey(market uint64, key []byte) []byte {
	buf := make([]byte, len(recordPrefix)+8+len(key))
	copy(buf, recordPrefix)
	copy(buf[len(recordPrefix):], marketIDBytes(market))
	copy(buf[len(recordPrefix)+8:], key)
	return ethcrypto.Keccak256(buf)
}

// MarketPut stores the directory entry and keeps the market index sorted.
func (m *Manager) MarketPut(rec registry.Market) error {
	if rec.ID == 0 {
		return fmt.Errorf("state: market id must be non-zero")
	}
	ids, err := m.MarketIDs()
	if err != nil {
		return err
	}
	present := false
	for _, id := range ids {
		if id == rec.ID {
			present = true
			break
		}
	}
	if !present {
		ids = append(ids, rec.ID)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if err := m.putEncoded(marketIndexKey, ids); err != nil {
			return err
		}
	}
	return m.putEncoded(marketKey(rec.ID), rec)
}

// MarketGet retrieves the directory entry for the market id.
func (m *Manager) MarketGet(id uint64) (registry.Market, bool, error) {
	var rec registry.Market
	ok, err := m.getDecoded(marketKey(id), &rec)
	return rec, ok, err
}

// MarketIDs returns every known market id in ascending order.
func (m *Manager) MarketIDs() ([]uint64, error) {
	var ids []uint64
	if _, err := m.getDecoded(marketIndexKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// MarketExists reports whether the market id has a directory entry.
func (m *Manager) MarketExists(id uint64) (bool, error) {
	_, ok, err := m.MarketGet(id)
	return ok, err
}

// SubstrateGrant whitelists the substrate for the market. Granting an
// already present substrate is a no-op.
func (m *Manager) SubstrateGrant(market uint64, sub registry.Substrate) error {
	if m.SubstrateGranted(market, sub) {
		return nil
	}
	if err := m.putEncoded(substrateKey(market, sub), true); err != nil {
		return err
	}
	list, err := m.SubstrateList(market)
	if err != nil {
		return err
	}
	list = append(list, sub)
	sort.Slice(list, func(i, j int) bool {
		return bytes.Compare(list[i][:], list[j][:]) < 0
	})
	return m.putEncoded(substrateIndexKey(market), list)
}

// SubstrateRevoke removes the substrate from the market's whitelist.
// Revoking an absent substrate is a no-op.
func (m *Manager) SubstrateRevoke(market uint64, sub registry.Substrate) error {
	if !m.SubstrateGranted(market, sub) {
		return nil
	}
	if err := m.trie.Delete(substrateKey(market, sub)); err != nil {
		return err
	}
	list, err := m.SubstrateList(market)
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, existing := range list {
		if existing != sub {
			kept = append(kept, existing)
		}
	}
	return m.putEncoded(substrateIndexKey(market), kept)
}

// SubstrateGranted reports whether the substrate is whitelisted for the
// market. Read failures surface as false.
func (m *Manager) SubstrateGranted(market uint64, sub registry.Substrate) bool {
	var granted bool
	ok, err := m.getDecoded(substrateKey(market, sub), &granted)
	if err != nil || !ok {
		return false
	}
	return granted
}

// SubstrateList returns the market's whitelist in stable byte order.
func (m *Manager) SubstrateList(market uint64) ([]registry.Substrate, error) {
	var list []registry.Substrate
	if _, err := m.getDecoded(substrateIndexKey(market), &list); err != nil {
		return nil, err
	}
	return list, nil
}

// FuseRecord is the durable allow-list entry for an installed fuse. A fuse
// missing from this table must never be dispatched, whatever the process
// has wired in memory.
type FuseRecord struct {
	Address common.Address
	Market  uint64
	Kind    string
	Reward  bool
}

// FusePut stores the fuse record and keeps the fuse index sorted.
func (m *Manager) FusePut(rec FuseRecord) error {
	if rec.Address == (common.Address{}) {
		return fmt.Errorf("state: fuse address must not be zero")
	}
	var index []common.Address
	if _, err := m.getDecoded(fuseIndexKey, &index); err != nil {
		return err
	}
	present := false
	for _, addr := range index {
		if addr == rec.Address {
			present = true
			break
		}
	}
	if !present {
		index = append(index, rec.Address)
		sort.Slice(index, func(i, j int) bool {
			return bytes.Compare(index[i].Bytes(), index[j].Bytes()) < 0
		})
		if err := m.putEncoded(fuseIndexKey, index); err != nil {
			return err
		}
	}
	return m.putEncoded(fuseKey(rec.Address), rec)
}

// FuseGet retrieves the record for the fuse address.
func (m *Manager) FuseGet(addr common.Address) (FuseRecord, bool, error) {
	var rec FuseRecord
	ok, err := m.getDecoded(fuseKey(addr), &rec)
	return rec, ok, err
}

// FuseList returns every installed fuse ordered by address.
func (m *Manager) FuseList() ([]FuseRecord, error) {
	var index []common.Address
	if _, err := m.getDecoded(fuseIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]FuseRecord, 0, len(index))
	for _, addr := range index {
		rec, ok, err := m.FuseGet(addr)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// MarketRecordPut stores a market-scoped record. Fuses keep their position
// bookkeeping here, namespaced by market so two markets never collide.
func (m *Manager) MarketRecordPut(market uint64, key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("state: market record key must not be empty")
	}
	return m.putEncoded(recordKey(market, key), value)
}

// MarketRecordGet decodes a market-scoped record into out. The boolean
// reports whether the record existed.
func (m *Manager) MarketRecordGet(market uint64, key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("state: market record key must not be empty")
	}
	return m.getDecoded(recordKey(market, key), out)
}

// MarketRecordDelete removes a market-scoped record.
func (m *Manager) MarketRecordDelete(market uint64, key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("state: market record key must not be empty")
	}
	return m.trie.Delete(recordKey(market, key))
}
