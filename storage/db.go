package storage

import (
	"errors"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
)

// ErrKeyNotFound is returned by Get when no value is stored under the key.
var ErrKeyNotFound = errors.New("storage: key not found")

// Database is the persistence boundary for the vault. One key space holds
// both the state trie nodes and the flat bookkeeping entries written beside
// them (current root pointer, schema markers), so a single handle owns the
// underlying store.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	TrieDB() *triedb.Database
	Close()
}

// MemDB keeps every key in process memory. It backs unit tests and
// throwaway vault instances; nothing survives Close.
type MemDB struct {
	kv     *memorydb.Database
	trieDB *triedb.Database
}

func NewMemDB() *MemDB {
	kv := memorydb.New()
	return &MemDB{
		kv:     kv,
		trieDB: triedb.NewDatabase(rawdb.NewDatabase(kv), triedb.HashDefaults),
	}
}

func (m *MemDB) Put(key, value []byte) error {
	return m.kv.Put(key, value)
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	ok, err := m.kv.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrKeyNotFound
	}
	return m.kv.Get(key)
}

func (m *MemDB) Has(key []byte) (bool, error) {
	return m.kv.Has(key)
}

func (m *MemDB) TrieDB() *triedb.Database {
	return m.trieDB
}

func (m *MemDB) Close() {
	_ = m.kv.Close()
}
