package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb"
	lverrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB stores the vault state in a goleveldb directory on disk.
type LevelDB struct {
	db     *leveldb.DB
	trieDB *triedb.Database
}

// NewLevelDB creates or opens a LevelDB database at the given path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	store := &levelStore{db: db}
	return &LevelDB{
		db:     db,
		trieDB: triedb.NewDatabase(rawdb.NewDatabase(store), triedb.HashDefaults),
	}, nil
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if err == lverrors.ErrNotFound {
		return nil, ErrKeyNotFound
	}
	return value, err
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelDB) TrieDB() *triedb.Database {
	return l.trieDB
}

func (l *LevelDB) Close() {
	_ = l.db.Close()
}

// levelStore adapts goleveldb to the key-value contract the trie database
// layer expects. The wrapper does not own the handle; closing happens once
// through LevelDB.Close.
type levelStore struct {
	db *leveldb.DB
}

func (s *levelStore) Has(key []byte) (bool, error) {
	return s.db.Has(key, nil)
}

func (s *levelStore) Get(key []byte) ([]byte, error) {
	return s.db.Get(key, nil)
}

func (s *levelStore) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *levelStore) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *levelStore) DeleteRange(start, end []byte) error {
	iter := s.db.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *levelStore) SyncKeyValue() error {
	return nil
}

func (s *levelStore) NewBatch() ethdb.Batch {
	return &levelBatch{store: s}
}

func (s *levelStore) NewBatchWithSize(int) ethdb.Batch {
	return &levelBatch{store: s}
}

func (s *levelStore) NewIterator(prefix []byte, start []byte) ethdb.Iterator {
	return &levelIterator{iter: s.db.NewIterator(prefixedRange(prefix, start), nil)}
}

func (s *levelStore) Stat() (string, error) {
	return s.db.GetProperty("leveldb.stats")
}

func (s *levelStore) Compact(start []byte, limit []byte) error {
	return s.db.CompactRange(util.Range{Start: start, Limit: limit})
}

func (s *levelStore) Close() error {
	return nil
}

// levelBatch buffers writes until Write. Ranged deletes are resolved against
// the live store first, matching the ordering the trie layer relies on.
type levelBatch struct {
	store  *levelStore
	batch  leveldb.Batch
	ranges [][2][]byte
	size   int
}

func (b *levelBatch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *levelBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	b.size += len(key)
	return nil
}

func (b *levelBatch) DeleteRange(start, end []byte) error {
	b.ranges = append(b.ranges, [2][]byte{
		append([]byte{}, start...),
		append([]byte{}, end...),
	})
	b.size += len(start) + len(end)
	return nil
}

func (b *levelBatch) ValueSize() int {
	return b.size
}

func (b *levelBatch) Write() error {
	for _, r := range b.ranges {
		if err := b.store.DeleteRange(r[0], r[1]); err != nil {
			return err
		}
	}
	return b.store.db.Write(&b.batch, nil)
}

func (b *levelBatch) Reset() {
	b.batch.Reset()
	b.ranges = nil
	b.size = 0
}

func (b *levelBatch) Replay(w ethdb.KeyValueWriter) error {
	replay := &batchReplayer{writer: w}
	if err := b.batch.Replay(replay); err != nil {
		return err
	}
	return replay.failure
}

type batchReplayer struct {
	writer  ethdb.KeyValueWriter
	failure error
}

func (r *batchReplayer) Put(key, value []byte) {
	if r.failure != nil {
		return
	}
	r.failure = r.writer.Put(key, value)
}

func (r *batchReplayer) Delete(key []byte) {
	if r.failure != nil {
		return
	}
	r.failure = r.writer.Delete(key)
}

type levelIterator struct {
	iter iterator.Iterator
}

func (it *levelIterator) Next() bool {
	return it.iter.Next()
}

func (it *levelIterator) Error() error {
	return it.iter.Error()
}

func (it *levelIterator) Key() []byte {
	return it.iter.Key()
}

func (it *levelIterator) Value() []byte {
	return it.iter.Value()
}

func (it *levelIterator) Release() {
	it.iter.Release()
}

func prefixedRange(prefix, start []byte) *util.Range {
	r := util.BytesPrefix(prefix)
	r.Start = append(r.Start, start...)
	return r
}
