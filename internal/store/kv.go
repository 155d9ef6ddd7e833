// kv.go - Ordered key-value backends: pebble, goleveldb and in-memory goleveldb.

package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// KeyValue is a pair for batch writes.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// KV is an ordered key-value store. Values returned by Get and passed to
// IteratePrefix callbacks are owned by the caller.
type KV interface {
	// Get returns (nil, false, nil) when key is absent.
	Get(key []byte) ([]byte, bool, error)
	Set(key, value []byte) error
	SetBatch(pairs []KeyValue) error
	// IteratePrefix visits keys with prefix in lexicographic order until fn errors.
	IteratePrefix(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// Open opens a backend by name. The memory backend ignores path.
func Open(backend, path string) (KV, error) {
	switch backend {
	case "pebble":
		return OpenPebble(path)
	case "leveldb":
		return OpenLevelDB(path)
	case "memory":
		return OpenMemory()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

const syncInterval = 100 * time.Millisecond

// PebbleKV writes without syncing and flushes the WAL periodically and on Close.
type PebbleKV struct {
	db       *pebble.DB
	stopSync chan struct{}
	wg       sync.WaitGroup
}

func OpenPebble(path string) (*PebbleKV, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(16 << 20),
		MemTableSize:                8 << 20,
		MemTableStopWritesThreshold: 2,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	s := &PebbleKV{db: db, stopSync: make(chan struct{})}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
	return s, nil
}

func (s *PebbleKV) Get(key []byte) ([]byte, bool, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (s *PebbleKV) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

func (s *PebbleKV) SetBatch(pairs []KeyValue) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, kv := range pairs {
		if err := batch.Set(kv.Key, kv.Value, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.NoSync)
}

func (s *PebbleKV) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(clone(iter.Key()), clone(value)); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleKV) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}

// Close performs a final WAL sync and closes the database.
func (s *PebbleKV) Close() error {
	close(s.stopSync)
	s.wg.Wait()
	if err := s.sync(); err != nil {
		return err
	}
	return s.db.Close()
}

// LevelKV is a goleveldb store, on disk or in memory.
type LevelKV struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelKV, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	return &LevelKV{db: db}, nil
}

// OpenMemory returns a volatile store, used by tests and dry runs.
func OpenMemory() (*LevelKV, error) {
	db, err := leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	return &LevelKV{db: db}, nil
}

func (s *LevelKV) Get(key []byte) ([]byte, bool, error) {
	data, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %x: %w", key, err)
	}
	return data, true, nil
}

func (s *LevelKV) Set(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *LevelKV) SetBatch(pairs []KeyValue) error {
	batch := new(leveldb.Batch)
	for _, kv := range pairs {
		batch.Put(kv.Key, kv.Value)
	}
	return s.db.Write(batch, nil)
}

func (s *LevelKV) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	for iter.Next() {
		if err := fn(clone(iter.Key()), clone(iter.Value())); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate %x: %w", prefix, err)
	}
	return nil
}

func (s *LevelKV) Close() error {
	return s.db.Close()
}

// prefixUpperBound is the exclusive upper bound of a prefix scan, nil when the
// prefix is all 0xFF.
func prefixUpperBound(prefix []byte) []byte {
	upper := clone(prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
