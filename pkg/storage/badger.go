package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Key prefixes for BadgerDB storage organization.
const (
	prefixRuleSet = byte(0x01) // rulesets:name -> JSON(RuleSet)
)

// BadgerEngine stores rule sets in BadgerDB.
//
// Key Structure:
//   - Rule sets: 0x01 + name -> JSON(RuleSet)
//
// Names sort byte-wise, so a prefix scan returns rule sets in name order.
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for data files. Required unless InMemory.
	DataDir string

	// InMemory runs BadgerDB without touching disk. Useful for testing.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. Nil silences them.
	Logger *zap.Logger

	// LowMemory shrinks memtables and caches. Rule sets are small, so the
	// reduced settings are usually enough.
	LowMemory bool
}

// NewBadgerEngine opens (or creates) a persistent engine in dataDir.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir, LowMemory: true})
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB engine for tests.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true, LowMemory: true})
}

// NewBadgerEngineWithOptions opens a BadgerEngine with custom configuration.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(NewBadgerLogger(opts.Logger))
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).     // 16MB instead of 64MB
			WithValueLogFileSize(64 << 20). // 64MB instead of 1GB
			WithNumMemtables(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4).
			WithBlockCacheSize(8 << 20).
			WithIndexCacheSize(4 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	return &BadgerEngine{db: db, now: time.Now}, nil
}

func ruleSetKey(name string) []byte {
	return append([]byte{prefixRuleSet}, name...)
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

// Put implements Engine.
func (b *BadgerEngine) Put(rs *RuleSet) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if rs == nil {
		return ErrInvalidData
	}

	return b.db.Update(func(txn *badger.Txn) error {
		prev, err := getRuleSet(txn, rs.Name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		stored, err := prepare(rs, prev, b.now().UTC())
		if err != nil {
			return err
		}
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to encode rule set: %w", err)
		}
		return txn.Set(ruleSetKey(stored.Name), data)
	})
}

// Get implements Engine.
func (b *BadgerEngine) Get(name string) (*RuleSet, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var rs *RuleSet
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		rs, err = getRuleSet(txn, name)
		return err
	})
	return rs, err
}

// List implements Engine.
func (b *BadgerEngine) List() ([]*RuleSet, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	out := []*RuleSet{}
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixRuleSet}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rs RuleSet
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rs)
			}); err != nil {
				return fmt.Errorf("failed to decode rule set %q: %w", it.Item().Key()[1:], err)
			}
			out = append(out, &rs)
		}
		return nil
	})
	return out, err
}

// Delete implements Engine.
func (b *BadgerEngine) Delete(name string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(ruleSetKey(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(ruleSetKey(name))
	})
}

// Close closes the BadgerDB database.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func getRuleSet(txn *badger.Txn, name string) (*RuleSet, error) {
	if name == "" {
		return nil, ErrNotFound
	}
	item, err := txn.Get(ruleSetKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rs RuleSet
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rs)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode rule set %q: %w", name, err)
	}
	return &rs, nil
}

// =============================================================================
// Logging
// =============================================================================

// badgerLogger routes BadgerDB's logs through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

// NewBadgerLogger adapts a zap logger to badger.Logger. Badger's info output
// is demoted to debug; it is chatty about compactions.
func NewBadgerLogger(l *zap.Logger) badger.Logger {
	return badgerLogger{s: l.Named("badger").Sugar()}
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.s.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(f, v...) }
