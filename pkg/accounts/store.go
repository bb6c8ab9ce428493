package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/stratus-ico/internal/log"
	"github.com/fortiblox/stratus-ico/internal/types"
)

// Key prefixes. Accounts sort by pubkey under prefixAccount, which gives
// IterateAccounts its ascending order for free.
var (
	prefixAccount = []byte{0x01}
	prefixMeta    = []byte{0x02}

	metaSlot          = append(append([]byte{}, prefixMeta...), "slot"...)
	metaAccountsCount = append(append([]byte{}, prefixMeta...), "count"...)
)

// BadgerDBConfig contains configuration for BadgerDB.
type BadgerDBConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database without touching disk.
	InMemory bool

	// SyncWrites fsyncs every committed batch.
	SyncWrites bool

	NumCompactors    int
	NumMemtables     int
	ValueLogFileSize int64
}

// DefaultBadgerDBConfig returns default configuration.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:             path,
		SyncWrites:       true,
		NumCompactors:    2,
		NumMemtables:     2,
		ValueLogFileSize: 64 << 20,
	}
}

// BadgerDB is a BadgerDB-backed implementation of DB.
//
// A SetAccounts call is one badger transaction: the account writes, the
// count and the slot become visible together or not at all.
type BadgerDB struct {
	db *badger.DB

	slot          atomic.Uint64
	accountsCount atomic.Uint64

	// mu serializes writers so the cached count stays exact.
	mu     sync.Mutex
	closed atomic.Bool
}

// NewBadgerDB opens (or creates) a BadgerDB-backed accounts database.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites && !cfg.InMemory).
		WithLogger(nil)
	if cfg.NumCompactors > 1 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.NumMemtables > 0 {
		opts = opts.WithNumMemtables(cfg.NumMemtables)
	}
	if cfg.ValueLogFileSize > 0 && !cfg.InMemory {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	bdb := &BadgerDB{db: db}
	if err := bdb.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}

	log.Storage.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Uint64("slot", bdb.slot.Load()).
		Uint64("accounts", bdb.accountsCount.Load()).
		Msg("accounts database opened")
	return bdb, nil
}

func (b *BadgerDB) loadMetadata() error {
	return b.db.View(func(txn *badger.Txn) error {
		slot, err := readUint64(txn, metaSlot)
		if err != nil {
			return err
		}
		count, err := readUint64(txn, metaAccountsCount)
		if err != nil {
			return err
		}
		b.slot.Store(slot)
		b.accountsCount.Store(count)
		return nil
	})
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return ErrInvalidData
		}
		v = binary.LittleEndian.Uint64(val)
		return nil
	})
	return v, err
}

func uint64Bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 1+types.PubkeySize)
	key[0] = prefixAccount[0]
	copy(key[1:], pubkey[:])
	return key
}

func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var acct *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			acct, err = DeserializeAccount(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	_, err := b.GetAccount(pubkey)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SetAccounts applies entries and slot in a single badger transaction.
func (b *BadgerDB) SetAccounts(entries []Entry, slot uint64) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	count := b.accountsCount.Load()
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			key := accountKey(e.Pubkey)
			_, err := txn.Get(key)
			existed := err == nil
			if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			if e.Account == nil || e.Account.IsZero() {
				if existed {
					if err := txn.Delete(key); err != nil {
						return err
					}
					count--
				}
				continue
			}
			if err := txn.Set(key, e.Account.Serialize()); err != nil {
				return err
			}
			if !existed {
				count++
			}
		}
		if err := txn.Set(metaAccountsCount, uint64Bytes(count)); err != nil {
			return err
		}
		return txn.Set(metaSlot, uint64Bytes(slot))
	})
	if err != nil {
		return fmt.Errorf("commit %d accounts at slot %d: %w", len(entries), slot, err)
	}

	b.accountsCount.Store(count)
	b.slot.Store(slot)
	return nil
}

func (b *BadgerDB) Slot() uint64 {
	return b.slot.Load()
}

func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// IterateAccounts iterates over all accounts in sorted pubkey order.
func (b *BadgerDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 1+types.PubkeySize {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			acct, err := DeserializeAccount(val)
			if err != nil {
				return fmt.Errorf("account %s: %w", pubkey, err)
			}
			if err := fn(pubkey, acct); err != nil {
				return err
			}
		}
		return nil
	})
}

// RunGC reclaims value log space. ErrNoRewrite means there was nothing to
// collect and is not reported.
func (b *BadgerDB) RunGC() error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
		return nil
	}
	return err
}

func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	return b.db.Close()
}

var _ DB = (*BadgerDB)(nil)
