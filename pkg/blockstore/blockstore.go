package blockstore

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/stratus-ico/internal/log"
	"github.com/fortiblox/stratus-ico/internal/types"
)

var (
	// ErrTransactionNotFound is returned when a transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateSignature is returned when a signature is already
	// recorded.
	ErrDuplicateSignature = errors.New("transaction signature already recorded")

	// ErrClosed is returned when operating on a closed blockstore.
	ErrClosed = errors.New("blockstore closed")
)

// Bucket names for BoltDB.
var (
	// bucketTxBySignature stores transactions keyed by signature.
	bucketTxBySignature = []byte("tx_by_sig")

	// bucketAddressSignatures indexes signatures by address+sequence.
	bucketAddressSignatures = []byte("addr_sigs")

	// bucketSlotSignatures indexes signatures by slot+sequence.
	bucketSlotSignatures = []byte("slot_sigs")

	// bucketMetadata stores blockstore metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyLatestSlot       = []byte("latest_slot")
	keyOldestSlot       = []byte("oldest_slot")
	keyTransactionCount = []byte("transaction_count")
	keySequence         = []byte("sequence")
)

// Config holds blockstore configuration options.
type Config struct {
	// Path is the file path of the database.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// PruneEnabled enables automatic pruning of old transactions.
	PruneEnabled bool

	// PruneInterval is how often to run the pruning routine.
	PruneInterval time.Duration

	// RetainSlots is the number of slots to retain during pruning.
	RetainSlots uint64

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default blockstore configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		PruneInterval: time.Hour,
		RetainSlots:   DefaultRetainSlots,
	}
}

// Store is the transaction history interface.
type Store interface {
	PutTransaction(txn *Transaction) error
	GetTransaction(signature types.Signature) (*Transaction, error)
	HasSignature(signature types.Signature) (bool, error)
	GetSignaturesForAddress(address types.Pubkey, opts *SignatureQueryOptions) ([]SignatureInfo, error)

	GetLatestSlot() uint64
	GetStats() (*Stats, error)

	Prune(keepSlots uint64) (uint64, error)
	Sync() error
	Close() error
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db     *bolt.DB
	config Config

	// Cached values for fast reads.
	mu               sync.RWMutex
	latestSlot       uint64
	oldestSlot       uint64
	transactionCount uint64

	// Pruning control.
	pruneStop chan struct{}
	pruneWG   sync.WaitGroup

	closed bool
}

// Open creates or opens a blockstore at the given path.
func Open(config Config) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &BoltStore{
		db:        db,
		config:    config,
		pruneStop: make(chan struct{}),
	}

	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	if err := store.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}

	if config.PruneEnabled && !config.ReadOnly && config.PruneInterval > 0 {
		store.startPruning()
	}

	log.Storage.Info().
		Str("path", config.Path).
		Uint64("transactions", store.transactionCount).
		Uint64("latest_slot", store.latestSlot).
		Msg("blockstore opened")
	return store, nil
}

// initBuckets creates all required buckets.
func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketTxBySignature,
			bucketAddressSignatures,
			bucketSlotSignatures,
			bucketMetadata,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// loadCachedValues loads frequently-accessed values into memory.
func (s *BoltStore) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}
		if v := meta.Get(keyLatestSlot); v != nil {
			s.latestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyOldestSlot); v != nil {
			s.oldestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyTransactionCount); v != nil {
			s.transactionCount = DecodeSlotKey(v)
		}
		return nil
	})
}

// startPruning starts the background pruning goroutine.
func (s *BoltStore) startPruning() {
	s.pruneWG.Add(1)
	go func() {
		defer s.pruneWG.Done()
		ticker := time.NewTicker(s.config.PruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n, err := s.Prune(s.config.RetainSlots); err != nil {
					log.Storage.Warn().Err(err).Msg("blockstore prune failed")
				} else if n > 0 {
					log.Storage.Debug().Uint64("pruned", n).Msg("blockstore pruned")
				}
			case <-s.pruneStop:
				return
			}
		}
	}()
}

func (s *BoltStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PutTransaction records txn and indexes it by every account key. The
// record's Seq is assigned here.
func (s *BoltStore) PutTransaction(txn *Transaction) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	sigInfo := SignatureInfo{
		Signature: txn.Signature,
		Slot:      txn.Slot,
		BlockTime: txn.BlockTime,
	}
	if txn.Meta != nil {
		sigInfo.Err = txn.Meta.Err
	}
	sigInfoData, err := encode(&sigInfo)
	if err != nil {
		return fmt.Errorf("encode sig info: %w", err)
	}

	var count uint64
	err = s.db.Update(func(tx *bolt.Tx) error {
		txBySig := tx.Bucket(bucketTxBySignature)
		sigKey := EncodeSignatureKey(txn.Signature)
		if txBySig.Get(sigKey) != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateSignature, txn.Signature)
		}

		meta := tx.Bucket(bucketMetadata)
		seq := DecodeSlotKey(meta.Get(keySequence)) + 1
		txn.Seq = seq

		txData, err := encode(txn)
		if err != nil {
			return fmt.Errorf("encode transaction: %w", err)
		}
		if err := txBySig.Put(sigKey, txData); err != nil {
			return err
		}

		addrSigs := tx.Bucket(bucketAddressSignatures)
		seen := make(map[types.Pubkey]struct{}, len(txn.AccountKeys))
		for _, addr := range txn.AccountKeys {
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			if err := addrSigs.Put(EncodeAddressSeqKey(addr, seq), sigInfoData); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketSlotSignatures).Put(EncodeSlotSeqKey(txn.Slot, seq), sigKey); err != nil {
			return err
		}

		count = DecodeSlotKey(meta.Get(keyTransactionCount)) + 1
		if err := meta.Put(keySequence, EncodeSlotKey(seq)); err != nil {
			return err
		}
		if err := meta.Put(keyTransactionCount, EncodeSlotKey(count)); err != nil {
			return err
		}
		if txn.Slot > DecodeSlotKey(meta.Get(keyLatestSlot)) {
			return meta.Put(keyLatestSlot, EncodeSlotKey(txn.Slot))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if txn.Slot > s.latestSlot {
		s.latestSlot = txn.Slot
	}
	s.transactionCount = count
	s.mu.Unlock()
	return nil
}

// GetTransaction retrieves a transaction by signature.
func (s *BoltStore) GetTransaction(signature types.Signature) (*Transaction, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var txn Transaction
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTxBySignature)
		if b == nil {
			return ErrTransactionNotFound
		}
		data := b.Get(EncodeSignatureKey(signature))
		if data == nil {
			return ErrTransactionNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&txn)
	})
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// HasSignature reports whether a transaction with signature was recorded.
func (s *BoltStore) HasSignature(signature types.Signature) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketTxBySignature); b != nil {
			found = b.Get(EncodeSignatureKey(signature)) != nil
		}
		return nil
	})
	return found, err
}

// GetLatestSlot returns the highest recorded slot.
func (s *BoltStore) GetLatestSlot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSlot
}

// GetStats returns blockstore statistics.
func (s *BoltStore) GetStats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	stats := &Stats{
		LatestSlot:       s.latestSlot,
		OldestSlot:       s.oldestSlot,
		TransactionCount: s.transactionCount,
	}
	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Sync forces a sync of the database to disk.
func (s *BoltStore) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Sync()
}

// Close shuts down the blockstore.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.pruneStop)
	s.pruneWG.Wait()
	return s.db.Close()
}
