package blockstore

import (
	"bytes"
	"encoding/gob"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/stratus-ico/internal/types"
)

// DefaultSignatureLimit caps address queries without an explicit limit.
const DefaultSignatureLimit = 1000

// GetSignaturesForAddress returns the transactions that referenced address,
// newest first.
func (s *BoltStore) GetSignaturesForAddress(address types.Pubkey, opts *SignatureQueryOptions) ([]SignatureInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	limit := DefaultSignatureLimit
	var before *types.Signature
	var minSlot *uint64
	if opts != nil {
		if opts.Limit > 0 && opts.Limit < limit {
			limit = opts.Limit
		}
		before, minSlot = opts.Before, opts.MinSlot
	}

	// Resolve Before to its sequence number so iteration can start there.
	startSeq := ^uint64(0)
	if before != nil {
		txn, err := s.GetTransaction(*before)
		if err != nil {
			return nil, fmt.Errorf("before signature: %w", err)
		}
		startSeq = txn.Seq
	}

	results := make([]SignatureInfo, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAddressSignatures)
		if b == nil {
			return nil
		}
		prefix := address[:]
		c := b.Cursor()

		// Seek lands on the first key >= start; step back to the newest
		// entry strictly before it.
		k, v := c.Seek(EncodeAddressSeqKey(address, startSeq))
		if k == nil || !bytes.HasPrefix(k, prefix) || before != nil {
			k, v = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			var info SignatureInfo
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&info); err != nil {
				return fmt.Errorf("decode signature info: %w", err)
			}
			if minSlot != nil && info.Slot < *minSlot {
				break
			}
			results = append(results, info)
			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Prune removes transactions in slots older than the latest slot minus
// keepSlots. It returns the number of transactions removed.
func (s *BoltStore) Prune(keepSlots uint64) (uint64, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, ErrClosed
	}
	latest := s.latestSlot
	s.mu.RUnlock()

	if latest <= keepSlots {
		return 0, nil
	}
	cutoff := latest - keepSlots

	var pruned, count uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		slotSigs := tx.Bucket(bucketSlotSignatures)
		txBySig := tx.Bucket(bucketTxBySignature)
		addrSigs := tx.Bucket(bucketAddressSignatures)
		meta := tx.Bucket(bucketMetadata)

		maxKey := EncodeSlotSeqKey(cutoff, 0)
		var slotKeys [][]byte
		c := slotSigs.Cursor()
		for k, sig := c.First(); k != nil && bytes.Compare(k, maxKey) < 0; k, sig = c.Next() {
			slotKeys = append(slotKeys, append([]byte(nil), k...))

			data := txBySig.Get(sig)
			if data == nil {
				continue
			}
			var txn Transaction
			if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&txn); err != nil {
				return fmt.Errorf("decode transaction: %w", err)
			}
			for _, addr := range txn.AccountKeys {
				if err := addrSigs.Delete(EncodeAddressSeqKey(addr, txn.Seq)); err != nil {
					return err
				}
			}
			if err := txBySig.Delete(sig); err != nil {
				return err
			}
			pruned++
		}
		// Deleting while a cursor walks the bucket skips keys.
		for _, k := range slotKeys {
			if err := slotSigs.Delete(k); err != nil {
				return err
			}
		}

		count = DecodeSlotKey(meta.Get(keyTransactionCount)) - pruned
		if err := meta.Put(keyTransactionCount, EncodeSlotKey(count)); err != nil {
			return err
		}
		return meta.Put(keyOldestSlot, EncodeSlotKey(cutoff))
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.transactionCount = count
	s.oldestSlot = cutoff
	s.mu.Unlock()
	return pruned, nil
}
