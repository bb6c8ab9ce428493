// Package blockstore provides persistent transaction history.
//
// Every transaction the node processes is recorded, whether it committed or
// failed, together with its execution metadata. Records are indexed by
// signature, by every account they reference, and by slot for pruning.
//
// The blockstore uses BoltDB for persistent storage, providing ACID
// guarantees and efficient reads.
package blockstore

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-ico/internal/types"
)

// Transaction is one processed transaction.
type Transaction struct {
	// Signature is the fee payer's signature, used as the transaction ID.
	Signature types.Signature

	// Slot is the slot the transaction committed at. Failed transactions
	// carry the slot that was current when they ran.
	Slot uint64

	// BlockTime is the Unix time the transaction was processed.
	BlockTime int64

	// Raw is the transaction in wire form.
	Raw []byte

	// AccountKeys lists all accounts referenced by the transaction, in
	// message order.
	AccountKeys []types.Pubkey

	// Meta contains execution metadata.
	Meta *TransactionMeta

	// Seq orders records by arrival. It is assigned by PutTransaction.
	Seq uint64
}

// TransactionMeta contains metadata about transaction execution.
type TransactionMeta struct {
	// Err is nil on success.
	Err *TransactionError

	// PreBalances and PostBalances are lamports per account key.
	PreBalances  []uint64
	PostBalances []uint64

	// LogMessages contains program log output.
	LogMessages []string

	// ComputeUnitsConsumed is the total compute units used.
	ComputeUnitsConsumed uint64

	// SaleStateDigest is the digest of the sale record after the
	// transaction, zero when the record does not exist.
	SaleStateDigest types.Hash
}

// TransactionError describes why a transaction failed.
type TransactionError struct {
	// InstructionIndex is the failed instruction, -1 when the transaction
	// failed before any instruction ran.
	InstructionIndex int `json:"instructionIndex"`

	// Code identifies sale errors and is zero otherwise. Kind names the
	// error class.
	Code uint32 `json:"code,omitempty"`
	Kind string `json:"kind"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

func (e *TransactionError) Error() string {
	return e.Message
}

// SignatureInfo is an entry of the address index.
type SignatureInfo struct {
	Signature types.Signature
	Slot      uint64
	BlockTime int64
	Err       *TransactionError
}

// SignatureQueryOptions configures signature queries.
type SignatureQueryOptions struct {
	// Limit is the maximum number of signatures to return.
	Limit int

	// Before returns signatures older than (not including) this one.
	Before *types.Signature

	// MinSlot filters signatures to those in slots >= MinSlot.
	MinSlot *uint64
}

// Stats contains blockstore statistics.
type Stats struct {
	LatestSlot       uint64
	OldestSlot       uint64
	TransactionCount uint64
	DatabaseSize     int64
}

// Helper functions for key encoding.

// EncodeSlotKey encodes a slot number as a big-endian 8-byte key.
// Big-endian ensures proper lexicographic ordering.
func EncodeSlotKey(slot uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, slot)
	return key
}

// DecodeSlotKey decodes a slot number from a big-endian 8-byte key.
func DecodeSlotKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// EncodeSignatureKey encodes a signature as a key (raw bytes).
func EncodeSignatureKey(sig types.Signature) []byte {
	return sig[:]
}

// EncodeAddressSeqKey encodes an address+sequence composite key.
// Format: [32-byte address][8-byte sequence big-endian]
func EncodeAddressSeqKey(addr types.Pubkey, seq uint64) []byte {
	key := make([]byte, 40)
	copy(key[:32], addr[:])
	binary.BigEndian.PutUint64(key[32:], seq)
	return key
}

// EncodeSlotSeqKey encodes a slot+sequence composite key.
func EncodeSlotSeqKey(slot, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key, slot)
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}

// DefaultRetainSlots is the history kept when pruning is enabled.
const DefaultRetainSlots uint64 = 1_000_000
