package ico

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/stratus-ico/internal/types"
)

// StateSize is the encoded size of a SaleState record.
const StateSize = 100

const stateVersion byte = 1

// SaleState is the persistent record of one sale.
//
// TokenBalance never exceeds the escrow account's real token balance, and
// TokenBalance+TotalSold always equals deposits minus withdrawals.
type SaleState struct {
	// Admin is set once by Initialize and never changes.
	Admin types.Pubkey `json:"admin"`
	Mint  types.Pubkey `json:"mint"`

	// Rate is the number of token base units granted per lamport paid.
	Rate uint64 `json:"rate"`

	TokenBalance  uint64 `json:"tokenBalance"`
	TotalSold     uint64 `json:"totalSold"`
	TotalReceived uint64 `json:"totalReceived"`

	// Decimals is copied from the mint for display.
	Decimals uint8 `json:"decimals"`

	// EscrowBump reconstructs the escrow authority without searching.
	EscrowBump uint8 `json:"escrowBump"`
	StateBump  uint8 `json:"stateBump"`
}

// Marshal encodes the record:
//
//	version(1) | admin(32) | mint(32) | rate(8) | token_balance(8) |
//	total_sold(8) | total_received(8) | decimals(1) | escrow_bump(1) |
//	state_bump(1)
func (s SaleState) Marshal() []byte {
	b := make([]byte, StateSize)
	b[0] = stateVersion
	copy(b[1:], s.Admin[:])
	copy(b[33:], s.Mint[:])
	binary.LittleEndian.PutUint64(b[65:], s.Rate)
	binary.LittleEndian.PutUint64(b[73:], s.TokenBalance)
	binary.LittleEndian.PutUint64(b[81:], s.TotalSold)
	binary.LittleEndian.PutUint64(b[89:], s.TotalReceived)
	b[97] = s.Decimals
	b[98] = s.EscrowBump
	b[99] = s.StateBump
	return b
}

// UnmarshalSaleState decodes a record. An allocated but never written
// record (all zeros) yields ErrNotInitialized.
func UnmarshalSaleState(b []byte) (SaleState, error) {
	var s SaleState
	if len(b) != StateSize {
		return s, fmt.Errorf("%w: record is %d bytes, want %d", ErrNotInitialized, len(b), StateSize)
	}
	switch b[0] {
	case 0:
		return s, ErrNotInitialized
	case stateVersion:
	default:
		return s, fmt.Errorf("%w: unknown record version %d", ErrInvalidInstruction, b[0])
	}
	copy(s.Admin[:], b[1:33])
	copy(s.Mint[:], b[33:65])
	s.Rate = binary.LittleEndian.Uint64(b[65:])
	s.TokenBalance = binary.LittleEndian.Uint64(b[73:])
	s.TotalSold = binary.LittleEndian.Uint64(b[81:])
	s.TotalReceived = binary.LittleEndian.Uint64(b[89:])
	s.Decimals = b[97]
	s.EscrowBump = b[98]
	s.StateBump = b[99]
	return s, nil
}

// Digest returns the BLAKE3 hash of the encoded record. Equal digests mean
// byte-identical records.
func (s SaleState) Digest() types.Hash {
	return types.Hash(blake3.Sum256(s.Marshal()))
}

// Supply returns TokenBalance + TotalSold: every token ever placed in
// escrow and not withdrawn.
func (s SaleState) Supply() (uint64, error) {
	return checkedAdd(s.TokenBalance, s.TotalSold)
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrArithmeticOverflow
	}
	return diff, nil
}

func checkedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrArithmeticOverflow
	}
	return lo, nil
}
