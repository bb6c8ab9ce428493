// Package svm defines the contract between the runtime and the native
// programs it executes.
//
// A program sees only an InvokeContext: the accounts passed to the current
// instruction (with the signer and writable privileges the caller granted),
// a compute meter, a log, and the ability to invoke another program. The
// runtime checks after every instruction that the program stayed inside its
// privileges, so programs can be written as plain Go without trusting each
// other.
package svm

import (
	"errors"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
)

var (
	// ErrNotEnoughAccountKeys is returned when an instruction carries fewer
	// accounts than the program requires.
	ErrNotEnoughAccountKeys = errors.New("not enough account keys")

	// ErrInvalidInstructionData is returned for undecodable instruction data.
	ErrInvalidInstructionData = errors.New("invalid instruction data")

	// ErrMissingRequiredSignature is returned when an account that must
	// authorize the instruction did not sign it.
	ErrMissingRequiredSignature = errors.New("missing required signature")

	// ErrAccountNotWritable is returned when a program must modify an
	// account the caller passed read-only.
	ErrAccountNotWritable = errors.New("account not writable")

	// ErrIncorrectProgramID is returned when an account is not owned by the
	// program that expects to interpret it.
	ErrIncorrectProgramID = errors.New("incorrect program id for account")

	// ErrUnknownProgram is returned when an instruction targets a program
	// the runtime has no implementation for.
	ErrUnknownProgram = errors.New("unknown program")
)

// AccountInfo is a program's view of one instruction account. The embedded
// Account is shared by every frame of the transaction, so changes made by a
// nested invocation are visible to its caller.
type AccountInfo struct {
	Key        types.Pubkey
	IsSigner   bool
	IsWritable bool

	*accounts.Account
}

// AccountMeta names an account in an instruction along with the privileges
// the instruction requests for it.
type AccountMeta struct {
	Pubkey     types.Pubkey `json:"pubkey"`
	IsSigner   bool         `json:"isSigner"`
	IsWritable bool         `json:"isWritable"`
}

// NewWritable returns a writable AccountMeta.
func NewWritable(pubkey types.Pubkey, signer bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: signer, IsWritable: true}
}

// NewReadonly returns a read-only AccountMeta.
func NewReadonly(pubkey types.Pubkey, signer bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: signer}
}

// Instruction is a single call into a program.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// InvokeContext is what a program can see and do while processing one
// instruction.
type InvokeContext interface {
	// ProgramID is the id of the executing program.
	ProgramID() types.Pubkey

	NumAccounts() int

	// GetAccount returns the instruction's account at index.
	GetAccount(index int) (*AccountInfo, error)

	// GetRentMinimum returns the lamports an account of dataLen bytes
	// must hold to be rent exempt.
	GetRentMinimum(dataLen uint64) uint64

	ConsumeCU(cost uint64) error

	Log(msg string)

	// Invoke runs ix as a nested call. Every account ix names must be an
	// account of the current instruction. Each entry of signerSeeds is the
	// full seed list (bump included) of a program derived address the
	// executing program vouches for; that address is treated as a signer
	// for this one call only.
	Invoke(ix Instruction, signerSeeds ...[][]byte) error
}

// Program is a native program.
type Program interface {
	ID() types.Pubkey
	Process(ctx InvokeContext, data []byte) error
}

// Rent parameters. An account is rent exempt when it holds two years of rent
// for its data plus the fixed account overhead.
const (
	AccountStorageOverhead = 128
	LamportsPerByteYear    = 3480
	ExemptionThreshold     = 2
)

// RentExemptMinimum returns the lamports an account with dataLen bytes of
// data must hold to be rent exempt.
func RentExemptMinimum(dataLen uint64) uint64 {
	return (AccountStorageOverhead + dataLen) * LamportsPerByteYear * ExemptionThreshold
}

// AccountAt returns the account at index or ErrNotEnoughAccountKeys.
func AccountAt(ctx InvokeContext, index int) (*AccountInfo, error) {
	if index >= ctx.NumAccounts() {
		return nil, ErrNotEnoughAccountKeys
	}
	return ctx.GetAccount(index)
}
