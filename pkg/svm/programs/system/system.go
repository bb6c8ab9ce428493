// Package system implements the native lamport program: it creates accounts,
// hands them to their owning program, and moves lamports between wallets.
package system

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

// Instruction discriminants. The numbering leaves gaps for instructions this
// runtime does not support so encoded instructions stay wire compatible.
const (
	InstructionCreateAccount uint32 = 0
	InstructionAssign        uint32 = 1
	InstructionTransfer      uint32 = 2
	InstructionAllocate      uint32 = 8
)

var (
	ErrInsufficientFunds    = errors.New("insufficient lamports")
	ErrAccountAlreadyInUse  = errors.New("account already in use")
	ErrInvalidAccountOwner  = errors.New("invalid account owner")
	ErrAccountNotRentExempt = errors.New("account not rent exempt")
	ErrAccountDataTooLarge  = errors.New("account data too large")
	ErrAccountDataTooSmall  = errors.New("account data too small")
	ErrLamportOverflow      = errors.New("lamport overflow")
)

// Program is the system program.
type Program struct{}

// New returns the system program.
func New() *Program {
	return &Program{}
}

func (p *Program) ID() types.Pubkey {
	return types.SystemProgramAddr
}

// Process executes one system instruction. Data starts with a u32
// little-endian discriminant.
func (p *Program) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 4 {
		return svm.ErrInvalidInstructionData
	}
	if err := ctx.ConsumeCU(svm.CUSystemProgramDefault); err != nil {
		return err
	}

	args := data[4:]
	switch binary.LittleEndian.Uint32(data) {
	case InstructionCreateAccount:
		return p.createAccount(ctx, args)
	case InstructionAssign:
		return p.assign(ctx, args)
	case InstructionTransfer:
		return p.transfer(ctx, args)
	case InstructionAllocate:
		return p.allocate(ctx, args)
	default:
		return svm.ErrInvalidInstructionData
	}
}

// createAccount: [0] funder (signer, writable), [1] new account (signer,
// writable). Args: lamports(8) | space(8) | owner(32).
func (p *Program) createAccount(ctx svm.InvokeContext, args []byte) error {
	if len(args) != 48 {
		return svm.ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(args[0:])
	space := binary.LittleEndian.Uint64(args[8:])
	owner, _ := types.PubkeyFromBytes(args[16:48])

	if space > accounts.MaxDataSize {
		return ErrAccountDataTooLarge
	}

	funder, err := svm.AccountAt(ctx, 0)
	if err != nil {
		return err
	}
	created, err := svm.AccountAt(ctx, 1)
	if err != nil {
		return err
	}
	if !funder.IsSigner || !created.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if !funder.IsWritable || !created.IsWritable {
		return svm.ErrAccountNotWritable
	}
	if created.Owner != types.SystemProgramAddr || len(created.Data) > 0 || created.Lamports > 0 {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyInUse, created.Key)
	}
	if lamports < ctx.GetRentMinimum(space) {
		return ErrAccountNotRentExempt
	}
	if funder.Lamports < lamports {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, lamports, funder.Lamports)
	}

	funder.Lamports -= lamports
	created.Lamports = lamports
	created.Data = make([]byte, space)
	created.Owner = owner
	return nil
}

// assign: [0] account (signer, writable). Args: owner(32).
func (p *Program) assign(ctx svm.InvokeContext, args []byte) error {
	if len(args) != 32 {
		return svm.ErrInvalidInstructionData
	}
	acct, err := svm.AccountAt(ctx, 0)
	if err != nil {
		return err
	}
	if !acct.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if acct.Owner != types.SystemProgramAddr {
		return ErrInvalidAccountOwner
	}
	copy(acct.Owner[:], args)
	return nil
}

// transfer: [0] from (signer, writable), [1] to (writable). Args: lamports(8).
func (p *Program) transfer(ctx svm.InvokeContext, args []byte) error {
	if len(args) != 8 {
		return svm.ErrInvalidInstructionData
	}
	lamports := binary.LittleEndian.Uint64(args)

	from, err := svm.AccountAt(ctx, 0)
	if err != nil {
		return err
	}
	to, err := svm.AccountAt(ctx, 1)
	if err != nil {
		return err
	}
	if !from.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return svm.ErrAccountNotWritable
	}
	if from.Owner != types.SystemProgramAddr || len(from.Data) > 0 {
		return fmt.Errorf("%w: transfer source must be a plain wallet", ErrInvalidAccountOwner)
	}
	if from.Lamports < lamports {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, lamports, from.Lamports)
	}
	if from.Key == to.Key {
		return nil
	}
	if to.Lamports > ^uint64(0)-lamports {
		return ErrLamportOverflow
	}

	from.Lamports -= lamports
	to.Lamports += lamports
	return nil
}

// allocate: [0] account (signer, writable). Args: space(8).
func (p *Program) allocate(ctx svm.InvokeContext, args []byte) error {
	if len(args) != 8 {
		return svm.ErrInvalidInstructionData
	}
	space := binary.LittleEndian.Uint64(args)
	if space > accounts.MaxDataSize {
		return ErrAccountDataTooLarge
	}

	acct, err := svm.AccountAt(ctx, 0)
	if err != nil {
		return err
	}
	if !acct.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if acct.Owner != types.SystemProgramAddr {
		return ErrInvalidAccountOwner
	}
	if len(acct.Data) > 0 {
		return ErrAccountAlreadyInUse
	}
	acct.Data = make([]byte, space)
	return nil
}
