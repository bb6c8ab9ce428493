// Package token implements the native fungible token program: mints, token
// accounts, transfers and minting.
//
// Only the instructions the sale needs are supported; their discriminators
// and account orders match the deployed token program so client tooling
// built for it works unchanged.
package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

// Instruction discriminators.
const (
	InstructionTransfer           uint8 = 3
	InstructionMintTo             uint8 = 7
	InstructionInitializeAccount3 uint8 = 18
	InstructionInitializeMint2    uint8 = 20
)

var (
	ErrInvalidAccountData = errors.New("invalid token account data")
	ErrInsufficientFunds  = errors.New("insufficient token funds")
	ErrMintMismatch       = errors.New("account not associated with this mint")
	ErrOwnerMismatch      = errors.New("owner does not match")
	ErrUninitialized      = errors.New("token account not initialized")
	ErrAlreadyInUse       = errors.New("token account already in use")
	ErrAccountFrozen      = errors.New("token account is frozen")
	ErrFixedSupply        = errors.New("mint has a fixed supply")
	ErrOverflow           = errors.New("token amount overflow")
)

// Program is the token program.
type Program struct{}

// New returns the token program.
func New() *Program {
	return &Program{}
}

func (p *Program) ID() types.Pubkey {
	return types.TokenProgramAddr
}

// Process executes one token instruction.
func (p *Program) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("%w: empty token instruction", svm.ErrInvalidInstructionData)
	}
	if err := ctx.ConsumeCU(svm.CUTokenProgramDefault); err != nil {
		return err
	}

	args := data[1:]
	switch data[0] {
	case InstructionInitializeMint2:
		return p.initializeMint(ctx, args)
	case InstructionInitializeAccount3:
		return p.initializeAccount(ctx, args)
	case InstructionTransfer:
		return p.transfer(ctx, args)
	case InstructionMintTo:
		return p.mintTo(ctx, args)
	default:
		return fmt.Errorf("%w: unknown token instruction %d", svm.ErrInvalidInstructionData, data[0])
	}
}

// owned returns the account at index after checking the token program owns
// it and the caller allowed writes when write is set.
func owned(ctx svm.InvokeContext, index int, write bool) (*svm.AccountInfo, error) {
	info, err := svm.AccountAt(ctx, index)
	if err != nil {
		return nil, err
	}
	if info.Owner != types.TokenProgramAddr {
		return nil, fmt.Errorf("%w: %s", svm.ErrIncorrectProgramID, info.Key)
	}
	if write && !info.IsWritable {
		return nil, fmt.Errorf("%w: %s", svm.ErrAccountNotWritable, info.Key)
	}
	return info, nil
}

func loadAccount(info *svm.AccountInfo) (*Account, error) {
	acct, err := UnmarshalAccount(info.Data)
	if err != nil {
		return nil, err
	}
	if !acct.IsInitialized() {
		return nil, fmt.Errorf("%w: %s", ErrUninitialized, info.Key)
	}
	if acct.State == AccountStateFrozen {
		return nil, fmt.Errorf("%w: %s", ErrAccountFrozen, info.Key)
	}
	return acct, nil
}

func loadMint(info *svm.AccountInfo) (*Mint, error) {
	mint, err := UnmarshalMint(info.Data)
	if err != nil {
		return nil, err
	}
	if !mint.IsInitialized {
		return nil, fmt.Errorf("%w: mint %s", ErrUninitialized, info.Key)
	}
	return mint, nil
}

// initializeMint: [0] mint (writable).
// Args: decimals(1) | mint_authority(32) | has_freeze(1) | freeze_authority(32)?
func (p *Program) initializeMint(ctx svm.InvokeContext, args []byte) error {
	if len(args) != 34 && len(args) != 66 {
		return svm.ErrInvalidInstructionData
	}
	info, err := owned(ctx, 0, true)
	if err != nil {
		return err
	}
	if len(info.Data) != MintSize {
		return ErrInvalidAccountData
	}
	if existing, _ := UnmarshalMint(info.Data); existing.IsInitialized {
		return ErrAlreadyInUse
	}

	authority, _ := types.PubkeyFromBytes(args[1:33])
	mint := &Mint{
		MintAuthority: &authority,
		Decimals:      args[0],
		IsInitialized: true,
	}
	if args[33] == 1 {
		if len(args) != 66 {
			return svm.ErrInvalidInstructionData
		}
		freeze, _ := types.PubkeyFromBytes(args[34:66])
		mint.FreezeAuthority = &freeze
	}
	copy(info.Data, mint.Marshal())
	return nil
}

// initializeAccount: [0] account (writable), [1] mint. Args: owner(32).
func (p *Program) initializeAccount(ctx svm.InvokeContext, args []byte) error {
	if len(args) != 32 {
		return svm.ErrInvalidInstructionData
	}
	info, err := owned(ctx, 0, true)
	if err != nil {
		return err
	}
	mintInfo, err := owned(ctx, 1, false)
	if err != nil {
		return err
	}
	if _, err := loadMint(mintInfo); err != nil {
		return err
	}
	if len(info.Data) != AccountSize {
		return ErrInvalidAccountData
	}
	existing, err := UnmarshalAccount(info.Data)
	if err != nil {
		return err
	}
	if existing.IsInitialized() {
		return ErrAlreadyInUse
	}

	owner, _ := types.PubkeyFromBytes(args)
	acct := &Account{
		Mint:  mintInfo.Key,
		Owner: owner,
		State: AccountStateInitialized,
	}
	copy(info.Data, acct.Marshal())
	return nil
}

// transfer: [0] source (writable), [1] destination (writable),
// [2] source owner (signer). Args: amount(8).
func (p *Program) transfer(ctx svm.InvokeContext, args []byte) error {
	if len(args) != 8 {
		return svm.ErrInvalidInstructionData
	}
	amount := binary.LittleEndian.Uint64(args)

	srcInfo, err := owned(ctx, 0, true)
	if err != nil {
		return err
	}
	dstInfo, err := owned(ctx, 1, true)
	if err != nil {
		return err
	}
	authority, err := svm.AccountAt(ctx, 2)
	if err != nil {
		return err
	}

	src, err := loadAccount(srcInfo)
	if err != nil {
		return err
	}
	dst, err := loadAccount(dstInfo)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if authority.Key != src.Owner {
		return fmt.Errorf("%w: %s is not the owner of %s", ErrOwnerMismatch, authority.Key, srcInfo.Key)
	}
	if !authority.IsSigner {
		return fmt.Errorf("%w: %s", svm.ErrMissingRequiredSignature, authority.Key)
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientFunds, amount, src.Amount)
	}
	if srcInfo.Key == dstInfo.Key {
		return nil
	}
	if dst.Amount > ^uint64(0)-amount {
		return ErrOverflow
	}

	src.Amount -= amount
	dst.Amount += amount
	copy(srcInfo.Data, src.Marshal())
	copy(dstInfo.Data, dst.Marshal())
	return nil
}

// mintTo: [0] mint (writable), [1] destination (writable),
// [2] mint authority (signer). Args: amount(8).
func (p *Program) mintTo(ctx svm.InvokeContext, args []byte) error {
	if len(args) != 8 {
		return svm.ErrInvalidInstructionData
	}
	amount := binary.LittleEndian.Uint64(args)

	mintInfo, err := owned(ctx, 0, true)
	if err != nil {
		return err
	}
	dstInfo, err := owned(ctx, 1, true)
	if err != nil {
		return err
	}
	authority, err := svm.AccountAt(ctx, 2)
	if err != nil {
		return err
	}

	mint, err := loadMint(mintInfo)
	if err != nil {
		return err
	}
	dst, err := loadAccount(dstInfo)
	if err != nil {
		return err
	}
	if dst.Mint != mintInfo.Key {
		return ErrMintMismatch
	}
	if mint.MintAuthority == nil {
		return ErrFixedSupply
	}
	if authority.Key != *mint.MintAuthority {
		return ErrOwnerMismatch
	}
	if !authority.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	if mint.Supply > ^uint64(0)-amount || dst.Amount > ^uint64(0)-amount {
		return ErrOverflow
	}

	mint.Supply += amount
	dst.Amount += amount
	copy(mintInfo.Data, mint.Marshal())
	copy(dstInfo.Data, dst.Marshal())
	return nil
}
