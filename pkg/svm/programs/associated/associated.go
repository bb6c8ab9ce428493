// Package associated implements the associated token account program. It
// creates, at an address derived from (wallet, mint), the one canonical token
// account a wallet holds for that mint, so senders can find it without
// asking.
package associated

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/pda"
	"github.com/fortiblox/stratus-ico/pkg/svm"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/token"
)

const (
	instructionCreate           uint8 = 0
	instructionCreateIdempotent uint8 = 1
)

// ErrInvalidAddress is returned when the account passed as the associated
// account is not the one derived from the wallet and mint.
var ErrInvalidAddress = errors.New("associated token address does not match seed derivation")

func seeds(wallet, mint types.Pubkey) [][]byte {
	return [][]byte{wallet[:], types.TokenProgramAddr[:], mint[:]}
}

// FindAddress returns the associated token account of wallet for mint.
func FindAddress(wallet, mint types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(seeds(wallet, mint), types.AssociatedTokenProgramAddr)
}

// Address is FindAddress without the bump.
func Address(wallet, mint types.Pubkey) (types.Pubkey, error) {
	addr, _, err := FindAddress(wallet, mint)
	return addr, err
}

// Program is the associated token account program.
type Program struct{}

func New() *Program {
	return &Program{}
}

func (p *Program) ID() types.Pubkey {
	return types.AssociatedTokenProgramAddr
}

// Process creates the associated account.
// Accounts: [0] funder (signer, writable), [1] associated account (writable),
// [2] wallet, [3] mint, [4] system program, [5] token program.
func (p *Program) Process(ctx svm.InvokeContext, data []byte) error {
	idempotent := false
	switch {
	case len(data) == 0 || (len(data) == 1 && data[0] == instructionCreate):
	case len(data) == 1 && data[0] == instructionCreateIdempotent:
		idempotent = true
	default:
		return svm.ErrInvalidInstructionData
	}

	funder, err := svm.AccountAt(ctx, 0)
	if err != nil {
		return err
	}
	ata, err := svm.AccountAt(ctx, 1)
	if err != nil {
		return err
	}
	wallet, err := svm.AccountAt(ctx, 2)
	if err != nil {
		return err
	}
	mint, err := svm.AccountAt(ctx, 3)
	if err != nil {
		return err
	}

	if err := ctx.ConsumeCU(svm.CUCreateProgramAddress); err != nil {
		return err
	}
	addr, bump, err := FindAddress(wallet.Key, mint.Key)
	if err != nil {
		return err
	}
	if addr != ata.Key {
		return fmt.Errorf("%w: got %s, want %s", ErrInvalidAddress, ata.Key, addr)
	}

	if idempotent && ata.Owner == types.TokenProgramAddr {
		existing, err := token.UnmarshalAccount(ata.Data)
		if err == nil && existing.IsInitialized() && existing.Owner == wallet.Key && existing.Mint == mint.Key {
			return nil
		}
	}

	create := system.CreateAccount(funder.Key, ata.Key, ctx.GetRentMinimum(token.AccountSize), token.AccountSize, types.TokenProgramAddr)
	if err := ctx.Invoke(create, pda.WithBump(seeds(wallet.Key, mint.Key), bump)); err != nil {
		return fmt.Errorf("create associated account: %w", err)
	}
	if err := ctx.Invoke(token.InitializeAccount(ata.Key, mint.Key, wallet.Key)); err != nil {
		return fmt.Errorf("initialize associated account: %w", err)
	}
	ctx.Log(fmt.Sprintf("created associated token account %s", ata.Key))
	return nil
}

// Create builds an instruction creating wallet's associated account for mint,
// paid for by funder. With idempotent set, an existing account is accepted.
func Create(funder, wallet, mint types.Pubkey, idempotent bool) (svm.Instruction, error) {
	addr, err := Address(wallet, mint)
	if err != nil {
		return svm.Instruction{}, err
	}
	data := []byte{instructionCreate}
	if idempotent {
		data[0] = instructionCreateIdempotent
	}
	return svm.Instruction{
		ProgramID: types.AssociatedTokenProgramAddr,
		Accounts: []svm.AccountMeta{
			svm.NewWritable(funder, true),
			svm.NewWritable(addr, false),
			svm.NewReadonly(wallet, false),
			svm.NewReadonly(mint, false),
			svm.NewReadonly(types.SystemProgramAddr, false),
			svm.NewReadonly(types.TokenProgramAddr, false),
		},
		Data: data,
	}, nil
}
