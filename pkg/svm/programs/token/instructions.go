package token

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

func amountData(discriminator uint8, amount uint64) []byte {
	data := make([]byte, 9)
	data[0] = discriminator
	binary.LittleEndian.PutUint64(data[1:], amount)
	return data
}

// Transfer builds a transfer of amount from source to destination, signed by
// the source's owner.
func Transfer(source, destination, owner types.Pubkey, amount uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: types.TokenProgramAddr,
		Accounts: []svm.AccountMeta{
			svm.NewWritable(source, false),
			svm.NewWritable(destination, false),
			svm.NewReadonly(owner, true),
		},
		Data: amountData(InstructionTransfer, amount),
	}
}

// MintTo builds an instruction minting amount new units into destination.
func MintTo(mint, destination, authority types.Pubkey, amount uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: types.TokenProgramAddr,
		Accounts: []svm.AccountMeta{
			svm.NewWritable(mint, false),
			svm.NewWritable(destination, false),
			svm.NewReadonly(authority, true),
		},
		Data: amountData(InstructionMintTo, amount),
	}
}

// InitializeMint builds an instruction initializing an allocated mint
// account. freezeAuthority may be nil.
func InitializeMint(mint types.Pubkey, decimals uint8, mintAuthority types.Pubkey, freezeAuthority *types.Pubkey) svm.Instruction {
	data := make([]byte, 1+1+32+1, 1+1+32+1+32)
	data[0] = InstructionInitializeMint2
	data[1] = decimals
	copy(data[2:], mintAuthority[:])
	if freezeAuthority != nil {
		data[34] = 1
		data = append(data, freezeAuthority[:]...)
	}
	return svm.Instruction{
		ProgramID: types.TokenProgramAddr,
		Accounts:  []svm.AccountMeta{svm.NewWritable(mint, false)},
		Data:      data,
	}
}

// InitializeAccount builds an instruction initializing an allocated token
// account for mint, owned by owner.
func InitializeAccount(account, mint, owner types.Pubkey) svm.Instruction {
	data := make([]byte, 33)
	data[0] = InstructionInitializeAccount3
	copy(data[1:], owner[:])
	return svm.Instruction{
		ProgramID: types.TokenProgramAddr,
		Accounts: []svm.AccountMeta{
			svm.NewWritable(account, false),
			svm.NewReadonly(mint, false),
		},
		Data: data,
	}
}
