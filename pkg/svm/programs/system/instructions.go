package system

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

func encode(discriminant uint32, size int) []byte {
	data := make([]byte, 4+size)
	binary.LittleEndian.PutUint32(data, discriminant)
	return data
}

// CreateAccount builds an instruction that funds newAccount with lamports,
// allocates space bytes and assigns it to owner.
func CreateAccount(funder, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) svm.Instruction {
	data := encode(InstructionCreateAccount, 48)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])
	return svm.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts: []svm.AccountMeta{
			svm.NewWritable(funder, true),
			svm.NewWritable(newAccount, true),
		},
		Data: data,
	}
}

// Transfer builds a lamport transfer.
func Transfer(from, to types.Pubkey, lamports uint64) svm.Instruction {
	data := encode(InstructionTransfer, 8)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return svm.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts: []svm.AccountMeta{
			svm.NewWritable(from, true),
			svm.NewWritable(to, false),
		},
		Data: data,
	}
}

// Assign builds an instruction that hands account to owner.
func Assign(account, owner types.Pubkey) svm.Instruction {
	data := encode(InstructionAssign, 32)
	copy(data[4:], owner[:])
	return svm.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts:  []svm.AccountMeta{svm.NewWritable(account, true)},
		Data:      data,
	}
}

// Allocate builds an instruction that sizes account's data.
func Allocate(account types.Pubkey, space uint64) svm.Instruction {
	data := encode(InstructionAllocate, 8)
	binary.LittleEndian.PutUint64(data[4:], space)
	return svm.Instruction{
		ProgramID: types.SystemProgramAddr,
		Accounts:  []svm.AccountMeta{svm.NewWritable(account, true)},
		Data:      data,
	}
}
