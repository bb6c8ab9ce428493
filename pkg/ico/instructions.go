package ico

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

func encodeArgs(op uint8, args ...uint64) []byte {
	data := make([]byte, 1+8*len(args))
	data[0] = op
	for i, a := range args {
		binary.LittleEndian.PutUint64(data[1+8*i:], a)
	}
	return data
}

// Initialize builds the instruction that creates the sale, moving deposit
// tokens from adminTokenAccount into escrow.
func (a Addresses) Initialize(admin, adminTokenAccount types.Pubkey, rate, deposit uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: a.ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewWritable(admin, true),
			svm.NewWritable(a.State, false),
			svm.NewWritable(adminTokenAccount, false),
			svm.NewWritable(a.Escrow, false),
			svm.NewReadonly(a.Mint, false),
			svm.NewReadonly(types.TokenProgramAddr, false),
			svm.NewReadonly(types.SystemProgramAddr, false),
		},
		Data: encodeArgs(InstructionInitialize, rate, deposit),
	}
}

func (a Addresses) adminTransfer(op uint8, admin, adminTokenAccount types.Pubkey, amount uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: a.ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewReadonly(admin, true),
			svm.NewWritable(a.State, false),
			svm.NewWritable(adminTokenAccount, false),
			svm.NewWritable(a.Escrow, false),
			svm.NewReadonly(types.TokenProgramAddr, false),
		},
		Data: encodeArgs(op, amount),
	}
}

// Deposit builds the instruction adding amount admin tokens to escrow.
func (a Addresses) Deposit(admin, adminTokenAccount types.Pubkey, amount uint64) svm.Instruction {
	return a.adminTransfer(InstructionDeposit, admin, adminTokenAccount, amount)
}

// Withdraw builds the instruction returning amount escrowed tokens to
// adminTokenAccount.
func (a Addresses) Withdraw(admin, adminTokenAccount types.Pubkey, amount uint64) svm.Instruction {
	return a.adminTransfer(InstructionWithdraw, admin, adminTokenAccount, amount)
}

// Buy builds the purchase instruction. admin must be the sale's admin; it
// receives the payment.
func (a Addresses) Buy(buyer, admin, buyerTokenAccount types.Pubkey, payment uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: a.ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewWritable(buyer, true),
			svm.NewWritable(admin, false),
			svm.NewWritable(a.State, false),
			svm.NewWritable(buyerTokenAccount, false),
			svm.NewWritable(a.Escrow, false),
			svm.NewReadonly(types.TokenProgramAddr, false),
			svm.NewReadonly(types.SystemProgramAddr, false),
		},
		Data: encodeArgs(InstructionBuy, payment),
	}
}

// Reprice builds the instruction setting a new rate.
func (a Addresses) Reprice(admin types.Pubkey, rate uint64) svm.Instruction {
	return svm.Instruction{
		ProgramID: a.ProgramID,
		Accounts: []svm.AccountMeta{
			svm.NewReadonly(admin, true),
			svm.NewWritable(a.State, false),
		},
		Data: encodeArgs(InstructionReprice, rate),
	}
}
