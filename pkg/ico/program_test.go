package ico

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/pda"
	"github.com/fortiblox/stratus-ico/pkg/svm"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/token"
	"github.com/fortiblox/stratus-ico/pkg/svm/svmtest"
)

func newTestProgram(t *testing.T) *Program {
	t.Helper()
	return NewProgram(newTestMachine(t))
}

func recordInfo(p *Program, s SaleState) *svm.AccountInfo {
	return svmtest.Owned(p.Machine().Addresses().State, p.ID(), s.Marshal())
}

func liveState(p *Program) SaleState {
	a := p.Machine().Addresses()
	return SaleState{
		Admin: adminKey, Mint: a.Mint, Rate: 5, TokenBalance: 1000,
		Decimals: 6, EscrowBump: a.EscrowBump, StateBump: a.StateBump,
	}
}

func TestProgramRejectsMalformedData(t *testing.T) {
	p := newTestProgram(t)
	ctx := svmtest.New(p.ID())

	assert.ErrorIs(t, p.Process(ctx, nil), ErrInvalidInstruction)
	assert.ErrorIs(t, p.Process(ctx, []byte{9}), ErrInvalidInstruction)
	assert.ErrorIs(t, p.Process(ctx, []byte{InstructionBuy, 1, 2}), ErrInvalidInstruction)
	assert.ErrorIs(t, p.Process(ctx, encodeArgs(InstructionInitialize, 1)), ErrInvalidInstruction)
}

func TestProgramReprice(t *testing.T) {
	p := newTestProgram(t)
	record := recordInfo(p, liveState(p))
	ctx := svmtest.New(p.ID(), svmtest.Wallet(adminKey, 0, true), record)

	require.NoError(t, p.Process(ctx, encodeArgs(InstructionReprice, 9)))
	s, err := UnmarshalSaleState(record.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), s.Rate)
	assert.Empty(t, ctx.Invoked)
}

func TestProgramRequiresSigner(t *testing.T) {
	p := newTestProgram(t)
	record := recordInfo(p, liveState(p))
	ctx := svmtest.New(p.ID(), svmtest.Wallet(adminKey, 0, false), record)

	assert.ErrorIs(t, p.Process(ctx, encodeArgs(InstructionReprice, 9)), svm.ErrMissingRequiredSignature)
}

func TestProgramRejectsForeignRecord(t *testing.T) {
	p := newTestProgram(t)
	record := svmtest.Owned(key(0x77), p.ID(), liveState(p).Marshal())
	ctx := svmtest.New(p.ID(), svmtest.Wallet(adminKey, 0, true), record)
	assert.ErrorIs(t, p.Process(ctx, encodeArgs(InstructionReprice, 9)), ErrAccountMismatch)

	// Right address, wrong owner: never initialized.
	record = svmtest.Owned(p.Machine().Addresses().State, types.SystemProgramAddr, liveState(p).Marshal())
	ctx = svmtest.New(p.ID(), svmtest.Wallet(adminKey, 0, true), record)
	assert.ErrorIs(t, p.Process(ctx, encodeArgs(InstructionReprice, 9)), ErrNotInitialized)
}

func TestProgramBuyInvokesTransfers(t *testing.T) {
	p := newTestProgram(t)
	addrs := p.Machine().Addresses()
	record := recordInfo(p, liveState(p))
	ctx := svmtest.New(p.ID(),
		svmtest.Wallet(buyerKey, 1_000, true),
		svmtest.Wallet(adminKey, 0, false),
		record,
		svmtest.Owned(buyerTokens, types.TokenProgramAddr, make([]byte, token.AccountSize)),
		svmtest.Owned(addrs.Escrow, types.TokenProgramAddr, make([]byte, token.AccountSize)),
	)

	require.NoError(t, p.Process(ctx, encodeArgs(InstructionBuy, 10)))
	require.Len(t, ctx.Invoked, 2)

	pay := ctx.Invoked[0]
	assert.Equal(t, system.Transfer(buyerKey, adminKey, 10), pay.Instruction)
	assert.Empty(t, pay.SignerSeeds)

	release := ctx.Invoked[1]
	assert.Equal(t, token.Transfer(addrs.Escrow, buyerTokens, addrs.Escrow, 50), release.Instruction)
	require.Len(t, release.SignerSeeds, 1)
	signer, err := pda.CreateProgramAddress(release.SignerSeeds[0], p.ID())
	require.NoError(t, err)
	assert.Equal(t, addrs.Escrow, signer)

	s, err := UnmarshalSaleState(record.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(950), s.TokenBalance)
	assert.Equal(t, uint64(50), s.TotalSold)
	assert.Equal(t, uint64(10), s.TotalReceived)
}

func TestProgramBuyRejectsWrongPayee(t *testing.T) {
	p := newTestProgram(t)
	addrs := p.Machine().Addresses()
	before := liveState(p).Marshal()
	record := recordInfo(p, liveState(p))
	ctx := svmtest.New(p.ID(),
		svmtest.Wallet(buyerKey, 1_000, true),
		svmtest.Wallet(strangerKey, 0, false),
		record,
		svmtest.Owned(buyerTokens, types.TokenProgramAddr, make([]byte, token.AccountSize)),
		svmtest.Owned(addrs.Escrow, types.TokenProgramAddr, make([]byte, token.AccountSize)),
	)

	assert.ErrorIs(t, p.Process(ctx, encodeArgs(InstructionBuy, 10)), ErrAccountMismatch)
	assert.Empty(t, ctx.Invoked)
	assert.Equal(t, before, record.Data)
}

func TestProgramWithdrawFailureLeavesRecord(t *testing.T) {
	p := newTestProgram(t)
	addrs := p.Machine().Addresses()
	before := liveState(p).Marshal()
	record := recordInfo(p, liveState(p))
	ctx := svmtest.New(p.ID(),
		svmtest.Wallet(adminKey, 0, true),
		record,
		svmtest.Owned(adminTokens, types.TokenProgramAddr, make([]byte, token.AccountSize)),
		svmtest.Owned(addrs.Escrow, types.TokenProgramAddr, make([]byte, token.AccountSize)),
	)
	ctx.OnInvoke = func(svm.Instruction, [][][]byte) error { return token.ErrInsufficientFunds }

	err := p.Process(ctx, encodeArgs(InstructionWithdraw, 10))
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, token.ErrInsufficientFunds)
	assert.Equal(t, before, record.Data)
}

func TestInstructionBuilders(t *testing.T) {
	addrs, err := DeriveAddresses(testSaleConfig)
	require.NoError(t, err)

	ix := addrs.Buy(buyerKey, adminKey, buyerTokens, 42)
	assert.Equal(t, testProgramID, ix.ProgramID)
	assert.Equal(t, InstructionBuy, ix.Data[0])
	require.Len(t, ix.Accounts, 7)
	assert.True(t, ix.Accounts[0].IsSigner)
	assert.Equal(t, addrs.State, ix.Accounts[2].Pubkey)
	assert.Equal(t, addrs.Escrow, ix.Accounts[4].Pubkey)

	init := addrs.Initialize(adminKey, adminTokens, 5, 1000)
	assert.Len(t, init.Data, 17)
	assert.Equal(t, addrs.Mint, init.Accounts[4].Pubkey)
}
