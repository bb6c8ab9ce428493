package ico

import (
	"encoding/binary"
	"fmt"

	"github.com/fortiblox/stratus-ico/internal/log"
	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/pda"
	"github.com/fortiblox/stratus-ico/pkg/svm"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/token"
)

// Instruction discriminators of the sale program.
const (
	InstructionInitialize uint8 = iota
	InstructionDeposit
	InstructionWithdraw
	InstructionBuy
	InstructionReprice
)

// Program runs a Machine on the ledger. Transfers are nested invocations of
// the token and system programs, and the sale record is an account owned by
// the program at the derived state address.
type Program struct {
	m *Machine
}

// NewProgram wraps m as a runtime program.
func NewProgram(m *Machine) *Program {
	return &Program{m: m}
}

func (p *Program) ID() types.Pubkey {
	return p.m.cfg.ProgramID
}

func (p *Program) Machine() *Machine {
	return p.m
}

// Process decodes and executes one sale instruction.
func (p *Program) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) < 1 {
		return ErrInvalidInstruction
	}
	if err := ctx.ConsumeCU(svm.CUSaleProgramDefault); err != nil {
		return err
	}

	op, args := data[0], data[1:]
	switch op {
	case InstructionInitialize:
		if len(args) != 16 {
			return ErrInvalidInstruction
		}
		return p.initialize(ctx, binary.LittleEndian.Uint64(args), binary.LittleEndian.Uint64(args[8:]))
	case InstructionDeposit, InstructionWithdraw, InstructionBuy, InstructionReprice:
		if len(args) != 8 {
			return ErrInvalidInstruction
		}
		return p.update(ctx, op, binary.LittleEndian.Uint64(args))
	default:
		return fmt.Errorf("%w: unknown instruction %d", ErrInvalidInstruction, op)
	}
}

// accounts fetches the first n instruction accounts.
func accountsOf(ctx svm.InvokeContext, n int) ([]*svm.AccountInfo, error) {
	if ctx.NumAccounts() < n {
		return nil, svm.ErrNotEnoughAccountKeys
	}
	infos := make([]*svm.AccountInfo, n)
	for i := range infos {
		info, err := ctx.GetAccount(i)
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}
	return infos, nil
}

func requireSigner(info *svm.AccountInfo) error {
	if !info.IsSigner {
		return fmt.Errorf("%w: %s", svm.ErrMissingRequiredSignature, info.Key)
	}
	return nil
}

// loadState reads the sale record from info after checking it is the
// configured record account.
func (p *Program) loadState(ctx svm.InvokeContext, info *svm.AccountInfo) (SaleState, error) {
	if info.Key != p.m.addrs.State {
		return SaleState{}, fmt.Errorf("%w: sale record %s", ErrAccountMismatch, info.Key)
	}
	if info.Owner != ctx.ProgramID() {
		return SaleState{}, ErrNotInitialized
	}
	return UnmarshalSaleState(info.Data)
}

// initialize accounts: [0] admin (signer, writable), [1] sale record
// (writable), [2] admin token account (writable), [3] escrow (writable),
// [4] mint, [5] token program, [6] system program.
func (p *Program) initialize(ctx svm.InvokeContext, rate, deposit uint64) error {
	infos, err := accountsOf(ctx, 5)
	if err != nil {
		return err
	}
	admin, record, adminTokens, escrow, mint := infos[0], infos[1], infos[2], infos[3], infos[4]
	if err := requireSigner(admin); err != nil {
		return err
	}

	var existing *SaleState
	if s, err := p.loadState(ctx, record); err == nil {
		existing = &s
	} else if record.Key != p.m.addrs.State {
		return err
	}

	if mint.Key != p.m.cfg.Mint || mint.Owner != types.TokenProgramAddr {
		return fmt.Errorf("%w: mint %s", ErrAccountMismatch, mint.Key)
	}
	mintState, err := token.UnmarshalMint(mint.Data)
	if err != nil {
		return fmt.Errorf("%w: mint: %v", ErrAccountMismatch, err)
	}

	next, err := p.m.Initialize(&cpiLedger{ctx: ctx, mint: p.m.cfg.Mint}, existing, InitializeRequest{
		Admin:             admin.Key,
		AdminTokenAccount: adminTokens.Key,
		Escrow:            escrow.Key,
		Rate:              rate,
		Deposit:           deposit,
		Decimals:          mintState.Decimals,
		StateBump:         p.m.addrs.StateBump,
	})
	if err != nil {
		return err
	}

	seeds := pda.WithBump(stateSeeds(p.m.cfg), p.m.addrs.StateBump)
	if err := createOwned(ctx, admin.Key, record, StateSize, ctx.ProgramID(), seeds); err != nil {
		return fmt.Errorf("allocate sale record: %w", err)
	}
	copy(record.Data, next.Marshal())

	ctx.Log(fmt.Sprintf("Program initiated with %d tokens per lamport and deposit %d tokens", rate, deposit))
	log.Sale.Info().
		Str("admin", admin.Key.String()).
		Str("escrow", escrow.Key.String()).
		Uint64("rate", rate).
		Uint64("deposit", deposit).
		Msg("sale initialized")
	return nil
}

// createOwned allocates target for owner, signing for it with seeds. A
// target that already holds lamports but no data is topped up to the rent
// minimum, then allocated and assigned, so lamports sent to a derived address
// ahead of time cannot block its creation.
func createOwned(ctx svm.InvokeContext, payer types.Pubkey, target *svm.AccountInfo, space uint64, owner types.Pubkey, seeds [][]byte) error {
	rent := ctx.GetRentMinimum(space)
	if target.Lamports == 0 {
		return ctx.Invoke(system.CreateAccount(payer, target.Key, rent, space, owner), seeds)
	}
	if target.Lamports < rent {
		if err := ctx.Invoke(system.Transfer(payer, target.Key, rent-target.Lamports)); err != nil {
			return err
		}
	}
	if err := ctx.Invoke(system.Allocate(target.Key, space), seeds); err != nil {
		return err
	}
	return ctx.Invoke(system.Assign(target.Key, owner), seeds)
}

// update runs the operations that modify an existing record.
//
//	deposit, withdraw: [0] admin (signer), [1] sale record (writable),
//	    [2] admin token account (writable), [3] escrow (writable)
//	buy: [0] buyer (signer, writable), [1] admin (writable),
//	    [2] sale record (writable), [3] buyer token account (writable),
//	    [4] escrow (writable)
//	reprice: [0] admin (signer), [1] sale record (writable)
func (p *Program) update(ctx svm.InvokeContext, op uint8, amount uint64) error {
	n := map[uint8]int{InstructionDeposit: 4, InstructionWithdraw: 4, InstructionBuy: 5, InstructionReprice: 2}[op]
	infos, err := accountsOf(ctx, n)
	if err != nil {
		return err
	}
	caller := infos[0]
	if err := requireSigner(caller); err != nil {
		return err
	}

	recordIdx := 1
	if op == InstructionBuy {
		recordIdx = 2
	}
	record := infos[recordIdx]
	s, err := p.loadState(ctx, record)
	if err != nil {
		return err
	}
	if !record.IsWritable {
		return fmt.Errorf("%w: sale record", svm.ErrAccountNotWritable)
	}

	ledger := &cpiLedger{ctx: ctx, mint: p.m.cfg.Mint}
	var next SaleState
	switch op {
	case InstructionDeposit:
		next, err = p.m.Deposit(ledger, s, DepositRequest{
			Caller: caller.Key, CallerTokenAccount: infos[2].Key, Escrow: infos[3].Key, Amount: amount,
		})
	case InstructionWithdraw:
		next, err = p.m.Withdraw(ledger, s, WithdrawRequest{
			Caller: caller.Key, CallerTokenAccount: infos[2].Key, Escrow: infos[3].Key, Amount: amount,
		})
	case InstructionBuy:
		if infos[1].Key != s.Admin {
			return fmt.Errorf("%w: payee %s is not the sale admin", ErrAccountMismatch, infos[1].Key)
		}
		next, err = p.m.Buy(ledger, s, BuyRequest{
			Caller: caller.Key, CallerTokenAccount: infos[3].Key, Escrow: infos[4].Key, Payment: amount,
		})
	case InstructionReprice:
		next, err = p.m.Reprice(s, RepriceRequest{Caller: caller.Key, Rate: amount})
	}
	if err != nil {
		return err
	}

	copy(record.Data, next.Marshal())
	return nil
}

// cpiLedger implements Ledger with nested invocations of the native
// programs. Every account it names must be part of the current instruction.
type cpiLedger struct {
	ctx  svm.InvokeContext
	mint types.Pubkey
}

func (l *cpiLedger) TransferTokens(from, to, authority types.Pubkey, seeds SignerSeeds, amount uint64) error {
	ix := token.Transfer(from, to, authority, amount)
	if seeds != nil {
		return l.ctx.Invoke(ix, seeds)
	}
	return l.ctx.Invoke(ix)
}

func (l *cpiLedger) TransferLamports(from, to types.Pubkey, amount uint64) error {
	return l.ctx.Invoke(system.Transfer(from, to, amount))
}

func (l *cpiLedger) Lamports(account types.Pubkey) (uint64, error) {
	info, err := l.account(account)
	if err != nil {
		return 0, err
	}
	return info.Lamports, nil
}

func (l *cpiLedger) account(key types.Pubkey) (*svm.AccountInfo, error) {
	for i := 0; i < l.ctx.NumAccounts(); i++ {
		info, err := l.ctx.GetAccount(i)
		if err != nil {
			return nil, err
		}
		if info.Key == key {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %s not in instruction", ErrAccountMismatch, key)
}

// OpenEscrow allocates the escrow token account at the authority's address
// and makes the authority its owner.
func (l *cpiLedger) OpenEscrow(authority EscrowAuthority, payer types.Pubkey) error {
	escrow, err := l.account(authority.Address)
	if err != nil {
		return err
	}
	if err := createOwned(l.ctx, payer, escrow, token.AccountSize, types.TokenProgramAddr, authority.Sign()); err != nil {
		return err
	}
	return l.ctx.Invoke(token.InitializeAccount(authority.Address, l.mint, authority.Address))
}
