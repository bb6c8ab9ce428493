package runtime

import (
	"bytes"
	"fmt"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/pda"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

// txContext is the state shared by every frame of one transaction.
type txContext struct {
	exec     *Executor
	accounts map[types.Pubkey]*loadedAccount
	meter    *svm.ComputeMeter
	logs     []string
	stack    []types.Pubkey

	// aborted holds the first failed nested call. A program that ignores
	// the error still fails the transaction.
	aborted error
}

// snapshot is an account as a frame first saw it.
type snapshot struct {
	lamports   uint64
	owner      types.Pubkey
	executable bool
	data       []byte
}

func snapshotOf(a *accounts.Account) snapshot {
	return snapshot{
		lamports:   a.Lamports,
		owner:      a.Owner,
		executable: a.Executable,
		data:       append([]byte(nil), a.Data...),
	}
}

// frame is one program invocation. It implements svm.InvokeContext.
type frame struct {
	tx      *txContext
	program types.Pubkey
	infos   []*svm.AccountInfo

	// keys lists the frame's distinct accounts; pre holds their state at
	// frame entry or after the last successful nested call.
	keys []types.Pubkey
	pre  map[types.Pubkey]snapshot
	// writable and signer merge duplicate metas.
	writable map[types.Pubkey]bool
	signer   map[types.Pubkey]bool
}

func (tc *txContext) processTopLevel(ix svm.Instruction) error {
	infos := make([]*svm.AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		la := tc.accounts[meta.Pubkey]
		infos[i] = &svm.AccountInfo{
			Key:        meta.Pubkey,
			IsSigner:   la.signer,
			IsWritable: la.writable,
			Account:    la.account,
		}
	}
	if err := tc.call(ix, infos); err != nil {
		return err
	}
	return tc.aborted
}

// call runs ix in a new frame and verifies the frame on success.
func (tc *txContext) call(ix svm.Instruction, infos []*svm.AccountInfo) error {
	prog, ok := tc.exec.programs[ix.ProgramID]
	if !ok {
		return fmt.Errorf("%w: %s", svm.ErrUnknownProgram, ix.ProgramID)
	}
	if len(tc.stack) >= svm.MaxInvokeDepth {
		return fmt.Errorf("%w: %d", ErrCallDepth, len(tc.stack)+1)
	}
	if n := len(tc.stack); n > 0 && tc.stack[n-1] != ix.ProgramID {
		for _, id := range tc.stack {
			if id == ix.ProgramID {
				return fmt.Errorf("%w: %s", ErrReentrancy, ix.ProgramID)
			}
		}
	}

	f := &frame{
		tx:       tc,
		program:  ix.ProgramID,
		infos:    infos,
		pre:      make(map[types.Pubkey]snapshot, len(infos)),
		writable: make(map[types.Pubkey]bool, len(infos)),
		signer:   make(map[types.Pubkey]bool, len(infos)),
	}
	for _, info := range infos {
		if _, seen := f.pre[info.Key]; !seen {
			f.keys = append(f.keys, info.Key)
			f.pre[info.Key] = snapshotOf(info.Account)
		}
		f.writable[info.Key] = f.writable[info.Key] || info.IsWritable
		f.signer[info.Key] = f.signer[info.Key] || info.IsSigner
	}

	tc.stack = append(tc.stack, ix.ProgramID)
	depth := len(tc.stack)
	tc.logs = append(tc.logs, fmt.Sprintf("Program %s invoke [%d]", ix.ProgramID, depth))
	before := tc.meter.Consumed()

	err := prog.Process(f, ix.Data)
	if err == nil {
		err = f.verify()
	}
	tc.stack = tc.stack[:len(tc.stack)-1]

	used := tc.meter.Consumed() - before
	if err != nil {
		tc.logs = append(tc.logs, fmt.Sprintf("Program %s consumed %d compute units", ix.ProgramID, used))
		tc.logs = append(tc.logs, fmt.Sprintf("Program %s failed: %v", ix.ProgramID, err))
		return err
	}
	tc.logs = append(tc.logs, fmt.Sprintf("Program %s consumed %d compute units", ix.ProgramID, used))
	tc.logs = append(tc.logs, fmt.Sprintf("Program %s success", ix.ProgramID))
	return nil
}

// verify checks every change the frame's program made since pre was taken.
func (f *frame) verify() error {
	var before, after uint64
	for _, key := range f.keys {
		pre := f.pre[key]
		post := f.tx.accounts[key].account
		before += pre.lamports
		after += post.Lamports

		dataChanged := !bytes.Equal(pre.data, post.Data)
		changed := dataChanged || pre.lamports != post.Lamports || pre.owner != post.Owner || pre.executable != post.Executable
		if !changed {
			continue
		}
		if !f.writable[key] {
			return fmt.Errorf("%w: %s", ErrReadonlyModified, key)
		}
		if pre.executable != post.Executable {
			return fmt.Errorf("%w: %s", ErrExecutableModified, key)
		}
		owned := pre.owner == f.program
		if pre.owner != post.Owner && (!owned || !isZeroed(post.Data)) {
			return fmt.Errorf("%w: %s", ErrModifiedProgramID, key)
		}
		if dataChanged && !owned {
			return fmt.Errorf("%w: %s", ErrExternalDataModified, key)
		}
		if post.Lamports < pre.lamports && !owned {
			return fmt.Errorf("%w: %s", ErrExternalLamportSpend, key)
		}
	}
	if before != after {
		return fmt.Errorf("%w: %d before, %d after", ErrUnbalancedInstruction, before, after)
	}
	return nil
}

func (f *frame) resnapshot() {
	for _, key := range f.keys {
		f.pre[key] = snapshotOf(f.tx.accounts[key].account)
	}
}

func isZeroed(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func (f *frame) ProgramID() types.Pubkey {
	return f.program
}

func (f *frame) NumAccounts() int {
	return len(f.infos)
}

func (f *frame) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(f.infos) {
		return nil, svm.ErrNotEnoughAccountKeys
	}
	return f.infos[index], nil
}

func (f *frame) GetRentMinimum(dataLen uint64) uint64 {
	return svm.RentExemptMinimum(dataLen)
}

func (f *frame) ConsumeCU(cost uint64) error {
	return f.tx.meter.Consume(cost)
}

func (f *frame) Log(msg string) {
	f.tx.logs = append(f.tx.logs, "Program log: "+msg)
}

// Invoke runs a nested instruction. The callee may sign only for accounts
// the caller could sign for, or for addresses derived from signerSeeds under
// the caller's program id. It may write only accounts writable here.
func (f *frame) Invoke(ix svm.Instruction, signerSeeds ...[][]byte) error {
	if err := f.ConsumeCU(svm.CUInvokeBase); err != nil {
		return err
	}

	derived := make(map[types.Pubkey]bool, len(signerSeeds))
	for _, seeds := range signerSeeds {
		if err := f.ConsumeCU(svm.CUCreateProgramAddress); err != nil {
			return err
		}
		addr, err := pda.CreateProgramAddress(seeds, f.program)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSeeds, err)
		}
		derived[addr] = true
	}

	infos := make([]*svm.AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		if _, ok := f.pre[meta.Pubkey]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingAccount, meta.Pubkey)
		}
		if meta.IsSigner && !f.signer[meta.Pubkey] && !derived[meta.Pubkey] {
			return fmt.Errorf("%w: %s must sign", ErrPrivilegeEscalation, meta.Pubkey)
		}
		if meta.IsWritable && !f.writable[meta.Pubkey] {
			return fmt.Errorf("%w: %s is readonly", ErrPrivilegeEscalation, meta.Pubkey)
		}
		infos[i] = &svm.AccountInfo{
			Key:        meta.Pubkey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			Account:    f.tx.accounts[meta.Pubkey].account,
		}
	}

	// The caller's own changes must be legal before the callee sees them.
	if err := f.verify(); err != nil {
		return err
	}
	if err := f.tx.call(ix, infos); err != nil {
		if f.tx.aborted == nil {
			f.tx.aborted = err
		}
		return err
	}
	f.resnapshot()
	return nil
}

var _ svm.InvokeContext = (*frame)(nil)
