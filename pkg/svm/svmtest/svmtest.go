// Package svmtest provides an in-memory InvokeContext for unit testing
// programs without a runtime.
package svmtest

import (
	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

// Invocation records one call made through Context.Invoke.
type Invocation struct {
	Instruction svm.Instruction
	SignerSeeds [][][]byte
}

// Context is a fake svm.InvokeContext. Invoke records the call and then
// delegates to OnInvoke when set.
type Context struct {
	Program  types.Pubkey
	Accounts []*svm.AccountInfo
	Meter    *svm.ComputeMeter
	Logs     []string
	Invoked  []Invocation
	OnInvoke func(ix svm.Instruction, signerSeeds [][][]byte) error
}

// New returns a context for program with the given accounts.
func New(program types.Pubkey, infos ...*svm.AccountInfo) *Context {
	return &Context{
		Program:  program,
		Accounts: infos,
		Meter:    svm.NewComputeMeter(svm.CUMax),
	}
}

// Wallet returns a system-owned account info holding lamports.
func Wallet(key types.Pubkey, lamports uint64, signer bool) *svm.AccountInfo {
	return &svm.AccountInfo{
		Key:        key,
		IsSigner:   signer,
		IsWritable: true,
		Account:    &accounts.Account{Lamports: lamports, Owner: types.SystemProgramAddr},
	}
}

// Owned returns a writable account owned by owner holding data.
func Owned(key, owner types.Pubkey, data []byte) *svm.AccountInfo {
	return &svm.AccountInfo{
		Key:        key,
		IsWritable: true,
		Account: &accounts.Account{
			Lamports: svm.RentExemptMinimum(uint64(len(data))),
			Owner:    owner,
			Data:     data,
		},
	}
}

// Key returns a deterministic test pubkey filled with b.
func Key(b byte) types.Pubkey {
	var k types.Pubkey
	for i := range k {
		k[i] = b
	}
	return k
}

func (c *Context) ProgramID() types.Pubkey { return c.Program }

func (c *Context) NumAccounts() int { return len(c.Accounts) }

func (c *Context) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(c.Accounts) {
		return nil, svm.ErrNotEnoughAccountKeys
	}
	return c.Accounts[index], nil
}

func (c *Context) GetRentMinimum(dataLen uint64) uint64 {
	return svm.RentExemptMinimum(dataLen)
}

func (c *Context) ConsumeCU(cost uint64) error { return c.Meter.Consume(cost) }

func (c *Context) Log(msg string) { c.Logs = append(c.Logs, msg) }

func (c *Context) Invoke(ix svm.Instruction, signerSeeds ...[][]byte) error {
	c.Invoked = append(c.Invoked, Invocation{Instruction: ix, SignerSeeds: signerSeeds})
	if c.OnInvoke != nil {
		return c.OnInvoke(ix, signerSeeds)
	}
	return nil
}

var _ svm.InvokeContext = (*Context)(nil)
