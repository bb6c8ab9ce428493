// Package runtime executes transactions against an accounts.DB.
//
// Each transaction runs against private copies of its accounts. Programs
// may invoke other programs; every frame is checked on exit for ownership,
// writability and lamport conservation violations. Nothing is written to the
// database unless every instruction succeeds, and then every modified
// account is written in one batch.
package runtime

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/fortiblox/stratus-ico/internal/log"
	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

// Errors.
var (
	ErrCallDepth             = errors.New("max invoke depth exceeded")
	ErrReentrancy            = errors.New("cross-program reentrancy not allowed")
	ErrPrivilegeEscalation   = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrInvalidSeeds          = errors.New("signer seeds do not derive a program address")
	ErrMissingAccount        = errors.New("invoked account is not part of the calling instruction")
	ErrReadonlyModified      = errors.New("instruction modified a readonly account")
	ErrExternalDataModified  = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend  = errors.New("instruction spent lamports of an account it does not own")
	ErrModifiedProgramID     = errors.New("instruction illegally changed an account's owner")
	ErrExecutableModified    = errors.New("instruction changed an account's executable flag")
	ErrUnbalancedInstruction = errors.New("sum of account balances before and after instruction do not match")
)

// InstructionError reports which top-level instruction failed.
type InstructionError struct {
	Index int
	Err   error
}

func (e *InstructionError) Error() string {
	return fmt.Sprintf("instruction %d: %v", e.Index, e.Err)
}

func (e *InstructionError) Unwrap() error {
	return e.Err
}

// Config holds executor configuration.
type Config struct {
	// ComputeLimit is the compute budget of one transaction. Zero means
	// svm.CUDefault.
	ComputeLimit uint64

	// SkipSignatureVerification disables ed25519 checks. Only simulation
	// should set it.
	SkipSignatureVerification bool
}

// Result is the outcome of one transaction.
type Result struct {
	Signature types.Signature
	// Slot is the slot the transaction committed at, or the current slot
	// when it failed or was simulated.
	Slot                 uint64
	Err                  error
	Logs                 []string
	ComputeUnitsConsumed uint64
	ModifiedAccounts     []types.Pubkey

	// PreBalances and PostBalances hold lamports per message account key.
	PreBalances  []uint64
	PostBalances []uint64

	// Accounts is the post-execution state of every loaded account, keyed
	// like the message. After a failure it shows how far execution got.
	Accounts []*accounts.Account
}

// Success reports whether the transaction succeeded.
func (r *Result) Success() bool {
	return r.Err == nil
}

// Executor runs transactions one at a time.
type Executor struct {
	mu       sync.Mutex
	db       accounts.DB
	programs map[types.Pubkey]svm.Program
	config   Config
}

// NewExecutor creates an executor over db with the given programs.
func NewExecutor(db accounts.DB, config Config, programs ...svm.Program) *Executor {
	e := &Executor{
		db:       db,
		programs: make(map[types.Pubkey]svm.Program),
		config:   config,
	}
	for _, p := range programs {
		e.Register(p)
	}
	return e
}

// Register adds or replaces a program.
func (e *Executor) Register(p svm.Program) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs[p.ID()] = p
}

// Slot returns the database's current slot.
func (e *Executor) Slot() uint64 {
	return e.db.Slot()
}

// Execute runs tx and commits its effects. A failed transaction is reported
// in Result.Err and changes nothing; the returned error is reserved for
// storage failures.
func (e *Executor) Execute(tx *Transaction) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, loaded := e.run(tx, !e.config.SkipSignatureVerification)
	if res.Err != nil {
		log.Runtime.Debug().
			Str("signature", res.Signature.String()).
			Err(res.Err).
			Msg("transaction failed")
		return res, nil
	}

	var entries []accounts.Entry
	for _, la := range loaded {
		if !la.writable || !la.changed() {
			continue
		}
		entries = append(entries, accounts.Entry{Pubkey: la.key, Account: la.account.Clone()})
		res.ModifiedAccounts = append(res.ModifiedAccounts, la.key)
	}
	slot := e.db.Slot() + 1
	if err := e.db.SetAccounts(entries, slot); err != nil {
		return nil, fmt.Errorf("commit transaction %s: %w", res.Signature, err)
	}
	res.Slot = slot

	log.Runtime.Debug().
		Str("signature", res.Signature.String()).
		Uint64("slot", slot).
		Int("modified", len(entries)).
		Uint64("cu", res.ComputeUnitsConsumed).
		Msg("transaction committed")
	return res, nil
}

// Simulate runs tx without committing. Signatures are checked only when
// verify is set.
func (e *Executor) Simulate(tx *Transaction, verify bool) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, _ := e.run(tx, verify)
	return res
}

// loadedAccount is a transaction-private copy of one account.
type loadedAccount struct {
	key      types.Pubkey
	account  *accounts.Account
	original *accounts.Account
	signer   bool
	writable bool
}

func (la *loadedAccount) changed() bool {
	a, o := la.account, la.original
	return a.Lamports != o.Lamports || a.Owner != o.Owner || a.Executable != o.Executable ||
		a.RentEpoch != o.RentEpoch || !bytes.Equal(a.Data, o.Data)
}

func (e *Executor) run(tx *Transaction, verify bool) (*Result, []*loadedAccount) {
	res := &Result{Signature: tx.Signature(), Slot: e.db.Slot()}
	msg := &tx.Message

	if err := msg.Validate(); err != nil {
		res.Err = err
		return res, nil
	}
	if verify {
		if err := tx.VerifySignatures(); err != nil {
			res.Err = err
			return res, nil
		}
	}

	loaded, err := e.load(msg)
	if err != nil {
		res.Err = err
		return res, nil
	}
	res.PreBalances = balances(loaded)

	tc := &txContext{
		exec:     e,
		accounts: make(map[types.Pubkey]*loadedAccount, len(loaded)),
		meter:    svm.NewComputeMeter(e.config.ComputeLimit),
	}
	for _, la := range loaded {
		tc.accounts[la.key] = la
	}

	for i := range msg.Instructions {
		ix, err := msg.Instruction(i)
		if err == nil {
			err = tc.processTopLevel(ix)
		}
		if err != nil {
			res.Err = &InstructionError{Index: i, Err: err}
			break
		}
	}

	res.Logs = tc.logs
	res.ComputeUnitsConsumed = tc.meter.Consumed()
	res.PostBalances = balances(loaded)
	res.Accounts = make([]*accounts.Account, len(loaded))
	for i, la := range loaded {
		res.Accounts[i] = la.account.Clone()
	}
	return res, loaded
}

func (e *Executor) load(msg *Message) ([]*loadedAccount, error) {
	loaded := make([]*loadedAccount, len(msg.AccountKeys))
	for i, key := range msg.AccountKeys {
		acct, err := e.db.GetAccount(key)
		switch {
		case errors.Is(err, accounts.ErrAccountNotFound):
			acct = &accounts.Account{Owner: types.SystemProgramAddr}
		case err != nil:
			return nil, fmt.Errorf("load account %s: %w", key, err)
		default:
			acct = acct.Clone()
		}
		loaded[i] = &loadedAccount{
			key:      key,
			account:  acct,
			original: acct.Clone(),
			signer:   msg.IsSigner(i),
			writable: msg.IsWritable(i),
		}
	}
	return loaded, nil
}

func balances(loaded []*loadedAccount) []uint64 {
	out := make([]uint64, len(loaded))
	for i, la := range loaded {
		out[i] = la.account.Lamports
	}
	return out
}
