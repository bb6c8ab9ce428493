// Package saletest builds a funded in-memory ledger with a running sale
// program for end-to-end tests.
package saletest

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/ico"
	"github.com/fortiblox/stratus-ico/pkg/runtime"
	"github.com/fortiblox/stratus-ico/pkg/svm"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/associated"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/token"
)

// Genesis balances.
const (
	AdminLamports = 10_000_000_000
	BuyerLamports = 5_000_000_000
	AdminTokens   = 1_000_000
	Decimals      = 6
)

// Keypair is a deterministic test identity.
type Keypair struct {
	Private ed25519.PrivateKey
	Pubkey  types.Pubkey
}

// NewKeypair derives a keypair from a one-byte seed.
func NewKeypair(seed byte) Keypair {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	var pub types.Pubkey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return Keypair{Private: priv, Pubkey: pub}
}

// Ledger is a funded ledger: an admin holding AdminTokens of a fresh mint, a
// buyer with lamports and an empty token account, and the sale program
// registered for that mint.
type Ledger struct {
	t testing.TB

	DB    accounts.DB
	Exec  *runtime.Executor
	Sale  *ico.Program
	Addrs ico.Addresses

	Admin         Keypair
	Buyer         Keypair
	MintAuthority Keypair
	Mint          types.Pubkey

	AdminTokenAccount types.Pubkey
	BuyerTokenAccount types.Pubkey

	nonce uint64
}

// New builds a ledger over a fresh MemoryDB.
func New(t testing.TB) *Ledger {
	t.Helper()
	return NewWithDB(t, accounts.NewMemoryDB())
}

// NewWithDB builds the ledger's genesis into db.
func NewWithDB(t testing.TB, db accounts.DB) *Ledger {
	t.Helper()
	l := &Ledger{
		t:             t,
		DB:            db,
		Admin:         NewKeypair(0xA0),
		Buyer:         NewKeypair(0xB0),
		MintAuthority: NewKeypair(0xC0),
		Mint:          NewKeypair(0x33).Pubkey,
	}

	m, err := ico.NewMachine(ico.Config{ProgramID: types.SaleProgramAddr, Mint: l.Mint})
	require.NoError(t, err)
	l.Sale = ico.NewProgram(m)
	l.Addrs = m.Addresses()
	l.Exec = runtime.NewExecutor(db, runtime.Config{},
		system.New(), token.New(), associated.New(), l.Sale)

	l.AdminTokenAccount, err = associated.Address(l.Admin.Pubkey, l.Mint)
	require.NoError(t, err)
	l.BuyerTokenAccount, err = associated.Address(l.Buyer.Pubkey, l.Mint)
	require.NoError(t, err)

	authority := l.MintAuthority.Pubkey
	entries := []accounts.Entry{
		{Pubkey: l.Admin.Pubkey, Account: &accounts.Account{Lamports: AdminLamports, Owner: types.SystemProgramAddr}},
		{Pubkey: l.Buyer.Pubkey, Account: &accounts.Account{Lamports: BuyerLamports, Owner: types.SystemProgramAddr}},
		{Pubkey: l.Mint, Account: token.NewMintAccount(&token.Mint{
			MintAuthority: &authority, Supply: AdminTokens, Decimals: Decimals, IsInitialized: true,
		})},
		{Pubkey: l.AdminTokenAccount, Account: token.NewTokenAccount(&token.Account{
			Mint: l.Mint, Owner: l.Admin.Pubkey, Amount: AdminTokens, State: token.AccountStateInitialized,
		})},
		{Pubkey: l.BuyerTokenAccount, Account: token.NewTokenAccount(&token.Account{
			Mint: l.Mint, Owner: l.Buyer.Pubkey, State: token.AccountStateInitialized,
		})},
	}
	require.NoError(t, db.SetAccounts(entries, 0))
	return l
}

// Transaction builds and signs a transaction. The first signer pays.
func (l *Ledger) Transaction(ixs []svm.Instruction, signers ...Keypair) *runtime.Transaction {
	l.t.Helper()
	require.NotEmpty(l.t, signers, "a transaction needs a fee payer")

	l.nonce++
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], l.nonce)
	tx, err := runtime.NewTransaction(signers[0].Pubkey, ixs, types.ComputeHash(n[:]))
	require.NoError(l.t, err)

	keys := make([]ed25519.PrivateKey, len(signers))
	for i, s := range signers {
		keys[i] = s.Private
	}
	require.NoError(l.t, tx.Sign(keys...))
	return tx
}

// Send executes ixs signed by signers.
func (l *Ledger) Send(ixs []svm.Instruction, signers ...Keypair) *runtime.Result {
	l.t.Helper()
	res, err := l.Exec.Execute(l.Transaction(ixs, signers...))
	require.NoError(l.t, err)
	return res
}

// Initialize starts the sale from the admin's token account.
func (l *Ledger) Initialize(rate, deposit uint64) *runtime.Result {
	return l.Send([]svm.Instruction{l.Addrs.Initialize(l.Admin.Pubkey, l.AdminTokenAccount, rate, deposit)}, l.Admin)
}

// Buy purchases tokens for the buyer.
func (l *Ledger) Buy(payment uint64) *runtime.Result {
	return l.Send([]svm.Instruction{l.Addrs.Buy(l.Buyer.Pubkey, l.Admin.Pubkey, l.BuyerTokenAccount, payment)}, l.Buyer)
}

// State returns the sale record.
func (l *Ledger) State() (ico.SaleState, error) {
	acct, err := l.DB.GetAccount(l.Addrs.State)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return ico.SaleState{}, ico.ErrNotInitialized
	}
	if err != nil {
		return ico.SaleState{}, err
	}
	return ico.UnmarshalSaleState(acct.Data)
}

// Lamports returns the balance of key, zero when absent.
func (l *Ledger) Lamports(key types.Pubkey) uint64 {
	acct, err := l.DB.GetAccount(key)
	if err != nil {
		return 0
	}
	return acct.Lamports
}

// Tokens returns the balance of a token account, zero when absent.
func (l *Ledger) Tokens(key types.Pubkey) uint64 {
	acct, err := l.DB.GetAccount(key)
	if err != nil {
		return 0
	}
	ta, err := token.UnmarshalAccount(acct.Data)
	if err != nil {
		return 0
	}
	return ta.Amount
}
