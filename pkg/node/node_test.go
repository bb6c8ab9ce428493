package node

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-ico/internal/saletest"
	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/blockstore"
	"github.com/fortiblox/stratus-ico/pkg/dashboard"
	"github.com/fortiblox/stratus-ico/pkg/ico"
	"github.com/fortiblox/stratus-ico/pkg/rpc"
	"github.com/fortiblox/stratus-ico/pkg/runtime"
	"github.com/fortiblox/stratus-ico/pkg/svm"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/associated"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/token"
)

var (
	admin     = saletest.NewKeypair(0xA0)
	buyer     = saletest.NewKeypair(0xB0)
	mint      = saletest.NewKeypair(0x33).Pubkey
	authority = saletest.NewKeypair(0xC0).Pubkey
)

const (
	adminLamports = 10_000_000_000
	buyerLamports = 5_000_000_000
	adminTokens   = 1_000_000
)

// testConfig returns an in-memory node config with a funded admin and
// buyer and one mint held by the admin.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.InMemory = true
	cfg.RPC.Enabled = false
	cfg.Blockstore.NoSync = true
	cfg.Genesis = GenesisConfig{
		Accounts: []GenesisAccount{
			{Pubkey: admin.Pubkey, Lamports: adminLamports},
			{Pubkey: buyer.Pubkey, Lamports: buyerLamports},
		},
		Mints: []GenesisMint{{
			Address:   mint,
			Decimals:  6,
			Authority: &authority,
			Holders: []GenesisHolder{
				{Owner: admin.Pubkey, Amount: adminTokens},
				{Owner: buyer.Pubkey, Amount: 0},
			},
		}},
	}
	return &cfg
}

func startNode(t *testing.T, cfg *Config) *Node {
	t.Helper()
	n, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() {
		if n.running.Load() {
			n.Stop()
		}
	})
	return n
}

func ata(t *testing.T, owner types.Pubkey) types.Pubkey {
	t.Helper()
	addr, err := associated.Address(owner, mint)
	require.NoError(t, err)
	return addr
}

// signed builds a transaction on the node's latest blockhash.
func signed(t *testing.T, n *Node, ix svm.Instruction, signers ...saletest.Keypair) *runtime.Transaction {
	t.Helper()
	hash, _ := n.LatestBlockhash()
	tx, err := runtime.NewTransaction(signers[0].Pubkey, []svm.Instruction{ix}, hash)
	require.NoError(t, err)
	keys := make([]ed25519.PrivateKey, len(signers))
	for i, s := range signers {
		keys[i] = s.Private
	}
	require.NoError(t, tx.Sign(keys...))
	return tx
}

func send(t *testing.T, n *Node, ix svm.Instruction, signers ...saletest.Keypair) *blockstore.Transaction {
	t.Helper()
	record, err := n.SendTransaction(context.Background(), signed(t, n, ix, signers...))
	require.NoError(t, err)
	return record
}

func tokens(t *testing.T, n *Node, account types.Pubkey) uint64 {
	t.Helper()
	acct, err := n.GetAccount(account)
	require.NoError(t, err)
	ta, err := token.UnmarshalAccount(acct.Data)
	require.NoError(t, err)
	return ta.Amount
}

func addresses(t *testing.T, n *Node) ico.Addresses {
	t.Helper()
	addrs, err := n.Addresses()
	require.NoError(t, err)
	return addrs
}

func TestNewNode(t *testing.T) {
	n, err := New(testConfig())
	require.NoError(t, err)
	assert.Equal(t, mint, n.config.Sale.Mint, "the only genesis mint is sold by default")

	cfg := testConfig()
	cfg.Genesis.Mints = append(cfg.Genesis.Mints, GenesisMint{Address: saletest.NewKeypair(0x44).Pubkey})
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrConfigInvalid, "the mint must be chosen when genesis has several")

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestNodeLifecycle(t *testing.T) {
	n, err := New(testConfig())
	require.NoError(t, err)

	assert.ErrorIs(t, n.Stop(), ErrNotRunning)
	_, err = n.SendTransaction(context.Background(), &runtime.Transaction{})
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, n.Start(context.Background()))
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyRunning)

	status := n.Status()
	assert.True(t, status.IsRunning)
	assert.EqualValues(t, 0, status.CurrentSlot)
	assert.EqualValues(t, 5, status.AccountsCount)
	assert.Nil(t, status.SaleState)
	assert.False(t, status.Blockhash.IsZero())
	assert.Equal(t, addresses(t, n), status.Sale)

	require.NoError(t, n.Stop())
	assert.ErrorIs(t, n.Stop(), ErrNotRunning)
	assert.False(t, n.Status().IsRunning)
}

func TestSaleThroughNode(t *testing.T) {
	n := startNode(t, testConfig())
	addrs := addresses(t, n)

	_, err := n.SaleState()
	assert.ErrorIs(t, err, ico.ErrNotInitialized)

	// Initialize moves the deposit into escrow.
	initRec := send(t, n, addrs.Initialize(admin.Pubkey, ata(t, admin.Pubkey), 100, 500_000), admin)
	require.Nil(t, initRec.Meta.Err)
	assert.EqualValues(t, 1, initRec.Slot)

	state, err := n.SaleState()
	require.NoError(t, err)
	assert.EqualValues(t, 100, state.Rate)
	assert.EqualValues(t, 500_000, state.TokenBalance)
	assert.Equal(t, state.Digest(), initRec.Meta.SaleStateDigest)
	assert.EqualValues(t, 500_000, tokens(t, n, addrs.Escrow))

	// A successful buy.
	buyRec := send(t, n, addrs.Buy(buyer.Pubkey, admin.Pubkey, ata(t, buyer.Pubkey), 1000), buyer)
	require.Nil(t, buyRec.Meta.Err)
	assert.EqualValues(t, 100_000, tokens(t, n, ata(t, buyer.Pubkey)))
	state, err = n.SaleState()
	require.NoError(t, err)
	assert.EqualValues(t, 400_000, state.TokenBalance)
	assert.EqualValues(t, 100_000, state.TotalSold)
	assert.EqualValues(t, 1000, state.TotalReceived)
	digestAfterBuy := state.Digest()
	assert.Equal(t, digestAfterBuy, buyRec.Meta.SaleStateDigest)

	// A buy larger than the escrow is recorded as failed and changes nothing.
	tooLarge := signed(t, n, addrs.Buy(buyer.Pubkey, admin.Pubkey, ata(t, buyer.Pubkey), 10_000), buyer)
	failRec, err := n.SendTransaction(context.Background(), tooLarge)
	require.NoError(t, err)
	require.NotNil(t, failRec.Meta.Err)
	assert.EqualValues(t, 6004, failRec.Meta.Err.Code)
	assert.Equal(t, "InsufficientEscrowBalance", failRec.Meta.Err.Kind)
	assert.Equal(t, 0, failRec.Meta.Err.InstructionIndex)
	assert.Equal(t, digestAfterBuy, failRec.Meta.SaleStateDigest)
	assert.EqualValues(t, 2, failRec.Slot, "failed transactions do not advance the slot")

	stored, err := n.GetTransaction(tooLarge.Signature())
	require.NoError(t, err)
	assert.Equal(t, "InsufficientEscrowBalance", stored.Meta.Err.Kind)

	// Replays are rejected before execution.
	_, err = n.SendTransaction(context.Background(), tooLarge)
	assert.ErrorIs(t, err, blockstore.ErrDuplicateSignature)

	// Only the admin may reprice.
	repriceRec := send(t, n, addrs.Reprice(buyer.Pubkey, 5), buyer)
	require.NotNil(t, repriceRec.Meta.Err)
	assert.EqualValues(t, 6000, repriceRec.Meta.Err.Code)
	assert.Equal(t, "Unauthorized", repriceRec.Meta.Err.Kind)

	repriceRec = send(t, n, addrs.Reprice(admin.Pubkey, 5), admin)
	require.Nil(t, repriceRec.Meta.Err)
	state, err = n.SaleState()
	require.NoError(t, err)
	assert.EqualValues(t, 5, state.Rate)

	status := n.Status()
	assert.EqualValues(t, 3, status.TxsProcessed)
	assert.EqualValues(t, 2, status.TxsFailed)
	assert.EqualValues(t, 3, status.CurrentSlot)
	require.NotNil(t, status.SaleState)
	assert.EqualValues(t, 5, status.SaleState.Rate)

	history, err := n.GetSignaturesForAddress(buyer.Pubkey, nil)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, tooLarge.Signature(), history[1].Signature)
	assert.Equal(t, buyRec.Signature, history[2].Signature)
}

func TestRejectedBeforeExecution(t *testing.T) {
	n := startNode(t, testConfig())
	addrs := addresses(t, n)

	tx := signed(t, n, addrs.Initialize(admin.Pubkey, ata(t, admin.Pubkey), 100, 500_000), admin)
	tx.Signatures[0][0] ^= 0xFF
	_, err := n.SendTransaction(context.Background(), tx)
	assert.ErrorIs(t, err, runtime.ErrSignatureVerification)

	_, err = n.GetTransaction(tx.Signature())
	assert.ErrorIs(t, err, blockstore.ErrTransactionNotFound, "rejected transactions are not recorded")
	_, err = n.SaleState()
	assert.ErrorIs(t, err, ico.ErrNotInitialized)

	unsigned := signed(t, n, addrs.Reprice(admin.Pubkey, 5), admin)
	unsigned.Message.Header.NumRequiredSignatures = 0
	_, err = n.SendTransaction(context.Background(), unsigned)
	assert.ErrorIs(t, err, runtime.ErrInvalidMessage)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = n.SendTransaction(ctx, signed(t, n, addrs.Reprice(admin.Pubkey, 5), admin))
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestSimulateDoesNotCommit(t *testing.T) {
	n := startNode(t, testConfig())
	addrs := addresses(t, n)

	tx := signed(t, n, addrs.Initialize(admin.Pubkey, ata(t, admin.Pubkey), 100, 500_000), admin)
	record := n.SimulateTransaction(tx, true)
	require.Nil(t, record.Meta.Err)
	assert.False(t, record.Meta.SaleStateDigest.IsZero(), "simulation reports the resulting sale record")

	_, err := n.SaleState()
	assert.ErrorIs(t, err, ico.ErrNotInitialized)
	_, err = n.GetTransaction(tx.Signature())
	assert.ErrorIs(t, err, blockstore.ErrTransactionNotFound)
	_, slot := n.LatestBlockhash()
	assert.EqualValues(t, 0, slot)

	// The simulated transaction can still be sent.
	sent, err := n.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	require.Nil(t, sent.Meta.Err)
	assert.Equal(t, record.Meta.SaleStateDigest, sent.Meta.SaleStateDigest)
}

func TestBlockhashAdvances(t *testing.T) {
	n := startNode(t, testConfig())
	addrs := addresses(t, n)

	before, _ := n.LatestBlockhash()
	send(t, n, addrs.Reprice(admin.Pubkey, 5), admin) // fails: not initialized
	afterFailure, _ := n.LatestBlockhash()
	assert.Equal(t, before, afterFailure)

	send(t, n, addrs.Initialize(admin.Pubkey, ata(t, admin.Pubkey), 100, 1), admin)
	afterCommit, _ := n.LatestBlockhash()
	assert.NotEqual(t, before, afterCommit)
}

func TestAirdrop(t *testing.T) {
	cfg := testConfig()
	cfg.Faucet.Enabled = true
	cfg.Faucet.MaxLamports = 1_000_000
	n := startNode(t, cfg)

	faucet, ok := n.FaucetPubkey()
	require.True(t, ok)
	faucetAcct, err := n.GetAccount(faucet)
	require.NoError(t, err)
	assert.Equal(t, cfg.Faucet.Lamports, faucetAcct.Lamports)

	target := saletest.NewKeypair(0x77).Pubkey
	first, err := n.RequestAirdrop(context.Background(), target, 1000)
	require.NoError(t, err)
	second, err := n.RequestAirdrop(context.Background(), target, 1000)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	acct, err := n.GetAccount(target)
	require.NoError(t, err)
	assert.EqualValues(t, 2000, acct.Lamports)

	_, err = n.RequestAirdrop(context.Background(), target, 2_000_000)
	assert.ErrorIs(t, err, ErrAirdropTooLarge)
	_, err = n.RequestAirdrop(context.Background(), target, 0)
	assert.ErrorIs(t, err, ErrAirdropTooLarge)

	disabled := startNode(t, testConfig())
	_, err = disabled.RequestAirdrop(context.Background(), target, 1)
	assert.ErrorIs(t, err, ErrFaucetDisabled)
}

func TestPersistentRestart(t *testing.T) {
	cfg := testConfig()
	cfg.InMemory = false
	cfg.DataDir = t.TempDir()
	cfg.Faucet.Enabled = true

	n := startNode(t, cfg)
	addrs := addresses(t, n)
	faucet, _ := n.FaucetPubkey()
	initTx := signed(t, n, addrs.Initialize(admin.Pubkey, ata(t, admin.Pubkey), 100, 500_000), admin)
	record, err := n.SendTransaction(context.Background(), initTx)
	require.NoError(t, err)
	require.Nil(t, record.Meta.Err)
	adminAfterInit, err := n.GetAccount(admin.Pubkey)
	require.NoError(t, err)
	require.NoError(t, n.Stop())

	restarted := startNode(t, cfg)
	state, err := restarted.SaleState()
	require.NoError(t, err)
	assert.EqualValues(t, 100, state.Rate)

	acct, err := restarted.GetAccount(admin.Pubkey)
	require.NoError(t, err)
	assert.Equal(t, adminAfterInit.Lamports, acct.Lamports, "genesis is not applied twice")

	reloaded, _ := restarted.FaucetPubkey()
	assert.Equal(t, faucet, reloaded, "the faucet key is kept in the data directory")

	_, err = restarted.SendTransaction(context.Background(), initTx)
	assert.ErrorIs(t, err, blockstore.ErrDuplicateSignature)
}

func TestSnapshotBootstrap(t *testing.T) {
	source := startNode(t, testConfig())
	addrs := addresses(t, source)
	send(t, source, addrs.Initialize(admin.Pubkey, ata(t, admin.Pubkey), 100, 500_000), admin)
	send(t, source, addrs.Buy(buyer.Pubkey, admin.Pubkey, ata(t, buyer.Pubkey), 10), buyer)

	path, header, err := source.Snapshot(t.TempDir())
	require.NoError(t, err)
	assert.EqualValues(t, 2, header.Slot)

	cfg := testConfig()
	cfg.SnapshotPath = path
	restored := startNode(t, cfg)

	want, err := source.SaleState()
	require.NoError(t, err)
	got, err := restored.SaleState()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	hash, _, err := accounts.ComputeAccountsHash(restored.accounts)
	require.NoError(t, err)
	assert.Equal(t, header.AccountsHash, hash)
	_, slot := restored.LatestBlockhash()
	assert.EqualValues(t, 2, slot)
}

func TestNodeRPC(t *testing.T) {
	cfg := testConfig()
	cfg.RPC.Enabled = true
	cfg.RPC.Addr = "127.0.0.1:0"
	n := startNode(t, cfg)

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = n.RPCAddr()
		return addr != nil
	}, 5*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	client := rpc.NewClient(fmt.Sprintf("http://%s", addr), 5*time.Second)
	require.NoError(t, client.GetHealth(ctx))

	state, err := client.GetSaleState(ctx)
	require.NoError(t, err)
	assert.Nil(t, state)

	addrs, err := client.GetSaleAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, addresses(t, n), addrs)

	hash, err := client.GetLatestBlockhash(ctx)
	require.NoError(t, err)
	tx, err := runtime.NewTransaction(admin.Pubkey,
		[]svm.Instruction{addrs.Initialize(admin.Pubkey, ata(t, admin.Pubkey), 100, 500_000)}, hash)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(admin.Private))

	sig, err := client.SendTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Signature(), sig)

	state, err = client.GetSaleState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.EqualValues(t, 500_000, state.TokenBalance)

	txn, err := client.GetTransaction(ctx, sig)
	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Equal(t, state.Digest, txn.Meta.SaleStateDigest)

	hash, err = client.GetLatestBlockhash(ctx)
	require.NoError(t, err)
	buy, err := runtime.NewTransaction(buyer.Pubkey,
		[]svm.Instruction{addrs.Buy(buyer.Pubkey, admin.Pubkey, ata(t, buyer.Pubkey), 1_000_000)}, hash)
	require.NoError(t, err)
	require.NoError(t, buy.Sign(buyer.Private))

	_, err = client.SendTransaction(ctx, buy)
	data, ok := rpc.TransactionErrorOf(err)
	require.True(t, ok, "expected a transaction failure, got %v", err)
	assert.EqualValues(t, 6004, data.Code)
	assert.Equal(t, "InsufficientEscrowBalance", data.Kind)
}

func TestNodeDashboard(t *testing.T) {
	cfg := testConfig()
	cfg.Dashboard.Enabled = true
	cfg.Dashboard.Addr = "127.0.0.1:0"
	n := startNode(t, cfg)

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = n.DashboardAddr()
		return addr != nil
	}, 5*time.Second, 10*time.Millisecond)

	addrs := addresses(t, n)
	record := send(t, n, addrs.Initialize(admin.Pubkey, ata(t, admin.Pubkey), 100, 500_000), admin)
	require.Nil(t, record.Meta.Err)

	get := func(path string, v interface{}) {
		t.Helper()
		resp, err := http.Get(fmt.Sprintf("http://%s%s", addr, path))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}

	var status dashboard.StatusResponse
	get("/api/status", &status)
	assert.True(t, status.IsRunning)
	assert.EqualValues(t, 1, status.TxsProcessed)
	assert.EqualValues(t, 1, status.CurrentSlot)

	var sale dashboard.SaleResponse
	get("/api/sale", &sale)
	require.True(t, sale.Initialized)
	assert.EqualValues(t, 500_000, sale.Record.TokenBalance)
	assert.EqualValues(t, 500_000, sale.EscrowAmount)

	var list dashboard.TransactionsListResponse
	get("/api/transactions", &list)
	require.Len(t, list.Transactions, 1)
	assert.Equal(t, record.Signature.String(), list.Transactions[0].Signature)

	assert.Equal(t, addr.String(), n.Status().DashboardAddr)
}
