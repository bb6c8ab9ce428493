// Package node provides the main orchestrator for a stratus-ico node.
//
// The Node ties together all components:
// - AccountsDB for the ledger state
// - Executor running the system, token, associated-token and sale programs
// - Blockstore recording every processed transaction
// - RPC server for clients
// - Web dashboard for operators
//
// Transactions are processed one at a time in arrival order by a single
// processing loop, so every sale operation sees the state left by the one
// before it.
package node

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/stratus-ico/internal/keypair"
	"github.com/fortiblox/stratus-ico/internal/log"
	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/blockstore"
	"github.com/fortiblox/stratus-ico/pkg/dashboard"
	"github.com/fortiblox/stratus-ico/pkg/ico"
	"github.com/fortiblox/stratus-ico/pkg/rpc"
	"github.com/fortiblox/stratus-ico/pkg/runtime"
	"github.com/fortiblox/stratus-ico/pkg/svm"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/associated"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/token"
)

// Node errors.
var (
	ErrAlreadyRunning  = errors.New("node is already running")
	ErrNotRunning      = errors.New("node is not running")
	ErrShuttingDown    = errors.New("node is shutting down")
	ErrInitFailed      = errors.New("node initialization failed")
	ErrFaucetDisabled  = errors.New("faucet is disabled")
	ErrAirdropTooLarge = errors.New("airdrop exceeds faucet limit")
)

// txQueueSize bounds the transactions waiting for the processing loop.
const txQueueSize = 256

// Node is a single-writer ledger running one token sale.
type Node struct {
	config Config

	// Core components
	accounts  accounts.DB
	blocks    blockstore.Store
	exec      *runtime.Executor
	sale      *ico.Program
	rpcServer *rpc.Server
	dashboard *dashboard.Dashboard
	faucet    *keypair.Keypair
	tempDir   string

	// procMu serializes commits with snapshots.
	procMu sync.Mutex

	blockhashMu sync.RWMutex
	blockhash   types.Hash

	// State management
	running      atomic.Bool
	shuttingDown atomic.Bool
	startTime    time.Time
	lastError    error
	lastErrorMu  sync.RWMutex
	airdropNonce atomic.Uint64

	// Processing coordination
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	txQueue chan *submission

	// Metrics
	txsProcessed    atomic.Uint64
	txsFailed       atomic.Uint64
	txProcessTimeNs atomic.Int64
}

// submission is a transaction waiting for the processing loop.
type submission struct {
	tx   *runtime.Transaction
	done chan submitResult
}

type submitResult struct {
	record *blockstore.Transaction
	err    error
}

// New creates a node with the given configuration.
// The node is not started until Start() is called.
func New(config *Config) (*Node, error) {
	if config == nil {
		defaults := DefaultConfig()
		config = &defaults
	}
	cfg := *config

	// Apply defaults
	cfg.Sale = cfg.Sale.WithDefaults()
	if cfg.Sale.ProgramID.IsZero() {
		cfg.Sale.ProgramID = types.SaleProgramAddr
	}
	if cfg.Sale.Mint.IsZero() && len(cfg.Genesis.Mints) == 1 {
		cfg.Sale.Mint = cfg.Genesis.Mints[0].Address
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Node{
		config:  cfg,
		txQueue: make(chan *submission, txQueueSize),
	}, nil
}

// Start opens storage, seeds an empty ledger and starts transaction
// processing and the RPC server. It returns once the node accepts
// transactions; the node runs until ctx is cancelled or Stop is called.
func (n *Node) Start(ctx context.Context) error {
	if !n.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	// Set up cancellable context
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.startTime = time.Now()

	// Initialize all components
	if err := n.initialize(); err != nil {
		n.cancel()
		n.closeStorage()
		n.running.Store(false)
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	// Start the transaction processing loop
	n.wg.Add(1)
	go n.txProcessingLoop()

	// Start RPC server if enabled
	if n.rpcServer != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.rpcServer.Start(n.ctx); err != nil {
				n.reportError(fmt.Errorf("RPC server error: %w", err))
			}
		}()
	}

	if n.dashboard != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.dashboard.Start(n.ctx); err != nil {
				n.reportError(fmt.Errorf("dashboard error: %w", err))
			}
		}()
	}

	addrs := n.sale.Machine().Addresses()
	log.Node.Info().
		Str("program", addrs.ProgramID.String()).
		Str("mint", addrs.Mint.String()).
		Str("state", addrs.State.String()).
		Str("escrow", addrs.Escrow.String()).
		Uint64("slot", n.accounts.Slot()).
		Msg("node started")
	return nil
}

// initialize sets up all storage backends and components.
func (n *Node) initialize() error {
	var accountsDB accounts.DB
	var blockstorePath string

	if n.config.InMemory {
		dir, err := os.MkdirTemp("", "stratus-ico-*")
		if err != nil {
			return fmt.Errorf("create temp directory: %w", err)
		}
		n.tempDir = dir
		accountsDB = accounts.NewMemoryDB()
		blockstorePath = filepath.Join(dir, "blockstore.db")
	} else {
		// Create data directories
		if err := os.MkdirAll(n.config.DataDir, 0755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		badgerDB, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(filepath.Join(n.config.DataDir, "accounts")))
		if err != nil {
			return fmt.Errorf("open accounts database: %w", err)
		}
		accountsDB = badgerDB
		blockstorePath = filepath.Join(n.config.DataDir, "blockstore", "blockstore.db")
	}
	n.accounts = accountsDB

	blocks, err := blockstore.Open(n.config.blockstoreConfig(blockstorePath))
	if err != nil {
		return fmt.Errorf("open blockstore: %w", err)
	}
	n.blocks = blocks

	if err := n.loadFaucet(); err != nil {
		return err
	}

	if err := n.seedLedger(); err != nil {
		return err
	}

	machine, err := ico.NewMachine(n.config.Sale)
	if err != nil {
		return fmt.Errorf("create sale: %w", err)
	}
	n.sale = ico.NewProgram(machine)
	n.exec = runtime.NewExecutor(accountsDB,
		runtime.Config{ComputeLimit: n.config.ComputeLimit},
		system.New(), token.New(), associated.New(), n.sale)

	// The first blockhash commits to the starting ledger.
	hash, count, err := accounts.ComputeAccountsHash(accountsDB)
	if err != nil {
		return fmt.Errorf("hash accounts: %w", err)
	}
	n.blockhash = hash
	log.Node.Debug().Uint64("accounts", count).Str("hash", hash.String()).Msg("ledger loaded")

	// Initialize RPC server if enabled
	if n.config.RPC.Enabled {
		n.rpcServer = rpc.New(n.config.rpcConfig(), accountsDB, blocks, machine, n)
	}

	if n.config.Dashboard.Enabled {
		n.dashboard, err = dashboard.New(n.config.Dashboard, blocks, accountsDB, machine, dashboardStats{n})
		if err != nil {
			return fmt.Errorf("create dashboard: %w", err)
		}
	}
	return nil
}

// seedLedger writes the snapshot or genesis into an empty account store.
// A store that already holds accounts is left untouched.
func (n *Node) seedLedger() error {
	count, err := n.accounts.AccountsCount()
	if err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	if count > 0 || n.accounts.Slot() > 0 {
		return nil
	}

	if n.config.SnapshotPath != "" {
		header, err := accounts.LoadSnapshotFile(n.accounts, n.config.SnapshotPath)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		log.Node.Info().
			Str("path", n.config.SnapshotPath).
			Uint64("slot", header.Slot).
			Uint64("accounts", header.AccountsCount).
			Msg("snapshot loaded")
		return nil
	}

	var faucet *types.Pubkey
	if n.faucet != nil {
		faucet = &n.faucet.Pubkey
	}
	return applyGenesis(n.accounts, n.config.Genesis, faucet, n.config.Faucet.Lamports)
}

// loadFaucet loads or creates the faucet key when the faucet is enabled.
func (n *Node) loadFaucet() error {
	if !n.config.Faucet.Enabled {
		return nil
	}

	path := n.config.Faucet.Keypair
	if path == "" && n.config.InMemory {
		kp, err := keypair.Generate()
		if err != nil {
			return err
		}
		n.faucet = &kp
		return nil
	}
	if path == "" {
		path = filepath.Join(n.config.DataDir, "faucet.json")
	}

	kp, created, err := keypair.LoadOrGenerate(path)
	if err != nil {
		return fmt.Errorf("load faucet keypair: %w", err)
	}
	if created {
		log.Node.Info().Str("path", path).Str("pubkey", kp.Pubkey.String()).Msg("faucet keypair created")
	}
	n.faucet = &kp
	return nil
}

// closeStorage closes all storage backends.
func (n *Node) closeStorage() {
	if n.accounts != nil {
		n.accounts.Close()
	}
	if n.blocks != nil {
		n.blocks.Close()
	}
	if n.tempDir != "" {
		os.RemoveAll(n.tempDir)
		n.tempDir = ""
	}
}

// txProcessingLoop processes transactions in arrival order.
func (n *Node) txProcessingLoop() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case sub := <-n.txQueue:
			record, err := n.process(sub.tx)
			sub.done <- submitResult{record: record, err: err}
		}
	}
}

// process verifies, executes and records one transaction. Transactions
// rejected before execution are returned as errors and not recorded; a
// transaction that executed is recorded whether it committed or failed.
func (n *Node) process(tx *runtime.Transaction) (*blockstore.Transaction, error) {
	startTime := time.Now()

	if err := tx.Message.Validate(); err != nil {
		return nil, err
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, err
	}

	n.procMu.Lock()
	defer n.procMu.Unlock()

	sig := tx.Signature()
	seen, err := n.blocks.HasSignature(sig)
	if err != nil {
		return nil, n.reportError(fmt.Errorf("check signature: %w", err))
	}
	if seen {
		return nil, fmt.Errorf("%w: %s", blockstore.ErrDuplicateSignature, sig)
	}

	res, err := n.exec.Execute(tx)
	if err != nil {
		return nil, n.reportError(err)
	}

	record := newRecord(tx, res)
	record.Meta.SaleStateDigest = n.committedDigest()
	if err := n.blocks.PutTransaction(record); err != nil {
		return nil, n.reportError(fmt.Errorf("record transaction %s: %w", sig, err))
	}

	if res.Err == nil {
		n.blockhashMu.Lock()
		n.blockhash = types.ComputeHash(n.blockhash[:], sig[:])
		n.blockhashMu.Unlock()
		n.txsProcessed.Add(1)
	} else {
		n.txsFailed.Add(1)
	}
	n.txProcessTimeNs.Store(time.Since(startTime).Nanoseconds())

	log.Node.Debug().
		Str("signature", sig.String()).
		Uint64("slot", record.Slot).
		Bool("success", res.Err == nil).
		Msg("transaction processed")

	if n.config.OnTransaction != nil {
		n.config.OnTransaction(record)
	}
	return record, nil
}

// newRecord converts an execution result to a history record.
func newRecord(tx *runtime.Transaction, res *runtime.Result) *blockstore.Transaction {
	return &blockstore.Transaction{
		Signature:   res.Signature,
		Slot:        res.Slot,
		BlockTime:   time.Now().Unix(),
		Raw:         tx.Serialize(),
		AccountKeys: append([]types.Pubkey(nil), tx.Message.AccountKeys...),
		Meta: &blockstore.TransactionMeta{
			Err:                  transactionError(res.Err),
			PreBalances:          res.PreBalances,
			PostBalances:         res.PostBalances,
			LogMessages:          res.Logs,
			ComputeUnitsConsumed: res.ComputeUnitsConsumed,
		},
	}
}

// transactionError classifies an execution failure. Sale rule violations
// keep their numeric code and kind.
func transactionError(err error) *blockstore.TransactionError {
	if err == nil {
		return nil
	}
	txErr := &blockstore.TransactionError{
		InstructionIndex: -1,
		Kind:             "TransactionError",
		Message:          err.Error(),
	}
	var ixErr *runtime.InstructionError
	if errors.As(err, &ixErr) {
		txErr.InstructionIndex = ixErr.Index
		txErr.Kind = "InstructionError"
	}
	switch code, kind, ok := ico.ErrorCode(err); {
	case ok:
		txErr.Code = code
		txErr.Kind = kind
	case errors.Is(err, runtime.ErrSignatureVerification):
		txErr.Kind = "SignatureFailure"
	}
	return txErr
}

// committedDigest returns the digest of the stored sale record, zero when
// the sale has not been initialized.
func (n *Node) committedDigest() types.Hash {
	acct, err := n.accounts.GetAccount(n.sale.Machine().Addresses().State)
	if err != nil {
		return types.Hash{}
	}
	return saleDigest(acct)
}

func saleDigest(acct *accounts.Account) types.Hash {
	state, err := ico.UnmarshalSaleState(acct.Data)
	if err != nil {
		return types.Hash{}
	}
	return state.Digest()
}

// SendTransaction queues tx for processing and waits for its record.
func (n *Node) SendTransaction(ctx context.Context, tx *runtime.Transaction) (*blockstore.Transaction, error) {
	if !n.running.Load() {
		return nil, ErrNotRunning
	}
	if n.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	sub := &submission{tx: tx, done: make(chan submitResult, 1)}
	select {
	case n.txQueue <- sub:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.ctx.Done():
		return nil, ErrShuttingDown
	}

	select {
	case res := <-sub.done:
		return res.record, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-n.ctx.Done():
		return nil, ErrShuttingDown
	}
}

// SimulateTransaction executes tx against the current ledger without
// committing or recording it.
func (n *Node) SimulateTransaction(tx *runtime.Transaction, verify bool) *blockstore.Transaction {
	res := n.exec.Simulate(tx, verify)
	record := newRecord(tx, res)

	state := n.sale.Machine().Addresses().State
	record.Meta.SaleStateDigest = n.committedDigest()
	for i, key := range tx.Message.AccountKeys {
		if key == state && i < len(res.Accounts) && res.Accounts[i] != nil {
			record.Meta.SaleStateDigest = saleDigest(res.Accounts[i])
		}
	}
	return record
}

// RequestAirdrop transfers lamports from the faucet to to.
func (n *Node) RequestAirdrop(ctx context.Context, to types.Pubkey, lamports uint64) (types.Signature, error) {
	if n.faucet == nil {
		return types.Signature{}, ErrFaucetDisabled
	}
	if lamports == 0 || lamports > n.config.Faucet.MaxLamports {
		return types.Signature{}, fmt.Errorf("%w: %d lamports requested, limit %d",
			ErrAirdropTooLarge, lamports, n.config.Faucet.MaxLamports)
	}

	// Mixing a counter into the blockhash keeps identical requests from
	// producing identical signatures.
	hash, _ := n.LatestBlockhash()
	var nonce [8]byte
	binary.LittleEndian.PutUint64(nonce[:], n.airdropNonce.Add(1))
	blockhash := types.ComputeHash(hash[:], nonce[:])

	ix := system.Transfer(n.faucet.Pubkey, to, lamports)
	tx, err := runtime.NewTransaction(n.faucet.Pubkey, []svm.Instruction{ix}, blockhash)
	if err != nil {
		return types.Signature{}, err
	}
	if err := tx.Sign(n.faucet.Private); err != nil {
		return types.Signature{}, err
	}

	record, err := n.SendTransaction(ctx, tx)
	if err != nil {
		return types.Signature{}, err
	}
	if record.Meta.Err != nil {
		return record.Signature, fmt.Errorf("airdrop failed: %w", record.Meta.Err)
	}

	log.Node.Info().Str("to", to.String()).Uint64("lamports", lamports).Msg("airdrop sent")
	return record.Signature, nil
}

// LatestBlockhash returns the current blockhash and slot. The blockhash
// advances with every committed transaction.
func (n *Node) LatestBlockhash() (types.Hash, uint64) {
	n.blockhashMu.RLock()
	defer n.blockhashMu.RUnlock()
	return n.blockhash, n.accounts.Slot()
}

// Snapshot writes an account snapshot into dir and returns its path.
func (n *Node) Snapshot(dir string) (string, *accounts.SnapshotHeader, error) {
	if !n.running.Load() {
		return "", nil, ErrNotRunning
	}

	n.procMu.Lock()
	defer n.procMu.Unlock()

	hash, _, err := accounts.ComputeAccountsHash(n.accounts)
	if err != nil {
		return "", nil, fmt.Errorf("hash accounts: %w", err)
	}
	path := filepath.Join(dir, accounts.SnapshotFilename(n.accounts.Slot(), hash))
	header, err := accounts.CreateSnapshotFile(n.accounts, path)
	if err != nil {
		return "", nil, fmt.Errorf("create snapshot: %w", err)
	}
	return path, header, nil
}

// Stop gracefully stops the node.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}

	n.shuttingDown.Store(true)
	defer n.shuttingDown.Store(false)

	// Cancel context to stop all goroutines
	if n.cancel != nil {
		n.cancel()
	}

	// Wait for goroutines to finish
	n.wg.Wait()

	// Stop RPC server
	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.dashboard != nil {
		n.dashboard.Stop()
	}

	if n.blocks != nil {
		n.blocks.Sync()
	}

	// Close storage
	n.closeStorage()

	n.running.Store(false)
	log.Node.Info().Msg("node stopped")
	return nil
}

// Status returns the current node status.
func (n *Node) Status() *Status {
	status := &Status{
		IsRunning:    n.running.Load(),
		TxsProcessed: n.txsProcessed.Load(),
		TxsFailed:    n.txsFailed.Load(),
		AvgTxTimeMs:  float64(n.txProcessTimeNs.Load()) / float64(time.Millisecond),
		LastError:    n.getLastError(),
	}
	if !status.IsRunning {
		return status
	}

	status.Uptime = time.Since(n.startTime)
	status.Blockhash, status.CurrentSlot = n.LatestBlockhash()
	status.AccountsCount, _ = n.accounts.AccountsCount()
	status.BlockstoreStats, _ = n.blocks.GetStats()
	status.Sale = n.sale.Machine().Addresses()
	if state, err := n.SaleState(); err == nil {
		status.SaleState = &state
	}
	if n.faucet != nil {
		status.Faucet = n.faucet.Pubkey
	}
	if n.rpcServer != nil {
		if addr := n.rpcServer.Addr(); addr != nil {
			status.RPCAddr = addr.String()
		}
	}
	if n.dashboard != nil {
		if addr := n.dashboard.Addr(); addr != nil {
			status.DashboardAddr = addr.String()
		}
	}
	return status
}

// Status contains the current node status.
type Status struct {
	// CurrentSlot is the slot of the last committed transaction.
	CurrentSlot uint64

	// Blockhash is the blockhash new transactions should carry.
	Blockhash types.Hash

	// AccountsCount is the total number of accounts in the database.
	AccountsCount uint64

	// IsRunning indicates if the node is running.
	IsRunning bool

	// Uptime is how long the node has been running.
	Uptime time.Duration

	// TxsProcessed and TxsFailed count executed transactions by outcome.
	TxsProcessed uint64
	TxsFailed    uint64

	// AvgTxTimeMs is the latest transaction processing time in milliseconds.
	AvgTxTimeMs float64

	// Sale holds the derived sale addresses.
	Sale ico.Addresses

	// SaleState is nil until the sale is initialized.
	SaleState *ico.SaleState

	// Faucet is the faucet wallet, zero when disabled.
	Faucet types.Pubkey

	// BlockstoreStats contains blockstore statistics.
	BlockstoreStats *blockstore.Stats

	// RPCAddr and DashboardAddr are the bound server addresses, empty
	// when disabled.
	RPCAddr       string
	DashboardAddr string

	// LastError is the most recent error encountered.
	LastError error
}

// Addresses returns the derived addresses of the sale.
func (n *Node) Addresses() (ico.Addresses, error) {
	if n.sale == nil {
		return ico.Addresses{}, ErrNotRunning
	}
	return n.sale.Machine().Addresses(), nil
}

// SaleState returns the committed sale record.
func (n *Node) SaleState() (ico.SaleState, error) {
	if n.accounts == nil || n.sale == nil {
		return ico.SaleState{}, ErrNotRunning
	}
	acct, err := n.accounts.GetAccount(n.sale.Machine().Addresses().State)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return ico.SaleState{}, ico.ErrNotInitialized
	}
	if err != nil {
		return ico.SaleState{}, err
	}
	return ico.UnmarshalSaleState(acct.Data)
}

// GetAccount retrieves an account by pubkey from the accounts database.
func (n *Node) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	if n.accounts == nil {
		return nil, ErrNotRunning
	}
	return n.accounts.GetAccount(pubkey)
}

// GetTransaction retrieves a transaction by signature.
func (n *Node) GetTransaction(sig types.Signature) (*blockstore.Transaction, error) {
	if n.blocks == nil {
		return nil, ErrNotRunning
	}
	return n.blocks.GetTransaction(sig)
}

// GetSignaturesForAddress returns the history of address, newest first.
func (n *Node) GetSignaturesForAddress(address types.Pubkey, opts *blockstore.SignatureQueryOptions) ([]blockstore.SignatureInfo, error) {
	if n.blocks == nil {
		return nil, ErrNotRunning
	}
	return n.blocks.GetSignaturesForAddress(address, opts)
}

// RPCAddr returns the bound RPC address, nil until the server listens.
func (n *Node) RPCAddr() net.Addr {
	if n.rpcServer == nil {
		return nil
	}
	return n.rpcServer.Addr()
}

// DashboardAddr returns the bound dashboard address, nil until the
// dashboard listens.
func (n *Node) DashboardAddr() net.Addr {
	if n.dashboard == nil {
		return nil
	}
	return n.dashboard.Addr()
}

// FaucetPubkey returns the faucet wallet and whether the faucet is enabled.
func (n *Node) FaucetPubkey() (types.Pubkey, bool) {
	if n.faucet == nil {
		return types.Pubkey{}, false
	}
	return n.faucet.Pubkey, true
}

// reportError records err as the last error and returns it.
func (n *Node) reportError(err error) error {
	n.setLastError(err)
	log.Node.Error().Err(err).Msg("node error")
	if n.config.OnError != nil {
		n.config.OnError(err)
	}
	return err
}

// setLastError safely sets the last error.
func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}

var _ rpc.Backend = (*Node)(nil)
