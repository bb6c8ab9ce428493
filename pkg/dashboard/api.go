package dashboard

import (
	"encoding/hex"
	"net/http"
	"runtime"
	"strconv"
	"strings"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/blockstore"
	"github.com/fortiblox/stratus-ico/pkg/ico"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/token"
)

// API response types

// StatusResponse is the response for GET /api/status.
type StatusResponse struct {
	CurrentSlot      uint64  `json:"currentSlot"`
	IsRunning        bool    `json:"isRunning"`
	Uptime           string  `json:"uptime"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
	TxsProcessed     uint64  `json:"txsProcessed"`
	TxsFailed        uint64  `json:"txsFailed"`
	AvgTxTimeMs      float64 `json:"avgTxTimeMs"`
	TransactionCount uint64  `json:"transactionCount"`
	AccountsCount    uint64  `json:"accountsCount"`
	LastError        string  `json:"lastError,omitempty"`
}

// SaleResponse is the response for GET /api/sale.
type SaleResponse struct {
	ProgramID string `json:"programId"`
	Mint      string `json:"mint"`
	State     string `json:"state"`
	Escrow    string `json:"escrow"`

	Initialized bool           `json:"initialized"`
	Record      *ico.SaleState `json:"record,omitempty"`
	Digest      string         `json:"digest,omitempty"`

	// Supply is tokenBalance + totalSold. EscrowAmount is read from the
	// escrow token account and equals tokenBalance while the ledger is
	// consistent.
	Supply       uint64 `json:"supply"`
	EscrowAmount uint64 `json:"escrowAmount"`

	Error string `json:"error,omitempty"`
}

// TransactionBrief is a brief transaction summary.
type TransactionBrief struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	BlockTime int64  `json:"blockTime"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// TransactionsListResponse is the response for GET /api/transactions.
type TransactionsListResponse struct {
	Transactions []TransactionBrief `json:"transactions"`
	Next         string             `json:"next,omitempty"`
}

// TransactionResponse is the response for GET /api/transactions/:sig.
type TransactionResponse struct {
	Signature            string   `json:"signature"`
	Slot                 uint64   `json:"slot"`
	BlockTime            int64    `json:"blockTime"`
	Success              bool     `json:"success"`
	Error                string   `json:"error,omitempty"`
	ErrorKind            string   `json:"errorKind,omitempty"`
	ErrorCode            uint32   `json:"errorCode,omitempty"`
	ComputeUnitsConsumed uint64   `json:"computeUnitsConsumed"`
	Accounts             []string `json:"accounts"`
	LogMessages          []string `json:"logMessages,omitempty"`
	PreBalances          []uint64 `json:"preBalances,omitempty"`
	PostBalances         []uint64 `json:"postBalances,omitempty"`
	SaleStateDigest      string   `json:"saleStateDigest,omitempty"`
}

// AccountResponse is the response for GET /api/accounts/:pubkey.
type AccountResponse struct {
	Pubkey     string `json:"pubkey"`
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
	DataLen    int    `json:"dataLen"`
	DataHex    string `json:"dataHex,omitempty"` // First 256 bytes as hex

	// Kind is "mint", "tokenAccount", "sale" or empty. The matching
	// decoded field is set.
	Kind  string         `json:"kind,omitempty"`
	Mint  *MintInfo      `json:"mint,omitempty"`
	Token *TokenInfo     `json:"token,omitempty"`
	Sale  *ico.SaleState `json:"sale,omitempty"`
}

// MintInfo is a decoded mint.
type MintInfo struct {
	Supply        uint64 `json:"supply"`
	Decimals      uint8  `json:"decimals"`
	MintAuthority string `json:"mintAuthority,omitempty"`
}

// TokenInfo is a decoded token account.
type TokenInfo struct {
	Mint   string `json:"mint"`
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
	Frozen bool   `json:"frozen"`
}

// MetricsResponse is the response for GET /api/metrics.
type MetricsResponse struct {
	// Memory stats
	MemAlloc     uint64 `json:"memAlloc"`
	MemSys       uint64 `json:"memSys"`
	MemHeapInuse uint64 `json:"memHeapInuse"`
	NumGC        uint32 `json:"numGC"`

	// Runtime stats
	NumGoroutine int    `json:"numGoroutine"`
	NumCPU       int    `json:"numCPU"`
	GoVersion    string `json:"goVersion"`

	// Database stats
	AccountsCount    uint64 `json:"accountsCount"`
	TransactionCount uint64 `json:"transactionCount"`
	DatabaseSize     int64  `json:"databaseSize"`

	// Node stats
	CurrentSlot  uint64  `json:"currentSlot"`
	TxsProcessed uint64  `json:"txsProcessed"`
	TxsFailed    uint64  `json:"txsFailed"`
	Uptime       float64 `json:"uptimeSeconds"`
}

func (d *Dashboard) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, d.status())
}

func (d *Dashboard) handleAPISale(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, d.saleInfo())
}

func (d *Dashboard) handleAPITransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 25
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	txs, err := d.recentTransactions(r.URL.Query().Get("before"), limit)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := TransactionsListResponse{Transactions: txs}
	if len(txs) == limit {
		resp.Next = txs[len(txs)-1].Signature
	}
	writeJSON(w, resp)
}

func (d *Dashboard) handleAPITransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sigStr := strings.TrimPrefix(r.URL.Path, "/api/transactions/")
	if sigStr == "" {
		writeError(w, "Signature required", http.StatusBadRequest)
		return
	}
	sig, err := types.SignatureFromBase58(sigStr)
	if err != nil {
		writeError(w, "Invalid signature", http.StatusBadRequest)
		return
	}
	tx, err := d.blocks.GetTransaction(sig)
	if err != nil {
		writeError(w, "Transaction not found", http.StatusNotFound)
		return
	}
	writeJSON(w, newTransactionResponse(tx))
}

func (d *Dashboard) handleAPIAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pubkeyStr := strings.TrimPrefix(r.URL.Path, "/api/accounts/")
	if pubkeyStr == "" {
		writeError(w, "Public key required", http.StatusBadRequest)
		return
	}
	pubkey, err := types.PubkeyFromBase58(pubkeyStr)
	if err != nil {
		writeError(w, "Invalid public key", http.StatusBadRequest)
		return
	}
	account, err := d.accounts.GetAccount(pubkey)
	if err != nil {
		writeError(w, "Account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, d.newAccountResponse(pubkey, account))
}

func (d *Dashboard) handleAPIMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := MetricsResponse{
		MemAlloc:     memStats.Alloc,
		MemSys:       memStats.Sys,
		MemHeapInuse: memStats.HeapInuse,
		NumGC:        memStats.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if count, err := d.accounts.AccountsCount(); err == nil {
		resp.AccountsCount = count
	}
	if stats, err := d.blocks.GetStats(); err == nil {
		resp.TransactionCount = stats.TransactionCount
		resp.DatabaseSize = stats.DatabaseSize
	}

	status := d.status()
	resp.CurrentSlot = status.CurrentSlot
	resp.TxsProcessed = status.TxsProcessed
	resp.TxsFailed = status.TxsFailed
	resp.Uptime = status.UptimeSeconds

	writeJSON(w, resp)
}

func newTransactionResponse(tx *blockstore.Transaction) *TransactionResponse {
	resp := &TransactionResponse{
		Signature: tx.Signature.String(),
		Slot:      tx.Slot,
		BlockTime: tx.BlockTime,
		Success:   tx.Meta == nil || tx.Meta.Err == nil,
	}
	for _, key := range tx.AccountKeys {
		resp.Accounts = append(resp.Accounts, key.String())
	}
	if tx.Meta == nil {
		return resp
	}

	if tx.Meta.Err != nil {
		resp.Error = tx.Meta.Err.Message
		resp.ErrorKind = tx.Meta.Err.Kind
		resp.ErrorCode = tx.Meta.Err.Code
	}
	resp.ComputeUnitsConsumed = tx.Meta.ComputeUnitsConsumed
	resp.LogMessages = tx.Meta.LogMessages
	resp.PreBalances = tx.Meta.PreBalances
	resp.PostBalances = tx.Meta.PostBalances
	if !tx.Meta.SaleStateDigest.IsZero() {
		resp.SaleStateDigest = tx.Meta.SaleStateDigest.String()
	}
	return resp
}

func (d *Dashboard) newAccountResponse(pubkey types.Pubkey, account *accounts.Account) *AccountResponse {
	resp := &AccountResponse{
		Pubkey:     pubkey.String(),
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		Executable: account.Executable,
		RentEpoch:  account.RentEpoch,
		DataLen:    len(account.Data),
	}

	if len(account.Data) > 0 {
		n := len(account.Data)
		if n > 256 {
			n = 256
		}
		resp.DataHex = hex.EncodeToString(account.Data[:n])
	}

	switch {
	case account.Owner == d.sale.Addresses().ProgramID:
		if state, err := ico.UnmarshalSaleState(account.Data); err == nil {
			resp.Kind = "sale"
			resp.Sale = &state
		}
	case account.Owner == types.TokenProgramAddr:
		if decoded, err := decodeToken(account); err == nil {
			resp.Kind = decoded.Kind
			resp.Mint = decoded.Mint
			resp.Token = decoded.Token
		}
	}
	return resp
}

// decodedToken is a token program account decoded by size.
type decodedToken struct {
	Kind  string
	Mint  *MintInfo
	Token *TokenInfo
}

func decodeToken(account *accounts.Account) (decodedToken, error) {
	switch len(account.Data) {
	case token.MintSize:
		m, err := token.UnmarshalMint(account.Data)
		if err != nil {
			return decodedToken{}, err
		}
		info := &MintInfo{Supply: m.Supply, Decimals: m.Decimals}
		if m.MintAuthority != nil {
			info.MintAuthority = m.MintAuthority.String()
		}
		return decodedToken{Kind: "mint", Mint: info}, nil
	case token.AccountSize:
		a, err := token.UnmarshalAccount(account.Data)
		if err != nil {
			return decodedToken{}, err
		}
		return decodedToken{Kind: "tokenAccount", Token: &TokenInfo{
			Mint:   a.Mint.String(),
			Owner:  a.Owner.String(),
			Amount: a.Amount,
			Frozen: a.State == token.AccountStateFrozen,
		}}, nil
	default:
		return decodedToken{}, token.ErrInvalidAccountData
	}
}
