package rpc

import (
	"encoding/json"

	"github.com/fortiblox/stratus-ico/pkg/blockstore"
	"github.com/fortiblox/stratus-ico/pkg/ico"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot       uint64 `json:"slot"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for account data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// DataSlice specifies a portion of account data to return.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo requests.
type AccountInfoConfig struct {
	Encoding       Encoding   `json:"encoding,omitempty"`
	DataSlice      *DataSlice `json:"dataSlice,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// BalanceConfig configures getBalance requests.
type BalanceConfig struct {
	MinContextSlot *uint64 `json:"minContextSlot,omitempty"`
}

// TransactionConfig configures getTransaction requests.
type TransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// SignaturesForAddressConfig configures getSignaturesForAddress requests.
type SignaturesForAddressConfig struct {
	Limit          int     `json:"limit,omitempty"`
	Before         string  `json:"before,omitempty"`
	MinContextSlot *uint64 `json:"minContextSlot,omitempty"`
}

// SendTransactionConfig configures sendTransaction requests.
type SendTransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// SimulateTransactionConfig configures simulateTransaction requests.
type SimulateTransactionConfig struct {
	SigVerify bool     `json:"sigVerify,omitempty"`
	Encoding  Encoding `json:"encoding,omitempty"`
}

// AccountInfo represents account information returned by RPC.
type AccountInfo struct {
	Data       interface{} `json:"data"` // [encoded, encoding]
	Executable bool        `json:"executable"`
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	RentEpoch  uint64      `json:"rentEpoch"`
	Space      uint64      `json:"space"`
}

// UITokenAmount represents a token amount with UI formatting.
type UITokenAmount struct {
	Amount         string   `json:"amount"`
	Decimals       uint8    `json:"decimals"`
	UIAmount       *float64 `json:"uiAmount"`
	UIAmountString string   `json:"uiAmountString"`
}

// TransactionResponse represents a transaction returned by RPC.
type TransactionResponse struct {
	Slot        uint64           `json:"slot"`
	Transaction []string         `json:"transaction"` // [encoded, encoding]
	Meta        *TransactionMeta `json:"meta"`
	BlockTime   *int64           `json:"blockTime,omitempty"`
}

// TransactionMeta contains transaction execution metadata.
type TransactionMeta struct {
	Err                  *blockstore.TransactionError `json:"err"`
	Fee                  uint64                       `json:"fee"`
	PreBalances          []uint64                     `json:"preBalances"`
	PostBalances         []uint64                     `json:"postBalances"`
	LogMessages          []string                     `json:"logMessages"`
	ComputeUnitsConsumed uint64                       `json:"computeUnitsConsumed"`
	SaleStateDigest      string                       `json:"saleStateDigest,omitempty"`
}

// SignatureInfo represents signature information for getSignaturesForAddress.
type SignatureInfo struct {
	Signature          string                       `json:"signature"`
	Slot               uint64                       `json:"slot"`
	Err                *blockstore.TransactionError `json:"err"`
	BlockTime          *int64                       `json:"blockTime"`
	ConfirmationStatus string                       `json:"confirmationStatus,omitempty"`
}

// SignatureStatus represents the status of a transaction signature.
type SignatureStatus struct {
	Slot               uint64                       `json:"slot"`
	Confirmations      *uint64                      `json:"confirmations"`
	Err                *blockstore.TransactionError `json:"err"`
	ConfirmationStatus string                       `json:"confirmationStatus,omitempty"`
}

// VersionInfo represents node version information.
type VersionInfo struct {
	SolanaCore string `json:"solana-core"`
	FeatureSet uint64 `json:"feature-set"`
}

// SimulationResult represents transaction simulation results.
type SimulationResult struct {
	Err           *blockstore.TransactionError `json:"err"`
	Logs          []string                     `json:"logs"`
	UnitsConsumed uint64                       `json:"unitsConsumed"`
	PostBalances  []uint64                     `json:"postBalances"`
}

// LatestBlockhash represents the latest blockhash.
type LatestBlockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// SaleStateInfo is the sale record plus values derived from it.
type SaleStateInfo struct {
	Address string `json:"address"`
	ico.SaleState

	// Supply is tokenBalance + totalSold.
	Supply uint64 `json:"supply"`
	Digest string `json:"digest"`
}

// Quote is the result of quoteBuy.
type Quote struct {
	Payment uint64 `json:"payment"`
	Tokens  uint64 `json:"tokens"`
	Rate    uint64 `json:"rate"`
}
