package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/ico"
	"github.com/fortiblox/stratus-ico/pkg/runtime"
)

// Client is a JSON-RPC client for a stratus-ico node.
type Client struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Int64
}

// NewClient creates a client for the node at endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// clientResponse is a response with the result left undecoded.
type clientResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *clientError    `json:"error,omitempty"`
}

type clientError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Call invokes method with params and decodes the result into result. A
// JSON-RPC error is returned as *RPCError; TransactionFailed errors carry
// *TransactionErrorData.
func (c *Client) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	req := struct {
		JSONRPC string        `json:"jsonrpc"`
		ID      int64         `json:"id"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params"`
	}{JSONRPCVersion, c.nextID.Add(1), method, params}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp clientResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if e := rpcResp.Error; e != nil {
		rpcErr := &RPCError{Code: e.Code, Message: e.Message}
		if len(e.Data) > 0 {
			if e.Code == TransactionFailed {
				var data TransactionErrorData
				if json.Unmarshal(e.Data, &data) == nil {
					rpcErr.Data = &data
				}
			} else {
				var data interface{}
				if json.Unmarshal(e.Data, &data) == nil {
					rpcErr.Data = data
				}
			}
		}
		return rpcErr
	}

	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// TransactionErrorOf returns the transaction failure carried by err, if any.
func TransactionErrorOf(err error) (*TransactionErrorData, bool) {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != TransactionFailed {
		return nil, false
	}
	data, ok := rpcErr.Data.(*TransactionErrorData)
	return data, ok
}

// contextValue decodes the value of a ResponseWithContext.
type contextValue[T any] struct {
	Context Context `json:"context"`
	Value   T       `json:"value"`
}

// GetSlot returns the node's current slot.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.Call(ctx, "getSlot", nil, &slot)
	return slot, err
}

// GetHealth returns nil when the node reports healthy.
func (c *Client) GetHealth(ctx context.Context) error {
	var status string
	if err := c.Call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("node health: %s", status)
	}
	return nil
}

// GetBalance returns the lamports held by pubkey.
func (c *Client) GetBalance(ctx context.Context, pubkey types.Pubkey) (uint64, error) {
	var resp contextValue[uint64]
	err := c.Call(ctx, "getBalance", []interface{}{pubkey.String()}, &resp)
	return resp.Value, err
}

// GetAccountInfo returns the account at pubkey, nil when it does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey types.Pubkey, encoding Encoding) (*AccountInfo, error) {
	var resp contextValue[*AccountInfo]
	params := []interface{}{pubkey.String(), AccountInfoConfig{Encoding: encoding}}
	if err := c.Call(ctx, "getAccountInfo", params, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// GetTokenAccountBalance returns the balance of a token account.
func (c *Client) GetTokenAccountBalance(ctx context.Context, pubkey types.Pubkey) (*UITokenAmount, error) {
	var resp contextValue[UITokenAmount]
	if err := c.Call(ctx, "getTokenAccountBalance", []interface{}{pubkey.String()}, &resp); err != nil {
		return nil, err
	}
	return &resp.Value, nil
}

// GetSaleState returns the sale record, nil before initialization.
func (c *Client) GetSaleState(ctx context.Context) (*SaleStateInfo, error) {
	var resp contextValue[*SaleStateInfo]
	if err := c.Call(ctx, "getSaleState", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// GetSaleAddresses returns the derived sale addresses.
func (c *Client) GetSaleAddresses(ctx context.Context) (ico.Addresses, error) {
	var addrs ico.Addresses
	err := c.Call(ctx, "getSaleAddresses", nil, &addrs)
	return addrs, err
}

// QuoteBuy returns the tokens payment would buy.
func (c *Client) QuoteBuy(ctx context.Context, payment uint64) (*Quote, error) {
	var resp contextValue[Quote]
	if err := c.Call(ctx, "quoteBuy", []interface{}{payment}, &resp); err != nil {
		return nil, err
	}
	return &resp.Value, nil
}

// GetLatestBlockhash returns the blockhash to put in new transactions.
func (c *Client) GetLatestBlockhash(ctx context.Context) (types.Hash, error) {
	var resp contextValue[LatestBlockhash]
	if err := c.Call(ctx, "getLatestBlockhash", nil, &resp); err != nil {
		return types.Hash{}, err
	}
	return types.HashFromBase58(resp.Value.Blockhash)
}

// GetMinimumBalanceForRentExemption returns the rent-exempt minimum for
// size bytes of data.
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	var lamports uint64
	err := c.Call(ctx, "getMinimumBalanceForRentExemption", []interface{}{size}, &lamports)
	return lamports, err
}

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *runtime.Transaction) (types.Signature, error) {
	encoded, err := tx.Encode(runtime.EncodingBase64)
	if err != nil {
		return types.Signature{}, err
	}
	var sig string
	params := []interface{}{encoded, SendTransactionConfig{Encoding: EncodingBase64}}
	if err := c.Call(ctx, "sendTransaction", params, &sig); err != nil {
		return types.Signature{}, err
	}
	return types.SignatureFromBase58(sig)
}

// SimulateTransaction runs tx without committing it.
func (c *Client) SimulateTransaction(ctx context.Context, tx *runtime.Transaction, sigVerify bool) (*SimulationResult, error) {
	encoded, err := tx.Encode(runtime.EncodingBase64)
	if err != nil {
		return nil, err
	}
	var resp contextValue[SimulationResult]
	params := []interface{}{encoded, SimulateTransactionConfig{SigVerify: sigVerify, Encoding: EncodingBase64}}
	if err := c.Call(ctx, "simulateTransaction", params, &resp); err != nil {
		return nil, err
	}
	return &resp.Value, nil
}

// GetTransaction returns a recorded transaction, nil when unknown.
func (c *Client) GetTransaction(ctx context.Context, sig types.Signature) (*TransactionResponse, error) {
	var resp *TransactionResponse
	if err := c.Call(ctx, "getTransaction", []interface{}{sig.String()}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetSignaturesForAddress returns up to limit signatures that touched
// address, newest first.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address types.Pubkey, limit int) ([]SignatureInfo, error) {
	var infos []SignatureInfo
	params := []interface{}{address.String(), SignaturesForAddressConfig{Limit: limit}}
	err := c.Call(ctx, "getSignaturesForAddress", params, &infos)
	return infos, err
}

// RequestAirdrop asks the faucet for lamports.
func (c *Client) RequestAirdrop(ctx context.Context, to types.Pubkey, lamports uint64) (types.Signature, error) {
	var sig string
	if err := c.Call(ctx, "requestAirdrop", []interface{}{to.String(), lamports}, &sig); err != nil {
		return types.Signature{}, err
	}
	return types.SignatureFromBase58(sig)
}
