package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/blockstore"
	"github.com/fortiblox/stratus-ico/pkg/ico"
	"github.com/fortiblox/stratus-ico/pkg/runtime"
	"github.com/fortiblox/stratus-ico/pkg/svm"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/token"
)

// Version information.
const (
	Version    = "stratus-ico-1.0.0"
	FeatureSet = 0
)

const (
	maxMultipleAccounts  = 100
	maxSignatureStatuses = 256

	// blockhashValidity is how many slots a blockhash is advertised as
	// usable for. Blockhashes are nonces here and never expire.
	blockhashValidity = 150

	confirmationFinalized = "finalized"
)

// parseArgs splits positional params. Missing params are an empty list.
func parseArgs(params json.RawMessage, min int) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < min {
		return nil, InvalidParamsErrorf("expected at least %d params, got %d", min, len(args))
	}
	return args, nil
}

// parseConfig decodes the optional config object at args[index].
func parseConfig(args []json.RawMessage, index int, config interface{}) *RPCError {
	if len(args) <= index || string(args[index]) == "null" {
		return nil
	}
	if err := json.Unmarshal(args[index], config); err != nil {
		return InvalidParamsError("invalid config")
	}
	return nil
}

func parsePubkey(raw json.RawMessage) (types.Pubkey, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Pubkey{}, InvalidParamsError("invalid pubkey")
	}
	pubkey, err := types.PubkeyFromBase58(s)
	if err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid pubkey: %v", err)
	}
	return pubkey, nil
}

func parseSignature(raw json.RawMessage) (types.Signature, *RPCError) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return types.Signature{}, InvalidParamsError("invalid signature")
	}
	sig, err := types.SignatureFromBase58(s)
	if err != nil {
		return types.Signature{}, InvalidParamsErrorf("invalid signature: %v", err)
	}
	return sig, nil
}

func (s *Server) checkMinContextSlot(minSlot *uint64) (uint64, *RPCError) {
	current := s.accountsDB.Slot()
	if minSlot != nil && *minSlot > current {
		return current, MinContextSlotError(*minSlot, current)
	}
	return current, nil
}

// getAccount returns the account at pubkey, nil when absent.
func (s *Server) getAccount(pubkey types.Pubkey) (*accounts.Account, *RPCError) {
	account, err := s.accountsDB.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}
	return account, nil
}

// Account Methods

// getAccountInfo retrieves account information.
func (s *Server) getAccountInfo(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	currentSlot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	account, rpcErr := s.getAccount(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var info *AccountInfo
	if account != nil {
		if info, rpcErr = accountToAccountInfo(account, config.Encoding, config.DataSlice); rpcErr != nil {
			return nil, rpcErr
		}
	}

	return ResponseWithContext{
		Context: Context{Slot: currentSlot},
		Value:   info,
	}, nil
}

// getBalance retrieves account balance.
func (s *Server) getBalance(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config BalanceConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	currentSlot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	account, rpcErr := s.getAccount(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if account != nil {
		lamports = account.Lamports
	}

	return ResponseWithContext{
		Context: Context{Slot: currentSlot},
		Value:   lamports,
	}, nil
}

// getMultipleAccounts retrieves multiple accounts.
func (s *Server) getMultipleAccounts(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var pubkeyStrs []string
	if err := json.Unmarshal(args[0], &pubkeyStrs); err != nil {
		return nil, InvalidParamsError("invalid pubkeys array")
	}
	if len(pubkeyStrs) > maxMultipleAccounts {
		return nil, InvalidParamsErrorf("too many pubkeys (max %d)", maxMultipleAccounts)
	}

	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	currentSlot, rpcErr := s.checkMinContextSlot(config.MinContextSlot)
	if rpcErr != nil {
		return nil, rpcErr
	}

	infos := make([]*AccountInfo, len(pubkeyStrs))
	for i, pubkeyStr := range pubkeyStrs {
		pubkey, err := types.PubkeyFromBase58(pubkeyStr)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid pubkey at index %d", i)
		}
		account, rpcErr := s.getAccount(pubkey)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if account == nil {
			continue
		}
		if infos[i], rpcErr = accountToAccountInfo(account, config.Encoding, config.DataSlice); rpcErr != nil {
			return nil, rpcErr
		}
	}

	return ResponseWithContext{
		Context: Context{Slot: currentSlot},
		Value:   infos,
	}, nil
}

// getTokenAccountBalance returns the balance of a token account.
func (s *Server) getTokenAccountBalance(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	account, rpcErr := s.getAccount(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if account == nil || account.Owner != types.TokenProgramAddr {
		return nil, InvalidParamsError("Invalid param: not a Token account")
	}
	tokenAccount, err := token.UnmarshalAccount(account.Data)
	if err != nil || !tokenAccount.IsInitialized() {
		return nil, InvalidParamsError("Invalid param: not a Token account")
	}

	mintAccount, rpcErr := s.getAccount(tokenAccount.Mint)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if mintAccount == nil {
		return nil, InvalidParamsError("Invalid param: mint could not be unpacked")
	}
	mint, err := token.UnmarshalMint(mintAccount.Data)
	if err != nil {
		return nil, InvalidParamsError("Invalid param: mint could not be unpacked")
	}

	return ResponseWithContext{
		Context: Context{Slot: s.accountsDB.Slot()},
		Value:   NewUITokenAmount(tokenAccount.Amount, mint.Decimals),
	}, nil
}

// accountToAccountInfo converts an account to RPC format.
func accountToAccountInfo(account *accounts.Account, encoding Encoding, slice *DataSlice) (*AccountInfo, *RPCError) {
	data := ApplyDataSlice(account.Data, slice)
	encoded, err := EncodeAccountData(data, encoding)
	if err != nil {
		return nil, InternalServerErrorf("failed to encode account data: %v", err)
	}
	return &AccountInfo{
		Data:       encoded,
		Executable: account.Executable,
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		RentEpoch:  account.RentEpoch,
		Space:      uint64(len(account.Data)),
	}, nil
}

// NewUITokenAmount formats amount base units of a mint with decimals.
func NewUITokenAmount(amount uint64, decimals uint8) UITokenAmount {
	str := FormatTokenAmount(amount, decimals)
	ui := UITokenAmount{
		Amount:         strconv.FormatUint(amount, 10),
		Decimals:       decimals,
		UIAmountString: str,
	}
	if f, err := strconv.ParseFloat(str, 64); err == nil {
		ui.UIAmount = &f
	}
	return ui
}

// FormatTokenAmount renders base units as a decimal string without
// trailing zeros, e.g. 1500000 with 6 decimals is "1.5".
func FormatTokenAmount(amount uint64, decimals uint8) string {
	digits := strconv.FormatUint(amount, 10)
	if decimals == 0 {
		return digits
	}
	d := int(decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-d], strings.TrimRight(digits[len(digits)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// Sale Methods

// loadSaleState reads the sale record. It returns nil when the sale has
// not been initialized.
func (s *Server) loadSaleState() (*ico.SaleState, *RPCError) {
	account, rpcErr := s.getAccount(s.sale.Addresses().State)
	if rpcErr != nil || account == nil {
		return nil, rpcErr
	}
	state, err := ico.UnmarshalSaleState(account.Data)
	if errors.Is(err, ico.ErrNotInitialized) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to decode sale state: %v", err)
	}
	return &state, nil
}

// getSaleState returns the sale record, or null before initialization.
func (s *Server) getSaleState(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	state, rpcErr := s.loadSaleState()
	if rpcErr != nil {
		return nil, rpcErr
	}

	var value *SaleStateInfo
	if state != nil {
		supply, err := state.Supply()
		if err != nil {
			return nil, InternalServerErrorf("sale supply: %v", err)
		}
		value = &SaleStateInfo{
			Address:   s.sale.Addresses().State.String(),
			SaleState: *state,
			Supply:    supply,
			Digest:    state.Digest().String(),
		}
	}

	return ResponseWithContext{
		Context: Context{Slot: s.accountsDB.Slot()},
		Value:   value,
	}, nil
}

// getSaleAddresses returns the derived addresses of the sale.
func (s *Server) getSaleAddresses(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return s.sale.Addresses(), nil
}

// quoteBuy returns the tokens a payment would buy at the current rate.
func (s *Server) quoteBuy(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var payment uint64
	if err := json.Unmarshal(args[0], &payment); err != nil {
		return nil, InvalidParamsError("invalid payment")
	}

	state, rpcErr := s.loadSaleState()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if state == nil {
		return nil, SaleError(ico.ErrNotInitialized)
	}
	tokens, err := s.sale.Quote(*state, payment)
	if err != nil {
		return nil, SaleError(err)
	}

	return ResponseWithContext{
		Context: Context{Slot: s.accountsDB.Slot()},
		Value:   Quote{Payment: payment, Tokens: tokens, Rate: state.Rate},
	}, nil
}

// Transaction Methods

// decodeTransactionArg decodes the wire transaction at args[0].
func decodeTransactionArg(args []json.RawMessage, encoding Encoding) (*runtime.Transaction, *RPCError) {
	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid transaction")
	}
	enc, err := transactionEncoding(encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("%v", err)
	}
	tx, err := runtime.DecodeTransaction(encoded, enc)
	if err != nil {
		return nil, InvalidParamsErrorf("failed to deserialize transaction: %v", err)
	}
	return tx, nil
}

// sendTransaction executes a signed transaction and returns its signature.
func (s *Server) sendTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SendTransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := decodeTransactionArg(args, config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	record, err := s.backend.SendTransaction(ctx, tx)
	if err != nil {
		return nil, submitError(err)
	}
	if record.Meta != nil && record.Meta.Err != nil {
		return nil, TransactionFailedError(record)
	}
	return record.Signature.String(), nil
}

// simulateTransaction executes a transaction without committing it.
func (s *Server) simulateTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SimulateTransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	tx, rpcErr := decodeTransactionArg(args, config.Encoding)
	if rpcErr != nil {
		return nil, rpcErr
	}

	record := s.backend.SimulateTransaction(tx, config.SigVerify)
	result := SimulationResult{}
	if record.Meta != nil {
		result.Err = record.Meta.Err
		result.Logs = record.Meta.LogMessages
		result.UnitsConsumed = record.Meta.ComputeUnitsConsumed
		result.PostBalances = record.Meta.PostBalances
	}

	return ResponseWithContext{
		Context: Context{Slot: record.Slot},
		Value:   result,
	}, nil
}

// getTransaction returns a recorded transaction, or null.
func (s *Server) getTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sig, rpcErr := parseSignature(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config TransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	txn, err := s.blockstore.GetTransaction(sig)
	if errors.Is(err, blockstore.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get transaction: %v", err)
	}

	resp := TransactionResponse{
		Slot:        txn.Slot,
		Transaction: EncodeTransaction(txn.Raw, config.Encoding),
		BlockTime:   &txn.BlockTime,
	}
	if m := txn.Meta; m != nil {
		resp.Meta = &TransactionMeta{
			Err:                  m.Err,
			PreBalances:          m.PreBalances,
			PostBalances:         m.PostBalances,
			LogMessages:          m.LogMessages,
			ComputeUnitsConsumed: m.ComputeUnitsConsumed,
		}
		if !m.SaleStateDigest.IsZero() {
			resp.Meta.SaleStateDigest = m.SaleStateDigest.String()
		}
	}
	return resp, nil
}

// getSignaturesForAddress returns the history of an address, newest first.
func (s *Server) getSignaturesForAddress(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	address, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SignaturesForAddressConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	if _, rpcErr := s.checkMinContextSlot(config.MinContextSlot); rpcErr != nil {
		return nil, rpcErr
	}

	opts := &blockstore.SignatureQueryOptions{Limit: config.Limit}
	if config.Before != "" {
		before, err := types.SignatureFromBase58(config.Before)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid before signature: %v", err)
		}
		opts.Before = &before
	}

	infos, err := s.blockstore.GetSignaturesForAddress(address, opts)
	if errors.Is(err, blockstore.ErrTransactionNotFound) {
		return nil, InvalidParamsError("before signature not found")
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get signatures: %v", err)
	}

	result := make([]SignatureInfo, len(infos))
	for i, info := range infos {
		blockTime := info.BlockTime
		result[i] = SignatureInfo{
			Signature:          info.Signature.String(),
			Slot:               info.Slot,
			Err:                info.Err,
			BlockTime:          &blockTime,
			ConfirmationStatus: confirmationFinalized,
		}
	}
	return result, nil
}

// getSignatureStatuses returns the status of each signature, null for
// unknown ones.
func (s *Server) getSignatureStatuses(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var sigStrs []string
	if err := json.Unmarshal(args[0], &sigStrs); err != nil {
		return nil, InvalidParamsError("invalid signatures array")
	}
	if len(sigStrs) > maxSignatureStatuses {
		return nil, InvalidParamsErrorf("too many signatures (max %d)", maxSignatureStatuses)
	}

	statuses := make([]*SignatureStatus, len(sigStrs))
	for i, sigStr := range sigStrs {
		sig, err := types.SignatureFromBase58(sigStr)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid signature at index %d", i)
		}
		txn, err := s.blockstore.GetTransaction(sig)
		if errors.Is(err, blockstore.ErrTransactionNotFound) {
			continue
		}
		if err != nil {
			return nil, InternalServerErrorf("failed to get transaction: %v", err)
		}
		status := &SignatureStatus{Slot: txn.Slot, ConfirmationStatus: confirmationFinalized}
		if txn.Meta != nil {
			status.Err = txn.Meta.Err
		}
		statuses[i] = status
	}

	return ResponseWithContext{
		Context: Context{Slot: s.accountsDB.Slot()},
		Value:   statuses,
	}, nil
}

// requestAirdrop sends faucet lamports to an address.
func (s *Server) requestAirdrop(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if err := json.Unmarshal(args[1], &lamports); err != nil {
		return nil, InvalidParamsError("invalid lamports")
	}

	sig, err := s.backend.RequestAirdrop(ctx, pubkey, lamports)
	if err != nil {
		return nil, InternalServerErrorf("airdrop request failed: %v", err)
	}
	return sig.String(), nil
}

// Cluster Methods

// getSlot returns the slot of the last committed transaction.
func (s *Server) getSlot(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return s.accountsDB.Slot(), nil
}

// getHealth returns the node health status.
func (s *Server) getHealth(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

// getVersion returns the node version.
func (s *Server) getVersion(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return VersionInfo{
		SolanaCore: Version,
		FeatureSet: FeatureSet,
	}, nil
}

// getLatestBlockhash returns the blockhash new transactions should carry.
func (s *Server) getLatestBlockhash(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	hash, slot := s.backend.LatestBlockhash()
	return ResponseWithContext{
		Context: Context{Slot: slot},
		Value: LatestBlockhash{
			Blockhash:            hash.String(),
			LastValidBlockHeight: slot + blockhashValidity,
		},
	}, nil
}

// getMinimumBalanceForRentExemption returns the rent-exempt minimum for an
// account of the given data size.
func (s *Server) getMinimumBalanceForRentExemption(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var size uint64
	if err := json.Unmarshal(args[0], &size); err != nil {
		return nil, InvalidParamsError("invalid data size")
	}
	if size > accounts.MaxDataSize {
		return nil, InvalidParamsErrorf("data size exceeds %d bytes", accounts.MaxDataSize)
	}
	return svm.RentExemptMinimum(size), nil
}
