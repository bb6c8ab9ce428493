package rpc

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-ico/pkg/blockstore"
	"github.com/fortiblox/stratus-ico/pkg/ico"
	"github.com/fortiblox/stratus-ico/pkg/runtime"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Server error codes, numbered as on Solana RPC nodes.
const (
	// TransactionFailed indicates the transaction executed and failed, or
	// was rejected before execution.
	TransactionFailed = -32002

	// TransactionSignatureVerificationFailure indicates signature verification failed.
	TransactionSignatureVerificationFailure = -32003

	// NodeUnhealthy indicates the node is unhealthy.
	NodeUnhealthy = -32005

	// MinContextSlotNotReached indicates min context slot not yet reached.
	MinContextSlotNotReached = -32016
)

// Common error messages.
var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
	ErrMethodNotFound = NewRPCError(MethodNotFound, "Method not found")
	ErrInvalidParams  = NewRPCError(InvalidParams, "Invalid params")
	ErrInternalError  = NewRPCError(InternalError, "Internal error")
	ErrNodeUnhealthy  = NewRPCError(NodeUnhealthy, "Node is unhealthy")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// MinContextSlotError creates an error for min context slot not reached.
func MinContextSlotError(minSlot, currentSlot uint64) *RPCError {
	return NewRPCErrorWithData(MinContextSlotNotReached,
		fmt.Sprintf("Minimum context slot %d has not been reached, current slot is %d", minSlot, currentSlot),
		map[string]uint64{"minSlot": minSlot, "currentSlot": currentSlot})
}

// TransactionErrorData is the data of a TransactionFailed error.
type TransactionErrorData struct {
	Signature string                       `json:"signature,omitempty"`
	Code      uint32                       `json:"code,omitempty"`
	Kind      string                       `json:"kind"`
	Err       *blockstore.TransactionError `json:"err,omitempty"`
	Logs      []string                     `json:"logs,omitempty"`
}

// TransactionFailedError reports a transaction that executed and failed.
func TransactionFailedError(txn *blockstore.Transaction) *RPCError {
	txErr := txn.Meta.Err
	return NewRPCErrorWithData(TransactionFailed,
		"Transaction failed: "+txErr.Message,
		TransactionErrorData{
			Signature: txn.Signature.String(),
			Code:      txErr.Code,
			Kind:      txErr.Kind,
			Err:       txErr,
			Logs:      txn.Meta.LogMessages,
		})
}

// SaleError reports an operation rejected by the sale rules.
func SaleError(err error) *RPCError {
	code, kind, ok := ico.ErrorCode(err)
	if !ok {
		return InternalServerErrorf("%v", err)
	}
	return NewRPCErrorWithData(TransactionFailed, err.Error(),
		TransactionErrorData{Code: code, Kind: kind})
}

// submitError maps a transaction that never executed to an RPC error.
func submitError(err error) *RPCError {
	switch {
	case errors.Is(err, runtime.ErrSignatureVerification):
		return NewRPCError(TransactionSignatureVerificationFailure, err.Error())
	case errors.Is(err, blockstore.ErrDuplicateSignature):
		return NewRPCErrorWithData(TransactionFailed,
			"Transaction failed: "+err.Error(),
			TransactionErrorData{Kind: "AlreadyProcessed"})
	case errors.Is(err, runtime.ErrInvalidMessage), errors.Is(err, runtime.ErrTooManyAccounts):
		return NewRPCErrorWithData(TransactionFailed,
			"Transaction failed: "+err.Error(),
			TransactionErrorData{Kind: "SanitizeFailure"})
	default:
		return InternalServerErrorf("%v", err)
	}
}
