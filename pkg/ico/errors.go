package ico

import (
	"errors"
	"fmt"
)

// Error kinds. Every rejected operation returns exactly one of these
// (possibly wrapped), and leaves the sale record untouched.
var (
	ErrUnauthorized              = errors.New("caller is not the sale admin")
	ErrAlreadyInitialized        = errors.New("sale already initialized")
	ErrInvalidRate               = errors.New("rate must be greater than zero")
	ErrInvalidAmount             = errors.New("amount must be greater than zero")
	ErrInsufficientEscrowBalance = errors.New("insufficient escrow token balance")
	ErrInsufficientBuyerFunds    = errors.New("insufficient buyer funds")
	ErrArithmeticOverflow        = errors.New("arithmetic overflow")
	ErrTransferFailed            = errors.New("transfer failed")
	ErrAuthorityMismatch         = errors.New("escrow account does not match the derived authority")
	ErrAccountMismatch           = errors.New("account does not match the sale configuration")
	ErrNotInitialized            = errors.New("sale not initialized")
	ErrInvalidInstruction        = errors.New("invalid sale instruction")
)

// TransferError wraps a failure reported by a transfer primitive. It matches
// both ErrTransferFailed and the primitive's own error under errors.Is.
type TransferError struct {
	// Op names the transfer that failed, e.g. "buy payment".
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrTransferFailed, e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func (e *TransferError) Is(target error) bool {
	return target == ErrTransferFailed
}

// ErrorCodeBase is the first custom error code. Codes are stable: new kinds
// are appended, never renumbered.
const ErrorCodeBase = 6000

var errorKinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrInvalidRate, "InvalidRate"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInsufficientEscrowBalance, "InsufficientEscrowBalance"},
	{ErrInsufficientBuyerFunds, "InsufficientBuyerFunds"},
	{ErrArithmeticOverflow, "ArithmeticOverflow"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrAuthorityMismatch, "AuthorityMismatch"},
	{ErrAccountMismatch, "AccountMismatch"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrInvalidInstruction, "InvalidInstruction"},
}

// ErrorCode maps err to its stable numeric code and kind name. ok is false
// when err is not a sale error.
func ErrorCode(err error) (code uint32, kind string, ok bool) {
	if err == nil {
		return 0, "", false
	}
	for i, k := range errorKinds {
		if errors.Is(err, k.err) {
			return ErrorCodeBase + uint32(i), k.name, true
		}
	}
	return 0, "", false
}
