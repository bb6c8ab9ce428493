// Package ico implements a fixed-rate token sale.
//
// An admin places tokens in an escrow account whose authority is derived from
// the sale's configuration, so no private key for it exists. Anyone may buy
// tokens from escrow by paying lamports to the admin at the sale's rate; only
// the admin may deposit, withdraw or reprice.
//
// The Machine holds the rules. It never mutates a SaleState in place: each
// operation stages a new record, performs the transfers through a Ledger,
// and returns the staged record only when every transfer succeeded. The
// caller persists the result together with the ledger's changes, or neither.
package ico

import (
	"fmt"

	"github.com/fortiblox/stratus-ico/internal/log"
	"github.com/fortiblox/stratus-ico/internal/types"
)

// Ledger is the pair of transfer primitives the sale drives. Implementations
// must apply each transfer completely or not at all.
type Ledger interface {
	// TransferTokens moves amount tokens from one token account to
	// another. authority owns from; seeds are non-nil when authority is
	// the escrow authority and must be honoured for this call only.
	TransferTokens(from, to, authority types.Pubkey, seeds SignerSeeds, amount uint64) error

	// TransferLamports moves native currency from a signing wallet.
	TransferLamports(from, to types.Pubkey, amount uint64) error

	// Lamports returns the spendable balance of a wallet.
	Lamports(account types.Pubkey) (uint64, error)
}

// EscrowOpener is implemented by ledgers that must create the escrow account
// before the first deposit.
type EscrowOpener interface {
	OpenEscrow(authority EscrowAuthority, payer types.Pubkey) error
}

// InitializeRequest creates a sale.
type InitializeRequest struct {
	Admin             types.Pubkey
	AdminTokenAccount types.Pubkey
	Escrow            types.Pubkey
	Rate              uint64
	Deposit           uint64
	Decimals          uint8
	StateBump         uint8
}

// DepositRequest moves tokens from the admin into escrow.
type DepositRequest struct {
	Caller             types.Pubkey
	CallerTokenAccount types.Pubkey
	Escrow             types.Pubkey
	Amount             uint64
}

// WithdrawRequest moves tokens from escrow back to the admin.
type WithdrawRequest struct {
	Caller             types.Pubkey
	CallerTokenAccount types.Pubkey
	Escrow             types.Pubkey
	Amount             uint64
}

// BuyRequest exchanges Payment lamports for tokens.
type BuyRequest struct {
	Caller             types.Pubkey
	CallerTokenAccount types.Pubkey
	Escrow             types.Pubkey
	Payment            uint64
}

// RepriceRequest changes the rate.
type RepriceRequest struct {
	Caller types.Pubkey
	Rate   uint64
}

// Machine applies sale operations for one Config.
type Machine struct {
	cfg   Config
	addrs Addresses
}

// NewMachine validates cfg and derives the sale's addresses.
func NewMachine(cfg Config) (*Machine, error) {
	cfg = cfg.WithDefaults()
	addrs, err := DeriveAddresses(cfg)
	if err != nil {
		return nil, err
	}
	return &Machine{cfg: cfg, addrs: addrs}, nil
}

func (m *Machine) Config() Config {
	return m.cfg
}

func (m *Machine) Addresses() Addresses {
	return m.addrs
}

// authorize fails unless caller is the sale admin. It runs before any other
// check of an admin operation.
func authorize(s SaleState, caller types.Pubkey) error {
	if caller != s.Admin {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

// escrowFor rebuilds the recorded authority and checks escrow against it.
func (m *Machine) escrowFor(s SaleState, escrow types.Pubkey) (EscrowAuthority, error) {
	if s.Mint != m.cfg.Mint {
		return EscrowAuthority{}, fmt.Errorf("%w: record is for mint %s", ErrAccountMismatch, s.Mint)
	}
	auth, err := RestoreEscrowAuthority(m.cfg, s.EscrowBump)
	if err != nil {
		return EscrowAuthority{}, err
	}
	if err := auth.Verify(escrow); err != nil {
		return EscrowAuthority{}, err
	}
	return auth, nil
}

// outbound rejects an escrow release whose destination is the escrow itself.
// The token program accepts a self-transfer without moving anything, so the
// recorded balance would drop while the tokens stay put.
func outbound(auth EscrowAuthority, dst types.Pubkey) error {
	if dst == auth.Address {
		return fmt.Errorf("%w: destination %s is the escrow", ErrAccountMismatch, dst)
	}
	return nil
}

// Initialize creates the sale record. existing is the current record, or nil
// when none exists.
func (m *Machine) Initialize(l Ledger, existing *SaleState, req InitializeRequest) (SaleState, error) {
	if existing != nil {
		return SaleState{}, ErrAlreadyInitialized
	}
	if req.Rate == 0 {
		return SaleState{}, ErrInvalidRate
	}
	auth, err := DeriveEscrowAuthority(m.cfg)
	if err != nil {
		return SaleState{}, err
	}
	if err := auth.Verify(req.Escrow); err != nil {
		return SaleState{}, err
	}

	next := SaleState{
		Admin:        req.Admin,
		Mint:         m.cfg.Mint,
		Rate:         req.Rate,
		TokenBalance: req.Deposit,
		Decimals:     req.Decimals,
		EscrowBump:   auth.Bump,
		StateBump:    req.StateBump,
	}

	if opener, ok := l.(EscrowOpener); ok {
		if err := opener.OpenEscrow(auth, req.Admin); err != nil {
			return SaleState{}, &TransferError{Op: "open escrow", Err: err}
		}
	}
	if err := l.TransferTokens(req.AdminTokenAccount, auth.Address, req.Admin, nil, req.Deposit); err != nil {
		return SaleState{}, &TransferError{Op: "initial deposit", Err: err}
	}

	log.Sale.Debug().
		Str("admin", req.Admin.String()).
		Str("escrow", auth.Address.String()).
		Uint64("rate", req.Rate).
		Uint64("deposit", req.Deposit).
		Msg("sale initialize staged")
	return next, nil
}

// Deposit adds admin tokens to escrow.
func (m *Machine) Deposit(l Ledger, s SaleState, req DepositRequest) (SaleState, error) {
	if err := authorize(s, req.Caller); err != nil {
		return s, err
	}
	if req.Amount == 0 {
		return s, ErrInvalidAmount
	}
	auth, err := m.escrowFor(s, req.Escrow)
	if err != nil {
		return s, err
	}

	next := s
	if next.TokenBalance, err = checkedAdd(s.TokenBalance, req.Amount); err != nil {
		return s, err
	}
	if _, err := next.Supply(); err != nil {
		return s, err
	}

	if err := l.TransferTokens(req.CallerTokenAccount, auth.Address, req.Caller, nil, req.Amount); err != nil {
		return s, &TransferError{Op: "deposit", Err: err}
	}

	log.Sale.Info().Uint64("amount", req.Amount).Uint64("balance", next.TokenBalance).Msg("tokens deposited")
	return next, nil
}

// Withdraw returns escrowed tokens to the admin.
func (m *Machine) Withdraw(l Ledger, s SaleState, req WithdrawRequest) (SaleState, error) {
	if err := authorize(s, req.Caller); err != nil {
		return s, err
	}
	if req.Amount == 0 {
		return s, ErrInvalidAmount
	}
	if req.Amount > s.TokenBalance {
		return s, fmt.Errorf("%w: withdraw %d, balance %d", ErrInsufficientEscrowBalance, req.Amount, s.TokenBalance)
	}
	auth, err := m.escrowFor(s, req.Escrow)
	if err != nil {
		return s, err
	}
	if err := outbound(auth, req.CallerTokenAccount); err != nil {
		return s, err
	}

	next := s
	if next.TokenBalance, err = checkedSub(s.TokenBalance, req.Amount); err != nil {
		return s, err
	}

	if err := l.TransferTokens(auth.Address, req.CallerTokenAccount, auth.Address, auth.Sign(), req.Amount); err != nil {
		return s, &TransferError{Op: "withdraw", Err: err}
	}

	log.Sale.Info().Uint64("amount", req.Amount).Uint64("balance", next.TokenBalance).Msg("tokens withdrawn")
	return next, nil
}

// Quote returns the tokens a payment buys under s, applying the same checks
// as Buy except the buyer's balance.
func (m *Machine) Quote(s SaleState, payment uint64) (uint64, error) {
	if s.Rate == 0 {
		return 0, ErrInvalidRate
	}
	if payment == 0 {
		return 0, ErrInvalidAmount
	}
	tokens, err := checkedMul(payment, s.Rate)
	if err != nil {
		return 0, err
	}
	if tokens > s.TokenBalance {
		return 0, fmt.Errorf("%w: want %d, balance %d", ErrInsufficientEscrowBalance, tokens, s.TokenBalance)
	}
	return tokens, nil
}

// Buy pays the admin and releases tokens from escrow to the caller. The
// payment moves first; if the token release then fails the caller must
// discard the ledger's changes, which the runtime does by not committing the
// transaction.
func (m *Machine) Buy(l Ledger, s SaleState, req BuyRequest) (SaleState, error) {
	tokens, err := m.Quote(s, req.Payment)
	if err != nil {
		return s, err
	}
	auth, err := m.escrowFor(s, req.Escrow)
	if err != nil {
		return s, err
	}
	if err := outbound(auth, req.CallerTokenAccount); err != nil {
		return s, err
	}

	next := s
	if next.TotalReceived, err = checkedAdd(s.TotalReceived, req.Payment); err != nil {
		return s, err
	}
	if next.TotalSold, err = checkedAdd(s.TotalSold, tokens); err != nil {
		return s, err
	}
	if next.TokenBalance, err = checkedSub(s.TokenBalance, tokens); err != nil {
		return s, err
	}

	funds, err := l.Lamports(req.Caller)
	if err != nil {
		return s, err
	}
	if funds < req.Payment {
		return s, fmt.Errorf("%w: need %d, have %d", ErrInsufficientBuyerFunds, req.Payment, funds)
	}

	if err := l.TransferLamports(req.Caller, s.Admin, req.Payment); err != nil {
		return s, &TransferError{Op: "buy payment", Err: err}
	}
	if err := l.TransferTokens(auth.Address, req.CallerTokenAccount, auth.Address, auth.Sign(), tokens); err != nil {
		return s, &TransferError{Op: "buy tokens", Err: err}
	}

	log.Sale.Info().
		Str("buyer", req.Caller.String()).
		Uint64("payment", req.Payment).
		Uint64("tokens", tokens).
		Uint64("balance", next.TokenBalance).
		Msg("tokens sold")
	return next, nil
}

// Reprice changes the rate. No transfers happen.
func (m *Machine) Reprice(s SaleState, req RepriceRequest) (SaleState, error) {
	if err := authorize(s, req.Caller); err != nil {
		return s, err
	}
	if req.Rate == 0 {
		return s, ErrInvalidRate
	}
	next := s
	next.Rate = req.Rate

	log.Sale.Info().Uint64("old_rate", s.Rate).Uint64("rate", req.Rate).Msg("sale repriced")
	return next, nil
}
