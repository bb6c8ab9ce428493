package ico

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/pda"
)

func key(b byte) types.Pubkey {
	var k types.Pubkey
	for i := range k {
		k[i] = b
	}
	return k
}

var (
	adminKey        = key(0xA0)
	adminTokens     = key(0xA1)
	buyerKey        = key(0xB0)
	buyerTokens     = key(0xB1)
	strangerKey     = key(0xC0)
	errInjected     = errors.New("injected failure")
	testProgramID   = types.SaleProgramAddr
	testMint        = key(0x33)
	testSaleConfig  = Config{ProgramID: testProgramID, Mint: testMint}
	bigTokenBalance = uint64(1 << 40)
)

// memLedger is a transactional in-memory ledger. run applies one operation
// and rolls every balance back when it fails.
type memLedger struct {
	tokens   map[types.Pubkey]uint64
	owners   map[types.Pubkey]types.Pubkey
	lamports map[types.Pubkey]uint64

	failTokenTransfers bool
	transfers          int
}

func newMemLedger(t *testing.T, m *Machine) *memLedger {
	t.Helper()
	escrow := m.Addresses().Escrow
	return &memLedger{
		tokens:   map[types.Pubkey]uint64{adminTokens: bigTokenBalance, buyerTokens: 0},
		owners:   map[types.Pubkey]types.Pubkey{adminTokens: adminKey, buyerTokens: buyerKey, escrow: escrow},
		lamports: map[types.Pubkey]uint64{adminKey: 0, buyerKey: 1_000_000},
	}
}

func (l *memLedger) TransferTokens(from, to, authority types.Pubkey, seeds SignerSeeds, amount uint64) error {
	l.transfers++
	if l.failTokenTransfers {
		return errInjected
	}
	if l.owners[from] != authority {
		return errors.New("authority does not own source")
	}
	if seeds != nil {
		addr, err := pda.CreateProgramAddress(seeds, testProgramID)
		if err != nil || addr != authority {
			return errors.New("bad signer seeds")
		}
	}
	if l.tokens[from] < amount {
		return errors.New("insufficient tokens")
	}
	l.tokens[from] -= amount
	l.tokens[to] += amount
	return nil
}

func (l *memLedger) TransferLamports(from, to types.Pubkey, amount uint64) error {
	l.transfers++
	if l.lamports[from] < amount {
		return errors.New("insufficient lamports")
	}
	l.lamports[from] -= amount
	l.lamports[to] += amount
	return nil
}

func (l *memLedger) Lamports(account types.Pubkey) (uint64, error) {
	return l.lamports[account], nil
}

func (l *memLedger) snapshot() (map[types.Pubkey]uint64, map[types.Pubkey]uint64) {
	t, lp := map[types.Pubkey]uint64{}, map[types.Pubkey]uint64{}
	for k, v := range l.tokens {
		t[k] = v
	}
	for k, v := range l.lamports {
		lp[k] = v
	}
	return t, lp
}

func (l *memLedger) run(op func() (SaleState, error)) (SaleState, error) {
	tokens, lamports := l.snapshot()
	s, err := op()
	if err != nil {
		l.tokens, l.lamports = tokens, lamports
	}
	return s, err
}

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewMachine(testSaleConfig)
	require.NoError(t, err)
	return m
}

func initialized(t *testing.T, m *Machine, l *memLedger, rate, deposit uint64) SaleState {
	t.Helper()
	s, err := m.Initialize(l, nil, InitializeRequest{
		Admin: adminKey, AdminTokenAccount: adminTokens, Escrow: m.Addresses().Escrow,
		Rate: rate, Deposit: deposit, Decimals: 6, StateBump: m.Addresses().StateBump,
	})
	require.NoError(t, err)
	return s
}

func TestScenarioInitialize(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)

	s := initialized(t, m, l, 5, 1000)
	assert.Equal(t, adminKey, s.Admin)
	assert.Equal(t, uint64(5), s.Rate)
	assert.Equal(t, uint64(1000), s.TokenBalance)
	assert.Zero(t, s.TotalSold)
	assert.Zero(t, s.TotalReceived)
	assert.Equal(t, m.Addresses().EscrowBump, s.EscrowBump)
	assert.Equal(t, uint64(1000), l.tokens[m.Addresses().Escrow])

	_, err := m.Initialize(l, &s, InitializeRequest{Admin: adminKey, Escrow: m.Addresses().Escrow, Rate: 5})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitializeRejections(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)

	_, err := m.Initialize(l, nil, InitializeRequest{Admin: adminKey, AdminTokenAccount: adminTokens, Escrow: m.Addresses().Escrow, Rate: 0, Deposit: 1})
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = m.Initialize(l, nil, InitializeRequest{Admin: adminKey, AdminTokenAccount: adminTokens, Escrow: key(0xEE), Rate: 1, Deposit: 1})
	assert.ErrorIs(t, err, ErrAuthorityMismatch)

	l.tokens[adminTokens] = 5
	_, err = l.run(func() (SaleState, error) {
		return m.Initialize(l, nil, InitializeRequest{Admin: adminKey, AdminTokenAccount: adminTokens, Escrow: m.Addresses().Escrow, Rate: 1, Deposit: 6})
	})
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, uint64(5), l.tokens[adminTokens])
}

func TestScenarioBuy(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)

	next, err := m.Buy(l, s, BuyRequest{Caller: buyerKey, CallerTokenAccount: buyerTokens, Escrow: m.Addresses().Escrow, Payment: 10})
	require.NoError(t, err)
	assert.Equal(t, uint64(950), next.TokenBalance)
	assert.Equal(t, uint64(50), next.TotalSold)
	assert.Equal(t, uint64(10), next.TotalReceived)
	assert.Equal(t, uint64(50), l.tokens[buyerTokens])
	assert.Equal(t, uint64(10), l.lamports[adminKey])
	assert.Equal(t, uint64(999_990), l.lamports[buyerKey])

	// The input record is never modified.
	assert.Equal(t, uint64(1000), s.TokenBalance)
}

func TestScenarioBuyExceedsEscrow(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)
	s, err := m.Buy(l, s, BuyRequest{Caller: buyerKey, CallerTokenAccount: buyerTokens, Escrow: m.Addresses().Escrow, Payment: 10})
	require.NoError(t, err)
	before := s.Digest()
	transfers := l.transfers

	after, err := m.Buy(l, s, BuyRequest{Caller: buyerKey, CallerTokenAccount: buyerTokens, Escrow: m.Addresses().Escrow, Payment: 10_000})
	assert.ErrorIs(t, err, ErrInsufficientEscrowBalance)
	assert.Equal(t, before, after.Digest())
	assert.Equal(t, transfers, l.transfers, "no transfer may be attempted")
}

func TestScenarioWithdrawByStranger(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)
	transfers := l.transfers

	after, err := m.Withdraw(l, s, WithdrawRequest{Caller: strangerKey, CallerTokenAccount: buyerTokens, Escrow: m.Addresses().Escrow, Amount: 1})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, s, after)
	assert.Equal(t, transfers, l.transfers)
}

func TestScenarioRepriceToZero(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)

	after, err := m.Reprice(s, RepriceRequest{Caller: adminKey, Rate: 0})
	assert.ErrorIs(t, err, ErrInvalidRate)
	assert.Equal(t, s.Digest(), after.Digest())

	after, err = m.Reprice(s, RepriceRequest{Caller: adminKey, Rate: 7})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), after.Rate)
}

func TestAdminOperationsRejectStrangers(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)
	escrow := m.Addresses().Escrow

	// Authorization is checked before argument validation.
	_, err := m.Deposit(l, s, DepositRequest{Caller: strangerKey, CallerTokenAccount: adminTokens, Escrow: escrow, Amount: 0})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = m.Withdraw(l, s, WithdrawRequest{Caller: strangerKey, Escrow: key(0xEE), Amount: math.MaxUint64})
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = m.Reprice(s, RepriceRequest{Caller: strangerKey, Rate: 0})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAmountValidation(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)
	escrow := m.Addresses().Escrow

	_, err := m.Deposit(l, s, DepositRequest{Caller: adminKey, CallerTokenAccount: adminTokens, Escrow: escrow})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = m.Withdraw(l, s, WithdrawRequest{Caller: adminKey, CallerTokenAccount: adminTokens, Escrow: escrow})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = m.Buy(l, s, BuyRequest{Caller: buyerKey, CallerTokenAccount: buyerTokens, Escrow: escrow})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = m.Withdraw(l, s, WithdrawRequest{Caller: adminKey, CallerTokenAccount: adminTokens, Escrow: escrow, Amount: 1001})
	assert.ErrorIs(t, err, ErrInsufficientEscrowBalance)
}

func TestBuyOverflow(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)
	l.lamports[buyerKey] = math.MaxUint64

	after, err := m.Buy(l, s, BuyRequest{Caller: buyerKey, CallerTokenAccount: buyerTokens, Escrow: m.Addresses().Escrow, Payment: math.MaxUint64/5 + 1})
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
	assert.Equal(t, s.Digest(), after.Digest())
}

func TestDepositOverflow(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)
	s.TokenBalance = math.MaxUint64 - 1

	_, err := m.Deposit(l, s, DepositRequest{Caller: adminKey, CallerTokenAccount: adminTokens, Escrow: m.Addresses().Escrow, Amount: 2})
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestBuyInsufficientBuyerFunds(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)
	l.lamports[buyerKey] = 9

	_, err := m.Buy(l, s, BuyRequest{Caller: buyerKey, CallerTokenAccount: buyerTokens, Escrow: m.Addresses().Escrow, Payment: 10})
	assert.ErrorIs(t, err, ErrInsufficientBuyerFunds)
	assert.Equal(t, uint64(9), l.lamports[buyerKey])
}

func TestBuyTokenFailureRollsBackPayment(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)
	l.failTokenTransfers = true

	after, err := l.run(func() (SaleState, error) {
		return m.Buy(l, s, BuyRequest{Caller: buyerKey, CallerTokenAccount: buyerTokens, Escrow: m.Addresses().Escrow, Payment: 10})
	})
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, errInjected)
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "buy tokens", terr.Op)

	assert.Equal(t, s, after)
	assert.Equal(t, uint64(1_000_000), l.lamports[buyerKey])
	assert.Zero(t, l.lamports[adminKey])
}

func TestWrongEscrowRejectedBeforeTransfer(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)
	transfers := l.transfers

	_, err := m.Withdraw(l, s, WithdrawRequest{Caller: adminKey, CallerTokenAccount: adminTokens, Escrow: buyerTokens, Amount: 1})
	assert.ErrorIs(t, err, ErrAuthorityMismatch)
	_, err = m.Buy(l, s, BuyRequest{Caller: buyerKey, CallerTokenAccount: buyerTokens, Escrow: buyerTokens, Payment: 1})
	assert.ErrorIs(t, err, ErrAuthorityMismatch)

	s.EscrowBump++
	_, err = m.Deposit(l, s, DepositRequest{Caller: adminKey, CallerTokenAccount: adminTokens, Escrow: m.Addresses().Escrow, Amount: 1})
	assert.ErrorIs(t, err, ErrAuthorityMismatch)
	assert.Equal(t, transfers, l.transfers)
}

func TestEscrowReleaseToItselfRejected(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	s := initialized(t, m, l, 5, 1000)
	escrow := m.Addresses().Escrow
	transfers := l.transfers

	after, err := m.Withdraw(l, s, WithdrawRequest{Caller: adminKey, CallerTokenAccount: escrow, Escrow: escrow, Amount: 400})
	assert.ErrorIs(t, err, ErrAccountMismatch)
	assert.Equal(t, s, after)

	after, err = m.Buy(l, s, BuyRequest{Caller: buyerKey, CallerTokenAccount: escrow, Escrow: escrow, Payment: 10})
	assert.ErrorIs(t, err, ErrAccountMismatch)
	assert.Equal(t, s, after)

	assert.Equal(t, transfers, l.transfers, "no transfer may be attempted")
	assert.Equal(t, uint64(1_000_000), l.lamports[buyerKey])
	assert.Equal(t, uint64(1000), l.tokens[escrow])
}

func TestRandomSequencePreservesInvariants(t *testing.T) {
	m := newTestMachine(t)
	l := newMemLedger(t, m)
	l.lamports[buyerKey] = 1 << 50
	escrow := m.Addresses().Escrow
	s := initialized(t, m, l, 3, 10_000)

	rng := rand.New(rand.NewSource(7))
	deposited, withdrawn := uint64(10_000), uint64(0)
	callers := []types.Pubkey{adminKey, strangerKey}

	for i := 0; i < 2000; i++ {
		prev := s
		caller := callers[rng.Intn(len(callers))]
		amount := uint64(rng.Intn(5000))

		var next SaleState
		var err error
		switch rng.Intn(4) {
		case 0:
			next, err = l.run(func() (SaleState, error) {
				return m.Deposit(l, s, DepositRequest{Caller: caller, CallerTokenAccount: adminTokens, Escrow: escrow, Amount: amount})
			})
			if err == nil {
				deposited += amount
			}
		case 1:
			next, err = l.run(func() (SaleState, error) {
				return m.Withdraw(l, s, WithdrawRequest{Caller: caller, CallerTokenAccount: adminTokens, Escrow: escrow, Amount: amount})
			})
			if err == nil {
				withdrawn += amount
			}
		case 2:
			next, err = l.run(func() (SaleState, error) {
				return m.Buy(l, s, BuyRequest{Caller: buyerKey, CallerTokenAccount: buyerTokens, Escrow: escrow, Payment: amount / 10})
			})
		case 3:
			next, err = m.Reprice(s, RepriceRequest{Caller: caller, Rate: uint64(rng.Intn(6))})
		}

		if err != nil {
			require.Equal(t, prev.Digest(), next.Digest(), "failed op %d changed state", i)
			continue
		}
		s = next

		supply, err := s.Supply()
		require.NoError(t, err)
		require.Equal(t, deposited-withdrawn, supply, "conservation broken at op %d", i)
		require.GreaterOrEqual(t, s.TotalSold, prev.TotalSold)
		require.GreaterOrEqual(t, s.TotalReceived, prev.TotalReceived)
		require.Equal(t, l.tokens[escrow], s.TokenBalance, "escrow out of sync at op %d", i)
		require.Equal(t, adminKey, s.Admin)
	}
}

func TestQuote(t *testing.T) {
	m := newTestMachine(t)
	s := SaleState{Admin: adminKey, Mint: testMint, Rate: 5, TokenBalance: 100}

	tokens, err := m.Quote(s, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), tokens)

	_, err = m.Quote(s, 21)
	assert.ErrorIs(t, err, ErrInsufficientEscrowBalance)

	s.Rate = 0
	_, err = m.Quote(s, 1)
	assert.ErrorIs(t, err, ErrInvalidRate)
}
