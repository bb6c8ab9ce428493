// Package accounts stores the ledger's account records.
//
// Every balance the sale touches lives here: wallets (lamports owned by the
// system program), the mint and token accounts (owned by the token program)
// and the sale record itself (owned by the sale program). The store only
// knows about opaque accounts; interpreting their data is the owning
// program's job.
//
// Writes go through SetAccounts, which applies a whole transaction's changes
// and the new slot in one atomic batch. A crash or error can never leave half
// of a transaction's accounts written.
package accounts

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/fortiblox/stratus-ico/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when a stored account is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxDataSize bounds the data of a single account.
const MaxDataSize = 10 * 1024 * 1024

// Account is a single ledger record.
type Account struct {
	Lamports uint64

	// Data is interpreted by Owner; only Owner may change it.
	Data []byte

	Owner      types.Pubkey
	Executable bool
	RentEpoch  uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// IsZero reports whether the account holds nothing worth persisting. Zero
// accounts are deleted instead of stored.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

const fixedSize = 8 + 8 + 32 + 1 + 8

// Serialize encodes the account as
// lamports(8) | data_len(8) | data | owner(32) | executable(1) | rent_epoch(8).
func (a *Account) Serialize() []byte {
	buf := make([]byte, fixedSize+len(a.Data))
	binary.LittleEndian.PutUint64(buf[0:], a.Lamports)
	binary.LittleEndian.PutUint64(buf[8:], uint64(len(a.Data)))
	n := 16 + copy(buf[16:], a.Data)
	n += copy(buf[n:], a.Owner[:])
	if a.Executable {
		buf[n] = 1
	}
	binary.LittleEndian.PutUint64(buf[n+1:], a.RentEpoch)
	return buf
}

// DeserializeAccount decodes an account written by Serialize.
func DeserializeAccount(buf []byte) (*Account, error) {
	if len(buf) < fixedSize {
		return nil, ErrInvalidData
	}
	dataLen := binary.LittleEndian.Uint64(buf[8:])
	if dataLen > MaxDataSize || uint64(len(buf)) != fixedSize+dataLen {
		return nil, ErrInvalidData
	}
	end := 16 + int(dataLen)

	acct := &Account{
		Lamports:   binary.LittleEndian.Uint64(buf[0:]),
		Data:       append([]byte(nil), buf[16:end]...),
		Executable: buf[end+32] != 0,
		RentEpoch:  binary.LittleEndian.Uint64(buf[end+33:]),
	}
	copy(acct.Owner[:], buf[end:end+32])
	return acct, nil
}

// Entry pairs an address with its account.
type Entry struct {
	Pubkey  types.Pubkey
	Account *Account
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount returns a copy of the stored account or
	// ErrAccountNotFound.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	HasAccount(pubkey types.Pubkey) (bool, error)

	// SetAccounts writes every entry and records slot atomically. Zero
	// accounts are deleted.
	SetAccounts(entries []Entry, slot uint64) error

	// Slot returns the slot of the last committed batch.
	Slot() uint64

	AccountsCount() (uint64, error)

	// IterateAccounts calls fn for every account in ascending pubkey
	// order. Returning an error from fn stops the iteration.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

func (m *MemoryDB) SetAccounts(entries []Entry, slot uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, e := range entries {
		if e.Account == nil || e.Account.IsZero() {
			delete(m.accounts, e.Pubkey)
			continue
		}
		m.accounts[e.Pubkey] = e.Account.Clone()
	}
	m.slot = slot
	return nil
}

func (m *MemoryDB) Slot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	entries := make([]Entry, 0, len(m.accounts))
	for k, v := range m.accounts {
		entries = append(entries, Entry{Pubkey: k, Account: v.Clone()})
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return ComparePubkeys(entries[i].Pubkey, entries[j].Pubkey) < 0
	})
	for _, e := range entries {
		if err := fn(e.Pubkey, e.Account); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.accounts = nil
	return nil
}

var _ DB = (*MemoryDB)(nil)
