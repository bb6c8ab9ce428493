package token

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

// Serialized sizes. Both layouts match the widely deployed token program so
// off-the-shelf tooling can decode the accounts.
const (
	MintSize    = 82
	AccountSize = 165
)

// AccountState is the lifecycle state of a token account.
type AccountState byte

const (
	AccountStateUninitialized AccountState = iota
	AccountStateInitialized
	AccountStateFrozen
)

// Mint describes a token.
type Mint struct {
	// MintAuthority may mint new units. Nil means supply is fixed.
	MintAuthority   *types.Pubkey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *types.Pubkey
}

// Account holds a balance of one mint on behalf of Owner.
type Account struct {
	Mint            types.Pubkey
	Owner           types.Pubkey
	Amount          uint64
	Delegate        *types.Pubkey
	State           AccountState
	IsNative        *uint64
	DelegatedAmount uint64
	CloseAuthority  *types.Pubkey
}

// IsInitialized reports whether the account has been initialized.
func (a *Account) IsInitialized() bool {
	return a.State != AccountStateUninitialized
}

// Marshal encodes the mint into its 82-byte layout.
func (m *Mint) Marshal() []byte {
	b := make([]byte, MintSize)
	w := writer{buf: b}
	w.optionalKey(m.MintAuthority)
	w.uint64(m.Supply)
	w.byte(m.Decimals)
	w.bool(m.IsInitialized)
	w.optionalKey(m.FreezeAuthority)
	return b
}

// UnmarshalMint decodes an 82-byte mint.
func UnmarshalMint(b []byte) (*Mint, error) {
	if len(b) != MintSize {
		return nil, ErrInvalidAccountData
	}
	r := reader{buf: b}
	m := &Mint{}
	m.MintAuthority = r.optionalKey()
	m.Supply = r.uint64()
	m.Decimals = r.byte()
	m.IsInitialized = r.byte() != 0
	m.FreezeAuthority = r.optionalKey()
	return m, nil
}

// Marshal encodes the account into its 165-byte layout.
func (a *Account) Marshal() []byte {
	b := make([]byte, AccountSize)
	w := writer{buf: b}
	w.key(a.Mint)
	w.key(a.Owner)
	w.uint64(a.Amount)
	w.optionalKey(a.Delegate)
	w.byte(byte(a.State))
	w.optionalUint64(a.IsNative)
	w.uint64(a.DelegatedAmount)
	w.optionalKey(a.CloseAuthority)
	return b
}

// UnmarshalAccount decodes a 165-byte token account.
func UnmarshalAccount(b []byte) (*Account, error) {
	if len(b) != AccountSize {
		return nil, ErrInvalidAccountData
	}
	r := reader{buf: b}
	a := &Account{}
	a.Mint = r.key()
	a.Owner = r.key()
	a.Amount = r.uint64()
	a.Delegate = r.optionalKey()
	a.State = AccountState(r.byte())
	a.IsNative = r.optionalUint64()
	a.DelegatedAmount = r.uint64()
	a.CloseAuthority = r.optionalKey()
	if a.State > AccountStateFrozen {
		return nil, ErrInvalidAccountData
	}
	return a, nil
}

// NewMintAccount returns a rent-exempt ledger account holding m.
func NewMintAccount(m *Mint) *accounts.Account {
	return &accounts.Account{
		Lamports: svm.RentExemptMinimum(MintSize),
		Data:     m.Marshal(),
		Owner:    types.TokenProgramAddr,
	}
}

// NewTokenAccount returns a rent-exempt ledger account holding a.
func NewTokenAccount(a *Account) *accounts.Account {
	return &accounts.Account{
		Lamports: svm.RentExemptMinimum(AccountSize),
		Data:     a.Marshal(),
		Owner:    types.TokenProgramAddr,
	}
}

// Option fields carry a u32 tag followed by the value, present or not.
type writer struct {
	buf []byte
	off int
}

func (w *writer) key(k types.Pubkey) {
	w.off += copy(w.buf[w.off:], k[:])
}

func (w *writer) uint64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

func (w *writer) byte(v byte) {
	w.buf[w.off] = v
	w.off++
}

func (w *writer) bool(v bool) {
	if v {
		w.byte(1)
	} else {
		w.byte(0)
	}
}

func (w *writer) optionalKey(k *types.Pubkey) {
	if k != nil {
		binary.LittleEndian.PutUint32(w.buf[w.off:], 1)
		copy(w.buf[w.off+4:], k[:])
	}
	w.off += 4 + types.PubkeySize
}

func (w *writer) optionalUint64(v *uint64) {
	if v != nil {
		binary.LittleEndian.PutUint32(w.buf[w.off:], 1)
		binary.LittleEndian.PutUint64(w.buf[w.off+4:], *v)
	}
	w.off += 4 + 8
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) key() types.Pubkey {
	var k types.Pubkey
	r.off += copy(k[:], r.buf[r.off:])
	return k
}

func (r *reader) uint64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) byte() byte {
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) optionalKey() *types.Pubkey {
	tag := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	k := r.key()
	if tag == 0 {
		return nil
	}
	return &k
}

func (r *reader) optionalUint64() *uint64 {
	tag := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	v := r.uint64()
	if tag == 0 {
		return nil
	}
	return &v
}
