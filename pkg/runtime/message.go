package runtime

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

// MaxAccountKeys is the largest number of distinct accounts one message may
// reference. Account indexes are single bytes.
const MaxAccountKeys = 256

var (
	ErrInvalidMessage  = errors.New("invalid message")
	ErrTooManyAccounts = errors.New("too many account keys")
)

// MessageHeader describes the account types in a message. Account keys are
// ordered writable signers, readonly signers, writable non-signers, readonly
// non-signers.
type MessageHeader struct {
	NumRequiredSignatures       uint8 `json:"numRequiredSignatures"`
	NumReadonlySignedAccounts   uint8 `json:"numReadonlySignedAccounts"`
	NumReadonlyUnsignedAccounts uint8 `json:"numReadonlyUnsignedAccounts"`
}

// CompiledInstruction references its program and accounts by index into the
// message's account keys.
type CompiledInstruction struct {
	ProgramIDIndex uint8   `json:"programIdIndex"`
	Accounts       []uint8 `json:"accounts"`
	Data           []byte  `json:"data"`
}

// Message is the signed part of a transaction.
type Message struct {
	Header      MessageHeader  `json:"header"`
	AccountKeys []types.Pubkey `json:"accountKeys"`

	// RecentBlockhash is an opaque client nonce. It makes otherwise
	// identical transactions sign differently.
	RecentBlockhash types.Hash            `json:"recentBlockhash"`
	Instructions    []CompiledInstruction `json:"instructions"`
}

type keyMeta struct {
	key      types.Pubkey
	signer   bool
	writable bool
}

// NewMessage compiles instructions into a message paid for by payer. The
// payer is always the first account key.
func NewMessage(payer types.Pubkey, instructions []svm.Instruction, blockhash types.Hash) (*Message, error) {
	metas := []*keyMeta{{key: payer, signer: true, writable: true}}
	index := map[types.Pubkey]*keyMeta{payer: metas[0]}
	add := func(key types.Pubkey, signer, writable bool) {
		m, ok := index[key]
		if !ok {
			m = &keyMeta{key: key}
			index[key] = m
			metas = append(metas, m)
		}
		m.signer = m.signer || signer
		m.writable = m.writable || writable
	}
	for _, ix := range instructions {
		for _, a := range ix.Accounts {
			add(a.Pubkey, a.IsSigner, a.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}
	if len(metas) > MaxAccountKeys {
		return nil, fmt.Errorf("%w: %d", ErrTooManyAccounts, len(metas))
	}

	var groups [4][]*keyMeta
	for _, m := range metas {
		switch {
		case m.signer && m.writable:
			groups[0] = append(groups[0], m)
		case m.signer:
			groups[1] = append(groups[1], m)
		case m.writable:
			groups[2] = append(groups[2], m)
		default:
			groups[3] = append(groups[3], m)
		}
	}

	msg := &Message{
		Header: MessageHeader{
			NumRequiredSignatures:       uint8(len(groups[0]) + len(groups[1])),
			NumReadonlySignedAccounts:   uint8(len(groups[1])),
			NumReadonlyUnsignedAccounts: uint8(len(groups[3])),
		},
		RecentBlockhash: blockhash,
	}
	position := make(map[types.Pubkey]uint8, len(metas))
	for _, g := range groups {
		for _, m := range g {
			position[m.key] = uint8(len(msg.AccountKeys))
			msg.AccountKeys = append(msg.AccountKeys, m.key)
		}
	}

	for _, ix := range instructions {
		compiled := CompiledInstruction{
			ProgramIDIndex: position[ix.ProgramID],
			Accounts:       make([]uint8, len(ix.Accounts)),
			Data:           append([]byte(nil), ix.Data...),
		}
		for i, a := range ix.Accounts {
			compiled.Accounts[i] = position[a.Pubkey]
		}
		msg.Instructions = append(msg.Instructions, compiled)
	}
	return msg, nil
}

// IsSigner reports whether the account at index must sign.
func (m *Message) IsSigner(index int) bool {
	return index < int(m.Header.NumRequiredSignatures)
}

// IsWritable reports whether the account at index may be modified.
func (m *Message) IsWritable(index int) bool {
	signers := int(m.Header.NumRequiredSignatures)
	if index < signers {
		return index < signers-int(m.Header.NumReadonlySignedAccounts)
	}
	return index < len(m.AccountKeys)-int(m.Header.NumReadonlyUnsignedAccounts)
}

// Signers returns the keys that must sign, fee payer first.
func (m *Message) Signers() []types.Pubkey {
	return m.AccountKeys[:m.Header.NumRequiredSignatures]
}

// FeePayer returns the first account key.
func (m *Message) FeePayer() types.Pubkey {
	if len(m.AccountKeys) == 0 {
		return types.Pubkey{}
	}
	return m.AccountKeys[0]
}

// Validate checks the header and every index are consistent.
func (m *Message) Validate() error {
	n := len(m.AccountKeys)
	h := m.Header
	switch {
	case n == 0 || n > MaxAccountKeys:
		return fmt.Errorf("%w: %d account keys", ErrInvalidMessage, n)
	case h.NumRequiredSignatures == 0:
		return fmt.Errorf("%w: no fee payer", ErrInvalidMessage)
	case int(h.NumRequiredSignatures) > n:
		return fmt.Errorf("%w: %d signers for %d keys", ErrInvalidMessage, h.NumRequiredSignatures, n)
	case h.NumReadonlySignedAccounts >= h.NumRequiredSignatures:
		return fmt.Errorf("%w: fee payer must be writable", ErrInvalidMessage)
	case int(h.NumReadonlyUnsignedAccounts) > n-int(h.NumRequiredSignatures):
		return fmt.Errorf("%w: readonly count exceeds unsigned keys", ErrInvalidMessage)
	}

	seen := make(map[types.Pubkey]struct{}, n)
	for _, k := range m.AccountKeys {
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: duplicate account key %s", ErrInvalidMessage, k)
		}
		seen[k] = struct{}{}
	}

	for i, ix := range m.Instructions {
		if int(ix.ProgramIDIndex) >= n {
			return fmt.Errorf("%w: instruction %d program index %d", ErrInvalidMessage, i, ix.ProgramIDIndex)
		}
		for _, a := range ix.Accounts {
			if int(a) >= n {
				return fmt.Errorf("%w: instruction %d account index %d", ErrInvalidMessage, i, a)
			}
		}
	}
	return nil
}

// Serialize encodes the message in its compact wire form. This is the byte
// string signers sign.
func (m *Message) Serialize() []byte {
	var e encoder
	e.byte(m.Header.NumRequiredSignatures)
	e.byte(m.Header.NumReadonlySignedAccounts)
	e.byte(m.Header.NumReadonlyUnsignedAccounts)
	e.length(len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		e.raw(k[:])
	}
	e.raw(m.RecentBlockhash[:])
	e.length(len(m.Instructions))
	for _, ix := range m.Instructions {
		e.byte(ix.ProgramIDIndex)
		e.length(len(ix.Accounts))
		e.raw(ix.Accounts)
		e.length(len(ix.Data))
		e.raw(ix.Data)
	}
	return e.buf
}

func decodeMessage(d *decoder) *Message {
	m := &Message{}
	m.Header.NumRequiredSignatures = d.byte()
	m.Header.NumReadonlySignedAccounts = d.byte()
	m.Header.NumReadonlyUnsignedAccounts = d.byte()

	n := d.length()
	if n > MaxAccountKeys {
		d.fail(ErrTooManyAccounts)
		return m
	}
	m.AccountKeys = make([]types.Pubkey, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		var k types.Pubkey
		copy(k[:], d.raw(len(k)))
		m.AccountKeys = append(m.AccountKeys, k)
	}
	copy(m.RecentBlockhash[:], d.raw(len(m.RecentBlockhash)))

	count := d.length()
	for i := 0; i < count && d.err == nil; i++ {
		var ix CompiledInstruction
		ix.ProgramIDIndex = d.byte()
		ix.Accounts = append([]uint8(nil), d.raw(d.length())...)
		ix.Data = append([]byte(nil), d.raw(d.length())...)
		m.Instructions = append(m.Instructions, ix)
	}
	return m
}

// DeserializeMessage decodes a message produced by Serialize.
func DeserializeMessage(b []byte) (*Message, error) {
	d := &decoder{buf: b}
	m := decodeMessage(d)
	if err := d.finish(); err != nil {
		return nil, err
	}
	return m, nil
}
