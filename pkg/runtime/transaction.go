package runtime

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

// Errors.
var (
	ErrSignatureVerification = errors.New("signature verification failed")
	ErrUnexpectedSigner      = errors.New("key is not a required signer")
	ErrUnknownEncoding       = errors.New("unknown transaction encoding")
)

// Encoding names a text transport for wire transactions.
type Encoding string

const (
	EncodingBase58 Encoding = "base58"
	EncodingBase64 Encoding = "base64"
)

// Transaction is a message plus one signature per required signer, in
// account key order.
type Transaction struct {
	Signatures []types.Signature `json:"signatures"`
	Message    Message           `json:"message"`
}

// NewTransaction compiles instructions into an unsigned transaction.
func NewTransaction(payer types.Pubkey, instructions []svm.Instruction, blockhash types.Hash) (*Transaction, error) {
	msg, err := NewMessage(payer, instructions, blockhash)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Signatures: make([]types.Signature, msg.Header.NumRequiredSignatures),
		Message:    *msg,
	}, nil
}

// Sign adds a signature for every key. Each key must belong to a required
// signer of the message.
func (tx *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	signers := tx.Message.Signers()
	if len(tx.Signatures) != len(signers) {
		tx.Signatures = make([]types.Signature, len(signers))
	}
	payload := tx.Message.Serialize()
	for _, key := range keys {
		pub, err := types.PubkeyFromBytes(key.Public().(ed25519.PublicKey))
		if err != nil {
			return err
		}
		idx := -1
		for i, s := range signers {
			if s == pub {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrUnexpectedSigner, pub)
		}
		copy(tx.Signatures[idx][:], ed25519.Sign(key, payload))
	}
	return nil
}

// Signature returns the fee payer's signature, which identifies the
// transaction.
func (tx *Transaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// VerifySignatures checks that every required signer signed the message.
func (tx *Transaction) VerifySignatures() error {
	signers := tx.Message.Signers()
	if len(tx.Signatures) != len(signers) {
		return fmt.Errorf("%w: %d signatures for %d signers", ErrSignatureVerification, len(tx.Signatures), len(signers))
	}
	payload := tx.Message.Serialize()
	for i, key := range signers {
		if !tx.Signatures[i].Verify(key, payload) {
			return fmt.Errorf("%w: signer %s", ErrSignatureVerification, key)
		}
	}
	return nil
}

// Serialize encodes the transaction in wire form.
func (tx *Transaction) Serialize() []byte {
	var e encoder
	e.length(len(tx.Signatures))
	for _, sig := range tx.Signatures {
		e.raw(sig[:])
	}
	e.raw(tx.Message.Serialize())
	return e.buf
}

// DeserializeTransaction decodes wire bytes and validates the message.
func DeserializeTransaction(b []byte) (*Transaction, error) {
	d := &decoder{buf: b}
	n := d.length()
	tx := &Transaction{Signatures: make([]types.Signature, 0, n)}
	for i := 0; i < n && d.err == nil; i++ {
		var sig types.Signature
		copy(sig[:], d.raw(len(sig)))
		tx.Signatures = append(tx.Signatures, sig)
	}
	msg := decodeMessage(d)
	if err := d.finish(); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	tx.Message = *msg
	return tx, nil
}

// Encode returns the wire form as text.
func (tx *Transaction) Encode(enc Encoding) (string, error) {
	raw := tx.Serialize()
	switch enc {
	case EncodingBase58:
		return base58.Encode(raw), nil
	case EncodingBase64, "":
		return base64.StdEncoding.EncodeToString(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
	}
}

// DecodeTransaction parses a text-encoded wire transaction.
func DecodeTransaction(s string, enc Encoding) (*Transaction, error) {
	var raw []byte
	var err error
	switch enc {
	case EncodingBase58:
		raw, err = base58.Decode(s)
	case EncodingBase64, "":
		raw, err = base64.StdEncoding.DecodeString(s)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return DeserializeTransaction(raw)
}

// Instruction expands the compiled instruction at index back into program
// id and account metas.
func (m *Message) Instruction(index int) (svm.Instruction, error) {
	if index < 0 || index >= len(m.Instructions) {
		return svm.Instruction{}, fmt.Errorf("%w: no instruction %d", ErrInvalidMessage, index)
	}
	ci := m.Instructions[index]
	if int(ci.ProgramIDIndex) >= len(m.AccountKeys) {
		return svm.Instruction{}, fmt.Errorf("%w: program index %d", ErrInvalidMessage, ci.ProgramIDIndex)
	}
	ix := svm.Instruction{
		ProgramID: m.AccountKeys[ci.ProgramIDIndex],
		Accounts:  make([]svm.AccountMeta, len(ci.Accounts)),
		Data:      ci.Data,
	}
	for i, a := range ci.Accounts {
		if int(a) >= len(m.AccountKeys) {
			return svm.Instruction{}, fmt.Errorf("%w: account index %d", ErrInvalidMessage, a)
		}
		ix.Accounts[i] = svm.AccountMeta{
			Pubkey:     m.AccountKeys[a],
			IsSigner:   m.IsSigner(int(a)),
			IsWritable: m.IsWritable(int(a)),
		}
	}
	return ix, nil
}
