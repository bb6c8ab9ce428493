// Package types defines the key, signature and hash types shared by the
// sale runtime, its programs and its clients.
//
// Keys and signatures are Ed25519 and use base58 as their text form, the same
// convention wallets and explorers use for Solana-style ledgers.
package types

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// Size constants for core types.
const (
	PubkeySize    = 32
	SignatureSize = 64
	HashSize      = 32
)

var (
	// ErrInvalidPubkey is returned when a pubkey has invalid length.
	ErrInvalidPubkey = errors.New("invalid pubkey: must be 32 bytes")

	// ErrInvalidSignature is returned when a signature has invalid length.
	ErrInvalidSignature = errors.New("invalid signature: must be 64 bytes")

	// ErrInvalidHash is returned when a hash has invalid length.
	ErrInvalidHash = errors.New("invalid hash: must be 32 bytes")
)

// Pubkey is an account address. For wallets it is an Ed25519 public key; for
// program derived addresses it is a point deliberately off the curve.
type Pubkey [PubkeySize]byte

// PubkeyFromBase58 parses a base58-encoded public key.
func PubkeyFromBase58(s string) (Pubkey, error) {
	var p Pubkey
	data, err := base58.Decode(s)
	if err != nil {
		return p, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != PubkeySize {
		return p, ErrInvalidPubkey
	}
	copy(p[:], data)
	return p, nil
}

// MustPubkeyFromBase58 is PubkeyFromBase58 for compile-time constants.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(fmt.Sprintf("invalid pubkey %q: %v", s, err))
	}
	return p
}

// PubkeyFromBytes creates a Pubkey from a byte slice.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	if len(b) != PubkeySize {
		return p, ErrInvalidPubkey
	}
	copy(p[:], b)
	return p, nil
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether the pubkey is all zeros.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

func (p Pubkey) Equals(other Pubkey) bool {
	return p == other
}

func (p Pubkey) Bytes() []byte {
	return p[:]
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := PubkeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Signature represents a 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

// SignatureFromBase58 parses a base58-encoded signature.
func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	data, err := base58.Decode(s)
	if err != nil {
		return sig, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != SignatureSize {
		return sig, ErrInvalidSignature
	}
	copy(sig[:], data)
	return sig, nil
}

func (s Signature) String() string {
	return base58.Encode(s[:])
}

// IsZero reports whether the signature is all zeros.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// Verify verifies this signature against a message and public key.
func (s Signature) Verify(pubkey Pubkey, message []byte) bool {
	return ed25519.Verify(pubkey[:], message, s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := SignatureFromBase58(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Hash is a 32-byte BLAKE3 digest.
type Hash [HashSize]byte

// HashFromBase58 parses a base58-encoded hash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	data, err := base58.Decode(s)
	if err != nil {
		return h, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], data)
	return h, nil
}

// ComputeHash hashes the concatenation of parts.
func ComputeHash(parts ...[]byte) Hash {
	hasher := blake3.New()
	for _, p := range parts {
		hasher.Write(p)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

func (h Hash) String() string {
	return base58.Encode(h[:])
}

// Hex returns the hex-encoded representation.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromBase58(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
