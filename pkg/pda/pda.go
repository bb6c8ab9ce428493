// Package pda derives program addresses: account addresses that are a pure
// function of a program id and a list of seeds, and that no private key can
// sign for because they lie off the Ed25519 curve.
//
// The runtime lets the owning program sign for such an address by presenting
// the same seeds, which is how keyless escrow authorities are built.
package pda

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/fortiblox/stratus-ico/internal/types"
)

// Derivation limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

var marker = []byte("ProgramDerivedAddress")

var (
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")

	// ErrOnCurve is returned when the seeds hash to a valid curve point,
	// which would make the address signable by a private key.
	ErrOnCurve = errors.New("derived address is on the ed25519 curve")

	// ErrNoViableBump is returned when no bump in [0, 255] yields an
	// off-curve address.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress derives the address for seeds under programID. The
// seeds must already include any bump.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}
	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, fmt.Errorf("seed %d: %w", i, ErrMaxSeedLengthExceeded)
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(marker)

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr[:]) {
		return types.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down to 0 and returns the first
// off-curve address together with its bump. The result is deterministic.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether b decodes to a point on the Ed25519 curve.
func IsOnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// WithBump returns seeds followed by the one-byte bump, ready to be used as
// signer seeds for an invocation.
func WithBump(seeds [][]byte, bump uint8) [][]byte {
	out := make([][]byte, 0, len(seeds)+1)
	out = append(out, seeds...)
	return append(out, []byte{bump})
}
