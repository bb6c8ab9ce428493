// Package keypair loads and stores ed25519 signing keys.
//
// Key files hold the 64-byte private key as a JSON array of numbers, the
// format wallet tooling on Solana-style ledgers reads and writes.
package keypair

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fortiblox/stratus-ico/internal/types"
)

// Keypair is a signing identity.
type Keypair struct {
	Private ed25519.PrivateKey
	Pubkey  types.Pubkey
}

// FromPrivateKey wraps an existing private key.
func FromPrivateKey(private ed25519.PrivateKey) Keypair {
	var pub types.Pubkey
	copy(pub[:], private.Public().(ed25519.PublicKey))
	return Keypair{Private: private, Pubkey: pub}
}

// FromSeed derives a keypair from a 32-byte seed.
func FromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("seed has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return FromPrivateKey(ed25519.NewKeyFromSeed(seed)), nil
}

// Generate creates a random keypair.
func Generate() (Keypair, error) {
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("generating ed25519 keypair: %w", err)
	}
	return FromPrivateKey(private), nil
}

// Save writes the keypair to path with 0600 permissions.
func (k Keypair) Save(path string) error {
	nums := make([]int, len(k.Private))
	for i, b := range k.Private {
		nums[i] = int(b)
	}
	data, err := json.Marshal(nums)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

// Load reads a keypair written by Save. The public half stored in the file
// must match the one derived from the seed.
func Load(path string) (Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Keypair{}, fmt.Errorf("reading key file: %w", err)
	}
	var nums []byte
	var raw []int
	if err := json.Unmarshal(data, &raw); err != nil {
		return Keypair{}, fmt.Errorf("parse key file %s: %w", path, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return Keypair{}, fmt.Errorf("key file %s has %d bytes, want %d", path, len(raw), ed25519.PrivateKeySize)
	}
	for _, n := range raw {
		if n < 0 || n > 255 {
			return Keypair{}, fmt.Errorf("key file %s: byte value %d out of range", path, n)
		}
		nums = append(nums, byte(n))
	}

	kp := FromPrivateKey(ed25519.NewKeyFromSeed(nums[:ed25519.SeedSize]))
	if !bytes.Equal(kp.Private, nums) {
		return Keypair{}, fmt.Errorf("key file %s: public key does not match seed", path)
	}
	return kp, nil
}

// LoadOrGenerate loads the keypair at path, or generates and saves a new
// one when the file does not exist. The boolean reports a new key.
func LoadOrGenerate(path string) (Keypair, bool, error) {
	kp, err := Load(path)
	if err == nil {
		return kp, false, nil
	}
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		return Keypair{}, false, err
	}

	kp, err = Generate()
	if err != nil {
		return Keypair{}, false, err
	}
	if err := kp.Save(path); err != nil {
		return Keypair{}, false, err
	}
	return kp, true, nil
}
