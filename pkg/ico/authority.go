package ico

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/pda"
)

// Default seed namespaces.
const (
	DefaultEscrowNamespace = "program_ata"
	DefaultStateNamespace  = "ico_pda"
)

// Config identifies one sale: the program that runs it, the token it sells,
// and the seed namespaces its addresses are derived under.
type Config struct {
	ProgramID       types.Pubkey `yaml:"program_id" json:"programId"`
	Mint            types.Pubkey `yaml:"mint" json:"mint"`
	EscrowNamespace string       `yaml:"escrow_namespace" json:"escrowNamespace"`
	StateNamespace  string       `yaml:"state_namespace" json:"stateNamespace"`
}

// WithDefaults fills empty namespaces.
func (c Config) WithDefaults() Config {
	if c.EscrowNamespace == "" {
		c.EscrowNamespace = DefaultEscrowNamespace
	}
	if c.StateNamespace == "" {
		c.StateNamespace = DefaultStateNamespace
	}
	return c
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.ProgramID.IsZero() {
		return errors.New("sale config: program id is required")
	}
	if c.Mint.IsZero() {
		return errors.New("sale config: mint is required")
	}
	namespaces := []struct{ name, value string }{
		{"escrow", c.EscrowNamespace},
		{"state", c.StateNamespace},
	}
	for _, ns := range namespaces {
		if len(ns.value) == 0 || len(ns.value) > pda.MaxSeedLen {
			return fmt.Errorf("sale config: %s namespace must be 1-%d bytes", ns.name, pda.MaxSeedLen)
		}
	}
	if c.EscrowNamespace == c.StateNamespace {
		return errors.New("sale config: escrow and state namespaces must differ")
	}
	return nil
}

// SignerSeeds is a proof that the sale program authorizes one transfer out
// of escrow. The runtime accepts it only from the sale program and only if
// it re-derives the escrow authority.
type SignerSeeds [][]byte

// EscrowAuthority is the keyless identity that owns the escrow token
// account. The escrow account lives at the authority's own address.
type EscrowAuthority struct {
	Address types.Pubkey
	Bump    uint8

	seeds [][]byte
}

func escrowSeeds(cfg Config) [][]byte {
	return [][]byte{[]byte(cfg.EscrowNamespace), cfg.Mint.Bytes()}
}

// DeriveEscrowAuthority searches for the authority of cfg's sale. It is a
// pure function of cfg.
func DeriveEscrowAuthority(cfg Config) (EscrowAuthority, error) {
	seeds := escrowSeeds(cfg)
	addr, bump, err := pda.FindProgramAddress(seeds, cfg.ProgramID)
	if err != nil {
		return EscrowAuthority{}, fmt.Errorf("derive escrow authority: %w", err)
	}
	return EscrowAuthority{Address: addr, Bump: bump, seeds: seeds}, nil
}

// RestoreEscrowAuthority rebuilds the authority from a recorded bump without
// searching. A bump that does not produce a valid address is an authority
// mismatch.
func RestoreEscrowAuthority(cfg Config, bump uint8) (EscrowAuthority, error) {
	seeds := escrowSeeds(cfg)
	addr, err := pda.CreateProgramAddress(pda.WithBump(seeds, bump), cfg.ProgramID)
	if err != nil {
		return EscrowAuthority{}, fmt.Errorf("%w: bump %d: %v", ErrAuthorityMismatch, bump, err)
	}
	return EscrowAuthority{Address: addr, Bump: bump, seeds: seeds}, nil
}

// Verify rejects an escrow account other than the one this authority
// controls.
func (a EscrowAuthority) Verify(escrow types.Pubkey) error {
	if escrow != a.Address {
		return fmt.Errorf("%w: got %s, want %s", ErrAuthorityMismatch, escrow, a.Address)
	}
	return nil
}

// Sign returns fresh signer seeds for one outbound escrow transfer.
func (a EscrowAuthority) Sign() SignerSeeds {
	seeds := make([][]byte, len(a.seeds))
	for i, s := range a.seeds {
		seeds[i] = append([]byte(nil), s...)
	}
	return SignerSeeds(pda.WithBump(seeds, a.Bump))
}

// Addresses are every derived address of one sale.
type Addresses struct {
	ProgramID  types.Pubkey `json:"programId"`
	Mint       types.Pubkey `json:"mint"`
	State      types.Pubkey `json:"state"`
	StateBump  uint8        `json:"stateBump"`
	Escrow     types.Pubkey `json:"escrow"`
	EscrowBump uint8        `json:"escrowBump"`
}

func stateSeeds(cfg Config) [][]byte {
	return [][]byte{[]byte(cfg.StateNamespace), cfg.Mint.Bytes()}
}

// DeriveAddresses derives the sale record and escrow addresses for cfg.
func DeriveAddresses(cfg Config) (Addresses, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Addresses{}, err
	}
	escrow, err := DeriveEscrowAuthority(cfg)
	if err != nil {
		return Addresses{}, err
	}
	state, stateBump, err := pda.FindProgramAddress(stateSeeds(cfg), cfg.ProgramID)
	if err != nil {
		return Addresses{}, fmt.Errorf("derive sale state address: %w", err)
	}
	return Addresses{
		ProgramID:  cfg.ProgramID,
		Mint:       cfg.Mint,
		State:      state,
		StateBump:  stateBump,
		Escrow:     escrow.Address,
		EscrowBump: escrow.Bump,
	}, nil
}
