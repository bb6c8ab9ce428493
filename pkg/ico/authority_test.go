package ico

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/pda"
)

func seqMint() types.Pubkey {
	var k types.Pubkey
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func TestDeriveAddressesKnownVectors(t *testing.T) {
	addrs, err := DeriveAddresses(Config{ProgramID: types.SaleProgramAddr, Mint: seqMint()})
	require.NoError(t, err)

	assert.Equal(t, "WJuY2Zwuur35d812SFAkPYchFSmPeWccR6dGX9bNtbe", addrs.Escrow.String())
	assert.Equal(t, uint8(253), addrs.EscrowBump)
	assert.Equal(t, "kTrvNFVDwikRPPyB22WKPsGP7Fr7hr8ZQ3qVR54s4XW", addrs.State.String())
	assert.Equal(t, uint8(255), addrs.StateBump)
}

func TestEscrowAuthorityDeterministic(t *testing.T) {
	cfg := testSaleConfig.WithDefaults()
	a, err := DeriveEscrowAuthority(cfg)
	require.NoError(t, err)
	b, err := DeriveEscrowAuthority(cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Address, b.Address)
	assert.Equal(t, a.Bump, b.Bump)
	assert.False(t, pda.IsOnCurve(a.Address[:]))

	other := cfg
	other.Mint = key(0x44)
	c, err := DeriveEscrowAuthority(other)
	require.NoError(t, err)
	assert.NotEqual(t, a.Address, c.Address)
}

func TestRestoreEscrowAuthority(t *testing.T) {
	cfg := testSaleConfig.WithDefaults()
	derived, err := DeriveEscrowAuthority(cfg)
	require.NoError(t, err)

	restored, err := RestoreEscrowAuthority(cfg, derived.Bump)
	require.NoError(t, err)
	assert.Equal(t, derived.Address, restored.Address)
	assert.NoError(t, restored.Verify(derived.Address))
	assert.ErrorIs(t, restored.Verify(adminTokens), ErrAuthorityMismatch)
}

func TestRestoreOnCurveBump(t *testing.T) {
	// Bump 255 lands on the curve for this mint.
	cfg := Config{ProgramID: types.SaleProgramAddr, Mint: seqMint()}.WithDefaults()
	_, err := RestoreEscrowAuthority(cfg, 255)
	assert.ErrorIs(t, err, ErrAuthorityMismatch)
}

func TestSignRederivesAuthority(t *testing.T) {
	cfg := testSaleConfig.WithDefaults()
	auth, err := DeriveEscrowAuthority(cfg)
	require.NoError(t, err)

	seeds := auth.Sign()
	addr, err := pda.CreateProgramAddress(seeds, cfg.ProgramID)
	require.NoError(t, err)
	assert.Equal(t, auth.Address, addr)

	// Seeds are only valid under the program that derived them.
	other, err := pda.CreateProgramAddress(seeds, types.TokenProgramAddr)
	if err == nil {
		assert.NotEqual(t, auth.Address, other)
	}

	// Tampering with one proof does not affect the next.
	seeds[0][0] ^= 0xFF
	fresh := auth.Sign()
	addr, err = pda.CreateProgramAddress(fresh, cfg.ProgramID)
	require.NoError(t, err)
	assert.Equal(t, auth.Address, addr)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"defaults", testSaleConfig.WithDefaults(), true},
		{"no program", Config{Mint: testMint}.WithDefaults(), false},
		{"no mint", Config{ProgramID: testProgramID}.WithDefaults(), false},
		{"same namespaces", Config{ProgramID: testProgramID, Mint: testMint, EscrowNamespace: "x", StateNamespace: "x"}, false},
		{"namespace too long", Config{ProgramID: testProgramID, Mint: testMint, EscrowNamespace: string(make([]byte, 33)), StateNamespace: "s"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfigValidateChecksEscrowNamespaceFirst(t *testing.T) {
	cfg := Config{ProgramID: testProgramID, Mint: testMint}
	for i := 0; i < 20; i++ {
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "escrow namespace")
	}

	cfg.EscrowNamespace = "vault"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state namespace")
}

func TestCustomNamespacesChangeAddresses(t *testing.T) {
	a, err := DeriveAddresses(testSaleConfig)
	require.NoError(t, err)
	b, err := DeriveAddresses(Config{ProgramID: testProgramID, Mint: testMint, EscrowNamespace: "vault", StateNamespace: "sale"})
	require.NoError(t, err)
	assert.NotEqual(t, a.Escrow, b.Escrow)
	assert.NotEqual(t, a.State, b.State)
	assert.NotEqual(t, a.Escrow, a.State)
}
