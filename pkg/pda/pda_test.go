package pda

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-ico/internal/types"
)

func TestCreateProgramAddressKnownVector(t *testing.T) {
	programID := types.MustPubkeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")

	addr, err := CreateProgramAddress([][]byte{{}, {1}}, programID)
	require.NoError(t, err)
	assert.Equal(t, "BwqrghZA2htAcqq8dzP1WDAhTXYTYWj7CHxF5j7TDBAe", addr.String())
}

func TestFindProgramAddressSkipsOnCurveBumps(t *testing.T) {
	programID := types.MustPubkeyFromBase58("6YwGqfFgoZhtDtBHv8ofDvYyhVChyDwp2xQ2WM7nsh4j")
	var mint types.Pubkey
	for i := range mint {
		mint[i] = byte(i + 1)
	}

	escrow, bump, err := FindProgramAddress([][]byte{[]byte("program_ata"), mint[:]}, programID)
	require.NoError(t, err)
	assert.Equal(t, uint8(253), bump)
	assert.Equal(t, "WJuY2Zwuur35d812SFAkPYchFSmPeWccR6dGX9bNtbe", escrow.String())

	state, bump, err := FindProgramAddress([][]byte{[]byte("ico_pda"), mint[:]}, programID)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), bump)
	assert.Equal(t, "kTrvNFVDwikRPPyB22WKPsGP7Fr7hr8ZQ3qVR54s4XW", state.String())

	// 254 and 255 hash onto the curve for this seed set.
	_, err = CreateProgramAddress([][]byte{[]byte("program_ata"), mint[:], {255}}, programID)
	assert.ErrorIs(t, err, ErrOnCurve)
}

func TestFindMatchesCreate(t *testing.T) {
	programID := types.SaleProgramAddr
	seeds := [][]byte{[]byte("bump-test"), {1}}

	addr, bump, err := FindProgramAddress(seeds, programID)
	require.NoError(t, err)

	again, err := CreateProgramAddress(WithBump(seeds, bump), programID)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.False(t, IsOnCurve(addr[:]))

	// Deterministic.
	addr2, bump2, err := FindProgramAddress(seeds, programID)
	require.NoError(t, err)
	assert.Equal(t, addr, addr2)
	assert.Equal(t, bump, bump2)

	// A different program gets a different address.
	other, _, err := FindProgramAddress(seeds, types.TokenProgramAddr)
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)
}

func TestSeedLimits(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, MaxSeedLen+1)}, types.SaleProgramAddr)
	assert.ErrorIs(t, err, ErrMaxSeedLengthExceeded)

	_, err = CreateProgramAddress(make([][]byte, MaxSeeds+1), types.SaleProgramAddr)
	assert.ErrorIs(t, err, ErrMaxSeedsExceeded)

	_, _, err = FindProgramAddress(make([][]byte, MaxSeeds), types.SaleProgramAddr)
	assert.ErrorIs(t, err, ErrMaxSeedsExceeded)
}

func TestIsOnCurveAcceptsRealKeys(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	assert.True(t, IsOnCurve(pub))
	assert.False(t, IsOnCurve(pub[:31]))
}

func TestWithBumpDoesNotAlias(t *testing.T) {
	seeds := make([][]byte, 1, 4)
	seeds[0] = []byte("a")
	a := WithBump(seeds, 1)
	b := WithBump(seeds, 2)
	assert.Equal(t, []byte{1}, a[1])
	assert.Equal(t, []byte{2}, b[1])
}
