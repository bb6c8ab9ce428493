package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/svm"
	"github.com/fortiblox/stratus-ico/pkg/svm/svmtest"
)

type fixture struct {
	mint  *svm.AccountInfo
	alice *svm.AccountInfo // token account owned by wallet 0xA1
	bob   *svm.AccountInfo // token account owned by wallet 0xB0
}

func newFixture(aliceAmount uint64) *fixture {
	auth := svmtest.Key(0xAA)
	mint := &Mint{MintAuthority: &auth, Supply: aliceAmount, Decimals: 6, IsInitialized: true}
	mintInfo := svmtest.Owned(svmtest.Key(0x10), types.TokenProgramAddr, mint.Marshal())

	account := func(key, owner types.Pubkey, amount uint64) *svm.AccountInfo {
		a := &Account{Mint: mintInfo.Key, Owner: owner, Amount: amount, State: AccountStateInitialized}
		return svmtest.Owned(key, types.TokenProgramAddr, a.Marshal())
	}
	return &fixture{
		mint:  mintInfo,
		alice: account(svmtest.Key(0x11), svmtest.Key(0xA1), aliceAmount),
		bob:   account(svmtest.Key(0x12), svmtest.Key(0xB0), 0),
	}
}

func amountOf(t *testing.T, info *svm.AccountInfo) uint64 {
	t.Helper()
	acct, err := UnmarshalAccount(info.Data)
	require.NoError(t, err)
	return acct.Amount
}

func signer(key types.Pubkey) *svm.AccountInfo {
	return svmtest.Wallet(key, 0, true)
}

func TestStateLayouts(t *testing.T) {
	delegate := svmtest.Key(3)
	native := uint64(7)
	acct := &Account{Mint: svmtest.Key(1), Owner: svmtest.Key(2), Amount: 42, Delegate: &delegate, State: AccountStateInitialized, IsNative: &native}
	raw := acct.Marshal()
	require.Len(t, raw, AccountSize)
	// Amount follows mint and owner.
	assert.Equal(t, byte(42), raw[64])

	back, err := UnmarshalAccount(raw)
	require.NoError(t, err)
	assert.Equal(t, acct, back)

	mint := &Mint{Supply: 9, Decimals: 9, IsInitialized: true}
	rawMint := mint.Marshal()
	require.Len(t, rawMint, MintSize)
	backMint, err := UnmarshalMint(rawMint)
	require.NoError(t, err)
	assert.Nil(t, backMint.MintAuthority)
	assert.Equal(t, uint8(9), backMint.Decimals)

	_, err = UnmarshalAccount(raw[:100])
	assert.ErrorIs(t, err, ErrInvalidAccountData)
}

func TestTransfer(t *testing.T) {
	f := newFixture(1000)
	ix := Transfer(f.alice.Key, f.bob.Key, svmtest.Key(0xA1), 250)
	ctx := svmtest.New(types.TokenProgramAddr, f.alice, f.bob, signer(svmtest.Key(0xA1)))

	require.NoError(t, New().Process(ctx, ix.Data))
	assert.Equal(t, uint64(750), amountOf(t, f.alice))
	assert.Equal(t, uint64(250), amountOf(t, f.bob))
}

func TestTransferRejections(t *testing.T) {
	t.Run("insufficient funds", func(t *testing.T) {
		f := newFixture(10)
		ix := Transfer(f.alice.Key, f.bob.Key, svmtest.Key(0xA1), 11)
		err := New().Process(svmtest.New(types.TokenProgramAddr, f.alice, f.bob, signer(svmtest.Key(0xA1))), ix.Data)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, uint64(10), amountOf(t, f.alice))
	})

	t.Run("wrong authority", func(t *testing.T) {
		f := newFixture(10)
		ix := Transfer(f.alice.Key, f.bob.Key, svmtest.Key(0xB0), 1)
		err := New().Process(svmtest.New(types.TokenProgramAddr, f.alice, f.bob, signer(svmtest.Key(0xB0))), ix.Data)
		assert.ErrorIs(t, err, ErrOwnerMismatch)
	})

	t.Run("owner did not sign", func(t *testing.T) {
		f := newFixture(10)
		ix := Transfer(f.alice.Key, f.bob.Key, svmtest.Key(0xA1), 1)
		owner := svmtest.Wallet(svmtest.Key(0xA1), 0, false)
		err := New().Process(svmtest.New(types.TokenProgramAddr, f.alice, f.bob, owner), ix.Data)
		assert.ErrorIs(t, err, svm.ErrMissingRequiredSignature)
	})

	t.Run("mint mismatch", func(t *testing.T) {
		f := newFixture(10)
		other := &Account{Mint: svmtest.Key(0x77), Owner: svmtest.Key(0xB0), State: AccountStateInitialized}
		f.bob.Data = other.Marshal()
		ix := Transfer(f.alice.Key, f.bob.Key, svmtest.Key(0xA1), 1)
		err := New().Process(svmtest.New(types.TokenProgramAddr, f.alice, f.bob, signer(svmtest.Key(0xA1))), ix.Data)
		assert.ErrorIs(t, err, ErrMintMismatch)
	})

	t.Run("foreign owner program", func(t *testing.T) {
		f := newFixture(10)
		f.bob.Owner = types.SystemProgramAddr
		ix := Transfer(f.alice.Key, f.bob.Key, svmtest.Key(0xA1), 1)
		err := New().Process(svmtest.New(types.TokenProgramAddr, f.alice, f.bob, signer(svmtest.Key(0xA1))), ix.Data)
		assert.ErrorIs(t, err, svm.ErrIncorrectProgramID)
	})
}

func TestMintTo(t *testing.T) {
	f := newFixture(0)
	ix := MintTo(f.mint.Key, f.bob.Key, svmtest.Key(0xAA), 500)
	require.NoError(t, New().Process(svmtest.New(types.TokenProgramAddr, f.mint, f.bob, signer(svmtest.Key(0xAA))), ix.Data))
	assert.Equal(t, uint64(500), amountOf(t, f.bob))

	mint, err := UnmarshalMint(f.mint.Data)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), mint.Supply)

	ix = MintTo(f.mint.Key, f.bob.Key, svmtest.Key(0xAB), 1)
	err = New().Process(svmtest.New(types.TokenProgramAddr, f.mint, f.bob, signer(svmtest.Key(0xAB))), ix.Data)
	assert.ErrorIs(t, err, ErrOwnerMismatch)
}

func TestInitializeAccount(t *testing.T) {
	f := newFixture(0)
	fresh := svmtest.Owned(svmtest.Key(0x20), types.TokenProgramAddr, make([]byte, AccountSize))
	ix := InitializeAccount(fresh.Key, f.mint.Key, svmtest.Key(0xC0))

	require.NoError(t, New().Process(svmtest.New(types.TokenProgramAddr, fresh, f.mint), ix.Data))
	acct, err := UnmarshalAccount(fresh.Data)
	require.NoError(t, err)
	assert.Equal(t, svmtest.Key(0xC0), acct.Owner)
	assert.Equal(t, f.mint.Key, acct.Mint)

	err = New().Process(svmtest.New(types.TokenProgramAddr, fresh, f.mint), ix.Data)
	assert.ErrorIs(t, err, ErrAlreadyInUse)
}

func TestInitializeMint(t *testing.T) {
	fresh := svmtest.Owned(svmtest.Key(0x30), types.TokenProgramAddr, make([]byte, MintSize))
	ix := InitializeMint(fresh.Key, 9, svmtest.Key(0xAA), nil)

	require.NoError(t, New().Process(svmtest.New(types.TokenProgramAddr, fresh), ix.Data))
	mint, err := UnmarshalMint(fresh.Data)
	require.NoError(t, err)
	assert.True(t, mint.IsInitialized)
	assert.Equal(t, uint8(9), mint.Decimals)
	assert.Equal(t, svmtest.Key(0xAA), *mint.MintAuthority)
	assert.Nil(t, mint.FreezeAuthority)
}
