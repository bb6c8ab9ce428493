package runtime

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/svm"
)

func testKey(b byte) types.Pubkey {
	var k types.Pubkey
	for i := range k {
		k[i] = b
	}
	return k
}

func testSigner(seed byte) (ed25519.PrivateKey, types.Pubkey) {
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = seed
	}
	priv := ed25519.NewKeyFromSeed(s)
	var pub types.Pubkey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return priv, pub
}

func TestNewMessageOrdersAccounts(t *testing.T) {
	payer := testKey(1)
	cosigner := testKey(2)
	writable := testKey(3)
	readonly := testKey(4)
	program := testKey(9)

	ix := svm.Instruction{
		ProgramID: program,
		Accounts: []svm.AccountMeta{
			svm.NewReadonly(readonly, false),
			svm.NewReadonly(cosigner, true),
			svm.NewWritable(writable, false),
			svm.NewReadonly(payer, false),
		},
		Data: []byte{1, 2, 3},
	}
	msg, err := NewMessage(payer, []svm.Instruction{ix}, types.Hash{})
	require.NoError(t, err)

	assert.Equal(t, []types.Pubkey{payer, cosigner, writable, readonly, program}, msg.AccountKeys)
	assert.Equal(t, MessageHeader{NumRequiredSignatures: 2, NumReadonlySignedAccounts: 1, NumReadonlyUnsignedAccounts: 2}, msg.Header)

	assert.True(t, msg.IsWritable(0))
	assert.False(t, msg.IsWritable(1))
	assert.True(t, msg.IsWritable(2))
	assert.False(t, msg.IsWritable(3))
	assert.False(t, msg.IsWritable(4))
	assert.True(t, msg.IsSigner(1))
	assert.False(t, msg.IsSigner(2))

	require.Len(t, msg.Instructions, 1)
	assert.Equal(t, uint8(4), msg.Instructions[0].ProgramIDIndex)
	assert.Equal(t, []uint8{3, 1, 2, 0}, msg.Instructions[0].Accounts)

	back, err := msg.Instruction(0)
	require.NoError(t, err)
	assert.Equal(t, program, back.ProgramID)
	// The payer's privileges widen to writable signer.
	assert.Equal(t, svm.NewWritable(payer, true), back.Accounts[3])
	assert.Equal(t, svm.NewReadonly(cosigner, true), back.Accounts[1])
	require.NoError(t, msg.Validate())
}

func TestMessageWireFormat(t *testing.T) {
	payer := testKey(1)
	big := make([]byte, 300)
	big[299] = 7
	ix := svm.Instruction{ProgramID: testKey(9), Accounts: []svm.AccountMeta{svm.NewWritable(testKey(3), false)}, Data: big}
	msg, err := NewMessage(payer, []svm.Instruction{ix}, types.ComputeHash([]byte("nonce")))
	require.NoError(t, err)

	raw := msg.Serialize()
	// header(3) | keys len(1) | 3 keys | blockhash | ix count(1) | program(1)
	// | accounts len(1) | account(1) | data len(2) | data
	assert.Len(t, raw, 3+1+3*32+32+1+1+1+1+2+300)
	assert.Equal(t, []byte{0xac, 0x02}, raw[3+1+96+32+1+1+1+1:][:2])

	back, err := DeserializeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, msg, back)

	_, err = DeserializeMessage(raw[:len(raw)-1])
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = DeserializeMessage(append(raw, 0))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestCompactLength(t *testing.T) {
	for _, n := range []int{0, 1, 127, 128, 255, 16383, 16384, 65535} {
		var e encoder
		e.length(n)
		d := &decoder{buf: e.buf}
		assert.Equal(t, n, d.length(), "length %d", n)
		assert.NoError(t, d.finish())
	}

	d := &decoder{buf: []byte{0xff, 0xff, 0xff}}
	d.length()
	assert.ErrorIs(t, d.err, ErrMalformed)
}

func TestMessageValidate(t *testing.T) {
	payer := testKey(1)
	good := func() *Message {
		msg, err := NewMessage(payer, []svm.Instruction{{ProgramID: testKey(9), Accounts: []svm.AccountMeta{svm.NewWritable(testKey(2), false)}}}, types.Hash{})
		require.NoError(t, err)
		return msg
	}

	m := good()
	m.Header.NumRequiredSignatures = 0
	assert.ErrorIs(t, m.Validate(), ErrInvalidMessage)

	m = good()
	m.Header.NumReadonlySignedAccounts = 1
	assert.ErrorIs(t, m.Validate(), ErrInvalidMessage)

	m = good()
	m.Instructions[0].Accounts[0] = 200
	assert.ErrorIs(t, m.Validate(), ErrInvalidMessage)

	m = good()
	m.AccountKeys[1] = payer
	assert.ErrorIs(t, m.Validate(), ErrInvalidMessage)
}

func TestTransactionSignAndVerify(t *testing.T) {
	payerKey, payer := testSigner(1)
	otherKey, other := testSigner(2)
	ix := svm.Instruction{ProgramID: testKey(9), Accounts: []svm.AccountMeta{svm.NewReadonly(other, true)}}

	tx, err := NewTransaction(payer, []svm.Instruction{ix}, types.ComputeHash([]byte("a")))
	require.NoError(t, err)
	require.Len(t, tx.Signatures, 2)

	require.NoError(t, tx.Sign(payerKey))
	assert.ErrorIs(t, tx.VerifySignatures(), ErrSignatureVerification)

	require.NoError(t, tx.Sign(otherKey))
	require.NoError(t, tx.VerifySignatures())
	assert.Equal(t, tx.Signatures[0], tx.Signature())

	_, strangerPub := testSigner(3)
	strangerKey, _ := testSigner(3)
	err = tx.Sign(strangerKey)
	assert.ErrorIs(t, err, ErrUnexpectedSigner)
	assert.Contains(t, err.Error(), strangerPub.String())

	tx.Message.Instructions[0].Data = []byte{1}
	assert.ErrorIs(t, tx.VerifySignatures(), ErrSignatureVerification)
}

func TestTransactionEncoding(t *testing.T) {
	payerKey, payer := testSigner(1)
	tx, err := NewTransaction(payer, []svm.Instruction{{ProgramID: testKey(9), Data: []byte("hello")}}, types.ComputeHash([]byte("b")))
	require.NoError(t, err)
	require.NoError(t, tx.Sign(payerKey))

	for _, enc := range []Encoding{EncodingBase58, EncodingBase64} {
		s, err := tx.Encode(enc)
		require.NoError(t, err)
		back, err := DecodeTransaction(s, enc)
		require.NoError(t, err, enc)
		assert.Equal(t, tx.Serialize(), back.Serialize())
		assert.NoError(t, back.VerifySignatures())
	}

	_, err = DecodeTransaction("!!!", EncodingBase64)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeTransaction("", "hex")
	assert.ErrorIs(t, err, ErrUnknownEncoding)
}
