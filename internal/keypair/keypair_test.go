package keypair

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "id.json")

	kp, err := Generate()
	require.NoError(t, err)
	require.NoError(t, kp.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, kp.Pubkey, loaded.Pubkey)
	assert.True(t, bytes.Equal(kp.Private, loaded.Private))
}

func TestFromSeed(t *testing.T) {
	a, err := FromSeed(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	b, err := FromSeed(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	assert.Equal(t, a.Pubkey, b.Pubkey)

	_, err = FromSeed([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"short.json":   "[1,2,3]",
		"garbage.json": "not json",
		"range.json":   "[" + string(bytes.Repeat([]byte("300,"), 63)) + "300]",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
		_, err := Load(path)
		assert.Error(t, err, name)
	}

	// A file whose public half was tampered with.
	kp, err := Generate()
	require.NoError(t, err)
	kp.Private[63] ^= 0xff
	path := filepath.Join(dir, "tampered.json")
	require.NoError(t, kp.Save(path))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadOrGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faucet.json")

	first, created, err := LoadOrGenerate(path)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := LoadOrGenerate(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Pubkey, second.Pubkey)

	require.NoError(t, os.WriteFile(path, []byte("[1]"), 0600))
	_, _, err = LoadOrGenerate(path)
	assert.Error(t, err, "a corrupt key file must not be replaced")
}
