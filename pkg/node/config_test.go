package node

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-ico/internal/saletest"
	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/associated"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/token"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.RPC.Enabled)
	assert.Equal(t, "127.0.0.1:8899", cfg.RPC.Addr)
	assert.Equal(t, types.SaleProgramAddr, cfg.Sale.ProgramID)
	assert.Equal(t, "program_ata", cfg.Sale.EscrowNamespace)
	assert.Equal(t, "ico_pda", cfg.Sale.StateNamespace)
	assert.False(t, cfg.Faucet.Enabled)
	assert.False(t, cfg.Dashboard.Enabled)
	assert.Equal(t, "127.0.0.1:8080", cfg.Dashboard.Addr)

	// No mint is configured by default.
	assert.ErrorIs(t, cfg.Validate(), ErrConfigInvalid)
}

func TestConfigValidate(t *testing.T) {
	mint := saletest.NewKeypair(0x33).Pubkey
	owner := saletest.NewKeypair(0xA0).Pubkey

	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Sale.Mint = mint
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing data dir", func(c *Config) { c.DataDir = "" }, true},
		{"in memory without data dir", func(c *Config) { c.DataDir = ""; c.InMemory = true }, false},
		{"missing mint", func(c *Config) { c.Sale.Mint = types.Pubkey{} }, true},
		{"long namespace", func(c *Config) { c.Sale.StateNamespace = string(make([]byte, 33)) }, true},
		{"rpc without addr", func(c *Config) { c.RPC.Addr = "" }, true},
		{"rpc disabled without addr", func(c *Config) { c.RPC.Addr = ""; c.RPC.Enabled = false }, false},
		{"dashboard without addr", func(c *Config) { c.Dashboard.Enabled = true; c.Dashboard.Addr = "" }, true},
		{"faucet without limit", func(c *Config) { c.Faucet.Enabled = true; c.Faucet.MaxLamports = 0 }, true},
		{"prune without retention", func(c *Config) {
			c.Blockstore.PruneEnabled = true
			c.Blockstore.RetainSlots = 0
		}, true},
		{"duplicate genesis account", func(c *Config) {
			c.Genesis.Accounts = []GenesisAccount{{Pubkey: owner, Lamports: 1}, {Pubkey: owner, Lamports: 2}}
		}, true},
		{"mint reused as account", func(c *Config) {
			c.Genesis.Accounts = []GenesisAccount{{Pubkey: mint, Lamports: 1}}
			c.Genesis.Mints = []GenesisMint{{Address: mint}}
		}, true},
		{"holder without owner", func(c *Config) {
			c.Genesis.Mints = []GenesisMint{{Address: mint, Holders: []GenesisHolder{{Amount: 1}}}}
		}, true},
		{"supply overflow", func(c *Config) {
			c.Genesis.Mints = []GenesisMint{{Address: mint, Holders: []GenesisHolder{
				{Owner: owner, Amount: ^uint64(0)},
				{Owner: saletest.NewKeypair(0xB0).Pubkey, Amount: 1},
			}}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfigInvalid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	mint := saletest.NewKeypair(0x33).Pubkey
	admin := saletest.NewKeypair(0xA0).Pubkey
	authority := saletest.NewKeypair(0xC0).Pubkey

	content := `
data_dir: /var/lib/stratus-ico
log:
  level: debug
  json: true
rpc:
  addr: 0.0.0.0:9000
  read_timeout: 5s
  allowed_origins: ["https://sale.example"]
dashboard:
  enabled: true
  addr: 0.0.0.0:8081
sale:
  mint: ` + mint.String() + `
faucet:
  enabled: true
  max_lamports: 500
blockstore:
  prune_enabled: true
  retain_slots: 1000
genesis:
  accounts:
    - pubkey: ` + admin.String() + `
      lamports: 42
  mints:
    - address: ` + mint.String() + `
      decimals: 9
      authority: ` + authority.String() + `
      holders:
        - owner: ` + admin.String() + `
          amount: 7
`
	path := filepath.Join(t.TempDir(), "stratus-ico.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/stratus-ico", cfg.DataDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "0.0.0.0:9000", cfg.RPC.Addr)
	assert.Equal(t, 5*time.Second, cfg.RPC.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.RPC.WriteTimeout, "unset keys keep their defaults")
	assert.Equal(t, []string{"https://sale.example"}, cfg.RPC.AllowedOrigins)
	assert.True(t, cfg.Dashboard.Enabled)
	assert.Equal(t, "0.0.0.0:8081", cfg.Dashboard.Addr)
	assert.Equal(t, 15*time.Second, cfg.Dashboard.ReadTimeout)
	assert.Equal(t, mint, cfg.Sale.Mint)
	assert.Equal(t, types.SaleProgramAddr, cfg.Sale.ProgramID)
	assert.True(t, cfg.Faucet.Enabled)
	assert.EqualValues(t, 500, cfg.Faucet.MaxLamports)
	assert.EqualValues(t, 1000, cfg.Blockstore.RetainSlots)

	require.Len(t, cfg.Genesis.Accounts, 1)
	assert.Equal(t, GenesisAccount{Pubkey: admin, Lamports: 42}, cfg.Genesis.Accounts[0])
	require.Len(t, cfg.Genesis.Mints, 1)
	m := cfg.Genesis.Mints[0]
	assert.Equal(t, mint, m.Address)
	assert.EqualValues(t, 9, m.Decimals)
	require.NotNil(t, m.Authority)
	assert.Equal(t, authority, *m.Authority)
	assert.Equal(t, []GenesisHolder{{Owner: admin, Amount: 7}}, m.Holders)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("data_dirr: /tmp\n"), 0644))
	_, err = LoadConfig(unknown)
	assert.ErrorIs(t, err, ErrConfigInvalid)

	badKey := filepath.Join(dir, "badkey.yaml")
	require.NoError(t, os.WriteFile(badKey, []byte("sale:\n  mint: not-a-key\n"), 0644))
	_, err = LoadConfig(badKey)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}

func TestGenesisEntries(t *testing.T) {
	mint := saletest.NewKeypair(0x33).Pubkey
	admin := saletest.NewKeypair(0xA0).Pubkey
	buyer := saletest.NewKeypair(0xB0).Pubkey
	faucet := saletest.NewKeypair(0xF0).Pubkey

	g := GenesisConfig{
		Accounts: []GenesisAccount{{Pubkey: admin, Lamports: 10}, {Pubkey: faucet, Lamports: 5}},
		Mints: []GenesisMint{{
			Address:  mint,
			Decimals: 6,
			Holders:  []GenesisHolder{{Owner: admin, Amount: 700}, {Owner: buyer, Amount: 300}},
		}},
	}

	entries, err := genesisEntries(g, &faucet, 1000)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	byKey := make(map[types.Pubkey]int)
	for i, e := range entries {
		byKey[e.Pubkey] = i
	}

	assert.EqualValues(t, 1005, entries[byKey[faucet]].Account.Lamports, "faucet is credited on top of its genesis balance")
	assert.Equal(t, types.SystemProgramAddr, entries[byKey[admin]].Account.Owner)

	mintAcct := entries[byKey[mint]].Account
	assert.Equal(t, types.TokenProgramAddr, mintAcct.Owner)
	decoded, err := token.UnmarshalMint(mintAcct.Data)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, decoded.Supply)
	assert.EqualValues(t, 6, decoded.Decimals)
	assert.Nil(t, decoded.MintAuthority)

	ata, err := associated.Address(buyer, mint)
	require.NoError(t, err)
	holder, err := token.UnmarshalAccount(entries[byKey[ata]].Account.Data)
	require.NoError(t, err)
	assert.Equal(t, buyer, holder.Owner)
	assert.EqualValues(t, 300, holder.Amount)

	// A holder listed twice derives the same token account.
	g.Mints[0].Holders = append(g.Mints[0].Holders, GenesisHolder{Owner: buyer, Amount: 1})
	_, err = genesisEntries(g, nil, 0)
	assert.ErrorIs(t, err, ErrConfigInvalid)
}
