package node

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/blockstore"
	"github.com/fortiblox/stratus-ico/pkg/dashboard"
	"github.com/fortiblox/stratus-ico/pkg/ico"
	"github.com/fortiblox/stratus-ico/pkg/rpc"
)

// ErrConfigInvalid is returned for an unusable configuration.
var ErrConfigInvalid = errors.New("invalid node configuration")

// Config holds node configuration. It is normally loaded from a YAML file
// with LoadConfig and then adjusted by command-line flags.
type Config struct {
	// DataDir is the root directory for all node data.
	// Subdirectories are created for the account store and the blockstore.
	DataDir string `yaml:"data_dir"`

	// InMemory keeps accounts in memory and history in a temporary
	// directory removed on Stop.
	InMemory bool `yaml:"in_memory"`

	// SnapshotPath, when set, seeds an empty account store from an
	// account snapshot instead of the genesis section.
	SnapshotPath string `yaml:"snapshot_path"`

	// ComputeLimit is the compute budget of one transaction. Zero means
	// the runtime default.
	ComputeLimit uint64 `yaml:"compute_limit"`

	Log        LogConfig        `yaml:"log"`
	RPC        RPCConfig        `yaml:"rpc"`
	Dashboard  dashboard.Config `yaml:"dashboard"`
	Sale       ico.Config       `yaml:"sale"`
	Faucet     FaucetConfig     `yaml:"faucet"`
	Blockstore BlockstoreConfig `yaml:"blockstore"`
	Genesis    GenesisConfig    `yaml:"genesis"`

	// Callbacks for monitoring.
	OnTransaction func(txn *blockstore.Transaction) `yaml:"-"`
	OnError       func(err error)                   `yaml:"-"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	File  string `yaml:"file"`
}

// RPCConfig configures the JSON-RPC server.
type RPCConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxRequestSize int64         `yaml:"max_request_size"`
	EnableCORS     bool          `yaml:"enable_cors"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	LogRequests    bool          `yaml:"log_requests"`
}

// FaucetConfig configures requestAirdrop.
type FaucetConfig struct {
	Enabled bool `yaml:"enabled"`

	// Keypair is the faucet key file. Empty means <data_dir>/faucet.json,
	// or a throwaway key for in-memory nodes.
	Keypair string `yaml:"keypair"`

	// Lamports is credited to the faucet at genesis.
	Lamports uint64 `yaml:"lamports"`

	// MaxLamports caps a single airdrop.
	MaxLamports uint64 `yaml:"max_lamports"`
}

// BlockstoreConfig configures transaction history retention.
type BlockstoreConfig struct {
	NoSync        bool          `yaml:"no_sync"`
	PruneEnabled  bool          `yaml:"prune_enabled"`
	PruneInterval time.Duration `yaml:"prune_interval"`
	RetainSlots   uint64        `yaml:"retain_slots"`
}

// GenesisConfig is the initial ledger written to an empty account store.
type GenesisConfig struct {
	Accounts []GenesisAccount `yaml:"accounts"`
	Mints    []GenesisMint    `yaml:"mints"`
}

// GenesisAccount is a system-owned account with a lamport balance.
type GenesisAccount struct {
	Pubkey   types.Pubkey `yaml:"pubkey"`
	Lamports uint64       `yaml:"lamports"`
}

// GenesisMint is a token mint and the associated token accounts holding
// its initial supply.
type GenesisMint struct {
	Address   types.Pubkey    `yaml:"address"`
	Decimals  uint8           `yaml:"decimals"`
	Authority *types.Pubkey   `yaml:"authority"`
	Holders   []GenesisHolder `yaml:"holders"`
}

// GenesisHolder is an initial token balance.
type GenesisHolder struct {
	Owner  types.Pubkey `yaml:"owner"`
	Amount uint64       `yaml:"amount"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	rpcDefaults := rpc.DefaultConfig()
	return Config{
		DataDir: "./data",
		Log: LogConfig{
			Level: "info",
		},
		RPC: RPCConfig{
			Enabled:        true,
			Addr:           rpcDefaults.Addr,
			ReadTimeout:    rpcDefaults.ReadTimeout,
			WriteTimeout:   rpcDefaults.WriteTimeout,
			MaxRequestSize: rpcDefaults.MaxRequestSize,
			EnableCORS:     rpcDefaults.EnableCORS,
		},
		Dashboard: dashboard.DefaultConfig(),
		Sale: ico.Config{
			ProgramID:       types.SaleProgramAddr,
			EscrowNamespace: ico.DefaultEscrowNamespace,
			StateNamespace:  ico.DefaultStateNamespace,
		},
		Faucet: FaucetConfig{
			Lamports:    1_000_000_000_000_000,
			MaxLamports: 10_000_000_000,
		},
		Blockstore: BlockstoreConfig{
			PruneEnabled:  false,
			PruneInterval: time.Hour,
			RetainSlots:   blockstore.DefaultRetainSlots,
		},
	}
}

// LoadConfig reads a YAML configuration file over DefaultConfig. Unknown
// keys are rejected.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfigInvalid, path, err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" && !c.InMemory {
		return fmt.Errorf("%w: data directory is required", ErrConfigInvalid)
	}
	if err := c.Sale.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if c.RPC.Enabled && c.RPC.Addr == "" {
		return fmt.Errorf("%w: rpc address is required", ErrConfigInvalid)
	}
	if c.Dashboard.Enabled && c.Dashboard.Addr == "" {
		return fmt.Errorf("%w: dashboard address is required", ErrConfigInvalid)
	}
	if c.Faucet.Enabled && c.Faucet.MaxLamports == 0 {
		return fmt.Errorf("%w: faucet max_lamports must be positive", ErrConfigInvalid)
	}
	if c.Blockstore.PruneEnabled && c.Blockstore.RetainSlots == 0 {
		return fmt.Errorf("%w: blockstore retain_slots must be positive", ErrConfigInvalid)
	}
	return c.Genesis.validate()
}

// validate rejects genesis sections that cannot be written as one batch.
func (g *GenesisConfig) validate() error {
	seen := make(map[types.Pubkey]string)
	claim := func(key types.Pubkey, what string) error {
		if key.IsZero() {
			return fmt.Errorf("%w: genesis %s has no address", ErrConfigInvalid, what)
		}
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("%w: genesis %s %s already used by %s", ErrConfigInvalid, what, key, prev)
		}
		seen[key] = what
		return nil
	}

	for _, a := range g.Accounts {
		if err := claim(a.Pubkey, "account"); err != nil {
			return err
		}
	}
	for _, m := range g.Mints {
		if err := claim(m.Address, "mint"); err != nil {
			return err
		}
		var supply uint64
		for _, h := range m.Holders {
			if h.Owner.IsZero() {
				return fmt.Errorf("%w: mint %s has a holder without owner", ErrConfigInvalid, m.Address)
			}
			next := supply + h.Amount
			if next < supply {
				return fmt.Errorf("%w: mint %s supply overflows", ErrConfigInvalid, m.Address)
			}
			supply = next
		}
	}
	return nil
}

// rpcConfig converts the RPC section for the server.
func (c *Config) rpcConfig() rpc.Config {
	return rpc.Config{
		Addr:           c.RPC.Addr,
		ReadTimeout:    c.RPC.ReadTimeout,
		WriteTimeout:   c.RPC.WriteTimeout,
		MaxRequestSize: c.RPC.MaxRequestSize,
		EnableCORS:     c.RPC.EnableCORS,
		AllowedOrigins: c.RPC.AllowedOrigins,
		LogRequests:    c.RPC.LogRequests,
	}
}

// blockstoreConfig converts the blockstore section for a store at path.
func (c *Config) blockstoreConfig(path string) blockstore.Config {
	cfg := blockstore.DefaultConfig(path)
	cfg.NoSync = c.Blockstore.NoSync
	cfg.PruneEnabled = c.Blockstore.PruneEnabled
	if c.Blockstore.PruneInterval > 0 {
		cfg.PruneInterval = c.Blockstore.PruneInterval
	}
	if c.Blockstore.RetainSlots > 0 {
		cfg.RetainSlots = c.Blockstore.RetainSlots
	}
	return cfg
}
