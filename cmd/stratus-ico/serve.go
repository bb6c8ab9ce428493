package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/fortiblox/stratus-ico/internal/log"
	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/node"
)

// nodeFlags are the config overrides shared by serve and snapshot.
type nodeFlags struct {
	config   string
	dataDir  string
	inMemory bool
	mint     string
	logLevel string
	logJSON  bool
}

func (f *nodeFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.config, "config", "c", "", "YAML configuration file")
	fs.StringVar(&f.dataDir, "data-dir", "", "data directory (overrides config)")
	fs.BoolVar(&f.inMemory, "in-memory", false, "keep the ledger in memory")
	fs.StringVar(&f.mint, "mint", "", "mint sold by the sale (overrides config)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&f.logJSON, "log-json", false, "log as JSON")
}

// load reads the config file, if any, and applies the flags that were set.
func (f *nodeFlags) load(fs *pflag.FlagSet) (*node.Config, error) {
	cfg := node.DefaultConfig()
	if f.config != "" {
		loaded, err := node.LoadConfig(f.config)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if fs.Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if fs.Changed("in-memory") {
		cfg.InMemory = f.inMemory
	}
	if fs.Changed("mint") {
		mint, err := types.PubkeyFromBase58(f.mint)
		if err != nil {
			return nil, fmt.Errorf("--mint: %w", err)
		}
		cfg.Sale.Mint = mint
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if fs.Changed("log-json") {
		cfg.Log.JSON = f.logJSON
	}

	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return &cfg, nil
}

func runServe(args []string) error {
	fs := newFlagSet("serve", "[flags]")
	var nf nodeFlags
	nf.register(fs)
	rpcAddr := fs.String("rpc-addr", "", "RPC listen address (overrides config)")
	noRPC := fs.Bool("no-rpc", false, "disable the RPC server")
	dashboardAddr := fs.String("dashboard", "", "serve the web dashboard on this address")
	faucet := fs.Bool("faucet", false, "enable the airdrop faucet")
	snapshotPath := fs.String("snapshot", "", "seed an empty ledger from this snapshot")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := nf.load(fs)
	if err != nil {
		return err
	}
	if fs.Changed("rpc-addr") {
		cfg.RPC.Addr = *rpcAddr
	}
	if *noRPC {
		cfg.RPC.Enabled = false
	}
	if fs.Changed("dashboard") {
		cfg.Dashboard.Enabled = *dashboardAddr != ""
		cfg.Dashboard.Addr = *dashboardAddr
	}
	if fs.Changed("faucet") {
		cfg.Faucet.Enabled = *faucet
	}
	if fs.Changed("snapshot") {
		cfg.SnapshotPath = *snapshotPath
	}
	cfg.OnError = func(err error) {
		log.Node.Warn().Err(err).Msg("node reported an error")
	}

	n, err := node.New(cfg)
	if err != nil {
		return err
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Node.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	log.Node.Info().Str("version", Version).Msg("starting stratus-ico")
	if err := n.Start(ctx); err != nil {
		return err
	}
	if pubkey, ok := n.FaucetPubkey(); ok {
		log.Node.Info().Str("faucet", pubkey.String()).Msg("faucet enabled")
	}

	// Print status periodically
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return n.Stop()
		case <-ticker.C:
			status := n.Status()
			ev := log.Node.Info().
				Uint64("slot", status.CurrentSlot).
				Uint64("processed", status.TxsProcessed).
				Uint64("failed", status.TxsFailed)
			if status.SaleState != nil {
				ev = ev.Uint64("rate", status.SaleState.Rate).
					Uint64("escrow", status.SaleState.TokenBalance).
					Uint64("sold", status.SaleState.TotalSold)
			}
			ev.Msg("status")
		}
	}
}

func runSnapshot(args []string) error {
	fs := newFlagSet("snapshot", "[flags]")
	var nf nodeFlags
	nf.register(fs)
	outDir := fs.StringP("out", "o", ".", "directory to write the snapshot into")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := nf.load(fs)
	if err != nil {
		return err
	}
	if cfg.InMemory {
		return fmt.Errorf("an in-memory ledger has nothing to snapshot")
	}
	cfg.RPC.Enabled = false
	cfg.Dashboard.Enabled = false
	cfg.Faucet.Enabled = false

	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := n.Start(context.Background()); err != nil {
		return err
	}
	defer n.Stop()

	path, header, err := n.Snapshot(*outDir)
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot:  %s\n", path)
	fmt.Printf("Slot:      %d\n", header.Slot)
	fmt.Printf("Accounts:  %d\n", header.AccountsCount)
	fmt.Printf("Hash:      %s\n", header.AccountsHash)
	return nil
}
