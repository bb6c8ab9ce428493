package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/fortiblox/stratus-ico/internal/keypair"
	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/ico"
	"github.com/fortiblox/stratus-ico/pkg/rpc"
	"github.com/fortiblox/stratus-ico/pkg/runtime"
	"github.com/fortiblox/stratus-ico/pkg/svm"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/associated"
)

// clientFlags are shared by the commands that talk to a node.
type clientFlags struct {
	url     string
	keypair string
	timeout time.Duration
}

func (f *clientFlags) register(fs *pflag.FlagSet, signer bool) {
	fs.StringVarP(&f.url, "url", "u", "http://127.0.0.1:8899", "node RPC endpoint")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "request timeout")
	if signer {
		fs.StringVarP(&f.keypair, "keypair", "k", defaultKeypairPath(), "signer keypair file")
	}
}

func (f *clientFlags) client() *rpc.Client {
	return rpc.NewClient(f.url, f.timeout)
}

func (f *clientFlags) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), f.timeout)
}

// submit signs instructions with signer and sends them as one transaction.
func submit(ctx context.Context, client *rpc.Client, signer keypair.Keypair, ixs ...svm.Instruction) error {
	blockhash, err := client.GetLatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("get blockhash: %w", err)
	}
	tx, err := runtime.NewTransaction(signer.Pubkey, ixs, blockhash)
	if err != nil {
		return err
	}
	if err := tx.Sign(signer.Private); err != nil {
		return err
	}

	sig, err := client.SendTransaction(ctx, tx)
	if data, ok := rpc.TransactionErrorOf(err); ok {
		for _, line := range data.Logs {
			fmt.Fprintf(os.Stderr, "  %s\n", line)
		}
		if data.Code != 0 {
			return fmt.Errorf("transaction %s failed: %s (code %d): %w", data.Signature, data.Kind, data.Code, err)
		}
		return fmt.Errorf("transaction %s failed: %w", data.Signature, err)
	}
	if err != nil {
		return err
	}
	fmt.Println(sig)
	return nil
}

// saleSigner loads the signer and the sale addresses, and derives the
// signer's token account for the sale mint.
func saleSigner(ctx context.Context, cf *clientFlags) (*rpc.Client, keypair.Keypair, ico.Addresses, types.Pubkey, error) {
	signer, err := keypair.Load(cf.keypair)
	if err != nil {
		return nil, keypair.Keypair{}, ico.Addresses{}, types.Pubkey{}, err
	}
	client := cf.client()
	addrs, err := client.GetSaleAddresses(ctx)
	if err != nil {
		return nil, keypair.Keypair{}, ico.Addresses{}, types.Pubkey{}, fmt.Errorf("get sale addresses: %w", err)
	}
	ata, err := associated.Address(signer.Pubkey, addrs.Mint)
	if err != nil {
		return nil, keypair.Keypair{}, ico.Addresses{}, types.Pubkey{}, err
	}
	return client, signer, addrs, ata, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runKeygen(args []string) error {
	fs := newFlagSet("keygen", "[flags]")
	outfile := fs.StringP("outfile", "o", defaultKeypairPath(), "where to write the keypair")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*outfile); err == nil && !*force {
		return fmt.Errorf("%s already exists, use --force to overwrite", *outfile)
	}
	kp, err := keypair.Generate()
	if err != nil {
		return err
	}
	if err := kp.Save(*outfile); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", *outfile)
	fmt.Printf("Pubkey: %s\n", kp.Pubkey)
	return nil
}

func runAddresses(args []string) error {
	fs := newFlagSet("addresses", "--mint <pubkey> [flags]")
	program := fs.String("program", types.SaleProgramAddr.String(), "sale program id")
	mint := fs.String("mint", "", "mint sold by the sale")
	escrowNS := fs.String("escrow-namespace", ico.DefaultEscrowNamespace, "escrow seed namespace")
	stateNS := fs.String("state-namespace", ico.DefaultStateNamespace, "sale record seed namespace")
	owner := fs.String("owner", "", "also derive this wallet's token account")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := ico.Config{EscrowNamespace: *escrowNS, StateNamespace: *stateNS}
	var err error
	if cfg.ProgramID, err = types.PubkeyFromBase58(*program); err != nil {
		return fmt.Errorf("--program: %w", err)
	}
	if *mint == "" {
		return errors.New("--mint is required")
	}
	if cfg.Mint, err = types.PubkeyFromBase58(*mint); err != nil {
		return fmt.Errorf("--mint: %w", err)
	}

	addrs, err := ico.DeriveAddresses(cfg)
	if err != nil {
		return err
	}
	out := struct {
		ico.Addresses
		TokenAccount *types.Pubkey `json:"tokenAccount,omitempty"`
	}{Addresses: addrs}
	if *owner != "" {
		wallet, err := types.PubkeyFromBase58(*owner)
		if err != nil {
			return fmt.Errorf("--owner: %w", err)
		}
		ata, err := associated.Address(wallet, addrs.Mint)
		if err != nil {
			return err
		}
		out.TokenAccount = &ata
	}
	return printJSON(out)
}

func runAirdrop(args []string) error {
	fs := newFlagSet("airdrop", "<pubkey> [flags]")
	var cf clientFlags
	cf.register(fs, false)
	lamports := fs.Uint64("lamports", 1_000_000_000, "lamports to request")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one recipient")
	}
	to, err := types.PubkeyFromBase58(fs.Arg(0))
	if err != nil {
		return err
	}

	ctx, cancel := cf.context()
	defer cancel()
	sig, err := cf.client().RequestAirdrop(ctx, to, *lamports)
	if err != nil {
		return err
	}
	fmt.Println(sig)
	return nil
}

func runBalance(args []string) error {
	fs := newFlagSet("balance", "[pubkey] [flags]")
	var cf clientFlags
	cf.register(fs, true)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var wallet types.Pubkey
	if fs.NArg() > 0 {
		var err error
		if wallet, err = types.PubkeyFromBase58(fs.Arg(0)); err != nil {
			return err
		}
	} else {
		kp, err := keypair.Load(cf.keypair)
		if err != nil {
			return err
		}
		wallet = kp.Pubkey
	}

	ctx, cancel := cf.context()
	defer cancel()
	client := cf.client()
	lamports, err := client.GetBalance(ctx, wallet)
	if err != nil {
		return err
	}
	fmt.Printf("Lamports: %d\n", lamports)

	addrs, err := client.GetSaleAddresses(ctx)
	if err != nil {
		return err
	}
	ata, err := associated.Address(wallet, addrs.Mint)
	if err != nil {
		return err
	}
	amount, err := client.GetTokenAccountBalance(ctx, ata)
	var rpcErr *rpc.RPCError
	switch {
	case errors.As(err, &rpcErr):
		fmt.Printf("Tokens:   no token account %s\n", ata)
	case err != nil:
		return err
	default:
		fmt.Printf("Tokens:   %s (%s base units)\n", amount.UIAmountString, amount.Amount)
	}
	return nil
}

func runCreateTokenAccount(args []string) error {
	fs := newFlagSet("create-token-account", "[flags]")
	var cf clientFlags
	cf.register(fs, true)
	owner := fs.String("owner", "", "wallet to create the account for (default: the signer)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := cf.context()
	defer cancel()
	client, signer, addrs, _, err := saleSigner(ctx, &cf)
	if err != nil {
		return err
	}
	wallet := signer.Pubkey
	if *owner != "" {
		if wallet, err = types.PubkeyFromBase58(*owner); err != nil {
			return fmt.Errorf("--owner: %w", err)
		}
	}
	ix, err := associated.Create(signer.Pubkey, wallet, addrs.Mint, true)
	if err != nil {
		return err
	}
	return submit(ctx, client, signer, ix)
}

func runInit(args []string) error {
	fs := newFlagSet("init", "--rate <n> --deposit <n> [flags]")
	var cf clientFlags
	cf.register(fs, true)
	rate := fs.Uint64("rate", 0, "token base units granted per lamport")
	deposit := fs.Uint64("deposit", 0, "tokens to move into escrow")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := cf.context()
	defer cancel()
	client, signer, addrs, ata, err := saleSigner(ctx, &cf)
	if err != nil {
		return err
	}
	return submit(ctx, client, signer, addrs.Initialize(signer.Pubkey, ata, *rate, *deposit))
}

func runDeposit(args []string) error {
	return runAdminTransfer("deposit", args, ico.Addresses.Deposit)
}

func runWithdraw(args []string) error {
	return runAdminTransfer("withdraw", args, ico.Addresses.Withdraw)
}

func runAdminTransfer(name string, args []string, build func(ico.Addresses, types.Pubkey, types.Pubkey, uint64) svm.Instruction) error {
	fs := newFlagSet(name, "--amount <n> [flags]")
	var cf clientFlags
	cf.register(fs, true)
	amount := fs.Uint64("amount", 0, "tokens to move")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := cf.context()
	defer cancel()
	client, signer, addrs, ata, err := saleSigner(ctx, &cf)
	if err != nil {
		return err
	}
	return submit(ctx, client, signer, build(addrs, signer.Pubkey, ata, *amount))
}

func runBuy(args []string) error {
	fs := newFlagSet("buy", "--payment <lamports> [flags]")
	var cf clientFlags
	cf.register(fs, true)
	payment := fs.Uint64("payment", 0, "lamports to pay")
	createATA := fs.Bool("create-account", true, "create the buyer token account if missing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := cf.context()
	defer cancel()
	client, signer, addrs, ata, err := saleSigner(ctx, &cf)
	if err != nil {
		return err
	}
	state, err := client.GetSaleState(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		return errors.New("the sale is not initialized")
	}

	var ixs []svm.Instruction
	if *createATA {
		create, err := associated.Create(signer.Pubkey, signer.Pubkey, addrs.Mint, true)
		if err != nil {
			return err
		}
		ixs = append(ixs, create)
	}
	ixs = append(ixs, addrs.Buy(signer.Pubkey, state.Admin, ata, *payment))
	return submit(ctx, client, signer, ixs...)
}

func runReprice(args []string) error {
	fs := newFlagSet("reprice", "--rate <n> [flags]")
	var cf clientFlags
	cf.register(fs, true)
	rate := fs.Uint64("rate", 0, "new token base units per lamport")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := cf.context()
	defer cancel()
	client, signer, addrs, _, err := saleSigner(ctx, &cf)
	if err != nil {
		return err
	}
	return submit(ctx, client, signer, addrs.Reprice(signer.Pubkey, *rate))
}

func runQuote(args []string) error {
	fs := newFlagSet("quote", "--payment <lamports> [flags]")
	var cf clientFlags
	cf.register(fs, false)
	payment := fs.Uint64("payment", 0, "lamports to pay")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := cf.context()
	defer cancel()
	quote, err := cf.client().QuoteBuy(ctx, *payment)
	if err != nil {
		return err
	}
	return printJSON(quote)
}

func runState(args []string) error {
	fs := newFlagSet("state", "[flags]")
	var cf clientFlags
	cf.register(fs, false)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := cf.context()
	defer cancel()
	state, err := cf.client().GetSaleState(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Println("the sale is not initialized")
		return nil
	}
	return printJSON(state)
}
