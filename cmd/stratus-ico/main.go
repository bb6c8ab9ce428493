// stratus-ico runs a token sale ledger and talks to it.
//
// "stratus-ico serve" runs a node: the account store, the sale program and
// the JSON-RPC server. The remaining commands are clients that build,
// sign and submit sale transactions over RPC, or derive addresses offline.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/pflag"
)

// Version information
var (
	Version   = "1.0.0"
	GitCommit = "dev"
)

// command is one subcommand.
type command struct {
	summary string
	run     func(args []string) error
}

var commands = map[string]command{
	"serve":                {"run a node", runServe},
	"snapshot":             {"write an account snapshot of a stopped node", runSnapshot},
	"keygen":               {"create a keypair file", runKeygen},
	"addresses":            {"derive the sale state and escrow addresses", runAddresses},
	"airdrop":              {"request lamports from the node faucet", runAirdrop},
	"balance":              {"show lamport and sale token balances", runBalance},
	"create-token-account": {"create the associated token account for the sale mint", runCreateTokenAccount},
	"init":                 {"initialize the sale and deposit the first tokens", runInit},
	"deposit":              {"move tokens from the admin into escrow", runDeposit},
	"withdraw":             {"move unsold tokens from escrow back to the admin", runWithdraw},
	"buy":                  {"buy tokens at the current rate", runBuy},
	"reprice":              {"change the sale rate", runReprice},
	"quote":                {"show how many tokens a payment buys", runQuote},
	"state":                {"show the sale record", runState},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("no command given")
	}

	name := args[0]
	switch name {
	case "-h", "--help", "help":
		printUsage()
		return nil
	case "--version", "version":
		fmt.Printf("stratus-ico %s (%s)\n", Version, GitCommit)
		return nil
	}

	cmd, ok := commands[name]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", name)
	}
	err := cmd.run(args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func printUsage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Usage: stratus-ico <command> [flags]\n\nCommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-22s %s\n", name, commands[name].summary)
	}
	b.WriteString("\nRun 'stratus-ico <command> --help' for the flags of a command.\n")
	fmt.Fprint(os.Stderr, b.String())
}

// newFlagSet creates the flag set of a subcommand.
func newFlagSet(name, usage string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: stratus-ico %s %s\n\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// defaultKeypairPath is the wallet used when --keypair is not given.
func defaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "id.json"
	}
	return filepath.Join(home, ".config", "stratus-ico", "id.json")
}
