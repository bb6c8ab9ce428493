package node

import (
	"fmt"

	"github.com/fortiblox/stratus-ico/internal/log"
	"github.com/fortiblox/stratus-ico/internal/types"
	"github.com/fortiblox/stratus-ico/pkg/accounts"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/associated"
	"github.com/fortiblox/stratus-ico/pkg/svm/programs/token"
)

// genesisEntries builds the initial accounts described by g. The faucet,
// when given, is credited faucetLamports on top of any genesis balance.
func genesisEntries(g GenesisConfig, faucet *types.Pubkey, faucetLamports uint64) ([]accounts.Entry, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	var entries []accounts.Entry
	index := make(map[types.Pubkey]int)
	add := func(key types.Pubkey, account *accounts.Account) error {
		if _, dup := index[key]; dup {
			return fmt.Errorf("%w: genesis address %s used twice", ErrConfigInvalid, key)
		}
		index[key] = len(entries)
		entries = append(entries, accounts.Entry{Pubkey: key, Account: account})
		return nil
	}

	for _, a := range g.Accounts {
		if err := add(a.Pubkey, &accounts.Account{Lamports: a.Lamports, Owner: types.SystemProgramAddr}); err != nil {
			return nil, err
		}
	}

	if faucet != nil {
		if i, ok := index[*faucet]; ok {
			acct := entries[i].Account
			if acct.Owner != types.SystemProgramAddr {
				return nil, fmt.Errorf("%w: faucet %s is not a wallet", ErrConfigInvalid, *faucet)
			}
			total := acct.Lamports + faucetLamports
			if total < acct.Lamports {
				return nil, fmt.Errorf("%w: faucet balance overflows", ErrConfigInvalid)
			}
			acct.Lamports = total
		} else if err := add(*faucet, &accounts.Account{Lamports: faucetLamports, Owner: types.SystemProgramAddr}); err != nil {
			return nil, err
		}
	}

	for _, m := range g.Mints {
		var supply uint64
		for _, h := range m.Holders {
			supply += h.Amount
			ata, err := associated.Address(h.Owner, m.Address)
			if err != nil {
				return nil, fmt.Errorf("derive token account of %s: %w", h.Owner, err)
			}
			holder := token.NewTokenAccount(&token.Account{
				Mint:   m.Address,
				Owner:  h.Owner,
				Amount: h.Amount,
				State:  token.AccountStateInitialized,
			})
			if err := add(ata, holder); err != nil {
				return nil, err
			}
		}
		mint := token.NewMintAccount(&token.Mint{
			MintAuthority: m.Authority,
			Supply:        supply,
			Decimals:      m.Decimals,
			IsInitialized: true,
		})
		if err := add(m.Address, mint); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// applyGenesis writes the genesis accounts to db at slot 0.
func applyGenesis(db accounts.DB, g GenesisConfig, faucet *types.Pubkey, faucetLamports uint64) error {
	entries, err := genesisEntries(g, faucet, faucetLamports)
	if err != nil {
		return err
	}
	if err := db.SetAccounts(entries, 0); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}

	log.Node.Info().
		Int("accounts", len(entries)).
		Int("mints", len(g.Mints)).
		Msg("genesis applied")
	return nil
}
