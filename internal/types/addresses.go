package types

// Well-known program addresses. The token programs keep their mainnet
// addresses so wallets and explorers recognise the accounts they own.
var (
	// SystemProgramAddr owns every plain lamport account.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// TokenProgramAddr owns mints and token accounts.
	TokenProgramAddr = MustPubkeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// AssociatedTokenProgramAddr is the namespace associated token
	// account addresses are derived under.
	AssociatedTokenProgramAddr = MustPubkeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	// SaleProgramAddr is the default address the sale program is
	// registered under when no other is configured.
	SaleProgramAddr = MustPubkeyFromBase58("6YwGqfFgoZhtDtBHv8ofDvYyhVChyDwp2xQ2WM7nsh4j")
)

// IsNativeProgram reports whether addr is one of the programs built into the
// runtime rather than configured by the operator.
func IsNativeProgram(addr Pubkey) bool {
	return addr == SystemProgramAddr || addr == TokenProgramAddr
}
