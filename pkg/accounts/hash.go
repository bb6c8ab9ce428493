package accounts

import (
	"bytes"
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/stratus-ico/internal/types"
)

// ComputeAccountHash hashes one account as
// blake3(lamports || rent_epoch || data || executable || owner || pubkey).
// Zero accounts hash to the zero hash.
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	if account == nil || account.IsZero() {
		return types.Hash{}
	}
	var fixed [17]byte
	binary.LittleEndian.PutUint64(fixed[0:], account.Lamports)
	binary.LittleEndian.PutUint64(fixed[8:], account.RentEpoch)

	h := blake3.New()
	h.Write(fixed[:16])
	h.Write(account.Data)
	if account.Executable {
		fixed[16] = 1
	}
	h.Write(fixed[16:])
	h.Write(account.Owner[:])
	h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeAccountsHash folds the hashes of every account, in ascending
// pubkey order, into a single digest of the whole ledger. Two stores with
// the same contents always produce the same hash.
func ComputeAccountsHash(db DB) (types.Hash, uint64, error) {
	h := blake3.New()
	var n uint64
	err := db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		ah := ComputeAccountHash(pubkey, account)
		h.Write(ah[:])
		n++
		return nil
	})
	if err != nil {
		return types.Hash{}, 0, err
	}
	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out, n, nil
}

// ComparePubkeys orders pubkeys bytewise.
func ComparePubkeys(a, b types.Pubkey) int {
	return bytes.Compare(a[:], b[:])
}
