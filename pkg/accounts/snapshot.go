package accounts

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/stratus-ico/internal/log"
	"github.com/fortiblox/stratus-ico/internal/types"
)

const snapshotVersion uint32 = 1

var snapshotMagic = [4]byte{'S', 'I', 'C', 'O'}

// ErrSnapshotMismatch is returned when a snapshot's contents do not hash to
// the value recorded in its header.
var ErrSnapshotMismatch = errors.New("snapshot accounts hash mismatch")

// SnapshotHeader precedes the compressed account stream.
//
//	magic(4) | version(4) | slot(8) | accounts_count(8) | accounts_hash(32)
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64
	AccountsHash  types.Hash
}

const snapshotHeaderSize = 4 + 4 + 8 + 8 + types.HashSize

func (h *SnapshotHeader) encode() []byte {
	buf := make([]byte, snapshotHeaderSize)
	copy(buf, snapshotMagic[:])
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint64(buf[8:], h.Slot)
	binary.LittleEndian.PutUint64(buf[16:], h.AccountsCount)
	copy(buf[24:], h.AccountsHash[:])
	return buf
}

func decodeSnapshotHeader(buf []byte) (*SnapshotHeader, error) {
	if !bytes.Equal(buf[:4], snapshotMagic[:]) {
		return nil, fmt.Errorf("%w: bad snapshot magic", ErrInvalidData)
	}
	h := &SnapshotHeader{
		Version:       binary.LittleEndian.Uint32(buf[4:]),
		Slot:          binary.LittleEndian.Uint64(buf[8:]),
		AccountsCount: binary.LittleEndian.Uint64(buf[16:]),
	}
	copy(h.AccountsHash[:], buf[24:])
	if h.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", ErrInvalidData, h.Version)
	}
	return h, nil
}

// WriteSnapshot streams every account in db to w. The body is zstd
// compressed; each record is pubkey(32) | size(4) | serialized account.
func WriteSnapshot(db DB, w io.Writer) (*SnapshotHeader, error) {
	hash, count, err := ComputeAccountsHash(db)
	if err != nil {
		return nil, fmt.Errorf("hash accounts: %w", err)
	}
	header := &SnapshotHeader{
		Version:       snapshotVersion,
		Slot:          db.Slot(),
		AccountsCount: count,
		AccountsHash:  hash,
	}
	if _, err := w.Write(header.encode()); err != nil {
		return nil, err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(zw)
	var sizeBuf [4]byte
	err = db.IterateAccounts(func(pubkey types.Pubkey, account *Account) error {
		data := account.Serialize()
		binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(data)))
		if _, err := bw.Write(pubkey[:]); err != nil {
			return err
		}
		if _, err := bw.Write(sizeBuf[:]); err != nil {
			return err
		}
		_, err := bw.Write(data)
		return err
	})
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("write accounts: %w", err)
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return header, nil
}

// ReadSnapshot decodes a snapshot into entries and verifies that they hash
// to the header's accounts hash.
func ReadSnapshot(r io.Reader) (*SnapshotHeader, []Entry, error) {
	hbuf := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, hbuf); err != nil {
		return nil, nil, fmt.Errorf("read snapshot header: %w", err)
	}
	header, err := decodeSnapshotHeader(hbuf)
	if err != nil {
		return nil, nil, err
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, err
	}
	defer zr.Close()
	br := bufio.NewReader(zr)

	scratch := NewMemoryDB()
	entries := make([]Entry, 0, header.AccountsCount)
	for i := uint64(0); i < header.AccountsCount; i++ {
		var rec [types.PubkeySize + 4]byte
		if _, err := io.ReadFull(br, rec[:]); err != nil {
			return nil, nil, fmt.Errorf("account %d: %w", i, err)
		}
		size := binary.LittleEndian.Uint32(rec[types.PubkeySize:])
		if size > MaxDataSize+fixedSize {
			return nil, nil, fmt.Errorf("account %d: %w", i, ErrInvalidData)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, nil, fmt.Errorf("account %d: %w", i, err)
		}
		acct, err := DeserializeAccount(data)
		if err != nil {
			return nil, nil, fmt.Errorf("account %d: %w", i, err)
		}
		var pubkey types.Pubkey
		copy(pubkey[:], rec[:types.PubkeySize])
		entries = append(entries, Entry{Pubkey: pubkey, Account: acct})
	}

	if err := scratch.SetAccounts(entries, header.Slot); err != nil {
		return nil, nil, err
	}
	hash, _, err := ComputeAccountsHash(scratch)
	if err != nil {
		return nil, nil, err
	}
	if hash != header.AccountsHash {
		return nil, nil, fmt.Errorf("%w: header %s, contents %s", ErrSnapshotMismatch, header.AccountsHash, hash)
	}
	return header, entries, nil
}

// CreateSnapshotFile writes a snapshot of db to path.
func CreateSnapshotFile(db DB, path string) (*SnapshotHeader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}
	header, err := WriteSnapshot(db, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, err
	}

	log.Storage.Info().
		Str("path", path).
		Uint64("slot", header.Slot).
		Uint64("accounts", header.AccountsCount).
		Str("hash", header.AccountsHash.String()).
		Msg("snapshot written")
	return header, nil
}

// LoadSnapshotFile restores the snapshot at path into db in one batch.
// db is expected to be empty.
func LoadSnapshotFile(db DB, path string) (*SnapshotHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, entries, err := ReadSnapshot(f)
	if err != nil {
		return nil, err
	}
	if err := db.SetAccounts(entries, header.Slot); err != nil {
		return nil, err
	}
	return header, nil
}

// SnapshotFilename returns the conventional file name for a snapshot.
func SnapshotFilename(slot uint64, hash types.Hash) string {
	return fmt.Sprintf("snapshot-%d-%s.sico", slot, hash)
}
