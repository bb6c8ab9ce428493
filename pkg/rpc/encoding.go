package rpc

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"

	"github.com/fortiblox/stratus-ico/pkg/runtime"
)

// EncodeAccountData encodes account data according to the specified encoding.
func EncodeAccountData(data []byte, encoding Encoding) ([]string, error) {
	switch encoding {
	case EncodingBase58:
		return []string{base58.Encode(data), string(EncodingBase58)}, nil

	case EncodingBase64Zstd:
		compressed, err := compressZstd(data)
		if err != nil {
			return nil, fmt.Errorf("zstd compression failed: %w", err)
		}
		return []string{base64.StdEncoding.EncodeToString(compressed), string(EncodingBase64Zstd)}, nil

	default:
		return []string{base64.StdEncoding.EncodeToString(data), string(EncodingBase64)}, nil
	}
}

// DecodeAccountData decodes account data from the specified encoding.
func DecodeAccountData(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Decode(encoded)

	case EncodingBase64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		return decompressZstd(compressed)

	default:
		return base64.StdEncoding.DecodeString(encoded)
	}
}

// compressZstd compresses data using zstd.
func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// decompressZstd decompresses zstd-compressed data.
func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}

// transactionEncoding maps an RPC encoding to a wire transport. Wire
// transactions travel as base58 or base64 only.
func transactionEncoding(encoding Encoding) (runtime.Encoding, error) {
	switch encoding {
	case EncodingBase58:
		return runtime.EncodingBase58, nil
	case EncodingBase64, "":
		return runtime.EncodingBase64, nil
	default:
		return "", fmt.Errorf("%w: %q", runtime.ErrUnknownEncoding, encoding)
	}
}

// EncodeTransaction encodes raw wire bytes as [encoded, encoding].
func EncodeTransaction(raw []byte, encoding Encoding) []string {
	if encoding == EncodingBase58 {
		return []string{base58.Encode(raw), string(EncodingBase58)}
	}
	return []string{base64.StdEncoding.EncodeToString(raw), string(EncodingBase64)}
}

// ApplyDataSlice applies a data slice to account data.
func ApplyDataSlice(data []byte, slice *DataSlice) []byte {
	if slice == nil {
		return data
	}

	start := slice.Offset
	if start >= uint64(len(data)) {
		return []byte{}
	}

	end := start + slice.Length
	if end > uint64(len(data)) || end < start {
		end = uint64(len(data))
	}

	return data[start:end]
}

// ParseEncoding parses an encoding string to Encoding type.
func ParseEncoding(s string) Encoding {
	switch s {
	case "base58":
		return EncodingBase58
	case "base64+zstd":
		return EncodingBase64Zstd
	default:
		return EncodingBase64
	}
}
