// Package region serializes the three logical regions of a database
// file (schema, index, data) to and from contiguous byte ranges. Every
// stored region is independently checksummed; the checksum covers the
// stored bytes (post-compression, post-encryption) so corruption is
// detected before any decryption or parsing.
package region

import (
	"encoding/binary"
	"errors"

	"github.com/tuckdb/tuckdb/utils"
)

var (
	// ErrChecksum reports a region whose stored bytes do not match
	// their checksum. Fatal for the file.
	ErrChecksum = errors.New("region: checksum mismatch")
	// ErrCorrupt reports a region payload that cannot be parsed.
	ErrCorrupt = errors.New("region: corrupt payload")
)

var byteOrder = binary.LittleEndian

const sealOverhead = 4

// Seal prefixes payload with its CRC32, producing the stored form.
func Seal(payload []byte) []byte {
	out := make([]byte, sealOverhead+len(payload))
	byteOrder.PutUint32(out[0:4], utils.Checksum(payload))
	copy(out[sealOverhead:], payload)
	return out
}

// Unseal verifies the checksum and returns the payload.
func Unseal(stored []byte) ([]byte, error) {
	if len(stored) < sealOverhead {
		return nil, ErrChecksum
	}
	payload := stored[sealOverhead:]
	if !utils.CheckChecksum(byteOrder.Uint32(stored[0:4]), payload) {
		return nil, ErrChecksum
	}
	return payload, nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func readString(data []byte, off int) (string, int, error) {
	length, n := binary.Uvarint(data[off:])
	if n <= 0 || off+n+int(length) > len(data) {
		return "", 0, ErrCorrupt
	}
	off += n
	return string(data[off : off+int(length)]), off + int(length), nil
}

func readUvarint(data []byte, off int) (uint64, int, error) {
	v, n := binary.Uvarint(data[off:])
	if n <= 0 {
		return 0, 0, ErrCorrupt
	}
	return v, off + n, nil
}
