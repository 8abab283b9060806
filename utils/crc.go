package utils

import "hash/crc32"

// Checksum returns the CRC-32 (IEEE) of data.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// CheckChecksum reports whether data hashes to crc.
func CheckChecksum(crc uint32, data []byte) bool {
	return Checksum(data) == crc
}
