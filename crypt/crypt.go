// Package crypt implements the symmetric region ciphers. All levels
// are stream ciphers, so Transform both encrypts and decrypts. The
// ciphers see regions as opaque byte blobs and know nothing about
// record structure.
package crypt

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/pbkdf2"
)

// Level selects how region bytes are protected at rest.
type Level uint8

const (
	// LevelNone applies the identity transform.
	LevelNone Level = iota
	// LevelLow is repeating-key XOR obfuscation. Defeats casual
	// inspection only.
	LevelLow
	// LevelMedium is an LCG-driven keystream. Deters unsophisticated
	// tampering, not cryptographically sound.
	LevelMedium
	// LevelHigh is ChaCha20 with a 256-bit derived key.
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l <= LevelHigh
}

const (
	// SaltSize is the size of the random salt persisted in the header.
	SaltSize = 16
	// KeySize is the derived key size for every level.
	KeySize = 32
	// CheckSize is the size of the key-check token in the header.
	CheckSize = 4
)

// checkMagic is the fixed plaintext behind the key-check token.
var checkMagic = []byte{'T', 'U', 'C', 'K'}

var ErrBadLevel = errors.New("crypt: unknown encryption level")

// iterations returns the PBKDF2 iteration count for a level. Higher
// levels pay a higher open-time derivation cost.
func iterations(level Level) int {
	switch level {
	case LevelLow:
		return 1_000
	case LevelMedium:
		return 10_000
	default:
		return 100_000
	}
}

// DeriveKey derives the file key from a password and the persisted
// salt. Returns nil for LevelNone.
func DeriveKey(password string, salt []byte, level Level) []byte {
	if level == LevelNone {
		return nil
	}
	return pbkdf2.Key([]byte(password), salt, iterations(level), KeySize, sha256.New)
}

// NewSalt returns a fresh random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Transform encrypts or decrypts data under key. The nonce must be
// unique per (key, blob): the engine derives it from the checkpoint
// generation and a region ordinal. The input slice is not modified.
func Transform(data, key []byte, level Level, nonce uint64) ([]byte, error) {
	switch level {
	case LevelNone:
		return data, nil
	case LevelLow:
		return xorTransform(data, key, nonce), nil
	case LevelMedium:
		return lcgTransform(data, key, nonce), nil
	case LevelHigh:
		return chachaTransform(data, key, nonce)
	default:
		return nil, ErrBadLevel
	}
}

// CheckToken returns the key-check token stored in the header: the
// first CheckSize bytes of the fixed magic encrypted under key. A
// mismatch on open detects a wrong password before any region parse.
func CheckToken(key []byte, level Level) ([CheckSize]byte, error) {
	var token [CheckSize]byte
	if level == LevelNone {
		return token, nil
	}
	enc, err := Transform(checkMagic, key, level, 0)
	if err != nil {
		return token, err
	}
	copy(token[:], enc)
	return token, nil
}

// xorTransform is a repeating-key XOR with the nonce rotating the key
// phase, so two generations of the same plaintext do not line up.
func xorTransform(data, key []byte, nonce uint64) []byte {
	out := make([]byte, len(data))
	phase := int(nonce % uint64(len(key)))
	for i := range data {
		out[i] = data[i] ^ key[(i+phase)%len(key)]
	}
	return out
}

// lcgTransform XORs data with a keystream from a 64-bit linear
// congruential generator (MMIX multiplier) seeded by key and nonce.
func lcgTransform(data, key []byte, nonce uint64) []byte {
	const (
		mult = 6364136223846793005
		inc  = 1442695040888963407
	)
	var seed uint64
	for i := 0; i+8 <= len(key); i += 8 {
		seed ^= uint64(key[i]) | uint64(key[i+1])<<8 | uint64(key[i+2])<<16 |
			uint64(key[i+3])<<24 | uint64(key[i+4])<<32 | uint64(key[i+5])<<40 |
			uint64(key[i+6])<<48 | uint64(key[i+7])<<56
	}
	state := seed ^ (nonce * mult)
	out := make([]byte, len(data))
	for i := range data {
		state = state*mult + inc
		out[i] = data[i] ^ byte(state>>56)
	}
	return out
}

func chachaTransform(data, key []byte, nonce uint64) ([]byte, error) {
	var iv [chacha20.NonceSize]byte
	for i := 0; i < 8; i++ {
		iv[i] = byte(nonce >> (8 * i))
	}
	cipher, err := chacha20.NewUnauthenticatedCipher(key, iv[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	cipher.XORKeyStream(out, data)
	return out, nil
}
