// Package checksum converts raw hash digests into the SRI representation
// stored in package definitions, e.g. "sha256-uU0nuZ...=". Conversion is a
// pure transform: digests may arrive hex encoded (PyPI), Nix base32 encoded
// (nix-prefetch-url) or already in SRI form, and all normalize to the same
// canonical string.
package checksum

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedAlgorithm is returned for unknown hash algorithm names.
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// digestSizes maps algorithm names to their digest length in bytes.
var digestSizes = map[string]int{
	"md5":    16,
	"sha1":   20,
	"sha256": 32,
	"sha512": 64,
}

// nixBase32Alphabet is the character set nix uses for base32 hashes. It
// omits e, o, t and u to avoid accidental words.
const nixBase32Alphabet = "0123456789abcdfghijklmnpqrsvwxyz"

// ToSRI converts a digest in any recognized encoding into its SRI form.
// Normalizing an already-SRI digest returns it unchanged.
func ToSRI(algorithm, value string) (string, error) {
	size, ok := digestSizes[algorithm]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}

	if strings.HasPrefix(value, algorithm+"-") {
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, algorithm+"-"))
		if err != nil || len(raw) != size {
			return "", fmt.Errorf("malformed %s SRI hash %q", algorithm, value)
		}
		return value, nil
	}

	var (
		raw []byte
		err error
	)
	switch len(value) {
	case hex.EncodedLen(size):
		raw, err = hex.DecodeString(value)
	case nixBase32Len(size):
		raw, err = decodeNixBase32(value, size)
	case base64.StdEncoding.EncodedLen(size):
		raw, err = base64.StdEncoding.DecodeString(value)
	default:
		return "", fmt.Errorf("unrecognized %s digest encoding (length %d)", algorithm, len(value))
	}
	if err != nil {
		return "", fmt.Errorf("decoding %s digest %q: %w", algorithm, value, err)
	}
	return algorithm + "-" + base64.StdEncoding.EncodeToString(raw), nil
}

func nixBase32Len(size int) int {
	return (size*8-1)/5 + 1
}

// decodeNixBase32 reverses nix's base32 hash encoding. Characters encode
// 5-bit groups of the digest starting from the least significant bit, with
// the string written most significant character first.
func decodeNixBase32(s string, size int) ([]byte, error) {
	raw := make([]byte, size)
	n := len(s)
	for i := 0; i < n; i++ {
		c := s[n-1-i]
		digit := strings.IndexByte(nixBase32Alphabet, c)
		if digit < 0 {
			return nil, fmt.Errorf("invalid base32 character %q", c)
		}
		b := i * 5
		byteIdx := b / 8
		shift := b % 8
		raw[byteIdx] |= byte(digit << shift)
		if shift > 3 {
			if byteIdx+1 >= size {
				if digit>>(8-shift) != 0 {
					return nil, errors.New("invalid base32 hash: trailing bits")
				}
				continue
			}
			raw[byteIdx+1] |= byte(digit >> (8 - shift))
		}
	}
	return raw, nil
}
