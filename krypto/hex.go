package krypto

import "encoding/hex"

// DecodeHexKey decodes an operator-supplied hexadecimal secret into raw master
// key bytes. Odd-length input or any character outside 0-9a-fA-F yields
// ok=false; callers treat that the same as a cryptographic failure.
func DecodeHexKey(s string) ([]byte, bool) {
	if len(s)%2 != 0 {
		return nil, false
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return key, true
}
