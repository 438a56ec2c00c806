package krypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMasterKeyRequired indicates an empty master key was supplied.
	ErrMasterKeyRequired = errors.New("master key is required")
	// ErrKeyBits indicates the requested key length is not a positive multiple of 8 bits.
	ErrKeyBits = errors.New("derived key length must be a positive multiple of 8 bits")
	// ErrDerivationOverflow indicates a size computation during derivation would
	// overflow. This is a configuration bug, never an expected runtime condition,
	// so it is reported distinctly instead of the uniform unprotect failure.
	ErrDerivationOverflow = errors.New("key derivation size overflow")
)

// DeriveKey expands masterKey into a bits/8-byte sub-key using the counter-mode
// KDF from NIST SP 800-108 with HMAC-SHA512 as the PRF, reproducing the legacy
// stack's per-purpose sub-key derivation byte for byte.
//
// The primary purpose becomes the KDF label; each specific purpose is appended
// to the context as a varint length prefix followed by its UTF-8 bytes, in the
// order supplied. Every iteration MACs the buffer
//
//	[4-byte BE counter][label][0x00][context][4-byte BE bits]
//
// with the counter starting at 1, and the leftmost bytes of the concatenated
// outputs form the derived key.
//
// The function is pure and safe for concurrent use; a fresh HMAC instance is
// created per call.
func DeriveKey(masterKey []byte, bits int, primaryPurpose string, specificPurposes ...string) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, ErrMasterKeyRequired
	}
	if bits <= 0 || bits%8 != 0 {
		return nil, ErrKeyBits
	}
	// The wire format stores the requested length in a 4-byte field.
	if uint64(bits) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bits", ErrDerivationOverflow, bits)
	}

	label := []byte(primaryPurpose)
	var context []byte
	for _, p := range specificPurposes {
		context = binary.AppendUvarint(context, uint64(len(p)))
		context = append(context, p...)
	}

	bufLen, ok := checkedSum(4, len(label), 1, len(context), 4)
	if !ok {
		return nil, fmt.Errorf("%w: purpose too large", ErrDerivationOverflow)
	}

	outLen := bits / 8
	iterations := (outLen + sha512.Size - 1) / sha512.Size
	if uint64(iterations) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d iterations", ErrDerivationOverflow, iterations)
	}

	buf := make([]byte, bufLen)
	copy(buf[4:], label)
	copy(buf[4+len(label)+1:], context)
	binary.BigEndian.PutUint32(buf[bufLen-4:], uint32(bits))

	out := make([]byte, 0, iterations*sha512.Size)
	for counter := uint32(1); len(out) < outLen; counter++ {
		binary.BigEndian.PutUint32(buf[:4], counter)
		mac := hmac.New(sha512.New, masterKey)
		mac.Write(buf)
		out = mac.Sum(out)
	}

	return out[:outLen], nil
}

func checkedSum(terms ...int) (int, bool) {
	total := 0
	for _, t := range terms {
		if t < 0 || total > math.MaxInt-t {
			return 0, false
		}
		total += t
	}
	return total, true
}
