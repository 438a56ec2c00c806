package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
)

const (
	// EncryptionKeyBits is the derived decryption key size. The legacy
	// cipher is AES in CBC mode at its default 256-bit key size.
	EncryptionKeyBits = 256
	// ValidationKeyBits is the derived validation key size. The legacy
	// HMAC-SHA1 implementation keys itself with its full 64-byte block.
	ValidationKeyBits = 512

	ivSize  = aes.BlockSize
	sigSize = sha1.Size
)

// ErrUnprotect is the uniform failure returned for every rejected blob: bad
// signature, bad padding, and malformed input all collapse to this value so a
// caller (or an attacker driving one) cannot tell which check failed.
var ErrUnprotect = errors.New("unprotect failed")

// Unprotect recovers the plaintext from a blob laid out as
//
//	IV (16 bytes) || ciphertext || HMAC-SHA1 signature (20 bytes)
//
// as produced by the legacy protect operation. Per-purpose sub-keys are
// derived from the two master keys with DeriveKey; the signature over
// IV||ciphertext is verified in constant time before any decryption is
// attempted.
//
// All rejections return ErrUnprotect. The only distinguishable failures are
// the hard derivation errors from DeriveKey, which indicate misconfiguration
// rather than a bad token.
func Unprotect(protected, validationKey, decryptionKey []byte, primaryPurpose string, specificPurposes ...string) ([]byte, error) {
	decKey, err := DeriveKey(decryptionKey, EncryptionKeyBits, primaryPurpose, specificPurposes...)
	if err != nil {
		return nil, err
	}
	defer zero(decKey)

	valKey, err := DeriveKey(validationKey, ValidationKeyBits, primaryPurpose, specificPurposes...)
	if err != nil {
		return nil, err
	}
	defer zero(valKey)

	// Anything without a non-empty ciphertext region is malformed; reject
	// before touching the crypto primitives.
	if len(protected) <= ivSize+sigSize {
		return nil, ErrUnprotect
	}
	signed := protected[:len(protected)-sigSize]
	sig := protected[len(protected)-sigSize:]

	mac := hmac.New(sha1.New, valKey)
	mac.Write(signed)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return nil, ErrUnprotect
	}

	ciphertext := signed[ivSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrUnprotect
	}

	block, err := aes.NewCipher(decKey)
	if err != nil {
		return nil, ErrUnprotect
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, signed[:ivSize]).CryptBlocks(plaintext, ciphertext)

	plaintext, ok := pkcs7Unpad(plaintext)
	if !ok {
		return nil, ErrUnprotect
	}
	return plaintext, nil
}

// Protect is the inverse of Unprotect: it pads and CBC-encrypts plaintext
// under a fresh random IV, signs IV||ciphertext with HMAC-SHA1, and emits the
// legacy IV||ciphertext||signature layout.
func Protect(plaintext, validationKey, decryptionKey []byte, primaryPurpose string, specificPurposes ...string) ([]byte, error) {
	decKey, err := DeriveKey(decryptionKey, EncryptionKeyBits, primaryPurpose, specificPurposes...)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	defer zero(decKey)

	valKey, err := DeriveKey(validationKey, ValidationKeyBits, primaryPurpose, specificPurposes...)
	if err != nil {
		return nil, fmt.Errorf("derive validation key: %w", err)
	}
	defer zero(valKey)

	padded := pkcs7Pad(plaintext)
	blob := make([]byte, ivSize+len(padded)+sigSize)

	iv := blob[:ivSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(decKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(blob[ivSize:ivSize+len(padded)], padded)

	mac := hmac.New(sha1.New, valKey)
	mac.Write(blob[:ivSize+len(padded)])
	copy(blob[ivSize+len(padded):], mac.Sum(nil))

	return blob, nil
}

func pkcs7Pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func pkcs7Unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
