package auth

import (
	"encoding/base64"

	"github.com/legacyauth/tokenbridge/krypto"
)

// Unprotector recovers the plaintext of authentication tokens protected by
// the legacy stack, configured once with the operator's hex secrets and the
// purpose the legacy system minted the tokens under.
//
// An Unprotector is immutable after construction and safe for concurrent use.
type Unprotector struct {
	validationKey []byte
	decryptionKey []byte
	primary       string
	specifics     []string
}

// NewUnprotector decodes the two hex master keys and captures the purpose.
// A malformed or empty key is indistinguishable from any other failure: the
// error is krypto.ErrUnprotect.
func NewUnprotector(validationKeyHex, decryptionKeyHex, primaryPurpose string, specificPurposes ...string) (*Unprotector, error) {
	valKey, ok := krypto.DecodeHexKey(validationKeyHex)
	if !ok || len(valKey) == 0 {
		return nil, krypto.ErrUnprotect
	}
	decKey, ok := krypto.DecodeHexKey(decryptionKeyHex)
	if !ok || len(decKey) == 0 {
		return nil, krypto.ErrUnprotect
	}

	return &Unprotector{
		validationKey: valKey,
		decryptionKey: decKey,
		primary:       primaryPurpose,
		specifics:     append([]string(nil), specificPurposes...),
	}, nil
}

// Unprotect validates and decrypts a raw protected blob.
func (u *Unprotector) Unprotect(protected []byte) ([]byte, error) {
	return krypto.Unprotect(protected, u.validationKey, u.decryptionKey, u.primary, u.specifics...)
}

// UnprotectToken accepts the token as transmitted: base64url with or without
// padding, falling back to standard base64. Decode failure is the same
// uniform failure as a bad blob.
func (u *Unprotector) UnprotectToken(token string) ([]byte, error) {
	blob, ok := decodeToken(token)
	if !ok {
		return nil, krypto.ErrUnprotect
	}
	return u.Unprotect(blob)
}

// Protect is the inverse operation, for emitting legacy-compatible tokens
// during migration. The result is base64url encoded without padding.
func (u *Unprotector) Protect(plaintext []byte) (string, error) {
	blob, err := krypto.Protect(plaintext, u.validationKey, u.decryptionKey, u.primary, u.specifics...)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(blob), nil
}

// Unprotect is the one-shot form for callers holding the hex secrets.
func Unprotect(protected []byte, validationKeyHex, decryptionKeyHex, primaryPurpose string, specificPurposes ...string) ([]byte, error) {
	u, err := NewUnprotector(validationKeyHex, decryptionKeyHex, primaryPurpose, specificPurposes...)
	if err != nil {
		return nil, err
	}
	return u.Unprotect(protected)
}

func decodeToken(token string) ([]byte, bool) {
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if blob, err := enc.DecodeString(token); err == nil {
			return blob, true
		}
	}
	return nil, false
}
