package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// ErrShortSecret indicates the operator signing secret is too short to use.
var ErrShortSecret = errors.New("signing secret must be at least 32 bytes")

const (
	signingSalt   = "tokenbridge-hkdf-salt-v1"
	signingInfo   = "tokenbridge-jwt-signing-v1"
	signingKeyLen = 32
)

// Minter re-issues recovered legacy tickets as HS256 JWTs for the new stack.
type Minter struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

// NewMinter derives the HS256 signing key from the operator secret via
// HKDF-SHA256 with fixed salt/info strings, so the raw secret never signs
// anything directly.
func NewMinter(secret, issuer string, ttl time.Duration) (*Minter, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}

	key := make([]byte, signingKeyLen)
	h := hkdf.New(sha256.New, []byte(secret), []byte(signingSalt), []byte(signingInfo))
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}

	return &Minter{signingKey: key, issuer: issuer, ttl: ttl}, nil
}

// Mint signs the ticket's claims as an HS256 JWT. The new token never
// outlives the legacy ticket: its expiry is the sooner of now+ttl and the
// ticket's own expiry.
func (m *Minter) Mint(t *Ticket, now time.Time) (string, error) {
	if t == nil {
		return "", ErrMalformedTicket
	}
	if err := t.Valid(now); err != nil {
		return "", err
	}

	exp := now.Add(m.ttl)
	if !t.ExpiresAt.IsZero() && t.ExpiresAt.Before(exp) {
		exp = t.ExpiresAt
	}

	claims := jwt.MapClaims{
		"sub": t.Subject,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}
	if m.issuer != "" {
		claims["iss"] = m.issuer
	}
	if t.Name != "" {
		claims["name"] = t.Name
	}
	if len(t.Roles) > 0 {
		claims["roles"] = t.Roles
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
