package auth

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrMalformedTicket indicates the recovered plaintext is not a claims object.
	ErrMalformedTicket = errors.New("malformed ticket")
	// ErrExpiredTicket indicates the ticket's expiry lies in the past.
	ErrExpiredTicket = errors.New("ticket has expired")
)

// Ticket is the bridge's structured view of a recovered legacy ticket: a JSON
// claims object with at least a subject. Deployments whose legacy plaintext is
// a binary format consume the raw bytes from Unprotector directly and skip
// this layer.
type Ticket struct {
	Subject   string
	Name      string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    map[string]any
}

// ParseTicket interprets recovered plaintext as a JSON claims object.
// Timestamps are accepted as unix seconds or RFC 3339 strings; a zero
// ExpiresAt means the legacy ticket carried no expiry.
func ParseTicket(plaintext []byte) (*Ticket, error) {
	var claims map[string]any
	if err := json.Unmarshal(plaintext, &claims); err != nil {
		return nil, ErrMalformedTicket
	}

	t := &Ticket{Claims: claims}
	t.Subject, _ = claims["sub"].(string)
	if t.Subject == "" {
		return nil, ErrMalformedTicket
	}
	t.Name, _ = claims["name"].(string)

	if roles, ok := claims["roles"].([]any); ok {
		for _, r := range roles {
			if s, ok := r.(string); ok {
				t.Roles = append(t.Roles, s)
			}
		}
	}

	t.IssuedAt = claimTime(claims, "iat")
	t.ExpiresAt = claimTime(claims, "exp")
	return t, nil
}

// Valid reports whether the ticket is usable at the given instant.
func (t *Ticket) Valid(now time.Time) error {
	if !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt) {
		return ErrExpiredTicket
	}
	return nil
}

func claimTime(claims map[string]any, key string) time.Time {
	switch v := claims[key].(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
