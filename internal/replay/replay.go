package replay

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrReplayed indicates a token was already exchanged by this bridge.
var ErrReplayed = errors.New("token already exchanged")

// Store remembers the digest of every token the bridge has exchanged, so a
// captured legacy token cannot be traded for a fresh JWT twice.
type Store struct {
	sql  *sql.DB
	path string
}

// Open initialises the replay database at the given path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("replay database path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create replay database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open replay database: %w", err)
	}

	if err := handle.Ping(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("ping replay database: %w", err)
	}

	if err := ensurePerm0600(path); err != nil {
		handle.Close()
		return nil, err
	}

	return &Store{sql: handle, path: path}, nil
}

// Close releases the database resources.
func Close(s *Store) error {
	if s == nil || s.sql == nil {
		return nil
	}
	return s.sql.Close()
}

const createConsumedTable = `
CREATE TABLE IF NOT EXISTS consumed_tokens (
	digest      TEXT     PRIMARY KEY,
	consumed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Migrate ensures the consumed_tokens table exists.
func Migrate(s *Store) error {
	if s == nil || s.sql == nil {
		return fmt.Errorf("replay store handle is nil")
	}
	if _, err := s.sql.Exec(createConsumedTable); err != nil {
		return fmt.Errorf("migrate replay schema: %w", err)
	}
	return nil
}

// Consume records the token's digest, or returns ErrReplayed if it was
// recorded before. The insert itself is the atomicity point, so two
// concurrent exchanges of the same token cannot both succeed.
func Consume(s *Store, token string) error {
	if s == nil || s.sql == nil {
		return fmt.Errorf("replay store handle is nil")
	}

	res, err := s.sql.Exec(
		`INSERT OR IGNORE INTO consumed_tokens (digest) VALUES (?)`,
		Digest(token),
	)
	if err != nil {
		return fmt.Errorf("record consumed token: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consumed rows affected: %w", err)
	}
	if n == 0 {
		return ErrReplayed
	}
	return nil
}

// Seen reports whether the token was already exchanged, without consuming it.
func Seen(s *Store, token string) (bool, error) {
	if s == nil || s.sql == nil {
		return false, fmt.Errorf("replay store handle is nil")
	}

	var digest string
	err := s.sql.QueryRow(
		`SELECT digest FROM consumed_tokens WHERE digest = ?`,
		Digest(token),
	).Scan(&digest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query consumed token: %w", err)
	}
	return true, nil
}

// Digest returns the hex SHA-256 of the token string. Only the digest is
// persisted; the store never holds token material.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func ensurePerm0600(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("chmod replay database: %w", err)
	}
	return nil
}
