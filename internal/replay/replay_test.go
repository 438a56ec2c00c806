package replay_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/legacyauth/tokenbridge/internal/replay"
)

func openTestStore(t *testing.T) *replay.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "replay.db")
	store, err := replay.Open(path)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		replay.Close(store)
	})

	if err := replay.Migrate(store); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	return store
}

func TestConsumeRejectsReplay(t *testing.T) {
	store := openTestStore(t)

	token := "legacy-token-aaaa"
	if err := replay.Consume(store, token); err != nil {
		t.Fatalf("first Consume returned error: %v", err)
	}

	err := replay.Consume(store, token)
	if !errors.Is(err, replay.ErrReplayed) {
		t.Fatalf("second Consume error = %v, want ErrReplayed", err)
	}

	// A different token is unaffected.
	if err := replay.Consume(store, "legacy-token-bbbb"); err != nil {
		t.Fatalf("Consume of distinct token returned error: %v", err)
	}
}

func TestSeen(t *testing.T) {
	store := openTestStore(t)

	seen, err := replay.Seen(store, "token-x")
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if seen {
		t.Fatal("unconsumed token reported as seen")
	}

	if err := replay.Consume(store, "token-x"); err != nil {
		t.Fatalf("Consume returned error: %v", err)
	}

	seen, err = replay.Seen(store, "token-x")
	if err != nil {
		t.Fatalf("Seen returned error: %v", err)
	}
	if !seen {
		t.Fatal("consumed token not reported as seen")
	}
}

func TestDigestIsStableAndOpaque(t *testing.T) {
	if replay.Digest("a") != replay.Digest("a") {
		t.Error("digest of identical tokens differs")
	}
	if replay.Digest("a") == replay.Digest("b") {
		t.Error("digest of distinct tokens collides")
	}
	if len(replay.Digest("a")) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(replay.Digest("a")))
	}
}
