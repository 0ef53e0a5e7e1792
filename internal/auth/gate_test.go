package auth

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeAllowlist(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write allowlist: %v", err)
	}
	return path
}

func TestLoad_TrimsAndSkipsBlanks(t *testing.T) {
	path := writeAllowlist(t, "alice@example.com\n\n  bob@example.com  \n\n")
	g := Load(path, testLogger())

	if g.Size() != 2 {
		t.Fatalf("expected 2 identities, got %d", g.Size())
	}
	if !g.IsAuthorized("alice@example.com") {
		t.Fatal("alice should be authorized")
	}
	if !g.IsAuthorized("bob@example.com") {
		t.Fatal("bob should be authorized after trimming")
	}
}

func TestLoad_MissingFileFailsClosed(t *testing.T) {
	g := Load(filepath.Join(t.TempDir(), "nope.csv"), testLogger())

	if g.Size() != 0 {
		t.Fatalf("expected empty gate, got %d entries", g.Size())
	}
	if g.IsAuthorized("alice@example.com") {
		t.Fatal("empty gate must authorize nobody")
	}
}

func TestIsAuthorized_ExactCaseSensitiveMatch(t *testing.T) {
	path := writeAllowlist(t, "Alice@Example.com\n")
	g := Load(path, testLogger())

	if g.IsAuthorized("alice@example.com") {
		t.Fatal("lookup must be case-sensitive")
	}
	if g.IsAuthorized("Alice@Example.com ") {
		t.Fatal("lookup must be exact, not prefix")
	}
	if !g.IsAuthorized("Alice@Example.com") {
		t.Fatal("exact match should be authorized")
	}
}

func TestIsAuthorized_EmptyIdentityRejected(t *testing.T) {
	path := writeAllowlist(t, "alice@example.com\n")
	g := Load(path, testLogger())

	if g.IsAuthorized("") {
		t.Fatal("empty identity must never be authorized")
	}
}
