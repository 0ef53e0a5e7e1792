// Package auth implements the allow-list authorization gate. The list is
// loaded once at startup and never refreshed; a stale allow-list requires
// a restart.
package auth

import (
	"log/slog"
	"os"
	"strings"
)

// Gate answers membership queries against a static set of identities.
// The set is immutable after Load, so lookups need no locking.
type Gate struct {
	identities map[string]struct{}
}

// Load reads a line-delimited list of identities from path. Blank lines
// are skipped and each line is trimmed. A missing or unreadable file
// yields an empty gate (fail-closed: nothing is authorized) rather than
// an error; startup must not crash on a bad allow-list.
func Load(path string, logger *slog.Logger) *Gate {
	g := &Gate{identities: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("allow-list file not found, gate is empty", "path", path)
		} else {
			logger.Warn("allow-list unreadable, gate is empty", "path", path, "err", err)
		}
		return g
	}

	for _, line := range strings.Split(string(data), "\n") {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		g.identities[id] = struct{}{}
	}

	logger.Info("allow-list loaded", "path", path, "entries", len(g.identities))
	return g
}

// IsAuthorized reports whether identity is on the allow-list.
// Matching is exact and case-sensitive.
func (g *Gate) IsAuthorized(identity string) bool {
	_, ok := g.identities[identity]
	return ok
}

// Size returns the number of loaded identities.
func (g *Gate) Size() int {
	return len(g.identities)
}
