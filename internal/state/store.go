// Package state persists the per-title last-synced hash: the save hash
// recorded after the most recent successful round-trip with the server.
// The three-way reconciliation uses it to tell which side changed.
package state

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/afero"

	"github.com/pepasjc/savesync/internal/bundle"
	"github.com/pepasjc/savesync/internal/titles"
)

// Store keeps one file per title under dir, named {TITLE_ID_HEX}.txt and
// holding exactly 64 hex characters. Writes are not atomic; a torn file
// fails validation on the next load and reads as "no last-synced state",
// which the sync algorithm recovers from.
type Store struct {
	fs     afero.Fs
	dir    string
	logger *slog.Logger
}

// NewStore creates a store rooted at dir.
func NewStore(fs afero.Fs, dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{fs: fs, dir: dir, logger: logger}
}

func (s *Store) path(titleID uint64) string {
	return s.dir + "/" + titles.FormatID(titleID) + ".txt"
}

// Load returns the last-synced hash for a title, lowercased, and whether
// one exists. A missing, short, or non-hex file reads as absent.
func (s *Store) Load(titleID uint64) (string, bool) {
	data, err := afero.ReadFile(s.fs, s.path(titleID))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("state file unreadable", "title", titles.FormatID(titleID), "error", err)
		}

		return "", false
	}

	h := strings.TrimSpace(string(data))
	if !bundle.IsHexHash(h) {
		s.logger.Warn("state file malformed, ignoring", "title", titles.FormatID(titleID))
		return "", false
	}

	return strings.ToLower(h), true
}

// Save records hash as the title's last-synced hash, creating the state
// directory if needed.
func (s *Store) Save(titleID uint64, hash string) error {
	if !bundle.IsHexHash(hash) {
		return fmt.Errorf("state: refusing to record malformed hash %q", hash)
	}

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("state: creating %s: %w", s.dir, err)
	}

	path := s.path(titleID)
	if err := afero.WriteFile(s.fs, path, []byte(strings.ToLower(hash)), 0o644); err != nil {
		return fmt.Errorf("state: writing %s: %w", path, err)
	}

	s.logger.Debug("recorded last-synced hash", "title", titles.FormatID(titleID))

	return nil
}
