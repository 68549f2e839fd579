// Package assets stores rendered reply audio on local disk and hands out the
// stable public URLs the telephony platform fetches them from. The files are
// served by the HTTP server's static mount.
package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"calling-agent/internal/observability"
)

type Store struct {
	dir       string
	publicURL string
	logger    *observability.Logger
}

func New(dir, publicURL string, logger *observability.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create asset dir: %w", err)
	}
	return &Store{
		dir:       dir,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		logger:    logger,
	}, nil
}

// Store writes one reply's audio and returns its public URL. The name is
// deterministic per (call, turn) so a replayed webhook overwrites the same
// asset instead of accumulating new ones.
func (s *Store) Store(callSID string, sequence int, audio []byte) (string, error) {
	name := fmt.Sprintf("%s-%d.mp3", callSID, sequence)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("failed to write audio asset: %w", err)
	}
	return fmt.Sprintf("%s/static/%s", s.publicURL, name), nil
}
