// Package recording writes per-session diagnostic audio dumps. When enabled,
// each connection's decoded PCM is written to disk as a single WAV file when
// the connection closes, named by session id.
package recording

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lingopair/lingopair/pkg/audio"
)

// Entry describes one stored recording.
type Entry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// Store persists session recordings under a single directory. A nil Store is
// valid and drops everything, so callers need no enabled checks.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore creates the recording directory if needed.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recording: create dir %q: %w", dir, err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Save writes pcm as a WAV file named by session id and returns its path.
func (s *Store) Save(sessionID string, pcm []float32, sampleRate int) (string, error) {
	if s == nil {
		return "", nil
	}
	if len(pcm) == 0 {
		return "", nil
	}

	name := sanitize(sessionID) + ".wav"
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, audio.EncodeWAVFloat32(pcm, sampleRate), 0o644); err != nil {
		return "", fmt.Errorf("recording: write %q: %w", path, err)
	}
	s.log.Info("session recording saved", "path", path, "samples", len(pcm))
	return path, nil
}

// List returns all stored recordings, newest first.
func (s *Store) List() ([]Entry, error) {
	if s == nil {
		return nil, nil
	}

	var entries []Entry
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".wav") {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Name:     d.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recording: list %q: %w", s.dir, err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Modified.After(entries[j].Modified)
	})
	return entries, nil
}

// sanitize keeps session ids path-safe.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
}
