package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/dgnsrekt/chatcap/internal/capture"
	"github.com/dgnsrekt/chatcap/internal/summary"
	"github.com/dgnsrekt/chatcap/internal/types"
)

const metaFileName = "session.json"

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Store manages session directories under the data dir.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the data directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// ValidateID rejects anything that is not a lower-case UUID.
func ValidateID(id string) error {
	if !uuidRe.MatchString(id) {
		return capture.NewError(capture.CodeValidation, fmt.Sprintf("invalid session id: %q", id), nil)
	}
	return nil
}

// SessionDir returns the directory holding a session's files.
func (s *Store) SessionDir(id string) string {
	return filepath.Join(s.dir, id)
}

// SaveMeta writes session.json.
func (s *Store) SaveMeta(meta types.SessionMeta) error {
	if err := ValidateID(meta.ID); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("session store: marshal meta: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.SessionDir(meta.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session store: mkdir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFileName), data, 0o644); err != nil {
		return fmt.Errorf("session store: write meta: %w", err)
	}
	return nil
}

// Get reads session metadata by ID.
func (s *Store) Get(id string) (types.SessionMeta, error) {
	if err := ValidateID(id); err != nil {
		return types.SessionMeta{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.SessionDir(id), metaFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.SessionMeta{}, capture.NewError(capture.CodeNotFound, "session not found: "+id, nil)
		}
		return types.SessionMeta{}, fmt.Errorf("session store: read meta: %w", err)
	}

	var meta types.SessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return types.SessionMeta{}, fmt.Errorf("session store: unmarshal meta: %w", err)
	}
	return meta, nil
}

// List returns all sessions sorted by creation time (newest first).
func (s *Store) List() ([]types.SessionMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*", metaFileName))
	if err != nil {
		return nil, fmt.Errorf("session store: glob: %w", err)
	}

	metas := make([]types.SessionMeta, 0, len(matches))
	for _, path := range matches {
		if !uuidRe.MatchString(filepath.Base(filepath.Dir(path))) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var meta types.SessionMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			slog.Debug("Skipping unreadable session meta", "path", path, "error", err)
			continue
		}
		metas = append(metas, meta)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Summary reads the persisted summary of a session.
func (s *Store) Summary(id string) (*types.Summary, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summary.Load(s.SessionDir(id))
}

// Delete removes the whole session directory.
func (s *Store) Delete(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.SessionDir(id)
	if err := os.RemoveAll(dir); err != nil {
		slog.Debug("session cleanup failed", "id", id, "dir", dir, "error", err)
		return fmt.Errorf("session store: remove: %w", err)
	}
	return nil
}
