package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Kind selects one of the per-request buffers.
type Kind string

const (
	KindStream  Kind = "streams"
	KindBody    Kind = "bodies"
	KindRequest Kind = "requests"
	KindHooked  Kind = "hooked"
)

var allKinds = []Kind{KindStream, KindBody, KindRequest, KindHooked}

const chunkExt = ".txt"

// idIndexFile records the original id of every buffer whose file name had
// to be rewritten by SafeFileName, one JSON object per line.
const idIndexFile = "ids.jsonl"

type idIndexEntry struct {
	File string `json:"file"`
	ID   string `json:"id"`
}

// ChunkStore persists raw network payloads for one capture session. Stream
// buffers are append-only; body, request and hooked buffers are write-once.
// All writes go through a single lock.
type ChunkStore struct {
	dir string
	mu  sync.Mutex
	// original request ids keyed by file base name, for names that differ
	ids map[string]string
}

// NewChunkStore creates the buffer directories under dir and loads the id
// index left by an earlier store on the same directory.
func NewChunkStore(dir string) (*ChunkStore, error) {
	for _, k := range allKinds {
		if err := os.MkdirAll(filepath.Join(dir, string(k)), 0o755); err != nil {
			return nil, fmt.Errorf("chunk store: mkdir %s: %w", k, err)
		}
	}
	s := &ChunkStore{dir: dir, ids: make(map[string]string)}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChunkStore) loadIndex() error {
	f, err := os.Open(filepath.Join(s.dir, idIndexFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("chunk store: open id index: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e idIndexEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.File == "" {
			slog.Debug("Skipping malformed id index line", "error", err)
			continue
		}
		if _, ok := s.ids[e.File]; !ok {
			s.ids[e.File] = e.ID
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("chunk store: read id index: %w", err)
	}
	return nil
}

// remember records requestID in the id index when its file name differs.
// The first id to claim a name keeps it. Callers hold s.mu.
func (s *ChunkStore) remember(requestID string) error {
	name := SafeFileName(requestID)
	if name == requestID {
		return nil
	}
	if _, ok := s.ids[name]; ok {
		return nil
	}
	line, err := json.Marshal(idIndexEntry{File: name, ID: requestID})
	if err != nil {
		return fmt.Errorf("chunk store: encode id index: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, idIndexFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("chunk store: open id index: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("chunk store: append id index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("chunk store: close id index: %w", err)
	}
	s.ids[name] = requestID
	return nil
}

// Dir returns the session directory the store writes under.
func (s *ChunkStore) Dir() string {
	return s.dir
}

// Path returns the file backing a request's buffer of the given kind.
func (s *ChunkStore) Path(kind Kind, requestID string) string {
	return filepath.Join(s.dir, string(kind), SafeFileName(requestID)+chunkExt)
}

// AppendStream appends text to the request's stream buffer. Empty text is a no-op.
func (s *ChunkStore) AppendStream(requestID, text string) error {
	if text == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.remember(requestID); err != nil {
		return err
	}
	f, err := os.OpenFile(s.Path(KindStream, requestID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("chunk store: open stream: %w", err)
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return fmt.Errorf("chunk store: append stream: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("chunk store: close stream: %w", err)
	}
	return nil
}

// WriteBody stores the whole response body once. It reports whether this
// call performed the write.
func (s *ChunkStore) WriteBody(requestID, text string) (bool, error) {
	return s.writeOnce(KindBody, requestID, text)
}

// WriteRequestBody stores the request post data once.
func (s *ChunkStore) WriteRequestBody(requestID, text string) (bool, error) {
	return s.writeOnce(KindRequest, requestID, text)
}

// WriteHookBody stores the body delivered by the response hook backend once.
func (s *ChunkStore) WriteHookBody(requestID, text string) (bool, error) {
	return s.writeOnce(KindHooked, requestID, text)
}

func (s *ChunkStore) writeOnce(kind Kind, requestID, text string) (bool, error) {
	if text == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.Path(kind, requestID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("chunk store: create %s: %w", kind, err)
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("chunk store: write %s: %w", kind, err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("chunk store: close %s: %w", kind, err)
	}
	if err := s.remember(requestID); err != nil {
		return true, err
	}
	return true, nil
}

// ReadStream returns the stream buffer, or "" if absent.
func (s *ChunkStore) ReadStream(requestID string) string {
	return s.read(KindStream, requestID)
}

// ReadBody returns the body buffer, or "" if absent.
func (s *ChunkStore) ReadBody(requestID string) string {
	return s.read(KindBody, requestID)
}

// ReadRequestBody returns the request post data, or "" if absent.
func (s *ChunkStore) ReadRequestBody(requestID string) string {
	return s.read(KindRequest, requestID)
}

// ReadHookBody returns the response hook body, or "" if absent.
func (s *ChunkStore) ReadHookBody(requestID string) string {
	return s.read(KindHooked, requestID)
}

func (s *ChunkStore) read(kind Kind, requestID string) string {
	data, err := os.ReadFile(s.Path(kind, requestID))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("chunk read failed", "kind", kind, "request_id", requestID, "error", err)
		}
		return ""
	}
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

// Has reports whether a non-empty buffer of the given kind exists.
func (s *ChunkStore) Has(kind Kind, requestID string) bool {
	return s.Size(kind, requestID) > 0
}

// Size returns the current byte size of a buffer, 0 if absent.
func (s *ChunkStore) Size(kind Kind, requestID string) int64 {
	info, err := os.Stat(s.Path(kind, requestID))
	if err != nil {
		return 0
	}
	return info.Size()
}

// Tail returns up to n trailing bytes of a buffer.
func (s *ChunkStore) Tail(kind Kind, requestID string, n int64) string {
	f, err := os.Open(s.Path(kind, requestID))
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := info.Size() - n
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return ""
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return ""
	}
	return string(data)
}

// RequestIDs lists every request id that has any persisted buffer, sorted.
// File names rewritten by SafeFileName are mapped back to the original id.
func (s *ChunkStore) RequestIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, k := range allKinds {
		entries, err := os.ReadDir(filepath.Join(s.dir, string(k)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("chunk store: list %s: %w", k, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, chunkExt) {
				continue
			}
			base := strings.TrimSuffix(name, chunkExt)
			if id, ok := s.ids[base]; ok {
				base = id
			}
			seen[base] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
