package artifact

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// MemoryLocation keeps artifacts in process only.
const MemoryLocation = ":memory:"

const fileSuffix = ".artifact"

// ErrNoCodec is returned by the transform helpers when no codec is set.
var ErrNoCodec = errors.New("artifact store has no codec")

// Store is a key to bytes cache for captured screenshots. It is safe for
// concurrent use; every operation observes a consistent snapshot.
//
// A Store only accepts writes once Initialize has been given a backing
// location. A directory location is used as write-through persistence and
// reloaded on the next Initialize.
type Store struct {
	mu          sync.RWMutex
	entries     map[string][]byte
	totalSize   int64
	maxSize     int64
	location    string
	initialized bool

	codec  Codec
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the codec used by Compress, Resize and Thumbnail.
func WithCodec(c Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithMaxSize caps TotalSize. Zero means unbounded.
func WithMaxSize(n int64) Option {
	return func(s *Store) { s.maxSize = n }
}

// New returns an uninitialized store.
func New(logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		entries: make(map[string][]byte),
		logger:  logger.Named("artifact"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open is New followed by Initialize.
func Open(location string, logger *zap.Logger, opts ...Option) (*Store, error) {
	s := New(logger, opts...)
	if err := s.Initialize(location); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize binds the store to location. Existing artifacts in a directory
// location are loaded.
func (s *Store) Initialize(location string) error {
	if location == "" {
		return fmt.Errorf("artifact store location is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string][]byte)
	s.totalSize = 0

	if location != MemoryLocation {
		if err := os.MkdirAll(location, 0o755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
		if err := s.loadLocked(location); err != nil {
			return err
		}
	}

	s.location = location
	s.initialized = true
	s.logger.Info("Artifact store initialized",
		zap.String("location", location),
		zap.Int("artifacts", len(s.entries)),
		zap.Int64("bytes", s.totalSize))
	return nil
}

// Shutdown detaches the backing location. Entries stay readable; writes fail
// until the next Initialize.
func (s *Store) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	s.logger.Info("Artifact store shut down")
}

// Initialized reports whether the store has a backing location.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Put stores data under key, replacing any previous value. It returns false
// when the store is not initialized, when the write would exceed the
// configured max size, or when persisting to disk fails.
func (s *Store) Put(key string, data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		s.logger.Debug("Rejecting put on uninitialized store", zap.String("key", key))
		return false
	}

	old := int64(len(s.entries[key]))
	next := s.totalSize - old + int64(len(data))
	if s.maxSize > 0 && next > s.maxSize {
		s.logger.Warn("Artifact rejected: store is full",
			zap.String("key", key),
			zap.Int("size", len(data)),
			zap.Int64("total", s.totalSize),
			zap.Int64("max", s.maxSize))
		return false
	}

	if s.location != MemoryLocation {
		if err := s.writeFile(key, data); err != nil {
			s.logger.Warn("Failed to persist artifact", zap.String("key", key), zap.Error(err))
			return false
		}
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	s.entries[key] = stored
	s.totalSize = next

	s.logger.Debug("Stored artifact", zap.String("key", key), zap.Int("size", len(data)))
	return true
}

// Get returns a copy of the bytes stored under key, or nil when absent.
func (s *Store) Get(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.entries[key]
	if !ok {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// Delete removes key and reports whether it existed. On a directory store the
// entry is kept when its file cannot be removed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.location != MemoryLocation && s.location != "" {
		// A file left behind would resurrect the entry on the next Initialize.
		if err := os.Remove(s.pathFor(key)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove artifact file", zap.String("key", key), zap.Error(err))
			return false
		}
	}
	delete(s.entries, key)
	s.totalSize -= int64(len(data))
	return true
}

// Exists reports whether key is present.
func (s *Store) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// ListKeys returns a sorted snapshot of the current keys.
func (s *Store) ListKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// TotalSize returns the sum of stored byte lengths.
func (s *Store) TotalSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalSize
}

// MaxSize returns the configured cap, zero when unbounded.
func (s *Store) MaxSize() int64 {
	return s.maxSize
}

// Clear removes every artifact.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.location != MemoryLocation && s.location != "" {
		for key := range s.entries {
			if err := os.Remove(s.pathFor(key)); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("Failed to remove artifact file", zap.String("key", key), zap.Error(err))
			}
		}
	}
	s.entries = make(map[string][]byte)
	s.totalSize = 0
	s.logger.Debug("Cleared artifact store")
}

// Compress delegates to the codec.
func (s *Store) Compress(data []byte, quality int) ([]byte, error) {
	if s.codec == nil {
		return nil, ErrNoCodec
	}
	return s.codec.Compress(data, quality)
}

// Resize delegates to the codec.
func (s *Store) Resize(data []byte, width, height int) ([]byte, error) {
	if s.codec == nil {
		return nil, ErrNoCodec
	}
	return s.codec.Resize(data, width, height)
}

// Thumbnail delegates to the codec.
func (s *Store) Thumbnail(data []byte, maxWidth, maxHeight int) ([]byte, error) {
	if s.codec == nil {
		return nil, ErrNoCodec
	}
	return s.codec.Thumbnail(data, maxWidth, maxHeight)
}

// Files are named by the key's hash so arbitrary keys fit in a file name. The
// key itself is stored in a length-prefixed header ahead of the data.
func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + fileSuffix
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.location, fileName(key))
}

func (s *Store) writeFile(key string, data []byte) error {
	buf := make([]byte, 0, binary.MaxVarintLen64+len(key)+len(data))
	buf = binary.AppendUvarint(buf, uint64(len(key)))
	buf = append(buf, key...)
	buf = append(buf, data...)

	path := s.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// decodeFile splits a stored file into key and data.
func decodeFile(raw []byte) (string, []byte, bool) {
	n, size := binary.Uvarint(raw)
	if size <= 0 || n > uint64(len(raw)-size) {
		return "", nil, false
	}
	end := size + int(n)
	return string(raw[size:end]), raw[end:], true
}

func (s *Store) loadLocked(dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read artifact directory: %w", err)
	}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to load artifact file %s: %w", name, err)
		}
		key, data, ok := decodeFile(raw)
		if !ok || fileName(key) != name {
			s.logger.Debug("Skipping foreign file in artifact directory", zap.String("file", name))
			continue
		}
		s.entries[key] = data
		s.totalSize += int64(len(data))
	}
	return nil
}
