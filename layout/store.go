// ABOUTME: Filesystem-backed model store keeping one <slug>_layout.json file per device type.
// ABOUTME: Saves are serialized per key and land via temp file + fsync + rename; an optional index mirrors saves.
package layout

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Summary describes one stored model for listing.
type Summary struct {
	Slug         string    `json:"slug"`
	Filename     string    `json:"filename"`
	DeviceModel  string    `json:"deviceModel,omitempty"`
	DeviceTypeID string    `json:"deviceTypeId,omitempty"`
	Revision     string    `json:"revision,omitempty"`
	SizeBytes    int64     `json:"sizeBytes"`
	SavedAt      time.Time `json:"savedAt"`
}

// SaveResult is returned by a successful Save.
type SaveResult struct {
	Key      string
	Filename string
	Revision string
}

// Indexer mirrors saved models into a queryable cache.
type Indexer interface {
	Upsert(ctx context.Context, s Summary) error
	Replace(ctx context.Context, all []Summary) error
	List(ctx context.Context) ([]Summary, error)
}

// StoreOption configures optional Store behavior.
type StoreOption func(*Store)

// WithIndex mirrors every save into idx and serves List from it.
func WithIndex(idx Indexer) StoreOption {
	return func(s *Store) {
		s.index = idx
	}
}

// WithLogger sets the logger used for non-fatal index failures.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// Store persists layout documents as files in a single flat directory.
type Store struct {
	dir    string
	index  Indexer
	logger *slog.Logger

	// keyMu guards keyLocks; each key lock serializes saves of one slug and
	// is removed once no save holds or waits on it.
	keyMu    sync.Mutex
	keyLocks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a Store rooted at dir. The directory is created if it does
// not already exist.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	s := &Store{
		dir:      dir,
		logger:   slog.Default(),
		keyLocks: make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file path a key is stored at.
func (s *Store) Path(key string) string {
	return filepath.Join(s.dir, FileName(key))
}

func (s *Store) lockKey(key string) func() {
	s.keyMu.Lock()
	kl, ok := s.keyLocks[key]
	if !ok {
		kl = &keyLock{}
		s.keyLocks[key] = kl
	}
	kl.refs++
	s.keyMu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()

		s.keyMu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(s.keyLocks, key)
		}
		s.keyMu.Unlock()
	}
}

// Save writes doc under the key found at deviceType.slug, replacing any
// previously stored document for that key.
func (s *Store) Save(ctx context.Context, doc Document) (SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return SaveResult{}, err
	}
	if len(doc) == 0 {
		return SaveResult{}, &ValidationError{Message: "Missing model data"}
	}
	key, ok := doc.Slug()
	if !ok {
		return SaveResult{}, &ValidationError{Message: "Missing deviceType.slug in model data"}
	}
	if err := ValidateKey(key); err != nil {
		return SaveResult{}, err
	}

	data, err := encodeDocument(doc)
	if err != nil {
		return SaveResult{}, storageErr("encode model", key, err)
	}

	unlock := s.lockKey(key)
	defer unlock()

	// The directory may have been removed since startup.
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return SaveResult{}, storageErr("create storage dir", key, err)
	}
	if err := s.writeAtomic(s.Path(key), data); err != nil {
		return SaveResult{}, storageErr("write model", key, err)
	}

	// SavedAt is the file's mtime, matching what Scan reports.
	savedAt := time.Now().UTC()
	size := int64(len(data))
	if info, err := os.Stat(s.Path(key)); err == nil {
		savedAt = info.ModTime().UTC()
		size = info.Size()
	}
	rev := ulid.MustNew(ulid.Timestamp(savedAt), ulid.DefaultEntropy()).String()
	res := SaveResult{Key: key, Filename: FileName(key), Revision: rev}

	if s.index != nil {
		sum := Summary{
			Slug:         key,
			Filename:     res.Filename,
			DeviceModel:  doc.DeviceModel(),
			DeviceTypeID: doc.DeviceTypeID(),
			Revision:     rev,
			SizeBytes:    size,
			SavedAt:      savedAt,
		}
		if err := s.index.Upsert(ctx, sum); err != nil {
			s.logger.Warn("index upsert failed", "slug", key, "error", err)
		}
	}

	return res, nil
}

// writeAtomic writes data to a uniquely named temp file next to path, fsyncs
// it, then renames it over path.
func (s *Store) writeAtomic(path string, data []byte) error {
	tmpPath := filepath.Join(s.dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Load returns the document stored under key.
func (s *Store) Load(ctx context.Context, key string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &NotFoundError{Key: key}
	}
	if err != nil {
		return nil, storageErr("open model", key, err)
	}
	defer func() { _ = f.Close() }()

	doc, err := DecodeDocument(f)
	if err != nil {
		return nil, storageErr("parse model", key, err)
	}
	return doc, nil
}

// List returns all stored models, most recently saved first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	if s.index != nil {
		sums, err := s.index.List(ctx)
		if err != nil {
			return nil, storageErr("list index", "", err)
		}
		return sums, nil
	}
	return s.Scan(ctx)
}

// Scan builds summaries by reading every model file in the storage directory.
// Files that cannot be parsed are skipped.
func (s *Store) Scan(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, storageErr("read storage dir", "", err)
	}

	sums := make([]Summary, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		key, ok := KeyFromFileName(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		doc, err := s.Load(ctx, key)
		if err != nil {
			s.logger.Debug("skipping unreadable model", "file", entry.Name(), "error", err)
			continue
		}
		savedAt := info.ModTime().UTC()
		sums = append(sums, Summary{
			Slug:         key,
			Filename:     entry.Name(),
			DeviceModel:  doc.DeviceModel(),
			DeviceTypeID: doc.DeviceTypeID(),
			Revision:     ulid.MustNew(ulid.Timestamp(savedAt), ulid.DefaultEntropy()).String(),
			SizeBytes:    info.Size(),
			SavedAt:      savedAt,
		})
	}

	sort.Slice(sums, func(i, j int) bool {
		if sums[i].SavedAt.Equal(sums[j].SavedAt) {
			return sums[i].Slug < sums[j].Slug
		}
		return sums[i].SavedAt.After(sums[j].SavedAt)
	})
	return sums, nil
}

// scannedRevision derives a stable revision for a file seen only on disk.
// The same name, size and mtime always yield the same ULID.
func scannedRevision(name string, size int64, modTime time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d", name, size, modTime.UnixNano())
	return ulid.MustNew(ulid.Timestamp(modTime), bytes.NewReader(h.Sum(nil))).String()
}

// RebuildIndex replaces the index contents with a fresh directory scan.
// Rows whose file is unchanged (same size and mtime) keep the revision
// minted when they were saved. It is a no-op when no index is configured.
func (s *Store) RebuildIndex(ctx context.Context) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	sums, err := s.Scan(ctx)
	if err != nil {
		return 0, err
	}

	prev, err := s.index.List(ctx)
	if err != nil {
		s.logger.Warn("reading index before rebuild", "error", err)
	}
	known := make(map[string]Summary, len(prev))
	for _, p := range prev {
		known[p.Slug] = p
	}
	for i, sum := range sums {
		p, ok := known[sum.Slug]
		if ok && p.Revision != "" && p.SizeBytes == sum.SizeBytes && p.SavedAt.Equal(sum.SavedAt) {
			sums[i].Revision = p.Revision
		}
	}
	if err := s.index.Replace(ctx, sums); err != nil {
		return 0, storageErr("rebuild index", "", err)
	}
	return len(sums), nil
}
