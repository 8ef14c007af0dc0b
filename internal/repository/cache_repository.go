package repository

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/mir00r/stickylb/internal/domain"
	lberrors "github.com/mir00r/stickylb/internal/errors"
	"github.com/mir00r/stickylb/pkg/logger"
)

// cacheFileSuffix is appended to every cache key to form the file name
const cacheFileSuffix = ".cache"

// FileCacheRepository implements domain.CacheRepository with one file per key.
// Entries never expire; a stored response is served until the file is removed.
type FileCacheRepository struct {
	dir     string
	noCache map[string]struct{}
	logger  *logger.Logger
}

// NewFileCacheRepository creates a cache rooted at dir. Paths listed in noCache
// (exact match) are never read from or written to the cache.
func NewFileCacheRepository(dir string, noCache []string, logger *logger.Logger) *FileCacheRepository {
	exempt := make(map[string]struct{}, len(noCache))
	for _, path := range noCache {
		exempt[path] = struct{}{}
	}

	return &FileCacheRepository{
		dir:     dir,
		noCache: exempt,
		logger:  logger.Component("cache"),
	}
}

// CacheKey derives the cache key for a request path:
// "/" -> "root_index.html", "/a/b" -> "a_b", "/a/b/" -> "a_b_index".
func CacheKey(path string) string {
	if path == "/" {
		return "root_index.html"
	}

	normalized := strings.TrimLeft(path, "/")
	if strings.HasSuffix(path, "/") {
		normalized = strings.TrimRight(normalized, "/") + "_index"
	}

	return strings.ReplaceAll(normalized, "/", "_")
}

// Dir returns the cache directory
func (r *FileCacheRepository) Dir() string {
	return r.dir
}

// IsCacheable reports whether path may be served from and stored in the cache
func (r *FileCacheRepository) IsCacheable(path string) bool {
	_, exempt := r.noCache[path]
	return !exempt
}

func (r *FileCacheRepository) fileFor(path string) string {
	return filepath.Join(r.dir, CacheKey(path)+cacheFileSuffix)
}

// Get returns the stored response for path. Exempt paths and missing entries are
// misses. An unreadable entry yields ErrCodeCachePersistence; any other failure
// yields ErrCodeFilesystem.
func (r *FileCacheRepository) Get(path string) ([]byte, bool, error) {
	if !r.IsCacheable(path) {
		return nil, false, nil
	}

	data, err := os.ReadFile(r.fileFor(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, r.classify(err, "read", CacheKey(path))
	}

	return data, true, nil
}

// Put stores raw under the key for path. Writes go to a temporary file that is
// renamed over the entry, so concurrent writers of one key leave the last
// complete response in place.
//
// A missing or unwritable cache directory yields ErrCodeCachePersistence, which
// callers may ignore; any other failure yields ErrCodeFilesystem.
func (r *FileCacheRepository) Put(path string, raw []byte) error {
	if !r.IsCacheable(path) {
		return nil
	}

	key := CacheKey(path)
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return r.classify(err, "write", key)
	}

	tmp, err := os.CreateTemp(r.dir, key+".tmp-*")
	if err != nil {
		return r.classify(err, "write", key)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return r.classify(err, "write", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return r.classify(err, "write", key)
	}

	if err := os.Rename(tmpName, r.fileFor(path)); err != nil {
		os.Remove(tmpName)
		return r.classify(err, "write", key)
	}

	r.logger.WithField("cache_key", key).WithField("size", len(raw)).Debug("Response cached")
	return nil
}

// classify maps a filesystem error to the cache error codes
func (r *FileCacheRepository) classify(err error, op, key string) error {
	if isPersistenceError(err) {
		return lberrors.WrapError(err, lberrors.ErrCodeCachePersistence, "cache",
			fmt.Sprintf("cache unavailable to %s %s", op, key))
	}
	return lberrors.WrapError(err, lberrors.ErrCodeFilesystem, "cache",
		fmt.Sprintf("failed to %s cache entry %s", op, key))
}

func isPersistenceError(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.EROFS)
}

// List returns the stored entries sorted by key
func (r *FileCacheRepository) List() ([]domain.CacheEntry, error) {
	files, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list cache directory %s: %w", r.dir, err)
	}

	var entries []domain.CacheEntry
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, cacheFileSuffix) {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		entries = append(entries, domain.CacheEntry{
			Key:      strings.TrimSuffix(name, cacheFileSuffix),
			Size:     info.Size(),
			StoredAt: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}
