// Package cache persists finished units of work so a restarted run does not
// recompute them. Entries are append-only: one zstd-compressed JSON file per
// (dataset, region, glacier) key, written to a temp file and renamed.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/millie-spencer/OGGM-CR2-Chile/internal/domain"
)

const entryExt = ".json.zst"

// Entry is one cached unit result.
type Entry struct {
	Key      domain.UnitKey              `json:"key"`
	Version  string                      `json:"adapter_version"`
	Climate  domain.ClimateSummary       `json:"climate"`
	Balance  domain.SimulatedMassBalance `json:"balance"`
	StoredAt time.Time                   `json:"stored_at"`
}

// Store is a directory-backed result cache. It is safe for concurrent use.
type Store struct {
	dir     string
	encoder *zstd.Encoder

	// decoderPool provides reusable zstd decoders.
	decoderPool sync.Pool
}

// New creates the cache directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &Store{
		dir:     dir,
		encoder: enc,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}, nil
}

// Dir returns the cache root.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(key domain.UnitKey) string {
	return filepath.Join(s.dir, sanitize(string(key.DatasetID)), sanitize(key.RegionID), sanitize(key.GlacierID)+entryExt)
}

// sanitize keeps ids usable as file names.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}

// Get returns the entry for key. The boolean is false when no entry exists.
func (s *Store) Get(key domain.UnitKey) (Entry, bool, error) {
	compressed, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}

	decoder := s.decoderPool.Get().(*zstd.Decoder)
	defer s.decoderPool.Put(decoder)
	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache entry %s: zstd decompression failed: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("cache entry %s: %w", key, err)
	}
	if e.Key != key {
		return Entry{}, false, fmt.Errorf("cache entry %s: stored key %s does not match", key, e.Key)
	}
	return e, true, nil
}

// Put stores e unless an entry for its key already exists. It reports
// whether the entry was written.
func (s *Store) Put(e Entry) (bool, error) {
	path := s.path(e.Key)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return false, fmt.Errorf("cache entry %s: %w", e.Key, err)
	}
	compressed := s.encoder.EncodeAll(raw, nil)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".entry-*")
	if err != nil {
		return false, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(compressed); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("cache entry %s: %w", e.Key, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("cache entry %s: %w", e.Key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return false, fmt.Errorf("cache entry %s: %w", e.Key, err)
	}
	return true, nil
}

// Keys lists every cached key for a dataset.
func (s *Store) Keys(dataset domain.DatasetID) ([]domain.UnitKey, error) {
	root := filepath.Join(s.dir, sanitize(string(dataset)))
	var keys []domain.UnitKey
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), entryExt) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 2 {
			return nil
		}
		keys = append(keys, domain.UnitKey{
			DatasetID: dataset,
			RegionID:  parts[0],
			GlacierID: strings.TrimSuffix(parts[1], entryExt),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk cache: %w", err)
	}
	return keys, nil
}

// Close releases the encoder.
func (s *Store) Close() error {
	return s.encoder.Close()
}
