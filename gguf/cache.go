package gguf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smallmind-ai/smallmind-core/internal/util/json"
	"github.com/smallmind-ai/smallmind-core/internal/util/osx"
	"github.com/smallmind-ai/smallmind-core/internal/util/stringx"
)

var (
	ErrCacheDisabled  = errors.New("gguf: parse cache disabled")
	ErrCacheMissed    = errors.New("gguf: parse cache missed")
	ErrCacheCorrupted = errors.New("gguf: parse cache corrupted")
)

// Cache memoizes parsed Files on disk, keyed by an arbitrary string (usually
// a source path or URL), so repeated opens of the same model skip the
// header/KV/manifest parse. This is a parse-result cache, not the
// content-addressed model registry (see the modelcache package).
type Cache string

func (c Cache) keyPath(key string) string {
	k := stringx.SumByFNV64a(key)
	return filepath.Join(string(c), k[:1], k)
}

// Get returns the cached File for key if present and not older than exp (0
// means no expiry).
func (c Cache) Get(key string, exp time.Duration) (*File, error) {
	if c == "" {
		return nil, ErrCacheDisabled
	}
	if key == "" {
		return nil, ErrCacheMissed
	}

	p := c.keyPath(key)
	if !osx.Exists(p, func(stat os.FileInfo) bool {
		if !stat.Mode().IsRegular() {
			return false
		}
		return exp == 0 || time.Since(stat.ModTime()) < exp
	}) {
		return nil, ErrCacheMissed
	}

	var gf File
	bs, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("gguf: cache get: %w", err)
	}
	if err = json.Unmarshal(bs, &gf); err != nil {
		return nil, fmt.Errorf("gguf: cache get: %w", err)
	}

	if len(gf.TensorInfos) == 0 {
		_ = os.Remove(p)
		return nil, ErrCacheCorrupted
	}

	return &gf, nil
}

// Put stores gf under key.
func (c Cache) Put(key string, gf *File) error {
	if c == "" {
		return ErrCacheDisabled
	}
	if key == "" || gf == nil {
		return nil
	}

	bs, err := json.Marshal(gf)
	if err != nil {
		return fmt.Errorf("gguf: cache put: %w", err)
	}

	if err = osx.WriteFile(c.keyPath(key), bs, 0o600); err != nil {
		return fmt.Errorf("gguf: cache put: %w", err)
	}
	return nil
}

// Delete removes the cache entry for key.
func (c Cache) Delete(key string) error {
	if c == "" {
		return ErrCacheDisabled
	}
	if key == "" {
		return ErrCacheMissed
	}

	p := c.keyPath(key)
	if !osx.ExistsFile(p) {
		return ErrCacheMissed
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("gguf: cache delete: %w", err)
	}
	return nil
}
