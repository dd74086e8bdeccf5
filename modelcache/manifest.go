package modelcache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/smallmind-ai/smallmind-core/internal/util/json"
	"github.com/smallmind-ai/smallmind-core/internal/util/osx"
)

// loadManifest reads and decodes one model's manifest.json.
func loadManifest(path string) (*Manifest, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modelcache: read manifest: %w", err)
	}
	var m Manifest
	if err = json.Unmarshal(bs, &m); err != nil {
		return nil, fmt.Errorf("modelcache: decode manifest %s: %w", path, err)
	}
	return &m, nil
}

// saveManifest writes m to "<root>/<modelId>/manifest.json" as a whole-file
// replacement: marshal to a temp file in the same directory, then rename
// into place (spec.md §5 "manifest.json writes MUST be whole-file
// replacements"), mirroring smq.Write's write-temp-then-rename idiom.
func saveManifest(m *Manifest) error {
	dir := modelDir(m.ModelID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("modelcache: create model dir: %w", err)
	}

	bs, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("modelcache: encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+uuid.NewString()+".manifest.json.tmp")
	if err != nil {
		return fmt.Errorf("modelcache: create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err = tmp.Write(bs); err != nil {
		osx.Close(tmp)
		_ = os.Remove(tmpPath)
		return fmt.Errorf("modelcache: write temp manifest: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		osx.Close(tmp)
		_ = os.Remove(tmpPath)
		return fmt.Errorf("modelcache: sync temp manifest: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("modelcache: close temp manifest: %w", err)
	}

	if err = os.Rename(tmpPath, filepath.Join(dir, "manifest.json")); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("modelcache: rename temp manifest: %w", err)
	}
	return nil
}
