package modelcache

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/smallmind-ai/smallmind-core/internal/util/osx"
)

// poolIndexName is the optional human-editable pool-wide index consulted
// as a list fast path (SPEC_FULL.md §2 DOMAIN STACK / §10): one entry per
// registered model, never the integrity source of truth.
const poolIndexName = "cache.yaml"

// poolIndexEntry is one cache.yaml row.
type poolIndexEntry struct {
	ModelID     string `yaml:"modelId"`
	DisplayName string `yaml:"displayName"`
}

// Logger receives non-fatal warnings from List, e.g. an unparseable
// manifest being skipped. A nil Logger discards warnings; the pack carries
// no logging library for List to delegate to (see DESIGN.md), so this is a
// minimal caller-supplied hook, consistent with the teacher's
// functional-options style of only paying for what's configured.
type Logger interface {
	Warnf(format string, args ...any)
}

// List enumerates every registered model (spec.md §4.8 "list"). When the
// root carries a cache.yaml pool index, List reads manifests only for the
// ids it names instead of enumerating every subdirectory; an id the index
// lists but whose manifest.json is missing or unparseable is silently
// dropped, since the index is a fast path and manifest.json remains the
// integrity source of truth. Without an index, List falls back to walking
// the root's immediate subdirectories.
func List(log Logger) ([]Manifest, error) {
	root := Root()

	if index := readPoolIndex(root); index != nil {
		out := make([]Manifest, 0, len(index))
		for _, e := range index {
			m, err := loadManifest(manifestPath(e.ModelID))
			if err != nil {
				warnf(log, "modelcache: skipping %s from pool index: %v", e.ModelID, err)
				continue
			}
			out = append(out, *m)
		}
		return out, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := loadManifest(manifestPath(e.Name()))
		if err != nil {
			warnf(log, "modelcache: skipping %s: %v", e.Name(), err)
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func readPoolIndex(root string) []poolIndexEntry {
	bs, err := os.ReadFile(filepath.Join(root, poolIndexName))
	if err != nil {
		return nil
	}
	var entries []poolIndexEntry
	if yaml.Unmarshal(bs, &entries) != nil {
		return nil
	}
	return entries
}

// WritePoolIndex regenerates cache.yaml from the currently registered
// models, for callers that want the fast-path index kept in sync.
func WritePoolIndex(manifests []Manifest) error {
	entries := make([]poolIndexEntry, len(manifests))
	for i, m := range manifests {
		entries[i] = poolIndexEntry{ModelID: m.ModelID, DisplayName: m.DisplayName}
	}

	bs, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	return osx.WriteFile(filepath.Join(Root(), poolIndexName), bs, 0o600)
}

func warnf(log Logger, format string, args ...any) {
	if log == nil {
		return
	}
	log.Warnf(format, args...)
}
