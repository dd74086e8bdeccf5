// Package modelcache implements the content-addressed model cache (C8):
// registering local or remote model files under a shared cache root,
// listing and verifying what's registered, and resolving a model id back
// to the files on disk.
package modelcache

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/smallmind-ai/smallmind-core/internal/util/osx"
)

// rootEnvVar overrides the cache root entirely (spec.md §4.8, §6).
const rootEnvVar = "SMALLMIND_MODEL_CACHE"

// FileEntry describes one file belonging to a registered model.
type FileEntry struct {
	Path     string `yaml:"path" json:"path"`
	SizeByte int64  `yaml:"sizeBytes" json:"sizeBytes"`
	SHA256   string `yaml:"sha256" json:"sha256"`
}

// Manifest is the per-model registry record, persisted as
// "<root>/<modelId>/manifest.json" (spec.md §6 Cache layout).
type Manifest struct {
	ModelID          string      `json:"modelId"`
	DisplayName      string      `json:"displayName"`
	Format           string      `json:"format"`
	Quantization     string      `json:"quantization,omitempty"`
	TokenizerID      string      `json:"tokenizerId,omitempty"`
	MaxContextTokens int         `json:"maxContextTokens,omitempty"`
	Files            []FileEntry `json:"files"`
	CreatedUTC       string      `json:"createdUtc"`
	Source           string      `json:"source"`
	Notes            string      `json:"notes,omitempty"`
}

// NotFoundError reports that a model id has no registry entry.
type NotFoundError struct {
	ModelID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("modelcache: model %q not found", e.ModelID)
}

// ValidationError reports a malformed Register request (spec.md §7).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "modelcache: " + e.Reason }

// Root resolves the cache root directory: an explicit override, then the
// per-OS default (spec.md §4.8 "Cache root resolution").
func Root() string {
	if v := osx.Getenv(rootEnvVar); v != "" {
		return osx.InlineTilde(v)
	}

	switch runtime.GOOS {
	case "windows":
		base := osx.Getenv("LOCALAPPDATA")
		if base == "" {
			base = osx.UserHomeDir()
		}
		return filepath.Join(base, "SmallMind", "models")
	case "darwin":
		return filepath.Join(osx.UserHomeDir(), "Library", "Caches", "SmallMind", "models")
	default:
		base := osx.Getenv("XDG_CACHE_HOME")
		if base == "" {
			base = filepath.Join(osx.UserHomeDir(), ".cache")
		}
		return filepath.Join(base, "smallmind", "models")
	}
}

// modelDir is the directory holding one model's files and manifest.
func modelDir(modelID string) string {
	return filepath.Join(Root(), modelID)
}

// manifestPath is the path to one model's manifest.json.
func manifestPath(modelID string) string {
	return filepath.Join(modelDir(modelID), "manifest.json")
}

// GetFile returns the path of the first file registered under modelID
// (spec.md §4.8 "get_file").
func GetFile(modelID string) (string, error) {
	m, err := readManifest(modelID)
	if err != nil {
		return "", err
	}
	if len(m.Files) == 0 {
		return "", &NotFoundError{ModelID: modelID}
	}
	return filepath.Join(modelDir(modelID), m.Files[0].Path), nil
}

func readManifest(modelID string) (*Manifest, error) {
	if !osx.ExistsFile(manifestPath(modelID)) {
		return nil, &NotFoundError{ModelID: modelID}
	}
	return loadManifest(manifestPath(modelID))
}
