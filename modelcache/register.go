package modelcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smallmind-ai/smallmind-core/internal/util/httpx"
	"github.com/smallmind-ai/smallmind-core/internal/util/osx"
)

// DefaultDownloadTimeout bounds a Register download per spec.md §5
// "downloads... honor a default timeout (e.g. 30 minutes)".
const DefaultDownloadTimeout = 30 * time.Minute

// maxSuffixAttempts is how many "-1", "-2", ... suffixes the dedup loop
// tries before falling back to a uuid suffix (spec.md §4.8 step on id
// de-confliction, belt-and-suspenders per SPEC_FULL.md §2).
const maxSuffixAttempts = 64

var idSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// RegisterOption configures Register, following the teacher's
// functional-options pattern (file_option.go).
type RegisterOption func(*registerOptions)

type registerOptions struct {
	modelID     string
	displayName string
	timeout     time.Duration
	client      *http.Client
}

// WithModelID overrides the auto-derived model id.
func WithModelID(id string) RegisterOption {
	return func(o *registerOptions) { o.modelID = id }
}

// WithDisplayName sets the manifest's human-readable display name.
func WithDisplayName(name string) RegisterOption {
	return func(o *registerOptions) { o.displayName = name }
}

// WithDownloadTimeout overrides DefaultDownloadTimeout.
func WithDownloadTimeout(d time.Duration) RegisterOption {
	return func(o *registerOptions) { o.timeout = d }
}

// Register copies or downloads source into the cache and writes its
// manifest, returning the assigned model id (spec.md §4.8 "register").
// source is a local filesystem path or an http(s) URL.
func Register(ctx context.Context, source string, opts ...RegisterOption) (string, error) {
	o := registerOptions{timeout: DefaultDownloadTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = httpx.Client()
	}

	if source == "" {
		return "", &ValidationError{Reason: "source must not be empty"}
	}

	baseName, isRemote, err := sourceBaseName(source)
	if err != nil {
		return "", err
	}

	modelID := o.modelID
	if modelID == "" {
		modelID, err = allocateModelID(baseName)
		if err != nil {
			return "", err
		}
	} else if err = claimModelID(modelID); err != nil {
		return "", err
	}

	dir := modelDir(modelID)
	destPath := filepath.Join(dir, baseName)

	if isRemote {
		ctx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()
		if err = downloadTo(ctx, o.client, source, destPath); err != nil {
			_ = os.RemoveAll(dir)
			return "", err
		}
	} else {
		if err = copyTo(source, destPath); err != nil {
			_ = os.RemoveAll(dir)
			return "", err
		}
	}

	info, err := os.Stat(destPath)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("modelcache: stat registered file: %w", err)
	}

	// Always recompute the hash over the stored file, never trust a
	// caller-supplied digest or assume same-size means same-content
	// (spec.md §9 Open Question: "register must always recompute SHA-256
	// after copy").
	sum, err := sha256File(destPath)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}

	displayName := o.displayName
	if displayName == "" {
		displayName = modelID
	}

	m := &Manifest{
		ModelID:     modelID,
		DisplayName: displayName,
		Format:      inferFormat(baseName),
		Files: []FileEntry{{
			Path:     baseName,
			SizeByte: info.Size(),
			SHA256:   sum,
		}},
		CreatedUTC: time.Now().UTC().Format(time.RFC3339),
		Source:     source,
	}

	if err = saveManifest(m); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return modelID, nil
}

// sourceBaseName derives the file name Register will store the model
// under, and reports whether source is an http(s) URL.
func sourceBaseName(source string) (name string, isRemote bool, err error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		u, err := url.Parse(source)
		if err != nil {
			return "", false, fmt.Errorf("modelcache: parse source url: %w", err)
		}
		base := filepath.Base(u.Path)
		if base == "" || base == "." || base == "/" {
			return "", false, &ValidationError{Reason: "cannot derive a file name from " + source}
		}
		return base, true, nil
	}
	return filepath.Base(source), false, nil
}

// allocateModelID sanitizes baseName into a candidate id and resolves any
// collision by trying -1, -2, ... suffixes with exclusive directory
// creation (spec.md §5 "atomic id-uniqueness loop with exclusive directory
// creation and retry"); if every suffix up to maxSuffixAttempts collides
// (only plausible under heavy concurrent registration), a uuid-derived
// suffix guarantees termination.
func allocateModelID(baseName string) (string, error) {
	stem := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	base := idSanitizer.ReplaceAllString(stem, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "model"
	}

	if err := claimModelID(base); err == nil {
		return base, nil
	}

	for i := 1; i <= maxSuffixAttempts; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if err := claimModelID(candidate); err == nil {
			return candidate, nil
		}
	}

	candidate := base + "-" + uuid.NewString()
	if err := claimModelID(candidate); err != nil {
		return "", fmt.Errorf("modelcache: allocate model id: %w", err)
	}
	return candidate, nil
}

// claimModelID exclusively creates modelID's directory, the mutual-
// exclusion primitive the dedup loop relies on: os.Mkdir fails with
// ErrExist if another registration already owns this id.
func claimModelID(modelID string) error {
	if modelID == "" || idSanitizer.MatchString(modelID) {
		return &ValidationError{Reason: fmt.Sprintf("model id %q contains characters outside [A-Za-z0-9_-]", modelID)}
	}
	return os.Mkdir(modelDir(modelID), 0o700)
}

// downloadTo streams an http(s) source to destPath, removing any partial
// file on cancellation or error (spec.md §5 "partial file MUST be removed
// on cancel").
func downloadTo(ctx context.Context, cli *http.Client, source, destPath string) error {
	req, err := httpx.NewGetRequestWithContext(ctx, source)
	if err != nil {
		return fmt.Errorf("modelcache: new download request: %w", err)
	}

	f, err := osx.CreateFile(destPath, 0o600)
	if err != nil {
		return fmt.Errorf("modelcache: create download target: %w", err)
	}

	err = httpx.Do(cli, req, func(resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("modelcache: download %s: status %d", source, resp.StatusCode)
		}
		_, cpErr := io.Copy(f, resp.Body)
		return cpErr
	})

	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("modelcache: download: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("modelcache: close downloaded file: %w", closeErr)
	}
	return nil
}

// copyTo copies a local source file verbatim to destPath.
func copyTo(source, destPath string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("modelcache: open source: %w", err)
	}
	defer osx.Close(in)

	out, err := osx.CreateFile(destPath, 0o600)
	if err != nil {
		return fmt.Errorf("modelcache: create copy target: %w", err)
	}

	if _, err = io.Copy(out, in); err != nil {
		osx.Close(out)
		_ = os.Remove(destPath)
		return fmt.Errorf("modelcache: copy source: %w", err)
	}
	if err = out.Close(); err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("modelcache: close copy target: %w", err)
	}
	return nil
}

// sha256File streams destPath through SHA-256 without holding the whole
// file in memory, the same hash-write-sum-hex idiom as
// internal/util/stringx.SumBytesBySHA256, adapted to a streaming
// io.Reader since a model file may be many gigabytes.
func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("modelcache: open for hashing: %w", err)
	}
	defer osx.Close(f)

	h := sha256.New()
	if _, err = io.Copy(h, f); err != nil {
		return "", fmt.Errorf("modelcache: hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// inferFormat maps a file extension to the manifest's format tag (spec.md
// §4.8 "format inferred from extension").
func inferFormat(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".gguf":
		return "gguf"
	case ".smq":
		return "smq"
	case ".bin":
		return "bin"
	default:
		return "unknown"
	}
}
