package modelcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// VerifyResult is Verify's structured outcome (spec.md §7 "cache ops
// return structured verification results, not partial-throw").
type VerifyResult struct {
	Valid  bool
	Errors []string
}

// Verify checks every file of a registered model against its manifest:
// presence, size, and a case-insensitive SHA-256 comparison (spec.md §4.8
// "verify", property 8).
func Verify(modelID string) (VerifyResult, error) {
	m, err := readManifest(modelID)
	if err != nil {
		return VerifyResult{}, err
	}

	dir := modelDir(modelID)
	var errs []string

	for _, fe := range m.Files {
		path := filepath.Join(dir, fe.Path)

		info, statErr := os.Stat(path)
		if statErr != nil {
			errs = append(errs, fmt.Sprintf("missing file: %s", fe.Path))
			continue
		}
		if info.Size() != fe.SizeByte {
			errs = append(errs, fmt.Sprintf("size mismatch: %s (want %d, got %d)", fe.Path, fe.SizeByte, info.Size()))
			continue
		}

		sum, hashErr := sha256File(path)
		if hashErr != nil {
			errs = append(errs, fmt.Sprintf("cannot hash %s: %v", fe.Path, hashErr))
			continue
		}
		if !strings.EqualFold(sum, fe.SHA256) {
			errs = append(errs, fmt.Sprintf("SHA256 mismatch: %s", fe.Path))
		}
	}

	return VerifyResult{Valid: len(errs) == 0, Errors: errs}, nil
}
