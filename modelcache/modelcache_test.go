package modelcache

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withCacheRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(rootEnvVar, dir)
	return dir
}

func writeLocalFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

// TestRegister_LocalFile_ComputesSHA256 is spec.md scenario S6: a 1 KiB
// file of a known byte recomputes to the canonical SHA-256.
func TestRegister_LocalFile_ComputesSHA256(t *testing.T) {
	withCacheRoot(t)

	data := bytes.Repeat([]byte{0x5A}, 1024)
	src := writeLocalFile(t, "tiny.bin", data)

	modelID, err := Register(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "tiny", modelID)

	m, err := readManifest(modelID)
	require.NoError(t, err)
	require.Len(t, m.Files, 1)
	assert.Equal(t, int64(1024), m.Files[0].SizeByte)
	assert.Equal(t, "bin", m.Format)

	result, err := Verify(modelID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

// TestVerify_DetectsBitFlip is property 8 / spec.md scenario S6's negative
// case: corrupting one byte of a registered file must fail verification.
func TestVerify_DetectsBitFlip(t *testing.T) {
	withCacheRoot(t)

	data := bytes.Repeat([]byte{0x5A}, 1024)
	src := writeLocalFile(t, "tiny.bin", data)

	modelID, err := Register(context.Background(), src)
	require.NoError(t, err)

	storedPath, err := GetFile(modelID)
	require.NoError(t, err)

	corrupted, err := os.ReadFile(storedPath)
	require.NoError(t, err)
	corrupted[0] ^= 0xFF
	require.NoError(t, os.WriteFile(storedPath, corrupted, 0o644))

	result, err := Verify(modelID)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "SHA256 mismatch")
}

// TestRegister_IDCollision_Deduplicates is property 9: registering two
// sources with the same base name assigns distinct, sanitized ids.
func TestRegister_IDCollision_Deduplicates(t *testing.T) {
	withCacheRoot(t)

	src1 := writeLocalFile(t, "model.gguf", []byte("one"))
	src2 := writeLocalFile(t, "model.gguf", []byte("two"))

	id1, err := Register(context.Background(), src1)
	require.NoError(t, err)
	id2, err := Register(context.Background(), src2)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, "model", id1)
	assert.Equal(t, "model-1", id2)
}

// TestRegister_SanitizesID is property 9: ids are restricted to
// [A-Za-z0-9_-], with anything else collapsed.
func TestRegister_SanitizesID(t *testing.T) {
	withCacheRoot(t)

	src := writeLocalFile(t, "weird name!@#.gguf", []byte("x"))
	modelID, err := Register(context.Background(), src)
	require.NoError(t, err)

	for _, r := range modelID {
		assert.True(t, r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			"unexpected character %q in id %q", r, modelID)
	}
}

func TestRegister_ExplicitModelID(t *testing.T) {
	withCacheRoot(t)

	src := writeLocalFile(t, "a.gguf", []byte("x"))
	modelID, err := Register(context.Background(), src, WithModelID("custom-id"), WithDisplayName("My Model"))
	require.NoError(t, err)
	assert.Equal(t, "custom-id", modelID)

	m, err := readManifest(modelID)
	require.NoError(t, err)
	assert.Equal(t, "My Model", m.DisplayName)
}

func TestRegister_RejectsInvalidExplicitID(t *testing.T) {
	withCacheRoot(t)

	src := writeLocalFile(t, "a.gguf", []byte("x"))
	_, err := Register(context.Background(), src, WithModelID("has space"))
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

// TestRegister_HTTPDownload_CancellationRemovesPartialFile is property 10:
// cancelling mid-download leaves no partial file behind.
func TestRegister_HTTPDownload_CancellationRemovesPartialFile(t *testing.T) {
	withCacheRoot(t)

	blockCh := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-blockCh
	}))
	defer srv.Close()
	defer close(blockCh)

	ctx, cancel := context.WithCancel(context.Background())
	go cancel()

	_, err := Register(ctx, srv.URL+"/model.gguf")
	require.Error(t, err)

	entries, readErr := os.ReadDir(Root())
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestRegister_HTTPDownload_Succeeds(t *testing.T) {
	withCacheRoot(t)

	content := []byte("gguf-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(content)
	}))
	defer srv.Close()

	modelID, err := Register(context.Background(), srv.URL+"/model.gguf")
	require.NoError(t, err)

	path, err := GetFile(modelID)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	result, err := Verify(modelID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestList_ReturnsAllRegisteredModels(t *testing.T) {
	withCacheRoot(t)

	src1 := writeLocalFile(t, "a.gguf", []byte("one"))
	src2 := writeLocalFile(t, "b.gguf", []byte("two"))
	_, err := Register(context.Background(), src1)
	require.NoError(t, err)
	_, err = Register(context.Background(), src2)
	require.NoError(t, err)

	manifests, err := List(nil)
	require.NoError(t, err)
	assert.Len(t, manifests, 2)
}

func TestList_UsesPoolIndexWhenPresent(t *testing.T) {
	withCacheRoot(t)

	src := writeLocalFile(t, "a.gguf", []byte("one"))
	modelID, err := Register(context.Background(), src)
	require.NoError(t, err)

	manifests, err := List(nil)
	require.NoError(t, err)
	require.NoError(t, WritePoolIndex(manifests))

	listed, err := List(nil)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, modelID, listed[0].ModelID)
}

func TestGetFile_UnknownModel(t *testing.T) {
	withCacheRoot(t)

	_, err := GetFile("nope")
	require.Error(t, err)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}
