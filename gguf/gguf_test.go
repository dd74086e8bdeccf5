package gguf

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallmind-ai/smallmind-core/quant"
)

// ggufBuilder assembles a minimal, well-formed GGUF v3 byte stream for
// tests, mirroring spec.md §4.3's scenario S3 (one F32 tensor, alignment 64).
type ggufBuilder struct {
	buf       bytes.Buffer
	alignment uint32
	kvs       []func(*bytes.Buffer)
	tensors   []func(*bytes.Buffer)
}

func newGGUFBuilder(alignment uint32) *ggufBuilder {
	return &ggufBuilder{alignment: alignment}
}

func (b *ggufBuilder) withStringKV(key, val string) *ggufBuilder {
	b.kvs = append(b.kvs, func(w *bytes.Buffer) {
		writeString(w, key)
		binary.Write(w, binary.LittleEndian, uint32(MetadataValueTypeString))
		writeString(w, val)
	})
	return b
}

func (b *ggufBuilder) withUint32KV(key string, val uint32) *ggufBuilder {
	b.kvs = append(b.kvs, func(w *bytes.Buffer) {
		writeString(w, key)
		binary.Write(w, binary.LittleEndian, uint32(MetadataValueTypeUint32))
		binary.Write(w, binary.LittleEndian, val)
	})
	return b
}

func (b *ggufBuilder) withTensor(name string, dims []uint64, kind quant.Kind, relOffset uint64) *ggufBuilder {
	b.tensors = append(b.tensors, func(w *bytes.Buffer) {
		writeString(w, name)
		binary.Write(w, binary.LittleEndian, uint32(len(dims)))
		for _, d := range dims {
			binary.Write(w, binary.LittleEndian, d)
		}
		binary.Write(w, binary.LittleEndian, uint32(kind))
		binary.Write(w, binary.LittleEndian, relOffset)
	})
	return b
}

func writeString(w *bytes.Buffer, s string) {
	binary.Write(w, binary.LittleEndian, uint64(len(s)))
	w.WriteString(s)
}

// build returns the header+metadata+manifest bytes, not yet aligned/padded
// to the data section; dataSize is appended as zero-filled tensor data
// starting at the aligned offset.
func (b *ggufBuilder) build(dataSize int) []byte {
	var w bytes.Buffer
	binary.Write(&w, binary.LittleEndian, uint32(MagicGGUFLe))
	binary.Write(&w, binary.LittleEndian, uint32(VersionV3))
	binary.Write(&w, binary.LittleEndian, uint64(len(b.tensors)))
	binary.Write(&w, binary.LittleEndian, uint64(len(b.kvs)))
	for _, f := range b.kvs {
		f(&w)
	}
	for _, f := range b.tensors {
		f(&w)
	}

	pos := int64(w.Len())
	aligned := alignUp(pos, int64(b.alignment))
	w.Write(make([]byte, aligned-pos))
	w.Write(make([]byte, dataSize))
	return w.Bytes()
}

func TestParse_SyntheticV3_SingleF32Tensor(t *testing.T) {
	b := newGGUFBuilder(64).
		withStringKV("general.architecture", "llama").
		withUint32KV("general.alignment", 64).
		withTensor("token_embd.weight", []uint64{4, 2}, quant.F32, 0)

	raw := b.build(4 * 2 * 4)

	dir := t.TempDir()
	p := filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(p, raw, 0o644))

	r, err := Open(p)
	require.NoError(t, err)
	defer r.Close()

	gf := r.File
	assert.Equal(t, VersionV3, gf.Header.Version)
	assert.EqualValues(t, 64, gf.Alignment)
	assert.Equal(t, int64(192), gf.DataSectionOffset)
	require.Len(t, gf.TensorInfos, 1)

	ti := gf.TensorInfos[0]
	assert.Equal(t, "token_embd.weight", ti.Name)
	assert.Equal(t, quant.F32, ti.Kind)
	assert.Equal(t, int64(192), ti.AbsoluteOffset, "absolute offset is computed, not trusted from the stream")
	assert.EqualValues(t, 8, ti.Elements())

	data, err := r.ReadAt(ti)
	require.NoError(t, err)
	assert.Len(t, data, 32)
}

func TestParse_OffsetsIgnoreStoredRelativeOffset(t *testing.T) {
	// Declares a bogus non-zero relative offset; the reader must still
	// compute absolute offsets by walking the manifest (spec.md §4.3 step 8).
	b := newGGUFBuilder(32).
		withTensor("a", []uint64{4}, quant.F32, 999).
		withTensor("b", []uint64{4}, quant.F32, 12345)

	raw := b.build(2 * 4 * 4)
	dir := t.TempDir()
	p := filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(p, raw, 0o644))

	r, err := Open(p)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.File.TensorInfos, 2)
	a, b2 := r.File.TensorInfos[0], r.File.TensorInfos[1]
	assert.Equal(t, a.AbsoluteOffset+16, b2.AbsoluteOffset)
}

func TestParse_InvalidMagic(t *testing.T) {
	raw := make([]byte, 32)
	dir := t.TempDir()
	p := filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(p, raw, 0o644))

	_, err := Open(p)
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestParse_UnsupportedVersion(t *testing.T) {
	var w bytes.Buffer
	binary.Write(&w, binary.LittleEndian, uint32(MagicGGUFLe))
	binary.Write(&w, binary.LittleEndian, uint32(1))
	dir := t.TempDir()
	p := filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(p, w.Bytes(), 0o644))

	_, err := Open(p)
	var uverr *UnsupportedVersionError
	assert.ErrorAs(t, err, &uverr)
}

func TestMetadata_And_Architecture_RoundTrip(t *testing.T) {
	b := newGGUFBuilder(32).
		withStringKV("general.architecture", "llama").
		withStringKV("general.name", "tiny-llama").
		withUint32KV("llama.block_count", 4).
		withUint32KV("llama.attention.head_count", 8).
		withTensor("token_embd.weight", []uint64{2}, quant.F32, 0)

	raw := b.build(2 * 4)
	dir := t.TempDir()
	p := filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(p, raw, 0o644))

	r, err := Open(p)
	require.NoError(t, err)
	defer r.Close()

	meta := r.File.Metadata(int64(len(raw)))
	assert.Equal(t, "llama", meta.Architecture)
	assert.Equal(t, "tiny-llama", meta.Name)

	arch := r.File.Architecture()
	assert.EqualValues(t, 4, arch.BlockCount)
	assert.EqualValues(t, 8, arch.AttentionHeadCount)
	assert.EqualValues(t, 8, arch.AttentionHeadCountKV, "defaults to head count when head_count_kv is absent")
}

func TestReader_View_MMapMatchesReadAt(t *testing.T) {
	b := newGGUFBuilder(32).
		withTensor("a", []uint64{4}, quant.F32, 0)
	raw := b.build(16)
	dir := t.TempDir()
	p := filepath.Join(dir, "model.gguf")
	require.NoError(t, os.WriteFile(p, raw, 0o644))

	stream, err := Open(p)
	require.NoError(t, err)
	defer stream.Close()

	mapped, err := Open(p, UseMMap())
	require.NoError(t, err)
	defer mapped.Close()

	ti := stream.File.TensorInfos[0]
	viaRead, err := stream.ReadAt(ti)
	require.NoError(t, err)
	viaView, err := mapped.View(ti)
	require.NoError(t, err)
	assert.Equal(t, viaRead, viaView)
}
