package smq

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallmind-ai/smallmind-core/gguf"
	"github.com/smallmind-ai/smallmind-core/quant"
)

func TestWriteRead_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.smq")

	metadata := gguf.MetadataKVs{
		{Key: "general.architecture", ValueType: gguf.MetadataValueTypeString, Value: "llama"},
		{Key: "converted_from", ValueType: gguf.MetadataValueTypeString, Value: "GGUF"},
	}
	tensors := []TensorData{
		{Name: "token_embd.weight", Dimensions: []uint64{4}, Kind: quant.F32, Bytes: make([]byte, 16)},
		{Name: "blk.0.attn.weight", Dimensions: []uint64{8}, Kind: quant.F32, Bytes: make([]byte, 32)},
	}
	for i := range tensors[0].Bytes {
		tensors[0].Bytes[i] = byte(i)
	}

	require.NoError(t, Write(path, metadata, tensors))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, CurrentVersion, r.File.Version)
	require.Len(t, r.File.Metadata, 2)
	kv, ok := r.File.Metadata.Get("general.architecture")
	require.True(t, ok)
	assert.Equal(t, "llama", kv.ValueString())

	require.Len(t, r.File.Tensors, 2)
	te0, ok := r.File.Get("token_embd.weight")
	require.True(t, ok)
	assert.EqualValues(t, 16, te0.Size)
	assert.Zero(t, te0.AbsoluteOffset%Alignment)

	data, err := r.ReadAt(te0)
	require.NoError(t, err)
	assert.Equal(t, tensors[0].Bytes, data)

	te1, ok := r.File.Get("blk.0.attn.weight")
	require.True(t, ok)
	assert.Equal(t, te0.AbsoluteOffset+int64(te0.Size), te1.AbsoluteOffset, "tensors are laid out contiguously in declaration order")
}

func TestOpen_InvalidMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.smq")
	require.NoError(t, Write(path, nil, nil))

	bs, err := os.ReadFile(path)
	require.NoError(t, err)
	bs[0] = 'X'
	require.NoError(t, os.WriteFile(path, bs, 0o644))

	_, err = Open(path)
	var ferr *FormatError
	assert.ErrorAs(t, err, &ferr)
}

func TestWrite_EmptyContainer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.smq")
	require.NoError(t, Write(path, nil, nil))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, CurrentVersion, r.File.Version)
	assert.Empty(t, r.File.Tensors)
}
