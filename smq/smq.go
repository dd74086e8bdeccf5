// Package smq implements the SMQ container: a private, GGUF-shaped archive
// format for tensors decoded/re-quantized by the convert package. It reuses
// the gguf package's KV encoding and alignment rules rather than inventing
// a new wire format (spec.md §4.4 leaves the byte layout an implementation
// choice, fixing only self-describing semantics).
package smq

import (
	"fmt"

	"github.com/smallmind-ai/smallmind-core/gguf"
	"github.com/smallmind-ai/smallmind-core/quant"
)

// Magic is the 4-byte tag identifying an SMQ container.
const Magic = "SMQ1"

// Version is the SMQ container format version.
type Version uint32

const CurrentVersion Version = 1

// Alignment is the fixed tensor-data alignment SMQ writes use; there is no
// per-file override, unlike GGUF's general.alignment.
const Alignment = 32

// TensorEntry is one entry of the tensor directory: name, kind, dims,
// absolute offset and byte size, mirroring gguf.TensorInfo's shape
// (spec.md §4.4: "tensor directory with name, kind, dims, offset, size").
//
// BlockSize records the block size the bytes were encoded at. It is 0 for
// any tensor whose Kind was written at its own standard block size
// (quant.Kind.Trait().BlockSize); convert.Import sets it explicitly for
// Q8_0/Q4_0 tensors re-quantized to a private block size (spec.md §4.5
// step 3, property 4), since quant.Kind's trait table only describes the
// GGUF-native block sizes.
type TensorEntry struct {
	Name           string
	Dimensions     []uint64
	Kind           quant.Kind
	BlockSize      uint64
	AbsoluteOffset int64
	Size           uint64
}

// EffectiveBlockSize returns BlockSize if set, else the Kind's own standard
// block size.
func (te TensorEntry) EffectiveBlockSize() uint64 {
	if te.BlockSize != 0 {
		return te.BlockSize
	}
	if t, ok := te.Kind.Trait(); ok {
		return t.BlockSize
	}
	return 0
}

// Elements returns the element count implied by Dimensions.
func (te TensorEntry) Elements() uint64 {
	n := uint64(1)
	for _, d := range te.Dimensions {
		n *= d
	}
	return n
}

// File is a parsed SMQ container, minus tensor bytes: fetch those through
// the Reader that produced it.
type File struct {
	Version  Version
	Metadata gguf.MetadataKVs
	Tensors  []TensorEntry
}

// Get returns the TensorEntry with the given name.
func (f *File) Get(name string) (TensorEntry, bool) {
	for _, t := range f.Tensors {
		if t.Name == name {
			return t, true
		}
	}
	return TensorEntry{}, false
}

// FormatError reports a structural violation of the SMQ container (bad
// magic, unsupported version, truncated directory).
type FormatError struct{ Reason string }

func (e *FormatError) Error() string { return "smq: " + e.Reason }

// UnsupportedVersionError is raised for any SMQ version this reader does
// not understand.
type UnsupportedVersionError struct{ Version Version }

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("smq: unsupported version %d", uint32(e.Version))
}
