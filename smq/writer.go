package smq

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/smallmind-ai/smallmind-core/gguf"
	"github.com/smallmind-ai/smallmind-core/internal/util/osx"
	"github.com/smallmind-ai/smallmind-core/internal/util/stringx"
	"github.com/smallmind-ai/smallmind-core/quant"
)

// TensorData is one tensor to be written: its already-encoded raw block
// bytes (F32/F16 plain floats, quantized kinds in their native or
// re-quantized block layout — convert.Import decides which).
type TensorData struct {
	Name       string
	Dimensions []uint64
	Kind       quant.Kind
	// BlockSize is 0 for tensors written at the Kind's own standard block
	// size, or the private block size for re-quantized Q8_0/Q4_0 tensors
	// (see TensorEntry.BlockSize).
	BlockSize uint64
	Bytes     []byte
}

func (td TensorData) elements() uint64 {
	n := uint64(1)
	for _, d := range td.Dimensions {
		n *= d
	}
	return n
}

func directoryEntrySize(name string, ndims int) int64 {
	return 8 + int64(len(name)) + 4 + 8*int64(ndims) + 4 + 8 + 8 + 8
}

// Write assembles an SMQ container from tensors (in the given order — the
// importer is responsible for preserving GGUF declaration order, spec.md
// §4.5 "Ordering") and metadata, and writes it atomically: a temp file in
// path's directory, then rename into place (spec.md §3 Lifecycle and §5
// "write-temp-then-rename semantics recommended"), the same idiom the
// teacher applies to its parse cache (cache.go) via internal/util/osx.
func Write(path string, metadata gguf.MetadataKVs, tensors []TensorData) error {
	for i := range tensors {
		if uint64(len(tensors[i].Bytes)) == 0 && tensors[i].elements() != 0 {
			return fmt.Errorf("smq: tensor %q has no data", tensors[i].Name)
		}
	}

	var hdr bytes.Buffer
	hdr.WriteString(Magic)
	if err := binary.Write(&hdr, binary.LittleEndian, uint32(CurrentVersion)); err != nil {
		return err
	}
	if err := binary.Write(&hdr, binary.LittleEndian, uint64(len(metadata))); err != nil {
		return err
	}
	for _, kv := range metadata {
		if err := gguf.EncodeMetadataKV(&hdr, kv); err != nil {
			return err
		}
	}
	if err := binary.Write(&hdr, binary.LittleEndian, uint64(len(tensors))); err != nil {
		return err
	}

	var directorySize int64
	for _, td := range tensors {
		directorySize += directoryEntrySize(td.Name, len(td.Dimensions))
	}

	headerEnd := int64(hdr.Len()) + directorySize
	dataOffset := alignUp(headerEnd, Alignment)

	off := dataOffset
	for _, td := range tensors {
		if err := binary.Write(&hdr, binary.LittleEndian, uint64(len(td.Name))); err != nil {
			return err
		}
		hdr.WriteString(td.Name)
		if err := binary.Write(&hdr, binary.LittleEndian, uint32(len(td.Dimensions))); err != nil {
			return err
		}
		for _, d := range td.Dimensions {
			if err := binary.Write(&hdr, binary.LittleEndian, d); err != nil {
				return err
			}
		}
		if err := binary.Write(&hdr, binary.LittleEndian, uint32(td.Kind)); err != nil {
			return err
		}
		if err := binary.Write(&hdr, binary.LittleEndian, td.BlockSize); err != nil {
			return err
		}
		if err := binary.Write(&hdr, binary.LittleEndian, off); err != nil {
			return err
		}
		if err := binary.Write(&hdr, binary.LittleEndian, uint64(len(td.Bytes))); err != nil {
			return err
		}
		off += int64(len(td.Bytes))
	}

	if int64(hdr.Len()) != headerEnd {
		return fmt.Errorf("smq: internal error: header size mismatch (%d != %d)", hdr.Len(), headerEnd)
	}
	hdr.Write(make([]byte, dataOffset-headerEnd))

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("smq: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+stringx.RandomHex(8)+".smq.tmp")
	if err != nil {
		return fmt.Errorf("smq: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		osx.Close(tmp)
		_ = os.Remove(tmpPath)
	}()

	if _, err = tmp.Write(hdr.Bytes()); err != nil {
		return fmt.Errorf("smq: write header: %w", err)
	}
	for _, td := range tensors {
		if _, err = tmp.Write(td.Bytes); err != nil {
			return fmt.Errorf("smq: write tensor %q: %w", td.Name, err)
		}
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("smq: sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("smq: close temp file: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("smq: rename into place: %w", err)
	}
	return nil
}

func alignUp(pos, alignment int64) int64 {
	if alignment <= 0 {
		return pos
	}
	rem := pos % alignment
	if rem == 0 {
		return pos
	}
	return pos + (alignment - rem)
}
