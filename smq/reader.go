package smq

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/smallmind-ai/smallmind-core/gguf"
	"github.com/smallmind-ai/smallmind-core/internal/util/osx"
	"github.com/smallmind-ai/smallmind-core/quant"
)

// Reader serves tensor bytes for a parsed SMQ File, mirroring gguf.Reader's
// contract (spec.md §4.4 "Failure modes mirror C3").
type Reader struct {
	File *File

	ra     io.ReaderAt
	closer io.Closer
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadAt copies te's tensor bytes into a freshly allocated slice.
func (r *Reader) ReadAt(te TensorEntry) ([]byte, error) {
	buf := make([]byte, te.Size)
	if _, err := r.ra.ReadAt(buf, te.AbsoluteOffset); err != nil {
		return nil, fmt.Errorf("smq: read tensor %q: %w", te.Name, err)
	}
	return buf, nil
}

// Open parses an SMQ container from a local path. The returned Reader
// stays open for ReadAt and must be Closed by the caller.
func Open(path string) (*Reader, error) {
	f, err := osx.Open(path)
	if err != nil {
		return nil, fmt.Errorf("smq: open file: %w", err)
	}

	sf, err := parse(f)
	if err != nil {
		osx.Close(f)
		return nil, err
	}
	return &Reader{File: sf, ra: f, closer: f}, nil
}

func parse(r io.Reader) (*File, error) {
	var f File

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("smq: read magic: %w", err)
	}
	if string(magic) != Magic {
		return nil, &FormatError{Reason: "invalid format, magic mismatch"}
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("smq: read version: %w", err)
	}
	f.Version = Version(version)
	if f.Version != CurrentVersion {
		return nil, &UnsupportedVersionError{Version: f.Version}
	}

	var kvCount uint64
	if err := binary.Read(r, binary.LittleEndian, &kvCount); err != nil {
		return nil, fmt.Errorf("smq: read metadata count: %w", err)
	}
	f.Metadata = make(gguf.MetadataKVs, kvCount)
	for i := uint64(0); i < kvCount; i++ {
		kv, err := gguf.DecodeMetadataKV(r)
		if err != nil {
			return nil, fmt.Errorf("smq: read metadata kv %d: %w", i, err)
		}
		f.Metadata[i] = kv
	}

	var tensorCount uint64
	if err := binary.Read(r, binary.LittleEndian, &tensorCount); err != nil {
		return nil, fmt.Errorf("smq: read tensor count: %w", err)
	}
	f.Tensors = make([]TensorEntry, tensorCount)
	for i := uint64(0); i < tensorCount; i++ {
		te, err := readTensorEntry(r)
		if err != nil {
			return nil, fmt.Errorf("smq: read tensor entry %d: %w", i, err)
		}
		f.Tensors[i] = te
	}

	return &f, nil
}

func readTensorEntry(r io.Reader) (TensorEntry, error) {
	var te TensorEntry

	var nameLen uint64
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return te, fmt.Errorf("read name length: %w", err)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return te, fmt.Errorf("read name: %w", err)
	}
	te.Name = string(name)

	var ndims uint32
	if err := binary.Read(r, binary.LittleEndian, &ndims); err != nil {
		return te, fmt.Errorf("read n dimensions: %w", err)
	}
	te.Dimensions = make([]uint64, ndims)
	for i := uint32(0); i < ndims; i++ {
		if err := binary.Read(r, binary.LittleEndian, &te.Dimensions[i]); err != nil {
			return te, fmt.Errorf("read dimension %d: %w", i, err)
		}
	}

	var kind uint32
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return te, fmt.Errorf("read kind: %w", err)
	}
	te.Kind = quant.Kind(kind)

	if err := binary.Read(r, binary.LittleEndian, &te.BlockSize); err != nil {
		return te, fmt.Errorf("read block size: %w", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &te.AbsoluteOffset); err != nil {
		return te, fmt.Errorf("read offset: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &te.Size); err != nil {
		return te, fmt.Errorf("read size: %w", err)
	}

	return te, nil
}
