package gguf

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smallmind-ai/smallmind-core/internal/util/bytex"
	"github.com/smallmind-ai/smallmind-core/internal/util/httpx"
	"github.com/smallmind-ai/smallmind-core/internal/util/osx"
	"github.com/smallmind-ai/smallmind-core/quant"
)

// Reader serves tensor bytes for a parsed File, against the backend (local
// stream, mmap, or HTTP range reads) that produced it. It is the zero-copy
// view API of spec.md §4.3: callers read raw tensor bytes keyed by a
// TensorInfo's AbsoluteOffset/Bytes(), without re-parsing the container.
type Reader struct {
	File *File

	ra      io.ReaderAt
	mmapped []byte // non-nil only for the mmap backend, enabling View's zero-copy slice
	closer  io.Closer
}

// Close releases the underlying backend (file handle, mmap, or remote
// connection).
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// ReadAt copies ti's tensor bytes into a freshly allocated slice. Safe to
// retain past the Reader's lifetime.
func (r *Reader) ReadAt(ti TensorInfo) ([]byte, error) {
	n, err := ti.Bytes()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err = r.ra.ReadAt(buf, ti.AbsoluteOffset); err != nil {
		return nil, fmt.Errorf("gguf: read tensor %q: %w", ti.Name, err)
	}
	return buf, nil
}

// View returns ti's tensor bytes, borrowed directly from the mmap backend
// when available (no copy); it falls back to ReadAt otherwise. A borrowed
// slice is only valid until the Reader is closed.
func (r *Reader) View(ti TensorInfo) ([]byte, error) {
	if r.mmapped == nil {
		return r.ReadAt(ti)
	}
	n, err := ti.Bytes()
	if err != nil {
		return nil, err
	}
	end := ti.AbsoluteOffset + int64(n)
	if ti.AbsoluteOffset < 0 || end > int64(len(r.mmapped)) {
		return nil, fmt.Errorf("gguf: tensor %q: offset out of range", ti.Name)
	}
	return r.mmapped[ti.AbsoluteOffset:end], nil
}

// Open parses a GGUF file from a local path, following ReadOptions (stream
// or mmap backend). The returned Reader stays open for tensor-data access
// via ReadAt/View and must be Closed by the caller.
func Open(path string, opts ...ReadOption) (*Reader, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}

	var (
		rs      io.ReadSeeker
		sz      int64
		closer  io.Closer
		ra      io.ReaderAt
		mmapped []byte
	)
	if o.MMap {
		mf, err := osx.OpenMmapFile(path)
		if err != nil {
			return nil, fmt.Errorf("gguf: open mmap file: %w", err)
		}
		rs = io.NewSectionReader(mf, 0, mf.Len())
		sz = mf.Len()
		closer = mf
		ra = mf
		mmapped = mf.Bytes()
	} else {
		f, err := osx.Open(path)
		if err != nil {
			return nil, fmt.Errorf("gguf: open file: %w", err)
		}
		stat, err := f.Stat()
		if err != nil {
			osx.Close(f)
			return nil, fmt.Errorf("gguf: stat file: %w", err)
		}
		rs = f
		sz = stat.Size()
		closer = f
		ra = f
	}

	gf, err := parse(sz, rs)
	if err != nil {
		closer.Close()
		return nil, err
	}
	return &Reader{File: gf, ra: ra, mmapped: mmapped, closer: closer}, nil
}

// OpenRemote parses a GGUF file served over HTTP(S), using range requests
// to avoid downloading the whole file up front (teacher's
// ParseGGUFFileRemote / httpx.SeekerFile). The returned Reader serves
// further tensor reads over the same range-read backend.
func OpenRemote(ctx context.Context, url string, opts ...ReadOption) (*Reader, error) {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}

	cli := httpx.Client(
		httpx.ClientOptions().
			WithUserAgent("smallmind-core").
			If(o.Debug, func(x *httpx.ClientOption) *httpx.ClientOption { return x.WithDebug() }).
			WithTimeout(0).
			WithTransport(
				httpx.TransportOptions().
					WithoutKeepalive().
					TimeoutForDial(5*time.Second).
					TimeoutForTLSHandshake(5*time.Second).
					TimeoutForResponseHeader(5*time.Second).
					If(o.SkipProxy, func(x *httpx.TransportOption) *httpx.TransportOption {
						return x.WithoutProxy()
					}).
					If(o.ProxyURL != nil, func(x *httpx.TransportOption) *httpx.TransportOption {
						return x.WithProxy(http.ProxyURL(o.ProxyURL))
					}).
					If(o.SkipTLSVerification, func(x *httpx.TransportOption) *httpx.TransportOption {
						return x.WithoutInsecureVerify()
					}).
					If(o.SkipDNSCache, func(x *httpx.TransportOption) *httpx.TransportOption {
						return x.WithoutDNSCache()
					})))

	req, err := httpx.NewGetRequestWithContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("gguf: new request: %w", err)
	}

	var sf *httpx.SeekerFile
	if o.BufferSize > 0 {
		sf, err = httpx.OpenSeekerFile(cli, req, httpx.SeekerFileOptions().WithBufferSize(o.BufferSize))
	} else {
		sf, err = httpx.OpenSeekerFile(cli, req)
	}
	if err != nil {
		return nil, fmt.Errorf("gguf: open remote file: %w", err)
	}

	rs := io.NewSectionReader(sf, 0, sf.Len())
	gf, err := parse(sf.Len(), rs)
	if err != nil {
		osx.Close(sf)
		return nil, err
	}
	return &Reader{File: gf, ra: sf, closer: sf}, nil
}

// parse implements the algorithm of spec.md §4.3.
func parse(size int64, rs io.ReadSeeker) (*File, error) {
	var gf File
	bo := binary.LittleEndian

	// 1. magic
	var magic Magic
	if err := binary.Read(rs, bo, &magic); err != nil {
		return nil, fmt.Errorf("gguf: read magic: %w", err)
	}
	gf.Header.Magic = magic
	switch magic {
	case MagicGGUFLe:
	case MagicGGUFBe:
		bo = binary.BigEndian
	default:
		return nil, ErrInvalidFormat
	}

	// 2. version
	if err := binary.Read(rs, bo, &gf.Header.Version); err != nil {
		return nil, fmt.Errorf("gguf: read version: %w", err)
	}
	if gf.Header.Version < VersionV2 || gf.Header.Version > VersionV3 {
		return nil, &UnsupportedVersionError{Version: gf.Header.Version}
	}

	rd := reader{v: gf.Header.Version, r: rs, bo: bo}

	// 3. tensor count, metadata count
	var err error
	gf.Header.TensorCount, err = rd.readUint64()
	if err != nil {
		return nil, fmt.Errorf("gguf: read tensor count: %w", err)
	}
	gf.Header.MetadataKVCount, err = rd.readUint64()
	if err != nil {
		return nil, fmt.Errorf("gguf: read metadata kv count: %w", err)
	}

	// 4. metadata kv
	{
		mr := metadataReader{reader: rd}
		kvs := make(MetadataKVs, gf.Header.MetadataKVCount)
		for i := uint64(0); i < gf.Header.MetadataKVCount; i++ {
			kvs[i], err = mr.Read()
			if err != nil {
				return nil, fmt.Errorf("gguf: read metadata kv %d: %w", i, err)
			}
		}
		gf.Header.MetadataKV = kvs
	}

	// 5. alignment
	gf.Alignment = 32
	if v, ok := gf.Header.MetadataKV.Get("general.alignment"); ok {
		gf.Alignment = ValueNumeric[uint32](v)
	}

	// 6. tensor infos
	{
		tr := tensorInfoReader{reader: rd}
		tis := make(TensorInfos, gf.Header.TensorCount)
		for i := uint64(0); i < gf.Header.TensorCount; i++ {
			tis[i], err = tr.Read()
			if err != nil {
				return nil, fmt.Errorf("gguf: read tensor info %d: %w", i, err)
			}
		}
		gf.TensorInfos = tis
	}

	// 7. data section offset = align_up(current position, alignment)
	pos, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("gguf: seek current position: %w", err)
	}
	gf.DataSectionOffset = alignUp(pos, int64(gf.Alignment))

	// 8. authoritative absolute offsets: walk the manifest, ignore any
	// stored relative offset (spec.md §4.3 step 8).
	off := gf.DataSectionOffset
	for i := range gf.TensorInfos {
		gf.TensorInfos[i].AbsoluteOffset = off
		n, err := gf.TensorInfos[i].Bytes()
		if err != nil {
			return nil, fmt.Errorf("gguf: tensor %q: %w", gf.TensorInfos[i].Name, err)
		}
		off += int64(n)
	}

	gf.Size = BytesScalar(size - gf.DataSectionOffset)
	for i := range gf.TensorInfos {
		gf.Parameters += ParametersScalar(gf.TensorInfos[i].Elements())
	}
	if gf.Parameters != 0 {
		gf.BitsPerWeight = BitsPerWeightScalar(float64(gf.Size) * 8 / float64(gf.Parameters))
	}

	return &gf, nil
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

type reader struct {
	v  Version
	r  io.Reader
	bo binary.ByteOrder
}

func (rd reader) readUint8() (v uint8, err error) {
	err = binary.Read(rd.r, rd.bo, &v)
	return v, err
}

func (rd reader) readUint16() (v uint16, err error) {
	err = binary.Read(rd.r, rd.bo, &v)
	return v, err
}

func (rd reader) readUint32() (v uint32, err error) {
	err = binary.Read(rd.r, rd.bo, &v)
	return v, err
}

func (rd reader) readUint64() (v uint64, err error) {
	err = binary.Read(rd.r, rd.bo, &v)
	return v, err
}

func (rd reader) readInt8() (v int8, err error) {
	err = binary.Read(rd.r, rd.bo, &v)
	return v, err
}

func (rd reader) readInt16() (v int16, err error) {
	err = binary.Read(rd.r, rd.bo, &v)
	return v, err
}

func (rd reader) readInt32() (v int32, err error) {
	err = binary.Read(rd.r, rd.bo, &v)
	return v, err
}

func (rd reader) readInt64() (v int64, err error) {
	err = binary.Read(rd.r, rd.bo, &v)
	return v, err
}

func (rd reader) readFloat32() (v float32, err error) {
	err = binary.Read(rd.r, rd.bo, &v)
	return v, err
}

func (rd reader) readFloat64() (v float64, err error) {
	err = binary.Read(rd.r, rd.bo, &v)
	return v, err
}

func (rd reader) readBool() (bool, error) {
	b, err := rd.readUint8()
	return b != 0, err
}

func (rd reader) readString() (string, error) {
	l, err := rd.readUint64()
	if err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}
	b := bytex.GetBytes(l)
	defer bytex.Put(b)
	if _, err = io.ReadFull(rd.r, b); err != nil {
		return "", fmt.Errorf("read string: %w", err)
	}
	// Exact bytes, no trimming: this reader decodes SMQ metadata values and
	// tokenizer.ggml.tokens entries too, where leading/trailing whitespace
	// is part of the value, not padding (spec.md §3/§6 "length-prefixed
	// UTF-8, not NUL-terminated"; write-then-read must yield an equal bag).
	return string(b), nil
}

func (rd reader) readValue(vt MetadataValueType) (any, error) {
	if vt >= metadataValueTypeCount {
		return nil, &FormatError{Reason: fmt.Sprintf("unknown primitive tag %d", vt)}
	}
	switch vt {
	case MetadataValueTypeUint8:
		return rd.readUint8()
	case MetadataValueTypeInt8:
		return rd.readInt8()
	case MetadataValueTypeUint16:
		return rd.readUint16()
	case MetadataValueTypeInt16:
		return rd.readInt16()
	case MetadataValueTypeUint32:
		return rd.readUint32()
	case MetadataValueTypeInt32:
		return rd.readInt32()
	case MetadataValueTypeFloat32:
		return rd.readFloat32()
	case MetadataValueTypeBool:
		return rd.readBool()
	case MetadataValueTypeString:
		return rd.readString()
	case MetadataValueTypeArray:
		return rd.readArray()
	case MetadataValueTypeUint64:
		return rd.readUint64()
	case MetadataValueTypeInt64:
		return rd.readInt64()
	case MetadataValueTypeFloat64:
		return rd.readFloat64()
	default:
		return nil, &FormatError{Reason: fmt.Sprintf("unknown primitive tag %d", vt)}
	}
}

func (rd reader) readArray() (ArrayValue, error) {
	var av ArrayValue

	var vt uint32
	if err := binary.Read(rd.r, rd.bo, &vt); err != nil {
		return av, fmt.Errorf("read array item type: %w", err)
	}
	av.Type = MetadataValueType(vt)
	if av.Type == MetadataValueTypeArray {
		return av, &FormatError{Reason: "nested arrays are not supported"}
	}

	l, err := rd.readUint64()
	if err != nil {
		return av, fmt.Errorf("read array length: %w", err)
	}
	av.Len = l

	av.Array = make([]any, l)
	for i := uint64(0); i < l; i++ {
		av.Array[i], err = rd.readValue(av.Type)
		if err != nil {
			return av, fmt.Errorf("read array item %d: %w", i, err)
		}
	}
	return av, nil
}

type metadataReader struct{ reader }

func (rd metadataReader) Read() (MetadataKV, error) {
	var kv MetadataKV
	var err error
	kv.Key, err = rd.readString()
	if err != nil {
		return kv, fmt.Errorf("read key: %w", err)
	}

	vt, err := rd.readUint32()
	if err != nil {
		return kv, fmt.Errorf("read value type: %w", err)
	}
	kv.ValueType = MetadataValueType(vt)
	if kv.ValueType >= metadataValueTypeCount {
		return kv, &FormatError{Reason: fmt.Sprintf("key %q: unknown value type %d", kv.Key, kv.ValueType)}
	}

	kv.Value, err = rd.readValue(kv.ValueType)
	if err != nil {
		return kv, fmt.Errorf("read %s value: %w", kv.Key, err)
	}
	return kv, nil
}

type tensorInfoReader struct{ reader }

func (rd tensorInfoReader) Read() (TensorInfo, error) {
	var ti TensorInfo
	var err error

	ti.Name, err = rd.readString()
	if err != nil {
		return ti, fmt.Errorf("read name: %w", err)
	}

	ti.NDimensions, err = rd.readUint32()
	if err != nil {
		return ti, fmt.Errorf("read n dimensions: %w", err)
	}

	ti.Dimensions = make([]uint64, ti.NDimensions)
	for i := uint32(0); i < ti.NDimensions; i++ {
		ti.Dimensions[i], err = rd.readUint64()
		if err != nil {
			return ti, fmt.Errorf("read dimension %d: %w", i, err)
		}
	}

	kindv, err := rd.readUint32()
	if err != nil {
		return ti, fmt.Errorf("read kind: %w", err)
	}
	ti.Kind = quant.Kind(kindv)

	ti.RelativeOffset, err = rd.readUint64()
	if err != nil {
		return ti, fmt.Errorf("read offset: %w", err)
	}

	return ti, nil
}
