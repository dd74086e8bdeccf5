// Package gguf implements the GGUF container reader: header, typed
// key/value metadata, tensor manifest, and aligned data-section offsets,
// see https://github.com/ggerganov/ggml/blob/master/docs/gguf.md#file-structure.
package gguf

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/smallmind-ai/smallmind-core/quant"
)

// File represents a parsed GGUF file, minus the tensor data itself: tensor
// bytes are fetched on demand through the Reader that produced this File.
type File struct {
	Header                GGUFHeader      `json:"header"`
	TensorInfos           TensorInfos     `json:"tensorInfos,omitempty"`
	DataSectionOffset     int64           `json:"dataSectionOffset"`
	Alignment             uint32          `json:"alignment"`
	Size                  BytesScalar     `json:"size"`
	Parameters            ParametersScalar `json:"parameters"`
	BitsPerWeight         BitsPerWeightScalar `json:"bitsPerWeight"`
}

// Types for scalar display helpers, kept from the teacher's humanize-backed
// String() methods (file.go).
type (
	BytesScalar         uint64
	ParametersScalar    uint64
	BitsPerWeightScalar float64
)

func (s BytesScalar) String() string { return humanize.IBytes(uint64(s)) }

func (s ParametersScalar) String() string {
	switch {
	case s >= 1e15:
		return humanize.CommafWithDigits(float64(s)/1e15, 1) + " Q"
	case s >= 1e12:
		return humanize.CommafWithDigits(float64(s)/1e12, 1) + " T"
	case s >= 1e9:
		return humanize.CommafWithDigits(float64(s)/1e9, 1) + " B"
	case s >= 1e6:
		return humanize.CommafWithDigits(float64(s)/1e6, 1) + " M"
	case s >= 1e3:
		return humanize.CommafWithDigits(float64(s)/1e3, 1) + " K"
	default:
		return fmt.Sprintf("%d", uint64(s))
	}
}

func (s BitsPerWeightScalar) String() string {
	if s == 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%.2f bpw", float64(s))
}

// Magic is the first 4 bytes of a GGUF file.
type Magic uint32

const (
	MagicGGUFLe Magic = 0x46554747 // "GGUF" little-endian writer
	MagicGGUFBe Magic = 0x47475546 // "GGUF" big-endian writer
)

func (m Magic) String() string {
	switch m {
	case MagicGGUFLe, MagicGGUFBe:
		return "GGUF"
	default:
		return fmt.Sprintf("Magic(0x%08x)", uint32(m))
	}
}

// Version is the GGUF container version. This subsystem supports 2 and 3.
type Version uint32

const (
	VersionV1 Version = iota + 1
	VersionV2
	VersionV3
)

// ErrInvalidFormat is raised when the magic bytes don't spell "GGUF".
var ErrInvalidFormat = errors.New("gguf: invalid format, magic mismatch")

// UnsupportedVersionError is raised for any version outside [2,3].
type UnsupportedVersionError struct {
	Version Version
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("gguf: unsupported version %d", uint32(e.Version))
}

// FormatError reports a structural violation in the KV or tensor manifest
// stream (spec.md §4.3 step 4, nested arrays, unknown primitive tags).
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string { return "gguf: " + e.Reason }

// GGUFHeader is the fixed-shape prefix of a GGUF file.
type GGUFHeader struct {
	Magic           Magic       `json:"magic"`
	Version         Version     `json:"version"`
	TensorCount     uint64      `json:"tensorCount"`
	MetadataKVCount uint64      `json:"metadataKVCount"`
	MetadataKV      MetadataKVs `json:"metadataKV"`
}

// MetadataValueType is the closed tag set for a metadata value (spec.md
// §4.3 step 4: u8/i8/u16/i16/u32/i32/u64/i64/f32/f64/bool/string/array).
type MetadataValueType uint32

const (
	MetadataValueTypeUint8 MetadataValueType = iota
	MetadataValueTypeInt8
	MetadataValueTypeUint16
	MetadataValueTypeInt16
	MetadataValueTypeUint32
	MetadataValueTypeInt32
	MetadataValueTypeFloat32
	MetadataValueTypeBool
	MetadataValueTypeString
	MetadataValueTypeArray
	MetadataValueTypeUint64
	MetadataValueTypeInt64
	MetadataValueTypeFloat64
	metadataValueTypeCount // sentinel, not a valid tag
)

// MetadataKV is one key/value pair of the metadata bag.
type MetadataKV struct {
	Key       string            `json:"key"`
	ValueType MetadataValueType `json:"valueType"`
	Value     any               `json:"value"`
}

// ArrayValue is the value of a MetadataKV whose ValueType is
// MetadataValueTypeArray. Nested arrays are rejected at parse time
// (spec.md §4.3 step 4), so Array never holds another ArrayValue.
type ArrayValue struct {
	Type  MetadataValueType `json:"type"`
	Len   uint64            `json:"len"`
	Array []any             `json:"array,omitempty"`
}

// MetadataKVs is an ordered list of MetadataKV, preserving GGUF declaration
// order (DESIGN NOTES: "Dictionary iteration order").
type MetadataKVs []MetadataKV

// Get returns the MetadataKV with the given key, in O(n).
func (kvs MetadataKVs) Get(key string) (MetadataKV, bool) {
	for i := range kvs {
		if kvs[i].Key == key {
			return kvs[i], true
		}
	}
	return MetadataKV{}, false
}

// Index looks up several keys in one pass.
func (kvs MetadataKVs) Index(keys []string) (map[string]MetadataKV, int) {
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	out := make(map[string]MetadataKV, len(keys))
	found := 0
	for i := range kvs {
		if _, ok := want[kvs[i].Key]; ok {
			out[kvs[i].Key] = kvs[i]
			found++
			if found == len(want) {
				break
			}
		}
	}
	return out, found
}

func typeMismatch(want MetadataValueType, got MetadataValueType) error {
	return fmt.Errorf("gguf: value type mismatch: want %v, got %v", want, got)
}

func (kv MetadataKV) ValueUint8() uint8 {
	v, _ := kv.Value.(uint8)
	return v
}

func (kv MetadataKV) ValueUint32() uint32 {
	v, _ := kv.Value.(uint32)
	return v
}

func (kv MetadataKV) ValueString() string {
	v, _ := kv.Value.(string)
	return v
}

func (kv MetadataKV) ValueBool() bool {
	v, _ := kv.Value.(bool)
	return v
}

func (kv MetadataKV) ValueArray() ArrayValue {
	v, _ := kv.Value.(ArrayValue)
	return v
}

// ValueNumeric coerces a numeric-typed KV value to T, panicking if the
// stored value isn't one of the numeric tags. Mirrors the teacher's generic
// ValueNumeric[T] (file.go), narrowed to the closed tag set above.
func ValueNumeric[T Numeric](kv MetadataKV) T {
	switch kv.ValueType {
	case MetadataValueTypeUint8:
		return T(kv.Value.(uint8))
	case MetadataValueTypeInt8:
		return T(kv.Value.(int8))
	case MetadataValueTypeUint16:
		return T(kv.Value.(uint16))
	case MetadataValueTypeInt16:
		return T(kv.Value.(int16))
	case MetadataValueTypeUint32:
		return T(kv.Value.(uint32))
	case MetadataValueTypeInt32:
		return T(kv.Value.(int32))
	case MetadataValueTypeFloat32:
		return T(kv.Value.(float32))
	case MetadataValueTypeUint64:
		return T(kv.Value.(uint64))
	case MetadataValueTypeInt64:
		return T(kv.Value.(int64))
	case MetadataValueTypeFloat64:
		return T(kv.Value.(float64))
	default:
		panic(typeMismatch(MetadataValueTypeUint64, kv.ValueType))
	}
}

// Numeric constrains ValueNumeric/ValuesNumeric's target type.
type Numeric interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

func (av ArrayValue) ValuesString() []string {
	out := make([]string, av.Len)
	for i := uint64(0); i < av.Len; i++ {
		out[i], _ = av.Array[i].(string)
	}
	return out
}

// ValuesNumeric coerces every element of a numeric-typed array to T.
func ValuesNumeric[T Numeric](av ArrayValue) []T {
	out := make([]T, av.Len)
	for i := uint64(0); i < av.Len; i++ {
		switch av.Type {
		case MetadataValueTypeUint8:
			out[i] = T(av.Array[i].(uint8))
		case MetadataValueTypeInt8:
			out[i] = T(av.Array[i].(int8))
		case MetadataValueTypeUint16:
			out[i] = T(av.Array[i].(uint16))
		case MetadataValueTypeInt16:
			out[i] = T(av.Array[i].(int16))
		case MetadataValueTypeUint32:
			out[i] = T(av.Array[i].(uint32))
		case MetadataValueTypeInt32:
			out[i] = T(av.Array[i].(int32))
		case MetadataValueTypeFloat32:
			out[i] = T(av.Array[i].(float32))
		case MetadataValueTypeUint64:
			out[i] = T(av.Array[i].(uint64))
		case MetadataValueTypeInt64:
			out[i] = T(av.Array[i].(int64))
		case MetadataValueTypeFloat64:
			out[i] = T(av.Array[i].(float64))
		}
	}
	return out
}

// TensorInfo is one entry of the tensor manifest.
type TensorInfo struct {
	Name            string     `json:"name"`
	NDimensions     uint32     `json:"nDimensions"`
	Dimensions      []uint64   `json:"dimensions"`
	Kind            quant.Kind `json:"kind"`
	RelativeOffset  uint64     `json:"relativeOffset"`
	// AbsoluteOffset is computed authoritatively by walking the manifest
	// (spec.md §4.3 step 8), never taken from RelativeOffset.
	AbsoluteOffset int64 `json:"absoluteOffset"`
}

// Elements returns the element count implied by Dimensions.
func (ti TensorInfo) Elements() uint64 {
	if ti.NDimensions == 0 {
		return 0
	}
	n := uint64(1)
	for i := uint32(0); i < ti.NDimensions; i++ {
		n *= ti.Dimensions[i]
	}
	return n
}

// Bytes returns byte_size(kind, dims) using C2's size formula.
func (ti TensorInfo) Bytes() (uint64, error) {
	return ti.Kind.ByteSize(ti.Elements())
}

// TensorInfos is an ordered tensor manifest (DESIGN NOTES: "Dictionary
// iteration order" — callers must not rebuild this as a map).
type TensorInfos []TensorInfo

// Get returns the TensorInfo with the given name.
func (tis TensorInfos) Get(name string) (TensorInfo, bool) {
	for i := range tis {
		if tis[i].Name == name {
			return tis[i], true
		}
	}
	return TensorInfo{}, false
}
