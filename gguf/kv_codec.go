package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeMetadataKV writes kv in the same wire shape the GGUF reader parses
// (ggstring key, u32 value tag, value bytes), little-endian. Exported so
// the smq container (which reuses GGUF's KV encoding verbatim, see
// spec.md §4.4) doesn't reimplement it.
func EncodeMetadataKV(w io.Writer, kv MetadataKV) error {
	if err := writeString(w, kv.Key); err != nil {
		return fmt.Errorf("gguf: write key %q: %w", kv.Key, err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(kv.ValueType)); err != nil {
		return fmt.Errorf("gguf: write value type for %q: %w", kv.Key, err)
	}
	if err := writeValue(w, kv.ValueType, kv.Value); err != nil {
		return fmt.Errorf("gguf: write value for %q: %w", kv.Key, err)
	}
	return nil
}

// DecodeMetadataKV reads one KV entry written by EncodeMetadataKV.
func DecodeMetadataKV(r io.Reader) (MetadataKV, error) {
	rd := metadataReader{reader{r: r, bo: binary.LittleEndian}}
	return rd.Read()
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeValue(w io.Writer, vt MetadataValueType, v any) error {
	switch vt {
	case MetadataValueTypeUint8:
		return binary.Write(w, binary.LittleEndian, v.(uint8))
	case MetadataValueTypeInt8:
		return binary.Write(w, binary.LittleEndian, v.(int8))
	case MetadataValueTypeUint16:
		return binary.Write(w, binary.LittleEndian, v.(uint16))
	case MetadataValueTypeInt16:
		return binary.Write(w, binary.LittleEndian, v.(int16))
	case MetadataValueTypeUint32:
		return binary.Write(w, binary.LittleEndian, v.(uint32))
	case MetadataValueTypeInt32:
		return binary.Write(w, binary.LittleEndian, v.(int32))
	case MetadataValueTypeFloat32:
		return binary.Write(w, binary.LittleEndian, v.(float32))
	case MetadataValueTypeBool:
		b := uint8(0)
		if v.(bool) {
			b = 1
		}
		return binary.Write(w, binary.LittleEndian, b)
	case MetadataValueTypeString:
		return writeString(w, v.(string))
	case MetadataValueTypeArray:
		av := v.(ArrayValue)
		if err := binary.Write(w, binary.LittleEndian, uint32(av.Type)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, av.Len); err != nil {
			return err
		}
		for i := uint64(0); i < av.Len; i++ {
			if err := writeValue(w, av.Type, av.Array[i]); err != nil {
				return fmt.Errorf("array item %d: %w", i, err)
			}
		}
		return nil
	case MetadataValueTypeUint64:
		return binary.Write(w, binary.LittleEndian, v.(uint64))
	case MetadataValueTypeInt64:
		return binary.Write(w, binary.LittleEndian, v.(int64))
	case MetadataValueTypeFloat64:
		return binary.Write(w, binary.LittleEndian, v.(float64))
	default:
		return &FormatError{Reason: fmt.Sprintf("unknown primitive tag %d", vt)}
	}
}
