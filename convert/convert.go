// Package convert implements the GGUF-to-SMQ importer (C5): read a GGUF
// file's tensors and architecture/tokenizer metadata, decode or requantize
// every tensor per spec.md §4.5, and write an SMQ container.
package convert

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallmind-ai/smallmind-core/gguf"
	"github.com/smallmind-ai/smallmind-core/quant"
	"github.com/smallmind-ai/smallmind-core/smq"
)

// DefaultPrivateBlockSize is the block size Q8_0/Q4_0 tensors are
// re-quantized to (spec.md property 4 uses 64 as its worked example).
const DefaultPrivateBlockSize = 64

// UnsupportedKindError names one tensor whose kind this importer cannot
// decode or pass through.
type UnsupportedKindError struct {
	Name string
	Kind quant.Kind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("convert: tensor %q: unsupported kind %v", e.Name, e.Kind)
}

// UnsupportedKindBatch aggregates every unsupported-kind tensor found
// during the pre-scan, so a caller sees the complete offender list in one
// pass rather than failing on the first tensor (spec.md §4.5 step 2, §7
// "never partial-import").
type UnsupportedKindBatch struct {
	Errors []UnsupportedKindError
}

func (e *UnsupportedKindBatch) Error() string {
	names := make([]string, len(e.Errors))
	for i, ue := range e.Errors {
		names[i] = fmt.Sprintf("%s(%v)", ue.Name, ue.Kind)
	}
	return fmt.Sprintf("convert: %d unsupported tensor(s): %s", len(e.Errors), strings.Join(names, ", "))
}

// architectureKeySuffixes is the fixed allowlist of `<arch>.*` shape keys
// copied into the SMQ metadata bag (spec.md §4.5 step 4), matching
// gguf.Architecture's trimmed field set exactly.
var architectureKeySuffixes = []string{
	".context_length",
	".embedding_length",
	".block_count",
	".feed_forward_length",
	".attention.head_count",
	".attention.head_count_kv",
	".rope.dimension_count",
	".rope.freq_base",
	".attention.layer_norm_rms_epsilon",
	".vocab_size",
}

// generalKeys is the fixed allowlist of general.* keys copied verbatim
// (spec.md §4.5 step 4).
var generalKeys = []string{
	"general.architecture",
	"general.name",
	"general.quantization_version",
	"general.file_type",
}

// options configures Import; see ImportOption.
type options struct {
	privateBlockSize uint64
	nowUTC           func() time.Time
}

// ImportOption configures Import, following the teacher's functional
// options pattern (file_option.go).
type ImportOption func(*options)

// WithPrivateBlockSize overrides the Q8_0/Q4_0 re-quantization block size.
func WithPrivateBlockSize(n uint64) ImportOption {
	return func(o *options) { o.privateBlockSize = n }
}

// withClock overrides the conversion-date clock; for tests only.
func withClock(f func() time.Time) ImportOption {
	return func(o *options) { o.nowUTC = f }
}

// Import reads a GGUF file at ggufPath and writes an equivalent SMQ
// container to smqPath (spec.md §4.5). ctx is checked for cancellation at
// tensor boundaries only (spec.md §5): codec work itself is synchronous
// and CPU-bound, so Import is not preemptible mid-tensor.
func Import(ctx context.Context, ggufPath, smqPath string, opts ...ImportOption) error {
	o := options{privateBlockSize: DefaultPrivateBlockSize, nowUTC: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	r, err := gguf.Open(ggufPath)
	if err != nil {
		return fmt.Errorf("convert: open %s: %w", ggufPath, err)
	}
	defer r.Close()

	gf := r.File

	var bad []UnsupportedKindError
	for _, ti := range gf.TensorInfos {
		if !supported(ti.Kind) {
			bad = append(bad, UnsupportedKindError{Name: ti.Name, Kind: ti.Kind})
		}
	}
	if len(bad) > 0 {
		return &UnsupportedKindBatch{Errors: bad}
	}

	tensors := make([]smq.TensorData, 0, len(gf.TensorInfos))
	for _, ti := range gf.TensorInfos {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		td, err := convertTensor(r, ti, o.privateBlockSize)
		if err != nil {
			return fmt.Errorf("convert: tensor %q: %w", ti.Name, err)
		}
		tensors = append(tensors, td)
	}

	metadata := buildMetadata(gf.Header.MetadataKV, o.nowUTC())

	if err = smq.Write(smqPath, metadata, tensors); err != nil {
		return fmt.Errorf("convert: write %s: %w", smqPath, err)
	}
	return nil
}

// supported reports whether this importer can either decode or
// byte-for-byte pass through the kind (spec.md §4.5 step 3).
func supported(k quant.Kind) bool {
	switch k {
	case quant.F32, quant.F16, quant.Q8_0, quant.Q4_0,
		quant.Q4_1, quant.Q5_0, quant.Q4_K, quant.Q6_K:
		return true
	default:
		return false
	}
}

// convertTensor decodes or passes through one tensor per spec.md §4.5 step
// 3: F32/F16 become float32 buffers re-encoded as F32; Q8_0/Q4_0 are
// re-quantized to the private block size; Q4_1/Q5_0/Q4_K/Q6_K pass through
// their native block-form bytes unchanged (property 5, bit-exact).
func convertTensor(r *gguf.Reader, ti gguf.TensorInfo, privateBlockSize uint64) (smq.TensorData, error) {
	raw, err := r.ReadAt(ti)
	if err != nil {
		return smq.TensorData{}, err
	}

	td := smq.TensorData{Name: ti.Name, Dimensions: ti.Dimensions}

	switch ti.Kind {
	case quant.F32, quant.F16:
		floats, err := quant.Decode(ti.Name, ti.Kind, raw, ti.Elements())
		if err != nil {
			return smq.TensorData{}, err
		}
		enc, ok := quant.Encode(quant.F32, floats)
		if !ok {
			return smq.TensorData{}, fmt.Errorf("encode as F32 failed")
		}
		td.Kind = quant.F32
		td.Bytes = enc

	case quant.Q8_0, quant.Q4_0:
		enc, err := quant.Requantize(ti.Name, ti.Kind, raw, ti.Elements(), privateBlockSize)
		if err != nil {
			return smq.TensorData{}, err
		}
		td.Kind = ti.Kind
		td.BlockSize = privateBlockSize
		td.Bytes = enc

	case quant.Q4_1, quant.Q5_0, quant.Q4_K, quant.Q6_K:
		td.Kind = ti.Kind
		td.Bytes = raw

	default:
		return smq.TensorData{}, &UnsupportedKindError{Name: ti.Name, Kind: ti.Kind}
	}

	return td, nil
}

// buildMetadata assembles the SMQ metadata bag per spec.md §4.5 step 4:
// the general.* and <arch>.* allowlists, every tokenizer.ggml.* key
// verbatim, plus provenance fields.
func buildMetadata(src gguf.MetadataKVs, now time.Time) gguf.MetadataKVs {
	var out gguf.MetadataKVs

	arch := "llama"
	if v, ok := src.Get("general.architecture"); ok {
		arch = v.ValueString()
	}

	wanted := make(map[string]struct{}, len(generalKeys)+len(architectureKeySuffixes))
	for _, k := range generalKeys {
		wanted[k] = struct{}{}
	}
	for _, suf := range architectureKeySuffixes {
		wanted[arch+suf] = struct{}{}
	}

	for _, kv := range src {
		if _, ok := wanted[kv.Key]; ok {
			out = append(out, kv)
			continue
		}
		if strings.HasPrefix(kv.Key, "tokenizer.ggml.") {
			out = append(out, kv)
		}
	}

	out = append(out,
		gguf.MetadataKV{Key: "converted_from", ValueType: gguf.MetadataValueTypeString, Value: "GGUF"},
		gguf.MetadataKV{Key: "conversion_date", ValueType: gguf.MetadataValueTypeString, Value: now.UTC().Format(time.RFC3339)},
	)
	return out
}
