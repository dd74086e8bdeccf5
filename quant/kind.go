// Package quant implements the block-wise quantization codecs used by GGUF
// and SMQ tensors: bit-exact fp16<->fp32 conversion, per-kind block layouts,
// decode/encode, and the foreign->private block re-quantization contract.
package quant

import "fmt"

// Kind is a closed discriminated set of tensor element kinds,
// see https://github.com/ggerganov/ggml/blob/master/docs/gguf.md#file-structure.
type Kind uint32

// Kind constants. The numeric values match the GGUF tensor kind enum on the
// wire (spec.md "External interfaces"), not Go iota order, so that a Kind
// read straight off a GGUF file needs no translation table.
const (
	F32     Kind = 0
	F16     Kind = 1
	Q4_0    Kind = 2
	Q4_1    Kind = 3
	Q5_0    Kind = 6
	Q5_1    Kind = 7
	Q8_0    Kind = 8
	Q8_1    Kind = 9
	Q2_K    Kind = 10
	Q3_K    Kind = 11
	Q4_K    Kind = 12
	Q5_K    Kind = 13
	Q6_K    Kind = 14
	Q8_K    Kind = 15
	IQ2_XXS Kind = 16
	IQ2_XS  Kind = 17
	IQ3_XXS Kind = 18
	IQ1_S   Kind = 19
	IQ4_NL  Kind = 20
	IQ3_S   Kind = 21
	IQ2_S   Kind = 22
	IQ4_XS  Kind = 23
)

// Trait holds the block layout of a Kind,
// see https://github.com/ggml-org/llama.cpp/blob/fd1234cb468935ea087d6929b2487926c3afff4b/ggml/src/ggml.c#L586-L876.
//
// Narrowed, compared to the teacher's GGMLTypeTrait table, to the closed
// kind set spec.md §3 names: no deprecated Q4_2/Q4_3, no multi-lane
// Q4_0_N_N variants, no BF16/I8/I16/I32/I64/F64 rows, since those are
// neither decodable nor even recognized by this subsystem.
type Trait struct {
	BlockSize     uint64
	BytesPerBlock uint64
	Quantized     bool
	// Decodable is true for the kinds C2 actually decodes
	// (F32, F16, Q4_0, Q4_1, Q5_0, Q8_0, Q4_K, Q6_K).
	Decodable bool
}

var traits = map[Kind]Trait{
	F32:     {BlockSize: 1, BytesPerBlock: 4, Decodable: true},
	F16:     {BlockSize: 1, BytesPerBlock: 2, Decodable: true},
	Q4_0:    {BlockSize: 32, BytesPerBlock: 18, Quantized: true, Decodable: true},
	Q4_1:    {BlockSize: 32, BytesPerBlock: 20, Quantized: true, Decodable: true},
	Q5_0:    {BlockSize: 32, BytesPerBlock: 22, Quantized: true, Decodable: true},
	Q5_1:    {BlockSize: 32, BytesPerBlock: 24, Quantized: true},
	Q8_0:    {BlockSize: 32, BytesPerBlock: 34, Quantized: true, Decodable: true},
	Q8_1:    {BlockSize: 32, BytesPerBlock: 36, Quantized: true},
	Q2_K:    {BlockSize: 256, BytesPerBlock: 84, Quantized: true},
	Q3_K:    {BlockSize: 256, BytesPerBlock: 110, Quantized: true},
	Q4_K:    {BlockSize: 256, BytesPerBlock: 144, Quantized: true, Decodable: true},
	Q5_K:    {BlockSize: 256, BytesPerBlock: 176, Quantized: true},
	Q6_K:    {BlockSize: 256, BytesPerBlock: 210, Quantized: true, Decodable: true},
	Q8_K:    {BlockSize: 256, BytesPerBlock: 292, Quantized: true},
	IQ2_XXS: {BlockSize: 256, BytesPerBlock: 66, Quantized: true},
	IQ2_XS:  {BlockSize: 256, BytesPerBlock: 74, Quantized: true},
	IQ3_XXS: {BlockSize: 256, BytesPerBlock: 98, Quantized: true},
	IQ1_S:   {BlockSize: 256, BytesPerBlock: 50, Quantized: true},
	IQ4_NL:  {BlockSize: 32, BytesPerBlock: 18, Quantized: true},
	IQ3_S:   {BlockSize: 256, BytesPerBlock: 110, Quantized: true},
	IQ2_S:   {BlockSize: 256, BytesPerBlock: 82, Quantized: true},
	IQ4_XS:  {BlockSize: 256, BytesPerBlock: 136, Quantized: true},
}

// Trait returns the block layout of the Kind, and whether the Kind is
// recognized at all (the IQ*/K-quant-beyond-Q4_K_Q6_K rows are recognized
// but not decodable; an unrecognized numeric value reports ok=false).
func (k Kind) Trait() (Trait, bool) {
	t, ok := traits[k]
	return t, ok
}

// Decodable reports whether this subsystem can dequantize/quantize the Kind.
func (k Kind) Decodable() bool {
	t, ok := traits[k]
	return ok && t.Decodable
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case F32:
		return "F32"
	case F16:
		return "F16"
	case Q4_0:
		return "Q4_0"
	case Q4_1:
		return "Q4_1"
	case Q5_0:
		return "Q5_0"
	case Q5_1:
		return "Q5_1"
	case Q8_0:
		return "Q8_0"
	case Q8_1:
		return "Q8_1"
	case Q2_K:
		return "Q2_K"
	case Q3_K:
		return "Q3_K"
	case Q4_K:
		return "Q4_K"
	case Q5_K:
		return "Q5_K"
	case Q6_K:
		return "Q6_K"
	case Q8_K:
		return "Q8_K"
	case IQ2_XXS:
		return "IQ2_XXS"
	case IQ2_XS:
		return "IQ2_XS"
	case IQ3_XXS:
		return "IQ3_XXS"
	case IQ1_S:
		return "IQ1_S"
	case IQ4_NL:
		return "IQ4_NL"
	case IQ3_S:
		return "IQ3_S"
	case IQ2_S:
		return "IQ2_S"
	case IQ4_XS:
		return "IQ4_XS"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// BlockCount returns the number of blocks needed to hold n elements,
// rounding up, which is inspired by the teacher's GGMLType.RowSizeOf,
// see https://github.com/ggerganov/ggml/blob/a10a8b880c059b3b29356eb9a9f8df72f03cdb6a/src/ggml.c#L2640-L2643.
func (k Kind) BlockCount(n uint64) (uint64, error) {
	t, ok := k.Trait()
	if !ok {
		return 0, fmt.Errorf("quant: unknown kind %v", k)
	}
	return (n + t.BlockSize - 1) / t.BlockSize, nil
}

// ByteSize returns bytes(N) = ceil(N/block_size) * bytes_per_block for n
// elements of this Kind (spec.md §4.2).
func (k Kind) ByteSize(n uint64) (uint64, error) {
	t, ok := k.Trait()
	if !ok {
		return 0, fmt.Errorf("quant: unknown kind %v", k)
	}
	blocks, err := k.BlockCount(n)
	if err != nil {
		return 0, err
	}
	return blocks * t.BytesPerBlock, nil
}
