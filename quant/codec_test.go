package quant

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S2 — Q4_0 dequant: block of 32 nibbles {0,1,...,15,15,...,0} with scale
// 1.0 dequantizes to {-8,-7,...,7,7,...,-8} exactly.
func TestQ4_0_Decode_S2(t *testing.T) {
	block := make([]byte, 18)
	binary.LittleEndian.PutUint16(block[0:2], FloatToHalf(1.0))
	qs := block[2:18]
	for i := 0; i < 16; i++ {
		setNibbleAt(qs, i, byte(i))
	}
	for i := 16; i < 32; i++ {
		setNibbleAt(qs, i, byte(31-i))
	}

	out, err := Decode("x", Q4_0, block, 32)
	require.NoError(t, err)

	want := make([]float32, 32)
	for i := 0; i < 16; i++ {
		want[i] = float32(i - 8)
	}
	for i := 16; i < 32; i++ {
		want[i] = float32((31 - i) - 8)
	}
	assert.Equal(t, want, out)
}

func TestDecode_SizeMismatch(t *testing.T) {
	_, err := Decode("x", Q4_0, make([]byte, 10), 32)
	require.Error(t, err)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, uint64(18), fe.Expected)
	assert.Equal(t, uint64(10), fe.Actual)
}

func TestDecode_UnsupportedKind(t *testing.T) {
	_, err := Decode("x", Q5_1, make([]byte, 24), 32)
	require.Error(t, err)
	var ue *UnsupportedKindError
	require.ErrorAs(t, err, &ue)
}

// spec.md §3: Q4_K/Q6_K element counts must be a whole number of 256-element
// super-blocks; a partial trailing super-block must be rejected before any
// sizing or decoding happens, not silently truncated or padded.
func TestDecode_KQuant_RejectsUnalignedElementCount(t *testing.T) {
	_, err := Decode("x", Q4_K, make([]byte, 144), 200)
	require.Error(t, err)
	var ue *UnalignedElementCountError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, uint64(200), ue.ElementCount)
	assert.Equal(t, uint64(256), ue.BlockSize)

	_, err = Decode("x", Q6_K, make([]byte, 210), 300)
	require.Error(t, err)
	require.ErrorAs(t, err, &ue)
}

func TestF32_RoundTrip(t *testing.T) {
	in := []float32{1, -2.5, 0, 3.14159, -100000}
	raw, ok := Encode(F32, in)
	require.True(t, ok)
	out, err := Decode("x", F32, raw, uint64(len(in)))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestQ8_0_EncodeDecode_BoundedError(t *testing.T) {
	in := make([]float32, 32)
	for i := range in {
		in[i] = float32(i) - 16
	}
	raw, ok := Encode(Q8_0, in)
	require.True(t, ok)
	out, err := Decode("x", Q8_0, raw, uint64(len(in)))
	require.NoError(t, err)

	scale := HalfToFloat(binary.LittleEndian.Uint16(raw[0:2]))
	for i := range in {
		diff := in[i] - out[i]
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, scale, "index %d", i)
	}
}

// Property 4: Q8_0 dequantize-then-requantize to a different private block
// size keeps max per-element absolute error bounded by 2*max|scale_i|.
func TestRequantize_Q8_0_NearIdempotence(t *testing.T) {
	n := 64
	foreign := make([]float32, n)
	for i := range foreign {
		foreign[i] = float32(i%17) - 8
	}

	var raw []byte
	for b := 0; b < n/32; b++ {
		blk, ok := Encode(Q8_0, foreign[b*32:(b+1)*32])
		require.True(t, ok)
		raw = append(raw, blk...)
	}

	reraw, err := Requantize("x", Q8_0, raw, uint64(n), 64)
	require.NoError(t, err)

	scale := HalfToFloat(binary.LittleEndian.Uint16(reraw[0:2]))
	out, err := Decode("x", Q8_0, reraw, uint64(n))
	require.NoError(t, err)

	original, err := Decode("x", Q8_0, raw, uint64(n))
	require.NoError(t, err)

	for i := range original {
		diff := original[i] - out[i]
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, 2*scale, "index %d", i)
	}
}

func TestRequantize_RejectsUnsupportedKind(t *testing.T) {
	_, err := Requantize("x", Q4_1, make([]byte, 20), 32, 64)
	require.Error(t, err)
}

// Property 5 (partial, C2-local half): Q4_K/Q6_K never claim encode support,
// so the importer must preserve their raw bytes verbatim rather than
// round-tripping through this package — verified end-to-end in convert.
func TestQ4K_Q6K_NotEncodable(t *testing.T) {
	_, ok := Encode(Q4_K, make([]float32, 256))
	assert.False(t, ok)
	_, ok = Encode(Q6_K, make([]float32, 256))
	assert.False(t, ok)
}

func TestKind_StringAndTrait(t *testing.T) {
	assert.Equal(t, "Q4_0", Q4_0.String())
	assert.Equal(t, "Kind(999)", Kind(999).String())

	tr, ok := Q8_0.Trait()
	require.True(t, ok)
	assert.Equal(t, uint64(32), tr.BlockSize)
	assert.Equal(t, uint64(34), tr.BytesPerBlock)
	assert.True(t, tr.Decodable)

	assert.True(t, Q4_0.Decodable())
	assert.False(t, Q5_1.Decodable())
}

func TestKind_ByteSize(t *testing.T) {
	sz, err := Q4_0.ByteSize(32)
	require.NoError(t, err)
	assert.Equal(t, uint64(18), sz)

	sz, err = Q4_0.ByteSize(40)
	require.NoError(t, err)
	assert.Equal(t, uint64(36), sz) // 2 blocks
}
