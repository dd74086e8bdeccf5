package quant

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FormatError reports a structural violation found while decoding a block,
// matching the byte-length mismatch case in spec.md §4.2 and §7.
type FormatError struct {
	Op       string
	Name     string
	Expected uint64
	Actual   uint64
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("quant: %s %q: size mismatch, expected %d bytes, got %d", e.Op, e.Name, e.Expected, e.Actual)
}

// UnsupportedKindError is raised when the import path is asked to decode a
// Kind that isn't in the decodable set.
type UnsupportedKindError struct {
	Name string
	Kind Kind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("quant: tensor %q: unsupported kind %v", e.Name, e.Kind)
}

// UnalignedElementCountError is raised when a K-quant tensor's element count
// isn't a whole number of super-blocks (spec.md §3: element_count % 256 == 0
// for Q4_K/Q6_K, validated before decode rather than sizing/decoding a
// partial trailing super-block).
type UnalignedElementCountError struct {
	Name         string
	Kind         Kind
	ElementCount uint64
	BlockSize    uint64
}

func (e *UnalignedElementCountError) Error() string {
	return fmt.Sprintf("quant: tensor %q: %v element count %d is not a multiple of block size %d",
		e.Name, e.Kind, e.ElementCount, e.BlockSize)
}

// blockCodec is the per-Kind decode/encode contract C2 dispatches against.
// Narrowing to this interface (rather than a type switch at every call
// site) mirrors the teacher's table-driven GGMLTypeTrait dispatch idiom.
type blockCodec interface {
	kind() Kind
	blockSize() uint64
	bytesPerBlock() uint64
	// decode reads exactly bytesPerBlock() bytes from block and writes
	// blockSize() floats to out (out may be shorter for a trailing
	// partial block; only the first len(out) values are written).
	decode(block []byte, out []float32)
	// encode writes bytesPerBlock() bytes to out from in (in may be
	// shorter than blockSize() for a trailing partial block; unused
	// elements are treated as zero). encode returns false for codecs
	// that don't support encoding.
	encode(in []float32, out []byte) bool
}

// codecFor returns the blockCodec for a decodable Kind, or nil.
func codecFor(k Kind) blockCodec {
	switch k {
	case F32:
		return f32Codec{}
	case F16:
		return f16Codec{}
	case Q4_0:
		return q4_0Codec{}
	case Q4_1:
		return q4_1Codec{}
	case Q5_0:
		return q5_0Codec{}
	case Q8_0:
		return q8_0Codec{}
	case Q4_K:
		return q4_kCodec{}
	case Q6_K:
		return q6_kCodec{}
	default:
		return nil
	}
}

// Decode decodes n elements of the given Kind from raw, a tensor's full raw
// byte payload, into a freshly allocated []float32 of length n.
//
// Decode validates raw's length against the declared element count before
// touching a single byte (spec.md §4.2, §7 FormatError).
func Decode(name string, k Kind, raw []byte, n uint64) ([]float32, error) {
	c := codecFor(k)
	if c == nil {
		return nil, &UnsupportedKindError{Name: name, Kind: k}
	}

	// K-quants are whole super-blocks only: spec.md §3 requires
	// element_count % 256 == 0 and mandates validating this before decode,
	// rather than sizing/decoding a partial trailing super-block.
	if (k == Q4_K || k == Q6_K) && n%c.blockSize() != 0 {
		return nil, &UnalignedElementCountError{Name: name, Kind: k, ElementCount: n, BlockSize: c.blockSize()}
	}

	want, err := k.ByteSize(n)
	if err != nil {
		return nil, err
	}
	if uint64(len(raw)) != want {
		return nil, &FormatError{Op: "decode", Name: name, Expected: want, Actual: uint64(len(raw))}
	}

	bs, bpb := c.blockSize(), c.bytesPerBlock()
	out := make([]float32, n)
	var done uint64
	for off := uint64(0); done < n; off += bpb {
		remain := n - done
		take := bs
		if remain < bs {
			take = remain
		}
		c.decode(raw[off:off+bpb], out[done:done+take])
		done += take
	}
	return out, nil
}

// Encode encodes the float buffer in into raw bytes of the given Kind. Not
// every Kind supports encoding: F32, F16, Q4_0, Q4_1, Q5_0 and Q8_0 encode;
// Q4_K, Q6_K and the recognized-only kinds return false.
func Encode(k Kind, in []float32) ([]byte, bool) {
	c := codecFor(k)
	if c == nil {
		return nil, false
	}

	bs, bpb := c.blockSize(), c.bytesPerBlock()
	n := uint64(len(in))
	blocks, _ := k.BlockCount(n)
	out := make([]byte, blocks*bpb)

	var done uint64
	for off := uint64(0); done < n; off += bpb {
		remain := n - done
		take := bs
		if remain < bs {
			take = remain
		}
		if !c.encode(in[done:done+take], out[off:off+bpb]) {
			return nil, false
		}
		done += take
	}
	return out, true
}

// --- F32 ---

type f32Codec struct{}

func (f32Codec) kind() Kind             { return F32 }
func (f32Codec) blockSize() uint64      { return 1 }
func (f32Codec) bytesPerBlock() uint64  { return 4 }

func (f32Codec) decode(block []byte, out []float32) {
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(block[i*4:]))
	}
}

func (f32Codec) encode(in []float32, out []byte) bool {
	for i, v := range in {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return true
}

// --- F16 ---

type f16Codec struct{}

func (f16Codec) kind() Kind            { return F16 }
func (f16Codec) blockSize() uint64     { return 1 }
func (f16Codec) bytesPerBlock() uint64 { return 2 }

func (f16Codec) decode(block []byte, out []float32) {
	for i := range out {
		out[i] = HalfToFloat(binary.LittleEndian.Uint16(block[i*2:]))
	}
}

func (f16Codec) encode(in []float32, out []byte) bool {
	for i, v := range in {
		binary.LittleEndian.PutUint16(out[i*2:], FloatToHalf(v))
	}
	return true
}

// --- Q8_0: fp16 scale; 32x i8 ---

type q8_0Codec struct{}

func (q8_0Codec) kind() Kind            { return Q8_0 }
func (q8_0Codec) blockSize() uint64     { return 32 }
func (q8_0Codec) bytesPerBlock() uint64 { return 34 }

func (q8_0Codec) decode(block []byte, out []float32) {
	scale := HalfToFloat(binary.LittleEndian.Uint16(block[0:2]))
	qs := block[2:34]
	for i := range out {
		out[i] = float32(int8(qs[i])) * scale
	}
}

func (q8_0Codec) encode(in []float32, out []byte) bool {
	var amax float32
	for _, v := range in {
		if a := absf32(v); a > amax {
			amax = a
		}
	}
	scale := amax / 127
	inv := float32(0)
	if scale != 0 {
		inv = 1 / scale
	}
	binary.LittleEndian.PutUint16(out[0:2], FloatToHalf(scale))
	qs := out[2:34]
	for i := 0; i < 32; i++ {
		var v float32
		if i < len(in) {
			v = in[i]
		}
		qs[i] = byte(int8(roundf32(v * inv)))
	}
	return true
}

// --- Q4_0: fp16 scale; 16 bytes of 32 unsigned nibbles, low-nibble-first ---

type q4_0Codec struct{}

func (q4_0Codec) kind() Kind            { return Q4_0 }
func (q4_0Codec) blockSize() uint64     { return 32 }
func (q4_0Codec) bytesPerBlock() uint64 { return 18 }

func (q4_0Codec) decode(block []byte, out []float32) {
	scale := HalfToFloat(binary.LittleEndian.Uint16(block[0:2]))
	qs := block[2:18]
	for i := range out {
		nibble := nibbleAt(qs, i)
		out[i] = float32(int32(nibble)-8) * scale
	}
}

func (q4_0Codec) encode(in []float32, out []byte) bool {
	var amax float32
	for _, v := range in {
		if a := absf32(v); a > amax {
			amax = a
		}
	}
	scale := amax / 8
	inv := float32(0)
	if scale != 0 {
		inv = 1 / scale
	}
	binary.LittleEndian.PutUint16(out[0:2], FloatToHalf(scale))
	qs := out[2:18]
	for i := range qs {
		qs[i] = 0
	}
	for i := 0; i < 32; i++ {
		var v float32
		if i < len(in) {
			v = in[i]
		}
		q := clampInt(roundInt(v*inv)+8, 0, 15)
		setNibbleAt(qs, i, byte(q))
	}
	return true
}

// --- Q4_1: fp16 scale; fp16 min; 16 bytes unsigned nibbles low-first ---

type q4_1Codec struct{}

func (q4_1Codec) kind() Kind            { return Q4_1 }
func (q4_1Codec) blockSize() uint64     { return 32 }
func (q4_1Codec) bytesPerBlock() uint64 { return 20 }

func (q4_1Codec) decode(block []byte, out []float32) {
	scale := HalfToFloat(binary.LittleEndian.Uint16(block[0:2]))
	min := HalfToFloat(binary.LittleEndian.Uint16(block[2:4]))
	qs := block[4:20]
	for i := range out {
		nibble := nibbleAt(qs, i)
		out[i] = float32(nibble)*scale + min
	}
}

func (q4_1Codec) encode(in []float32, out []byte) bool {
	min, max := minMaxf32(in)
	scale := (max - min) / 15
	inv := float32(0)
	if scale != 0 {
		inv = 1 / scale
	}
	binary.LittleEndian.PutUint16(out[0:2], FloatToHalf(scale))
	binary.LittleEndian.PutUint16(out[2:4], FloatToHalf(min))
	qs := out[4:20]
	for i := range qs {
		qs[i] = 0
	}
	for i := 0; i < 32; i++ {
		var v float32
		if i < len(in) {
			v = in[i]
		}
		q := clampInt(roundInt((v-min)*inv), 0, 15)
		setNibbleAt(qs, i, byte(q))
	}
	return true
}

// --- Q5_0: fp16 scale; 4 bytes of high-bits; 16 bytes of low nibbles ---

type q5_0Codec struct{}

func (q5_0Codec) kind() Kind            { return Q5_0 }
func (q5_0Codec) blockSize() uint64     { return 32 }
func (q5_0Codec) bytesPerBlock() uint64 { return 22 }

func (q5_0Codec) decode(block []byte, out []float32) {
	scale := HalfToFloat(binary.LittleEndian.Uint16(block[0:2]))
	highBits := binary.LittleEndian.Uint32(block[2:6])
	qs := block[6:22]
	for i := range out {
		nibble := nibbleAt(qs, i)
		high := (highBits >> uint(i)) & 1
		val := int32(high<<4) | int32(nibble)
		out[i] = float32(val-16) * scale
	}
}

func (q5_0Codec) encode(in []float32, out []byte) bool {
	var amax float32
	for _, v := range in {
		if a := absf32(v); a > amax {
			amax = a
		}
	}
	scale := amax / 16
	inv := float32(0)
	if scale != 0 {
		inv = 1 / scale
	}
	binary.LittleEndian.PutUint16(out[0:2], FloatToHalf(scale))
	qs := out[6:22]
	for i := range qs {
		qs[i] = 0
	}
	var highBits uint32
	for i := 0; i < 32; i++ {
		var v float32
		if i < len(in) {
			v = in[i]
		}
		q := clampInt(roundInt(v*inv)+16, 0, 31)
		setNibbleAt(qs, i, byte(q&0xF))
		if q&0x10 != 0 {
			highBits |= 1 << uint(i)
		}
	}
	binary.LittleEndian.PutUint32(out[2:6], highBits)
	return true
}

// --- Q4_K: super-block of 256, 8 sub-blocks of 32 with 6-bit scales ---
//
// Layout (144 bytes): fp16 d, fp16 dmin, 12 bytes of eight packed 6-bit
// scale/min pairs, 128 bytes of 256 unsigned nibbles.
//
// Decoding follows the published K-quant formula (spec.md §4.2); the
// 6-bit scale/min packing below matches llama.cpp's get_scale_min_k4.

type q4_kCodec struct{}

func (q4_kCodec) kind() Kind            { return Q4_K }
func (q4_kCodec) blockSize() uint64     { return 256 }
func (q4_kCodec) bytesPerBlock() uint64 { return 144 }

func (q4_kCodec) decode(block []byte, out []float32) {
	d := HalfToFloat(binary.LittleEndian.Uint16(block[0:2]))
	dmin := HalfToFloat(binary.LittleEndian.Uint16(block[2:4]))
	scales := block[4:16]
	qs := block[16:144]

	for sub := 0; sub < 8; sub++ {
		sc, m := getScaleMinK4(sub, scales)
		scale := d * float32(sc)
		minv := dmin * float32(m)

		base := sub * 32
		if base >= len(out) {
			break
		}
		n := 32
		if base+n > len(out) {
			n = len(out) - base
		}
		// Each byte of qs holds two elements of the same sub-block pair
		// (low nibble for sub-block 2k, high nibble for sub-block 2k+1),
		// 32 bytes shared between consecutive even/odd sub-block pairs.
		half := sub / 2
		qsOff := half * 32
		isHigh := sub%2 == 1
		for i := 0; i < n; i++ {
			b := qs[qsOff+i]
			var nib byte
			if isHigh {
				nib = b >> 4
			} else {
				nib = b & 0xF
			}
			out[base+i] = float32(nib)*scale - minv
		}
	}
}

func (q4_kCodec) encode([]float32, []byte) bool { return false }

// getScaleMinK4 unpacks the 6-bit scale and min for sub-block j from the
// 12-byte packed scales array, matching llama.cpp's get_scale_min_k4.
func getScaleMinK4(j int, scales []byte) (sc, m uint8) {
	if j < 4 {
		sc = scales[j] & 63
		m = scales[j+4] & 63
		return
	}
	sc = (scales[j+4] & 0xF) | ((scales[j-4] >> 6) << 4)
	m = (scales[j+4] >> 4) | ((scales[j] >> 6) << 4)
	return
}

// --- Q6_K: super-block of 256 ---
//
// Layout (210 bytes): 128 bytes low 4 bits, 64 bytes high 2 bits (4 per
// byte), 16 bytes of i8 per-sub-block scales, fp16 super-scale d.

type q6_kCodec struct{}

func (q6_kCodec) kind() Kind            { return Q6_K }
func (q6_kCodec) blockSize() uint64     { return 256 }
func (q6_kCodec) bytesPerBlock() uint64 { return 210 }

func (q6_kCodec) decode(block []byte, out []float32) {
	ql := block[0:128]
	qh := block[128:192]
	scales := block[192:208]
	d := HalfToFloat(binary.LittleEndian.Uint16(block[208:210]))

	// Two 128-element halves, each split into four 32-element groups; every
	// 16 elements of a group (one sub-block) have their own scale.
	for half := 0; half < 2; half++ {
		qlOff := half * 64
		qhOff := half * 32
		scOff := half * 8
		outOff := half * 128
		for l := 0; l < 32; l++ {
			is := l / 16
			q1 := int32(ql[qlOff+l]&0xF) | (int32((qh[qhOff+l]>>0)&3) << 4)
			q2 := int32(ql[qlOff+l+32]&0xF) | (int32((qh[qhOff+l]>>2)&3) << 4)
			q3 := int32(ql[qlOff+l]>>4) | (int32((qh[qhOff+l]>>4)&3) << 4)
			q4 := int32(ql[qlOff+l+32]>>4) | (int32((qh[qhOff+l]>>6)&3) << 4)

			writeQ6K(out, outOff+l, d, scales[scOff+is+0], q1-32)
			writeQ6K(out, outOff+l+32, d, scales[scOff+is+2], q2-32)
			writeQ6K(out, outOff+l+64, d, scales[scOff+is+4], q3-32)
			writeQ6K(out, outOff+l+96, d, scales[scOff+is+6], q4-32)
		}
	}
}

func writeQ6K(out []float32, idx int, d float32, scaleByte byte, q int32) {
	if idx >= len(out) {
		return
	}
	out[idx] = d * float32(int8(scaleByte)) * float32(q)
}

func (q6_kCodec) encode([]float32, []byte) bool { return false }

// --- shared bit-twiddling helpers ---

func nibbleAt(b []byte, i int) byte {
	by := b[i/2]
	if i%2 == 0 {
		return by & 0xF
	}
	return by >> 4
}

func setNibbleAt(b []byte, i int, v byte) {
	v &= 0xF
	if i%2 == 0 {
		b[i/2] = (b[i/2] &^ 0x0F) | v
	} else {
		b[i/2] = (b[i/2] &^ 0xF0) | (v << 4)
	}
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func minMaxf32(in []float32) (min, max float32) {
	if len(in) == 0 {
		return 0, 0
	}
	min, max = in[0], in[0]
	for _, v := range in[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return
}

func roundf32(v float32) float32 {
	return float32(math.Round(float64(v)))
}

func roundInt(v float32) int {
	return int(math.Round(float64(v)))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
