package quant

import "encoding/binary"

// Requantize implements the foreign-block(32) → private-block(privateBlockSize)
// re-quantization contract for Q8_0 and Q4_0 (spec.md §4.2): dequantize the
// source blocks using their native (foreign) scale, then re-quantize the
// resulting float buffer using the same quantization scheme but the private
// block size. Q4_1, Q5_0, Q4_K, Q6_K are never requantized; callers keep
// those as native block-form tensors.
//
// privateBlockSize must be a positive multiple that evenly divides n for the
// final block to stay full-size; a short trailing block is still handled
// (clamped to len(in) remainder), matching Decode/Encode's own behavior.
func Requantize(name string, k Kind, raw []byte, n uint64, privateBlockSize uint64) ([]byte, error) {
	if k != Q8_0 && k != Q4_0 {
		return nil, &UnsupportedKindError{Name: name, Kind: k}
	}
	if privateBlockSize == 0 {
		privateBlockSize = 64
	}

	floats, err := Decode(name, k, raw, n)
	if err != nil {
		return nil, err
	}

	switch k {
	case Q8_0:
		return requantizeQ8_0(floats, privateBlockSize), nil
	case Q4_0:
		return requantizeQ4_0(floats, privateBlockSize), nil
	}
	panic("unreachable")
}

func requantizeQ8_0(in []float32, bs uint64) []byte {
	bpb := 2 + bs
	nBlocks := (uint64(len(in)) + bs - 1) / bs
	out := make([]byte, nBlocks*bpb)

	for b := uint64(0); b < nBlocks; b++ {
		start := b * bs
		end := start + bs
		if end > uint64(len(in)) {
			end = uint64(len(in))
		}
		block := in[start:end]

		var amax float32
		for _, v := range block {
			if a := absf32(v); a > amax {
				amax = a
			}
		}
		scale := amax / 127
		inv := float32(0)
		if scale != 0 {
			inv = 1 / scale
		}

		off := b * bpb
		binary.LittleEndian.PutUint16(out[off:off+2], FloatToHalf(scale))
		qs := out[off+2 : off+bpb]
		for i := uint64(0); i < bs; i++ {
			var v float32
			if i < uint64(len(block)) {
				v = block[i]
			}
			qs[i] = byte(int8(roundf32(v * inv)))
		}
	}
	return out
}

func requantizeQ4_0(in []float32, bs uint64) []byte {
	bpb := 2 + (bs+1)/2
	nBlocks := (uint64(len(in)) + bs - 1) / bs
	out := make([]byte, nBlocks*bpb)

	for b := uint64(0); b < nBlocks; b++ {
		start := b * bs
		end := start + bs
		if end > uint64(len(in)) {
			end = uint64(len(in))
		}
		block := in[start:end]

		var amax float32
		for _, v := range block {
			if a := absf32(v); a > amax {
				amax = a
			}
		}
		scale := amax / 8
		inv := float32(0)
		if scale != 0 {
			inv = 1 / scale
		}

		off := b * bpb
		binary.LittleEndian.PutUint16(out[off:off+2], FloatToHalf(scale))
		qs := out[off+2 : off+bpb]
		for i := range qs {
			qs[i] = 0
		}
		for i := uint64(0); i < bs; i++ {
			var v float32
			if i < uint64(len(block)) {
				v = block[i]
			}
			q := clampInt(roundInt(v*inv)+8, 0, 15)
			setNibbleAt(qs, int(i), byte(q))
		}
	}
	return out
}
