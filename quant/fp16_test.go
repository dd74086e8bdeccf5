package quant

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1 — Fp16 edge cases.
func TestHalfToFloat_EdgeCases(t *testing.T) {
	cases := []struct {
		name string
		bits uint16
		want float32
	}{
		{"positive zero", 0x0000, 0},
		{"negative zero", 0x8000, float32(math.Copysign(0, -1))},
		{"smallest subnormal", 0x0001, float32(1.0 / (1 << 24))},
		{"largest normal", 0x7BFF, 65504},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := HalfToFloat(c.bits)
			if math.Signbit(float64(c.want)) {
				assert.True(t, math.Signbit(float64(got)))
				assert.Zero(t, got)
				return
			}
			assert.Equal(t, c.want, got)
		})
	}
}

func TestHalfToFloat_Infinities(t *testing.T) {
	assert.True(t, math.IsInf(float64(HalfToFloat(0x7C00)), 1))
	assert.True(t, math.IsInf(float64(HalfToFloat(0xFC00)), -1))
}

func TestHalfToFloat_NaNPreservesMantissa(t *testing.T) {
	got := HalfToFloat(0x7E00)
	require.True(t, math.IsNaN(float64(got)))
	assert.Equal(t, uint32(0x200)<<13, math.Float32bits(got)&0x7FFFFF)
}

func TestFp16_RoundTripAllBits(t *testing.T) {
	for bits := 0; bits <= 0xFFFF; bits++ {
		f := HalfToFloat(uint16(bits))
		if math.IsNaN(float64(f)) {
			continue
		}
		back := FloatToHalf(f)
		got := HalfToFloat(back)
		if math.IsInf(float64(f), 0) {
			assert.Equal(t, f, got)
			continue
		}
		assert.Equal(t, f, got, "bits=0x%04x", bits)
	}
}
