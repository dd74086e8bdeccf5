package quant

import "github.com/x448/float16"

// HalfToFloat converts an IEEE-754 binary16 bit pattern to binary32,
// round-preserving, total over all 65536 inputs (spec.md §4.1): zero,
// subnormals, normals, and Inf/NaN (mantissa preserved).
//
// Backed by github.com/x448/float16, the one library in the pack whose
// entire purpose is this conversion — see gitgoblin0426-ollama's
// convert/convert.go, which imports the same package for its GGUF/safetensors
// importer.
func HalfToFloat(bits uint16) float32 {
	return float16.Frombits(bits).Float32()
}

// FloatToHalf converts a binary32 value to its nearest binary16 bit pattern.
func FloatToHalf(f float32) uint16 {
	return uint16(float16.Fromfloat32(f))
}
