package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestByteLevelMapping_IsTotalAndReversible is property 7: every byte value
// maps to a character and back to the same byte.
func TestByteLevelMapping_IsTotalAndReversible(t *testing.T) {
	for b := 0; b < 256; b++ {
		r := byteToChar[b]
		back, ok := charToByte[r]
		require.True(t, ok, "byte %d has no inverse", b)
		assert.Equal(t, byte(b), back)
	}
	assert.Len(t, charToByte, 256)
}

// TestBytesToSymbols_RoundTrip is spec.md scenario S5: a string mixing
// multi-byte UTF-8 and an emoji round-trips through the byte-level mapping
// with every original byte recovered.
func TestBytesToSymbols_RoundTrip(t *testing.T) {
	input := "héllo 🌍"
	symbols := bytesToSymbols([]byte(input))

	var joined string
	for _, s := range symbols {
		joined += s
	}

	recovered, ok := symbolsToBytes(joined)
	require.True(t, ok)
	assert.Equal(t, []byte(input), recovered)
}

// TestByteLevelTokenizer_EncodeDecodeRoundTrip exercises the full
// byte-level Encode/Decode path against every byte value, building a vocab
// that covers every single-byte symbol so no merges are needed.
func TestByteLevelTokenizer_EncodeDecodeRoundTrip(t *testing.T) {
	vocab := make(map[string]int32, 256)
	for b := 0; b < 256; b++ {
		vocab[string(byteToChar[b])] = int32(b)
	}

	tok := New(vocab, nil, true)

	input := "héllo 🌍"
	ids, err := tok.Encode(input)
	require.NoError(t, err)

	text, err := tok.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, input, text)
}
