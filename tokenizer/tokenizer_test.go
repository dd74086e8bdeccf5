package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeDecode_HelloScenario is spec.md scenario S4: a tiny vocab and
// merge list where "hello" merges down to the tokens for "hell" and "o".
func TestEncodeDecode_HelloScenario(t *testing.T) {
	vocab := map[string]int32{
		"h": 0, "e": 1, "l": 2, "o": 3, "he": 4, "ll": 5, "hell": 6,
	}
	merges := []string{"h e", "l l", "he ll"}

	tok := New(vocab, merges, false)

	ids, err := tok.Encode("hello")
	require.NoError(t, err)
	assert.Equal(t, []int32{6, 3}, ids)

	text, err := tok.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

// TestEncode_Deterministic is property 6: encoding is a pure function of
// input text for a fixed vocab/merge table.
func TestEncode_Deterministic(t *testing.T) {
	vocab := map[string]int32{
		"h": 0, "e": 1, "l": 2, "o": 3, "he": 4, "ll": 5, "hell": 6, " ": 7,
	}
	merges := []string{"h e", "l l", "he ll"}
	tok := New(vocab, merges, false)

	first, err := tok.Encode("hello hello")
	require.NoError(t, err)
	second, err := tok.Encode("hello hello")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestEncode_UnknownTokenFallsBackToUnk covers the plain-BPE missing-symbol
// rule (spec.md §4.6): a symbol outside the vocab resolves to the unk id
// when one is configured.
func TestEncode_UnknownTokenFallsBackToUnk(t *testing.T) {
	vocab := map[string]int32{"a": 0, "<unk>": 1}
	tok := New(vocab, nil, false)
	tok.SetSpecialIDs(noID, noID, 1, noID)

	ids, err := tok.Encode("z")
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, ids)
}

// TestEncode_UnknownTokenErrorsWithoutUnk covers the same rule when no unk
// id is configured.
func TestEncode_UnknownTokenErrorsWithoutUnk(t *testing.T) {
	vocab := map[string]int32{"a": 0}
	tok := New(vocab, nil, false)

	_, err := tok.Encode("z")
	require.Error(t, err)
	var ut *UnknownToken
	require.ErrorAs(t, err, &ut)
}

// TestEncode_BOSPrepend covers spec.md's BOS rule: prepend bos id if
// add_bos is set, a bos id is configured, and the sequence doesn't already
// start with it.
func TestEncode_BOSPrepend(t *testing.T) {
	vocab := map[string]int32{"a": 0, "<s>": 1}
	tok := New(vocab, nil, false)
	tok.SetSpecialIDs(1, noID, noID, noID)
	tok.SetAddBOS(true)

	ids, err := tok.Encode("a")
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 0}, ids)

	text, err := tok.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "a", text)
}
