package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallmind-ai/smallmind-core/gguf"
)

func arrKV(key string, vt gguf.MetadataValueType, vals []string) gguf.MetadataKV {
	return gguf.MetadataKV{
		Key:       key,
		ValueType: gguf.MetadataValueTypeArray,
		Value: gguf.ArrayValue{
			Type:  vt,
			Len:   uint64(len(vals)),
			Array: toAnySlice(vals),
		},
	}
}

func toAnySlice(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func strKV(key, val string) gguf.MetadataKV {
	return gguf.MetadataKV{Key: key, ValueType: gguf.MetadataValueTypeString, Value: val}
}

func i64KV(key string, val int64) gguf.MetadataKV {
	return gguf.MetadataKV{Key: key, ValueType: gguf.MetadataValueTypeInt64, Value: val}
}

func TestFromGGUF_LlamaVocabAndMerges(t *testing.T) {
	mkv := gguf.MetadataKVs{
		strKV("tokenizer.ggml.model", "llama"),
		arrKV("tokenizer.ggml.tokens", gguf.MetadataValueTypeString,
			[]string{"<s>", "</s>", "<unk>", "he", "ll", "o", "hello"}),
		arrKV("tokenizer.ggml.merges", gguf.MetadataValueTypeString,
			[]string{"he ll", "hell o"}),
		i64KV("tokenizer.ggml.bos_token_id", 0),
		i64KV("tokenizer.ggml.eos_token_id", 1),
		i64KV("tokenizer.ggml.unknown_token_id", 2),
	}

	tok, err := FromGGUF(mkv)
	require.NoError(t, err)
	assert.Equal(t, int32(0), tok.BOSID())
	assert.Equal(t, int32(1), tok.EOSID())
	assert.Equal(t, int32(2), tok.UnkID())
	assert.False(t, tok.byteLevel)

	s, err := tok.DecodeSingle(6)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestFromGGUF_UnsupportedModel(t *testing.T) {
	mkv := gguf.MetadataKVs{strKV("tokenizer.ggml.model", "sentencepiece")}
	_, err := FromGGUF(mkv)
	require.Error(t, err)
	var nt *NoTokenizerError
	require.ErrorAs(t, err, &nt)
}

func TestFromGGUF_NoModelKey(t *testing.T) {
	_, err := FromGGUF(gguf.MetadataKVs{})
	require.Error(t, err)
	var nt *NoTokenizerError
	require.ErrorAs(t, err, &nt)
}

func TestFromGGUF_SpecialIDFallbackSearch(t *testing.T) {
	mkv := gguf.MetadataKVs{
		strKV("tokenizer.ggml.model", "llama"),
		arrKV("tokenizer.ggml.tokens", gguf.MetadataValueTypeString,
			[]string{"<s>", "</s>", "<unk>", "a"}),
	}

	tok, err := FromGGUF(mkv)
	require.NoError(t, err)
	assert.Equal(t, int32(0), tok.BOSID())
	assert.Equal(t, int32(1), tok.EOSID())
	assert.Equal(t, int32(2), tok.UnkID())
	assert.Equal(t, noID, tok.PadID())
}

func TestFromGGUF_ByteLevelHeuristicDetectsGPT2Vocab(t *testing.T) {
	tokens := []string{"<|endoftext|>"}
	for i := 0; i < 20; i++ {
		tokens = append(tokens, "Ġtoken"+string(rune('a'+i)))
	}

	mkv := gguf.MetadataKVs{
		strKV("tokenizer.ggml.model", "gpt2"),
		arrKV("tokenizer.ggml.tokens", gguf.MetadataValueTypeString, tokens),
	}

	tok, err := FromGGUF(mkv)
	require.NoError(t, err)
	assert.True(t, tok.byteLevel)
}

func TestFromGGUF_ByteLevelOverride(t *testing.T) {
	mkv := gguf.MetadataKVs{
		strKV("tokenizer.ggml.model", "llama"),
		arrKV("tokenizer.ggml.tokens", gguf.MetadataValueTypeString, []string{"a", "b"}),
	}

	tok, err := FromGGUF(mkv, WithByteLevel(true))
	require.NoError(t, err)
	assert.True(t, tok.byteLevel)
}
