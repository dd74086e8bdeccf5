package tokenizer

import (
	"strconv"
	"strings"

	"github.com/smallmind-ai/smallmind-core/gguf"
	"github.com/smallmind-ai/smallmind-core/internal/util/anyx"
)

// supportedModels is the set of tokenizer.ggml.model values this
// extractor supports; anything else means the GGUF file carries no usable
// tokenizer (spec.md §4.7 step 1).
var supportedModels = map[string]bool{"gpt2": true, "llama": true}

// bosCandidates, eosCandidates, unkCandidates, padCandidates are the
// fallback literal-string searches used when a GGUF file omits the
// explicit tokenizer.ggml.*_token_id keys (spec.md §4.7 step 3), mirroring
// the teacher's file_tokenizer.go field set (BOSTokenID, EOSTokenID,
// UnknownTokenID, PaddingTokenID, all -1 by default).
var (
	bosCandidates = []string{"<s>", "<|startoftext|>", "<bos>"}
	eosCandidates = []string{"</s>", "<|endoftext|>", "<eos>", "<|im_end|>"}
	unkCandidates = []string{"<unk>", "[UNK]"}
	padCandidates = []string{"<pad>", "[PAD]"}
)

// byteLevelSampleSize is how many leading vocab entries the heuristic in
// detectByteLevel examines (spec.md §4.7 step 5).
const byteLevelSampleSize = 1000

// byteLevelEarlyExitCount and byteLevelFinalThreshold are the detection
// heuristic's thresholds (spec.md §4.7 step 5): an early, confident exit
// at 10 matches, or, failing that, a looser threshold of 5 over the full
// sample.
const (
	byteLevelEarlyExitCount = 10
	byteLevelFinalThreshold = 5
)

// NoTokenizerError reports that a GGUF file has no tokenizer.ggml.model
// key, or an unsupported one (spec.md §4.7 step 1).
type NoTokenizerError struct {
	Model string
}

func (e *NoTokenizerError) Error() string {
	if e.Model == "" {
		return "tokenizer: no tokenizer.ggml.model key present"
	}
	return "tokenizer: unsupported tokenizer.ggml.model " + strconv.Quote(e.Model)
}

// ExtractOption configures FromGGUF, following the teacher's
// functional-options pattern (file_option.go).
type ExtractOption func(*extractOptions)

type extractOptions struct {
	forceByteLevel    *bool
	forceByteLevelSet bool
}

// WithByteLevel overrides the byte-level detection heuristic, per spec.md
// §4.7's requirement that the heuristic be overridable.
func WithByteLevel(v bool) ExtractOption {
	return func(o *extractOptions) {
		o.forceByteLevel = &v
		o.forceByteLevelSet = true
	}
}

// FromGGUF builds a Tokenizer from a parsed GGUF file's metadata bag,
// grounded on the teacher's GGUFFile.Tokenizer() (file_tokenizer.go): the
// same tokenizer.ggml.* keys, the same -1-for-absent convention for
// special ids, generalized per spec.md §4.7 into a full vocab/merge/
// special-id extraction plus byte-level-mode detection.
func FromGGUF(mkv gguf.MetadataKVs, opts ...ExtractOption) (*Tokenizer, error) {
	var o extractOptions
	for _, opt := range opts {
		opt(&o)
	}

	modelKV, ok := mkv.Get("tokenizer.ggml.model")
	if !ok {
		return nil, &NoTokenizerError{}
	}
	model := modelKV.ValueString()
	if !supportedModels[model] {
		return nil, &NoTokenizerError{Model: model}
	}

	tokensKV, ok := mkv.Get("tokenizer.ggml.tokens")
	if !ok {
		return nil, &NoTokenizerError{Model: model}
	}
	tokens := tokensKV.ValueArray().ValuesString()

	vocab := make(map[string]int32, len(tokens))
	inverseVocab := make([]string, len(tokens))
	for id, tok := range tokens {
		vocab[tok] = int32(id)
		inverseVocab[id] = tok
	}

	var merges map[pair]int
	if mergesKV, ok := mkv.Get("tokenizer.ggml.merges"); ok {
		lines := mergesKV.ValueArray().ValuesString()
		merges = make(map[pair]int, len(lines))
		rank := 0
		for _, line := range lines {
			parts := strings.SplitN(line, " ", 2)
			if len(parts) != 2 {
				continue
			}
			merges[pair{parts[0], parts[1]}] = rank
			rank++
		}
	} else {
		merges = map[pair]int{}
	}

	byteLevel := model == "gpt2"
	if o.forceByteLevelSet {
		byteLevel = *o.forceByteLevel
	} else {
		byteLevel = detectByteLevel(tokens)
	}

	t := &Tokenizer{
		vocab:        vocab,
		inverseVocab: inverseVocab,
		merges:       merges,
		byteLevel:    byteLevel,
		bosID:        noID, eosID: noID, unkID: noID, padID: noID,
	}

	t.bosID = specialID(mkv, "tokenizer.ggml.bos_token_id", vocab, bosCandidates)
	t.eosID = specialID(mkv, "tokenizer.ggml.eos_token_id", vocab, eosCandidates)
	t.unkID = specialID(mkv, "tokenizer.ggml.unknown_token_id", vocab, unkCandidates)
	t.padID = specialID(mkv, "tokenizer.ggml.padding_token_id", vocab, padCandidates)

	if v, ok := mkv.Get("tokenizer.ggml.add_bos_token"); ok {
		// add_bos_token is typically a bool-typed KV, but coerce leniently
		// via anyx.Bool rather than assume the tag, since GGUF writers vary.
		t.addBOS = anyx.Bool(v.Value)
	} else {
		t.addBOS = t.bosID != noID
	}

	return t, nil
}

// specialID reads an explicit numeric-typed *_token_id key (matching the
// teacher's file_tokenizer.go ValueNumeric[int64] usage); if absent, it
// falls back to a candidate-string search of the vocabulary (spec.md §4.7
// step 3).
func specialID(mkv gguf.MetadataKVs, key string, vocab map[string]int32, candidates []string) int32 {
	if v, ok := mkv.Get(key); ok {
		return int32(gguf.ValueNumeric[int64](v))
	}
	for _, c := range candidates {
		if id, ok := vocab[c]; ok {
			return id
		}
	}
	return noID
}

// detectByteLevel applies spec.md §4.7 step 5's heuristic: sample the
// first byteLevelSampleSize vocab entries and count how many are
// GPT-2-style byte-level tokens (either a literal 'Ġ' space-marker prefix,
// or containing a remapped byte-level scalar in U+0100..U+01FF). More than
// byteLevelEarlyExitCount matches is treated as conclusive immediately;
// otherwise the full sample must still clear byteLevelFinalThreshold.
func detectByteLevel(tokens []string) bool {
	n := len(tokens)
	if n > byteLevelSampleSize {
		n = byteLevelSampleSize
	}

	matches := 0
	for i := 0; i < n; i++ {
		if isByteLevelToken(tokens[i]) {
			matches++
			if matches > byteLevelEarlyExitCount {
				return true
			}
		}
	}
	return matches > byteLevelFinalThreshold
}

func isByteLevelToken(tok string) bool {
	if strings.HasPrefix(tok, "Ġ") {
		return true
	}
	for _, r := range tok {
		if r >= 0x100 && r <= 0x1FF {
			return true
		}
	}
	return false
}
