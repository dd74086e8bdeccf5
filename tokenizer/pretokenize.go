package tokenizer

import "regexp"

// plainPreTokenPattern splits text into word runs, individual punctuation
// marks, and whitespace runs, per spec.md §4.6 "plain BPE pre-tokenizer".
// It is Unicode-aware: a word character is any Unicode letter, mark or
// number, or an underscore (Go's \w alone is ASCII-only, so the classes are
// spelled out). Each other non-whitespace character is its own pre-token.
var plainPreTokenPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+|[^\p{L}\p{M}\p{N}_\s]|\s+`)

// gpt2PreTokenPattern is the GPT-2 byte-level pre-tokenizer regex: English
// contractions, then runs of letters/numbers (each run optionally preceded
// by one space so the space merges into the token, mirroring the reference
// tokenizer), then punctuation runs, then whitespace runs. The reference
// implementation's trailing `\s+(?!\S)` negative lookahead has no RE2
// equivalent (Go's regexp package is lookahead-free); this pattern folds
// that case into the plain `\s+` alternative. As a result a run of two or
// more spaces before a word stays one whitespace pre-token, and the word
// does not take the run's last space as it does in the reference tokenizer
// ("a   b" splits as "a", "   ", "b").
var gpt2PreTokenPattern = regexp.MustCompile(
	`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)

// preTokenize splits text into pre-tokens using the plain or byte-level
// splitter, per the tokenizer's mode (spec.md §4.6).
func (t *Tokenizer) preTokenize(text string) []string {
	if t.byteLevel {
		return gpt2PreTokenPattern.FindAllString(text, -1)
	}
	return plainPreTokenPattern.FindAllString(text, -1)
}
