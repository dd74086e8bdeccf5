package gguf

// Architecture is a curated view over the `<arch>.*` metadata keys,
// adapted from the teacher's GGUFArchitectureMetadata (file_architecture.go)
// and trimmed to the fields the importer allowlist and tokenizer extractor
// actually consume: this subsystem does not model ALiBi, KQV clamping, RoPE
// scaling, or state-space-model (Mamba/SSM) parameters.
type Architecture struct {
	Architecture string `json:"architecture"`

	ContextLength     uint64 `json:"contextLength,omitempty"`
	EmbeddingLength   uint64 `json:"embeddingLength,omitempty"`
	BlockCount        uint64 `json:"blockCount,omitempty"`
	FeedForwardLength uint64 `json:"feedForwardLength,omitempty"`

	AttentionHeadCount    uint64  `json:"attentionHeadCount,omitempty"`
	AttentionHeadCountKV  uint64  `json:"attentionHeadCountKV,omitempty"`
	AttentionRMSEpsilon   float32 `json:"attentionRMSEpsilon,omitempty"`
	RoPEDimensionCount    uint64  `json:"ropeDimensionCount,omitempty"`
	RoPEFrequencyBase     float32 `json:"ropeFrequencyBase,omitempty"`

	VocabularyLength uint64 `json:"vocabularyLength,omitempty"`
}

// Architecture extracts the curated `<arch>.*` view of f. Defaults arch to
// "llama" when general.architecture is absent, matching the teacher.
func (f *File) Architecture() Architecture {
	arch := "llama"
	if v, ok := f.Header.MetadataKV.Get("general.architecture"); ok {
		arch = v.ValueString()
	}

	var a Architecture
	a.Architecture = arch

	contextLengthKey := arch + ".context_length"
	embeddingLengthKey := arch + ".embedding_length"
	blockCountKey := arch + ".block_count"
	feedForwardLengthKey := arch + ".feed_forward_length"
	attentionHeadCountKey := arch + ".attention.head_count"
	attentionHeadCountKVKey := arch + ".attention.head_count_kv"
	attentionRMSEpsilonKey := arch + ".attention.layer_norm_rms_epsilon"
	ropeDimensionCountKey := arch + ".rope.dimension_count"
	ropeFrequencyBaseKey := arch + ".rope.freq_base"
	vocabularyLengthKey := arch + ".vocab_size"

	m, _ := f.Header.MetadataKV.Index([]string{
		contextLengthKey,
		embeddingLengthKey,
		blockCountKey,
		feedForwardLengthKey,
		attentionHeadCountKey,
		attentionHeadCountKVKey,
		attentionRMSEpsilonKey,
		ropeDimensionCountKey,
		ropeFrequencyBaseKey,
		vocabularyLengthKey,
	})

	if v, ok := m[contextLengthKey]; ok {
		a.ContextLength = ValueNumeric[uint64](v)
	}
	if v, ok := m[embeddingLengthKey]; ok {
		a.EmbeddingLength = ValueNumeric[uint64](v)
	}
	if v, ok := m[blockCountKey]; ok {
		a.BlockCount = ValueNumeric[uint64](v)
	}
	if v, ok := m[feedForwardLengthKey]; ok {
		a.FeedForwardLength = ValueNumeric[uint64](v)
	}
	if v, ok := m[attentionHeadCountKey]; ok {
		a.AttentionHeadCount = ValueNumeric[uint64](v)
	}
	if v, ok := m[attentionHeadCountKVKey]; ok {
		a.AttentionHeadCountKV = ValueNumeric[uint64](v)
	} else {
		a.AttentionHeadCountKV = a.AttentionHeadCount
	}
	if v, ok := m[attentionRMSEpsilonKey]; ok {
		a.AttentionRMSEpsilon = ValueNumeric[float32](v)
	}
	if v, ok := m[ropeDimensionCountKey]; ok {
		a.RoPEDimensionCount = ValueNumeric[uint64](v)
	}
	if v, ok := m[ropeFrequencyBaseKey]; ok {
		a.RoPEFrequencyBase = ValueNumeric[float32](v)
	}
	if v, ok := m[vocabularyLengthKey]; ok {
		a.VocabularyLength = ValueNumeric[uint64](v)
	}

	return a
}
