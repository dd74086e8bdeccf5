package gguf

// Metadata is a curated view over File.Header.MetadataKV, exposing the
// general-purpose keys every consumer (converters, tokenizer extraction,
// model cache registration) needs without re-walking the raw KV list.
// Adapted from the teacher's GGUFMetadata (file_metadata.go), trimmed to
// the allowlisted keys: this subsystem does not attempt diffusion-model
// detection, CLIP/projector classification, or file-type majority voting.
type Metadata struct {
	Type                string `json:"type"`
	Architecture        string `json:"architecture"`
	QuantizationVersion uint32 `json:"quantizationVersion,omitempty"`
	Alignment           uint32 `json:"alignment"`
	Name                string `json:"name,omitempty"`
	Author              string `json:"author,omitempty"`
	URL                 string `json:"url,omitempty"`
	Description         string `json:"description,omitempty"`
	License             string `json:"license,omitempty"`

	// FileType is the raw general.file_type value as written by the
	// producer, if present. Unlike the teacher, this view never infers it
	// from a majority vote over tensor kinds.
	FileType    uint32 `json:"fileType"`
	HasFileType bool   `json:"-"`

	LittleEndian  bool                `json:"littleEndian"`
	FileSize      BytesScalar         `json:"fileSize"`
	Size          BytesScalar         `json:"size"`
	Parameters    ParametersScalar    `json:"parameters"`
	BitsPerWeight BitsPerWeightScalar `json:"bitsPerWeight"`
}

// Metadata extracts the curated general.* view of f.
func (f *File) Metadata(fileSize int64) Metadata {
	const generalType = "general.type"

	m := Metadata{
		Type:         "model",
		Alignment:    f.Alignment,
		LittleEndian: f.Header.Magic == MagicGGUFLe,
		FileSize:     BytesScalar(fileSize),
		Size:         f.Size,
		Parameters:   f.Parameters,
		BitsPerWeight: f.BitsPerWeight,
	}

	kvs, _ := f.Header.MetadataKV.Index([]string{
		generalType,
		"general.architecture",
		"general.quantization_version",
		"general.alignment",
		"general.name",
		"general.author",
		"general.url",
		"general.description",
		"general.license",
		"general.file_type",
	})

	if v, ok := kvs[generalType]; ok {
		m.Type = v.ValueString()
	}
	if v, ok := kvs["general.architecture"]; ok {
		m.Architecture = v.ValueString()
	}
	if v, ok := kvs["general.quantization_version"]; ok {
		m.QuantizationVersion = ValueNumeric[uint32](v)
	}
	if v, ok := kvs["general.name"]; ok {
		m.Name = v.ValueString()
	}
	if v, ok := kvs["general.author"]; ok {
		m.Author = v.ValueString()
	}
	if v, ok := kvs["general.url"]; ok {
		m.URL = v.ValueString()
	}
	if v, ok := kvs["general.description"]; ok {
		m.Description = v.ValueString()
	}
	if v, ok := kvs["general.license"]; ok {
		m.License = v.ValueString()
	}
	if v, ok := kvs["general.file_type"]; ok {
		m.FileType = ValueNumeric[uint32](v)
		m.HasFileType = true
	}

	return m
}
