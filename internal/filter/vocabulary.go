package filter

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Vocabulary is the set of offensive terms grouped by language tag. Terms may
// be single words or whitespace-separated phrases.
type Vocabulary struct {
	Languages map[string][]string `yaml:"languages"`
}

// Terms flattens all languages into one list, in stable order.
func (v *Vocabulary) Terms() []string {
	if v == nil {
		return nil
	}
	langs := make([]string, 0, len(v.Languages))
	for lang := range v.Languages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	var out []string
	for _, lang := range langs {
		out = append(out, v.Languages[lang]...)
	}
	return out
}

// LoadVocabulary decodes a YAML vocabulary document.
func LoadVocabulary(r io.Reader) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.NewDecoder(r).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode vocabulary: %w", err)
	}
	if len(v.Languages) == 0 {
		return nil, fmt.Errorf("vocabulary has no languages")
	}
	return &v, nil
}

// LoadVocabularyFile reads a vocabulary from path; an empty path yields the
// built-in default.
func LoadVocabularyFile(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return LoadVocabulary(f)
}

// DefaultVocabulary is the small built-in list used when no file is configured.
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{Languages: map[string][]string{
		"en": {"shit", "fuck", "bitch", "bastard", "asshole", "dickhead", "motherfucker"},
		"es": {"mierda", "puta", "cabrón", "gilipollas"},
		"fr": {"merde", "putain", "connard", "salope"},
		"de": {"scheiße", "arschloch", "wichser", "fotze"},
		"ru": {"блядь", "сука", "хуй", "пиздец"},
	}}
}
