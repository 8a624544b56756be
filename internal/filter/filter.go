// Package filter redacts offensive words and decides whether images should be
// blurred. All functions are pure: output depends only on the arguments and the
// vocabulary the Filter was built with.
package filter

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// DefaultBlurThreshold is the classifier score at or above which an image is blurred.
const DefaultBlurThreshold = 0.3

// Mask replaces each redacted rune.
const Mask = '*'

// ImageInput describes an image by its stored attributes, never by its current
// rendering. Score is the optional external classifier result in [0,1].
type ImageInput struct {
	Alt   string
	Score *float64
}

// Filter matches a vocabulary case-insensitively on word boundaries.
type Filter struct {
	phrases   [][]string // folded words, longest phrase first
	threshold float64
}

// Option configures a Filter.
type Option func(*Filter)

// WithBlurThreshold overrides DefaultBlurThreshold.
func WithBlurThreshold(th float64) Option {
	return func(f *Filter) {
		if th > 0 && th <= 1 {
			f.threshold = th
		}
	}
}

// New builds a Filter from vocab. A nil vocabulary matches nothing.
func New(vocab *Vocabulary, opts ...Option) *Filter {
	f := &Filter{threshold: DefaultBlurThreshold}
	seen := make(map[string]bool)
	for _, term := range vocab.Terms() {
		words := foldWords(term)
		if len(words) == 0 {
			continue
		}
		key := strings.Join(words, " ")
		if seen[key] {
			continue
		}
		seen[key] = true
		f.phrases = append(f.phrases, words)
	}
	sort.SliceStable(f.phrases, func(i, j int) bool { return len(f.phrases[i]) > len(f.phrases[j]) })
	for _, o := range opts {
		o(f)
	}
	return f
}

// Redact replaces every vocabulary match in text with a run of Mask of the same
// rune length. Masked runs are not word characters, so Redact(Redact(x)) == Redact(x).
func (f *Filter) Redact(text string) string {
	runes := []rune(text)
	spans := f.matches(runes)
	if len(spans) == 0 {
		return text
	}
	for _, sp := range spans {
		for i := sp.start; i < sp.end; i++ {
			runes[i] = Mask
		}
	}
	return string(runes)
}

// Contains reports whether text holds at least one vocabulary match.
func (f *Filter) Contains(text string) bool {
	return len(f.matches([]rune(text))) > 0
}

// DecideImage returns true when the alt text matches the vocabulary or the
// classifier score reaches the blur threshold. Missing inputs never blur.
func (f *Filter) DecideImage(img ImageInput) bool {
	if img.Alt != "" && f.Contains(img.Alt) {
		return true
	}
	if img.Score == nil || math.IsNaN(*img.Score) {
		return false
	}
	return *img.Score >= f.threshold
}

// Threshold returns the configured blur threshold.
func (f *Filter) Threshold() float64 { return f.threshold }

type word struct {
	start, end int // rune offsets into the original text
	folded     string
}

type span struct{ start, end int }

func (f *Filter) matches(runes []rune) []span {
	if len(f.phrases) == 0 || len(runes) == 0 {
		return nil
	}
	words := tokenize(runes)
	var out []span
	for i := 0; i < len(words); {
		n := f.matchAt(runes, words, i)
		if n == 0 {
			i++
			continue
		}
		out = append(out, span{start: words[i].start, end: words[i+n-1].end})
		i += n
	}
	return out
}

// matchAt returns the number of words covered by the longest phrase starting at
// words[i], or 0. Phrase words must be separated by whitespace only.
func (f *Filter) matchAt(runes []rune, words []word, i int) int {
	for _, ph := range f.phrases {
		if i+len(ph) > len(words) {
			continue
		}
		ok := true
		for k, w := range ph {
			if words[i+k].folded != w {
				ok = false
				break
			}
			if k > 0 && !onlySpace(runes[words[i+k-1].end:words[i+k].start]) {
				ok = false
				break
			}
		}
		if ok {
			return len(ph)
		}
	}
	return 0
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func onlySpace(rs []rune) bool {
	for _, r := range rs {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func tokenize(runes []rune) []word {
	folder := cases.Fold()
	var out []word
	start := -1
	for i := 0; i <= len(runes); i++ {
		if i < len(runes) && isWordRune(runes[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, word{start: start, end: i, folded: folder.String(string(runes[start:i]))})
			start = -1
		}
	}
	return out
}

func foldWords(term string) []string {
	ws := tokenize([]rune(term))
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.folded
	}
	return out
}
