package filter

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFilter() *Filter {
	return New(&Vocabulary{Languages: map[string][]string{
		"en": {"darn", "heck", "very bad"},
		"de": {"scheiße"},
		"ru": {"сука"},
	}})
}

func ptr(f float64) *float64 { return &f }

func TestRedact(t *testing.T) {
	f := testFilter()
	cases := []struct{ in, want string }{
		{"well darn it", "well **** it"},
		{"DARN! Heck.", "****! ****."},
		{"darning is fine", "darning is fine"},
		{"predarn", "predarn"},
		{"this is very   bad", "this is **********"},
		{"very, bad", "very, bad"},
		{"Das ist SCHEISSE", "Das ist ********"},
		{"ты сука", "ты ****"},
		{"", ""},
		{"nothing here", "nothing here"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, f.Redact(tc.in), tc.in)
	}
}

func TestRedact_PreservesRuneLength(t *testing.T) {
	f := testFilter()
	in := "Scheiße und сука"
	out := f.Redact(in)
	assert.Equal(t, len([]rune(in)), len([]rune(out)))
	assert.Equal(t, "******* und ****", out)
}

func TestRedact_FixedPoint(t *testing.T) {
	f := testFilter()
	inputs := []string{
		"darn darn heck",
		"very darn bad",
		"very bad heck very bad",
		"***",
		"d*rn",
		strings.Repeat("heck ", 50),
	}
	for _, in := range inputs {
		once := f.Redact(in)
		assert.Equal(t, once, f.Redact(once), in)
	}
}

func TestDecideImage(t *testing.T) {
	f := testFilter()
	cases := []struct {
		name string
		img  ImageInput
		want bool
	}{
		{"empty", ImageInput{}, false},
		{"clean alt no score", ImageInput{Alt: "a cat"}, false},
		{"offensive alt", ImageInput{Alt: "what the heck"}, true},
		{"score below", ImageInput{Score: ptr(0.29)}, false},
		{"score at threshold", ImageInput{Score: ptr(0.3)}, true},
		{"score above clean alt", ImageInput{Alt: "a cat", Score: ptr(0.9)}, true},
		{"nan score", ImageInput{Score: ptr(math.NaN())}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := f.DecideImage(tc.img)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got, f.DecideImage(tc.img), "decision must be stable")
		})
	}
}

func TestWithBlurThreshold(t *testing.T) {
	f := New(nil, WithBlurThreshold(0.8))
	assert.False(t, f.DecideImage(ImageInput{Score: ptr(0.5)}))
	assert.True(t, f.DecideImage(ImageInput{Score: ptr(0.8)}))
	assert.Equal(t, "anything goes", f.Redact("anything goes"))
}

func TestLoadVocabulary(t *testing.T) {
	doc := `
languages:
  en: [darn, "very bad"]
  es: [caramba]
`
	v, err := LoadVocabulary(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"darn", "very bad", "caramba"}, v.Terms())

	_, err = LoadVocabulary(strings.NewReader("languages: {}"))
	assert.Error(t, err)
}

func TestDefaultVocabulary(t *testing.T) {
	f := New(DefaultVocabulary())
	assert.True(t, f.Contains("Merde alors"))
	assert.False(t, f.Contains("hello world"))
}
