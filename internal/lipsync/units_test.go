package lipsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "question",
			text: "Do you think this is ok?",
			want: []string{"o", "u", "i", "i", "i", "o"},
		},
		{
			name: "clause pause",
			text: "Hello, world",
			want: []string{"e", "o", "sil", "o"},
		},
		{
			name: "silent final e",
			text: "make",
			want: []string{"a"},
		},
		{
			name: "vowel digraph",
			text: "moon",
			want: []string{"u"},
		},
		{
			name: "no vowels",
			text: "hmm",
			want: []string{"a"},
		},
		{
			name: "consonant digraph chunk",
			text: "shh",
			want: []string{"ch"},
		},
		{
			name: "digits",
			text: "42",
			want: []string{"num", "num"},
		},
		{
			name: "accented",
			text: "café",
			want: []string{"a", "e"},
		},
		{
			name: "trailing punctuation adds nothing",
			text: "Yes!!!",
			want: []string{"e"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Labels(Extract(tt.text)))
		})
	}
}

func TestExtractEmpty(t *testing.T) {
	assert.Empty(t, Extract(""))
	assert.Empty(t, Extract("   \t\n"))
}

func TestExtractNonEmptyAndDeterministic(t *testing.T) {
	inputs := []string{
		"Hello! I'm your AR avatar assistant.",
		"Welcome to the world of augmented reality!",
		"Face tracking technology is amazing!",
		"?!",
		"x",
		"Привет мир",
		"1 2 3",
	}

	for _, text := range inputs {
		first := Extract(text)
		require.NotEmpty(t, first, "text %q", text)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, Extract(text), "text %q", text)
		}
	}
}

func TestExtractMinimumLength(t *testing.T) {
	assert.GreaterOrEqual(t, len(Extract("Do you think this is ok?")), 4)
}
