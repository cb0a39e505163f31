// Package lipsync turns text into articulation timelines for mouth animation.
// Text is split into syllable-like units, the spoken duration is estimated from a
// speaking rate, and the units are spread across that duration as open/hold/close
// events whose intensity comes from an articulation table.
package lipsync

import (
	"strings"
	"unicode"
)

// Unit labels produced by Extract besides the vowel and consonant classes.
const (
	LabelSilence = "sil" // pause between clauses
	LabelNumber  = "num" // one digit
	LabelUnknown = "x"   // letters with no known articulation class
)

// Unit is one articulatory chunk of text, roughly a syllable.
type Unit struct {
	Label string
}

// consonantChunk is the group size used for words without any vowel.
const consonantChunk = 3

// vowelDigraphs folds common two-letter nuclei to the vowel they sound like.
var vowelDigraphs = map[string]string{
	"oo": "u", "ou": "u", "ue": "u", "ew": "u",
	"ee": "i", "ea": "i", "ie": "i", "ey": "i",
	"ai": "e", "ay": "e", "ei": "e",
	"oa": "o", "oe": "o", "au": "o", "aw": "o",
}

var accentedVowels = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ä': 'a', 'ã': 'a', 'å': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'ö': 'o', 'õ': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
}

type token struct {
	word  []rune
	pause bool
}

// Extract splits text into syllable-like units in reading order. Each word is cut at
// its vowel clusters and every cluster becomes one unit labelled by the vowel it
// sounds like. Words without vowels are grouped into short consonant chunks. Clause
// punctuation between words adds a silence unit. The result is deterministic.
func Extract(text string) []Unit {
	tokens := tokenize(text)
	units := make([]Unit, 0, len(tokens)*2)

	pendingPause := false
	for _, tok := range tokens {
		if tok.pause {
			pendingPause = len(units) > 0
			continue
		}
		if pendingPause {
			units = append(units, Unit{Label: LabelSilence})
			pendingPause = false
		}
		units = append(units, wordUnits(tok.word)...)
	}

	if len(units) == 0 && strings.TrimSpace(text) != "" {
		// punctuation only: keep the mouth closed for the utterance
		units = append(units, Unit{Label: LabelSilence})
	}
	return units
}

func tokenize(text string) []token {
	var tokens []token
	var cur []rune

	flush := func() {
		if len(cur) > 0 {
			tokens = append(tokens, token{word: cur})
			cur = nil
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur = append(cur, unicode.ToLower(r))
		case r == '\'' || r == '’':
			// "don't" stays one word
		default:
			flush()
			if isPause(r) {
				tokens = append(tokens, token{pause: true})
			}
		}
	}
	flush()
	return tokens
}

func isPause(r rune) bool {
	switch r {
	case '.', ',', ';', ':', '!', '?', '…':
		return true
	}
	return false
}

// wordUnits handles mixed words by splitting them into letter and digit runs.
func wordUnits(word []rune) []Unit {
	var units []Unit
	start := 0
	for start < len(word) {
		digits := unicode.IsDigit(word[start])
		end := start
		for end < len(word) && unicode.IsDigit(word[end]) == digits {
			end++
		}
		if digits {
			for i := start; i < end; i++ {
				units = append(units, Unit{Label: LabelNumber})
			}
		} else {
			units = append(units, syllables(word[start:end])...)
		}
		start = end
	}
	return units
}

func syllables(letters []rune) []Unit {
	clusters := vowelClusters(letters)
	if len(clusters) == 0 {
		return consonantChunks(letters)
	}

	// silent final e: "make", "ride"
	if n := len(clusters); n > 1 {
		last := clusters[n-1]
		if last[1]-last[0] == 1 && last[1] == len(letters) && letters[last[0]] == 'e' {
			clusters = clusters[:n-1]
		}
	}

	units := make([]Unit, 0, len(clusters))
	for _, c := range clusters {
		units = append(units, Unit{Label: nucleusLabel(letters[c[0]:c[1]])})
	}
	return units
}

// vowelClusters returns [start, end) ranges of consecutive vowels.
func vowelClusters(letters []rune) [][2]int {
	var clusters [][2]int
	i := 0
	for i < len(letters) {
		if !isVowelAt(letters, i) {
			i++
			continue
		}
		start := i
		for i < len(letters) && isVowelAt(letters, i) {
			i++
		}
		clusters = append(clusters, [2]int{start, i})
	}
	return clusters
}

func isVowelAt(letters []rune, i int) bool {
	r := letters[i]
	if r == 'y' {
		return i > 0
	}
	switch foldVowel(r) {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func foldVowel(r rune) rune {
	if v, ok := accentedVowels[r]; ok {
		return v
	}
	return r
}

func nucleusLabel(cluster []rune) string {
	if len(cluster) >= 2 {
		pair := string([]rune{foldVowel(cluster[0]), foldVowel(cluster[1])})
		if v, ok := vowelDigraphs[pair]; ok {
			return v
		}
	}
	first := foldVowel(cluster[0])
	if first == 'y' {
		return "i"
	}
	return string(first)
}

func consonantChunks(letters []rune) []Unit {
	units := make([]Unit, 0, len(letters)/consonantChunk+1)
	for i := 0; i < len(letters); i += consonantChunk {
		var next rune
		if i+1 < len(letters) {
			next = letters[i+1]
		}
		units = append(units, Unit{Label: consonantClass(letters[i], next)})
	}
	return units
}

func consonantClass(r, next rune) string {
	switch {
	case r == 't' && next == 'h':
		return "th"
	case (r == 'c' || r == 's') && next == 'h':
		return "ch"
	}

	switch r {
	case 'p', 'b', 'm':
		return "p"
	case 'f', 'v':
		return "f"
	case 's', 'z':
		return "s"
	case 't', 'd':
		return "d"
	case 'k', 'g', 'c', 'q', 'x':
		return "k"
	case 'n', 'l':
		return "n"
	case 'r':
		return "r"
	case 'j':
		return "ch"
	case 'w':
		return "u"
	case 'h':
		return "a"
	}
	return LabelUnknown
}

// Labels returns the unit labels in order, mostly for logging.
func Labels(units []Unit) []string {
	labels := make([]string, len(units))
	for i, u := range units {
		labels[i] = u.Label
	}
	return labels
}
