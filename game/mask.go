package game

import (
	"math"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maskRune = '_'

// MaskWord hides the letters of word that observers should not see yet.
// Letters are revealed as the round elapses, vowels first, then consonants,
// each group left to right, and never more than 60% of them. Anything that
// is not a letter stays visible. Server placeholders such as "*hidden*" are
// returned unchanged.
func MaskWord(word string, total, remaining time.Duration) string {
	if isPlaceholder(word) {
		return word
	}

	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	chars := []rune(word)
	var vowels, consonants []int
	for i, r := range chars {
		if !unicode.IsLetter(r) {
			continue
		}
		if isVowel(fold, r) {
			vowels = append(vowels, i)
		} else {
			consonants = append(consonants, i)
		}
	}

	letters := len(vowels) + len(consonants)
	maxReveal := letters * 6 / 10
	reveal := int(math.Floor(elapsedFraction(total, remaining) * float64(maxReveal+1)))
	if reveal > maxReveal {
		reveal = maxReveal
	}

	shown := make(map[int]struct{}, reveal)
	for _, i := range append(vowels, consonants...)[:reveal] {
		shown[i] = struct{}{}
	}

	var b strings.Builder
	for i, r := range chars {
		if _, ok := shown[i]; ok || !unicode.IsLetter(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteRune(maskRune)
	}
	return b.String()
}

func elapsedFraction(total, remaining time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	f := float64(total-remaining) / float64(total)
	return math.Max(0, math.Min(1, f))
}

func isPlaceholder(word string) bool {
	return len(word) >= 2 && strings.HasPrefix(word, "*") && strings.HasSuffix(word, "*")
}

func isVowel(fold transform.Transformer, r rune) bool {
	folded, _, err := transform.String(fold, string(unicode.ToLower(r)))
	if err != nil {
		return false
	}
	return strings.ContainsAny(folded, "aeiou")
}
