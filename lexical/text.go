package lexical

import (
	"strings"
	"unicode"
)

// Stop words carry no ranking signal and are dropped from queries and fields.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "or": true, "what": true, "how": true, "i": true,
	"my": true, "me": true, "can": true, "about": true, "our": true, "we": true,
}

// Tokenize splits text into lowercase words on anything that is not a letter
// or digit, and removes stop words.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	filtered := words[:0]
	for _, w := range words {
		if !stopWords[w] {
			filtered = append(filtered, w)
		}
	}
	return filtered
}

// Terms returns the distinct tokens of text in first-seen order.
func Terms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range Tokenize(text) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

// Coverage returns the fraction of terms that occur as words in text.
// It is 0 when terms is empty.
func Coverage(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	words := make(map[string]bool)
	for _, w := range Tokenize(text) {
		words[w] = true
	}
	found := 0
	for _, t := range terms {
		if words[t] {
			found++
		}
	}
	return float64(found) / float64(len(terms))
}
