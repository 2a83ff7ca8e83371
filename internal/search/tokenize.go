package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// stopwords is the fixed set of English function words excluded from the
// index and from queries.
var stopwords = map[string]struct{}{}

func init() {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for",
		"to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was",
		"were", "be", "been", "being", "it", "its", "this", "that", "these",
		"those", "from", "up", "down", "over", "under", "again", "further",
		"than", "so", "such", "into", "about", "between", "through", "during",
		"before", "after", "above", "below", "out", "off", "own", "same",
		"too", "very", "can", "will", "just", "do", "does", "did", "not",
		"no", "nor", "has", "have", "had", "he", "she", "they", "them", "we",
		"you", "your", "i", "me", "my", "what", "which", "who", "whom",
		"when", "where", "why", "how", "all", "any", "both", "each", "few",
		"more", "most", "other", "some", "only", "their", "there", "here",
		"also", "should", "now",
	}
	for _, w := range words {
		stopwords[w] = struct{}{}
	}
}

// Tokenize lowercases and Unicode-normalizes text, replaces every
// non-alphanumeric rune with a space, splits on whitespace, and drops
// single-character tokens and stopwords.
func Tokenize(text string) []string {
	folded := norm.NFKC.String(strings.ToLower(text))
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)

	fields := strings.Fields(mapped)
	tokens := make([]string, 0, len(fields))
	for _, tok := range fields {
		if len([]rune(tok)) <= 1 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// dedupeTerms keeps the first occurrence of each term, preserving order.
func dedupeTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// CleanText normalizes passage text before indexing and snippet extraction:
// quote-block markers are stripped, runs of spaces and tabs collapse to one
// space, and runs of three or more blank lines collapse to two.
func CleanText(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	blankRun := 0
	for _, line := range lines {
		for strings.HasPrefix(line, ">") {
			line = strings.TrimPrefix(line, ">")
			line = strings.TrimPrefix(line, " ")
		}
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blankRun++
			if blankRun > 2 {
				continue
			}
		} else {
			blankRun = 0
		}
		cleaned = append(cleaned, line)
	}
	return strings.TrimSpace(strings.Join(cleaned, "\n"))
}
