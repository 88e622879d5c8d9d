// Package lexical implements the in-memory TF-IDF inverted index and its
// deterministic vector form used as the local embedding provider.
package lexical

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minTokenRunes is the shortest token kept after splitting.
const minTokenRunes = 3

// minStemRunes is the shortest stem a suffix rule may leave behind.
const minStemRunes = 3

// Tokenize lowercases text, replaces every non-alphanumeric rune with a space,
// splits on whitespace, drops short tokens and stems the rest.
func Tokenize(text string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)

	fields := strings.Fields(cleaned)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) < minTokenRunes {
			continue
		}
		tokens = append(tokens, Stem(f))
	}
	return tokens
}

type suffixRule struct {
	suffix      string
	replacement string
}

// Order matters: the first matching rule wins.
var suffixRules = []suffixRule{
	{"ing", ""},
	{"tion", "t"},
	{"ies", "y"},
	{"es", ""},
	{"s", ""},
}

// Stem applies a light suffix-stripping stemmer so plural and verb forms collapse.
// A rule only fires when the remaining stem keeps at least three runes;
// otherwise the next rule is tried.
func Stem(token string) string {
	for _, rule := range suffixRules {
		if !strings.HasSuffix(token, rule.suffix) {
			continue
		}
		if rule.suffix == "s" && strings.HasSuffix(token, "ss") {
			return token
		}
		stem := strings.TrimSuffix(token, rule.suffix)
		if utf8.RuneCountInString(stem) < minStemRunes {
			continue
		}
		return stem + rule.replacement
	}
	return token
}
