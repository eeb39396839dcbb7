// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

package index

import (
	"sort"
	"strings"
	"unicode"
)

// Tokenize lowercases s and splits it on anything that is not a letter or
// a digit.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Terms returns the distinct tokens of a query in first-seen order.
func Terms(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range Tokenize(query) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// TermConfidence scores text against query terms in [0, 1]. Coverage of
// the query terms dominates; repeated terms add a saturating bonus.
func TermConfidence(terms []string, text string) float32 {
	if len(terms) == 0 {
		return 0
	}
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t] = 0
	}
	for _, tok := range Tokenize(text) {
		if _, ok := tf[tok]; ok {
			tf[tok]++
		}
	}

	var hit int
	var sat float64
	for _, n := range tf {
		if n == 0 {
			continue
		}
		hit++
		sat += float64(n) / float64(n+1)
	}
	if hit == 0 {
		return 0
	}
	coverage := float64(hit) / float64(len(terms))
	return float32(coverage * (0.5 + 0.5*sat/float64(hit)))
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "in": true, "into": true, "is": true, "it": true, "its": true,
	"not": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"their": true, "there": true, "these": true, "this": true, "to": true,
	"was": true, "were": true, "which": true, "will": true, "with": true,
}

// IsStopword reports whether tok is a common English function word.
func IsStopword(tok string) bool { return stopwords[tok] }

// SalientTerms returns up to n content words of text, most frequent first.
// Ties keep first-seen order. Single characters and stopwords are skipped.
func SalientTerms(text string, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, tok := range Tokenize(text) {
		if len([]rune(tok)) < 2 || stopwords[tok] {
			continue
		}
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if n > 0 && len(order) > n {
		order = order[:n]
	}
	return order
}
