// Package expr rewrites multiple-choice pattern expressions.
//
// A pattern expression is a conjunction whose k-th conjunct constrains answer
// option k through the placeholder mcindex_k, for example
//
//	mcindex_0 && !mcindex_1 && mcindex_2
//
// When options are inserted, removed or swapped the conjuncts have to follow
// the options, and the placeholders inside the moved conjuncts have to be
// renumbered to the option's new position.
package expr

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	placeholderPrefix = "mcindex_"
	conjunction       = "&&"
)

var placeholderRe = regexp.MustCompile(`mcindex_(\d+)`)

// Placeholder returns the placeholder for option i
func Placeholder(i int) string {
	return placeholderPrefix + strconv.Itoa(i)
}

// HasPlaceholder reports whether s references any option placeholder
func HasPlaceholder(s string) bool {
	return placeholderRe.MatchString(s)
}

// Conjuncts splits s at top-level && operators. Parenthesised groups and
// quoted strings are kept intact. Whitespace around conjuncts is trimmed.
func Conjuncts(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var (
		parts []string
		depth int
		quote rune
		start int
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			depth--
		case depth == 0 && r == '&' && i+1 < len(runes) && runes[i+1] == '&':
			parts = append(parts, strings.TrimSpace(string(runes[start:i])))
			start = i + 2
			i++
		}
	}
	parts = append(parts, strings.TrimSpace(string(runes[start:])))
	return parts
}

// Join is the inverse of Conjuncts
func Join(conjuncts []string) string {
	return strings.Join(conjuncts, " "+conjunction+" ")
}

// renumber replaces placeholder index from with to inside one conjunct
func renumber(conjunct string, from, to int) string {
	return placeholderRe.ReplaceAllStringFunc(conjunct, func(m string) string {
		n, err := strconv.Atoi(m[len(placeholderPrefix):])
		if err != nil || n != from {
			return m
		}
		return Placeholder(to)
	})
}

// RemoveConjunct deletes the i-th conjunct and renumbers every later
// conjunct down by one. Expressions without placeholders, or with fewer than
// i+1 conjuncts, are returned unchanged.
func RemoveConjunct(s string, i int) string {
	if !HasPlaceholder(s) {
		return s
	}
	parts := Conjuncts(s)
	if i < 0 || i >= len(parts) {
		return s
	}
	out := make([]string, 0, len(parts)-1)
	out = append(out, parts[:i]...)
	for k := i + 1; k < len(parts); k++ {
		out = append(out, renumber(parts[k], k, k-1))
	}
	return Join(out)
}

// InsertConjunct inserts c at position i and renumbers every conjunct at or
// after i up by one.
func InsertConjunct(s string, i int, c string) string {
	if !HasPlaceholder(s) {
		return s
	}
	parts := Conjuncts(s)
	if i < 0 || i > len(parts) {
		return s
	}
	out := make([]string, 0, len(parts)+1)
	out = append(out, parts[:i]...)
	out = append(out, c)
	for k := i; k < len(parts); k++ {
		out = append(out, renumber(parts[k], k, k+1))
	}
	return Join(out)
}

// SwapConjuncts exchanges conjuncts i and j and renumbers only those two.
func SwapConjuncts(s string, i, j int) string {
	if i == j || !HasPlaceholder(s) {
		return s
	}
	parts := Conjuncts(s)
	if i < 0 || j < 0 || i >= len(parts) || j >= len(parts) {
		return s
	}
	pi, pj := parts[i], parts[j]
	parts[i] = renumber(pj, j, i)
	parts[j] = renumber(pi, i, j)
	return Join(parts)
}
