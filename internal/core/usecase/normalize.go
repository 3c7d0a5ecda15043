package usecase

import (
	"strings"
	"unicode"
)

// Account-holder names on broker paperwork arrive with honorifics, suffixes,
// middle initials and "Surname, Given" ordering. Matching is a normalization
// problem before it is a fuzzy one: two renderings of the same person must
// collapse to one key.

var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "mx": true,
	"dr": true, "prof": true, "professor": true, "sir": true, "dame": true,
	"lord": true, "lady": true,
}

var nameSuffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true,
	"esq": true, "esquire": true, "phd": true, "md": true,
	"cfa": true, "cpa": true,
}

// NormalizeName produces the comparison key for a human name: "Surname,
// Given" is reordered, titles and suffixes are stripped, interior
// single-letter initials are dropped, and the rest is lowercased with
// collapsed whitespace. A leading initial is preserved ("J Smith" keeps its
// "j"), so an initial-only rendering never collides with the full given name.
func NormalizeName(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	// "Smith, John A." -> "John A. Smith". Only the first comma is structural;
	// anything after a second comma is usually a suffix and handled below.
	if idx := strings.Index(s, ","); idx >= 0 {
		surname := s[:idx]
		rest := strings.ReplaceAll(s[idx+1:], ",", " ")
		s = rest + " " + surname
	}

	s = strings.ToLower(s)
	// Apostrophes join rather than split: "o'brien" and "obrien" must share a
	// key, and neither may shed its "o" to the initial-dropping rule below.
	s = strings.NewReplacer("'", "", "’", "").Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)

	tokens := strings.Fields(s)
	for len(tokens) > 0 && honorifics[tokens[0]] {
		tokens = tokens[1:]
	}
	// Comma inversion moves "Smith, John, Jr." suffixes into the interior, so
	// suffix tokens are dropped wherever they sit.
	filtered := tokens[:0]
	for _, tok := range tokens {
		if nameSuffixes[tok] {
			continue
		}
		filtered = append(filtered, tok)
	}
	tokens = filtered
	if len(tokens) == 0 {
		return ""
	}

	// Drop single-letter interior tokens: "john a smith" and "john smith"
	// share a key, while the leading "j" of "j smith" survives.
	kept := tokens[:1]
	for i := 1; i < len(tokens); i++ {
		if i < len(tokens)-1 && len([]rune(tokens[i])) == 1 {
			continue
		}
		kept = append(kept, tokens[i])
	}
	return strings.Join(kept, " ")
}

// splitNameKey breaks a normalized key into given tokens and the family name
// (last token). Empty family means the key had a single token.
func splitNameKey(key string) (given []string, family string) {
	tokens := strings.Fields(key)
	if len(tokens) < 2 {
		return nil, ""
	}
	return tokens[:len(tokens)-1], tokens[len(tokens)-1]
}

// leadingInitial returns the single-rune leading token of a normalized key
// when the key is an initial-plus-surname form ("b smith" -> 'b'), or 0.
func leadingInitial(key string) rune {
	given, family := splitNameKey(key)
	if family == "" || len(given) != 1 {
		return 0
	}
	runes := []rune(given[0])
	if len(runes) != 1 {
		return 0
	}
	return runes[0]
}
