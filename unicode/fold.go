// Package unicode provides the case-folding, diacritic-stripping and
// code-point classification primitives shared by the splitter and query
// translator (spec §2, "Unicode utilities").
package unicode

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/smasher164/xid"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// removeDiacritics strips combining marks (Mn) after NFD decomposition,
// then re-composes. This is the "unac" step used by indexing and query
// folding alike.
var removeDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold case-folds s using Unicode simple case folding. Fold is idempotent:
// Fold(Fold(x)) == Fold(x), exercised in fold_test.go per spec §8.
func Fold(s string) string {
	return foldCaser.String(s)
}

// Unac strips diacritics (accents, combining marks) from s, leaving the
// base letters. Unac is idempotent for the same reason Fold is: once
// combining marks are removed there are none left to remove again.
func Unac(s string) (string, error) {
	out, _, err := transform.String(removeDiacritics, s)
	if err != nil {
		return s, err
	}
	return out, nil
}

// FoldAndUnac applies both transforms, the combination used whenever an
// index was created with o_index_stripchars in effect (spec §3).
func FoldAndUnac(s string) string {
	out, err := Unac(Fold(s))
	if err != nil {
		return Fold(s)
	}
	return out
}

// HasNonInitialUppercase reports whether s contains any uppercase letter after its
// first rune. Used by the query translator's case-sensitivity
// autodetection: "any non-initial uppercase letter turns the search
// case-sensitive" (spec §4.8).
func HasNonInitialUppercase(s string) bool {
	first := true
	for _, r := range s {
		if first {
			first = false
			continue
		}
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// HasDiacritic reports whether s changes under Unac, i.e. it carries at
// least one combining mark.
func HasDiacritic(s string) bool {
	out, err := Unac(s)
	if err != nil {
		return false
	}
	return out != s
}

// Class enumerates the code-point classes the text splitter dispatches on
// (spec §4.1).
type Class int

const (
	ClassSkip Class = iota
	ClassLetter
	ClassDigit
	ClassSpace
	ClassWild
	ClassAsciiUpper
	ClassAsciiLower
	ClassPunct
)

// ClassifyRune classifies r for the text splitter's state machine.
// keepWild selects TXTS_KEEPWILD behavior: '*', '?' and '[' / ']' are
// classified as letters so a query span survives intact for wildcard
// expansion instead of being split into several spans.
func ClassifyRune(r rune, keepWild bool) Class {
	switch {
	case keepWild && (r == '*' || r == '?' || r == '[' || r == ']'):
		return ClassWild
	case r >= '0' && r <= '9':
		return ClassDigit
	case r >= 'A' && r <= 'Z':
		return ClassAsciiUpper
	case r >= 'a' && r <= 'z':
		return ClassAsciiLower
	case unicode.IsSpace(r):
		return ClassSpace
	case xid.Start(r) || xid.Continue(r):
		// xid's identifier-class tables are a convenient, already-imported
		// approximation of "is this a word-forming letter in some script".
		return ClassLetter
	case unicode.IsDigit(r):
		return ClassDigit
	case r == utf8.RuneError:
		return ClassSkip
	default:
		return ClassPunct
	}
}

// IsCJK reports whether r belongs to a script the general splitter hands
// off to the external/CJK splitter (spec §4.1 "Script switches").
func IsCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// TrimControl replaces the control/line-breaking characters the data
// record's key=value format cannot carry (spec §6) with spaces.
func TrimControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\f', '\\':
			return ' '
		}
		return r
	}, s)
}
