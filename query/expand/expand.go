// Package expand implements translate.Expander against a live
// store.Store: wildcard expansion walks the store's term dictionary
// (store.TermPrefixLister), stemming is a small built-in suffix-
// stripping heuristic, and synonyms come from a static, config-supplied
// table.
package expand

import (
	"context"
	"regexp"
	"strings"

	"github.com/tmc/rclindex/query/translate"
	"github.com/tmc/rclindex/store"
)

// StoreExpander is the production translate.Expander: it answers
// wildcard/stem/synonym/frequency queries against a live index.
type StoreExpander struct {
	Store    store.Store
	Synonyms map[string][]string // term -> synonyms, loaded from config
}

func New(st store.Store, synonyms map[string][]string) *StoreExpander {
	return &StoreExpander{Store: st, Synonyms: synonyms}
}

var _ translate.Expander = (*StoreExpander)(nil)

// ExpandWildcard matches pattern (with *, ?, [...] glob syntax) against
// every term sharing its longest wildcard-free prefix, fetched from the
// store's dictionary if it implements store.TermPrefixLister; stores
// that can't enumerate terms report no matches rather than erroring,
// since a personal index's main lookup path (PostlistBegin on an exact
// term) still works without this.
func (e *StoreExpander) ExpandWildcard(ctx context.Context, pattern string) ([]string, error) {
	lister, ok := e.Store.(store.TermPrefixLister)
	if !ok {
		return nil, nil
	}
	prefix := literalPrefix(pattern)
	candidates, err := lister.ListTermsWithPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, term := range candidates {
		if re.MatchString(term) {
			out = append(out, term)
		}
	}
	return out, nil
}

// literalPrefix returns the portion of a glob pattern before its first
// wildcard metacharacter, the prefix a dictionary scan can narrow on.
func literalPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.', '+', '(', ')', '|', '^', '$', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}

// suffixRules is an English-only, order-sensitive suffix-stripping
// stemmer: crude next to a real Porter/Snowball implementation, but
// enough to fold "runs" onto "run" for personal-index recall without a
// third-party stemming dependency. It does not undo consonant doubling:
// "running" loses its "ing" and becomes "runn".
var suffixRules = []struct {
	suffix      string
	replacement string
	minStem     int
}{
	{"ies", "y", 2},
	{"sses", "ss", 3},
	{"es", "e", 2},
	{"ing", "", 3},
	{"ed", "", 3},
	{"s", "", 2},
}

// ExpandStem applies suffixRules for lang == "" or "en"; other languages
// report no expansion (spec §4.4 "per-language stemming" names the
// config surface, not a requirement that every language be implemented).
func (e *StoreExpander) ExpandStem(ctx context.Context, term, lang string) ([]string, error) {
	if lang != "" && lang != "en" {
		return nil, nil
	}
	for _, r := range suffixRules {
		if strings.HasSuffix(term, r.suffix) && len(term)-len(r.suffix) >= r.minStem {
			stem := term[:len(term)-len(r.suffix)] + r.replacement
			if stem != term {
				return []string{stem}, nil
			}
		}
	}
	return nil, nil
}

func (e *StoreExpander) ExpandSynonyms(ctx context.Context, term string) ([]string, error) {
	return e.Synonyms[term], nil
}

// DocFrequency reports how many documents carry term, by draining its
// postlist; used by the translator's auto-phrase rarity check (spec
// §4.8 step 9) and cheap enough at personal-index scale.
func (e *StoreExpander) DocFrequency(ctx context.Context, term string) (int, error) {
	pl, err := e.Store.PostlistBegin(ctx, term)
	if err != nil {
		return 0, err
	}
	n := 0
	for pl.Next() {
		n++
	}
	return n, pl.Err()
}
