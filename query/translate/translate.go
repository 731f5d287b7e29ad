// Package translate implements spec §4.8: it compiles a query.SearchData
// tree into a store.Query expression plus a HighlightData structure the
// snippet builder uses to find and mark up matches.
package translate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/tmc/rclindex/config"
	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/query"
	"github.com/tmc/rclindex/rclerr"
	"github.com/tmc/rclindex/splitter"
	"github.com/tmc/rclindex/store"
	xunicode "github.com/tmc/rclindex/unicode"
)

// GroupKind mirrors the store query kinds a HighlightData group can
// carry (spec §4.8 "TERM / PHRASE / NEAR").
type GroupKind int

const (
	GroupTerm GroupKind = iota
	GroupPhrase
	GroupNear
)

// TermGroup is one entry of HighlightData.index_term_groups /
// HighlightData.ugroups.
type TermGroup struct {
	Kind  GroupKind
	Terms []string
	Slack int
}

// HighlightData accumulates everything the snippet builder needs to find
// and weight matches in a result's raw text (spec §4.8 "HighlightData").
type HighlightData struct {
	RunID           string            // correlates this query's translate/run/snippet log lines
	UTerms          []string          // user-entered terms, unexpanded
	Terms           map[string]string // expanded term -> original user term
	IndexTermGroups []TermGroup       // expanded-term groups for phrase/near matching
	UGroups         []TermGroup       // user-visible groups, parallel to IndexTermGroups
	SpellExpands    []string          // terms added through spelling correction
}

func newHighlightData() *HighlightData {
	return &HighlightData{Terms: map[string]string{}}
}

func (h *HighlightData) addTerm(userTerm, expanded string) {
	h.Terms[expanded] = userTerm
}

// Expander supplies the index-side lookups the translator needs:
// wildcard matching against the dictionary, stem expansion, and synonym
// expansion. A Store-backed implementation walks postlists with a prefix
// scan; tests use a canned map-based stub.
type Expander interface {
	ExpandWildcard(ctx context.Context, pattern string) ([]string, error)
	ExpandStem(ctx context.Context, term, lang string) ([]string, error)
	ExpandSynonyms(ctx context.Context, term string) ([]string, error)
	DocFrequency(ctx context.Context, term string) (int, error)
}

// Translator compiles SearchData into a store.Query, per spec §4.8.
type Translator struct {
	Config   config.Config
	Expander Expander
	Store    store.Store

	StemLang string // the active stemming language for this query, if any

	clauseCount int
	sf          singleflight.Group
}

func New(cfg config.Config, exp Expander, st store.Store) *Translator {
	return &Translator{Config: cfg, Expander: exp, Store: st}
}

// Translate is the entry point: spec §4.8 steps 1-9.
func (t *Translator) Translate(ctx context.Context, sd *query.SearchData) (store.Query, *HighlightData, error) {
	t.clauseCount = 0
	hl := newHighlightData()
	hl.RunID = uuid.NewString()

	var composite store.Query
	if len(sd.Clauses) == 0 {
		composite = store.MatchAll()
	} else {
		var sub []store.Query
		for _, c := range sd.Clauses {
			q, err := t.translateClause(ctx, c, hl)
			if err != nil {
				c.SetReason(err.Error())
				return store.Query{}, nil, err
			}
			if c.Exclude {
				sub = append(sub, q) // AND_NOT is applied by the caller pairing with the base
			} else {
				sub = append(sub, q)
			}
			c.SetReason(fmt.Sprintf("compiled to %d clause(s)", store.CountClauses(q)))
		}
		composite = combine(sd.Op, sub, sd.Clauses)
	}

	composite, err := t.applyTopFilters(ctx, composite, sd)
	if err != nil {
		return store.Query{}, nil, err
	}

	if t.Config.MaxXapianClauses > 0 {
		if n := store.CountClauses(composite); n > t.Config.MaxXapianClauses {
			return store.Query{}, nil, &rclerr.MaxClausesError{Limit: t.Config.MaxXapianClauses}
		}
	}

	if sd.Autophrase {
		if phrase, ok := t.buildAutophrase(ctx, sd, hl); ok {
			composite = store.AndMaybe(composite, phrase)
		}
	}

	return composite, hl, nil
}

// combine applies the composite operator and per-clause exclude/filter
// modifiers (spec §4.8 step 8).
func combine(op query.ClauseKind, qs []store.Query, clauses []*query.Clause) store.Query {
	if len(qs) == 0 {
		return store.MatchAll()
	}

	base := qs[0]
	if clauses[0].Exclude {
		base = store.AndNot(store.MatchAll(), qs[0])
	}
	for i := 1; i < len(qs); i++ {
		c := clauses[i]
		switch {
		case c.Exclude:
			base = store.AndNot(base, qs[i])
		case c.Modifiers&query.ModFilterOnly != 0:
			base = store.Filter(base, qs[i])
		case op == query.SCLT_OR:
			base = store.Or(base, qs[i])
		default:
			base = store.And(base, qs[i])
		}
	}
	return base
}

func (t *Translator) applyTopFilters(ctx context.Context, q store.Query, sd *query.SearchData) (store.Query, error) {
	if sd.Date.Min != "" || sd.Date.Max != "" {
		q = store.Filter(q, store.ValueRange(doc.SlotDate, sd.Date.Min, sd.Date.Max))
	}
	if sd.BirthDate.Min != "" || sd.BirthDate.Max != "" {
		q = store.Filter(q, store.ValueRange(doc.SlotBirthDate, sd.BirthDate.Min, sd.BirthDate.Max))
	}
	if sd.Size.Min != 0 || sd.Size.Max != 0 {
		lo := doc.ZeroPadSize(sd.Size.Min)
		hi := doc.ZeroPadSize(sd.Size.Max)
		if sd.Size.Max == 0 {
			q = store.Filter(q, store.ValueGE(doc.SlotSize, lo))
		} else {
			q = store.Filter(q, store.ValueRange(doc.SlotSize, lo, hi))
		}
	}
	for _, mt := range sd.Types.Include {
		q = store.Filter(q, store.Term(doc.PrefixMimetype+mt))
	}
	for _, mt := range sd.Types.Exclude {
		q = store.AndNot(q, store.Term(doc.PrefixMimetype+mt))
	}

	if sd.SubDocs != query.SubDocAny {
		sub, ok, err := t.subDocumentFilter(ctx)
		if err != nil {
			return store.Query{}, err
		}
		if ok {
			switch sd.SubDocs {
			case query.SubDocSubOnly:
				q = store.Filter(q, sub)
			case query.SubDocTopOnly:
				q = store.AndNot(q, sub)
			}
		}
	}

	return q, nil
}

// subDocsSentinelTerm never appears in any indexed document. Folding it
// into the OR below means an empty term list still yields a well-formed
// "matches nothing" query instead of a bare, backend-dependent empty OR.
const subDocsSentinelTerm = "\x00__no_subdocs__"

// subDocumentFilter builds a query matching every sub-document: one
// carrying some parent-linking PrefixParent ("F") term (spec §4.4 step 2,
// doc.UDI.ParentTerm). ok is false when the store can't enumerate its
// term dictionary (store.TermPrefixLister not implemented), in which
// case SubDocs filtering is skipped rather than silently wrong.
func (t *Translator) subDocumentFilter(ctx context.Context) (store.Query, bool, error) {
	lister, ok := t.Store.(store.TermPrefixLister)
	if !ok {
		return store.Query{}, false, nil
	}
	terms, err := lister.ListTermsWithPrefix(ctx, doc.PrefixParent)
	if err != nil {
		return store.Query{}, false, err
	}
	leaves := []store.Query{store.Term(subDocsSentinelTerm)}
	for _, term := range terms {
		leaves = append(leaves, store.Term(term))
	}
	return store.Or(leaves...), true, nil
}

func (t *Translator) translateClause(ctx context.Context, c *query.Clause, hl *HighlightData) (store.Query, error) {
	switch c.Kind {
	case query.SCLT_SUB:
		if c.Sub == nil {
			return store.Query{}, fmt.Errorf("query: SUB clause with no sub-tree")
		}
		q, subHL, err := t.Translate(ctx, c.Sub)
		if err != nil {
			return store.Query{}, err
		}
		mergeHighlight(hl, subHL)
		return q, nil

	case query.SCLT_FILENAME:
		return t.translateFilename(ctx, c, hl)

	case query.SCLT_PATH:
		return t.translatePath(c), nil

	case query.SCLT_RANGE:
		return t.translateRange(c)

	case query.SCLT_PHRASE, query.SCLT_NEAR:
		return t.processPhraseOrNear(ctx, c, hl)

	default: // SCLT_AND, SCLT_OR: simple text clause
		return t.processText(ctx, c, hl)
	}
}

// processText handles a simple AND/OR clause: split into whitespace
// units, dispatch each as a single span or a multi-term sequence (spec
// §4.8 step 2).
func (t *Translator) processText(ctx context.Context, c *query.Clause, hl *HighlightData) (store.Query, error) {
	units := strings.Fields(c.Text)
	if len(units) == 0 {
		return store.MatchAll(), nil
	}

	var parts []store.Query
	for _, u := range units {
		spanUnits := splitIntoSpanWords(u)
		if len(spanUnits) <= 1 {
			q, err := t.processSimpleSpan(ctx, u, c, hl)
			if err != nil {
				return store.Query{}, err
			}
			parts = append(parts, q)
			continue
		}
		// A compound span like "a.b@c" is treated as an implicit phrase
		// of its constituent words (spec §4.8 step 2b).
		q, err := t.phraseOf(ctx, spanUnits, 0, c, hl)
		if err != nil {
			return store.Query{}, err
		}
		parts = append(parts, q)
	}

	if c.Kind == query.SCLT_OR {
		return store.Or(parts...), nil
	}
	return store.And(parts...), nil
}

func splitIntoSpanWords(unit string) []string {
	var rec wordRecorder
	splitter.New(splitter.Options{Mode: splitter.ModeWordsOnly}).Split(unit, &rec)
	return rec.words
}

type wordRecorder struct{ words []string }

func (r *wordRecorder) TakeWord(term string, pos uint32, span splitter.ByteSpan) bool {
	r.words = append(r.words, term)
	return true
}
func (r *wordRecorder) NewPage() {}
func (r *wordRecorder) NewLine() {}
func (r *wordRecorder) Discarded(term string, span splitter.ByteSpan, reason splitter.DiscardReason) {
}

// processSimpleSpan strips anchors, derives case/diacritic sensitivity,
// expands the term, and builds an OR of the expansion with the original
// term boosted (spec §4.8 step 2c).
func (t *Translator) processSimpleSpan(ctx context.Context, unit string, c *query.Clause, hl *HighlightData) (store.Query, error) {
	term, mods := stripAnchors(unit)
	mods |= c.Modifiers

	caseSens := !t.Config.IndexStripChars && (mods&query.ModCaseSensitive != 0 || (t.Config.AutoCaseSens && xunicode.HasNonInitialUppercase(term)))
	diacSens := !t.Config.IndexStripChars && (mods&query.ModDiacSensitive != 0 || (t.Config.AutoDiacSens && xunicode.HasDiacritic(term)))
	noStem := mods&query.ModNoStemming != 0 || caseSens || diacSens

	indexTerm := term
	if !caseSens && !diacSens {
		indexTerm = xunicode.FoldAndUnac(term)
	}

	expanded, err := t.expandTerm(ctx, indexTerm, noStem, mods&query.ModNoSynonyms != 0)
	if err != nil {
		return store.Query{}, err
	}

	pfx := ""
	if c.Field != "" {
		traits, ok := t.Config.Fields[c.Field]
		if !ok {
			return store.Query{}, &rclerr.UnknownFieldError{Field: c.Field}
		}
		pfx = traits.Prefix
	}

	hl.UTerms = append(hl.UTerms, term)
	var leaves []store.Query
	for _, e := range expanded {
		hl.addTerm(term, e)
		leaf := store.Term(pfx + e)
		if e == indexTerm {
			// the original term still appears after expansion: boost it
			// (spec §4.8 step 2c "weight boost of 10").
			leaf = store.ScaleWeight(leaf, 10)
		}
		leaves = append(leaves, leaf)
		t.clauseCount++
	}
	if len(leaves) == 0 {
		leaves = append(leaves, store.Term(pfx+indexTerm))
		hl.addTerm(term, indexTerm)
	}

	q := store.Or(leaves...)

	hl.IndexTermGroups = append(hl.IndexTermGroups, TermGroup{Kind: GroupTerm, Terms: expanded})
	hl.UGroups = append(hl.UGroups, TermGroup{Kind: GroupTerm, Terms: []string{term}})

	return q, nil
}

func containsTerm(list []string, term string) bool {
	for _, v := range list {
		if v == term {
			return true
		}
	}
	return false
}

// stripAnchors recognizes leading '^' and trailing '$' as anchor
// markers, returning the stripped term and the corresponding modifiers
// (spec §4.8 step 2c "strip anchor markers").
func stripAnchors(unit string) (string, query.Modifier) {
	var mods query.Modifier
	if strings.HasPrefix(unit, "^") {
		mods |= query.ModAnchorStart
		unit = unit[1:]
	}
	if strings.HasSuffix(unit, "$") {
		mods |= query.ModAnchorEnd
		unit = unit[:len(unit)-1]
	}
	return unit, mods
}

// expandTerm implements spec §4.8's expansion rules, memoizing duplicate
// concurrent expansions of the same key via singleflight.
func (t *Translator) expandTerm(ctx context.Context, term string, noStem, noSynonyms bool) ([]string, error) {
	if strings.ContainsAny(term, "*?[") {
		key := "wild:" + term
		v, err, _ := t.sf.Do(key, func() (interface{}, error) {
			return t.Expander.ExpandWildcard(ctx, term)
		})
		if err != nil {
			return nil, err
		}
		return t.capExpansion(term, v.([]string))
	}

	var out []string
	out = append(out, term)

	if !noStem && t.StemLang != "" {
		key := fmt.Sprintf("stem:%s:%s", t.StemLang, term)
		v, err, _ := t.sf.Do(key, func() (interface{}, error) {
			return t.Expander.ExpandStem(ctx, term, t.StemLang)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, v.([]string)...)
	}

	if !noSynonyms {
		key := "syn:" + term
		v, err, _ := t.sf.Do(key, func() (interface{}, error) {
			return t.Expander.ExpandSynonyms(ctx, term)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, v.([]string)...)
	}

	return t.capExpansion(term, dedup(out))
}

func dedup(ss []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// capExpansion enforces spec §4.8's expansion-size limit (hard cap from
// config; the soft GUI cap is out of this core's scope).
func (t *Translator) capExpansion(term string, expanded []string) ([]string, error) {
	if t.Config.MaxTermExpand > 0 && len(expanded) > t.Config.MaxTermExpand {
		return nil, &rclerr.QueryExpansionOverflowError{Term: term, Limit: t.Config.MaxTermExpand, Got: len(expanded)}
	}
	return expanded, nil
}

// processPhraseOrNear treats the whole clause text as one multi-term
// unit (spec §4.8 step 3).
func (t *Translator) processPhraseOrNear(ctx context.Context, c *query.Clause, hl *HighlightData) (store.Query, error) {
	words := strings.Fields(c.Text)
	if len(words) == 0 {
		return store.MatchAll(), nil
	}
	return t.phraseOf(ctx, words, c.Slack, c, hl)
}

func (t *Translator) phraseOf(ctx context.Context, words []string, slack int, c *query.Clause, hl *HighlightData) (store.Query, error) {
	var leaves []store.Query
	var expandedAll []string
	extraSlack := 0

	for _, w := range words {
		term := w
		if t.Config.IndexStripChars || (!(c.Modifiers&query.ModCaseSensitive != 0) && !(c.Modifiers&query.ModDiacSensitive != 0)) {
			term = xunicode.FoldAndUnac(term)
		}
		expanded, err := t.expandTerm(ctx, term, c.Modifiers&query.ModNoStemming != 0, c.Modifiers&query.ModNoSynonyms != 0)
		if err != nil {
			return store.Query{}, err
		}
		if len(expanded) == 0 {
			expanded = []string{term}
		}
		if len(expanded) > 1 {
			// each word with more than one expansion adds one to the
			// slack (spec §4.8 step 3 "Slack is adjusted upward"). Only
			// expanded[0] becomes a phrase leaf; the other expansions go
			// to the highlight group alone, so a document holding one of
			// them in place of the word does not match the phrase.
			extraSlack++
		}
		leaves = append(leaves, store.Term(expanded[0]))
		expandedAll = append(expandedAll, expanded...)
		hl.addTerm(w, expanded[0])
		t.clauseCount++
	}

	hl.UTerms = append(hl.UTerms, words...)

	kind := GroupPhrase
	var q store.Query
	if c.Kind == query.SCLT_NEAR {
		kind = GroupNear
		q = store.Near(slack+extraSlack, leaves...)
	} else {
		q = store.Phrase(slack+extraSlack, leaves...)
	}

	hl.IndexTermGroups = append(hl.IndexTermGroups, TermGroup{Kind: kind, Terms: expandedAll, Slack: slack + extraSlack})
	hl.UGroups = append(hl.UGroups, TermGroup{Kind: kind, Terms: words, Slack: slack})

	return q, nil
}

// translateFilename queries the unsplit-filename posting list (spec §4.8
// step 4). A wildcard pattern is expanded by Expander.ExpandWildcard over
// the whole term dictionary: the expansion is not restricted to filename
// terms and can return terms indexed from other fields or the body.
func (t *Translator) translateFilename(ctx context.Context, c *query.Clause, hl *HighlightData) (store.Query, error) {
	hl.UTerms = append(hl.UTerms, c.Text)
	if strings.ContainsAny(c.Text, "*?[") {
		names, err := t.Expander.ExpandWildcard(ctx, c.Text)
		if err != nil {
			return store.Query{}, err
		}
		var leaves []store.Query
		for _, n := range names {
			leaves = append(leaves, store.Term(n))
			hl.addTerm(c.Text, n)
		}
		return store.Or(leaves...), nil
	}
	hl.addTerm(c.Text, c.Text)
	return store.Term(c.Text), nil
}

// translatePath builds an ordered PHRASE of path-element terms, anchored
// at root with an empty leading element for an absolute path (spec §4.8
// step 5).
func (t *Translator) translatePath(c *query.Clause) store.Query {
	terms := doc.PathElementTerms(c.Text)
	var leaves []store.Query
	if strings.HasPrefix(c.Text, "/") {
		leaves = append(leaves, store.Term(doc.PrefixPathElem))
	}
	for _, term := range terms {
		leaves = append(leaves, store.Term(term))
	}
	return store.Phrase(0, leaves...)
}

// translateRange builds VALUE_GE/LE/RANGE against a field's value slot,
// normalizing bounds (spec §4.8 step 6).
func (t *Translator) translateRange(c *query.Clause) (store.Query, error) {
	traits, ok := t.Config.Fields[c.Field]
	if !ok {
		return store.Query{}, &rclerr.UnknownFieldError{Field: c.Field}
	}
	slot := traits.ValueSlot
	if slot == 0 {
		return store.Query{}, &rclerr.UnknownFieldError{Field: c.Field}
	}

	lo, hi, found := strings.Cut(c.Text, "..")
	if !found {
		return store.Query{}, &rclerr.BadRangeError{Field: c.Field, Reason: "expected lo..hi"}
	}

	normLo, err := normalizeRangeBound(lo)
	if err != nil && lo != "" {
		return store.Query{}, &rclerr.BadRangeError{Field: c.Field, Reason: err.Error()}
	}
	normHi, err := normalizeRangeBound(hi)
	if err != nil && hi != "" {
		return store.Query{}, &rclerr.BadRangeError{Field: c.Field, Reason: err.Error()}
	}

	switch {
	case normLo != "" && normHi != "":
		return store.ValueRange(slot, normLo, normHi), nil
	case normLo != "":
		return store.ValueGE(slot, normLo), nil
	case normHi != "":
		return store.ValueLE(slot, normHi), nil
	}
	return store.Query{}, &rclerr.BadRangeError{Field: c.Field, Reason: "empty range"}
}

// normalizeRangeBound left-zero-pads a numeric bound using decimal.Decimal
// (to avoid float precision loss on large zero-padded integers), leaving
// a date-shaped (YYYYMMDD) or already-padded bound untouched.
func normalizeRangeBound(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if len(s) == 8 {
		if _, err := strconv.Atoi(s); err == nil {
			return s, nil // already YYYYMMDD
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("not numeric or YYYYMMDD: %q", s)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("negative range bound: %q", s)
	}
	return fmt.Sprintf("%012s", d.StringFixed(0)), nil
}

// buildAutophrase implements spec §4.8 step 9: if the top query is a
// simple OR/AND of bare-word leaves, build a phrase from the user terms
// whose document frequency is below the rarity threshold.
func (t *Translator) buildAutophrase(ctx context.Context, sd *query.SearchData, hl *HighlightData) (store.Query, bool) {
	for _, c := range sd.Clauses {
		if (c.Kind != query.SCLT_AND && c.Kind != query.SCLT_OR) || c.Field != "" || c.Exclude {
			return store.Query{}, false
		}
	}
	var rare []string
	for _, term := range hl.UTerms {
		df, err := t.Expander.DocFrequency(ctx, term)
		if err != nil {
			continue
		}
		if t.Config.AutoSpellRarityThreshold == 0 || df < t.Config.AutoSpellRarityThreshold {
			rare = append(rare, term)
		}
	}
	if len(rare) < 2 {
		return store.Query{}, false
	}
	var leaves []store.Query
	for _, r := range rare {
		leaves = append(leaves, store.Term(xunicode.FoldAndUnac(r)))
	}
	return store.Phrase(0, leaves...), true
}

func mergeHighlight(dst, src *HighlightData) {
	dst.UTerms = append(dst.UTerms, src.UTerms...)
	for k, v := range src.Terms {
		dst.Terms[k] = v
	}
	dst.IndexTermGroups = append(dst.IndexTermGroups, src.IndexTermGroups...)
	dst.UGroups = append(dst.UGroups, src.UGroups...)
	dst.SpellExpands = append(dst.SpellExpands, src.SpellExpands...)
}
