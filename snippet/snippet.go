// Package snippet implements the abstract/snippet builder of spec §4.9:
// it retrieves a document's stored raw text, re-tokenizes it, and
// selects and scores fragments around query-term matches described by a
// translate.HighlightData.
package snippet

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/indexer"
	"github.com/tmc/rclindex/query/translate"
	"github.com/tmc/rclindex/splitter"
	"github.com/tmc/rclindex/store"
	xunicode "github.com/tmc/rclindex/unicode"
)

// legacyTextKey is the pre-md5-keying raw-text metadata key some very
// old single-document indexes still carry (spec §9 open question); a
// lookup under the current key falls back to this one before giving up.
const legacyTextKey = "0000000042"

// groupBonus is the extra weight a fragment earns for containing a
// PHRASE/NEAR group match (spec §4.9 step 4).
const groupBonus = 10.0

// maxTokens caps the number of tokens walked per document before the
// walk is truncated (spec §4.9 "Safety").
const maxTokens = 1_000_000

// Snippet is one selected, scored fragment of a document's raw text.
type Snippet struct {
	Page int
	Text string
	Term string // the highest-weight matched term in this fragment, as the user typed it
	Line int
}

// Options tunes fragment selection (spec §4.9 "tuning knobs").
type Options struct {
	MaxOccurrences int // max number of snippets to return
	CtxWords       int // words of context kept open around a match
	SortByPage     bool
}

func (o Options) withDefaults() Options {
	if o.MaxOccurrences == 0 {
		o.MaxOccurrences = 10
	}
	if o.CtxWords == 0 {
		o.CtxWords = 8
	}
	return o
}

// Result is the outcome of BuildSnippets, including the truncation flag.
type Result struct {
	Snippets  []Snippet
	Truncated bool
}

// Builder retrieves raw text and page-break metadata from a store to
// build snippets against.
type Builder struct {
	Store store.Store
}

func New(st store.Store) *Builder { return &Builder{Store: st} }

// BuildSnippets implements spec §4.9's seven-step algorithm.
func (b *Builder) BuildSnippets(ctx context.Context, id store.DocID, uniterm string, hl *translate.HighlightData, opts Options) (Result, error) {
	opts = opts.withDefaults()

	text, ok, err := b.rawText(ctx, uniterm)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}

	breaks, err := b.pageBreaks(ctx, id)
	if err != nil {
		return Result{}, err
	}

	toks, truncated := tokenize(text)

	frags, positions := scanFragments(text, toks, hl, opts)
	applyGroupBonus(frags, toks, positions, hl)

	if opts.SortByPage {
		sort.Slice(frags, func(i, j int) bool { return frags[i].startTok < frags[j].startTok })
	} else {
		sort.Slice(frags, func(i, j int) bool { return frags[i].weight > frags[j].weight })
	}
	if len(frags) > opts.MaxOccurrences {
		frags = frags[:opts.MaxOccurrences]
	}

	out := make([]Snippet, 0, len(frags))
	for _, f := range frags {
		out = append(out, fragmentToSnippet(text, toks, f, breaks))
	}

	return Result{Snippets: out, Truncated: truncated}, nil
}

// rawText decompresses the document's stored text, trying the current
// md5(uniterm) key and then the legacy fixed key (spec §9).
func (b *Builder) rawText(ctx context.Context, uniterm string) (string, bool, error) {
	blob, err := b.Store.GetMetadata(ctx, indexer.MD5Key(uniterm))
	if err != nil {
		return "", false, err
	}
	if blob == nil {
		blob, err = b.Store.GetMetadata(ctx, legacyTextKey)
		if err != nil {
			return "", false, err
		}
	}
	if blob == nil {
		return "", false, nil
	}
	text, err := indexer.Decompress(blob)
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}

// pageBreaks retrieves the page-break term's position list and merges in
// the data record's consecutive-empty-page counts (spec §4.9 step 2).
func (b *Builder) pageBreaks(ctx context.Context, id store.DocID) ([]doc.MBreak, error) {
	positions, err := b.Store.PositionlistBegin(ctx, id, doc.PrefixPageBreak)
	if err != nil {
		return nil, err
	}
	raw, err := b.Store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	rec := doc.ParseDataRecord(string(raw))
	extras := map[uint32]int{}
	for _, mb := range doc.DecodeMBreaks(rec.MBreaks) {
		extras[mb.RelPos] = mb.Extra
	}

	out := make([]doc.MBreak, 0, len(positions))
	for _, p := range positions {
		if p < indexer.BodyPositionBase {
			continue // a break inside a metadata field, not the body
		}
		// stored positions carry the body's base; re-tokenized body
		// positions count from 0
		out = append(out, doc.MBreak{RelPos: p - indexer.BodyPositionBase, Extra: extras[p]})
	}
	return out, nil
}

type token struct {
	term string
	pos  uint32
	span splitter.ByteSpan
}

type tokenRecorder struct {
	toks []token
	n    int
}

func (r *tokenRecorder) TakeWord(term string, pos uint32, span splitter.ByteSpan) bool {
	if r.n >= maxTokens {
		return false
	}
	r.n++
	r.toks = append(r.toks, token{term: term, pos: pos, span: span})
	return true
}
func (r *tokenRecorder) NewPage() {}
func (r *tokenRecorder) NewLine() {}
func (r *tokenRecorder) Discarded(term string, span splitter.ByteSpan, reason splitter.DiscardReason) {
}

func tokenize(text string) ([]token, bool) {
	var rec tokenRecorder
	ok := splitter.New(splitter.Options{Mode: splitter.ModeWordsOnly}).Split(text, &rec)
	return rec.toks, !ok
}

type fragment struct {
	startTok, endTok int
	weight           float64
	repTerm          string
	repWeight        float64
	lastMatchTok     int
	extensions       int
}

const maxConsecutiveExtensions = 20

// scanFragments implements spec §4.9 step 3: a sliding window of
// ctxwords+1 tokens, opening/extending fragments around term matches. It
// also returns, per matched (folded) term, the token indices it matched
// at, for the later group-bonus scan.
func scanFragments(text string, toks []token, hl *translate.HighlightData, opts Options) ([]*fragment, map[string][]int) {
	var frags []*fragment
	var open *fragment
	positions := map[string][]int{}

	for i, tok := range toks {
		folded := xunicode.FoldAndUnac(tok.term)
		userTerm, isMatch := hl.Terms[folded]
		if !isMatch {
			continue
		}
		positions[folded] = append(positions[folded], i)

		weight := 1.0
		if open != nil && i-open.lastMatchTok <= opts.CtxWords+1 && open.extensions < maxConsecutiveExtensions {
			open.endTok = paragraphClippedEnd(text, toks, i, opts.CtxWords)
			open.lastMatchTok = i
			open.extensions++
			open.weight += weight
			if weight > open.repWeight {
				open.repWeight = weight
				open.repTerm = userTerm
			}
			continue
		}

		if open != nil {
			frags = append(frags, open)
		}
		open = &fragment{
			startTok:     paragraphClippedStart(text, toks, i, opts.CtxWords),
			endTok:       paragraphClippedEnd(text, toks, i, opts.CtxWords),
			weight:       weight,
			repTerm:      userTerm,
			repWeight:    weight,
			lastMatchTok: i,
		}
	}
	if open != nil {
		frags = append(frags, open)
	}
	return frags, positions
}

// paragraphBreak reports whether the text between two adjacent tokens
// contains a blank line. A fragment prefers to open or close on such a
// boundary over always walking the full ctxwords window.
func paragraphBreak(text string, a, b token) bool {
	if b.span.Start <= a.span.End || b.span.Start > len(text) {
		return false
	}
	return strings.Contains(text[a.span.End:b.span.Start], "\n\n")
}

// paragraphClippedStart returns the earliest token index to open a
// fragment at matchTok: ctxWords back, unless a paragraph break falls
// inside that window, in which case the fragment stops right after it.
func paragraphClippedStart(text string, toks []token, matchTok, ctxWords int) int {
	limit := matchTok - ctxWords
	if limit < 0 {
		limit = 0
	}
	for i := matchTok; i > limit; i-- {
		if paragraphBreak(text, toks[i-1], toks[i]) {
			return i
		}
	}
	return limit
}

// paragraphClippedEnd is paragraphClippedStart's mirror for the forward
// direction.
func paragraphClippedEnd(text string, toks []token, matchTok, ctxWords int) int {
	limit := matchTok + ctxWords
	if limit >= len(toks) {
		limit = len(toks) - 1
	}
	for i := matchTok; i < limit; i++ {
		if paragraphBreak(text, toks[i], toks[i+1]) {
			return i
		}
	}
	return limit
}

// applyGroupBonus implements spec §4.9 step 4: scan recorded positions
// for each PHRASE/NEAR index_term_group and bonus any fragment whose
// token range contains a satisfying tuple.
func applyGroupBonus(frags []*fragment, toks []token, positions map[string][]int, hl *translate.HighlightData) {
	for _, group := range hl.IndexTermGroups {
		if group.Kind != translate.GroupPhrase && group.Kind != translate.GroupNear {
			continue
		}
		var lists [][]int
		for _, term := range group.Terms {
			lists = append(lists, positions[term])
		}
		matchToks := groupMatchTokens(lists, group.Kind == translate.GroupPhrase, group.Slack)
		for _, mt := range matchToks {
			for _, f := range frags {
				if mt >= f.startTok && mt <= f.endTok {
					f.weight += groupBonus
				}
			}
		}
	}
}

// groupMatchTokens finds every token index that participates in an
// ordering+slack-satisfying tuple across lists, mirroring the posting
// store's own phrase/near evaluation (store/memstore's groupMatches) but
// over token indices rather than store positions, since a snippet's
// token stream is the ground truth for what's actually visible in text.
func groupMatchTokens(lists [][]int, ordered bool, slack int) []int {
	if len(lists) == 0 {
		return nil
	}
	for _, l := range lists {
		if len(l) == 0 {
			return nil
		}
	}
	var out []int
	for _, anchor := range lists[0] {
		if matchTokensFrom(lists, 1, anchor, anchor, ordered, slack) {
			out = append(out, anchor)
		}
	}
	return out
}

func matchTokensFrom(lists [][]int, idx, anchor, prev int, ordered bool, slack int) bool {
	if idx == len(lists) {
		return true
	}
	for _, p := range lists[idx] {
		if ordered {
			gap := p - prev - 1
			if gap < 0 || gap > slack {
				continue
			}
		} else {
			span := p - anchor
			if span < 0 {
				span = -span
			}
			if span > len(lists)-1+slack {
				continue
			}
		}
		if matchTokensFrom(lists, idx+1, anchor, p, ordered, slack) {
			return true
		}
	}
	return false
}

var punctRun = regexp.MustCompile(`([[:punct:]])\1{2,}`)

// fragmentToSnippet clips raw text to a fragment's byte range, cleans
// control characters and repeated punctuation, and maps the start
// position to a page number (spec §4.9 steps 5-6).
func fragmentToSnippet(text string, toks []token, f *fragment, breaks []doc.MBreak) Snippet {
	end := f.endTok
	if end >= len(toks) {
		end = len(toks) - 1
	}
	start := f.startTok
	if start < 0 {
		start = 0
	}
	if start > end || len(toks) == 0 {
		return Snippet{Term: f.repTerm}
	}

	byteStart := toks[start].span.Start
	byteEnd := toks[end].span.End
	if byteEnd > len(text) {
		byteEnd = len(text)
	}
	raw := text[byteStart:byteEnd]
	cleaned := xunicode.TrimControl(raw)
	cleaned = punctRun.ReplaceAllString(cleaned, "$1$1")

	return Snippet{
		Page: pageForPosition(breaks, toks[start].pos),
		Text: strings.TrimSpace(cleaned),
		Term: f.repTerm,
		Line: strings.Count(text[:byteStart], "\n") + 1,
	}
}

// pageForPosition binary-searches the page-break vector for the page
// number containing pos (spec §4.9 step 6), accounting for runs of
// consecutive empty pages recorded via Extra.
func pageForPosition(breaks []doc.MBreak, pos uint32) int {
	n := sort.Search(len(breaks), func(i int) bool { return breaks[i].RelPos > pos })
	page := 1
	for i := 0; i < n; i++ {
		page += 1 + breaks[i].Extra
	}
	return page
}
