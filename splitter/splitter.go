// Package splitter implements the Unicode-aware text splitter of spec
// §4.1: it walks a UTF-8 string and pushes (term, position, byte-span)
// tuples plus new_page/new_line events to a Sink, building both plain
// words and compound "span" tokens along the way.
//
// The splitter is a push-visitor, not a goroutine/channel pipeline: each
// stage (classify rune, grow word, grow span, emit) is synchronous and
// CPU-bound, so a pull-iterator or push-visitor are equivalent and the
// visitor is simpler to compose with the term pipeline (termpipe.Link
// also implements Sink).
package splitter

import (
	"unicode/utf8"

	xunicode "github.com/tmc/rclindex/unicode"
)

// ByteSpan is a half-open [Start, End) byte range into the original input.
type ByteSpan struct {
	Start, End int
}

// DiscardReason classifies why Sink.Discarded was called.
type DiscardReason int

const (
	WordTooLong DiscardReason = iota
	NumberDiscarded
)

// Sink receives the splitter's output. TakeWord returning false aborts the
// walk; Split then returns false (spec §4.1 "Failures").
type Sink interface {
	TakeWord(term string, pos uint32, span ByteSpan) bool
	NewPage()
	NewLine()
	Discarded(term string, span ByteSpan, reason DiscardReason)
}

// Mode selects which of {words, span} are emitted for a compound token.
type Mode int

const (
	// ModeWordsAndSpans emits both the individual words and, when a span
	// has more than one word, the enclosing span -- the default used for
	// indexing.
	ModeWordsAndSpans Mode = iota
	// ModeSpansOnly emits only spans (and lone words, which are spans of
	// length 1) -- used for query and phrase indexing.
	ModeSpansOnly
	// ModeWordsOnly emits only the individual words, never the enclosing
	// span -- used for abstract/synonym generation.
	ModeWordsOnly
)

// Options configures a Splitter. The zero value is usable and matches
// Recoll's historical defaults (maxWordsInSpan 4, maxWordLength 50).
type Options struct {
	Mode Mode

	// MaxWordsInSpan caps how many words a compound span may hold before
	// it is closed and a fresh span started (spec: o_maxWordsInSpan).
	MaxWordsInSpan int

	// MaxWordLength: words (in runes) longer than this are dropped, with
	// a Discarded(WordTooLong) callback (spec: o_maxWordLength).
	MaxWordLength int

	// NoNumbers discards purely-numeric words (spec: o_noNumbers).
	NoNumbers bool

	// DeHyphenate joins "word-\nword" into a single word across a
	// line-wrapped hyphen (spec: o_deHyphenate).
	DeHyphenate bool

	// KeepWild parses '*', '?' and '[...]' as letters so a query span
	// survives intact for later wildcard expansion (spec: TXTS_KEEPWILD).
	KeepWild bool

	// CJK delegates runs of CJK-script text to another Splitter (spec
	// §4.1 "Script switches", §4.2). Nil disables delegation: CJK runs
	// are then tokenized rune-by-rune like any other script.
	CJK Splitter
}

func (o Options) withDefaults() Options {
	if o.MaxWordsInSpan == 0 {
		o.MaxWordsInSpan = 4
	}
	if o.MaxWordLength == 0 {
		o.MaxWordLength = 50
	}
	return o
}

// Splitter is the interface implemented by both the general splitter and
// the external CJK splitter (spec DESIGN NOTES: "dynamic dispatch over
// splitters").
type Splitter interface {
	Split(text string, sink Sink) bool
}

// General is the default Unicode-aware splitter.
type General struct {
	opts Options
}

func New(opts Options) *General {
	return &General{opts: opts.withDefaults()}
}

// span-joining punctuation: characters that, appearing strictly between
// two word characters, keep the compound span open instead of closing it
// (spec examples: a.b@c, 2024-01-31, word1_word2).
func isSpanJoiner(r rune) bool {
	switch r {
	case '.', '-', '_', '@', ':', '/', '\'':
		return true
	}
	return false
}

type spanState struct {
	words    []ByteSpan // byte spans of each word accepted into the span so far
	wordText []string
	basePos  uint32 // position assigned to the span's first word
	started  bool
}

func (s *spanState) reset() {
	s.words = s.words[:0]
	s.wordText = s.wordText[:0]
	s.started = false
}

// Split walks text and pushes tokens to sink. It returns false if sink
// ever returns false from TakeWord (spec §4.1 "Failures").
func (g *General) Split(text string, sink Sink) bool {
	opts := g.opts
	var (
		pos          uint32
		span         spanState
		wordStart    = -1 // byte offset, -1 when not inside a word
		wordIsNumber = true
		lastTerm     string
		lastPos      uint32
		haveLast     bool
	)

	emit := func(term string, p uint32, bs ByteSpan) bool {
		if haveLast && lastTerm == term && lastPos == p {
			// spec §4.1: "Duplicate emissions at the same position with
			// the same term are coalesced."
			return true
		}
		lastTerm, lastPos, haveLast = term, p, true
		return sink.TakeWord(term, p, bs)
	}

	flushWord := func(endByte int) bool {
		if wordStart == -1 {
			return true
		}
		bs := ByteSpan{wordStart, endByte}
		term := text[bs.Start:bs.End]
		wordStart = -1

		if opts.NoNumbers && wordIsNumber {
			sink.Discarded(term, bs, NumberDiscarded)
			return true
		}
		if utf8.RuneCountInString(term) > opts.MaxWordLength {
			sink.Discarded(term, bs, WordTooLong)
			return true
		}

		if !span.started {
			span.basePos = pos
			span.started = true
		}
		wordPos := span.basePos + uint32(len(span.words))
		span.words = append(span.words, bs)
		span.wordText = append(span.wordText, term)

		if opts.Mode != ModeSpansOnly {
			if !emit(term, wordPos, bs) {
				return false
			}
		}
		return true
	}

	closeSpan := func() bool {
		if !span.started {
			return true
		}
		pos = span.basePos + uint32(len(span.words))
		if opts.Mode != ModeWordsOnly && len(span.words) > 1 {
			start := span.words[0].Start
			end := span.words[len(span.words)-1].End
			joined := text[start:end]
			if !emit(joined, span.basePos, ByteSpan{start, end}) {
				span.reset()
				return false
			}
		} else if opts.Mode == ModeSpansOnly && len(span.words) == 1 {
			// lone word under spans-only mode is still its own span
			if !emit(span.wordText[0], span.basePos, span.words[0]) {
				span.reset()
				return false
			}
		}
		span.reset()
		return true
	}

	i := 0
	n := len(text)
	for i < n {
		r, w := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && w <= 1 {
			i++
			continue
		}

		if xunicode.IsCJK(r) && opts.CJK != nil {
			if !flushWord(i) || !closeSpan() {
				return false
			}
			j := i
			for j < n {
				r2, w2 := utf8.DecodeRuneInString(text[j:])
				if !xunicode.IsCJK(r2) {
					break
				}
				j += w2
			}
			sub := cjkSink{parent: sink, base: i, emit: emit, pos: &pos}
			if !opts.CJK.Split(text[i:j], sub) {
				return false
			}
			pos = *sub.pos
			i = j
			continue
		}

		switch r {
		case '\n':
			if !flushWord(i) {
				return false
			}
			// de-hyphenate: "word-\nword" -> "wordword"
			if opts.DeHyphenate && wordStart == -1 && len(span.wordText) > 0 {
				prevEnd := span.words[len(span.words)-1].End
				if prevEnd > 0 && text[prevEnd-1] == '-' {
					// merge: reopen the previous word at its start, continue
					// scanning as if the hyphen+newline had not occurred.
					wordStart = span.words[len(span.words)-1].Start
					span.words = span.words[:len(span.words)-1]
					span.wordText = span.wordText[:len(span.wordText)-1]
					i += w
					continue
				}
			}
			if !closeSpan() {
				return false
			}
			sink.NewLine()
			i += w
			continue
		case '\f':
			if !flushWord(i) || !closeSpan() {
				return false
			}
			sink.NewPage()
			i += w
			continue
		}

		class := xunicode.ClassifyRune(r, opts.KeepWild)
		switch class {
		case xunicode.ClassLetter, xunicode.ClassAsciiUpper, xunicode.ClassAsciiLower, xunicode.ClassWild:
			if wordStart == -1 {
				wordStart = i
				wordIsNumber = false
			} else {
				wordIsNumber = false
			}
		case xunicode.ClassDigit:
			if wordStart == -1 {
				wordStart = i
				wordIsNumber = true
			}
		case xunicode.ClassPunct:
			if isSpanJoiner(r) && wordStart != -1 {
				// joiner strictly inside a word boundary: close the word
				// into the span, but keep the span itself open unless it
				// has reached MaxWordsInSpan.
				if !flushWord(i) {
					return false
				}
				if len(span.words) >= opts.MaxWordsInSpan {
					if !closeSpan() {
						return false
					}
				}
				i += w
				continue
			}
			if isSpanJoiner(r) && span.started && wordStart == -1 {
				// joiner between two words already in the span (e.g. the
				// '.' in "a.b"): keep the span open, swallow the
				// punctuation, and check the span-length cap.
				if len(span.words) >= opts.MaxWordsInSpan {
					if !closeSpan() {
						return false
					}
				}
				i += w
				continue
			}
			if !flushWord(i) || !closeSpan() {
				return false
			}
		default: // space, skip
			if !flushWord(i) || !closeSpan() {
				return false
			}
		}

		i += w
	}

	if !flushWord(n) {
		return false
	}
	return closeSpan()
}

// cjkSink adapts the outer sink + position counter to the inner call into
// an external/CJK Splitter over a sub-slice of the input, translating
// byte offsets back to the outer string and assigning positions from the
// outer counter so the overall position sequence stays monotone.
type cjkSink struct {
	parent Sink
	base   int
	pos    *uint32
	emit   func(term string, p uint32, bs ByteSpan) bool
}

func (c cjkSink) TakeWord(term string, _ uint32, span ByteSpan) bool {
	p := *c.pos
	*c.pos++
	return c.emit(term, p, ByteSpan{c.base + span.Start, c.base + span.End})
}

func (c cjkSink) NewPage() { c.parent.NewPage() }
func (c cjkSink) NewLine() { c.parent.NewLine() }
func (c cjkSink) Discarded(term string, span ByteSpan, reason DiscardReason) {
	c.parent.Discarded(term, ByteSpan{c.base + span.Start, c.base + span.End}, reason)
}

// Field boundary sentinel terms: the term pipeline's Prep link recognizes
// these and turns them into the XXST/ and XXND/ prefixed anchor terms
// (spec §4.1 "Anchors", §6 term prefix table) instead of folding/
// stop-listing them like ordinary words.
const (
	FieldStartTerm = "\x01FIELDSTART\x01"
	FieldEndTerm   = "\x01FIELDEND\x01"
)

// SplitField wraps Split with the START-OF-FIELD / END-OF-FIELD anchor
// terms at the bounding positions of a single field's text (spec §4.1).
func SplitField(s Splitter, text string, sink Sink) bool {
	if !sink.TakeWord(FieldStartTerm, 0, ByteSpan{0, 0}) {
		return false
	}
	if !s.Split(text, sink) {
		return false
	}
	return sink.TakeWord(FieldEndTerm, uint32(len(text)), ByteSpan{len(text), len(text)})
}
