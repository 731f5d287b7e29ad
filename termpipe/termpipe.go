// Package termpipe implements the chained term processor of spec §4.3: a
// sequence of links, each taking the splitter's take_word/new_page/
// new_line stream and forwarding a (possibly transformed, possibly
// dropped) version to the next link. The chain terminates in an Emit
// link that posts to a store.DocBuilder.
//
// Each link is a splitter.Sink, so the chain composes directly with
// splitter.Split / splitter.SplitField -- the push-visitor style carries
// through both packages, per the "coroutine-like control flow" design
// note: no goroutines or channels, just nested function calls.
package termpipe

import (
	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/splitter"
	"github.com/tmc/rclindex/store"
	xunicode "github.com/tmc/rclindex/unicode"
)

// Link is one stage of the chain. Flush lets a stateful link (the
// synonym matcher) drain any buffered partial match at end of input.
type Link interface {
	splitter.Sink
	Flush()
}

// PrepLink case-folds and strips diacritics from each term before
// forwarding it, when StripChars is set (the index-wide
// o_index_stripchars property, spec §3/§9). Field-anchor sentinel terms
// (splitter.FieldStartTerm/FieldEndTerm) pass through unmodified.
type PrepLink struct {
	Next       Link
	StripChars bool
}

func (p *PrepLink) TakeWord(term string, pos uint32, span splitter.ByteSpan) bool {
	if p.StripChars && term != splitter.FieldStartTerm && term != splitter.FieldEndTerm {
		term = xunicode.FoldAndUnac(term)
	}
	return p.Next.TakeWord(term, pos, span)
}

func (p *PrepLink) NewPage()     { p.Next.NewPage() }
func (p *PrepLink) NewLine()     { p.Next.NewLine() }
func (p *PrepLink) Flush()       { p.Next.Flush() }
func (p *PrepLink) Discarded(term string, span splitter.ByteSpan, reason splitter.DiscardReason) {
	p.Next.Discarded(term, span, reason)
}

// SynGroup is one multi-word synonym group: a left-hand-side sequence of
// (already folded, if applicable) words mapped to a canonical
// replacement term emitted in addition to (not instead of) the original
// words (spec §4.3 step 2).
type SynGroup struct {
	LHS       []string
	Canonical string
}

// SynonymLink recognizes runs of recent terms matching the left-hand
// side of a configured synonym group and additionally emits the
// canonical form at the position of the first matched word.
type SynonymLink struct {
	Next   Link
	Groups []SynGroup

	recent []string
	rpos   []uint32
	rspan  []splitter.ByteSpan
}

func (s *SynonymLink) TakeWord(term string, pos uint32, span splitter.ByteSpan) bool {
	if !s.Next.TakeWord(term, pos, span) {
		return false
	}
	s.recent = append(s.recent, term)
	s.rpos = append(s.rpos, pos)
	s.rspan = append(s.rspan, span)

	maxLHS := 1
	for _, g := range s.Groups {
		if len(g.LHS) > maxLHS {
			maxLHS = len(g.LHS)
		}
	}
	if len(s.recent) > maxLHS {
		drop := len(s.recent) - maxLHS
		s.recent = s.recent[drop:]
		s.rpos = s.rpos[drop:]
		s.rspan = s.rspan[drop:]
	}

	for _, g := range s.Groups {
		n := len(g.LHS)
		if n == 0 || n > len(s.recent) {
			continue
		}
		tail := s.recent[len(s.recent)-n:]
		if !equalWords(tail, g.LHS) {
			continue
		}
		firstPos := s.rpos[len(s.rpos)-n]
		firstSpan := s.rspan[len(s.rspan)-n]
		if !s.Next.TakeWord(g.Canonical, firstPos, firstSpan) {
			return false
		}
	}
	return true
}

func equalWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *SynonymLink) NewPage() { s.Next.NewPage() }
func (s *SynonymLink) NewLine() { s.Next.NewLine() }
func (s *SynonymLink) Flush() {
	s.recent, s.rpos, s.rspan = nil, nil, nil
	s.Next.Flush()
}
func (s *SynonymLink) Discarded(term string, span splitter.ByteSpan, reason splitter.DiscardReason) {
	s.Next.Discarded(term, span, reason)
}

// StopListLink drops terms present in Stop before forwarding (spec §4.3
// step 3). Field-anchor sentinels are never stopped.
type StopListLink struct {
	Next Link
	Stop map[string]bool
}

func (l *StopListLink) TakeWord(term string, pos uint32, span splitter.ByteSpan) bool {
	if term == splitter.FieldStartTerm || term == splitter.FieldEndTerm || !l.Stop[term] {
		return l.Next.TakeWord(term, pos, span)
	}
	return true
}

func (l *StopListLink) NewPage() { l.Next.NewPage() }
func (l *StopListLink) NewLine() { l.Next.NewLine() }
func (l *StopListLink) Flush()   { l.Next.Flush() }
func (l *StopListLink) Discarded(term string, span splitter.ByteSpan, reason splitter.DiscardReason) {
	l.Next.Discarded(term, span, reason)
}

// EmitLink is the terminal link: it posts to a store.DocBuilder, adding
// both the field-prefixed and (unless PfxOnly) unprefixed posting for
// each term, plus a page-break term at each NewPage, with the rclmbreaks
// sidechannel recording runs of consecutive empty pages (spec §4.3 "For
// page breaks").
type EmitLink struct {
	Builder store.DocBuilder
	Traits  doc.FieldTraits
	// BasePos is added to every position this link emits (the
	// "basepos + pos" of spec §4.3 step 4), so distinct fields occupy
	// disjoint position ranges within the same document.
	BasePos uint32

	lastPos     uint32
	sawWord     bool
	pageBreaks  []doc.MBreak
	pendingPage bool
}

func (e *EmitLink) TakeWord(term string, pos uint32, _ splitter.ByteSpan) bool {
	abs := e.BasePos + pos
	e.lastPos = abs
	e.sawWord = true
	e.pendingPage = false

	if term == splitter.FieldStartTerm {
		e.Builder.AddPosting(doc.PrefixFieldStart, abs, 0)
		return true
	}
	if term == splitter.FieldEndTerm {
		e.Builder.AddPosting(doc.PrefixFieldEnd, abs, 0)
		return true
	}

	if e.Traits.Pfx != "" {
		e.Builder.AddPosting(e.Traits.Pfx+term, abs, e.Traits.Wdfinc)
	}
	if e.Traits.Pfx == "" || !e.Traits.PfxOnly {
		e.Builder.AddPosting(term, abs, e.Traits.Wdfinc)
	}
	return true
}

func (e *EmitLink) NewPage() {
	if e.pendingPage && len(e.pageBreaks) > 0 {
		// another page break at the same position as the last one: a
		// fully empty page. The store can't represent a second posting
		// at an identical position, so it is recorded as an extra count
		// on the previous break instead (spec §4.3, §9 open question).
		e.pageBreaks[len(e.pageBreaks)-1].Extra++
		return
	}
	e.Builder.AddPosting(doc.PrefixPageBreak, e.lastPos, 0)
	e.pageBreaks = append(e.pageBreaks, doc.MBreak{RelPos: e.lastPos, Extra: 0})
	e.pendingPage = true
}

func (e *EmitLink) NewLine() {}
func (e *EmitLink) Flush()   {}
func (e *EmitLink) Discarded(term string, span splitter.ByteSpan, reason splitter.DiscardReason) {}

// MBreaks returns the accumulated page-break sidechannel, for inclusion
// in the document's data record (rclmbreaks, spec §6).
func (e *EmitLink) MBreaks() []doc.MBreak { return e.pageBreaks }

// LastPos returns the absolute position of the last term this link
// emitted.
func (e *EmitLink) LastPos() uint32 { return e.lastPos }

// Chain wires the standard link order: Prep -> Synonyms -> StopList ->
// Emit (spec §4.3 "Standard links (ordered, indexing)").
func Chain(emit *EmitLink, stop map[string]bool, syn []SynGroup, stripChars bool) Link {
	var l Link = emit
	l = &StopListLink{Next: l, Stop: stop}
	l = &SynonymLink{Next: l, Groups: syn}
	l = &PrepLink{Next: l, StripChars: stripChars}
	return l
}
