package splitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type token struct {
	Term string
	Pos  uint32
	Span ByteSpan
}

type recorder struct {
	tokens    []token
	pages     int
	lines     int
	discarded []string
}

func (r *recorder) TakeWord(term string, pos uint32, span ByteSpan) bool {
	r.tokens = append(r.tokens, token{term, pos, span})
	return true
}
func (r *recorder) NewPage() { r.pages++ }
func (r *recorder) NewLine() { r.lines++ }
func (r *recorder) Discarded(term string, span ByteSpan, reason DiscardReason) {
	r.discarded = append(r.discarded, term)
}

func terms(r *recorder) (out []string) {
	for _, t := range r.tokens {
		out = append(out, t.Term)
	}
	return
}

func TestSplitWordsAndSpans(t *testing.T) {
	s := New(Options{Mode: ModeWordsAndSpans})
	r := &recorder{}
	ok := s.Split("pride and prejudice is a novel", r)
	require.True(t, ok)
	assert.Equal(t, []string{"pride", "and", "prejudice", "is", "a", "novel"}, terms(r))
}

func TestSplitCompoundSpan(t *testing.T) {
	s := New(Options{Mode: ModeWordsAndSpans})
	r := &recorder{}
	ok := s.Split("a.b@c", r)
	require.True(t, ok)
	// words a, b, c plus the enclosing span a.b@c
	assert.Contains(t, terms(r), "a")
	assert.Contains(t, terms(r), "b")
	assert.Contains(t, terms(r), "c")
	assert.Contains(t, terms(r), "a.b@c")
}

func TestSplitSpansOnlyHidesWords(t *testing.T) {
	s := New(Options{Mode: ModeSpansOnly})
	r := &recorder{}
	ok := s.Split("2024-01-31", r)
	require.True(t, ok)
	assert.Equal(t, []string{"2024-01-31"}, terms(r))
}

func TestSplitWordsOnlyHidesSpan(t *testing.T) {
	s := New(Options{Mode: ModeWordsOnly})
	r := &recorder{}
	ok := s.Split("word1_word2", r)
	require.True(t, ok)
	assert.Equal(t, []string{"word1", "word2"}, terms(r))
}

func TestSplitNoNumbers(t *testing.T) {
	s := New(Options{Mode: ModeWordsAndSpans, NoNumbers: true})
	r := &recorder{}
	ok := s.Split("room 42 is empty", r)
	require.True(t, ok)
	assert.NotContains(t, terms(r), "42")
	assert.Contains(t, r.discarded, "42")
}

func TestSplitMaxWordLength(t *testing.T) {
	long := strings.Repeat("x", 60)
	s := New(Options{Mode: ModeWordsAndSpans, MaxWordLength: 50})
	r := &recorder{}
	ok := s.Split("short "+long+" end", r)
	require.True(t, ok)
	assert.NotContains(t, terms(r), long)
	assert.Contains(t, r.discarded, long)
}

func TestSplitNewPageNewLine(t *testing.T) {
	s := New(Options{})
	r := &recorder{}
	ok := s.Split("one\ntwo\fthree", r)
	require.True(t, ok)
	assert.Equal(t, 1, r.lines)
	assert.Equal(t, 1, r.pages)
}

func TestSplitAbortsOnFalse(t *testing.T) {
	s := New(Options{})
	aborter := &abortSink{}
	ok := s.Split("one two three", aborter)
	assert.False(t, ok)
	assert.Equal(t, 1, aborter.seen)
}

type abortSink struct {
	seen int
}

func (a *abortSink) TakeWord(term string, pos uint32, span ByteSpan) bool {
	a.seen++
	return false
}
func (a *abortSink) NewPage() {}
func (a *abortSink) NewLine() {}
func (a *abortSink) Discarded(term string, span ByteSpan, reason DiscardReason) {
}

func TestByteSpansReconstructSource(t *testing.T) {
	// every word emitted in ModeWordsOnly carries a byte span whose slice
	// of the source text is exactly the emitted term.
	text := "hello, world! 2024-01-31 end"
	s := New(Options{Mode: ModeWordsOnly})
	r := &recorder{}
	ok := s.Split(text, r)
	require.True(t, ok)
	require.NotEmpty(t, r.tokens)
	for _, tok := range r.tokens {
		assert.Equal(t, tok.Term, text[tok.Span.Start:tok.Span.End])
	}
}

func TestKeepWildPreservesWildcardSpan(t *testing.T) {
	s := New(Options{Mode: ModeSpansOnly, KeepWild: true})
	r := &recorder{}
	ok := s.Split("foo*bar", r)
	require.True(t, ok)
	assert.Contains(t, terms(r), "foo*bar")
}

func TestSplitFieldAddsAnchors(t *testing.T) {
	s := New(Options{})
	r := &recorder{}
	ok := SplitField(s, "hello world", r)
	require.True(t, ok)
	all := terms(r)
	require.True(t, len(all) >= 2)
	assert.Equal(t, FieldStartTerm, all[0])
	assert.Equal(t, FieldEndTerm, all[len(all)-1])
}
