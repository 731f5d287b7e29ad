package termpipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/splitter"
	"github.com/tmc/rclindex/store"
	"github.com/tmc/rclindex/store/memstore"
)

func newBuilder(s *memstore.Store) store.DocBuilder {
	return s.NewDocument()
}

func TestPrepLinkFoldsCase(t *testing.T) {
	s := memstore.New()
	b := newBuilder(s)
	emit := &EmitLink{Builder: b, Traits: doc.FieldTraits{}}
	chain := Chain(emit, nil, nil, true)

	require.True(t, splitter.New(splitter.Options{}).Split("CAFÉ", chain))
	chain.Flush()

	id, err := s.ReplaceDocument(nil, "U/1", b)
	require.NoError(t, err)
	_ = id

	// folded+unaccented form must be posted
	pl, err := s.PostlistBegin(nil, "cafe")
	require.NoError(t, err)
	assert.True(t, pl.Next())
}

func TestStopListDropsTerm(t *testing.T) {
	s := memstore.New()
	b := newBuilder(s)
	emit := &EmitLink{Builder: b, Traits: doc.FieldTraits{}}
	chain := Chain(emit, map[string]bool{"the": true}, nil, false)

	require.True(t, splitter.New(splitter.Options{}).Split("the cat sat", chain))
	chain.Flush()
	s.ReplaceDocument(nil, "U/1", b)

	pl, _ := s.PostlistBegin(nil, "the")
	assert.False(t, pl.Next())
	pl, _ = s.PostlistBegin(nil, "cat")
	assert.True(t, pl.Next())
}

func TestSynonymLinkEmitsCanonical(t *testing.T) {
	s := memstore.New()
	b := newBuilder(s)
	emit := &EmitLink{Builder: b, Traits: doc.FieldTraits{}}
	groups := []SynGroup{{LHS: []string{"new", "york"}, Canonical: "nyc"}}
	chain := Chain(emit, nil, groups, false)

	require.True(t, splitter.New(splitter.Options{}).Split("new york city", chain))
	chain.Flush()
	s.ReplaceDocument(nil, "U/1", b)

	pl, _ := s.PostlistBegin(nil, "nyc")
	assert.True(t, pl.Next())
}

func TestEmitLinkAddsPrefixedAndUnprefixed(t *testing.T) {
	s := memstore.New()
	b := newBuilder(s)
	emit := &EmitLink{Builder: b, Traits: doc.FieldTraits{Pfx: "S", Wdfinc: 1}}
	chain := Chain(emit, nil, nil, false)

	require.True(t, splitter.New(splitter.Options{}).Split("title", chain))
	chain.Flush()
	s.ReplaceDocument(nil, "U/1", b)

	pl, _ := s.PostlistBegin(nil, "Stitle")
	assert.True(t, pl.Next())
	pl2, _ := s.PostlistBegin(nil, "title")
	assert.True(t, pl2.Next())
}

func TestEmitLinkPfxOnlySuppressesUnprefixed(t *testing.T) {
	s := memstore.New()
	b := newBuilder(s)
	emit := &EmitLink{Builder: b, Traits: doc.FieldTraits{Pfx: "S", Wdfinc: 1, PfxOnly: true}}
	chain := Chain(emit, nil, nil, false)

	require.True(t, splitter.New(splitter.Options{}).Split("title", chain))
	chain.Flush()
	s.ReplaceDocument(nil, "U/1", b)

	pl, _ := s.PostlistBegin(nil, "title")
	assert.False(t, pl.Next())
}

func TestEmitLinkRecordsEmptyPageRuns(t *testing.T) {
	emit := &EmitLink{Builder: memstore.New().NewDocument()}
	emit.TakeWord("a", 0, splitter.ByteSpan{})
	emit.NewPage()
	emit.NewPage()
	emit.NewPage()
	breaks := emit.MBreaks()
	require.Len(t, breaks, 1)
	assert.Equal(t, 2, breaks[0].Extra, "two extra empty pages beyond the first break")
}
