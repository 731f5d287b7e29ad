package snippet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmc/rclindex/config"
	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/indexer"
	"github.com/tmc/rclindex/query"
	"github.com/tmc/rclindex/query/translate"
	"github.com/tmc/rclindex/store"
	"github.com/tmc/rclindex/store/memstore"
)

type noopExpander struct{}

func (noopExpander) ExpandWildcard(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}
func (noopExpander) ExpandStem(ctx context.Context, term, lang string) ([]string, error) {
	return nil, nil
}
func (noopExpander) ExpandSynonyms(ctx context.Context, term string) ([]string, error) {
	return nil, nil
}
func (noopExpander) DocFrequency(ctx context.Context, term string) (int, error) { return 1000, nil }

func setup(t *testing.T, body string) (store.Store, store.DocID, string) {
	t.Helper()
	st := memstore.New()
	cfg := config.Default()
	ix := indexer.New(st, cfg, nil)

	d := indexer.Doc{
		UDI: "udi1", Sig: "sig1", URL: "file:///a.txt",
		Filename: "a.txt", Mimetype: "text/plain", Body: body,
	}
	require.NoError(t, ix.AddOrUpdate(context.Background(), d))

	pl, err := st.PostlistBegin(context.Background(), doc.UDI("udi1").Uniterm())
	require.NoError(t, err)
	require.True(t, pl.Next())
	return st, pl.DocID(), doc.UDI("udi1").Uniterm()
}

func TestBuildSnippetsFindsMatchAroundTerm(t *testing.T) {
	st, id, uniterm := setup(t, "pride and prejudice is a novel about love and family")

	cfg := config.Default()
	tr := translate.New(cfg, noopExpander{}, st)
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "prejudice"))
	_, hl, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)

	b := New(st)
	res, err := b.BuildSnippets(context.Background(), id, uniterm, hl, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Snippets)
	assert.Contains(t, res.Snippets[0].Text, "prejudice")
	assert.False(t, res.Truncated)
}

func TestBuildSnippetsPhraseGetsGroupBonus(t *testing.T) {
	st, id, uniterm := setup(t, "pride and prejudice is a novel about love and family, pride being separate from prejudice elsewhere")

	cfg := config.Default()
	tr := translate.New(cfg, noopExpander{}, st)
	sd := query.New(query.SCLT_AND)
	c := query.NewClause(query.SCLT_PHRASE, "", "pride and prejudice")
	c.Slack = 0
	sd.AddClause(c)
	_, hl, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)

	b := New(st)
	res, err := b.BuildSnippets(context.Background(), id, uniterm, hl, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Snippets)
	// the fragment overlapping the adjacent "pride and prejudice" phrase
	// should outrank the fragment around the lone, later "prejudice".
	assert.Contains(t, res.Snippets[0].Text, "pride")
}

func TestBuildSnippetsPageIsOneWithNoPageBreaks(t *testing.T) {
	st, id, uniterm := setup(t, "pride and prejudice is a novel about love and family")

	cfg := config.Default()
	tr := translate.New(cfg, noopExpander{}, st)
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "pride prejudice"))
	_, hl, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)

	b := New(st)
	res, err := b.BuildSnippets(context.Background(), id, uniterm, hl, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Snippets)
	assert.Contains(t, res.Snippets[0].Text, "pride")
	assert.Contains(t, res.Snippets[0].Text, "prejudice")
	assert.Equal(t, 1, res.Snippets[0].Page)
}

func TestBuildSnippetsNoStoredTextReturnsEmpty(t *testing.T) {
	st := memstore.New()
	cfg := config.Default()
	ix := indexer.New(st, cfg, nil)
	require.NoError(t, ix.AddOrUpdate(context.Background(), indexer.Doc{
		UDI: "udi2", Sig: "s", URL: "u", Filename: "f.txt",
	}))
	pl, err := st.PostlistBegin(context.Background(), doc.UDI("udi2").Uniterm())
	require.NoError(t, err)
	require.True(t, pl.Next())

	b := New(st)
	hl := &translate.HighlightData{Terms: map[string]string{}}
	res, err := b.BuildSnippets(context.Background(), pl.DocID(), doc.UDI("udi2").Uniterm(), hl, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Snippets)
}

func TestPageForPositionAccountsForExtraEmptyPages(t *testing.T) {
	breaks := []doc.MBreak{{RelPos: 10, Extra: 2}, {RelPos: 30, Extra: 0}}
	assert.Equal(t, 1, pageForPosition(breaks, 5))
	assert.Equal(t, 4, pageForPosition(breaks, 15))
	assert.Equal(t, 5, pageForPosition(breaks, 35))
}

func TestPageForPositionIsOneWithNoPageBreaks(t *testing.T) {
	assert.Equal(t, 1, pageForPosition(nil, 5))
}
