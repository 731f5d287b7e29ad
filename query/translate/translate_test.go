package translate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmc/rclindex/config"
	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/indexer"
	"github.com/tmc/rclindex/query"
	"github.com/tmc/rclindex/store"
	"github.com/tmc/rclindex/store/memstore"
)

// stubExpander answers expansion lookups from canned maps, so tests
// don't need a real index behind the translator.
type stubExpander struct {
	wildcards map[string][]string
	stems     map[string][]string
	synonyms  map[string][]string
	freqs     map[string]int
}

func newStubExpander() *stubExpander {
	return &stubExpander{
		wildcards: map[string][]string{},
		stems:     map[string][]string{},
		synonyms:  map[string][]string{},
		freqs:     map[string]int{},
	}
}

func (s *stubExpander) ExpandWildcard(ctx context.Context, pattern string) ([]string, error) {
	return s.wildcards[pattern], nil
}
func (s *stubExpander) ExpandStem(ctx context.Context, term, lang string) ([]string, error) {
	return s.stems[term], nil
}
func (s *stubExpander) ExpandSynonyms(ctx context.Context, term string) ([]string, error) {
	return s.synonyms[term], nil
}
func (s *stubExpander) DocFrequency(ctx context.Context, term string) (int, error) {
	if f, ok := s.freqs[term]; ok {
		return f, nil
	}
	return 1000, nil
}

func newTranslator() (*Translator, *stubExpander) {
	cfg := config.Default()
	cfg.Fields = map[string]config.FieldConfig{
		"size": {ValueSlot: 2},
	}
	exp := newStubExpander()
	tr := New(cfg, exp, nil)
	return tr, exp
}

func countTerms(q store.Query, out *[]string) {
	if q.Kind == store.QTerm {
		*out = append(*out, q.Term)
		return
	}
	for _, s := range q.Sub {
		countTerms(s, out)
	}
}

func TestSimpleAndClauseCompiles(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "hello world"))

	q, hl, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QAnd, q.Kind)

	var terms []string
	countTerms(q, &terms)
	assert.Contains(t, terms, "hello")
	assert.Contains(t, terms, "world")
	assert.Contains(t, hl.UTerms, "hello")
	assert.Contains(t, hl.UTerms, "world")
}

func TestExcludeClauseBuildsAndNot(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "cat"))
	excl := query.NewClause(query.SCLT_AND, "", "dog")
	excl.Exclude = true
	sd.AddClause(excl)

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QAndNot, q.Kind)
}

func TestOrCompositeBuildsOr(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_OR)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "cat"))
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "dog"))

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QOr, q.Kind)
}

func TestPhraseClauseBuildsPhraseQuery(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	c := query.NewClause(query.SCLT_PHRASE, "", "pride and prejudice")
	c.Slack = 0
	sd.AddClause(c)

	q, hl, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QPhrase, q.Kind)
	require.Len(t, hl.IndexTermGroups, 1)
	assert.Equal(t, GroupPhrase, hl.IndexTermGroups[0].Kind)
}

func TestNearClauseBuildsNearQuery(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	c := query.NewClause(query.SCLT_NEAR, "", "pride prejudice")
	c.Slack = 3
	sd.AddClause(c)

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QNear, q.Kind)
	assert.Equal(t, 3, q.Slack)
}

func TestWildcardExpansionBuildsOrOfMatches(t *testing.T) {
	tr, exp := newTranslator()
	exp.wildcards["pre*"] = []string{"prejudice", "press", "presume"}

	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "pre*"))

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)

	var terms []string
	countTerms(q, &terms)
	assert.ElementsMatch(t, []string{"prejudice", "press", "presume"}, terms)
}

func TestWildcardExpansionOverflow(t *testing.T) {
	tr, exp := newTranslator()
	tr.Config.MaxTermExpand = 2
	exp.wildcards["a*"] = []string{"alpha", "beta", "gamma"}

	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "a*"))

	_, _, err := tr.Translate(context.Background(), sd)
	require.Error(t, err)
}

func TestCaseSensitiveTermSkipsStemExpansion(t *testing.T) {
	tr, exp := newTranslator()
	tr.StemLang = "english"
	tr.Config.IndexStripChars = false
	exp.stems["McDonald"] = []string{"mcdonald"}

	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "McDonald"))

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)

	var terms []string
	countTerms(q, &terms)
	assert.Equal(t, []string{"McDonald"}, terms, "non-initial uppercase disables stemming and folding")
}

func TestLowercaseTermExpandsWithStems(t *testing.T) {
	tr, exp := newTranslator()
	tr.StemLang = "english"
	exp.stems["running"] = []string{"run", "runner"}

	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "running"))

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)

	var terms []string
	countTerms(q, &terms)
	assert.ElementsMatch(t, []string{"running", "run", "runner"}, terms)
}

func TestAnchorMarkersAreStrippedFromTerm(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "^hello$"))

	q, hl, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)

	var terms []string
	countTerms(q, &terms)
	assert.Equal(t, []string{"hello"}, terms)
	assert.Contains(t, hl.UTerms, "hello")
}

func TestRangeClauseBuildsValueRange(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	c := query.NewClause(query.SCLT_RANGE, "size", "100..5000")
	sd.AddClause(c)

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QValueRange, q.Kind)
	assert.Equal(t, 2, q.Slot)
}

func TestRangeClauseUnknownFieldErrors(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_RANGE, "nosuchfield", "1..2"))

	_, _, err := tr.Translate(context.Background(), sd)
	require.Error(t, err)
}

func TestPathClauseAnchorsAtRootForAbsolutePath(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_PATH, "", "/home/user/doc"))

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QPhrase, q.Kind)
	require.NotEmpty(t, q.Sub)
	assert.Equal(t, "XP", q.Sub[0].Term)
}

func TestFilenameClauseWithWildcard(t *testing.T) {
	tr, exp := newTranslator()
	exp.wildcards["*.pdf"] = []string{"report.pdf", "invoice.pdf"}

	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_FILENAME, "", "*.pdf"))

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QOr, q.Kind)
}

func TestMimeFiltersBecomeFiltersAndExclusions(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "report"))
	sd.Types = query.MimeFilter{Include: []string{"text/plain"}, Exclude: []string{"image/jpeg"}}

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QAndNot, q.Kind, "exclude is applied last, outermost")
}

func TestMaxXapianClausesExceeded(t *testing.T) {
	tr, _ := newTranslator()
	tr.Config.MaxXapianClauses = 1
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "one two three"))

	_, _, err := tr.Translate(context.Background(), sd)
	require.Error(t, err)
}

func TestEmptySearchDataMatchesAll(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QMatchAll, q.Kind)
}

func TestDateRangeFiltersOnDateSlot(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "report"))
	sd.Date = query.DateRange{Min: "20200101", Max: "20201231"}

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	require.Equal(t, store.QFilter, q.Kind)
	filter := q.Sub[1]
	require.Equal(t, store.QValueRange, filter.Kind)
	assert.Equal(t, doc.SlotDate, filter.Slot)
}

func TestBirthDateRangeFiltersOnBirthDateSlot(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "report"))
	sd.BirthDate = query.DateRange{Min: "20200101", Max: "20201231"}

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	require.Equal(t, store.QFilter, q.Kind)
	filter := q.Sub[1]
	require.Equal(t, store.QValueRange, filter.Kind)
	assert.Equal(t, doc.SlotBirthDate, filter.Slot)
}

func TestSubDocsAnyAddsNoFilter(t *testing.T) {
	tr, _ := newTranslator()
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "report"))
	sd.SubDocs = query.SubDocAny

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.NotEqual(t, store.QAndNot, q.Kind)
	assert.NotEqual(t, store.QFilter, q.Kind)
}

func setupSubDocsStore(t *testing.T) store.Store {
	t.Helper()
	st := memstore.New()
	cfg := config.Default()
	ix := indexer.New(st, cfg, nil)
	ctx := context.Background()
	require.NoError(t, ix.AddOrUpdate(ctx, indexer.Doc{
		UDI: "udi-top", Sig: "s1", URL: "file:///a", Filename: "a.txt", Body: "report",
	}))
	require.NoError(t, ix.AddOrUpdate(ctx, indexer.Doc{
		UDI: "udi-child", ParentUDI: "udi-top", Sig: "s2", URL: "file:///a/1", Filename: "1.txt", Body: "report",
	}))
	return st
}

func TestSubDocsTopOnlyExcludesChildren(t *testing.T) {
	st := setupSubDocsStore(t)
	tr := New(config.Default(), newStubExpander(), st)
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "report"))
	sd.SubDocs = query.SubDocTopOnly

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QAndNot, q.Kind)
}

func TestSubDocsSubOnlyFiltersToChildren(t *testing.T) {
	st := setupSubDocsStore(t)
	tr := New(config.Default(), newStubExpander(), st)
	sd := query.New(query.SCLT_AND)
	sd.AddClause(query.NewClause(query.SCLT_AND, "", "report"))
	sd.SubDocs = query.SubDocSubOnly

	q, _, err := tr.Translate(context.Background(), sd)
	require.NoError(t, err)
	assert.Equal(t, store.QFilter, q.Kind)
}
