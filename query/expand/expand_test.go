package expand

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmc/rclindex/store/memstore"
)

func TestExpandWildcardMatchesGlob(t *testing.T) {
	st := memstore.New()
	b := st.NewDocument()
	b.AddPosting("catalog", 0, 1)
	b.AddPosting("category", 1, 1)
	b.AddPosting("dog", 2, 1)
	_, err := st.ReplaceDocument(context.Background(), "U/1", b)
	require.NoError(t, err)

	e := New(st, nil)
	got, err := e.ExpandWildcard(context.Background(), "cat*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"catalog", "category"}, got)
}

func TestExpandStemStripsPluralAndGerund(t *testing.T) {
	e := New(nil, nil)

	stems, err := e.ExpandStem(context.Background(), "running", "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"runn"}, stems)

	stems, err = e.ExpandStem(context.Background(), "cats", "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"cat"}, stems)
}

func TestExpandStemSkipsUnsupportedLanguage(t *testing.T) {
	e := New(nil, nil)
	stems, err := e.ExpandStem(context.Background(), "chiens", "fr")
	require.NoError(t, err)
	assert.Empty(t, stems)
}

func TestExpandSynonymsLooksUpTable(t *testing.T) {
	e := New(nil, map[string][]string{"big": {"large", "huge"}})
	syns, err := e.ExpandSynonyms(context.Background(), "big")
	require.NoError(t, err)
	assert.Equal(t, []string{"large", "huge"}, syns)
}

func TestDocFrequencyCountsPostlist(t *testing.T) {
	st := memstore.New()
	for i := 0; i < 3; i++ {
		b := st.NewDocument()
		b.AddPosting("shared", 0, 1)
		_, err := st.ReplaceDocument(context.Background(), "U/"+string(rune('a'+i)), b)
		require.NoError(t, err)
	}
	e := New(st, nil)
	n, err := e.DocFrequency(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
