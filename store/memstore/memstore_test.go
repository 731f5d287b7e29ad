package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmc/rclindex/store"
)

func addDoc(t *testing.T, s *Store, uniterm string, words ...string) store.DocID {
	t.Helper()
	b := s.NewDocument()
	for i, w := range words {
		b.AddPosting(w, uint32(i), 1)
	}
	id, err := s.ReplaceDocument(context.Background(), uniterm, b)
	require.NoError(t, err)
	return id
}

func TestReplaceDocumentCreatesThenReplaces(t *testing.T) {
	s := New()
	id1 := addDoc(t, s, "U/doc1", "alpha", "beta")
	id2 := addDoc(t, s, "U/doc1", "gamma")
	assert.Equal(t, id1, id2, "same uniterm replaces in place, docid is stable")

	n, err := s.DocCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pl, err := s.PostlistBegin(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, pl.Next(), "alpha's posting should be gone after replace")
}

func TestDeleteDocumentRemovesFromPostlist(t *testing.T) {
	s := New()
	id := addDoc(t, s, "U/doc1", "alpha")
	require.NoError(t, s.DeleteDocument(context.Background(), id))

	pl, err := s.PostlistBegin(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, pl.Next())

	n, err := s.DocCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunTermQuery(t *testing.T) {
	s := New()
	a := addDoc(t, s, "U/a", "pride", "and", "prejudice")
	addDoc(t, s, "U/b", "sense", "and", "sensibility")

	hits, err := s.Run(context.Background(), store.Term("prejudice"), store.SortSpec{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a, hits[0].DocID)
}

func TestRunAndOr(t *testing.T) {
	s := New()
	a := addDoc(t, s, "U/a", "pride", "prejudice")
	b := addDoc(t, s, "U/b", "sense", "sensibility")

	hits, err := s.Run(context.Background(), store.And(store.Term("pride"), store.Term("prejudice")), store.SortSpec{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a, hits[0].DocID)

	hits, err = s.Run(context.Background(), store.Or(store.Term("pride"), store.Term("sense")), store.SortSpec{}, 10)
	require.NoError(t, err)
	ids := []store.DocID{hits[0].DocID, hits[1].DocID}
	assert.ElementsMatch(t, []store.DocID{a, b}, ids)
}

func TestRunAndNot(t *testing.T) {
	s := New()
	addDoc(t, s, "U/a", "pride", "prejudice")
	b := addDoc(t, s, "U/b", "pride", "rock")

	hits, err := s.Run(context.Background(), store.AndNot(store.Term("pride"), store.Term("prejudice")), store.SortSpec{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, b, hits[0].DocID)
}

// TestRunPhraseVsNear exercises spec §8's proximity scenario: doc A has
// "pride" and "prejudice" adjacent, doc B has them far apart. A phrase
// query with zero slack must match only A; a NEAR query with enough
// slack must match both, ranking A higher.
func TestRunPhraseVsNear(t *testing.T) {
	s := New()
	a := addDoc(t, s, "U/a", "pride", "and", "prejudice", "is", "a", "novel")
	b := addDoc(t, s, "U/b", "prejudice", "can", "turn", "to", "pride")

	phrase := store.Phrase(0, store.Term("pride"), store.Term("prejudice"))
	hits, err := s.Run(context.Background(), phrase, store.SortSpec{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 0, "pride and prejudice are not adjacent in either doc")

	adjacentPhrase := store.Phrase(1, store.Term("pride"), store.Term("prejudice"))
	hits, err = s.Run(context.Background(), adjacentPhrase, store.SortSpec{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a, hits[0].DocID)

	near := store.Near(3, store.Term("pride"), store.Term("prejudice"))
	hits, err = s.Run(context.Background(), near, store.SortSpec{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	ids := []store.DocID{hits[0].DocID, hits[1].DocID}
	assert.ElementsMatch(t, []store.DocID{a, b}, ids)
	assert.Equal(t, a, hits[0].DocID, "closer adjacency should score higher")
}

func TestRunValueRange(t *testing.T) {
	s := New()
	b1 := s.NewDocument()
	b1.AddPosting("term", 0, 1)
	b1.AddValue(1, "2020")
	id1, err := s.ReplaceDocument(context.Background(), "U/1", b1)
	require.NoError(t, err)

	b2 := s.NewDocument()
	b2.AddPosting("term", 0, 1)
	b2.AddValue(1, "2024")
	_, err = s.ReplaceDocument(context.Background(), "U/2", b2)
	require.NoError(t, err)

	hits, err := s.Run(context.Background(), store.ValueRange(1, "2019", "2021"), store.SortSpec{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id1, hits[0].DocID)
}

func TestRunScaleWeight(t *testing.T) {
	s := New()
	addDoc(t, s, "U/a", "pride")

	base, err := s.Run(context.Background(), store.Term("pride"), store.SortSpec{}, 10)
	require.NoError(t, err)
	scaled, err := s.Run(context.Background(), store.ScaleWeight(store.Term("pride"), 2), store.SortSpec{}, 10)
	require.NoError(t, err)
	require.Len(t, base, 1)
	require.Len(t, scaled, 1)
	assert.InDelta(t, base[0].Score*2, scaled[0].Score, 1e-9)
}

func TestRunSortBySlotAscending(t *testing.T) {
	s := New()
	older := s.NewDocument()
	older.AddPosting("term", 0, 1)
	older.AddValue(1, "2020")
	idOld, err := s.ReplaceDocument(context.Background(), "U/old", older)
	require.NoError(t, err)

	newer := s.NewDocument()
	newer.AddPosting("term", 0, 1)
	newer.AddValue(1, "2024")
	idNew, err := s.ReplaceDocument(context.Background(), "U/new", newer)
	require.NoError(t, err)

	hits, err := s.Run(context.Background(), store.Term("term"), store.SortSpec{BySlot: 1, Ascending: true}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, idOld, hits[0].DocID)
	assert.Equal(t, idNew, hits[1].DocID)
}

func TestListTermsWithPrefixFindsAllMatches(t *testing.T) {
	s := New()
	addDoc(t, s, "U/doc1", "cat", "catalog", "dog")

	terms, err := s.ListTermsWithPrefix(context.Background(), "cat")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cat", "catalog"}, terms)
}

func TestMetadataRoundTrip(t *testing.T) {
	s := New()
	require.NoError(t, s.SetMetadata(context.Background(), "stemdb-en", []byte("v3")))
	v, err := s.GetMetadata(context.Background(), "stemdb-en")
	require.NoError(t, err)
	assert.Equal(t, []byte("v3"), v)
}
