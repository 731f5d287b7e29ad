package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmc/rclindex/store"
)

// newTestStore connects to PGSTORE_TEST_DSN, the same "skip unless a real
// server is configured" convention as sqltest.NewFixture's SQLSERVER_DSN:
// this backend has no in-process fake to exercise against, so these tests
// are integration-only and skipped by default.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PGSTORE_TEST_DSN")
	if dsn == "" {
		t.Skip("PGSTORE_TEST_DSN not set, skipping pgstore integration test")
	}
	st, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func addDoc(t *testing.T, st *Store, uniterm string, terms map[string][]uint32, values map[int]string) store.DocID {
	t.Helper()
	b := st.NewDocument()
	for term, positions := range terms {
		for _, p := range positions {
			b.AddPosting(term, p, 1)
		}
	}
	for slot, v := range values {
		b.AddValue(slot, v)
	}
	id, err := st.ReplaceDocument(context.Background(), uniterm, b)
	require.NoError(t, err)
	return id
}

func TestReplaceDocumentAndPostlistRoundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id := addDoc(t, st, "Qroundtrip1", map[string][]uint32{"hello": {0, 5}}, nil)

	pl, err := st.PostlistBegin(ctx, "hello")
	require.NoError(t, err)
	require.True(t, pl.Next())
	require.Equal(t, id, pl.DocID())

	positions, err := st.PositionlistBegin(ctx, id, "hello")
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 5}, positions)
}

func TestReplaceDocumentIsIdempotentByUniterm(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id1 := addDoc(t, st, "Qidem1", map[string][]uint32{"alpha": {0}}, nil)
	id2 := addDoc(t, st, "Qidem1", map[string][]uint32{"beta": {0}}, nil)
	require.Equal(t, id1, id2)

	pl, err := st.PostlistBegin(ctx, "alpha")
	require.NoError(t, err)
	require.False(t, pl.Next())

	pl, err = st.PostlistBegin(ctx, "beta")
	require.NoError(t, err)
	require.True(t, pl.Next())
}

func TestRunScoresAndOfTwoTerms(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addDoc(t, st, "Qrun1", map[string][]uint32{"cat": {0}, "dog": {1}}, nil)
	addDoc(t, st, "Qrun2", map[string][]uint32{"cat": {0}}, nil)

	q := store.And(store.Term("cat"), store.Term("dog"))
	hits, err := st.Run(ctx, q, store.SortSpec{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestRunPhraseRequiresAdjacency(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addDoc(t, st, "Qphrase1", map[string][]uint32{"red": {0}, "fox": {1}}, nil)
	addDoc(t, st, "Qphrase2", map[string][]uint32{"red": {0}, "fox": {5}}, nil)

	q := store.Phrase(0, store.Term("red"), store.Term("fox"))
	hits, err := st.Run(ctx, q, store.SortSpec{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestRunValueRangeFiltersBySlot(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addDoc(t, st, "Qvalue1", map[string][]uint32{"doc": {0}}, map[int]string{2: "000000000100"})
	addDoc(t, st, "Qvalue2", map[string][]uint32{"doc": {0}}, map[int]string{2: "000000009000"})

	q := store.ValueRange(2, "000000000000", "000000001000")
	hits, err := st.Run(ctx, q, store.SortSpec{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestListTermsWithPrefixFindsAllMatches(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	addDoc(t, st, "Qprefix1", map[string][]uint32{"catXYZ": {0}, "catalogXYZ": {0}, "dogXYZ": {0}}, nil)

	terms, err := st.ListTermsWithPrefix(ctx, "cat")
	require.NoError(t, err)
	require.Len(t, terms, 2)
}

func TestMetadataRoundtrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetMetadata(ctx, "k1", []byte("v1")))
	v, err := st.GetMetadata(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	missing, err := st.GetMetadata(ctx, "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestDeleteDocumentRemovesPostings(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	id := addDoc(t, st, "Qdelete1", map[string][]uint32{"gone": {0}}, nil)
	require.NoError(t, st.DeleteDocument(ctx, id))

	pl, err := st.PostlistBegin(ctx, "gone")
	require.NoError(t, err)
	require.False(t, pl.Next())
}
