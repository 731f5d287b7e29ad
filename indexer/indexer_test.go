package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmc/rclindex/config"
	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/store"
	"github.com/tmc/rclindex/store/memstore"
)

func newIndexer(t *testing.T) (*Indexer, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	cfg := config.Default()
	cfg.Fields = map[string]config.FieldConfig{
		"title": {Prefix: "S", Wdfinc: 10, Stored: true},
	}
	return New(st, cfg, nil), st
}

func TestNeedUpdateSignatureProtocol(t *testing.T) {
	ix, _ := newIndexer(t)
	ctx := context.Background()

	need, err := ix.NeedUpdate(ctx, "udi1", "sigA")
	require.NoError(t, err)
	assert.True(t, need)

	require.NoError(t, ix.AddOrUpdate(ctx, Doc{
		UDI: "udi1", Sig: "sigA", URL: "file:///udi1", Filename: "a.txt", Body: "hello world",
	}))

	need, err = ix.NeedUpdate(ctx, "udi1", "sigA")
	require.NoError(t, err)
	assert.False(t, need, "same sig: not updated")

	need, err = ix.NeedUpdate(ctx, "udi1", "sigB")
	require.NoError(t, err)
	assert.True(t, need, "different sig: update")
}

func TestAddOrUpdateIsIdempotentForSameUniterm(t *testing.T) {
	ix, st := newIndexer(t)
	ctx := context.Background()

	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "udi1", Sig: "sigA", URL: "u", Filename: "a.txt", Body: "pride and prejudice"}))
	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "udi1", Sig: "sigA", URL: "u", Filename: "a.txt", Body: "pride and prejudice"}))

	n, err := st.DocCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pl, err := st.PostlistBegin(ctx, doc.UDI("udi1").Uniterm())
	require.NoError(t, err)
	count := 0
	for pl.Next() {
		count++
	}
	assert.Equal(t, 1, count, "exactly one uniterm posting")
}

func TestAddOrUpdateEmitsBooleanTerms(t *testing.T) {
	ix, st := newIndexer(t)
	ctx := context.Background()

	require.NoError(t, ix.AddOrUpdate(ctx, Doc{
		UDI: "udi1", Sig: "sigA", URL: "file:///a/b.txt", Mimetype: "text/plain",
		Filename: "b.txt", Body: "content",
	}))

	for _, term := range []string{
		doc.UDI("udi1").Uniterm(),
		doc.PrefixMimetype + "text/plain",
		doc.PrefixExtension + "txt",
	} {
		pl, err := st.PostlistBegin(ctx, term)
		require.NoError(t, err)
		assert.True(t, pl.Next(), "expected posting for term %q", term)
	}
}

func TestAddOrUpdateParentChildRelationship(t *testing.T) {
	ix, st := newIndexer(t)
	ctx := context.Background()

	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "container", Sig: "sigA", URL: "u", Filename: "c.zip", Body: "container text"}))
	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "container|1", ParentUDI: "container", Sig: "sigA", URL: "u", Filename: "c.zip", Body: "member one"}))

	pl, err := st.PostlistBegin(ctx, doc.UDI("container").ParentTerm())
	require.NoError(t, err)
	require.True(t, pl.Next(), "parent term's postlist should include the subdoc")
}

func TestHasChildrenMarksTheContainerDocumentItself(t *testing.T) {
	ix, st := newIndexer(t)
	ctx := context.Background()

	require.NoError(t, ix.AddOrUpdate(ctx, Doc{
		UDI: "container", Sig: "sigA", URL: "u", Filename: "c.zip", Body: "container text", HasChildren: true,
	}))
	require.NoError(t, ix.AddOrUpdate(ctx, Doc{
		UDI: "container|1", ParentUDI: "container", Sig: "sigA", URL: "u", Filename: "c.zip", Body: "member one",
	}))

	pl, err := st.PostlistBegin(ctx, doc.PrefixHasChild)
	require.NoError(t, err)
	require.True(t, pl.Next(), "the flat has-children term should be posted")
	assert.Equal(t, pl.DocID(), mustDocID(ctx, t, st, "container"))
	assert.False(t, pl.Next(), "only the container carries the has-children term, not its child")
}

func mustDocID(ctx context.Context, t *testing.T, st store.Store, udi string) store.DocID {
	t.Helper()
	pl, err := st.PostlistBegin(ctx, doc.UDI(udi).Uniterm())
	require.NoError(t, err)
	require.True(t, pl.Next())
	return pl.DocID()
}

func TestAddDateTermsWritesDateAndBirthDateValueSlots(t *testing.T) {
	ix, st := newIndexer(t)
	ctx := context.Background()

	require.NoError(t, ix.AddOrUpdate(ctx, Doc{
		UDI: "udi1", Sig: "sigA", URL: "u", Filename: "a.txt", Body: "content",
		DMtime:    time.Date(2021, time.March, 5, 0, 0, 0, 0, time.UTC),
		BirthTime: time.Date(2019, time.January, 2, 0, 0, 0, 0, time.UTC),
	}))

	id := mustDocID(ctx, t, st, "udi1")

	v, ok, err := st.GetValue(ctx, id, doc.SlotDate)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20210305", v)

	v, ok, err = st.GetValue(ctx, id, doc.SlotBirthDate)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "20190102", v)
}

func TestPurgeOrphansDeletesStaleSubdoc(t *testing.T) {
	ix, st := newIndexer(t)
	ctx := context.Background()

	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "C", Sig: "sig1", URL: "u", Filename: "c.zip", Body: "container"}))
	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "C|1", ParentUDI: "C", Sig: "sig1", URL: "u", Filename: "c.zip", Body: "member one"}))
	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "C|2", ParentUDI: "C", Sig: "sig1", URL: "u", Filename: "c.zip", Body: "member two"}))

	// re-index C with a new sig, and only re-add C|1 under that sig
	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "C", Sig: "sig2", URL: "u", Filename: "c.zip", Body: "container v2"}))
	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "C|1", ParentUDI: "C", Sig: "sig2", URL: "u", Filename: "c.zip", Body: "member one v2"}))

	deleted, err := ix.PurgeOrphans(ctx, "C", "sig2")
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	n, err := st.DocCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "C and C|1 remain, C|2 is gone")
}

func TestPurgeDeletesUnseenDocuments(t *testing.T) {
	ix, st := newIndexer(t)
	ctx := context.Background()

	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "keep", Sig: "s", URL: "u", Filename: "a.txt", Body: "kept"}))
	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "drop", Sig: "s", URL: "u", Filename: "b.txt", Body: "dropped"}))

	ix.ResetSeen()
	// simulate a walk that only re-touches "keep"
	_, err := ix.NeedUpdate(ctx, "keep", "s")
	require.NoError(t, err)

	var all []store.DocID
	pl, _ := st.PostlistBegin(ctx, doc.UDI("keep").Uniterm())
	for pl.Next() {
		all = append(all, pl.DocID())
	}
	pl2, _ := st.PostlistBegin(ctx, doc.UDI("drop").Uniterm())
	for pl2.Next() {
		all = append(all, pl2.DocID())
	}

	deleted, err := ix.Purge(ctx, all)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	n, err := st.DocCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkFailedSignatureIsFailedAndMatchesOriginal(t *testing.T) {
	sig := doc.Signature("sigA").MarkFailed()
	assert.True(t, sig.Failed())
	assert.True(t, sig.Matches("sigA"))
}

func TestContentSignatureStable(t *testing.T) {
	mtime := time.Unix(1700000000, 0)
	sig1, err := ContentSignature(mtime, 100, []byte("hello"))
	require.NoError(t, err)
	sig2, err := ContentSignature(mtime, 100, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)

	sig3, err := ContentSignature(mtime, 100, []byte("different"))
	require.NoError(t, err)
	assert.NotEqual(t, sig1, sig3)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	compressed, err := compress(text)
	require.NoError(t, err)
	decompressed, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, text, decompressed)
}

func TestStoredTextKeyedByMD5Uniterm(t *testing.T) {
	ix, st := newIndexer(t)
	ctx := context.Background()
	require.NoError(t, ix.AddOrUpdate(ctx, Doc{UDI: "udi1", Sig: "sigA", URL: "u", Filename: "a.txt", Body: "stored body text that is long enough to not be synthetic"}))

	key := md5Key(doc.UDI("udi1").Uniterm())
	blob, err := st.GetMetadata(ctx, key)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	text, err := Decompress(blob)
	require.NoError(t, err)
	assert.Contains(t, text, "stored body text")
}
