// Package store declares the posting-store interface of spec §4.6: a
// typed wrapper over an inverted index that the indexer writes through
// and the query translator/runner reads through. Concrete backends
// (store/memstore, store/pgstore, store/mssqlstore) all implement Store;
// nothing above this package knows which one is in use.
package store

import "context"

// DocID identifies a document within one store. Stable for the lifetime
// of the document (until DeleteDocument), but not across stores.
type DocID uint64

// QueryKind enumerates the posting-list operations a Store's query runner
// understands (spec §4.6).
type QueryKind int

const (
	QTerm QueryKind = iota
	QAnd
	QOr
	QAndNot
	QAndMaybe
	QPhrase
	QNear
	QFilter
	QValueGE
	QValueLE
	QValueRange
	QScaleWeight
	QMatchAll
)

// Query is a node in the compiled posting-list expression tree produced
// by the query translator (spec §4.8) and consumed by a Store's Run.
type Query struct {
	Kind QueryKind

	// QTerm
	Term string

	// QAnd, QOr: any number of children; QAndNot, QAndMaybe, QFilter:
	// base in Sub[0], other side in Sub[1]; QScaleWeight: single child in
	// Sub[0]; QPhrase, QNear: the term children
	Sub []Query

	// QPhrase, QNear
	Slack int

	// QValueGE, QValueLE, QValueRange, sorting by a slot
	Slot int
	Lo   string
	Hi   string

	// QScaleWeight
	Factor float64
}

func Term(t string) Query                { return Query{Kind: QTerm, Term: t} }
func And(qs ...Query) Query              { return Query{Kind: QAnd, Sub: qs} }
func Or(qs ...Query) Query               { return Query{Kind: QOr, Sub: qs} }
func AndNot(a, b Query) Query            { return Query{Kind: QAndNot, Sub: []Query{a, b}} }
func AndMaybe(a, b Query) Query          { return Query{Kind: QAndMaybe, Sub: []Query{a, b}} }
func Phrase(slack int, qs ...Query) Query { return Query{Kind: QPhrase, Slack: slack, Sub: qs} }
func Near(slack int, qs ...Query) Query   { return Query{Kind: QNear, Slack: slack, Sub: qs} }
func Filter(q, filter Query) Query       { return Query{Kind: QFilter, Sub: []Query{q, filter}} }
func ValueGE(slot int, lo string) Query  { return Query{Kind: QValueGE, Slot: slot, Lo: lo} }
func ValueLE(slot int, hi string) Query  { return Query{Kind: QValueLE, Slot: slot, Hi: hi} }
func ValueRange(slot int, lo, hi string) Query {
	return Query{Kind: QValueRange, Slot: slot, Lo: lo, Hi: hi}
}
func ScaleWeight(q Query, factor float64) Query {
	return Query{Kind: QScaleWeight, Sub: []Query{q}, Factor: factor}
}
func MatchAll() Query { return Query{Kind: QMatchAll} }

// CountClauses returns the number of QTerm/QMatchAll/value-range leaves in
// q (a node with no children counts as one), the
// count the translator compares against maxXapianClauses (spec §4.8).
func CountClauses(q Query) int {
	switch q.Kind {
	case QTerm, QMatchAll, QValueGE, QValueLE, QValueRange:
		return 1
	default:
		n := 0
		for _, s := range q.Sub {
			n += CountClauses(s)
		}
		if n == 0 {
			n = 1
		}
		return n
	}
}

// Posting is a stored occurrence of a term in a document, with its
// within-document position list and weight (wdf, spec §3).
type Posting struct {
	DocID     DocID
	Positions []uint32
	WDF       int
}

// DocBuilder accumulates the postings, boolean terms, values and data
// blob for one document before it is committed with ReplaceDocument
// (spec §4.6 "per-document" operations).
type DocBuilder interface {
	AddPosting(term string, pos uint32, wdfinc int)
	AddBooleanTerm(term string)
	AddValue(slot int, value string)
	SetData(blob []byte)
	SetMetadata(key string, value []byte)
}

// Hit is one ranked result from Run.
type Hit struct {
	DocID DocID
	Score float64
}

// SortSpec controls result ordering for Run.
type SortSpec struct {
	BySlot    int  // 0 = relevance
	Ascending bool
}

// Store is the posting-store interface of spec §4.6. All methods taking
// a context may block on I/O; the one exception is the per-document
// DocBuilder returned by NewDocument, which is purely in-memory until
// ReplaceDocument commits it.
type Store interface {
	// NewDocument returns a fresh DocBuilder to populate before calling
	// ReplaceDocument. The uniterm passed to ReplaceDocument is the
	// primary key: if a document with that uniterm posting already
	// exists it is replaced atomically, else created (spec §3
	// invariants, §4.4 step 8).
	NewDocument() DocBuilder
	ReplaceDocument(ctx context.Context, uniterm string, b DocBuilder) (DocID, error)
	DeleteDocument(ctx context.Context, id DocID) error

	PostlistBegin(ctx context.Context, term string) (Postlist, error)
	PositionlistBegin(ctx context.Context, id DocID, term string) ([]uint32, error)

	GetDocument(ctx context.Context, id DocID) ([]byte, error)
	GetValue(ctx context.Context, id DocID, slot int) (string, bool, error)

	SetMetadata(ctx context.Context, key string, value []byte) error
	GetMetadata(ctx context.Context, key string) ([]byte, error)

	Commit(ctx context.Context) error

	Run(ctx context.Context, q Query, sort SortSpec, limit int) ([]Hit, error)

	DocCount(ctx context.Context) (int, error)
	DocLengthBounds(ctx context.Context) (lower, upper int, err error)
	AvgLength(ctx context.Context) (float64, error)

	Close() error
}

// Postlist iterates the docids a term occurs in.
type Postlist interface {
	Next() bool
	DocID() DocID
	WDF() int
	Err() error
}

// TermPrefixLister is an optional capability a Store may implement to
// support wildcard query expansion (spec §4.8 "expandTerm"): listing the
// distinct terms starting with prefix. Backends that can't enumerate
// terms cheaply (none of the three shipped here) simply don't implement
// it; callers type-assert for it and degrade to no expansion.
type TermPrefixLister interface {
	ListTermsWithPrefix(ctx context.Context, prefix string) ([]string, error)
}
