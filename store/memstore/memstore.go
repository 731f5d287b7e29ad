// Package memstore is an in-memory implementation of store.Store used by
// every other package's tests: it lets the whole indexing/query pipeline
// run without a live Postgres or SQL Server instance backing
// store/pgstore or store/mssqlstore.
package memstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/tmc/rclindex/store"
)

type termEntry struct {
	positions []uint32
	wdfinc    int
}

type document struct {
	id        store.DocID
	uniterm   string
	postings  map[string]*termEntry // term -> positions
	booleans  map[string]bool
	values    map[int]string
	data      []byte
	length    int
	alive     bool
}

// Store is a single-process, mutex-guarded posting store, adequate for
// tests and for small personal indexes that don't need durability across
// restarts.
type Store struct {
	mu sync.RWMutex

	docs     map[store.DocID]*document
	byUni    map[string]store.DocID
	postlist map[string]map[store.DocID]*termEntry // term -> docid -> entry
	meta     map[string][]byte
	nextID   store.DocID
	totalLen int
}

func New() *Store {
	return &Store{
		docs:     make(map[store.DocID]*document),
		byUni:    make(map[string]store.DocID),
		postlist: make(map[string]map[store.DocID]*termEntry),
		meta:     make(map[string][]byte),
		nextID:   1,
	}
}

var _ store.Store = (*Store)(nil)

type builder struct {
	postings map[string]*termEntry
	booleans map[string]bool
	values   map[int]string
	data     []byte
	meta     map[string][]byte
}

func (b *builder) AddPosting(term string, pos uint32, wdfinc int) {
	e, ok := b.postings[term]
	if !ok {
		e = &termEntry{}
		b.postings[term] = e
	}
	e.positions = append(e.positions, pos)
	e.wdfinc += wdfinc
}

func (b *builder) AddBooleanTerm(term string)           { b.booleans[term] = true }
func (b *builder) AddValue(slot int, value string)       { b.values[slot] = value }
func (b *builder) SetData(blob []byte)                   { b.data = blob }
func (b *builder) SetMetadata(key string, value []byte) {
	if b.meta == nil {
		b.meta = make(map[string][]byte)
	}
	b.meta[key] = value
}

func (s *Store) NewDocument() store.DocBuilder {
	return &builder{
		postings: make(map[string]*termEntry),
		booleans: make(map[string]bool),
		values:   make(map[int]string),
	}
}

func (s *Store) ReplaceDocument(ctx context.Context, uniterm string, b store.DocBuilder) (store.DocID, error) {
	bb := b.(*builder)

	s.mu.Lock()
	defer s.mu.Unlock()

	id, existed := s.byUni[uniterm]
	if existed {
		s.removeFromPostlistLocked(s.docs[id])
	} else {
		id = s.nextID
		s.nextID++
		s.byUni[uniterm] = id
	}

	length := 0
	for _, e := range bb.postings {
		length += len(e.positions)
	}

	doc := &document{
		id:       id,
		uniterm:  uniterm,
		postings: bb.postings,
		booleans: bb.booleans,
		values:   bb.values,
		data:     bb.data,
		length:   length,
		alive:    true,
	}
	s.docs[id] = doc
	s.totalLen += length

	for term, e := range bb.postings {
		s.addPostlistLocked(term, id, e)
	}
	for term := range bb.booleans {
		s.addPostlistLocked(term, id, &termEntry{})
	}
	for k, v := range bb.meta {
		s.meta[k] = v
	}

	return id, nil
}

func (s *Store) addPostlistLocked(term string, id store.DocID, e *termEntry) {
	m, ok := s.postlist[term]
	if !ok {
		m = make(map[store.DocID]*termEntry)
		s.postlist[term] = m
	}
	m[id] = e
}

func (s *Store) removeFromPostlistLocked(doc *document) {
	if doc == nil {
		return
	}
	for term := range doc.postings {
		delete(s.postlist[term], doc.id)
	}
	for term := range doc.booleans {
		delete(s.postlist[term], doc.id)
	}
	s.totalLen -= doc.length
}

func (s *Store) DeleteDocument(ctx context.Context, id store.DocID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil
	}
	s.removeFromPostlistLocked(doc)
	delete(s.byUni, doc.uniterm)
	delete(s.docs, id)
	return nil
}

type postlistIter struct {
	ids []store.DocID
	m   map[store.DocID]*termEntry
	i   int
}

func (p *postlistIter) Next() bool { p.i++; return p.i < len(p.ids) }
func (p *postlistIter) DocID() store.DocID {
	return p.ids[p.i]
}
func (p *postlistIter) WDF() int { return p.m[p.ids[p.i]].wdfinc }
func (p *postlistIter) Err() error { return nil }

func (s *Store) PostlistBegin(ctx context.Context, term string) (store.Postlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.postlist[term]
	ids := make([]store.DocID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &postlistIter{ids: ids, m: m, i: -1}, nil
}

// ListTermsWithPrefix implements store.TermPrefixLister by scanning the
// in-memory postlist keys; adequate for a personal index's vocabulary
// size.
func (s *Store) ListTermsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for term := range s.postlist {
		if strings.HasPrefix(term, prefix) {
			out = append(out, term)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) PositionlistBegin(ctx context.Context, id store.DocID, term string) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	e, ok := doc.postings[term]
	if !ok {
		return nil, nil
	}
	out := make([]uint32, len(e.positions))
	copy(out, e.positions)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) GetDocument(ctx context.Context, id store.DocID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return doc.data, nil
}

func (s *Store) GetValue(ctx context.Context, id store.DocID, slot int) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return "", false, nil
	}
	v, ok := doc.values[slot]
	return v, ok, nil
}

func (s *Store) SetMetadata(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta[key], nil
}

func (s *Store) Commit(ctx context.Context) error { return nil }

func (s *Store) DocCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.docs {
		if d.alive {
			n++
		}
	}
	return n, nil
}

func (s *Store) DocLengthBounds(ctx context.Context) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lower, upper := math.MaxInt32, 0
	for _, d := range s.docs {
		if d.length < lower {
			lower = d.length
		}
		if d.length > upper {
			upper = d.length
		}
	}
	if upper == 0 {
		lower = 0
	}
	return lower, upper, nil
}

func (s *Store) AvgLength(ctx context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.docs) == 0 {
		return 0, nil
	}
	return float64(s.totalLen) / float64(len(s.docs)), nil
}

func (s *Store) Close() error { return nil }
