package pgstore

import (
	"context"
	"math"
	"sort"

	"github.com/tmc/rclindex/store"
)

// bm25 constants, Robertson-Sparck Jones defaults -- same scoring shape
// as store/memstore/run.go; this backend re-derives the same evaluation
// over SQL-fetched postings instead of in-process maps, since the two
// backends' hydration strategies (Go maps vs. a connection pool) don't
// share enough to be worth a generic abstraction at two backends.
const (
	k1 = 1.2
	b  = 0.75
)

type scoredSet map[store.DocID]float64

// runState caches per-term postings and per-doc lengths fetched during
// one Run call, so a query referencing the same term in several places
// (e.g. an auto-phrase alongside its source clause) only hits the
// database once per term.
type runState struct {
	ctx       context.Context
	store     *Store
	postings  map[string]map[store.DocID]*posting
	docLen    map[store.DocID]int
	docCount  int
	avgLength float64
}

func (s *Store) newRunState(ctx context.Context) (*runState, error) {
	n, err := s.DocCount(ctx)
	if err != nil {
		return nil, err
	}
	avg, err := s.AvgLength(ctx)
	if err != nil {
		return nil, err
	}
	return &runState{ctx: ctx, store: s, postings: map[string]map[store.DocID]*posting{}, docLen: map[store.DocID]int{}, docCount: n, avgLength: avg}, nil
}

func (rs *runState) fetchTerm(term string) (map[store.DocID]*posting, error) {
	if m, ok := rs.postings[term]; ok {
		return m, nil
	}
	rows, err := rs.store.pool.Query(rs.ctx, `select doc_id, wdf, positions from rclindex_postings where term = $1`, term)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := map[store.DocID]*posting{}
	for rows.Next() {
		var id int64
		var wdf int
		var raw []int32
		if err := rows.Scan(&id, &wdf, &raw); err != nil {
			return nil, err
		}
		positions := make([]uint32, len(raw))
		for i, p := range raw {
			positions[i] = uint32(p)
		}
		m[store.DocID(id)] = &posting{positions: positions, wdf: wdf}
	}
	rs.postings[term] = m
	return m, rows.Err()
}

func (rs *runState) docLength(id store.DocID) (int, error) {
	if n, ok := rs.docLen[id]; ok {
		return n, nil
	}
	var n int
	err := rs.store.pool.QueryRow(rs.ctx, `select length from rclindex_docs where id = $1`, int64(id)).Scan(&n)
	if err != nil {
		return 0, err
	}
	rs.docLen[id] = n
	return n, nil
}

func (rs *runState) idf(term string) (float64, error) {
	m, err := rs.fetchTerm(term)
	if err != nil {
		return 0, err
	}
	df := len(m)
	if df == 0 || rs.docCount == 0 {
		return 0, nil
	}
	v := math.Log(1 + (float64(rs.docCount)-float64(df)+0.5)/(float64(df)+0.5))
	if v < 1e-6 {
		v = 1e-6
	}
	return v, nil
}

func (rs *runState) termScores(term string) (scoredSet, error) {
	m, err := rs.fetchTerm(term)
	if err != nil {
		return nil, err
	}
	idf, err := rs.idf(term)
	if err != nil {
		return nil, err
	}
	avgLen := rs.avgLength
	if avgLen == 0 {
		avgLen = 1
	}
	out := scoredSet{}
	for id, e := range m {
		length, err := rs.docLength(id)
		if err != nil {
			return nil, err
		}
		tf := float64(e.wdf)
		if tf == 0 {
			tf = float64(len(e.positions))
		}
		if tf == 0 {
			tf = 1
		}
		norm := 1 - b + b*float64(length)/avgLen
		out[id] = idf * (tf * (k1 + 1)) / (tf + k1*norm)
	}
	return out, nil
}

func intersectKeys(a, b scoredSet) []store.DocID {
	var out []store.DocID
	for id := range a {
		if _, ok := b[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func intersectScores(a, b scoredSet) scoredSet {
	out := scoredSet{}
	for id, sc := range a {
		if sc2, ok := b[id]; ok {
			out[id] = sc + sc2
		}
	}
	return out
}

func (rs *runState) eval(q store.Query) (scoredSet, error) {
	switch q.Kind {
	case store.QTerm:
		return rs.termScores(q.Term)

	case store.QMatchAll:
		out := scoredSet{}
		rows, err := rs.store.pool.Query(rs.ctx, `select id from rclindex_docs`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			out[store.DocID(id)] = 1
		}
		return out, rows.Err()

	case store.QAnd:
		if len(q.Sub) == 0 {
			return scoredSet{}, nil
		}
		acc, err := rs.eval(q.Sub[0])
		if err != nil {
			return nil, err
		}
		for _, sub := range q.Sub[1:] {
			next, err := rs.eval(sub)
			if err != nil {
				return nil, err
			}
			merged := scoredSet{}
			for _, id := range intersectKeys(acc, next) {
				merged[id] = acc[id] + next[id]
			}
			acc = merged
		}
		return acc, nil

	case store.QOr:
		acc := scoredSet{}
		for _, sub := range q.Sub {
			next, err := rs.eval(sub)
			if err != nil {
				return nil, err
			}
			for id, sc := range next {
				acc[id] += sc
			}
		}
		return acc, nil

	case store.QAndNot:
		acc, err := rs.eval(q.Sub[0])
		if err != nil {
			return nil, err
		}
		excl, err := rs.eval(q.Sub[1])
		if err != nil {
			return nil, err
		}
		out := scoredSet{}
		for id, sc := range acc {
			if _, bad := excl[id]; !bad {
				out[id] = sc
			}
		}
		return out, nil

	case store.QAndMaybe:
		base, err := rs.eval(q.Sub[0])
		if err != nil {
			return nil, err
		}
		bonus, err := rs.eval(q.Sub[1])
		if err != nil {
			return nil, err
		}
		out := scoredSet{}
		for id, sc := range base {
			out[id] = sc + bonus[id]
		}
		return out, nil

	case store.QFilter:
		base, err := rs.eval(q.Sub[0])
		if err != nil {
			return nil, err
		}
		filter, err := rs.eval(q.Sub[1])
		if err != nil {
			return nil, err
		}
		out := scoredSet{}
		for id, sc := range base {
			if _, ok := filter[id]; ok {
				out[id] = sc
			}
		}
		return out, nil

	case store.QScaleWeight:
		base, err := rs.eval(q.Sub[0])
		if err != nil {
			return nil, err
		}
		out := scoredSet{}
		for id, sc := range base {
			out[id] = sc * q.Factor
		}
		return out, nil

	case store.QPhrase, store.QNear:
		return rs.evalGroup(q)

	case store.QValueGE, store.QValueLE, store.QValueRange:
		return rs.evalValueRange(q)
	}
	return scoredSet{}, nil
}

func (rs *runState) evalValueRange(q store.Query) (scoredSet, error) {
	out := scoredSet{}

	var sql string
	var args []interface{}
	switch q.Kind {
	case store.QValueGE:
		sql, args = `select doc_id from rclindex_values where slot = $1 and value >= $2`, []interface{}{q.Slot, q.Lo}
	case store.QValueLE:
		sql, args = `select doc_id from rclindex_values where slot = $1 and value <= $2`, []interface{}{q.Slot, q.Hi}
	case store.QValueRange:
		sql, args = `select doc_id from rclindex_values where slot = $1 and value >= $2 and value <= $3`, []interface{}{q.Slot, q.Lo, q.Hi}
	}
	rows, err := rs.store.pool.Query(rs.ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[store.DocID(id)] = 1
	}
	return out, rows.Err()
}

func (rs *runState) evalGroup(q store.Query) (scoredSet, error) {
	if len(q.Sub) == 0 {
		return scoredSet{}, nil
	}
	terms := make([]string, 0, len(q.Sub))
	for _, sub := range q.Sub {
		if sub.Kind == store.QTerm {
			terms = append(terms, sub.Term)
		}
	}
	if len(terms) == 0 {
		return scoredSet{}, nil
	}

	postingsByTerm := make([]map[store.DocID]*posting, len(terms))
	acc, err := rs.termScores(terms[0])
	if err != nil {
		return nil, err
	}
	postingsByTerm[0], _ = rs.fetchTerm(terms[0])
	for i, t := range terms[1:] {
		next, err := rs.termScores(t)
		if err != nil {
			return nil, err
		}
		postingsByTerm[i+1], _ = rs.fetchTerm(t)
		acc = intersectScores(acc, next)
	}

	out := scoredSet{}
	for id := range acc {
		positions := make([][]uint32, len(terms))
		for i := range terms {
			e := postingsByTerm[i][id]
			if e == nil {
				continue
			}
			ps := append([]uint32(nil), e.positions...)
			sort.Slice(ps, func(a, b int) bool { return ps[a] < ps[b] })
			positions[i] = ps
		}
		if groupMatches(positions, q.Kind == store.QPhrase, q.Slack) {
			out[id] = acc[id]
		}
	}
	return out, nil
}

func groupMatches(positions [][]uint32, ordered bool, slack int) bool {
	for _, first := range positions[0] {
		if matchFrom(positions, 0, first, first, ordered, slack) {
			return true
		}
	}
	return false
}

func matchFrom(positions [][]uint32, idx int, anchor, prev uint32, ordered bool, slack int) bool {
	if idx == len(positions)-1 {
		return true
	}
	for _, p := range positions[idx+1] {
		if ordered {
			gap := int(p) - int(prev) - 1
			if gap < 0 || gap > slack {
				continue
			}
		} else {
			span := int(p) - int(anchor)
			if span < 0 {
				span = -span
			}
			if span > len(positions)-1+slack {
				continue
			}
		}
		if matchFrom(positions, idx+1, anchor, p, ordered, slack) {
			return true
		}
	}
	return false
}

// Run implements store.Store.Run by fetching referenced postings into
// memory and re-using the same BM25/boolean/group evaluation shape as
// store/memstore (spec §4.6).
func (s *Store) Run(ctx context.Context, q store.Query, sortSpec store.SortSpec, limit int) ([]store.Hit, error) {
	rs, err := s.newRunState(ctx)
	if err != nil {
		return nil, err
	}
	scored, err := rs.eval(q)
	if err != nil {
		return nil, err
	}

	hits := make([]store.Hit, 0, len(scored))
	for id, sc := range scored {
		hits = append(hits, store.Hit{DocID: id, Score: sc})
	}

	if sortSpec.BySlot != 0 {
		values := make(map[store.DocID]string, len(hits))
		for _, h := range hits {
			v, _, err := s.GetValue(ctx, h.DocID, sortSpec.BySlot)
			if err != nil {
				return nil, err
			}
			values[h.DocID] = v
		}
		sort.Slice(hits, func(i, j int) bool {
			if sortSpec.Ascending {
				return values[hits[i].DocID] < values[hits[j].DocID]
			}
			return values[hits[i].DocID] > values[hits[j].DocID]
		})
	} else {
		sort.Slice(hits, func(i, j int) bool {
			if hits[i].Score != hits[j].Score {
				return hits[i].Score > hits[j].Score
			}
			return hits[i].DocID < hits[j].DocID
		})
	}

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
