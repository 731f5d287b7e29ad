package memstore

import (
	"context"
	"math"
	"sort"

	"github.com/tmc/rclindex/store"
)

// bm25 constants, Robertson-Sparck Jones defaults.
const (
	k1 = 1.2
	b  = 0.75
)

type scoredSet map[store.DocID]float64

func (s *Store) idf(term string) float64 {
	n, _ := s.DocCount(context.Background())
	df := len(s.postlist[term])
	if df == 0 || n == 0 {
		return 0
	}
	// BM25 idf, floored at a small positive value so a term appearing in
	// every document still contributes rather than zeroing the score.
	v := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
	if v < 1e-6 {
		v = 1e-6
	}
	return v
}

func (s *Store) termScores(term string) scoredSet {
	out := scoredSet{}
	m := s.postlist[term]
	if m == nil {
		return out
	}
	avgLen, _ := s.AvgLength(context.Background())
	if avgLen == 0 {
		avgLen = 1
	}
	idf := s.idf(term)
	for id, e := range m {
		doc := s.docs[id]
		tf := float64(e.wdfinc)
		if tf == 0 {
			tf = float64(len(e.positions))
		}
		if tf == 0 {
			tf = 1
		}
		norm := 1 - b + b*float64(doc.length)/avgLen
		score := idf * (tf * (k1 + 1)) / (tf + k1*norm)
		out[id] = score
	}
	return out
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

func (s *Store) eval(q store.Query) scoredSet {
	switch q.Kind {
	case store.QTerm:
		return s.termScores(q.Term)

	case store.QMatchAll:
		out := scoredSet{}
		for id := range s.docs {
			out[id] = 1
		}
		return out

	case store.QAnd:
		if len(q.Sub) == 0 {
			return scoredSet{}
		}
		acc := s.eval(q.Sub[0])
		for _, sub := range q.Sub[1:] {
			next := s.eval(sub)
			merged := scoredSet{}
			for _, id := range intersectKeys(acc, next) {
				merged[id] = acc[id] + next[id]
			}
			acc = merged
		}
		return acc

	case store.QOr:
		acc := scoredSet{}
		for _, sub := range q.Sub {
			for id, sc := range s.eval(sub) {
				acc[id] += sc
			}
		}
		return acc

	case store.QAndNot:
		acc := s.eval(q.Sub[0])
		excl := s.eval(q.Sub[1])
		out := scoredSet{}
		for id, sc := range acc {
			if _, bad := excl[id]; !bad {
				out[id] = sc
			}
		}
		return out

	case store.QAndMaybe:
		base := s.eval(q.Sub[0])
		bonus := s.eval(q.Sub[1])
		out := scoredSet{}
		for id, sc := range base {
			out[id] = sc + bonus[id]
		}
		return out

	case store.QFilter:
		base := s.eval(q.Sub[0])
		filter := s.eval(q.Sub[1])
		out := scoredSet{}
		for id, sc := range base {
			if _, ok := filter[id]; ok {
				out[id] = sc
			}
		}
		return out

	case store.QScaleWeight:
		base := s.eval(q.Sub[0])
		out := scoredSet{}
		for id, sc := range base {
			out[id] = sc * q.Factor
		}
		return out

	case store.QPhrase, store.QNear:
		return s.evalGroup(q)

	case store.QValueGE, store.QValueLE, store.QValueRange:
		return s.evalValueRange(q)
	}
	return scoredSet{}
}

func (s *Store) evalValueRange(q store.Query) scoredSet {
	out := scoredSet{}
	for id, doc := range s.docs {
		v, ok := doc.values[q.Slot]
		if !ok {
			continue
		}
		switch q.Kind {
		case store.QValueGE:
			if v >= q.Lo {
				out[id] = 1
			}
		case store.QValueLE:
			if v <= q.Hi {
				out[id] = 1
			}
		case store.QValueRange:
			if v >= q.Lo && v <= q.Hi {
				out[id] = 1
			}
		}
	}
	return out
}

// evalGroup handles PHRASE/NEAR: all sub-terms must occur in the document,
// and their positions must satisfy an ordered-with-slack (PHRASE) or
// unordered-with-slack (NEAR) constraint.
func (s *Store) evalGroup(q store.Query) scoredSet {
	if len(q.Sub) == 0 {
		return scoredSet{}
	}
	terms := make([]string, 0, len(q.Sub))
	for _, sub := range q.Sub {
		if sub.Kind != store.QTerm {
			continue
		}
		terms = append(terms, sub.Term)
	}
	if len(terms) == 0 {
		return scoredSet{}
	}

	acc := s.termScores(terms[0])
	for _, t := range terms[1:] {
		acc = scoredSet(intersectScores(acc, s.termScores(t)))
	}

	out := scoredSet{}
	for id := range acc {
		doc := s.docs[id]
		positions := make([][]uint32, len(terms))
		for i, t := range terms {
			e := doc.postings[t]
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

// groupMatches reports whether there is a choice of one position per term
// list such that, for PHRASE, positions increase by exactly 1 per
// adjacent pair (allowing slack extra gap), or for NEAR, all chosen
// positions fall within a window of (len(terms)-1+slack).
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

// Run compiles q's evaluation and returns the top `limit` hits sorted by
// score (or by a value slot when sort.BySlot != 0).
func (s *Store) Run(ctx context.Context, q store.Query, sortSpec store.SortSpec, limit int) ([]store.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := s.eval(q)
	hits := make([]store.Hit, 0, len(scored))
	for id, sc := range scored {
		if doc, ok := s.docs[id]; !ok || !doc.alive {
			continue
		}
		hits = append(hits, store.Hit{DocID: id, Score: sc})
	}

	if sortSpec.BySlot != 0 {
		sort.Slice(hits, func(i, j int) bool {
			vi, _, _ := s.GetValue(ctx, hits[i].DocID, sortSpec.BySlot)
			vj, _, _ := s.GetValue(ctx, hits[j].DocID, sortSpec.BySlot)
			if sortSpec.Ascending {
				return vi < vj
			}
			return vi > vj
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
