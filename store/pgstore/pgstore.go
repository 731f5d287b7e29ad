// Package pgstore implements store.Store on top of PostgreSQL via
// jackc/pgx/v5's connection pool: a typed Go layer issuing plain SQL
// and hydrating the result into Go structs, rather than an ORM.
package pgstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tmc/rclindex/store"
)

var _ store.Store = (*Store)(nil)

// schema creates the five tables a document's posting, boolean, value,
// data-record and metadata state are split across (spec §4.6's Store
// abstraction, given a relational backing instead of memstore's maps).
const schema = `
create table if not exists rclindex_docs (
	id bigserial primary key,
	uniterm text not null unique,
	data bytea,
	length int not null default 0
);

create table if not exists rclindex_postings (
	doc_id bigint not null references rclindex_docs(id) on delete cascade,
	term text not null,
	wdf int not null default 0,
	positions int[] not null default '{}',
	primary key (doc_id, term)
);
create index if not exists rclindex_postings_term_idx on rclindex_postings(term);

create table if not exists rclindex_booleans (
	doc_id bigint not null references rclindex_docs(id) on delete cascade,
	term text not null,
	primary key (doc_id, term)
);
create index if not exists rclindex_booleans_term_idx on rclindex_booleans(term);

create table if not exists rclindex_values (
	doc_id bigint not null references rclindex_docs(id) on delete cascade,
	slot int not null,
	value text not null,
	primary key (doc_id, slot)
);
create index if not exists rclindex_values_slot_idx on rclindex_values(slot, value);

create table if not exists rclindex_metadata (
	key text primary key,
	value bytea not null
);
`

// Store is a PostgreSQL-backed store.Store. The read side is safe for
// concurrent use (pgx pools are); the write side still honors spec §5's
// "single writer" rule at the scheduler layer, not here.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and ensures the schema exists (spec §6 "store
// descriptor metadata": this backend's equivalent is simply letting
// ReplaceDocument's upsert create rows; there's no separate version
// descriptor row beyond rclindex_metadata's RCL_IDX_VERSION_KEY entry,
// written by the caller through SetMetadata).
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type posting struct {
	positions []uint32
	wdf       int
}

type builder struct {
	postings map[string]*posting
	booleans map[string]bool
	values   map[int]string
	data     []byte
	meta     map[string][]byte
}

func (b *builder) AddPosting(term string, pos uint32, wdfinc int) {
	e, ok := b.postings[term]
	if !ok {
		e = &posting{}
		b.postings[term] = e
	}
	e.positions = append(e.positions, pos)
	e.wdf += wdfinc
}
func (b *builder) AddBooleanTerm(term string)          { b.booleans[term] = true }
func (b *builder) AddValue(slot int, value string)     { b.values[slot] = value }
func (b *builder) SetData(blob []byte)                 { b.data = blob }
func (b *builder) SetMetadata(key string, value []byte) {
	if b.meta == nil {
		b.meta = map[string][]byte{}
	}
	b.meta[key] = value
}

func (s *Store) NewDocument() store.DocBuilder {
	return &builder{postings: map[string]*posting{}, booleans: map[string]bool{}, values: map[int]string{}}
}

// ReplaceDocument upserts by uniterm inside one transaction: clear the
// prior posting/boolean/value rows (if any), write the new ones, and
// store any staged metadata (spec §3 invariant: ReplaceDocument either
// creates or atomically replaces the document keyed by uniterm).
func (s *Store) ReplaceDocument(ctx context.Context, uniterm string, b store.DocBuilder) (store.DocID, error) {
	bb := b.(*builder)

	length := 0
	for _, e := range bb.postings {
		length += len(e.positions)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		insert into rclindex_docs (uniterm, data, length) values ($1, $2, $3)
		on conflict (uniterm) do update set data = excluded.data, length = excluded.length
		returning id`, uniterm, bb.data, length).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("pgstore: upsert doc: %w", err)
	}

	if _, err := tx.Exec(ctx, `delete from rclindex_postings where doc_id = $1`, id); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `delete from rclindex_booleans where doc_id = $1`, id); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `delete from rclindex_values where doc_id = $1`, id); err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for term, e := range bb.postings {
		positions := make([]int32, len(e.positions))
		for i, p := range e.positions {
			positions[i] = int32(p)
		}
		batch.Queue(`insert into rclindex_postings (doc_id, term, wdf, positions) values ($1, $2, $3, $4)`,
			id, term, e.wdf, positions)
	}
	for term := range bb.booleans {
		batch.Queue(`insert into rclindex_booleans (doc_id, term) values ($1, $2)`, id, term)
	}
	for slot, value := range bb.values {
		batch.Queue(`insert into rclindex_values (doc_id, slot, value) values ($1, $2, $3)`, id, slot, value)
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return 0, fmt.Errorf("pgstore: batch insert: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return 0, err
		}
	}
	for k, v := range bb.meta {
		if _, err := tx.Exec(ctx, `
			insert into rclindex_metadata (key, value) values ($1, $2)
			on conflict (key) do update set value = excluded.value`, k, v); err != nil {
			return 0, fmt.Errorf("pgstore: metadata upsert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("pgstore: commit: %w", err)
	}
	return store.DocID(id), nil
}

func (s *Store) DeleteDocument(ctx context.Context, id store.DocID) error {
	_, err := s.pool.Exec(ctx, `delete from rclindex_docs where id = $1`, int64(id))
	return err
}

// termPostlistIter buffers term postings so Next/DocID/WDF don't each
// re-scan the same row (pgx.Rows only supports one forward Scan per row).
type termPostlistIter struct {
	ids  []store.DocID
	wdfs []int
	i    int
}

func (p *termPostlistIter) Next() bool { p.i++; return p.i < len(p.ids) }
func (p *termPostlistIter) DocID() store.DocID { return p.ids[p.i] }
func (p *termPostlistIter) WDF() int           { return p.wdfs[p.i] }
func (p *termPostlistIter) Err() error         { return nil }

func (s *Store) PostlistBegin(ctx context.Context, term string) (store.Postlist, error) {
	rows, err := s.pool.Query(ctx, `
		select doc_id, wdf from rclindex_postings where term = $1
		union
		select doc_id, 0 from rclindex_booleans where term = $1
		order by 1`, term)
	if err != nil {
		return nil, fmt.Errorf("pgstore: postlist %q: %w", term, err)
	}
	defer rows.Close()

	it := &termPostlistIter{i: -1}
	for rows.Next() {
		var id int64
		var wdf int
		if err := rows.Scan(&id, &wdf); err != nil {
			return nil, err
		}
		it.ids = append(it.ids, store.DocID(id))
		it.wdfs = append(it.wdfs, wdf)
	}
	return it, rows.Err()
}

func (s *Store) PositionlistBegin(ctx context.Context, id store.DocID, term string) ([]uint32, error) {
	var raw []int32
	err := s.pool.QueryRow(ctx, `select positions from rclindex_postings where doc_id = $1 and term = $2`,
		int64(id), term).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]uint32, len(raw))
	for i, p := range raw {
		out[i] = uint32(p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ListTermsWithPrefix implements store.TermPrefixLister via a LIKE scan
// over both the weighted and boolean term tables.
func (s *Store) ListTermsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	like := escapeLike(prefix) + "%"
	rows, err := s.pool.Query(ctx, `
		select distinct term from rclindex_postings where term like $1 escape '\'
		union
		select distinct term from rclindex_booleans where term like $1 escape '\'
		order by 1`, like)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list terms %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, err
		}
		out = append(out, term)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Store) GetDocument(ctx context.Context, id store.DocID) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `select data from rclindex_docs where id = $1`, int64(id)).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return data, err
}

func (s *Store) GetValue(ctx context.Context, id store.DocID, slot int) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, `select value from rclindex_values where doc_id = $1 and slot = $2`,
		int64(id), slot).Scan(&v)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetMetadata(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		insert into rclindex_metadata (key, value) values ($1, $2)
		on conflict (key) do update set value = excluded.value`, key, value)
	return err
}

func (s *Store) GetMetadata(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.pool.QueryRow(ctx, `select value from rclindex_metadata where key = $1`, key).Scan(&v)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return v, err
}

func (s *Store) Commit(ctx context.Context) error { return nil }

func (s *Store) DocCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `select count(*) from rclindex_docs`).Scan(&n)
	return n, err
}

func (s *Store) DocLengthBounds(ctx context.Context) (int, int, error) {
	var lo, hi int
	err := s.pool.QueryRow(ctx, `select coalesce(min(length),0), coalesce(max(length),0) from rclindex_docs`).Scan(&lo, &hi)
	return lo, hi, err
}

func (s *Store) AvgLength(ctx context.Context) (float64, error) {
	var avg float64
	err := s.pool.QueryRow(ctx, `select coalesce(avg(length),0) from rclindex_docs`).Scan(&avg)
	return avg, err
}
