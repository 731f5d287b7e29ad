// Package mssqlstore implements store.Store on top of SQL Server, driven
// through database/sql with the microsoft/go-mssqldb driver. Open picks
// between a plain sqlserver:// connector and an azuresql:// Azure AD
// connector by DSN scheme.
package mssqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/azuread"

	"github.com/tmc/rclindex/store"
)

var _ store.Store = (*Store)(nil)

// schema mirrors pgstore's relational layout, adjusted for T-SQL types:
// positions have no native array type here, so they're packed into a
// comma-joined varchar column and split back out in Go (spec §4.6's
// Store abstraction makes no promise about how a backend persists a
// position list, only that PositionlistBegin returns it sorted).
const schema = `
if object_id('rclindex_docs', 'U') is null
create table rclindex_docs (
	id bigint identity(1,1) primary key,
	uniterm nvarchar(450) not null unique,
	data varbinary(max) null,
	length int not null default 0
);

if object_id('rclindex_postings', 'U') is null
create table rclindex_postings (
	doc_id bigint not null references rclindex_docs(id) on delete cascade,
	term nvarchar(450) not null,
	wdf int not null default 0,
	positions nvarchar(max) not null default '',
	primary key (doc_id, term)
);

if not exists (select 1 from sys.indexes where name = 'rclindex_postings_term_idx')
create index rclindex_postings_term_idx on rclindex_postings(term);

if object_id('rclindex_booleans', 'U') is null
create table rclindex_booleans (
	doc_id bigint not null references rclindex_docs(id) on delete cascade,
	term nvarchar(450) not null,
	primary key (doc_id, term)
);

if not exists (select 1 from sys.indexes where name = 'rclindex_booleans_term_idx')
create index rclindex_booleans_term_idx on rclindex_booleans(term);

if object_id('rclindex_values', 'U') is null
create table rclindex_values (
	doc_id bigint not null references rclindex_docs(id) on delete cascade,
	slot int not null,
	value nvarchar(450) not null,
	primary key (doc_id, slot)
);

if not exists (select 1 from sys.indexes where name = 'rclindex_values_slot_idx')
create index rclindex_values_slot_idx on rclindex_values(slot, value);

if object_id('rclindex_metadata', 'U') is null
create table rclindex_metadata (
	[key] nvarchar(450) primary key,
	value varbinary(max) not null
);
`

// Store is a SQL Server-backed store.Store. database/sql's *sql.DB pools
// connections itself, same as pgxpool on the Postgres side.
type Store struct {
	db *sql.DB
}

// Open dials dsn and ensures the schema exists. A dsn beginning with
// azuresql:// authenticates through Azure AD (azuread.NewConnector); one
// beginning with sqlserver:// uses SQL login.
func Open(ctx context.Context, dsn string) (*Store, error) {
	var connector *mssql.Connector
	var err error

	switch {
	case strings.HasPrefix(dsn, "azuresql://"):
		connector, err = azuread.NewConnector(dsn)
	case strings.HasPrefix(dsn, "sqlserver://"):
		connector, err = mssql.NewConnector(dsn)
	default:
		return nil, errors.New("mssqlstore: dsn must start with sqlserver:// or azuresql://")
	}
	if err != nil {
		return nil, fmt.Errorf("mssqlstore: connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mssqlstore: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("mssqlstore: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func encodePositions(positions []uint32) string {
	parts := make([]string, len(positions))
	for i, p := range positions {
		parts[i] = strconv.FormatUint(uint64(p), 10)
	}
	return strings.Join(parts, ",")
}

func decodePositions(raw string) []uint32 {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	return out
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
func (b *builder) AddBooleanTerm(term string)      { b.booleans[term] = true }
func (b *builder) AddValue(slot int, value string) { b.values[slot] = value }
func (b *builder) SetData(blob []byte)             { b.data = blob }
func (b *builder) SetMetadata(key string, value []byte) {
	if b.meta == nil {
		b.meta = map[string][]byte{}
	}
	b.meta[key] = value
}

func (s *Store) NewDocument() store.DocBuilder {
	return &builder{postings: map[string]*posting{}, booleans: map[string]bool{}, values: map[int]string{}}
}

// ReplaceDocument upserts by uniterm: SQL Server has no native upsert, so
// this uses a merge statement inside a transaction, same overall shape as
// pgstore's insert-on-conflict.
func (s *Store) ReplaceDocument(ctx context.Context, uniterm string, b store.DocBuilder) (store.DocID, error) {
	bb := b.(*builder)

	length := 0
	for _, e := range bb.postings {
		length += len(e.positions)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssqlstore: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		merge rclindex_docs as target
		using (select @p1 as uniterm, @p2 as data, @p3 as length) as src
		on target.uniterm = src.uniterm
		when matched then update set data = src.data, length = src.length
		when not matched then insert (uniterm, data, length) values (src.uniterm, src.data, src.length);`,
		sql.Named("p1", uniterm), sql.Named("p2", bb.data), sql.Named("p3", length))
	if err != nil {
		return 0, fmt.Errorf("mssqlstore: upsert doc: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `select id from rclindex_docs where uniterm = @p1`, sql.Named("p1", uniterm)).Scan(&id); err != nil {
		return 0, fmt.Errorf("mssqlstore: fetch id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `delete from rclindex_postings where doc_id = @p1`, sql.Named("p1", id)); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `delete from rclindex_booleans where doc_id = @p1`, sql.Named("p1", id)); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `delete from rclindex_values where doc_id = @p1`, sql.Named("p1", id)); err != nil {
		return 0, err
	}

	for term, e := range bb.postings {
		if _, err := tx.ExecContext(ctx, `insert into rclindex_postings (doc_id, term, wdf, positions) values (@p1, @p2, @p3, @p4)`,
			sql.Named("p1", id), sql.Named("p2", term), sql.Named("p3", e.wdf), sql.Named("p4", encodePositions(e.positions))); err != nil {
			return 0, fmt.Errorf("mssqlstore: insert posting: %w", err)
		}
	}
	for term := range bb.booleans {
		if _, err := tx.ExecContext(ctx, `insert into rclindex_booleans (doc_id, term) values (@p1, @p2)`,
			sql.Named("p1", id), sql.Named("p2", term)); err != nil {
			return 0, err
		}
	}
	for slot, value := range bb.values {
		if _, err := tx.ExecContext(ctx, `insert into rclindex_values (doc_id, slot, value) values (@p1, @p2, @p3)`,
			sql.Named("p1", id), sql.Named("p2", slot), sql.Named("p3", value)); err != nil {
			return 0, err
		}
	}
	for k, v := range bb.meta {
		if _, err := tx.ExecContext(ctx, `
			merge rclindex_metadata as target
			using (select @p1 as [key], @p2 as value) as src
			on target.[key] = src.[key]
			when matched then update set value = src.value
			when not matched then insert ([key], value) values (src.[key], src.value);`,
			sql.Named("p1", k), sql.Named("p2", v)); err != nil {
			return 0, fmt.Errorf("mssqlstore: metadata upsert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssqlstore: commit: %w", err)
	}
	return store.DocID(id), nil
}

func (s *Store) DeleteDocument(ctx context.Context, id store.DocID) error {
	_, err := s.db.ExecContext(ctx, `delete from rclindex_docs where id = @p1`, sql.Named("p1", int64(id)))
	return err
}

type termPostlistIter struct {
	ids  []store.DocID
	wdfs []int
	i    int
}

func (p *termPostlistIter) Next() bool        { p.i++; return p.i < len(p.ids) }
func (p *termPostlistIter) DocID() store.DocID { return p.ids[p.i] }
func (p *termPostlistIter) WDF() int           { return p.wdfs[p.i] }
func (p *termPostlistIter) Err() error         { return nil }

func (s *Store) PostlistBegin(ctx context.Context, term string) (store.Postlist, error) {
	rows, err := s.db.QueryContext(ctx, `
		select doc_id, wdf from rclindex_postings where term = @p1
		union
		select doc_id, 0 from rclindex_booleans where term = @p1
		order by 1`, sql.Named("p1", term))
	if err != nil {
		return nil, fmt.Errorf("mssqlstore: postlist %q: %w", term, err)
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
	var raw string
	err := s.db.QueryRowContext(ctx, `select positions from rclindex_postings where doc_id = @p1 and term = @p2`,
		sql.Named("p1", int64(id)), sql.Named("p2", term)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := decodePositions(raw)
	sortUint32s(out)
	return out, nil
}

func sortUint32s(s []uint32) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// ListTermsWithPrefix implements store.TermPrefixLister via a LIKE scan,
// same shape as pgstore's.
func (s *Store) ListTermsWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	like := escapeLike(prefix) + "%"
	rows, err := s.db.QueryContext(ctx, `
		select term from rclindex_postings where term like @p1 escape '\'
		union
		select term from rclindex_booleans where term like @p1 escape '\'
		order by 1`, sql.Named("p1", like))
	if err != nil {
		return nil, fmt.Errorf("mssqlstore: list terms %q: %w", prefix, err)
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
	err := s.db.QueryRowContext(ctx, `select data from rclindex_docs where id = @p1`, sql.Named("p1", int64(id))).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return data, err
}

func (s *Store) GetValue(ctx context.Context, id store.DocID, slot int) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `select value from rclindex_values where doc_id = @p1 and slot = @p2`,
		sql.Named("p1", int64(id)), sql.Named("p2", slot)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SetMetadata(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		merge rclindex_metadata as target
		using (select @p1 as [key], @p2 as value) as src
		on target.[key] = src.[key]
		when matched then update set value = src.value
		when not matched then insert ([key], value) values (src.[key], src.value);`,
		sql.Named("p1", key), sql.Named("p2", value))
	return err
}

func (s *Store) GetMetadata(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `select value from rclindex_metadata where [key] = @p1`, sql.Named("p1", key)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

func (s *Store) Commit(ctx context.Context) error { return nil }

func (s *Store) DocCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from rclindex_docs`).Scan(&n)
	return n, err
}

func (s *Store) DocLengthBounds(ctx context.Context) (int, int, error) {
	var lo, hi sql.NullInt64
	err := s.db.QueryRowContext(ctx, `select min(length), max(length) from rclindex_docs`).Scan(&lo, &hi)
	return int(lo.Int64), int(hi.Int64), err
}

func (s *Store) AvgLength(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `select avg(cast(length as float)) from rclindex_docs`).Scan(&avg)
	return avg.Float64, err
}
