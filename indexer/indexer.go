// Package indexer implements spec §4.4: it turns a parsed document into
// postings plus a data record and commits it to a store.Store, handling
// the signature-based up-to-date check, the existence bitmap and purge,
// metadata-only updates, stored-text compression, and flush policy.
package indexer

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/tmc/rclindex/config"
	"github.com/tmc/rclindex/doc"
	"github.com/tmc/rclindex/splitter"
	"github.com/tmc/rclindex/store"
	"github.com/tmc/rclindex/termpipe"
)

// Body text positions start at this base, keeping every metadata field
// (which occupies the range below it) from ever colliding with body
// positions (spec §3 "Position").
const BodyPositionBase = 100000

// SectionJump is added between one field's position range and the next
// to prevent false phrase matches across unrelated fields (spec §3
// "section boundaries are inserted with a jump").
const SectionJump = 1000

// Doc is the input to AddOrUpdate: a parsed document ready to be
// indexed. The caller (the out-of-scope content-extraction filters) is
// responsible for producing this from a raw file.
type Doc struct {
	UDI       doc.UDI
	ParentUDI doc.UDI // empty for top-level documents

	URL      string
	Mimetype string
	Filename string
	Body     string
	Fields   map[string]string // field name -> field text, indexed per config.Fields

	Sig doc.Signature

	FMtime    time.Time
	DMtime    time.Time
	BirthTime time.Time // optional; zero means unknown/unavailable

	OrigCharset string
	Title       string
	IPath       string

	HasChildren bool // true for a container document (e.g. an archive)

	FBytes int64 // container file size
	DBytes int64 // decoded text size
}

// StemDBState tracks, per stemming language, whether the expansion DB is
// dirty and needs rebuilding independent of the main index's commit
// state: this is tracked separately from the main dirty flag so a flush
// that touched no stemmed-language content skips the rebuild entirely.
type StemDBState struct {
	mu    sync.Mutex
	dirty map[string]bool
}

func NewStemDBState() *StemDBState {
	return &StemDBState{dirty: map[string]bool{}}
}

func (s *StemDBState) MarkDirty(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty[lang] = true
}

func (s *StemDBState) DirtyLanguages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for lang, dirty := range s.dirty {
		if dirty {
			out = append(out, lang)
		}
	}
	return out
}

func (s *StemDBState) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = map[string]bool{}
}

// Indexer builds documents' postings/data records and commits them to a
// Store, honoring the flush/purge/signature protocol of spec §4.4.
type Indexer struct {
	Store  store.Store
	Config config.Config
	Logger logrus.FieldLogger

	Stems *StemDBState

	mu             sync.Mutex
	seen           map[store.DocID]bool // existence bitmap
	bytesSinceFlush int64
	fsFullChecker   func() (pctUsed int, err error)
}

// New builds an Indexer the way indexer constructors in this codebase
// take their collaborators explicitly rather than reaching for package
// globals (DESIGN NOTES "Global mutable state").
func New(st store.Store, cfg config.Config, logger logrus.FieldLogger) *Indexer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Indexer{
		Store:  st,
		Config: cfg,
		Logger: logger,
		Stems:  NewStemDBState(),
		seen:   map[store.DocID]bool{},
	}
}

// SetFsFullChecker overrides the filesystem-fullness probe used by the
// flush policy (spec §4.4); tests and non-Linux/Darwin builds supply a
// stub instead of touching golang.org/x/sys/unix directly.
func (ix *Indexer) SetFsFullChecker(f func() (int, error)) {
	ix.fsFullChecker = f
}

// NeedUpdate implements spec §4.4's signature protocol.
func (ix *Indexer) NeedUpdate(ctx context.Context, udi doc.UDI, sig doc.Signature) (bool, error) {
	uniterm := udi.Uniterm()
	pl, err := ix.Store.PostlistBegin(ctx, uniterm)
	if err != nil {
		return false, fmt.Errorf("indexer: postlist for %q: %w", uniterm, err)
	}
	if !pl.Next() {
		return true, nil
	}
	id := pl.DocID()

	ix.mu.Lock()
	ix.seen[id] = true
	ix.mu.Unlock()

	stored, ok, err := ix.Store.GetValue(ctx, id, doc.SlotSig)
	if err != nil {
		return false, fmt.Errorf("indexer: get VALUE_SIG for %q: %w", uniterm, err)
	}
	if !ok {
		return true, nil
	}
	storedSig := doc.Signature(stored)
	if storedSig == sig {
		return false, nil
	}
	if storedSig == sig.MarkFailed() && ix.Config.NoRetryFailed {
		return false, nil
	}
	return true, nil
}

// AddOrUpdate implements spec §4.4 steps 1-8.
func (ix *Indexer) AddOrUpdate(ctx context.Context, d Doc) error {
	b := ix.Store.NewDocument()

	_, mbreaks, err := ix.indexFields(b, d)
	if err != nil {
		ix.Logger.WithFields(logrus.Fields{"udi": string(d.UDI), "err": err}).Warn("indexing failed, recording with failed signature")
		return ix.recordFailure(ctx, d)
	}

	ix.addBooleanTerms(b, d)
	ix.addPathTerms(b, d)
	ix.addDateTerms(b, d)

	b.AddValue(doc.SlotSig, string(d.Sig))
	b.AddValue(doc.SlotSize, doc.ZeroPadSize(d.DBytes))

	rec := ix.buildDataRecord(d, mbreaks)
	b.SetData([]byte(rec.Encode()))

	if ix.Config.StoreText && d.Body != "" {
		compressed, err := compress(d.Body)
		if err != nil {
			return fmt.Errorf("indexer: compressing body for %q: %w", d.UDI, err)
		}
		b.SetMetadata(md5Key(d.UDI.Uniterm()), compressed)
	}

	id, err := ix.Store.ReplaceDocument(ctx, d.UDI.Uniterm(), b)
	if err != nil {
		return fmt.Errorf("indexer: replace_document for %q: %w", d.UDI, err)
	}

	ix.mu.Lock()
	ix.seen[id] = true
	ix.mu.Unlock()

	for _, lang := range ix.Config.IndexStemmingLanguages {
		ix.Stems.MarkDirty(lang)
	}

	ix.bytesSinceFlush += int64(len(d.Body))
	return ix.maybeFlush(ctx)
}

// recordFailure records the per-document-error path of spec §7: the
// document is kept with its signature suffixed by '+' and only the
// filename indexed, so a later retry can find it again by uniterm.
func (ix *Indexer) recordFailure(ctx context.Context, d Doc) error {
	b := ix.Store.NewDocument()
	b.AddBooleanTerm(doc.PrefixUniterm + string(d.UDI))
	b.AddPosting(d.Filename, 0, 1)
	b.AddValue(doc.SlotSig, string(d.Sig.MarkFailed()))
	rec := doc.DataRecord{URL: d.URL, Filename: d.Filename, Sig: string(d.Sig.MarkFailed())}
	b.SetData([]byte(rec.Encode()))
	_, err := ix.Store.ReplaceDocument(ctx, d.UDI.Uniterm(), b)
	return err
}

// indexFields runs the term pipeline over each metadata field (its own
// prefix/wdfinc) then over the body text, applying the section-jump rule
// between fields to keep their position ranges disjoint (spec §4.4 step
// 1). It returns the last absolute position the body's emit link reached
// and the page-break sidechannel.
func (ix *Indexer) indexFields(b store.DocBuilder, d Doc) (uint32, []doc.MBreak, error) {
	var base uint32
	var allBreaks []doc.MBreak

	fieldNames := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		fieldNames = append(fieldNames, name)
	}

	for _, name := range fieldNames {
		text := d.Fields[name]
		if text == "" {
			continue
		}
		traits := ix.Config.Fields[name].Traits()
		emit := &termpipe.EmitLink{Builder: b, Traits: traits, BasePos: base}
		chain := termpipe.Chain(emit, nil, nil, ix.Config.IndexStripChars)
		if !splitter.SplitField(splitter.New(splitter.Options{}), text, chain) {
			return 0, nil, fmt.Errorf("indexer: splitting field %q aborted", name)
		}
		chain.Flush()
		allBreaks = append(allBreaks, emit.MBreaks()...)
		base += SectionJump
	}

	bodyBase := BodyPositionBase
	emit := &termpipe.EmitLink{Builder: b, BasePos: uint32(bodyBase)}
	chain := termpipe.Chain(emit, nil, nil, ix.Config.IndexStripChars)
	if !splitter.SplitField(splitter.New(splitter.Options{}), d.Body, chain) {
		return 0, nil, fmt.Errorf("indexer: splitting body aborted")
	}
	chain.Flush()
	allBreaks = append(allBreaks, emit.MBreaks()...)

	return emit.LastPos(), allBreaks, nil
}

func (ix *Indexer) addBooleanTerms(b store.DocBuilder, d Doc) {
	b.AddBooleanTerm(d.UDI.Uniterm())
	if d.ParentUDI != "" {
		b.AddBooleanTerm(d.ParentUDI.ParentTerm())
	}
	if d.HasChildren {
		b.AddBooleanTerm(doc.PrefixHasChild)
	}
	if d.Mimetype != "" {
		b.AddBooleanTerm(doc.PrefixMimetype + d.Mimetype)
	}
	if ext := extensionOf(d.Filename); ext != "" {
		b.AddBooleanTerm(doc.PrefixExtension + ext)
	}
	if d.Filename != "" {
		b.AddPosting(d.Filename, 0, 1) // unsplit filename term, exact-match lookups
	}
}

func extensionOf(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

func (ix *Indexer) addPathTerms(b store.DocBuilder, d Doc) {
	path := strings.TrimPrefix(d.URL, "file://")
	var pos uint32
	if strings.HasPrefix(path, "/") {
		// empty leading element anchoring an absolute path at the root,
		// the same shape the query translator's PATH phrase starts with
		b.AddPosting(doc.PrefixPathElem, pos, 0)
		pos++
	}
	for _, t := range doc.PathElementTerms(path) {
		b.AddPosting(t, pos, 0)
		pos++
	}
}

func (ix *Indexer) addDateTerms(b store.DocBuilder, d Doc) {
	base := d.DMtime
	if base.IsZero() {
		base = d.FMtime
	}
	if !base.IsZero() {
		for _, t := range doc.DateTerms(base.Year(), int(base.Month()), base.Day()) {
			b.AddBooleanTerm(t)
		}
		b.AddValue(doc.SlotDate, doc.DateValue(base.Year(), int(base.Month()), base.Day()))
	}

	if !d.BirthTime.IsZero() {
		b.AddValue(doc.SlotBirthDate, doc.DateValue(d.BirthTime.Year(), int(d.BirthTime.Month()), d.BirthTime.Day()))
	}
}

func (ix *Indexer) buildDataRecord(d Doc, mbreaks []doc.MBreak) doc.DataRecord {
	caption := d.Title
	const maxCaption = 150
	if len(caption) > maxCaption {
		caption = caption[:maxCaption]
	}

	abstract := ""
	if len(strings.TrimSpace(d.Body)) < 40 {
		// Short or empty body: synthesize an abstract marker rather than
		// leaving the field empty (spec §4.4 step 6).
		abstract = doc.AbstractSyntheticMarker + truncate(d.Body, 200)
	}

	return doc.DataRecord{
		URL:         d.URL,
		Mimetype:    d.Mimetype,
		Fmtime:      doc.ZeroPadFmtime(d.FMtime.Unix()),
		Dmtime:      doc.ZeroPadFmtime(d.DMtime.Unix()),
		OrigCharset: d.OrigCharset,
		Caption:     caption,
		Abstract:    abstract,
		IPath:       d.IPath,
		FBytes:      fmt.Sprintf("%d", d.FBytes),
		DBytes:      fmt.Sprintf("%d", d.DBytes),
		Sig:         string(d.Sig),
		Filename:    d.Filename,
		MBreaks:     doc.EncodeMBreaks(mbreaks),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// md5Key is the stable raw-text metadata key: md5(uniterm). crypto/md5 is
// kept here deliberately even though golang.org/x/crypto/blake2b is used
// elsewhere in this package for content signatures -- this particular key
// name is part of the external interface and must stay MD5.
func md5Key(uniterm string) string { return MD5Key(uniterm) }

// MD5Key exposes the raw-text metadata key derivation for callers outside
// this package (the snippet builder looks up stored text by this key).
func MD5Key(uniterm string) string {
	sum := md5.Sum([]byte(uniterm))
	return hex.EncodeToString(sum[:])
}

// ContentSignature combines mtime+size with a blake2b content digest, an
// "or equivalent" signature per spec §3 that also detects content
// changes a stale mtime/size pair would miss.
func ContentSignature(mtime time.Time, size int64, content []byte) (doc.Signature, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write(content)
	digest := h.Sum(nil)
	return doc.Signature(fmt.Sprintf("%d.%d.%x", mtime.Unix(), size, digest[:8])), nil
}

func compress(text string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, text); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) (string, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Decompress exposes decompress for callers outside this package (the
// snippet builder retrieves and decompresses stored raw text).
func Decompress(data []byte) (string, error) { return decompress(data) }

// maybeFlush implements spec §4.4's flush policy: commit once the
// configured byte threshold is crossed. Below the threshold it probes
// filesystem usage and returns an error, without committing, once usage
// reaches MaxFsOccupPct.
func (ix *Indexer) maybeFlush(ctx context.Context) error {
	threshold := int64(ix.Config.IdxFlushMB) * 1024 * 1024
	if threshold <= 0 || ix.bytesSinceFlush < threshold {
		if ix.fsFullChecker != nil {
			if pct, err := ix.fsFullChecker(); err == nil && ix.Config.MaxFsOccupPct > 0 && pct >= ix.Config.MaxFsOccupPct {
				return &fsFullError{pct: pct}
			}
		}
		return nil
	}
	if err := ix.Store.Commit(ctx); err != nil {
		return fmt.Errorf("indexer: commit: %w", err)
	}
	ix.bytesSinceFlush = 0
	return nil
}

type fsFullError struct{ pct int }

func (e *fsFullError) Error() string {
	return fmt.Sprintf("indexer: filesystem at %d%% usage, aborting", e.pct)
}

// Purge deletes every store document whose existence bit is 0: every
// document not touched by AddOrUpdate or NeedUpdate since the walk began
// (spec §4.4 "Existence bitmap and purge").
func (ix *Indexer) Purge(ctx context.Context, candidates []store.DocID) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var deleted int
	for _, id := range candidates {
		if ix.seen[id] {
			continue
		}
		if err := ix.Store.DeleteDocument(ctx, id); err != nil {
			return deleted, fmt.Errorf("indexer: purge %d: %w", id, err)
		}
		deleted++
	}
	return deleted, nil
}

// PreparePurge marks every document from a backend other than the one
// currently being re-indexed as "seen", so a subsequent Purge only
// affects the backend actually walked (spec §4.4).
func (ix *Indexer) PreparePurge(ids []store.DocID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range ids {
		ix.seen[id] = true
	}
}

// ResetSeen clears the existence bitmap at the start of a new full walk.
func (ix *Indexer) ResetSeen() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.seen = map[store.DocID]bool{}
}

// PurgeOrphans deletes sub-documents of udi whose VALUE_SIG differs from
// currentSig: documents left behind by a partial update that added some
// but not all of a container's children under a new signature (spec
// §4.4, scenario 5 in spec §8).
func (ix *Indexer) PurgeOrphans(ctx context.Context, udi doc.UDI, currentSig doc.Signature) (int, error) {
	pl, err := ix.Store.PostlistBegin(ctx, udi.ParentTerm())
	if err != nil {
		return 0, fmt.Errorf("indexer: purge_orphans postlist: %w", err)
	}
	var deleted int
	for pl.Next() {
		id := pl.DocID()
		sig, ok, err := ix.Store.GetValue(ctx, id, doc.SlotSig)
		if err != nil {
			return deleted, err
		}
		if ok && doc.Signature(sig).Matches(currentSig) {
			continue
		}
		if err := ix.Store.DeleteDocument(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
